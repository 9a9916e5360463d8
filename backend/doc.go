// Package backend provides a pluggable device abstraction for the texture
// cache.
//
// Every backend implements gpucore.Device. The software device in this
// package runs the reference decoders on the CPU; the wgpu backend runs the
// generated compute kernels on a GPU through gogpu/wgpu HAL.
//
// # Backend Registration
//
// Backends are registered via init() functions and selected at runtime.
// The software backend is automatically registered on import:
//
//	import _ "github.com/gogpu/texcache/backend"
//
// The GPU backend registers itself when its package is imported:
//
//	import _ "github.com/gogpu/texcache/backend/wgpu"
//
// # Backend Selection
//
// Use Default() to open the best available device, or Get() to request
// a specific backend by name:
//
//	dev, err := backend.Default()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer dev.Close()
//
//	cache, err := texcache.New(dev, texcache.WithMemory(mem))
//
// # Available Backends
//
// - "software": CPU reference device (always available)
// - "wgpu": GPU compute via gogpu/wgpu (requires an adapter)
package backend
