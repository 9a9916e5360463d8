// Package texcache provides a content-addressed GPU texture cache for
// emulated console texture memory.
//
// # Overview
//
// texcache sits between an emulator's texture memory and a host GPU. Given
// a region of emulated memory interpreted as one of the console texture
// formats, it produces a host RGBA8 texture and caches it by source address
// and content hash, so unchanged textures are never decoded twice.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/texcache"
//	    "github.com/gogpu/texcache/backend"
//	    "github.com/gogpu/texcache/format"
//	)
//
//	dev := backend.MustDefault()
//	ram := make(texcache.RAM, 24<<20)
//	stages := &texcache.StageTable{}
//
//	c, err := texcache.New(dev, texcache.WithMemory(ram), texcache.WithStages(stages))
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	stages.Bind(0, texcache.TextureSource{Address: 0x1000, Format: format.RGB565, Width: 64, Height: 64})
//	entry, err := c.Load(0)
//
// # Frame Loop
//
// A typical frame calls SetFrame, then Load for each bound stage, and
// finally Cleanup with the frame number. Memory writes from the emulated
// CPU are reported with InvalidateRange (the bytes changed) or
// MakeRangeDynamic (the bytes may have changed; re-decode on next use).
//
// # Architecture
//
// The cache is organized into:
//   - Cache: the address -> hash -> entry directory and entry lifetime
//   - format: pure CPU decoders and the format table
//   - kernel: decode kernels keyed by (format, palette format), compiled
//     lazily and persisted
//   - pool: round-robin scratch textures that kernels decode into
//   - gpucore: the device capability interface, implemented by
//     backend.SoftwareDevice and backend/wgpu
//
// # Error Handling
//
// Unsupported formats are not errors: Load returns a nil entry and the
// caller skips the texture. Kernel compile failures are logged and the
// affected formats fall back to CPU decode.
//
// # Thread Safety
//
// Cache is not safe for concurrent use. It is driven from the rendering
// goroutine, which must also deliver memory write notifications.
package texcache
