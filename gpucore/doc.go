// Package gpucore defines the GPU capability surface used by the texture
// cache.
//
// The cache never talks to a graphics API directly. It needs five things
// from its environment: compile a decode kernel, dispatch it, upload bytes
// into a buffer, copy a texture region and create or destroy textures.
// [Device] bundles these behind opaque resource IDs ([BufferID],
// [TextureID], [KernelID]) so that backends can keep their own mapping from
// IDs to native handles.
//
// # Backends
//
//	               +-----------------+
//	               |    texcache     |
//	               |  (Cache, pool)  |
//	               +--------+--------+
//	                        |  gpucore.Device
//	         +--------------+--------------+
//	         |                             |
//	+--------v--------+          +--------v--------+
//	|  backend/wgpu   |          | backend/software|
//	|  (hal.Device)   |          |  (CPU decode)   |
//	+--------+--------+          +-----------------+
//	         |
//	+--------v--------+
//	|   gogpu/wgpu    |
//	|   (Pure Go)     |
//	+-----------------+
//
// The software device runs the same format tables on the CPU and is used
// as a reference and as a fallback when no GPU adapter is available.
//
// # Dispatch Model
//
// Decode kernels run in 8x8 workgroups ([WorkgroupSize]). Dispatches and
// copies are fire-and-forget: submission order on the single queue is the
// only ordering guarantee the cache relies on.
package gpucore
