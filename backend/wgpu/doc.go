// Package wgpu provides a GPU texture decode device using gogpu/wgpu.
//
// The device implements gpucore.Device on the gogpu/wgpu HAL, which supports
// Vulkan, Metal, and DX12 backends depending on the platform. Importing the
// package registers it with the backend registry under "wgpu":
//
//	import _ "github.com/gogpu/texcache/backend/wgpu"
//
// # Architecture Overview
//
//	kernel.Source (WGSL) -> naga -> SPIR-V blob -> ComputePipeline
//	raw bytes + palette (storage) -> decode pass -> rgba8unorm storage texture
//
// Key components:
//
//   - Device: resource tables over hal.Device and hal.Queue
//   - layouts: the bind group and pipeline layout every kernel shares,
//     plus placeholder bindings for unused slots
//   - pipeline: one shader module and compute pipeline per kernel key
//
// Every kernel uses the same five bindings:
//
//	@group(0) @binding(0) raw_data  storage, read
//	@group(0) @binding(1) lut_data  storage, read
//	@group(0) @binding(2) index_tex texture_2d<f32>
//	@group(0) @binding(3) dst_tex   texture_storage_2d<rgba8unorm, write>
//	@group(0) @binding(4) params    uniform
//
// # Sharing a host device
//
// Applications that already own a GPU device pass it in through
// NewFromProvider or NewWithHAL. Shared devices are not destroyed by Close.
//
// # Build tags
//
// Build with -tags nogpu to exclude this package's device; the software
// backend remains available.
package wgpu
