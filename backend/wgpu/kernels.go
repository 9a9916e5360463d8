//go:build !nogpu

package wgpu

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/texcache/gpucore"
	"github.com/gogpu/texcache/kernel"
)

// spirvMagic is the first word of every SPIR-V module.
const spirvMagic = 0x07230203

// paramsSize is the uniform block of every decode kernel: dims, palette
// entry count and padding.
const paramsSize = 16

// layouts holds the objects shared by every decode pipeline.
type layouts struct {
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout

	// Placeholders bound when a dispatch leaves a slot unused.
	emptyBuf  hal.Buffer
	dummyTex  hal.Texture
	dummyView hal.TextureView
}

// pipeline is one compiled kernel.
type pipeline struct {
	label    string
	module   hal.ShaderModule
	pipeline hal.ComputePipeline
}

func createLayouts(device hal.Device, queue hal.Queue) (*layouts, error) {
	l := &layouts{}

	// Bind group layout:
	//   Binding 0: raw texture bytes (storage, read)
	//   Binding 1: palette entries (storage, read)
	//   Binding 2: index texture (texture_2d<f32>), depalettize only
	//   Binding 3: destination (storage texture, rgba8unorm, write)
	//   Binding 4: params (uniform)
	bindLayout, err := device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "texcache_decode_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{Binding: 0, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}},
			{Binding: 1, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}},
			{Binding: 2, Visibility: gputypes.ShaderStageCompute, Texture: &gputypes.TextureBindingLayout{
				SampleType:    gputypes.TextureSampleTypeFloat,
				ViewDimension: gputypes.TextureViewDimension2D,
			}},
			{Binding: 3, Visibility: gputypes.ShaderStageCompute, StorageTexture: &gputypes.StorageTextureBindingLayout{
				Access:        gputypes.StorageTextureAccessWriteOnly,
				Format:        gputypes.TextureFormatRGBA8Unorm,
				ViewDimension: gputypes.TextureViewDimension2D,
			}},
			{Binding: 4, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create decode bind group layout: %w", err)
	}
	l.bindLayout = bindLayout

	pipeLayout, err := device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: "texcache_decode_pipe_layout", BindGroupLayouts: []hal.BindGroupLayout{l.bindLayout},
	})
	if err != nil {
		l.destroy(device)
		return nil, fmt.Errorf("wgpu: create decode pipeline layout: %w", err)
	}
	l.pipeLayout = pipeLayout

	emptyBuf, err := device.CreateBuffer(&hal.BufferDescriptor{
		Label: "texcache_empty", Size: 4,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		l.destroy(device)
		return nil, fmt.Errorf("wgpu: create empty buffer: %w", err)
	}
	l.emptyBuf = emptyBuf
	if err := queue.WriteBuffer(emptyBuf, 0, make([]byte, 4)); err != nil {
		l.destroy(device)
		return nil, fmt.Errorf("wgpu: clear empty buffer: %w", err)
	}

	dummyTex, err := device.CreateTexture(&hal.TextureDescriptor{
		Label:         "texcache_dummy_index",
		Size:          hal.Extent3D{Width: 1, Height: 1, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        gputypes.TextureFormatRGBA8Unorm,
		Usage:         gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
	})
	if err != nil {
		l.destroy(device)
		return nil, fmt.Errorf("wgpu: create dummy texture: %w", err)
	}
	l.dummyTex = dummyTex
	dummyView, err := device.CreateTextureView(dummyTex, &hal.TextureViewDescriptor{
		Label:         "texcache_dummy_index_view",
		Format:        gputypes.TextureFormatRGBA8Unorm,
		Dimension:     gputypes.TextureViewDimension2D,
		Aspect:        gputypes.TextureAspectAll,
		MipLevelCount: 1,
	})
	if err != nil {
		l.destroy(device)
		return nil, fmt.Errorf("wgpu: create dummy texture view: %w", err)
	}
	l.dummyView = dummyView
	return l, nil
}

func (l *layouts) destroy(device hal.Device) {
	if l.dummyView != nil {
		device.DestroyTextureView(l.dummyView)
	}
	if l.dummyTex != nil {
		device.DestroyTexture(l.dummyTex)
	}
	if l.emptyBuf != nil {
		device.DestroyBuffer(l.emptyBuf)
	}
	if l.pipeLayout != nil {
		device.DestroyPipelineLayout(l.pipeLayout)
	}
	if l.bindLayout != nil {
		device.DestroyBindGroupLayout(l.bindLayout)
	}
}

func (p *pipeline) destroy(device hal.Device) {
	if p.pipeline != nil {
		device.DestroyComputePipeline(p.pipeline)
	}
	if p.module != nil {
		device.DestroyShaderModule(p.module)
	}
}

// CompileKernel compiles WGSL to SPIR-V with naga. The SPIR-V bytes are
// the persisted blob.
func (d *Device) CompileKernel(source string, defs map[string]string) ([]byte, error) {
	spec, err := kernel.ParseDefs(defs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", gpucore.ErrCompile, err)
	}
	spirv, err := naga.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", gpucore.ErrCompile, spec.Label(), err)
	}
	if !isSPIRV(spirv) {
		return nil, fmt.Errorf("%w: %s: naga returned %d bytes without SPIR-V header", gpucore.ErrCompile, spec.Label(), len(spirv))
	}
	return spirv, nil
}

// CreateKernel builds a compute pipeline from a SPIR-V blob.
func (d *Device) CreateKernel(blob []byte, label string) (gpucore.KernelID, error) {
	if !isSPIRV(blob) {
		return gpucore.InvalidID, fmt.Errorf("%w: %s: not a SPIR-V blob", gpucore.ErrInvalidResource, label)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrClosed
	}

	module, err := d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  label,
		Source: hal.ShaderSource{SPIRV: spirvWords(blob)},
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("wgpu: create shader module %s: %w", label, err)
	}
	p := &pipeline{label: label, module: module}
	cp, err := d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label: label, Layout: d.layouts.pipeLayout,
		Compute: hal.ComputeState{Module: module, EntryPoint: kernel.EntryPoint},
	})
	if err != nil {
		p.destroy(d.device)
		return gpucore.InvalidID, fmt.Errorf("wgpu: create compute pipeline %s: %w", label, err)
	}
	p.pipeline = cp

	id := gpucore.KernelID(d.nextID())
	d.kernels[id] = p
	return id, nil
}

// DestroyKernel releases a kernel's pipeline and shader module.
func (d *Device) DestroyKernel(id gpucore.KernelID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.kernels[id]; ok {
		d.retire(d.submitted, func() { p.destroy(d.device) })
		delete(d.kernels, id)
		d.triage(d.queue.PollCompleted())
	}
}

// DispatchDecode binds the dispatch resources and runs one compute pass.
func (d *Device) DispatchDecode(id gpucore.KernelID, params gpucore.DispatchParams) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.kernels[id]
	if !ok {
		return fmt.Errorf("%w: kernel %d", gpucore.ErrInvalidResource, id)
	}
	dst, err := d.level(params.Dest, 0, gpucore.Rect{Width: params.Width, Height: params.Height})
	if err != nil {
		return err
	}
	if params.Width == 0 || params.Height == 0 {
		return nil
	}

	src, srcSize := d.layouts.emptyBuf, uint64(4)
	if b, ok := d.buffers[params.Source]; ok {
		src, srcSize = b.buf, b.size
	}
	lut, lutSize, lutLen := d.layouts.emptyBuf, uint64(4), uint32(0)
	if b, ok := d.buffers[params.Palette]; ok {
		lut, lutSize, lutLen = b.buf, b.size, uint32(b.size/2)
		if params.PaletteEntries > 0 {
			lutLen = min(lutLen, params.PaletteEntries)
		}
	}
	input := d.layouts.dummyView
	if t, ok := d.textures[params.Input]; ok {
		input = t.view
	}

	ub, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "texcache_params", Size: paramsSize,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("wgpu: create params buffer: %w", err)
	}
	if err := d.queue.WriteBuffer(ub, 0, makeParams(params.Width, params.Height, lutLen)); err != nil {
		d.device.DestroyBuffer(ub)
		return fmt.Errorf("wgpu: write params: %w", err)
	}

	bg, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label: "texcache_decode_bind", Layout: d.layouts.bindLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: src.NativeHandle(), Offset: 0, Size: srcSize}},
			{Binding: 1, Resource: gputypes.BufferBinding{Buffer: lut.NativeHandle(), Offset: 0, Size: lutSize}},
			{Binding: 2, Resource: gputypes.TextureViewBinding{TextureView: input.NativeHandle()}},
			{Binding: 3, Resource: gputypes.TextureViewBinding{TextureView: dst.view.NativeHandle()}},
			{Binding: 4, Resource: gputypes.BufferBinding{Buffer: ub.NativeHandle(), Offset: 0, Size: paramsSize}},
		},
	})
	if err != nil {
		d.device.DestroyBuffer(ub)
		return fmt.Errorf("wgpu: create decode bind group: %w", err)
	}

	x, y := params.Workgroups()
	idx, err := d.submit("texcache_decode", func(enc hal.CommandEncoder) {
		pass := enc.BeginComputePass(&hal.ComputePassDescriptor{Label: p.label})
		pass.SetPipeline(p.pipeline)
		pass.SetBindGroup(0, bg, nil)
		pass.Dispatch(x, y, 1)
		pass.End()
	},
		func() { d.device.DestroyBindGroup(bg) },
		func() { d.device.DestroyBuffer(ub) },
	)
	if err != nil {
		return err
	}
	dst.lastUse = idx
	for _, id := range []gpucore.BufferID{params.Source, params.Palette} {
		if b, ok := d.buffers[id]; ok {
			b.lastUse = idx
		}
	}
	if t, ok := d.textures[params.Input]; ok {
		t.lastUse = idx
	}
	return nil
}

func makeParams(w, h, lutLen uint32) []byte {
	b := make([]byte, paramsSize)
	binary.LittleEndian.PutUint32(b[0:], w)
	binary.LittleEndian.PutUint32(b[4:], h)
	binary.LittleEndian.PutUint32(b[8:], lutLen)
	return b
}

func isSPIRV(blob []byte) bool {
	return len(blob) >= 20 && len(blob)%4 == 0 && binary.LittleEndian.Uint32(blob) == spirvMagic
}

// spirvWords converts SPIR-V bytes to little-endian 32-bit words.
func spirvWords(b []byte) []uint32 {
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return words
}
