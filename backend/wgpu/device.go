//go:build !nogpu

package wgpu

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/texcache/backend"
	"github.com/gogpu/texcache/gpucore"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

// Device errors.
var (
	// ErrNoAdapter is returned when no GPU adapter can be opened.
	ErrNoAdapter = errors.New("wgpu: no GPU adapter available")

	// ErrProvider is returned when a device provider does not expose HAL types.
	ErrProvider = errors.New("wgpu: provider does not expose HAL device and queue")
)

// init registers the wgpu backend on package import.
func init() {
	backend.Register(backend.BackendWGPU, func() (gpucore.Device, error) {
		d, err := Open()
		if err != nil {
			return nil, err
		}
		return d, nil
	})
}

// Device implements gpucore.Device on a gogpu/wgpu HAL device.
//
// Decode kernels are WGSL compiled to SPIR-V by naga and run as compute
// pipelines sharing one bind group layout. Every submission waits on a
// fence so per-dispatch bindings can be released right away.
type Device struct {
	mu sync.Mutex

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	info     string
	external bool // true when using a shared device (don't destroy on Close)

	layouts  *layouts
	next     uint64
	buffers  map[gpucore.BufferID]*buffer
	textures map[gpucore.TextureID]*texture
	kernels  map[gpucore.KernelID]*pipeline
	closed   bool

	submitted uint64     // index of the latest submission
	deferred  []deferred // releases waiting on their submission
}

// deferred is a release that runs once submission index has completed.
type deferred struct {
	index   uint64
	release func()
}

type buffer struct {
	buf     hal.Buffer
	size    uint64
	lastUse uint64 // latest submission reading the buffer
}

type texture struct {
	tex     hal.Texture
	view    hal.TextureView // level 0, used for storage and sampled bindings
	desc    gpucore.TextureDesc
	lastUse uint64
}

// Open creates a device on the first discrete or integrated Vulkan adapter.
func Open() (*Device, error) {
	be, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("%w: vulkan backend not available", ErrNoAdapter)
	}
	instance, err := be.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoAdapter
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("wgpu: open device: %w", err)
	}

	d, err := newDevice(openDev.Device, openDev.Queue, selected.Info.Name)
	if err != nil {
		openDev.Device.Destroy()
		instance.Destroy()
		return nil, err
	}
	d.instance = instance
	slogger().Info("wgpu: texture decode device initialized", "adapter", selected.Info.Name)
	return d, nil
}

// NewWithHAL wraps an existing HAL device and queue. The caller keeps
// ownership; Close releases only resources created through the wrapper.
func NewWithHAL(device hal.Device, queue hal.Queue) (*Device, error) {
	if device == nil || queue == nil {
		return nil, ErrProvider
	}
	d, err := newDevice(device, queue, "external")
	if err != nil {
		return nil, err
	}
	d.external = true
	return d, nil
}

// NewFromProvider shares the GPU device of a host application. The
// provider must implement HalDevice() any and HalQueue() any returning
// hal.Device and hal.Queue.
func NewFromProvider(provider gpucontext.DeviceProvider) (*Device, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrProvider
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: HalDevice is not hal.Device", ErrProvider)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: HalQueue is not hal.Queue", ErrProvider)
	}
	return NewWithHAL(device, queue)
}

func newDevice(device hal.Device, queue hal.Queue, info string) (*Device, error) {
	d := &Device{
		device:   device,
		queue:    queue,
		info:     info,
		buffers:  make(map[gpucore.BufferID]*buffer),
		textures: make(map[gpucore.TextureID]*texture),
		kernels:  make(map[gpucore.KernelID]*pipeline),
	}
	l, err := createLayouts(device, queue)
	if err != nil {
		return nil, err
	}
	d.layouts = l
	return d, nil
}

// Name returns the backend identifier.
func (d *Device) Name() string {
	return backend.BackendWGPU
}

// Info returns the adapter name, or "external" for shared devices.
func (d *Device) Info() string {
	return d.info
}

func (d *Device) nextID() uint64 {
	d.next++
	return d.next
}

// CreateBuffer creates a storage buffer. Sizes are rounded up to four
// bytes since kernels read whole words.
func (d *Device) CreateBuffer(size uint64, usage gpucore.BufferUsage) (gpucore.BufferID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrClosed
	}
	size = max((size+3)&^3, 4)
	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "texcache_buffer",
		Size:  size,
		Usage: bufferUsage(usage) | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("wgpu: create buffer: %w", err)
	}
	id := gpucore.BufferID(d.nextID())
	d.buffers[id] = &buffer{buf: buf, size: size}
	return id, nil
}

// DestroyBuffer releases a buffer.
func (d *Device) DestroyBuffer(id gpucore.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.buffers[id]; ok {
		buf := b.buf
		d.retire(b.lastUse, func() { d.device.DestroyBuffer(buf) })
		delete(d.buffers, id)
		d.triage(d.queue.PollCompleted())
	}
}

// UploadBytes writes data into a buffer through the queue. Odd-length
// writes are padded to four bytes. A buffer still read by an unfinished
// dispatch is waited on first.
func (d *Device) UploadBytes(id gpucore.BufferID, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[id]
	if !ok {
		return fmt.Errorf("%w: buffer %d", gpucore.ErrInvalidResource, id)
	}
	if offset+uint64(len(data)) > b.size {
		return fmt.Errorf("%w: %d bytes at %d into %d", gpucore.ErrOutOfRange, len(data), offset, b.size)
	}
	if len(data)%4 != 0 && offset+uint64(len(data)+4-len(data)%4) <= b.size {
		padded := make([]byte, len(data)+4-len(data)%4)
		copy(padded, data)
		data = padded
	}
	if err := d.wait(b.lastUse); err != nil {
		return err
	}
	if err := d.queue.WriteBuffer(b.buf, offset, data); err != nil {
		return fmt.Errorf("wgpu: write buffer: %w", err)
	}
	return nil
}

// CreateTexture creates a 2D texture and its level-0 view.
func (d *Device) CreateTexture(desc *gpucore.TextureDesc) (gpucore.TextureID, error) {
	if desc == nil || desc.Width == 0 || desc.Height == 0 {
		return gpucore.InvalidID, fmt.Errorf("%w: empty texture descriptor", gpucore.ErrInvalidResource)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrClosed
	}
	t, err := d.createTexture(desc)
	if err != nil {
		return gpucore.InvalidID, err
	}
	id := gpucore.TextureID(d.nextID())
	d.textures[id] = t
	return id, nil
}

func (d *Device) createTexture(desc *gpucore.TextureDesc) (*texture, error) {
	label := desc.Label
	if label == "" {
		label = "texcache_texture"
	}
	usage := textureUsage(desc.Usage) | gputypes.TextureUsageCopyDst |
		gputypes.TextureUsageCopySrc | gputypes.TextureUsageTextureBinding
	tex, err := d.device.CreateTexture(&hal.TextureDescriptor{
		Label: label,
		Size: hal.Extent3D{
			Width:              desc.Width,
			Height:             desc.Height,
			DepthOrArrayLayers: desc.ArrayLayers(),
		},
		MipLevelCount: desc.MipLevels(),
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        textureFormat(desc.Format),
		Usage:         usage,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create texture: %w", err)
	}
	view, err := d.device.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:         label + "_view",
		Format:        textureFormat(desc.Format),
		Dimension:     gputypes.TextureViewDimension2D,
		Aspect:        gputypes.TextureAspectAll,
		MipLevelCount: 1,
	})
	if err != nil {
		d.device.DestroyTexture(tex)
		return nil, fmt.Errorf("wgpu: create texture view: %w", err)
	}
	return &texture{tex: tex, view: view, desc: *desc}, nil
}

// DestroyTexture releases a texture and its view.
func (d *Device) DestroyTexture(id gpucore.TextureID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.textures[id]; ok {
		d.retire(t.lastUse, func() { d.destroyTexture(t) })
		delete(d.textures, id)
		d.triage(d.queue.PollCompleted())
	}
}

func (d *Device) destroyTexture(t *texture) {
	if t.view != nil {
		d.device.DestroyTextureView(t.view)
	}
	d.device.DestroyTexture(t.tex)
}

// WriteTexture uploads tightly packed RGBA8 texels to the origin of level.
func (d *Device) WriteTexture(id gpucore.TextureID, level uint32, data []byte, width, height uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := d.level(id, level, gpucore.Rect{Width: width, Height: height})
	if err != nil {
		return err
	}
	if len(data) < int(width)*int(height)*4 {
		return fmt.Errorf("%w: %d bytes for %dx%d", gpucore.ErrOutOfRange, len(data), width, height)
	}
	if err := d.wait(t.lastUse); err != nil {
		return err
	}
	err = d.queue.WriteTexture(
		&hal.ImageCopyTexture{Texture: t.tex, MipLevel: level},
		data,
		&hal.ImageDataLayout{Offset: 0, BytesPerRow: width * 4, RowsPerImage: height},
		&hal.Extent3D{Width: width, Height: height, DepthOrArrayLayers: 1},
	)
	if err != nil {
		return fmt.Errorf("wgpu: write texture: %w", err)
	}
	return nil
}

// CopyRegion copies rect r of src level 0 to the origin of dst level.
func (d *Device) CopyRegion(dst, src gpucore.TextureID, level uint32, r gpucore.Rect) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, err := d.level(src, 0, r)
	if err != nil {
		return err
	}
	t, err := d.level(dst, level, gpucore.Rect{Width: r.Width, Height: r.Height})
	if err != nil {
		return err
	}
	if r.Empty() {
		return nil
	}
	idx, err := d.submit("texcache_copy", func(enc hal.CommandEncoder) {
		enc.CopyTextureToTexture(s.tex, t.tex, []hal.TextureCopy{{
			SrcBase: hal.ImageCopyTexture{Texture: s.tex, MipLevel: 0, Origin: hal.Origin3D{X: r.X, Y: r.Y}},
			DstBase: hal.ImageCopyTexture{Texture: t.tex, MipLevel: level},
			Size:    hal.Extent3D{Width: r.Width, Height: r.Height, DepthOrArrayLayers: 1},
		}})
	})
	if err != nil {
		return err
	}
	s.lastUse, t.lastUse = idx, idx
	return nil
}

// Close destroys every resource created through the device and, unless the
// device is shared, the HAL device itself.
func (d *Device) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	if err := d.wait(d.submitted); err != nil {
		slogger().Warn("wgpu: close without GPU idle", "err", err)
	}
	d.triage(d.submitted)
	for id, p := range d.kernels {
		p.destroy(d.device)
		delete(d.kernels, id)
	}
	for id, t := range d.textures {
		d.destroyTexture(t)
		delete(d.textures, id)
	}
	for id, b := range d.buffers {
		d.device.DestroyBuffer(b.buf)
		delete(d.buffers, id)
	}
	if d.layouts != nil {
		d.layouts.destroy(d.device)
		d.layouts = nil
	}
	if !d.external {
		d.device.Destroy()
		if d.instance != nil {
			d.instance.Destroy()
		}
	}
	d.device = nil
	d.queue = nil
	d.instance = nil
	d.closed = true
}

// level validates that r fits inside level of texture id. Must hold d.mu.
func (d *Device) level(id gpucore.TextureID, level uint32, r gpucore.Rect) (*texture, error) {
	t, ok := d.textures[id]
	if !ok {
		return nil, fmt.Errorf("%w: texture %d", gpucore.ErrInvalidResource, id)
	}
	if level >= t.desc.MipLevels() {
		return nil, fmt.Errorf("%w: level %d of %d", gpucore.ErrOutOfRange, level, t.desc.MipLevels())
	}
	w, h := t.desc.LevelSize(level)
	if r.X+r.Width > w || r.Y+r.Height > h {
		return nil, fmt.Errorf("%w: rect %+v in %dx%d", gpucore.ErrOutOfRange, r, w, h)
	}
	return t, nil
}

// submit records one command buffer and submits it without waiting. The
// command buffer and every release func are freed once the submission has
// completed. Must hold d.mu.
func (d *Device) submit(label string, record func(enc hal.CommandEncoder), release ...func()) (uint64, error) {
	fail := func(err error) (uint64, error) {
		for _, fn := range release {
			fn()
		}
		return 0, err
	}
	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label + "_encoder"})
	if err != nil {
		return fail(fmt.Errorf("wgpu: create command encoder: %w", err))
	}
	if err := encoder.BeginEncoding(label); err != nil {
		return fail(fmt.Errorf("wgpu: begin encoding: %w", err))
	}
	record(encoder)
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fail(fmt.Errorf("wgpu: end encoding: %w", err))
	}
	idx, err := d.queue.Submit([]hal.CommandBuffer{cmdBuf})
	if err != nil {
		d.device.FreeCommandBuffer(cmdBuf)
		return fail(fmt.Errorf("wgpu: submit: %w", err))
	}
	d.submitted = idx
	d.retire(idx, func() { d.device.FreeCommandBuffer(cmdBuf) })
	for _, fn := range release {
		d.retire(idx, fn)
	}
	d.triage(d.queue.PollCompleted())
	return idx, nil
}

// retire queues release to run once submission index has completed.
// Index 0 means the resource was never submitted. Must hold d.mu.
func (d *Device) retire(index uint64, release func()) {
	d.deferred = append(d.deferred, deferred{index: index, release: release})
}

// triage runs every deferred release whose submission is at or below
// completed. Must hold d.mu.
func (d *Device) triage(completed uint64) {
	n := 0
	for _, r := range d.deferred {
		if r.index <= completed {
			r.release()
			continue
		}
		d.deferred[n] = r
		n++
	}
	clear(d.deferred[n:])
	d.deferred = d.deferred[:n]
}

// wait blocks until submission index has completed. Must hold d.mu.
func (d *Device) wait(index uint64) error {
	if index == 0 || d.queue.PollCompleted() >= index {
		return nil
	}
	if err := d.device.WaitIdle(); err != nil {
		return fmt.Errorf("wgpu: wait for GPU: %w", err)
	}
	d.triage(d.submitted)
	return nil
}

func bufferUsage(u gpucore.BufferUsage) gputypes.BufferUsage {
	var out gputypes.BufferUsage
	if u&gpucore.BufferUsageCopySrc != 0 {
		out |= gputypes.BufferUsageCopySrc
	}
	if u&gpucore.BufferUsageCopyDst != 0 {
		out |= gputypes.BufferUsageCopyDst
	}
	if u&gpucore.BufferUsageUniform != 0 {
		out |= gputypes.BufferUsageUniform
	}
	if u&gpucore.BufferUsageStorage != 0 {
		out |= gputypes.BufferUsageStorage
	}
	return out
}

func textureUsage(u gpucore.TextureUsage) gputypes.TextureUsage {
	var out gputypes.TextureUsage
	if u&gpucore.TextureUsageCopySrc != 0 {
		out |= gputypes.TextureUsageCopySrc
	}
	if u&gpucore.TextureUsageCopyDst != 0 {
		out |= gputypes.TextureUsageCopyDst
	}
	if u&gpucore.TextureUsageTextureBinding != 0 {
		out |= gputypes.TextureUsageTextureBinding
	}
	if u&gpucore.TextureUsageStorageBinding != 0 {
		out |= gputypes.TextureUsageStorageBinding
	}
	if u&gpucore.TextureUsageRenderAttachment != 0 {
		out |= gputypes.TextureUsageRenderAttachment
	}
	return out
}

func textureFormat(f gpucore.TextureFormat) gputypes.TextureFormat {
	if f == gpucore.TextureFormatRGBA8Uint {
		return gputypes.TextureFormatRGBA8Uint
	}
	return gputypes.TextureFormatRGBA8Unorm
}
