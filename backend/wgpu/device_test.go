//go:build !nogpu

package wgpu

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/texcache/format"
	"github.com/gogpu/texcache/gpucore"
	"github.com/gogpu/texcache/kernel"
)

// createNoopDevice creates a noop HAL device and wraps it.
func createNoopDevice(t *testing.T) (*Device, hal.Device, hal.Queue) {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		t.Fatalf("Open failed: %v", err)
	}
	d, err := NewWithHAL(openDev.Device, openDev.Queue)
	if err != nil {
		t.Fatalf("NewWithHAL failed: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
		openDev.Device.Destroy()
		instance.Destroy()
	})
	return d, openDev.Device, openDev.Queue
}

// fakeSPIRV returns a minimal blob with a valid SPIR-V header.
func fakeSPIRV() []byte {
	b := make([]byte, 20)
	binary.LittleEndian.PutUint32(b, spirvMagic)
	return b
}

func TestDeviceName(t *testing.T) {
	d, _, _ := createNoopDevice(t)
	if d.Name() != "wgpu" {
		t.Errorf("Name() = %q, want %q", d.Name(), "wgpu")
	}
	if d.Info() != "external" {
		t.Errorf("Info() = %q, want %q", d.Info(), "external")
	}
}

func TestDeviceBuffers(t *testing.T) {
	d, _, _ := createNoopDevice(t)

	buf, err := d.CreateBuffer(6, gpucore.BufferUsageStorage)
	if err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}
	if got := d.buffers[buf].size; got != 8 {
		t.Errorf("buffer size = %d, want 8", got)
	}
	if err := d.UploadBytes(buf, 0, []byte{1, 2, 3}); err != nil {
		t.Errorf("UploadBytes() error = %v", err)
	}
	if err := d.UploadBytes(buf, 4, make([]byte, 8)); !errors.Is(err, gpucore.ErrOutOfRange) {
		t.Errorf("UploadBytes(overflow) error = %v, want ErrOutOfRange", err)
	}
	d.DestroyBuffer(buf)
	if err := d.UploadBytes(buf, 0, []byte{1}); !errors.Is(err, gpucore.ErrInvalidResource) {
		t.Errorf("UploadBytes(destroyed) error = %v, want ErrInvalidResource", err)
	}
}

func TestDeviceTextures(t *testing.T) {
	d, _, _ := createNoopDevice(t)

	src, err := d.CreateTexture(&gpucore.TextureDesc{
		Width: 64, Height: 32, Levels: 2,
		Usage: gpucore.TextureUsageStorageBinding,
	})
	if err != nil {
		t.Fatalf("CreateTexture() error = %v", err)
	}
	dst, err := d.CreateTexture(&gpucore.TextureDesc{Width: 16, Height: 16})
	if err != nil {
		t.Fatalf("CreateTexture() error = %v", err)
	}

	if err := d.WriteTexture(src, 1, make([]byte, 32*16*4), 32, 16); err != nil {
		t.Errorf("WriteTexture(level 1) error = %v", err)
	}
	if err := d.WriteTexture(src, 1, make([]byte, 64*32*4), 64, 32); !errors.Is(err, gpucore.ErrOutOfRange) {
		t.Errorf("WriteTexture(oversize) error = %v, want ErrOutOfRange", err)
	}
	if err := d.CopyRegion(dst, src, 0, gpucore.Rect{X: 8, Y: 8, Width: 16, Height: 16}); err != nil {
		t.Errorf("CopyRegion() error = %v", err)
	}
	if err := d.CopyRegion(dst, src, 0, gpucore.Rect{X: 56, Width: 16, Height: 16}); !errors.Is(err, gpucore.ErrOutOfRange) {
		t.Errorf("CopyRegion(out of bounds) error = %v, want ErrOutOfRange", err)
	}

	got, err := d.ReadTexture(dst, 0, 16, 16)
	if err != nil {
		t.Fatalf("ReadTexture() error = %v", err)
	}
	if len(got) != 16*16*4 {
		t.Errorf("len(ReadTexture()) = %d, want %d", len(got), 16*16*4)
	}

	d.DestroyTexture(src)
	if _, err := d.ReadTexture(src, 0, 1, 1); !errors.Is(err, gpucore.ErrInvalidResource) {
		t.Errorf("ReadTexture(destroyed) error = %v, want ErrInvalidResource", err)
	}
}

func TestDeviceKernels(t *testing.T) {
	d, _, _ := createNoopDevice(t)

	if _, err := d.CreateKernel([]byte("texcache-soft"), "soft"); !errors.Is(err, gpucore.ErrInvalidResource) {
		t.Errorf("CreateKernel(non-SPIR-V) error = %v, want ErrInvalidResource", err)
	}

	k, err := d.CreateKernel(fakeSPIRV(), "texcache-I8")
	if err != nil {
		t.Fatalf("CreateKernel() error = %v", err)
	}
	src, _ := d.CreateBuffer(32, gpucore.BufferUsageStorage)
	dst, _ := d.CreateTexture(&gpucore.TextureDesc{Width: 8, Height: 4, Usage: gpucore.TextureUsageStorageBinding})

	if err := d.DispatchDecode(k, gpucore.DispatchParams{Source: src, Dest: dst, Width: 8, Height: 4}); err != nil {
		t.Errorf("DispatchDecode() error = %v", err)
	}
	if err := d.DispatchDecode(k, gpucore.DispatchParams{Source: src, Dest: dst, Width: 9, Height: 4}); !errors.Is(err, gpucore.ErrOutOfRange) {
		t.Errorf("DispatchDecode(oversize) error = %v, want ErrOutOfRange", err)
	}

	d.DestroyKernel(k)
	if err := d.DispatchDecode(k, gpucore.DispatchParams{Dest: dst, Width: 1, Height: 1}); !errors.Is(err, gpucore.ErrInvalidResource) {
		t.Errorf("DispatchDecode(destroyed) error = %v, want ErrInvalidResource", err)
	}
}

// lagQueue reports submissions complete only after the device idles.
type lagQueue struct {
	hal.Queue
	done, last uint64
}

func (q *lagQueue) Submit(cmds []hal.CommandBuffer) (uint64, error) {
	idx, err := q.Queue.Submit(cmds)
	q.last = idx
	return idx, err
}

func (q *lagQueue) PollCompleted() uint64 { return q.done }

// idleDevice counts WaitIdle calls and completes the lagging queue.
type idleDevice struct {
	hal.Device
	queue *lagQueue
	waits int
}

func (d *idleDevice) WaitIdle() error {
	d.waits++
	d.queue.done = d.queue.last
	return nil
}

func TestDeviceDeferredRelease(t *testing.T) {
	_, device, queue := createNoopDevice(t)
	q := &lagQueue{Queue: queue}
	hd := &idleDevice{Device: device, queue: q}
	d, err := NewWithHAL(hd, q)
	if err != nil {
		t.Fatalf("NewWithHAL() error = %v", err)
	}
	defer d.Close()

	k, err := d.CreateKernel(fakeSPIRV(), "texcache-I8")
	if err != nil {
		t.Fatalf("CreateKernel() error = %v", err)
	}
	src, _ := d.CreateBuffer(32, gpucore.BufferUsageStorage)
	dst, _ := d.CreateTexture(&gpucore.TextureDesc{Width: 8, Height: 4, Usage: gpucore.TextureUsageStorageBinding})

	for range 3 {
		if err := d.DispatchDecode(k, gpucore.DispatchParams{Source: src, Dest: dst, Width: 8, Height: 4}); err != nil {
			t.Fatalf("DispatchDecode() error = %v", err)
		}
	}
	if hd.waits != 0 {
		t.Errorf("WaitIdle() calls after dispatch = %d, want 0", hd.waits)
	}
	// Command buffer, bind group and params buffer per dispatch.
	if got := len(d.deferred); got != 9 {
		t.Errorf("deferred releases = %d, want 9", got)
	}

	// Rewriting a buffer the GPU still reads waits first.
	if err := d.UploadBytes(src, 0, make([]byte, 32)); err != nil {
		t.Fatalf("UploadBytes() error = %v", err)
	}
	if hd.waits != 1 {
		t.Errorf("WaitIdle() calls after upload = %d, want 1", hd.waits)
	}
	if got := len(d.deferred); got != 0 {
		t.Errorf("deferred releases after wait = %d, want 0", got)
	}

	// Destroying an in-flight buffer is deferred, not waited on.
	if err := d.DispatchDecode(k, gpucore.DispatchParams{Source: src, Dest: dst, Width: 8, Height: 4}); err != nil {
		t.Fatalf("DispatchDecode() error = %v", err)
	}
	d.DestroyBuffer(src)
	if hd.waits != 1 {
		t.Errorf("WaitIdle() calls after DestroyBuffer = %d, want 1", hd.waits)
	}
	if got := len(d.deferred); got != 4 {
		t.Errorf("deferred releases after DestroyBuffer = %d, want 4", got)
	}

	if _, err := d.ReadTexture(dst, 0, 8, 4); err != nil {
		t.Fatalf("ReadTexture() error = %v", err)
	}
	if hd.waits != 2 {
		t.Errorf("WaitIdle() calls after ReadTexture = %d, want 2", hd.waits)
	}
	if got := len(d.deferred); got != 0 {
		t.Errorf("deferred releases after ReadTexture = %d, want 0", got)
	}
}

func TestDeviceCompileKernel(t *testing.T) {
	d, _, _ := createNoopDevice(t)

	spec, err := kernel.DecodeKey(format.RGB565, 0).Spec()
	if err != nil {
		t.Fatalf("Spec() error = %v", err)
	}
	src, err := kernel.Source(spec)
	if err != nil {
		t.Fatalf("Source() error = %v", err)
	}
	blob, err := d.CompileKernel(src, spec.Defs())
	if err != nil {
		t.Skipf("naga cannot compile decode kernel on this version: %v", err)
	}
	if !isSPIRV(blob) {
		t.Fatalf("CompileKernel() returned %d bytes without SPIR-V header", len(blob))
	}
	if _, err := d.CreateKernel(blob, spec.Label()); err != nil {
		t.Errorf("CreateKernel() error = %v", err)
	}

	if _, err := d.CompileKernel(src, map[string]string{}); !errors.Is(err, gpucore.ErrCompile) {
		t.Errorf("CompileKernel(no defs) error = %v, want ErrCompile", err)
	}
}

func TestDeviceClose(t *testing.T) {
	d, _, _ := createNoopDevice(t)
	_, _ = d.CreateBuffer(4, gpucore.BufferUsageStorage)
	_, _ = d.CreateTexture(&gpucore.TextureDesc{Width: 4, Height: 4})
	d.Close()
	if _, err := d.CreateBuffer(4, 0); !errors.Is(err, gpucore.ErrClosed) {
		t.Errorf("CreateBuffer() after Close error = %v, want ErrClosed", err)
	}
	// Second Close is a no-op.
	d.Close()
}

func TestMakeParams(t *testing.T) {
	p := makeParams(640, 480, 16)
	if len(p) != paramsSize {
		t.Fatalf("len(makeParams()) = %d, want %d", len(p), paramsSize)
	}
	if w, h := binary.LittleEndian.Uint32(p), binary.LittleEndian.Uint32(p[4:]); w != 640 || h != 480 {
		t.Errorf("makeParams() dims = %dx%d, want 640x480", w, h)
	}
	if n := binary.LittleEndian.Uint32(p[8:]); n != 16 {
		t.Errorf("makeParams() lut_len = %d, want 16", n)
	}
}

// mockDevice implements gpucontext.Device for testing.
type mockDevice struct{}

func (m *mockDevice) Poll(wait bool) {}
func (m *mockDevice) Destroy()       {}

// mockQueue implements gpucontext.Queue for testing.
type mockQueue struct{}

// mockAdapter implements gpucontext.Adapter for testing.
type mockAdapter struct{}

// mockProvider implements gpucontext.DeviceProvider, optionally exposing HAL types.
type mockProvider struct {
	halDevice any
	halQueue  any
}

func (m *mockProvider) Device() gpucontext.Device   { return &mockDevice{} }
func (m *mockProvider) Queue() gpucontext.Queue     { return &mockQueue{} }
func (m *mockProvider) Adapter() gpucontext.Adapter { return &mockAdapter{} }
func (m *mockProvider) SurfaceFormat() gputypes.TextureFormat {
	return gputypes.TextureFormatRGBA8Unorm
}
func (m *mockProvider) AdapterInfo() gpucontext.AdapterInfo { return gpucontext.AdapterInfo{} }

type mockHALProvider struct {
	mockProvider
}

func (m *mockHALProvider) HalDevice() any { return m.halDevice }
func (m *mockHALProvider) HalQueue() any  { return m.halQueue }

func TestNewFromProvider(t *testing.T) {
	_, device, queue := createNoopDevice(t)

	if _, err := NewFromProvider(&mockProvider{}); !errors.Is(err, ErrProvider) {
		t.Errorf("NewFromProvider(no HAL) error = %v, want ErrProvider", err)
	}
	if _, err := NewFromProvider(&mockHALProvider{mockProvider{halDevice: "gpu", halQueue: queue}}); !errors.Is(err, ErrProvider) {
		t.Errorf("NewFromProvider(bad device) error = %v, want ErrProvider", err)
	}

	d, err := NewFromProvider(&mockHALProvider{mockProvider{halDevice: device, halQueue: queue}})
	if err != nil {
		t.Fatalf("NewFromProvider() error = %v", err)
	}
	if !d.external {
		t.Error("shared device not marked external")
	}
	d.Close()
}
