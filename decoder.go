package texcache

import (
	"fmt"

	"github.com/gogpu/texcache/format"
	"github.com/gogpu/texcache/gpucore"
	"github.com/gogpu/texcache/kernel"
	"github.com/gogpu/texcache/pool"
)

// Level sizes handled by decode kernels. Levels outside this range are
// decoded on the CPU.
const (
	minKernelSize = 32
	maxKernelSize = 1024
)

// minSourceBuffer is the initial size of the raw texture upload buffer.
const minSourceBuffer = 64 << 10

// decoder turns source bytes into texels of an entry texture.
//
// Levels are decoded by a kernel into a pooled scratch slot and copied into
// the entry texture. When no kernel is available, or the dispatch fails,
// the level is decoded on the CPU and uploaded.
type decoder struct {
	dev     gpucore.Device
	kernels *kernel.Cache
	slots   *pool.Pool
	gpu     bool

	src     gpucore.BufferID
	srcSize uint64

	lut     gpucore.BufferID
	lutSize uint64
	palette format.Palette

	scratch []byte

	gpuDecodes   uint64
	cpuDecodes   uint64
	depalettized uint64
}

func newDecoder(dev gpucore.Device, kernels *kernel.Cache, slots *pool.Pool, gpu bool) *decoder {
	return &decoder{dev: dev, kernels: kernels, slots: slots, gpu: gpu}
}

// setPalette replaces the loaded palette and uploads it for kernels.
func (d *decoder) setPalette(f format.PaletteFormat, data []byte) error {
	d.palette.Load(f, data)
	raw := d.palette.Bytes()
	if len(raw) == 0 {
		return nil
	}
	if d.lut == gpucore.InvalidID || d.lutSize != uint64(len(raw)) {
		if d.lut != gpucore.InvalidID {
			d.dev.DestroyBuffer(d.lut)
			d.lut = gpucore.InvalidID
		}
		id, err := d.dev.CreateBuffer(uint64(len(raw)), gpucore.BufferUsageStorage|gpucore.BufferUsageCopyDst)
		if err != nil {
			return fmt.Errorf("texcache: create palette buffer: %w", err)
		}
		d.lut, d.lutSize = id, uint64(len(raw))
	}
	return d.dev.UploadBytes(d.lut, 0, raw)
}

func (d *decoder) paletteEntries() uint32 {
	return uint32(d.palette.Len())
}

// decode writes every level of src into tex. data holds the full mip chain.
func (d *decoder) decode(tex gpucore.TextureID, src TextureSource, data []byte) error {
	off := 0
	for level := range src.MipLevels() {
		n := format.LevelSize(src.Format, src.Width, src.Height, level)
		if off+n > len(data) {
			return fmt.Errorf("texcache: level %d needs %d bytes, have %d", level, off+n, len(data))
		}
		w, h := max(src.Width>>level, 1), max(src.Height>>level, 1)
		if err := d.decodeLevel(tex, uint32(level), src.Format, data[off:off+n], w, h); err != nil {
			return err
		}
		off += n
	}
	return nil
}

func (d *decoder) decodeLevel(tex gpucore.TextureID, level uint32, id format.ID, data []byte, w, h int) error {
	if k := d.kernelFor(id, w, h); k != nil {
		err := d.dispatchDecode(k, tex, level, data, w, h)
		if err == nil {
			d.gpuDecodes++
			return nil
		}
		slogger().Warn("texcache: kernel decode failed, using CPU", "kernel", k.Spec.Label(), "err", err)
	}

	pix := d.buffer(w * h * 4)
	if err := format.Decode(pix, data, id, w, h, &d.palette); err != nil {
		return err
	}
	if err := d.dev.WriteTexture(tex, level, pix, uint32(w), uint32(h)); err != nil {
		return fmt.Errorf("texcache: upload level %d: %w", level, err)
	}
	d.cpuDecodes++
	return nil
}

// kernelFor returns the decode kernel for a level, or nil when the level
// must be decoded on the CPU.
func (d *decoder) kernelFor(id format.ID, w, h int) *kernel.Kernel {
	if !d.gpu || !kernelSized(w, h) {
		return nil
	}
	return d.kernels.GetOrCompile(id, d.palette.Format())
}

func kernelSized(w, h int) bool {
	return w >= minKernelSize && w <= maxKernelSize && h >= minKernelSize && h <= maxKernelSize
}

func (d *decoder) dispatchDecode(k *kernel.Kernel, tex gpucore.TextureID, level uint32, data []byte, w, h int) error {
	if err := d.uploadSource(data); err != nil {
		return err
	}
	return d.dispatch(k, gpucore.DispatchParams{Source: d.src, Palette: d.lut, PaletteEntries: d.paletteEntries()}, tex, level, w, h)
}

// dispatch runs k into a scratch slot and copies the result into level of
// tex.
func (d *decoder) dispatch(k *kernel.Kernel, params gpucore.DispatchParams, tex gpucore.TextureID, level uint32, w, h int) error {
	slot, err := d.slots.Acquire(slotDesc(w, h))
	if err != nil {
		return err
	}
	params.Dest = slot.Texture
	params.Width, params.Height = uint32(w), uint32(h)
	if err := d.dev.DispatchDecode(k.ID, params); err != nil {
		return err
	}
	return d.dev.CopyRegion(tex, slot.Texture, level, gpucore.Rect{Width: uint32(w), Height: uint32(h)})
}

func slotDesc(w, h int) gpucore.TextureDesc {
	return gpucore.TextureDesc{
		Label:  "texcache_decode_slot",
		Width:  uint32(w),
		Height: uint32(h),
		Format: gpucore.TextureFormatRGBA8Unorm,
		Usage:  gpucore.TextureUsageStorageBinding | gpucore.TextureUsageCopySrc,
	}
}

func (d *decoder) uploadSource(data []byte) error {
	need := uint64(len(data))
	if d.src == gpucore.InvalidID || d.srcSize < need {
		size := max(d.srcSize, minSourceBuffer)
		for size < need {
			size *= 2
		}
		if d.src != gpucore.InvalidID {
			d.dev.DestroyBuffer(d.src)
			d.src = gpucore.InvalidID
		}
		id, err := d.dev.CreateBuffer(size, gpucore.BufferUsageStorage|gpucore.BufferUsageCopyDst)
		if err != nil {
			return fmt.Errorf("texcache: create source buffer: %w", err)
		}
		d.src, d.srcSize = id, size
	}
	return d.dev.UploadBytes(d.src, 0, data)
}

// depalettize applies the loaded palette to the index texels in level 0 of
// input and writes the colors to level 0 of tex.
func (d *decoder) depalettize(tex, input gpucore.TextureID, base format.BaseType, w, h int) error {
	if d.gpu {
		if k := d.kernels.GetOrCompileDepalettize(base, d.palette.Format()); k != nil {
			err := d.dispatch(k, gpucore.DispatchParams{Palette: d.lut, PaletteEntries: d.paletteEntries(), Input: input}, tex, 0, w, h)
			if err == nil {
				d.depalettized++
				return nil
			}
			slogger().Warn("texcache: depalettize kernel failed, using CPU", "kernel", k.Spec.Label(), "err", err)
		}
	}

	indices, err := d.dev.ReadTexture(input, 0, uint32(w), uint32(h))
	if err != nil {
		return fmt.Errorf("texcache: read index texture: %w", err)
	}
	pix := d.buffer(w * h * 4)
	if err := format.Depalettize(pix, indices, base, w, h, &d.palette); err != nil {
		return err
	}
	if err := d.dev.WriteTexture(tex, 0, pix, uint32(w), uint32(h)); err != nil {
		return err
	}
	d.depalettized++
	return nil
}

func (d *decoder) buffer(n int) []byte {
	if cap(d.scratch) < n {
		d.scratch = make([]byte, n)
	}
	return d.scratch[:n]
}

func (d *decoder) release() {
	if d.src != gpucore.InvalidID {
		d.dev.DestroyBuffer(d.src)
		d.src, d.srcSize = gpucore.InvalidID, 0
	}
	if d.lut != gpucore.InvalidID {
		d.dev.DestroyBuffer(d.lut)
		d.lut, d.lutSize = gpucore.InvalidID, 0
	}
	d.slots.Release()
	d.kernels.Close()
}
