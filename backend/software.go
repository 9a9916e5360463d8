package backend

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gogpu/texcache/format"
	"github.com/gogpu/texcache/gpucore"
	"github.com/gogpu/texcache/kernel"
)

// softBlobMagic prefixes software kernel blobs so blobs compiled for other
// backends are rejected by CreateKernel.
var softBlobMagic = []byte("texcache-soft\x00")

// SoftwareDevice is a CPU implementation of gpucore.Device.
//
// Kernels run the reference decoders from package format, so the software
// device produces exactly what the GPU kernels are specified to produce.
// It backs the CLI on machines without a GPU and the cache tests.
type SoftwareDevice struct {
	mu       sync.Mutex
	next     uint64
	buffers  map[gpucore.BufferID][]byte
	textures map[gpucore.TextureID]*softTexture
	kernels  map[gpucore.KernelID]kernel.Spec
	closed   bool
}

type softTexture struct {
	desc   gpucore.TextureDesc
	levels [][]byte
}

// init registers the software backend on package import.
func init() {
	Register(BackendSoftware, func() (gpucore.Device, error) {
		return NewSoftwareDevice(), nil
	})
}

// NewSoftwareDevice creates a new software device.
func NewSoftwareDevice() *SoftwareDevice {
	return &SoftwareDevice{
		buffers:  make(map[gpucore.BufferID][]byte),
		textures: make(map[gpucore.TextureID]*softTexture),
		kernels:  make(map[gpucore.KernelID]kernel.Spec),
	}
}

// Name returns the backend identifier.
func (d *SoftwareDevice) Name() string {
	return BackendSoftware
}

func (d *SoftwareDevice) nextID() uint64 {
	d.next++
	return d.next
}

// CompileKernel validates the specialization and encodes it as a blob.
// The source is not interpreted.
func (d *SoftwareDevice) CompileKernel(source string, defs map[string]string) ([]byte, error) {
	if source == "" {
		return nil, fmt.Errorf("%w: empty source", gpucore.ErrCompile)
	}
	spec, err := kernel.ParseDefs(defs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", gpucore.ErrCompile, err)
	}
	blob := make([]byte, len(softBlobMagic)+8)
	copy(blob, softBlobMagic)
	binary.LittleEndian.PutUint64(blob[len(softBlobMagic):], uint64(spec.Key))
	return blob, nil
}

// CreateKernel decodes a blob produced by CompileKernel.
func (d *SoftwareDevice) CreateKernel(blob []byte, label string) (gpucore.KernelID, error) {
	if len(blob) != len(softBlobMagic)+8 || !bytes.HasPrefix(blob, softBlobMagic) {
		return gpucore.InvalidID, fmt.Errorf("%w: %s: not a software kernel blob", gpucore.ErrInvalidResource, label)
	}
	spec, err := kernel.Key(binary.LittleEndian.Uint64(blob[len(softBlobMagic):])).Spec()
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("%w: %s: %w", gpucore.ErrInvalidResource, label, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrClosed
	}
	id := gpucore.KernelID(d.nextID())
	d.kernels[id] = spec
	return id, nil
}

// DestroyKernel releases a kernel.
func (d *SoftwareDevice) DestroyKernel(id gpucore.KernelID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.kernels, id)
}

// DispatchDecode runs the kernel synchronously on the CPU.
func (d *SoftwareDevice) DispatchDecode(id gpucore.KernelID, p gpucore.DispatchParams) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	spec, ok := d.kernels[id]
	if !ok {
		return fmt.Errorf("%w: kernel %d", gpucore.ErrInvalidResource, id)
	}
	dst, ok := d.textures[p.Dest]
	if !ok {
		return fmt.Errorf("%w: texture %d", gpucore.ErrInvalidResource, p.Dest)
	}
	if p.Width == 0 || p.Height == 0 {
		return nil
	}
	if p.Width > dst.desc.Width || p.Height > dst.desc.Height {
		return fmt.Errorf("%w: dispatch %dx%d into %dx%d", gpucore.ErrOutOfRange,
			p.Width, p.Height, dst.desc.Width, dst.desc.Height)
	}

	var pal *format.Palette
	if lut, ok := d.buffers[p.Palette]; ok {
		if n := int(p.PaletteEntries) * 2; n > 0 && n < len(lut) {
			lut = lut[:n]
		}
		pal = format.NewPalette(spec.Palette, lut)
	}

	w, h := int(p.Width), int(p.Height)
	out := make([]byte, w*h*4)
	switch spec.Mode {
	case kernel.ModeDepalettize:
		in, ok := d.textures[p.Input]
		if !ok {
			return fmt.Errorf("%w: texture %d", gpucore.ErrInvalidResource, p.Input)
		}
		indices := readRect(in, 0, gpucore.Rect{Width: p.Width, Height: p.Height})
		if err := format.Depalettize(out, indices, spec.Base, w, h, pal); err != nil {
			return err
		}
	default:
		src, ok := d.buffers[p.Source]
		if !ok {
			return fmt.Errorf("%w: buffer %d", gpucore.ErrInvalidResource, p.Source)
		}
		if err := format.Decode(out, src, spec.Format, w, h, pal); err != nil {
			return err
		}
	}
	writeRect(dst, 0, out, p.Width, p.Height)
	return nil
}

// CreateBuffer creates a zeroed buffer.
func (d *SoftwareDevice) CreateBuffer(size uint64, _ gpucore.BufferUsage) (gpucore.BufferID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrClosed
	}
	id := gpucore.BufferID(d.nextID())
	d.buffers[id] = make([]byte, size)
	return id, nil
}

// DestroyBuffer releases a buffer.
func (d *SoftwareDevice) DestroyBuffer(id gpucore.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.buffers, id)
}

// UploadBytes copies data into a buffer.
func (d *SoftwareDevice) UploadBytes(id gpucore.BufferID, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, ok := d.buffers[id]
	if !ok {
		return fmt.Errorf("%w: buffer %d", gpucore.ErrInvalidResource, id)
	}
	if offset+uint64(len(data)) > uint64(len(buf)) {
		return fmt.Errorf("%w: %d bytes at %d into %d", gpucore.ErrOutOfRange, len(data), offset, len(buf))
	}
	copy(buf[offset:], data)
	return nil
}

// CreateTexture creates a zeroed texture. Only layer 0 is addressable.
func (d *SoftwareDevice) CreateTexture(desc *gpucore.TextureDesc) (gpucore.TextureID, error) {
	if desc == nil || desc.Width == 0 || desc.Height == 0 {
		return gpucore.InvalidID, fmt.Errorf("%w: empty texture descriptor", gpucore.ErrInvalidResource)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrClosed
	}
	tex := &softTexture{desc: *desc, levels: make([][]byte, desc.MipLevels())}
	for level := range tex.levels {
		w, h := desc.LevelSize(uint32(level))
		tex.levels[level] = make([]byte, int(w)*int(h)*4)
	}
	id := gpucore.TextureID(d.nextID())
	d.textures[id] = tex
	return id, nil
}

// DestroyTexture releases a texture.
func (d *SoftwareDevice) DestroyTexture(id gpucore.TextureID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.textures, id)
}

// WriteTexture stores width x height texels at the origin of level.
func (d *SoftwareDevice) WriteTexture(id gpucore.TextureID, level uint32, data []byte, width, height uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	tex, err := d.level(id, level, gpucore.Rect{Width: width, Height: height})
	if err != nil {
		return err
	}
	if len(data) < int(width)*int(height)*4 {
		return fmt.Errorf("%w: %d bytes for %dx%d", gpucore.ErrOutOfRange, len(data), width, height)
	}
	writeRect(tex, level, data, width, height)
	return nil
}

// ReadTexture returns width x height texels from the origin of level.
func (d *SoftwareDevice) ReadTexture(id gpucore.TextureID, level uint32, width, height uint32) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r := gpucore.Rect{Width: width, Height: height}
	tex, err := d.level(id, level, r)
	if err != nil {
		return nil, err
	}
	return readRect(tex, level, r), nil
}

// CopyRegion copies rect r of src level 0 to the origin of dst level.
func (d *SoftwareDevice) CopyRegion(dst, src gpucore.TextureID, level uint32, r gpucore.Rect) error {
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
	writeRect(t, level, readRect(s, 0, r), r.Width, r.Height)
	return nil
}

// Close drops every resource. Further creation fails with ErrClosed.
func (d *SoftwareDevice) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.buffers)
	clear(d.textures)
	clear(d.kernels)
	d.closed = true
}

// Buffer returns a copy of a buffer's contents, for tests and dumps.
func (d *SoftwareDevice) Buffer(id gpucore.BufferID) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, ok := d.buffers[id]
	if !ok {
		return nil, false
	}
	return bytes.Clone(buf), true
}

// Counts returns the number of live buffers, textures and kernels.
func (d *SoftwareDevice) Counts() (buffers, textures, kernels int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffers), len(d.textures), len(d.kernels)
}

// level validates that r fits inside level of texture id. Must hold d.mu.
func (d *SoftwareDevice) level(id gpucore.TextureID, level uint32, r gpucore.Rect) (*softTexture, error) {
	tex, ok := d.textures[id]
	if !ok {
		return nil, fmt.Errorf("%w: texture %d", gpucore.ErrInvalidResource, id)
	}
	if level >= uint32(len(tex.levels)) {
		return nil, fmt.Errorf("%w: level %d of %d", gpucore.ErrOutOfRange, level, len(tex.levels))
	}
	w, h := tex.desc.LevelSize(level)
	if r.X+r.Width > w || r.Y+r.Height > h {
		return nil, fmt.Errorf("%w: rect %+v in %dx%d", gpucore.ErrOutOfRange, r, w, h)
	}
	return tex, nil
}

func readRect(tex *softTexture, level uint32, r gpucore.Rect) []byte {
	w, _ := tex.desc.LevelSize(level)
	pix := tex.levels[level]
	out := make([]byte, int(r.Width)*int(r.Height)*4)
	row := int(r.Width) * 4
	for y := 0; y < int(r.Height); y++ {
		start := ((int(r.Y)+y)*int(w) + int(r.X)) * 4
		copy(out[y*row:(y+1)*row], pix[start:start+row])
	}
	return out
}

func writeRect(tex *softTexture, level uint32, data []byte, width, height uint32) {
	w, _ := tex.desc.LevelSize(level)
	pix := tex.levels[level]
	row := int(width) * 4
	for y := 0; y < int(height); y++ {
		start := y * int(w) * 4
		copy(pix[start:start+row], data[y*row:(y+1)*row])
	}
}
