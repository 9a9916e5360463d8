package texcache

import (
	"fmt"

	"github.com/gogpu/texcache/format"
	"github.com/gogpu/texcache/gpucore"
)

// Memory is the emulated main memory textures and palettes are read from.
type Memory interface {
	// Read returns size bytes starting at addr. The returned slice is only
	// read by the cache and only until the next call into the cache.
	Read(addr uint32, size int) ([]byte, error)
}

// RAM is a flat Memory backed by a byte slice starting at address 0.
type RAM []byte

// Read returns a view of size bytes at addr.
func (r RAM) Read(addr uint32, size int) ([]byte, error) {
	end := uint64(addr) + uint64(size)
	if size < 0 || end > uint64(len(r)) {
		return nil, fmt.Errorf("%w: [%#x, %#x) of %#x", ErrOutOfBounds, addr, end, len(r))
	}
	return r[addr:end], nil
}

// Write copies data to addr.
func (r RAM) Write(addr uint32, data []byte) error {
	end := uint64(addr) + uint64(len(data))
	if end > uint64(len(r)) {
		return fmt.Errorf("%w: [%#x, %#x) of %#x", ErrOutOfBounds, addr, end, len(r))
	}
	copy(r[addr:], data)
	return nil
}

// TextureSource describes the texture bound to one stage.
type TextureSource struct {
	Address uint32
	Format  format.ID
	Width   int
	Height  int

	// Levels is the mip level count. Zero means one level.
	Levels int
}

// MipLevels returns the effective mip level count, clamped to the levels a
// texture of this size can have.
func (s TextureSource) MipLevels() int {
	n := 1
	for w, h := s.Width, s.Height; (w > 1 || h > 1) && n < max(s.Levels, 1); n++ {
		w, h = max(w>>1, 1), max(h>>1, 1)
	}
	return n
}

// Size returns the byte length of the full mip chain in memory.
func (s TextureSource) Size() int {
	return format.TotalSize(s.Format, s.Width, s.Height, s.MipLevels())
}

// StageSource supplies the texture description of each stage.
type StageSource interface {
	// Stage returns the source bound to stage, or false when nothing is
	// bound.
	Stage(stage int) (TextureSource, bool)
}

// MaxStages is the number of texture stages in a StageTable.
const MaxStages = 8

// StageTable is a fixed StageSource with MaxStages stages.
type StageTable struct {
	stages [MaxStages]TextureSource
	bound  [MaxStages]bool
}

// Bind sets the source of stage. Out of range stages are ignored.
func (t *StageTable) Bind(stage int, src TextureSource) {
	if stage < 0 || stage >= MaxStages {
		return
	}
	t.stages[stage] = src
	t.bound[stage] = true
}

// Unbind clears stage.
func (t *StageTable) Unbind(stage int) {
	if stage < 0 || stage >= MaxStages {
		return
	}
	t.bound[stage] = false
}

// Stage implements StageSource.
func (t *StageTable) Stage(stage int) (TextureSource, bool) {
	if stage < 0 || stage >= MaxStages || !t.bound[stage] {
		return TextureSource{}, false
	}
	return t.stages[stage], true
}

// CopyRequest describes a render target region copied into texture memory.
type CopyRequest struct {
	// Address is where the copy lands in emulated memory.
	Address uint32

	// Format is the texture format later loads will read the copy as.
	Format format.ID

	// Source is the caller's render target. Only level 0 is read.
	Source gpucore.TextureID

	// Rect is the copied region of Source.
	Rect gpucore.Rect

	// Size is the byte length of the copy in memory. Zero derives it from
	// Format and the rectangle.
	Size uint32
}

func (r CopyRequest) size() uint32 {
	if r.Size != 0 {
		return r.Size
	}
	return uint32(format.EncodedSize(r.Format, int(r.Rect.Width), int(r.Rect.Height)))
}
