package gpucore

import "fmt"

// Resource IDs
//
// These opaque IDs represent GPU resources. Each Device implementation
// maintains a mapping between IDs and actual backend resources.
// IDs are uint64 to accommodate various backend handle sizes.

// BufferID is an opaque handle to a GPU buffer.
type BufferID uint64

// TextureID is an opaque handle to a GPU texture.
type TextureID uint64

// KernelID is an opaque handle to a compiled decode kernel, ready to be
// dispatched.
type KernelID uint64

// InvalidID is the zero value, representing an invalid/null resource.
const InvalidID = 0

// BufferUsage is a bitmask specifying how a buffer will be used.
type BufferUsage uint32

// Buffer usage flags.
const (
	// BufferUsageCopySrc indicates the buffer can be used as a copy source.
	BufferUsageCopySrc BufferUsage = 1 << 0

	// BufferUsageCopyDst indicates the buffer can be used as a copy destination.
	BufferUsageCopyDst BufferUsage = 1 << 1

	// BufferUsageUniform indicates the buffer can be used as a uniform buffer.
	BufferUsageUniform BufferUsage = 1 << 2

	// BufferUsageStorage indicates the buffer can be used as a storage buffer.
	BufferUsageStorage BufferUsage = 1 << 3
)

// TextureFormat specifies the format of texture data.
type TextureFormat uint32

// Texture formats.
const (
	// TextureFormatRGBA8Unorm is 8-bit RGBA, normalized unsigned integer.
	TextureFormatRGBA8Unorm TextureFormat = iota + 1

	// TextureFormatRGBA8Uint is 8-bit RGBA, unsigned integer.
	TextureFormatRGBA8Uint
)

// String returns the format name.
func (f TextureFormat) String() string {
	switch f {
	case TextureFormatRGBA8Unorm:
		return "RGBA8Unorm"
	case TextureFormatRGBA8Uint:
		return "RGBA8Uint"
	default:
		return fmt.Sprintf("Unknown(%d)", uint32(f))
	}
}

// BytesPerPixel returns the texel size of the format.
func (f TextureFormat) BytesPerPixel() int {
	return 4
}

// TextureUsage is a bitmask specifying how a texture will be used.
type TextureUsage uint32

// Texture usage flags.
const (
	// TextureUsageCopySrc indicates the texture can be used as a copy source.
	TextureUsageCopySrc TextureUsage = 1 << 0

	// TextureUsageCopyDst indicates the texture can be used as a copy destination.
	TextureUsageCopyDst TextureUsage = 1 << 1

	// TextureUsageTextureBinding indicates the texture can be bound as a sampled texture.
	TextureUsageTextureBinding TextureUsage = 1 << 2

	// TextureUsageStorageBinding indicates the texture can be bound as a storage texture.
	TextureUsageStorageBinding TextureUsage = 1 << 3

	// TextureUsageRenderAttachment indicates the texture can be used as a render target.
	TextureUsageRenderAttachment TextureUsage = 1 << 4
)

// TextureDesc describes a 2D texture. It is comparable and can key maps.
type TextureDesc struct {
	// Label is an optional debug label.
	Label string

	Width  uint32
	Height uint32

	// Levels is the mip level count. Zero means one level.
	Levels uint32

	// Layers is the array layer count. Zero means one layer.
	Layers uint32

	Format TextureFormat
	Usage  TextureUsage
}

// MipLevels returns the effective mip level count.
func (d TextureDesc) MipLevels() uint32 {
	return max(d.Levels, 1)
}

// ArrayLayers returns the effective array layer count.
func (d TextureDesc) ArrayLayers() uint32 {
	return max(d.Layers, 1)
}

// LevelSize returns the dimensions of one mip level.
func (d TextureDesc) LevelSize(level uint32) (width, height uint32) {
	return max(d.Width>>level, 1), max(d.Height>>level, 1)
}

// Rect is a texel rectangle.
type Rect struct {
	X, Y          uint32
	Width, Height uint32
}

// Empty reports whether the rectangle covers no texels.
func (r Rect) Empty() bool {
	return r.Width == 0 || r.Height == 0
}

// DispatchParams are the bindings of one decode kernel dispatch.
type DispatchParams struct {
	// Source holds raw texture bytes for decode kernels.
	Source BufferID

	// Palette holds raw palette entries.
	Palette BufferID

	// PaletteEntries is the number of valid 16-bit entries in Palette.
	// Indices at or past it decode as transparent black. Zero means the
	// whole buffer.
	PaletteEntries uint32

	// Input is the index texture read by depalettize kernels.
	Input TextureID

	// Dest receives RGBA8 texels at origin (0, 0).
	Dest TextureID

	Width  uint32
	Height uint32
}

// WorkgroupSize is the edge of the square compute workgroup used by
// decode kernels.
const WorkgroupSize = 8

// Workgroups returns the dispatch grid covering width x height texels.
func (p DispatchParams) Workgroups() (x, y uint32) {
	return (p.Width + WorkgroupSize - 1) / WorkgroupSize, (p.Height + WorkgroupSize - 1) / WorkgroupSize
}
