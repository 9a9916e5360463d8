// Package format decodes console texture memory into RGBA8 pixels.
//
// Every source format is described by a row of a static table: how texels
// are tiled in memory (Tiling), how a fetched texel expands to a color
// (Texel) and whether the texel is a palette index. The CPU decoder and
// the GPU kernel generator both read the same table, so the per-format
// rules live in one place.
//
// All multi-byte reads from source memory are big-endian.
package format

import (
	"errors"
	"fmt"
)

// Format errors.
var (
	// ErrUnsupportedFormat is returned by Check for reserved format codes.
	ErrUnsupportedFormat = errors.New("format: unsupported texture format")

	// ErrDestinationTooSmall is returned when the output buffer cannot hold
	// width*height RGBA8 pixels.
	ErrDestinationTooSmall = errors.New("format: destination buffer too small")

	// ErrInvalidDimensions is returned for zero or negative sizes.
	ErrInvalidDimensions = errors.New("format: invalid dimensions")
)

// ID is a 4-bit source texture format code.
type ID uint8

// Source texture formats. Codes 0x7, 0xB, 0xC and 0xD are reserved.
const (
	I4        ID = 0x0
	I8        ID = 0x1
	IA4       ID = 0x2
	IA8       ID = 0x3
	RGB565    ID = 0x4
	RGB5A3    ID = 0x5
	RGBA8     ID = 0x6
	C4        ID = 0x8
	C8        ID = 0x9
	C14X2     ID = 0xA
	CMPR      ID = 0xE
	RGBA8TMEM ID = 0xF
)

// NumFormats is the size of the format code space.
const NumFormats = 16

// Tiling selects the address arithmetic used to locate a texel.
type Tiling uint8

// Tiling modes.
const (
	// TileNone is used by reserved formats, which never read memory.
	TileNone Tiling = iota
	// TileNibble is 8x8 blocks of 4-bit texels (32 bytes per block).
	TileNibble
	// TileByte is 8x4 blocks of 8-bit texels (32 bytes per block).
	TileByte
	// TileHalf is 4x4 blocks of 16-bit texels (32 bytes per block).
	TileHalf
	// TileRGBA8 is 4x4 blocks of 64 bytes, AR plane then GB plane.
	TileRGBA8
	// TileRGBA8TMEM is two separate planes, GB after the padded AR plane.
	TileRGBA8TMEM
	// TileCMPR is 8x8 blocks made of four 4x4 compressed sub-blocks.
	TileCMPR
)

// Texel selects how a fetched texel value expands to RGBA8.
type Texel uint8

// Texel expansion modes.
const (
	TexelGradient Texel = iota
	TexelI4
	TexelI8
	TexelIA4
	TexelIA8
	TexelRGB565
	TexelRGB5A3
	TexelRGBA8
	TexelIndex
	TexelIndex14
	TexelCMPR
)

// Info is one row of the format table.
type Info struct {
	Name      string
	Supported bool
	Tiling    Tiling
	Texel     Texel
	Paletted  bool

	// BitsPerPixel and the block size describe the memory footprint.
	BitsPerPixel int
	BlockWidth   int
	BlockHeight  int
}

var table = [NumFormats]Info{
	I4:        {Name: "I4", Supported: true, Tiling: TileNibble, Texel: TexelI4, BitsPerPixel: 4, BlockWidth: 8, BlockHeight: 8},
	I8:        {Name: "I8", Supported: true, Tiling: TileByte, Texel: TexelI8, BitsPerPixel: 8, BlockWidth: 8, BlockHeight: 4},
	IA4:       {Name: "IA4", Supported: true, Tiling: TileByte, Texel: TexelIA4, BitsPerPixel: 8, BlockWidth: 8, BlockHeight: 4},
	IA8:       {Name: "IA8", Supported: true, Tiling: TileHalf, Texel: TexelIA8, BitsPerPixel: 16, BlockWidth: 4, BlockHeight: 4},
	RGB565:    {Name: "RGB565", Supported: true, Tiling: TileHalf, Texel: TexelRGB565, BitsPerPixel: 16, BlockWidth: 4, BlockHeight: 4},
	RGB5A3:    {Name: "RGB5A3", Supported: true, Tiling: TileHalf, Texel: TexelRGB5A3, BitsPerPixel: 16, BlockWidth: 4, BlockHeight: 4},
	RGBA8:     {Name: "RGBA8", Supported: true, Tiling: TileRGBA8, Texel: TexelRGBA8, BitsPerPixel: 32, BlockWidth: 4, BlockHeight: 4},
	0x7:       {Name: "Reserved7"},
	C4:        {Name: "C4", Supported: true, Tiling: TileNibble, Texel: TexelIndex, Paletted: true, BitsPerPixel: 4, BlockWidth: 8, BlockHeight: 8},
	C8:        {Name: "C8", Supported: true, Tiling: TileByte, Texel: TexelIndex, Paletted: true, BitsPerPixel: 8, BlockWidth: 8, BlockHeight: 4},
	C14X2:     {Name: "C14X2", Supported: true, Tiling: TileHalf, Texel: TexelIndex14, Paletted: true, BitsPerPixel: 16, BlockWidth: 4, BlockHeight: 4},
	0xB:       {Name: "ReservedB"},
	0xC:       {Name: "ReservedC"},
	0xD:       {Name: "ReservedD"},
	CMPR:      {Name: "CMPR", Supported: true, Tiling: TileCMPR, Texel: TexelCMPR, BitsPerPixel: 4, BlockWidth: 8, BlockHeight: 8},
	RGBA8TMEM: {Name: "RGBA8TMEM", Supported: true, Tiling: TileRGBA8TMEM, Texel: TexelRGBA8, BitsPerPixel: 32, BlockWidth: 4, BlockHeight: 4},
}

// Lookup returns the table row for id. Only the low 4 bits are significant.
func Lookup(id ID) Info {
	return table[id&0xF]
}

// Supported reports whether id has a decoder. Callers must check this
// before decoding and skip the texture otherwise.
func Supported(id ID) bool {
	return table[id&0xF].Supported
}

// Check returns ErrUnsupportedFormat for reserved format codes.
func Check(id ID) error {
	if !Supported(id) {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, id)
	}
	return nil
}

// All returns every format code, supported or not, in code order.
func All() []ID {
	ids := make([]ID, NumFormats)
	for i := range ids {
		ids[i] = ID(i)
	}
	return ids
}

// String returns the format name.
func (id ID) String() string {
	if int(id) >= NumFormats {
		return fmt.Sprintf("Unknown(%d)", uint8(id))
	}
	return table[id].Name
}

// Paletted reports whether texels of id are palette indices.
func (id ID) Paletted() bool {
	return Lookup(id).Paletted
}

// LevelSize returns the encoded byte length of one mip level. Dimensions
// are padded up to whole blocks.
func LevelSize(id ID, width, height, level int) int {
	info := Lookup(id)
	if !info.Supported || width <= 0 || height <= 0 {
		return 0
	}
	w := max(width>>level, 1)
	h := max(height>>level, 1)
	w = (w + info.BlockWidth - 1) / info.BlockWidth * info.BlockWidth
	h = (h + info.BlockHeight - 1) / info.BlockHeight * info.BlockHeight
	return w * h * info.BitsPerPixel / 8
}

// EncodedSize returns the byte length of the base level.
func EncodedSize(id ID, width, height int) int {
	return LevelSize(id, width, height, 0)
}

// TotalSize returns the byte length of a mip chain with the given number of
// levels.
func TotalSize(id ID, width, height, levels int) int {
	total := 0
	for level := range max(levels, 1) {
		total += LevelSize(id, width, height, level)
	}
	return total
}
