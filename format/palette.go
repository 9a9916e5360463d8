package format

import (
	"fmt"
	"image/color"
)

// PaletteFormat is the entry encoding of a loaded palette.
type PaletteFormat uint8

// Palette entry formats.
const (
	PaletteIA8    PaletteFormat = 0
	PaletteRGB565 PaletteFormat = 1
	PaletteRGB5A3 PaletteFormat = 2
)

// NumPaletteFormats is the number of palette entry formats.
const NumPaletteFormats = 3

// MaxPaletteEntries bounds the number of 16-bit entries a palette holds.
const MaxPaletteEntries = (1 << 15) - 1

// String returns the palette format name.
func (f PaletteFormat) String() string {
	switch f {
	case PaletteIA8:
		return "IA8"
	case PaletteRGB565:
		return "RGB565"
	case PaletteRGB5A3:
		return "RGB5A3"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(f))
	}
}

// Valid reports whether f names a palette entry format.
func (f PaletteFormat) Valid() bool {
	return f < NumPaletteFormats
}

// Palette holds the currently loaded color lookup table and its declared
// entry format. Entries are stored as raw big-endian 16-bit words, exactly
// as they were read from console memory.
//
// The zero value is an empty IA8 palette.
type Palette struct {
	format PaletteFormat
	data   []byte
}

// NewPalette returns a palette holding a copy of data.
func NewPalette(f PaletteFormat, data []byte) *Palette {
	p := &Palette{}
	p.Load(f, data)
	return p
}

// Load replaces the palette contents. Data beyond MaxPaletteEntries entries
// is ignored.
func (p *Palette) Load(f PaletteFormat, data []byte) {
	n := min(len(data), MaxPaletteEntries*2)
	p.format = f
	p.data = append(p.data[:0], data[:n]...)
}

// Format returns the declared entry format.
func (p *Palette) Format() PaletteFormat {
	return p.format
}

// Bytes returns the raw palette bytes. The slice must not be modified.
func (p *Palette) Bytes() []byte {
	return p.data
}

// Len returns the number of complete entries.
func (p *Palette) Len() int {
	return len(p.data) / 2
}

// Raw returns entry i as a 16-bit value, or 0 when i is out of range.
func (p *Palette) Raw(i uint32) uint16 {
	off := int(i) * 2
	if p == nil || off+1 >= len(p.data) {
		return 0
	}
	return uint16(p.data[off])<<8 | uint16(p.data[off+1])
}

// Entry decodes entry i with the palette's entry format. Out-of-range
// indices decode as transparent black.
func (p *Palette) Entry(i uint32) color.NRGBA {
	if p == nil || int(i) >= p.Len() {
		return color.NRGBA{}
	}
	return DecodePaletteEntry(p.format, p.Raw(i))
}

// DecodePaletteEntry expands a raw 16-bit palette word.
func DecodePaletteEntry(f PaletteFormat, v uint16) color.NRGBA {
	switch f {
	case PaletteRGB565:
		return rgb565(uint32(v))
	case PaletteRGB5A3:
		return rgb5a3(uint32(v))
	default:
		return ia8(uint32(v))
	}
}
