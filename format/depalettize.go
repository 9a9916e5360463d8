package format

import (
	"fmt"
	"math"
)

// BaseType is the bit depth of an already-expanded index image.
type BaseType uint8

// Index image base types.
const (
	Unorm4 BaseType = 0
	Unorm8 BaseType = 1
)

// String returns the base type name.
func (b BaseType) String() string {
	switch b {
	case Unorm4:
		return "Unorm4"
	case Unorm8:
		return "Unorm8"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(b))
	}
}

// Colors returns the palette size addressed by the base type.
func (b BaseType) Colors() int {
	if b == Unorm4 {
		return 16
	}
	return 256
}

// Index recovers a palette index from a normalized 8-bit channel value.
func (b BaseType) Index(v uint8) uint32 {
	scale := float64(b.Colors() - 1)
	return uint32(math.Round(float64(v) / 255 * scale))
}

// Depalettize applies pal to an RGBA8 image whose red channel holds
// normalized palette indices, such as the output of decoding I4 or I8 data
// that is later sampled as C4 or C8.
func Depalettize(dst, indices []byte, base BaseType, width, height int, pal *Palette) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}
	n := width * height * 4
	if len(dst) < n {
		return fmt.Errorf("%w: have %d, need %d", ErrDestinationTooSmall, len(dst), n)
	}
	for i := 0; i < n; i += 4 {
		var v uint8
		if i < len(indices) {
			v = indices[i]
		}
		c := pal.Entry(base.Index(v))
		dst[i+0] = c.R
		dst[i+1] = c.G
		dst[i+2] = c.B
		dst[i+3] = c.A
	}
	return nil
}
