package format

import (
	"fmt"
	"image"
	"image/color"
)

// reader performs big-endian reads from source memory. Reads past the end
// of the buffer return zero bytes.
type reader []byte

func (r reader) u8(addr uint32) uint32 {
	if int(addr) >= len(r) {
		return 0
	}
	return uint32(r[addr])
}

func (r reader) be16(addr uint32) uint32 {
	addr &^= 1
	return r.u8(addr)<<8 | r.u8(addr+1)
}

func (r reader) be32(addr uint32) uint32 {
	addr &^= 3
	return r.be16(addr)<<16 | r.be16(addr+2)
}

// sampler fetches individual texels of one texture level.
type sampler struct {
	info Info
	src  reader
	w, h uint32
	pal  *Palette

	// gb is the green/blue plane for TileRGBA8TMEM.
	gb reader
}

// Decode writes width*height RGBA8 pixels decoded from src into dst.
//
// Reserved format codes produce a diagnostic gradient instead of an error;
// use Supported or Check to reject them beforehand. pal is consulted only
// by paletted formats and may be nil otherwise. For RGBA8TMEM, src holds
// the AR plane followed by the GB plane at TMEMPlaneOffset.
func Decode(dst, src []byte, id ID, width, height int, pal *Palette) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}
	if len(dst) < width*height*4 {
		return fmt.Errorf("%w: have %d, need %d", ErrDestinationTooSmall, len(dst), width*height*4)
	}
	s := &sampler{
		info: Lookup(id),
		src:  reader(src),
		w:    uint32(width),
		h:    uint32(height),
		pal:  pal,
	}
	if s.info.Tiling == TileRGBA8TMEM {
		off := TMEMPlaneOffset(width, height)
		if off < len(src) {
			s.gb = reader(src[off:])
		}
	}
	s.decodeInto(dst)
	return nil
}

// DecodeTMEM decodes an RGBA8 texture whose AR and GB planes were loaded
// into separate memory banks.
func DecodeTMEM(dst, ar, gb []byte, width, height int) error {
	buf := make([]byte, TMEMPlaneOffset(width, height)+len(gb))
	copy(buf, ar)
	copy(buf[TMEMPlaneOffset(width, height):], gb)
	return Decode(dst, buf, RGBA8TMEM, width, height, nil)
}

// TMEMPlaneOffset returns the byte offset of the GB plane in a combined
// RGBA8TMEM buffer.
func TMEMPlaneOffset(width, height int) int {
	return 2 * ((width + 3) &^ 3) * ((height + 3) &^ 3)
}

// DecodeImage decodes src into a new NRGBA image.
func DecodeImage(src []byte, id ID, width, height int, pal *Palette) (*image.NRGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	if err := Decode(img.Pix, src, id, width, height, pal); err != nil {
		return nil, err
	}
	return img, nil
}

func (s *sampler) decodeInto(dst []byte) {
	i := 0
	for t := range s.h {
		for x := range s.w {
			c := s.texel(x, t)
			dst[i+0] = c.R
			dst[i+1] = c.G
			dst[i+2] = c.B
			dst[i+3] = c.A
			i += 4
		}
	}
}

func (s *sampler) texel(x, y uint32) color.NRGBA {
	switch s.info.Tiling {
	case TileNone:
		return gradient(x, y, s.w, s.h)
	case TileCMPR:
		return s.cmpr(x, y)
	}
	return s.expand(s.fetch(x, y))
}

// fetch returns the raw texel value at (x, y). For the RGBA8 layouts the AR
// word is returned in the high half and the GB word in the low half.
func (s *sampler) fetch(x, y uint32) uint32 {
	switch s.info.Tiling {
	case TileNibble:
		widthBlks := (s.w + 7) >> 3
		base := ((y>>3)*widthBlks + (x >> 3)) << 5
		blkOff := (y&7)<<3 + (x & 7)
		v := s.src.u8(base + blkOff>>1)
		if blkOff&1 != 0 {
			return v & 0x0F
		}
		return (v & 0xF0) >> 4
	case TileByte:
		pitch := ((s.w + 7) / 8) * 32
		tile := (y/4)*pitch + 32*(x/8)
		return s.src.u8(tile + (x & 7) + (y&3)*8)
	case TileHalf:
		pitch := ((s.w + 3) / 4) * 32
		tile := (y/4)*pitch + 32*(x/4)
		return s.src.be16(tile + (x&3)*2 + (y&3)*8)
	case TileRGBA8:
		pitch := ((s.w + 3) / 4) * 64
		tile := (y/4)*pitch + 64*(x/4)
		offs := (x&3)*2 + (y&3)*8
		return s.src.be16(tile+offs)<<16 | s.src.be16(tile+offs+32)
	case TileRGBA8TMEM:
		pitch := ((s.w + 3) / 4) * 32
		tile := (y/4)*pitch + 32*(x/4)
		offs := (x&3)*2 + (y&3)*8
		return s.src.be16(tile+offs)<<16 | s.gb.be16(tile+offs)
	}
	return 0
}

func (s *sampler) expand(v uint32) color.NRGBA {
	switch s.info.Texel {
	case TexelI4:
		i := uint8(v<<4 | v)
		return color.NRGBA{i, i, i, i}
	case TexelI8:
		i := uint8(v)
		return color.NRGBA{i, i, i, i}
	case TexelIA4:
		i := (v & 0x0F) << 4
		i |= i >> 4
		a := v & 0xF0
		a |= a >> 4
		return color.NRGBA{uint8(i), uint8(i), uint8(i), uint8(a)}
	case TexelIA8:
		return ia8(v)
	case TexelRGB565:
		return rgb565(v)
	case TexelRGB5A3:
		return rgb5a3(v)
	case TexelRGBA8:
		ar, gb := v>>16, v&0xFFFF
		return color.NRGBA{uint8(ar & 0xFF), uint8(gb >> 8), uint8(gb & 0xFF), uint8(ar >> 8)}
	case TexelIndex:
		return s.pal.Entry(v)
	case TexelIndex14:
		return s.pal.Entry(v & 0x3FFF)
	}
	return color.NRGBA{}
}

// gradient is the diagnostic pattern used for reserved formats.
func gradient(x, y, w, h uint32) color.NRGBA {
	return color.NRGBA{uint8(255 * x / w), uint8(255 * y / h), 0, 128}
}

func ia8(v uint32) color.NRGBA {
	i := uint8(v & 0xFF)
	return color.NRGBA{i, i, i, uint8(v >> 8)}
}

func rgb565(v uint32) color.NRGBA {
	b := (v & 0x1F) << 3
	b |= b >> 5
	g := (v & 0x7E0) >> 3
	g |= g >> 6
	r := (v & 0xF800) >> 8
	r |= r >> 5
	return color.NRGBA{uint8(r), uint8(g), uint8(b), 255}
}

func rgb5a3(v uint32) color.NRGBA {
	if v&0x8000 != 0 {
		r := (v & 0x7C00) >> 7
		r |= r >> 5
		g := (v & 0x03E0) >> 2
		g |= g >> 5
		b := (v & 0x001F) << 3
		b |= b >> 5
		return color.NRGBA{uint8(r), uint8(g), uint8(b), 255}
	}
	a := (v & 0x7000) >> 7
	a |= (a >> 3) | (a >> 6)
	r := (v & 0x0F00) >> 4
	r |= r >> 4
	g := v & 0x00F0
	g |= g >> 4
	b := (v & 0x000F) << 4
	b |= b >> 4
	return color.NRGBA{uint8(r), uint8(g), uint8(b), uint8(a)}
}
