package format

import "image/color"

// cmpr decodes one texel of a block-compressed texture.
//
// Each 8x8 tile holds four 8-byte sub-blocks (top-left, top-right,
// bottom-left, bottom-right). A sub-block is two RGB565 endpoints followed
// by sixteen 2-bit indices, most significant pair first.
func (s *sampler) cmpr(x, y uint32) color.NRGBA {
	pitch := ((s.w + 7) / 8) * 32
	tile := (y/8)*pitch + 32*(x/8)
	px, py := x&7, y&7
	offs := 8*(px/4) + 16*(py/4)

	col0 := s.src.be16(tile + offs)
	col1 := s.src.be16(tile + offs + 2)
	lut := s.src.be32(tile + offs + 4)

	sx, sy := x&3, y&3
	idx := (lut >> (32 - (sx*2 + 2) - sy*8)) & 3

	return cmprTexel(col0, col1, idx)
}

// cmprTexel resolves a 2-bit index against two packed endpoints.
//
// col0 <= col1 selects the 3-color mode: index 2 is the midpoint and index
// 3 is fully transparent. Otherwise index 2 and 3 step from their endpoint
// toward the other by (d>>1)-(d>>3), which is not a symmetric lerp.
func cmprTexel(col0, col1, idx uint32) color.NRGBA {
	c0 := rgb565(col0)
	c1 := rgb565(col1)

	base := c0
	if idx&1 != 0 {
		base = c1
	}

	if col0 <= col1 {
		if idx == 2 {
			base = color.NRGBA{
				R: uint8((uint32(c0.R) + uint32(c1.R)) >> 1),
				G: uint8((uint32(c0.G) + uint32(c1.G)) >> 1),
				B: uint8((uint32(c0.B) + uint32(c1.B)) >> 1),
			}
		}
		base.A = 255
		if idx == 3 {
			base.A = 0
		}
		return base
	}

	if idx&2 != 0 {
		sign := 1
		if idx&1 != 0 {
			sign = -1
		}
		base.R = cmprStep(base.R, c0.R, c1.R, sign)
		base.G = cmprStep(base.G, c0.G, c1.G, sign)
		base.B = cmprStep(base.B, c0.B, c1.B, sign)
	}
	base.A = 255
	return base
}

func cmprStep(v, a, b uint8, sign int) uint8 {
	delta := int(b) - int(a)
	tier := (delta >> 1) - (delta >> 3)
	return uint8(int(v) + sign*tier)
}
