package kernel

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/gogpu/texcache/format"
)

// Embedded WGSL shared by every kernel permutation.

//go:embed shaders/prelude.wgsl
var preludeSource string

//go:embed shaders/main.wgsl
var mainSource string

//go:embed shaders/cmpr.wgsl
var cmprSource string

// EntryPoint is the compute entry point of every generated kernel.
const EntryPoint = "main"

// fetchSources implement fetch_texel(st) -> u32 per tiling mode.
var fetchSources = map[format.Tiling]string{
	format.TileNibble: `
    let width_blks = (params.dims.x + 7u) >> 3u;
    let base = (((st.y >> 3u) * width_blks) + (st.x >> 3u)) << 5u;
    let blk_off = ((st.y & 7u) << 3u) + (st.x & 7u);
    let v = read_byte(base + (blk_off >> 1u));
    if ((blk_off & 1u) != 0u) {
        return v & 0x0fu;
    }
    return (v & 0xf0u) >> 4u;`,

	format.TileByte: `
    let pitch = ((params.dims.x + 7u) / 8u) * 32u;
    let tile = (st.y / 4u) * pitch + 32u * (st.x / 8u);
    return read_byte(tile + (st.x & 7u) + (st.y & 3u) * 8u);`,

	format.TileHalf: `
    let pitch = ((params.dims.x + 3u) / 4u) * 32u;
    let tile = (st.y / 4u) * pitch + 32u * (st.x / 4u);
    return read_two_bytes(tile + (st.x & 3u) * 2u + (st.y & 3u) * 8u);`,

	format.TileRGBA8: `
    let pitch = ((params.dims.x + 3u) / 4u) * 64u;
    let tile = (st.y / 4u) * pitch + 64u * (st.x / 4u);
    let offs = (st.x & 3u) * 2u + (st.y & 3u) * 8u;
    return (read_two_bytes(tile + offs) << 16u) | read_two_bytes(tile + offs + 32u);`,

	format.TileRGBA8TMEM: `
    let gb_offs = 2u * ((params.dims.x + 3u) & ~3u) * ((params.dims.y + 3u) & ~3u);
    let pitch = ((params.dims.x + 3u) / 4u) * 32u;
    let tile = (st.y / 4u) * pitch + 32u * (st.x / 4u);
    let offs = (st.x & 3u) * 2u + (st.y & 3u) * 8u;
    return (read_two_bytes(tile + offs) << 16u) | read_two_bytes(tile + offs + gb_offs);`,
}

// expandSources implement expand_texel(v) -> vec4<u32> per texel mode.
var expandSources = map[format.Texel]string{
	format.TexelI4: `
    let i = (v << 4u) | v;
    return vec4<u32>(i, i, i, i);`,

	format.TexelI8: `
    return vec4<u32>(v, v, v, v);`,

	format.TexelIA4: `
    var i = (v & 0x0fu) << 4u;
    i = i | (i >> 4u);
    var a = v & 0xf0u;
    a = a | (a >> 4u);
    return vec4<u32>(i, i, i, a);`,

	format.TexelIA8: `
    return read_ia8(v);`,

	format.TexelRGB565: `
    return read_565(v);`,

	format.TexelRGB5A3: `
    return read_5a3(v);`,

	format.TexelRGBA8: `
    let ar = v >> 16u;
    let gb = v & 0xffffu;
    return vec4<u32>(ar & 0xffu, gb >> 8u, gb & 0xffu, ar >> 8u);`,

	format.TexelIndex: `
    return lut_lookup(v);`,

	format.TexelIndex14: `
    return lut_lookup(v & 0x3fffu);`,
}

// lutReaders name the prelude function decoding one palette word.
var lutReaders = [format.NumPaletteFormats]string{
	format.PaletteIA8:    "read_ia8",
	format.PaletteRGB565: "read_565",
	format.PaletteRGB5A3: "read_5a3",
}

const gradientSource = `
fn decode_texel(st: vec2<u32>) -> vec4<u32> {
    return vec4<u32>((255u * st) / params.dims, 0u, 128u);
}
`

const depalettizeSource = `
fn decode_texel(st: vec2<u32>) -> vec4<u32> {
    let v = textureLoad(index_tex, vec2<i32>(st), 0).r;
    return lut_lookup(u32(round(v * %d.0)));
}
`

const fetchExpandSource = `
fn fetch_texel(st: vec2<u32>) -> u32 {%s
}

fn expand_texel(v: u32) -> vec4<u32> {%s
}

fn decode_texel(st: vec2<u32>) -> vec4<u32> {
    return expand_texel(fetch_texel(st));
}
`

// lutLookupSource maps an index through the palette. Indices past the
// loaded entries are transparent black.
const lutLookupSource = `
fn lut_lookup(idx: u32) -> vec4<u32> {
    if (idx >= params.lut_len) {
        return vec4<u32>(0u);
    }
    return %s(read_lut(idx));
}
`

// Source renders the WGSL compute program for spec. Every permutation is
// the same decode loop; only decode_texel and lut_lookup differ.
func Source(spec Spec) (string, error) {
	if !spec.Palette.Valid() {
		return "", fmt.Errorf("%w: palette format %d", ErrInvalidKey, spec.Palette)
	}

	var b strings.Builder
	b.WriteString(preludeSource)
	fmt.Fprintf(&b, lutLookupSource, lutReaders[spec.Palette])

	switch {
	case spec.Mode == ModeDepalettize:
		fmt.Fprintf(&b, depalettizeSource, spec.Base.Colors()-1)
	case spec.Tiling == format.TileCMPR:
		b.WriteString(cmprSource)
	case spec.Tiling == format.TileNone:
		b.WriteString(gradientSource)
	default:
		fetch, ok := fetchSources[spec.Tiling]
		if !ok {
			return "", fmt.Errorf("%w: no fetch for tiling %d", ErrInvalidKey, spec.Tiling)
		}
		expand, ok := expandSources[spec.Texel]
		if !ok {
			return "", fmt.Errorf("%w: no expand for texel %d", ErrInvalidKey, spec.Texel)
		}
		fmt.Fprintf(&b, fetchExpandSource, fetch, expand)
	}

	b.WriteString(mainSource)
	return b.String(), nil
}
