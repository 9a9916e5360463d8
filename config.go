package texcache

import (
	"fmt"

	"github.com/gogpu/texcache/gpucore"
)

// TextureConfig describes the shape of a host texture. Configs are
// comparable and key the free list of released entry textures.
type TextureConfig struct {
	Width  uint32
	Height uint32

	// Levels is the mip level count. Zero means one level.
	Levels uint32

	// Layers is the array layer count. Zero means one layer.
	Layers uint32

	// RenderTarget marks textures that receive render target copies.
	RenderTarget bool

	// Layout is the host pixel layout.
	Layout gpucore.TextureFormat
}

// normalize fills the defaults for zero fields.
func (c TextureConfig) normalize() TextureConfig {
	c.Levels = max(c.Levels, 1)
	c.Layers = max(c.Layers, 1)
	if c.Layout == 0 {
		c.Layout = gpucore.TextureFormatRGBA8Unorm
	}
	return c
}

// Hash packs every field into disjoint bit ranges:
//
//	bit  56     render target
//	bits 48..55 layout
//	bits 40..47 layers
//	bits 32..39 levels
//	bits 16..31 height
//	bits  0..15 width
//
// Two configs within the field limits hash equal exactly when they are
// equal.
func (c TextureConfig) Hash() uint64 {
	var rt uint64
	if c.RenderTarget {
		rt = 1
	}
	return rt<<56 |
		uint64(c.Layout&0xFF)<<48 |
		uint64(c.Layers&0xFF)<<40 |
		uint64(c.Levels&0xFF)<<32 |
		uint64(c.Height&0xFFFF)<<16 |
		uint64(c.Width&0xFFFF)
}

// Valid reports whether the config fits the hash layout and describes a
// non-empty texture.
func (c TextureConfig) Valid() bool {
	return c.Width > 0 && c.Width <= 0xFFFF &&
		c.Height > 0 && c.Height <= 0xFFFF &&
		c.Levels <= 0xFF && c.Layers <= 0xFF
}

// Desc returns the texture descriptor used to allocate a texture of this
// shape.
func (c TextureConfig) Desc(label string) gpucore.TextureDesc {
	c = c.normalize()
	usage := gpucore.TextureUsageTextureBinding | gpucore.TextureUsageCopyDst | gpucore.TextureUsageCopySrc
	if c.RenderTarget {
		usage |= gpucore.TextureUsageRenderAttachment
	}
	return gpucore.TextureDesc{
		Label:  label,
		Width:  c.Width,
		Height: c.Height,
		Levels: c.Levels,
		Layers: c.Layers,
		Format: c.Layout,
		Usage:  usage,
	}
}

// String returns a compact description such as "64x32 l3 RGBA8Unorm".
func (c TextureConfig) String() string {
	c = c.normalize()
	s := fmt.Sprintf("%dx%d l%d", c.Width, c.Height, c.Levels)
	if c.Layers > 1 {
		s += fmt.Sprintf(" a%d", c.Layers)
	}
	if c.RenderTarget {
		s += " rt"
	}
	return s + " " + c.Layout.String()
}
