package texcache

import (
	"testing"

	"github.com/gogpu/texcache/format"
)

func TestHashTexture(t *testing.T) {
	src := TextureSource{Format: format.I8, Width: 16, Height: 16}
	data := make([]byte, 256)
	base := hashTexture(src, data, 0)

	if hashTexture(src, data, 0) != base {
		t.Fatal("hashTexture() is not deterministic")
	}
	other := src
	other.Format = format.IA4
	if hashTexture(other, data, 0) == base {
		t.Error("format change did not change the hash")
	}
	other = src
	other.Width, other.Height = 32, 8
	if hashTexture(other, data, 0) == base {
		t.Error("dimension change did not change the hash")
	}

	changed := make([]byte, 256)
	changed[100] = 1
	if hashTexture(src, changed, 0) == base {
		t.Error("byte change did not change the full hash")
	}
	// With 4 samples of 8 bytes over 32 words the samples sit at words 0,
	// 8, 16 and 24 plus the final word; byte 100 (word 12) is skipped.
	if hashTexture(src, changed, 4) != hashTexture(src, data, 4) {
		t.Error("sampled hash saw an unsampled byte")
	}
	changed[255] = 1
	if hashTexture(src, changed, 4) == hashTexture(src, data, 4) {
		t.Error("sampled hash missed the final word")
	}
}

func TestHashPaletteAndCopies(t *testing.T) {
	pal := []byte{0xF8, 0x00}
	if hashPalette(format.PaletteRGB565, pal) == hashPalette(format.PaletteRGB5A3, pal) {
		t.Error("palette format not part of the palette hash")
	}
	if efbHash(format.RGB565, 32, 32) != efbHash(format.RGB565, 32, 32) {
		t.Error("efbHash() is not deterministic")
	}
	if efbHash(format.RGB565, 32, 32) == efbHash(format.I8, 32, 32) {
		t.Error("copy format not part of the copy key")
	}
}
