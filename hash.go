package texcache

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/gogpu/texcache/format"
)

// sampleBytes is the width of one hash sample.
const sampleBytes = 8

// hashTexture hashes the source description and bytes of a texture. With
// limit > 0 only limit evenly spaced samples plus the final sample are
// hashed.
func hashTexture(src TextureSource, data []byte, limit int) uint64 {
	d := xxhash.New()
	var hdr [16]byte
	hdr[0] = byte(src.Format)
	hdr[1] = byte(src.MipLevels())
	binary.LittleEndian.PutUint32(hdr[4:], uint32(src.Width))
	binary.LittleEndian.PutUint32(hdr[8:], uint32(src.Height))
	_, _ = d.Write(hdr[:])

	n := len(data) / sampleBytes
	if limit <= 0 || n <= limit {
		_, _ = d.Write(data)
		return d.Sum64()
	}
	step := n / limit
	for i := range limit {
		off := i * step * sampleBytes
		_, _ = d.Write(data[off : off+sampleBytes])
	}
	_, _ = d.Write(data[len(data)-sampleBytes:])
	return d.Sum64()
}

// hashPalette hashes the raw palette bytes and their entry format.
func hashPalette(f format.PaletteFormat, data []byte) uint64 {
	d := xxhash.New()
	_, _ = d.Write([]byte{byte(f)})
	_, _ = d.Write(data)
	return d.Sum64()
}

// efbHash keys render target copies. It never depends on memory contents,
// so repeated copies to one address with one shape share a key.
func efbHash(f format.ID, width, height uint32) uint64 {
	var b [12]byte
	copy(b[:3], "efb")
	b[3] = byte(f)
	binary.LittleEndian.PutUint32(b[4:], width)
	binary.LittleEndian.PutUint32(b[8:], height)
	return xxhash.Sum64(b[:])
}
