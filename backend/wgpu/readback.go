//go:build !nogpu

package wgpu

import (
	"fmt"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/texcache/gpucore"
)

// copyPitchAlignment is the required row pitch of texture-to-buffer copies.
const copyPitchAlignment = 256

// ReadTexture copies one level into a staging buffer, waits for the GPU
// and returns the texels without row padding.
func (d *Device) ReadTexture(id gpucore.TextureID, level uint32, width, height uint32) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := d.level(id, level, gpucore.Rect{Width: width, Height: height})
	if err != nil {
		return nil, err
	}
	if width == 0 || height == 0 {
		return nil, nil
	}

	bytesPerRow := width * 4
	alignedBytesPerRow := (bytesPerRow + copyPitchAlignment - 1) &^ (copyPitchAlignment - 1)
	stagingBufSize := uint64(alignedBytesPerRow) * uint64(height)

	stagingBuf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "texcache_staging",
		Size:  stagingBufSize,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create staging buffer: %w", err)
	}
	defer d.device.DestroyBuffer(stagingBuf)

	idx, err := d.submit("texcache_readback", func(enc hal.CommandEncoder) {
		enc.CopyTextureToBuffer(t.tex, stagingBuf, []hal.BufferTextureCopy{{
			BufferLayout: hal.ImageDataLayout{Offset: 0, BytesPerRow: alignedBytesPerRow, RowsPerImage: height},
			TextureBase:  hal.ImageCopyTexture{Texture: t.tex, MipLevel: level},
			Size:         hal.Extent3D{Width: width, Height: height, DepthOrArrayLayers: 1},
		}})
	})
	if err != nil {
		return nil, err
	}
	t.lastUse = idx
	if err := d.wait(idx); err != nil {
		return nil, err
	}

	mapping, err := d.device.MapBuffer(stagingBuf, 0, stagingBufSize)
	if err != nil {
		return nil, fmt.Errorf("wgpu: map staging buffer: %w", err)
	}
	readback := make([]byte, stagingBufSize)
	copy(readback, unsafe.Slice((*byte)(mapping.Ptr), stagingBufSize))
	if err := d.device.UnmapBuffer(stagingBuf); err != nil {
		return nil, fmt.Errorf("wgpu: unmap staging buffer: %w", err)
	}
	if alignedBytesPerRow == bytesPerRow {
		return readback, nil
	}
	out := make([]byte, int(bytesPerRow)*int(height))
	for y := 0; y < int(height); y++ {
		copy(out[y*int(bytesPerRow):(y+1)*int(bytesPerRow)], readback[y*int(alignedBytesPerRow):])
	}
	return out, nil
}
