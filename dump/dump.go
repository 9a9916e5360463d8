// Package dump writes decoded textures to image files.
//
// Dumps are used to inspect decoder output. PNG and WebP (lossless) keep
// the alpha channel. BMP, TIFF and TGA are provided for tools that expect
// those layouts.
package dump

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/HugoSmits86/nativewebp"
	"github.com/ftrvxmtrx/tga"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// ErrUnknownFormat is returned for image format names that have no encoder.
var ErrUnknownFormat = errors.New("dump: unknown image format")

// Format selects the image encoder.
type Format string

// Supported dump formats.
const (
	PNG  Format = "png"
	WebP Format = "webp"
	BMP  Format = "bmp"
	TIFF Format = "tiff"
	TGA  Format = "tga"
)

// Formats lists every supported format.
func Formats() []Format {
	return []Format{PNG, WebP, BMP, TIFF, TGA}
}

// ParseFormat parses a format name. Matching is case-insensitive and
// accepts the usual file extensions.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "png", "":
		return PNG, nil
	case "webp":
		return WebP, nil
	case "bmp":
		return BMP, nil
	case "tif", "tiff":
		return TIFF, nil
	case "tga":
		return TGA, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// Ext returns the file extension including the dot.
func (f Format) Ext() string {
	return "." + string(f)
}

// Encode writes img to w.
func Encode(w io.Writer, img image.Image, f Format) error {
	switch f {
	case PNG:
		return png.Encode(w, img)
	case WebP:
		return nativewebp.Encode(w, img, nil)
	case BMP:
		return bmp.Encode(w, img)
	case TIFF:
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	case TGA:
		return tga.Encode(w, img)
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, string(f))
}

// WriteFile encodes img into path, creating parent directories.
func WriteFile(path string, img image.Image, f Format) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("dump: %w", err)
	}
	out, err := os.Create(path) //nolint:gosec // path is user-provided intentionally
	if err != nil {
		return fmt.Errorf("dump: %w", err)
	}
	if err := Encode(out, img, f); err != nil {
		_ = out.Close()
		_ = os.Remove(path)
		return fmt.Errorf("dump: encode %s: %w", f, err)
	}
	return out.Close()
}

// FromRGBA wraps tightly packed RGBA8 texels in an image without copying.
func FromRGBA(pix []byte, width, height int) *image.NRGBA {
	return &image.NRGBA{
		Pix:    pix[:width*height*4],
		Stride: width * 4,
		Rect:   image.Rect(0, 0, width, height),
	}
}
