package kernel

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/gogpu/texcache/format"
)

// Key errors.
var (
	// ErrInvalidKey is returned when a key does not name a buildable kernel.
	ErrInvalidKey = errors.New("kernel: invalid key")

	// ErrInvalidDefs is returned when kernel defs cannot be parsed.
	ErrInvalidDefs = errors.New("kernel: invalid defs")
)

// DepalettizeOffset separates depalettize kernels from decode kernels in
// the decode-id half of a Key.
const DepalettizeOffset = 16

// Key identifies one kernel permutation: a decode id in bits 16..31 and a
// palette format in bits 0..15.
type Key uint64

// MakeComboKey packs a decode id and a palette format.
func MakeComboKey(decodeID uint32, lut format.PaletteFormat) Key {
	return Key(uint64(decodeID)<<16 | uint64(lut))
}

// DecodeKey returns the key of the decode kernel for src. The palette
// format only participates for paletted formats.
func DecodeKey(src format.ID, lut format.PaletteFormat) Key {
	raw := src & 0xF
	if !raw.Paletted() {
		lut = 0
	}
	return MakeComboKey(uint32(raw), lut)
}

// DepalettizeKey returns the key of the depalettize kernel for base.
func DepalettizeKey(base format.BaseType, lut format.PaletteFormat) Key {
	return MakeComboKey(uint32(base)+DepalettizeOffset, lut)
}

// DecodeID returns the decode id half of the key.
func (k Key) DecodeID() uint32 {
	return uint32(k>>16) & 0xFFFF
}

// Palette returns the palette format half of the key.
func (k Key) Palette() format.PaletteFormat {
	return format.PaletteFormat(k & 0xFFFF)
}

// IsDepalettize reports whether the key names a depalettize kernel.
func (k Key) IsDepalettize() bool {
	return k.DecodeID() >= DepalettizeOffset
}

// String returns a short readable form such as "C4/RGB565".
func (k Key) String() string {
	if k.IsDepalettize() {
		return fmt.Sprintf("depal-%s/%s", format.BaseType(k.DecodeID()-DepalettizeOffset), k.Palette())
	}
	id := format.ID(k.DecodeID())
	if !id.Paletted() {
		return id.String()
	}
	return fmt.Sprintf("%s/%s", id, k.Palette())
}

// Mode distinguishes full decode kernels from depalettize kernels.
type Mode uint8

// Kernel modes.
const (
	ModeDecode Mode = iota
	ModeDepalettize
)

// String returns the mode name.
func (m Mode) String() string {
	if m == ModeDepalettize {
		return "depalettize"
	}
	return "decode"
}

// Spec is the specialization tuple a kernel is built from.
type Spec struct {
	Key     Key
	Mode    Mode
	Format  format.ID
	Base    format.BaseType
	Palette format.PaletteFormat
	Tiling  format.Tiling
	Texel   format.Texel
}

// Spec resolves the key to a specialization tuple.
func (k Key) Spec() (Spec, error) {
	lut := k.Palette()
	if !lut.Valid() {
		return Spec{}, fmt.Errorf("%w: %#x: palette format %d", ErrInvalidKey, uint64(k), uint16(lut))
	}
	id := k.DecodeID()
	switch {
	case id < format.NumFormats:
		f := format.ID(id)
		if !format.Supported(f) {
			return Spec{}, fmt.Errorf("%w: %#x: %s", ErrInvalidKey, uint64(k), f)
		}
		info := format.Lookup(f)
		return Spec{Key: k, Mode: ModeDecode, Format: f, Palette: lut, Tiling: info.Tiling, Texel: info.Texel}, nil
	case id == DepalettizeOffset+uint32(format.Unorm4), id == DepalettizeOffset+uint32(format.Unorm8):
		return Spec{Key: k, Mode: ModeDepalettize, Base: format.BaseType(id - DepalettizeOffset), Palette: lut}, nil
	}
	return Spec{}, fmt.Errorf("%w: %#x", ErrInvalidKey, uint64(k))
}

// Kernel def names passed to gpucore.Device.CompileKernel.
const (
	DefMode    = "TEXCACHE_MODE"
	DefFormat  = "TEXCACHE_FORMAT"
	DefBase    = "TEXCACHE_BASE"
	DefPalette = "TEXCACHE_PALETTE"
)

// Defs returns the specialization as kernel defs. Backends that cannot run
// the generated source use them to select an equivalent implementation.
func (s Spec) Defs() map[string]string {
	defs := map[string]string{
		DefMode:    s.Mode.String(),
		DefPalette: strconv.Itoa(int(s.Palette)),
	}
	if s.Mode == ModeDepalettize {
		defs[DefBase] = strconv.Itoa(int(s.Base))
	} else {
		defs[DefFormat] = strconv.Itoa(int(s.Format))
	}
	return defs
}

// Label returns a debug label for GPU objects built from the spec.
func (s Spec) Label() string {
	return "texcache-" + s.Key.String()
}

// ParseDefs reverses Spec.Defs.
func ParseDefs(defs map[string]string) (Spec, error) {
	lut, err := strconv.Atoi(defs[DefPalette])
	if err != nil {
		return Spec{}, fmt.Errorf("%w: %s: %w", ErrInvalidDefs, DefPalette, err)
	}
	var key Key
	switch defs[DefMode] {
	case ModeDecode.String():
		f, err := strconv.Atoi(defs[DefFormat])
		if err != nil {
			return Spec{}, fmt.Errorf("%w: %s: %w", ErrInvalidDefs, DefFormat, err)
		}
		key = MakeComboKey(uint32(f), format.PaletteFormat(lut))
	case ModeDepalettize.String():
		b, err := strconv.Atoi(defs[DefBase])
		if err != nil {
			return Spec{}, fmt.Errorf("%w: %s: %w", ErrInvalidDefs, DefBase, err)
		}
		key = DepalettizeKey(format.BaseType(b), format.PaletteFormat(lut))
	default:
		return Spec{}, fmt.Errorf("%w: mode %q", ErrInvalidDefs, defs[DefMode])
	}
	return key.Spec()
}
