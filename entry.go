package texcache

import (
	"fmt"

	"github.com/gogpu/texcache/format"
	"github.com/gogpu/texcache/gpucore"
)

// Kind tells how an entry's texels were produced.
type Kind uint8

// Entry kinds.
const (
	// KindDecoded entries were decoded from emulated memory.
	KindDecoded Kind = iota

	// KindEFBCopyResident entries hold a render target copy that still
	// matches the memory it was copied to.
	KindEFBCopyResident

	// KindEFBCopyDynamic entries hold a render target copy whose memory
	// was written since. They are re-decoded from memory on the next bind.
	KindEFBCopyDynamic
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindDecoded:
		return "Decoded"
	case KindEFBCopyResident:
		return "EFBCopyResident"
	case KindEFBCopyDynamic:
		return "EFBCopyDynamic"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Entry is one cached host texture.
//
// Entries are owned by the Cache. A pointer returned by Load stays valid
// until the entry is invalidated, evicted by Cleanup or the cache is
// closed; callers must not keep it across those calls.
type Entry struct {
	// Address and Size are the source memory range.
	Address uint32
	Size    uint32

	// Hash is the content hash of the source bytes (and palette, for
	// paletted formats). Together with Address it keys the directory.
	Hash uint64

	Format        format.ID
	PaletteFormat format.PaletteFormat
	Kind          Kind

	// Console-native dimensions before any host padding.
	NativeWidth  int
	NativeHeight int
	NativeLevels int

	// LastUsedFrame is the frame of the most recent bind.
	LastUsedFrame uint64

	// Config is the host texture shape.
	Config TextureConfig

	// Texture is the host texture, owned by the entry.
	Texture gpucore.TextureID

	// dirty entries are re-decoded before their next bind.
	dirty bool
}

// End returns the first address past the source range.
func (e *Entry) End() uint64 {
	return uint64(e.Address) + uint64(e.Size)
}

// OverlapsRange reports whether [Address, Address+Size) intersects
// [addr, addr+size). Empty ranges overlap nothing.
func (e *Entry) OverlapsRange(addr, size uint32) bool {
	if size == 0 || e.Size == 0 {
		return false
	}
	return uint64(e.Address) < uint64(addr)+uint64(size) && uint64(addr) < e.End()
}

// IsEFBCopy reports whether the entry was produced by a render target copy.
func (e *Entry) IsEFBCopy() bool {
	return e.Kind == KindEFBCopyResident || e.Kind == KindEFBCopyDynamic
}

// Dirty reports whether the entry must be re-decoded before its next bind.
func (e *Entry) Dirty() bool {
	return e.dirty
}

// String returns a short description for logs.
func (e *Entry) String() string {
	return fmt.Sprintf("%s@%08x+%x #%016x %dx%d %s", e.Format, e.Address, e.Size, e.Hash,
		e.NativeWidth, e.NativeHeight, e.Kind)
}
