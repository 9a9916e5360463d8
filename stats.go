package texcache

import (
	"github.com/gogpu/texcache/kernel"
	"github.com/gogpu/texcache/pool"
)

// Stats is a snapshot of cache counters.
type Stats struct {
	// Entries is the number of cached entries.
	Entries int
	// FreeTextures is the number of released textures awaiting reuse.
	FreeTextures int

	Hits   uint64
	Misses uint64

	// Decodes counts entries decoded from memory, including re-decodes of
	// dirty entries.
	Decodes   uint64
	Redecodes uint64

	// GPUDecodes and CPUDecodes count decoded mip levels by path.
	GPUDecodes uint64
	CPUDecodes uint64

	// Depalettized counts index textures converted through the palette.
	Depalettized uint64

	EFBCopies uint64
	EFBHits   uint64

	// Evictions counts entries destroyed by Cleanup; Invalidations counts
	// entries destroyed by Invalidate, InvalidateRange and
	// ClearRenderTargets.
	Evictions     uint64
	Invalidations uint64

	LutUploads uint64
	LutSkips   uint64

	Kernel kernel.Stats
	Pool   pool.Stats
}

// HitRate returns hits / (hits + misses), or 0 before the first load.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type counters struct {
	hits, misses          uint64
	decodes, redecodes    uint64
	efbCopies, efbHits    uint64
	evictions, invalidate uint64
	lutUploads, lutSkips  uint64
}
