// Package pool recycles scratch GPU textures used as decode targets.
//
// Slots are grouped by texture shape. Each group is a bounded ring: new
// slots are appended while the group is below the cap, after which
// Acquire cycles through the existing slots in assignment order. Reuse is
// round-robin, not least-recently-used: a caller holding more in-flight
// slots than the cap will see its oldest slot handed out again.
package pool

import (
	"errors"
	"fmt"

	"github.com/gogpu/texcache/gpucore"
)

// MaxPoolSize is the default number of slots kept per texture shape.
const MaxPoolSize = 8

// Pool errors.
var (
	// ErrReleased is returned by Acquire after Release.
	ErrReleased = errors.New("pool: released")

	// ErrNilAllocator is returned when creating a pool without an allocator.
	ErrNilAllocator = errors.New("pool: allocator is nil")
)

// Allocator creates and destroys the textures backing pool slots.
// gpucore.Device satisfies it.
type Allocator interface {
	CreateTexture(desc *gpucore.TextureDesc) (gpucore.TextureID, error)
	DestroyTexture(id gpucore.TextureID)
}

// Slot is one pooled texture.
type Slot struct {
	// Index is the slot position within its ring.
	Index int

	Texture gpucore.TextureID
	Desc    gpucore.TextureDesc
}

type ring struct {
	slots []*Slot
	next  int
}

// Stats holds pool counters.
type Stats struct {
	// Slots is the number of live slots across all shapes.
	Slots int
	// Acquires counts Acquire calls that returned a slot.
	Acquires uint64
	// Allocations counts slots created.
	Allocations uint64
	// Wraps counts the times a ring restarted at slot 0.
	Wraps uint64
}

// Pool is a set of bounded round-robin rings keyed by texture shape.
//
// Pool is not safe for concurrent use. It is mutated only by Acquire and
// Release, which are called from the rendering goroutine.
type Pool struct {
	alloc    Allocator
	maxSize  int
	rings    map[gpucore.TextureDesc]*ring
	stats    Stats
	released bool
}

// New creates an empty pool. maxSize <= 0 selects MaxPoolSize.
func New(alloc Allocator, maxSize int) (*Pool, error) {
	if alloc == nil {
		return nil, ErrNilAllocator
	}
	if maxSize <= 0 {
		maxSize = MaxPoolSize
	}
	return &Pool{
		alloc:   alloc,
		maxSize: maxSize,
		rings:   make(map[gpucore.TextureDesc]*ring),
	}, nil
}

// MaxSize returns the per-shape slot cap.
func (p *Pool) MaxSize() int {
	return p.maxSize
}

// Acquire returns the next slot for desc, creating one while the ring is
// below the cap. The returned slot's previous contents may be overwritten
// by a later Acquire once the ring has wrapped.
func (p *Pool) Acquire(desc gpucore.TextureDesc) (*Slot, error) {
	if p.released {
		return nil, ErrReleased
	}

	r, ok := p.rings[desc]
	if !ok {
		r = &ring{}
		p.rings[desc] = r
	}

	if r.next == len(r.slots) {
		if len(r.slots) < p.maxSize {
			id, err := p.alloc.CreateTexture(&desc)
			if err != nil {
				return nil, fmt.Errorf("pool: create slot %d: %w", len(r.slots), err)
			}
			r.slots = append(r.slots, &Slot{Index: len(r.slots), Texture: id, Desc: desc})
			p.stats.Allocations++
			p.stats.Slots++
			slogger().Debug("pool: slot allocated",
				"label", desc.Label, "width", desc.Width, "height", desc.Height, "index", len(r.slots)-1)
		} else {
			r.next %= len(r.slots)
			p.stats.Wraps++
			slogger().Debug("pool: ring wrapped", "label", desc.Label, "size", len(r.slots))
		}
	}

	s := r.slots[r.next]
	r.next++
	p.stats.Acquires++
	return s, nil
}

// Len returns the number of slots allocated for desc.
func (p *Pool) Len(desc gpucore.TextureDesc) int {
	if r, ok := p.rings[desc]; ok {
		return len(r.slots)
	}
	return 0
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	return p.stats
}

// Release destroys every slot. It must only be called at shutdown, with
// no concurrent Acquire.
func (p *Pool) Release() {
	for desc, r := range p.rings {
		for _, s := range r.slots {
			p.alloc.DestroyTexture(s.Texture)
		}
		delete(p.rings, desc)
	}
	p.stats.Slots = 0
	p.released = true
}
