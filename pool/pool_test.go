package pool

import (
	"errors"
	"testing"

	"github.com/gogpu/texcache/gpucore"
)

// countingAllocator hands out sequential texture IDs.
type countingAllocator struct {
	next      gpucore.TextureID
	destroyed []gpucore.TextureID
	failAfter int
}

func (a *countingAllocator) CreateTexture(*gpucore.TextureDesc) (gpucore.TextureID, error) {
	if a.failAfter > 0 && int(a.next) >= a.failAfter {
		return gpucore.InvalidID, errors.New("out of memory")
	}
	a.next++
	return a.next, nil
}

func (a *countingAllocator) DestroyTexture(id gpucore.TextureID) {
	a.destroyed = append(a.destroyed, id)
}

var scratch = gpucore.TextureDesc{
	Label:  "decode-scratch",
	Width:  1024,
	Height: 1024,
	Format: gpucore.TextureFormatRGBA8Unorm,
	Usage:  gpucore.TextureUsageStorageBinding | gpucore.TextureUsageCopySrc,
}

func TestNewNilAllocator(t *testing.T) {
	if _, err := New(nil, 4); !errors.Is(err, ErrNilAllocator) {
		t.Errorf("New(nil) error = %v, want %v", err, ErrNilAllocator)
	}
}

func TestNewDefaultSize(t *testing.T) {
	p, err := New(&countingAllocator{}, 0)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := p.MaxSize(); got != MaxPoolSize {
		t.Errorf("MaxSize() = %d, want %d", got, MaxPoolSize)
	}
}

func TestAcquireBoundedWrap(t *testing.T) {
	p, err := New(&countingAllocator{}, MaxPoolSize)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	slots := make([]*Slot, 0, MaxPoolSize+1)
	for i := 0; i < MaxPoolSize+1; i++ {
		s, err := p.Acquire(scratch)
		if err != nil {
			t.Fatalf("Acquire() #%d error = %v", i, err)
		}
		slots = append(slots, s)
		if got := p.Len(scratch); got > MaxPoolSize {
			t.Fatalf("Len() = %d after %d acquires, want <= %d", got, i+1, MaxPoolSize)
		}
	}

	if got := p.Len(scratch); got != MaxPoolSize {
		t.Errorf("Len() = %d, want %d", got, MaxPoolSize)
	}
	last := slots[MaxPoolSize]
	if last.Index != 0 {
		t.Errorf("slot %d Index = %d, want 0", MaxPoolSize+1, last.Index)
	}
	if last != slots[0] {
		t.Error("wrapped acquire did not reuse the first slot")
	}
	for i := 0; i < MaxPoolSize; i++ {
		if slots[i].Index != i {
			t.Errorf("slot %d Index = %d, want %d", i, slots[i].Index, i)
		}
	}

	st := p.Stats()
	if st.Allocations != MaxPoolSize || st.Wraps != 1 || st.Acquires != MaxPoolSize+1 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestAcquireRoundRobinOrder(t *testing.T) {
	p, _ := New(&countingAllocator{}, 3)
	var got []int
	for range 7 {
		s, err := p.Acquire(scratch)
		if err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		got = append(got, s.Index)
	}
	want := []int{0, 1, 2, 0, 1, 2, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("acquire order = %v, want %v", got, want)
		}
	}
}

func TestAcquireSeparateShapes(t *testing.T) {
	p, _ := New(&countingAllocator{}, 2)
	small := scratch
	small.Width, small.Height = 64, 64

	a, _ := p.Acquire(scratch)
	b, _ := p.Acquire(small)
	if a.Texture == b.Texture {
		t.Error("different shapes share a texture")
	}
	if p.Len(scratch) != 1 || p.Len(small) != 1 {
		t.Errorf("Len() = %d/%d, want 1/1", p.Len(scratch), p.Len(small))
	}
}

func TestAcquireAllocationFailure(t *testing.T) {
	p, _ := New(&countingAllocator{failAfter: 1}, 4)
	if _, err := p.Acquire(scratch); err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	if _, err := p.Acquire(scratch); err == nil {
		t.Fatal("second Acquire() error = nil, want allocation failure")
	}
	if got := p.Len(scratch); got != 1 {
		t.Errorf("Len() = %d after failed allocation, want 1", got)
	}
}

func TestRelease(t *testing.T) {
	alloc := &countingAllocator{}
	p, _ := New(alloc, 4)
	for range 3 {
		if _, err := p.Acquire(scratch); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	}
	p.Release()

	if len(alloc.destroyed) != 3 {
		t.Errorf("destroyed %d textures, want 3", len(alloc.destroyed))
	}
	if p.Stats().Slots != 0 {
		t.Errorf("Stats().Slots = %d, want 0", p.Stats().Slots)
	}
	if _, err := p.Acquire(scratch); !errors.Is(err, ErrReleased) {
		t.Errorf("Acquire() after Release error = %v, want %v", err, ErrReleased)
	}
}
