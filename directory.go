package texcache

import (
	"cmp"
	"slices"

	rbt "github.com/emirpasic/gods/trees/redblacktree"
	"github.com/emirpasic/gods/utils"
)

// bucket holds every entry cached for one source address, keyed by
// content hash.
type bucket map[uint64]*Entry

// directory is the two-level address -> hash -> entry index.
//
// The outer level is an address-ordered tree so range invalidation can
// seek to the first candidate and stop at the end of the range.
type directory struct {
	tree  *rbt.Tree
	count int

	// maxSize is the largest source size ever inserted. Entries starting
	// more than maxSize bytes below a range cannot overlap it.
	maxSize uint32
}

func newDirectory() *directory {
	return &directory{tree: rbt.NewWith(utils.UInt32Comparator)}
}

func (d *directory) bucket(addr uint32) bucket {
	v, ok := d.tree.Get(addr)
	if !ok {
		return nil
	}
	return v.(bucket)
}

func (d *directory) get(addr uint32, hash uint64) *Entry {
	return d.bucket(addr)[hash]
}

// insert adds e, replacing nothing. The caller guarantees the key is free.
func (d *directory) insert(e *Entry) {
	b := d.bucket(e.Address)
	if b == nil {
		b = make(bucket)
		d.tree.Put(e.Address, b)
	}
	b[e.Hash] = e
	d.count++
	d.maxSize = max(d.maxSize, e.Size)
}

// remove unlinks e. It reports whether e was present.
func (d *directory) remove(e *Entry) bool {
	b := d.bucket(e.Address)
	if b[e.Hash] != e {
		return false
	}
	delete(b, e.Hash)
	if len(b) == 0 {
		d.tree.Remove(e.Address)
	}
	d.count--
	return true
}

// resize changes the source size of e. Every size change must go through
// here so maxSize keeps bounding the range walk.
func (d *directory) resize(e *Entry, size uint32) {
	e.Size = size
	d.maxSize = max(d.maxSize, size)
}

// rekey moves e to a new content hash.
func (d *directory) rekey(e *Entry, hash uint64) {
	d.remove(e)
	e.Hash = hash
	d.insert(e)
}

// overlapping returns the entries whose source range intersects
// [addr, addr+size), in address then hash order.
func (d *directory) overlapping(addr, size uint32) []*Entry {
	if size == 0 || d.count == 0 {
		return nil
	}
	lo := uint64(0)
	if uint64(addr) > uint64(d.maxSize) {
		lo = uint64(addr) - uint64(d.maxSize)
	}
	end := uint64(addr) + uint64(size)

	var out []*Entry
	n, _ := d.tree.Ceiling(uint32(lo))
	for ; n != nil && uint64(n.Key.(uint32)) < end; n = successor(n) {
		for _, e := range sortedBucket(n.Value.(bucket)) {
			if e.OverlapsRange(addr, size) {
				out = append(out, e)
			}
		}
	}
	return out
}

// successor returns the in-order next node of n, or nil.
func successor(n *rbt.Node) *rbt.Node {
	if n.Right != nil {
		n = n.Right
		for n.Left != nil {
			n = n.Left
		}
		return n
	}
	for n.Parent != nil && n == n.Parent.Right {
		n = n.Parent
	}
	return n.Parent
}

// all returns every entry in address then hash order.
func (d *directory) all() []*Entry {
	out := make([]*Entry, 0, d.count)
	it := d.tree.Iterator()
	for it.Next() {
		out = append(out, sortedBucket(it.Value().(bucket))...)
	}
	return out
}

func (d *directory) len() int {
	return d.count
}

func (d *directory) clear() {
	d.tree.Clear()
	d.count = 0
	d.maxSize = 0
}

func sortedBucket(b bucket) []*Entry {
	out := make([]*Entry, 0, len(b))
	for _, e := range b {
		out = append(out, e)
	}
	slices.SortFunc(out, func(x, y *Entry) int {
		return cmp.Compare(x.Hash, y.Hash)
	})
	return out
}
