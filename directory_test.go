package texcache

import "testing"

func TestDirectory(t *testing.T) {
	d := newDirectory()
	a := &Entry{Address: 0x3000, Size: 0x100, Hash: 2}
	b := &Entry{Address: 0x3000, Size: 0x100, Hash: 1}
	c := &Entry{Address: 0x1000, Size: 0x1000, Hash: 7}
	for _, e := range []*Entry{a, b, c} {
		d.insert(e)
	}
	if d.len() != 3 {
		t.Fatalf("len() = %d, want 3", d.len())
	}
	if d.get(0x3000, 2) != a || d.get(0x3000, 3) != nil || d.get(0x2000, 2) != nil {
		t.Error("get() returned the wrong entry")
	}

	all := d.all()
	if len(all) != 3 || all[0] != c || all[1] != b || all[2] != a {
		t.Errorf("all() not in address then hash order: %v", all)
	}

	// c is found even though its start is below the range.
	got := d.overlapping(0x1F00, 0x1101)
	if len(got) != 3 {
		t.Errorf("overlapping(0x1F00, 0x1101) = %d entries, want 3", len(got))
	}
	if got := d.overlapping(0x2000, 0x1000); len(got) != 0 {
		t.Errorf("overlapping(gap) = %v, want none", got)
	}

	d.rekey(b, 9)
	if d.get(0x3000, 1) != nil || d.get(0x3000, 9) != b || d.len() != 3 {
		t.Error("rekey() did not move the entry")
	}

	if !d.remove(a) || d.remove(a) {
		t.Error("remove() should succeed once")
	}
	d.remove(b)
	if d.bucket(0x3000) != nil {
		t.Error("empty bucket not dropped")
	}
	d.clear()
	if d.len() != 0 || len(d.all()) != 0 {
		t.Error("clear() left entries")
	}
}

func TestDirectoryResize(t *testing.T) {
	d := newDirectory()
	e := &Entry{Address: 0x1000, Size: 0x100, Hash: 1}
	d.insert(e)
	if got := d.overlapping(0x8000, 1); len(got) != 0 {
		t.Fatalf("overlapping(0x8000, 1) = %v before resize", got)
	}
	d.resize(e, 0x10000)
	if got := d.overlapping(0x8000, 1); len(got) != 1 || got[0] != e {
		t.Errorf("overlapping(0x8000, 1) = %v after resize, want the grown entry", got)
	}
}

func TestDirectoryOverlappingOrder(t *testing.T) {
	d := newDirectory()
	var want []*Entry
	for i := range 64 {
		e := &Entry{Address: uint32(i) * 0x100, Size: 0x100, Hash: uint64(i)}
		d.insert(e)
		if i >= 10 && i < 20 {
			want = append(want, e)
		}
	}
	got := d.overlapping(0xA00, 0xA00)
	if len(got) != len(want) {
		t.Fatalf("overlapping(0xA00, 0xA00) = %d entries, want %d", len(got), len(want))
	}
	for i := range got {
		if got[i] != want[i] {
			t.Errorf("overlapping()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if got := d.overlapping(0x3FFF, 0x100); len(got) != 1 || got[0].Address != 0x3F00 {
		t.Errorf("overlapping(last entry) = %v", got)
	}
}
