package kernel

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/gogpu/texcache/format"
	"github.com/gogpu/texcache/gpucore"
)

func TestMakeComboKey(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		want Key
	}{
		{"I8 ignores palette", DecodeKey(format.I8, format.PaletteRGB5A3), 0x1 << 16},
		{"C4 keeps palette", DecodeKey(format.C4, format.PaletteRGB565), 0x8<<16 | 1},
		{"C14X2 RGB5A3", DecodeKey(format.C14X2, format.PaletteRGB5A3), 0xA<<16 | 2},
		{"high bits masked", DecodeKey(format.ID(0x18), format.PaletteRGB565), 0x8<<16 | 1},
		{"depalettize Unorm8", DepalettizeKey(format.Unorm8, format.PaletteIA8), 17 << 16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.key != tt.want {
				t.Errorf("key = %#x, want %#x", uint64(tt.key), uint64(tt.want))
			}
		})
	}
}

func TestKeyAccessors(t *testing.T) {
	k := DepalettizeKey(format.Unorm4, format.PaletteRGB5A3)
	if !k.IsDepalettize() {
		t.Error("IsDepalettize() = false, want true")
	}
	if got := k.DecodeID(); got != DepalettizeOffset {
		t.Errorf("DecodeID() = %d, want %d", got, DepalettizeOffset)
	}
	if got := k.Palette(); got != format.PaletteRGB5A3 {
		t.Errorf("Palette() = %v, want RGB5A3", got)
	}
	if got := DecodeKey(format.C8, format.PaletteRGB565).String(); got != "C8/RGB565" {
		t.Errorf("String() = %q, want %q", got, "C8/RGB565")
	}
	if got := DecodeKey(format.RGBA8, 0).String(); got != "RGBA8" {
		t.Errorf("String() = %q, want %q", got, "RGBA8")
	}
}

func TestKeySpec(t *testing.T) {
	spec, err := DecodeKey(format.IA8, 0).Spec()
	if err != nil {
		t.Fatalf("Spec() error = %v", err)
	}
	if spec.Mode != ModeDecode || spec.Tiling != format.TileHalf || spec.Texel != format.TexelIA8 {
		t.Errorf("Spec() = %+v, want decode/half/IA8", spec)
	}

	invalid := []Key{
		MakeComboKey(0x7, 0),
		MakeComboKey(0xB, 0),
		MakeComboKey(uint32(format.C4), 3),
		MakeComboKey(DepalettizeOffset+2, 0),
		MakeComboKey(0x40, 0),
	}
	for _, k := range invalid {
		if _, err := k.Spec(); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Key(%#x).Spec() error = %v, want ErrInvalidKey", uint64(k), err)
		}
	}
}

func TestDefsRoundTrip(t *testing.T) {
	for _, key := range AllKeys() {
		spec, err := key.Spec()
		if err != nil {
			t.Fatalf("Key(%v).Spec() error = %v", key, err)
		}
		got, err := ParseDefs(spec.Defs())
		if err != nil {
			t.Fatalf("ParseDefs(%v) error = %v", key, err)
		}
		if got != spec {
			t.Errorf("ParseDefs(%v) = %+v, want %+v", key, got, spec)
		}
	}

	if _, err := ParseDefs(map[string]string{DefPalette: "0", DefMode: "blend"}); !errors.Is(err, ErrInvalidDefs) {
		t.Errorf("ParseDefs(bad mode) error = %v, want ErrInvalidDefs", err)
	}
	if _, err := ParseDefs(map[string]string{DefMode: "decode"}); !errors.Is(err, ErrInvalidDefs) {
		t.Errorf("ParseDefs(no palette) error = %v, want ErrInvalidDefs", err)
	}
}

func TestAllKeys(t *testing.T) {
	keys := AllKeys()
	// 9 direct formats, 3 paletted x 3 palettes, 2 bases x 3 palettes.
	if want := 9 + 9 + 6; len(keys) != want {
		t.Fatalf("len(AllKeys()) = %d, want %d", len(keys), want)
	}
	seen := make(map[Key]bool)
	for _, k := range keys {
		if seen[k] {
			t.Errorf("AllKeys() duplicates %v", k)
		}
		seen[k] = true
	}
}

func TestSource(t *testing.T) {
	tests := []struct {
		key      Key
		contains []string
	}{
		{DecodeKey(format.I4, 0), []string{"fn fetch_texel", "blk_off", "(v << 4u) | v"}},
		{DecodeKey(format.C14X2, format.PaletteRGB5A3), []string{"read_two_bytes(tile", "v & 0x3fffu", "read_5a3(read_lut(idx))"}},
		{DecodeKey(format.RGBA8TMEM, 0), []string{"gb_offs"}},
		{DecodeKey(format.CMPR, 0), []string{"col0 <= col1", "(delta >> vec3<u32>(1u)) - (delta >> vec3<u32>(3u))"}},
		{DepalettizeKey(format.Unorm4, format.PaletteIA8), []string{"textureLoad(index_tex", "15.0", "read_ia8(read_lut(idx))"}},
		{DepalettizeKey(format.Unorm8, format.PaletteRGB565), []string{"255.0"}},
	}
	for _, tt := range tests {
		t.Run(tt.key.String(), func(t *testing.T) {
			spec, err := tt.key.Spec()
			if err != nil {
				t.Fatalf("Spec() error = %v", err)
			}
			src, err := Source(spec)
			if err != nil {
				t.Fatalf("Source() error = %v", err)
			}
			if !strings.Contains(src, "@compute @workgroup_size(8, 8, 1)") {
				t.Error("Source() missing compute entry point")
			}
			if strings.Count(src, "fn decode_texel") != 1 {
				t.Errorf("Source() defines decode_texel %d times, want 1", strings.Count(src, "fn decode_texel"))
			}
			for _, s := range tt.contains {
				if !strings.Contains(src, s) {
					t.Errorf("Source() missing %q", s)
				}
			}
		})
	}
}

func TestSourceEveryKey(t *testing.T) {
	for _, key := range AllKeys() {
		spec, _ := key.Spec()
		src, err := Source(spec)
		if err != nil {
			t.Errorf("Source(%v) error = %v", key, err)
			continue
		}
		// Out-of-range palette indices are transparent black, as in
		// format.Palette.Entry.
		if !strings.Contains(src, "if (idx >= params.lut_len) {\n        return vec4<u32>(0u);") {
			t.Errorf("Source(%v) lut_lookup lacks the palette bounds check", key)
		}
	}
}

// fakeCompiler records compile calls and can be told to fail keys by label.
// Compiles of gateLabel signal entered and block until gate is closed.
type fakeCompiler struct {
	mu        sync.Mutex
	compiles  int
	creates   int
	destroyed []gpucore.KernelID
	next      gpucore.KernelID
	failLabel string
	rejectAll bool

	gateLabel string
	gate      chan struct{}
	entered   chan struct{}
}

func (f *fakeCompiler) CompileKernel(source string, defs map[string]string) ([]byte, error) {
	spec, err := ParseDefs(defs)
	if err != nil {
		return nil, err
	}
	if f.gate != nil && spec.Label() == f.gateLabel {
		f.entered <- struct{}{}
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.compiles++
	if spec.Label() == f.failLabel {
		return nil, gpucore.ErrCompile
	}
	return []byte(spec.Label()), nil
}

func (f *fakeCompiler) CreateKernel(blob []byte, label string) (gpucore.KernelID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejectAll {
		return gpucore.InvalidID, gpucore.ErrInvalidResource
	}
	if string(blob) != label {
		return gpucore.InvalidID, gpucore.ErrInvalidResource
	}
	f.creates++
	f.next++
	return f.next, nil
}

func (f *fakeCompiler) DestroyKernel(id gpucore.KernelID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = append(f.destroyed, id)
}

func TestCacheHitMiss(t *testing.T) {
	dev := &fakeCompiler{}
	c, err := NewCache(dev, nil)
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}

	k1 := c.GetOrCompile(format.C4, format.PaletteRGB565)
	if k1 == nil {
		t.Fatal("GetOrCompile() = nil on first use")
	}
	k2 := c.GetOrCompile(format.C4, format.PaletteRGB565)
	if k1 != k2 {
		t.Error("GetOrCompile() returned a different kernel on hit")
	}
	// Non-paletted formats share one kernel regardless of palette.
	c.GetOrCompile(format.I8, format.PaletteIA8)
	c.GetOrCompile(format.I8, format.PaletteRGB5A3)

	if dev.compiles != 2 {
		t.Errorf("compiles = %d, want 2", dev.compiles)
	}
	st := c.Stats()
	if st.Hits != 2 || st.Misses != 2 || st.Kernels != 2 {
		t.Errorf("Stats() = %+v, want 2 hits, 2 misses, 2 kernels", st)
	}
}

func TestCacheConcurrentGet(t *testing.T) {
	slow := DecodeKey(format.C8, format.PaletteRGB565)
	fast := DecodeKey(format.RGBA8, 0)
	spec, _ := slow.Spec()
	dev := &fakeCompiler{gateLabel: spec.Label(), gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	c, _ := NewCache(dev, nil)

	const callers = 8
	got := make([]*Kernel, callers)
	var wg sync.WaitGroup
	for i := range got {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got[i] = c.Get(slow)
		}()
	}
	<-dev.entered

	// Another key compiles while the first is still in the compiler.
	if k := c.Get(fast); k == nil {
		t.Fatal("Get(fast) = nil while another key compiles")
	}
	if _, ok := c.Lookup(slow); ok {
		t.Error("Lookup(slow) found a kernel before its compile finished")
	}

	close(dev.gate)
	wg.Wait()
	for i, k := range got {
		if k == nil || k != got[0] {
			t.Errorf("Get() caller %d = %v, want shared %v", i, k, got[0])
		}
	}
	if dev.compiles != 2 {
		t.Errorf("compiles = %d, want 2", dev.compiles)
	}
	if st := c.Stats(); st.Misses != 2 || st.Hits != callers-1 || st.Kernels != 2 {
		t.Errorf("Stats() = %+v, want 2 misses, %d hits, 2 kernels", st, callers-1)
	}
}

func TestCacheCompileAfterClose(t *testing.T) {
	key := DecodeKey(format.I4, 0)
	spec, _ := key.Spec()
	dev := &fakeCompiler{gateLabel: spec.Label(), gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	c, _ := NewCache(dev, nil)

	done := make(chan *Kernel)
	go func() { done <- c.Get(key) }()
	<-dev.entered
	c.Close()
	close(dev.gate)

	if k := <-done; k != nil {
		t.Errorf("Get() finishing after Close = %v, want nil", k)
	}
	if len(dev.destroyed) != 1 {
		t.Errorf("destroyed = %d kernels, want 1", len(dev.destroyed))
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}

func TestCacheUnsupported(t *testing.T) {
	dev := &fakeCompiler{}
	c, _ := NewCache(dev, nil)
	if k := c.GetOrCompile(format.ID(0xB), 0); k != nil {
		t.Errorf("GetOrCompile(0xB) = %v, want nil", k)
	}
	if dev.compiles != 0 {
		t.Errorf("compiles = %d, want 0", dev.compiles)
	}
}

func TestCacheFailureMemoized(t *testing.T) {
	spec, _ := DecodeKey(format.CMPR, 0).Spec()
	dev := &fakeCompiler{failLabel: spec.Label()}
	c, _ := NewCache(dev, nil)

	for i := 0; i < 3; i++ {
		if k := c.GetOrCompile(format.CMPR, 0); k != nil {
			t.Fatalf("GetOrCompile() = %v, want nil after failure", k)
		}
	}
	if dev.compiles != 1 {
		t.Errorf("compiles = %d, want 1", dev.compiles)
	}
	if k, ok := c.Lookup(spec.Key); !ok || k != nil {
		t.Errorf("Lookup() = %v, %v, want nil, true", k, ok)
	}
	if st := c.Stats(); st.Failures != 1 || st.Kernels != 0 {
		t.Errorf("Stats() = %+v, want 1 failure, 0 kernels", st)
	}
}

func TestCacheCloseDestroys(t *testing.T) {
	dev := &fakeCompiler{}
	c, _ := NewCache(dev, nil)
	c.GetOrCompile(format.RGB565, 0)
	c.GetOrCompileDepalettize(format.Unorm8, format.PaletteRGB5A3)

	if got := len(c.Keys()); got != 2 {
		t.Fatalf("len(Keys()) = %d, want 2", got)
	}
	c.Close()
	if len(dev.destroyed) != 2 {
		t.Errorf("destroyed = %d kernels, want 2", len(dev.destroyed))
	}
	if c.Len() != 0 {
		t.Errorf("Len() after Close = %d, want 0", c.Len())
	}
}

func TestCacheWarmFromStore(t *testing.T) {
	path := t.TempDir() + "/kernels.bin"
	store, err := OpenFileStore(path)
	if err != nil {
		t.Fatalf("OpenFileStore() error = %v", err)
	}

	dev := &fakeCompiler{}
	c, _ := NewCache(dev, store)
	c.GetOrCompile(format.C8, format.PaletteIA8)
	c.GetOrCompile(format.RGBA8, 0)
	c.Close()
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	store, err = OpenFileStore(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer store.Close()

	dev2 := &fakeCompiler{}
	c2, _ := NewCache(dev2, store)
	n, err := c2.Warm()
	if err != nil {
		t.Fatalf("Warm() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Warm() = %d, want 2", n)
	}
	if k := c2.GetOrCompile(format.C8, format.PaletteIA8); k == nil {
		t.Error("GetOrCompile() = nil for warmed key")
	}
	if dev2.compiles != 0 {
		t.Errorf("compiles after warm = %d, want 0", dev2.compiles)
	}
	if st := c2.Stats(); st.Warmed != 2 || st.Hits != 1 {
		t.Errorf("Stats() = %+v, want 2 warmed, 1 hit", st)
	}
}

func TestCacheWarmRejectedBlob(t *testing.T) {
	store, err := OpenFileStore(t.TempDir() + "/kernels.bin")
	if err != nil {
		t.Fatalf("OpenFileStore() error = %v", err)
	}
	defer store.Close()
	if err := store.Append(DecodeKey(format.I4, 0), []byte("stale")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	dev := &fakeCompiler{}
	c, _ := NewCache(dev, store)
	n, err := c.Warm()
	if err != nil || n != 0 {
		t.Fatalf("Warm() = %d, %v, want 0, nil", n, err)
	}
	if k := c.GetOrCompile(format.I4, 0); k == nil {
		t.Error("GetOrCompile() = nil, want recompiled kernel")
	}
	if dev.compiles != 1 {
		t.Errorf("compiles = %d, want 1", dev.compiles)
	}
}

func TestNewCacheNil(t *testing.T) {
	if _, err := NewCache(nil, nil); !errors.Is(err, ErrNilCompiler) {
		t.Errorf("NewCache(nil) error = %v, want ErrNilCompiler", err)
	}
}
