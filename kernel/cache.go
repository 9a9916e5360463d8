package kernel

import (
	"errors"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/gogpu/texcache/format"
	"github.com/gogpu/texcache/gpucore"
)

// ErrNilCompiler is returned when creating a cache without a compiler.
var ErrNilCompiler = errors.New("kernel: compiler is nil")

// Compiler is the part of gpucore.Device the kernel cache needs.
type Compiler interface {
	CompileKernel(source string, defs map[string]string) ([]byte, error)
	CreateKernel(blob []byte, label string) (gpucore.KernelID, error)
	DestroyKernel(id gpucore.KernelID)
}

// Kernel is a compiled decode or depalettize kernel.
type Kernel struct {
	Key  Key
	Spec Spec
	ID   gpucore.KernelID
}

// Stats reports kernel cache counters.
type Stats struct {
	Hits     uint64
	Misses   uint64
	Failures uint64
	Warmed   uint64
	Kernels  int
}

// Cache maps kernel keys to compiled kernels.
//
// Kernels are compiled on first use and live until Close. A key whose
// compilation failed is remembered as a nil kernel so callers fall back to
// CPU decode without retrying the compiler every frame.
//
// Thread Safety:
// Cache is safe for concurrent use. Lookups take a read lock. Compilation
// runs outside the lock, once per key: concurrent callers for a key being
// compiled wait for that result, and other keys compile in parallel.
type Cache struct {
	mu      sync.RWMutex
	dev     Compiler
	store   Persister
	kernels map[Key]*Kernel
	flight  singleflight.Group
	closed  bool

	hits     uint64
	misses   uint64
	failures uint64
	warmed   uint64
}

// NewCache creates an empty kernel cache. store may be nil, in which case
// compiled blobs are not persisted.
func NewCache(dev Compiler, store Persister) (*Cache, error) {
	if dev == nil {
		return nil, ErrNilCompiler
	}
	return &Cache{
		dev:     dev,
		store:   store,
		kernels: make(map[Key]*Kernel),
	}, nil
}

// Warm creates kernels for every blob in the store and returns how many
// were created. Records that no longer resolve or fail to load are skipped
// and will be recompiled on demand.
func (c *Cache) Warm() (int, error) {
	if c.store == nil {
		return 0, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	created := 0
	_, err := c.store.Replay(func(key Key, blob []byte) error {
		if _, ok := c.kernels[key]; ok {
			return nil
		}
		spec, err := key.Spec()
		if err != nil {
			slogger().Warn("kernel: skipping stored kernel", "key", uint64(key), "err", err)
			return nil
		}
		id, err := c.dev.CreateKernel(blob, spec.Label())
		if err != nil {
			slogger().Warn("kernel: stored kernel rejected", "key", key.String(), "err", err)
			return nil
		}
		c.kernels[key] = &Kernel{Key: key, Spec: spec, ID: id}
		created++
		return nil
	})
	atomic.AddUint64(&c.warmed, uint64(created))
	slogger().Info("kernel: warmed kernel cache", "kernels", created)
	return created, err
}

// GetOrCompile returns the decode kernel for src and lut, compiling it on
// first use. It returns nil for unsupported formats and for keys whose
// compilation failed.
func (c *Cache) GetOrCompile(src format.ID, lut format.PaletteFormat) *Kernel {
	if !format.Supported(src) {
		return nil
	}
	return c.Get(DecodeKey(src, lut))
}

// GetOrCompileDepalettize returns the depalettize kernel for base and lut.
func (c *Cache) GetOrCompileDepalettize(base format.BaseType, lut format.PaletteFormat) *Kernel {
	return c.Get(DepalettizeKey(base, lut))
}

// Get returns the kernel for key, compiling it on first use.
//
//  1. Fast path: RLock, check cache, return if found
//  2. Slow path: join or start the key's flight, double-check, compile
//     without holding the lock, then publish under the write lock
func (c *Cache) Get(key Key) *Kernel {
	// Fast path: read lock
	c.mu.RLock()
	if k, ok := c.kernels[key]; ok {
		c.mu.RUnlock()
		atomic.AddUint64(&c.hits, 1)
		return k
	}
	c.mu.RUnlock()

	compiled := false
	v, _, _ := c.flight.Do(strconv.FormatUint(uint64(key), 16), func() (any, error) {
		if k, ok := c.Lookup(key); ok {
			return k, nil
		}
		compiled = true
		atomic.AddUint64(&c.misses, 1)
		k, err := c.compile(key)
		if err != nil {
			atomic.AddUint64(&c.failures, 1)
			slogger().Warn("kernel: compile failed", "key", key.String(), "err", err)
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			if k != nil {
				c.dev.DestroyKernel(k.ID)
			}
			return (*Kernel)(nil), nil
		}
		c.kernels[key] = k
		return k, nil
	})
	if !compiled {
		atomic.AddUint64(&c.hits, 1)
	}
	return v.(*Kernel)
}

// compile builds, persists and creates one kernel. It does not touch c.mu.
func (c *Cache) compile(key Key) (*Kernel, error) {
	spec, err := key.Spec()
	if err != nil {
		return nil, err
	}
	src, err := Source(spec)
	if err != nil {
		return nil, err
	}
	blob, err := c.dev.CompileKernel(src, spec.Defs())
	if err != nil {
		return nil, err
	}
	if c.store != nil {
		if err := c.store.Append(key, blob); err != nil {
			slogger().Warn("kernel: persist failed", "key", key.String(), "err", err)
		}
	}
	id, err := c.dev.CreateKernel(blob, spec.Label())
	if err != nil {
		return nil, err
	}
	slogger().Debug("kernel: compiled", "key", key.String(), "bytes", len(blob))
	return &Kernel{Key: key, Spec: spec, ID: id}, nil
}

// Lookup returns the cached entry for key without compiling. ok is true
// for remembered failures too, with a nil kernel.
func (c *Cache) Lookup(key Key) (k *Kernel, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	k, ok = c.kernels[key]
	return k, ok
}

// Len returns the number of compiled kernels, excluding failures.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lenLocked()
}

func (c *Cache) lenLocked() int {
	n := 0
	for _, k := range c.kernels {
		if k != nil {
			n++
		}
	}
	return n
}

// Keys returns the keys of compiled kernels in ascending order.
func (c *Cache) Keys() []Key {
	c.mu.RLock()
	keys := make([]Key, 0, len(c.kernels))
	for key, k := range c.kernels {
		if k != nil {
			keys = append(keys, key)
		}
	}
	c.mu.RUnlock()
	slices.Sort(keys)
	return keys
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	n := c.lenLocked()
	c.mu.RUnlock()
	return Stats{
		Hits:     atomic.LoadUint64(&c.hits),
		Misses:   atomic.LoadUint64(&c.misses),
		Failures: atomic.LoadUint64(&c.failures),
		Warmed:   atomic.LoadUint64(&c.warmed),
		Kernels:  n,
	}
}

// Close destroys every kernel. The store is left open; its owner closes it.
// Kernels whose compilation finishes after Close are destroyed on arrival.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for key, k := range c.kernels {
		if k != nil {
			c.dev.DestroyKernel(k.ID)
		}
		delete(c.kernels, key)
	}
}

// AllKeys returns the key of every buildable kernel: one per supported
// non-paletted format, one per palette format for each paletted format and
// each depalettize base.
func AllKeys() []Key {
	var keys []Key
	for _, id := range format.All() {
		if !format.Supported(id) {
			continue
		}
		if !id.Paletted() {
			keys = append(keys, DecodeKey(id, 0))
			continue
		}
		for lut := format.PaletteFormat(0); lut < format.NumPaletteFormats; lut++ {
			keys = append(keys, DecodeKey(id, lut))
		}
	}
	for _, base := range []format.BaseType{format.Unorm4, format.Unorm8} {
		for lut := format.PaletteFormat(0); lut < format.NumPaletteFormats; lut++ {
			keys = append(keys, DepalettizeKey(base, lut))
		}
	}
	return keys
}
