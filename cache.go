package texcache

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/gogpu/texcache/dump"
	"github.com/gogpu/texcache/format"
	"github.com/gogpu/texcache/gpucore"
	"github.com/gogpu/texcache/kernel"
	"github.com/gogpu/texcache/pool"
)

// Cache maps emulated texture memory to decoded host textures.
//
// Entries are keyed by source address and content hash. A load whose bytes
// hash to a cached entry reuses it; anything else is decoded, on the GPU
// when a kernel is available and on the CPU otherwise. Entries leave the
// cache when their memory is invalidated, when Cleanup finds them unused
// for the kill threshold, or on a full Invalidate.
//
// Cache is not safe for concurrent use. All calls, including memory write
// notifications, must come from the rendering goroutine.
type Cache struct {
	dev   gpucore.Device
	opts  options
	dir   *directory
	dec   *decoder
	store kernel.Persister

	// free holds textures of destroyed entries for reuse by later
	// allocations of the same shape.
	free map[TextureConfig][]freeTexture

	frame             uint64
	pendingInvalidate bool
	lut               lutState
	stats             counters
	closed            bool
}

type freeTexture struct {
	id       gpucore.TextureID
	released uint64
}

// lutState remembers the last palette load so identical loads skip the
// upload.
type lutState struct {
	valid  bool
	addr   uint32
	size   int
	format format.PaletteFormat
	hash   uint64
}

// New creates a texture cache on dev.
//
// When a kernel store is configured it is opened and replayed before New
// returns; a store that cannot be replayed is logged and compilation
// proceeds without it.
func New(dev gpucore.Device, opts ...Option) (*Cache, error) {
	if dev == nil {
		return nil, ErrNilDevice
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	var store kernel.Persister
	if o.storePath != "" {
		s, err := kernel.OpenStore(o.storeBackend, o.storePath)
		if err != nil {
			return nil, err
		}
		store = s
	}

	kernels, err := kernel.NewCache(dev, store)
	if err != nil {
		closeStore(store)
		return nil, err
	}
	if store != nil && o.gpuDecode {
		if _, err := kernels.Warm(); err != nil {
			slogger().Warn("texcache: kernel store replay failed", "err", err)
		}
	}

	slots, err := pool.New(dev, o.maxPoolSize)
	if err != nil {
		closeStore(store)
		return nil, err
	}

	c := &Cache{
		dev:   dev,
		opts:  o,
		dir:   newDirectory(),
		dec:   newDecoder(dev, kernels, slots, o.gpuDecode),
		store: store,
		free:  make(map[TextureConfig][]freeTexture),
	}
	slogger().Info("texcache: cache created", "backend", dev.Name(),
		"gpu_decode", o.gpuDecode, "kill_threshold", o.killThreshold, "pool_size", o.maxPoolSize)
	return c, nil
}

func closeStore(s kernel.Persister) {
	if s == nil {
		return
	}
	if err := s.Close(); err != nil {
		slogger().Warn("texcache: close kernel store", "err", err)
	}
}

// SetFrame sets the current frame number. Loads stamp entries with it.
func (c *Cache) SetFrame(frame uint64) {
	c.frame = frame
}

// Frame returns the current frame number.
func (c *Cache) Frame() uint64 {
	return c.frame
}

// Load returns the entry for the texture bound to stage.
//
// It returns a nil entry and nil error when the stage is unbound or the
// bound format is unsupported; the caller skips the texture. Errors
// reading memory or decoding are returned with a nil entry.
func (c *Cache) Load(stage int) (*Entry, error) {
	if c.closed {
		return nil, ErrClosed
	}
	if c.opts.stages == nil {
		return nil, nil
	}
	src, ok := c.opts.stages.Stage(stage)
	if !ok {
		return nil, nil
	}
	return c.LoadSource(src)
}

// LoadSource is Load for an explicit source description.
func (c *Cache) LoadSource(src TextureSource) (*Entry, error) {
	if c.closed {
		return nil, ErrClosed
	}
	if c.pendingInvalidate {
		c.pendingInvalidate = false
		c.Invalidate()
	}
	if !format.Supported(src.Format) {
		slogger().Debug("texcache: skipping unsupported format", "format", src.Format, "address", src.Address)
		return nil, nil
	}
	if src.Width <= 0 || src.Height <= 0 || src.Width > 0xFFFF || src.Height > 0xFFFF {
		return nil, fmt.Errorf("%w: %dx%d", format.ErrInvalidDimensions, src.Width, src.Height)
	}
	if c.opts.memory == nil {
		return nil, ErrNoMemory
	}

	size := src.Size()
	data, err := c.opts.memory.Read(src.Address, size)
	if err != nil {
		return nil, err
	}
	hash := hashTexture(src, data, c.opts.hashSampleLimit)
	if src.Format.Paletted() {
		hash ^= c.lut.hash
	}

	if e := c.dir.get(src.Address, hash); e != nil {
		if e.dirty {
			ok, err := c.redecode(e, src, data, hash)
			if err != nil {
				return nil, err
			}
			if !ok {
				return c.insertDecoded(src, data, hash, uint32(size))
			}
		}
		e.LastUsedFrame = c.frame
		c.stats.hits++
		return e, nil
	}

	if e, err := c.loadFromCopy(src, data, hash); e != nil || err != nil {
		return e, err
	}
	if e, err := c.loadFromDirty(src, data, hash); e != nil || err != nil {
		return e, err
	}
	return c.insertDecoded(src, data, hash, uint32(size))
}

// loadFromDirty re-decodes a dirty entry at the same address whose bytes
// changed since it was marked. The entry keeps its texture and moves to
// the new hash.
func (c *Cache) loadFromDirty(src TextureSource, data []byte, hash uint64) (*Entry, error) {
	cfg := configFor(src)
	for _, e := range sortedBucket(c.dir.bucket(src.Address)) {
		if !e.dirty || e.IsEFBCopy() || e.Config != cfg {
			continue
		}
		ok, err := c.redecode(e, src, data, hash)
		if err != nil || !ok {
			return nil, err
		}
		e.LastUsedFrame = c.frame
		c.stats.misses++
		return e, nil
	}
	return nil, nil
}

// configFor returns the host texture shape of src.
func configFor(src TextureSource) TextureConfig {
	return TextureConfig{
		Width:  uint32(src.Width),
		Height: uint32(src.Height),
		Levels: uint32(src.MipLevels()),
		Layers: 1,
		Layout: gpucore.TextureFormatRGBA8Unorm,
	}
}

// insertDecoded decodes src into a new entry.
func (c *Cache) insertDecoded(src TextureSource, data []byte, hash uint64, size uint32) (*Entry, error) {
	c.stats.misses++
	cfg := configFor(src)
	tex, err := c.allocate(cfg)
	if err != nil {
		return nil, err
	}
	if err := c.dec.decode(tex, src, data); err != nil {
		c.recycle(cfg, tex)
		return nil, err
	}
	e := &Entry{
		Address:       src.Address,
		Size:          size,
		Hash:          hash,
		Format:        src.Format,
		PaletteFormat: c.dec.palette.Format(),
		Kind:          KindDecoded,
		NativeWidth:   src.Width,
		NativeHeight:  src.Height,
		NativeLevels:  src.MipLevels(),
		LastUsedFrame: c.frame,
		Config:        cfg,
		Texture:       tex,
	}
	c.dir.insert(e)
	c.stats.decodes++
	slogger().Debug("texcache: decoded", "entry", e.String())
	c.autoDump(e)
	return e, nil
}

// redecode refreshes a dirty entry in place. It reports false, after
// destroying the entry, when src no longer fits the entry's texture.
func (c *Cache) redecode(e *Entry, src TextureSource, data []byte, hash uint64) (bool, error) {
	cfg := configFor(src)
	cfg.RenderTarget = e.Config.RenderTarget
	if e.Config != cfg {
		c.destroy(e)
		return false, nil
	}
	if err := c.dec.decode(e.Texture, src, data); err != nil {
		c.destroy(e)
		return false, err
	}
	if e.Hash != hash {
		c.dir.rekey(e, hash)
	}
	c.dir.resize(e, uint32(src.Size()))
	e.Format = src.Format
	e.PaletteFormat = c.dec.palette.Format()
	e.Kind = KindDecoded
	e.dirty = false
	c.stats.decodes++
	c.stats.redecodes++
	return true, nil
}

// loadFromCopy resolves a load against render target copies at the same
// address. A resident copy read with its own format is bound as is, a
// dynamic copy is re-decoded from memory and an index copy read as the
// matching paletted format is converted through the loaded palette.
func (c *Cache) loadFromCopy(src TextureSource, data []byte, hash uint64) (*Entry, error) {
	for _, e := range sortedBucket(c.dir.bucket(src.Address)) {
		if !e.IsEFBCopy() || e.NativeWidth != src.Width || e.NativeHeight != src.Height {
			continue
		}
		switch {
		case e.Format == src.Format && e.Kind == KindEFBCopyResident:
			e.LastUsedFrame = c.frame
			c.stats.hits++
			c.stats.efbHits++
			return e, nil

		case e.Format == src.Format:
			ok, err := c.redecode(e, src, data, hash)
			if err != nil || !ok {
				return nil, err
			}
			e.LastUsedFrame = c.frame
			c.stats.misses++
			return e, nil

		case e.Kind == KindEFBCopyResident && src.MipLevels() == 1:
			if base, ok := indexBase(e.Format, src.Format); ok {
				return c.insertDepalettized(e, src, base, hash)
			}
		}
	}
	return nil, nil
}

// indexBase maps an intensity copy format and the paletted format it is
// read as to the index depth of the copy.
func indexBase(copyFormat, read format.ID) (format.BaseType, bool) {
	switch {
	case copyFormat == format.I4 && read == format.C4:
		return format.Unorm4, true
	case copyFormat == format.I8 && read == format.C8:
		return format.Unorm8, true
	}
	return 0, false
}

func (c *Cache) insertDepalettized(from *Entry, src TextureSource, base format.BaseType, hash uint64) (*Entry, error) {
	c.stats.misses++
	cfg := configFor(src)
	tex, err := c.allocate(cfg)
	if err != nil {
		return nil, err
	}
	if err := c.dec.depalettize(tex, from.Texture, base, src.Width, src.Height); err != nil {
		c.recycle(cfg, tex)
		return nil, err
	}
	e := &Entry{
		Address:       src.Address,
		Size:          uint32(src.Size()),
		Hash:          hash,
		Format:        src.Format,
		PaletteFormat: c.dec.palette.Format(),
		Kind:          KindDecoded,
		NativeWidth:   src.Width,
		NativeHeight:  src.Height,
		NativeLevels:  1,
		LastUsedFrame: c.frame,
		Config:        cfg,
		Texture:       tex,
	}
	c.dir.insert(e)
	slogger().Debug("texcache: depalettized copy", "from", from.String(), "entry", e.String())
	return e, nil
}

// LoadLut reads a palette of size bytes at addr and makes it the palette of
// later paletted loads. Reloading the same bytes from the same range is a
// no-op.
func (c *Cache) LoadLut(f format.PaletteFormat, addr uint32, size int) error {
	if c.closed {
		return ErrClosed
	}
	if !f.Valid() {
		return fmt.Errorf("%w: palette format %d", format.ErrUnsupportedFormat, f)
	}
	if c.opts.memory == nil {
		return ErrNoMemory
	}
	data, err := c.opts.memory.Read(addr, size)
	if err != nil {
		return err
	}
	h := hashPalette(f, data)
	if c.lut.valid && c.lut.addr == addr && c.lut.size == size && c.lut.format == f && c.lut.hash == h {
		c.stats.lutSkips++
		return nil
	}
	if err := c.dec.setPalette(f, data); err != nil {
		c.lut = lutState{}
		return err
	}
	c.lut = lutState{valid: true, addr: addr, size: size, format: f, hash: h}
	c.stats.lutUploads++
	return nil
}

// Find reports whether an entry with the given address and hash is
// cached. It does not update the entry's last used frame.
func (c *Cache) Find(addr uint32, hash uint64) bool {
	return c.dir.get(addr, hash) != nil
}

// Invalidate destroys every entry.
func (c *Cache) Invalidate() {
	for _, e := range c.dir.all() {
		c.recycle(e.Config, e.Texture)
		c.stats.invalidate++
	}
	c.dir.clear()
}

// RequestInvalidate schedules a full Invalidate before the next load.
func (c *Cache) RequestInvalidate() {
	c.pendingInvalidate = true
}

// InvalidateRange destroys every entry whose source range intersects
// [addr, addr+size) and returns the number destroyed.
func (c *Cache) InvalidateRange(addr, size uint32) int {
	hit := c.dir.overlapping(addr, size)
	for _, e := range hit {
		c.destroy(e)
		c.stats.invalidate++
	}
	return len(hit)
}

// MakeRangeDynamic marks every entry intersecting [addr, addr+size) for
// re-decode before its next bind. Their textures are kept. Resident render
// target copies become dynamic. It returns the number of entries marked.
func (c *Cache) MakeRangeDynamic(addr, size uint32) int {
	hit := c.dir.overlapping(addr, size)
	for _, e := range hit {
		if e.Kind == KindEFBCopyResident {
			e.Kind = KindEFBCopyDynamic
		}
		e.dirty = true
	}
	return len(hit)
}

// Cleanup makes frame the current frame and destroys every entry unused
// for at least the kill threshold. Released textures idle for as long are
// destroyed too. It returns the number of entries destroyed.
func (c *Cache) Cleanup(frame uint64) int {
	c.frame = frame
	n := 0
	for _, e := range c.dir.all() {
		if c.stale(e.LastUsedFrame) {
			c.destroy(e)
			c.stats.evictions++
			n++
		}
	}
	for cfg, list := range c.free {
		kept := list[:0]
		for _, t := range list {
			if c.stale(t.released) {
				c.dev.DestroyTexture(t.id)
				continue
			}
			kept = append(kept, t)
		}
		if len(kept) == 0 {
			delete(c.free, cfg)
		} else {
			c.free[cfg] = kept
		}
	}
	if n > 0 {
		slogger().Debug("texcache: cleanup", "frame", frame, "evicted", n, "entries", c.dir.len())
	}
	return n
}

func (c *Cache) stale(last uint64) bool {
	return c.frame >= last && c.frame-last >= c.opts.killThreshold
}

// CopyRenderTargetToTexture copies a region of the caller's render target
// into a cache entry at req.Address. A copy of the same shape and format
// to the same address refreshes the existing entry; other entries
// overlapping the copied memory are destroyed.
func (c *Cache) CopyRenderTargetToTexture(req CopyRequest) (*Entry, error) {
	if c.closed {
		return nil, ErrClosed
	}
	r := req.Rect
	if req.Source == gpucore.InvalidID || r.Empty() || r.Width > 0xFFFF || r.Height > 0xFFFF || !format.Supported(req.Format) {
		return nil, fmt.Errorf("%w: %+v", ErrInvalidCopy, req)
	}
	size := req.size()
	hash := efbHash(req.Format, r.Width, r.Height)
	cfg := TextureConfig{
		Width: r.Width, Height: r.Height, Levels: 1, Layers: 1,
		RenderTarget: true, Layout: gpucore.TextureFormatRGBA8Unorm,
	}

	var e *Entry
	if c.Find(req.Address, hash) {
		e = c.dir.get(req.Address, hash)
		if e.Config != cfg {
			c.destroy(e)
			e = nil
		}
	}
	for _, o := range c.dir.overlapping(req.Address, size) {
		if o != e {
			c.destroy(o)
			c.stats.invalidate++
		}
	}

	if e == nil {
		tex, err := c.allocate(cfg)
		if err != nil {
			return nil, err
		}
		e = &Entry{
			Address:      req.Address,
			Size:         size,
			Hash:         hash,
			Format:       req.Format,
			NativeWidth:  int(r.Width),
			NativeHeight: int(r.Height),
			NativeLevels: 1,
			Config:       cfg,
			Texture:      tex,
		}
		if err := c.dev.CopyRegion(tex, req.Source, 0, r); err != nil {
			c.recycle(cfg, tex)
			return nil, fmt.Errorf("texcache: render target copy: %w", err)
		}
		c.dir.insert(e)
	} else if err := c.dev.CopyRegion(e.Texture, req.Source, 0, r); err != nil {
		c.destroy(e)
		return nil, fmt.Errorf("texcache: render target copy: %w", err)
	}

	c.dir.resize(e, size)
	e.Kind = KindEFBCopyResident
	e.dirty = false
	e.LastUsedFrame = c.frame
	c.stats.efbCopies++
	return e, nil
}

// ClearRenderTargets destroys every render target copy and returns the
// number destroyed.
func (c *Cache) ClearRenderTargets() int {
	n := 0
	for _, e := range c.dir.all() {
		if e.IsEFBCopy() {
			c.destroy(e)
			c.stats.invalidate++
			n++
		}
	}
	return n
}

// DumpTexture writes one level of e to an image file in dir and returns
// its path. An empty dir selects the directory given to WithDumpDir.
func (c *Cache) DumpTexture(e *Entry, dir string, level uint32) (string, error) {
	if c.closed {
		return "", ErrClosed
	}
	if dir == "" {
		dir = c.opts.dumpDir
	}
	if dir == "" {
		return "", ErrNoDumpDir
	}
	w, h := e.Config.Desc("").LevelSize(level)
	pix, err := c.dev.ReadTexture(e.Texture, level, w, h)
	if err != nil {
		return "", fmt.Errorf("texcache: read %s level %d: %w", e, level, err)
	}
	name := fmt.Sprintf("tex_%08x_%016x_%s_%dx%d_l%d%s",
		e.Address, e.Hash, e.Format, w, h, level, c.opts.dumpFormat.Ext())
	path := filepath.Join(dir, name)
	if err := dump.WriteFile(path, dump.FromRGBA(pix, int(w), int(h)), c.opts.dumpFormat); err != nil {
		return "", err
	}
	return path, nil
}

func (c *Cache) autoDump(e *Entry) {
	if c.opts.dumpDir == "" {
		return
	}
	if _, err := c.DumpTexture(e, "", 0); err != nil {
		slogger().Warn("texcache: dump failed", "entry", e.String(), "err", err)
	}
}

// Settings are the runtime-adjustable cache settings.
type Settings struct {
	GPUDecode       bool
	HashSampleLimit int
	KillThreshold   uint64
}

// Settings returns the current settings.
func (c *Cache) Settings() Settings {
	return Settings{
		GPUDecode:       c.dec.gpu,
		HashSampleLimit: c.opts.hashSampleLimit,
		KillThreshold:   c.opts.killThreshold,
	}
}

// OnConfigChanged applies s. Changes to the decode path or hashing
// invalidate the cache, since cached entries were produced under the old
// settings. It reports whether the cache was invalidated.
func (c *Cache) OnConfigChanged(s Settings) bool {
	old := c.Settings()
	if s.KillThreshold > 0 {
		c.opts.killThreshold = s.KillThreshold
	}
	if s.GPUDecode == old.GPUDecode && max(s.HashSampleLimit, 0) == old.HashSampleLimit {
		return false
	}
	c.dec.gpu = s.GPUDecode
	c.opts.hashSampleLimit = max(s.HashSampleLimit, 0)
	c.Invalidate()
	slogger().Info("texcache: settings changed, cache invalidated",
		"gpu_decode", s.GPUDecode, "hash_sample_limit", c.opts.hashSampleLimit)
	return true
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	return c.dir.len()
}

// Entries returns every entry in address order.
func (c *Cache) Entries() []*Entry {
	return c.dir.all()
}

// Kernels returns the kernel cache used for GPU decode.
func (c *Cache) Kernels() *kernel.Cache {
	return c.dec.kernels
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	free := 0
	for _, list := range c.free {
		free += len(list)
	}
	return Stats{
		Entries:       c.dir.len(),
		FreeTextures:  free,
		Hits:          c.stats.hits,
		Misses:        c.stats.misses,
		Decodes:       c.stats.decodes,
		Redecodes:     c.stats.redecodes,
		GPUDecodes:    c.dec.gpuDecodes,
		CPUDecodes:    c.dec.cpuDecodes,
		Depalettized:  c.dec.depalettized,
		EFBCopies:     c.stats.efbCopies,
		EFBHits:       c.stats.efbHits,
		Evictions:     c.stats.evictions,
		Invalidations: c.stats.invalidate,
		LutUploads:    c.stats.lutUploads,
		LutSkips:      c.stats.lutSkips,
		Kernel:        c.dec.kernels.Stats(),
		Pool:          c.dec.slots.Stats(),
	}
}

// Close destroys every entry, released texture, scratch slot and kernel,
// and closes the kernel store. The device itself is left open.
func (c *Cache) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	for _, e := range c.dir.all() {
		c.dev.DestroyTexture(e.Texture)
	}
	c.dir.clear()
	for cfg, list := range c.free {
		for _, t := range list {
			c.dev.DestroyTexture(t.id)
		}
		delete(c.free, cfg)
	}
	c.dec.release()

	var errs []error
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("texcache: close kernel store: %w", err))
		}
	}
	return errors.Join(errs...)
}

// allocate returns a texture of shape cfg, reusing a released one when
// available.
func (c *Cache) allocate(cfg TextureConfig) (gpucore.TextureID, error) {
	if list := c.free[cfg]; len(list) > 0 {
		t := list[len(list)-1]
		c.free[cfg] = list[:len(list)-1]
		return t.id, nil
	}
	desc := cfg.Desc("texcache_entry")
	id, err := c.dev.CreateTexture(&desc)
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("texcache: create %s texture: %w", cfg, err)
	}
	return id, nil
}

// recycle returns a texture to the free list.
func (c *Cache) recycle(cfg TextureConfig, id gpucore.TextureID) {
	c.free[cfg] = append(c.free[cfg], freeTexture{id: id, released: c.frame})
}

// destroy removes e from the directory and recycles its texture.
func (c *Cache) destroy(e *Entry) {
	if c.dir.remove(e) {
		c.recycle(e.Config, e.Texture)
	}
}
