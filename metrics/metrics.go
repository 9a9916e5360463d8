// Package metrics exports texture cache statistics to Prometheus.
//
// The cache is driven from a single rendering goroutine while scrapes
// arrive on HTTP goroutines, so the collector never touches the cache
// directly. The render loop publishes a snapshot once per frame:
//
//	col := metrics.NewCollector("emu")
//	prometheus.MustRegister(col)
//
//	for {
//	    // ... render frame ...
//	    c.Cleanup(frame)
//	    col.Update(c.Stats())
//	}
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gogpu/texcache"
)

const subsystem = "texcache"

type metric struct {
	desc  *prometheus.Desc
	kind  prometheus.ValueType
	value func(s *texcache.Stats) float64
}

// Collector is a prometheus.Collector over the latest published
// texcache.Stats snapshot.
type Collector struct {
	mu      sync.Mutex
	stats   texcache.Stats
	metrics []metric
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector whose metric names are prefixed with
// namespace. An empty namespace yields names like "texcache_hits_total".
func NewCollector(namespace string) *Collector {
	c := &Collector{}
	counter := func(name, help string, v func(*texcache.Stats) uint64) {
		c.add(namespace, name, help, prometheus.CounterValue, func(s *texcache.Stats) float64 {
			return float64(v(s))
		})
	}
	gauge := func(name, help string, v func(*texcache.Stats) int) {
		c.add(namespace, name, help, prometheus.GaugeValue, func(s *texcache.Stats) float64 {
			return float64(v(s))
		})
	}

	gauge("entries", "Cached texture entries.", func(s *texcache.Stats) int { return s.Entries })
	gauge("free_textures", "Released textures awaiting reuse.", func(s *texcache.Stats) int { return s.FreeTextures })
	counter("hits_total", "Loads served from the cache.", func(s *texcache.Stats) uint64 { return s.Hits })
	counter("misses_total", "Loads that decoded a new entry.", func(s *texcache.Stats) uint64 { return s.Misses })
	counter("decodes_total", "Entries decoded from memory.", func(s *texcache.Stats) uint64 { return s.Decodes })
	counter("redecodes_total", "Dirty entries decoded again in place.", func(s *texcache.Stats) uint64 { return s.Redecodes })
	counter("gpu_decodes_total", "Mip levels decoded by a kernel.", func(s *texcache.Stats) uint64 { return s.GPUDecodes })
	counter("cpu_decodes_total", "Mip levels decoded on the CPU.", func(s *texcache.Stats) uint64 { return s.CPUDecodes })
	counter("depalettized_total", "Index textures converted through the palette.", func(s *texcache.Stats) uint64 { return s.Depalettized })
	counter("efb_copies_total", "Render target copies into texture memory.", func(s *texcache.Stats) uint64 { return s.EFBCopies })
	counter("efb_hits_total", "Loads bound directly to a render target copy.", func(s *texcache.Stats) uint64 { return s.EFBHits })
	counter("evictions_total", "Entries destroyed after going unused.", func(s *texcache.Stats) uint64 { return s.Evictions })
	counter("invalidations_total", "Entries destroyed by invalidation.", func(s *texcache.Stats) uint64 { return s.Invalidations })
	counter("lut_uploads_total", "Palette uploads.", func(s *texcache.Stats) uint64 { return s.LutUploads })
	counter("lut_skips_total", "Palette loads skipped as unchanged.", func(s *texcache.Stats) uint64 { return s.LutSkips })

	gauge("kernels", "Compiled decode kernels.", func(s *texcache.Stats) int { return s.Kernel.Kernels })
	counter("kernel_hits_total", "Kernel lookups served from memory.", func(s *texcache.Stats) uint64 { return s.Kernel.Hits })
	counter("kernel_misses_total", "Kernels compiled on demand.", func(s *texcache.Stats) uint64 { return s.Kernel.Misses })
	counter("kernel_failures_total", "Kernel compilations that failed.", func(s *texcache.Stats) uint64 { return s.Kernel.Failures })
	counter("kernel_warmed_total", "Kernels created from the persisted store.", func(s *texcache.Stats) uint64 { return s.Kernel.Warmed })

	gauge("pool_slots", "Live scratch decode slots.", func(s *texcache.Stats) int { return s.Pool.Slots })
	counter("pool_acquires_total", "Scratch slot acquisitions.", func(s *texcache.Stats) uint64 { return s.Pool.Acquires })
	counter("pool_allocations_total", "Scratch slots created.", func(s *texcache.Stats) uint64 { return s.Pool.Allocations })
	counter("pool_wraps_total", "Scratch rings restarted at slot 0.", func(s *texcache.Stats) uint64 { return s.Pool.Wraps })

	c.add(namespace, "hit_ratio", "Hits over all loads.", prometheus.GaugeValue, func(s *texcache.Stats) float64 {
		return s.HitRate()
	})
	return c
}

func (c *Collector) add(namespace, name, help string, kind prometheus.ValueType, v func(*texcache.Stats) float64) {
	c.metrics = append(c.metrics, metric{
		desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, nil, nil),
		kind:  kind,
		value: v,
	})
}

// Update publishes a new snapshot. It is safe to call concurrently with
// scrapes.
func (c *Collector) Update(s texcache.Stats) {
	c.mu.Lock()
	c.stats = s
	c.mu.Unlock()
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.metrics {
		ch <- m.desc
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	s := c.stats
	c.mu.Unlock()
	for _, m := range c.metrics {
		ch <- prometheus.MustNewConstMetric(m.desc, m.kind, m.value(&s))
	}
}
