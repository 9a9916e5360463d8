package texcache

import (
	"github.com/gogpu/texcache/dump"
	"github.com/gogpu/texcache/kernel"
	"github.com/gogpu/texcache/pool"
)

// DefaultKillThreshold is the number of frames an entry may go unused
// before Cleanup destroys it.
const DefaultKillThreshold = 10

// Option configures a Cache during creation.
//
// Example:
//
//	ram := make(texcache.RAM, 24<<20)
//	stages := &texcache.StageTable{}
//	c, err := texcache.New(dev,
//	    texcache.WithMemory(ram),
//	    texcache.WithStages(stages),
//	    texcache.WithKernelStore(kernel.StoreFile, "kernels.bin"),
//	)
type Option func(*options)

// options holds optional configuration for Cache creation.
type options struct {
	memory Memory
	stages StageSource

	storeBackend string
	storePath    string

	killThreshold   uint64
	maxPoolSize     int
	gpuDecode       bool
	hashSampleLimit int

	dumpDir    string
	dumpFormat dump.Format
}

// defaultOptions returns the default cache options.
func defaultOptions() options {
	return options{
		storeBackend:  kernel.StoreFile,
		killThreshold: DefaultKillThreshold,
		maxPoolSize:   pool.MaxPoolSize,
		gpuDecode:     true,
		dumpFormat:    dump.PNG,
	}
}

// WithMemory sets the emulated memory that texture and palette bytes are
// read from.
func WithMemory(m Memory) Option {
	return func(o *options) {
		o.memory = m
	}
}

// WithStages sets the source of per-stage texture descriptions consulted
// by Load.
func WithStages(s StageSource) Option {
	return func(o *options) {
		o.stages = s
	}
}

// WithKernelStore persists compiled kernels under path using the named
// store backend (kernel.StoreFile or kernel.StoreLevelDB). Kernels found in
// the store are created when the cache opens, so later runs skip
// compilation.
//
// Without this option kernels are compiled on every run.
func WithKernelStore(backend, path string) Option {
	return func(o *options) {
		o.storeBackend = backend
		o.storePath = path
	}
}

// WithKillThreshold sets the number of unused frames after which Cleanup
// destroys an entry. Zero keeps the default.
func WithKillThreshold(frames uint64) Option {
	return func(o *options) {
		if frames > 0 {
			o.killThreshold = frames
		}
	}
}

// WithMaxPoolSize sets the number of scratch decode slots kept per texture
// shape. Zero keeps pool.MaxPoolSize.
func WithMaxPoolSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxPoolSize = n
		}
	}
}

// WithGPUDecode enables or disables decode kernels. When disabled, every
// texture is decoded on the CPU and uploaded.
func WithGPUDecode(enabled bool) Option {
	return func(o *options) {
		o.gpuDecode = enabled
	}
}

// WithHashSampleLimit limits content hashing to n evenly spaced 8-byte
// samples of the source bytes. Zero hashes every byte.
//
// Sampling makes large textures cheaper to hash at the risk of missing
// writes that touch only unsampled bytes.
func WithHashSampleLimit(n int) Option {
	return func(o *options) {
		o.hashSampleLimit = max(n, 0)
	}
}

// WithDumpDir makes the cache write every freshly decoded texture to dir.
// It is also the default directory of DumpTexture.
func WithDumpDir(dir string) Option {
	return func(o *options) {
		o.dumpDir = dir
	}
}

// WithDumpFormat selects the image format of dumped textures.
func WithDumpFormat(f dump.Format) Option {
	return func(o *options) {
		o.dumpFormat = f
	}
}
