// Package config loads texture cache settings from YAML files.
//
// A config file mirrors the texcache options:
//
//	gpu_decode: true
//	hash_sample_limit: 0
//	kill_threshold: 10
//	max_pool_size: 8
//	kernel_store:
//	  backend: leveldb
//	  path: /var/cache/emu/kernels
//	dump:
//	  dir: /tmp/textures
//	  format: webp
//
// Omitted keys keep the texcache defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gogpu/texcache"
	"github.com/gogpu/texcache/dump"
	"github.com/gogpu/texcache/kernel"
)

// ErrInvalid is returned for configs with out of range or unknown values.
var ErrInvalid = errors.New("config: invalid value")

// KernelStore selects where compiled kernels persist.
type KernelStore struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// Dump configures texture dumping.
type Dump struct {
	Dir    string `yaml:"dir"`
	Format string `yaml:"format"`
}

// Config is the file form of the texcache options. Pointer fields
// distinguish "unset" from a zero value.
type Config struct {
	GPUDecode       *bool       `yaml:"gpu_decode"`
	HashSampleLimit int         `yaml:"hash_sample_limit"`
	KillThreshold   uint64      `yaml:"kill_threshold"`
	MaxPoolSize     int         `yaml:"max_pool_size"`
	KernelStore     KernelStore `yaml:"kernel_store"`
	Dump            Dump        `yaml:"dump"`
}

// Load reads and validates the config at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates a YAML document. Unknown keys are rejected.
// An empty document yields the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and names.
func (c *Config) Validate() error {
	if c.HashSampleLimit < 0 {
		return fmt.Errorf("%w: hash_sample_limit %d", ErrInvalid, c.HashSampleLimit)
	}
	if c.MaxPoolSize < 0 {
		return fmt.Errorf("%w: max_pool_size %d", ErrInvalid, c.MaxPoolSize)
	}
	switch c.KernelStore.Backend {
	case "", kernel.StoreFile, kernel.StoreLevelDB:
	default:
		return fmt.Errorf("%w: kernel_store.backend %q", ErrInvalid, c.KernelStore.Backend)
	}
	if _, err := dump.ParseFormat(c.Dump.Format); err != nil {
		return fmt.Errorf("%w: dump.format %q", ErrInvalid, c.Dump.Format)
	}
	return nil
}

// Options converts the config to texcache options. Memory and stage
// sources are not part of the file and must be added by the caller.
func (c *Config) Options() []texcache.Option {
	opts := []texcache.Option{
		texcache.WithHashSampleLimit(c.HashSampleLimit),
		texcache.WithKillThreshold(c.KillThreshold),
		texcache.WithMaxPoolSize(c.MaxPoolSize),
	}
	if c.GPUDecode != nil {
		opts = append(opts, texcache.WithGPUDecode(*c.GPUDecode))
	}
	if c.KernelStore.Path != "" {
		opts = append(opts, texcache.WithKernelStore(c.KernelStore.Backend, c.KernelStore.Path))
	}
	if c.Dump.Dir != "" {
		opts = append(opts, texcache.WithDumpDir(c.Dump.Dir))
	}
	if f, err := dump.ParseFormat(c.Dump.Format); err == nil {
		opts = append(opts, texcache.WithDumpFormat(f))
	}
	return opts
}
