// Command texcache decodes console texture dumps and manages the persisted
// decode kernel store.
//
// Usage:
//
//	texcache formats
//	texcache decode -f C4 -W 32 -H 32 --palette pal.bin --out dumps tex.bin
//	texcache kernels warm --store kernels.bin
//	texcache kernels list --store kernels.bin
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/gogpu/texcache"
	"github.com/gogpu/texcache/backend"
	"github.com/gogpu/texcache/backend/wgpu"
	"github.com/gogpu/texcache/config"
	"github.com/gogpu/texcache/gpucore"
)

var (
	Version = "dev"
	Commit  = "none"
)

type globalFlags struct {
	backend string
	config  string
	verbose bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "texcache",
		Short:         "Console texture decoder and kernel store tool",
		Version:       fmt.Sprintf("%s (%s)", Version, Commit),
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if g.verbose {
				level = slog.LevelDebug
			}
			l := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			texcache.SetLogger(l)
			wgpu.SetLogger(l)
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true

	pf := root.PersistentFlags()
	pf.StringVar(&g.backend, "backend", "", "device backend (wgpu, software); empty picks the best available")
	pf.StringVarP(&g.config, "config", "c", "", "YAML cache config file")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newFormatsCmd(), newDecodeCmd(g), newKernelsCmd(g))
	return root
}

// openDevice opens the backend named by --backend.
func (g *globalFlags) openDevice() (gpucore.Device, error) {
	if g.backend == "" {
		return backend.Default()
	}
	return backend.Get(g.backend)
}

// options returns the cache options from --config, if given.
func (g *globalFlags) options() ([]texcache.Option, error) {
	if g.config == "" {
		return nil, nil
	}
	cfg, err := config.Load(g.config)
	if err != nil {
		return nil, err
	}
	return cfg.Options(), nil
}
