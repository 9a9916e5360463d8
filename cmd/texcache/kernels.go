package main

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gogpu/texcache/kernel"
)

type storeFlags struct {
	backend string
	path    string
	workers int
}

func (s *storeFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&s.backend, "store-backend", kernel.StoreFile, "kernel store backend (file, leveldb)")
	fl.StringVar(&s.path, "store", "", "kernel store path")
	_ = cmd.MarkFlagRequired("store")
}

func newKernelsCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kernels",
		Short: "Manage the persisted decode kernel store",
	}
	cmd.AddCommand(newKernelsWarmCmd(g), newKernelsListCmd())
	return cmd
}

func newKernelsWarmCmd(g *globalFlags) *cobra.Command {
	s := &storeFlags{}
	cmd := &cobra.Command{
		Use:   "warm",
		Short: "Compile every decode kernel into the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWarm(cmd, g, s)
		},
	}
	s.register(cmd)
	cmd.Flags().IntVarP(&s.workers, "jobs", "j", runtime.NumCPU(), "concurrent compilations")
	return cmd
}

func runWarm(cmd *cobra.Command, g *globalFlags, s *storeFlags) error {
	store, err := kernel.OpenStore(s.backend, s.path)
	if err != nil {
		return err
	}
	defer store.Close()

	dev, err := g.openDevice()
	if err != nil {
		return err
	}
	defer dev.Close()

	kc, err := kernel.NewCache(dev, store)
	if err != nil {
		return err
	}
	defer kc.Close()

	existing, err := kc.Warm()
	if err != nil {
		return err
	}

	keys := make(chan kernel.Key)
	var failed atomic.Int64
	var wg sync.WaitGroup
	for range max(s.workers, 1) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for key := range keys {
				if kc.Get(key) == nil {
					failed.Add(1)
					fmt.Fprintf(cmd.ErrOrStderr(), "failed: %s\n", key)
				}
			}
		}()
	}
	for _, key := range kernel.AllKeys() {
		keys <- key
	}
	close(keys)
	wg.Wait()

	st := kc.Stats()
	fmt.Fprintf(cmd.OutOrStdout(), "%d kernels: %d from store, %d compiled, %d failed\n",
		st.Kernels, existing, st.Misses-st.Failures, failed.Load())
	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d kernels failed to compile", n)
	}
	return nil
}

func newKernelsListCmd() *cobra.Command {
	s := &storeFlags{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the kernels in the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := kernel.OpenStoreReadOnly(s.backend, s.path)
			if err != nil {
				return err
			}
			defer store.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tKERNEL\tBYTES")
			n, err := store.Replay(func(key kernel.Key, blob []byte) error {
				fmt.Fprintf(w, "%#010x\t%s\t%d\n", uint64(key), key, len(blob))
				return nil
			})
			if err != nil {
				return err
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d records\n", n)
			return nil
		},
	}
	s.register(cmd)
	return cmd
}
