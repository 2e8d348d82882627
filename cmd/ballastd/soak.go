package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"ballast/infra/memory"
	"ballast/service"
)

var soakOpts service.SoakConfig

func init() {
	cmd := newSoakCmd()
	f := cmd.Flags()
	f.IntVar(&soakOpts.Jobs, "jobs", 10000, "Number of jobs to run")
	f.IntVar(&soakOpts.Buffers, "buffers", 256, "Buffers to reserve")
	f.IntVar(&soakOpts.Queue, "queue", 64, "Work queue capacity")
	f.IntVar(&soakOpts.Workers, "workers", 4, "Worker goroutines")
	f.Uint64Var(&soakOpts.Seed, "seed", 1, "Workload seed")
	rootCmd.AddCommand(cmd)
}

func newSoakCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "soak",
		Short: "Run a synthetic workload through a full memory lifecycle",
		Long: `The soak command reserves a buffer pool and a work queue, pushes a
synthetic workload through them and releases everything. Pool high-water
marks are stored, so later runs and serve size their pools from them.

Example:
  ballastd soak --jobs 100000 --buffers 64 --workers 8`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return runSoak(cmd.Context(), cmd.OutOrStdout(), runtimeConfig(log), soakOpts)
		},
	}
}

type soakResult struct {
	Processed int64                       `json:"processed"`
	Exhausted int64                       `json:"exhausted"`
	Checksum  uint32                      `json:"checksum"`
	Pools     map[string]memory.PoolStats `json:"pools"`
}

func runSoak(ctx context.Context, w io.Writer, cfg service.Config, opts service.SoakConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := service.Open(cfg, memory.NewPhaseManager())
	if err != nil {
		return err
	}

	s, err := service.NewSoak(rt, opts)
	if err != nil {
		return errors.Join(err, rt.Close())
	}
	if err := rt.EnterSteady(); err != nil {
		return errors.Join(err, rt.Close())
	}

	rep, runErr := s.Run(ctx)
	res := soakResult{
		Processed: rep.Processed,
		Exhausted: rep.Exhausted,
		Checksum:  rep.Checksum,
		Pools:     make(map[string]memory.PoolStats),
	}
	for _, p := range rt.Pools() {
		res.Pools[p.Name] = p.Stats
	}

	if err := errors.Join(runErr, rt.Deallocate(), s.Release(), rt.Close()); err != nil {
		return err
	}

	if jsonOut {
		return printJSON(w, res)
	}
	fmt.Fprintf(w, "processed %d, exhausted %d, checksum %08x\n", res.Processed, res.Exhausted, res.Checksum)
	for _, p := range slices.Sorted(maps.Keys(res.Pools)) {
		st := res.Pools[p]
		fmt.Fprintf(w, "  %-14s capacity %-6d high-water %d\n", p, st.Capacity, st.HighWater)
	}
	return nil
}
