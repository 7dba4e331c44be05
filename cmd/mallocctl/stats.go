package main

import (
	"math/rand"
	"os"
	"unsafe"

	"github.com/spf13/cobra"
)

var (
	statsAllocs  int
	statsMaxSize int
	statsSeed    int64
)

func init() {
	rootCmd.AddCommand(newStatsCmd())
}

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Run a synthetic workload and print allocator statistics",
		Long: `The stats command boots an allocator, performs a randomized
allocate/free workload, and prints the merged statistics report. Useful for
eyeballing how an option string changes allocator behavior.

Example:
  mallocctl stats --allocs 10000
  mallocctl --conf "narenas:1,tcache:false" stats`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats()
		},
	}
	cmd.Flags().IntVar(&statsAllocs, "allocs", 1000, "Number of allocations to perform")
	cmd.Flags().IntVar(&statsMaxSize, "max-size", 1<<16, "Largest request size in bytes")
	cmd.Flags().Int64Var(&statsSeed, "seed", 1, "Workload random seed")
	return cmd
}

func runStats() error {
	a, err := newAllocator()
	if err != nil {
		return err
	}
	th := a.NewThread()
	defer th.Release()

	rng := rand.New(rand.NewSource(statsSeed))
	live := make([]unsafe.Pointer, 0, statsAllocs)
	for i := 0; i < statsAllocs; i++ {
		size := uintptr(rng.Intn(statsMaxSize) + 1)
		p, err := th.Malloc(size)
		if err != nil {
			return err
		}
		live = append(live, p)
		// Free roughly half as we go so the arenas see reuse.
		if len(live) > 1 && rng.Intn(2) == 0 {
			j := rng.Intn(len(live))
			if err := th.Free(live[j]); err != nil {
				return err
			}
			live[j] = live[len(live)-1]
			live = live[:len(live)-1]
		}
	}
	printVerbose("workload done: %d allocations, %d still live\n", statsAllocs, len(live))
	for _, p := range live {
		if err := th.Free(p); err != nil {
			return err
		}
	}

	if jsonOut {
		return printJSON(a.Stats())
	}
	return a.StatsPrint(os.Stdout)
}
