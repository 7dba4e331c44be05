package main

import (
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newConfCmd())
}

func newConfCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conf",
		Short: "Show the resolved option set",
		Long: `The conf command boots an allocator with the --conf option string and
prints every resolved option. Malformed entries are diagnosed on stderr and
skipped, exactly as they would be in a real process.

Example:
  mallocctl --conf "narenas:4,junk:true" conf
  mallocctl --conf "lg_chunk:20" conf --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConf()
		},
	}
	return cmd
}

func runConf() error {
	a, err := newAllocator()
	if err != nil {
		return err
	}
	o := a.Options()

	if jsonOut {
		return printJSON(map[string]interface{}{
			"abort":          o.Abort,
			"lg_chunk":       o.LgChunk,
			"chunk_size":     o.ChunkSize(),
			"dss":            o.DSS,
			"narenas":        o.NArenas,
			"narenas_actual": a.NArenas(),
			"lg_dirty_mult":  o.LgDirtyMult,
			"stats_print":    o.StatsPrint,
			"junk":           o.Junk,
			"zero":           o.Zero,
			"quarantine":     o.Quarantine,
			"redzone":        o.Redzone,
			"utrace":         o.Utrace,
			"xmalloc":        o.Xmalloc,
			"tcache":         o.Tcache,
			"lg_tcache_max":  o.LgTcacheMax,
			"prof":           o.Prof,
			"prof_prefix":    o.ProfPrefix,
			"prof_active":    o.ProfActive,
			"lg_prof_sample": o.LgProfSample,
		})
	}

	printInfo("Resolved options:\n")
	printInfo("  abort:          %v\n", o.Abort)
	printInfo("  lg_chunk:       %d (%d bytes)\n", o.LgChunk, o.ChunkSize())
	printInfo("  dss:            %s\n", o.DSS)
	printInfo("  narenas:        %d (actual %d)\n", o.NArenas, a.NArenas())
	printInfo("  lg_dirty_mult:  %d\n", o.LgDirtyMult)
	printInfo("  stats_print:    %v\n", o.StatsPrint)
	printInfo("  junk:           %v\n", o.Junk)
	printInfo("  zero:           %v\n", o.Zero)
	printInfo("  quarantine:     %d\n", o.Quarantine)
	printInfo("  redzone:        %v\n", o.Redzone)
	printInfo("  utrace:         %v\n", o.Utrace)
	printInfo("  xmalloc:        %v\n", o.Xmalloc)
	printInfo("  tcache:         %v (lg_tcache_max %d)\n", o.Tcache, o.LgTcacheMax)
	printInfo("  prof:           %v (prefix %q, active %v, lg_sample %d)\n",
		o.Prof, o.ProfPrefix, o.ProfActive, o.LgProfSample)
	return nil
}
