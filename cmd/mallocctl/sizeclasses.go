package main

import (
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newSizeClassesCmd())
}

func newSizeClassesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sizeclasses",
		Short: "Print the size-class geometry",
		Long: `The sizeclasses command prints every small size class plus the large
and huge boundaries for the configured chunk size.

Example:
  mallocctl sizeclasses
  mallocctl --conf "lg_chunk:16" sizeclasses`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSizeClasses()
		},
	}
	return cmd
}

func runSizeClasses() error {
	a, err := newAllocator()
	if err != nil {
		return err
	}
	t := a.SizeClasses()

	if jsonOut {
		small := make([]uintptr, t.NumSmallClasses())
		for i := range small {
			small[i] = t.ClassSize(i)
		}
		return printJSON(map[string]interface{}{
			"name":      t.Name(),
			"quantum":   t.Quantum(),
			"small":     small,
			"large_min": t.LargeMin(),
			"large_max": t.LargeMax(),
		})
	}

	printInfo("Size classes (%s):\n", t.Name())
	printInfo("  quantum: %d\n", t.Quantum())
	printInfo("  small (%d classes):\n", t.NumSmallClasses())
	for i := 0; i < t.NumSmallClasses(); i++ {
		printInfo("    [%2d] %6d\n", i, t.ClassSize(i))
	}
	printInfo("  large: %d .. %d (page multiples)\n", t.LargeMin(), t.LargeMax())
	printInfo("  huge:  > %d (chunk multiples)\n", t.LargeMax())
	return nil
}
