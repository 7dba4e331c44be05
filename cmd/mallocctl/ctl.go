package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newCtlCmd())
}

func newCtlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ctl [name]",
		Short: "Read the introspection namespace",
		Long: `The ctl command lists the allocator's introspection nodes, or reads a
single node by name. Statistics nodes serve the snapshot captured at the
last epoch advance; ctl advances the epoch once before reading.

Example:
  mallocctl ctl
  mallocctl ctl stats.allocated`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCtl(args)
		},
	}
	return cmd
}

func runCtl(args []string) error {
	a, err := newAllocator()
	if err != nil {
		return err
	}
	tree := a.Ctl()
	if err := tree.Write("epoch", uint64(1)); err != nil {
		return err
	}

	if len(args) == 1 {
		v, err := tree.Read(args[0])
		if err != nil {
			return fmt.Errorf("read %q: %w", args[0], err)
		}
		if jsonOut {
			return printJSON(map[string]interface{}{args[0]: v})
		}
		printInfo("%s: %v\n", args[0], v)
		return nil
	}

	names := tree.Names()
	if jsonOut {
		out := make(map[string]interface{}, len(names))
		for _, name := range names {
			v, err := tree.Read(name)
			if err != nil {
				continue
			}
			out[name] = v
		}
		return printJSON(out)
	}
	for _, name := range names {
		v, err := tree.Read(name)
		if err != nil {
			printInfo("%-24s <%v>\n", name, err)
			continue
		}
		printInfo("%-24s %v\n", name, v)
	}
	return nil
}
