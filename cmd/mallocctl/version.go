package main

import (
	"fmt"

	"github.com/joshuapare/mallockit/malloc"
	"github.com/spf13/cobra"
)

var (
	commit = "none"
	date   = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mallocctl %s\n", malloc.Version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built: %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
