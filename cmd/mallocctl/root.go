package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/joshuapare/mallockit/malloc"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	confString string
	verbose    bool
	quiet      bool
	jsonOut    bool
)

var rootCmd = &cobra.Command{
	Use:   "mallocctl",
	Short: "Inspect and exercise the mallockit allocator",
	Long: `mallocctl boots an in-process mallockit allocator and exposes its
configuration, size-class geometry, introspection namespace, and statistics.
It is a diagnostic tool: every command works against a fresh allocator built
from the options given with --conf.`,
	Version: malloc.Version,
}

func init() {
	rootCmd.PersistentFlags().
		StringVar(&confString, "conf", "", "Option string applied at bootstrap (key:value,key:value)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().
		BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newAllocator builds and boots an allocator from the --conf flag, ignoring
// the host's real config file and environment so runs are reproducible.
func newAllocator() (*malloc.Allocator, error) {
	a := malloc.New(malloc.BootConfig{
		BuildConf: confString,
		ReadLink:  func(string) (string, error) { return "", os.ErrNotExist },
		LookupEnv: func(string) (string, bool) { return "", false },
	})
	// Force bootstrap so configuration errors surface here, not later.
	p, err := a.Malloc(1)
	if err != nil {
		return nil, fmt.Errorf("allocator bootstrap: %w", err)
	}
	a.Free(p)
	return a, nil
}

// Helper functions for output

// printInfo prints an info message if not in quiet mode
func printInfo(format string, args ...interface{}) {
	if !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printVerbose prints a verbose message if verbose mode is enabled
func printVerbose(format string, args ...interface{}) {
	if verbose && !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printJSON outputs data as JSON
func printJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
