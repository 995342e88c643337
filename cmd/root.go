// Package cmd defines the CLI commands for the docscraper executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docscraper",
		Short: "A documentation-site crawler producing an extraction corpus",
		Long: `docscraper crawls documentation sites breadth-first, extracts the main
content of each page with CSS selectors, categorizes it by keyword, and
splits oversized documents into overlapping chunks sized for embedding
models. Output is a directory of JSON page records and chunk files.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches for docscraper.yaml)")
	cmd.AddCommand(newCrawlCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "docscraper: %v\n", err)
		os.Exit(1)
	}
}
