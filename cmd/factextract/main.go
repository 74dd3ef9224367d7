// Package main provides the factextract command-line tool.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/factextract"
)

var version = "0.1.0-dev"

var dataDir string

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	rootCmd := &cobra.Command{
		Use:     "factextract",
		Short:   "Extract and verify standalone facts from long documents",
		Version: version,
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Override the configured data directory")

	rootCmd.AddCommand(
		newSubmitCmd(),
		newSearchCmd(),
		newFactsCmd(),
		newExportCmd(),
		newServeCmd(),
	)

	return rootCmd.ExecuteContext(ctx)
}

// buildEngine opens an Engine on the default configuration, with DataDir
// taken from the --data-dir flag when it is set.
func buildEngine() (*factextract.Engine, error) {
	cfg := factextract.DefaultConfig()
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	return factextract.New(cfg)
}
