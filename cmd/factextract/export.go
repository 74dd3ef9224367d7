package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Regenerate the all_chunks, all_facts, and rejected_facts spreadsheet files",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			engine, err := buildEngine()
			if err != nil {
				return fmt.Errorf("creating engine: %w", err)
			}
			defer engine.Close()

			if err := engine.Export(ctx); err != nil {
				return fmt.Errorf("exporting: %w", err)
			}

			fmt.Println("Export complete.")
			return nil
		},
	}
}
