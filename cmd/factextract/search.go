package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

const defaultSearchLimit = 10

func newSearchCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Semantically search verified facts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, args[0], limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "k", defaultSearchLimit, "Maximum number of results")

	return cmd
}

func runSearch(cmd *cobra.Command, query string, limit int) error {
	ctx := cmd.Context()

	engine, err := buildEngine()
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}
	defer engine.Close()

	results, err := engine.Search(ctx, query, limit)
	if err != nil {
		return fmt.Errorf("searching: %w", err)
	}

	if len(results) == 0 {
		fmt.Println("No matching facts found.")
		return nil
	}

	for i, r := range results {
		fmt.Printf("%d. (%.3f) %s\n", i+1, r.Similarity, r.Fact.Statement)
		fmt.Printf("   document: %s  chunk: %d\n", r.Fact.DocumentName, r.Fact.SourceChunkIndex)
	}

	return nil
}
