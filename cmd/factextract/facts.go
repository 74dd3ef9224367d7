package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/factextract/store"
)

func newFactsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "facts",
		Short: "Inspect and edit extracted facts",
	}

	cmd.AddCommand(newFactsListCmd(), newFactsUpdateCmd(), newFactsPurgeCmd())
	return cmd
}

func newFactsListCmd() *cobra.Command {
	var (
		documentName string
		allStatuses  bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List facts, optionally scoped to a document",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			engine, err := buildEngine()
			if err != nil {
				return fmt.Errorf("creating engine: %w", err)
			}
			defer engine.Close()

			facts, err := engine.GetFacts(ctx, documentName, !allStatuses)
			if err != nil {
				return fmt.Errorf("listing facts: %w", err)
			}

			if len(facts) == 0 {
				fmt.Println("No facts found.")
				return nil
			}
			for _, f := range facts {
				fmt.Printf("%s [%s] %s\n", f.FactID, f.VerificationStatus, f.Statement)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&documentName, "document", "", "Restrict to a single document")
	cmd.Flags().BoolVar(&allStatuses, "all", false, "Include rejected facts, not just verified ones")
	return cmd
}

func newFactsUpdateCmd() *cobra.Command {
	var (
		newStatement string
		newStatus    string
		reason       string
	)

	cmd := &cobra.Command{
		Use:   "update <fact_id>",
		Short: "Edit a fact's statement or flip its verification status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			factID := args[0]

			var statementPtr, statusPtr *string
			if newStatement != "" {
				statementPtr = &newStatement
			}
			if newStatus != "" {
				switch newStatus {
				case store.VerificationStatusVerified, store.VerificationStatusRejected:
				default:
					return fmt.Errorf("status must be %q or %q", store.VerificationStatusVerified, store.VerificationStatusRejected)
				}
				statusPtr = &newStatus
			}
			if statementPtr == nil && statusPtr == nil {
				return fmt.Errorf("provide --statement, --status, or both")
			}

			engine, err := buildEngine()
			if err != nil {
				return fmt.Errorf("creating engine: %w", err)
			}
			defer engine.Close()

			result, err := engine.UpdateFact(ctx, factID, statementPtr, statusPtr, reason)
			if err != nil {
				return fmt.Errorf("updating fact: %w", err)
			}

			fmt.Printf("%s -> %s\n", result.FactID, result.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&newStatement, "statement", "", "New statement text")
	cmd.Flags().StringVar(&newStatus, "status", "", "New verification status (verified or rejected)")
	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded alongside a status change")
	return cmd
}

func newFactsPurgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge <document_name>",
		Short: "Remove every chunk and fact belonging to a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			engine, err := buildEngine()
			if err != nil {
				return fmt.Errorf("creating engine: %w", err)
			}
			defer engine.Close()

			removed, err := engine.PurgeDocument(ctx, args[0])
			if err != nil {
				return fmt.Errorf("purging document: %w", err)
			}

			fmt.Printf("Removed %d records for %q\n", removed, args[0])
			return nil
		},
	}
	return cmd
}
