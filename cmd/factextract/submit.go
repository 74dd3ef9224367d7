package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

var submitSourceURI string

func newSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <path>",
		Short: "Chunk, extract, and verify facts from a document",
		Long:  "Reads a text, PDF, or DOCX file, splits it into chunks, extracts candidate facts with an LLM, and verifies each one against the original text.",
		Args:  cobra.ExactArgs(1),
		RunE:  runSubmit,
	}

	cmd.Flags().StringVar(&submitSourceURI, "source-uri", "", "Source URI to record with the document (defaults to the file path)")

	return cmd
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	path := args[0]

	engine, err := buildEngine()
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}
	defer engine.Close()

	text, detectedName, err := engine.ReadDocument(ctx, path)
	if err != nil {
		return fmt.Errorf("reading document: %w", err)
	}

	sourceURI := submitSourceURI
	if sourceURI == "" {
		sourceURI = path
	}

	documentName := detectedName
	if documentName == "" {
		documentName = filepath.Base(path)
	}

	fmt.Printf("Submitting %s...\n", documentName)

	report, err := engine.Submit(ctx, documentName, text, sourceURI)
	if err != nil {
		return fmt.Errorf("submitting document: %w", err)
	}

	if report.AlreadyComplete {
		fmt.Println("Document already fully processed; nothing to do.")
		return nil
	}

	fmt.Printf("Chunks processed: %d\n", report.ChunksProcessed)
	fmt.Printf("Candidates extracted: %d\n", report.CandidatesExtracted)
	fmt.Printf("Verified: %d\n", report.Verified)
	fmt.Printf("Rejected: %d\n", report.Rejected)
	if len(report.Errors) > 0 {
		fmt.Printf("Errors (%d):\n", len(report.Errors))
		for _, e := range report.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}

	return nil
}
