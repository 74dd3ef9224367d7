// Package export writes the three reference columnar files described in
// the persisted-artifacts contract: all_chunks, all_facts, and
// rejected_facts, one row per entity, readable by standard spreadsheet
// tooling.
package export

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/brunobiangulo/factextract/store"
)

const (
	chunksFileName   = "all_chunks.xlsx"
	factsFileName    = "all_facts.xlsx"
	rejectedFileName = "rejected_facts.xlsx"
	sheetName        = "Sheet1"
)

var chunkColumns = []string{
	"document_name", "document_hash", "chunk_index", "content", "start_offset",
	"status", "contains_facts", "all_facts_extracted", "error_message",
	"created_at", "updated_at",
}

var factColumns = []string{
	"fact_id", "statement", "document_name", "source_chunk_index", "original_text",
	"verification_status", "verification_reason", "extracted_at", "verified_at", "fact_hash",
}

// Writer produces the reference spreadsheet files in a directory.
type Writer struct {
	dir string
}

// New returns a Writer that writes files under dir.
func New(dir string) *Writer {
	return &Writer{dir: dir}
}

// WriteChunks rewrites all_chunks.xlsx from scratch with the given rows.
func (w *Writer) WriteChunks(ctx context.Context, chunks []store.Chunk) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := writeHeader(f, chunkColumns); err != nil {
		return err
	}
	for i, c := range chunks {
		row := i + 2
		values := []interface{}{
			c.DocumentName, c.DocumentHash, c.ChunkIndex, c.Content, c.StartOffset,
			c.Status, c.ContainsFacts, c.AllFactsExtracted, c.ErrorMessage,
			c.CreatedAt, c.UpdatedAt,
		}
		if err := writeRow(f, row, values); err != nil {
			return err
		}
	}
	return f.SaveAs(filepath.Join(w.dir, chunksFileName))
}

// WriteFacts rewrites all_facts.xlsx from scratch with the given rows.
func (w *Writer) WriteFacts(ctx context.Context, facts []store.Fact) error {
	return writeFacts(filepath.Join(w.dir, factsFileName), facts)
}

// WriteRejectedFacts rewrites rejected_facts.xlsx from scratch.
func (w *Writer) WriteRejectedFacts(ctx context.Context, facts []store.Fact) error {
	return writeFacts(filepath.Join(w.dir, rejectedFileName), facts)
}

func writeFacts(path string, facts []store.Fact) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := writeHeader(f, factColumns); err != nil {
		return err
	}
	for i, fact := range facts {
		row := i + 2
		values := []interface{}{
			fact.FactID, fact.Statement, fact.DocumentName, fact.SourceChunkIndex, fact.OriginalText,
			fact.VerificationStatus, fact.VerificationReason, fact.ExtractedAt, fact.VerifiedAt, fact.FactHash,
		}
		if err := writeRow(f, row, values); err != nil {
			return err
		}
	}
	return f.SaveAs(path)
}

func writeHeader(f *excelize.File, columns []string) error {
	for i, col := range columns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheetName, cell, col); err != nil {
			return err
		}
	}
	return nil
}

func writeRow(f *excelize.File, row int, values []interface{}) error {
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheetName, cell, v); err != nil {
			return err
		}
	}
	return nil
}

// WriteAll regenerates all three reference files from the given store,
// snapshotting every chunk, verified fact, and rejected fact currently on
// record.
func WriteAll(ctx context.Context, dir string, s *store.Store) error {
	w := New(dir)

	chunks, err := allChunks(ctx, s)
	if err != nil {
		return fmt.Errorf("export: listing chunks: %w", err)
	}
	if err := w.WriteChunks(ctx, chunks); err != nil {
		return fmt.Errorf("export: writing chunks: %w", err)
	}

	facts, err := s.Facts().GetAll(ctx)
	if err != nil {
		return fmt.Errorf("export: listing facts: %w", err)
	}
	if err := w.WriteFacts(ctx, facts); err != nil {
		return fmt.Errorf("export: writing facts: %w", err)
	}

	rejected, err := s.RejectedFacts().GetAll(ctx)
	if err != nil {
		return fmt.Errorf("export: listing rejected facts: %w", err)
	}
	if err := w.WriteRejectedFacts(ctx, rejected); err != nil {
		return fmt.Errorf("export: writing rejected facts: %w", err)
	}

	return nil
}

// allChunks collects every chunk across every distinct document_hash on
// record. The store only exposes per-document/per-hash listing, so this
// reads the distinct hashes from the chunks table to discover the set of
// hashes to union.
func allChunks(ctx context.Context, s *store.Store) ([]store.Chunk, error) {
	var all []store.Chunk
	seen := make(map[string]bool)

	rows, err := s.DB().QueryContext(ctx, "SELECT DISTINCT document_hash FROM chunks")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, h := range hashes {
		if seen[h] {
			continue
		}
		seen[h] = true
		chunks, err := s.Chunks().ListByHash(ctx, h)
		if err != nil {
			return nil, err
		}
		all = append(all, chunks...)
	}
	return all, nil
}
