//go:build cgo

package export

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/brunobiangulo/factextract/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "export_test.db")
	s, err := store.Open(path, 4, "fact_embeddings_export_test")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWriteAllProducesThreeFiles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	if err := s.Chunks().Upsert(ctx, store.Chunk{
		DocumentName: "doc1", DocumentHash: "h1", ChunkIndex: 0,
		Content: "some text", Status: store.ChunkStatusProcessed,
		AllFactsExtracted: true, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("Upsert chunk: %v", err)
	}

	if _, _, err := s.Facts().Store(ctx, store.Fact{
		Statement: "ACME shipped 12,345 units.", DocumentName: "doc1",
		VerificationStatus: store.VerificationStatusVerified,
	}); err != nil {
		t.Fatalf("Store fact: %v", err)
	}

	if _, _, err := s.RejectedFacts().Store(ctx, store.Fact{
		Statement: "ACME is the market leader.", DocumentName: "doc1",
		VerificationStatus: store.VerificationStatusRejected,
	}); err != nil {
		t.Fatalf("Store rejected fact: %v", err)
	}

	dir := t.TempDir()
	if err := WriteAll(ctx, dir, s); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}

	chunksFile, err := excelize.OpenFile(filepath.Join(dir, chunksFileName))
	if err != nil {
		t.Fatalf("opening chunks file: %v", err)
	}
	defer chunksFile.Close()
	rows, err := chunksFile.GetRows(sheetName)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header + 1 data row, got %d rows", len(rows))
	}
	if rows[0][0] != "document_name" {
		t.Errorf("header[0] = %q", rows[0][0])
	}

	factsFile, err := excelize.OpenFile(filepath.Join(dir, factsFileName))
	if err != nil {
		t.Fatalf("opening facts file: %v", err)
	}
	defer factsFile.Close()
	factRows, err := factsFile.GetRows(sheetName)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(factRows) != 2 {
		t.Fatalf("expected header + 1 data row, got %d", len(factRows))
	}

	rejectedFile, err := excelize.OpenFile(filepath.Join(dir, rejectedFileName))
	if err != nil {
		t.Fatalf("opening rejected file: %v", err)
	}
	defer rejectedFile.Close()
	rejectedRows, err := rejectedFile.GetRows(sheetName)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rejectedRows) != 2 {
		t.Fatalf("expected header + 1 data row, got %d", len(rejectedRows))
	}
}
