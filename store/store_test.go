//go:build cgo

package store

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dbPath, 4, "fact_embeddings_test") // dim=4 for test vectors
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen(t *testing.T) {
	s := newTestStore(t)
	if s.EmbeddingDim() != 4 {
		t.Fatalf("expected embedding dim 4, got %d", s.EmbeddingDim())
	}
	if s.DB() == nil {
		t.Fatal("expected non-nil *sql.DB")
	}
}

func TestOpenCreatesParentDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sub", "dir")
	dbPath := filepath.Join(dir, "test.db")
	s, err := Open(dbPath, 4, "fact_embeddings_test")
	if err != nil {
		t.Fatalf("opening store in nested dir: %v", err)
	}
	s.Close()
}

// ---------------------------------------------------------------------------
// ChunkStore
// ---------------------------------------------------------------------------

func sampleChunk(docHash string, index int) Chunk {
	return Chunk{
		DocumentName: "doc.txt",
		DocumentHash: docHash,
		ChunkIndex:   index,
		Content:      "some chunk text",
		StartOffset:  0,
		Status:       ChunkStatusPending,
	}
}

func TestChunkUpsertAndListByHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	chunks := s.Chunks()

	if err := chunks.Upsert(ctx, sampleChunk("h1", 0)); err != nil {
		t.Fatalf("upserting chunk: %v", err)
	}
	if err := chunks.Upsert(ctx, sampleChunk("h1", 1)); err != nil {
		t.Fatalf("upserting chunk: %v", err)
	}

	got, err := chunks.ListByHash(ctx, "h1")
	if err != nil {
		t.Fatalf("listing by hash: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(got))
	}
	if got[0].Status != ChunkStatusPending {
		t.Fatalf("expected pending status, got %q", got[0].Status)
	}
}

func TestChunkSetStatusTargetedMerge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	chunks := s.Chunks()

	if err := chunks.Upsert(ctx, sampleChunk("h2", 0)); err != nil {
		t.Fatalf("upserting chunk: %v", err)
	}

	contains := true
	if err := chunks.SetStatus(ctx, ChunkKey{"h2", 0}, ChunkStatusProcessed, &contains, nil, nil); err != nil {
		t.Fatalf("setting status: %v", err)
	}

	extracted := true
	if err := chunks.SetStatus(ctx, ChunkKey{"h2", 0}, "", nil, &extracted, nil); err != nil {
		t.Fatalf("setting all_facts_extracted: %v", err)
	}

	got, err := chunks.ListByHash(ctx, "h2")
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(got))
	}
	if got[0].Status != ChunkStatusProcessed {
		t.Errorf("status = %q, want %q (first merge must survive second)", got[0].Status, ChunkStatusProcessed)
	}
	if !got[0].ContainsFacts {
		t.Error("contains_facts should still be true after the second targeted update")
	}
	if !got[0].AllFactsExtracted {
		t.Error("all_facts_extracted should be true after the second update")
	}
}

// ---------------------------------------------------------------------------
// FactStore / RejectedFactStore
// ---------------------------------------------------------------------------

func sampleFact(statement, doc string) Fact {
	return Fact{
		Statement:          statement,
		DocumentName:       doc,
		SourceChunkIndex:   0,
		OriginalText:       "original chunk text containing: " + statement,
		VerificationStatus: VerificationStatusVerified,
		VerificationReason: "matches source context",
	}
}

func TestFactStoreDedupeByHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	facts := s.Facts()

	id1, dup1, err := facts.Store(ctx, sampleFact("ACME shipped 12,345 units in 2023.", "docA"))
	if err != nil {
		t.Fatalf("storing fact: %v", err)
	}
	if dup1 {
		t.Fatal("first store should not be a duplicate")
	}

	id2, dup2, err := facts.Store(ctx, sampleFact("acme shipped 12,345 units in 2023.  ", "docB"))
	if err != nil {
		t.Fatalf("storing fact: %v", err)
	}
	if !dup2 {
		t.Fatal("differently-cased/whitespaced restatement should be detected as a duplicate")
	}
	if id1 != id2 {
		t.Fatalf("duplicate store should return the existing fact_id, got %q want %q", id2, id1)
	}

	n, err := facts.Count(ctx)
	if err != nil {
		t.Fatalf("counting: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly 1 row after a duplicate store, got %d", n)
	}
}

func TestFactStoreUpdatePreservesID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	facts := s.Facts()

	id, _, err := facts.Store(ctx, sampleFact("Revenue grew 10% in Q1.", "docA"))
	if err != nil {
		t.Fatalf("storing fact: %v", err)
	}

	updated := sampleFact("Revenue grew 12% in Q1.", "docA")
	if err := facts.UpdateByID(ctx, id, updated); err != nil {
		t.Fatalf("updating fact: %v", err)
	}

	got, ok, err := facts.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("getting fact: %v", err)
	}
	if !ok {
		t.Fatal("expected fact to still exist")
	}
	if got.Statement != "Revenue grew 12% in Q1." {
		t.Errorf("statement = %q, want updated text", got.Statement)
	}
	if got.FactID != id {
		t.Errorf("fact_id changed across update: got %q want %q", got.FactID, id)
	}
}

func TestFactAndRejectedFactAreIndependentTables(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fact := sampleFact("The sky is green.", "docA")
	id, _, err := s.Facts().Store(ctx, fact)
	if err != nil {
		t.Fatalf("storing verified fact: %v", err)
	}

	removed, err := s.Facts().RemoveByID(ctx, id)
	if err != nil {
		t.Fatalf("removing fact: %v", err)
	}
	removed.VerificationStatus = VerificationStatusRejected
	removed.VerificationReason = "contradicts source"

	rejID, dup, err := s.RejectedFacts().Store(ctx, removed)
	if err != nil {
		t.Fatalf("storing rejected fact: %v", err)
	}
	if dup {
		t.Fatal("moving into an empty rejected store should not be a duplicate")
	}
	if rejID != id {
		t.Errorf("status flip should preserve fact_id, got %q want %q", rejID, id)
	}

	if n, _ := s.Facts().Count(ctx); n != 0 {
		t.Errorf("verified store should be empty after the flip, got %d rows", n)
	}
	if n, _ := s.RejectedFacts().Count(ctx); n != 1 {
		t.Errorf("rejected store should have exactly 1 row, got %d", n)
	}
}

// ---------------------------------------------------------------------------
// VectorIndex
// ---------------------------------------------------------------------------

func TestVectorIndexAddQueryDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	vecs := s.Vectors()

	if err := vecs.Add(ctx, "fact_1", []float32{1, 0, 0, 0}, VectorMetadata{DocumentName: "docA", ChunkIndex: 0}); err != nil {
		t.Fatalf("adding vector: %v", err)
	}
	if err := vecs.Add(ctx, "fact_2", []float32{0, 1, 0, 0}, VectorMetadata{DocumentName: "docA", ChunkIndex: 1}); err != nil {
		t.Fatalf("adding vector: %v", err)
	}

	n, err := vecs.Count(ctx)
	if err != nil {
		t.Fatalf("counting: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 vectors, got %d", n)
	}

	results, err := vecs.Query(ctx, []float32{1, 0, 0, 0}, 1)
	if err != nil {
		t.Fatalf("querying: %v", err)
	}
	if len(results) != 1 || results[0].FactID != "fact_1" {
		t.Fatalf("expected fact_1 as the nearest neighbor, got %+v", results)
	}

	if err := vecs.Delete(ctx, "fact_1"); err != nil {
		t.Fatalf("deleting vector: %v", err)
	}
	if n, _ := vecs.Count(ctx); n != 1 {
		t.Fatalf("expected 1 vector after delete, got %d", n)
	}
}

func TestVectorIndexAddReplacesExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	vecs := s.Vectors()

	if err := vecs.Add(ctx, "fact_1", []float32{1, 0, 0, 0}, VectorMetadata{}); err != nil {
		t.Fatalf("adding vector: %v", err)
	}
	if err := vecs.Add(ctx, "fact_1", []float32{0, 0, 0, 1}, VectorMetadata{}); err != nil {
		t.Fatalf("re-adding vector: %v", err)
	}

	n, err := vecs.Count(ctx)
	if err != nil {
		t.Fatalf("counting: %v", err)
	}
	if n != 1 {
		t.Fatalf("repeated add of the same fact_id should replace, got %d rows", n)
	}
}
