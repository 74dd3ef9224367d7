//go:build cgo

package consistency

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/brunobiangulo/factextract/store"
)

type fakeEmbedder struct {
	vecs [][]float32
	err  error
	n    int
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.n++
	if f.err != nil {
		return nil, f.err
	}
	if f.vecs != nil {
		return f.vecs, nil
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3, 0.4}
	}
	return out, nil
}

func (f *fakeEmbedder) calls() int {
	return f.n
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "consistency_test.db")
	s, err := store.Open(path, 4, "fact_embeddings_consistency_test")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCommitVerifiedStoresFactAndVector(t *testing.T) {
	s := newTestStore(t)
	layer := New(s.Facts(), s.RejectedFacts(), s.Vectors(), &fakeEmbedder{})

	fact := store.Fact{
		Statement:          "ACME shipped 12,345 units.",
		DocumentName:       "doc1",
		VerificationStatus: store.VerificationStatusVerified,
		VerificationReason: "directly stated",
	}

	factID, duplicate, err := layer.CommitVerified(context.Background(), fact, []float32{0.1, 0.2, 0.3, 0.4}, store.VectorMetadata{DocumentName: "doc1"})
	if err != nil {
		t.Fatalf("CommitVerified: %v", err)
	}
	if duplicate {
		t.Fatal("expected not duplicate on first commit")
	}
	if factID == "" {
		t.Fatal("expected non-empty fact_id")
	}

	got, ok, err := s.Facts().GetByID(context.Background(), factID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !ok {
		t.Fatal("expected fact row to exist")
	}
	if got.Statement != fact.Statement {
		t.Errorf("Statement = %q, want %q", got.Statement, fact.Statement)
	}

	ids, err := s.Vectors().IDs(context.Background())
	if err != nil {
		t.Fatalf("IDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != factID {
		t.Errorf("vector ids = %v, want [%s]", ids, factID)
	}

	if err := layer.Audit(context.Background()); err != nil {
		t.Errorf("Audit: %v", err)
	}
}

func TestCommitVerifiedDuplicateIsNoop(t *testing.T) {
	s := newTestStore(t)
	layer := New(s.Facts(), s.RejectedFacts(), s.Vectors(), &fakeEmbedder{})

	fact := store.Fact{
		Statement:          "ACME shipped 12,345 units.",
		DocumentName:       "doc1",
		VerificationStatus: store.VerificationStatusVerified,
	}
	embedding := []float32{0.1, 0.2, 0.3, 0.4}

	firstID, _, err := layer.CommitVerified(context.Background(), fact, embedding, store.VectorMetadata{})
	if err != nil {
		t.Fatalf("first CommitVerified: %v", err)
	}

	secondID, duplicate, err := layer.CommitVerified(context.Background(), fact, embedding, store.VectorMetadata{})
	if err != nil {
		t.Fatalf("second CommitVerified: %v", err)
	}
	if !duplicate {
		t.Fatal("expected second commit of the same statement to be a duplicate")
	}
	if secondID != firstID {
		t.Errorf("duplicate fact_id = %s, want %s", secondID, firstID)
	}

	count, err := s.Facts().Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 1 {
		t.Errorf("fact count = %d, want 1", count)
	}
}

// TestCommitVerifiedRollsBackOnVectorFailure forces the vector insert to
// fail (by passing an embedding of the wrong dimension for the store's
// configured vec0 table) and checks that CommitVerified removes the fact
// row it had already written rather than leaving the two stores disagreeing.
func TestCommitVerifiedRollsBackOnVectorFailure(t *testing.T) {
	s := newTestStore(t)
	layer := New(s.Facts(), s.RejectedFacts(), s.Vectors(), &fakeEmbedder{})

	fact := store.Fact{
		Statement:          "ACME shipped 12,345 units.",
		DocumentName:       "doc1",
		VerificationStatus: store.VerificationStatusVerified,
	}

	wrongDimEmbedding := []float32{0.1, 0.2, 0.3}
	factID, _, err := layer.CommitVerified(context.Background(), fact, wrongDimEmbedding, store.VectorMetadata{})
	if err == nil {
		t.Fatal("expected CommitVerified to fail on a mismatched embedding dimension")
	}
	if !IsViolation(err) {
		t.Errorf("expected a violation error, got: %v", err)
	}
	if factID != "" {
		t.Errorf("expected empty fact_id on failure, got %q", factID)
	}

	count, err := s.Facts().Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 0 {
		t.Errorf("fact count = %d after rollback, want 0", count)
	}
}

func TestCommitRejectedStoresWithoutVector(t *testing.T) {
	s := newTestStore(t)
	layer := New(s.Facts(), s.RejectedFacts(), s.Vectors(), &fakeEmbedder{})

	fact := store.Fact{
		Statement:          "ACME is the market leader.",
		DocumentName:       "doc1",
		VerificationStatus: store.VerificationStatusRejected,
		VerificationReason: "not supported by excerpt",
	}

	factID, duplicate, err := layer.CommitRejected(context.Background(), fact)
	if err != nil {
		t.Fatalf("CommitRejected: %v", err)
	}
	if duplicate {
		t.Fatal("expected not duplicate on first commit")
	}

	got, ok, err := s.RejectedFacts().GetByID(context.Background(), factID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !ok {
		t.Fatal("expected rejected fact row to exist")
	}
	if got.VerificationStatus != store.VerificationStatusRejected {
		t.Errorf("VerificationStatus = %q, want rejected", got.VerificationStatus)
	}

	ids, err := s.Vectors().IDs(context.Background())
	if err != nil {
		t.Fatalf("IDs: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("expected no vector entries for a rejected fact, got %v", ids)
	}
}

func TestFlipVerifiedToRejectedRemovesVector(t *testing.T) {
	s := newTestStore(t)
	layer := New(s.Facts(), s.RejectedFacts(), s.Vectors(), &fakeEmbedder{})

	fact := store.Fact{
		Statement:          "ACME shipped 12,345 units.",
		DocumentName:       "doc1",
		VerificationStatus: store.VerificationStatusVerified,
	}
	factID, _, err := layer.CommitVerified(context.Background(), fact, []float32{0.1, 0.2, 0.3, 0.4}, store.VectorMetadata{})
	if err != nil {
		t.Fatalf("CommitVerified: %v", err)
	}

	if err := layer.Flip(context.Background(), factID, true, "reconsidered on review"); err != nil {
		t.Fatalf("Flip to rejected: %v", err)
	}

	if _, ok, err := s.Facts().GetByID(context.Background(), factID); err != nil {
		t.Fatalf("GetByID: %v", err)
	} else if ok {
		t.Error("expected fact row removed from verified store")
	}

	rejected, ok, err := s.RejectedFacts().GetByID(context.Background(), factID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !ok {
		t.Fatal("expected fact row present in rejected store")
	}
	if rejected.VerificationReason != "reconsidered on review" {
		t.Errorf("VerificationReason = %q, want %q", rejected.VerificationReason, "reconsidered on review")
	}

	ids, err := s.Vectors().IDs(context.Background())
	if err != nil {
		t.Fatalf("IDs: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("expected vector entry removed after flip to rejected, got %v", ids)
	}

	if err := layer.Audit(context.Background()); err != nil {
		t.Errorf("Audit: %v", err)
	}
}

func TestFlipRejectedToVerifiedAddsVector(t *testing.T) {
	s := newTestStore(t)
	embedder := &fakeEmbedder{}
	layer := New(s.Facts(), s.RejectedFacts(), s.Vectors(), embedder)

	fact := store.Fact{
		Statement:          "ACME is the market leader.",
		DocumentName:       "doc1",
		VerificationStatus: store.VerificationStatusRejected,
		VerificationReason: "not supported by excerpt",
	}
	factID, _, err := layer.CommitRejected(context.Background(), fact)
	if err != nil {
		t.Fatalf("CommitRejected: %v", err)
	}

	if err := layer.Flip(context.Background(), factID, false, "confirmed by additional source"); err != nil {
		t.Fatalf("Flip to verified: %v", err)
	}

	if _, ok, err := s.RejectedFacts().GetByID(context.Background(), factID); err != nil {
		t.Fatalf("GetByID: %v", err)
	} else if ok {
		t.Error("expected fact row removed from rejected store")
	}

	verified, ok, err := s.Facts().GetByID(context.Background(), factID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !ok {
		t.Fatal("expected fact row present in verified store")
	}
	if verified.VerificationStatus != store.VerificationStatusVerified {
		t.Errorf("VerificationStatus = %q, want verified", verified.VerificationStatus)
	}

	ids, err := s.Vectors().IDs(context.Background())
	if err != nil {
		t.Fatalf("IDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != factID {
		t.Errorf("vector ids = %v, want [%s]", ids, factID)
	}

	if err := layer.Audit(context.Background()); err != nil {
		t.Errorf("Audit: %v", err)
	}
}

func TestFlipToVerifiedWithoutEmbedderFails(t *testing.T) {
	s := newTestStore(t)
	layer := New(s.Facts(), s.RejectedFacts(), s.Vectors(), nil)

	fact := store.Fact{
		Statement:          "ACME is the market leader.",
		DocumentName:       "doc1",
		VerificationStatus: store.VerificationStatusRejected,
	}
	factID, _, err := layer.CommitRejected(context.Background(), fact)
	if err != nil {
		t.Fatalf("CommitRejected: %v", err)
	}

	err = layer.Flip(context.Background(), factID, false, "")
	if err == nil {
		t.Fatal("expected Flip to verified to fail without an embedder")
	}
	if !IsViolation(err) {
		t.Errorf("expected a violation error, got: %v", err)
	}
}

func TestEditStatementReembeds(t *testing.T) {
	s := newTestStore(t)
	embedder := &fakeEmbedder{}
	layer := New(s.Facts(), s.RejectedFacts(), s.Vectors(), embedder)

	fact := store.Fact{
		Statement:          "ACME shipped 12,345 units.",
		DocumentName:       "doc1",
		VerificationStatus: store.VerificationStatusVerified,
	}
	factID, _, err := layer.CommitVerified(context.Background(), fact, []float32{0.1, 0.2, 0.3, 0.4}, store.VectorMetadata{})
	if err != nil {
		t.Fatalf("CommitVerified: %v", err)
	}

	callsBefore := embedder.calls()
	if err := layer.EditStatement(context.Background(), factID, "ACME shipped 54,321 units."); err != nil {
		t.Fatalf("EditStatement: %v", err)
	}
	if embedder.calls() != callsBefore+1 {
		t.Errorf("expected EditStatement to re-embed exactly once, calls = %d", embedder.calls())
	}

	got, ok, err := s.Facts().GetByID(context.Background(), factID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !ok {
		t.Fatal("expected fact row to still exist under the same fact_id")
	}
	if got.Statement != "ACME shipped 54,321 units." {
		t.Errorf("Statement = %q, want updated statement", got.Statement)
	}

	ids, err := s.Vectors().IDs(context.Background())
	if err != nil {
		t.Fatalf("IDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != factID {
		t.Errorf("vector ids = %v, want [%s]", ids, factID)
	}
}

func TestEditStatementWithoutEmbedderFails(t *testing.T) {
	s := newTestStore(t)
	layer := New(s.Facts(), s.RejectedFacts(), s.Vectors(), nil)

	fact := store.Fact{
		Statement:          "ACME shipped 12,345 units.",
		DocumentName:       "doc1",
		VerificationStatus: store.VerificationStatusVerified,
	}
	embedder := &fakeEmbedder{}
	factID, _, err := New(s.Facts(), s.RejectedFacts(), s.Vectors(), embedder).
		CommitVerified(context.Background(), fact, []float32{0.1, 0.2, 0.3, 0.4}, store.VectorMetadata{})
	if err != nil {
		t.Fatalf("CommitVerified: %v", err)
	}

	err = layer.EditStatement(context.Background(), factID, "a new statement")
	if err == nil {
		t.Fatal("expected EditStatement to fail without an embedder")
	}
}

func TestAuditDetectsOrphanVector(t *testing.T) {
	s := newTestStore(t)
	layer := New(s.Facts(), s.RejectedFacts(), s.Vectors(), &fakeEmbedder{})

	if err := s.Vectors().Add(context.Background(), "fact_orphan", []float32{0.1, 0.2, 0.3, 0.4}, store.VectorMetadata{}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	err := layer.Audit(context.Background())
	if err == nil {
		t.Fatal("expected Audit to detect the orphaned vector entry")
	}
	if !IsViolation(err) {
		t.Errorf("expected a violation error, got: %v", err)
	}
}
