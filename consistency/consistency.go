// Package consistency guards every multi-store mutation (fact stores plus
// vector index) with pre/post invariant checks and best-effort rollback,
// so a partial failure midway through a dual-store commit can never leave
// the tabular and vector sides disagreeing about which facts are verified.
package consistency

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/brunobiangulo/factextract/store"
)

// Embedder produces a single embedding vector for re-embedding an edited
// statement. It mirrors the Embed half of llm.Provider without requiring
// this package to depend on llm directly.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Layer serializes every cross-store mutation in the process: only one
// multi-store transaction runs at a time, matching the single-writer
// model the underlying tabular stores already assume individually.
type Layer struct {
	mu       sync.Mutex
	facts    *store.FactStore
	rejected *store.FactStore
	vectors  *store.VectorIndex
	embedder Embedder
}

// New returns a Layer coordinating the verified fact store, the rejected
// fact store, and the vector index.
func New(facts, rejected *store.FactStore, vectors *store.VectorIndex, embedder Embedder) *Layer {
	return &Layer{facts: facts, rejected: rejected, vectors: vectors, embedder: embedder}
}

// CommitVerified stores a verified fact and its embedding as one unit: the
// fact row is written first, then the vector entry; on vector failure the
// fact row is removed again so the two sides never disagree.
func (l *Layer) CommitVerified(ctx context.Context, fact store.Fact, embedding []float32, meta store.VectorMetadata) (factID string, duplicate bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	factID, duplicate, err = l.facts.Store(ctx, fact)
	if err != nil {
		return "", false, fmt.Errorf("consistency: storing verified fact: %w", err)
	}
	if duplicate {
		return factID, true, nil
	}

	if err := l.vectors.Add(ctx, factID, embedding, meta); err != nil {
		if _, rerr := l.facts.RemoveByID(ctx, factID); rerr != nil {
			slog.Error("consistency: rollback of fact insert failed after vector add error",
				"fact_id", factID, "vector_err", err, "rollback_err", rerr)
		}
		return "", false, fmt.Errorf("consistency: %w: vector add failed: %v", errViolation, err)
	}

	if err := l.checkVerifiedInvariant(ctx, factID, true); err != nil {
		l.compensateVerified(ctx, factID)
		return "", false, err
	}

	return factID, false, nil
}

// CommitRejected stores a rejected fact. No vector entry is ever created
// for rejected facts, so there is nothing to roll back beyond the store's
// own atomicity.
func (l *Layer) CommitRejected(ctx context.Context, fact store.Fact) (factID string, duplicate bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	factID, duplicate, err = l.rejected.Store(ctx, fact)
	if err != nil {
		return "", false, fmt.Errorf("consistency: storing rejected fact: %w", err)
	}
	return factID, duplicate, nil
}

// Flip moves a fact from verified to rejected, or vice versa, as a single
// remove-then-insert. The moved fact keeps its fact_id.
func (l *Layer) Flip(ctx context.Context, factID string, toRejected bool, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	from, to := l.facts, l.rejected
	if !toRejected {
		from, to = l.rejected, l.facts
	}

	fact, err := from.RemoveByID(ctx, factID)
	if err != nil {
		return fmt.Errorf("consistency: flip: removing source row: %w", err)
	}

	if toRejected {
		if err := l.vectors.Delete(ctx, factID); err != nil {
			slog.Warn("consistency: flip: vector delete failed, continuing", "fact_id", factID, "error", err)
		}
	}

	original := fact
	if reason != "" {
		fact.VerificationReason = reason
	}
	if toRejected {
		fact.VerificationStatus = store.VerificationStatusRejected
	} else {
		fact.VerificationStatus = store.VerificationStatusVerified
	}

	newID, duplicate, err := to.Store(ctx, fact)
	if err != nil {
		return fmt.Errorf("consistency: flip: inserting into destination store: %w", err)
	}
	if !toRejected && !duplicate {
		// undo puts the fact back into the rejected store when the vector
		// side of the flip cannot be completed.
		undo := func() {
			_, rerr := to.RemoveByID(ctx, newID)
			if _, _, serr := from.Store(ctx, original); rerr != nil || serr != nil {
				slog.Error("consistency: flip rollback failed", "fact_id", factID, "remove_err", rerr, "restore_err", serr)
			}
		}
		if l.embedder == nil {
			undo()
			return fmt.Errorf("consistency: %w: flip to verified requires an embedder to re-add the vector entry", errViolation)
		}
		vecs, err := l.embedder.Embed(ctx, []string{fact.Statement})
		if err != nil || len(vecs) == 0 {
			undo()
			return fmt.Errorf("consistency: %w: re-embedding on flip failed: %v", errViolation, err)
		}
		meta := store.VectorMetadata{DocumentName: fact.DocumentName, ChunkIndex: fact.SourceChunkIndex}
		if err := l.vectors.Add(ctx, newID, vecs[0], meta); err != nil {
			undo()
			return fmt.Errorf("consistency: %w: vector add on flip failed: %v", errViolation, err)
		}
	}

	return l.checkVerifiedInvariant(ctx, newID, !toRejected)
}

// EditStatement updates a verified fact's statement and re-embeds it,
// keeping the fact_id stable.
func (l *Layer) EditStatement(ctx context.Context, factID, newStatement string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.embedder == nil {
		return fmt.Errorf("consistency: EditStatement requires an embedder")
	}

	existing, ok, err := l.facts.GetByID(ctx, factID)
	if err != nil {
		return fmt.Errorf("consistency: EditStatement: looking up fact: %w", err)
	}
	if !ok {
		return fmt.Errorf("consistency: EditStatement: %w", errFactNotFound)
	}

	updated := existing
	updated.Statement = newStatement
	if err := l.facts.UpdateByID(ctx, factID, updated); err != nil {
		return fmt.Errorf("consistency: EditStatement: updating row: %w", err)
	}

	vecs, err := l.embedder.Embed(ctx, []string{newStatement})
	if err != nil || len(vecs) == 0 {
		return fmt.Errorf("consistency: %w: re-embedding failed: %v", errViolation, err)
	}
	meta := store.VectorMetadata{DocumentName: existing.DocumentName, ChunkIndex: existing.SourceChunkIndex}
	if err := l.vectors.Update(ctx, factID, vecs[0], meta); err != nil {
		return fmt.Errorf("consistency: %w: vector update failed: %v", errViolation, err)
	}

	return l.checkVerifiedInvariant(ctx, factID, true)
}

// checkVerifiedInvariant checks invariant 3 (VectorIndex ≡ verified
// FactStore) for a single fact_id: a verified fact must have exactly one
// vector entry, and a non-verified one must have none.
func (l *Layer) checkVerifiedInvariant(ctx context.Context, factID string, shouldHaveVector bool) error {
	ids, err := l.vectors.IDs(ctx)
	if err != nil {
		return fmt.Errorf("consistency: %w: reading vector ids: %v", errViolation, err)
	}
	has := false
	for _, id := range ids {
		if id == factID {
			has = true
			break
		}
	}
	if has != shouldHaveVector {
		return fmt.Errorf("consistency: %w: fact_id %s vector presence = %v, want %v", errViolation, factID, has, shouldHaveVector)
	}
	return nil
}

func (l *Layer) compensateVerified(ctx context.Context, factID string) {
	if err := l.vectors.Delete(ctx, factID); err != nil {
		slog.Error("consistency: compensating vector delete failed", "fact_id", factID, "error", err)
	}
	if _, err := l.facts.RemoveByID(ctx, factID); err != nil {
		slog.Error("consistency: compensating fact delete failed", "fact_id", factID, "error", err)
	}
}

// Audit performs a full scan across both fact stores and the vector index,
// checking that no fact_id is in both stores and that the vector index
// holds exactly the verified fact_ids. fact_hash uniqueness is not checked
// here; the schema's UNIQUE constraints enforce it. Intended for
// maintenance and tests rather than the hot commit path, since it reads
// every row.
func (l *Layer) Audit(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	verified, err := l.facts.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("consistency: audit: reading verified facts: %w", err)
	}
	rejected, err := l.rejected.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("consistency: audit: reading rejected facts: %w", err)
	}
	vectorIDs, err := l.vectors.IDs(ctx)
	if err != nil {
		return fmt.Errorf("consistency: audit: reading vector ids: %w", err)
	}

	rejectedByID := make(map[string]bool, len(rejected))
	for _, f := range rejected {
		rejectedByID[f.FactID] = true
	}
	verifiedByID := make(map[string]bool, len(verified))
	for _, f := range verified {
		verifiedByID[f.FactID] = true
		if rejectedByID[f.FactID] {
			return fmt.Errorf("consistency: %w: fact_id %s present in both stores", errViolation, f.FactID)
		}
	}

	vectorSet := make(map[string]bool, len(vectorIDs))
	for _, id := range vectorIDs {
		vectorSet[id] = true
		if !verifiedByID[id] {
			return fmt.Errorf("consistency: %w: orphan vector entry for fact_id %s", errViolation, id)
		}
	}
	for id := range verifiedByID {
		if !vectorSet[id] {
			return fmt.Errorf("consistency: %w: verified fact %s has no vector entry", errViolation, id)
		}
	}

	return nil
}

var (
	errViolation  = fmt.Errorf("consistency invariant violation")
	errFactNotFound = fmt.Errorf("fact not found")
)

// IsViolation reports whether err came from a failed invariant check.
func IsViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), errViolation.Error())
}
