package store

import (
	"context"
	"crypto/md5"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

// FactStore is a tabular view over either the facts or rejected_facts
// table. FactStore and RejectedFactStore in the component design are both
// instances of this type, each with its own mutex, so that cross-store
// moves are orchestrated entirely by the consistency layer rather than by
// any lock shared between the two tables.
type FactStore struct {
	db    *sql.DB
	table string
	mu    sync.Mutex
}

// NormalizeStatement trims and case-folds a statement the way FactHash
// does, so callers can compute a hash for lookups without duplicating the
// normalization rule.
func NormalizeStatement(statement string) string {
	return strings.ToLower(strings.TrimSpace(statement))
}

// FactHash returns the hex-encoded MD5 digest of a normalized statement.
func FactHash(statement string) string {
	sum := md5.Sum([]byte(NormalizeStatement(statement)))
	return hex.EncodeToString(sum[:])
}

// newFactID generates a stable opaque identifier for a newly stored fact.
func newFactID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "fact_" + hex.EncodeToString(buf), nil
}

// Store inserts fact, computing fact_hash from its statement. If a row
// with the same fact_hash already exists in this table, Store is a no-op
// and returns the existing fact_id with duplicate=true.
func (s *FactStore) Store(ctx context.Context, fact Fact) (factID string, duplicate bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := FactHash(fact.Statement)

	existingID, ok, err := s.lookupByHashLocked(ctx, hash)
	if err != nil {
		return "", false, err
	}
	if ok {
		return existingID, true, nil
	}

	if fact.FactID == "" {
		fact.FactID, err = newFactID()
		if err != nil {
			return "", false, err
		}
	}
	fact.FactHash = hash
	if fact.ExtractedAt.IsZero() {
		fact.ExtractedAt = time.Now().UTC()
	}
	if fact.VerifiedAt.IsZero() {
		fact.VerifiedAt = time.Now().UTC()
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (fact_id, statement, document_name, source_chunk_index,
			original_text, verification_status, verification_reason,
			extracted_at, verified_at, fact_hash, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.table)
	_, err = s.db.ExecContext(ctx, query, fact.FactID, fact.Statement, fact.DocumentName,
		fact.SourceChunkIndex, fact.OriginalText, fact.VerificationStatus,
		fact.VerificationReason, fact.ExtractedAt, fact.VerifiedAt, fact.FactHash,
		nullIfEmpty(fact.Metadata))
	if err != nil {
		return "", false, err
	}
	return fact.FactID, false, nil
}

// Remove deletes the row matching (document_name, fact_hash of statement).
func (s *FactStore) Remove(ctx context.Context, documentName, statement string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := fmt.Sprintf("DELETE FROM %s WHERE document_name = ? AND fact_hash = ?", s.table)
	_, err := s.db.ExecContext(ctx, query, documentName, FactHash(statement))
	return err
}

// RemoveByID deletes the row with the given fact_id, returning the row
// that was removed so callers (C9) can restore it on rollback.
func (s *FactStore) RemoveByID(ctx context.Context, factID string) (Fact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fact, ok, err := s.getByIDLocked(ctx, factID)
	if err != nil {
		return Fact{}, err
	}
	if !ok {
		return Fact{}, fmt.Errorf("store: %w", errFactNotFound)
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE fact_id = ?", s.table)
	if _, err := s.db.ExecContext(ctx, query, factID); err != nil {
		return Fact{}, err
	}
	return fact, nil
}

// Update atomically replaces the statement of an existing fact, preserving
// fact_id, and recomputes fact_hash. oldStatement is used only to locate
// the row by document_name; callers typically already hold a fact_id via
// GetAll/Search and should prefer UpdateByID.
func (s *FactStore) Update(ctx context.Context, documentName, oldStatement string, newFact Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldHash := FactHash(oldStatement)
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT fact_id FROM %s WHERE document_name = ? AND fact_hash = ?", s.table),
		documentName, oldHash)
	var factID string
	if err := row.Scan(&factID); err != nil {
		return err
	}
	return s.updateLocked(ctx, factID, newFact)
}

// UpdateByID replaces the statement (and optionally other mutable fields)
// of the fact with the given id, preserving fact_id.
func (s *FactStore) UpdateByID(ctx context.Context, factID string, newFact Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(ctx, factID, newFact)
}

func (s *FactStore) updateLocked(ctx context.Context, factID string, newFact Fact) error {
	newHash := FactHash(newFact.Statement)
	query := fmt.Sprintf(`
		UPDATE %s SET statement = ?, fact_hash = ?, verification_reason = ?, verified_at = ?
		WHERE fact_id = ?
	`, s.table)
	_, err := s.db.ExecContext(ctx, query, newFact.Statement, newHash,
		newFact.VerificationReason, time.Now().UTC(), factID)
	return err
}

// GetAll returns a snapshot of every row in this table.
func (s *FactStore) GetAll(ctx context.Context) ([]Fact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := fmt.Sprintf(`
		SELECT fact_id, statement, document_name, source_chunk_index, original_text,
			verification_status, verification_reason, extracted_at, verified_at, fact_hash,
			COALESCE(metadata, '')
		FROM %s ORDER BY verified_at
	`, s.table)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFacts(rows)
}

// GetByDocument returns every row for a given document_name.
func (s *FactStore) GetByDocument(ctx context.Context, documentName string) ([]Fact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := fmt.Sprintf(`
		SELECT fact_id, statement, document_name, source_chunk_index, original_text,
			verification_status, verification_reason, extracted_at, verified_at, fact_hash,
			COALESCE(metadata, '')
		FROM %s WHERE document_name = ? ORDER BY verified_at
	`, s.table)
	rows, err := s.db.QueryContext(ctx, query, documentName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFacts(rows)
}

// GetByID looks up a single fact by its opaque id.
func (s *FactStore) GetByID(ctx context.Context, factID string) (Fact, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getByIDLocked(ctx, factID)
}

func (s *FactStore) getByIDLocked(ctx context.Context, factID string) (Fact, bool, error) {
	query := fmt.Sprintf(`
		SELECT fact_id, statement, document_name, source_chunk_index, original_text,
			verification_status, verification_reason, extracted_at, verified_at, fact_hash,
			COALESCE(metadata, '')
		FROM %s WHERE fact_id = ?
	`, s.table)
	row := s.db.QueryRowContext(ctx, query, factID)
	f, err := scanFact(row)
	if err == sql.ErrNoRows {
		return Fact{}, false, nil
	}
	if err != nil {
		return Fact{}, false, err
	}
	return f, true, nil
}

// LookupByHash returns the fact_id with the given fact_hash, if present.
func (s *FactStore) LookupByHash(ctx context.Context, factHash string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookupByHashLocked(ctx, factHash)
}

func (s *FactStore) lookupByHashLocked(ctx context.Context, factHash string) (string, bool, error) {
	query := fmt.Sprintf("SELECT fact_id FROM %s WHERE fact_hash = ?", s.table)
	row := s.db.QueryRowContext(ctx, query, factHash)
	var id string
	err := row.Scan(&id)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// Count returns the number of rows in this table.
func (s *FactStore) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table)).Scan(&n)
	return n, err
}

// DeleteByDocument removes every row belonging to documentName. Used by
// purge_document.
func (s *FactStore) DeleteByDocument(ctx context.Context, documentName string) ([]Fact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT fact_id, statement, document_name, source_chunk_index, original_text,
			verification_status, verification_reason, extracted_at, verified_at, fact_hash,
			COALESCE(metadata, '')
		FROM %s WHERE document_name = ?
	`, s.table), documentName)
	if err != nil {
		return nil, err
	}
	removed, err := scanFacts(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE document_name = ?", s.table), documentName); err != nil {
		return nil, err
	}
	return removed, nil
}

func scanFact(row *sql.Row) (Fact, error) {
	var f Fact
	var reason sql.NullString
	if err := row.Scan(&f.FactID, &f.Statement, &f.DocumentName, &f.SourceChunkIndex,
		&f.OriginalText, &f.VerificationStatus, &reason, &f.ExtractedAt, &f.VerifiedAt,
		&f.FactHash, &f.Metadata); err != nil {
		return Fact{}, err
	}
	f.VerificationReason = reason.String
	return f, nil
}

func scanFacts(rows *sql.Rows) ([]Fact, error) {
	var facts []Fact
	for rows.Next() {
		var f Fact
		var reason sql.NullString
		if err := rows.Scan(&f.FactID, &f.Statement, &f.DocumentName, &f.SourceChunkIndex,
			&f.OriginalText, &f.VerificationStatus, &reason, &f.ExtractedAt, &f.VerifiedAt,
			&f.FactHash, &f.Metadata); err != nil {
			return nil, err
		}
		f.VerificationReason = reason.String
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

var errFactNotFound = fmt.Errorf("fact not found")
