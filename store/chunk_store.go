package store

import (
	"context"
	"database/sql"
	"sync"
	"time"
)

// ChunkStore persists chunks keyed by (document_hash, chunk_index) and
// tracks their per-chunk extraction progress. A single mutex serializes
// all reads and writes, per the consistency model in the component
// design: two concurrent updates to distinct flags on the same chunk
// must never clobber one another.
type ChunkStore struct {
	db *sql.DB
	mu sync.Mutex
}

// Upsert inserts a chunk or replaces it if one already exists at the same
// (document_hash, chunk_index), preserving created_at across updates.
func (s *ChunkStore) Upsert(ctx context.Context, c Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
	if c.Status == "" {
		c.Status = ChunkStatusPending
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chunks (document_name, document_hash, chunk_index, content,
			start_offset, status, contains_facts, all_facts_extracted,
			error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_hash, chunk_index) DO UPDATE SET
			document_name = excluded.document_name,
			content = excluded.content,
			start_offset = excluded.start_offset,
			status = excluded.status,
			contains_facts = excluded.contains_facts,
			all_facts_extracted = excluded.all_facts_extracted,
			error_message = excluded.error_message,
			updated_at = excluded.updated_at
	`, c.DocumentName, c.DocumentHash, c.ChunkIndex, c.Content,
		c.StartOffset, c.Status, c.ContainsFacts, c.AllFactsExtracted,
		nullIfEmpty(c.ErrorMessage), c.CreatedAt, c.UpdatedAt)
	return err
}

// SetStatus applies a targeted merge of the progress flags for one chunk.
// Nil pointer fields are left unchanged.
func (s *ChunkStore) SetStatus(ctx context.Context, key ChunkKey, status string, containsFacts, allFactsExtracted *bool, errorMessage *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.getLocked(ctx, key)
	if err != nil {
		return err
	}

	if status != "" {
		existing.Status = status
	}
	if containsFacts != nil {
		existing.ContainsFacts = *containsFacts
	}
	if allFactsExtracted != nil {
		existing.AllFactsExtracted = *allFactsExtracted
	}
	if errorMessage != nil {
		existing.ErrorMessage = *errorMessage
	}
	existing.UpdatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx, `
		UPDATE chunks SET status = ?, contains_facts = ?, all_facts_extracted = ?,
			error_message = ?, updated_at = ?
		WHERE document_hash = ? AND chunk_index = ?
	`, existing.Status, existing.ContainsFacts, existing.AllFactsExtracted,
		nullIfEmpty(existing.ErrorMessage), existing.UpdatedAt,
		key.DocumentHash, key.ChunkIndex)
	return err
}

// IsProcessed reports whether the chunk at key has completed extraction.
func (s *ChunkStore) IsProcessed(ctx context.Context, key ChunkKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.getLocked(ctx, key)
	if err != nil {
		return false, err
	}
	return c.AllFactsExtracted, nil
}

// ListByDocument returns all chunks for a document name, ordered by index.
func (s *ChunkStore) ListByDocument(ctx context.Context, documentName string) ([]Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT document_name, document_hash, chunk_index, content, start_offset,
			status, contains_facts, all_facts_extracted, error_message, created_at, updated_at
		FROM chunks WHERE document_name = ? ORDER BY chunk_index
	`, documentName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunks(rows)
}

// ListByHash returns all chunks recorded for a document content hash,
// ordered by index.
func (s *ChunkStore) ListByHash(ctx context.Context, documentHash string) ([]Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT document_name, document_hash, chunk_index, content, start_offset,
			status, contains_facts, all_facts_extracted, error_message, created_at, updated_at
		FROM chunks WHERE document_hash = ? ORDER BY chunk_index
	`, documentHash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunks(rows)
}

// DeleteByDocument removes every chunk belonging to documentName. Used by
// purge_document.
func (s *ChunkStore) DeleteByDocument(ctx context.Context, documentName string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM chunks WHERE document_name = ?", documentName)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *ChunkStore) getLocked(ctx context.Context, key ChunkKey) (Chunk, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT document_name, document_hash, chunk_index, content, start_offset,
			status, contains_facts, all_facts_extracted, error_message, created_at, updated_at
		FROM chunks WHERE document_hash = ? AND chunk_index = ?
	`, key.DocumentHash, key.ChunkIndex)
	return scanChunk(row)
}

func scanChunk(row *sql.Row) (Chunk, error) {
	var c Chunk
	var errMsg sql.NullString
	if err := row.Scan(&c.DocumentName, &c.DocumentHash, &c.ChunkIndex, &c.Content,
		&c.StartOffset, &c.Status, &c.ContainsFacts, &c.AllFactsExtracted,
		&errMsg, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return Chunk{}, err
	}
	c.ErrorMessage = errMsg.String
	return c, nil
}

func scanChunks(rows *sql.Rows) ([]Chunk, error) {
	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var errMsg sql.NullString
		if err := rows.Scan(&c.DocumentName, &c.DocumentHash, &c.ChunkIndex, &c.Content,
			&c.StartOffset, &c.Status, &c.ContainsFacts, &c.AllFactsExtracted,
			&errMsg, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.ErrorMessage = errMsg.String
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
