package store

import (
	"context"
	"database/sql"
	"sync"
	"time"
)

// DocumentStore records one row per distinct document_hash ever
// submitted, carrying the caller-supplied source_uri and detected
// language alongside the content hash used for dedup.
type DocumentStore struct {
	db *sql.DB
	mu sync.Mutex
}

// Upsert records a document's metadata, keyed by document_hash. Repeated
// submissions of the same content update source_uri/language in place.
func (s *DocumentStore) Upsert(ctx context.Context, doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (document_name, document_hash, source_uri, language, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(document_hash) DO UPDATE SET
			document_name = excluded.document_name,
			source_uri = excluded.source_uri,
			language = excluded.language
	`, doc.DocumentName, doc.DocumentHash, nullIfEmpty(doc.SourceURI), nullIfEmpty(doc.Language), doc.CreatedAt)
	return err
}

// GetByHash looks up a document's metadata by content hash.
func (s *DocumentStore) GetByHash(ctx context.Context, documentHash string) (Document, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var d Document
	var sourceURI, language sql.NullString
	row := s.db.QueryRowContext(ctx, `
		SELECT id, document_name, document_hash, source_uri, language, created_at
		FROM documents WHERE document_hash = ?
	`, documentHash)
	err := row.Scan(&d.ID, &d.DocumentName, &d.DocumentHash, &sourceURI, &language, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, err
	}
	d.SourceURI = sourceURI.String
	d.Language = language.String
	return d, true, nil
}

// DeleteByName removes document metadata rows for documentName.
func (s *DocumentStore) DeleteByName(ctx context.Context, documentName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE document_name = ?", documentName)
	return err
}
