// Package store implements the tabular and vector persistence layers:
// ChunkStore, FactStore, RejectedFactStore, and VectorIndex, all backed by
// a single SQLite database with the sqlite-vec extension for similarity
// search.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// Chunk status values. Transitions only ever move forward:
// pending -> processing -> processed | error.
const (
	ChunkStatusPending    = "pending"
	ChunkStatusProcessing = "processing"
	ChunkStatusProcessed  = "processed"
	ChunkStatusError      = "error"
)

// Verification status values for Fact rows.
const (
	VerificationStatusVerified = "verified"
	VerificationStatusRejected = "rejected"
)

// Chunk represents a row in the chunks table.
type Chunk struct {
	DocumentName      string    `json:"document_name"`
	DocumentHash      string    `json:"document_hash"`
	ChunkIndex        int       `json:"chunk_index"`
	Content           string    `json:"content"`
	StartOffset       int       `json:"start_offset"`
	Status            string    `json:"status"`
	ContainsFacts     bool      `json:"contains_facts"`
	AllFactsExtracted bool      `json:"all_facts_extracted"`
	ErrorMessage      string    `json:"error_message,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// ChunkKey identifies a chunk uniquely within a document's hash.
type ChunkKey struct {
	DocumentHash string
	ChunkIndex   int
}

// Fact represents a row in the facts or rejected_facts table.
type Fact struct {
	FactID              string    `json:"fact_id"`
	Statement           string    `json:"statement"`
	DocumentName        string    `json:"document_name"`
	SourceChunkIndex    int       `json:"source_chunk_index"`
	OriginalText        string    `json:"original_text"`
	VerificationStatus  string    `json:"verification_status"`
	VerificationReason  string    `json:"verification_reason"`
	ExtractedAt         time.Time `json:"extracted_at"`
	VerifiedAt          time.Time `json:"verified_at"`
	FactHash            string    `json:"fact_hash"`
	Metadata            string    `json:"metadata,omitempty"`
}

// Document represents a row in the documents table: metadata about a
// distinct document_hash ever submitted.
type Document struct {
	ID           int64     `json:"id"`
	DocumentName string    `json:"document_name"`
	DocumentHash string    `json:"document_hash"`
	SourceURI    string    `json:"source_uri,omitempty"`
	Language     string    `json:"language,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// VectorResult is one hit from a VectorIndex query.
type VectorResult struct {
	FactID     string
	Similarity float64
}

// Store wraps the SQLite database underlying every persistence type in
// this package. FactStore, RejectedFactStore, ChunkStore, and VectorIndex
// are all thin views constructed over it.
type Store struct {
	db           *sql.DB
	embeddingDim int
	collection   string

	facts         *FactStore
	rejectedFacts *FactStore
	chunks        *ChunkStore
	documents     *DocumentStore
	vectors       *VectorIndex
}

// Open opens (or creates) a SQLite database at dbPath, initialises the
// schema including the sqlite-vec virtual table, and runs pending
// migrations. collection names the stable vec0 virtual table that holds
// fact embeddings.
func Open(dbPath string, embeddingDim int, collection string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}
	if collection == "" {
		collection = "fact_embeddings"
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL(embeddingDim, collection)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, embeddingDim: embeddingDim, collection: collection}
	s.facts = &FactStore{db: db, table: "facts"}
	s.rejectedFacts = &FactStore{db: db, table: "rejected_facts"}
	s.chunks = &ChunkStore{db: db}
	s.documents = &DocumentStore{db: db}
	s.vectors = &VectorIndex{db: db, collection: collection}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// Facts returns the FactStore view over the verified facts table. The same
// instance, and therefore the same mutex, is returned on every call.
func (s *Store) Facts() *FactStore {
	return s.facts
}

// RejectedFacts returns the FactStore view over the rejected facts table.
// The same instance, and therefore the same mutex, is returned on every
// call.
func (s *Store) RejectedFacts() *FactStore {
	return s.rejectedFacts
}

// Chunks returns the ChunkStore view. The same instance, and therefore the
// same mutex, is returned on every call.
func (s *Store) Chunks() *ChunkStore {
	return s.chunks
}

// Documents returns the DocumentStore view. The same instance, and
// therefore the same mutex, is returned on every call.
func (s *Store) Documents() *DocumentStore {
	return s.documents
}

// Vectors returns the VectorIndex view over the configured collection. The
// same instance, and therefore the same mutex, is returned on every call.
func (s *Store) Vectors() *VectorIndex {
	return s.vectors
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	return inTx(ctx, s.db, fn)
}

func inTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
