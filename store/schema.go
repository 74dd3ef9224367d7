package store

import "fmt"

// schemaSQL returns the DDL for all tables. embeddingDim controls the
// vec0 virtual table dimension; collection names the virtual table so a
// deployment can keep a stable vector collection name across restarts.
func schemaSQL(embeddingDim int, collection string) string {
	return fmt.Sprintf(`
-- Document registry: one row per distinct document_hash ever submitted.
CREATE TABLE IF NOT EXISTS documents (
    id INTEGER PRIMARY KEY,
    document_name TEXT NOT NULL,
    document_hash TEXT NOT NULL,
    source_uri TEXT,
    language TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(document_hash)
);

-- Chunks produced by the splitter, keyed by (document_hash, chunk_index).
CREATE TABLE IF NOT EXISTS chunks (
    document_name TEXT NOT NULL,
    document_hash TEXT NOT NULL,
    chunk_index INTEGER NOT NULL,
    content TEXT NOT NULL,
    start_offset INTEGER NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    contains_facts INTEGER NOT NULL DEFAULT 0,
    all_facts_extracted INTEGER NOT NULL DEFAULT 0,
    error_message TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (document_hash, chunk_index)
);
CREATE INDEX IF NOT EXISTS idx_chunks_document_name ON chunks(document_name);

-- Verified facts.
CREATE TABLE IF NOT EXISTS facts (
    fact_id TEXT PRIMARY KEY,
    statement TEXT NOT NULL,
    document_name TEXT NOT NULL,
    source_chunk_index INTEGER NOT NULL,
    original_text TEXT NOT NULL,
    verification_status TEXT NOT NULL,
    verification_reason TEXT,
    extracted_at DATETIME,
    verified_at DATETIME,
    fact_hash TEXT NOT NULL UNIQUE,
    metadata JSON
);
CREATE INDEX IF NOT EXISTS idx_facts_document ON facts(document_name);

-- Rejected facts; same shape as facts, kept in a separate table so a
-- statement can never be present in both stores at once.
CREATE TABLE IF NOT EXISTS rejected_facts (
    fact_id TEXT PRIMARY KEY,
    statement TEXT NOT NULL,
    document_name TEXT NOT NULL,
    source_chunk_index INTEGER NOT NULL,
    original_text TEXT NOT NULL,
    verification_status TEXT NOT NULL,
    verification_reason TEXT,
    extracted_at DATETIME,
    verified_at DATETIME,
    fact_hash TEXT NOT NULL UNIQUE,
    metadata JSON
);
CREATE INDEX IF NOT EXISTS idx_rejected_facts_document ON rejected_facts(document_name);

-- Maps the opaque fact_id string onto the integer rowid vec0 requires,
-- and carries the small metadata attached to each vector entry.
CREATE TABLE IF NOT EXISTS fact_vec_ids (
    vec_rowid INTEGER PRIMARY KEY AUTOINCREMENT,
    fact_id TEXT NOT NULL UNIQUE,
    document_name TEXT,
    chunk_index INTEGER
);

-- Vector embeddings of verified fact statements.
CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(
    vec_rowid INTEGER PRIMARY KEY,
    embedding float[%d] distance_metric=cosine
);
`, collection, embeddingDim)
}
