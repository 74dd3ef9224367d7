package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// VectorMetadata is the small amount of provenance carried alongside each
// vector entry.
type VectorMetadata struct {
	DocumentName string
	ChunkIndex   int
}

// VectorIndex is a semantic index over verified fact statements, backed by
// a sqlite-vec virtual table. Because vec0 requires an integer rowid, a
// fact_vec_ids table bridges the opaque fact_id string onto an
// auto-incrementing row id.
type VectorIndex struct {
	db         *sql.DB
	collection string
	mu         sync.Mutex
}

// Add inserts an embedding for fact_id, replacing any prior entry for the
// same id (tolerates repeated Add as a replacement, per the component
// contract).
func (v *VectorIndex) Add(ctx context.Context, factID string, embedding []float32, meta VectorMetadata) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.addLocked(ctx, factID, embedding, meta)
}

func (v *VectorIndex) addLocked(ctx context.Context, factID string, embedding []float32, meta VectorMetadata) error {
	return inTx(ctx, v.db, func(tx *sql.Tx) error {
		if err := deleteVecRow(ctx, tx, v.collection, factID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			"INSERT INTO fact_vec_ids (fact_id, document_name, chunk_index) VALUES (?, ?, ?)",
			factID, meta.DocumentName, meta.ChunkIndex)
		if err != nil {
			return err
		}
		rowid, err := res.LastInsertId()
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s (vec_rowid, embedding) VALUES (?, ?)", v.collection),
			rowid, serializeFloat32(embedding))
		return err
	})
}

// Update replaces the embedding for an existing fact_id (delete+add).
func (v *VectorIndex) Update(ctx context.Context, factID string, newEmbedding []float32, meta VectorMetadata) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.addLocked(ctx, factID, newEmbedding, meta)
}

// Delete removes the vector entry for fact_id, if any.
func (v *VectorIndex) Delete(ctx context.Context, factID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return inTx(ctx, v.db, func(tx *sql.Tx) error {
		return deleteVecRow(ctx, tx, v.collection, factID)
	})
}

func deleteVecRow(ctx context.Context, tx *sql.Tx, collection, factID string) error {
	var rowid int64
	err := tx.QueryRowContext(ctx, "SELECT vec_rowid FROM fact_vec_ids WHERE fact_id = ?", factID).Scan(&rowid)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE vec_rowid = ?", collection), rowid); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, "DELETE FROM fact_vec_ids WHERE vec_rowid = ?", rowid)
	return err
}

// Query performs a KNN search over the embedding space and returns the k
// nearest fact ids by cosine similarity, highest similarity first. Any
// document_name/statement filtering happens one layer up, once the caller
// hydrates these ids against the tabular FactStore (per the repair-on-read
// search contract in the component design).
func (v *VectorIndex) Query(ctx context.Context, queryEmbedding []float32, k int) ([]VectorResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	query := fmt.Sprintf(`
		SELECT f.fact_id, m.distance
		FROM %s m
		JOIN fact_vec_ids f ON f.vec_rowid = m.vec_rowid
		WHERE m.embedding MATCH ? AND k = ?
		ORDER BY m.distance
	`, v.collection)

	rows, err := v.db.QueryContext(ctx, query, serializeFloat32(queryEmbedding), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []VectorResult
	for rows.Next() {
		var r VectorResult
		var distance float64
		if err := rows.Scan(&r.FactID, &distance); err != nil {
			return nil, err
		}
		r.Similarity = 1.0 - distance
		results = append(results, r)
	}
	return results, rows.Err()
}

// Count returns the number of entries currently in the index.
func (v *VectorIndex) Count(ctx context.Context) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var n int
	err := v.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM fact_vec_ids").Scan(&n)
	return n, err
}

// IDs returns every fact_id currently present in the index, used by the
// consistency layer to compare against the verified FactStore's rows.
func (v *VectorIndex) IDs(ctx context.Context) ([]string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	rows, err := v.db.QueryContext(ctx, "SELECT fact_id FROM fact_vec_ids")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
