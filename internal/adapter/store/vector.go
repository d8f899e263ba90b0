package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/arturoeanton/support-chat-rag/internal/domain"
	"github.com/arturoeanton/support-chat-rag/internal/port"
)

// VectorStore implements port.VectorIndex on pgvector.
type VectorStore struct {
	store     *PostgresStore
	dimension int
}

// NewVectorStore creates a vector store backed by the given Postgres store.
func NewVectorStore(store *PostgresStore, dimension int) *VectorStore {
	return &VectorStore{store: store, dimension: dimension}
}

// Upsert inserts or replaces documents by (namespace, id).
func (v *VectorStore) Upsert(ctx context.Context, namespace string, docs []domain.Document) error {
	if len(docs) == 0 {
		return nil
	}

	tx, err := v.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO documents (namespace, id, metadata, vector)
		 VALUES ($1, $2, $3::jsonb, $4::vector)
		 ON CONFLICT (namespace, id) DO UPDATE SET
			metadata = EXCLUDED.metadata,
			vector = EXCLUDED.vector`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, d := range docs {
		if err := v.validate(d); err != nil {
			return err
		}
		meta, err := json.Marshal(d.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for %s: %w", d.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, namespace, d.ID, string(meta), vectorToString(d.Values)); err != nil {
			return fmt.Errorf("insert document %s: %w", d.ID, err)
		}
	}

	return tx.Commit()
}

func (v *VectorStore) validate(d domain.Document) error {
	if d.ID == "" {
		return fmt.Errorf("%w: document without id", port.ErrInvalidMatch)
	}
	if v.dimension > 0 && len(d.Values) != v.dimension {
		return fmt.Errorf("%w: document %s has dimension %d, want %d", port.ErrInvalidMatch, d.ID, len(d.Values), v.dimension)
	}
	return nil
}

// Query performs a cosine similarity search inside namespace.
func (v *VectorStore) Query(ctx context.Context, vector []float32, topK int, namespace string) ([]domain.Match, error) {
	vectorStr := vectorToString(vector)
	query := `SELECT id, metadata, 1 - (vector <=> $1::vector) AS similarity
	          FROM documents
	          WHERE namespace = $2
	          ORDER BY vector <=> $1::vector
	          LIMIT $3`

	rows, err := v.store.db.QueryContext(ctx, query, vectorStr, namespace, topK)
	if err != nil {
		return nil, fmt.Errorf("search similar: %w", err)
	}
	defer rows.Close()

	var matches []domain.Match
	for rows.Next() {
		var (
			id    string
			meta  []byte
			score float64
		)
		if err := rows.Scan(&id, &meta, &score); err != nil {
			return nil, fmt.Errorf("scan similar: %w", err)
		}
		m := domain.Match{ID: id, Score: &score}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &m.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata for %s: %w", id, err)
			}
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// DeleteNamespace deletes all documents in namespace.
func (v *VectorStore) DeleteNamespace(ctx context.Context, namespace string) error {
	_, err := v.store.db.ExecContext(ctx, `DELETE FROM documents WHERE namespace = $1`, namespace)
	if err != nil {
		return fmt.Errorf("delete namespace: %w", err)
	}
	return nil
}

// vectorToString converts a float32 slice to pgvector string format: [0.1,0.2,0.3].
func vectorToString(v []float32) string {
	parts := make([]string, len(v))
	for i, val := range v {
		parts[i] = strconv.FormatFloat(float64(val), 'g', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
