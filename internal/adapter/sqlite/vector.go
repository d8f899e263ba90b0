package sqlite

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/arturoeanton/support-chat-rag/internal/domain"
	"github.com/arturoeanton/support-chat-rag/internal/port"
)

// VectorIndex implements port.VectorIndex with an exhaustive cosine scan.
// It suits knowledge bases of a few thousand articles.
type VectorIndex struct {
	db        *DB
	dimension int
}

// NewVectorIndex creates an index on db. dimension 0 disables the size check.
func NewVectorIndex(db *DB, dimension int) *VectorIndex {
	return &VectorIndex{db: db, dimension: dimension}
}

// Upsert inserts or replaces documents by (namespace, id).
func (x *VectorIndex) Upsert(ctx context.Context, namespace string, docs []domain.Document) error {
	if len(docs) == 0 {
		return nil
	}

	tx, err := x.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, d := range docs {
		if d.ID == "" {
			return fmt.Errorf("%w: document without id", port.ErrInvalidMatch)
		}
		if x.dimension > 0 && len(d.Values) != x.dimension {
			return fmt.Errorf("%w: document %s has dimension %d, want %d", port.ErrInvalidMatch, d.ID, len(d.Values), x.dimension)
		}
		meta, err := json.Marshal(d.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for %s: %w", d.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO documents (namespace, id, metadata, vector) VALUES (?, ?, ?, ?)
			ON CONFLICT(namespace, id) DO UPDATE SET
				metadata = excluded.metadata,
				vector = excluded.vector
		`, namespace, d.ID, string(meta), vectorToBlob(d.Values)); err != nil {
			return fmt.Errorf("insert document %s: %w", d.ID, err)
		}
	}
	return tx.Commit()
}

// Query scores every document in namespace and returns the topK best by cosine similarity.
func (x *VectorIndex) Query(ctx context.Context, vector []float32, topK int, namespace string) ([]domain.Match, error) {
	rows, err := x.db.conn.QueryContext(ctx, `SELECT id, metadata, vector FROM documents WHERE namespace = ?`, namespace)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []domain.Match
	for rows.Next() {
		var (
			id   string
			meta string
			blob []byte
		)
		if err := rows.Scan(&id, &meta, &blob); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}

		m := domain.Match{ID: id}
		if err := json.Unmarshal([]byte(meta), &m.Metadata); err != nil {
			slog.Warn("skipping document with unreadable metadata", "id", id, "error", err)
			continue
		}
		score := CosineSimilarity(vector, blobToVector(blob))
		m.Score = &score
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return *matches[i].Score > *matches[j].Score
	})
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// DeleteNamespace deletes all documents in namespace.
func (x *VectorIndex) DeleteNamespace(ctx context.Context, namespace string) error {
	if _, err := x.db.conn.ExecContext(ctx, `DELETE FROM documents WHERE namespace = ?`, namespace); err != nil {
		return fmt.Errorf("delete namespace: %w", err)
	}
	return nil
}

func vectorToBlob(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

func blobToVector(blob []byte) []float32 {
	count := len(blob) / 4
	vector := make([]float32, count)
	for i := 0; i < count; i++ {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vector
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// their lengths differ or either is the zero vector.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
