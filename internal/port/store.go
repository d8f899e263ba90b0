package port

import (
	"context"

	"github.com/arturoeanton/support-chat-rag/internal/domain"
)

// VectorIndex stores document vectors and answers nearest-neighbour queries.
// An empty namespace is the default partition.
type VectorIndex interface {
	// Query returns up to topK matches ordered by descending similarity.
	Query(ctx context.Context, vector []float32, topK int, namespace string) ([]domain.Match, error)

	// Upsert inserts or replaces documents by ID.
	Upsert(ctx context.Context, namespace string, docs []domain.Document) error

	// DeleteNamespace removes every document in the namespace.
	DeleteNamespace(ctx context.Context, namespace string) error
}

// KVStore is the hash / sorted-set subset of a key-value store used for chat history.
// Each write is atomic per key.
type KVStore interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	ZAdd(ctx context.Context, key string, score float64, member string) error

	// ZRevRange returns members from highest to lowest score, start and stop inclusive.
	// A negative stop means "to the end".
	ZRevRange(ctx context.Context, key string, start, stop int) ([]string, error)
}

// AuditStore persists and lists audit records.
type AuditStore interface {
	WriteAudit(userID, action, resource, resourceID, details, ip, userAgent string) error
	ListAuditLogs(ctx context.Context, limit int, action string) ([]domain.AuditLog, error)
}
