package sqlite

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/arturoeanton/support-chat-rag/internal/domain"
	"github.com/arturoeanton/support-chat-rag/internal/port"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "data", "chat.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestKV_Hash(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.HSet(ctx, "chat:1", map[string]string{"id": "1", "title": "first"}); err != nil {
		t.Fatalf("HSet() error = %v", err)
	}
	if err := db.HSet(ctx, "chat:1", map[string]string{"title": "renamed"}); err != nil {
		t.Fatalf("HSet() overwrite error = %v", err)
	}

	got, err := db.HGetAll(ctx, "chat:1")
	if err != nil {
		t.Fatalf("HGetAll() error = %v", err)
	}
	if got["id"] != "1" || got["title"] != "renamed" || len(got) != 2 {
		t.Errorf("HGetAll() = %v", got)
	}

	empty, err := db.HGetAll(ctx, "chat:missing")
	if err != nil {
		t.Fatalf("HGetAll(missing) error = %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("HGetAll(missing) = %v, want empty", empty)
	}
}

func TestKV_SortedSet(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for member, score := range map[string]float64{"chat:a": 100, "chat:b": 300, "chat:c": 200} {
		if err := db.ZAdd(ctx, "user:chat:u", score, member); err != nil {
			t.Fatalf("ZAdd() error = %v", err)
		}
	}
	if err := db.ZAdd(ctx, "user:chat:other", 999, "chat:z"); err != nil {
		t.Fatalf("ZAdd() error = %v", err)
	}

	tests := []struct {
		start, stop int
		want        []string
	}{
		{0, -1, []string{"chat:b", "chat:c", "chat:a"}},
		{0, 0, []string{"chat:b"}},
		{1, 2, []string{"chat:c", "chat:a"}},
		{2, 10, []string{"chat:a"}},
		{5, -1, []string{}},
		{2, 1, []string{}},
	}
	for _, tt := range tests {
		got, err := db.ZRevRange(ctx, "user:chat:u", tt.start, tt.stop)
		if err != nil {
			t.Fatalf("ZRevRange(%d,%d) error = %v", tt.start, tt.stop, err)
		}
		if len(got) != len(tt.want) {
			t.Errorf("ZRevRange(%d,%d) = %v, want %v", tt.start, tt.stop, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("ZRevRange(%d,%d) = %v, want %v", tt.start, tt.stop, got, tt.want)
				break
			}
		}
	}
}

func TestVectorIndex_QueryRanksByCosine(t *testing.T) {
	db := openTestDB(t)
	idx := NewVectorIndex(db, 2)
	ctx := context.Background()

	docs := []domain.Document{
		{ID: "east", Values: []float32{1, 0}, Metadata: map[string]any{"text": "east"}},
		{ID: "north", Values: []float32{0, 1}, Metadata: map[string]any{"text": "north"}},
		{ID: "northeast", Values: []float32{1, 1}, Metadata: map[string]any{"text": "northeast"}},
	}
	if err := idx.Upsert(ctx, "kb", docs); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := idx.Upsert(ctx, "other", []domain.Document{{ID: "east", Values: []float32{1, 0}}}); err != nil {
		t.Fatalf("Upsert(other) error = %v", err)
	}

	matches, err := idx.Query(ctx, []float32{1, 0.1}, 2, "kb")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("Query() returned %d matches, want 2", len(matches))
	}
	if matches[0].ID != "east" || matches[1].ID != "northeast" {
		t.Errorf("order = %s, %s", matches[0].ID, matches[1].ID)
	}
	if text, ok := matches[0].Text(); !ok || text != "east" {
		t.Errorf("Text() = %q, %v", text, ok)
	}
	if matches[0].Score == nil || *matches[0].Score <= *matches[1].Score {
		t.Errorf("scores not descending")
	}
}

func TestVectorIndex_UpsertReplacesAndDeleteNamespace(t *testing.T) {
	db := openTestDB(t)
	idx := NewVectorIndex(db, 0)
	ctx := context.Background()

	_ = idx.Upsert(ctx, "kb", []domain.Document{{ID: "a", Values: []float32{1, 0}, Metadata: map[string]any{"text": "old"}}})
	_ = idx.Upsert(ctx, "kb", []domain.Document{{ID: "a", Values: []float32{1, 0}, Metadata: map[string]any{"text": "new"}}})

	matches, err := idx.Query(ctx, []float32{1, 0}, 10, "kb")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
	if text, _ := matches[0].Text(); text != "new" {
		t.Errorf("text = %q, want new", text)
	}

	if err := idx.DeleteNamespace(ctx, "kb"); err != nil {
		t.Fatalf("DeleteNamespace() error = %v", err)
	}
	matches, _ = idx.Query(ctx, []float32{1, 0}, 10, "kb")
	if len(matches) != 0 {
		t.Errorf("namespace not empty after delete: %v", matches)
	}
}

func TestVectorIndex_RejectsInvalidDocuments(t *testing.T) {
	idx := NewVectorIndex(openTestDB(t), 3)
	ctx := context.Background()

	if err := idx.Upsert(ctx, "", []domain.Document{{Values: []float32{1, 2, 3}}}); !errors.Is(err, port.ErrInvalidMatch) {
		t.Errorf("Upsert(no id) error = %v", err)
	}
	if err := idx.Upsert(ctx, "", []domain.Document{{ID: "x", Values: []float32{1}}}); !errors.Is(err, port.ErrInvalidMatch) {
		t.Errorf("Upsert(wrong dim) error = %v", err)
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2}, []float32{1, 2}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CosineSimilarity(tt.a, tt.b); math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("CosineSimilarity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBlobRoundTrip(t *testing.T) {
	in := []float32{0.25, -1.5, 3e-7}
	out := blobToVector(vectorToBlob(in))
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("blob round trip = %v, want %v", out, in)
		}
	}
}

func TestAudit(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.WriteAudit("u1", domain.AuditActionChatComplete, "chat", "c1", `{"tokens":3}`, "127.0.0.1", "test"); err != nil {
		t.Fatalf("WriteAudit() error = %v", err)
	}
	if err := db.WriteAudit("u1", domain.AuditActionHTTPRequest, "api", "/api/chat", "", "127.0.0.1", "test"); err != nil {
		t.Fatalf("WriteAudit() error = %v", err)
	}

	all, err := db.ListAuditLogs(ctx, 0, "")
	if err != nil {
		t.Fatalf("ListAuditLogs() error = %v", err)
	}
	if len(all) != 2 {
		t.Errorf("got %d logs, want 2", len(all))
	}

	chats, err := db.ListAuditLogs(ctx, 10, domain.AuditActionChatComplete)
	if err != nil {
		t.Fatalf("ListAuditLogs(action) error = %v", err)
	}
	if len(chats) != 1 || chats[0].ResourceID != "c1" || chats[0].Details != `{"tokens":3}` {
		t.Errorf("filtered logs = %+v", chats)
	}
	if chats[0].CreatedAt.IsZero() {
		t.Error("CreatedAt not populated")
	}
}
