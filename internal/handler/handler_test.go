package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/arturoeanton/support-chat-rag/internal/domain"
	"github.com/arturoeanton/support-chat-rag/internal/prompt"
	"github.com/arturoeanton/support-chat-rag/internal/service"
	"github.com/arturoeanton/support-chat-rag/internal/testutil"
	"github.com/gofiber/fiber/v3"
)

// asUser injects a user the way the JWT middleware does.
func asUser(uc *domain.UserContext) fiber.Handler {
	return func(c fiber.Ctx) error {
		if uc != nil {
			c.Locals("user", uc)
		}
		return c.Next()
	}
}

type recordedAudit struct {
	userID, action, resource, resourceID, details string
}

type auditRecorder struct {
	mu      sync.Mutex
	entries []recordedAudit
}

func (r *auditRecorder) WriteAudit(userID, action, resource, resourceID, details, _, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, recordedAudit{userID, action, resource, resourceID, details})
	return nil
}

func (r *auditRecorder) ListAuditLogs(_ context.Context, limit int, action string) ([]domain.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.AuditLog
	for _, e := range r.entries {
		if action != "" && e.action != action {
			continue
		}
		out = append(out, domain.AuditLog{UserID: e.userID, Action: e.action, Resource: e.resource, ResourceID: e.resourceID})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// waitFor polls until the recorder holds an entry with action.
func (r *auditRecorder) waitFor(t *testing.T, action string) recordedAudit {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		for _, e := range r.entries {
			if e.action == action {
				r.mu.Unlock()
				return e
			}
		}
		r.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no %q audit entry recorded", action)
	return recordedAudit{}
}

func do(t *testing.T, app *fiber.App, method, target, body string) (int, http.Header, string) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, fiber.TestConfig{Timeout: 5 * time.Second, FailOnTimeout: true})
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, resp.Header, string(data)
}

type chatEnv struct {
	app       *fiber.App
	embedder  *testutil.Embedder
	completer *testutil.Completer
	kv        *testutil.KV
	chats     *service.ChatStore
	audit     *auditRecorder
}

func newChatEnv(t *testing.T, user *domain.UserContext, tokens ...string) *chatEnv {
	t.Helper()
	pb, err := prompt.New(prompt.DefaultSettings())
	if err != nil {
		t.Fatalf("prompt.New() error = %v", err)
	}
	env := &chatEnv{
		embedder:  &testutil.Embedder{},
		completer: &testutil.Completer{Tokens: tokens},
		kv:        testutil.NewKV(),
		audit:     &auditRecorder{},
	}
	index := &testutil.Index{Matches: []domain.Match{testutil.TextMatch("kb-1", "Refunds take 5 days.", 0.9)}}
	assembler := service.NewContextAssembler(env.embedder, index, service.AssemblerConfig{})
	env.chats = service.NewChatStore(env.kv)
	svc := service.NewChatService(assembler, env.completer, env.chats, pb, service.ChatConfig{})

	env.app = fiber.New()
	env.app.Use(asUser(user))
	NewChatHandler(svc, env.audit, time.Second).Register(env.app)
	NewHistoryHandler(env.chats).Register(env.app)
	NewContextHandler(assembler, "", env.audit).Register(env.app)
	return env
}

func TestChat_Unauthorized(t *testing.T) {
	env := newChatEnv(t, nil, "never")

	status, _, body := do(t, env.app, http.MethodPost, "/chat", `{"messages":[{"role":"user","content":"hi"}]}`)

	if status != fiber.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", status)
	}
	if body != "Unauthorized" {
		t.Errorf("body = %q, want Unauthorized", body)
	}
	if env.embedder.Calls() != 0 || env.completer.Calls() != 0 || env.kv.HSets != 0 {
		t.Errorf("collaborators called: embed=%d complete=%d hset=%d", env.embedder.Calls(), env.completer.Calls(), env.kv.HSets)
	}
}

func TestChat_BadRequests(t *testing.T) {
	env := newChatEnv(t, &domain.UserContext{UserID: "u-1"}, "never")

	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `{"messages":`},
		{name: "no messages", body: `{"messages":[]}`},
		{name: "empty last message", body: `{"messages":[{"role":"user","content":"  "}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _, _ := do(t, env.app, http.MethodPost, "/chat", tt.body)
			if status != fiber.StatusBadRequest {
				t.Errorf("status = %d, want 400", status)
			}
		})
	}
	if env.completer.Calls() != 0 {
		t.Errorf("completer called %d times", env.completer.Calls())
	}
}

func TestChat_StreamsAndPersists(t *testing.T) {
	env := newChatEnv(t, &domain.UserContext{UserID: "u-1"}, "Refunds ", "take ", "5 days.")

	status, header, body := do(t, env.app, http.MethodPost, "/chat",
		`{"id":"c-9","messages":[{"role":"user","content":"How long do refunds take?"}]}`)

	if status != fiber.StatusOK {
		t.Fatalf("status = %d, want 200 (body %q)", status, body)
	}
	if body != "Refunds take 5 days." {
		t.Errorf("body = %q", body)
	}
	if got := header.Get("X-Chat-Id"); got != "c-9" {
		t.Errorf("X-Chat-Id = %q, want c-9", got)
	}
	if !strings.HasPrefix(header.Get("Content-Type"), "text/plain") {
		t.Errorf("Content-Type = %q", header.Get("Content-Type"))
	}

	chat, err := env.chats.Get(context.Background(), "c-9")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(chat.Messages) != 2 || chat.Messages[1].Content != "Refunds take 5 days." {
		t.Errorf("persisted messages = %+v", chat.Messages)
	}
	if env.kv.HSets != 1 {
		t.Errorf("HSet calls = %d, want 1", env.kv.HSets)
	}

	entry := env.audit.waitFor(t, domain.AuditActionChatComplete)
	if entry.resourceID != "c-9" || entry.userID != "u-1" {
		t.Errorf("audit entry = %+v", entry)
	}
}

func TestChat_StartFailureIs500(t *testing.T) {
	env := newChatEnv(t, &domain.UserContext{UserID: "u-1"})
	env.embedder.Err = errors.New("embeddings down")

	status, _, _ := do(t, env.app, http.MethodPost, "/chat", `{"messages":[{"role":"user","content":"hi"}]}`)

	if status != fiber.StatusInternalServerError {
		t.Errorf("status = %d, want 500", status)
	}
	if env.kv.HSets != 0 {
		t.Error("chat persisted after failed start")
	}
}

func TestChat_ForeignChatIDIs403(t *testing.T) {
	env := newChatEnv(t, &domain.UserContext{UserID: "alice"}, "never")
	ctx := context.Background()
	if err := env.chats.Save(ctx, &domain.Chat{ID: "c1", UserID: "bob", Title: "bob's question", CreatedAt: 1}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	status, _, _ := do(t, env.app, http.MethodPost, "/chat",
		`{"id":"c1","messages":[{"role":"user","content":"alice overwrite"}]}`)

	if status != fiber.StatusForbidden {
		t.Fatalf("status = %d, want 403", status)
	}
	if env.completer.Calls() != 0 || env.kv.HSets != 1 {
		t.Errorf("completer calls = %d, hset = %d", env.completer.Calls(), env.kv.HSets)
	}
	chat, err := env.chats.GetForUser(ctx, "bob", "c1")
	if err != nil || chat.Title != "bob's question" {
		t.Errorf("bob's chat = %+v, %v", chat, err)
	}
}

func TestHistory(t *testing.T) {
	env := newChatEnv(t, &domain.UserContext{UserID: "u-1"})
	ctx := context.Background()
	for _, c := range []*domain.Chat{
		{ID: "old", UserID: "u-1", CreatedAt: 1, Messages: []domain.Message{{Role: domain.RoleUser, Content: "a"}}},
		{ID: "new", UserID: "u-1", CreatedAt: 2, Messages: []domain.Message{{Role: domain.RoleUser, Content: "b"}}},
		{ID: "theirs", UserID: "u-2", CreatedAt: 3},
	} {
		if err := env.chats.Save(ctx, c); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	t.Run("list newest first", func(t *testing.T) {
		status, _, body := do(t, env.app, http.MethodGet, "/chats/", "")
		if status != fiber.StatusOK {
			t.Fatalf("status = %d", status)
		}
		var got struct {
			Chats []domain.Chat `json:"chats"`
			Count int           `json:"count"`
		}
		if err := json.Unmarshal([]byte(body), &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Count != 2 || got.Chats[0].ID != "new" || got.Chats[1].ID != "old" {
			t.Errorf("chats = %+v", got.Chats)
		}
	})

	t.Run("invalid limit", func(t *testing.T) {
		status, _, _ := do(t, env.app, http.MethodGet, "/chats/?limit=many", "")
		if status != fiber.StatusBadRequest {
			t.Errorf("status = %d, want 400", status)
		}
	})

	t.Run("get own chat", func(t *testing.T) {
		status, _, body := do(t, env.app, http.MethodGet, "/chats/old", "")
		if status != fiber.StatusOK || !strings.Contains(body, `"id":"old"`) {
			t.Errorf("status = %d body = %s", status, body)
		}
	})

	t.Run("other user's chat is hidden", func(t *testing.T) {
		status, _, _ := do(t, env.app, http.MethodGet, "/chats/theirs", "")
		if status != fiber.StatusNotFound {
			t.Errorf("status = %d, want 404", status)
		}
	})

	t.Run("missing chat", func(t *testing.T) {
		status, _, _ := do(t, env.app, http.MethodGet, "/chats/nope", "")
		if status != fiber.StatusNotFound {
			t.Errorf("status = %d, want 404", status)
		}
	})
}

func TestContextEndpoint(t *testing.T) {
	env := newChatEnv(t, &domain.UserContext{UserID: "u-1"})

	status, _, body := do(t, env.app, http.MethodPost, "/context", `{"message":"refunds","max_chars":7}`)
	if status != fiber.StatusOK {
		t.Fatalf("status = %d body = %s", status, body)
	}
	var got struct {
		Context   string `json:"context"`
		Namespace string `json:"namespace"`
	}
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Context != "Refunds" {
		t.Errorf("context = %q, want %q", got.Context, "Refunds")
	}
	env.audit.waitFor(t, domain.AuditActionContextQuery)

	status, _, _ = do(t, env.app, http.MethodPost, "/context", `{"message":" "}`)
	if status != fiber.StatusBadRequest {
		t.Errorf("empty message status = %d, want 400", status)
	}
}

func TestAuditHandler(t *testing.T) {
	rec := &auditRecorder{}
	_ = rec.WriteAudit("u-1", domain.AuditActionHTTPRequest, "api", "/chat", "{}", "", "")
	_ = rec.WriteAudit("u-1", domain.AuditActionChatComplete, "chat", "c-1", "{}", "", "")

	app := fiber.New()
	NewAuditHandler(rec).Register(app)

	status, _, body := do(t, app, http.MethodGet, "/audit/logs?action=chat_complete", "")
	if status != fiber.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if !strings.Contains(body, `"count":1`) || !strings.Contains(body, `"resource_id":"c-1"`) {
		t.Errorf("body = %s", body)
	}

	status, _, _ = do(t, app, http.MethodGet, "/audit/logs?limit=-3", "")
	if status != fiber.StatusBadRequest {
		t.Errorf("negative limit status = %d, want 400", status)
	}
}
