package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/arturoeanton/support-chat-rag/internal/domain"
	"github.com/arturoeanton/support-chat-rag/internal/middleware"
	"github.com/arturoeanton/support-chat-rag/internal/port"
	"github.com/arturoeanton/support-chat-rag/internal/service"
	"github.com/gofiber/fiber/v3"
)

// DefaultCompletionTimeout bounds a completion, including draining after the client leaves.
const DefaultCompletionTimeout = 5 * time.Minute

// ChatHandler streams retrieval-augmented answers.
type ChatHandler struct {
	chats   *service.ChatService
	audit   middleware.AuditWriter // optional
	timeout time.Duration
}

// NewChatHandler creates a new chat handler. audit may be nil.
func NewChatHandler(chats *service.ChatService, audit middleware.AuditWriter, timeout time.Duration) *ChatHandler {
	if timeout <= 0 {
		timeout = DefaultCompletionTimeout
	}
	return &ChatHandler{chats: chats, audit: audit, timeout: timeout}
}

// Register sets up chat routes.
func (h *ChatHandler) Register(router fiber.Router) {
	router.Post("/chat", h.Chat)
}

type chatRequest struct {
	ID           string           `json:"id"`
	Messages     []domain.Message `json:"messages"`
	PreviewToken string           `json:"previewToken"`
}

// Chat answers the conversation, streaming the reply as plain text.
func (h *ChatHandler) Chat(c fiber.Ctx) error {
	uc := middleware.GetUserContext(c)
	if uc == nil || uc.UserID == "" {
		c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
		return c.Status(fiber.StatusUnauthorized).SendString("Unauthorized")
	}

	var body chatRequest
	if err := c.Bind().JSON(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
	}
	if len(body.Messages) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "messages are required"})
	}
	if strings.TrimSpace(body.Messages[len(body.Messages)-1].Content) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "last message is empty"})
	}

	userID := uc.UserID
	ip := strings.Clone(c.IP())
	userAgent := strings.Clone(c.Get(fiber.HeaderUserAgent))

	// The completion outlives the request so the reply is stored even if the client leaves.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Context()), h.timeout)

	session, err := h.chats.Start(ctx, service.ChatRequest{
		UserID:       userID,
		ChatID:       body.ID,
		PreviewToken: body.PreviewToken,
		Messages:     body.Messages,
	})
	if err != nil {
		cancel()
		if errors.Is(err, port.ErrEmptyQuery) || errors.Is(err, port.ErrNoMessages) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		if errors.Is(err, port.ErrChatForbidden) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": err.Error()})
		}
		slog.Error("chat start failed", "user_id", userID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "chat failed: " + err.Error()})
	}

	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set("X-Chat-Id", session.ChatID())

	return c.SendStreamWriter(func(w *bufio.Writer) {
		defer cancel()

		chat, err := session.Drain(ctx, func(token string) error {
			if _, err := w.WriteString(token); err != nil {
				return err
			}
			return w.Flush()
		})
		if err != nil {
			slog.Error("chat stream failed", "chat_id", session.ChatID(), "error", err)
			return
		}
		h.recordCompletion(chat, ip, userAgent)
	})
}

func (h *ChatHandler) recordCompletion(chat *domain.Chat, ip, userAgent string) {
	if h.audit == nil {
		return
	}
	details, _ := json.Marshal(map[string]interface{}{
		"messages":    len(chat.Messages),
		"reply_chars": len([]rune(chat.Messages[len(chat.Messages)-1].Content)),
	})
	if err := h.audit.WriteAudit(chat.UserID, domain.AuditActionChatComplete, "chat", chat.ID, string(details), ip, userAgent); err != nil {
		slog.Error("failed to write audit log", "error", err)
	}
}
