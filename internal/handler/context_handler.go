package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/arturoeanton/support-chat-rag/internal/domain"
	"github.com/arturoeanton/support-chat-rag/internal/middleware"
	"github.com/arturoeanton/support-chat-rag/internal/port"
	"github.com/arturoeanton/support-chat-rag/internal/service"
	"github.com/gofiber/fiber/v3"
)

// ContextHandler exposes context assembly for debugging retrieval.
type ContextHandler struct {
	assembler *service.ContextAssembler
	namespace string
	audit     middleware.AuditWriter // optional
}

// NewContextHandler creates a new context handler. audit may be nil.
func NewContextHandler(assembler *service.ContextAssembler, namespace string, audit middleware.AuditWriter) *ContextHandler {
	return &ContextHandler{assembler: assembler, namespace: namespace, audit: audit}
}

// Register sets up context routes.
func (h *ContextHandler) Register(router fiber.Router) {
	router.Post("/context", h.GetContext)
}

type contextRequest struct {
	Message   string  `json:"message"`
	Namespace *string `json:"namespace"`
	MaxChars  int     `json:"max_chars"`
	OnlyText  *bool   `json:"only_text"`
}

// GetContext returns the context string that would be injected for message.
func (h *ContextHandler) GetContext(c fiber.Ctx) error {
	var body contextRequest
	if err := c.Bind().JSON(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
	}
	if strings.TrimSpace(body.Message) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "message is required"})
	}
	if body.MaxChars < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "max_chars must be positive"})
	}

	namespace := h.namespace
	if body.Namespace != nil {
		namespace = *body.Namespace
	}
	var opts []service.ContextOption
	if body.MaxChars > 0 {
		opts = append(opts, service.WithMaxChars(body.MaxChars))
	}
	if body.OnlyText != nil {
		opts = append(opts, service.WithOnlyText(*body.OnlyText))
	}

	text, err := h.assembler.GetContext(c.Context(), body.Message, namespace, opts...)
	if errors.Is(err, port.ErrEmptyQuery) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if err != nil {
		slog.Error("context assembly failed", "namespace", namespace, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	if h.audit != nil {
		userID := "anonymous"
		if uc := middleware.GetUserContext(c); uc != nil {
			userID = uc.UserID
		}
		details, _ := json.Marshal(map[string]interface{}{"namespace": namespace, "chars": len([]rune(text))})
		ip, userAgent := strings.Clone(c.IP()), strings.Clone(c.Get(fiber.HeaderUserAgent))
		go func() {
			if err := h.audit.WriteAudit(userID, domain.AuditActionContextQuery, "context", namespace, string(details), ip, userAgent); err != nil {
				slog.Error("failed to write audit log", "error", err)
			}
		}()
	}

	return c.JSON(fiber.Map{
		"context":   text,
		"namespace": namespace,
	})
}
