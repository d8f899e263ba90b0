package handler

import (
	"errors"
	"strconv"

	"github.com/arturoeanton/support-chat-rag/internal/middleware"
	"github.com/arturoeanton/support-chat-rag/internal/port"
	"github.com/arturoeanton/support-chat-rag/internal/service"
	"github.com/gofiber/fiber/v3"
)

const defaultHistoryLimit = 50

// HistoryHandler serves the caller's persisted chats.
type HistoryHandler struct {
	store *service.ChatStore
}

// NewHistoryHandler creates a new history handler.
func NewHistoryHandler(store *service.ChatStore) *HistoryHandler {
	return &HistoryHandler{store: store}
}

// Register sets up history routes.
func (h *HistoryHandler) Register(router fiber.Router) {
	chats := router.Group("/chats")
	chats.Get("/", h.List)
	chats.Get("/:id", h.Get)
}

// List returns the caller's chats, newest first.
func (h *HistoryHandler) List(c fiber.Ctx) error {
	uc := middleware.GetUserContext(c)
	if uc == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	limit, err := strconv.Atoi(c.Query("limit", strconv.Itoa(defaultHistoryLimit)))
	if err != nil || limit < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid limit"})
	}

	chats, err := h.store.List(c.Context(), uc.UserID, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{
		"chats": chats,
		"count": len(chats),
	})
}

// Get returns one chat owned by the caller.
func (h *HistoryHandler) Get(c fiber.Ctx) error {
	uc := middleware.GetUserContext(c)
	if uc == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	chat, err := h.store.GetForUser(c.Context(), uc.UserID, c.Params("id"))
	if errors.Is(err, port.ErrChatNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "chat not found"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(chat)
}
