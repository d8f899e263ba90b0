package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/arturoeanton/support-chat-rag/internal/domain"
	"github.com/arturoeanton/support-chat-rag/internal/port"
	"github.com/arturoeanton/support-chat-rag/internal/prompt"
	"github.com/google/uuid"
)

// DefaultTemperature matches the sampling temperature used for support answers.
const DefaultTemperature = 0.7

// ChatConfig configures a ChatService.
type ChatConfig struct {
	Namespace   string
	Model       string   // empty = the completer's default
	Temperature *float32 // nil = DefaultTemperature
}

// ChatService answers a conversation with retrieved context and persists the exchange.
type ChatService struct {
	assembler *ContextAssembler
	completer port.Completer
	chats     *ChatStore
	prompt    *prompt.Builder
	cfg       ChatConfig
	temp      float32

	now   func() time.Time
	newID func() string
}

// NewChatService creates a new chat service.
func NewChatService(assembler *ContextAssembler, completer port.Completer, chats *ChatStore, pb *prompt.Builder, cfg ChatConfig) *ChatService {
	temperature := float32(DefaultTemperature)
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
	}
	if cfg.Model == "" {
		cfg.Model = completer.ModelName()
	}
	return &ChatService{
		assembler: assembler,
		completer: completer,
		chats:     chats,
		prompt:    pb,
		cfg:       cfg,
		temp:      temperature,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// ChatRequest is one inbound conversation.
type ChatRequest struct {
	UserID       string
	ChatID       string // optional; generated when empty
	PreviewToken string // optional per-request model API key
	Messages     []domain.Message
}

// Start assembles context for the last message and opens the completion stream.
// The returned session must be drained exactly once.
func (s *ChatService) Start(ctx context.Context, req ChatRequest) (*ChatSession, error) {
	if req.UserID == "" {
		return nil, port.ErrUnauthorized
	}
	if len(req.Messages) == 0 {
		return nil, port.ErrNoMessages
	}

	if req.ChatID != "" {
		if err := s.chats.CheckOwner(ctx, req.UserID, req.ChatID); err != nil {
			return nil, err
		}
	}

	last := req.Messages[len(req.Messages)-1]
	contextText, err := s.assembler.GetContext(ctx, last.Content, s.cfg.Namespace)
	if err != nil {
		return nil, fmt.Errorf("get context: %w", err)
	}

	messages := make([]domain.Message, 0, len(req.Messages)+1)
	messages = append(messages, domain.Message{Role: domain.RoleSystem, Content: s.prompt.System(contextText)})
	for _, m := range req.Messages {
		if m.Role == domain.RoleUser {
			messages = append(messages, m)
		}
	}

	stream, err := s.completer.Stream(ctx, port.CompletionRequest{
		Model:       s.cfg.Model,
		Messages:    messages,
		Temperature: s.temp,
		APIKey:      req.PreviewToken,
	})
	if err != nil {
		return nil, fmt.Errorf("start completion: %w", err)
	}

	chatID := req.ChatID
	if chatID == "" {
		chatID = s.newID()
	}

	slog.Info("chat completion started",
		"chat_id", chatID,
		"user_id", req.UserID,
		"messages", len(req.Messages),
		"context_chars", len(contextText),
	)

	return &ChatSession{
		svc:    s,
		req:    req,
		chatID: chatID,
		stream: stream,
	}, nil
}

// ChatSession is an open completion stream bound to the conversation that started it.
type ChatSession struct {
	svc    *ChatService
	req    ChatRequest
	chatID string
	stream port.CompletionStream

	once sync.Once
}

// ChatID returns the id the chat will be persisted under.
func (cs *ChatSession) ChatID() string {
	return cs.chatID
}

// Drain forwards every token to emit and, once the model finishes, persists
// the chat with the full assistant reply. A failing emit (client gone) stops
// forwarding but the stream is still drained and the chat still persisted.
// Drain runs at most once per session.
func (cs *ChatSession) Drain(ctx context.Context, emit func(token string) error) (*domain.Chat, error) {
	var chat *domain.Chat
	err := port.ErrStreamDrained
	cs.once.Do(func() {
		chat, err = cs.drain(ctx, emit)
	})
	return chat, err
}

func (cs *ChatSession) drain(ctx context.Context, emit func(token string) error) (*domain.Chat, error) {
	defer cs.stream.Close()

	var reply strings.Builder
	clientGone := false
	for {
		token, err := cs.stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			slog.Error("completion stream failed", "chat_id", cs.chatID, "error", err)
			return nil, fmt.Errorf("receive completion: %w", err)
		}

		reply.WriteString(token)
		if clientGone {
			continue
		}
		if err := emit(token); err != nil {
			clientGone = true
			slog.Warn("client stopped reading, draining completion", "chat_id", cs.chatID, "error", err)
		}
	}

	return cs.svc.complete(ctx, cs.req, cs.chatID, reply.String())
}

// complete is the completion handler: it runs once the full reply is assembled.
func (s *ChatService) complete(ctx context.Context, req ChatRequest, chatID, reply string) (*domain.Chat, error) {
	createdAt := s.now().UnixMilli()

	messages := make([]domain.Message, 0, len(req.Messages)+1)
	messages = append(messages, req.Messages...)
	messages = append(messages, domain.Message{Role: domain.RoleAssistant, Content: reply})

	chat := &domain.Chat{
		ID:        chatID,
		Title:     domain.TitleFrom(req.Messages[0].Content),
		UserID:    req.UserID,
		CreatedAt: createdAt,
		Path:      domain.ChatPath(chatID),
		Messages:  messages,
	}

	if err := s.chats.Save(ctx, chat); err != nil {
		slog.Error("persist chat failed", "chat_id", chatID, "error", err)
		return nil, err
	}

	slog.Info("chat persisted", "chat_id", chatID, "user_id", req.UserID, "reply_chars", len(reply))
	return chat, nil
}
