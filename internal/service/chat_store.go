package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/arturoeanton/support-chat-rag/internal/domain"
	"github.com/arturoeanton/support-chat-rag/internal/port"
)

// ChatStore persists chat records as hashes and indexes them per user by recency.
type ChatStore struct {
	kv port.KVStore
}

// NewChatStore wraps a key-value store.
func NewChatStore(kv port.KVStore) *ChatStore {
	return &ChatStore{kv: kv}
}

// Save writes the chat hash, then adds it to the owner's sorted set scored by CreatedAt.
// An existing record owned by another user is never overwritten.
func (s *ChatStore) Save(ctx context.Context, chat *domain.Chat) error {
	if err := s.CheckOwner(ctx, chat.UserID, chat.ID); err != nil {
		return err
	}

	fields, err := chat.Fields()
	if err != nil {
		return fmt.Errorf("encode chat: %w", err)
	}

	key := domain.ChatKey(chat.ID)
	if err := s.kv.HSet(ctx, key, fields); err != nil {
		return fmt.Errorf("hset %s: %w", key, err)
	}

	userKey := domain.UserChatsKey(chat.UserID)
	if err := s.kv.ZAdd(ctx, userKey, float64(chat.CreatedAt), key); err != nil {
		return fmt.Errorf("zadd %s: %w", userKey, err)
	}
	return nil
}

// Get returns the chat with the given id.
func (s *ChatStore) Get(ctx context.Context, id string) (*domain.Chat, error) {
	fields, err := s.kv.HGetAll(ctx, domain.ChatKey(id))
	if err != nil {
		return nil, fmt.Errorf("hgetall: %w", err)
	}
	if len(fields) == 0 {
		return nil, port.ErrChatNotFound
	}
	return domain.ChatFromFields(fields)
}

// CheckOwner returns ErrChatForbidden when chat id exists and belongs to someone other than userID.
func (s *ChatStore) CheckOwner(ctx context.Context, userID, id string) error {
	chat, err := s.Get(ctx, id)
	if errors.Is(err, port.ErrChatNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if chat.UserID != userID {
		return port.ErrChatForbidden
	}
	return nil
}

// GetForUser returns the chat only if userID owns it.
func (s *ChatStore) GetForUser(ctx context.Context, userID, id string) (*domain.Chat, error) {
	chat, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if chat.UserID != userID {
		return nil, port.ErrChatNotFound
	}
	return chat, nil
}

// List returns up to limit of the user's chats, newest first. limit <= 0 means all.
func (s *ChatStore) List(ctx context.Context, userID string, limit int) ([]domain.Chat, error) {
	stop := -1
	if limit > 0 {
		stop = limit - 1
	}
	keys, err := s.kv.ZRevRange(ctx, domain.UserChatsKey(userID), 0, stop)
	if err != nil {
		return nil, fmt.Errorf("zrevrange: %w", err)
	}

	chats := make([]domain.Chat, 0, len(keys))
	for _, key := range keys {
		fields, err := s.kv.HGetAll(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("hgetall %s: %w", key, err)
		}
		if len(fields) == 0 {
			continue
		}
		chat, err := domain.ChatFromFields(fields)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		if chat.UserID != userID {
			continue
		}
		chats = append(chats, *chat)
	}
	return chats, nil
}
