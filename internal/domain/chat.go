package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TitleMaxChars is the number of characters of the first message kept as the chat title.
const TitleMaxChars = 100

// Message is one role-tagged turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Chat is a persisted conversation, written once after the assistant reply completes.
type Chat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UserID    string    `json:"userId"`
	CreatedAt int64     `json:"createdAt"` // unix milliseconds
	Path      string    `json:"path"`
	Messages  []Message `json:"messages"`
}

// ChatKey is the hash key a chat record is stored under.
func ChatKey(id string) string {
	return "chat:" + id
}

// UserChatsKey is the sorted-set key indexing a user's chats by creation time.
func UserChatsKey(userID string) string {
	return "user:chat:" + userID
}

// ChatPath is the client-side path of a chat.
func ChatPath(id string) string {
	return "/chat/" + id
}

// TitleFrom returns the first TitleMaxChars characters of s.
func TitleFrom(s string) string {
	r := []rune(s)
	if len(r) <= TitleMaxChars {
		return s
	}
	return string(r[:TitleMaxChars])
}

// Fields flattens the chat into hash fields.
func (c *Chat) Fields() (map[string]string, error) {
	msgs, err := json.Marshal(c.Messages)
	if err != nil {
		return nil, fmt.Errorf("marshal messages: %w", err)
	}
	return map[string]string{
		"id":        c.ID,
		"title":     c.Title,
		"userId":    c.UserID,
		"createdAt": strconv.FormatInt(c.CreatedAt, 10),
		"path":      c.Path,
		"messages":  string(msgs),
	}, nil
}

// ChatFromFields rebuilds a chat from its hash fields.
func ChatFromFields(fields map[string]string) (*Chat, error) {
	c := &Chat{
		ID:     fields["id"],
		Title:  fields["title"],
		UserID: fields["userId"],
		Path:   fields["path"],
	}
	if v := fields["createdAt"]; v != "" {
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse createdAt: %w", err)
		}
		c.CreatedAt = ts
	}
	if v := fields["messages"]; v != "" {
		if err := json.Unmarshal([]byte(v), &c.Messages); err != nil {
			return nil, fmt.Errorf("unmarshal messages: %w", err)
		}
	}
	return c, nil
}
