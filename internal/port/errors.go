package port

import "errors"

// Sentinel errors used across ports.
var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrEmptyQuery    = errors.New("query message is empty")
	ErrNoMessages    = errors.New("conversation has no messages")
	ErrChatNotFound  = errors.New("chat not found")
	ErrChatForbidden = errors.New("chat belongs to another user")
	ErrInvalidMatch  = errors.New("invalid match")
	ErrStreamDrained = errors.New("completion stream already drained")
)
