package port

import (
	"context"

	"github.com/arturoeanton/support-chat-rag/internal/domain"
)

// Embedder converts text into a fixed-dimension vector.
// Implementations can target OpenAI, Ollama, or any compatible API.
type Embedder interface {
	// Embed generates a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// CompletionRequest is a single chat completion call.
type CompletionRequest struct {
	Model       string
	Messages    []domain.Message
	Temperature float32

	// APIKey overrides the provider's configured key for this call only.
	APIKey string
}

// CompletionStream yields generated tokens. Recv returns io.EOF once the model is done.
type CompletionStream interface {
	Recv() (string, error)
	Close() error
}

// Completer streams language-model completions.
type Completer interface {
	// ModelName returns the default chat model identifier.
	ModelName() string

	// Stream starts a completion and returns its token stream.
	Stream(ctx context.Context, req CompletionRequest) (CompletionStream, error)
}
