// Package bootstrap builds the configured providers and stores for the server and the CLI.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/arturoeanton/support-chat-rag/internal/adapter/ai"
	"github.com/arturoeanton/support-chat-rag/internal/adapter/pinecone"
	"github.com/arturoeanton/support-chat-rag/internal/adapter/source"
	"github.com/arturoeanton/support-chat-rag/internal/adapter/sqlite"
	"github.com/arturoeanton/support-chat-rag/internal/adapter/store"
	"github.com/arturoeanton/support-chat-rag/internal/domain"
	"github.com/arturoeanton/support-chat-rag/internal/port"
	"github.com/arturoeanton/support-chat-rag/pkg/config"
)

// Provider is a model backend that both embeds and completes.
type Provider interface {
	port.Embedder
	port.Completer
}

// NewProvider returns the AI provider selected by cfg.AIProvider.
func NewProvider(cfg *config.Config) (Provider, error) {
	switch cfg.AIProvider {
	case config.AIProviderOpenAI:
		return ai.NewOpenAIProvider(ai.OpenAIConfig{
			APIKey:         cfg.OpenAIAPIKey,
			BaseURL:        cfg.OpenAIBaseURL,
			ChatModel:      cfg.OpenAIChatModel,
			EmbeddingModel: cfg.OpenAIEmbedModel,
		})
	case config.AIProviderOllama:
		return ai.NewOllamaProvider(
			ai.OllamaEndpointConfig{
				BaseURL: cfg.OllamaEmbedURL,
				Model:   cfg.OllamaEmbedModel,
				Token:   cfg.OllamaEmbedToken,
			},
			ai.OllamaEndpointConfig{
				BaseURL: cfg.OllamaChatURL,
				Model:   cfg.OllamaChatModel,
				Token:   cfg.OllamaChatToken,
			},
		), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q", cfg.AIProvider)
	}
}

// Stores holds the opened persistence backends.
type Stores struct {
	KV    port.KVStore
	Index port.VectorIndex
	Audit port.AuditStore

	closers []func() error
}

// OpenStores connects the KV, vector index and audit backends selected by cfg.
// The audit log lives next to the KV data.
func OpenStores(ctx context.Context, cfg *config.Config) (*Stores, error) {
	s := &Stores{}

	var pg *store.PostgresStore
	if cfg.NeedsPostgres() {
		var err error
		pg, err = store.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		s.closers = append(s.closers, pg.Close)

		dimension := 0
		if cfg.IndexBackend == config.IndexPgvector {
			dimension = cfg.EmbeddingDimension
		}
		if err := pg.Migrate(ctx, dimension); err != nil {
			s.Close()
			return nil, err
		}
	}

	var lite *sqlite.DB
	if cfg.NeedsSQLite() {
		var err error
		lite, err = sqlite.Open(cfg.SQLitePath)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		s.closers = append(s.closers, lite.Close)
	}

	switch cfg.KVBackend {
	case config.KVPostgres:
		s.KV, s.Audit = pg, pg
	case config.KVSQLite:
		s.KV, s.Audit = lite, lite
	default:
		s.Close()
		return nil, fmt.Errorf("unknown KV backend %q", cfg.KVBackend)
	}

	switch cfg.IndexBackend {
	case config.IndexPgvector:
		s.Index = store.NewVectorStore(pg, cfg.EmbeddingDimension)
	case config.IndexSQLite:
		s.Index = sqlite.NewVectorIndex(lite, cfg.EmbeddingDimension)
	case config.IndexPinecone:
		idx, err := pinecone.New(pinecone.Config{APIKey: cfg.PineconeAPIKey, Host: cfg.PineconeIndexHost})
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Index = idx
	default:
		s.Close()
		return nil, fmt.Errorf("unknown index backend %q", cfg.IndexBackend)
	}

	slog.Info("stores ready", "kv", cfg.KVBackend, "index", cfg.IndexBackend)
	return s, nil
}

// Close releases every opened backend.
func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			slog.Warn("close store", "error", err)
		}
	}
	s.closers = nil
}

// Source names accepted by Loaders.
const (
	SourceZendesk = "zendesk"
	SourceFiles   = "files"
)

// ErrNoDirectory is returned when the files source is used without a directory.
var ErrNoDirectory = errors.New("a directory is required for the files source")

// Loader fetches articles from one source; arg is the directory for the files source.
type Loader func(ctx context.Context, arg string) ([]domain.Article, error)

// Loaders returns the article sources available with cfg.
func Loaders(cfg *config.Config) map[string]Loader {
	return map[string]Loader{
		SourceZendesk: func(ctx context.Context, _ string) ([]domain.Article, error) {
			z, err := source.NewZendesk(source.ZendeskConfig{
				Subdomain: cfg.ZendeskSubdomain,
				BaseURL:   cfg.ZendeskBaseURL,
				Email:     cfg.ZendeskEmail,
				APIToken:  cfg.ZendeskAPIToken,
				Password:  cfg.ZendeskPassword,
			})
			if err != nil {
				return nil, err
			}
			return z.Articles(ctx)
		},
		SourceFiles: func(_ context.Context, dir string) ([]domain.Article, error) {
			if dir == "" {
				return nil, ErrNoDirectory
			}
			return source.Files(dir)
		},
	}
}
