package service

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/arturoeanton/support-chat-rag/internal/domain"
	"github.com/arturoeanton/support-chat-rag/internal/port"
	"github.com/arturoeanton/support-chat-rag/internal/util"
	"github.com/google/uuid"
)

// MaxArticleChars is the largest raw article body that is indexed.
const MaxArticleChars = 15000

const (
	defaultIngestBatch   = 50
	defaultEmbedAttempts = 3
	defaultRetryDelay    = 500 * time.Millisecond
)

var htmlTag = regexp.MustCompile(`<.*?>`)

// StripHTML removes tags and decodes entities.
func StripHTML(s string) string {
	return strings.TrimSpace(html.UnescapeString(htmlTag.ReplaceAllString(s, "")))
}

// IngestConfig configures an IngestService.
type IngestConfig struct {
	BatchSize     int
	EmbedAttempts int
	RetryDelay    time.Duration
}

// IngestReport summarises one ingestion run.
type IngestReport struct {
	Total    int `json:"total"`
	Indexed  int `json:"indexed"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
	Duration time.Duration
}

// ProgressFunc observes an ingestion run after each article.
type ProgressFunc func(processed int, report IngestReport)

// IngestService embeds support articles and writes them to the vector index.
type IngestService struct {
	embedder port.Embedder
	index    port.VectorIndex
	cfg      IngestConfig
	newID    func() string
	progress ProgressFunc
}

// NewIngestService creates a new ingestion service.
func NewIngestService(embedder port.Embedder, index port.VectorIndex, cfg IngestConfig) *IngestService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultIngestBatch
	}
	if cfg.EmbedAttempts <= 0 {
		cfg.EmbedAttempts = defaultEmbedAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	return &IngestService{embedder: embedder, index: index, cfg: cfg, newID: uuid.NewString}
}

// WithProgress returns a copy of s that reports to fn.
func (s *IngestService) WithProgress(fn ProgressFunc) *IngestService {
	c := *s
	c.progress = fn
	return &c
}

func (s *IngestService) notify(processed int, r IngestReport) {
	if s.progress != nil {
		s.progress(processed, r)
	}
}

// Reset removes every document in namespace.
func (s *IngestService) Reset(ctx context.Context, namespace string) error {
	if err := s.index.DeleteNamespace(ctx, namespace); err != nil {
		return fmt.Errorf("delete namespace %q: %w", namespace, err)
	}
	slog.Info("namespace reset", "namespace", namespace)
	return nil
}

// IngestArticles indexes articles into namespace. Articles with an empty
// title or body, or a body over MaxArticleChars, are skipped. A failed
// embedding is logged and counted; a failed upsert aborts the run.
func (s *IngestService) IngestArticles(ctx context.Context, namespace string, articles []domain.Article) (IngestReport, error) {
	start := time.Now()
	report := IngestReport{Total: len(articles)}

	batch := make([]domain.Document, 0, s.cfg.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.index.Upsert(ctx, namespace, batch); err != nil {
			return fmt.Errorf("upsert %d documents: %w", len(batch), err)
		}
		report.Indexed += len(batch)
		batch = batch[:0]
		return nil
	}

	for i, a := range articles {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		doc, result := s.prepare(ctx, a)
		switch result {
		case outcomeSkipped:
			report.Skipped++
		case outcomeFailed:
			report.Failed++
		default:
			batch = append(batch, doc)
			if len(batch) >= s.cfg.BatchSize {
				if err := flush(); err != nil {
					return report, err
				}
			}
		}
		s.notify(i+1, report)
	}
	if err := flush(); err != nil {
		return report, err
	}

	report.Duration = time.Since(start)
	slog.Info("ingestion complete",
		"namespace", namespace,
		"total", report.Total,
		"indexed", report.Indexed,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"duration", report.Duration,
	)
	return report, nil
}

type outcome int

const (
	outcomeReady outcome = iota
	outcomeSkipped
	outcomeFailed
)

func (s *IngestService) prepare(ctx context.Context, a domain.Article) (domain.Document, outcome) {
	if strings.TrimSpace(a.Title) == "" || strings.TrimSpace(a.Body) == "" {
		return domain.Document{}, outcomeSkipped
	}
	if n := utf8.RuneCountInString(a.Body); n > MaxArticleChars {
		slog.Info("skipping long article", "title", a.Title, "chars", n)
		return domain.Document{}, outcomeSkipped
	}

	text := StripHTML(a.Body)
	if text == "" {
		return domain.Document{}, outcomeSkipped
	}

	var vector []float32
	err := util.Retry(ctx, s.cfg.EmbedAttempts, s.cfg.RetryDelay, "embed article", func() error {
		v, err := s.embedder.Embed(ctx, text)
		vector = v
		return err
	})
	if err != nil {
		slog.Error("embedding failed", "title", a.Title, "error", err)
		return domain.Document{}, outcomeFailed
	}

	source := a.Source
	if source == "" {
		source = "zendesk"
	}
	metadata := map[string]any{
		"source": source,
		"title":  a.Title,
		"text":   text,
	}
	if a.URL != "" {
		metadata["url"] = a.URL
	}
	return domain.Document{ID: s.newID(), Values: vector, Metadata: metadata}, outcomeReady
}
