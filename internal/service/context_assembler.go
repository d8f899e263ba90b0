package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/arturoeanton/support-chat-rag/internal/domain"
	"github.com/arturoeanton/support-chat-rag/internal/port"
)

// Context assembly defaults.
const (
	DefaultMaxChars = 3000
	DefaultMinScore = 0.7
	DefaultTopK     = 10
)

// NoContextFallback replaces the text of a match that carries no metadata.text.
const NoContextFallback = "Unfortunately, no relevant context was found for this message."

// ContextOptions tunes a single GetContext call.
type ContextOptions struct {
	MaxChars int
	MinScore float64
	OnlyText bool
}

// ContextOption mutates ContextOptions.
type ContextOption func(*ContextOptions)

// WithMaxChars caps the assembled context at n characters.
func WithMaxChars(n int) ContextOption {
	return func(o *ContextOptions) { o.MaxChars = n }
}

// WithMinScore sets the minimum similarity score. It only filters when the
// assembler was built with EnforceMinScore.
func WithMinScore(score float64) ContextOption {
	return func(o *ContextOptions) { o.MinScore = score }
}

// WithOnlyText selects plain joined text (true) or segments prefixed by a match header (false).
func WithOnlyText(onlyText bool) ContextOption {
	return func(o *ContextOptions) { o.OnlyText = onlyText }
}

// AssemblerConfig configures a ContextAssembler.
type AssemblerConfig struct {
	TopK            int
	MaxChars        int
	MinScore        *float64 // nil = DefaultMinScore
	EnforceMinScore bool
}

// ContextAssembler turns a user message into a bounded context string from the vector index.
type ContextAssembler struct {
	embedder port.Embedder
	index    port.VectorIndex
	cfg      AssemblerConfig
	minScore float64
}

// NewContextAssembler creates an assembler. Non-positive counts and a nil MinScore take the package defaults.
func NewContextAssembler(embedder port.Embedder, index port.VectorIndex, cfg AssemblerConfig) *ContextAssembler {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = DefaultMaxChars
	}
	minScore := DefaultMinScore
	if cfg.MinScore != nil {
		minScore = *cfg.MinScore
	}
	return &ContextAssembler{embedder: embedder, index: index, cfg: cfg, minScore: minScore}
}

// Matches embeds the message and returns the index matches in index order.
func (a *ContextAssembler) Matches(ctx context.Context, message, namespace string) ([]domain.Match, error) {
	if strings.TrimSpace(message) == "" {
		return nil, port.ErrEmptyQuery
	}

	vector, err := a.embedder.Embed(ctx, message)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	matches, err := a.index.Query(ctx, vector, a.cfg.TopK, namespace)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	return matches, nil
}

// GetContext retrieves the matches for message in namespace and joins their
// texts with newlines, cut to at most MaxChars characters.
func (a *ContextAssembler) GetContext(ctx context.Context, message, namespace string, opts ...ContextOption) (string, error) {
	o := ContextOptions{
		MaxChars: a.cfg.MaxChars,
		MinScore: a.minScore,
		OnlyText: true,
	}
	for _, opt := range opts {
		opt(&o)
	}

	matches, err := a.Matches(ctx, message, namespace)
	if err != nil {
		return "", err
	}

	if a.cfg.EnforceMinScore {
		matches = filterByScore(matches, o.MinScore)
	}

	docs := make([]string, len(matches))
	for i, m := range matches {
		docs[i] = segment(m, o.OnlyText)
	}

	joined := truncateChars(strings.Join(docs, "\n"), o.MaxChars)

	slog.Debug("assembled context",
		"namespace", namespace,
		"matches", len(matches),
		"chars", utf8.RuneCountInString(joined),
	)
	return joined, nil
}

func segment(m domain.Match, onlyText bool) string {
	text, ok := m.Text()
	if !ok {
		text = NoContextFallback
	}
	if onlyText {
		return text
	}
	score := "n/a"
	if m.Score != nil {
		score = strconv.FormatFloat(*m.Score, 'f', 3, 64)
	}
	return fmt.Sprintf("[%s score=%s]\n%s", m.ID, score, text)
}

// filterByScore drops matches below minScore. A match without a score cannot satisfy the bound.
func filterByScore(matches []domain.Match, minScore float64) []domain.Match {
	kept := make([]domain.Match, 0, len(matches))
	for _, m := range matches {
		if m.Score != nil && *m.Score >= minScore {
			kept = append(kept, m)
		}
	}
	return kept
}

// truncateChars hard-cuts s to at most limit runes.
func truncateChars(s string, limit int) string {
	if limit < 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
