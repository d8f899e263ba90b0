package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/arturoeanton/support-chat-rag/internal/domain"
	"github.com/arturoeanton/support-chat-rag/internal/port"
	"github.com/arturoeanton/support-chat-rag/internal/testutil"
)

func newAssembler(matches []domain.Match, cfg AssemblerConfig) (*ContextAssembler, *testutil.Embedder, *testutil.Index) {
	emb := &testutil.Embedder{}
	idx := &testutil.Index{Matches: matches}
	return NewContextAssembler(emb, idx, cfg), emb, idx
}

func TestGetContext_TruncatesMidSegment(t *testing.T) {
	matches := []domain.Match{
		testutil.TextMatch("a", strings.Repeat("A", 10), 0.9),
		testutil.TextMatch("b", strings.Repeat("B", 10), 0.8),
		testutil.TextMatch("c", strings.Repeat("C", 10), 0.75),
	}
	a, _, _ := newAssembler(matches, AssemblerConfig{})

	got, err := a.GetContext(context.Background(), "refund policy", "", WithMaxChars(25))
	if err != nil {
		t.Fatalf("GetContext() error = %v", err)
	}

	want := "AAAAAAAAAA\nBBBBBBBBBB\nCCC"
	if got != want {
		t.Errorf("GetContext() = %q, want %q", got, want)
	}
	if len(got) != 25 {
		t.Errorf("len = %d, want 25", len(got))
	}
}

func TestGetContext_MissingTextUsesFallback(t *testing.T) {
	matches := []domain.Match{
		testutil.TextMatch("a", "first", 0.9),
		{ID: "b", Score: testutil.ScoreFloat(0.8), Metadata: map[string]any{"title": "no text here"}},
		{ID: "c", Metadata: nil},
		{ID: "d", Metadata: map[string]any{"text": 42}},
	}
	a, _, _ := newAssembler(matches, AssemblerConfig{})

	got, err := a.GetContext(context.Background(), "hello", "")
	if err != nil {
		t.Fatalf("GetContext() error = %v", err)
	}

	parts := strings.Split(got, "\n")
	if len(parts) != 4 {
		t.Fatalf("got %d segments, want 4: %q", len(parts), got)
	}
	if parts[0] != "first" {
		t.Errorf("segment 0 = %q, want %q", parts[0], "first")
	}
	for i := 1; i < 4; i++ {
		if parts[i] != NoContextFallback {
			t.Errorf("segment %d = %q, want fallback", i, parts[i])
		}
	}
}

func TestGetContext_PreservesIndexOrder(t *testing.T) {
	// Scores deliberately out of order: the assembler must not re-sort.
	matches := []domain.Match{
		testutil.TextMatch("1", "low", 0.1),
		testutil.TextMatch("2", "high", 0.99),
		testutil.TextMatch("3", "mid", 0.5),
	}
	a, _, _ := newAssembler(matches, AssemblerConfig{})

	got, err := a.GetContext(context.Background(), "q", "")
	if err != nil {
		t.Fatalf("GetContext() error = %v", err)
	}
	if got != "low\nhigh\nmid" {
		t.Errorf("GetContext() = %q, want index order", got)
	}
}

func TestGetContext_NoMatchesIsEmpty(t *testing.T) {
	a, _, _ := newAssembler(nil, AssemblerConfig{})

	got, err := a.GetContext(context.Background(), "anything", "")
	if err != nil {
		t.Fatalf("GetContext() error = %v", err)
	}
	if got != "" {
		t.Errorf("GetContext() = %q, want empty", got)
	}
}

func TestGetContext_NeverExceedsMaxChars(t *testing.T) {
	long := strings.Repeat("x", 700)
	var matches []domain.Match
	for i := 0; i < 10; i++ {
		matches = append(matches, testutil.TextMatch(string(rune('a'+i)), long, 0.9))
	}
	a, _, _ := newAssembler(matches, AssemblerConfig{})

	for _, limit := range []int{1, 10, 699, 700, 701, 3000, 7009, 7010, 100000} {
		got, err := a.GetContext(context.Background(), "q", "", WithMaxChars(limit))
		if err != nil {
			t.Fatalf("GetContext(max=%d) error = %v", limit, err)
		}
		if n := utf8.RuneCountInString(got); n > limit {
			t.Errorf("max=%d: got %d chars", limit, n)
		}
	}

	got, _ := a.GetContext(context.Background(), "q", "")
	if n := utf8.RuneCountInString(got); n != DefaultMaxChars {
		t.Errorf("default cut = %d chars, want %d", n, DefaultMaxChars)
	}
}

func TestGetContext_TruncatesByCharactersNotBytes(t *testing.T) {
	matches := []domain.Match{testutil.TextMatch("a", "héllo wörld", 0.9)}
	a, _, _ := newAssembler(matches, AssemblerConfig{})

	got, err := a.GetContext(context.Background(), "q", "", WithMaxChars(5))
	if err != nil {
		t.Fatalf("GetContext() error = %v", err)
	}
	if got != "héllo" {
		t.Errorf("GetContext() = %q, want %q", got, "héllo")
	}
	if !utf8.ValidString(got) {
		t.Error("truncation produced invalid UTF-8")
	}
}

func TestGetContext_PassesNamespaceAndTopK(t *testing.T) {
	a, emb, idx := newAssembler(nil, AssemblerConfig{})

	if _, err := a.GetContext(context.Background(), "where is my payout", "pointsbet"); err != nil {
		t.Fatalf("GetContext() error = %v", err)
	}
	if idx.LastNS != "pointsbet" {
		t.Errorf("namespace = %q, want pointsbet", idx.LastNS)
	}
	if idx.LastTopK != DefaultTopK {
		t.Errorf("topK = %d, want %d", idx.LastTopK, DefaultTopK)
	}
	if len(emb.Texts) != 1 || emb.Texts[0] != "where is my payout" {
		t.Errorf("embedded texts = %v", emb.Texts)
	}
}

func TestGetContext_MinScoreIsNoOpByDefault(t *testing.T) {
	matches := []domain.Match{
		testutil.TextMatch("a", "weak", 0.1),
		{ID: "b", Metadata: map[string]any{"text": "unscored"}},
	}
	a, _, _ := newAssembler(matches, AssemblerConfig{})

	got, err := a.GetContext(context.Background(), "q", "", WithMinScore(0.9))
	if err != nil {
		t.Fatalf("GetContext() error = %v", err)
	}
	if got != "weak\nunscored" {
		t.Errorf("GetContext() = %q, want both matches kept", got)
	}
}

func TestGetContext_EnforcedMinScoreFilters(t *testing.T) {
	matches := []domain.Match{
		testutil.TextMatch("a", "strong", 0.92),
		testutil.TextMatch("b", "weak", 0.4),
		{ID: "c", Metadata: map[string]any{"text": "unscored"}},
		testutil.TextMatch("d", "edge", 0.7),
	}
	a, _, _ := newAssembler(matches, AssemblerConfig{EnforceMinScore: true})

	got, err := a.GetContext(context.Background(), "q", "")
	if err != nil {
		t.Fatalf("GetContext() error = %v", err)
	}
	if got != "strong\nedge" {
		t.Errorf("GetContext() = %q, want %q", got, "strong\nedge")
	}
}

func TestGetContext_WithHeaders(t *testing.T) {
	matches := []domain.Match{
		testutil.TextMatch("doc-1", "body", 0.8),
		{ID: "doc-2"},
	}
	a, _, _ := newAssembler(matches, AssemblerConfig{})

	got, err := a.GetContext(context.Background(), "q", "", WithOnlyText(false))
	if err != nil {
		t.Fatalf("GetContext() error = %v", err)
	}
	want := "[doc-1 score=0.800]\nbody\n[doc-2 score=n/a]\n" + NoContextFallback
	if got != want {
		t.Errorf("GetContext() = %q, want %q", got, want)
	}
}

func TestGetContext_Errors(t *testing.T) {
	embedErr := errors.New("embedding provider down")
	indexErr := errors.New("index unreachable")

	tests := []struct {
		name    string
		message string
		emb     *testutil.Embedder
		idx     *testutil.Index
		want    error
	}{
		{name: "empty message", message: "   ", emb: &testutil.Embedder{}, idx: &testutil.Index{}, want: port.ErrEmptyQuery},
		{name: "embedder fails", message: "q", emb: &testutil.Embedder{Err: embedErr}, idx: &testutil.Index{}, want: embedErr},
		{name: "index fails", message: "q", emb: &testutil.Embedder{}, idx: &testutil.Index{Err: indexErr}, want: indexErr},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewContextAssembler(tt.emb, tt.idx, AssemblerConfig{})
			_, err := a.GetContext(context.Background(), tt.message, "")
			if !errors.Is(err, tt.want) {
				t.Fatalf("GetContext() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestGetContext_EmptyMessageSkipsCollaborators(t *testing.T) {
	a, emb, idx := newAssembler(nil, AssemblerConfig{})

	_, _ = a.GetContext(context.Background(), "", "")
	if emb.Calls() != 0 || idx.Queries != 0 {
		t.Errorf("collaborators called: embed=%d query=%d", emb.Calls(), idx.Queries)
	}
}

func TestGetContext_ExplicitZeroMinScoreIsKept(t *testing.T) {
	zero := 0.0
	matches := []domain.Match{
		testutil.TextMatch("a", "weak", 0.1),
		{ID: "b", Metadata: map[string]any{"text": "unscored"}},
	}
	a, _, _ := newAssembler(matches, AssemblerConfig{MinScore: &zero, EnforceMinScore: true})

	got, err := a.GetContext(context.Background(), "q", "")
	if err != nil {
		t.Fatalf("GetContext() error = %v", err)
	}
	if got != "weak" {
		t.Errorf("GetContext() = %q, want %q", got, "weak")
	}
}
