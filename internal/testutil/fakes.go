// Package testutil provides in-memory implementations of the ports for tests.
package testutil

import (
	"context"
	"io"
	"sort"
	"sync"

	"github.com/arturoeanton/support-chat-rag/internal/domain"
	"github.com/arturoeanton/support-chat-rag/internal/port"
)

// Embedder returns a fixed vector and records the texts it was asked to embed.
type Embedder struct {
	mu     sync.Mutex
	Vector []float32
	Err    error
	Texts  []string
}

func (e *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Texts = append(e.Texts, text)
	if e.Err != nil {
		return nil, e.Err
	}
	if e.Vector == nil {
		return []float32{1, 0, 0}, nil
	}
	return e.Vector, nil
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Calls returns how many texts were embedded.
func (e *Embedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Texts)
}

// Index returns canned matches and keeps upserted documents per namespace.
type Index struct {
	mu        sync.Mutex
	Matches   []domain.Match
	Err       error
	Queries   int
	LastTopK  int
	LastNS    string
	Docs      map[string][]domain.Document
	Deleted   []string
	UpsertErr error
}

func (x *Index) Query(_ context.Context, _ []float32, topK int, namespace string) ([]domain.Match, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.Queries++
	x.LastTopK = topK
	x.LastNS = namespace
	if x.Err != nil {
		return nil, x.Err
	}
	return x.Matches, nil
}

func (x *Index) Upsert(_ context.Context, namespace string, docs []domain.Document) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.UpsertErr != nil {
		return x.UpsertErr
	}
	if x.Docs == nil {
		x.Docs = make(map[string][]domain.Document)
	}
	x.Docs[namespace] = append(x.Docs[namespace], docs...)
	return nil
}

func (x *Index) DeleteNamespace(_ context.Context, namespace string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.Deleted = append(x.Deleted, namespace)
	delete(x.Docs, namespace)
	return nil
}

// Completer replays Tokens for every stream and records the requests it received.
type Completer struct {
	mu        sync.Mutex
	Model     string
	Tokens    []string
	StreamErr error // returned from Recv after all tokens
	OpenErr   error // returned from Stream
	Requests  []port.CompletionRequest
}

func (c *Completer) ModelName() string {
	if c.Model == "" {
		return "fake-model"
	}
	return c.Model
}

func (c *Completer) Stream(_ context.Context, req port.CompletionRequest) (port.CompletionStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Requests = append(c.Requests, req)
	if c.OpenErr != nil {
		return nil, c.OpenErr
	}
	tokens := append([]string(nil), c.Tokens...)
	return &tokenStream{tokens: tokens, err: c.StreamErr}, nil
}

// Calls returns how many streams were opened.
func (c *Completer) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Requests)
}

// LastRequest returns the most recent completion request.
func (c *Completer) LastRequest() port.CompletionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Requests) == 0 {
		return port.CompletionRequest{}
	}
	return c.Requests[len(c.Requests)-1]
}

type tokenStream struct {
	tokens []string
	err    error
	closed bool
}

func (s *tokenStream) Recv() (string, error) {
	if len(s.tokens) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	t := s.tokens[0]
	s.tokens = s.tokens[1:]
	return t, nil
}

func (s *tokenStream) Close() error {
	s.closed = true
	return nil
}

// KV is an in-memory port.KVStore.
type KV struct {
	mu       sync.Mutex
	hashes   map[string]map[string]string
	zsets    map[string]map[string]float64
	HSets    int
	ZAdds    int
	WriteErr error
}

// NewKV creates an empty in-memory KV store.
func NewKV() *KV {
	return &KV{
		hashes: make(map[string]map[string]string),
		zsets:  make(map[string]map[string]float64),
	}
}

func (k *KV) HSet(_ context.Context, key string, fields map[string]string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.WriteErr != nil {
		return k.WriteErr
	}
	k.HSets++
	h, ok := k.hashes[key]
	if !ok {
		h = make(map[string]string)
		k.hashes[key] = h
	}
	for f, v := range fields {
		h[f] = v
	}
	return nil
}

func (k *KV) HGetAll(_ context.Context, key string) (map[string]string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make(map[string]string, len(k.hashes[key]))
	for f, v := range k.hashes[key] {
		out[f] = v
	}
	return out, nil
}

func (k *KV) ZAdd(_ context.Context, key string, score float64, member string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.WriteErr != nil {
		return k.WriteErr
	}
	k.ZAdds++
	z, ok := k.zsets[key]
	if !ok {
		z = make(map[string]float64)
		k.zsets[key] = z
	}
	z[member] = score
	return nil
}

func (k *KV) ZRevRange(_ context.Context, key string, start, stop int) ([]string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	z := k.zsets[key]
	members := make([]string, 0, len(z))
	for m := range z {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool {
		if z[members[i]] == z[members[j]] {
			return members[i] > members[j]
		}
		return z[members[i]] > z[members[j]]
	})
	if start >= len(members) {
		return []string{}, nil
	}
	end := len(members)
	if stop >= 0 && stop+1 < end {
		end = stop + 1
	}
	return members[start:end], nil
}

// Score returns a sorted-set member's score and whether it exists.
func (k *KV) Score(key, member string) (float64, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s, ok := k.zsets[key][member]
	return s, ok
}

// ScoreFloat is a convenience for building Match scores in tests.
func ScoreFloat(f float64) *float64 {
	return &f
}

// TextMatch builds a match carrying metadata.text.
func TextMatch(id, text string, score float64) domain.Match {
	return domain.Match{
		ID:       id,
		Score:    ScoreFloat(score),
		Metadata: map[string]any{"text": text, "title": "doc " + id},
	}
}
