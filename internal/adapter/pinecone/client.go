// Package pinecone implements port.VectorIndex against the Pinecone data-plane REST API.
package pinecone

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/arturoeanton/support-chat-rag/internal/domain"
)

const (
	apiVersion = "2024-07"

	// maxUpsertBatch keeps request bodies under Pinecone's 2MB limit for 1536-dim vectors.
	maxUpsertBatch = 100
)

// Config holds the index connection settings.
type Config struct {
	APIKey string
	Host   string // index host, e.g. support-abc123.svc.us-east1-gcp.pinecone.io
}

// Index is a Pinecone index client.
type Index struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// New creates a Pinecone index client.
func New(cfg Config) (*Index, error) {
	if cfg.APIKey == "" || cfg.Host == "" {
		return nil, fmt.Errorf("pinecone: api key and index host are required")
	}
	base := strings.TrimRight(cfg.Host, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	return &Index{
		apiKey:     cfg.APIKey,
		baseURL:    base,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type queryRequest struct {
	Vector          []float32 `json:"vector"`
	TopK            int       `json:"topK"`
	Namespace       string    `json:"namespace"`
	IncludeMetadata bool      `json:"includeMetadata"`
	IncludeValues   bool      `json:"includeValues"`
}

type queryResponse struct {
	Matches []struct {
		ID       string         `json:"id"`
		Score    *float64       `json:"score"`
		Values   []float32      `json:"values"`
		Metadata map[string]any `json:"metadata"`
	} `json:"matches"`
}

// Query returns the topK nearest vectors in namespace, in the order Pinecone ranks them.
// Matches without an id are dropped.
func (x *Index) Query(ctx context.Context, vector []float32, topK int, namespace string) ([]domain.Match, error) {
	var resp queryResponse
	err := x.post(ctx, "/query", queryRequest{
		Vector:          vector,
		TopK:            topK,
		Namespace:       namespace,
		IncludeMetadata: true,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("pinecone query: %w", err)
	}

	matches := make([]domain.Match, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		if m.ID == "" {
			slog.Warn("pinecone returned a match without id", "namespace", namespace)
			continue
		}
		matches = append(matches, domain.Match{
			ID:       m.ID,
			Score:    m.Score,
			Values:   m.Values,
			Metadata: m.Metadata,
		})
	}
	return matches, nil
}

type upsertRequest struct {
	Vectors   []domain.Document `json:"vectors"`
	Namespace string            `json:"namespace"`
}

// Upsert writes docs in batches.
func (x *Index) Upsert(ctx context.Context, namespace string, docs []domain.Document) error {
	for start := 0; start < len(docs); start += maxUpsertBatch {
		end := start + maxUpsertBatch
		if end > len(docs) {
			end = len(docs)
		}
		var resp struct {
			UpsertedCount int `json:"upsertedCount"`
		}
		if err := x.post(ctx, "/vectors/upsert", upsertRequest{Vectors: docs[start:end], Namespace: namespace}, &resp); err != nil {
			return fmt.Errorf("pinecone upsert: %w", err)
		}
		slog.Debug("pinecone upsert", "namespace", namespace, "count", resp.UpsertedCount)
	}
	return nil
}

// DeleteNamespace removes every vector in namespace.
func (x *Index) DeleteNamespace(ctx context.Context, namespace string) error {
	body := map[string]any{"deleteAll": true, "namespace": namespace}
	if err := x.post(ctx, "/vectors/delete", body, nil); err != nil {
		return fmt.Errorf("pinecone delete: %w", err)
	}
	return nil
}

func (x *Index) post(ctx context.Context, path string, payload, out any) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, x.baseURL+path, bytes.NewReader(payloadBytes))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Key", x.apiKey)
	req.Header.Set("X-Pinecone-API-Version", apiVersion)

	resp, err := x.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
