// Package source fetches support articles for ingestion.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/arturoeanton/support-chat-rag/internal/domain"
)

// maxPages bounds pagination against a misbehaving next_page loop.
const maxPages = 1000

// ZendeskConfig holds Help Center credentials. Token auth wins over password auth.
type ZendeskConfig struct {
	Subdomain string // e.g. pointsbetsupport
	BaseURL   string // overrides https://<subdomain>.zendesk.com
	Email     string
	APIToken  string
	Password  string
	Locale    string // optional, e.g. en-us
}

// Zendesk reads articles from the Zendesk Help Center API.
type Zendesk struct {
	cfg        ZendeskConfig
	baseURL    string
	httpClient *http.Client
}

// NewZendesk creates a Help Center client.
func NewZendesk(cfg ZendeskConfig) (*Zendesk, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		if cfg.Subdomain == "" {
			return nil, fmt.Errorf("zendesk: subdomain or base URL is required")
		}
		base = "https://" + cfg.Subdomain + ".zendesk.com"
	}
	return &Zendesk{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type articlePage struct {
	Articles []struct {
		ID      int64  `json:"id"`
		Title   string `json:"title"`
		Body    string `json:"body"`
		HTMLURL string `json:"html_url"`
		Draft   bool   `json:"draft"`
	} `json:"articles"`
	NextPage *string `json:"next_page"`
}

// Articles returns every published article, following next_page links.
func (z *Zendesk) Articles(ctx context.Context) ([]domain.Article, error) {
	path := "/api/v2/help_center/articles.json?per_page=100"
	if z.cfg.Locale != "" {
		path = "/api/v2/help_center/" + z.cfg.Locale + "/articles.json?per_page=100"
	}
	next := z.baseURL + path

	var articles []domain.Article
	for page := 1; next != ""; page++ {
		if page > maxPages {
			return nil, fmt.Errorf("zendesk: more than %d pages", maxPages)
		}

		var p articlePage
		if err := z.get(ctx, next, &p); err != nil {
			return nil, fmt.Errorf("zendesk page %d: %w", page, err)
		}
		for _, a := range p.Articles {
			if a.Draft {
				continue
			}
			articles = append(articles, domain.Article{
				ID:     strconv.FormatInt(a.ID, 10),
				Title:  a.Title,
				Body:   a.Body,
				URL:    a.HTMLURL,
				Source: "zendesk",
			})
		}
		slog.Debug("zendesk page fetched", "page", page, "articles", len(p.Articles))

		next = ""
		if p.NextPage != nil {
			next = *p.NextPage
		}
	}
	return articles, nil
}

func (z *Zendesk) get(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	switch {
	case z.cfg.APIToken != "":
		req.SetBasicAuth(z.cfg.Email+"/token", z.cfg.APIToken)
	case z.cfg.Password != "":
		req.SetBasicAuth(z.cfg.Email, z.cfg.Password)
	}

	resp, err := z.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("zendesk API error (%d): %s", resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
