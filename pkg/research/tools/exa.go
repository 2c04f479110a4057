package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mikeboe/deep-search/pkg/research"
)

const exaURL = "https://api.exa.ai/search"

// Exa searches with Exa and asks it to summarize every hit.
type Exa struct {
	APIKey  string
	BaseURL string
	client  *http.Client
}

func NewExa(apiKey string, client *http.Client) *Exa {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &Exa{APIKey: apiKey, BaseURL: exaURL, client: client}
}

type exaRequest struct {
	Query      string      `json:"query"`
	NumResults int         `json:"numResults"`
	Contents   exaContents `json:"contents"`
}

type exaContents struct {
	Summary bool `json:"summary"`
}

type exaResponse struct {
	Results []struct {
		URL           string  `json:"url"`
		Title         string  `json:"title"`
		PublishedDate *string `json:"publishedDate"`
		Author        *string `json:"author"`
		Summary       string  `json:"summary"`
	} `json:"results"`
}

func (e *Exa) Search(ctx context.Context, query string, maxResults int) ([]research.ResultItem, error) {
	if strings.TrimSpace(e.APIKey) == "" {
		return nil, providerErr("exa", query, 0, errors.New("API key is missing"))
	}
	if maxResults <= 0 {
		maxResults = 5
	}

	payload, err := json.Marshal(exaRequest{Query: query, NumResults: maxResults, Contents: exaContents{Summary: true}})
	if err != nil {
		return nil, providerErr("exa", query, 0, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.BaseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, providerErr("exa", query, 0, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", e.APIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, providerErr("exa", query, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, providerErr("exa", query, resp.StatusCode, fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(body))))
	}

	var out exaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, providerErr("exa", query, resp.StatusCode, fmt.Errorf("failed to decode response: %w", err))
	}

	items := make([]research.ResultItem, 0, len(out.Results))
	for _, r := range out.Results {
		items = append(items, research.ResultItem{
			URL:           r.URL,
			Summary:       r.Summary,
			PublishedDate: deref(r.PublishedDate),
			Author:        deref(r.Author),
		})
		if len(items) >= maxResults {
			break
		}
	}
	return items, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
