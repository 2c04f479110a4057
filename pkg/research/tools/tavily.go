package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mikeboe/deep-search/pkg/research"
)

const tavilyURL = "https://api.tavily.com/search"

// Tavily calls the Tavily search API.
type Tavily struct {
	APIKey string
	// Depth controls Tavily's search_depth parameter (basic or advanced).
	Depth   string
	BaseURL string
	// Backoff is the first wait after a 429; it doubles up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
	client     *http.Client
}

func NewTavily(apiKey, depth string, client *http.Client) *Tavily {
	if depth == "" {
		depth = "basic"
	}
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &Tavily{APIKey: apiKey, Depth: depth, BaseURL: tavilyURL, Backoff: time.Second, MaxBackoff: 30 * time.Second, client: client}
}

// Search posts a query to Tavily, backing off while it answers 429.
func (t *Tavily) Search(ctx context.Context, query string, maxResults int) ([]research.ResultItem, error) {
	if strings.TrimSpace(t.APIKey) == "" {
		return nil, providerErr("tavily", query, 0, errors.New("API key is missing"))
	}
	if maxResults <= 0 {
		maxResults = 5
	}

	payload, err := json.Marshal(map[string]any{
		"query":        query,
		"search_depth": t.Depth,
		"max_results":  maxResults,
	})
	if err != nil {
		return nil, providerErr("tavily", query, 0, err)
	}

	var resp *http.Response
	delay := t.Backoff
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL, bytes.NewReader(payload))
		if err != nil {
			return nil, providerErr("tavily", query, 0, err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+t.APIKey)

		resp, err = t.client.Do(req)
		if err != nil {
			return nil, providerErr("tavily", query, 0, err)
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			break
		}
		resp.Body.Close()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		if delay < t.MaxBackoff {
			delay *= 2
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, providerErr("tavily", query, resp.StatusCode, errors.New("unexpected response"))
	}

	var response struct {
		Results []struct {
			Title         string `json:"title"`
			URL           string `json:"url"`
			Content       string `json:"content"`
			PublishedDate string `json:"published_date"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, providerErr("tavily", query, resp.StatusCode, fmt.Errorf("failed to decode response: %w", err))
	}

	items := make([]research.ResultItem, 0, len(response.Results))
	for _, r := range response.Results {
		items = append(items, research.ResultItem{
			URL:           r.URL,
			Summary:       withTitle(r.Title, r.Content),
			PublishedDate: r.PublishedDate,
		})
		if len(items) >= maxResults {
			break
		}
	}
	return items, nil
}
