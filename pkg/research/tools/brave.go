package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mikeboe/deep-search/pkg/research"
	"golang.org/x/time/rate"
)

const braveURL = "https://api.search.brave.com/res/v1/web/search"

// Brave uses the Brave Search API. Requests from one instance are paced by a
// shared limiter to respect the 1 req/s plan limit.
type Brave struct {
	APIKey  string
	BaseURL string
	// Retries bounds how many 429 responses are waited out.
	Retries int
	limiter *rate.Limiter
	client  *http.Client
}

func NewBrave(apiKey string, client *http.Client) *Brave {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &Brave{
		APIKey:  apiKey,
		BaseURL: braveURL,
		Retries: 3,
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		client:  client,
	}
}

func (b *Brave) Search(ctx context.Context, query string, maxResults int) ([]research.ResultItem, error) {
	if strings.TrimSpace(b.APIKey) == "" {
		return nil, providerErr("brave", query, 0, errors.New("API key is missing"))
	}
	if maxResults <= 0 {
		maxResults = 5
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("count", strconv.Itoa(maxResults))
	endpoint := b.BaseURL + "?" + params.Encode()

	var resp *http.Response
	for attempt := 0; ; attempt++ {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, providerErr("brave", query, 0, err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Subscription-Token", b.APIKey)

		resp, err = b.client.Do(req)
		if err != nil {
			return nil, providerErr("brave", query, 0, err)
		}
		if resp.StatusCode != http.StatusTooManyRequests || attempt >= b.Retries {
			break
		}
		resp.Body.Close()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(braveRetryDelay(resp.Header)):
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, providerErr("brave", query, resp.StatusCode, errors.New("unexpected response"))
	}

	var payload struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
				PageAge     string `json:"page_age"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, providerErr("brave", query, resp.StatusCode, fmt.Errorf("failed to decode response: %w", err))
	}

	items := make([]research.ResultItem, 0, len(payload.Web.Results))
	for _, r := range payload.Web.Results {
		items = append(items, research.ResultItem{
			URL:           r.URL,
			Summary:       withTitle(r.Title, r.Description),
			PublishedDate: r.PageAge,
		})
		if len(items) >= maxResults {
			break
		}
	}
	return items, nil
}

// braveRetryDelay reads the smallest reset from X-RateLimit-Reset ("1, 1419704").
func braveRetryDelay(h http.Header) time.Duration {
	minReset := -1
	for _, part := range strings.Split(h.Get("X-RateLimit-Reset"), ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 {
			continue
		}
		if minReset < 0 || n < minReset {
			minReset = n
		}
	}
	if minReset <= 0 {
		return time.Second
	}
	return time.Duration(minReset) * time.Second
}
