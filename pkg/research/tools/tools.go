// Package tools holds the web search providers behind research.SearchProvider.
package tools

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mikeboe/deep-search/pkg/config"
	"github.com/mikeboe/deep-search/pkg/research"
)

// New builds the search provider selected by cfg.SearchProvider.
func New(cfg *config.Config) (research.SearchProvider, error) {
	timeout := time.Duration(cfg.SearchTimeout) * time.Second
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	client := &http.Client{Timeout: timeout}

	switch cfg.SearchProvider {
	case "exa":
		return NewExa(cfg.ExaApiKey, client), nil
	case "tavily":
		return NewTavily(cfg.TavilyApiKey, cfg.TavilyDepth, client), nil
	case "brave":
		return NewBrave(cfg.BraveApiKey, client), nil
	case "arxiv":
		return NewArxiv(client), nil
	default:
		return nil, fmt.Errorf("unknown search provider %q", cfg.SearchProvider)
	}
}

func providerErr(provider, query string, status int, err error) error {
	return &research.ProviderError{Provider: provider, Query: query, Status: status, Err: err}
}

// withTitle prefixes a snippet with its page title, since results carry no
// separate title field.
func withTitle(title, text string) string {
	title, text = strings.TrimSpace(title), strings.TrimSpace(text)
	switch {
	case title == "":
		return text
	case text == "":
		return title
	}
	return title + ": " + text
}
