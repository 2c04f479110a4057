package tools

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mikeboe/deep-search/pkg/research"
)

const arxivURL = "https://export.arxiv.org/api/query"

// ArxivEntry holds one entry of the arXiv Atom feed.
type ArxivEntry struct {
	ID        string        `xml:"id"`
	Title     string        `xml:"title"`
	Summary   string        `xml:"summary"`
	Published string        `xml:"published"`
	Authors   []ArxivAuthor `xml:"author"`
	Link      []ArxivLink   `xml:"link"`
}

type ArxivAuthor struct {
	Name string `xml:"name"`
}

type ArxivLink struct {
	Href string `xml:"href,attr"`
	Type string `xml:"type,attr"`
}

type ArxivFeed struct {
	XMLName xml.Name     `xml:"feed"`
	Entry   []ArxivEntry `xml:"entry"`
}

// Arxiv searches arXiv paper abstracts. It needs no API key.
type Arxiv struct {
	BaseURL string
	client  *http.Client
}

func NewArxiv(client *http.Client) *Arxiv {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &Arxiv{BaseURL: arxivURL, client: client}
}

func (a *Arxiv) Search(ctx context.Context, query string, maxResults int) ([]research.ResultItem, error) {
	if maxResults <= 0 {
		maxResults = 5
	}
	params := url.Values{}
	params.Add("search_query", "all:"+query)
	params.Add("max_results", strconv.Itoa(maxResults))
	params.Add("start", "0")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, providerErr("arxiv", query, 0, err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, providerErr("arxiv", query, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, providerErr("arxiv", query, resp.StatusCode, fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(body))))
	}

	var feed ArxivFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, providerErr("arxiv", query, resp.StatusCode, fmt.Errorf("failed to unmarshal XML: %w", err))
	}

	items := make([]research.ResultItem, 0, len(feed.Entry))
	for _, entry := range feed.Entry {
		item := research.ResultItem{
			URL:           entry.ID,
			Summary:       withTitle(collapse(entry.Title), collapse(entry.Summary)),
			PublishedDate: entry.Published,
		}
		for _, link := range entry.Link {
			if link.Type == "application/pdf" {
				item.URL = link.Href
				break
			}
		}
		if len(entry.Authors) > 0 {
			item.Author = entry.Authors[0].Name
		}
		items = append(items, item)
		if len(items) >= maxResults {
			break
		}
	}
	return items, nil
}

// collapse folds the hard line wraps arXiv puts in titles and abstracts.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
