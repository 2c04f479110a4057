// Package evidence indexes the search results of finished runs for
// retrieval by follow-up chat and the MCP search tool.
package evidence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mikeboe/deep-search/pkg/research"
	"github.com/mikeboe/deep-search/pkg/splitter"
	"github.com/mikeboe/deep-search/pkg/vectorstore"
)

// Metadata keys stored on every chunk.
const (
	KeySource        = "source"
	KeyQuery         = "query"
	KeyAuthor        = "author"
	KeyPublishedDate = "published_date"
	KeyRunID         = "run_id"
)

type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Store is the slice of the vector store the index writes and searches.
type Store interface {
	AddDocuments(ctx context.Context, docs []vectorstore.Document) error
	DeleteRun(ctx context.Context, runID string) error
	SimilaritySearch(ctx context.Context, queryEmbedding []float32, topK int, runID string, filter map[string]interface{}) ([]vectorstore.SimilaritySearchResult, error)
}

// Hit is one retrieved chunk.
type Hit struct {
	RunID         string  `json:"runId"`
	Content       string  `json:"content"`
	URL           string  `json:"url"`
	Query         string  `json:"query"`
	Author        string  `json:"author,omitempty"`
	PublishedDate string  `json:"publishedDate,omitempty"`
	Score         float64 `json:"score"`
}

type Index struct {
	Embedder Embedder
	Store    Store
	Splitter *splitter.TextSplitter
	Logger   *slog.Logger
}

func New(embedder Embedder, store Store, sp *splitter.TextSplitter, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{Embedder: embedder, Store: store, Splitter: sp, Logger: logger}
}

// IndexRun replaces the run's evidence with the given result groups and
// returns the number of chunks stored. A URL found by several queries is
// indexed once, under the first query that returned it.
func (ix *Index) IndexRun(ctx context.Context, runID string, groups []research.ResultGroup) (int, error) {
	if runID == "" {
		return 0, errors.New("evidence: run id is required")
	}

	var texts []string
	var metas []map[string]any
	seen := make(map[string]bool)
	for _, g := range groups {
		for _, item := range g.Results {
			if item.Summary == "" || seen[item.URL] {
				continue
			}
			seen[item.URL] = true
			texts = append(texts, item.Summary)
			metas = append(metas, chunkMetadata(runID, g.Query, item))
		}
	}

	if err := ix.Store.DeleteRun(ctx, runID); err != nil {
		return 0, err
	}
	if len(texts) == 0 {
		ix.Logger.Info("No evidence to index", "run_id", runID)
		return 0, nil
	}

	chunks, err := ix.Splitter.SplitDocuments(texts, metas)
	if err != nil {
		return 0, fmt.Errorf("failed to split evidence: %w", err)
	}

	contents := make([]string, len(chunks))
	for i, c := range chunks {
		contents[i] = c.PageContent
	}
	vectors, err := ix.Embedder.EmbedTexts(ctx, contents)
	if err != nil {
		return 0, fmt.Errorf("failed to embed evidence: %w", err)
	}
	if len(vectors) != len(chunks) {
		return 0, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	docs := make([]vectorstore.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = vectorstore.Document{
			RunID:     runID,
			Content:   c.PageContent,
			Metadata:  c.Metadata,
			Embedding: vectors[i],
		}
	}
	if err := ix.Store.AddDocuments(ctx, docs); err != nil {
		return 0, err
	}

	ix.Logger.Info("Evidence indexed", "run_id", runID, "sources", len(texts), "chunks", len(docs))
	return len(docs), nil
}

// Search returns the topK chunks closest to query. An empty runID searches
// across every run.
func (ix *Index) Search(ctx context.Context, runID, query string, topK int, filter map[string]interface{}) ([]Hit, error) {
	if query == "" {
		return nil, errors.New("evidence: query is required")
	}
	vec, err := ix.Embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	results, err := ix.Store.SimilaritySearch(ctx, vec, topK, runID, filter)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, hitFrom(r.Document, r.Score))
	}
	return hits, nil
}

func chunkMetadata(runID, query string, item research.ResultItem) map[string]any {
	meta := map[string]any{
		KeyRunID:  runID,
		KeySource: item.URL,
		KeyQuery:  query,
	}
	if item.Author != "" {
		meta[KeyAuthor] = item.Author
	}
	if item.PublishedDate != "" {
		meta[KeyPublishedDate] = item.PublishedDate
	}
	return meta
}

func hitFrom(doc vectorstore.Document, score float64) Hit {
	str := func(key string) string {
		s, _ := doc.Metadata[key].(string)
		return s
	}
	return Hit{
		RunID:         doc.RunID,
		Content:       doc.Content,
		URL:           str(KeySource),
		Query:         str(KeyQuery),
		Author:        str(KeyAuthor),
		PublishedDate: str(KeyPublishedDate),
		Score:         score,
	}
}
