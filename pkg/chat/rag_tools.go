package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/mikeboe/deep-search/pkg/evidence"
	"github.com/mikeboe/deep-search/pkg/vectorstore"
	"google.golang.org/adk/agent"
	"google.golang.org/adk/tool"
	"google.golang.org/adk/tool/functiontool"
)

type Searcher interface {
	Search(ctx context.Context, runID, query string, topK int, filter map[string]interface{}) ([]evidence.Hit, error)
}

// DocumentFinder looks up a run's stored chunks without embeddings.
type DocumentFinder interface {
	GetContentBySource(ctx context.Context, runID, source string) ([]vectorstore.Document, error)
	GetContentByMetadata(ctx context.Context, runID string, filter map[string]interface{}) ([]vectorstore.Document, error)
}

// RagToolset gives the chat agent read access to one run's evidence.
type RagToolset struct {
	RunID    string
	Searcher Searcher
	Finder   DocumentFinder
}

func NewRagToolset(runID string, searcher Searcher, finder DocumentFinder) *RagToolset {
	return &RagToolset{
		RunID:    runID,
		Searcher: searcher,
		Finder:   finder,
	}
}

func (t *RagToolset) Name() string {
	return "rag_tools"
}

func (t *RagToolset) Tools(ctx agent.ReadonlyContext) ([]tool.Tool, error) {
	searchTool, err := functiontool.New[SearchContentArgs, SearchContentResp](
		functiontool.Config{
			Name:        "search_content",
			Description: "Search the sources gathered during this research run using semantic search.",
		},
		t.searchContentTool,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create search tool: %w", err)
	}

	findBySourceTool, err := functiontool.New[FindSourceArgs, FindSourceResp](
		functiontool.Config{
			Name:        "find_content_by_source",
			Description: "Find all content gathered from a specific source URL.",
		},
		t.findContentBySourceTool,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create find_by_source tool: %w", err)
	}

	findByMetadataTool, err := functiontool.New[FindMetadataArgs, FindMetadataResp](
		functiontool.Config{
			Name:        "find_content_by_metadata",
			Description: "Find content using logical filters ($and, $or, $not) on metadata keys source, query, author and published_date.",
		},
		t.findContentByMetadataTool,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create find_by_metadata tool: %w", err)
	}

	return []tool.Tool{searchTool, findBySourceTool, findByMetadataTool}, nil
}

// --- Tool Implementations ---

type SearchContentArgs struct {
	Query  string `json:"query" description:"The search query"`
	TopK   int    `json:"topK,omitempty" description:"Number of results to return (default 5)"`
	Source string `json:"source,omitempty" description:"Optional source URL filter"`
}

type SearchContentResp struct {
	Results string `json:"results"`
}

// Wrapper for ADK tool interface
func (t *RagToolset) searchContentTool(ctx tool.Context, args SearchContentArgs) (SearchContentResp, error) {
	return t.SearchContent(ctx, args)
}

// Public method using standard context
func (t *RagToolset) SearchContent(ctx context.Context, args SearchContentArgs) (SearchContentResp, error) {
	if args.TopK == 0 {
		args.TopK = 5
	}
	slog.Info("Search content", "run_id", t.RunID, "query", args.Query, "topK", args.TopK, "source", args.Source)

	var filter map[string]interface{}
	if args.Source != "" {
		filter = map[string]interface{}{evidence.KeySource: args.Source}
	}
	hits, err := t.Searcher.Search(ctx, t.RunID, args.Query, args.TopK, filter)
	if err != nil {
		return SearchContentResp{}, fmt.Errorf("failed to search: %w", err)
	}

	formattedResults := make([]string, 0, len(hits))
	for _, hit := range hits {
		var sb strings.Builder
		fmt.Fprintf(&sb, "[Source]: %s\n[Content]: %s\n[query]: %s", orUnknown(hit.URL), hit.Content, hit.Query)
		if hit.Author != "" {
			fmt.Fprintf(&sb, "\n[author]: %s", hit.Author)
		}
		if hit.PublishedDate != "" {
			fmt.Fprintf(&sb, "\n[published_date]: %s", hit.PublishedDate)
		}
		formattedResults = append(formattedResults, sb.String())
	}

	return SearchContentResp{Results: strings.Join(formattedResults, "\n\n")}, nil
}

type FindSourceArgs struct {
	Source string `json:"source" description:"The source URL to find content for"`
}

type FindSourceResp struct {
	Content string `json:"content"`
}

// Wrapper for ADK tool interface
func (t *RagToolset) findContentBySourceTool(ctx tool.Context, args FindSourceArgs) (FindSourceResp, error) {
	return t.FindContentBySource(ctx, args)
}

// Public method using standard context
func (t *RagToolset) FindContentBySource(ctx context.Context, args FindSourceArgs) (FindSourceResp, error) {
	results, err := t.Finder.GetContentBySource(ctx, t.RunID, args.Source)
	if err != nil {
		return FindSourceResp{}, fmt.Errorf("failed to find content: %w", err)
	}

	formattedResults := make([]string, 0, len(results))
	for _, result := range results {
		formattedResults = append(formattedResults, result.Content)
	}
	return FindSourceResp{Content: strings.Join(formattedResults, "\n\n")}, nil
}

type FindMetadataArgs struct {
	Filter map[string]interface{} `json:"filter" description:"JSON filter object with logical operators ($and, $or, $not)"`
}

type FindMetadataResp struct {
	Content string `json:"content"`
}

// Wrapper for ADK tool interface
func (t *RagToolset) findContentByMetadataTool(ctx tool.Context, args FindMetadataArgs) (FindMetadataResp, error) {
	return t.FindContentByMetadata(ctx, args)
}

// Public method using standard context
func (t *RagToolset) FindContentByMetadata(ctx context.Context, args FindMetadataArgs) (FindMetadataResp, error) {
	results, err := t.Finder.GetContentByMetadata(ctx, t.RunID, args.Filter)
	if err != nil {
		return FindMetadataResp{}, fmt.Errorf("failed to find content: %w", err)
	}

	formattedResults := make([]string, 0, len(results))
	for _, result := range results {
		var sb strings.Builder
		fmt.Fprintf(&sb, "[Content]: %s", result.Content)
		keys := make([]string, 0, len(result.Metadata))
		for k := range result.Metadata {
			if k != evidence.KeyRunID {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "\n[%s]: %v", k, result.Metadata[k])
		}
		formattedResults = append(formattedResults, sb.String())
	}
	return FindMetadataResp{Content: strings.Join(formattedResults, "\n\n")}, nil
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
