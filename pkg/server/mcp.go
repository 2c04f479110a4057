package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/mikeboe/deep-search/pkg/evidence"
	"github.com/mikeboe/deep-search/pkg/research"
	"github.com/mikeboe/deep-search/pkg/store"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// EvidenceSearcher answers semantic queries over indexed runs.
type EvidenceSearcher interface {
	Search(ctx context.Context, runID, query string, topK int, filter map[string]interface{}) ([]evidence.Hit, error)
}

type mcpTools struct {
	service  *Service
	evidence EvidenceSearcher
}

type startArgs struct {
	Query string `json:"query"`
}

type resumeArgs struct {
	RunID           string `json:"run_id"`
	ClarifiedIntent string `json:"clarified_intent"`
}

type getArgs struct {
	RunID string `json:"run_id"`
}

type searchArgs struct {
	Query string `json:"query"`
	RunID string `json:"run_id,omitempty"`
	TopK  int    `json:"top_k,omitempty"`
}

// NewMCPServer exposes the run host as MCP tools. search_evidence is only
// registered when ev is non-nil.
func NewMCPServer(svc *Service, ev EvidenceSearcher, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "deep-search", Version: version}, nil)
	t := &mcpTools{service: svc, evidence: ev}

	server.AddTool(&mcp.Tool{
		Name:        "start_research",
		Description: "Start a research run. Returns the run id and 3 clarifying questions to answer with resume_research.",
		InputSchema: objectSchema(map[string]*jsonschema.Schema{
			"query": {Type: "string", Description: "The research question."},
		}, "query"),
	}, t.start)

	server.AddTool(&mcp.Tool{
		Name:        "resume_research",
		Description: "Answer a run's clarifying questions. Research continues in the background; poll get_research for the answer.",
		InputSchema: objectSchema(map[string]*jsonschema.Schema{
			"run_id":           {Type: "string", Description: "Run id returned by start_research."},
			"clarified_intent": {Type: "string", Description: "Answers to the clarifying questions."},
		}, "run_id", "clarified_intent"),
	}, t.resume)

	server.AddTool(&mcp.Tool{
		Name:        "get_research",
		Description: "Get a run's status, pending questions or final markdown answer.",
		InputSchema: objectSchema(map[string]*jsonschema.Schema{
			"run_id": {Type: "string", Description: "Run id returned by start_research."},
		}, "run_id"),
	}, t.get)

	if ev != nil {
		server.AddTool(&mcp.Tool{
			Name:        "search_evidence",
			Description: "Semantic search over the sources gathered by completed runs.",
			InputSchema: objectSchema(map[string]*jsonschema.Schema{
				"query":  {Type: "string", Description: "The search query."},
				"run_id": {Type: "string", Description: "Restrict results to one run."},
				"top_k":  {Type: "integer", Description: "Number of results to return (default 5)."},
			}, "query"),
		}, t.search)
	}

	return server
}

// NewMCPHandler serves server over streamable HTTP.
func NewMCPHandler(server *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil)
}

func (t *mcpTools) start(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args startArgs
	if err := decodeArgs(req, &args); err != nil {
		return toolError(err), nil
	}
	rec, err := t.service.Start(ctx, args.Query)
	if err != nil {
		return toolError(err), nil
	}
	return toolJSON(newRunStatus(rec))
}

func (t *mcpTools) resume(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args resumeArgs
	if err := decodeArgs(req, &args); err != nil {
		return toolError(err), nil
	}
	if err := t.service.Resume(ctx, args.RunID, args.ClarifiedIntent); err != nil {
		return toolError(err), nil
	}
	return toolText(fmt.Sprintf("Research %s is running. Call get_research to read the answer once it completes.", args.RunID)), nil
}

func (t *mcpTools) get(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args getArgs
	if err := decodeArgs(req, &args); err != nil {
		return toolError(err), nil
	}
	rec, err := t.service.Get(ctx, args.RunID)
	if err != nil {
		return toolError(err), nil
	}

	switch rec.Status {
	case store.StatusCompleted:
		return toolText(rec.Answer), nil
	case store.StatusFailed:
		return toolError(fmt.Errorf("research failed: %s", rec.Error)), nil
	}
	return toolJSON(newRunStatus(rec))
}

func (t *mcpTools) search(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args searchArgs
	if err := decodeArgs(req, &args); err != nil {
		return toolError(err), nil
	}
	if strings.TrimSpace(args.Query) == "" {
		return toolError(errors.New("query is required")), nil
	}
	if args.TopK <= 0 {
		args.TopK = 5
	}
	hits, err := t.evidence.Search(ctx, args.RunID, args.Query, args.TopK, nil)
	if err != nil {
		return toolError(err), nil
	}
	if len(hits) == 0 {
		return toolText("No matching evidence."), nil
	}

	var sb strings.Builder
	for i, hit := range hits {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[Source]: %s\n[Query]: %s\n[Content]: %s", hit.URL, hit.Query, hit.Content)
		if hit.PublishedDate != "" {
			fmt.Fprintf(&sb, "\n[Published]: %s", hit.PublishedDate)
		}
	}
	return toolText(sb.String()), nil
}

// runStatus is the compact run view returned to MCP clients.
type runStatus struct {
	ID               string         `json:"run_id"`
	Status           store.Status   `json:"status"`
	Phase            research.Phase `json:"phase"`
	AssistantMessage string         `json:"assistant_message,omitempty"`
	Questions        []string       `json:"questions,omitempty"`
}

func newRunStatus(rec *store.RunRecord) runStatus {
	resp := newRunResponse(rec)
	return runStatus{
		ID:               rec.ID,
		Status:           rec.Status,
		Phase:            rec.Phase,
		AssistantMessage: resp.AssistantMessage,
		Questions:        resp.Questions,
	}
}

func objectSchema(props map[string]*jsonschema.Schema, required ...string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "object", Properties: props, Required: required}
}

func decodeArgs(req *mcp.CallToolRequest, v any) error {
	if len(req.Params.Arguments) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Params.Arguments, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func toolText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

func toolJSON(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return toolText(string(data)), nil
}

func toolError(err error) *mcp.CallToolResult {
	res := toolText(err.Error())
	res.IsError = true
	return res
}
