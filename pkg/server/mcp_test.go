package server

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"testing"

	"github.com/mikeboe/deep-search/pkg/evidence"
	"github.com/mikeboe/deep-search/pkg/store"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type stubEvidence struct {
	runID string
	topK  int
}

func (s *stubEvidence) Search(ctx context.Context, runID, query string, topK int, filter map[string]interface{}) ([]evidence.Hit, error) {
	s.runID, s.topK = runID, topK
	return []evidence.Hit{{URL: "https://a.example", Query: "anc", Content: "Sony leads ANC.", PublishedDate: "2026-01-02"}}, nil
}

func connectMCP(t *testing.T, server *mcp.Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	clientTransport, serverTransport := mcp.NewInMemoryTransports()

	serverSession, err := server.Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "test"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() {
		_ = session.Close()
		_ = serverSession.Close()
	})
	return session
}

func callText(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool %s: %v", name, err)
	}
	for _, c := range res.Content {
		if txt, ok := c.(*mcp.TextContent); ok {
			return txt.Text, res.IsError
		}
	}
	return "", res.IsError
}

func TestMCPTools(t *testing.T) {
	svc := newTestService(t, &stubAgents{}, store.NewMemory())
	ev := &stubEvidence{}
	session := connectMCP(t, NewMCPServer(svc, ev, "test"))

	var names []string
	for tool, err := range session.Tools(context.Background(), nil) {
		if err != nil {
			t.Fatalf("list tools: %v", err)
		}
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	if strings.Join(names, ",") != "get_research,resume_research,search_evidence,start_research" {
		t.Errorf("tools = %v", names)
	}

	text, isErr := callText(t, session, "start_research", map[string]any{"query": "best headphones"})
	if isErr {
		t.Fatalf("start_research error: %s", text)
	}
	var started runStatus
	if err := json.Unmarshal([]byte(text), &started); err != nil {
		t.Fatalf("decode start: %v\n%s", err, text)
	}
	if started.Status != store.StatusAwaiting || len(started.Questions) != 3 {
		t.Fatalf("started = %+v", started)
	}

	text, _ = callText(t, session, "get_research", map[string]any{"run_id": started.ID})
	if !strings.Contains(text, `"awaiting_clarification"`) {
		t.Errorf("pending get_research = %s", text)
	}

	if text, isErr = callText(t, session, "resume_research", map[string]any{"run_id": started.ID, "clarified_intent": "commuting"}); isErr {
		t.Fatalf("resume_research error: %s", text)
	}
	svc.wg.Wait()

	text, isErr = callText(t, session, "get_research", map[string]any{"run_id": started.ID})
	if isErr || text != "## Answer\ncommuting" {
		t.Errorf("finished get_research = %q (error %v)", text, isErr)
	}

	text, isErr = callText(t, session, "search_evidence", map[string]any{"query": "noise cancelling", "run_id": started.ID})
	if isErr || !strings.Contains(text, "[Source]: https://a.example") || !strings.Contains(text, "[Published]: 2026-01-02") {
		t.Errorf("search_evidence = %q", text)
	}
	if ev.runID != started.ID || ev.topK != 5 {
		t.Errorf("search scope = %q top %d", ev.runID, ev.topK)
	}
}

func TestMCPToolErrors(t *testing.T) {
	svc := newTestService(t, &stubAgents{}, store.NewMemory())
	session := connectMCP(t, NewMCPServer(svc, nil, "test"))

	for tool, err := range session.Tools(context.Background(), nil) {
		if err != nil {
			t.Fatalf("list tools: %v", err)
		}
		if tool.Name == "search_evidence" {
			t.Error("search_evidence registered without an evidence index")
		}
	}

	tests := []struct {
		tool string
		args map[string]any
		want string
	}{
		{"start_research", map[string]any{"query": " "}, "initial query is empty"},
		{"resume_research", map[string]any{"run_id": "missing", "clarified_intent": "x"}, "run not found"},
		{"get_research", map[string]any{"run_id": "missing"}, "run not found"},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			text, isErr := callText(t, session, tt.tool, tt.args)
			if !isErr || !strings.Contains(text, tt.want) {
				t.Errorf("%s = %q (error %v), want error containing %q", tt.tool, text, isErr, tt.want)
			}
		})
	}
}
