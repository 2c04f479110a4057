package generation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/mikeboe/deep-search/pkg/research"
	"google.golang.org/genai"
)

type scriptedReply struct {
	text   string
	err    error
	chunks []string
}

// scriptedGenerator replays replies in order and records every request.
type scriptedGenerator struct {
	mu       sync.Mutex
	replies  []scriptedReply
	requests []Request
}

func (g *scriptedGenerator) Generate(ctx context.Context, req Request) (string, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	i := len(g.requests) - 1
	g.mu.Unlock()

	if i >= len(g.replies) {
		return "", errors.New("no scripted reply")
	}
	r := g.replies[i]
	if req.Stream != nil {
		for _, c := range r.chunks {
			req.Stream(c)
		}
	}
	return r.text, r.err
}

func testAgents(replies ...scriptedReply) (*Agents, *scriptedGenerator) {
	g := &scriptedGenerator{replies: replies}
	a := NewAgents(g, Retry{Attempts: 3, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	a.Now = func() time.Time { return time.Date(2026, time.March, 4, 0, 0, 0, 0, time.UTC) }
	return a, g
}

func TestClarify(t *testing.T) {
	tests := []struct {
		name      string
		replies   []scriptedReply
		want      []string
		wantCalls int
		wantErr   bool
	}{
		{
			name:      "plain json",
			replies:   []scriptedReply{{text: `{"questions":["a?","b?","c?"]}`}},
			want:      []string{"a?", "b?", "c?"},
			wantCalls: 1,
		},
		{
			name:      "fenced and oversized",
			replies:   []scriptedReply{{text: "```json\n{\"questions\":[\"a?\",\"b?\",\"c?\",\"d?\"]}\n```"}},
			want:      []string{"a?", "b?", "c?"},
			wantCalls: 1,
		},
		{
			name: "retries until valid",
			replies: []scriptedReply{
				{text: `{"questions":["a?"," "]}`},
				{text: `not json`},
				{text: `{"questions":["x?","y?","z?"]}`},
			},
			want:      []string{"x?", "y?", "z?"},
			wantCalls: 3,
		},
		{
			name: "gives up",
			replies: []scriptedReply{
				{err: errors.New("rate limited")},
				{err: errors.New("rate limited")},
				{err: errors.New("rate limited")},
			},
			wantCalls: 3,
			wantErr:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, g := testAgents(tt.replies...)
			got, err := a.Clarify(context.Background(), research.ClarifyInput{InitialQuery: "best headphones"})
			if len(g.requests) != tt.wantCalls {
				t.Errorf("calls = %d, want %d", len(g.requests), tt.wantCalls)
			}
			if tt.wantErr {
				var gerr *research.GenerationError
				if !errors.As(err, &gerr) || gerr.Role != "clarifier" {
					t.Fatalf("error = %v, want clarifier GenerationError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Clarify error: %v", err)
			}
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("questions = %v, want %v", got, tt.want)
			}
			if g.requests[0].Schema == nil {
				t.Error("clarifier request has no schema")
			}
		})
	}
}

func TestPlan(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		want    int
		wantErr bool
	}{
		{"three", `{"queries":["a","b","c"]}`, 3, false},
		{"truncates to five", `{"queries":["a","b","c","d","e","f"]}`, 5, false},
		{"too few", `{"queries":["a","b"]}`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, g := testAgents(scriptedReply{text: tt.reply}, scriptedReply{text: tt.reply}, scriptedReply{text: tt.reply})
			in := research.PlanInput{InitialQuery: "q", ClarifiedIntent: "i", PriorQueries: []string{"old"}, Gaps: []string{"gap"}}
			got, err := a.Plan(context.Background(), in)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Plan error: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("queries = %d, want %d", len(got), tt.want)
			}
			req := g.requests[0]
			if !strings.Contains(req.System, "research planner") {
				t.Errorf("system prompt = %q", req.System)
			}
			if req.Prompt != in.Prompt() {
				t.Error("planner prompt does not carry the plan input")
			}
		})
	}
}

func TestEvaluate(t *testing.T) {
	t.Run("verdict and gaps", func(t *testing.T) {
		a, g := testAgents(scriptedReply{text: `{"answerIsSatisfactory":false,"gaps":["missing price comparison",""]}`})
		ev, err := a.Evaluate(context.Background(), research.EvaluateInput{InitialQuery: "q"})
		if err != nil {
			t.Fatalf("Evaluate error: %v", err)
		}
		if ev.AnswerIsSatisfactory || len(ev.Gaps) != 1 || ev.Gaps[0] != "missing price comparison" {
			t.Errorf("evaluation = %+v", ev)
		}
		if !strings.Contains(g.requests[0].System, "Today's date is March 4, 2026.") {
			t.Errorf("system prompt missing date: %q", g.requests[0].System)
		}
	})

	t.Run("satisfied without gaps", func(t *testing.T) {
		a, _ := testAgents(scriptedReply{text: `{"answerIsSatisfactory":true}`})
		ev, err := a.Evaluate(context.Background(), research.EvaluateInput{InitialQuery: "q"})
		if err != nil {
			t.Fatalf("Evaluate error: %v", err)
		}
		if !ev.AnswerIsSatisfactory || ev.Gaps == nil || len(ev.Gaps) != 0 {
			t.Errorf("evaluation = %#v", ev)
		}
	})

	t.Run("missing verdict", func(t *testing.T) {
		reply := scriptedReply{text: `{"gaps":[]}`}
		a, _ := testAgents(reply, reply, reply)
		_, err := a.Evaluate(context.Background(), research.EvaluateInput{InitialQuery: "q"})
		var gerr *research.GenerationError
		if !errors.As(err, &gerr) || gerr.Role != "evaluator" {
			t.Fatalf("error = %v, want evaluator GenerationError", err)
		}
	})
}

func TestSynthesizeStreams(t *testing.T) {
	a, g := testAgents(scriptedReply{text: "## Answer\nbody", chunks: []string{"## Answer\n", "body"}})
	var got []string
	answer, err := a.Synthesize(context.Background(), research.SynthesizeInput{
		InitialQuery: "q",
		Exhausted:    true,
		Stream:       func(c string) { got = append(got, c) },
	})
	if err != nil {
		t.Fatalf("Synthesize error: %v", err)
	}
	if answer != "## Answer\nbody" || strings.Join(got, "") != answer {
		t.Errorf("answer = %q, streamed = %q", answer, got)
	}
	req := g.requests[0]
	if req.Schema != nil {
		t.Error("synthesis must not request JSON")
	}
	if !strings.Contains(req.Prompt, research.ExhaustionNote) {
		t.Error("exhaustion note missing from synthesis prompt")
	}
}

func TestSynthesizeNoRetryAfterPartialStream(t *testing.T) {
	a, g := testAgents(
		scriptedReply{chunks: []string{"partial"}, err: errors.New("connection reset")},
		scriptedReply{text: "full answer"},
	)
	_, err := a.Synthesize(context.Background(), research.SynthesizeInput{
		InitialQuery: "q",
		Stream:       func(string) {},
	})
	if err == nil {
		t.Fatal("expected error after partial stream")
	}
	if len(g.requests) != 1 {
		t.Errorf("calls = %d, want 1", len(g.requests))
	}
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g := &scriptedGenerator{replies: []scriptedReply{{err: errors.New("boom")}, {text: "ok"}}}
	r := Retry{Attempts: 3, Backoff: time.Hour, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	done := make(chan error, 1)
	go func() {
		_, err := r.Do(ctx, g, Request{Role: "test"}, func(string) error { return nil })
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("retry did not stop on cancellation")
	}
}

func TestGenAISchema(t *testing.T) {
	s, err := genaiSchema(evaluationSchema)
	if err != nil {
		t.Fatalf("genaiSchema error: %v", err)
	}
	if s.Type != genai.TypeObject {
		t.Errorf("type = %v", s.Type)
	}
	if s.Properties["answerIsSatisfactory"].Type != genai.TypeBoolean {
		t.Errorf("verdict type = %v", s.Properties["answerIsSatisfactory"].Type)
	}
	gaps := s.Properties["gaps"]
	if gaps.Type != genai.TypeArray || gaps.Items == nil || gaps.Items.Type != genai.TypeString {
		t.Errorf("gaps schema = %+v", gaps)
	}
	if len(s.Required) != 2 {
		t.Errorf("required = %v", s.Required)
	}
}

func TestSchemaInstructions(t *testing.T) {
	got := SchemaInstructions(queriesSchema)
	for _, want := range []string{"valid json", `"queries"`, `"array"`} {
		if !strings.Contains(got, want) {
			t.Errorf("instructions missing %q", want)
		}
	}
}

func TestSynthesizeUsesWriter(t *testing.T) {
	a, fast := testAgents()
	writer := &scriptedGenerator{replies: []scriptedReply{{text: "## Written by the reasoning model"}}}
	a.Writer = writer

	answer, err := a.Synthesize(context.Background(), research.SynthesizeInput{InitialQuery: "q"})
	if err != nil {
		t.Fatalf("Synthesize error: %v", err)
	}
	if answer != "## Written by the reasoning model" {
		t.Errorf("answer = %q", answer)
	}
	if len(fast.requests) != 0 || len(writer.requests) != 1 {
		t.Errorf("fast calls = %d, writer calls = %d", len(fast.requests), len(writer.requests))
	}
}

func TestGenAISchemaItemBounds(t *testing.T) {
	tests := []struct {
		name     string
		schema   *jsonschema.Schema
		property string
		min, max int64
	}{
		{"questions", questionsSchema, "questions", 3, 3},
		{"queries", queriesSchema, "queries", 3, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := genaiSchema(tt.schema)
			if err != nil {
				t.Fatalf("genaiSchema error: %v", err)
			}
			p := s.Properties[tt.property]
			if p == nil || p.MinItems == nil || p.MaxItems == nil {
				t.Fatalf("%s schema has no item bounds: %+v", tt.property, p)
			}
			if *p.MinItems != tt.min || *p.MaxItems != tt.max {
				t.Errorf("bounds = [%d, %d], want [%d, %d]", *p.MinItems, *p.MaxItems, tt.min, tt.max)
			}
		})
	}

	s, err := genaiSchema(evaluationSchema)
	if err != nil {
		t.Fatalf("genaiSchema error: %v", err)
	}
	if gaps := s.Properties["gaps"]; gaps.MinItems != nil || gaps.MaxItems != nil {
		t.Errorf("unbounded gaps gained bounds: %+v", gaps)
	}
}
