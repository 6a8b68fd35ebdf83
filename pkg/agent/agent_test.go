package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rhuss/vibe/pkg/step"
)

type counterState struct {
	Count int
	Notes []string
}

func toolCallResponse(calls ...ToolCall) *InferResponse {
	return &InferResponse{
		Model: "test-model",
		Output: []Message{{
			Type:      MessageTypeToolCall,
			Role:      RoleAssistant,
			ToolCalls: calls,
		}},
	}
}

func textResponse(text string) *InferResponse {
	return &InferResponse{
		Model:  "test-model",
		Output: []Message{AssistantMessage(text)},
		Usage:  Usage{InputTokens: 10, OutputTokens: 5},
	}
}

// scripted returns a model that answers with responses in order and
// records every request it sees.
func scripted(t *testing.T, responses ...*InferResponse) (Model, *[]*InferRequest) {
	t.Helper()
	var seen []*InferRequest
	return ModelFunc(func(_ context.Context, req *InferRequest) (*InferResponse, error) {
		seen = append(seen, req)
		if len(seen) > len(responses) {
			t.Fatalf("unexpected inference #%d", len(seen))
		}
		return responses[len(seen)-1], nil
	}), &seen
}

func incrementTool() Tool[counterState] {
	return Tool[counterState]{
		Name:        "increment",
		Description: "Increment the counter",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"by":{"type":"integer"}}}`),
		Handler: func(_ context.Context, args json.RawMessage, tc *ToolContext[counterState]) (any, error) {
			in, err := DecodeArgs[struct {
				By int `json:"by"`
			}](args)
			if err != nil {
				return nil, err
			}
			tc.State.Count += in.By
			return map[string]int{"count": tc.State.Count}, nil
		},
	}
}

func TestNetworkRunsUntilRouterStops(t *testing.T) {
	model, seen := scripted(t,
		toolCallResponse(ToolCall{ID: "call_1", Name: "increment", Arguments: json.RawMessage(`{"by":2}`)}),
		toolCallResponse(ToolCall{ID: "call_2", Name: "increment", Arguments: json.RawMessage(`{"by":3}`)}),
		textResponse("all done"),
	)

	a := &Agent[counterState]{Name: "counter", System: "count things", Model: model, Tools: []Tool[counterState]{incrementTool()}}
	nw := &Network[counterState]{
		Name:   "counting",
		Agents: []*Agent[counterState]{a},
		Router: func(_ context.Context, _ *Network[counterState], _ int, last *Result) *Agent[counterState] {
			if text, ok := last.LastAssistantText(); ok && text == "all done" {
				return nil
			}
			return a
		},
	}

	res, err := nw.Run(context.Background(), "count to five")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != NetworkDone {
		t.Errorf("status = %q, want done", res.Status)
	}
	if res.Iterations != 3 {
		t.Errorf("iterations = %d, want 3", res.Iterations)
	}
	if nw.State.Count != 5 {
		t.Errorf("count = %d, want 5", nw.State.Count)
	}

	reqs := *seen
	if reqs[0].System != "count things" {
		t.Errorf("system = %q", reqs[0].System)
	}
	if len(reqs[0].Tools) != 1 || reqs[0].Tools[0].Name != "increment" {
		t.Errorf("tools = %+v", reqs[0].Tools)
	}
	// input + (call, result) per earlier iteration
	if got := len(reqs[2].Messages); got != 5 {
		t.Fatalf("third request has %d messages, want 5", got)
	}
	last := reqs[2].Messages[4]
	if last.Type != MessageTypeToolResult || last.ToolCallID != "call_2" {
		t.Errorf("last message = %+v", last)
	}
	if last.Text() != `{"count":5}` {
		t.Errorf("tool result = %q", last.Text())
	}
}

func TestNetworkStopsAtIterationCap(t *testing.T) {
	calls := 0
	model := ModelFunc(func(context.Context, *InferRequest) (*InferResponse, error) {
		calls++
		return textResponse("still working"), nil
	})

	a := &Agent[counterState]{Name: "looper", Model: model}
	nw := &Network[counterState]{
		Name:   "looping",
		Agents: []*Agent[counterState]{a},
		Router: func(context.Context, *Network[counterState], int, *Result) *Agent[counterState] { return a },
	}

	res, err := nw.Run(context.Background(), "never finish")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != NetworkExhausted {
		t.Errorf("status = %q, want exhausted", res.Status)
	}
	if calls != DefaultMaxIter || res.Iterations != DefaultMaxIter {
		t.Errorf("calls = %d, iterations = %d, want %d", calls, res.Iterations, DefaultMaxIter)
	}
}

func TestNetworkDoneOnFinalIteration(t *testing.T) {
	var done bool
	model := ModelFunc(func(context.Context, *InferRequest) (*InferResponse, error) {
		return textResponse("ok"), nil
	})
	a := &Agent[counterState]{Name: "a", Model: model}
	nw := &Network[counterState]{
		Agents:  []*Agent[counterState]{a},
		MaxIter: 2,
		Router: func(_ context.Context, _ *Network[counterState], it int, _ *Result) *Agent[counterState] {
			if it == 2 {
				done = true
				return nil
			}
			return a
		},
	}

	res, err := nw.Run(context.Background(), "x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !done || res.Status != NetworkDone {
		t.Errorf("status = %q, want done when the router stops at the cap", res.Status)
	}
}

func TestDefaultRouterRunsFirstAgentOnce(t *testing.T) {
	model, seen := scripted(t, textResponse("hi"))
	nw := &Network[counterState]{
		Agents:       []*Agent[counterState]{{Name: "only"}},
		DefaultModel: model,
	}
	res, err := nw.Run(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != NetworkDone || len(*seen) != 1 {
		t.Errorf("status = %q, inferences = %d", res.Status, len(*seen))
	}
	if res.Last().Agent != "only" {
		t.Errorf("last agent = %q", res.Last().Agent)
	}
}

func TestToolErrorsBecomeResults(t *testing.T) {
	failing := Tool[counterState]{
		Name: "fail",
		Handler: func(context.Context, json.RawMessage, *ToolContext[counterState]) (any, error) {
			return nil, errors.New("disk full")
		},
	}
	silent := Tool[counterState]{
		Name: "silent",
		Handler: func(context.Context, json.RawMessage, *ToolContext[counterState]) (any, error) {
			return nil, nil
		},
	}

	model, _ := scripted(t, toolCallResponse(
		ToolCall{ID: "c1", Name: "fail"},
		ToolCall{ID: "c2", Name: "missing"},
		ToolCall{ID: "c3", Name: "silent"},
		ToolCall{ID: "c4", Name: "increment", Arguments: json.RawMessage(`{"by":"x"}`)},
	))
	a := &Agent[counterState]{Name: "a", Model: model, Tools: []Tool[counterState]{failing, silent, incrementTool()}}
	nw := &Network[counterState]{Agents: []*Agent[counterState]{a}}

	res, err := nw.Run(context.Background(), "go")
	if err != nil {
		t.Fatalf("tool failures must not fail the run: %v", err)
	}

	results := res.Last().ToolResults
	if len(results) != 4 {
		t.Fatalf("got %d tool results, want 4", len(results))
	}
	tests := []struct {
		id      string
		prefix  string
		isError bool
	}{
		{"c1", "Error: disk full", true},
		{"c2", "Error: no tool named missing", true},
		{"c3", "Tool silent completed", false},
		{"c4", "Error: invalid arguments", true},
	}
	for i, tt := range tests {
		got := results[i]
		if got.ToolCallID != tt.id {
			t.Errorf("result %d call id = %q, want %q", i, got.ToolCallID, tt.id)
		}
		if !strings.HasPrefix(got.Text(), tt.prefix) {
			t.Errorf("result %d = %q, want prefix %q", i, got.Text(), tt.prefix)
		}
		if got.IsError != tt.isError {
			t.Errorf("result %d isError = %v, want %v", i, got.IsError, tt.isError)
		}
	}
}

func TestOnResponseRunsBeforeTools(t *testing.T) {
	var order []string
	tool := Tool[counterState]{
		Name: "note",
		Handler: func(_ context.Context, _ json.RawMessage, tc *ToolContext[counterState]) (any, error) {
			order = append(order, "tool")
			return "noted", nil
		},
	}
	model, _ := scripted(t, toolCallResponse(ToolCall{ID: "c1", Name: "note"}))
	a := &Agent[counterState]{
		Name:  "a",
		Model: model,
		Tools: []Tool[counterState]{tool},
		Lifecycle: Lifecycle[counterState]{
			OnResponse: func(_ context.Context, nw *Network[counterState], res *Result) error {
				order = append(order, "hook")
				nw.State.Notes = append(nw.State.Notes, res.Agent)
				return nil
			},
		},
	}
	nw := &Network[counterState]{Agents: []*Agent[counterState]{a}}
	if _, err := nw.Run(context.Background(), "go"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Join(order, ",") != "hook,tool" {
		t.Errorf("order = %v, want hook before tool", order)
	}
	if len(nw.State.Notes) != 1 || nw.State.Notes[0] != "a" {
		t.Errorf("notes = %v", nw.State.Notes)
	}
}

func TestInferenceErrorFailsNetwork(t *testing.T) {
	model := ModelFunc(func(context.Context, *InferRequest) (*InferResponse, error) {
		return nil, errors.New("upstream 500")
	})
	nw := &Network[counterState]{Name: "n", Agents: []*Agent[counterState]{{Name: "a", Model: model}}}
	_, err := nw.Run(context.Background(), "go")
	if err == nil || !strings.Contains(err.Error(), "upstream 500") {
		t.Fatalf("err = %v, want upstream error", err)
	}
}

func TestAgentWithoutModel(t *testing.T) {
	a := &Agent[counterState]{Name: "empty"}
	_, err := a.Run(context.Background(), "hi")
	if !errors.Is(err, ErrNoModel) {
		t.Fatalf("err = %v, want ErrNoModel", err)
	}
}

func TestInferenceReplaysFromJournal(t *testing.T) {
	j := step.NewMemoryJournal()
	policy := step.WithRetryPolicy(step.RetryPolicy{MaxRetries: 0, InitialInterval: time.Millisecond})

	newNetwork := func(model Model) *Network[counterState] {
		a := &Agent[counterState]{Name: "counter", Model: model, Tools: []Tool[counterState]{incrementTool()}}
		return &Network[counterState]{
			Agents: []*Agent[counterState]{a},
			Router: func(_ context.Context, _ *Network[counterState], it int, _ *Result) *Agent[counterState] {
				if it < 2 {
					return a
				}
				return nil
			},
		}
	}

	first, _ := scripted(t,
		toolCallResponse(ToolCall{ID: "c1", Name: "increment", Arguments: json.RawMessage(`{"by":4}`)}),
		textResponse("done"),
	)
	ctx := step.WithRunner(context.Background(), step.NewRunner("run_1", j, policy))
	if _, err := newNetwork(first).Run(ctx, "go"); err != nil {
		t.Fatalf("first attempt: %v", err)
	}

	unreachable := ModelFunc(func(context.Context, *InferRequest) (*InferResponse, error) {
		return nil, errors.New("model must not be called on replay")
	})
	replay := newNetwork(unreachable)
	ctx = step.WithRunner(context.Background(), step.NewRunner("run_1", j, policy))
	res, err := replay.Run(ctx, "go")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replay.State.Count != 4 {
		t.Errorf("replayed count = %d, want 4", replay.State.Count)
	}
	if text, _ := res.Last().LastAssistantText(); text != "done" {
		t.Errorf("replayed text = %q", text)
	}
	if j.Len("run_1") != 2 {
		t.Errorf("journal entries = %d, want 2 (infer:counter, infer:counter:1)", j.Len("run_1"))
	}
}

func TestContentString(t *testing.T) {
	tests := []struct {
		name string
		c    Content
		want string
	}{
		{"text", Content{Text: "hello"}, "hello"},
		{"parts", Content{Parts: []string{"hel", "lo"}}, "hello"},
		{"parts win", Content{Text: "ignored", Parts: []string{"a"}}, "a"},
		{"empty", Content{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.c.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLastAssistantText(t *testing.T) {
	res := &Result{Output: []Message{
		AssistantMessage("first"),
		{Type: MessageTypeToolCall, Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c"}}},
		AssistantMessage("second"),
		UserMessage("not me"),
	}}
	if got, ok := res.LastAssistantText(); !ok || got != "second" {
		t.Errorf("LastAssistantText() = %q, %v", got, ok)
	}
	if _, ok := (&Result{}).LastAssistantText(); ok {
		t.Error("empty result should have no text")
	}
}
