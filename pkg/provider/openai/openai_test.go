package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rhuss/vibe/pkg/agent"
	"github.com/rhuss/vibe/pkg/api"
	"github.com/rhuss/vibe/pkg/provider"
	"github.com/rhuss/vibe/pkg/step"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role       string `json:"role"`
		Content    string `json:"content"`
		ToolCallID string `json:"tool_call_id"`
		ToolCalls  []struct {
			ID       string `json:"id"`
			Function struct {
				Name      string `json:"name"`
				Arguments string `json:"arguments"`
			} `json:"function"`
		} `json:"tool_calls"`
	} `json:"messages"`
	Tools []struct {
		Type     string `json:"type"`
		Function struct {
			Name       string          `json:"name"`
			Parameters json.RawMessage `json:"parameters"`
		} `json:"function"`
	} `json:"tools"`
}

func newTestModel(t *testing.T, handler func(t *testing.T, req chatRequest) any) *Model {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s, want /v1/chat/completions", r.URL.Path)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		out := handler(t, req)
		w.Header().Set("Content-Type", "application/json")
		if status, ok := out.(int); ok {
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "backend says no", "type": "invalid_request_error"}})
			return
		}
		json.NewEncoder(w).Encode(out)
	}))
	t.Cleanup(srv.Close)

	m, err := New(provider.Config{BaseURL: srv.URL + "/v1", APIKey: "test", Model: "test-model"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestInferTextResponse(t *testing.T) {
	m := newTestModel(t, func(t *testing.T, req chatRequest) any {
		if req.Model != "test-model" {
			t.Errorf("model = %q", req.Model)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Content != "hello" {
			t.Errorf("messages = %+v", req.Messages)
		}
		return map[string]any{
			"id":    "chatcmpl-1",
			"model": "test-model",
			"choices": []any{map[string]any{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": "Hi there"},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15},
		}
	})

	resp, err := m.Infer(context.Background(), &agent.InferRequest{
		System:   "be nice",
		Messages: []agent.Message{agent.UserMessage("hello")},
	})
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if len(resp.Output) != 1 || resp.Output[0].Text() != "Hi there" {
		t.Fatalf("output = %+v", resp.Output)
	}
	if resp.Output[0].Type != agent.MessageTypeText || resp.Output[0].Role != agent.RoleAssistant {
		t.Errorf("message kind = %s/%s", resp.Output[0].Type, resp.Output[0].Role)
	}
	if resp.Usage.InputTokens != 12 || resp.Usage.OutputTokens != 3 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestInferToolRoundTrip(t *testing.T) {
	m := newTestModel(t, func(t *testing.T, req chatRequest) any {
		if len(req.Tools) != 1 || req.Tools[0].Function.Name != "terminal" || req.Tools[0].Type != "function" {
			t.Errorf("tools = %+v", req.Tools)
		}
		// user, assistant tool call, tool result
		if len(req.Messages) != 3 {
			t.Fatalf("messages = %d, want 3", len(req.Messages))
		}
		call := req.Messages[1]
		if call.Role != "assistant" || len(call.ToolCalls) != 1 || call.ToolCalls[0].Function.Arguments != `{"command":"ls"}` {
			t.Errorf("assistant message = %+v", call)
		}
		if req.Messages[2].Role != "tool" || req.Messages[2].ToolCallID != "call_1" || req.Messages[2].Content != "app\n" {
			t.Errorf("tool message = %+v", req.Messages[2])
		}
		return map[string]any{
			"model": "test-model",
			"choices": []any{map[string]any{
				"message": map[string]any{
					"role": "assistant",
					"tool_calls": []any{
						map[string]any{"id": "call_2", "type": "function", "function": map[string]any{"name": "readFiles", "arguments": `{"files":["app/page.tsx"]}`}},
						map[string]any{"id": "call_3", "type": "function", "function": map[string]any{"name": "terminal", "arguments": ""}},
					},
				},
				"finish_reason": "tool_calls",
			}},
		}
	})

	call := agent.ToolCall{ID: "call_1", Name: "terminal", Arguments: json.RawMessage(`{"command":"ls"}`)}
	resp, err := m.Infer(context.Background(), &agent.InferRequest{
		Messages: []agent.Message{
			agent.UserMessage("list files"),
			{Type: agent.MessageTypeToolCall, Role: agent.RoleAssistant, ToolCalls: []agent.ToolCall{call}},
			agent.ToolResultMessage(call, "app\n", false),
		},
		Tools: []agent.ToolSpec{{Name: "terminal", Parameters: json.RawMessage(`{"type":"object"}`)}},
	})
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}

	msg := resp.Output[0]
	if msg.Type != agent.MessageTypeToolCall || len(msg.ToolCalls) != 2 {
		t.Fatalf("output = %+v", msg)
	}
	if string(msg.ToolCalls[0].Arguments) != `{"files":["app/page.tsx"]}` {
		t.Errorf("arguments = %s", msg.ToolCalls[0].Arguments)
	}
	if string(msg.ToolCalls[1].Arguments) != `{}` {
		t.Errorf("empty arguments = %s, want {}", msg.ToolCalls[1].Arguments)
	}
}

func TestInferMapsClientErrors(t *testing.T) {
	m := newTestModel(t, func(*testing.T, chatRequest) any { return http.StatusBadRequest })

	_, err := m.Infer(context.Background(), &agent.InferRequest{Messages: []agent.Message{agent.UserMessage("x")}})
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if apiErr.Type != api.ErrorTypeInvalidRequest {
		t.Errorf("type = %s", apiErr.Type)
	}
	if !step.IsNonRetriable(err) {
		t.Error("400 should not be retried")
	}
}

func TestInferServerErrorIsRetriable(t *testing.T) {
	m := newTestModel(t, func(*testing.T, chatRequest) any { return http.StatusBadGateway })

	_, err := m.Infer(context.Background(), &agent.InferRequest{Messages: []agent.Message{agent.UserMessage("x")}})
	if err == nil {
		t.Fatal("expected error")
	}
	if step.IsNonRetriable(err) {
		t.Error("5xx should be retried")
	}
}

func TestRawArguments(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "{}"},
		{"  ", "{}"},
		{`{"a":1}`, `{"a":1}`},
		{"not json", `"not json"`},
	}
	for _, tt := range tests {
		if got := string(rawArguments(tt.in)); got != tt.want {
			t.Errorf("rawArguments(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestWithModel(t *testing.T) {
	m, err := New(provider.Config{Model: "gpt-4.1"})
	if err != nil {
		t.Fatal(err)
	}
	mini := m.WithModel("gpt-4o-mini")
	if mini.Name() != "gpt-4o-mini" || m.Name() != "gpt-4.1" {
		t.Errorf("names = %q, %q", m.Name(), mini.Name())
	}
}
