// Package mockbackend is a deterministic Chat Completions backend that
// scripts a complete code agent run without a real model:
//
//  1. createOrUpdateFiles writes app/page.tsx rendering the user's prompt
//  2. terminal runs a harmless command
//  3. the agent answers with a <task_summary>
//
// Requests without tools are answered as the title or response generator.
package mockbackend

import (
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"unicode"
	"unicode/utf8"
)

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Tools    []chatTool    `json:"tools,omitempty"`
	Stream   bool          `json:"stream"`
}

type chatTool struct {
	Type     string `json:"type"`
	Function struct {
		Name string `json:"name"`
	} `json:"function"`
}

type chatMessage struct {
	Role       string     `json:"role"`
	Content    any        `json:"content"`
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type toolCall struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Function funcCall `json:"function"`
}

type funcCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// respond picks the next scripted answer from the conversation so far.
func respond(req *chatRequest) chatResponse {
	model := req.Model
	if model == "" {
		model = "mock-model"
	}

	var msg chatMessage
	switch {
	case len(req.Tools) > 0:
		msg = agentTurn(req)
	case strings.Contains(strings.ToLower(systemPrompt(req)), "title"):
		msg = text(titleFor(lastUserText(req)))
	default:
		msg = text("I built a simple page for your request. Open the preview to see it.")
	}

	finish := "stop"
	if len(msg.ToolCalls) > 0 {
		finish = "tool_calls"
	}
	return chatResponse{
		ID:      fmt.Sprintf("chatcmpl-mock-%d", len(req.Messages)),
		Object:  "chat.completion",
		Created: 1700000000,
		Model:   model,
		Choices: []chatChoice{{Message: msg, FinishReason: finish}},
		Usage:   chatUsage{PromptTokens: 20 * len(req.Messages), CompletionTokens: 25, TotalTokens: 20*len(req.Messages) + 25},
	}
}

// agentTurn advances the code agent script by the number of tool results
// already in the conversation.
func agentTurn(req *chatRequest) chatMessage {
	results := 0
	for _, m := range req.Messages {
		if m.Role == "tool" {
			results++
		}
	}

	prompt := lastUserText(req)
	switch results {
	case 0:
		args, _ := json.Marshal(map[string]any{
			"files": []map[string]string{{"path": "app/page.tsx", "content": pageFor(prompt)}},
		})
		return call("call_write", "createOrUpdateFiles", string(args))
	case 1:
		return call("call_check", "terminal", `{"command":"ls app"}`)
	default:
		return text("<task_summary>\nCreated app/page.tsx.\n" + summaryMarker + prompt + "\n</task_summary>")
	}
}

func pageFor(prompt string) string {
	return `export default function Page() {
  return (
    <main className="flex min-h-screen items-center justify-center">
      <h1 className="text-2xl font-semibold">` + html.EscapeString(prompt) + `</h1>
    </main>
  );
}
`
}

const summaryMarker = "Built: "

// titleFor returns up to three capitalized words of the prompt, or of the
// original request when prompt is a scripted summary.
func titleFor(prompt string) string {
	if _, built, ok := strings.Cut(prompt, summaryMarker); ok {
		prompt, _, _ = strings.Cut(built, "\n")
	}
	words := strings.Fields(prompt)
	if len(words) > 3 {
		words = words[:3]
	}
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	if len(words) == 0 {
		return "Fragment"
	}
	return strings.Join(words, " ")
}

func text(s string) chatMessage {
	return chatMessage{Role: "assistant", Content: s}
}

func call(id, name, args string) chatMessage {
	return chatMessage{
		Role:      "assistant",
		ToolCalls: []toolCall{{ID: id, Type: "function", Function: funcCall{Name: name, Arguments: args}}},
	}
}

func systemPrompt(req *chatRequest) string {
	for _, m := range req.Messages {
		if m.Role == "system" {
			return contentText(m.Content)
		}
	}
	return ""
}

func lastUserText(req *chatRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return contentText(req.Messages[i].Content)
		}
	}
	return ""
}

// contentText flattens string or multi-part content.
func contentText(c any) string {
	switch v := c.(type) {
	case string:
		return v
	case []any:
		var parts []string
		for _, p := range v {
			if m, ok := p.(map[string]any); ok {
				if s, ok := m["text"].(string); ok {
					parts = append(parts, s)
				}
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

// NewHandler returns the Chat Completions mock as an http.Handler.
func NewHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", handleChatCompletions)
	mux.HandleFunc("GET /v1/models", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"object": "list",
			"data":   []map[string]any{{"id": "mock-model", "object": "model", "owned_by": "vibe"}},
		})
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

func handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": map[string]string{"message": "invalid request: " + err.Error(), "type": "invalid_request_error"},
		})
		return
	}
	if req.Stream {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": map[string]string{"message": "streaming is not supported", "type": "invalid_request_error"},
		})
		return
	}

	resp := respond(&req)
	slog.Debug("mock completion",
		"model", resp.Model,
		"messages", len(req.Messages),
		"tools", len(req.Tools),
		"finish_reason", resp.Choices[0].FinishReason,
	)
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
