// Package openai implements agent.Model on the OpenAI Chat Completions API.
// Any backend speaking that protocol (vLLM, LiteLLM, Ollama) can be used by
// setting a base URL.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/rhuss/vibe/pkg/agent"
	"github.com/rhuss/vibe/pkg/debug"
	"github.com/rhuss/vibe/pkg/observability"
	"github.com/rhuss/vibe/pkg/provider"
)

// Name is the provider label used in metrics.
const Name = "openai"

// Model is an agent.Model backed by a Chat Completions endpoint.
type Model struct {
	cfg    provider.Config
	client *goopenai.Client
}

var _ agent.Model = (*Model)(nil)

// New creates a model client. An empty APIKey is allowed for local
// backends that do not authenticate.
func New(cfg provider.Config) (*Model, error) {
	cfg = cfg.WithDefaults()
	if cfg.Type != provider.TypeOpenAI {
		return nil, fmt.Errorf("openai: unexpected provider type %q", cfg.Type)
	}

	cc := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		cc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	cc.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &Model{cfg: cfg, client: goopenai.NewClientWithConfig(cc)}, nil
}

// WithModel returns a copy of m that sends requests for model name.
func (m *Model) WithModel(name string) *Model {
	cp := *m
	cp.cfg.Model = name
	return &cp
}

// Name returns the configured model name.
func (m *Model) Name() string {
	return m.cfg.Model
}

// Infer runs one chat completion.
func (m *Model) Infer(ctx context.Context, req *agent.InferRequest) (*agent.InferResponse, error) {
	creq := goopenai.ChatCompletionRequest{
		Model:    m.cfg.BackendModel(),
		Messages: toChatMessages(req.System, req.Messages),
		Tools:    toTools(req.Tools),
	}
	if m.cfg.MaxTokens > 0 {
		creq.MaxCompletionTokens = m.cfg.MaxTokens
	}

	debug.Log("providers", "chat completion request",
		"model", creq.Model,
		"messages", len(creq.Messages),
		"tools", len(creq.Tools),
	)

	start := time.Now()
	resp, err := m.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		err = mapError(err)
		observability.RecordProviderCall(Name, m.cfg.Model, time.Since(start), 0, 0, err)
		return nil, err
	}
	observability.RecordProviderCall(Name, m.cfg.Model, time.Since(start),
		resp.Usage.PromptTokens, resp.Usage.CompletionTokens, nil)

	if len(resp.Choices) == 0 {
		return nil, provider.MapStatusError(http.StatusBadGateway, "backend returned no choices")
	}

	msg := fromChatMessage(resp.Choices[0].Message)
	debug.Log("providers", "chat completion response",
		"model", resp.Model,
		"finish_reason", resp.Choices[0].FinishReason,
		"tool_calls", len(msg.ToolCalls),
	)

	return &agent.InferResponse{
		Model:  resp.Model,
		Output: []agent.Message{msg},
		Usage: agent.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

func toChatMessages(system string, msgs []agent.Message) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleSystem, Content: system})
	}

	for _, m := range msgs {
		switch m.Type {
		case agent.MessageTypeToolResult:
			out = append(out, goopenai.ChatCompletionMessage{
				Role:       goopenai.ChatMessageRoleTool,
				Content:    m.Text(),
				ToolCallID: m.ToolCallID,
			})

		case agent.MessageTypeToolCall:
			cm := goopenai.ChatCompletionMessage{
				Role:    goopenai.ChatMessageRoleAssistant,
				Content: m.Text(),
			}
			for _, tc := range m.ToolCalls {
				args := string(tc.Arguments)
				if args == "" {
					args = "{}"
				}
				cm.ToolCalls = append(cm.ToolCalls, goopenai.ToolCall{
					ID:   tc.ID,
					Type: goopenai.ToolTypeFunction,
					Function: goopenai.FunctionCall{
						Name:      tc.Name,
						Arguments: args,
					},
				})
			}
			out = append(out, cm)

		default:
			role := goopenai.ChatMessageRoleUser
			if m.Role == agent.RoleAssistant {
				role = goopenai.ChatMessageRoleAssistant
			}
			out = append(out, goopenai.ChatCompletionMessage{Role: role, Content: m.Text()})
		}
	}
	return out
}

func toTools(specs []agent.ToolSpec) []goopenai.Tool {
	if len(specs) == 0 {
		return nil
	}
	tools := make([]goopenai.Tool, 0, len(specs))
	for _, s := range specs {
		var params any = s.Parameters
		if len(s.Parameters) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		tools = append(tools, goopenai.Tool{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  params,
			},
		})
	}
	return tools
}

// fromChatMessage converts the assistant reply. Multi-part content is kept
// as text segments.
func fromChatMessage(cm goopenai.ChatCompletionMessage) agent.Message {
	msg := agent.Message{
		Type: agent.MessageTypeText,
		Role: agent.RoleAssistant,
	}
	if len(cm.MultiContent) > 0 {
		for _, p := range cm.MultiContent {
			if p.Type == goopenai.ChatMessagePartTypeText {
				msg.Content.Parts = append(msg.Content.Parts, p.Text)
			}
		}
	} else {
		msg.Content.Text = cm.Content
	}

	if len(cm.ToolCalls) == 0 {
		return msg
	}
	msg.Type = agent.MessageTypeToolCall
	for _, tc := range cm.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, agent.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: rawArguments(tc.Function.Arguments),
		})
	}
	return msg
}

// rawArguments keeps valid JSON as-is. Anything else is wrapped as a JSON
// string so the message stays encodable; the tool then rejects it.
func rawArguments(s string) json.RawMessage {
	s = strings.TrimSpace(s)
	if s == "" {
		return json.RawMessage("{}")
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	b, _ := json.Marshal(s)
	return b
}

func mapError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return provider.MapStatusError(apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return provider.MapStatusError(reqErr.HTTPStatusCode, "")
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return provider.MapNetworkError(err)
}
