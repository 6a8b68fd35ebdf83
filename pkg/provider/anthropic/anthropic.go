// Package anthropic implements agent.Model on the Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/rhuss/vibe/pkg/agent"
	"github.com/rhuss/vibe/pkg/debug"
	"github.com/rhuss/vibe/pkg/observability"
	"github.com/rhuss/vibe/pkg/provider"
)

// Name is the provider label used in metrics.
const Name = "anthropic"

const defaultMaxTokens = 4096

// Model is an agent.Model backed by the Messages API.
type Model struct {
	cfg    provider.Config
	client sdk.Client
}

var _ agent.Model = (*Model)(nil)

// New creates a model client.
func New(cfg provider.Config) (*Model, error) {
	cfg = cfg.WithDefaults()
	if cfg.Type != provider.TypeAnthropic {
		return nil, fmt.Errorf("anthropic: unexpected provider type %q", cfg.Type)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		// Retries belong to the step engine.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Model{cfg: cfg, client: sdk.NewClient(opts...)}, nil
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

// Infer runs one Messages API call.
func (m *Model) Infer(ctx context.Context, req *agent.InferRequest) (*agent.InferResponse, error) {
	tools, err := toTools(req.Tools)
	if err != nil {
		return nil, err
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(m.cfg.BackendModel()),
		MaxTokens: int64(m.cfg.MaxTokens),
		Messages:  toMessages(req.Messages),
		Tools:     tools,
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}

	debug.Log("providers", "messages request",
		"model", m.cfg.BackendModel(),
		"messages", len(params.Messages),
		"tools", len(tools),
	)

	start := time.Now()
	msg, err := m.client.Messages.New(ctx, params)
	if err != nil {
		err = mapError(err)
		observability.RecordProviderCall(Name, m.cfg.Model, time.Since(start), 0, 0, err)
		return nil, err
	}
	in, out := int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens)
	observability.RecordProviderCall(Name, m.cfg.Model, time.Since(start), in, out, nil)

	result := fromMessage(msg)
	debug.Log("providers", "messages response",
		"model", string(msg.Model),
		"stop_reason", string(msg.StopReason),
		"tool_calls", len(result.ToolCalls),
	)

	return &agent.InferResponse{
		Model:  string(msg.Model),
		Output: []agent.Message{result},
		Usage:  agent.Usage{InputTokens: in, OutputTokens: out},
	}, nil
}

// toMessages converts the conversation. Consecutive messages with the same
// role are merged, since the API requires alternating turns and expects all
// tool results of one turn in a single user message.
func toMessages(msgs []agent.Message) []sdk.MessageParam {
	var out []sdk.MessageParam
	add := func(role sdk.MessageParamRole, blocks ...sdk.ContentBlockParamUnion) {
		if len(blocks) == 0 {
			return
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			return
		}
		out = append(out, sdk.MessageParam{Role: role, Content: blocks})
	}

	for _, m := range msgs {
		switch m.Type {
		case agent.MessageTypeToolResult:
			add(sdk.MessageParamRoleUser, sdk.NewToolResultBlock(m.ToolCallID, m.Text(), m.IsError))

		case agent.MessageTypeToolCall:
			var blocks []sdk.ContentBlockParamUnion
			if text := m.Text(); text != "" {
				blocks = append(blocks, sdk.NewTextBlock(text))
			}
			for _, tc := range m.ToolCalls {
				input := tc.Arguments
				if len(input) == 0 {
					input = json.RawMessage("{}")
				}
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			add(sdk.MessageParamRoleAssistant, blocks...)

		default:
			text := m.Text()
			if text == "" {
				continue
			}
			role := sdk.MessageParamRoleUser
			if m.Role == agent.RoleAssistant {
				role = sdk.MessageParamRoleAssistant
			}
			add(role, sdk.NewTextBlock(text))
		}
	}
	return out
}

type inputSchema struct {
	Properties any      `json:"properties"`
	Required   []string `json:"required"`
}

func toTools(specs []agent.ToolSpec) ([]sdk.ToolUnionParam, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	tools := make([]sdk.ToolUnionParam, 0, len(specs))
	for _, s := range specs {
		var schema inputSchema
		if len(s.Parameters) > 0 {
			if err := json.Unmarshal(s.Parameters, &schema); err != nil {
				return nil, fmt.Errorf("tool %s: invalid parameter schema: %w", s.Name, err)
			}
		}
		if schema.Properties == nil {
			schema.Properties = map[string]any{}
		}
		tp := sdk.ToolParam{
			Name: s.Name,
			InputSchema: sdk.ToolInputSchemaParam{
				Properties: schema.Properties,
				Required:   schema.Required,
			},
		}
		if s.Description != "" {
			tp.Description = sdk.String(s.Description)
		}
		tools = append(tools, sdk.ToolUnionParam{OfTool: &tp})
	}
	return tools, nil
}

// fromMessage converts the response content blocks into one assistant
// message. Several text blocks become text segments.
func fromMessage(msg *sdk.Message) agent.Message {
	out := agent.Message{Type: agent.MessageTypeText, Role: agent.RoleAssistant}
	var texts []string
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case sdk.TextBlock:
			texts = append(texts, b.Text)
		case sdk.ToolUseBlock:
			args := b.Input
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			out.ToolCalls = append(out.ToolCalls, agent.ToolCall{ID: b.ID, Name: b.Name, Arguments: args})
		}
	}

	switch len(texts) {
	case 0:
	case 1:
		out.Content.Text = texts[0]
	default:
		out.Content.Parts = texts
	}
	if len(out.ToolCalls) > 0 {
		out.Type = agent.MessageTypeToolCall
	}
	return out
}

func mapError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return provider.MapStatusError(apiErr.StatusCode, errorMessage(apiErr.RawJSON()))
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return provider.MapNetworkError(err)
}

// errorMessage extracts error.message from an API error body.
func errorMessage(raw string) string {
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		return ""
	}
	return strings.TrimSpace(body.Error.Message)
}
