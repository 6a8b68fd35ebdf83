package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/rhuss/vibe/pkg/debug"
	"github.com/rhuss/vibe/pkg/observability"
	"github.com/rhuss/vibe/pkg/step"
)

// ToolContext is passed to tool handlers.
type ToolContext[S any] struct {
	// Step is the runner of the current run, or nil outside a workflow.
	Step *step.Runner

	// Network is the network the tool runs in, or nil for a standalone
	// agent run.
	Network *Network[S]

	// State is the network state. It is nil for a standalone agent run.
	State *S
}

// ToolHandler executes a tool call. The returned value becomes the tool
// result: strings are used as-is, nil becomes a short confirmation and
// everything else is JSON-encoded. A returned error is reported to the
// model as "Error: <message>" and does not stop the loop.
type ToolHandler[S any] func(ctx context.Context, args json.RawMessage, tc *ToolContext[S]) (any, error)

// Tool is a function the model may call.
type Tool[S any] struct {
	Name        string
	Description string
	Parameters  json.RawMessage
	Handler     ToolHandler[S]
}

// Spec returns the model-facing description of t.
func (t Tool[S]) Spec() ToolSpec {
	return ToolSpec{Name: t.Name, Description: t.Description, Parameters: t.Parameters}
}

// DecodeArgs unmarshals tool arguments into T. Empty arguments decode to
// the zero value.
func DecodeArgs[T any](args json.RawMessage) (T, error) {
	var v T
	if len(args) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(args, &v); err != nil {
		return v, fmt.Errorf("invalid arguments: %w", err)
	}
	return v, nil
}

// formatToolOutput renders a handler result as tool result text.
func formatToolOutput(name string, v any) (string, error) {
	switch out := v.(type) {
	case nil:
		return fmt.Sprintf("Tool %s completed with no output", name), nil
	case string:
		return out, nil
	case json.RawMessage:
		return string(out), nil
	default:
		b, err := json.Marshal(out)
		if err != nil {
			return "", fmt.Errorf("encoding %s result: %w", name, err)
		}
		return string(b), nil
	}
}

// executeTools dispatches calls one at a time, in order.
func executeTools[S any](ctx context.Context, tools []Tool[S], calls []ToolCall, tc *ToolContext[S]) []Message {
	if len(calls) == 0 {
		return nil
	}

	byName := make(map[string]Tool[S], len(tools))
	for _, t := range tools {
		byName[t.Name] = t
	}

	results := make([]Message, 0, len(calls))
	for _, call := range calls {
		if ctx.Err() != nil {
			results = append(results, ToolResultMessage(call, "Error: context cancelled", true))
			continue
		}

		t, ok := byName[call.Name]
		if !ok || t.Handler == nil {
			observability.ToolExecutionsTotal.WithLabelValues(call.Name, "error").Inc()
			results = append(results, ToolResultMessage(call, "Error: no tool named "+call.Name, true))
			continue
		}

		results = append(results, executeTool(ctx, t, call, tc))
	}
	return results
}

func executeTool[S any](ctx context.Context, t Tool[S], call ToolCall, tc *ToolContext[S]) Message {
	ctx, span := observability.StartSpan(ctx, observability.SpanTool,
		attribute.String(observability.AttrToolName, t.Name),
	)

	debug.Log("tools", "tool call", "tool", t.Name, "call_id", call.ID, "arguments", debug.Truncate(string(call.Arguments), 200))

	v, err := t.Handler(ctx, call.Arguments, tc)
	if err == nil {
		var out string
		out, err = formatToolOutput(t.Name, v)
		if err == nil {
			observability.EndSpan(span, nil)
			observability.ToolExecutionsTotal.WithLabelValues(t.Name, "success").Inc()
			return ToolResultMessage(call, out, false)
		}
	}

	slog.Warn("tool execution error",
		"tool", t.Name,
		"call_id", call.ID,
		"error", err.Error(),
	)
	observability.EndSpan(span, err)
	observability.ToolExecutionsTotal.WithLabelValues(t.Name, "error").Inc()
	return ToolResultMessage(call, "Error: "+err.Error(), true)
}
