package agent

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/rhuss/vibe/pkg/debug"
	"github.com/rhuss/vibe/pkg/observability"
	"github.com/rhuss/vibe/pkg/step"
)

// ErrNoModel is returned when an agent has no model and its network does
// not supply a default.
var ErrNoModel = errors.New("agent has no model")

// Lifecycle holds optional hooks around an agent invocation.
type Lifecycle[S any] struct {
	// OnResponse runs after each inference, before any tool call is
	// executed. nw is nil for a standalone run.
	OnResponse func(ctx context.Context, nw *Network[S], res *Result) error
}

// Agent is a model with a system prompt and tools.
type Agent[S any] struct {
	Name        string
	Description string
	System      string
	Model       Model
	Tools       []Tool[S]
	Lifecycle   Lifecycle[S]
}

// Result is the outcome of one agent invocation.
type Result struct {
	Agent       string    `json:"agent"`
	Model       string    `json:"model,omitempty"`
	Output      []Message `json:"output"`
	ToolResults []Message `json:"tool_results,omitempty"`
	Usage       Usage     `json:"usage"`
}

// LastAssistantText returns the text of the last assistant text message in
// the output.
func (r *Result) LastAssistantText() (string, bool) {
	if r == nil {
		return "", false
	}
	for i := len(r.Output) - 1; i >= 0; i-- {
		m := r.Output[i]
		if m.Type == MessageTypeText && m.Role == RoleAssistant {
			return m.Text(), true
		}
	}
	return "", false
}

// Run invokes the agent once on input outside of any network. Tool calls
// requested by the model are executed with a nil state.
func (a *Agent[S]) Run(ctx context.Context, input string) (*Result, error) {
	return a.invoke(ctx, nil, nil, []Message{UserMessage(input)})
}

// invoke runs one inference over history and executes the requested tools.
func (a *Agent[S]) invoke(ctx context.Context, nw *Network[S], fallback Model, history []Message) (*Result, error) {
	model := a.Model
	if model == nil {
		model = fallback
	}
	if model == nil {
		return nil, fmt.Errorf("%s: %w", a.Name, ErrNoModel)
	}

	specs := make([]ToolSpec, 0, len(a.Tools))
	for _, t := range a.Tools {
		specs = append(specs, t.Spec())
	}
	req := &InferRequest{System: a.System, Messages: history, Tools: specs}

	runner := step.FromContext(ctx)
	resp, err := step.Run(ctx, runner, "infer:"+a.Name, func(ctx context.Context) (*InferResponse, error) {
		ctx, span := observability.StartSpan(ctx, observability.SpanInference,
			attribute.String(observability.AttrAgent, a.Name),
			attribute.String(observability.AttrModel, model.Name()),
		)
		resp, err := model.Infer(ctx, req)
		observability.EndSpan(span, err)
		if err != nil {
			return nil, err
		}
		return resp, nil
	})
	if err != nil {
		return nil, fmt.Errorf("agent %s: inference: %w", a.Name, err)
	}

	res := &Result{
		Agent:  a.Name,
		Model:  resp.Model,
		Output: resp.Output,
		Usage:  resp.Usage,
	}
	debug.Log("agent", "inference completed",
		"agent", a.Name,
		"messages", len(resp.Output),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
	)

	if a.Lifecycle.OnResponse != nil {
		if err := a.Lifecycle.OnResponse(ctx, nw, res); err != nil {
			return nil, fmt.Errorf("agent %s: on response: %w", a.Name, err)
		}
	}

	tc := &ToolContext[S]{Step: runner, Network: nw}
	if nw != nil {
		tc.State = nw.State
	}
	res.ToolResults = executeTools(ctx, a.Tools, toolCalls(res.Output), tc)
	return res, nil
}
