package codeagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rhuss/vibe/pkg/agent"
	"github.com/rhuss/vibe/pkg/api"
	"github.com/rhuss/vibe/pkg/observability"
	"github.com/rhuss/vibe/pkg/sandbox"
	"github.com/rhuss/vibe/pkg/step"
	"github.com/rhuss/vibe/pkg/workflow"
)

// Workflow identifiers.
const (
	FunctionID = "code-agent"
	EventName  = "code-agent/run"
)

// Defaults.
const (
	DefaultTemplate = "vibe-nextjs"
	DefaultMaxIter  = 10
	PreviewPort     = 3000
)

// MessageStore persists the assistant message of a run.
type MessageStore interface {
	// CreateMessage stores msg and its fragment, if any, atomically.
	CreateMessage(ctx context.Context, msg *api.Message) error
}

// Config configures the code agent function.
type Config struct {
	// Model drives the code agent.
	Model agent.Model

	// TitleModel and ResponseModel drive the post-processing generators.
	// Both default to Model.
	TitleModel    agent.Model
	ResponseModel agent.Model

	Sandboxes sandbox.Provider
	Store     MessageStore

	// Template is the sandbox template to provision. Defaults to
	// DefaultTemplate.
	Template string

	// MaxIter caps agent iterations. Defaults to DefaultMaxIter.
	MaxIter int

	// CommandTimeout bounds each terminal command. Zero uses the sandbox
	// default.
	CommandTimeout time.Duration

	// Retries is the number of times a failed run is retried.
	Retries int

	// ExtraTools are offered to the code agent next to the sandbox tools.
	ExtraTools []agent.Tool[State]
}

// Function is the code agent workflow function.
type Function struct {
	cfg Config
}

// New validates cfg and returns the function.
func New(cfg Config) (*Function, error) {
	if cfg.Model == nil {
		return nil, errors.New("codeagent: model is required")
	}
	if cfg.Sandboxes == nil {
		return nil, errors.New("codeagent: sandbox provider is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("codeagent: message store is required")
	}
	if cfg.TitleModel == nil {
		cfg.TitleModel = cfg.Model
	}
	if cfg.ResponseModel == nil {
		cfg.ResponseModel = cfg.Model
	}
	if cfg.Template == "" {
		cfg.Template = DefaultTemplate
	}
	if cfg.MaxIter <= 0 {
		cfg.MaxIter = DefaultMaxIter
	}
	return &Function{cfg: cfg}, nil
}

// Definition returns the workflow registration of f.
func (f *Function) Definition() workflow.Function {
	return workflow.Function{
		ID:      FunctionID,
		Trigger: EventName,
		Retries: f.cfg.Retries,
		Handler: f.Handle,
	}
}

// Handle decodes the event payload and runs the function.
func (f *Function) Handle(ctx context.Context, ev workflow.Event) (any, error) {
	var in api.RunInput
	if err := json.Unmarshal(ev.Data, &in); err != nil {
		return nil, step.NonRetriable(fmt.Errorf("decoding %s payload: %w", ev.Name, err))
	}
	if in.ProjectID == "" {
		return nil, step.NonRetriable(errors.New("projectId is required"))
	}
	return f.Run(ctx, in)
}

// Run executes one code agent run. Steps are memoized through the runner in
// ctx, if any.
func (f *Function) Run(ctx context.Context, in api.RunInput) (*api.RunResult, error) {
	runner := step.FromContext(ctx)

	sandboxID, err := step.Run(ctx, runner, "get-sandbox-id", func(ctx context.Context) (string, error) {
		return f.cfg.Sandboxes.Create(ctx, f.cfg.Template)
	})
	if err != nil {
		return nil, err
	}

	tb := &toolbox{sandboxes: f.cfg.Sandboxes, sandboxID: sandboxID, commandTimeout: f.cfg.CommandTimeout}
	codeAgent := &agent.Agent[State]{
		Name:        "code-agent",
		Description: "An expert coding agent",
		System:      SystemPrompt,
		Model:       f.cfg.Model,
		Tools:       append(tb.tools(), f.cfg.ExtraTools...),
		Lifecycle: agent.Lifecycle[State]{
			OnResponse: func(_ context.Context, nw *agent.Network[State], res *agent.Result) error {
				if nw == nil {
					return nil
				}
				if text, ok := res.LastAssistantText(); ok && nw.State.recordSummary(text) {
					slog.Debug("task summary recorded", "project_id", in.ProjectID)
				}
				return nil
			},
		},
	}

	network := &agent.Network[State]{
		Name:    "coding-agent-network",
		Agents:  []*agent.Agent[State]{codeAgent},
		MaxIter: f.cfg.MaxIter,
		State:   &State{Files: map[string]string{}},
		Router: func(_ context.Context, nw *agent.Network[State], _ int, _ *agent.Result) *agent.Agent[State] {
			if nw.State.Summary != "" {
				return nil
			}
			return codeAgent
		},
	}

	result, err := network.Run(ctx, in.Value)
	if err != nil {
		return nil, err
	}
	state := network.State

	slog.Info("agent network finished",
		"project_id", in.ProjectID,
		"sandbox_id", sandboxID,
		"status", result.Status,
		"iterations", result.Iterations,
		"files", len(state.Files),
		"summary", state.Summary != "",
	)

	if state.Failed() {
		if _, err := f.save(ctx, runner, &api.Message{
			ProjectID: in.ProjectID,
			Content:   ErrorMessage,
			Role:      api.RoleAssistant,
			Type:      api.MessageTypeError,
		}); err != nil {
			return nil, err
		}
		return &api.RunResult{Files: state.Files, Summary: state.Summary}, nil
	}

	title, response, err := f.postProcess(ctx, state.Summary)
	if err != nil {
		return nil, err
	}

	url, err := step.Run(ctx, runner, "get-sandbox-url", func(ctx context.Context) (string, error) {
		sb, err := f.cfg.Sandboxes.Connect(ctx, sandboxID)
		if err != nil {
			return "", err
		}
		return "http://" + sb.Host(PreviewPort), nil
	})
	if err != nil {
		return nil, err
	}

	if _, err := f.save(ctx, runner, &api.Message{
		ProjectID: in.ProjectID,
		Content:   response,
		Role:      api.RoleAssistant,
		Type:      api.MessageTypeResult,
		Fragment: &api.Fragment{
			SandboxURL: url,
			Title:      title,
			Files:      state.Files,
		},
	}); err != nil {
		return nil, err
	}

	return &api.RunResult{
		URL:     url,
		Title:   title,
		Files:   state.Files,
		Summary: state.Summary,
	}, nil
}

// postProcess derives the fragment title and the reply text from summary.
// The two generators are independent and run concurrently.
func (f *Function) postProcess(ctx context.Context, summary string) (title, response string, err error) {
	titleAgent := &agent.Agent[State]{
		Name:        "fragment-title-generator",
		Description: "Generate a title for the fragment",
		System:      TitlePrompt,
		Model:       f.cfg.TitleModel,
	}
	responseAgent := &agent.Agent[State]{
		Name:        "response-generator",
		Description: "Generate a response for the fragment",
		System:      ResponsePrompt,
		Model:       f.cfg.ResponseModel,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := titleAgent.Run(gctx, summary)
		if err != nil {
			return err
		}
		title = textOutput(res, FallbackTitle)
		return nil
	})
	g.Go(func() error {
		res, err := responseAgent.Run(gctx, summary)
		if err != nil {
			return err
		}
		response = textOutput(res, FallbackResponse)
		return nil
	})
	if err := g.Wait(); err != nil {
		return "", "", err
	}
	return title, response, nil
}

// save persists msg as the final step of the run.
func (f *Function) save(ctx context.Context, runner *step.Runner, msg *api.Message) (*api.Message, error) {
	return step.Run(ctx, runner, "save-result", func(ctx context.Context) (*api.Message, error) {
		now := time.Now().UTC()
		msg.ID = api.NewMessageID()
		msg.CreatedAt, msg.UpdatedAt = now, now
		if msg.Fragment != nil {
			msg.Fragment.ID = api.NewFragmentID()
			msg.Fragment.MessageID = msg.ID
			msg.Fragment.CreatedAt, msg.Fragment.UpdatedAt = now, now
		}
		if err := f.cfg.Store.CreateMessage(ctx, msg); err != nil {
			return nil, fmt.Errorf("saving result: %w", err)
		}
		observability.RunResultsTotal.WithLabelValues(string(msg.Type)).Inc()
		return msg, nil
	})
}
