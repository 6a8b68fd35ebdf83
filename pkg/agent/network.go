package agent

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/rhuss/vibe/pkg/observability"
)

// DefaultMaxIter is the iteration cap used when Network.MaxIter is unset.
const DefaultMaxIter = 10

// NetworkStatus is the terminal state of a network run.
type NetworkStatus string

const (
	// NetworkDone means the router returned no further agent.
	NetworkDone NetworkStatus = "done"

	// NetworkExhausted means the iteration cap was reached first.
	NetworkExhausted NetworkStatus = "exhausted"
)

// Router picks the agent for the next iteration, or nil to stop. last is
// the result of the previous iteration and nil before the first one.
type Router[S any] func(ctx context.Context, nw *Network[S], iteration int, last *Result) *Agent[S]

// Network coordinates agents over shared state.
type Network[S any] struct {
	Name    string
	Agents  []*Agent[S]
	MaxIter int

	// Router selects the next agent. When nil the first agent runs once.
	Router Router[S]

	// DefaultModel is used by agents without a model of their own.
	DefaultModel Model

	// State is the shared run state. Run allocates one when nil.
	State *S
}

// NetworkResult is the outcome of a network run.
type NetworkResult struct {
	Status     NetworkStatus `json:"status"`
	Iterations int           `json:"iterations"`
	Results    []*Result     `json:"results"`
}

// Last returns the result of the final iteration, or nil.
func (r *NetworkResult) Last() *Result {
	if r == nil || len(r.Results) == 0 {
		return nil
	}
	return r.Results[len(r.Results)-1]
}

func (nw *Network[S]) maxIter() int {
	if nw.MaxIter <= 0 {
		return DefaultMaxIter
	}
	return nw.MaxIter
}

func (nw *Network[S]) route(ctx context.Context, iteration int, last *Result) *Agent[S] {
	if nw.Router != nil {
		return nw.Router(ctx, nw, iteration, last)
	}
	if iteration == 0 && len(nw.Agents) > 0 {
		return nw.Agents[0]
	}
	return nil
}

// Run drives the network on input until the router stops or the iteration
// cap is reached. Each iteration sees the full conversation so far: the
// input, every earlier model output and every tool result.
func (nw *Network[S]) Run(ctx context.Context, input string) (*NetworkResult, error) {
	if nw.State == nil {
		nw.State = new(S)
	}

	maxIter := nw.maxIter()
	history := []Message{UserMessage(input)}
	result := &NetworkResult{}

	var last *Result
	for {
		next := nw.route(ctx, result.Iterations, last)
		if next == nil {
			result.Status = NetworkDone
			break
		}
		if result.Iterations >= maxIter {
			result.Status = NetworkExhausted
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		iterCtx, span := observability.StartSpan(ctx, observability.SpanIteration,
			attribute.String(observability.AttrAgent, next.Name),
			attribute.Int(observability.AttrIteration, result.Iterations),
		)
		res, err := next.invoke(iterCtx, nw, nw.DefaultModel, history)
		observability.EndSpan(span, err)
		if err != nil {
			return nil, fmt.Errorf("network %s: iteration %d: %w", nw.Name, result.Iterations, err)
		}

		history = append(history, res.Output...)
		history = append(history, res.ToolResults...)
		result.Results = append(result.Results, res)
		result.Iterations++
		last = res
	}

	observability.NetworkIterations.WithLabelValues(nw.Name, string(result.Status)).Observe(float64(result.Iterations))
	if result.Status == NetworkExhausted {
		slog.Warn("network reached iteration cap", "network", nw.Name, "max_iter", maxIter)
	}
	return result, nil
}
