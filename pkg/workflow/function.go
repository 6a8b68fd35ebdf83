package workflow

import (
	"context"
	"encoding/json"
	"time"
)

// Event triggers the functions registered for its name.
type Event struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"ts"`
}

// Handler executes one attempt of a run. The returned value is kept as the
// run output.
type Handler func(ctx context.Context, ev Event) (any, error)

// Function is a handler bound to an event name.
type Function struct {
	// ID identifies the function in run records and metrics.
	ID string

	// Trigger is the event name the function runs for.
	Trigger string

	// Retries is the number of additional attempts after a failed one.
	// Errors marked with step.NonRetriable are never retried.
	Retries int

	Handler Handler
}

type runKey struct{}

// RunInfo identifies the run an attempt belongs to.
type RunInfo struct {
	RunID      string
	FunctionID string
	Attempt    int
}

// RunFromContext returns the run executing in ctx.
func RunFromContext(ctx context.Context) (RunInfo, bool) {
	info, ok := ctx.Value(runKey{}).(RunInfo)
	return info, ok
}

func contextWithRun(ctx context.Context, info RunInfo) context.Context {
	return context.WithValue(ctx, runKey{}, info)
}
