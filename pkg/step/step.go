package step

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"

	"github.com/rhuss/vibe/pkg/debug"
	"github.com/rhuss/vibe/pkg/observability"
)

// RetryPolicy controls how often a failing step is retried within one run
// attempt.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy retries a step three times, starting at 500ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	eb.MaxElapsedTime = 0
	var b backoff.BackOff = eb
	b = backoff.WithMaxRetries(b, uint64(max(p.MaxRetries, 0)))
	return backoff.WithContext(b, ctx)
}

// Runner executes the steps of one run. It is safe for concurrent use, but
// concurrent steps with the same name get ordinals in scheduling order, so
// parallel steps should use distinct names.
type Runner struct {
	runID   string
	journal Journal
	policy  RetryPolicy

	mu     sync.Mutex
	counts map[string]int
}

// Option configures a Runner.
type Option func(*Runner)

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(r *Runner) { r.policy = p }
}

// NewRunner creates a runner for runID backed by journal.
func NewRunner(runID string, journal Journal, opts ...Option) *Runner {
	r := &Runner{
		runID:   runID,
		journal: journal,
		policy:  DefaultRetryPolicy(),
		counts:  make(map[string]int),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// RunID returns the run this runner belongs to.
func (r *Runner) RunID() string {
	return r.runID
}

// nextID returns the step ID for the next occurrence of name.
func (r *Runner) nextID(name string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.counts[name]
	r.counts[name] = n + 1
	if n == 0 {
		return name
	}
	return name + ":" + strconv.Itoa(n)
}

type nonRetriableError struct{ err error }

func (e *nonRetriableError) Error() string { return e.err.Error() }
func (e *nonRetriableError) Unwrap() error { return e.err }

// NonRetriable marks err so that the step fails without further retries.
func NonRetriable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetriableError{err: err}
}

// IsNonRetriable reports whether err was marked with NonRetriable.
func IsNonRetriable(err error) bool {
	var nr *nonRetriableError
	return errors.As(err, &nr)
}

// Run executes fn as the durable step name. A nil runner executes fn
// directly, without memoization or retries.
func Run[T any](ctx context.Context, r *Runner, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	if r == nil {
		return fn(ctx)
	}

	var zero T
	id := r.nextID(name)

	ctx, span := observability.StartSpan(ctx, observability.SpanStep,
		attribute.String(observability.AttrRunID, r.runID),
		attribute.String(observability.AttrStepID, id),
	)

	if r.journal != nil {
		raw, ok, err := r.journal.Load(ctx, r.runID, id)
		if err != nil {
			observability.EndSpan(span, err)
			return zero, fmt.Errorf("loading step %q: %w", id, err)
		}
		if ok {
			var out T
			if err := json.Unmarshal(raw, &out); err != nil {
				observability.EndSpan(span, err)
				return zero, fmt.Errorf("decoding step %q: %w", id, err)
			}
			span.SetAttributes(attribute.Bool(observability.AttrReplayed, true))
			observability.EndSpan(span, nil)
			observability.StepExecutionsTotal.WithLabelValues(name, "replayed").Inc()
			debug.Log("steps", "step replayed", "run_id", r.runID, "step", id)
			return out, nil
		}
	}

	start := time.Now()
	var out T
	attempt := 0
	op := func() error {
		attempt++
		v, err := fn(ctx)
		if err != nil {
			if IsNonRetriable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = v
		return nil
	}
	notify := func(err error, wait time.Duration) {
		slog.Warn("step failed, retrying", "run_id", r.runID, "step", id, "attempt", attempt, "wait", wait, "error", err)
	}

	err := backoff.RetryNotify(op, r.policy.backOff(ctx), notify)
	observability.StepDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		observability.StepExecutionsTotal.WithLabelValues(name, "failed").Inc()
		observability.EndSpan(span, err)
		return zero, fmt.Errorf("step %q: %w", id, err)
	}

	if r.journal != nil {
		raw, err := json.Marshal(out)
		if err != nil {
			observability.EndSpan(span, err)
			return zero, fmt.Errorf("encoding step %q: %w", id, err)
		}
		if err := r.journal.Save(ctx, r.runID, id, raw); err != nil {
			observability.EndSpan(span, err)
			return zero, fmt.Errorf("saving step %q: %w", id, err)
		}
	}

	observability.StepExecutionsTotal.WithLabelValues(name, "executed").Inc()
	observability.EndSpan(span, nil)
	debug.Log("steps", "step executed", "run_id", r.runID, "step", id, "attempts", attempt, "duration", time.Since(start))
	return out, nil
}

type runnerKey struct{}

// WithRunner returns a context carrying r.
func WithRunner(ctx context.Context, r *Runner) context.Context {
	return context.WithValue(ctx, runnerKey{}, r)
}

// FromContext returns the runner stored in ctx, or nil.
func FromContext(ctx context.Context) *Runner {
	r, _ := ctx.Value(runnerKey{}).(*Runner)
	return r
}
