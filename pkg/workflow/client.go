package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"

	"github.com/rhuss/vibe/pkg/api"
	"github.com/rhuss/vibe/pkg/debug"
	"github.com/rhuss/vibe/pkg/observability"
	"github.com/rhuss/vibe/pkg/step"
)

var (
	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("workflow: client closed")

	// ErrNotStarted is returned by Send before Start.
	ErrNotStarted = errors.New("workflow: client not started")
)

// Config configures the dispatcher.
type Config struct {
	// Workers is the number of runs executed concurrently.
	Workers int

	// QueueSize bounds the number of runs waiting for a worker. Send blocks
	// while the queue is full.
	QueueSize int

	// RunHistory is the number of run records kept for Run lookups.
	RunHistory int

	// RetryInitialInterval and RetryMaxInterval shape the backoff between
	// attempts of a failed run.
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration

	// StepRetry is the retry policy for steps within one attempt.
	StepRetry step.RetryPolicy
}

// DefaultConfig returns the dispatcher defaults.
func DefaultConfig() Config {
	return Config{
		Workers:              4,
		QueueSize:            100,
		RunHistory:           1000,
		RetryInitialInterval: time.Second,
		RetryMaxInterval:     30 * time.Second,
		StepRetry:            step.DefaultRetryPolicy(),
	}
}

type job struct {
	runID   string
	fn      Function
	handler Handler
	ev      Event
}

// Client dispatches events to registered functions.
type Client struct {
	cfg        Config
	journal    step.Journal
	middleware Middleware

	mu        sync.RWMutex
	functions map[string][]registered
	ids       map[string]bool
	started   bool
	closed    bool

	queue    chan job
	stopping chan struct{}
	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	runsMu sync.Mutex
	runs   *lru.Cache[string, *api.Run]
}

type registered struct {
	fn      Function
	handler Handler
}

// New creates a dispatcher. Steps are journaled in journal; middlewares wrap
// every registered handler, outermost first.
func New(cfg Config, journal step.Journal, middlewares ...Middleware) (*Client, error) {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.RunHistory <= 0 {
		cfg.RunHistory = def.RunHistory
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = def.RetryInitialInterval
	}
	if cfg.RetryMaxInterval <= 0 {
		cfg.RetryMaxInterval = def.RetryMaxInterval
	}
	if cfg.StepRetry == (step.RetryPolicy{}) {
		cfg.StepRetry = def.StepRetry
	}
	if journal == nil {
		journal = step.NewMemoryJournal()
	}

	runs, err := lru.New[string, *api.Run](cfg.RunHistory)
	if err != nil {
		return nil, fmt.Errorf("creating run registry: %w", err)
	}

	return &Client{
		cfg:        cfg,
		journal:    journal,
		middleware: Chain(middlewares...),
		functions:  make(map[string][]registered),
		ids:        make(map[string]bool),
		queue:      make(chan job, cfg.QueueSize),
		stopping:   make(chan struct{}),
		quit:       make(chan struct{}),
		runs:       runs,
	}, nil
}

// Register adds fn. Function IDs must be unique.
func (c *Client) Register(fn Function) error {
	if fn.ID == "" || fn.Trigger == "" || fn.Handler == nil {
		return errors.New("workflow: function needs an ID, a trigger and a handler")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ids[fn.ID] {
		return fmt.Errorf("workflow: function %q already registered", fn.ID)
	}
	c.ids[fn.ID] = true
	c.functions[fn.Trigger] = append(c.functions[fn.Trigger], registered{fn: fn, handler: c.middleware(fn.Handler)})
	slog.Info("workflow function registered", "function", fn.ID, "trigger", fn.Trigger, "retries", fn.Retries)
	return nil
}

// Start launches the workers. Runs execute under ctx; cancelling it aborts
// them.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.started {
		return errors.New("workflow: client already started")
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)

	for i := 0; i < c.cfg.Workers; i++ {
		c.wg.Add(1)
		go c.worker()
	}
	slog.Info("workflow dispatcher started", "workers", c.cfg.Workers, "queue_size", c.cfg.QueueSize)
	return nil
}

// Send emits event name with data and queues one run per function
// registered for it. It returns the run IDs; an event nobody listens to
// yields none.
func (c *Client) Send(ctx context.Context, name string, data any) ([]string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding event data: %w", err)
	}
	ev := Event{
		ID:        newID("evt_"),
		Name:      name,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrClosed
	}
	if !c.started {
		return nil, ErrNotStarted
	}

	fns := c.functions[name]
	if len(fns) == 0 {
		debug.Log("workflow", "event without functions", "event", name, "event_id", ev.ID)
		return nil, nil
	}

	ids := make([]string, 0, len(fns))
	for _, r := range fns {
		j := job{runID: newID("run_"), fn: r.fn, handler: r.handler, ev: ev}
		c.record(&api.Run{
			ID:         j.runID,
			FunctionID: r.fn.ID,
			EventID:    ev.ID,
			Status:     api.RunStatusQueued,
			StartedAt:  ev.Timestamp,
		})

		select {
		case c.queue <- j:
			ids = append(ids, j.runID)
		case <-ctx.Done():
			c.finish(j.runID, ctx.Err(), nil)
			return ids, ctx.Err()
		case <-c.stopping:
			c.finish(j.runID, ErrClosed, nil)
			return ids, ErrClosed
		}
	}

	slog.Info("event sent", "event", name, "event_id", ev.ID, "runs", len(ids))
	return ids, nil
}

// Run returns a snapshot of the run record, if it is still in the registry.
func (c *Client) Run(id string) (api.Run, bool) {
	c.runsMu.Lock()
	defer c.runsMu.Unlock()
	r, ok := c.runs.Get(id)
	if !ok {
		return api.Run{}, false
	}
	return *r, true
}

// Close stops accepting events, lets the workers finish queued and running
// runs, and returns when they are done. If ctx expires first the remaining
// runs are cancelled.
func (c *Client) Close(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stopping) })

	c.mu.Lock()
	alreadyClosed := c.closed
	c.closed = true
	started := c.started
	c.mu.Unlock()
	if alreadyClosed || !started {
		return nil
	}
	close(c.quit)

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.cancel()
		slog.Info("workflow dispatcher stopped")
		return nil
	case <-ctx.Done():
		slog.Warn("workflow dispatcher stop timed out, cancelling runs")
		c.cancel()
		<-done
		return ctx.Err()
	}
}

func (c *Client) worker() {
	defer c.wg.Done()
	for {
		select {
		case j := <-c.queue:
			c.execute(j)
		case <-c.quit:
			// Drain what was queued before Close.
			for {
				select {
				case j := <-c.queue:
					c.execute(j)
				default:
					return
				}
			}
		}
	}
}

// execute runs all attempts of one run.
func (c *Client) execute(j job) {
	observability.ActiveRuns.Inc()
	defer observability.ActiveRuns.Dec()

	start := time.Now()
	ctx, span := observability.StartSpan(c.ctx, observability.SpanRun,
		attribute.String(observability.AttrRunID, j.runID),
		attribute.String(observability.AttrFunctionID, j.fn.ID),
	)

	attempt := 0
	var out any
	op := func() error {
		attempt++
		c.update(j.runID, api.RunStatusRunning, func(r *api.Run) { r.Attempts = attempt })

		runner := step.NewRunner(j.runID, c.journal, step.WithRetryPolicy(c.cfg.StepRetry))
		actx := contextWithRun(ctx, RunInfo{RunID: j.runID, FunctionID: j.fn.ID, Attempt: attempt})
		actx = step.WithRunner(actx, runner)

		v, err := j.handler(actx, j.ev)
		if err != nil {
			if step.IsNonRetriable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = v
		return nil
	}
	notify := func(err error, wait time.Duration) {
		observability.RunsTotal.WithLabelValues(j.fn.ID, "retried").Inc()
		c.update(j.runID, api.RunStatusRetrying, func(r *api.Run) { r.Error = err.Error() })
		slog.Warn("run failed, retrying",
			"run_id", j.runID,
			"function", j.fn.ID,
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
	}

	err := backoff.RetryNotify(op, c.backOff(ctx, j.fn.Retries), notify)
	observability.RunDuration.WithLabelValues(j.fn.ID).Observe(time.Since(start).Seconds())
	observability.EndSpan(span, err)
	c.finish(j.runID, err, out)

	if err != nil {
		observability.RunsTotal.WithLabelValues(j.fn.ID, "failed").Inc()
		slog.Error("run failed",
			"run_id", j.runID,
			"function", j.fn.ID,
			"attempts", attempt,
			"error", err,
		)
		return
	}
	observability.RunsTotal.WithLabelValues(j.fn.ID, "completed").Inc()
	slog.Info("run completed", "run_id", j.runID, "function", j.fn.ID, "attempts", attempt, "duration", time.Since(start))

	// Completed runs never replay; failed ones keep their journal until
	// the journal is pruned.
	if f, ok := c.journal.(interface{ Forget(runID string) }); ok {
		f.Forget(j.runID)
	}
}

func (c *Client) backOff(ctx context.Context, retries int) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.cfg.RetryInitialInterval
	eb.MaxInterval = c.cfg.RetryMaxInterval
	eb.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(max(retries, 0))), ctx)
}

// finish moves a run to its terminal status.
func (c *Client) finish(id string, err error, out any) {
	now := time.Now().UTC()
	if err != nil {
		c.update(id, api.RunStatusFailed, func(r *api.Run) {
			r.Error = err.Error()
			r.EndedAt = &now
		})
		return
	}
	c.update(id, api.RunStatusCompleted, func(r *api.Run) {
		r.Error = ""
		r.Output = out
		r.EndedAt = &now
	})
}

func (c *Client) record(r *api.Run) {
	c.runsMu.Lock()
	defer c.runsMu.Unlock()
	c.runs.Add(r.ID, r)
}

// update applies a status transition to a run record. Records evicted from
// the registry are skipped.
func (c *Client) update(id string, to api.RunStatus, mutate func(*api.Run)) {
	c.runsMu.Lock()
	defer c.runsMu.Unlock()
	r, ok := c.runs.Get(id)
	if !ok {
		return
	}
	if err := api.ValidateRunTransition(r.Status, to); err != nil {
		slog.Warn("invalid run transition", "run_id", id, "from", r.Status, "to", to)
		return
	}
	cp := *r
	cp.Status = to
	if mutate != nil {
		mutate(&cp)
	}
	c.runs.Add(id, &cp)
}

func newID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}
