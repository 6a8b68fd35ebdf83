package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
)

// Middleware wraps a Handler to add cross-cutting behavior.
type Middleware func(Handler) Handler

// Chain composes middleware. Chain(a, b, c) produces a(b(c(handler))).
func Chain(middlewares ...Middleware) Middleware {
	return func(next Handler) Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// Recovery converts a panic in the handler into an error, so the worker
// survives and the attempt counts as failed.
func Recovery() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, ev Event) (out any, retErr error) {
			defer func() {
				if r := recover(); r != nil {
					info, _ := RunFromContext(ctx)
					slog.Error("run panicked",
						"run_id", info.RunID,
						"function", info.FunctionID,
						"panic", r,
						"stack", string(debug.Stack()),
					)
					out, retErr = nil, fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, ev)
		}
	}
}

// Logging logs the outcome of every attempt.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, ev Event) (any, error) {
			start := time.Now()
			info, _ := RunFromContext(ctx)

			out, err := next(ctx, ev)

			attrs := []slog.Attr{
				slog.String("run_id", info.RunID),
				slog.String("function", info.FunctionID),
				slog.String("event", ev.Name),
				slog.Int("attempt", info.Attempt),
				slog.Duration("duration", time.Since(start)),
			}
			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
				logger.LogAttrs(ctx, slog.LevelError, "run attempt failed", attrs...)
			} else {
				logger.LogAttrs(ctx, slog.LevelInfo, "run attempt completed", attrs...)
			}
			return out, err
		}
	}
}
