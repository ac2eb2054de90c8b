package logger

import (
	"context"
	"log/slog"
	"os"
)

// New returns the process-wide structured logger.
// Both the API and the dialer processes log JSON to stdout; verbosity follows
// the environment so local runs show debug output without extra flags.
func New(appEnv string) *slog.Logger {
	level := slog.LevelInfo
	if appEnv == "local" || appEnv == "dev" {
		level = slog.LevelDebug
	}

	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h)
}

// ForWorker returns a logger scoped to one worker loop.
// Every line emitted by a worker carries its worker_id so interleaved loops
// can be told apart in aggregated output.
func ForWorker(l *slog.Logger, workerID string) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	return l.With("worker_id", workerID)
}

type ctxKey struct{}

// With stores a logger in context.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From gets a logger from context, falling back to slog.Default().
func From(ctx context.Context) *slog.Logger {
	if v := ctx.Value(ctxKey{}); v != nil {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}
