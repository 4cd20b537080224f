package logger

import (
	"context"
	"log/slog"
	"os"
)

// New returns the process-wide structured logger. Production and staging
// emit JSON for the log pipeline; local and dev use the text handler at
// debug level, which is far easier to follow while watching a live call.
func New(appEnv string) *slog.Logger {
	if appEnv == "local" || appEnv == "dev" {
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

type ctxKey struct{}

// With stores a logger in context. Used to carry call-scoped loggers across
// the bridge's goroutines.
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
