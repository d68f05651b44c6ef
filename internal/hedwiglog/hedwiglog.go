// Package hedwiglog provides Hedwig's structured logging facility. It
// follows Chris-Alexander-Pop-go-hyperforge/pkg/logger's shape — a
// slog.Logger, JSON by default, with a package-level accessor — scaled down
// to what the consumer/publisher core needs: one log record per error path,
// always carrying a machine-readable "kind" attribute and an optional
// "extra" map, per spec.md §9 open question (c) (no dual stdlib+shim
// logging).
package hedwiglog

import (
	"context"
	"log/slog"
	"os"
	"sync"
)

var (
	mu  sync.RWMutex
	def = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
)

// SetDefault replaces the package-wide logger, e.g. to redirect to a test
// buffer or change level/format.
func SetDefault(l *slog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	def = l
}

// L returns the current default logger.
func L() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return def
}

// Extra flattens a map[string]any into slog key/value pairs under a
// group named "extra", keeping ad hoc structured fields out of the
// top-level attribute namespace.
func Extra(extra map[string]any) slog.Attr {
	if len(extra) == 0 {
		return slog.Attr{}
	}
	attrs := make([]any, 0, len(extra)*2)
	for k, v := range extra {
		attrs = append(attrs, slog.Any(k, v))
	}
	return slog.Group("extra", attrs...)
}

// Error logs a single structured error-path record: message, kind, the
// error itself, and optional extras.
func Error(ctx context.Context, msg string, kind string, err error, extra map[string]any) {
	attrs := []any{slog.String("kind", kind)}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	if e := Extra(extra); e.Key != "" {
		attrs = append(attrs, e)
	}
	L().ErrorContext(ctx, msg, attrs...)
}

// Info logs a single structured info-path record (e.g. "retrying", "ignored").
func Info(ctx context.Context, msg string, kind string, extra map[string]any) {
	attrs := []any{slog.String("kind", kind)}
	if e := Extra(extra); e.Key != "" {
		attrs = append(attrs, e)
	}
	L().InfoContext(ctx, msg, attrs...)
}
