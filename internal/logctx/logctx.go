package logctx

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	loggerKey contextKey = "logger"
	itemIDKey contextKey = "item_id"
)

// WithLogger returns a new context with the provided slog.Logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext retrieves the slog.Logger from the context, or returns slog.Default() if not found.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// WithItemID tags the context with the id of the download item being processed.
// Records logged through a TraceHandler with this context carry an item_id field.
func WithItemID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, itemIDKey, id)
}

// ItemIDFromContext returns the item id stored by WithItemID, or "".
func ItemIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(itemIDKey).(string); ok {
		return id
	}
	return ""
}
