package db

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/uptrace/bun"
)

// QueryLogger is a bun.QueryHook that logs every statement at debug level.
type QueryLogger struct {
	logger *slog.Logger
}

var _ bun.QueryHook = (*QueryLogger)(nil)

func NewQueryLogger(logger *slog.Logger) *QueryLogger {
	return &QueryLogger{logger: logger}
}

func (h *QueryLogger) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *QueryLogger) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	attrs := []any{
		"operation", event.Operation(),
		"query", event.Query,
		"duration", time.Since(event.StartTime),
	}
	if event.Err != nil && !errors.Is(event.Err, sql.ErrNoRows) {
		h.logger.ErrorContext(ctx, "query failed", append(attrs, "error", event.Err)...)
		return
	}
	h.logger.DebugContext(ctx, "query executed", attrs...)
}
