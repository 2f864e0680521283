package access

import (
	"context"
	"database/sql"
	"log/slog"
	"time"
)

// LogQueries decorates c so that every query and statement executed through
// its Handles is logged at Debug level with its duration.
func LogQueries(c Connector, logger *slog.Logger) Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return ConnectorFunc(func(ctx context.Context) (Handle, error) {
		h, err := c.Connect(ctx)
		if err != nil {
			return nil, err
		}
		return &loggingHandle{Handle: h, logger: logger}, nil
	})
}

type loggingHandle struct {
	Handle
	logger *slog.Logger
}

func (h *loggingHandle) QueryContext(ctx context.Context, query string, args ...any) (Cursor, error) {
	start := time.Now()
	cur, err := h.Handle.QueryContext(ctx, query, args...)
	h.log(ctx, "query", query, len(args), start, err)
	return cur, err
}

func (h *loggingHandle) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	start := time.Now()
	res, err := h.Handle.ExecContext(ctx, query, args...)
	h.log(ctx, "exec", query, len(args), start, err)
	return res, err
}

func (h *loggingHandle) log(ctx context.Context, op, query string, nargs int, start time.Time, err error) {
	attrs := []any{
		"op", op,
		"query", query,
		"args", nargs,
		"duration", time.Since(start),
	}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	h.logger.DebugContext(ctx, "sql", attrs...)
}
