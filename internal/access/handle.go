package access

import (
	"context"
	"database/sql"
	"fmt"
)

// Cursor is an open result set positioned before its first row.
// *sql.Rows satisfies Cursor.
type Cursor interface {
	Next() bool
	Scan(dest ...any) error
	Columns() ([]string, error)
	Err() error
	Close() error
}

// Handle is one live connection to the row store.
//
// A Handle is owned by exactly one scope and must not be used after that
// scope released it. Implementations need not be safe for concurrent use.
type Handle interface {
	QueryContext(ctx context.Context, query string, args ...any) (Cursor, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)

	// Begin starts a transaction that subsequent queries run inside.
	Begin(ctx context.Context) error
	Commit() error
	Rollback() error

	// Close releases the connection. Called exactly once by the owning scope.
	Close() error
}

// Connector acquires Handles.
type Connector interface {
	Connect(ctx context.Context) (Handle, error)
}

// ConnectorFunc adapts a function to the Connector interface.
type ConnectorFunc func(ctx context.Context) (Handle, error)

// Connect calls f(ctx).
func (f ConnectorFunc) Connect(ctx context.Context) (Handle, error) {
	return f(ctx)
}

// Work is a unit of work run against a Handle it does not own.
type Work[T any] func(ctx context.Context, h Handle) (T, error)

// Op is a self-contained operation, typically a Work bound to a scope.
type Op[T any] func(ctx context.Context) (T, error)

// ScanFunc converts the current cursor row into a T.
type ScanFunc[T any] func(c Cursor) (T, error)

// Row is a generic row keyed by column name.
type Row map[string]any

// Statement is a query with its bound parameters.
type Statement struct {
	Query string
	Args  []any
}

// Stmt builds a Statement.
func Stmt(query string, args ...any) Statement {
	return Statement{Query: query, Args: args}
}

// ScanMap scans the current row into a Row. []byte values are copied to
// strings because drivers may reuse the buffer on the next call to Next.
func ScanMap(c Cursor) (Row, error) {
	cols, err := c.Columns()
	if err != nil {
		return nil, fmt.Errorf("scan row: columns: %w", err)
	}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := c.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("scan row: %w", err)
	}
	row := make(Row, len(cols))
	for i, col := range cols {
		if b, ok := vals[i].([]byte); ok {
			row[col] = string(b)
			continue
		}
		row[col] = vals[i]
	}
	return row, nil
}

// ScanAll drains c into a slice. Returns an empty slice (not nil) for an
// empty result set. The cursor is not closed.
func ScanAll[T any](c Cursor, scan ScanFunc[T]) ([]T, error) {
	out := []T{}
	for c.Next() {
		v, err := scan(c)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// QueryAll returns a Work that runs stmt and materializes every row.
// Only use it for result sets known to be small; stream otherwise.
func QueryAll[T any](stmt Statement, scan ScanFunc[T]) Work[[]T] {
	return func(ctx context.Context, h Handle) ([]T, error) {
		cur, err := h.QueryContext(ctx, stmt.Query, stmt.Args...)
		if err != nil {
			return nil, err
		}
		defer cur.Close()
		return ScanAll(cur, scan)
	}
}

// ExecWork returns a Work that executes stmt and reports rows affected.
func ExecWork(stmt Statement) Work[int64] {
	return func(ctx context.Context, h Handle) (int64, error) {
		res, err := h.ExecContext(ctx, stmt.Query, stmt.Args...)
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		return n, nil
	}
}
