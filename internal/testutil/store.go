package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/roach88/rsq/internal/access"
)

// ErrHandleClosed is returned by a FakeHandle used after Close.
var ErrHandleClosed = errors.New("fake handle closed")

// FakeStats is a snapshot of FakeStore counters.
type FakeStats struct {
	Opened        int
	Closed        int
	Active        int
	MaxActive     int
	Commits       int
	Rollbacks     int
	Queries       int
	Execs         int
	UseAfterClose int
}

// FakeStore is an in-memory row store implementing access.Connector.
//
// Queries return the configured rows in order. A query containing LIMIT
// takes its last two arguments as limit and offset, the way
// querysql.Paginate appends them. Statements passed to ExecContext are
// recorded and become visible through Applied once committed; outside a
// transaction they apply immediately.
//
// Failures are injected through queues: each FailConnect or FailQuery error
// is consumed by exactly one call, in order.
//
// Thread-safety: FakeStore is safe for concurrent use. Each FakeHandle must
// be used by one goroutine, like a real connection.
type FakeStore struct {
	mu      sync.Mutex
	columns []string
	rows    [][]any

	connectErrs []error
	queryErrs   []error
	commitErr   error
	rollbackErr error
	closeErr    error

	cursorFailAfter int
	cursorErr       error

	stats   FakeStats
	queries []access.Statement
	applied []access.Statement
}

// NewFakeStore creates a store whose queries return rows with columns.
func NewFakeStore(columns []string, rows ...[]any) *FakeStore {
	return &FakeStore{columns: columns, rows: rows}
}

// NumberedRows builds n rows of (id, name) with ids 1..n and names "row-<id>".
func NumberedRows(n int) [][]any {
	rows := make([][]any, n)
	for i := range rows {
		rows[i] = []any{int64(i + 1), fmt.Sprintf("row-%d", i+1)}
	}
	return rows
}

// FailConnect queues errors returned by subsequent Connect calls.
func (s *FakeStore) FailConnect(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectErrs = append(s.connectErrs, errs...)
}

// FailQuery queues errors returned by subsequent QueryContext or
// ExecContext calls.
func (s *FakeStore) FailQuery(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryErrs = append(s.queryErrs, errs...)
}

// FailCommit makes every Commit fail with err.
func (s *FakeStore) FailCommit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitErr = err
}

// FailRollback makes every Rollback fail with err.
func (s *FakeStore) FailRollback(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollbackErr = err
}

// FailClose makes every handle Close fail with err. The handle is still
// counted as closed.
func (s *FakeStore) FailClose(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeErr = err
}

// FailCursorAfter makes every cursor stop with err after yielding n rows.
func (s *FakeStore) FailCursorAfter(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursorFailAfter = n
	s.cursorErr = err
}

// Stats returns a snapshot of the counters.
func (s *FakeStore) Stats() FakeStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Queries returns every statement passed to QueryContext, in call order.
func (s *FakeStore) Queries() []access.Statement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]access.Statement{}, s.queries...)
}

// Applied returns every committed or auto-committed Exec statement.
func (s *FakeStore) Applied() []access.Statement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]access.Statement{}, s.applied...)
}

// Connect implements access.Connector.
func (s *FakeStore) Connect(ctx context.Context) (access.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := pop(&s.connectErrs); err != nil {
		return nil, err
	}
	s.stats.Opened++
	s.stats.Active++
	s.stats.MaxActive = max(s.stats.MaxActive, s.stats.Active)
	return &FakeHandle{store: s}, nil
}

func pop(queue *[]error) error {
	if len(*queue) == 0 {
		return nil
	}
	err := (*queue)[0]
	*queue = (*queue)[1:]
	return err
}

// FakeHandle is one connection to a FakeStore.
type FakeHandle struct {
	store   *FakeStore
	closed  bool
	inTx    bool
	pending []access.Statement
}

func (h *FakeHandle) usable() error {
	if h.closed {
		h.store.stats.UseAfterClose++
		return ErrHandleClosed
	}
	return nil
}

// QueryContext implements access.Handle.
func (h *FakeHandle) QueryContext(ctx context.Context, query string, args ...any) (access.Cursor, error) {
	s := h.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := h.usable(); err != nil {
		return nil, err
	}
	s.stats.Queries++
	s.queries = append(s.queries, access.Stmt(query, args...))
	if err := pop(&s.queryErrs); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows := s.rows
	if strings.Contains(query, "LIMIT") && len(args) >= 2 {
		limit, err := toInt(args[len(args)-2])
		if err != nil {
			return nil, err
		}
		offset, err := toInt(args[len(args)-1])
		if err != nil {
			return nil, err
		}
		start := min(offset, len(rows))
		end := min(start+limit, len(rows))
		rows = rows[start:end]
	}

	return &fakeCursor{
		columns:   s.columns,
		rows:      rows,
		failAfter: s.cursorFailAfter,
		failErr:   s.cursorErr,
	}, nil
}

// ExecContext implements access.Handle. It reports one row affected.
func (h *FakeHandle) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	s := h.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := h.usable(); err != nil {
		return nil, err
	}
	s.stats.Execs++
	if err := pop(&s.queryErrs); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stmt := access.Stmt(query, args...)
	if h.inTx {
		h.pending = append(h.pending, stmt)
	} else {
		s.applied = append(s.applied, stmt)
	}
	return driver.RowsAffected(1), nil
}

// Begin implements access.Handle.
func (h *FakeHandle) Begin(ctx context.Context) error {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	if err := h.usable(); err != nil {
		return err
	}
	if h.inTx {
		return access.ErrTransactionActive
	}
	h.inTx = true
	h.pending = nil
	return nil
}

// Commit implements access.Handle.
func (h *FakeHandle) Commit() error {
	s := h.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := h.usable(); err != nil {
		return err
	}
	if !h.inTx {
		return access.ErrNoTransaction
	}
	h.inTx = false
	s.stats.Commits++
	if s.commitErr != nil {
		h.pending = nil
		return s.commitErr
	}
	s.applied = append(s.applied, h.pending...)
	h.pending = nil
	return nil
}

// Rollback implements access.Handle.
func (h *FakeHandle) Rollback() error {
	s := h.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := h.usable(); err != nil {
		return err
	}
	if !h.inTx {
		return access.ErrNoTransaction
	}
	h.inTx = false
	h.pending = nil
	s.stats.Rollbacks++
	return s.rollbackErr
}

// Close implements access.Handle. Closing twice is counted as a use after
// close.
func (h *FakeHandle) Close() error {
	s := h.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := h.usable(); err != nil {
		return err
	}
	h.closed = true
	h.inTx = false
	h.pending = nil
	s.stats.Closed++
	s.stats.Active--
	return s.closeErr
}

type fakeCursor struct {
	columns   []string
	rows      [][]any
	pos       int
	failAfter int
	failErr   error
	err       error
	closed    bool
}

func (c *fakeCursor) Next() bool {
	if c.closed || c.err != nil {
		return false
	}
	if c.failErr != nil && c.pos == c.failAfter {
		c.err = c.failErr
		return false
	}
	if c.pos >= len(c.rows) {
		return false
	}
	c.pos++
	return true
}

func (c *fakeCursor) Scan(dest ...any) error {
	if c.closed || c.pos == 0 {
		return errors.New("scan called without a current row")
	}
	row := c.rows[c.pos-1]
	if len(dest) != len(row) {
		return fmt.Errorf("expected %d destination arguments in Scan, not %d", len(row), len(dest))
	}
	for i, d := range dest {
		if err := assign(d, row[i]); err != nil {
			return fmt.Errorf("scan column %d: %w", i, err)
		}
	}
	return nil
}

func (c *fakeCursor) Columns() ([]string, error) {
	return c.columns, nil
}

func (c *fakeCursor) Err() error {
	return c.err
}

func (c *fakeCursor) Close() error {
	c.closed = true
	return nil
}

func assign(dest, v any) error {
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Pointer || dv.IsNil() {
		return fmt.Errorf("destination %T is not a pointer", dest)
	}
	ev := dv.Elem()
	if v == nil {
		ev.Set(reflect.Zero(ev.Type()))
		return nil
	}
	sv := reflect.ValueOf(v)
	switch {
	case sv.Type().AssignableTo(ev.Type()):
		ev.Set(sv)
	case sv.CanInt() && (ev.CanInt() || ev.CanFloat()), sv.CanFloat() && ev.CanFloat():
		ev.Set(sv.Convert(ev.Type()))
	default:
		return fmt.Errorf("cannot assign %T to %s", v, ev.Type())
	}
	return nil
}

func toInt(v any) (int, error) {
	rv := reflect.ValueOf(v)
	if !rv.CanInt() {
		return 0, fmt.Errorf("expected integer argument, got %T", v)
	}
	return int(rv.Int()), nil
}
