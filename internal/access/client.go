package access

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/rsq/internal/querysql"
	"github.com/roach88/rsq/internal/signature"
)

// Client defaults.
const (
	DefaultPageSize         = 5
	DefaultConcurrencyLimit = 8
)

// Client composes the access wrappers over one Connector according to the
// layer's ordering contract.
//
// Thread-safety: Client is safe for concurrent use once constructed. The
// streams and paginators it returns are not.
type Client struct {
	connector    Connector
	retry        RetryPolicy
	cache        *Cache
	cacheEnabled bool
	pageSize     int
	limit        int
	dialect      querysql.Dialect
	obs          Observer
	queryLogger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithRetryPolicy sets the policy applied to every operation.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) {
		c.retry = p
	}
}

// WithCache shares cache with the Client instead of creating a private one.
func WithCache(cache *Cache) Option {
	return func(c *Client) {
		c.cache = cache
	}
}

// WithCacheEnabled turns read caching on or off for the whole Client.
func WithCacheEnabled(enabled bool) Option {
	return func(c *Client) {
		c.cacheEnabled = enabled
	}
}

// WithPageSize sets the default page size for Pages. Values below 1 are ignored.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n >= 1 {
			c.pageSize = n
		}
	}
}

// WithConcurrencyLimit bounds concurrently running gather tasks.
// Zero means unbounded; negative values are ignored.
func WithConcurrencyLimit(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.limit = n
		}
	}
}

// WithDialect sets the SQL dialect used for page queries.
func WithDialect(d querysql.Dialect) Option {
	return func(c *Client) {
		c.dialect = d
	}
}

// WithObserver reports handle, cache, retry and task events to obs.
func WithObserver(obs Observer) Option {
	return func(c *Client) {
		if obs != nil {
			c.obs = obs
		}
	}
}

// WithQueryLogger logs every statement at Debug level to logger.
func WithQueryLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.queryLogger = logger
	}
}

// New creates a Client over connector.
func New(connector Connector, opts ...Option) *Client {
	c := &Client{
		retry:        DefaultRetryPolicy(),
		cacheEnabled: true,
		pageSize:     DefaultPageSize,
		limit:        DefaultConcurrencyLimit,
		dialect:      querysql.DialectSQLite,
		obs:          NopObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.cache == nil {
		c.cache = NewCache(WithCacheObserver(c.obs))
	}
	if c.queryLogger != nil {
		connector = LogQueries(connector, c.queryLogger)
	}
	if _, nop := c.obs.(NopObserver); !nop {
		connector = Observe(connector, c.obs)
	}
	c.connector = connector

	notify := c.retry.Notify
	obs := c.obs
	c.retry.Notify = func(attempt int, err error, delay time.Duration) {
		obs.RetryScheduled(attempt, err)
		if notify != nil {
			notify(attempt, err, delay)
		}
	}
	return c
}

// Connector returns the decorated Connector the Client acquires Handles from.
func (c *Client) Connector() Connector { return c.connector }

// Cache returns the Client's result cache.
func (c *Client) Cache() *Cache { return c.cache }

// RetryPolicy returns the policy applied to every operation.
func (c *Client) RetryPolicy() RetryPolicy { return c.retry }

// Dialect returns the SQL dialect used for page queries.
func (c *Client) Dialect() querysql.Dialect { return c.dialect }

// PageSize returns the default page size.
func (c *Client) PageSize() int { return c.pageSize }

// Invalidate drops the cached result of stmt, if any.
func (c *Client) Invalidate(stmt Statement) {
	c.cache.Invalidate(signature.New(stmt.Query, stmt.Args...))
}

// CallOption adjusts a single read.
type CallOption func(*callOptions)

type callOptions struct {
	noCache bool
}

// NoCache bypasses the result cache for one call. The result is not stored.
func NoCache() CallOption {
	return func(o *callOptions) {
		o.noCache = true
	}
}

// Read runs work as a cached, retried read identified by sig:
//
//	Cached(cache, sig, Retry(policy, WithConnection(c, work)))
//
// Cached results are shared between callers and must not be mutated.
func Read[T any](ctx context.Context, c *Client, sig signature.Signature, work Work[T], opts ...CallOption) (T, error) {
	var co callOptions
	for _, opt := range opts {
		opt(&co)
	}

	op := Retry(c.retry, WithConnection(c.connector, work))
	if c.cacheEnabled && !co.noCache {
		op = Cached(c.cache, sig, op)
	}
	return op(ctx)
}

// Query runs stmt as a read and materializes every row. Use Stream or Pages
// for result sets that should not be held in memory.
func Query[T any](ctx context.Context, c *Client, stmt Statement, scan ScanFunc[T], opts ...CallOption) ([]T, error) {
	return Read(ctx, c, signature.New(stmt.Query, stmt.Args...), QueryAll(stmt, scan), opts...)
}

// Mutate runs work as a retried write, each attempt in its own transaction:
//
//	Retry(policy, WithConnection(c, Transactional(work)))
func Mutate[T any](ctx context.Context, c *Client, work Work[T]) (T, error) {
	return Retry(c.retry, WithConnection(c.connector, Transactional(work)))(ctx)
}

// Exec runs one statement transactionally and returns rows affected.
func (c *Client) Exec(ctx context.Context, stmt Statement) (int64, error) {
	return Mutate(ctx, c, ExecWork(stmt))
}

// Stream opens a RowStream over stmt. Retry applies only to opening the
// stream; once rows are flowing a failure ends the stream.
func Stream[T any](ctx context.Context, c *Client, stmt Statement, scan ScanFunc[T]) (*RowStream[T], error) {
	return Retry(c.retry, func(ctx context.Context) (*RowStream[T], error) {
		return OpenStream(ctx, c.connector, stmt, scan)
	})(ctx)
}

// Pages returns a Paginator over stmt. A pageSize of 0 uses the Client's
// default.
func Pages[T any](c *Client, stmt Statement, scan ScanFunc[T], pageSize int) (*Paginator[T], error) {
	if pageSize == 0 {
		pageSize = c.pageSize
	}
	return NewPaginator(c.connector, c.dialect, stmt, scan, pageSize, c.retry)
}

// GatherAll runs tasks concurrently under the Client's concurrency limit.
// See Gather.
func GatherAll[T any](ctx context.Context, c *Client, tasks []Task[T]) ([]T, error) {
	return Gather(ctx, c.connector, tasks, c.gatherOptions())
}

// SettleAll is GatherAll in partial-results mode. See Settle.
func SettleAll[T any](ctx context.Context, c *Client, tasks []Task[T]) []Outcome[T] {
	return Settle(ctx, c.connector, tasks, c.gatherOptions())
}

func (c *Client) gatherOptions() GatherOptions {
	return GatherOptions{Limit: c.limit, Observer: c.obs}
}
