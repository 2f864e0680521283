package access

import (
	"context"
	"fmt"
	"iter"

	"github.com/roach88/rsq/internal/querysql"
)

// Page is one bounded slice of an ordered result set.
type Page[T any] struct {
	// Number is the 1-based position of the page in the sequence.
	Number int

	// Offset is the row offset the page was fetched from.
	Offset int

	// Rows holds at most the paginator's page size rows, never zero.
	Rows []T
}

// Paginator produces a lazy, non-restartable sequence of Pages by issuing
// LIMIT/OFFSET fetches of stmt.
//
// Every fetch acquires and releases its own Handle, so nothing is held
// between pages and a consumer may pause arbitrarily long between calls to
// Next. The sequence ends at the first empty fetch, which is not yielded.
// stmt must carry an ORDER BY so consecutive pages partition the result set.
//
// Thread-safety: a Paginator must be used from a single goroutine.
type Paginator[T any] struct {
	connector Connector
	dialect   querysql.Dialect
	stmt      Statement
	scan      ScanFunc[T]
	size      int
	retry     RetryPolicy

	offset int
	number int
	page   Page[T]
	err    error
	done   bool
}

// NewPaginator creates a Paginator that fetches pageSize rows at a time,
// each fetch wrapped in retry.
func NewPaginator[T any](c Connector, d querysql.Dialect, stmt Statement, scan ScanFunc[T], pageSize int, retry RetryPolicy) (*Paginator[T], error) {
	if pageSize < 1 {
		return nil, fmt.Errorf("page size must be >= 1, got %d", pageSize)
	}
	return &Paginator[T]{
		connector: c,
		dialect:   d,
		stmt:      stmt,
		scan:      scan,
		size:      pageSize,
		retry:     retry,
	}, nil
}

// Next fetches the next page. It returns false when the result set is
// exhausted, a fetch failed (see Err), or the paginator was closed.
func (p *Paginator[T]) Next(ctx context.Context) bool {
	if p.done {
		return false
	}

	query, args, err := querysql.Paginate(p.dialect, p.stmt.Query, p.stmt.Args, p.size, p.offset)
	if err != nil {
		p.fail(err)
		return false
	}

	fetch := Retry(p.retry, WithConnection(p.connector, QueryAll(Stmt(query, args...), p.scan)))
	rows, err := fetch(ctx)
	if err != nil {
		p.fail(fmt.Errorf("fetch page at offset %d: %w", p.offset, err))
		return false
	}
	if len(rows) == 0 {
		p.Close()
		return false
	}

	p.number++
	p.page = Page[T]{Number: p.number, Offset: p.offset, Rows: rows}
	p.offset += p.size
	return true
}

// Page returns the page most recently produced by Next.
func (p *Paginator[T]) Page() Page[T] {
	return p.page
}

// Err returns the fetch error that ended the sequence, if any.
func (p *Paginator[T]) Err() error {
	return p.err
}

// Close ends the sequence. No Handle is held between pages, so Close only
// prevents further fetches.
func (p *Paginator[T]) Close() {
	p.done = true
	p.page = Page[T]{}
}

func (p *Paginator[T]) fail(err error) {
	p.err = err
	p.Close()
}

// All returns an iterator over the remaining pages. A fetch error is yielded
// once as the final element.
func (p *Paginator[T]) All(ctx context.Context) iter.Seq2[Page[T], error] {
	return func(yield func(Page[T], error) bool) {
		defer p.Close()
		for p.Next(ctx) {
			if !yield(p.Page(), nil) {
				return
			}
		}
		if err := p.Err(); err != nil {
			yield(Page[T]{}, err)
		}
	}
}
