package querysql

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Dialect selects placeholder syntax for a database driver.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "postgres"
)

// ErrMissingOrder is returned when a Select has no ORDER BY columns.
var ErrMissingOrder = errors.New("query has no ORDER BY")

// ParseDialect maps a registered database/sql driver name to its Dialect.
// Only the names the linked drivers register are accepted, so the result
// is always openable with sql.Open(driver, ...).
func ParseDialect(driver string) (Dialect, error) {
	switch driver {
	case "sqlite3":
		return DialectSQLite, nil
	case "mysql":
		return DialectMySQL, nil
	case "postgres":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("unsupported driver %q", driver)
	}
}

// Placeholder returns the bind marker for the n-th parameter (1-based).
func (d Dialect) Placeholder(n int) string {
	if d == DialectPostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Predicate is a WHERE clause fragment.
type Predicate interface {
	isPredicate()
}

// Equals matches Field = Value.
type Equals struct {
	Field string
	Value any
}

// Compare matches Field <Op> Value for Op in =, <>, <, <=, >, >=.
type Compare struct {
	Field string
	Op    string
	Value any
}

// And is the conjunction of its predicates. An empty And is always true.
type And struct {
	Predicates []Predicate
}

func (Equals) isPredicate()  {}
func (Compare) isPredicate() {}
func (And) isPredicate()     {}

// Select describes a single-table read.
//
// OrderBy is mandatory: streamed and paginated reads rely on a stable order
// so that rows are emitted exactly once and in the same sequence every time.
type Select struct {
	Columns []string // empty selects *
	From    string
	Filter  Predicate
	OrderBy []string // e.g. "name ASC", "user_id ASC"
}

// Compile converts q to parameterized SQL for dialect d.
// Values are never interpolated into the SQL text.
func Compile(d Dialect, q Select) (string, []any, error) {
	if q.From == "" {
		return "", nil, fmt.Errorf("compile select: missing FROM table")
	}
	if len(q.OrderBy) == 0 {
		return "", nil, fmt.Errorf("compile select from %s: %w", q.From, ErrMissingOrder)
	}

	cols := "*"
	if len(q.Columns) > 0 {
		cols = strings.Join(q.Columns, ", ")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", cols, q.From)

	var params []any
	if q.Filter != nil {
		where, p, err := compilePredicate(d, q.Filter, 0)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		b.WriteString(" WHERE ")
		b.WriteString(where)
		params = p
	}

	b.WriteString(" ORDER BY ")
	b.WriteString(strings.Join(q.OrderBy, ", "))

	return b.String(), params, nil
}

// compilePredicate renders p; bound counts parameters already emitted so
// numbered placeholders continue from there.
func compilePredicate(d Dialect, p Predicate, bound int) (string, []any, error) {
	switch pred := p.(type) {
	case Equals:
		return compileCompare(d, Compare{Field: pred.Field, Op: "=", Value: pred.Value}, bound)
	case Compare:
		return compileCompare(d, pred, bound)
	case And:
		if len(pred.Predicates) == 0 {
			return "1 = 1", nil, nil
		}
		var parts []string
		var params []any
		for _, sub := range pred.Predicates {
			sql, p, err := compilePredicate(d, sub, bound+len(params))
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, sql)
			params = append(params, p...)
		}
		return strings.Join(parts, " AND "), params, nil
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func compileCompare(d Dialect, c Compare, bound int) (string, []any, error) {
	switch c.Op {
	case "=", "<>", "<", "<=", ">", ">=":
	default:
		return "", nil, fmt.Errorf("unsupported operator %q", c.Op)
	}
	if c.Field == "" {
		return "", nil, fmt.Errorf("comparison without field")
	}
	return fmt.Sprintf("%s %s %s", c.Field, c.Op, d.Placeholder(bound+1)), []any{c.Value}, nil
}

// Paginate appends a LIMIT/OFFSET window to query, whose own parameters are
// args. The returned parameter list is args followed by limit and offset.
func Paginate(d Dialect, query string, args []any, limit, offset int) (string, []any, error) {
	if limit < 1 {
		return "", nil, fmt.Errorf("paginate: limit must be >= 1, got %d", limit)
	}
	if offset < 0 {
		return "", nil, fmt.Errorf("paginate: offset must be >= 0, got %d", offset)
	}

	base := strings.TrimRight(strings.TrimSpace(query), ";")
	n := len(args)
	sql := fmt.Sprintf("%s LIMIT %s OFFSET %s", base, d.Placeholder(n+1), d.Placeholder(n+2))

	params := make([]any, 0, n+2)
	params = append(params, args...)
	params = append(params, limit, offset)
	return sql, params, nil
}
