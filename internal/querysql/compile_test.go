package querysql

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_SimpleSelect(t *testing.T) {
	q := Select{
		Columns: []string{"user_id", "name", "email", "age"},
		From:    "user_data",
		Filter:  Equals{Field: "email", Value: "ana@example.com"},
		OrderBy: []string{"name ASC"},
	}

	sql, params, err := Compile(DialectSQLite, q)
	require.NoError(t, err)

	assert.Equal(t, "SELECT user_id, name, email, age FROM user_data WHERE email = ? ORDER BY name ASC", sql)
	assert.NotContains(t, sql, "ana@example.com")
	assert.Equal(t, []any{"ana@example.com"}, params)
}

func TestCompile_StarWithoutFilter(t *testing.T) {
	sql, params, err := Compile(DialectMySQL, Select{From: "user_data", OrderBy: []string{"name", "user_id"}})
	require.NoError(t, err)

	assert.Equal(t, "SELECT * FROM user_data ORDER BY name, user_id", sql)
	assert.Empty(t, params)
}

func TestCompile_MissingOrder(t *testing.T) {
	_, _, err := Compile(DialectSQLite, Select{From: "user_data"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingOrder))
}

func TestCompile_MissingFrom(t *testing.T) {
	_, _, err := Compile(DialectSQLite, Select{OrderBy: []string{"name"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing FROM")
}

func TestCompile_AndNumbersPostgresPlaceholders(t *testing.T) {
	q := Select{
		From: "user_data",
		Filter: And{Predicates: []Predicate{
			Compare{Field: "age", Op: ">", Value: 30},
			Compare{Field: "age", Op: "<=", Value: 65},
			Equals{Field: "name", Value: "Ana"},
		}},
		OrderBy: []string{"user_id"},
	}

	sql, params, err := Compile(DialectPostgres, q)
	require.NoError(t, err)

	assert.Equal(t, "SELECT * FROM user_data WHERE age > $1 AND age <= $2 AND name = $3 ORDER BY user_id", sql)
	assert.Equal(t, []any{30, 65, "Ana"}, params)
}

func TestCompile_EmptyAnd(t *testing.T) {
	sql, params, err := Compile(DialectSQLite, Select{From: "t", Filter: And{}, OrderBy: []string{"id"}})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t WHERE 1 = 1 ORDER BY id", sql)
	assert.Empty(t, params)
}

func TestCompile_RejectsUnknownOperator(t *testing.T) {
	q := Select{
		From:    "user_data",
		Filter:  Compare{Field: "age", Op: "; DROP TABLE", Value: 1},
		OrderBy: []string{"name"},
	}
	_, _, err := Compile(DialectSQLite, q)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported operator")
}

func TestParseDialect(t *testing.T) {
	tests := []struct {
		driver string
		want   Dialect
	}{
		{"sqlite3", DialectSQLite},
		{"mysql", DialectMySQL},
		{"postgres", DialectPostgres},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			got, err := ParseDialect(tt.driver)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	// Names no linked driver registers are rejected up front.
	for _, driver := range []string{"oracle", "sqlite", "pgx", ""} {
		_, err := ParseDialect(driver)
		assert.Error(t, err, driver)
	}
}

func TestPlaceholder(t *testing.T) {
	assert.Equal(t, "?", DialectSQLite.Placeholder(3))
	assert.Equal(t, "?", DialectMySQL.Placeholder(1))
	assert.Equal(t, "$3", DialectPostgres.Placeholder(3))
}

func TestPaginate(t *testing.T) {
	sql, params, err := Paginate(DialectSQLite, "SELECT * FROM user_data ORDER BY name;", nil, 4, 8)
	require.NoError(t, err)

	assert.Equal(t, "SELECT * FROM user_data ORDER BY name LIMIT ? OFFSET ?", sql)
	assert.Equal(t, []any{4, 8}, params)
}

func TestPaginate_ContinuesPostgresNumbering(t *testing.T) {
	sql, params, err := Paginate(DialectPostgres, "SELECT * FROM user_data WHERE age > $1 ORDER BY name", []any{40}, 5, 0)
	require.NoError(t, err)

	assert.Equal(t, "SELECT * FROM user_data WHERE age > $1 ORDER BY name LIMIT $2 OFFSET $3", sql)
	assert.Equal(t, []any{40, 5, 0}, params)
}

func TestPaginate_DoesNotAliasArgs(t *testing.T) {
	args := make([]any, 1, 8)
	args[0] = "x"
	_, params, err := Paginate(DialectSQLite, "SELECT 1", args, 1, 0)
	require.NoError(t, err)

	params[0] = "changed"
	assert.Equal(t, "x", args[0])
}

func TestPaginate_InvalidWindow(t *testing.T) {
	_, _, err := Paginate(DialectSQLite, "SELECT 1", nil, 0, 0)
	assert.Error(t, err)

	_, _, err = Paginate(DialectSQLite, "SELECT 1", nil, 1, -1)
	assert.Error(t, err)
}
