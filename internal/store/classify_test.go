package store

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"

	"github.com/roach88/rsq/internal/access"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want access.ErrorKind
	}{
		{"bad conn", driver.ErrBadConn, access.KindConnection},
		{"mysql invalid conn", fmt.Errorf("read: %w", mysql.ErrInvalidConn), access.KindConnection},
		{"sqlite busy", sqlite3.Error{Code: sqlite3.ErrBusy}, access.KindTransient},
		{"sqlite locked", sqlite3.Error{Code: sqlite3.ErrLocked}, access.KindTransient},
		{"sqlite constraint", sqlite3.Error{Code: sqlite3.ErrConstraint}, access.KindIntegrity},
		{"sqlite cantopen", sqlite3.Error{Code: sqlite3.ErrCantOpen}, access.KindConnection},
		{"sqlite other", sqlite3.Error{Code: sqlite3.ErrError}, access.KindQuery},
		{"mysql deadlock", &mysql.MySQLError{Number: 1213}, access.KindTransient},
		{"mysql lock wait", &mysql.MySQLError{Number: 1205}, access.KindTransient},
		{"mysql duplicate", &mysql.MySQLError{Number: 1062}, access.KindIntegrity},
		{"mysql null", &mysql.MySQLError{Number: 1048}, access.KindIntegrity},
		{"mysql fk", &mysql.MySQLError{Number: 1452}, access.KindIntegrity},
		{"mysql too many connections", &mysql.MySQLError{Number: 1040}, access.KindConnection},
		{"mysql syntax", &mysql.MySQLError{Number: 1064}, access.KindQuery},
		{"pq unique", &pq.Error{Code: "23505"}, access.KindIntegrity},
		{"pq serialization", &pq.Error{Code: "40001"}, access.KindTransient},
		{"pq deadlock", &pq.Error{Code: "40P01"}, access.KindTransient},
		{"pq lock not available", &pq.Error{Code: "55P03"}, access.KindTransient},
		{"pq connection failure", &pq.Error{Code: "08006"}, access.KindConnection},
		{"pq admin shutdown", &pq.Error{Code: "57P01"}, access.KindConnection},
		{"pq undefined table", &pq.Error{Code: "42P01"}, access.KindQuery},
		{"plain", errors.New("boom"), access.KindQuery},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestClassify(t *testing.T) {
	assert.NoError(t, Classify("query", nil))

	err := Classify("exec", sqlite3.Error{Code: sqlite3.ErrBusy})
	assert.True(t, access.IsTransient(err))
	assert.True(t, access.DefaultRetryable(err))

	var se *access.StoreError
	assert.ErrorAs(t, err, &se)
	assert.Equal(t, "exec", se.Op)
}
