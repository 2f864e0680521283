package store

import (
	"database/sql"
	"database/sql/driver"
	"errors"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/roach88/rsq/internal/access"
)

// Classify wraps a driver error as an *access.StoreError for op.
// Returns nil for nil.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	return access.NewStoreError(KindOf(err), op, err)
}

// MySQL server error numbers.
const (
	mysqlLockWaitTimeout   = 1205
	mysqlDeadlock          = 1213
	mysqlDupKey            = 1022
	mysqlBadNull           = 1048
	mysqlDupEntry          = 1062
	mysqlNoReferenced      = 1216
	mysqlRowIsReferenced   = 1217
	mysqlRowIsReferenced2  = 1451
	mysqlNoReferencedRow2  = 1452
	mysqlForeignDuplicate  = 1557
	mysqlDupEntryWithKey   = 1586
	mysqlCheckConstraint   = 3819
	mysqlTooManyConnection = 1040
)

// KindOf maps a driver error to its access.ErrorKind. Unknown errors are
// KindQuery.
func KindOf(err error) access.ErrorKind {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, mysql.ErrInvalidConn) {
		return access.KindConnection
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return access.KindTransient
		case sqlite3.ErrConstraint:
			return access.KindIntegrity
		case sqlite3.ErrCantOpen, sqlite3.ErrNotADB:
			return access.KindConnection
		}
		return access.KindQuery
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlLockWaitTimeout, mysqlDeadlock:
			return access.KindTransient
		case mysqlDupKey, mysqlBadNull, mysqlDupEntry, mysqlNoReferenced, mysqlRowIsReferenced,
			mysqlRowIsReferenced2, mysqlNoReferencedRow2, mysqlForeignDuplicate,
			mysqlDupEntryWithKey, mysqlCheckConstraint:
			return access.KindIntegrity
		case mysqlTooManyConnection:
			return access.KindConnection
		}
		return access.KindQuery
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "55P03": // lock_not_available
			return access.KindTransient
		case "57P01", "57P02", "57P03": // server shutting down or starting
			return access.KindConnection
		}
		switch pqErr.Code.Class() {
		case "23":
			return access.KindIntegrity
		case "40":
			return access.KindTransient
		case "08":
			return access.KindConnection
		}
		return access.KindQuery
	}

	return access.KindQuery
}
