package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/rsq/internal/access"
	"github.com/roach88/rsq/internal/querysql"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking (SQLite user_version):
// 0 - user_data table
// 1 - email index
const currentSchemaVersion = 1

// DefaultMaxOpenConns bounds the pool when Config leaves it unset.
const DefaultMaxOpenConns = 4

// sqlitePragmas are applied to every SQLite connection through the DSN, so
// each pooled connection gets them and not just the first.
var sqlitePragmas = []string{
	"_journal_mode=WAL",
	"_synchronous=NORMAL",
	"_busy_timeout=5000",
	"_foreign_keys=on",
}

// Config selects the database to open.
type Config struct {
	// Driver is a database/sql driver name: sqlite3, mysql or postgres.
	Driver string

	// DSN is the data source name. For sqlite3 a file path.
	DSN string

	// MaxOpenConns bounds the pool. Each open Handle pins one connection,
	// so this is also the bound on concurrently open Handles.
	MaxOpenConns int
}

// Store is a pooled connection to the row store.
//
// Thread-safety: Store is safe for concurrent use. The Handles it returns
// are not.
type Store struct {
	db      *sql.DB
	dialect querysql.Dialect
}

// Open connects to the database described by cfg and creates the schema.
// This function is idempotent - safe to call multiple times.
func Open(cfg Config) (*Store, error) {
	if cfg.Driver == "" {
		cfg.Driver = "sqlite3"
	}
	dialect, err := querysql.ParseDialect(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("open store: empty DSN for driver %s", cfg.Driver)
	}

	dsn := cfg.DSN
	if dialect == querysql.DialectSQLite {
		dsn = sqliteDSN(dsn)
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, access.NewConnectionError(fmt.Errorf("failed to connect to database: %w", err))
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen < 1 {
		maxOpen = DefaultMaxOpenConns
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)

	s := &Store{db: db, dialect: dialect}
	if err := s.CreateSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenSQLite opens (or creates) a SQLite database file at path.
func OpenSQLite(path string) (*Store, error) {
	return Open(Config{Driver: "sqlite3", DSN: path})
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + strings.Join(sqlitePragmas, "&")
}

// Close closes the pool. Handles still open become unusable.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer Connect so handles are scoped.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the SQL dialect of the configured driver.
func (s *Store) Dialect() querysql.Dialect {
	return s.dialect
}

// Connect implements access.Connector. The returned *Conn holds one pooled
// connection until Close.
func (s *Store) Connect(ctx context.Context) (access.Handle, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, access.NewConnectionError(fmt.Errorf("acquire connection: %w", err))
	}
	return &Conn{conn: conn}, nil
}

// CreateSchema creates the user_data table and its email index if they do
// not exist. This function is idempotent.
func (s *Store) CreateSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := s.runMigrations(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (s *Store) runMigrations(ctx context.Context) error {
	switch s.dialect {
	case querysql.DialectSQLite:
		var version int
		if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
			return fmt.Errorf("get user_version: %w", err)
		}
		if version < 1 {
			if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS email_index ON user_data(email)"); err != nil {
				return fmt.Errorf("migrate to v1: %w", err)
			}
		}
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
		return nil

	case querysql.DialectPostgres:
		if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS email_index ON user_data(email)"); err != nil {
			return fmt.Errorf("create email index: %w", err)
		}
		return nil

	case querysql.DialectMySQL:
		// MySQL has no CREATE INDEX IF NOT EXISTS.
		var n int
		err := s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM information_schema.statistics
			WHERE table_schema = DATABASE() AND table_name = 'user_data' AND index_name = 'email_index'
		`).Scan(&n)
		if err != nil {
			return fmt.Errorf("inspect indexes: %w", err)
		}
		if n == 0 {
			if _, err := s.db.ExecContext(ctx, "CREATE INDEX email_index ON user_data(email)"); err != nil {
				return fmt.Errorf("create email index: %w", err)
			}
		}
		return nil
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value on one
// pooled connection. Used for testing.
func (s *Store) verifyPragma(ctx context.Context, name, expected string) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	var value string
	if err := conn.QueryRowContext(ctx, fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if !strings.EqualFold(value, expected) {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

// Conn is an exclusive Handle over one pooled connection.
//
// While a transaction is open every statement runs inside it.
type Conn struct {
	conn *sql.Conn
	tx   *sql.Tx
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (c *Conn) target() querier {
	if c.tx != nil {
		return c.tx
	}
	return c.conn
}

// QueryContext implements access.Handle.
func (c *Conn) QueryContext(ctx context.Context, query string, args ...any) (access.Cursor, error) {
	rows, err := c.target().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Classify("query", err)
	}
	return &cursor{rows: rows}, nil
}

// ExecContext implements access.Handle.
func (c *Conn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := c.target().ExecContext(ctx, query, args...)
	if err != nil {
		return nil, Classify("exec", err)
	}
	return res, nil
}

// Begin implements access.Handle.
func (c *Conn) Begin(ctx context.Context) error {
	if c.tx != nil {
		return access.ErrTransactionActive
	}
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return Classify("begin", err)
	}
	c.tx = tx
	return nil
}

// Commit implements access.Handle.
func (c *Conn) Commit() error {
	if c.tx == nil {
		return access.ErrNoTransaction
	}
	tx := c.tx
	c.tx = nil
	return Classify("commit", tx.Commit())
}

// Rollback implements access.Handle.
func (c *Conn) Rollback() error {
	if c.tx == nil {
		return access.ErrNoTransaction
	}
	tx := c.tx
	c.tx = nil
	return Classify("rollback", tx.Rollback())
}

// Close returns the connection to the pool, rolling back any transaction
// left open.
func (c *Conn) Close() error {
	var errs []error
	if c.tx != nil {
		if err := c.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			errs = append(errs, fmt.Errorf("rollback on close: %w", err))
		}
		c.tx = nil
		slog.Warn("connection closed with an open transaction")
	}
	if err := c.conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		errs = append(errs, fmt.Errorf("close connection: %w", err))
	}
	return errors.Join(errs...)
}

// cursor classifies errors surfaced while iterating *sql.Rows.
type cursor struct {
	rows *sql.Rows
}

func (c *cursor) Next() bool                 { return c.rows.Next() }
func (c *cursor) Columns() ([]string, error) { return c.rows.Columns() }
func (c *cursor) Close() error               { return c.rows.Close() }

func (c *cursor) Scan(dest ...any) error {
	return Classify("scan", c.rows.Scan(dest...))
}

func (c *cursor) Err() error {
	return Classify("rows", c.rows.Err())
}
