package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/roach88/rsq/internal/access"
	"github.com/roach88/rsq/internal/querysql"
)

// ErrUserNotFound is returned when no user has the requested id.
var ErrUserNotFound = errors.New("user not found")

const usersTable = "user_data"

var (
	userColumns = []string{"user_id", "name", "email", "age"}
	userOrder   = []string{"name ASC", "user_id ASC"}
)

// User is one row of user_data.
type User struct {
	ID    string  `json:"user_id"`
	Name  string  `json:"name"`
	Email string  `json:"email"`
	Age   float64 `json:"age"`
}

// ScanUser scans a row selected with the user_data columns in table order.
func ScanUser(c access.Cursor) (User, error) {
	var u User
	if err := c.Scan(&u.ID, &u.Name, &u.Email, &u.Age); err != nil {
		return User{}, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

func scanAge(c access.Cursor) (float64, error) {
	var age float64
	if err := c.Scan(&age); err != nil {
		return 0, fmt.Errorf("scan age: %w", err)
	}
	return age, nil
}

// Users reads and writes user_data through an access.Client.
type Users struct {
	client  *access.Client
	dialect querysql.Dialect
}

// NewUsers creates a Users bound to client. The client's dialect selects
// placeholder syntax.
func NewUsers(client *access.Client) *Users {
	return &Users{client: client, dialect: client.Dialect()}
}

func (u *Users) selectStmt(columns []string, filter querysql.Predicate) (access.Statement, error) {
	query, args, err := querysql.Compile(u.dialect, querysql.Select{
		Columns: columns,
		From:    usersTable,
		Filter:  filter,
		OrderBy: userOrder,
	})
	if err != nil {
		return access.Statement{}, err
	}
	return access.Stmt(query, args...), nil
}

// Stream streams every user ordered by name. The caller must Close the
// stream or drain it.
func (u *Users) Stream(ctx context.Context) (*access.RowStream[User], error) {
	stmt, err := u.selectStmt(userColumns, nil)
	if err != nil {
		return nil, err
	}
	return access.Stream(ctx, u.client, stmt, ScanUser)
}

// StreamAges streams every user's age.
func (u *Users) StreamAges(ctx context.Context) (*access.RowStream[float64], error) {
	stmt, err := u.selectStmt([]string{"age"}, nil)
	if err != nil {
		return nil, err
	}
	return access.Stream(ctx, u.client, stmt, scanAge)
}

// AverageAge computes the mean age over a stream, holding one row at a
// time. Returns 0 when there are no users.
func (u *Users) AverageAge(ctx context.Context) (float64, error) {
	stream, err := u.StreamAges(ctx)
	if err != nil {
		return 0, err
	}
	var total float64
	var count int
	for age, err := range stream.All() {
		if err != nil {
			return 0, fmt.Errorf("average age: %w", err)
		}
		total += age
		count++
	}
	if count == 0 {
		return 0, nil
	}
	return total / float64(count), nil
}

// Pages returns a paginator over every user. A pageSize of 0 uses the
// client's default.
func (u *Users) Pages(pageSize int) (*access.Paginator[User], error) {
	stmt, err := u.selectStmt(userColumns, nil)
	if err != nil {
		return nil, err
	}
	return access.Pages(u.client, stmt, ScanUser, pageSize)
}

// BatchesOlderThan returns a paginator over users strictly older than age.
func (u *Users) BatchesOlderThan(age float64, batchSize int) (*access.Paginator[User], error) {
	stmt, err := u.selectStmt(userColumns, querysql.Compare{Field: "age", Op: ">", Value: age})
	if err != nil {
		return nil, err
	}
	return access.Pages(u.client, stmt, ScanUser, batchSize)
}

// All returns every user. The result is cached.
func (u *Users) All(ctx context.Context, opts ...access.CallOption) ([]User, error) {
	stmt, err := u.selectStmt(userColumns, nil)
	if err != nil {
		return nil, err
	}
	return access.Query(ctx, u.client, stmt, ScanUser, opts...)
}

// OlderThan returns users strictly older than age. The result is cached.
func (u *Users) OlderThan(ctx context.Context, age float64, opts ...access.CallOption) ([]User, error) {
	stmt, err := u.selectStmt(userColumns, querysql.Compare{Field: "age", Op: ">", Value: age})
	if err != nil {
		return nil, err
	}
	return access.Query(ctx, u.client, stmt, ScanUser, opts...)
}

// ByID returns the user with id. The result is cached; a missing user is
// reported as ErrUserNotFound and not cached.
func (u *Users) ByID(ctx context.Context, id string, opts ...access.CallOption) (User, error) {
	stmt, err := u.selectStmt(userColumns, querysql.Equals{Field: "user_id", Value: id})
	if err != nil {
		return User{}, err
	}
	rows, err := access.Query(ctx, u.client, stmt, ScanUser, opts...)
	if err != nil {
		return User{}, err
	}
	if len(rows) == 0 {
		return User{}, fmt.Errorf("user %s: %w", id, ErrUserNotFound)
	}
	return rows[0], nil
}

// UpdateEmail changes the email of user id in one transaction and drops
// cached reads. Returns ErrUserNotFound if no row matched.
func (u *Users) UpdateEmail(ctx context.Context, id, email string) error {
	query := fmt.Sprintf("UPDATE %s SET email = %s WHERE user_id = %s",
		usersTable, u.dialect.Placeholder(1), u.dialect.Placeholder(2))

	_, err := access.Mutate(ctx, u.client, func(ctx context.Context, h access.Handle) (int64, error) {
		n, err := access.ExecWork(access.Stmt(query, email, id))(ctx, h)
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, fmt.Errorf("user %s: %w", id, ErrUserNotFound)
		}
		return n, nil
	})
	if err != nil {
		return fmt.Errorf("update email: %w", err)
	}
	u.client.Cache().Clear()
	return nil
}

// Snapshot is the result of FetchConcurrently.
type Snapshot struct {
	All   []User `json:"all"`
	Older []User `json:"older"`
}

// FetchConcurrently reads all users and users older than age in parallel,
// each on its own connection.
func (u *Users) FetchConcurrently(ctx context.Context, age float64) (Snapshot, error) {
	all, err := u.selectStmt(userColumns, nil)
	if err != nil {
		return Snapshot{}, err
	}
	older, err := u.selectStmt(userColumns, querysql.Compare{Field: "age", Op: ">", Value: age})
	if err != nil {
		return Snapshot{}, err
	}

	retry := u.client.RetryPolicy()
	results, err := access.GatherAll(ctx, u.client, []access.Task[[]User]{
		{Name: "all users", Work: access.QueryAll(all, ScanUser), Retry: &retry},
		{Name: fmt.Sprintf("users older than %g", age), Work: access.QueryAll(older, ScanUser), Retry: &retry},
	})
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{All: results[0], Older: results[1]}, nil
}

// SeedRecord is one parsed CSV row.
type SeedRecord struct {
	Name  string
	Email string
	Age   float64
}

// SeedResult counts what Seed did.
type SeedResult struct {
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
}

// ParseSeedCSV reads records with a name,email,age header. Column order is
// taken from the header.
func ParseSeedCSV(r io.Reader) ([]SeedRecord, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	idx := map[string]int{}
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range []string{"name", "email", "age"} {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("csv header missing %q column", col)
		}
	}

	records := []SeedRecord{}
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		age, err := strconv.ParseFloat(strings.TrimSpace(row[idx["age"]]), 64)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: invalid age %q: %w", line, row[idx["age"]], err)
		}
		records = append(records, SeedRecord{
			Name:  strings.TrimSpace(row[idx["name"]]),
			Email: strings.TrimSpace(row[idx["email"]]),
			Age:   age,
		})
	}
}

// Seed inserts records from a CSV stream in one transaction, assigning
// each a random UUID. Rows whose email already exists are skipped, so
// seeding the same file twice is a no-op. Any insert failure rolls back the
// whole seed.
func (u *Users) Seed(ctx context.Context, r io.Reader) (SeedResult, error) {
	records, err := ParseSeedCSV(r)
	if err != nil {
		return SeedResult{}, err
	}

	ph := u.dialect.Placeholder
	exists := fmt.Sprintf("SELECT user_id FROM %s WHERE email = %s", usersTable, ph(1))
	insert := fmt.Sprintf("INSERT INTO %s (user_id, name, email, age) VALUES (%s, %s, %s, %s)",
		usersTable, ph(1), ph(2), ph(3), ph(4))

	res, err := access.Mutate(ctx, u.client, func(ctx context.Context, h access.Handle) (SeedResult, error) {
		var res SeedResult
		for _, rec := range records {
			found, err := access.QueryAll(access.Stmt(exists, rec.Email), scanString)(ctx, h)
			if err != nil {
				return SeedResult{}, err
			}
			if len(found) > 0 {
				slog.DebugContext(ctx, "skipping existing user", "email", rec.Email)
				res.Skipped++
				continue
			}
			if _, err := h.ExecContext(ctx, insert, uuid.NewString(), rec.Name, rec.Email, rec.Age); err != nil {
				return SeedResult{}, fmt.Errorf("insert %s: %w", rec.Email, err)
			}
			res.Inserted++
		}
		return res, nil
	})
	if err != nil {
		return SeedResult{}, fmt.Errorf("seed users: %w", err)
	}
	u.client.Cache().Clear()
	slog.InfoContext(ctx, "seeded users", "inserted", res.Inserted, "skipped", res.Skipped)
	return res, nil
}

func scanString(c access.Cursor) (string, error) {
	var s string
	err := c.Scan(&s)
	return s, err
}
