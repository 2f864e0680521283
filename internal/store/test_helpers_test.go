package store

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/rsq/internal/access"
)

const seedCSV = `name,email,age
Ana Lima,ana@example.com,34
Bo Chen,bo@example.com,27.5
Cara Diaz,cara@example.com,45
Dev Patel,dev@example.com,61
Eli Novak,eli@example.com,19
Fay Okafor,fay@example.com,38
Gus Berg,gus@example.com,52
Hana Sato,hana@example.com,23
Ivo Rossi,ivo@example.com,70
Jun Park,jun@example.com,30
`

// createTestStore creates a new file-backed SQLite store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestUsers returns Users over a fresh store seeded with seedCSV.
func createTestUsers(t *testing.T, opts ...access.Option) (*Store, *Users) {
	t.Helper()
	s := createTestStore(t)
	opts = append([]access.Option{
		access.WithDialect(s.Dialect()),
		access.WithRetryPolicy(access.RetryPolicy{MaxAttempts: 3}),
	}, opts...)
	users := NewUsers(access.New(s, opts...))
	res, err := users.Seed(t.Context(), strings.NewReader(seedCSV))
	require.NoError(t, err)
	require.Equal(t, 10, res.Inserted)
	return s, users
}

func countUsers(t *testing.T, s *Store) int {
	t.Helper()
	var n int
	require.NoError(t, s.DB().QueryRow("SELECT COUNT(*) FROM user_data").Scan(&n))
	return n
}
