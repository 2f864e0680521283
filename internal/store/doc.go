// Package store is the row-store adapter behind the access layer.
//
// A Store wraps a database/sql pool for SQLite, MySQL or PostgreSQL and
// implements access.Connector: every Connect pins one pooled connection
// exclusively to the caller until the returned Handle is closed. Driver
// errors are classified into the access taxonomy (CONNECTION, TRANSIENT,
// INTEGRITY, QUERY) at this boundary so the layer above can decide what to
// retry.
//
// # SQLite Configuration
//
// Every pooled SQLite connection is opened with:
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON
//
// # Users
//
// Users exposes the user_data table through the access Client: CSV
// seeding, streamed reads, pages, cached lookups, transactional updates and
// concurrent fetches. All reads order by name then user_id.
package store
