// Package access is the resilient streaming query layer that sits between
// application code and a row store.
//
// The layer is built from small wrappers that each own one concern:
//
//   - WithConnection: acquires one Handle per invocation and releases it on
//     every exit path
//   - Transactional: commit on success, rollback and re-raise on failure
//   - Retry: re-invokes an Op on classified transient failures
//   - Cached: memoizes read results keyed by a query signature
//   - OpenStream / RowStream: lazy, forward-only row sequences holding one
//     Handle for their whole lifetime
//   - Paginator: lazy LIMIT/OFFSET pages, one Handle per page
//   - Gather / Settle: concurrent independent fetches with ordered results
//
// # Composition Order
//
// Wrappers compose by explicit nesting, innermost to outermost:
//
//	Cached(cache, sig, Retry(policy, WithConnection(c, Transactional(work))))
//
// Retry sits outside the connection scope so each attempt acquires a fresh
// Handle and makes its own commit/rollback decision. An attempt that
// committed is never retried.
//
// # Ownership
//
// A Handle is owned by exactly one scope (WithConnection, a RowStream, or one
// page fetch of a Paginator) and is closed exactly once. Handles are never
// shared between concurrently running tasks. The Cache is the only object
// meant to be shared across goroutines.
//
// Client bundles these pieces behind a configured composition root.
package access
