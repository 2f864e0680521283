// Package signature derives Result Cache keys from a query and its bound
// parameters.
//
// Keys are SHA-256 over a canonical JSON encoding with domain separation,
// so equal (query, args) pairs map to the same key regardless of call site.
package signature
