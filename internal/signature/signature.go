package signature

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainQuery prefixes every query signature hash.
// The version suffix allows the encoding to change without key reuse.
const DomainQuery = "rsq/query/v1"

// Signature identifies a read by its query text and bound parameters.
// Two reads with equal signatures are interchangeable for caching.
type Signature struct {
	Query string
	Args  []any
}

// New builds a Signature.
func New(query string, args ...any) Signature {
	return Signature{Query: query, Args: args}
}

// Key returns the hex SHA-256 of the canonical encoding, domain separated.
// Returns an error if an argument has no canonical encoding; such reads
// cannot be cached.
func (s Signature) Key() (string, error) {
	canonical, err := s.Canonical()
	if err != nil {
		return "", fmt.Errorf("signature key: %w", err)
	}
	return hashWithDomain(DomainQuery, canonical), nil
}

// MustKey is like Key but panics on error.
// Use only in tests or when the arguments are known to be encodable.
func (s Signature) MustKey() string {
	key, err := s.Key()
	if err != nil {
		panic(err)
	}
	return key
}

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
