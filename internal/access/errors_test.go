package access_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/rsq/internal/access"
)

func TestStoreError_Format(t *testing.T) {
	err := access.NewStoreError(access.KindTransient, "query", errors.New("database is locked"))
	assert.Equal(t, "TRANSIENT: query: database is locked", err.Error())

	noOp := &access.StoreError{Kind: access.KindQuery, Err: errors.New("x")}
	assert.Equal(t, "QUERY: x", noOp.Error())
}

func TestNewStoreError_KeepsExistingClassification(t *testing.T) {
	inner := access.NewStoreError(access.KindIntegrity, "exec", errors.New("UNIQUE"))
	wrapped := fmt.Errorf("seed: %w", inner)

	got := access.NewStoreError(access.KindQuery, "exec", wrapped)
	assert.Same(t, wrapped, got)
	assert.True(t, access.IsIntegrity(got))

	assert.Nil(t, access.NewStoreError(access.KindQuery, "exec", nil))
}

func TestKindHelpers_SeeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("outer: %w", access.NewConnectionError(errors.New("refused")))
	assert.True(t, access.IsConnectionError(err))
	assert.False(t, access.IsTransient(err))
	assert.Equal(t, access.KindConnection, access.KindOf(err))
	assert.Equal(t, access.ErrorKind(""), access.KindOf(errors.New("plain")))
}

func TestDefaultRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"transient", transientErr(), true},
		{"connection", access.NewConnectionError(errors.New("refused")), true},
		{"integrity", integrityErr(), false},
		{"query", access.NewStoreError(access.KindQuery, "query", errors.New("syntax")), false},
		{"unclassified", errors.New("plain"), false},
		{"canceled", context.Canceled, false},
		{"wrapped deadline", fmt.Errorf("x: %w", context.DeadlineExceeded), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, access.DefaultRetryable(tt.err))
		})
	}
}
