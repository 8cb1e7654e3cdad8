package alloc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// requireViolation runs fn and checks that it panics with an error wrapping
// target.
func requireViolation(t *testing.T, target error, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		require.NotNil(t, r, "expected panic wrapping %v", target)
		err, ok := r.(error)
		require.True(t, ok, "panic value %v is not an error", r)
		require.True(t, errors.Is(err, target), "panic %v does not wrap %v", err, target)
	}()
	fn()
}
