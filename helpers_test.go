package depot

import (
	"errors"
	"testing"

	"github.com/TheBitDrifter/table"
	"github.com/stretchr/testify/require"
)

type Position struct {
	X, Y float64
}

type Velocity struct {
	X, Y float64
}

type Health struct {
	Value int32
	Max   int32
}

type Frozen struct{}

func newTestStorage(t testing.TB, cfg ...Config) Storage {
	t.Helper()
	sto, err := Factory.NewStorage(table.Factory.NewSchema(), cfg...)
	require.NoError(t, err)
	t.Cleanup(func() { sto.Close() })
	return sto
}

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
