package alloc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestArena(t *testing.T, capacity int, opts ...Option) *Arena {
	t.Helper()
	a, err := NewArena(nil, capacity, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestArenaBothEnds(t *testing.T) {
	a := newTestArena(t, 1024)

	f1, err := a.TakeFrom(10, Front)
	require.NoError(t, err)
	f2, err := a.TakeFrom(20, Front)
	require.NoError(t, err)
	b1, err := a.TakeFrom(30, Back)
	require.NoError(t, err)

	assert.Equal(t, f1.Addr()+16, f2.Addr())
	assert.Zero(t, b1.Addr()%Alignment)
	assert.Greater(t, b1.Addr(), f2.Addr())
	assert.Equal(t, 1024-16-32-32, a.Available())

	stats := a.Stats()
	assert.Equal(t, 2, stats.FrontAllocs)
	assert.Equal(t, 1, stats.BackAllocs)
	assert.Equal(t, 48, stats.FrontUsed)
	assert.Equal(t, 32, stats.BackUsed)

	a.Free(&b1)
	a.Free(&f2)
	a.Free(&f1)
	assert.Equal(t, 1024, a.Available())
}

func TestArenaStackDiscipline(t *testing.T) {
	tests := []struct {
		name string
		end  End
	}{
		{"front", Front},
		{"back", Back},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestArena(t, 512)
			x, err := a.TakeFrom(16, tt.end)
			require.NoError(t, err)
			y, err := a.TakeFrom(16, tt.end)
			require.NoError(t, err)

			requireViolation(t, ErrOutOfOrderFree, func() { a.Free(&x) })

			freed := y
			a.Free(&y)
			a.Free(&x)
			requireViolation(t, ErrStaleHandle, func() { a.Free(&freed) })
		})
	}
}

func TestArenaEndsAreIndependent(t *testing.T) {
	a := newTestArena(t, 512)
	f, err := a.TakeFrom(16, Front)
	require.NoError(t, err)
	b, err := a.TakeFrom(16, Back)
	require.NoError(t, err)

	// The front allocation is the top of its own stack.
	a.Free(&f)
	a.Free(&b)
}

func TestArenaExhaustion(t *testing.T) {
	a := newTestArena(t, 64)
	_, err := a.TakeFrom(32, Front)
	require.NoError(t, err)
	_, err = a.TakeFrom(32, Back)
	require.NoError(t, err)

	_, err = a.Take(1)
	assert.True(t, errors.Is(err, ErrOutOfMemory))
	a.Reset()
}

func TestArenaTakeIsZeroed(t *testing.T) {
	a := newTestArena(t, 128, WithThrash(true))
	h, err := a.Take(32)
	require.NoError(t, err)
	b := a.Bytes(h)
	b[0], b[31] = 1, 2
	a.Free(&h)
	assert.Equal(t, byte(thrashByte), b[0])

	h, err = a.Take(32)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 32), a.Bytes(h))
	a.Free(&h)
}

func TestArenaResetStalesHandles(t *testing.T) {
	a := newTestArena(t, 256)
	h, err := a.Take(16)
	require.NoError(t, err)

	a.Reset()
	assert.Equal(t, uint64(1), a.Stats().Resets)
	requireViolation(t, ErrStaleHandle, func() { a.Bytes(h) })

	// Same slot, newer generation.
	again, err := a.Take(16)
	require.NoError(t, err)
	assert.Equal(t, h.Slot(), again.Slot())
	requireViolation(t, ErrStaleHandle, func() { a.Free(&h) })
	a.Free(&again)
}

func TestArenaTransfer(t *testing.T) {
	a := newTestArena(t, 256)
	h, err := a.Take(16)
	require.NoError(t, err)
	old := h

	next := a.Transfer(&h)
	requireViolation(t, ErrStaleHandle, func() { a.Free(&old) })
	a.Free(&next)
}

func TestArenaOverHeap(t *testing.T) {
	heap, err := NewHeap(nil, WithClassBase(1024), WithClasses(2))
	require.NoError(t, err)

	a, err := NewArena(heap, 512)
	require.NoError(t, err)
	h, err := a.Take(100)
	require.NoError(t, err)
	a.Free(&h)

	require.NoError(t, a.Close())
	require.NoError(t, heap.Validate())
	require.NoError(t, heap.Close())
}

func TestArenaCloseReportsLeaks(t *testing.T) {
	a, err := NewArena(nil, 256)
	require.NoError(t, err)
	_, err = a.TakeFrom(16, Back)
	require.NoError(t, err)

	err = a.Close()
	var leakErr *LeakError
	require.True(t, errors.As(err, &leakErr))
	require.Len(t, leakErr.Leaks, 1)
	assert.Equal(t, "back", leakErr.Leaks[0].Origin)
}
