package alloc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestDynamicTakeAndFree(t *testing.T) {
	tests := []struct {
		name   string
		size   int
		mapped bool
	}{
		{"small", 24, false},
		{"unit", 16, false},
		{"mapped", 128 << 10, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewDynamic()
			require.NoError(t, err)

			h, err := d.Take(tt.size)
			require.NoError(t, err)
			assert.Equal(t, KindDynamic, h.Kind())
			assert.Zero(t, h.Addr()%Alignment)

			b := d.Bytes(h)
			require.Len(t, b, tt.size)
			for i := range b {
				b[i] = byte(i)
			}
			assert.Equal(t, 1, d.Stats().Live)
			if tt.mapped {
				assert.Positive(t, d.Stats().BytesMapped)
			}

			d.Free(&h)
			assert.True(t, h.IsZero())
			assert.Zero(t, d.Stats().Live)
			assert.Zero(t, d.Stats().BytesLive)
			require.NoError(t, d.Close())
		})
	}
}

func TestDynamicInvalidSize(t *testing.T) {
	d, err := NewDynamic()
	require.NoError(t, err)
	defer d.Close()

	for _, size := range []int{0, -1} {
		_, err := d.Take(size)
		assert.True(t, errors.Is(err, ErrInvalidSize))
	}
}

func TestDynamicGenerationSafety(t *testing.T) {
	d, err := NewDynamic()
	require.NoError(t, err)
	defer d.Close()

	h, err := d.Take(32)
	require.NoError(t, err)
	stale := h
	d.Free(&h)

	requireViolation(t, ErrDoubleFree, func() { d.Free(&stale) })

	// The slot is reused with a newer generation.
	again, err := d.Take(32)
	require.NoError(t, err)
	assert.Equal(t, stale.Slot(), again.Slot())
	assert.NotEqual(t, stale.Generation(), again.Generation())

	requireViolation(t, ErrStaleHandle, func() { d.Bytes(stale) })
	requireViolation(t, ErrStaleHandle, func() { d.Free(&stale) })
	d.Free(&again)
}

func TestDynamicTransfer(t *testing.T) {
	d, err := NewDynamic()
	require.NoError(t, err)
	defer d.Close()

	h, err := d.Take(8)
	require.NoError(t, err)
	d.Bytes(h)[0] = 42
	old := h

	next := d.Transfer(&h)
	assert.True(t, h.IsZero())
	assert.Equal(t, byte(42), d.Bytes(next)[0])
	requireViolation(t, ErrStaleHandle, func() { d.Free(&old) })
	d.Free(&next)
}

func TestDynamicForeignHandle(t *testing.T) {
	a, err := NewDynamic()
	require.NoError(t, err)
	defer a.Close()
	b, err := NewDynamic()
	require.NoError(t, err)
	defer b.Close()

	h, err := a.Take(16)
	require.NoError(t, err)
	requireViolation(t, ErrForeignHandle, func() { b.Free(&h) })
	a.Free(&h)
}

func TestDynamicCloseReportsLeaks(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	d, err := NewDynamic(WithLogger(zap.New(core)), WithOriginTracking(true))
	require.NoError(t, err)

	_, err = d.Take(40)
	require.NoError(t, err)
	kept, err := d.Take(16)
	require.NoError(t, err)
	_, err = d.Take(100 << 10)
	require.NoError(t, err)
	d.Free(&kept)

	err = d.Close()
	var leakErr *LeakError
	require.True(t, errors.As(err, &leakErr))
	require.Len(t, leakErr.Leaks, 2)
	assert.Equal(t, 40, leakErr.Leaks[0].Size)
	assert.Equal(t, 100<<10, leakErr.Leaks[1].Size)
	assert.Contains(t, leakErr.Leaks[0].Origin, "dynamic allocation of 40 bytes")
	assert.Contains(t, err.Error(), "2 leaked allocation(s)")

	assert.Equal(t, 2, logs.FilterMessage("leaked allocation").Len())
	assert.Zero(t, d.Stats().Live)

	// Closing twice is a no-op and later takes fail.
	assert.NoError(t, d.Close())
	_, err = d.Take(16)
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestDynamicThrash(t *testing.T) {
	d, err := NewDynamic(WithThrash(true))
	require.NoError(t, err)
	defer d.Close()

	h, err := d.Take(32)
	require.NoError(t, err)
	b := d.Bytes(h)
	d.Free(&h)
	for _, v := range b {
		require.Equal(t, byte(thrashByte), v)
	}
}
