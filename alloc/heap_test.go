package alloc

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Class 0 holds requests below 1 KiB on 4 KiB pages.
func newTestHeap(t *testing.T, opts ...Option) *Heap {
	t.Helper()
	opts = append([]Option{WithClassBase(1024), WithClasses(4), WithPageScale(4)}, opts...)
	h, err := NewHeap(nil, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func TestHeapClassSelection(t *testing.T) {
	tests := []struct {
		name  string
		size  int
		class int
	}{
		{"tiny", 1, 0},
		{"below threshold", 1023, 0},
		{"at threshold", 1024, 1},
		{"class 2", 3000, 2},
		{"last class", 8000, 3},
		{"oversize", 64 << 10, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHeap(t)
			hd, err := h.Take(tt.size)
			require.NoError(t, err)
			assert.Equal(t, tt.class, hd.class())
			assert.Len(t, h.Bytes(hd), tt.size)
			assert.Zero(t, hd.Addr()%Alignment)
			h.Free(&hd)
			require.NoError(t, h.Validate())
		})
	}
}

func TestHeapSplitAndReuse(t *testing.T) {
	h := newTestHeap(t)

	a, err := h.Take(100)
	require.NoError(t, err)
	b, err := h.Take(100)
	require.NoError(t, err)

	blocks := h.PageBlocks(0, 0)
	require.Len(t, blocks, 3)
	assert.Equal(t, headerUnits+7, blocks[0].Units)
	assert.True(t, blocks[0].Used)
	assert.Equal(t, 100, blocks[0].Size)
	assert.False(t, blocks[2].Used)

	// First fit hands the freed block back out.
	h.Free(&a)
	c, err := h.Take(64)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), c.Slot())
	require.NoError(t, h.Validate())

	h.Free(&b)
	h.Free(&c)
	require.NoError(t, h.Validate())
}

func TestHeapWholeBlockWhenRemainderTooSmall(t *testing.T) {
	h := newTestHeap(t)
	// Three 66-unit blocks leave 58 units. A 56-unit request would leave 2,
	// which cannot host a header plus one unit, so it takes all 58.
	var hs [4]Handle
	for i := 0; i < 3; i++ {
		var err error
		hs[i], err = h.Take(1023)
		require.NoError(t, err)
	}
	var err error
	hs[3], err = h.Take((58 - headerUnits - 2) * unit)
	require.NoError(t, err)

	blocks := h.PageBlocks(0, 0)
	require.Len(t, blocks, 4)
	assert.Equal(t, 58, blocks[3].Units)
	assert.True(t, blocks[3].Used)
	for i := range hs {
		h.Free(&hs[i])
	}
	require.NoError(t, h.Validate())
}

func TestHeapCoalescing(t *testing.T) {
	for _, seed := range []int64{1, 7, 42, 1234} {
		h := newTestHeap(t)
		rng := rand.New(rand.NewSource(seed))

		handles := make([]Handle, 0, 200)
		for i := 0; i < 200; i++ {
			hd, err := h.Take(1 + rng.Intn(1000))
			require.NoError(t, err)
			b := h.Bytes(hd)
			b[0], b[len(b)-1] = byte(i), byte(i)
			handles = append(handles, hd)
		}
		require.Greater(t, h.Pages(0), 1)
		require.NoError(t, h.Validate())

		rng.Shuffle(len(handles), func(i, j int) { handles[i], handles[j] = handles[j], handles[i] })
		for i := range handles {
			h.Free(&handles[i])
			require.NoError(t, h.Validate(), "seed %d after %d frees", seed, i+1)
		}

		for pi := 0; pi < h.Pages(0); pi++ {
			blocks := h.PageBlocks(0, pi)
			require.Len(t, blocks, 1, "seed %d page %d", seed, pi)
			assert.False(t, blocks[0].Used)
			assert.Equal(t, 4096/unit, blocks[0].Units)
		}
		assert.Zero(t, h.Stats().Live)
	}
}

func TestHeapCoalesceBothSides(t *testing.T) {
	h := newTestHeap(t)
	var hs [3]Handle
	for i := range hs {
		var err error
		hs[i], err = h.Take(200)
		require.NoError(t, err)
	}
	h.Free(&hs[0])
	h.Free(&hs[2])
	require.Len(t, h.PageBlocks(0, 0), 3)

	h.Free(&hs[1])
	blocks := h.PageBlocks(0, 0)
	require.Len(t, blocks, 1)
	assert.Equal(t, 256, blocks[0].Units)
}

func TestHeapGenerationSafety(t *testing.T) {
	h := newTestHeap(t)
	a, err := h.Take(64)
	require.NoError(t, err)
	b, err := h.Take(64)
	require.NoError(t, err)
	c, err := h.Take(64)
	require.NoError(t, err)

	stale := b
	h.Free(&b)
	requireViolation(t, ErrDoubleFree, func() { h.Free(&stale) })

	// Freeing a merges b into it, wiping b's header.
	h.Free(&a)
	requireViolation(t, ErrStaleHandle, func() { h.Bytes(stale) })

	d, err := h.Take(64)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), d.Slot())
	h.Free(&d)
	h.Free(&c)
}

func TestHeapTransfer(t *testing.T) {
	h := newTestHeap(t)
	hd, err := h.Take(32)
	require.NoError(t, err)
	h.Bytes(hd)[3] = 9
	old := hd

	next := h.Transfer(&hd)
	assert.True(t, hd.IsZero())
	assert.Equal(t, byte(9), h.Bytes(next)[3])
	requireViolation(t, ErrStaleHandle, func() { h.Bytes(old) })
	h.Free(&next)
}

func TestHeapForgedHandle(t *testing.T) {
	h := newTestHeap(t)
	hd, err := h.Take(32)
	require.NoError(t, err)

	forged := hd
	forged.flags ^= 1 << pageShift
	requireViolation(t, ErrStaleHandle, func() { h.Free(&forged) })
	h.Free(&hd)
}

func TestHeapCorruptionIsFatal(t *testing.T) {
	h := newTestHeap(t)
	a, err := h.Take(64)
	require.NoError(t, err)
	b, err := h.Take(64)
	require.NoError(t, err)

	// Scribble over b's header the way an overrun of a would.
	p := h.classes[0].pages[0]
	p.put(b.Slot(), hdrMagic, 0xDEADBEEF)

	requireViolation(t, ErrCorrupted, func() { h.Free(&b) })
	require.True(t, errors.Is(h.Validate(), ErrCorrupted))
	requireViolation(t, ErrCorrupted, func() { h.Free(&a) })

	// Neither free touched the page, so restoring the magic heals it.
	p.put(b.Slot(), hdrMagic, heapMagic)
	require.NoError(t, h.Validate())
	h.Free(&b)
	h.Free(&a)
	require.NoError(t, h.Validate())
	require.Len(t, h.PageBlocks(0, 0), 1)
}

func TestHeapGrowAndTrim(t *testing.T) {
	h := newTestHeap(t)
	var hs []Handle
	for i := 0; i < 12; i++ {
		hd, err := h.Take(900)
		require.NoError(t, err)
		hs = append(hs, hd)
	}
	pages := h.Pages(0)
	require.Greater(t, pages, 2)
	assert.Equal(t, pages, h.Stats().Pages)

	for i := range hs {
		h.Free(&hs[i])
	}
	h.Trim()
	assert.Equal(t, 1, h.Pages(0))
	assert.Equal(t, uint64(pages-1), h.Stats().PagesTrimmed)
	require.NoError(t, h.Validate())

	// The trimmed slots are reused.
	hd, err := h.Take(900)
	require.NoError(t, err)
	assert.Zero(t, hd.page())
	h.Free(&hd)
}

func TestHeapInvalidOptions(t *testing.T) {
	_, err := NewHeap(nil, WithClasses(MaxClasses+1))
	assert.True(t, errors.Is(err, ErrInvalidSize))
	_, err = NewHeap(nil, WithPageScale(1))
	assert.True(t, errors.Is(err, ErrInvalidSize))
}

func TestHeapCloseReportsLeaks(t *testing.T) {
	h, err := NewHeap(nil, WithClassBase(1024), WithClasses(2))
	require.NoError(t, err)
	_, err = h.Take(10)
	require.NoError(t, err)
	_, err = h.Take(1500)
	require.NoError(t, err)

	err = h.Close()
	var leakErr *LeakError
	require.True(t, errors.As(err, &leakErr))
	assert.Len(t, leakErr.Leaks, 2)
}
