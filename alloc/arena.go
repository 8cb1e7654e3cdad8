package alloc

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// End selects which side of an arena an allocation grows from.
type End uint8

const (
	Front End = iota
	Back
)

func (e End) String() string {
	if e == Back {
		return "back"
	}
	return "front"
}

var _ Allocator = &Arena{}

type arenaRecord struct {
	offset int
	size   int
	gen    uint32
}

// ArenaStats reports the state of an Arena.
type ArenaStats struct {
	Capacity    int
	FrontUsed   int
	BackUsed    int
	FrontAllocs int
	BackAllocs  int
	HighWater   int
	Resets      uint64
}

// Arena is a fixed region carved from both ends. The front grows up, the back
// grows down, and each end must be freed in strict LIFO order.
type Arena struct {
	id       uint16
	parent   Allocator
	owned    bool
	region   Handle
	mem      []byte
	front    int
	back     int
	stacks   [2][]arenaRecord
	gen      uint32
	opts     options
	resets   uint64
	highMark int
	closed   bool
}

// NewArena reserves capacity bytes from parent and returns an arena over
// them. A nil parent makes the arena take its region from a private Dynamic
// allocator.
func NewArena(parent Allocator, capacity int, opts ...Option) (*Arena, error) {
	if capacity < Alignment {
		return nil, eris.Wrapf(ErrInvalidSize, "arena capacity %d", capacity)
	}
	a := &Arena{parent: parent, opts: buildOptions(opts)}
	if a.parent == nil {
		d, err := NewDynamic(WithLogger(a.opts.logger))
		if err != nil {
			return nil, err
		}
		a.parent = d
		a.owned = true
	}

	region, err := a.parent.Take(capacity)
	if err != nil {
		a.closeParent()
		return nil, eris.Wrap(err, "arena region")
	}
	a.region = region
	a.mem = a.parent.Bytes(region)
	a.back = len(a.mem) &^ (Alignment - 1)

	id, err := register(a)
	if err != nil {
		a.parent.Free(&a.region)
		a.closeParent()
		return nil, err
	}
	a.id = id
	return a, nil
}

func (a *Arena) Kind() Kind {
	return KindArena
}

// Take allocates from the front end.
func (a *Arena) Take(size int) (Handle, error) {
	return a.TakeFrom(size, Front)
}

// TakeFrom allocates size bytes, 16-byte aligned, from the given end. The
// returned memory is zeroed.
func (a *Arena) TakeFrom(size int, end End) (Handle, error) {
	if a.closed {
		return Handle{}, eris.Wrap(ErrClosed, "arena take")
	}
	if err := checkSize("arena take", size); err != nil {
		return Handle{}, err
	}
	rounded := alignUp(size, Alignment)
	if rounded > a.back-a.front {
		return Handle{}, eris.Wrapf(ErrOutOfMemory, "arena %d: %d bytes requested, %d free", a.id, rounded, a.back-a.front)
	}

	var offset int
	if end == Front {
		offset = a.front
		a.front += rounded
	} else {
		a.back -= rounded
		offset = a.back
	}
	clear(a.mem[offset : offset+rounded])

	a.gen = newGen()
	slot := uint32(len(a.stacks[end]))
	a.stacks[end] = append(a.stacks[end], arenaRecord{offset: offset, size: size, gen: a.gen})
	if used := a.front + len(a.mem) - a.back; used > a.highMark {
		a.highMark = used
	}

	return newHandle(addrOf(a.mem[offset:]), size, slot, handleFields{
		kind:  KindArena,
		class: int(end),
		owner: a.id,
		gen:   a.gen,
	}), nil
}

func (a *Arena) lookup(h Handle) (End, *arenaRecord) {
	if a.closed {
		violation(ErrStaleHandle, "%s: arena %d is closed", h, a.id)
	}
	if h.Kind() != KindArena || h.owner() != a.id {
		violation(ErrForeignHandle, "arena %d given %s", a.id, h)
	}
	end := End(h.class())
	if end > Back {
		violation(ErrStaleHandle, "%s: bad arena end", h)
	}
	stack := a.stacks[end]
	if int(h.slot) >= len(stack) {
		violation(ErrStaleHandle, "%s: %s stack depth is %d", h, end, len(stack))
	}
	rec := &stack[h.slot]
	if rec.gen != h.Generation() {
		violation(ErrStaleHandle, "%s: slot generation is %d", h, rec.gen)
	}
	return end, rec
}

// Free releases h, which must be the most recent outstanding allocation on its
// end.
func (a *Arena) Free(h *Handle) {
	end, rec := a.lookup(*h)
	depth := len(a.stacks[end])
	if int(h.slot) != depth-1 {
		violation(ErrOutOfOrderFree, "%s: top of %s stack is slot %d", h, end, depth-1)
	}
	rounded := alignUp(rec.size, Alignment)
	if a.opts.thrash {
		thrash(a.mem[rec.offset : rec.offset+rounded])
	}
	if end == Front {
		a.front = rec.offset
	} else {
		a.back = rec.offset + rounded
	}
	a.stacks[end] = a.stacks[end][:depth-1]
	*h = Handle{}
}

// Transfer reissues h under a new generation.
func (a *Arena) Transfer(h *Handle) Handle {
	end, rec := a.lookup(*h)
	a.gen = newGen()
	rec.gen = a.gen
	next := newHandle(h.addr, rec.size, h.slot, handleFields{
		kind:  KindArena,
		class: int(end),
		owner: a.id,
		gen:   rec.gen,
	})
	*h = Handle{}
	return next
}

func (a *Arena) Bytes(h Handle) []byte {
	_, rec := a.lookup(h)
	return a.mem[rec.offset : rec.offset+rec.size : rec.offset+rec.size]
}

// Reset drops every outstanding allocation on both ends. Handles issued
// before the reset turn stale.
func (a *Arena) Reset() {
	if a.opts.thrash {
		thrash(a.mem[:a.front])
		thrash(a.mem[a.back:])
	}
	a.front = 0
	a.back = len(a.mem) &^ (Alignment - 1)
	a.stacks[Front] = a.stacks[Front][:0]
	a.stacks[Back] = a.stacks[Back][:0]
	a.resets++
}

// Available returns the number of bytes left between the two ends.
func (a *Arena) Available() int {
	return a.back - a.front
}

func (a *Arena) Stats() ArenaStats {
	return ArenaStats{
		Capacity:    len(a.mem),
		FrontUsed:   a.front,
		BackUsed:    len(a.mem) - a.back,
		FrontAllocs: len(a.stacks[Front]),
		BackAllocs:  len(a.stacks[Back]),
		HighWater:   a.highMark,
		Resets:      a.resets,
	}
}

// Close returns the region to the parent allocator. Outstanding allocations
// are logged and reported through a *LeakError.
func (a *Arena) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	defer unregister(a.id)

	var leaks []Leak
	for _, end := range []End{Front, Back} {
		for i, rec := range a.stacks[end] {
			leaks = append(leaks, Leak{Kind: KindArena, Slot: uint32(i), Size: rec.size, Origin: end.String()})
			a.opts.logger.Warn("leaked allocation",
				zap.Stringer("kind", KindArena),
				zap.Stringer("end", end),
				zap.Int("slot", i),
				zap.Int("size", rec.size),
			)
		}
	}

	a.parent.Free(&a.region)
	a.mem = nil
	a.stacks[Front] = nil
	a.stacks[Back] = nil
	a.front, a.back = 0, 0
	return closeError("arena close", a.closeParent(), leaks)
}

func (a *Arena) closeParent() error {
	if !a.owned {
		return nil
	}
	return a.parent.Close()
}
