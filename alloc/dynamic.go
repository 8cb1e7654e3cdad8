package alloc

import (
	"github.com/rotisserie/eris"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var _ Allocator = &Dynamic{}

type dynamicSlot struct {
	mem    rawMemory
	size   int
	gen    uint32
	live   bool
	origin error
}

// DynamicStats reports the state of a Dynamic allocator.
type DynamicStats struct {
	Live        int
	BytesLive   int64
	BytesMapped int64
	TotalTakes  uint64
	TotalFrees  uint64
}

// Dynamic is a thin tracked wrapper over platform memory. Each allocation
// occupies a pooled slot so it can be validated on free and reported if it is
// never freed.
type Dynamic struct {
	id     uint16
	slots  []dynamicSlot
	free   []uint32
	opts   options
	stats  DynamicStats
	closed bool
}

// NewDynamic creates a Dynamic allocator and registers it as a handle owner.
func NewDynamic(opts ...Option) (*Dynamic, error) {
	d := &Dynamic{opts: buildOptions(opts)}
	id, err := register(d)
	if err != nil {
		return nil, err
	}
	d.id = id
	return d, nil
}

func (d *Dynamic) Kind() Kind {
	return KindDynamic
}

// Take rounds size up to Alignment and obtains the memory from the platform.
func (d *Dynamic) Take(size int) (Handle, error) {
	if d.closed {
		return Handle{}, eris.Wrap(ErrClosed, "dynamic take")
	}
	if err := checkSize("dynamic take", size); err != nil {
		return Handle{}, err
	}
	rounded := alignUp(size, Alignment)
	mem, err := sysAlloc(rounded)
	if err != nil {
		return Handle{}, eris.Wrapf(ErrSystemAlloc, "%d bytes: %v", rounded, err)
	}

	var id uint32
	if n := len(d.free); n > 0 {
		id = d.free[n-1]
		d.free = d.free[:n-1]
	} else {
		id = uint32(len(d.slots))
		d.slots = append(d.slots, dynamicSlot{})
	}
	slot := &d.slots[id]
	slot.mem = mem
	slot.size = size
	slot.gen = newGen()
	slot.live = true
	slot.origin = nil
	if d.opts.trackOrigins {
		slot.origin = eris.Errorf("dynamic allocation of %d bytes", size)
	}

	d.stats.Live++
	d.stats.BytesLive += int64(rounded)
	if mem.mapped != nil {
		d.stats.BytesMapped += int64(len(mem.mapped))
	}
	d.stats.TotalTakes++

	return newHandle(addrOf(mem.buf), size, id, handleFields{
		kind:  KindDynamic,
		owner: d.id,
		gen:   slot.gen,
	}), nil
}

func (d *Dynamic) lookup(h Handle) *dynamicSlot {
	if h.Kind() != KindDynamic || h.owner() != d.id {
		violation(ErrForeignHandle, "dynamic allocator %d given %s", d.id, h)
	}
	if int(h.slot) >= len(d.slots) {
		violation(ErrStaleHandle, "%s: no such slot", h)
	}
	slot := &d.slots[h.slot]
	if slot.gen != h.Generation() {
		violation(ErrStaleHandle, "%s: slot generation is %d", h, slot.gen)
	}
	if !slot.live {
		violation(ErrDoubleFree, "%s", h)
	}
	return slot
}

// Free validates h against the slot table and returns the memory to the
// platform.
func (d *Dynamic) Free(h *Handle) {
	slot := d.lookup(*h)
	if d.opts.thrash {
		thrash(slot.mem.buf)
	}
	d.release(slot)
	d.free = append(d.free, h.slot)
	d.stats.TotalFrees++
	*h = Handle{}
}

func (d *Dynamic) release(slot *dynamicSlot) error {
	err := sysFree(slot.mem)
	d.stats.Live--
	d.stats.BytesLive -= int64(len(slot.mem.buf))
	if slot.mem.mapped != nil {
		d.stats.BytesMapped -= int64(len(slot.mem.mapped))
	}
	slot.mem = rawMemory{}
	slot.live = false
	slot.origin = nil
	if err != nil {
		d.opts.logger.Error("release failed", zap.Error(err))
	}
	return err
}

// Transfer reissues h under a new generation over the same memory.
func (d *Dynamic) Transfer(h *Handle) Handle {
	slot := d.lookup(*h)
	slot.gen = newGen()
	next := newHandle(h.addr, slot.size, h.slot, handleFields{
		kind:  KindDynamic,
		owner: d.id,
		gen:   slot.gen,
	})
	*h = Handle{}
	return next
}

// Bytes returns the memory behind h.
func (d *Dynamic) Bytes(h Handle) []byte {
	slot := d.lookup(h)
	return slot.mem.buf[:slot.size:slot.size]
}

// Stats returns a snapshot of the allocator counters.
func (d *Dynamic) Stats() DynamicStats {
	return d.stats
}

// Leaks lists the allocations that are currently live.
func (d *Dynamic) Leaks() []Leak {
	var leaks []Leak
	for i := range d.slots {
		slot := &d.slots[i]
		if !slot.live {
			continue
		}
		leak := Leak{Kind: KindDynamic, Slot: uint32(i), Size: slot.size}
		if slot.origin != nil {
			leak.Origin = eris.ToString(slot.origin, true)
		}
		leaks = append(leaks, leak)
	}
	return leaks
}

// Close releases every remaining allocation. Allocations still live at this
// point are leaks: each one is logged and the set is returned as a
// *LeakError. Close never panics on leaks.
func (d *Dynamic) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	defer unregister(d.id)

	leaks := d.Leaks()
	var errs error
	for _, leak := range leaks {
		d.opts.logger.Warn("leaked allocation",
			zap.Stringer("kind", leak.Kind),
			zap.Uint32("slot", leak.Slot),
			zap.Int("size", leak.Size),
			zap.String("origin", leak.Origin),
		)
		errs = multierr.Append(errs, d.release(&d.slots[leak.Slot]))
	}
	d.slots = nil
	d.free = nil
	return closeError("dynamic close", errs, leaks)
}
