package alloc

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/rotisserie/eris"
)

// Kind identifies the allocator family that issued a handle.
type Kind uint8

const (
	KindNone Kind = iota
	KindArena
	KindHeap
	KindDynamic
)

func (k Kind) String() string {
	switch k {
	case KindArena:
		return "arena"
	case KindHeap:
		return "heap"
	case KindDynamic:
		return "dynamic"
	}
	return "none"
}

// Layout of Handle.flags, low bits first.
const (
	kindBits  = 2
	classBits = 4
	pageBits  = 10
	ownerBits = 12
	genBits   = 20
	sumBits   = 16

	classShift = kindBits
	pageShift  = classShift + classBits
	ownerShift = pageShift + pageBits
	genShift   = ownerShift + ownerBits
	sumShift   = genShift + genBits

	// MaxClasses is the number of heap size classes a handle can address.
	MaxClasses = 1 << classBits
	// MaxPages is the number of pages per heap size class a handle can address.
	MaxPages = 1 << pageBits
	// MaxOwners bounds the number of allocators registered at the same time.
	MaxOwners = 1 << ownerBits

	genMask = 1<<genBits - 1
)

// Alignment is the alignment of every address handed out by this package.
const Alignment = 16

// MaxSize is the largest allocation a handle can describe.
const MaxSize = math.MaxUint32

// Handle is the capability returned by every allocator. It must be presented
// to free, transfer or access the allocation. Handles are plain values and can
// be copied, but only the copy matching the owner's live record is honoured:
// Free and Transfer zero the handle they are given and every other copy turns
// stale.
type Handle struct {
	addr  uintptr
	size  uint32
	slot  uint32
	flags uint64
}

type handleFields struct {
	kind  Kind
	class int
	page  int
	owner uint16
	gen   uint32
	sum   uint16
}

func newHandle(addr uintptr, size int, slot uint32, f handleFields) Handle {
	flags := uint64(f.kind) |
		uint64(f.class)<<classShift |
		uint64(f.page)<<pageShift |
		uint64(f.owner)<<ownerShift |
		uint64(f.gen&genMask)<<genShift |
		uint64(f.sum)<<sumShift
	return Handle{
		addr:  addr,
		size:  uint32(size),
		slot:  slot,
		flags: flags,
	}
}

// Addr returns the start address of the allocation.
func (h Handle) Addr() uintptr { return h.addr }

// Size returns the requested size in bytes.
func (h Handle) Size() int { return int(h.size) }

// Slot returns the allocator-local slot id.
func (h Handle) Slot() uint32 { return h.slot }

// Kind returns the allocator family that issued the handle.
func (h Handle) Kind() Kind { return Kind(h.flags & (1<<kindBits - 1)) }

// Generation returns the generation stamped on the handle.
func (h Handle) Generation() uint32 { return uint32(h.flags>>genShift) & genMask }

// IsZero reports whether h is the zero handle. The zero handle is never valid.
func (h Handle) IsZero() bool { return h.flags == 0 }

func (h Handle) class() int       { return int(h.flags>>classShift) & (1<<classBits - 1) }
func (h Handle) page() int        { return int(h.flags>>pageShift) & (1<<pageBits - 1) }
func (h Handle) owner() uint16    { return uint16(h.flags>>ownerShift) & (1<<ownerBits - 1) }
func (h Handle) checksum() uint16 { return uint16(h.flags >> sumShift) }

func (h Handle) String() string {
	if h.IsZero() {
		return "Handle(zero)"
	}
	return fmt.Sprintf("Handle(%s owner=%d class=%d page=%d slot=%d gen=%d size=%d)",
		h.Kind(), h.owner(), h.class(), h.page(), h.slot, h.Generation(), h.size)
}

// generations is shared by every allocator. Owner ids are recycled when an
// allocator closes, so a handle that outlives its allocator must not match a
// record of the allocator that inherits its id.
var generations atomic.Uint32

// newGen returns the next process-wide generation, skipping zero.
func newGen() uint32 {
	for {
		if g := generations.Add(1) & genMask; g != 0 {
			return g
		}
	}
}

func checkSize(op string, size int) error {
	if size <= 0 || uint64(size) > MaxSize {
		return eris.Wrapf(ErrInvalidSize, "%s of %d bytes", op, size)
	}
	return nil
}

// checksum16 folds the block coordinates of a heap allocation into the
// 16 checksum bits of a handle.
func checksum16(vals ...uint32) uint16 {
	x := uint32(2166136261)
	for _, v := range vals {
		x ^= v
		x *= 16777619
	}
	return uint16(x ^ x>>16)
}

func alignUp(n, a int) int {
	return (n + a - 1) &^ (a - 1)
}
