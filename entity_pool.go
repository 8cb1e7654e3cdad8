package depot

import (
	"fmt"
	"slices"
	"unsafe"

	"github.com/TheBitDrifter/depot/alloc"
	"github.com/rotisserie/eris"
)

// EntityID packs a 24-bit slot index with an 8-bit generation. Index 0 is
// never issued, so the zero EntityID is never valid.
type EntityID uint32

const (
	entityIndexBits = 24
	entityIndexMask = 1<<entityIndexBits - 1

	// MaxEntities is the number of entities a storage can hold at once.
	MaxEntities = entityIndexMask

	poolPageSlots = 4096
)

func newEntityID(index uint32, gen uint8) EntityID {
	return EntityID(uint32(gen)<<entityIndexBits | index&entityIndexMask)
}

func (id EntityID) Index() uint32     { return uint32(id) & entityIndexMask }
func (id EntityID) Generation() uint8 { return uint8(id >> entityIndexBits) }
func (id EntityID) IsZero() bool      { return id == 0 }

func (id EntityID) String() string {
	return fmt.Sprintf("Entity(%d@%d)", id.Index(), id.Generation())
}

// Location is where an entity's row lives.
type Location struct {
	Archetype uint32
	Chunk     uint32
	Row       uint32
}

// poolSlot is stored in allocator memory and must stay pointer free.
type poolSlot struct {
	gen  uint8
	live bool
	_    [2]byte
	loc  Location
}

type poolPage struct {
	handle alloc.Handle
	slots  []poolSlot
}

// entityPool issues versioned ids and maps them to row locations.
type entityPool struct {
	ledger *ledger
	pages  []*poolPage
	free   []uint32
	next   uint32
	live   int
}

func newEntityPool(l *ledger) *entityPool {
	return &entityPool{ledger: l, next: 1}
}

func (p *entityPool) capacity() uint32 {
	return uint32(len(p.pages)) * poolPageSlots
}

// reserve pages ahead so that n more ids can be taken without allocating.
func (p *entityPool) reserve(n int) error {
	fresh := n - len(p.free)
	if fresh <= 0 {
		return nil
	}
	if int(p.next)+fresh-1 > MaxEntities {
		return eris.Wrapf(ErrEntityLimit, "%d live, %d requested", p.live, n)
	}
	for int(p.capacity()) < int(p.next)+fresh {
		page := &poolPage{}
		mem, err := p.ledger.take(&page.handle, poolPageSlots*int(unsafe.Sizeof(poolSlot{})))
		if err != nil {
			return eris.Wrap(err, "entity pool page")
		}
		page.slots = unsafe.Slice((*poolSlot)(unsafe.Pointer(unsafe.SliceData(mem))), poolPageSlots)
		clear(page.slots)
		p.pages = append(p.pages, page)
	}
	return nil
}

func (p *entityPool) slot(index uint32) *poolSlot {
	return &p.pages[index/poolPageSlots].slots[index%poolPageSlots]
}

func (p *entityPool) take() (EntityID, error) {
	if err := p.reserve(1); err != nil {
		return 0, err
	}
	var index uint32
	if n := len(p.free); n > 0 {
		index = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		index = p.next
		p.next++
	}
	s := p.slot(index)
	s.gen++
	s.live = true
	p.live++
	return newEntityID(index, s.gen), nil
}

// takeMany appends n fresh ids to out, paging ahead once.
func (p *entityPool) takeMany(n int, out []EntityID) ([]EntityID, error) {
	if err := p.reserve(n); err != nil {
		return out, err
	}
	for i := 0; i < n; i++ {
		id, err := p.take()
		if err != nil {
			return out, err
		}
		out = append(out, id)
	}
	return out, nil
}

func (p *entityPool) lookup(id EntityID) (*poolSlot, bool) {
	index := id.Index()
	if index == 0 || index >= p.next {
		return nil, false
	}
	s := p.slot(index)
	if !s.live || s.gen != id.Generation() {
		return nil, false
	}
	return s, true
}

// get returns the live slot of id and panics with ErrStaleEntity otherwise.
func (p *entityPool) get(id EntityID) *poolSlot {
	s, ok := p.lookup(id)
	if !ok {
		violation(ErrStaleEntity, "%s", id)
	}
	return s
}

func (p *entityPool) isValid(id EntityID) bool {
	_, ok := p.lookup(id)
	return ok
}

// releaseMany returns ids to the free list, growing it once. Each id is
// handed to onRelease while it is still live so its row can be dropped.
func (p *entityPool) releaseMany(ids []EntityID, onRelease func(EntityID)) {
	p.free = slices.Grow(p.free, len(ids))
	for _, id := range ids {
		onRelease(id)
		p.release(id)
	}
}

// release frees id's slot. The generation moves on the next take, so every
// value of the 8 bits is used before an id repeats.
func (p *entityPool) release(id EntityID) {
	s := p.get(id)
	*s = poolSlot{gen: s.gen}
	p.free = append(p.free, id.Index())
	p.live--
}
