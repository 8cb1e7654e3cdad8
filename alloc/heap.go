package alloc

import (
	"encoding/binary"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// In-band block header, 32 bytes at the head of every block.
const (
	hdrMagic = 0
	hdrFlags = 4
	hdrCount = 8
	hdrPrev  = 12
	hdrNext  = 16
	hdrGen   = 20
	hdrSize  = 24

	heapMagic   uint32 = 0xB10C5AFE
	noLink      uint32 = ^uint32(0)
	flagUsed    uint32 = 1
	unit               = 16
	headerSize         = 32
	headerUnits        = headerSize / unit
)

var _ Allocator = &Heap{}

type heapPage struct {
	mem       []byte
	backing   Handle
	units     uint32
	freeUnits uint32
	live      int
}

func (p *heapPage) u32(block uint32, field int) uint32 {
	return binary.LittleEndian.Uint32(p.mem[int(block)*unit+field:])
}

func (p *heapPage) put(block uint32, field int, v uint32) {
	binary.LittleEndian.PutUint32(p.mem[int(block)*unit+field:], v)
}

func (p *heapPage) writeHeader(block, flags, count, prev, next, gen, size uint32) {
	p.put(block, hdrMagic, heapMagic)
	p.put(block, hdrFlags, flags)
	p.put(block, hdrCount, count)
	p.put(block, hdrPrev, prev)
	p.put(block, hdrNext, next)
	p.put(block, hdrGen, gen)
	p.put(block, hdrSize, size)
	p.put(block, hdrSize+4, 0)
}

func (p *heapPage) wipeHeader(block uint32) {
	off := int(block) * unit
	clear(p.mem[off : off+headerSize])
}

func (p *heapPage) used(block uint32) bool {
	return p.u32(block, hdrFlags)&flagUsed != 0
}

type heapClass struct {
	threshold int
	pageSize  int
	pages     []*heapPage
}

// BlockInfo describes one block of a heap page.
type BlockInfo struct {
	Offset int
	Units  int
	Used   bool
	Size   int
}

// HeapStats reports the state of a Heap.
type HeapStats struct {
	Pages         int
	BytesReserved int64
	BytesLive     int64
	Live          int
	TotalTakes    uint64
	TotalFrees    uint64
	PagesTrimmed  uint64
}

// Heap is a size-classed, first-fit allocator. Each class owns pages taken
// from a backing allocator and every page is a linked list of blocks in
// address order. Freed blocks coalesce with their free neighbours.
type Heap struct {
	id      uint16
	backing Allocator
	owned   bool
	classes []heapClass
	gen     uint32
	opts    options
	stats   HeapStats
	closed  bool
}

// NewHeap creates a heap whose pages come from backing. A nil backing makes
// the heap take pages from a private Dynamic allocator.
func NewHeap(backing Allocator, opts ...Option) (*Heap, error) {
	o := buildOptions(opts)
	if o.classes <= 0 || o.classes > MaxClasses {
		return nil, eris.Wrapf(ErrInvalidSize, "%d size classes, want 1..%d", o.classes, MaxClasses)
	}
	if o.classBase < unit || o.pageScale < 2 {
		return nil, eris.Wrapf(ErrInvalidSize, "class base %d, page scale %d", o.classBase, o.pageScale)
	}

	h := &Heap{backing: backing, opts: o}
	if h.backing == nil {
		d, err := NewDynamic(WithLogger(o.logger))
		if err != nil {
			return nil, err
		}
		h.backing = d
		h.owned = true
	}
	h.classes = make([]heapClass, o.classes)
	for i := range h.classes {
		threshold := alignUp(o.classBase, unit) << i
		h.classes[i] = heapClass{threshold: threshold, pageSize: threshold * o.pageScale}
	}

	id, err := register(h)
	if err != nil {
		if h.owned {
			h.backing.Close()
		}
		return nil, err
	}
	h.id = id
	return h, nil
}

func (h *Heap) Kind() Kind {
	return KindHeap
}

func (h *Heap) classFor(size int) int {
	for i := range h.classes {
		if size < h.classes[i].threshold {
			return i
		}
	}
	return len(h.classes) - 1
}

// Take returns a block of at least size bytes from the first class whose
// threshold exceeds size. Requests above the largest threshold get a
// dedicated page in the last class.
func (h *Heap) Take(size int) (Handle, error) {
	if h.closed {
		return Handle{}, eris.Wrap(ErrClosed, "heap take")
	}
	if err := checkSize("heap take", size); err != nil {
		return Handle{}, err
	}
	need := uint32(headerUnits + alignUp(size, unit)/unit)
	ci := h.classFor(size)
	class := &h.classes[ci]

	if size < class.threshold {
		for pi, p := range class.pages {
			if p == nil || p.freeUnits < need {
				continue
			}
			if block, ok := h.firstFit(p, need); ok {
				return h.claim(ci, pi, p, block, need, size), nil
			}
		}
	}

	pageSize := class.pageSize
	if bytes := int(need) * unit; bytes > pageSize {
		pageSize = bytes
	}
	pi, p, err := h.grow(ci, pageSize)
	if err != nil {
		return Handle{}, err
	}
	return h.claim(ci, pi, p, 0, need, size), nil
}

func (h *Heap) firstFit(p *heapPage, need uint32) (uint32, bool) {
	for block := uint32(0); block != noLink; block = p.u32(block, hdrNext) {
		if !p.used(block) && p.u32(block, hdrCount) >= need {
			return block, true
		}
	}
	return 0, false
}

func (h *Heap) grow(ci, pageSize int) (int, *heapPage, error) {
	class := &h.classes[ci]
	pi := -1
	for i, p := range class.pages {
		if p == nil {
			pi = i
			break
		}
	}
	if pi < 0 {
		if len(class.pages) >= MaxPages {
			return 0, nil, eris.Wrapf(ErrTooManyPages, "class %d holds %d pages", ci, MaxPages)
		}
		pi = len(class.pages)
		class.pages = append(class.pages, nil)
	}

	backing, err := h.backing.Take(pageSize)
	if err != nil {
		return 0, nil, eris.Wrapf(err, "heap page for class %d", ci)
	}
	units := uint32(pageSize / unit)
	p := &heapPage{
		mem:       h.backing.Bytes(backing)[:int(units)*unit],
		backing:   backing,
		units:     units,
		freeUnits: units,
	}
	p.writeHeader(0, 0, units, noLink, noLink, 0, 0)
	class.pages[pi] = p
	h.stats.Pages++
	h.stats.BytesReserved += int64(len(p.mem))

	h.opts.logger.Debug("heap page grown",
		zap.Int("class", ci),
		zap.Int("page", pi),
		zap.Int("bytes", len(p.mem)),
	)
	return pi, p, nil
}

// claim marks block used, splitting off the tail when it can hold a header
// and at least one unit.
func (h *Heap) claim(ci, pi int, p *heapPage, block, need uint32, size int) Handle {
	count := p.u32(block, hdrCount)
	if count-need >= headerUnits+1 {
		rest := block + need
		next := p.u32(block, hdrNext)
		p.writeHeader(rest, 0, count-need, block, next, 0, 0)
		if next != noLink {
			p.put(next, hdrPrev, rest)
		}
		p.put(block, hdrNext, rest)
		p.put(block, hdrCount, need)
		count = need
	}

	h.gen = newGen()
	p.put(block, hdrFlags, flagUsed)
	p.put(block, hdrGen, h.gen)
	p.put(block, hdrSize, uint32(size))
	p.freeUnits -= count
	p.live++

	h.stats.Live++
	h.stats.BytesLive += int64(count) * unit
	h.stats.TotalTakes++

	payload := int(block)*unit + headerSize
	return newHandle(addrOf(p.mem[payload:]), size, block, handleFields{
		kind:  KindHeap,
		class: ci,
		page:  pi,
		owner: h.id,
		gen:   h.gen,
		sum:   checksum16(uint32(ci), uint32(pi), block, h.gen),
	})
}

// resolve validates hd and returns the page and block it names. Headers of
// absorbed blocks are wiped, so a handle to one reads as stale.
func (h *Heap) resolve(hd Handle) (*heapPage, uint32) {
	if h.closed {
		violation(ErrStaleHandle, "%s: heap %d is closed", hd, h.id)
	}
	if hd.Kind() != KindHeap || hd.owner() != h.id {
		violation(ErrForeignHandle, "heap %d given %s", h.id, hd)
	}
	ci, pi, block := hd.class(), hd.page(), hd.slot
	if hd.checksum() != checksum16(uint32(ci), uint32(pi), block, hd.Generation()) {
		violation(ErrStaleHandle, "%s: checksum mismatch", hd)
	}
	if ci >= len(h.classes) || pi >= len(h.classes[ci].pages) || h.classes[ci].pages[pi] == nil {
		violation(ErrStaleHandle, "%s: no such page", hd)
	}
	p := h.classes[ci].pages[pi]
	if block+headerUnits > p.units {
		violation(ErrStaleHandle, "%s: block outside page", hd)
	}
	switch magic := p.u32(block, hdrMagic); magic {
	case heapMagic:
	case 0:
		violation(ErrStaleHandle, "%s: block was merged", hd)
	default:
		violation(ErrCorrupted, "%s: magic %#x", hd, magic)
	}
	gen := p.u32(block, hdrGen)
	if gen != hd.Generation() {
		violation(ErrStaleHandle, "%s: block generation is %d", hd, gen)
	}
	if !p.used(block) {
		violation(ErrDoubleFree, "%s", hd)
	}
	return p, block
}

func (h *Heap) checkMagic(p *heapPage, block uint32) {
	if magic := p.u32(block, hdrMagic); magic != heapMagic {
		violation(ErrCorrupted, "block at unit %d: magic %#x", block, magic)
	}
}

// Free releases the block behind hd and coalesces it with free neighbours,
// backward first and then forward.
func (h *Heap) Free(hd *Handle) {
	p, block := h.resolve(*hd)
	prev, next := p.u32(block, hdrPrev), p.u32(block, hdrNext)
	if prev != noLink {
		h.checkMagic(p, prev)
	}
	if next != noLink {
		h.checkMagic(p, next)
	}

	count := p.u32(block, hdrCount)
	if h.opts.thrash {
		off := int(block)*unit + headerSize
		thrash(p.mem[off : int(block+count)*unit])
	}
	p.put(block, hdrFlags, 0)
	p.put(block, hdrSize, 0)
	p.freeUnits += count
	p.live--

	h.stats.Live--
	h.stats.BytesLive -= int64(count) * unit
	h.stats.TotalFrees++

	if prev != noLink && !p.used(prev) {
		h.absorb(p, prev, block)
		block = prev
	}
	if next != noLink && !p.used(next) {
		h.absorb(p, block, next)
	}
	*hd = Handle{}
}

// absorb merges victim into the block directly before it.
func (h *Heap) absorb(p *heapPage, into, victim uint32) {
	p.put(into, hdrCount, p.u32(into, hdrCount)+p.u32(victim, hdrCount))
	next := p.u32(victim, hdrNext)
	p.put(into, hdrNext, next)
	if next != noLink {
		p.put(next, hdrPrev, into)
	}
	p.wipeHeader(victim)
}

// Transfer stamps a new generation on the block and reissues the handle.
func (h *Heap) Transfer(hd *Handle) Handle {
	p, block := h.resolve(*hd)
	h.gen = newGen()
	p.put(block, hdrGen, h.gen)
	ci, pi := hd.class(), hd.page()
	next := newHandle(hd.addr, hd.Size(), block, handleFields{
		kind:  KindHeap,
		class: ci,
		page:  pi,
		owner: h.id,
		gen:   h.gen,
		sum:   checksum16(uint32(ci), uint32(pi), block, h.gen),
	})
	*hd = Handle{}
	return next
}

func (h *Heap) Bytes(hd Handle) []byte {
	p, block := h.resolve(hd)
	off := int(block)*unit + headerSize
	size := int(p.u32(block, hdrSize))
	return p.mem[off : off+size : off+size]
}

// PageBlocks lists the blocks of one page in address order.
func (h *Heap) PageBlocks(class, page int) []BlockInfo {
	if class >= len(h.classes) || page >= len(h.classes[class].pages) {
		return nil
	}
	p := h.classes[class].pages[page]
	if p == nil {
		return nil
	}
	var blocks []BlockInfo
	for block := uint32(0); block != noLink; block = p.u32(block, hdrNext) {
		blocks = append(blocks, BlockInfo{
			Offset: int(block) * unit,
			Units:  int(p.u32(block, hdrCount)),
			Used:   p.used(block),
			Size:   int(p.u32(block, hdrSize)),
		})
	}
	return blocks
}

// Pages returns the number of live pages in a class.
func (h *Heap) Pages(class int) int {
	n := 0
	for _, p := range h.classes[class].pages {
		if p != nil {
			n++
		}
	}
	return n
}

// Validate walks every page and checks that block counts tile the page,
// links agree in both directions and no two free blocks are adjacent.
func (h *Heap) Validate() error {
	for ci := range h.classes {
		for pi, p := range h.classes[ci].pages {
			if p == nil {
				continue
			}
			if err := validatePage(p); err != nil {
				return eris.Wrapf(err, "class %d page %d", ci, pi)
			}
		}
	}
	return nil
}

func validatePage(p *heapPage) error {
	var (
		total, free uint32
		live        int
		prev        = noLink
		prevFree    bool
	)
	for block := uint32(0); block != noLink; block = p.u32(block, hdrNext) {
		if block != total {
			return eris.Wrapf(ErrCorrupted, "block at unit %d, expected %d", block, total)
		}
		if magic := p.u32(block, hdrMagic); magic != heapMagic {
			return eris.Wrapf(ErrCorrupted, "block at unit %d: magic %#x", block, magic)
		}
		if got := p.u32(block, hdrPrev); got != prev {
			return eris.Wrapf(ErrCorrupted, "block at unit %d: prev %d, expected %d", block, got, prev)
		}
		count := p.u32(block, hdrCount)
		if count < headerUnits || total+count > p.units {
			return eris.Wrapf(ErrCorrupted, "block at unit %d: count %d", block, count)
		}
		used := p.used(block)
		if !used && prevFree {
			return eris.Wrapf(ErrCorrupted, "adjacent free blocks at unit %d", block)
		}
		if used {
			live++
		} else {
			free += count
		}
		prevFree = !used
		prev = block
		total += count
	}
	if total != p.units {
		return eris.Wrapf(ErrCorrupted, "blocks cover %d of %d units", total, p.units)
	}
	if free != p.freeUnits || live != p.live {
		return eris.Wrapf(ErrCorrupted, "page accounting: %d free units, %d live", p.freeUnits, p.live)
	}
	return nil
}

// Trim returns fully free pages to the backing allocator, keeping the first
// page of each class.
func (h *Heap) Trim() {
	for ci := range h.classes {
		class := &h.classes[ci]
		for pi := 1; pi < len(class.pages); pi++ {
			p := class.pages[pi]
			if p == nil || p.live > 0 {
				continue
			}
			h.releasePage(ci, pi)
			h.stats.PagesTrimmed++
			h.opts.logger.Debug("heap page trimmed", zap.Int("class", ci), zap.Int("page", pi))
		}
		for n := len(class.pages); n > 1 && class.pages[n-1] == nil; n-- {
			class.pages = class.pages[:n-1]
		}
	}
}

func (h *Heap) releasePage(ci, pi int) {
	p := h.classes[ci].pages[pi]
	h.stats.Pages--
	h.stats.BytesReserved -= int64(len(p.mem))
	h.backing.Free(&p.backing)
	h.classes[ci].pages[pi] = nil
}

func (h *Heap) Stats() HeapStats {
	return h.stats
}

// Close returns every page to the backing allocator. Blocks still in use are
// logged and reported through a *LeakError.
func (h *Heap) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	defer unregister(h.id)

	var leaks []Leak
	for ci := range h.classes {
		for pi := len(h.classes[ci].pages) - 1; pi >= 0; pi-- {
			p := h.classes[ci].pages[pi]
			if p == nil {
				continue
			}
			for _, b := range h.PageBlocks(ci, pi) {
				if !b.Used {
					continue
				}
				leaks = append(leaks, Leak{Kind: KindHeap, Slot: uint32(b.Offset / unit), Size: b.Size})
				h.opts.logger.Warn("leaked allocation",
					zap.Stringer("kind", KindHeap),
					zap.Int("class", ci),
					zap.Int("page", pi),
					zap.Int("offset", b.Offset),
					zap.Int("size", b.Size),
				)
			}
			h.releasePage(ci, pi)
		}
	}
	var released error
	if h.owned {
		released = h.backing.Close()
	}
	return closeError("heap close", released, leaks)
}
