package depot

import (
	"iter"

	"github.com/TheBitDrifter/mask"
	"go.uber.org/zap"
)

type archetypeID uint32

// archetype stores every entity of one spec. Its rows are packed: all chunks
// before the last non-empty one are full, and an empty trailing chunk is kept
// for reuse.
type archetype struct {
	id     archetypeID
	spec   *Spec
	mask   mask.Mask
	chunks []*chunk
	count  int
	sto    *storage
}

func (a *archetype) ID() uint32      { return uint32(a.id) }
func (a *archetype) Spec() *Spec     { return a.spec }
func (a *archetype) Mask() mask.Mask { return a.mask }
func (a *archetype) Len() int        { return a.count }

func (a *archetype) Chunks() iter.Seq[ChunkView] {
	return func(yield func(ChunkView) bool) {
		for _, c := range a.chunks {
			if c.count == 0 {
				return
			}
			if !yield(ChunkView{chunk: c, arch: a}) {
				return
			}
		}
	}
}

// reserve makes sure n more rows fit without allocating.
func (a *archetype) reserve(n int) error {
	capacity := a.sto.cfg.ChunkCapacity
	for len(a.chunks)*capacity < a.count+n {
		c, err := newChunk(&a.sto.ledger, a.spec, len(a.chunks), capacity)
		if err != nil {
			return err
		}
		a.chunks = append(a.chunks, c)
		a.sto.logger.Debug("chunk allocated",
			zap.Uint32("archetype", uint32(a.id)),
			zap.Int("chunk", c.index),
			zap.Int("rows", capacity),
			zap.Int("bytes", capacity*(a.spec.size+4)),
		)
	}
	return nil
}

// push appends id as a zeroed row. Capacity must have been reserved.
func (a *archetype) push(id EntityID) Location {
	c := a.chunks[a.count/a.sto.cfg.ChunkCapacity]
	row := c.push(id)
	a.count++
	return Location{Archetype: uint32(a.id), Chunk: uint32(c.index), Row: uint32(row)}
}

// remove deletes the row at loc by moving the archetype's last row into it.
// It returns the id of the entity that moved, if any.
func (a *archetype) remove(loc Location) (EntityID, bool) {
	last := a.chunks[(a.count-1)/a.sto.cfg.ChunkCapacity]
	lastRow := last.count - 1
	hole := a.chunks[loc.Chunk]
	row := int(loc.Row)

	var moved EntityID
	filled := hole != last || row != lastRow
	if filled {
		copyRow(hole, row, last, lastRow)
		moved = hole.ids[row]
	}
	last.zeroRow(lastRow)
	last.ids[lastRow] = 0
	last.count--
	a.count--
	return moved, filled
}

func (a *archetype) column(loc Location, idx int) *column {
	return &a.chunks[loc.Chunk].columns[idx]
}
