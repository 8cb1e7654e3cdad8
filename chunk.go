package depot

import (
	"unsafe"

	"github.com/TheBitDrifter/depot/alloc"
	"github.com/rotisserie/eris"
)

// DefaultChunkCapacity is the number of rows per chunk.
const DefaultChunkCapacity = 4096

type column struct {
	typ    ComponentType
	handle alloc.Handle
	data   []byte
}

func (col *column) row(i int) []byte {
	size := int(col.typ.size)
	return col.data[i*size : (i+1)*size : (i+1)*size]
}

// chunk is a fixed-capacity block of rows stored as one column per component
// type plus an id column. Rows [0, count) are live.
type chunk struct {
	index     int
	count     int
	cap       int
	idsHandle alloc.Handle
	ids       []EntityID
	columns   []column
}

func newChunk(l *ledger, spec *Spec, index, capacity int) (*chunk, error) {
	c := &chunk{
		index:   index,
		cap:     capacity,
		columns: make([]column, len(spec.types)),
	}
	mem, err := l.take(&c.idsHandle, capacity*int(unsafe.Sizeof(EntityID(0))))
	if err != nil {
		return nil, eris.Wrap(err, "chunk id column")
	}
	c.ids = unsafe.Slice((*EntityID)(unsafe.Pointer(unsafe.SliceData(mem))), capacity)

	for i, typ := range spec.types {
		col := &c.columns[i]
		col.typ = typ
		if typ.size == 0 {
			continue
		}
		col.data, err = l.take(&col.handle, capacity*int(typ.size))
		if err != nil {
			return nil, eris.Wrapf(err, "chunk column %s", typ.name)
		}
	}
	return c, nil
}

func (c *chunk) full() bool {
	return c.count == c.cap
}

// push appends id as a zeroed row and returns the row index.
func (c *chunk) push(id EntityID) int {
	row := c.count
	c.ids[row] = id
	c.zeroRow(row)
	c.count++
	return row
}

func (c *chunk) zeroRow(row int) {
	for i := range c.columns {
		if c.columns[i].typ.size > 0 {
			clear(c.columns[i].row(row))
		}
	}
}

// copyRow copies every column of src's row into dst's row. Both chunks
// must share a spec.
func copyRow(dst *chunk, dstRow int, src *chunk, srcRow int) {
	for i := range dst.columns {
		if dst.columns[i].typ.size > 0 {
			copy(dst.columns[i].row(dstRow), src.columns[i].row(srcRow))
		}
	}
	dst.ids[dstRow] = src.ids[srcRow]
}

// ChunkView exposes the live rows of one chunk for column access.
type ChunkView struct {
	chunk  *chunk
	arch   *archetype
	access *Access
}

// Len is the number of live rows.
func (v ChunkView) Len() int { return v.chunk.count }

// IDs returns the entity id of each live row.
func (v ChunkView) IDs() []EntityID { return v.chunk.ids[:v.chunk.count:v.chunk.count] }

func (v ChunkView) Spec() *Spec { return v.arch.spec }

// Index is the position of the chunk within its archetype.
func (v ChunkView) Index() int { return v.chunk.index }
