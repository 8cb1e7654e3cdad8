package depot

import (
	"iter"
)

var _ iCursor = &Cursor{}

func newCursor(query QueryNode, storage Storage) *Cursor {
	return &Cursor{
		query:   query,
		storage: storage,
	}
}

// WithAccess binds the cursor to a declaration. Column access outside it
// panics with ErrUndeclaredAccess.
func (c *Cursor) WithAccess(access Access) *Cursor {
	c.access = &access
	return c
}

// Next advances to the next matching entity. The storage stays locked from
// the first call until Next returns false or Reset is called.
func (c *Cursor) Next() bool {
	if !c.initialized {
		c.initialize()
	}
	for c.archetypeIndex < len(c.matched) {
		arch := c.matched[c.archetypeIndex]
		for c.chunkIndex < len(arch.chunks) {
			ch := arch.chunks[c.chunkIndex]
			if c.rowIndex < ch.count {
				c.currentArchetype = arch
				c.currentChunk = ch
				c.rowIndex++
				return true
			}
			c.chunkIndex++
			c.rowIndex = 0
		}
		c.archetypeIndex++
		c.chunkIndex = 0
	}
	c.Reset()
	return false
}

// Chunks yields every non-empty chunk of the matching archetypes.
func (c *Cursor) Chunks() iter.Seq[ChunkView] {
	return func(yield func(ChunkView) bool) {
		c.initialize()
		defer c.Reset()

		for _, arch := range c.matched {
			for _, ch := range arch.chunks {
				if ch.count == 0 {
					break
				}
				if !yield(ChunkView{chunk: ch, arch: arch, access: c.access}) {
					return
				}
			}
		}
	}
}

// Entities yields each matching entity with its row inside the chunk.
func (c *Cursor) Entities() iter.Seq2[int, Entity] {
	return func(yield func(int, Entity) bool) {
		for c.Next() {
			row := c.rowIndex - 1
			if !yield(row, c.CurrentEntity()) {
				c.Reset()
				return
			}
		}
	}
}

func (c *Cursor) initialize() {
	if c.initialized {
		return
	}
	c.storage.Lock()
	c.locked = true

	sto := c.storage.(*storage)
	c.matched = c.matched[:0]
	for _, arch := range sto.archetypes.asSlice {
		if arch.count > 0 && c.query.Evaluate(arch, c.storage) {
			c.matched = append(c.matched, arch)
		}
	}
	c.initialized = true
}

// Reset ends the iteration and releases the storage lock.
func (c *Cursor) Reset() {
	c.archetypeIndex = 0
	c.chunkIndex = 0
	c.rowIndex = 0
	c.currentArchetype = nil
	c.currentChunk = nil
	c.matched = c.matched[:0]
	c.initialized = false
	if c.locked {
		c.locked = false
		c.storage.Unlock()
	}
}

func (c *Cursor) CurrentEntity() Entity {
	return entity{
		sto: c.storage.(*storage),
		id:  c.currentChunk.ids[c.rowIndex-1],
	}
}

func (c *Cursor) RemainingInChunk() int {
	return c.currentChunk.count - c.rowIndex
}

// TotalMatched counts the entities the cursor will visit. It locks the
// storage like Next does, so call Reset when not iterating afterwards.
func (c *Cursor) TotalMatched() int {
	if !c.initialized {
		c.initialize()
	}
	total := 0
	for _, arch := range c.matched {
		total += arch.count
	}
	return total
}
