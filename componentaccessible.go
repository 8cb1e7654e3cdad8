package depot

import (
	"unsafe"
)

// zerobase backs columns of zero-sized components.
var zerobase [Alignment]byte

// Alignment is the largest component alignment the storage guarantees.
const Alignment = 16

func typedRow[T any](col *column, row int) *T {
	if col.typ.size == 0 {
		return (*T)(unsafe.Pointer(&zerobase))
	}
	return (*T)(unsafe.Pointer(&col.data[row*int(col.typ.size)]))
}

func typedColumn[T any](col *column, n int) []T {
	if col.typ.size == 0 {
		return unsafe.Slice((*T)(unsafe.Pointer(&zerobase)), n)
	}
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(col.data))), n)
}

// locate resolves the column of c for the entity and panics with
// ErrSpecMismatch when the entity's spec lacks c.
func (c AccessibleComponent[T]) locate(en Entity) (*column, int) {
	e := en.(entity)
	loc := e.Location()
	arch := e.sto.archetypes.asSlice[loc.Archetype-1]
	idx, ok := arch.spec.ComponentIndex(c)
	if !ok {
		violation(ErrSpecMismatch, "%s has no %s", e.id, c.name)
	}
	return arch.column(loc, idx), int(loc.Row)
}

// GetFromEntity returns a pointer to the entity's value. The pointer is only
// good until the next structural change to the storage.
func (c AccessibleComponent[T]) GetFromEntity(en Entity) *T {
	col, row := c.locate(en)
	return typedRow[T](col, row)
}

// CheckEntity reports whether the entity holds c.
func (c AccessibleComponent[T]) CheckEntity(en Entity) bool {
	return en.Spec().Contains(c)
}

// GetFromCursor returns the value for the entity at the cursor position.
func (c AccessibleComponent[T]) GetFromCursor(cursor *Cursor) *T {
	checkWrite(cursor.access, c)
	idx, ok := cursor.currentArchetype.spec.ComponentIndex(c)
	if !ok {
		violation(ErrSpecMismatch, "archetype %d has no %s", cursor.currentArchetype.id, c.name)
	}
	return typedRow[T](&cursor.currentChunk.columns[idx], cursor.rowIndex-1)
}

// GetFromCursorSafe reports whether the current archetype holds c and returns
// the value if it does.
func (c AccessibleComponent[T]) GetFromCursorSafe(cursor *Cursor) (bool, *T) {
	if !c.CheckCursor(cursor) {
		return false, nil
	}
	return true, c.GetFromCursor(cursor)
}

// CheckCursor determines if the component exists in the archetype at the cursor position.
func (c AccessibleComponent[T]) CheckCursor(cursor *Cursor) bool {
	return cursor.currentArchetype.spec.Contains(c)
}

func (c AccessibleComponent[T]) viewColumn(view ChunkView) *column {
	idx, ok := view.arch.spec.ComponentIndex(c)
	if !ok {
		violation(ErrSpecMismatch, "archetype %d has no %s", view.arch.id, c.name)
	}
	return &view.chunk.columns[idx]
}

// Column returns the chunk's values of c for writing, without copying.
func (c AccessibleComponent[T]) Column(view ChunkView) []T {
	checkWrite(view.access, c)
	return typedColumn[T](c.viewColumn(view), view.Len())
}

// ReadColumn returns the chunk's values of c. The holder must not write them.
func (c AccessibleComponent[T]) ReadColumn(view ChunkView) []T {
	checkRead(view.access, c)
	return typedColumn[T](c.viewColumn(view), view.Len())
}

// Assign adds c to the entity if it is missing and stores value.
func (c AccessibleComponent[T]) Assign(en Entity, value T) error {
	if !en.Spec().Contains(c) {
		if err := en.AddComponent(c); err != nil {
			return err
		}
	}
	*c.GetFromEntity(en) = value
	return nil
}

// Replace overwrites the value of a component the entity already holds.
func (c AccessibleComponent[T]) Replace(en Entity, value T) error {
	if !en.Spec().Contains(c) {
		return ComponentNotFoundError{Component: c}
	}
	*c.GetFromEntity(en) = value
	return nil
}

// AssignMany adds c to every entity that lacks it and stores value on all of
// them.
func (c AccessibleComponent[T]) AssignMany(entities []Entity, value T) error {
	if len(entities) == 0 {
		return nil
	}
	if err := entities[0].Storage().AssignMany(entities, c); err != nil {
		return err
	}
	for _, en := range entities {
		*c.GetFromEntity(en) = value
	}
	return nil
}
