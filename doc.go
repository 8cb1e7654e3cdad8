/*
Package depot provides a columnar entity store built on handle-based
allocators.

Entities with the same set of component types share an archetype. An
archetype stores its entities in fixed-capacity chunks, one column per
component type, and every column lives in memory taken from an
alloc.Allocator rather than the Go heap. Entity ids are versioned: a
destroyed entity's id never resolves again, even after its slot is reused.

Core Concepts:

  - Entity: A versioned id that resolves to a row through the entity pool.
  - Component: A pointer-free Go type whose values are stored in columns.
  - Spec: The canonical, sorted set of component types of an archetype.
  - Chunk: A dense block of rows. Rows [0, Len) are always live.
  - Access: The read and write sets a unit of work declares up front.

Basic Usage:

	schema := table.Factory.NewSchema()
	storage, err := depot.Factory.NewStorage(schema)
	if err != nil {
		return err
	}
	defer storage.Close()

	position := depot.FactoryNewComponent[Position]()
	velocity := depot.FactoryNewComponent[Velocity]()

	entities, _ := storage.NewEntities(100, position, velocity)

	query := depot.Factory.NewQuery()
	cursor := depot.Factory.NewCursor(query.And(position, velocity), storage)
	cursor.WithAccess(depot.NewAccess().Read(velocity).Write(position))

	for chunk := range cursor.Chunks() {
		pos := position.Column(chunk)
		vel := velocity.ReadColumn(chunk)
		for i := range pos {
			pos[i].X += vel[i].X
			pos[i].Y += vel[i].Y
		}
	}

Structural changes requested while a cursor is iterating are rejected with
LockedStorageError; the Enqueue variants defer them until the cursor
finishes.
*/
package depot
