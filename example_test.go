package depot_test

import (
	"fmt"

	"github.com/TheBitDrifter/depot"
	"github.com/TheBitDrifter/table"
)

// Position is a simple component for 2D coordinates
type Position struct {
	X float64
	Y float64
}

// Velocity is a simple component for 2D movement
type Velocity struct {
	X float64
	Y float64
}

// Tag identifies an entity. Components hold no pointers, so identifiers are
// plain numbers rather than strings.
type Tag struct {
	Value uint32
}

// Example shows basic storage usage with entity creation and queries
func Example_basic() {
	storage, err := depot.Factory.NewStorage(table.Factory.NewSchema())
	if err != nil {
		panic(err)
	}
	defer storage.Close()

	position := depot.FactoryNewComponent[Position]()
	velocity := depot.FactoryNewComponent[Velocity]()
	tag := depot.FactoryNewComponent[Tag]()

	storage.NewEntities(5, position)
	storage.NewEntities(3, position, velocity)

	entities, _ := storage.NewEntities(1, position, velocity, tag)
	tag.GetFromEntity(entities[0]).Value = 7

	pos := position.GetFromEntity(entities[0])
	vel := velocity.GetFromEntity(entities[0])
	pos.X, pos.Y = 10.0, 20.0
	vel.X, vel.Y = 1.0, 2.0

	queryNode := depot.Factory.NewQuery().And(position, velocity)
	cursor := depot.Factory.NewCursor(queryNode, storage)

	matchCount := 0
	for cursor.Next() {
		matchCount++
	}
	fmt.Printf("Found %d entities with position and velocity\n", matchCount)

	cursor = depot.Factory.NewCursor(depot.Factory.NewQuery().And(tag), storage)
	for cursor.Next() {
		pos := position.GetFromCursor(cursor)
		vel := velocity.GetFromCursor(cursor)
		pos.X += vel.X
		pos.Y += vel.Y
		fmt.Printf("Updated entity %d to position (%.1f, %.1f)\n", tag.GetFromCursor(cursor).Value, pos.X, pos.Y)
	}

	// Output:
	// Found 4 entities with position and velocity
	// Updated entity 7 to position (11.0, 22.0)
}

// Example_queries shows how to use different query operations
func Example_queries() {
	storage, err := depot.Factory.NewStorage(table.Factory.NewSchema())
	if err != nil {
		panic(err)
	}
	defer storage.Close()

	position := depot.FactoryNewComponent[Position]()
	velocity := depot.FactoryNewComponent[Velocity]()
	tag := depot.FactoryNewComponent[Tag]()

	storage.NewEntities(3, position)
	storage.NewEntities(3, position, velocity)
	storage.NewEntities(3, position, tag)
	storage.NewEntities(3, position, velocity, tag)

	count := func(node depot.QueryNode) int {
		cursor := depot.Factory.NewCursor(node, storage)
		defer cursor.Reset()
		return cursor.TotalMatched()
	}

	query := depot.Factory.NewQuery()
	fmt.Printf("AND query matched %d entities\n", count(query.And(position, velocity)))
	fmt.Printf("OR query matched %d entities\n", count(query.Or(velocity, tag)))
	fmt.Printf("NOT query matched %d entities\n", count(query.And(position, query.Not(velocity))))

	// Output:
	// AND query matched 6 entities
	// OR query matched 9 entities
	// NOT query matched 6 entities
}

// Example_chunks walks matching chunks column by column under a declared
// access set.
func Example_chunks() {
	storage, err := depot.Factory.NewStorage(table.Factory.NewSchema(), depot.Config{ChunkCapacity: 64})
	if err != nil {
		panic(err)
	}
	defer storage.Close()

	position := depot.FactoryNewComponent[Position]()
	velocity := depot.FactoryNewComponent[Velocity]()

	entities, _ := storage.NewEntities(100, position)
	velocity.AssignMany(entities, Velocity{X: 1, Y: 0.5})

	access := depot.NewAccess().Read(velocity).Write(position)
	cursor := depot.Factory.NewCursor(depot.Factory.NewQuery().And(position, velocity), storage).WithAccess(access)
	for chunk := range cursor.Chunks() {
		pos := position.Column(chunk)
		vel := velocity.ReadColumn(chunk)
		for i := range pos {
			pos[i].X += vel[i].X
			pos[i].Y += vel[i].Y
		}
		fmt.Printf("chunk %d: %d rows\n", chunk.Index(), chunk.Len())
	}
	fmt.Println(*position.GetFromEntity(entities[99]))

	// Output:
	// chunk 0: 64 rows
	// chunk 1: 36 rows
	// {1 0.5}
}
