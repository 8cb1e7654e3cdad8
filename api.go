package depot

import (
	"iter"

	"github.com/TheBitDrifter/mask"
)

type Storage interface {
	Entity(id EntityID) (Entity, error)
	Valid(id EntityID) bool
	NewEntity(...Component) (Entity, error)
	NewEntities(int, ...Component) ([]Entity, error)
	EnqueueNewEntities(int, ...Component) error
	DestroyEntities(...Entity) error
	EnqueueDestroyEntities(...Entity) error
	AssignMany([]Entity, ...Component) error
	RemoveMany([]Entity, ...Component) error
	Spec(...Component) (*Spec, error)
	ComponentIndex(*Spec, Component) (int, bool)
	Archetypes() iter.Seq[Archetype]
	RowIndexFor(Component) uint32
	Len() int
	Locked() bool
	Lock()
	Unlock()
	Close() error
}

type Entity interface {
	ID() EntityID
	Valid() bool
	Location() Location
	Spec() *Spec
	Components() []Component
	Storage() Storage
	AddComponent(Component) error
	AddComponents(...Component) error
	RemoveComponent(Component) error
	RemoveComponents(...Component) error
	ResetComponents(...Component) error
	EnqueueAddComponent(Component) error
	EnqueueRemoveComponent(Component) error
}

type Archetype interface {
	ID() uint32
	Spec() *Spec
	Mask() mask.Mask
	Len() int
	Chunks() iter.Seq[ChunkView]
}

type Query interface {
	QueryNode
	And(items ...interface{}) QueryNode
	Or(items ...interface{}) QueryNode
	Not(items ...interface{}) QueryNode
}

type QueryNode interface {
	Evaluate(archetype Archetype, storage Storage) bool
}

type iCursor interface {
	Entities() iter.Seq2[int, Entity]
	Chunks() iter.Seq[ChunkView]
	Next() bool
}

type Cache[T any] interface {
	GetIndex(string) (int, bool)
	GetItem(int) *T
	GetItem32(uint32) *T
	Register(string, T) (int, error)
	Len() int
	Clear()
}

type Cursor struct {
	// The query to filter archetypes
	query QueryNode

	// The storage to iterate over
	storage Storage

	// Columns the holder may touch, nil for unrestricted
	access *Access

	// Current iteration state
	currentArchetype *archetype
	currentChunk     *chunk
	archetypeIndex   int
	chunkIndex       int
	rowIndex         int

	// Initialization state
	initialized bool
	locked      bool
	matched     []*archetype
}

// AccessibleComponent is a Component with typed access to its values.
type AccessibleComponent[T any] struct {
	ComponentType
}

type CacheLocation struct {
	Key   string
	Index uint32
}

type SimpleCache[T any] struct {
	items       []T
	itemIndices map[string]int
	maxCapacity int
}
