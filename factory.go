package depot

import "github.com/TheBitDrifter/table"

type factory struct{}

var Factory factory

// NewStorage creates a storage over schema. The first Config, if any, sizes it.
func (f factory) NewStorage(schema table.Schema, cfg ...Config) (Storage, error) {
	c := DefaultConfig()
	if len(cfg) > 0 {
		c = cfg[0]
	}
	return newStorage(schema, c)
}

func (f factory) NewQuery() Query {
	return newQuery()
}

func (f factory) NewCursor(query QueryNode, storage Storage) *Cursor {
	return newCursor(query, storage)
}

// FactoryNewComponent returns the component for T. It panics with
// ErrPointerComponent when T holds references of any kind.
func FactoryNewComponent[T any]() AccessibleComponent[T] {
	return AccessibleComponent[T]{ComponentType: componentTypeOf[T]()}
}

func FactoryNewCache[T any](cap int) Cache[T] {
	return &SimpleCache[T]{
		itemIndices: make(map[string]int),
		maxCapacity: cap,
	}
}
