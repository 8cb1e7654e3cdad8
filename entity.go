package depot

import (
	iter_util "github.com/TheBitDrifter/util/iter"
)

var _ Entity = entity{}

// entity is a handle onto a row. It stays valid across moves because rows
// are resolved through the entity pool on every access.
type entity struct {
	sto *storage
	id  EntityID
}

func (e entity) ID() EntityID { return e.id }

func (e entity) Valid() bool {
	return e.sto.pool.isValid(e.id)
}

func (e entity) Storage() Storage { return e.sto }

// Location returns the archetype, chunk and row currently holding the entity.
func (e entity) Location() Location {
	return e.sto.pool.get(e.id).loc
}

func (e entity) archetype() *archetype {
	return e.sto.archetypes.asSlice[e.Location().Archetype-1]
}

func (e entity) Spec() *Spec {
	return e.archetype().spec
}

func (e entity) Components() []Component {
	types := iter_util.Collect(e.Spec().All())
	components := make([]Component, len(types))
	for i, t := range types {
		components[i] = t
	}
	return components
}

func (e entity) AddComponent(c Component) error {
	return e.AddComponents(c)
}

// AddComponents moves the entity to the archetype that also holds
// components. The new components start zeroed and existing values are kept.
func (e entity) AddComponents(components ...Component) error {
	if e.sto.Locked() {
		return LockedStorageError{}
	}
	from := e.archetype()
	destMask := from.mask
	for _, c := range components {
		if from.spec.Contains(c) {
			return ComponentExistsError{Component: c}
		}
		destMask.Mark(e.sto.RowIndexFor(c))
	}
	to, err := e.sto.archetypeForMask(destMask, func() TypeSet {
		return from.spec.types.with(NewTypeSet(components...))
	})
	if err != nil {
		return err
	}
	return e.sto.moveEntity(e.id, from, to)
}

func (e entity) RemoveComponent(c Component) error {
	return e.RemoveComponents(c)
}

func (e entity) RemoveComponents(components ...Component) error {
	if e.sto.Locked() {
		return LockedStorageError{}
	}
	from := e.archetype()
	destMask := from.mask
	for _, c := range components {
		if !from.spec.Contains(c) {
			return ComponentNotFoundError{Component: c}
		}
		destMask.Unmark(e.sto.RowIndexFor(c))
	}
	to, err := e.sto.archetypeForMask(destMask, func() TypeSet {
		return from.spec.types.without(NewTypeSet(components...))
	})
	if err != nil {
		return err
	}
	return e.sto.moveEntity(e.id, from, to)
}

// ResetComponents zeroes the values of components in place.
func (e entity) ResetComponents(components ...Component) error {
	loc := e.Location()
	arch := e.sto.archetypes.asSlice[loc.Archetype-1]
	for _, c := range components {
		idx, ok := arch.spec.ComponentIndex(c)
		if !ok {
			return ComponentNotFoundError{Component: c}
		}
		if col := arch.column(loc, idx); col.typ.size > 0 {
			clear(col.row(int(loc.Row)))
		}
	}
	return nil
}

func (e entity) EnqueueAddComponent(c Component) error {
	if !e.sto.Locked() {
		return e.AddComponent(c)
	}
	e.sto.opQueue.EnqueueComponentOp(opAddComponent, e.id, c)
	return nil
}

func (e entity) EnqueueRemoveComponent(c Component) error {
	if !e.sto.Locked() {
		return e.RemoveComponent(c)
	}
	e.sto.opQueue.EnqueueComponentOp(opRemoveComponent, e.id, c)
	return nil
}
