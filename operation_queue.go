package depot

import (
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

type operation struct {
	typ    operationType
	amount int
	comps  []Component
	ids    []EntityID
}

type operationType int

const (
	opNone operationType = iota - 1
	opCreate
	opDestroy
	opAddComponent
	opRemoveComponent
)

// opQueue holds structural changes requested while the storage is locked.
// They are replayed on unlock: creates, then component changes in request
// order, then destroys.
type opQueue struct {
	createOps      []operation
	componentOps   []operation
	destroyOps     []operation
	pendingDestroy map[EntityID]struct{}
	pendingMods    map[EntityID][]int
}

func newOpQueue() opQueue {
	return opQueue{
		pendingDestroy: make(map[EntityID]struct{}),
		pendingMods:    make(map[EntityID][]int),
	}
}

func (q *opQueue) enqueueOp(op operation) {
	switch op.typ {
	case opCreate:
		q.createOps = append(q.createOps, op)
	case opDestroy:
		q.destroyOps = append(q.destroyOps, op)
	case opAddComponent, opRemoveComponent:
		q.componentOps = append(q.componentOps, op)
	}
}

func (q *opQueue) empty() bool {
	return len(q.createOps) == 0 &&
		len(q.componentOps) == 0 &&
		len(q.destroyOps) == 0
}

func (q *opQueue) reset() {
	q.createOps = q.createOps[:0]
	q.componentOps = q.componentOps[:0]
	q.destroyOps = q.destroyOps[:0]
	clear(q.pendingDestroy)
	clear(q.pendingMods)
}

func (sto *storage) processOperationQueue() error {
	q := &sto.opQueue
	if q.empty() {
		return nil
	}
	defer q.reset()

	for _, op := range q.createOps {
		if _, err := sto.NewEntities(op.amount, op.comps...); err != nil {
			return eris.Wrap(err, "queued entity creation")
		}
	}

	for _, op := range q.componentOps {
		id := op.ids[0]
		if op.typ == opNone || !sto.Valid(id) {
			continue
		}
		en := entity{sto: sto, id: id}
		var err error
		switch op.typ {
		case opAddComponent:
			err = en.AddComponents(op.comps...)
		case opRemoveComponent:
			err = en.RemoveComponents(op.comps...)
		}
		// A queued change that is already in effect is not an error.
		var exists ComponentExistsError
		var missing ComponentNotFoundError
		if errors.As(err, &exists) || errors.As(err, &missing) {
			sto.logger.Debug("queued component change skipped", zap.Stringer("entity", id), zap.Error(err))
			continue
		}
		if err != nil {
			return eris.Wrapf(err, "queued component change on %s", id)
		}
	}

	for _, op := range q.destroyOps {
		entities := make([]Entity, 0, len(op.ids))
		for _, id := range op.ids {
			if sto.Valid(id) {
				entities = append(entities, entity{sto: sto, id: id})
			}
		}
		if err := sto.DestroyEntities(entities...); err != nil {
			return eris.Wrap(err, "queued entity destruction")
		}
	}
	return nil
}

func (q *opQueue) EnqueueDestroy(entities []Entity) {
	var ids []EntityID
	for _, en := range entities {
		if en == nil {
			continue
		}
		id := en.ID()
		if _, exists := q.pendingDestroy[id]; exists {
			continue
		}
		ids = append(ids, id)
		q.pendingDestroy[id] = struct{}{}

		// Component changes on a doomed entity are dropped.
		for _, idx := range q.pendingMods[id] {
			q.componentOps[idx].typ = opNone
		}
		delete(q.pendingMods, id)
	}
	if len(ids) > 0 {
		q.enqueueOp(operation{typ: opDestroy, ids: ids})
	}
}

func (q *opQueue) EnqueueComponentOp(typ operationType, id EntityID, comp Component) {
	if _, doomed := q.pendingDestroy[id]; doomed {
		return
	}
	q.pendingMods[id] = append(q.pendingMods[id], len(q.componentOps))
	q.enqueueOp(operation{
		typ:   typ,
		ids:   []EntityID{id},
		comps: []Component{comp},
	})
}
