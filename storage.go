package depot

import (
	"iter"
	"sync"

	"github.com/TheBitDrifter/depot/alloc"
	"github.com/TheBitDrifter/mask"
	"github.com/TheBitDrifter/table"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

var _ Storage = &storage{}

type storage struct {
	lockMu sync.Mutex
	locks  int

	schemaMu   sync.Mutex
	rowIndices map[TypeID]uint32

	closed     bool
	cfg        Config
	logger     *zap.Logger
	schema     table.Schema
	archetypes *archetypes
	opQueue    opQueue
	pool       *entityPool
	ledger     ledger
	owned      alloc.Allocator
}

type archetypes struct {
	nextID           archetypeID
	asSlice          []*archetype
	idsGroupedByMask map[mask.Mask]archetypeID
	idsGroupedBySpec map[SpecID][]archetypeID
}

func newStorage(schema table.Schema, cfg Config) (*storage, error) {
	cfg = cfg.withDefaults()
	sto := &storage{
		cfg:    cfg,
		logger: cfg.Logger,
		schema: schema,
		archetypes: &archetypes{
			nextID:           1,
			idsGroupedByMask: make(map[mask.Mask]archetypeID),
			idsGroupedBySpec: make(map[SpecID][]archetypeID),
		},
		opQueue:    newOpQueue(),
		rowIndices: make(map[TypeID]uint32),
	}
	if cfg.Allocator == nil {
		d, err := alloc.NewDynamic(alloc.WithLogger(cfg.Logger))
		if err != nil {
			return nil, eris.Wrap(err, "storage allocator")
		}
		sto.cfg.Allocator = d
		sto.owned = d
	}
	sto.ledger.allocator = sto.cfg.Allocator
	sto.pool = newEntityPool(&sto.ledger)
	return sto, nil
}

func (sto *storage) Entity(id EntityID) (Entity, error) {
	if !sto.pool.isValid(id) {
		return nil, eris.Wrapf(ErrStaleEntity, "%s", id)
	}
	return entity{sto: sto, id: id}, nil
}

func (sto *storage) Valid(id EntityID) bool {
	return sto.pool.isValid(id)
}

func (sto *storage) NewEntity(components ...Component) (Entity, error) {
	entities, err := sto.NewEntities(1, components...)
	if err != nil {
		return nil, err
	}
	return entities[0], nil
}

// NewEntities creates n entities with zeroed components, BatchSize at a time.
func (sto *storage) NewEntities(n int, components ...Component) ([]Entity, error) {
	if sto.closed {
		return nil, ErrClosed
	}
	if sto.Locked() {
		return nil, LockedStorageError{}
	}
	arch, err := sto.archetypeFor(NewTypeSet(components...))
	if err != nil {
		return nil, err
	}

	entities := make([]Entity, 0, n)
	ids := make([]EntityID, 0, min(n, sto.cfg.BatchSize))
	for done := 0; done < n; {
		batch := min(sto.cfg.BatchSize, n-done)
		if err := arch.reserve(batch); err != nil {
			return entities, err
		}
		ids, err = sto.pool.takeMany(batch, ids[:0])
		if err != nil {
			return entities, err
		}
		for _, id := range ids {
			sto.pool.get(id).loc = arch.push(id)
			entities = append(entities, entity{sto: sto, id: id})
		}
		done += batch
	}
	return entities, nil
}

func (sto *storage) EnqueueNewEntities(n int, components ...Component) error {
	if !sto.Locked() {
		_, err := sto.NewEntities(n, components...)
		return err
	}
	sto.opQueue.enqueueOp(operation{
		typ:    opCreate,
		amount: n,
		comps:  components,
	})
	return nil
}

// DestroyEntities removes entities and recycles their ids. Destroying an
// entity that is no longer valid is a contract violation.
func (sto *storage) DestroyEntities(entities ...Entity) error {
	if sto.Locked() {
		return LockedStorageError{}
	}
	ids := make([]EntityID, 0, len(entities))
	for _, en := range entities {
		if en != nil {
			ids = append(ids, en.ID())
		}
	}
	sto.pool.releaseMany(ids, sto.removeRow)
	return nil
}

// removeRow deletes id's row and repoints the entity that filled the hole.
func (sto *storage) removeRow(id EntityID) {
	loc := sto.pool.get(id).loc
	arch := sto.archetypes.asSlice[loc.Archetype-1]
	if moved, ok := arch.remove(loc); ok {
		sto.pool.get(moved).loc = loc
	}
}

func (sto *storage) EnqueueDestroyEntities(entities ...Entity) error {
	if !sto.Locked() {
		return sto.DestroyEntities(entities...)
	}
	sto.opQueue.EnqueueDestroy(entities)
	return nil
}

// AssignMany adds components to every entity, BatchSize entities at a time.
// Entities that already hold all of them are left untouched.
func (sto *storage) AssignMany(entities []Entity, components ...Component) error {
	add := NewTypeSet(components...)
	return sto.reshapeMany(entities, func(from *archetype) TypeSet {
		if from.spec.HasAll(add) {
			return nil
		}
		return from.spec.types.with(add)
	})
}

// RemoveMany removes components from every entity that holds them.
func (sto *storage) RemoveMany(entities []Entity, components ...Component) error {
	drop := NewTypeSet(components...)
	return sto.reshapeMany(entities, func(from *archetype) TypeSet {
		if from.spec.HasNone(drop) {
			return nil
		}
		return from.spec.types.without(drop)
	})
}

// reshapeMany moves entities to the archetype target picks for their current
// one. A nil target leaves the entity in place. Destinations are resolved
// once per source archetype and batch.
func (sto *storage) reshapeMany(entities []Entity, target func(*archetype) TypeSet) error {
	if sto.closed {
		return ErrClosed
	}
	if sto.Locked() {
		return LockedStorageError{}
	}
	dest := make(map[archetypeID]*archetype)
	for start := 0; start < len(entities); start += sto.cfg.BatchSize {
		clear(dest)
		for _, en := range entities[start:min(start+sto.cfg.BatchSize, len(entities))] {
			from := sto.archetypes.asSlice[sto.pool.get(en.ID()).loc.Archetype-1]
			to, seen := dest[from.id]
			if !seen {
				if types := target(from); types != nil {
					var err error
					if to, err = sto.archetypeFor(types); err != nil {
						return err
					}
				}
				dest[from.id] = to
			}
			if to == nil || to == from {
				continue
			}
			if err := sto.moveEntity(en.ID(), from, to); err != nil {
				return err
			}
		}
	}
	return nil
}

// moveEntity relocates id from one archetype to another. Destination capacity
// is reserved before the source is touched, shared columns are copied, the
// source row is swap-deleted and the pool record is repointed last.
func (sto *storage) moveEntity(id EntityID, from, to *archetype) error {
	if from == to {
		return nil
	}
	if err := to.reserve(1); err != nil {
		return eris.Wrapf(err, "move %s", id)
	}
	slot := sto.pool.get(id)
	src := slot.loc
	dst := to.push(id)

	srcChunk := from.chunks[src.Chunk]
	dstChunk := to.chunks[dst.Chunk]
	var buf [16]Match
	for _, m := range from.spec.FindMatches(to.spec.types, buf[:0]) {
		if srcChunk.columns[m.Self].typ.size == 0 {
			continue
		}
		copy(dstChunk.columns[m.Other].row(int(dst.Row)), srcChunk.columns[m.Self].row(int(src.Row)))
	}

	if moved, ok := from.remove(src); ok {
		sto.pool.get(moved).loc = src
	}
	slot.loc = dst
	return nil
}

// archetypeFor returns the archetype for a canonical type set, creating it
// on first use.
func (sto *storage) archetypeFor(types TypeSet) (*archetype, error) {
	specID := calculateSpecID(types)
	for _, id := range sto.archetypes.idsGroupedBySpec[specID] {
		if arch := sto.archetypes.asSlice[id-1]; arch.spec.types.equal(types) {
			return arch, nil
		}
	}

	var archMask mask.Mask
	for _, t := range types {
		archMask.Mark(sto.rowIndexFor(t))
	}
	arch := &archetype{
		id:   sto.archetypes.nextID,
		spec: newSpec(types),
		mask: archMask,
		sto:  sto,
	}
	sto.archetypes.asSlice = append(sto.archetypes.asSlice, arch)
	sto.archetypes.idsGroupedByMask[archMask] = arch.id
	sto.archetypes.idsGroupedBySpec[specID] = append(sto.archetypes.idsGroupedBySpec[specID], arch.id)
	sto.archetypes.nextID++

	sto.logger.Debug("archetype created",
		zap.Uint32("archetype", uint32(arch.id)),
		zap.Uint32("spec", uint32(arch.spec.id)),
		zap.Int("components", len(types)),
	)
	return arch, nil
}

// archetypeForMask is the fast path for single component changes.
func (sto *storage) archetypeForMask(m mask.Mask, types func() TypeSet) (*archetype, error) {
	if id, found := sto.archetypes.idsGroupedByMask[m]; found {
		return sto.archetypes.asSlice[id-1], nil
	}
	return sto.archetypeFor(types())
}

func (sto *storage) Spec(components ...Component) (*Spec, error) {
	arch, err := sto.archetypeFor(NewTypeSet(components...))
	if err != nil {
		return nil, err
	}
	return arch.spec, nil
}

func (sto *storage) ComponentIndex(spec *Spec, c Component) (int, bool) {
	return spec.ComponentIndex(c)
}

func (sto *storage) Archetypes() iter.Seq[Archetype] {
	return func(yield func(Archetype) bool) {
		for _, arch := range sto.archetypes.asSlice {
			if !yield(arch) {
				return
			}
		}
	}
}

func (sto *storage) RowIndexFor(c Component) uint32 {
	return sto.rowIndexFor(c.Type())
}

// rowIndexFor maps a component type to its mask bit. Concurrent cursors
// evaluate queries at the same time, so schema access is serialized.
func (sto *storage) rowIndexFor(t ComponentType) uint32 {
	sto.schemaMu.Lock()
	defer sto.schemaMu.Unlock()
	if idx, ok := sto.rowIndices[t.id]; ok {
		return idx
	}
	sto.schema.Register(t.elem)
	idx := sto.schema.RowIndexFor(t.elem)
	sto.rowIndices[t.id] = idx
	return idx
}

// Len returns the number of live entities.
func (sto *storage) Len() int {
	return sto.pool.live
}

func (sto *storage) Locked() bool {
	sto.lockMu.Lock()
	defer sto.lockMu.Unlock()
	return sto.locks > 0
}

// Lock defers structural changes until the matching Unlock. Locks nest.
func (sto *storage) Lock() {
	sto.lockMu.Lock()
	sto.locks++
	sto.lockMu.Unlock()
}

// Unlock releases one lock. Releasing the last one applies queued operations.
func (sto *storage) Unlock() {
	sto.lockMu.Lock()
	if sto.locks == 0 {
		sto.lockMu.Unlock()
		return
	}
	sto.locks--
	release := sto.locks == 0
	sto.lockMu.Unlock()

	if release {
		if err := sto.processOperationQueue(); err != nil {
			panic(err)
		}
	}
}

// Close frees every chunk and pool page, newest first. A storage that created
// its own allocator closes it too and reports any leak it finds.
func (sto *storage) Close() error {
	if sto.closed {
		return nil
	}
	if sto.Locked() {
		return LockedStorageError{}
	}
	sto.closed = true
	sto.logger.Debug("storage closing",
		zap.Int("entities", sto.pool.live),
		zap.Int("archetypes", len(sto.archetypes.asSlice)),
		zap.Int64("bytes", sto.ledger.bytes),
	)
	sto.ledger.release()
	for _, arch := range sto.archetypes.asSlice {
		arch.chunks = nil
		arch.count = 0
	}
	sto.pool = newEntityPool(&sto.ledger)

	if sto.owned != nil {
		return sto.owned.Close()
	}
	return nil
}
