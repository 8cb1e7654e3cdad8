package depot

// Access declares the component columns a unit of work reads and writes.
// Declarations are checked statically: two units may run concurrently when
// their declarations do not conflict, and cursors bound to a declaration
// reject column access outside it.
type Access struct {
	reads  TypeSet
	writes TypeSet
}

// NewAccess returns an empty declaration.
func NewAccess() Access {
	return Access{}
}

// Read adds components to the read set.
func (a Access) Read(components ...Component) Access {
	a.reads = a.reads.with(NewTypeSet(components...))
	return a
}

// Write adds components to the write set. Writing implies reading.
func (a Access) Write(components ...Component) Access {
	a.writes = a.writes.with(NewTypeSet(components...))
	return a
}

func (a Access) Reads() TypeSet  { return a.reads }
func (a Access) Writes() TypeSet { return a.writes }

// Conflicts reports whether a and b touch a column that at least one of them
// writes.
func (a Access) Conflicts(b Access) bool {
	return overlaps(a.writes, b.writes) ||
		overlaps(a.writes, b.reads) ||
		overlaps(a.reads, b.writes)
}

func (a Access) CanRead(c Component) bool {
	id := c.Type().id
	if _, ok := a.reads.index(id); ok {
		return true
	}
	_, ok := a.writes.index(id)
	return ok
}

func (a Access) CanWrite(c Component) bool {
	_, ok := a.writes.index(c.Type().id)
	return ok
}

func overlaps(x, y TypeSet) bool {
	i, j := 0, 0
	for i < len(x) && j < len(y) {
		switch {
		case x[i].id == y[j].id:
			return true
		case x[i].id < y[j].id:
			i++
		default:
			j++
		}
	}
	return false
}

func checkRead(access *Access, c Component) {
	if access != nil && !access.CanRead(c) {
		violation(ErrUndeclaredAccess, "read of %s", c.Type().name)
	}
}

func checkWrite(access *Access, c Component) {
	if access != nil && !access.CanWrite(c) {
		violation(ErrUndeclaredAccess, "write of %s", c.Type().name)
	}
}
