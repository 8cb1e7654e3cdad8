package alloc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/multierr"
)

var (
	// Contract violations. These are raised as panics.
	ErrStaleHandle    = errors.New("alloc: stale handle")
	ErrDoubleFree     = errors.New("alloc: double free")
	ErrOutOfOrderFree = errors.New("alloc: free out of stack order")
	ErrCorrupted      = errors.New("alloc: block header corrupted")
	ErrForeignHandle  = errors.New("alloc: handle not owned by this allocator")

	// Operational failures. These are returned.
	ErrInvalidSize       = errors.New("alloc: invalid size")
	ErrOutOfMemory       = errors.New("alloc: out of memory")
	ErrSystemAlloc       = errors.New("alloc: system allocation failed")
	ErrTooManyPages      = errors.New("alloc: page budget exhausted")
	ErrTooManyAllocators = errors.New("alloc: allocator registry full")
	ErrClosed            = errors.New("alloc: allocator closed")
)

// violation aborts the current operation. Contract violations are never
// recovered internally.
func violation(err error, format string, args ...any) {
	panic(eris.Wrapf(err, format, args...))
}

// Leak describes an allocation that was still live when its allocator closed.
type Leak struct {
	Kind   Kind
	Slot   uint32
	Size   int
	Origin string
}

// LeakError is returned by Close when allocations were never freed.
type LeakError struct {
	Leaks []Leak
}

func (e *LeakError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "alloc: %d leaked allocation(s)", len(e.Leaks))
	for i, l := range e.Leaks {
		if i == 8 {
			fmt.Fprintf(&b, "; ...")
			break
		}
		fmt.Fprintf(&b, "; %s slot %d (%d bytes)", l.Kind, l.Slot, l.Size)
	}
	return b.String()
}

// closeError merges a release failure with the leak report so that neither
// hides the other. errors.As finds the *LeakError in either case.
func closeError(op string, released error, leaks []Leak) error {
	var err error
	if released != nil {
		err = eris.Wrap(released, op)
	}
	if len(leaks) > 0 {
		err = multierr.Append(err, &LeakError{Leaks: leaks})
	}
	return err
}
