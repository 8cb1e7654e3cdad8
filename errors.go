package depot

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

var (
	// Contract violations. These are raised as panics.
	ErrStaleEntity      = errors.New("depot: stale entity id")
	ErrSpecMismatch     = errors.New("depot: component not in spec")
	ErrPointerComponent = errors.New("depot: component type holds pointers")
	ErrUndeclaredAccess = errors.New("depot: column access not declared")

	ErrEntityLimit = errors.New("depot: entity index space exhausted")
	ErrCacheFull   = errors.New("depot: cache at maximum capacity")
	ErrClosed      = errors.New("depot: storage closed")
)

func violation(err error, format string, args ...any) {
	panic(eris.Wrapf(err, format, args...))
}

type LockedStorageError struct{}

func (e LockedStorageError) Error() string {
	return "storage is currently locked"
}

type ComponentExistsError struct {
	Component Component
}

func (e ComponentExistsError) Error() string {
	return fmt.Sprintf("component already exists on entity: %s", e.Component.Type().Name())
}

type ComponentNotFoundError struct {
	Component Component
}

func (e ComponentNotFoundError) Error() string {
	return fmt.Sprintf("component does not exist on entity: %s", e.Component.Type().Name())
}
