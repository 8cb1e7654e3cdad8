package alloc

import (
	"sync"

	"github.com/rotisserie/eris"
)

// Allocator is implemented by every allocator in this package so storage can
// be parameterized over the allocation strategy.
type Allocator interface {
	// Take reserves size bytes and returns the handle that owns them.
	Take(size int) (Handle, error)
	// Free releases the allocation and zeroes *h.
	Free(h *Handle)
	// Transfer reissues the allocation under a new generation, zeroes *h and
	// invalidates every other copy of it.
	Transfer(h *Handle) Handle
	// Bytes returns the memory behind h after validating it.
	Bytes(h Handle) []byte
	Kind() Kind
	Close() error
}

// registry routes a handle back to the allocator that issued it using the
// owner bits packed into the handle.
var registry = struct {
	mu     sync.RWMutex
	owners [MaxOwners]Allocator
	next   uint16
	free   []uint16
}{next: 1}

func register(a Allocator) (uint16, error) {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	var id uint16
	if n := len(registry.free); n > 0 {
		id = registry.free[n-1]
		registry.free = registry.free[:n-1]
	} else {
		if int(registry.next) >= MaxOwners {
			return 0, eris.Wrapf(ErrTooManyAllocators, "%d allocators live", MaxOwners-1)
		}
		id = registry.next
		registry.next++
	}
	registry.owners[id] = a
	return id, nil
}

func unregister(id uint16) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if registry.owners[id] == nil {
		return
	}
	registry.owners[id] = nil
	registry.free = append(registry.free, id)
}

// OwnerOf returns the allocator that issued h.
func OwnerOf(h Handle) (Allocator, bool) {
	if h.IsZero() {
		return nil, false
	}
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	a := registry.owners[h.owner()]
	return a, a != nil
}

func mustOwner(h Handle) Allocator {
	a, ok := OwnerOf(h)
	if !ok {
		violation(ErrForeignHandle, "no live allocator for %s", h)
	}
	return a
}

// Free releases h through the allocator that issued it.
func Free(h *Handle) {
	mustOwner(*h).Free(h)
}

// Transfer reissues h through the allocator that issued it.
func Transfer(h *Handle) Handle {
	return mustOwner(*h).Transfer(h)
}

// Bytes returns the memory behind h through the allocator that issued it.
func Bytes(h Handle) []byte {
	return mustOwner(h).Bytes(h)
}
