package depot

import (
	"github.com/TheBitDrifter/depot/alloc"
)

// ledger records every allocation a storage makes so Close can free them
// newest first. Chunks and pool pages are never freed earlier, which keeps
// the order valid for stack-disciplined allocators such as alloc.Arena.
type ledger struct {
	allocator alloc.Allocator
	handles   []*alloc.Handle
	bytes     int64
}

// take allocates size bytes into *h and returns the memory behind it.
func (l *ledger) take(h *alloc.Handle, size int) ([]byte, error) {
	taken, err := l.allocator.Take(size)
	if err != nil {
		return nil, err
	}
	*h = taken
	l.handles = append(l.handles, h)
	l.bytes += int64(size)
	return l.allocator.Bytes(taken), nil
}

func (l *ledger) release() {
	for i := len(l.handles) - 1; i >= 0; i-- {
		if h := l.handles[i]; !h.IsZero() {
			l.allocator.Free(h)
		}
	}
	l.handles = nil
	l.bytes = 0
}
