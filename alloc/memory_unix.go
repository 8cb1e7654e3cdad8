//go:build unix

package alloc

import "golang.org/x/sys/unix"

// Requests at or above this size are served by anonymous mappings so large
// pages and chunks stay out of the collector's heap.
const mmapThreshold = 64 << 10

func sysAlloc(size int) (rawMemory, error) {
	if size < mmapThreshold {
		return heapMemory(size), nil
	}
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return rawMemory{}, err
	}
	return rawMemory{buf: data[:size:size], mapped: data}, nil
}

func sysFree(m rawMemory) error {
	if m.mapped == nil {
		return nil
	}
	return unix.Munmap(m.mapped)
}
