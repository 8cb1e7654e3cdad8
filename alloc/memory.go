package alloc

import "unsafe"

// rawMemory is one block obtained from the platform. mapped is set when the
// block lives outside the Go heap and must be unmapped explicitly.
type rawMemory struct {
	buf    []byte
	mapped []byte
}

// heapMemory returns a zeroed, Alignment-aligned block from the Go heap.
func heapMemory(size int) rawMemory {
	backing := make([]byte, size+Alignment)
	base := uintptr(unsafe.Pointer(unsafe.SliceData(backing)))
	off := 0
	if r := int(base % Alignment); r != 0 {
		off = Alignment - r
	}
	return rawMemory{buf: backing[off : off+size : off+size]}
}

func addrOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}
