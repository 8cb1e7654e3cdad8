//go:build !unix

package alloc

func sysAlloc(size int) (rawMemory, error) {
	return heapMemory(size), nil
}

func sysFree(rawMemory) error {
	return nil
}
