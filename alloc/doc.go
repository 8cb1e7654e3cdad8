/*
Package alloc provides the handle-based allocators that back depot storage.

Three allocators share one contract:

  - Dynamic: a tracked wrapper over platform memory. Every live allocation is
    recorded so leaks can be reported when the allocator is closed.
  - Arena: a fixed region with a front and a back cursor. Each end is a stack;
    frees must happen in reverse allocation order.
  - Heap: size-classed pages threaded with in-band block headers. Blocks are
    split on take and coalesced on free.

Every allocation is returned as a Handle. A handle carries the owning
allocator, the slot it occupies and a generation, so a stale or foreign handle
is detected instead of silently touching reused memory:

	dyn, _ := alloc.NewDynamic()
	heap, _ := alloc.NewHeap(dyn)

	h, _ := heap.Take(256)
	buf := heap.Bytes(h)
	buf[0] = 1
	heap.Free(&h) // h is zeroed

Contract violations (stale handles, double frees, out-of-order arena frees,
corrupted headers) panic. Resource exhaustion is reported as an error.
*/
package alloc
