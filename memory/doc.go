// Package memory provides the linear memory both sides of the boundary share,
// and the heap the producer allocates from.
//
// # Backends
//
// Two Memory implementations are available:
//
//	mem := memory.NewLinear(1, 16)          // Go byte slice, 1 page, grows to 16
//	mem, err := memory.NewWazero(ctx, rt, 1, 16) // exported memory of a wazero module
//
// Both are little-endian and bounds-checked. Neither shrinks.
//
// # Heap
//
// Heap is a first-fit allocator over a Memory. Address 0 is never handed out
// so it can serve as the null sentinel. The heap tracks every live block and
// remembers freed ones, so freeing a block twice or freeing an address it
// never returned is reported instead of corrupting the free list:
//
//	heap := memory.NewHeap(mem, memory.HeapOptions{Poison: true})
//	ptr, err := heap.Alloc(12, 4)
//	err = heap.Free(ptr, 12, 4)
//	err = heap.Free(ptr, 12, 4) // KindDoubleRelease
//
// With Poison set, freed bytes are overwritten with PoisonByte so a reader
// holding a stale address sees garbage rather than the old value.
package memory
