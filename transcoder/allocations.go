package transcoder

import (
	"sync"

	ffiboundary "github.com/wippyai/ffi-boundary"
)

type Memory = ffiboundary.Memory
type Allocator = ffiboundary.Allocator

// block is one allocation made while building a value.
type block struct {
	ptr, size, align uint32
}

// AllocationList tracks the blocks a multi-block value has taken so far.
// When building fails part-way, Free hands them back in reverse order and
// no partial value stays reachable.
type AllocationList struct {
	blocks []block
}

// Lists above this capacity are dropped rather than pooled.
const maxPooledBlocks = 128

var allocationLists = sync.Pool{
	New: func() any { return &AllocationList{blocks: make([]block, 0, 8)} },
}

// NewAllocationList takes an empty list from the pool.
func NewAllocationList() *AllocationList {
	return allocationLists.Get().(*AllocationList)
}

// Add records a block. Null pointers are ignored.
func (al *AllocationList) Add(ptr, size, align uint32) {
	if ptr == 0 {
		return
	}
	al.blocks = append(al.blocks, block{ptr: ptr, size: size, align: align})
}

// Count returns the number of recorded blocks.
func (al *AllocationList) Count() int {
	return len(al.blocks)
}

// Free frees the recorded blocks newest first and empties the list. Every
// block is attempted; the first error is returned.
func (al *AllocationList) Free(a Allocator) error {
	if al == nil || a == nil {
		return nil
	}
	var first error
	for i := len(al.blocks) - 1; i >= 0; i-- {
		b := al.blocks[i]
		if err := a.Free(b.ptr, b.size, b.align); err != nil && first == nil {
			first = err
		}
	}
	al.blocks = al.blocks[:0]
	return first
}

// Release puts the list back in the pool. Recorded blocks are forgotten,
// not freed; the list must not be used afterwards.
func (al *AllocationList) Release() {
	if cap(al.blocks) > maxPooledBlocks {
		return
	}
	al.blocks = al.blocks[:0]
	allocationLists.Put(al)
}

// FreeAndRelease is Free followed by Release.
func (al *AllocationList) FreeAndRelease(a Allocator) error {
	err := al.Free(a)
	al.Release()
	return err
}
