package memory

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	ffiboundary "github.com/wippyai/ffi-boundary"
	"github.com/wippyai/ffi-boundary/errors"
	"github.com/wippyai/ffi-boundary/layout"
)

// PoisonByte fills freed blocks when HeapOptions.Poison is set.
const PoisonByte = 0xDD

// DefaultBase is the first address the heap hands out. Everything below it
// is reserved so that 0 stays an invalid pointer.
const DefaultBase = 16

// Sized is a memory that reports its size.
type Sized interface {
	ffiboundary.Memory
	ffiboundary.MemorySizer
}

type HeapOptions struct {
	// Base is the first managed address; 0 means DefaultBase.
	Base uint32
	// MaxAlloc caps a single allocation; 0 means layout.MaxAlloc.
	MaxAlloc uint32
	// Poison overwrites freed bytes with PoisonByte.
	Poison bool
}

type HeapStats struct {
	Allocs     uint64
	Frees      uint64
	Failures   uint64
	Grows      uint64
	LiveBlocks int
	LiveBytes  uint64
	FreeBytes  uint64
}

type span struct {
	ptr  uint32
	size uint32
}

type liveBlock struct {
	size     uint32 // requested
	align    uint32
	reserved uint32
}

// Heap is a first-fit allocator with coalescing over a linear memory.
// It implements ffiboundary.Allocator and is safe for concurrent use.
type Heap struct {
	mem    Sized
	live   map[uint32]liveBlock
	freed  map[uint32]struct{}
	free   []span // sorted by ptr, never adjacent
	opts   HeapOptions
	top    uint32
	stats  HeapStats
	mu     sync.Mutex
	closed bool
}

var _ ffiboundary.Allocator = (*Heap)(nil)

// NewHeap manages mem from opts.Base to the current end of memory.
func NewHeap(mem Sized, opts HeapOptions) *Heap {
	if opts.Base == 0 {
		opts.Base = DefaultBase
	}
	if opts.MaxAlloc == 0 {
		opts.MaxAlloc = layout.MaxAlloc
	}

	h := &Heap{
		mem:   mem,
		opts:  opts,
		live:  make(map[uint32]liveBlock),
		freed: make(map[uint32]struct{}),
		top:   opts.Base,
	}
	h.extend(mem.Size())
	return h
}

// Alloc returns the address of a block of at least size bytes aligned to
// align. A zero size still reserves one byte so the address is unique.
func (h *Heap) Alloc(size, align uint32) (uint32, error) {
	if align == 0 || align&(align-1) != 0 {
		return 0, errors.InvalidInput(errors.PhaseAlloc, "alignment must be a power of two")
	}
	if size > h.opts.MaxAlloc {
		return 0, errors.AllocationFailed(size, align, errors.Overflow(errors.PhaseAlloc, nil, size, "max allocation"))
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return 0, errors.Closed(errors.PhaseAlloc, "heap")
	}

	reserved := size
	if reserved == 0 {
		reserved = 1
	}

	ptr, ok := h.take(reserved, align)
	if !ok && h.grow(reserved+align) {
		ptr, ok = h.take(reserved, align)
	}
	if !ok {
		h.stats.Failures++
		return 0, errors.AllocationFailed(size, align, nil)
	}

	h.live[ptr] = liveBlock{size: size, align: align, reserved: reserved}
	delete(h.freed, ptr)
	h.stats.Allocs++
	h.stats.LiveBytes += uint64(reserved)
	h.stats.FreeBytes -= uint64(reserved)
	return ptr, nil
}

// Free returns a block to the heap. Freeing 0 is a no-op. size and align
// must match the values the block was allocated with.
func (h *Heap) Free(ptr, size, align uint32) error {
	if ptr == 0 {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return errors.Closed(errors.PhaseAlloc, "heap")
	}

	lb, ok := h.live[ptr]
	if !ok {
		if _, wasFreed := h.freed[ptr]; wasFreed {
			return errors.New(errors.PhaseAlloc, errors.KindDoubleRelease).
				Value(ptr).
				Detail("block %#x already freed", ptr).
				Build()
		}
		return errors.New(errors.PhaseAlloc, errors.KindInvalidInput).
			Value(ptr).
			Detail("address %#x was not returned by Alloc", ptr).
			Build()
	}
	if lb.size != size || lb.align != align {
		return errors.New(errors.PhaseAlloc, errors.KindTypeMismatch).
			Value(ptr).
			Detail("block %#x allocated as (size %d, align %d), freed as (size %d, align %d)",
				ptr, lb.size, lb.align, size, align).
			Build()
	}

	delete(h.live, ptr)
	h.freed[ptr] = struct{}{}
	h.stats.Frees++
	h.stats.LiveBytes -= uint64(lb.reserved)
	h.stats.FreeBytes += uint64(lb.reserved)

	if h.opts.Poison {
		poison := make([]byte, lb.reserved)
		for i := range poison {
			poison[i] = PoisonByte
		}
		_ = h.mem.Write(ptr, poison)
	}

	h.release(span{ptr: ptr, size: lb.reserved})
	return nil
}

// Realloc follows the cabi_realloc convention: ptr 0 allocates, newSize 0
// frees, anything else moves the block and copies min(oldSize, newSize) bytes.
func (h *Heap) Realloc(ptr, oldSize, align, newSize uint32) (uint32, error) {
	if ptr == 0 {
		return h.Alloc(newSize, align)
	}
	if newSize == 0 {
		return 0, h.Free(ptr, oldSize, align)
	}

	next, err := h.Alloc(newSize, align)
	if err != nil {
		return 0, err
	}

	n := oldSize
	if newSize < n {
		n = newSize
	}
	if n > 0 {
		data, err := h.mem.Read(ptr, n)
		if err == nil {
			err = h.mem.Write(next, data)
		}
		if err != nil {
			_ = h.Free(next, newSize, align)
			return 0, err
		}
	}

	if err := h.Free(ptr, oldSize, align); err != nil {
		_ = h.Free(next, newSize, align)
		return 0, err
	}
	return next, nil
}

// BlockSize returns the requested size of the live block at ptr.
func (h *Heap) BlockSize(ptr uint32) (uint32, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	lb, ok := h.live[ptr]
	return lb.size, ok
}

// IsLive reports whether ptr is the address of a live block.
func (h *Heap) IsLive(ptr uint32) bool {
	_, ok := h.BlockSize(ptr)
	return ok
}

// Stats returns a snapshot of heap counters.
func (h *Heap) Stats() HeapStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.stats
	s.LiveBlocks = len(h.live)
	return s
}

// Close stops the heap from handing out or accepting blocks.
func (h *Heap) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.free = nil
	return nil
}

// take carves an aligned block out of the first span that fits.
func (h *Heap) take(size, align uint32) (uint32, bool) {
	for i, s := range h.free {
		aligned := layout.AlignTo(s.ptr, align)
		end, ok := layout.SafeAddU32(aligned, size)
		if !ok || aligned < s.ptr || end > s.ptr+s.size {
			continue
		}

		tail := span{ptr: end, size: s.ptr + s.size - end}
		head := span{ptr: s.ptr, size: aligned - s.ptr}

		rest := make([]span, 0, 2)
		if head.size > 0 {
			rest = append(rest, head)
		}
		if tail.size > 0 {
			rest = append(rest, tail)
		}
		h.free = append(h.free[:i], append(rest, h.free[i+1:]...)...)
		return aligned, true
	}
	return 0, false
}

// release inserts s into the free list, merging with adjacent spans.
func (h *Heap) release(s span) {
	i := sort.Search(len(h.free), func(i int) bool { return h.free[i].ptr > s.ptr })

	if i > 0 && h.free[i-1].ptr+h.free[i-1].size == s.ptr {
		h.free[i-1].size += s.size
		if i < len(h.free) && h.free[i-1].ptr+h.free[i-1].size == h.free[i].ptr {
			h.free[i-1].size += h.free[i].size
			h.free = append(h.free[:i], h.free[i+1:]...)
		}
		return
	}
	if i < len(h.free) && s.ptr+s.size == h.free[i].ptr {
		h.free[i].ptr = s.ptr
		h.free[i].size += s.size
		return
	}

	h.free = append(h.free, span{})
	copy(h.free[i+1:], h.free[i:])
	h.free[i] = s
}

// extend adds [top, end) to the free list.
func (h *Heap) extend(end uint32) {
	if end <= h.top {
		return
	}
	h.release(span{ptr: h.top, size: end - h.top})
	h.stats.FreeBytes += uint64(end - h.top)
	h.top = end
}

// grow asks the memory for enough pages to fit need more bytes.
func (h *Heap) grow(need uint32) bool {
	g, ok := h.mem.(ffiboundary.Grower)
	if !ok {
		return false
	}

	pages := (need + ffiboundary.PageSize - 1) / ffiboundary.PageSize
	prev, ok := g.Grow(pages)
	if !ok {
		Logger().Debug("memory grow refused", zap.Uint32("pages", pages), zap.Uint32("current", prev))
		return false
	}

	h.stats.Grows++
	Logger().Debug("memory grown", zap.Uint32("from_pages", prev), zap.Uint32("by_pages", pages))
	h.extend(h.mem.Size())
	return true
}
