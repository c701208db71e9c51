package ffiboundary

// Memory is the linear memory shared by both sides of the boundary.
// Multi-byte values are little-endian.
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	ReadU8(offset uint32) (uint8, error)
	ReadU16(offset uint32) (uint16, error)
	ReadU32(offset uint32) (uint32, error)
	ReadU64(offset uint32) (uint64, error)
	WriteU8(offset uint32, value uint8) error
	WriteU16(offset uint32, value uint16) error
	WriteU32(offset uint32, value uint32) error
	WriteU64(offset uint32, value uint64) error
}

// MemorySizer provides the current size of linear memory in bytes.
type MemorySizer interface {
	Size() uint32
}

// Grower is implemented by memories that can grow by whole pages.
// Grow returns the previous size in pages.
type Grower interface {
	Grow(deltaPages uint32) (uint32, bool)
}

// Allocator allocates memory on the producer side of the boundary.
// Free reports blocks that are unknown or already freed.
type Allocator interface {
	Alloc(size, align uint32) (uint32, error)
	Free(ptr, size, align uint32) error
}

// PageSize is the linear memory page size in bytes.
const PageSize = 65536
