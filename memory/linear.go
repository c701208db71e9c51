package memory

import (
	"encoding/binary"
	"sync"

	ffiboundary "github.com/wippyai/ffi-boundary"
	"github.com/wippyai/ffi-boundary/errors"
)

// Linear is a Go-heap linear memory. It is safe for concurrent use; a read
// returns a copy so callers never alias the backing slice across a grow.
type Linear struct {
	data     []byte
	maxPages uint32
	mu       sync.RWMutex
}

// NewLinear creates a memory of pages pages that may grow to maxPages.
// A maxPages of 0 means the memory cannot grow.
func NewLinear(pages, maxPages uint32) *Linear {
	if maxPages < pages {
		maxPages = pages
	}
	return &Linear{
		data:     make([]byte, int(pages)*ffiboundary.PageSize),
		maxPages: maxPages,
	}
}

// Size returns the memory size in bytes.
func (m *Linear) Size() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint32(len(m.data))
}

// Grow adds deltaPages pages and returns the previous page count.
func (m *Linear) Grow(deltaPages uint32) (uint32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := uint32(len(m.data) / ffiboundary.PageSize)
	if uint64(prev)+uint64(deltaPages) > uint64(m.maxPages) {
		return prev, false
	}
	grown := make([]byte, int(prev+deltaPages)*ffiboundary.PageSize)
	copy(grown, m.data)
	m.data = grown
	return prev, true
}

func (m *Linear) slice(phase errors.Phase, offset, length uint32) ([]byte, error) {
	end := uint64(offset) + uint64(length)
	if end > uint64(len(m.data)) {
		return nil, errors.MemoryOutOfBounds(phase, offset, length, uint32(len(m.data)))
	}
	return m.data[offset:end], nil
}

// Read reads bytes from memory.
func (m *Linear) Read(offset uint32, length uint32) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, err := m.slice(errors.PhaseDecode, offset, length)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// Write writes bytes to memory.
func (m *Linear) Write(offset uint32, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := m.slice(errors.PhaseEncode, offset, uint32(len(data)))
	if err != nil {
		return err
	}
	copy(b, data)
	return nil
}

// ReadU8 reads an unsigned 8-bit value.
func (m *Linear) ReadU8(offset uint32) (uint8, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, err := m.slice(errors.PhaseDecode, offset, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadU16 reads an unsigned 16-bit little-endian value.
func (m *Linear) ReadU16(offset uint32) (uint16, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, err := m.slice(errors.PhaseDecode, offset, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// ReadU32 reads an unsigned 32-bit little-endian value.
func (m *Linear) ReadU32(offset uint32) (uint32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, err := m.slice(errors.PhaseDecode, offset, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadU64 reads an unsigned 64-bit little-endian value.
func (m *Linear) ReadU64(offset uint32) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, err := m.slice(errors.PhaseDecode, offset, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// WriteU8 writes an unsigned 8-bit value.
func (m *Linear) WriteU8(offset uint32, value uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := m.slice(errors.PhaseEncode, offset, 1)
	if err != nil {
		return err
	}
	b[0] = value
	return nil
}

// WriteU16 writes an unsigned 16-bit little-endian value.
func (m *Linear) WriteU16(offset uint32, value uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := m.slice(errors.PhaseEncode, offset, 2)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(b, value)
	return nil
}

// WriteU32 writes an unsigned 32-bit little-endian value.
func (m *Linear) WriteU32(offset uint32, value uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := m.slice(errors.PhaseEncode, offset, 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b, value)
	return nil
}

// WriteU64 writes an unsigned 64-bit little-endian value.
func (m *Linear) WriteU64(offset uint32, value uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := m.slice(errors.PhaseEncode, offset, 8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b, value)
	return nil
}
