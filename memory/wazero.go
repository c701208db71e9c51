package memory

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/ffi-boundary/errors"
	"github.com/wippyai/ffi-boundary/internal/wasmbin"
)

// ModuleName is the name of the wazero module that owns the shared memory.
const ModuleName = "cffi_memory"

// ExportName is the export name of the shared memory.
const ExportName = "memory"

// Wazero is a linear memory exported by a minimal wasm module instantiated
// in a wazero runtime. Both sides of the boundary read and write it through
// the Memory interface.
type Wazero struct {
	*Wrapper
	mod api.Module
}

// NewWazero instantiates a module exporting one memory of pages pages that
// may grow to maxPages. A maxPages of 0 leaves the maximum to the runtime.
func NewWazero(ctx context.Context, rt wazero.Runtime, pages, maxPages uint32) (*Wazero, error) {
	bin := memoryModule(pages, maxPages)

	mod, err := rt.InstantiateWithConfig(ctx, bin, wazero.NewModuleConfig().WithName(ModuleName))
	if err != nil {
		return nil, errors.Wrap(errors.PhaseAlloc, errors.KindAllocation, err, "instantiate memory module")
	}

	mem := mod.ExportedMemory(ExportName)
	if mem == nil {
		_ = mod.Close(ctx)
		return nil, errors.NotFound(errors.PhaseAlloc, "memory export", ExportName)
	}

	return &Wazero{Wrapper: &Wrapper{Mem: mem}, mod: mod}, nil
}

// Module returns the wazero module that exports the memory.
func (w *Wazero) Module() api.Module {
	return w.mod
}

// Close closes the owning module, dropping the memory.
func (w *Wazero) Close(ctx context.Context) error {
	return w.mod.Close(ctx)
}

// memoryModule encodes a wasm binary whose only content is one exported memory.
func memoryModule(pages, maxPages uint32) []byte {
	memSec := wasmbin.AppendLimits([]byte{0x01}, pages, maxPages) // one memory

	expSec := wasmbin.AppendName([]byte{0x01}, ExportName) // one export
	expSec = append(expSec, wasmbin.KindMemory, 0x00)

	out := append([]byte(nil), wasmbin.Header...)
	out = wasmbin.AppendSection(out, wasmbin.SectionMemory, memSec)
	return wasmbin.AppendSection(out, wasmbin.SectionExport, expSec)
}

// Wrapper adapts wazero api.Memory to the boundary Memory interface.
type Wrapper struct {
	Mem api.Memory
}

// Size returns the memory size in bytes.
func (m *Wrapper) Size() uint32 {
	return m.Mem.Size()
}

// Grow adds deltaPages pages and returns the previous page count.
func (m *Wrapper) Grow(deltaPages uint32) (uint32, bool) {
	return m.Mem.Grow(deltaPages)
}

// Read reads bytes from memory. The result is a copy; wazero views are
// invalidated by Grow.
func (m *Wrapper) Read(offset uint32, length uint32) ([]byte, error) {
	data, ok := m.Mem.Read(offset, length)
	if !ok {
		return nil, outOfBounds(errors.PhaseDecode, offset, length, m.Mem.Size())
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Write writes bytes to memory.
func (m *Wrapper) Write(offset uint32, data []byte) error {
	if !m.Mem.Write(offset, data) {
		return outOfBounds(errors.PhaseEncode, offset, uint32(len(data)), m.Mem.Size())
	}
	return nil
}

// ReadU8 reads an unsigned 8-bit value.
func (m *Wrapper) ReadU8(offset uint32) (uint8, error) {
	v, ok := m.Mem.ReadByte(offset)
	if !ok {
		return 0, outOfBounds(errors.PhaseDecode, offset, 1, m.Mem.Size())
	}
	return v, nil
}

// ReadU16 reads an unsigned 16-bit little-endian value.
func (m *Wrapper) ReadU16(offset uint32) (uint16, error) {
	v, ok := m.Mem.ReadUint16Le(offset)
	if !ok {
		return 0, outOfBounds(errors.PhaseDecode, offset, 2, m.Mem.Size())
	}
	return v, nil
}

// ReadU32 reads an unsigned 32-bit little-endian value.
func (m *Wrapper) ReadU32(offset uint32) (uint32, error) {
	v, ok := m.Mem.ReadUint32Le(offset)
	if !ok {
		return 0, outOfBounds(errors.PhaseDecode, offset, 4, m.Mem.Size())
	}
	return v, nil
}

// ReadU64 reads an unsigned 64-bit little-endian value.
func (m *Wrapper) ReadU64(offset uint32) (uint64, error) {
	v, ok := m.Mem.ReadUint64Le(offset)
	if !ok {
		return 0, outOfBounds(errors.PhaseDecode, offset, 8, m.Mem.Size())
	}
	return v, nil
}

// WriteU8 writes an unsigned 8-bit value.
func (m *Wrapper) WriteU8(offset uint32, value uint8) error {
	if !m.Mem.WriteByte(offset, value) {
		return outOfBounds(errors.PhaseEncode, offset, 1, m.Mem.Size())
	}
	return nil
}

// WriteU16 writes an unsigned 16-bit little-endian value.
func (m *Wrapper) WriteU16(offset uint32, value uint16) error {
	if !m.Mem.WriteUint16Le(offset, value) {
		return outOfBounds(errors.PhaseEncode, offset, 2, m.Mem.Size())
	}
	return nil
}

// WriteU32 writes an unsigned 32-bit little-endian value.
func (m *Wrapper) WriteU32(offset uint32, value uint32) error {
	if !m.Mem.WriteUint32Le(offset, value) {
		return outOfBounds(errors.PhaseEncode, offset, 4, m.Mem.Size())
	}
	return nil
}

// WriteU64 writes an unsigned 64-bit little-endian value.
func (m *Wrapper) WriteU64(offset uint32, value uint64) error {
	if !m.Mem.WriteUint64Le(offset, value) {
		return outOfBounds(errors.PhaseEncode, offset, 8, m.Mem.Size())
	}
	return nil
}

func outOfBounds(phase errors.Phase, offset, length, size uint32) error {
	return errors.MemoryOutOfBounds(phase, offset, length, size)
}
