// Package wasmbin encodes the few pieces of the wasm binary format the
// boundary generates itself: the memory module and the call module.
package wasmbin

import "github.com/tetratelabs/wazero/api"

// Section IDs.
const (
	SectionType     byte = 0x01
	SectionImport   byte = 0x02
	SectionFunction byte = 0x03
	SectionMemory   byte = 0x05
	SectionExport   byte = 0x07
	SectionCode     byte = 0x0a
)

// Import and export kinds.
const (
	KindFunc   byte = 0x00
	KindMemory byte = 0x02
)

// Header is the magic number and version every module starts with.
var Header = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// AppendULEB appends v in unsigned LEB128.
func AppendULEB(out []byte, v uint32) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

// AppendName appends a length-prefixed name.
func AppendName(out []byte, name string) []byte {
	out = AppendULEB(out, uint32(len(name)))
	return append(out, name...)
}

// AppendSection appends a section with its ID and size.
func AppendSection(out []byte, id byte, body []byte) []byte {
	out = append(out, id)
	out = AppendULEB(out, uint32(len(body)))
	return append(out, body...)
}

// AppendLimits appends memory limits. A max of 0 means no maximum.
func AppendLimits(out []byte, minPages, maxPages uint32) []byte {
	if maxPages == 0 {
		return AppendULEB(append(out, 0x00), minPages)
	}
	out = AppendULEB(append(out, 0x01), minPages)
	return AppendULEB(out, maxPages)
}

// ValType returns the binary encoding of a wazero value type.
func ValType(t api.ValueType) byte {
	switch t {
	case api.ValueTypeI64:
		return 0x7e
	case api.ValueTypeF32:
		return 0x7d
	case api.ValueTypeF64:
		return 0x7c
	default:
		return 0x7f
	}
}
