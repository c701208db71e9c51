package transcoder

import (
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/ffi-boundary/errors"
	"github.com/wippyai/ffi-boundary/layout"
)

var witName = layout.TypeName

// StoreScalar writes the low bits of v at addr using the width of t.
func StoreScalar(mem Memory, addr uint32, t wit.Type, v uint64) error {
	switch t.(type) {
	case wit.Bool, wit.U8, wit.S8:
		return mem.WriteU8(addr, uint8(v))
	case wit.U16, wit.S16:
		return mem.WriteU16(addr, uint16(v))
	case wit.U32, wit.S32, wit.F32, wit.Char:
		return mem.WriteU32(addr, uint32(v))
	case wit.U64, wit.S64, wit.F64:
		return mem.WriteU64(addr, v)
	}
	return errors.New(errors.PhaseEncode, errors.KindUnsupported).
		WitType(witName(t)).
		Detail("not a fixed-width scalar").
		Build()
}

// LoadScalar reads a scalar of type t at addr, zero-extended to 64 bits.
func LoadScalar(mem Memory, addr uint32, t wit.Type) (uint64, error) {
	switch t.(type) {
	case wit.Bool, wit.U8, wit.S8:
		v, err := mem.ReadU8(addr)
		return uint64(v), err
	case wit.U16, wit.S16:
		v, err := mem.ReadU16(addr)
		return uint64(v), err
	case wit.U32, wit.S32, wit.F32, wit.Char:
		v, err := mem.ReadU32(addr)
		return uint64(v), err
	case wit.U64, wit.S64, wit.F64:
		return mem.ReadU64(addr)
	}
	return 0, errors.New(errors.PhaseDecode, errors.KindUnsupported).
		WitType(witName(t)).
		Detail("not a fixed-width scalar").
		Build()
}
