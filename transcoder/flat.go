package transcoder

import (
	"math"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/ffi-boundary/errors"
)

// Flat lowering of scalars to uint64 stack slots.

func LowerS32(v int32) uint64   { return api.EncodeI32(v) }
func LiftS32(v uint64) int32    { return api.DecodeI32(v) }
func LowerU32(v uint32) uint64  { return api.EncodeU32(v) }
func LiftU32(v uint64) uint32   { return api.DecodeU32(v) }
func LowerS64(v int64) uint64   { return api.EncodeI64(v) }
func LiftS64(v uint64) int64    { return int64(v) }
func LowerF32(v float32) uint64 { return api.EncodeF32(v) }
func LiftF32(v uint64) float32  { return api.DecodeF32(v) }
func LowerF64(v float64) uint64 { return api.EncodeF64(v) }
func LiftF64(v uint64) float64  { return api.DecodeF64(v) }

// NarrowS32 converts v to int32, refusing values outside the s32 range.
func NarrowS32(v int64) (int32, error) {
	if v < math.MinInt32 || v > math.MaxInt32 {
		return 0, errors.Overflow(errors.PhaseEncode, nil, v, "s32")
	}
	return int32(v), nil
}

// NarrowU32 converts v to uint32, refusing negative or oversized values.
func NarrowU32(v int64) (uint32, error) {
	if v < 0 || v > math.MaxUint32 {
		return 0, errors.Overflow(errors.PhaseEncode, nil, v, "u32")
	}
	return uint32(v), nil
}

// NarrowF32 converts v to float32, refusing finite values outside the f32
// range. Precision loss within range follows normal float rounding.
func NarrowF32(v float64) (float32, error) {
	if !math.IsInf(v, 0) && !math.IsNaN(v) && math.Abs(v) > math.MaxFloat32 {
		return 0, errors.Overflow(errors.PhaseEncode, nil, v, "f32")
	}
	return float32(v), nil
}

// ValueType returns the core value type a scalar occupies on the stack.
func ValueType(t wit.Type) (api.ValueType, error) {
	switch t.(type) {
	case wit.Bool, wit.U8, wit.S8, wit.U16, wit.S16, wit.U32, wit.S32, wit.Char:
		return api.ValueTypeI32, nil
	case wit.U64, wit.S64:
		return api.ValueTypeI64, nil
	case wit.F32:
		return api.ValueTypeF32, nil
	case wit.F64:
		return api.ValueTypeF64, nil
	}
	return 0, errors.New(errors.PhaseLayout, errors.KindUnsupported).
		Detail("%T is not a flat scalar", t).
		Build()
}

// LowerInt lowers v as the integer scalar t, refusing values that do not
// fit the declared width.
func LowerInt(t wit.Type, v int64) (uint64, error) {
	var lo, hi int64
	switch t.(type) {
	case wit.Bool:
		lo, hi = 0, 1
	case wit.U8:
		lo, hi = 0, math.MaxUint8
	case wit.S8:
		lo, hi = math.MinInt8, math.MaxInt8
	case wit.U16:
		lo, hi = 0, math.MaxUint16
	case wit.S16:
		lo, hi = math.MinInt16, math.MaxInt16
	case wit.U32:
		lo, hi = 0, math.MaxUint32
	case wit.S32:
		lo, hi = math.MinInt32, math.MaxInt32
	case wit.U64:
		if v < 0 {
			return 0, errors.Overflow(errors.PhaseEncode, nil, v, "u64")
		}
		return uint64(v), nil
	case wit.S64:
		return uint64(v), nil
	default:
		return 0, errors.TypeMismatch(errors.PhaseEncode, nil, "int64", witName(t))
	}
	if v < lo || v > hi {
		return 0, errors.Overflow(errors.PhaseEncode, nil, v, witName(t))
	}
	// Sign bits above the declared width are masked off; LiftInt restores them.
	return uint64(v) & widthMask(t), nil
}

// LiftInt lifts the integer scalar t from a stack slot, sign-extending
// signed types from their declared width.
func LiftInt(t wit.Type, v uint64) (int64, error) {
	switch t.(type) {
	case wit.Bool, wit.U8:
		return int64(uint8(v)), nil
	case wit.S8:
		return int64(int8(v)), nil
	case wit.U16:
		return int64(uint16(v)), nil
	case wit.S16:
		return int64(int16(v)), nil
	case wit.U32:
		return int64(uint32(v)), nil
	case wit.S32:
		return int64(int32(v)), nil
	case wit.S64, wit.U64:
		return int64(v), nil
	}
	return 0, errors.TypeMismatch(errors.PhaseDecode, nil, "int64", witName(t))
}

func widthMask(t wit.Type) uint64 {
	switch t.(type) {
	case wit.Bool, wit.U8, wit.S8:
		return 0xff
	case wit.U16, wit.S16:
		return 0xffff
	case wit.U32, wit.S32, wit.F32, wit.Char:
		return 0xffffffff
	}
	return math.MaxUint64
}
