package transcoder

import (
	"strconv"
	"strings"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/ffi-boundary/errors"
	"github.com/wippyai/ffi-boundary/layout"
)

type Encoder struct {
	calc *layout.Calculator
}

func NewEncoder() *Encoder {
	return &Encoder{calc: layout.NewCalculator()}
}

func NewEncoderWithCalculator(c *layout.Calculator) *Encoder {
	return &Encoder{calc: c}
}

// Layout returns the layout of t.
func (e *Encoder) Layout(t wit.Type) layout.Info {
	return e.calc.Calculate(t)
}

// alloc allocates and records the block in allocList when one is given.
func alloc(alloc Allocator, allocList *AllocationList, size, align uint32) (uint32, error) {
	if alloc == nil {
		return 0, errors.InvalidInput(errors.PhaseEncode, "allocator is nil")
	}
	ptr, err := alloc.Alloc(size, align)
	if err != nil {
		return 0, err
	}
	if ptr == 0 {
		return 0, errors.AllocationFailed(size, align, nil)
	}
	if allocList != nil {
		allocList.Add(ptr, size, align)
	}
	return ptr, nil
}

// abandon frees a block whose encoding failed, unless allocList owns the
// rollback.
func abandon(a Allocator, allocList *AllocationList, ptr, size, align uint32) {
	if allocList == nil {
		_ = a.Free(ptr, size, align)
	}
}

func recordFields(t wit.Type) ([]wit.Field, bool) {
	td, ok := t.(*wit.TypeDef)
	if !ok {
		return nil, false
	}
	r, ok := td.Kind.(*wit.Record)
	if !ok {
		return nil, false
	}
	return r.Fields, true
}

func variantCases(t wit.Type) ([]wit.Case, bool) {
	td, ok := t.(*wit.TypeDef)
	if !ok {
		return nil, false
	}
	v, ok := td.Kind.(*wit.Variant)
	if !ok {
		return nil, false
	}
	return v.Cases, true
}

// EncodeRecord allocates a record of type t and stores fields in declaration
// order. Every field must be a scalar.
func (e *Encoder) EncodeRecord(t wit.Type, fields []uint64, mem Memory, a Allocator, allocList *AllocationList) (uint32, error) {
	info := e.calc.Calculate(t)
	ptr, err := alloc(a, allocList, info.Size, info.Align)
	if err != nil {
		return 0, err
	}
	if err := e.StoreRecord(t, ptr, fields, mem); err != nil {
		abandon(a, allocList, ptr, info.Size, info.Align)
		return 0, err
	}
	return ptr, nil
}

// StoreRecord writes fields into an existing block at addr.
func (e *Encoder) StoreRecord(t wit.Type, addr uint32, fields []uint64, mem Memory) error {
	decl, ok := recordFields(t)
	if !ok {
		return errors.TypeMismatch(errors.PhaseEncode, nil, "[]uint64", witName(t))
	}
	if len(decl) != len(fields) {
		return errors.New(errors.PhaseEncode, errors.KindInvalidData).
			WitType("record").
			Detail("field count mismatch: expected %d, got %d", len(decl), len(fields)).
			Build()
	}

	info := e.calc.Calculate(t)
	for i, f := range decl {
		if !layout.IsScalar(f.Type) {
			return errors.New(errors.PhaseEncode, errors.KindUnsupported).
				Path(f.Name).
				WitType(witName(f.Type)).
				Detail("record fields must be scalars").
				Build()
		}
		if err := StoreScalar(mem, addr+info.FieldOffs[f.Name], f.Type, fields[i]); err != nil {
			return wrapPath(err, f.Name)
		}
	}
	return nil
}

// EncodeVariant allocates a variant of type t holding case disc. payload is
// ignored for cases without a payload type.
func (e *Encoder) EncodeVariant(t wit.Type, disc uint32, payload uint64, mem Memory, a Allocator, allocList *AllocationList) (uint32, error) {
	cases, ok := variantCases(t)
	if !ok {
		return 0, errors.TypeMismatch(errors.PhaseEncode, nil, "uint64", witName(t))
	}
	if int(disc) >= len(cases) {
		return 0, errors.InvalidDiscriminant(errors.PhaseEncode, []string{"tag"}, disc, uint32(len(cases)-1))
	}

	info := e.calc.Calculate(t)
	ptr, err := alloc(a, allocList, info.Size, info.Align)
	if err != nil {
		return 0, err
	}

	if err := mem.Write(ptr, make([]byte, info.Size)); err != nil {
		abandon(a, allocList, ptr, info.Size, info.Align)
		return 0, err
	}
	cs := cases[disc]
	if cs.Type != nil {
		if !layout.IsScalar(cs.Type) {
			abandon(a, allocList, ptr, info.Size, info.Align)
			return 0, errors.New(errors.PhaseEncode, errors.KindUnsupported).
				Path(cs.Name).
				WitType(witName(cs.Type)).
				Detail("variant payloads must be scalars").
				Build()
		}
		if err := StoreScalar(mem, ptr+info.PayloadOffs, cs.Type, payload); err != nil {
			abandon(a, allocList, ptr, info.Size, info.Align)
			return 0, wrapPath(err, cs.Name)
		}
	}
	// Discriminant last: the block never names a case whose payload is unwritten.
	if err := storeDisc(mem, ptr, info.DiscSize, disc); err != nil {
		abandon(a, allocList, ptr, info.Size, info.Align)
		return 0, err
	}
	return ptr, nil
}

func storeDisc(mem Memory, addr, size, disc uint32) error {
	switch size {
	case 1:
		return mem.WriteU8(addr, uint8(disc))
	case 2:
		return mem.WriteU16(addr, uint16(disc))
	default:
		return mem.WriteU32(addr, disc)
	}
}

// EncodeList allocates count contiguous elements of scalar type elem.
// An empty list still gets a unique, freeable address.
func (e *Encoder) EncodeList(elem wit.Type, values []uint64, mem Memory, a Allocator, allocList *AllocationList) (ptr uint32, size uint32, err error) {
	if !layout.IsScalar(elem) {
		return 0, 0, errors.New(errors.PhaseEncode, errors.KindUnsupported).
			WitType(witName(elem)).
			Detail("list elements must be scalars").
			Build()
	}
	if len(values) > layout.MaxListLength {
		return 0, 0, errors.New(errors.PhaseEncode, errors.KindOverflow).
			Detail("list length %d exceeds maximum %d", len(values), layout.MaxListLength).
			Build()
	}

	info := e.calc.Calculate(elem)
	size, ok := layout.SafeMulU32(uint32(len(values)), info.Size)
	if !ok {
		return 0, 0, errors.Overflow(errors.PhaseEncode, nil, len(values), "list size")
	}

	ptr, err = alloc(a, allocList, size, info.Align)
	if err != nil {
		return 0, 0, err
	}
	for i, v := range values {
		if err := StoreScalar(mem, ptr+uint32(i)*info.Size, elem, v); err != nil {
			abandon(a, allocList, ptr, size, info.Align)
			return 0, 0, wrapPath(err, "["+strconv.Itoa(i)+"]")
		}
	}
	return ptr, size, nil
}

// EncodeCString allocates len(s)+1 bytes holding s and a NUL terminator.
// Strings containing NUL are refused; the terminator would cut them short.
func (e *Encoder) EncodeCString(s string, mem Memory, a Allocator, allocList *AllocationList) (ptr uint32, size uint32, err error) {
	if i := strings.IndexByte(s, 0); i >= 0 {
		return 0, 0, errors.New(errors.PhaseEncode, errors.KindInvalidData).
			Value(i).
			Detail("string has interior NUL at byte %d", i).
			Build()
	}
	if len(s) >= layout.MaxStringSize {
		return 0, 0, errors.New(errors.PhaseEncode, errors.KindOverflow).
			Detail("string size %d exceeds maximum %d", len(s), layout.MaxStringSize).
			Build()
	}

	size = uint32(len(s)) + 1
	ptr, err = alloc(a, allocList, size, 1)
	if err != nil {
		return 0, 0, err
	}
	buf := make([]byte, size)
	copy(buf, s)
	if err := mem.Write(ptr, buf); err != nil {
		abandon(a, allocList, ptr, size, 1)
		return 0, 0, err
	}
	return ptr, size, nil
}

func wrapPath(err error, segment string) error {
	if e, ok := err.(*errors.Error); ok {
		e.Path = append([]string{segment}, e.Path...)
		return e
	}
	return err
}
