package contract

import (
	ffiboundary "github.com/wippyai/ffi-boundary"
	"github.com/wippyai/ffi-boundary/errors"
	"github.com/wippyai/ffi-boundary/transcoder"
)

var (
	enc = transcoder.NewEncoderWithCalculator(Calc)
	dec = transcoder.NewDecoderWithCalculator(Calc)
)

// NewPoint allocates a Point block and returns its address.
func NewPoint(p Point, mem ffiboundary.Memory, a ffiboundary.Allocator) (uint32, error) {
	return enc.EncodeRecord(PointType, []uint64{
		transcoder.LowerS32(p.X),
		transcoder.LowerS32(p.Y),
	}, mem, a, nil)
}

// LoadPoint reads the Point at addr.
func LoadPoint(addr uint32, mem ffiboundary.Memory) (Point, error) {
	fields, err := dec.DecodeRecord(PointType, addr, mem)
	if err != nil {
		return Point{}, err
	}
	return Point{X: transcoder.LiftS32(fields[0]), Y: transcoder.LiftS32(fields[1])}, nil
}

// NewNumber allocates a Number block. The payload is in place before the
// discriminant is written.
func NewNumber(n Number, mem ffiboundary.Memory, a ffiboundary.Allocator) (uint32, error) {
	if n == nil {
		return 0, errors.InvalidInput(errors.PhaseEncode, "nil Number")
	}
	tag, bits := NumberBits(n)
	return enc.EncodeVariant(NumberType, uint32(tag), bits, mem, a, nil)
}

// LoadNumber reads the Number at addr. A discriminant outside the case set
// is an error.
func LoadNumber(addr uint32, mem ffiboundary.Memory) (Number, error) {
	disc, bits, err := dec.DecodeVariant(NumberType, addr, mem)
	if err != nil {
		return nil, err
	}
	n, ok := NumberFromBits(Tag(disc), bits)
	if !ok {
		return nil, errors.InvalidDiscriminant(errors.PhaseDecode, []string{"tag"}, disc, uint32(TagFloat))
	}
	return n, nil
}

// CollectionParts is the raw content of a NamedCollection container.
type CollectionParts struct {
	Name   uint32
	Values uint32
	Len    uint32
}

// ValuesSize returns the byte size of the values buffer.
func (p CollectionParts) ValuesSize() uint32 {
	return p.Len * ElementLayout.Size
}

// NewCollection allocates the name, the values buffer and the container, in
// that order. On failure everything already allocated is freed.
func NewCollection(c Collection, mem ffiboundary.Memory, a ffiboundary.Allocator) (uint32, error) {
	allocs := transcoder.NewAllocationList()
	defer allocs.Release()

	ptr, err := newCollection(c, mem, a, allocs)
	if err != nil {
		_ = allocs.Free(a)
		return 0, err
	}
	return ptr, nil
}

func newCollection(c Collection, mem ffiboundary.Memory, a ffiboundary.Allocator, allocs *transcoder.AllocationList) (uint32, error) {
	name, _, err := enc.EncodeCString(c.Name, mem, a, allocs)
	if err != nil {
		return 0, wrap(err, FieldName)
	}

	values := make([]uint64, len(c.Values))
	for i, v := range c.Values {
		values[i] = transcoder.LowerS32(v)
	}
	vals, _, err := enc.EncodeList(ElementType, values, mem, a, allocs)
	if err != nil {
		return 0, wrap(err, FieldValues)
	}

	return enc.EncodeRecord(NamedCollectionType, []uint64{
		transcoder.LowerU32(name),
		transcoder.LowerU32(vals),
		transcoder.LowerU32(uint32(len(c.Values))),
	}, mem, a, allocs)
}

// LoadCollectionParts reads the container at addr without following its
// pointers.
func LoadCollectionParts(addr uint32, mem ffiboundary.Memory) (CollectionParts, error) {
	fields, err := dec.DecodeRecord(NamedCollectionType, addr, mem)
	if err != nil {
		return CollectionParts{}, err
	}
	return CollectionParts{
		Name:   transcoder.LiftU32(fields[0]),
		Values: transcoder.LiftU32(fields[1]),
		Len:    transcoder.LiftU32(fields[2]),
	}, nil
}

// LoadCollection copies the collection at addr into Go memory. Exactly Len
// elements are read.
func LoadCollection(addr uint32, mem ffiboundary.Memory) (Collection, error) {
	parts, err := LoadCollectionParts(addr, mem)
	if err != nil {
		return Collection{}, err
	}
	name, err := dec.DecodeCString(parts.Name, mem, 0)
	if err != nil {
		return Collection{}, wrap(err, FieldName)
	}
	raw, err := dec.DecodeList(ElementType, parts.Values, parts.Len, mem)
	if err != nil {
		return Collection{}, wrap(err, FieldValues)
	}
	values := make([]int32, len(raw))
	for i, v := range raw {
		values[i] = transcoder.LiftS32(v)
	}
	return Collection{Name: name, Values: values}, nil
}

// FreeCollection frees the values buffer, then the name, then the
// container. Children are freed first so the container never points at
// memory that was already handed back while it is still live.
func FreeCollection(addr uint32, mem ffiboundary.Memory, a ffiboundary.Allocator) error {
	parts, err := LoadCollectionParts(addr, mem)
	if err != nil {
		return err
	}
	name, err := dec.DecodeCString(parts.Name, mem, 0)
	if err != nil {
		return wrap(err, FieldName)
	}

	if err := a.Free(parts.Values, parts.ValuesSize(), ElementLayout.Align); err != nil {
		return wrap(err, FieldValues)
	}
	if err := a.Free(parts.Name, uint32(len(name))+1, 1); err != nil {
		return wrap(err, FieldName)
	}
	return a.Free(addr, NamedCollectionLayout.Size, NamedCollectionLayout.Align)
}

func wrap(err error, field string) error {
	if e, ok := err.(*errors.Error); ok {
		e.Path = append([]string{field}, e.Path...)
		return e
	}
	return err
}
