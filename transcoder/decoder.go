package transcoder

import (
	"bytes"
	"strconv"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/ffi-boundary/errors"
	"github.com/wippyai/ffi-boundary/layout"
)

// cstringChunk is how many bytes DecodeCString reads per step while
// searching for the terminator.
const cstringChunk = 64

type Decoder struct {
	calc *layout.Calculator
}

func NewDecoder() *Decoder {
	return &Decoder{calc: layout.NewCalculator()}
}

func NewDecoderWithCalculator(c *layout.Calculator) *Decoder {
	return &Decoder{calc: c}
}

// DecodeRecord reads every field of record t at addr in declaration order.
func (d *Decoder) DecodeRecord(t wit.Type, addr uint32, mem Memory) ([]uint64, error) {
	if addr == 0 {
		return nil, errors.New(errors.PhaseDecode, errors.KindInvalidData).
			WitType(witName(t)).
			Detail("null record address").
			Build()
	}
	decl, ok := recordFields(t)
	if !ok {
		return nil, errors.TypeMismatch(errors.PhaseDecode, nil, "[]uint64", witName(t))
	}

	info := d.calc.Calculate(t)
	out := make([]uint64, len(decl))
	for i, f := range decl {
		v, err := LoadScalar(mem, addr+info.FieldOffs[f.Name], f.Type)
		if err != nil {
			return nil, wrapPath(err, f.Name)
		}
		out[i] = v
	}
	return out, nil
}

// LoadField reads one named field of record t at addr.
func (d *Decoder) LoadField(t wit.Type, addr uint32, name string, mem Memory) (uint64, error) {
	decl, ok := recordFields(t)
	if !ok {
		return 0, errors.TypeMismatch(errors.PhaseDecode, nil, "uint64", witName(t))
	}
	info := d.calc.Calculate(t)
	for _, f := range decl {
		if f.Name == name {
			v, err := LoadScalar(mem, addr+info.FieldOffs[name], f.Type)
			return v, wrapPathErr(err, name)
		}
	}
	return 0, errors.NotFound(errors.PhaseDecode, "field", name)
}

// DecodeVariant reads the discriminant of variant t at addr and, when the
// selected case has a payload, that payload and nothing else.
func (d *Decoder) DecodeVariant(t wit.Type, addr uint32, mem Memory) (disc uint32, payload uint64, err error) {
	if addr == 0 {
		return 0, 0, errors.New(errors.PhaseDecode, errors.KindInvalidData).
			WitType("variant").
			Detail("null variant address").
			Build()
	}
	cases, ok := variantCases(t)
	if !ok {
		return 0, 0, errors.TypeMismatch(errors.PhaseDecode, nil, "uint64", witName(t))
	}

	info := d.calc.Calculate(t)
	disc, err = loadDisc(mem, addr, info.DiscSize)
	if err != nil {
		return 0, 0, err
	}
	if int(disc) >= len(cases) {
		return 0, 0, errors.InvalidDiscriminant(errors.PhaseDecode, []string{"tag"}, disc, uint32(len(cases)-1))
	}

	cs := cases[disc]
	if cs.Type == nil {
		return disc, 0, nil
	}
	payload, err = LoadScalar(mem, addr+info.PayloadOffs, cs.Type)
	if err != nil {
		return 0, 0, wrapPath(err, cs.Name)
	}
	return disc, payload, nil
}

func loadDisc(mem Memory, addr, size uint32) (uint32, error) {
	switch size {
	case 1:
		v, err := mem.ReadU8(addr)
		return uint32(v), err
	case 2:
		v, err := mem.ReadU16(addr)
		return uint32(v), err
	default:
		return mem.ReadU32(addr)
	}
}

// DecodeList reads exactly count elements of scalar type elem at ptr.
func (d *Decoder) DecodeList(elem wit.Type, ptr, count uint32, mem Memory) ([]uint64, error) {
	if !layout.IsScalar(elem) {
		return nil, errors.New(errors.PhaseDecode, errors.KindUnsupported).
			WitType(witName(elem)).
			Detail("list elements must be scalars").
			Build()
	}
	if count > layout.MaxListLength {
		return nil, errors.New(errors.PhaseDecode, errors.KindOverflow).
			Detail("list length %d exceeds maximum %d", count, layout.MaxListLength).
			Build()
	}
	if count == 0 {
		return []uint64{}, nil
	}
	if ptr == 0 {
		return nil, errors.New(errors.PhaseDecode, errors.KindInvalidData).
			Detail("null buffer with count %d", count).
			Build()
	}

	info := d.calc.Calculate(elem)
	size, ok := layout.SafeMulU32(count, info.Size)
	if !ok {
		return nil, errors.Overflow(errors.PhaseDecode, nil, count, "list size")
	}
	// One bounds check for the whole buffer, then fixed-stride reads.
	if _, err := mem.Read(ptr, size); err != nil {
		return nil, err
	}

	out := make([]uint64, count)
	for i := uint32(0); i < count; i++ {
		v, err := LoadScalar(mem, ptr+i*info.Size, elem)
		if err != nil {
			return nil, wrapPath(err, "["+strconv.Itoa(int(i))+"]")
		}
		out[i] = v
	}
	return out, nil
}

// DecodeCString reads bytes from ptr up to the first NUL. It reads at most
// limit bytes (layout.MaxStringSize when limit is 0) before giving up.
func (d *Decoder) DecodeCString(ptr uint32, mem Memory, limit uint32) (string, error) {
	if ptr == 0 {
		return "", errors.New(errors.PhaseDecode, errors.KindInvalidData).
			Detail("null string address").
			Build()
	}
	if limit == 0 {
		limit = layout.MaxStringSize
	}

	var buf []byte
	for off := uint32(0); off < limit; off += cstringChunk {
		n := uint32(cstringChunk)
		if off+n > limit {
			n = limit - off
		}
		chunk, err := readUpTo(mem, ptr+off, n)
		if err != nil {
			return "", err
		}
		if i := bytes.IndexByte(chunk, 0); i >= 0 {
			return string(append(buf, chunk[:i]...)), nil
		}
		if uint32(len(chunk)) < n {
			// Hit the end of memory without a terminator.
			break
		}
		buf = append(buf, chunk...)
	}
	return "", errors.Unterminated(nil, ptr, limit)
}

// readUpTo reads n bytes at addr, or whatever remains before the end of
// memory when the memory reports its size.
func readUpTo(mem Memory, addr, n uint32) ([]byte, error) {
	if sz, ok := mem.(interface{ Size() uint32 }); ok {
		size := sz.Size()
		if addr >= size {
			return nil, errors.MemoryOutOfBounds(errors.PhaseDecode, addr, 1, size)
		}
		if uint64(addr)+uint64(n) > uint64(size) {
			n = size - addr
		}
	}
	return mem.Read(addr, n)
}

func wrapPathErr(err error, segment string) error {
	if err == nil {
		return nil
	}
	return wrapPath(err, segment)
}
