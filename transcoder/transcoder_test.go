package transcoder

import (
	"math"
	"testing"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/ffi-boundary/errors"
	"github.com/wippyai/ffi-boundary/memory"
)

func newTestMemory(t *testing.T) (*memory.Linear, *memory.Heap) {
	t.Helper()
	mem := memory.NewLinear(1, 4)
	return mem, memory.NewHeap(mem, memory.HeapOptions{Poison: true})
}

var (
	pointType = &wit.TypeDef{Kind: &wit.Record{Fields: []wit.Field{
		{Name: "x", Type: wit.S32{}},
		{Name: "y", Type: wit.S32{}},
	}}}
	numberType = &wit.TypeDef{Kind: &wit.Variant{Cases: []wit.Case{
		{Name: "integer", Type: wit.S32{}},
		{Name: "float", Type: wit.F32{}},
	}}}
)

func TestRecordRoundTrip(t *testing.T) {
	mem, heap := newTestMemory(t)
	enc, dec := NewEncoder(), NewDecoder()

	tests := []struct {
		x, y int32
	}{
		{0, 0},
		{3, 4},
		{-1, math.MaxInt32},
		{math.MinInt32, -7},
	}

	for _, tt := range tests {
		ptr, err := enc.EncodeRecord(pointType, []uint64{LowerS32(tt.x), LowerS32(tt.y)}, mem, heap, nil)
		if err != nil {
			t.Fatalf("EncodeRecord(%d, %d): %v", tt.x, tt.y, err)
		}
		if ptr%4 != 0 {
			t.Errorf("record at %d is not 4-byte aligned", ptr)
		}

		fields, err := dec.DecodeRecord(pointType, ptr, mem)
		if err != nil {
			t.Fatalf("DecodeRecord: %v", err)
		}
		if got := LiftS32(fields[0]); got != tt.x {
			t.Errorf("x = %d, want %d", got, tt.x)
		}
		if got := LiftS32(fields[1]); got != tt.y {
			t.Errorf("y = %d, want %d", got, tt.y)
		}

		raw, err := mem.ReadU32(ptr + 4)
		if err != nil {
			t.Fatal(err)
		}
		if int32(raw) != tt.y {
			t.Errorf("y is not at offset 4: %d", int32(raw))
		}
	}
}

func TestRecordFieldCountMismatch(t *testing.T) {
	mem, heap := newTestMemory(t)
	before := heap.Stats().LiveBlocks

	_, err := NewEncoder().EncodeRecord(pointType, []uint64{1}, mem, heap, nil)
	if !errors.IsKind(err, errors.KindInvalidData) {
		t.Fatalf("expected invalid data, got %v", err)
	}
	if after := heap.Stats().LiveBlocks; after != before {
		t.Errorf("failed encode leaked a block: %d live, want %d", after, before)
	}
}

func TestLoadField(t *testing.T) {
	mem, heap := newTestMemory(t)
	ptr, err := NewEncoder().EncodeRecord(pointType, []uint64{LowerS32(11), LowerS32(-22)}, mem, heap, nil)
	if err != nil {
		t.Fatal(err)
	}
	v, err := NewDecoder().LoadField(pointType, ptr, "y", mem)
	if err != nil {
		t.Fatal(err)
	}
	if LiftS32(v) != -22 {
		t.Errorf("y = %d, want -22", LiftS32(v))
	}
	if _, err := NewDecoder().LoadField(pointType, ptr, "z", mem); err == nil {
		t.Error("expected error for unknown field")
	}
}

func TestVariantIntegrity(t *testing.T) {
	mem, heap := newTestMemory(t)
	enc, dec := NewEncoder(), NewDecoder()

	nan := math.Float32frombits(0x7fc00123)
	tests := []struct {
		name    string
		disc    uint32
		payload uint64
	}{
		{"integer", 0, LowerS32(-42)},
		{"integer max", 0, LowerS32(math.MaxInt32)},
		{"float", 1, LowerF32(3.14)},
		{"float negative zero", 1, LowerF32(float32(math.Copysign(0, -1)))},
		{"float nan payload", 1, LowerF32(nan)},
		{"float inf", 1, LowerF32(float32(math.Inf(1)))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ptr, err := enc.EncodeVariant(numberType, tt.disc, tt.payload, mem, heap, nil)
			if err != nil {
				t.Fatalf("EncodeVariant: %v", err)
			}
			disc, payload, err := dec.DecodeVariant(numberType, ptr, mem)
			if err != nil {
				t.Fatalf("DecodeVariant: %v", err)
			}
			if disc != tt.disc {
				t.Errorf("disc = %d, want %d", disc, tt.disc)
			}
			if uint32(payload) != uint32(tt.payload) {
				t.Errorf("payload bits = %#x, want %#x", uint32(payload), uint32(tt.payload))
			}
		})
	}
}

func TestVariantLayout(t *testing.T) {
	mem, heap := newTestMemory(t)
	ptr, err := NewEncoder().EncodeVariant(numberType, 1, LowerF32(1.5), mem, heap, nil)
	if err != nil {
		t.Fatal(err)
	}
	tag, _ := mem.ReadU8(ptr)
	if tag != 1 {
		t.Errorf("tag byte = %d, want 1", tag)
	}
	pad, _ := mem.Read(ptr+1, 3)
	for i, b := range pad {
		if b != 0 {
			t.Errorf("padding byte %d = %#x, want 0", i+1, b)
		}
	}
	bits, _ := mem.ReadU32(ptr + 4)
	if math.Float32frombits(bits) != 1.5 {
		t.Errorf("payload = %v, want 1.5", math.Float32frombits(bits))
	}
}

func TestVariantInvalidDiscriminant(t *testing.T) {
	mem, heap := newTestMemory(t)

	if _, err := NewEncoder().EncodeVariant(numberType, 2, 0, mem, heap, nil); !errors.IsKind(err, errors.KindInvalidVariant) {
		t.Fatalf("encode with disc 2: expected invalid variant, got %v", err)
	}

	ptr, err := NewEncoder().EncodeVariant(numberType, 0, LowerS32(1), mem, heap, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := mem.WriteU8(ptr, 7); err != nil {
		t.Fatal(err)
	}
	if _, _, err := NewDecoder().DecodeVariant(numberType, ptr, mem); !errors.IsKind(err, errors.KindInvalidVariant) {
		t.Fatalf("decode with disc 7: expected invalid variant, got %v", err)
	}
}

func TestListCountInvariant(t *testing.T) {
	mem, heap := newTestMemory(t)
	enc, dec := NewEncoder(), NewDecoder()

	for _, n := range []int{0, 1, 3, 100, 5000} {
		values := make([]uint64, n)
		for i := range values {
			values[i] = LowerS32(int32(i*7 - 3))
		}
		ptr, size, err := enc.EncodeList(wit.S32{}, values, mem, heap, nil)
		if err != nil {
			t.Fatalf("EncodeList(%d): %v", n, err)
		}
		if size != uint32(n)*4 {
			t.Errorf("EncodeList(%d) size = %d, want %d", n, size, n*4)
		}

		got, err := dec.DecodeList(wit.S32{}, ptr, uint32(n), mem)
		if err != nil {
			t.Fatalf("DecodeList(%d): %v", n, err)
		}
		if len(got) != n {
			t.Fatalf("DecodeList(%d) returned %d elements", n, len(got))
		}
		for i := range got {
			if LiftS32(got[i]) != int32(i*7-3) {
				t.Errorf("element %d = %d, want %d", i, LiftS32(got[i]), i*7-3)
				break
			}
		}
	}
}

func TestDecodeListBounds(t *testing.T) {
	mem, _ := newTestMemory(t)
	dec := NewDecoder()

	got, err := dec.DecodeList(wit.S32{}, 0, 0, mem)
	if err != nil || len(got) != 0 {
		t.Errorf("empty list at null: got %v, %v", got, err)
	}
	if _, err := dec.DecodeList(wit.S32{}, 0, 3, mem); err == nil {
		t.Error("expected error for null list with count 3")
	}
	if _, err := dec.DecodeList(wit.S32{}, mem.Size()-8, 3, mem); !errors.IsKind(err, errors.KindOutOfBounds) {
		t.Errorf("expected out of bounds, got %v", err)
	}
}

func TestCStringRoundTrip(t *testing.T) {
	mem, heap := newTestMemory(t)
	enc, dec := NewEncoder(), NewDecoder()

	for _, s := range []string{"", "Primes", "a longer name that spans more than one sixty-four byte read chunk in the decoder"} {
		ptr, size, err := enc.EncodeCString(s, mem, heap, nil)
		if err != nil {
			t.Fatalf("EncodeCString(%q): %v", s, err)
		}
		if size != uint32(len(s))+1 {
			t.Errorf("EncodeCString(%q) size = %d", s, size)
		}
		got, err := dec.DecodeCString(ptr, mem, 0)
		if err != nil {
			t.Fatalf("DecodeCString: %v", err)
		}
		if got != s {
			t.Errorf("DecodeCString = %q, want %q", got, s)
		}
	}
}

func TestCStringRejectsInteriorNUL(t *testing.T) {
	mem, heap := newTestMemory(t)
	before := heap.Stats().LiveBlocks
	if _, _, err := NewEncoder().EncodeCString("ab\x00cd", mem, heap, nil); !errors.IsKind(err, errors.KindInvalidData) {
		t.Fatalf("expected invalid data, got %v", err)
	}
	if heap.Stats().LiveBlocks != before {
		t.Error("rejected string leaked a block")
	}
}

func TestCStringUnterminated(t *testing.T) {
	mem, _ := newTestMemory(t)
	end := mem.Size()
	fill := make([]byte, 10)
	for i := range fill {
		fill[i] = 'x'
	}
	if err := mem.Write(end-10, fill); err != nil {
		t.Fatal(err)
	}
	if _, err := NewDecoder().DecodeCString(end-10, mem, 0); !errors.IsKind(err, errors.KindUnterminated) {
		t.Errorf("at end of memory: expected unterminated, got %v", err)
	}

	if err := mem.Write(256, fill); err != nil {
		t.Fatal(err)
	}
	if _, err := NewDecoder().DecodeCString(256, mem, 4); !errors.IsKind(err, errors.KindUnterminated) {
		t.Errorf("past limit: expected unterminated, got %v", err)
	}
}

func TestAllocationListRollback(t *testing.T) {
	mem, heap := newTestMemory(t)
	enc := NewEncoder()
	allocs := NewAllocationList()

	if _, _, err := enc.EncodeCString("name", mem, heap, allocs); err != nil {
		t.Fatal(err)
	}
	if _, _, err := enc.EncodeList(wit.S32{}, []uint64{1, 2, 3}, mem, heap, allocs); err != nil {
		t.Fatal(err)
	}
	if _, err := enc.EncodeRecord(pointType, []uint64{1}, mem, heap, allocs); err == nil {
		t.Fatal("expected field count error")
	}
	if allocs.Count() != 3 {
		t.Fatalf("recorded %d allocations, want 3", allocs.Count())
	}

	if err := allocs.FreeAndRelease(heap); err != nil {
		t.Fatalf("FreeAndRelease: %v", err)
	}
	if live := heap.Stats().LiveBlocks; live != 0 {
		t.Errorf("%d blocks live after rollback", live)
	}
}

func TestLowerInt(t *testing.T) {
	tests := []struct {
		name    string
		typ     wit.Type
		v       int64
		want    uint64
		wantErr bool
	}{
		{"s32 negative", wit.S32{}, -1, 0xffffffff, false},
		{"s32 max", wit.S32{}, math.MaxInt32, math.MaxInt32, false},
		{"s32 overflow", wit.S32{}, math.MaxInt32 + 1, 0, true},
		{"s32 underflow", wit.S32{}, math.MinInt32 - 1, 0, true},
		{"u32 negative", wit.U32{}, -1, 0, true},
		{"u32 max", wit.U32{}, math.MaxUint32, math.MaxUint32, false},
		{"u8 overflow", wit.U8{}, 256, 0, true},
		{"s8 negative", wit.S8{}, -2, 0xfe, false},
		{"u64 negative", wit.U64{}, -5, 0, true},
		{"s64", wit.S64{}, -5, uint64(math.MaxUint64 - 4), false},
		{"float rejected", wit.F32{}, 1, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LowerInt(tt.typ, tt.v)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("LowerInt(%d) = %#x, want error", tt.v, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("LowerInt(%d): %v", tt.v, err)
			}
			if got != tt.want {
				t.Errorf("LowerInt(%d) = %#x, want %#x", tt.v, got, tt.want)
			}
			back, err := LiftInt(tt.typ, got)
			if err != nil {
				t.Fatal(err)
			}
			if back != tt.v {
				t.Errorf("LiftInt(LowerInt(%d)) = %d", tt.v, back)
			}
		})
	}
}

func TestNarrow(t *testing.T) {
	if _, err := NarrowS32(math.MaxInt32 + 1); !errors.IsKind(err, errors.KindOverflow) {
		t.Errorf("NarrowS32: expected overflow, got %v", err)
	}
	if v, err := NarrowS32(-9); err != nil || v != -9 {
		t.Errorf("NarrowS32(-9) = %d, %v", v, err)
	}
	if _, err := NarrowU32(-1); !errors.IsKind(err, errors.KindOverflow) {
		t.Errorf("NarrowU32: expected overflow, got %v", err)
	}
	if _, err := NarrowF32(math.MaxFloat64); !errors.IsKind(err, errors.KindOverflow) {
		t.Errorf("NarrowF32: expected overflow, got %v", err)
	}
	if v, err := NarrowF32(0.5); err != nil || v != 0.5 {
		t.Errorf("NarrowF32(0.5) = %v, %v", v, err)
	}
}

func TestFloatBitsSurviveStack(t *testing.T) {
	for _, bits := range []uint32{0x7fc00001, 0xffc00000, 0x7f800001, 0x80000000, 0x00000001} {
		f := math.Float32frombits(bits)
		if got := math.Float32bits(LiftF32(LowerF32(f))); got != bits {
			t.Errorf("bits %#x came back as %#x", bits, got)
		}
	}
}

func TestValueType(t *testing.T) {
	if _, err := ValueType(wit.String{}); err == nil {
		t.Error("string has no flat value type")
	}
	if _, err := ValueType(wit.S32{}); err != nil {
		t.Errorf("s32: %v", err)
	}
}
