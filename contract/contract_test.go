package contract

import (
	"bytes"
	"math"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/ffi-boundary/errors"
	"github.com/wippyai/ffi-boundary/memory"
)

func newHeap(t *testing.T) (*memory.Linear, *memory.Heap) {
	t.Helper()
	mem := memory.NewLinear(1, 8)
	return mem, memory.NewHeap(mem, memory.HeapOptions{Poison: true})
}

func TestLayouts(t *testing.T) {
	assert.Equal(t, uint32(8), PointLayout.Size)
	assert.Equal(t, uint32(4), PointLayout.Align)
	assert.Equal(t, uint32(0), PointLayout.FieldOffs["x"])
	assert.Equal(t, uint32(4), PointLayout.FieldOffs["y"])

	assert.Equal(t, uint32(8), NumberLayout.Size)
	assert.Equal(t, uint32(1), NumberLayout.DiscSize)
	assert.Equal(t, uint32(4), NumberLayout.PayloadOffs)

	assert.Equal(t, uint32(12), NamedCollectionLayout.Size)
	assert.Equal(t, uint32(4), NamedCollectionLayout.Align)
	assert.Equal(t, uint32(8), NamedCollectionLayout.FieldOffs[FieldLen])
}

func TestPolicies(t *testing.T) {
	assert.Equal(t, PolicyUnspecified, TypePoint.Policy())
	assert.Equal(t, PolicyUnspecified, TypeNumber.Policy())
	assert.Equal(t, PolicyPaired, TypeNamedCollection.Policy())

	_, ok := TypeInvalid.Layout()
	assert.False(t, ok)
}

func TestPointRoundTrip(t *testing.T) {
	mem, heap := newHeap(t)
	for _, p := range []Point{{3, 4}, {0, 0}, {-1, math.MaxInt32}, {math.MinInt32, 9}} {
		addr, err := NewPoint(p, mem, heap)
		require.NoError(t, err)
		got, err := LoadPoint(addr, mem)
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
}

func TestNumberRoundTrip(t *testing.T) {
	mem, heap := newHeap(t)
	nums := []Number{
		Integer(-42),
		Integer(math.MinInt32),
		Float(3.14),
		Float(float32(math.Inf(-1))),
		Float(math.Float32frombits(0x7fc00abc)),
	}
	for _, n := range nums {
		addr, err := NewNumber(n, mem, heap)
		require.NoError(t, err)
		got, err := LoadNumber(addr, mem)
		require.NoError(t, err)

		wantTag, wantBits := NumberBits(n)
		gotTag, gotBits := NumberBits(got)
		assert.Equal(t, wantTag, gotTag, "tag of %s", n)
		assert.Equal(t, wantBits, gotBits, "payload bits of %s", n)
	}
}

func TestLoadNumberRejectsBadTag(t *testing.T) {
	mem, heap := newHeap(t)
	addr, err := NewNumber(Integer(1), mem, heap)
	require.NoError(t, err)
	require.NoError(t, mem.WriteU8(addr, 2))

	_, err = LoadNumber(addr, mem)
	assert.True(t, errors.IsKind(err, errors.KindInvalidVariant), "got %v", err)
}

func TestMatchNumber(t *testing.T) {
	describe := func(n Number) string {
		return MatchNumber(n,
			func(i int32) string { return "int" },
			func(f float32) string { return "float" },
		)
	}
	assert.Equal(t, "int", describe(Integer(5)))
	assert.Equal(t, "float", describe(Float(5)))
	assert.Equal(t, "Number::Integer(5)", Integer(5).String())
	assert.Equal(t, "Number::Float(1.500000)", Float(1.5).String())
}

func TestCollectionRoundTrip(t *testing.T) {
	mem, heap := newHeap(t)
	tests := []Collection{
		{Name: "Primes", Values: []int32{5, 6, 7}},
		{Name: "empty", Values: []int32{}},
		{Name: "", Values: []int32{-1}},
	}
	for _, c := range tests {
		addr, err := NewCollection(c, mem, heap)
		require.NoError(t, err)

		parts, err := LoadCollectionParts(addr, mem)
		require.NoError(t, err)
		assert.Equal(t, uint32(len(c.Values)), parts.Len)

		got, err := LoadCollection(addr, mem)
		require.NoError(t, err)
		assert.Equal(t, c.Name, got.Name)
		assert.Equal(t, c.Values, got.Values)
		assert.Equal(t, len(c.Values), got.Len())

		require.NoError(t, FreeCollection(addr, mem, heap))
	}
	assert.Zero(t, heap.Stats().LiveBlocks, "every block freed")
}

func TestNewCollectionRollsBack(t *testing.T) {
	mem, heap := newHeap(t)
	_, err := NewCollection(Collection{Name: "bad\x00name", Values: []int32{1}}, mem, heap)
	require.Error(t, err)
	assert.Zero(t, heap.Stats().LiveBlocks)
}

func TestFreeCollectionTwice(t *testing.T) {
	mem, heap := newHeap(t)
	addr, err := NewCollection(Collection{Name: "Primes", Values: []int32{5, 6, 7}}, mem, heap)
	require.NoError(t, err)
	require.NoError(t, FreeCollection(addr, mem, heap))

	// The container bytes are poisoned, so the second free fails before
	// touching any child.
	err = FreeCollection(addr, mem, heap)
	require.Error(t, err)
	assert.Equal(t, uint64(3), heap.Stats().Frees)
}

func TestStatusMapping(t *testing.T) {
	assert.Equal(t, StatusOK, StatusOf(nil))
	assert.Equal(t, StatusDoubleRelease, StatusOf(errors.DoubleRelease(7)))
	assert.Equal(t, StatusUseAfterRelease, StatusOf(errors.UseAfterRelease(errors.PhaseCall, 7)))
	assert.Equal(t, StatusInvalidInput, StatusOf(errors.Unsupported(errors.PhaseCall, "x")))

	for _, s := range Statuses()[1:] {
		err := s.Err(errors.PhaseCall, "from status")
		require.Error(t, err)
		assert.Equal(t, s, StatusOf(err), "status %s", s)
	}
	assert.NoError(t, StatusOK.Err(errors.PhaseCall, ""))
	assert.Equal(t, "status(42)", Status(42).String())
}

func TestSignatures(t *testing.T) {
	for _, sig := range Signatures {
		assert.Len(t, sig.CParams, len(sig.Params), sig.Name)
		assert.Len(t, sig.ParamNames, len(sig.Params), sig.Name)
	}
	sig, ok := Lookup(FnFreeNamedCollection)
	require.True(t, ok)
	assert.Len(t, sig.Results, 1)
	_, ok = Lookup("free_point")
	assert.False(t, ok)
}

func TestWriteHeader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteHeader(&buf))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "cffi_header", buf.Bytes())
}
