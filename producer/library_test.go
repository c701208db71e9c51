package producer

import (
	"context"
	"math"
	"testing"

	"github.com/wippyai/ffi-boundary/contract"
	"github.com/wippyai/ffi-boundary/errors"
	"github.com/wippyai/ffi-boundary/ledger"
	"github.com/wippyai/ffi-boundary/memory"
	"github.com/wippyai/ffi-boundary/transcoder"
)

func newLibrary(t *testing.T, strict bool) (*Library, *memory.Heap) {
	t.Helper()
	mem := memory.NewLinear(1, 4)
	heap := memory.NewHeap(mem, memory.HeapOptions{Poison: strict})
	return New(mem, heap, ledger.NewTable(), Options{Strict: strict}), heap
}

func exportsByName(lib *Library) map[string]Export {
	m := make(map[string]Export)
	for _, e := range lib.Exports() {
		m[e.Name] = e
	}
	return m
}

func call(t *testing.T, lib *Library, name string, params ...uint64) []uint64 {
	t.Helper()
	exp, ok := exportsByName(lib)[name]
	if !ok {
		t.Fatalf("no export %q", name)
	}
	stack := make([]uint64, max(len(exp.Params), len(exp.Results)))
	copy(stack, params)
	exp.Fn(context.Background(), nil, stack)
	return stack[:len(exp.Results)]
}

func TestExportsMatchContract(t *testing.T) {
	lib, _ := newLibrary(t, false)
	exports := lib.Exports()
	if len(exports) != len(contract.Signatures) {
		t.Fatalf("Expected %d exports, got %d", len(contract.Signatures), len(exports))
	}
	for i, e := range exports {
		if e.Fn == nil {
			t.Errorf("Export %s has no function", e.Name)
		}
		if e.Name != contract.Signatures[i].Name {
			t.Errorf("Export %d: expected %s, got %s", i, contract.Signatures[i].Name, e.Name)
		}
	}
}

func TestFlatScalars(t *testing.T) {
	lib, _ := newLibrary(t, false)

	call(t, lib, contract.FnPing)
	call(t, lib, contract.FnPassCInt, transcoder.LowerS32(-3))
	call(t, lib, contract.FnPassInt32, transcoder.LowerS32(math.MinInt32))

	got := call(t, lib, contract.FnGetCInt)
	if transcoder.LiftS32(got[0]) != 56 {
		t.Fatalf("get_cint returned %d", transcoder.LiftS32(got[0]))
	}

	stats := lib.Stats()
	if stats.LastCInt != -3 || stats.LastInt32 != math.MinInt32 {
		t.Fatalf("Unexpected stats %+v", stats)
	}
	if stats.Calls[contract.FnPing] != 1 {
		t.Fatalf("Expected 1 ping, got %d", stats.Calls[contract.FnPing])
	}
}

func TestFlatPointHandle(t *testing.T) {
	lib, _ := newLibrary(t, false)
	res := call(t, lib, contract.FnGetPoint, transcoder.LowerS32(7), transcoder.LowerS32(-8))
	h := ledger.Handle(transcoder.LiftU32(res[0]))
	if h == ledger.Null {
		t.Fatal("Expected a handle")
	}

	e, ok := lib.Ledger().Get(h)
	if !ok {
		t.Fatal("Handle not in ledger")
	}
	if e.Owner != ledger.SideConsumer || e.TypeID != contract.TypePoint || e.Policy != contract.PolicyUnspecified {
		t.Fatalf("Unexpected entry %+v", e)
	}
	p, err := contract.LoadPoint(e.Rep, lib.Memory())
	if err != nil {
		t.Fatal(err)
	}
	if p != (contract.Point{X: 7, Y: -8}) {
		t.Fatalf("Unexpected point %+v", p)
	}
}

func TestFlatFloatKeepsBits(t *testing.T) {
	lib, _ := newLibrary(t, false)
	bits := uint32(0x7fc12345)
	res := call(t, lib, contract.FnGetFloatNumber, uint64(bits))
	e, _ := lib.Ledger().Get(ledger.Handle(transcoder.LiftU32(res[0])))

	n, err := contract.LoadNumber(e.Rep, lib.Memory())
	if err != nil {
		t.Fatal(err)
	}
	if got := math.Float32bits(float32(n.(contract.Float))); got != bits {
		t.Fatalf("Expected bits %#x, got %#x", bits, got)
	}
}

func TestFlatFreeStatus(t *testing.T) {
	lib, heap := newLibrary(t, true)

	res := call(t, lib, contract.FnGetNamedCollection)
	h := res[0]
	if h == 0 {
		t.Fatal("Expected a handle")
	}

	status := call(t, lib, contract.FnFreeNamedCollection, h)
	if contract.Status(status[0]) != contract.StatusOK {
		t.Fatalf("First free: status %s", contract.Status(status[0]))
	}
	if heap.Stats().LiveBlocks != 0 {
		t.Fatalf("Expected no live blocks, got %d", heap.Stats().LiveBlocks)
	}

	status = call(t, lib, contract.FnFreeNamedCollection, h)
	if contract.Status(status[0]) != contract.StatusDoubleRelease {
		t.Fatalf("Second free: status %s", contract.Status(status[0]))
	}
	last := call(t, lib, contract.FnLastError)
	if contract.Status(last[0]) != contract.StatusDoubleRelease {
		t.Fatalf("last_error: %s", contract.Status(last[0]))
	}
}

func TestFreeWrongType(t *testing.T) {
	lib, _ := newLibrary(t, false)
	h, err := lib.GetIntegerNumber(1)
	if err != nil {
		t.Fatal(err)
	}
	if err := lib.FreeNamedCollection(h); !errors.IsKind(err, errors.KindNoReleasePath) {
		t.Fatalf("Expected no release path, got %v", err)
	}
	if lib.LastError() != contract.StatusNoReleasePath {
		t.Fatalf("Unexpected last error %s", lib.LastError())
	}
}

func TestMakeNamedCollection(t *testing.T) {
	lib, heap := newLibrary(t, true)

	name, _ := lib.Realloc(0, 0, 1, 4)
	_ = lib.Memory().Write(name, []byte("abc\x00"))
	vals, _ := lib.Realloc(0, 0, 4, 8)
	_ = lib.Memory().WriteU32(vals, 11)
	_ = lib.Memory().WriteU32(vals+4, uint32(0xfffffffe))

	h, err := lib.MakeNamedCollection(name, vals, 2)
	if err != nil {
		t.Fatalf("MakeNamedCollection failed: %v", err)
	}

	// The collection owns copies; the staging can go.
	if _, err := lib.Realloc(name, 4, 1, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := lib.Realloc(vals, 8, 4, 0); err != nil {
		t.Fatal(err)
	}

	e, _ := lib.Ledger().Get(h)
	c, err := contract.LoadCollection(e.Rep, lib.Memory())
	if err != nil {
		t.Fatal(err)
	}
	if c.Name != "abc" || len(c.Values) != 2 || c.Values[0] != 11 || c.Values[1] != -2 {
		t.Fatalf("Unexpected collection %+v", c)
	}

	if err := lib.FreeNamedCollection(h); err != nil {
		t.Fatal(err)
	}
	if heap.Stats().LiveBlocks != 0 {
		t.Fatalf("Expected no live blocks, got %d", heap.Stats().LiveBlocks)
	}
}

func TestMakeNamedCollectionBadStaging(t *testing.T) {
	lib, _ := newLibrary(t, false)

	if _, err := lib.MakeNamedCollection(0, 0, 0); !errors.IsKind(err, errors.KindInvalidInput) {
		t.Fatalf("Null name: expected invalid input, got %v", err)
	}

	name, _ := lib.Realloc(0, 0, 1, 2)
	_ = lib.Memory().Write(name, []byte("x\x00"))
	if _, err := lib.MakeNamedCollection(name, 0, 3); !errors.IsKind(err, errors.KindInvalidInput) {
		t.Fatalf("Null values with count: expected invalid input, got %v", err)
	}
	if _, err := lib.MakeNamedCollection(name, lib.Memory().(*memory.Linear).Size()-4, 3); !errors.IsKind(err, errors.KindOutOfBounds) {
		t.Fatalf("Values past the end: expected out of bounds, got %v", err)
	}
	if lib.LastError() != contract.StatusOutOfBounds {
		t.Fatalf("Unexpected last error %s", lib.LastError())
	}

	res := call(t, lib, contract.FnMakeNamedCollection, 0, 0, 0)
	if res[0] != 0 {
		t.Fatal("Expected the null handle")
	}
}

func TestStrictAuditCatchesCorruption(t *testing.T) {
	lib, heap := newLibrary(t, true)
	h, err := lib.GetNamedCollection()
	if err != nil {
		t.Fatal(err)
	}
	e, _ := lib.Ledger().Get(h)

	// Claim one more element than the buffer holds.
	if err := lib.Memory().WriteU32(e.Rep+contract.NamedCollectionLayout.FieldOffs[contract.FieldLen], 4); err != nil {
		t.Fatal(err)
	}
	if err := lib.FreeNamedCollection(h); !errors.IsKind(err, errors.KindInvalidData) {
		t.Fatalf("Expected invalid data, got %v", err)
	}

	// The handle is live again and nothing was freed.
	if entry, ok := lib.Ledger().Get(h); !ok || entry.State != ledger.StateLive {
		t.Fatalf("Expected live handle after failed audit, got %+v", entry)
	}
	if heap.Stats().Frees != 0 {
		t.Fatalf("Expected no frees, got %d", heap.Stats().Frees)
	}

	_ = lib.Memory().WriteU32(e.Rep+contract.NamedCollectionLayout.FieldOffs[contract.FieldLen], 3)
	if err := lib.FreeNamedCollection(h); err != nil {
		t.Fatalf("Free after repair failed: %v", err)
	}
}

func TestAllocationFailureReturnsNull(t *testing.T) {
	mem := memory.NewLinear(1, 1)
	heap := memory.NewHeap(mem, memory.HeapOptions{})
	coll := contract.Collection{Name: "huge", Values: make([]int32, 20000)}
	lib := New(mem, heap, ledger.NewTable(), Options{Collection: &coll})

	res := call(t, lib, contract.FnGetNamedCollection)
	if res[0] != 0 {
		t.Fatal("Expected the null handle")
	}
	if lib.LastError() != contract.StatusAllocation {
		t.Fatalf("Expected allocation status, got %s", lib.LastError())
	}
	if heap.Stats().LiveBlocks != 0 {
		t.Fatalf("Failed acquire leaked %d blocks", heap.Stats().LiveBlocks)
	}
	if lib.Ledger().Len() != 0 {
		t.Fatal("Failed acquire registered a handle")
	}
}

func TestFlatBorrowYieldsAddress(t *testing.T) {
	lib, _ := newLibrary(t, false)
	h := call(t, lib, contract.FnGetPoint, transcoder.LowerS32(1), transcoder.LowerS32(2))[0]

	addr := transcoder.LiftU32(call(t, lib, contract.FnBorrow, h)[0])
	if addr == 0 {
		t.Fatalf("borrow failed: %s", lib.LastError())
	}
	x, _ := lib.Memory().ReadU32(addr + contract.PointLayout.FieldOffs["x"])
	y, _ := lib.Memory().ReadU32(addr + contract.PointLayout.FieldOffs["y"])
	if int32(x) != 1 || int32(y) != 2 {
		t.Fatalf("Expected {1, 2} at %d, got {%d, %d}", addr, int32(x), int32(y))
	}
	if s := contract.Status(call(t, lib, contract.FnReturnBorrow, h)[0]); s != contract.StatusOK {
		t.Fatalf("return_borrow: %s", s)
	}
	if s := contract.Status(call(t, lib, contract.FnReturnBorrow, h)[0]); s != contract.StatusInvalidInput {
		t.Fatalf("Unbalanced return_borrow: %s", s)
	}
}

func TestFlatBorrowBlocksRelease(t *testing.T) {
	lib, _ := newLibrary(t, false)
	h := call(t, lib, contract.FnGetNamedCollection)[0]

	addr := transcoder.LiftU32(call(t, lib, contract.FnBorrow, h)[0])
	parts, err := contract.LoadCollectionParts(addr, lib.Memory())
	if err != nil {
		t.Fatal(err)
	}
	if parts.Len != 3 {
		t.Fatalf("Expected len 3, got %d", parts.Len)
	}

	if s := contract.Status(call(t, lib, contract.FnFreeNamedCollection, h)[0]); s != contract.StatusOutstandingBorrow {
		t.Fatalf("Free while borrowed: %s", s)
	}
	call(t, lib, contract.FnReturnBorrow, h)
	if s := contract.Status(call(t, lib, contract.FnFreeNamedCollection, h)[0]); s != contract.StatusOK {
		t.Fatalf("Free: %s", s)
	}

	if addr := call(t, lib, contract.FnBorrow, h)[0]; addr != 0 {
		t.Fatalf("Borrow after release returned %d", addr)
	}
	if lib.LastError() != contract.StatusUseAfterRelease {
		t.Fatalf("Unexpected last error %s", lib.LastError())
	}
}

func TestFreeNullHandle(t *testing.T) {
	lib, _ := newLibrary(t, false)
	status := call(t, lib, contract.FnFreeNamedCollection, 0)
	if contract.Status(status[0]) != contract.StatusOK {
		t.Fatalf("free(NULL): status %s", contract.Status(status[0]))
	}
	if lib.LastError() != contract.StatusOK {
		t.Fatalf("free(NULL) set last error %s", lib.LastError())
	}
	if lib.Stats().Failures != 0 {
		t.Fatalf("free(NULL) counted as a failure")
	}
}
