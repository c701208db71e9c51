package consumer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/ffi-boundary/contract"
	"github.com/wippyai/ffi-boundary/errors"
	"github.com/wippyai/ffi-boundary/ledger"
	"github.com/wippyai/ffi-boundary/memory"
	"github.com/wippyai/ffi-boundary/producer"
)

func newClient(t *testing.T) (*Client, *producer.Library, *memory.Heap) {
	t.Helper()
	mem := memory.NewLinear(1, 4)
	heap := memory.NewHeap(mem, memory.HeapOptions{Poison: true})
	table := ledger.NewTable()
	lib := producer.New(mem, heap, table, producer.Options{Strict: true})
	return NewClient(NewDirectInvoker(lib.Exports()), mem, nil), lib, heap
}

func TestDirectInvokerChecksArity(t *testing.T) {
	c, _, _ := newClient(t)
	ctx := context.Background()

	_, err := c.inv.Call(ctx, contract.FnGetPoint, 1)
	assert.True(t, errors.IsKind(err, errors.KindInvalidInput), "got %v", err)

	_, err = c.inv.Call(ctx, "free_point")
	assert.True(t, errors.IsKind(err, errors.KindNotFound), "got %v", err)
}

func TestRefsBorrowOnlyDuringRead(t *testing.T) {
	c, lib, _ := newClient(t)
	ctx := context.Background()

	p, err := c.NewPoint(ctx, 3, 4)
	require.NoError(t, err)
	_, err = p.Read(ctx)
	require.NoError(t, err)

	e, ok := lib.Ledger().Get(p.Handle())
	require.True(t, ok)
	assert.Zero(t, e.Borrows)
	assert.Equal(t, ledger.SideConsumer, e.Owner)
}

func TestTakeMovesHandle(t *testing.T) {
	c, _, _ := newClient(t)
	ctx := context.Background()

	n, err := c.NewNumber(ctx, contract.Float(2.5))
	require.NoError(t, err)
	h, err := n.Take()
	require.NoError(t, err)
	assert.NotEqual(t, ledger.Null, h)
	assert.True(t, n.Moved())

	_, err = n.Take()
	assert.True(t, errors.IsKind(err, errors.KindUseAfterRelease))
	_, err = n.Read(ctx)
	assert.True(t, errors.IsKind(err, errors.KindUseAfterRelease))
}

func TestNewNumberDispatch(t *testing.T) {
	c, _, _ := newClient(t)
	ctx := context.Background()

	for _, want := range []contract.Number{contract.Integer(-9), contract.Float(0.25)} {
		ref, err := c.NewNumber(ctx, want)
		require.NoError(t, err)
		got, err := ref.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := c.NewNumber(ctx, nil)
	assert.Error(t, err)
}

func TestReleaseFailureKeepsRef(t *testing.T) {
	c, lib, _ := newClient(t)
	ctx := context.Background()

	coll, err := c.AcquireCollection(ctx)
	require.NoError(t, err)

	// Hold a borrow so the release is refused.
	_, err = lib.Ledger().Borrow(coll.Handle(), ledger.SideConsumer)
	require.NoError(t, err)
	err = coll.Release(ctx)
	assert.True(t, errors.IsKind(err, errors.KindOutstandingBorrow), "got %v", err)
	assert.False(t, coll.Moved())

	require.NoError(t, lib.Ledger().ReturnBorrow(coll.Handle()))
	require.NoError(t, coll.Release(ctx))
	assert.True(t, coll.Moved())
}

func TestMakeCollectionFreesStaging(t *testing.T) {
	c, _, heap := newClient(t)
	ctx := context.Background()

	coll, err := c.MakeCollection(ctx, "demo", []int32{10, 20, 30})
	require.NoError(t, err)
	// Only the collection's own three blocks remain.
	assert.Equal(t, 3, heap.Stats().LiveBlocks)

	n, err := coll.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), n)
	require.NoError(t, coll.Release(ctx))
	assert.Zero(t, heap.Stats().LiveBlocks)
}

func TestLastErrorAfterNullHandle(t *testing.T) {
	mem := memory.NewLinear(1, 1)
	heap := memory.NewHeap(mem, memory.HeapOptions{})
	table := ledger.NewTable()
	big := contract.Collection{Name: "big", Values: make([]int32, 20000)}
	lib := producer.New(mem, heap, table, producer.Options{Collection: &big})
	c := NewClient(NewDirectInvoker(lib.Exports()), mem, nil)

	_, err := c.AcquireCollection(context.Background())
	assert.True(t, errors.IsKind(err, errors.KindAllocation), "got %v", err)
}

func TestMakeCollectionKeepsNameBytes(t *testing.T) {
	c, _, _ := newClient(t)
	ctx := context.Background()

	// "e" followed by a combining acute accent is not NFC and must come back
	// byte for byte.
	for _, name := range []string{"Cafe\u0301", "Caf\u00e9", "\xff\xfe", ""} {
		ref, err := c.MakeCollection(ctx, name, []int32{1})
		require.NoError(t, err)
		got, err := ref.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, []byte(name), []byte(got.Name))
		require.NoError(t, ref.Release(ctx))
	}
}

func TestReadBorrowsThroughEntryPoints(t *testing.T) {
	c, lib, _ := newClient(t)
	ctx := context.Background()

	p, err := c.NewPoint(ctx, 1, 2)
	require.NoError(t, err)
	got, err := p.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, contract.Point{X: 1, Y: 2}, got)

	calls := lib.Stats().Calls
	assert.Equal(t, uint64(1), calls[contract.FnBorrow])
	assert.Equal(t, uint64(1), calls[contract.FnReturnBorrow])
}

func TestMakeCollectionRejectsInteriorNUL(t *testing.T) {
	c, _, heap := newClient(t)

	_, err := c.MakeCollection(context.Background(), "a\x00b", []int32{1})
	assert.True(t, errors.IsKind(err, errors.KindInvalidInput), "got %v", err)
	assert.Zero(t, heap.Stats().LiveBlocks)
}
