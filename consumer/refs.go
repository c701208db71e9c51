package consumer

import (
	"context"
	"sync/atomic"

	"github.com/wippyai/ffi-boundary/contract"
	"github.com/wippyai/ffi-boundary/errors"
	"github.com/wippyai/ffi-boundary/ledger"
)

// ref is a consumer-owned handle with a moved-from guard. Once moved, by
// Take or by a successful Release, every use is refused.
type ref struct {
	c     *Client
	h     ledger.Handle
	moved atomic.Bool
}

// Handle returns the handle, or the null handle once moved.
func (r *ref) Handle() ledger.Handle {
	if r.moved.Load() {
		return ledger.Null
	}
	return r.h
}

// Moved reports whether the reference has given up its handle.
func (r *ref) Moved() bool {
	return r.moved.Load()
}

// Take moves the handle out of the reference. The reference is unusable
// afterwards; the caller now owns the handle.
func (r *ref) Take() (ledger.Handle, error) {
	if !r.moved.CompareAndSwap(false, true) {
		return ledger.Null, errors.UseAfterRelease(errors.PhaseTransfer, uint32(r.h))
	}
	return r.h, nil
}

// with borrows the handle through the borrow entry point for the duration
// of fn and passes it the block address.
func (r *ref) with(ctx context.Context, fn func(addr uint32) error) error {
	if r.moved.Load() {
		return errors.UseAfterRelease(errors.PhaseDecode, uint32(r.h))
	}
	addr, err := r.c.borrow(ctx, r.h)
	if err != nil {
		return err
	}
	ferr := fn(addr)
	if err := r.c.returnBorrow(ctx, r.h); err != nil && ferr == nil {
		ferr = err
	}
	return ferr
}

// PointRef is a Point owned by the consumer. The contract has no release
// entry point for it.
type PointRef struct {
	ref
}

// Read copies the Point out of shared memory.
func (p *PointRef) Read(ctx context.Context) (contract.Point, error) {
	var out contract.Point
	err := p.with(ctx, func(addr uint32) error {
		var err error
		out, err = contract.LoadPoint(addr, p.c.mem)
		return err
	})
	return out, err
}

// NumberRef is a Number owned by the consumer. The contract has no release
// entry point for it.
type NumberRef struct {
	ref
}

// Read decodes the Number. An unknown discriminant is an error.
func (n *NumberRef) Read(ctx context.Context) (contract.Number, error) {
	var out contract.Number
	err := n.with(ctx, func(addr uint32) error {
		var err error
		out, err = contract.LoadNumber(addr, n.c.mem)
		return err
	})
	return out, err
}

// CollectionRef is a NamedCollection owned by the consumer. It must be
// released exactly once.
type CollectionRef struct {
	ref
}

// Read copies the name and exactly Len values out of shared memory.
func (c *CollectionRef) Read(ctx context.Context) (contract.Collection, error) {
	var out contract.Collection
	err := c.with(ctx, func(addr uint32) error {
		var err error
		out, err = contract.LoadCollection(addr, c.c.mem)
		return err
	})
	return out, err
}

// Len returns the element count without copying the values.
func (c *CollectionRef) Len(ctx context.Context) (uint32, error) {
	var n uint32
	err := c.with(ctx, func(addr uint32) error {
		parts, err := contract.LoadCollectionParts(addr, c.c.mem)
		n = parts.Len
		return err
	})
	return n, err
}

// Release calls free_named_collection. A second Release is refused locally
// with KindDoubleRelease and never reaches the producer.
func (c *CollectionRef) Release(ctx context.Context) error {
	if c.moved.Load() {
		return errors.DoubleRelease(uint32(c.h))
	}
	if err := c.c.ReleaseHandle(ctx, c.h); err != nil {
		return err
	}
	c.moved.Store(true)
	return nil
}
