package consumer

import (
	"context"

	"go.uber.org/zap"

	ffiboundary "github.com/wippyai/ffi-boundary"
	"github.com/wippyai/ffi-boundary/contract"
	"github.com/wippyai/ffi-boundary/errors"
	"github.com/wippyai/ffi-boundary/ledger"
	"github.com/wippyai/ffi-boundary/transcoder"
)

// Client issues typed calls across the boundary.
type Client struct {
	inv Invoker
	mem ffiboundary.Memory
	log *zap.Logger
}

// NewClient creates a client that calls through inv and reads results out
// of mem at the addresses the borrow entry point hands out. A nil logger
// uses the package logger.
func NewClient(inv Invoker, mem ffiboundary.Memory, log *zap.Logger) *Client {
	if log == nil {
		log = Logger()
	}
	return &Client{inv: inv, mem: mem, log: log.Named("consumer")}
}

func (c *Client) call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	results, err := c.inv.Call(ctx, name, params...)
	if err != nil {
		return nil, err
	}
	if err := expectResults(name, results); err != nil {
		return nil, err
	}
	return results, nil
}

// Ping calls the no-argument entry point.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, contract.FnPing)
	return err
}

// PassCInt passes v as a C int.
func (c *Client) PassCInt(ctx context.Context, v int32) error {
	_, err := c.call(ctx, contract.FnPassCInt, transcoder.LowerS32(v))
	return err
}

// PassInt32 passes v as an int32.
func (c *Client) PassInt32(ctx context.Context, v int32) error {
	_, err := c.call(ctx, contract.FnPassInt32, transcoder.LowerS32(v))
	return err
}

// PassInt lowers a Go int, refusing values that do not fit a C int.
func (c *Client) PassInt(ctx context.Context, v int64) error {
	n, err := transcoder.NarrowS32(v)
	if err != nil {
		return err
	}
	return c.PassCInt(ctx, n)
}

// GetCInt returns the producer's C int.
func (c *Client) GetCInt(ctx context.Context) (int32, error) {
	results, err := c.call(ctx, contract.FnGetCInt)
	if err != nil {
		return 0, err
	}
	return transcoder.LiftS32(results[0]), nil
}

// LastError returns the status of the producer's most recent failed call.
func (c *Client) LastError(ctx context.Context) (contract.Status, error) {
	results, err := c.call(ctx, contract.FnLastError)
	if err != nil {
		return contract.StatusOK, err
	}
	return contract.Status(transcoder.LiftS32(results[0])), nil
}

// handle lifts a returned handle. The null handle is turned into the error
// last_error describes.
func (c *Client) handle(ctx context.Context, name string, results []uint64) (ledger.Handle, error) {
	h := ledger.Handle(transcoder.LiftU32(results[0]))
	if h != ledger.Null {
		return h, nil
	}
	status, err := c.LastError(ctx)
	if err != nil {
		return ledger.Null, err
	}
	if status == contract.StatusOK {
		status = contract.StatusInvalidInput
	}
	return ledger.Null, status.Err(errors.PhaseCall, name+" returned the null handle")
}

func (c *Client) acquire(ctx context.Context, name string, params ...uint64) (ledger.Handle, error) {
	results, err := c.call(ctx, name, params...)
	if err != nil {
		return ledger.Null, err
	}
	h, err := c.handle(ctx, name, results)
	if err != nil {
		return ledger.Null, err
	}
	c.log.Debug("acquired", zap.String("fn", name), zap.Stringer("handle", h))
	return h, nil
}

// NewPoint asks the producer for a Point.
func (c *Client) NewPoint(ctx context.Context, x, y int32) (*PointRef, error) {
	h, err := c.acquire(ctx, contract.FnGetPoint, transcoder.LowerS32(x), transcoder.LowerS32(y))
	if err != nil {
		return nil, err
	}
	return &PointRef{ref{c: c, h: h}}, nil
}

// NewInteger asks the producer for Number::Integer(v).
func (c *Client) NewInteger(ctx context.Context, v int32) (*NumberRef, error) {
	h, err := c.acquire(ctx, contract.FnGetIntegerNumber, transcoder.LowerS32(v))
	if err != nil {
		return nil, err
	}
	return &NumberRef{ref{c: c, h: h}}, nil
}

// NewFloat asks the producer for Number::Float(v).
func (c *Client) NewFloat(ctx context.Context, v float32) (*NumberRef, error) {
	h, err := c.acquire(ctx, contract.FnGetFloatNumber, transcoder.LowerF32(v))
	if err != nil {
		return nil, err
	}
	return &NumberRef{ref{c: c, h: h}}, nil
}

// NewNumber dispatches to NewInteger or NewFloat.
func (c *Client) NewNumber(ctx context.Context, n contract.Number) (*NumberRef, error) {
	if n == nil {
		return nil, errors.InvalidInput(errors.PhaseCall, "nil Number")
	}
	switch v := n.(type) {
	case contract.Integer:
		return c.NewInteger(ctx, int32(v))
	case contract.Float:
		return c.NewFloat(ctx, float32(v))
	}
	return nil, errors.Unsupported(errors.PhaseCall, "Number implementation")
}

// AcquireCollection asks the producer for its named collection. The caller
// must Release it.
func (c *Client) AcquireCollection(ctx context.Context) (*CollectionRef, error) {
	h, err := c.acquire(ctx, contract.FnGetNamedCollection)
	if err != nil {
		return nil, err
	}
	return &CollectionRef{ref{c: c, h: h}}, nil
}

// MakeCollection stages name and values in shared memory, asks the producer
// to build a collection from them and frees the staging buffers again. The
// caller must Release the result.
func (c *Client) MakeCollection(ctx context.Context, name string, values []int32) (out *CollectionRef, err error) {
	st := stager{c: c}
	defer func() {
		if ferr := st.free(ctx); ferr != nil && err == nil {
			err = ferr
		}
	}()

	namePtr, err := st.cstring(ctx, name)
	if err != nil {
		return nil, err
	}
	valuesPtr, err := st.int32s(ctx, values)
	if err != nil {
		return nil, err
	}

	h, err := c.acquire(ctx, contract.FnMakeNamedCollection,
		transcoder.LowerU32(namePtr),
		transcoder.LowerU32(valuesPtr),
		transcoder.LowerU32(uint32(len(values))))
	if err != nil {
		return nil, err
	}
	return &CollectionRef{ref{c: c, h: h}}, nil
}

// ReleaseHandle calls free_named_collection on a raw handle and turns the
// returned status into an error.
func (c *Client) ReleaseHandle(ctx context.Context, h ledger.Handle) error {
	results, err := c.call(ctx, contract.FnFreeNamedCollection, transcoder.LowerU32(uint32(h)))
	if err != nil {
		return err
	}
	status := contract.Status(transcoder.LiftS32(results[0]))
	if status != contract.StatusOK {
		c.log.Debug("release refused", zap.Stringer("handle", h), zap.Stringer("status", status))
		return status.Err(errors.PhaseRelease, contract.FnFreeNamedCollection+" "+h.String())
	}
	return nil
}

// borrow calls the borrow entry point and returns the block address.
func (c *Client) borrow(ctx context.Context, h ledger.Handle) (uint32, error) {
	results, err := c.call(ctx, contract.FnBorrow, transcoder.LowerU32(uint32(h)))
	if err != nil {
		return 0, err
	}
	addr := transcoder.LiftU32(results[0])
	if addr != 0 {
		return addr, nil
	}
	status, err := c.LastError(ctx)
	if err != nil {
		return 0, err
	}
	return 0, status.Err(errors.PhaseDecode, contract.FnBorrow+" "+h.String())
}

// returnBorrow calls the return_borrow entry point.
func (c *Client) returnBorrow(ctx context.Context, h ledger.Handle) error {
	results, err := c.call(ctx, contract.FnReturnBorrow, transcoder.LowerU32(uint32(h)))
	if err != nil {
		return err
	}
	return contract.Status(transcoder.LiftS32(results[0])).Err(errors.PhaseDecode, contract.FnReturnBorrow+" "+h.String())
}

// realloc calls cabi_realloc.
func (c *Client) realloc(ctx context.Context, ptr, oldSize, align, newSize uint32) (uint32, error) {
	results, err := c.call(ctx, contract.FnRealloc,
		transcoder.LowerU32(ptr),
		transcoder.LowerU32(oldSize),
		transcoder.LowerU32(align),
		transcoder.LowerU32(newSize))
	if err != nil {
		return 0, err
	}
	out := transcoder.LiftU32(results[0])
	if out == 0 && newSize != 0 {
		status, lerr := c.LastError(ctx)
		if lerr != nil {
			return 0, lerr
		}
		return 0, status.Err(errors.PhaseAlloc, contract.FnRealloc)
	}
	return out, nil
}
