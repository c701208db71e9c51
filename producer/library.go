package producer

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	ffiboundary "github.com/wippyai/ffi-boundary"
	"github.com/wippyai/ffi-boundary/contract"
	"github.com/wippyai/ffi-boundary/errors"
	"github.com/wippyai/ffi-boundary/layout"
	"github.com/wippyai/ffi-boundary/ledger"
	"github.com/wippyai/ffi-boundary/transcoder"
)

// DefaultCollection is what get_named_collection returns unless configured.
var DefaultCollection = contract.Collection{Name: "Primes", Values: []int32{5, 6, 7}}

// Options configures a Library.
type Options struct {
	// Collection is returned by get_named_collection. Zero means
	// DefaultCollection.
	Collection *contract.Collection
	// Strict checks every block against the allocator's records before a
	// collection is freed.
	Strict bool
	Logger *zap.Logger
}

// BlockSizer reports the requested size of a live block.
type BlockSizer interface {
	BlockSize(ptr uint32) (uint32, bool)
}

// Stats counts entry point activity.
type Stats struct {
	Calls     map[string]uint64
	Failures  uint64
	LastCInt  int32
	LastInt32 int32
}

// Library implements the contract entry points over a shared memory, an
// allocator and the ownership ledger.
type Library struct {
	mem    ffiboundary.Memory
	alloc  ffiboundary.Allocator
	ledger *ledger.Table
	dec    *transcoder.Decoder
	log    *zap.Logger
	coll   contract.Collection
	calls  map[string]uint64
	strict bool

	lastErr   atomic.Int32
	failures  atomic.Uint64
	lastCInt  atomic.Int32
	lastInt32 atomic.Int32
	mu        sync.Mutex
}

// New creates a Library. alloc must hand out blocks inside mem.
func New(mem ffiboundary.Memory, alloc ffiboundary.Allocator, table *ledger.Table, opts Options) *Library {
	coll := DefaultCollection
	if opts.Collection != nil {
		coll = *opts.Collection
	}
	log := opts.Logger
	if log == nil {
		log = Logger()
	}
	return &Library{
		mem:    mem,
		alloc:  alloc,
		ledger: table,
		dec:    transcoder.NewDecoderWithCalculator(contract.Calc),
		log:    log.Named("producer"),
		coll:   coll,
		calls:  make(map[string]uint64),
		strict: opts.Strict,
	}
}

// Memory returns the shared memory.
func (l *Library) Memory() ffiboundary.Memory { return l.mem }

// Ledger returns the ownership ledger.
func (l *Library) Ledger() *ledger.Table { return l.ledger }

func (l *Library) count(name string) {
	l.mu.Lock()
	l.calls[name]++
	l.mu.Unlock()
}

// fail records err as the last error and returns it.
func (l *Library) fail(name string, err error) error {
	status := contract.StatusOf(err)
	l.lastErr.Store(int32(status))
	l.failures.Add(1)
	l.log.Debug("entry point failed",
		zap.String("fn", name),
		zap.Stringer("status", status),
		zap.Error(err))
	return err
}

// Ping is the no-argument call.
func (l *Library) Ping() {
	l.count(contract.FnPing)
	l.log.Info("ping")
}

// PassCInt receives a C int.
func (l *Library) PassCInt(v int32) {
	l.count(contract.FnPassCInt)
	l.lastCInt.Store(v)
	l.log.Debug("received cint", zap.Int32("value", v))
}

// PassInt32 receives an int32.
func (l *Library) PassInt32(v int32) {
	l.count(contract.FnPassInt32)
	l.lastInt32.Store(v)
	l.log.Debug("received int32", zap.Int32("value", v))
}

// GetCInt returns contract.CIntValue.
func (l *Library) GetCInt() int32 {
	l.count(contract.FnGetCInt)
	return contract.CIntValue
}

// publish registers a freshly built block and hands it to the consumer. The
// block is freed again if it cannot be published.
func (l *Library) publish(name string, t contract.TypeID, ptr uint32) (ledger.Handle, error) {
	h, err := l.ledger.Register(t, ptr, t.Policy())
	if err == nil {
		err = l.ledger.Transfer(h, ledger.SideProducer, ledger.SideConsumer)
	}
	if err != nil {
		// The block never reached the consumer; nothing else can free it.
		wt, _ := t.Layout()
		info := contract.Calc.Calculate(wt)
		if t == contract.TypeNamedCollection {
			_ = contract.FreeCollection(ptr, l.mem, l.alloc)
		} else {
			_ = l.alloc.Free(ptr, info.Size, info.Align)
		}
		return ledger.Null, l.fail(name, err)
	}
	l.log.Debug("published",
		zap.String("fn", name),
		zap.Stringer("handle", h),
		zap.Stringer("type", t),
		zap.Uint32("rep", ptr))
	return h, nil
}

// GetPoint allocates a Point and transfers it to the consumer.
func (l *Library) GetPoint(x, y int32) (ledger.Handle, error) {
	l.count(contract.FnGetPoint)
	ptr, err := contract.NewPoint(contract.Point{X: x, Y: y}, l.mem, l.alloc)
	if err != nil {
		return ledger.Null, l.fail(contract.FnGetPoint, err)
	}
	return l.publish(contract.FnGetPoint, contract.TypePoint, ptr)
}

// GetIntegerNumber allocates Number::Integer(v).
func (l *Library) GetIntegerNumber(v int32) (ledger.Handle, error) {
	l.count(contract.FnGetIntegerNumber)
	return l.number(contract.FnGetIntegerNumber, contract.Integer(v))
}

// GetFloatNumber allocates Number::Float(v). The payload bits are stored
// unchanged, NaN payloads included.
func (l *Library) GetFloatNumber(v float32) (ledger.Handle, error) {
	l.count(contract.FnGetFloatNumber)
	return l.number(contract.FnGetFloatNumber, contract.Float(v))
}

func (l *Library) number(name string, n contract.Number) (ledger.Handle, error) {
	ptr, err := contract.NewNumber(n, l.mem, l.alloc)
	if err != nil {
		return ledger.Null, l.fail(name, err)
	}
	return l.publish(name, contract.TypeNumber, ptr)
}

// GetNamedCollection allocates a copy of the configured collection.
func (l *Library) GetNamedCollection() (ledger.Handle, error) {
	l.count(contract.FnGetNamedCollection)
	return l.collection(contract.FnGetNamedCollection, l.coll)
}

// MakeNamedCollection copies a caller-staged name and values buffer into a
// new collection. The staged memory stays owned by the caller.
func (l *Library) MakeNamedCollection(namePtr, valuesPtr, n uint32) (ledger.Handle, error) {
	l.count(contract.FnMakeNamedCollection)
	name, err := l.dec.DecodeCString(namePtr, l.mem, layout.MaxStringSize)
	if err != nil {
		return ledger.Null, l.fail(contract.FnMakeNamedCollection, invalidInput(err, contract.FieldName))
	}
	raw, err := l.dec.DecodeList(contract.ElementType, valuesPtr, n, l.mem)
	if err != nil {
		return ledger.Null, l.fail(contract.FnMakeNamedCollection, invalidInput(err, contract.FieldValues))
	}
	values := make([]int32, len(raw))
	for i, v := range raw {
		values[i] = transcoder.LiftS32(v)
	}
	return l.collection(contract.FnMakeNamedCollection, contract.Collection{Name: name, Values: values})
}

// invalidInput reclassifies decode failures of staged arguments. Out of
// bounds stays out of bounds so the caller can tell a bad address apart.
func invalidInput(err error, field string) error {
	if errors.IsKind(err, errors.KindOutOfBounds) {
		return err
	}
	return errors.New(errors.PhaseCall, errors.KindInvalidInput).
		Path(field).
		Cause(err).
		Detail("staged %s is not usable", field).
		Build()
}

func (l *Library) collection(name string, c contract.Collection) (ledger.Handle, error) {
	ptr, err := contract.NewCollection(c, l.mem, l.alloc)
	if err != nil {
		return ledger.Null, l.fail(name, err)
	}
	return l.publish(name, contract.TypeNamedCollection, ptr)
}

// FreeNamedCollection releases a collection owned by the consumer. The
// values buffer is freed first, then the name, then the container. Freeing
// the null handle does nothing, like free(NULL).
func (l *Library) FreeNamedCollection(h ledger.Handle) error {
	l.count(contract.FnFreeNamedCollection)
	if h == ledger.Null {
		return nil
	}

	// Only collections are paired, so BeginRelease refuses every other type
	// with KindNoReleasePath.
	e, err := l.ledger.BeginRelease(h, ledger.SideConsumer)
	if err != nil {
		return l.fail(contract.FnFreeNamedCollection, err)
	}

	if l.strict {
		if err := l.audit(e.Rep); err != nil {
			_ = l.ledger.AbortRelease(h)
			return l.fail(contract.FnFreeNamedCollection, err)
		}
	}

	freeErr := contract.FreeCollection(e.Rep, l.mem, l.alloc)
	// Once freeing has started the block is no longer intact, so the handle
	// is retired even when a child could not be freed.
	if err := l.ledger.FinishRelease(h); err != nil && freeErr == nil {
		freeErr = err
	}
	if freeErr != nil {
		return l.fail(contract.FnFreeNamedCollection, freeErr)
	}
	l.log.Debug("released", zap.Stringer("handle", h), zap.Uint32("rep", e.Rep))
	return nil
}

// Borrow returns the address of the block behind a consumer-owned handle.
// The block follows the layout of the handle's type until ReturnBorrow, and
// the handle cannot be released while borrowed.
func (l *Library) Borrow(h ledger.Handle) (uint32, error) {
	l.count(contract.FnBorrow)
	addr, err := l.ledger.Borrow(h, ledger.SideConsumer)
	if err != nil {
		return 0, l.fail(contract.FnBorrow, err)
	}
	return addr, nil
}

// ReturnBorrow ends one Borrow of h.
func (l *Library) ReturnBorrow(h ledger.Handle) error {
	l.count(contract.FnReturnBorrow)
	if err := l.ledger.ReturnBorrow(h); err != nil {
		return l.fail(contract.FnReturnBorrow, err)
	}
	return nil
}

// audit checks that the container and both children are live blocks of the
// sizes the container claims.
func (l *Library) audit(rep uint32) error {
	sizer, ok := l.alloc.(BlockSizer)
	if !ok {
		return nil
	}
	parts, err := contract.LoadCollectionParts(rep, l.mem)
	if err != nil {
		return err
	}
	name, err := l.dec.DecodeCString(parts.Name, l.mem, layout.MaxStringSize)
	if err != nil {
		return err
	}

	check := func(field string, ptr, want uint32) error {
		got, live := sizer.BlockSize(ptr)
		if !live {
			return errors.UseAfterRelease(errors.PhaseRelease, ptr)
		}
		if got != want {
			return errors.New(errors.PhaseRelease, errors.KindInvalidData).
				Path(field).
				Value(ptr).
				Detail("block holds %d bytes, layout says %d", got, want).
				Build()
		}
		return nil
	}
	if err := check("container", rep, contract.NamedCollectionLayout.Size); err != nil {
		return err
	}
	if err := check(contract.FieldValues, parts.Values, parts.ValuesSize()); err != nil {
		return err
	}
	return check(contract.FieldName, parts.Name, uint32(len(name))+1)
}

// Reallocator is an allocator that implements cabi_realloc itself.
type Reallocator interface {
	Realloc(ptr, oldSize, align, newSize uint32) (uint32, error)
}

// Realloc implements cabi_realloc for staging arguments in shared memory.
func (l *Library) Realloc(ptr, oldSize, align, newSize uint32) (uint32, error) {
	l.count(contract.FnRealloc)
	r, ok := l.alloc.(Reallocator)
	if !ok {
		return 0, l.fail(contract.FnRealloc, errors.Unsupported(errors.PhaseAlloc, "allocator has no realloc"))
	}
	out, err := r.Realloc(ptr, oldSize, align, newSize)
	if err != nil {
		return 0, l.fail(contract.FnRealloc, err)
	}
	return out, nil
}

// LastError returns the status of the most recent failed call.
func (l *Library) LastError() contract.Status {
	l.count(contract.FnLastError)
	return contract.Status(l.lastErr.Load())
}

// Stats returns a snapshot of the call counters.
func (l *Library) Stats() Stats {
	l.mu.Lock()
	calls := make(map[string]uint64, len(l.calls))
	for k, v := range l.calls {
		calls[k] = v
	}
	l.mu.Unlock()
	return Stats{
		Calls:     calls,
		Failures:  l.failures.Load(),
		LastCInt:  l.lastCInt.Load(),
		LastInt32: l.lastInt32.Load(),
	}
}
