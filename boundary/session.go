package boundary

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/ffi-boundary/config"
	"github.com/wippyai/ffi-boundary/consumer"
	"github.com/wippyai/ffi-boundary/contract"
	"github.com/wippyai/ffi-boundary/errors"
	"github.com/wippyai/ffi-boundary/ledger"
	"github.com/wippyai/ffi-boundary/memory"
	"github.com/wippyai/ffi-boundary/producer"
)

type options struct {
	log       *zap.Logger
	observers []ledger.Observer
	direct    bool
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the session logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithObserver subscribes o to the session ledger before any call is made.
func WithObserver(o ledger.Observer) Option {
	return func(opts *options) { opts.observers = append(opts.observers, o) }
}

// WithDirectCalls makes the consumer call the flat entry points in process
// instead of through the wazero call module, even when the memory lives in
// wazero.
func WithDirectCalls() Option {
	return func(o *options) { o.direct = true }
}

// Session is one producer, one consumer and the memory they share.
type Session struct {
	id      uuid.UUID
	cfg     config.Config
	log     *zap.Logger
	rt      wazero.Runtime
	callMod api.Module
	mem     memory.Sized
	heap    *memory.Heap
	ledger  *ledger.Table
	lib     *producer.Library
	client  *consumer.Client
	report  *Report
	mu      sync.Mutex
}

// Open builds a session from cfg.
func Open(ctx context.Context, cfg config.Config, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{log: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "session id")
	}

	s := &Session{
		id:     id,
		cfg:    cfg,
		log:    o.log.With(zap.String("session", id.String())),
		ledger: ledger.NewTable(),
	}

	var inv consumer.Invoker
	switch cfg.Memory.Backend {
	case config.BackendWazero:
		s.rt = wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithMemoryLimitPages(cfg.Memory.MaxPages))
		wm, err := memory.NewWazero(ctx, s.rt, cfg.Memory.Pages, cfg.Memory.MaxPages)
		if err != nil {
			_ = s.rt.Close(ctx)
			return nil, err
		}
		s.mem = wm
	default:
		s.mem = memory.NewLinear(cfg.Memory.Pages, cfg.Memory.MaxPages)
	}

	s.heap = memory.NewHeap(s.mem, memory.HeapOptions{Poison: cfg.Memory.Strict})

	s.ledger.Subscribe(ledger.NewZapObserver(s.log))
	for _, obs := range o.observers {
		s.ledger.Subscribe(obs)
	}

	coll := contract.Collection{Name: cfg.Collection.Name, Values: cfg.Collection.Values}
	s.lib = producer.New(s.mem, s.heap, s.ledger, producer.Options{
		Collection: &coll,
		Strict:     cfg.Memory.Strict,
		Logger:     s.log,
	})

	if s.rt != nil && !o.direct {
		s.callMod, err = producer.Bind(ctx, s.rt, s.lib)
		if err != nil {
			_ = s.rt.Close(ctx)
			return nil, errors.Wrap(errors.PhaseCall, errors.KindUnsupported, err, "bind host module")
		}
		inv = consumer.NewWazeroInvoker(s.callMod)
	} else {
		inv = consumer.NewDirectInvoker(s.lib.Exports())
	}
	s.client = consumer.NewClient(inv, s.mem, s.log)

	s.log.Info("session opened",
		zap.String("backend", cfg.Memory.Backend),
		zap.Uint32("pages", cfg.Memory.Pages),
		zap.Bool("strict", cfg.Memory.Strict),
		zap.Bool("direct", s.callMod == nil))
	return s, nil
}

// ID returns the session ID, a UUIDv7.
func (s *Session) ID() uuid.UUID { return s.id }

// Config returns the configuration the session was opened with.
func (s *Session) Config() config.Config { return s.cfg }

// Client returns the consumer.
func (s *Session) Client() *consumer.Client { return s.client }

// Library returns the producer.
func (s *Session) Library() *producer.Library { return s.lib }

// Ledger returns the ownership ledger.
func (s *Session) Ledger() *ledger.Table { return s.ledger }

// Heap returns the producer heap.
func (s *Session) Heap() *memory.Heap { return s.heap }

// Memory returns the shared memory.
func (s *Session) Memory() memory.Sized { return s.mem }

// Report is a snapshot of a session.
type Report struct {
	ID       uuid.UUID
	Backend  string
	Memory   uint32
	Heap     memory.HeapStats
	Ledger   ledger.Stats
	Producer producer.Stats
	// Outstanding lists handles not yet released. After Close it lists the
	// handles that were retained when the memory was dropped.
	Outstanding []ledger.Entry
	Closed      bool
}

// Retained returns the outstanding handles the contract gives no way to
// release.
func (r Report) Retained() []ledger.Entry {
	var out []ledger.Entry
	for _, e := range r.Outstanding {
		if e.Policy == contract.PolicyUnspecified {
			out = append(out, e)
		}
	}
	return out
}

// Leaked returns the outstanding handles that had a release path but were
// never released.
func (r Report) Leaked() []ledger.Entry {
	var out []ledger.Entry
	for _, e := range r.Outstanding {
		if e.Policy == contract.PolicyPaired {
			out = append(out, e)
		}
	}
	return out
}

// Report returns a snapshot of the session. After Close it returns the
// final report.
func (s *Session) Report() Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.report != nil {
		return *s.report
	}
	return s.snapshot(s.ledger.Outstanding())
}

func (s *Session) snapshot(outstanding []ledger.Entry) Report {
	return Report{
		ID:          s.id,
		Backend:     s.cfg.Memory.Backend,
		Memory:      s.mem.Size(),
		Heap:        s.heap.Stats(),
		Ledger:      s.ledger.Stats(),
		Producer:    s.lib.Stats(),
		Outstanding: outstanding,
	}
}

// Close closes the ledger, reports every handle still outstanding and drops
// the whole memory. Retained points and numbers are reclaimed with it.
// Collections that were never released are logged as leaks. Close is
// idempotent.
func (s *Session) Close(ctx context.Context) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.report != nil {
		return *s.report, nil
	}

	retained := s.ledger.Close()
	report := s.snapshot(retained)
	report.Closed = true

	for _, e := range report.Leaked() {
		s.log.Warn("collection never released",
			zap.Stringer("handle", e.Handle),
			zap.Uint32("rep", e.Rep))
	}

	_ = s.heap.Close()
	var err error
	if s.rt != nil {
		// Closing the runtime closes the host, call and memory modules.
		err = s.rt.Close(ctx)
	}
	s.report = &report

	s.log.Info("session closed",
		zap.Int("retained", len(report.Retained())),
		zap.Int("leaked", len(report.Leaked())),
		zap.Uint64("allocs", report.Heap.Allocs),
		zap.Uint64("frees", report.Heap.Frees))
	return report, err
}
