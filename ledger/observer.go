package ledger

import (
	"sync"

	"go.uber.org/zap"
)

// ZapObserver logs every event at debug level, and retained handles at warn.
type ZapObserver struct {
	log *zap.Logger
}

// NewZapObserver logs to l, or to the package logger when l is nil.
func NewZapObserver(l *zap.Logger) *ZapObserver {
	if l == nil {
		l = Logger()
	}
	return &ZapObserver{log: l.Named("ledger")}
}

func (o *ZapObserver) OnLedgerEvent(e Event) {
	fields := []zap.Field{
		zap.Stringer("handle", e.Handle),
		zap.Stringer("type", e.TypeID),
		zap.Uint32("rep", e.Rep),
	}
	if e.From != SideNone {
		fields = append(fields, zap.Stringer("from", e.From))
	}
	if e.To != SideNone {
		fields = append(fields, zap.Stringer("to", e.To))
	}
	if e.Type == EventRetained {
		o.log.Warn("handle retained at close", fields...)
		return
	}
	o.log.Debug(e.Type.String(), fields...)
}

// Recorder keeps every event it observes.
type Recorder struct {
	events []Event
	mu     sync.Mutex
}

func (r *Recorder) OnLedgerEvent(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Reset drops the recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = r.events[:0]
	r.mu.Unlock()
}
