package ledger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wippyai/ffi-boundary/contract"
	"github.com/wippyai/ffi-boundary/errors"
)

// Handle is an opaque reference to a ledger slot. The low 24 bits hold the
// slot index plus one, the high 8 bits the slot generation. Handle 0 is the
// null handle and never valid.
type Handle uint32

// Null is the handle returned by entry points that failed.
const Null Handle = 0

const (
	indexBits = 24
	indexMask = 1<<indexBits - 1
	maxSlots  = indexMask
	// maxGeneration retires a slot instead of wrapping its generation.
	maxGeneration = 0xff
)

func makeHandle(index uint32, gen uint8) Handle {
	return Handle(uint32(gen)<<indexBits | (index + 1))
}

func (h Handle) index() (uint32, bool) {
	i := uint32(h) & indexMask
	if i == 0 {
		return 0, false
	}
	return i - 1, true
}

func (h Handle) generation() uint8 {
	return uint8(uint32(h) >> indexBits)
}

func (h Handle) String() string {
	if h == Null {
		return "null"
	}
	i, _ := h.index()
	return fmt.Sprintf("#%d.%d", i+1, h.generation())
}

// ParseHandle accepts the "#index.generation" form printed by String, or the
// raw i32 value in decimal.
func ParseHandle(s string) (Handle, error) {
	s = strings.TrimSpace(s)
	if s == "null" {
		return Null, nil
	}
	rest, ok := strings.CutPrefix(s, "#")
	if !ok {
		v, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return Null, errors.Wrap(errors.PhaseTransfer, errors.KindInvalidInput, err, "handle "+s)
		}
		return Handle(v), nil
	}
	idx, gen, ok := strings.Cut(rest, ".")
	if !ok {
		return Null, errors.InvalidInput(errors.PhaseTransfer, "handle "+s+" has no generation")
	}
	i, err := strconv.ParseUint(idx, 10, indexBits)
	if err != nil || i == 0 || i > maxSlots {
		return Null, errors.InvalidInput(errors.PhaseTransfer, "handle "+s+" has a bad index")
	}
	g, err := strconv.ParseUint(gen, 10, 8)
	if err != nil {
		return Null, errors.InvalidInput(errors.PhaseTransfer, "handle "+s+" has a bad generation")
	}
	return makeHandle(uint32(i-1), uint8(g)), nil
}

// Side is one side of the boundary.
type Side uint8

const (
	SideNone Side = iota
	SideProducer
	SideConsumer
)

func (s Side) String() string {
	switch s {
	case SideProducer:
		return "producer"
	case SideConsumer:
		return "consumer"
	}
	return "none"
}

// State is the lifecycle state of a handle.
type State uint8

const (
	StateLive State = iota
	StateReleasing
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateLive:
		return "live"
	case StateReleasing:
		return "releasing"
	case StateReleased:
		return "released"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Entry is a snapshot of one handle.
type Entry struct {
	Handle  Handle
	TypeID  contract.TypeID
	Policy  contract.ReleasePolicy
	Rep     uint32
	Owner   Side
	State   State
	Borrows uint32
}

// EventType identifies a lifecycle event.
type EventType uint8

const (
	EventCreated EventType = iota
	EventTransferred
	EventBorrowed
	EventBorrowReturned
	EventReleaseStarted
	EventReleaseAborted
	EventReleased
	// EventRetained is emitted by Close for every handle still outstanding.
	EventRetained
)

func (e EventType) String() string {
	switch e {
	case EventCreated:
		return "created"
	case EventTransferred:
		return "transferred"
	case EventBorrowed:
		return "borrowed"
	case EventBorrowReturned:
		return "borrow-returned"
	case EventReleaseStarted:
		return "release-started"
	case EventReleaseAborted:
		return "release-aborted"
	case EventReleased:
		return "released"
	case EventRetained:
		return "retained"
	}
	return fmt.Sprintf("event(%d)", uint8(e))
}

// Event is a lifecycle notification.
type Event struct {
	Handle Handle
	TypeID contract.TypeID
	Rep    uint32
	From   Side
	To     Side
	Type   EventType
}

// Observer receives lifecycle events. Observers are called without the
// table lock held, in registration order.
type Observer interface {
	OnLedgerEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnLedgerEvent(e Event) { f(e) }
