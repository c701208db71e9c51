package ledger

import (
	"sort"
	"sync"

	"github.com/wippyai/ffi-boundary/contract"
	"github.com/wippyai/ffi-boundary/errors"
)

type slot struct {
	rep     uint32
	typeID  contract.TypeID
	policy  contract.ReleasePolicy
	owner   Side
	state   State
	borrows uint32
	gen     uint8
	// used is false until the slot is first registered.
	used bool
}

// Stats counts ledger activity since the table was created.
type Stats struct {
	Registered  uint64
	Transferred uint64
	Borrowed    uint64
	Released    uint64
	Refused     uint64
}

type subscription struct {
	id  uint64
	obs Observer
}

// Table is the ownership ledger. It is safe for concurrent use; each handle
// should still be driven from one goroutine at a time.
type Table struct {
	slots     []slot
	freeList  []uint32
	observers []subscription
	stats     Stats
	nextSub   uint64
	mu        sync.Mutex
	obsMu     sync.RWMutex
	closed    bool
}

// NewTable creates an empty ledger.
func NewTable() *Table {
	return &Table{
		slots:    make([]slot, 0, 64),
		freeList: make([]uint32, 0, 16),
	}
}

// Register records a producer-owned block at rep and returns its handle.
func (t *Table) Register(typeID contract.TypeID, rep uint32, policy contract.ReleasePolicy) (Handle, error) {
	if rep == 0 {
		return Null, errors.InvalidInput(errors.PhaseTransfer, "cannot register the null address")
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return Null, errors.Closed(errors.PhaseTransfer, "ledger")
	}

	var idx uint32
	if n := len(t.freeList); n > 0 {
		idx = t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
	} else {
		if len(t.slots) >= maxSlots {
			t.mu.Unlock()
			return Null, errors.New(errors.PhaseTransfer, errors.KindAllocation).
				Detail("ledger full: %d slots", maxSlots).
				Build()
		}
		t.slots = append(t.slots, slot{})
		idx = uint32(len(t.slots) - 1)
	}

	s := &t.slots[idx]
	gen := s.gen
	if s.used {
		gen++
	}
	*s = slot{
		rep:    rep,
		typeID: typeID,
		policy: policy,
		owner:  SideProducer,
		state:  StateLive,
		gen:    gen,
		used:   true,
	}
	h := makeHandle(idx, gen)
	t.stats.Registered++
	t.mu.Unlock()

	t.notify(Event{Type: EventCreated, Handle: h, TypeID: typeID, Rep: rep, To: SideProducer})
	return h, nil
}

// lookup resolves h to its slot. It must be called with t.mu held. A stale
// generation or a released slot yields KindUseAfterRelease in phase.
func (t *Table) lookup(phase errors.Phase, h Handle) (*slot, error) {
	if t.closed {
		return nil, errors.Closed(phase, "ledger")
	}
	idx, ok := h.index()
	if !ok || int(idx) >= len(t.slots) || !t.slots[idx].used {
		return nil, errors.UnknownHandle(phase, uint32(h))
	}
	s := &t.slots[idx]
	if s.gen != h.generation() {
		if h.generation() > s.gen {
			return nil, errors.UnknownHandle(phase, uint32(h))
		}
		return nil, errors.UseAfterRelease(phase, uint32(h))
	}
	if s.state == StateReleased {
		return nil, errors.UseAfterRelease(phase, uint32(h))
	}
	return s, nil
}

func (t *Table) refuse(err error) error {
	t.stats.Refused++
	return err
}

// Transfer moves ownership of h from one side to the other. The handle must
// be live, owned by from and not borrowed.
func (t *Table) Transfer(h Handle, from, to Side) error {
	t.mu.Lock()
	s, err := t.lookup(errors.PhaseTransfer, h)
	if err != nil {
		err = t.refuse(err)
		t.mu.Unlock()
		return err
	}
	switch {
	case s.state != StateLive:
		err = errors.UseAfterRelease(errors.PhaseTransfer, uint32(h))
	case s.owner != from:
		err = errors.NotOwner(errors.PhaseTransfer, uint32(h), from.String(), s.owner.String())
	case s.borrows > 0:
		err = errors.OutstandingBorrow(uint32(h), s.borrows)
	}
	if err != nil {
		err = t.refuse(err)
		t.mu.Unlock()
		return err
	}
	s.owner = to
	typeID, rep := s.typeID, s.rep
	t.stats.Transferred++
	t.mu.Unlock()

	t.notify(Event{Type: EventTransferred, Handle: h, TypeID: typeID, Rep: rep, From: from, To: to})
	return nil
}

// Borrow gives the owner temporary access to the block behind h and returns
// its address. Every successful Borrow must be paired with ReturnBorrow.
func (t *Table) Borrow(h Handle, side Side) (uint32, error) {
	t.mu.Lock()
	s, err := t.lookup(errors.PhaseDecode, h)
	if err == nil {
		switch {
		case s.state == StateReleasing:
			err = errors.UseAfterRelease(errors.PhaseDecode, uint32(h))
		case s.owner != side:
			err = errors.NotOwner(errors.PhaseDecode, uint32(h), side.String(), s.owner.String())
		}
	}
	if err != nil {
		err = t.refuse(err)
		t.mu.Unlock()
		return 0, err
	}
	s.borrows++
	typeID, rep := s.typeID, s.rep
	t.stats.Borrowed++
	t.mu.Unlock()

	t.notify(Event{Type: EventBorrowed, Handle: h, TypeID: typeID, Rep: rep, From: side, To: side})
	return rep, nil
}

// ReturnBorrow ends one borrow of h.
func (t *Table) ReturnBorrow(h Handle) error {
	t.mu.Lock()
	s, err := t.lookup(errors.PhaseDecode, h)
	if err == nil && s.borrows == 0 {
		err = errors.New(errors.PhaseDecode, errors.KindInvalidInput).
			Value(uint32(h)).
			Detail("handle %s has no outstanding borrow", h).
			Build()
	}
	if err != nil {
		err = t.refuse(err)
		t.mu.Unlock()
		return err
	}
	s.borrows--
	typeID, rep, owner := s.typeID, s.rep, s.owner
	t.mu.Unlock()

	t.notify(Event{Type: EventBorrowReturned, Handle: h, TypeID: typeID, Rep: rep, From: owner, To: owner})
	return nil
}

// BeginRelease starts releasing h on behalf of side, which must own it. The
// returned entry carries the address the caller must free. New borrows are
// refused until FinishRelease or AbortRelease.
func (t *Table) BeginRelease(h Handle, side Side) (Entry, error) {
	t.mu.Lock()
	s, err := t.lookup(errors.PhaseRelease, h)
	if err != nil {
		// Anything already released is a second release, whatever the
		// generation says.
		if errors.IsKind(err, errors.KindUseAfterRelease) {
			err = errors.DoubleRelease(uint32(h))
		}
		err = t.refuse(err)
		t.mu.Unlock()
		return Entry{}, err
	}
	switch {
	case s.state == StateReleasing:
		err = errors.DoubleRelease(uint32(h))
	case s.owner != side:
		err = errors.NotOwner(errors.PhaseRelease, uint32(h), side.String(), s.owner.String())
	case s.policy != contract.PolicyPaired:
		err = errors.NoReleasePath(uint32(h), s.typeID.String())
	case s.borrows > 0:
		err = errors.OutstandingBorrow(uint32(h), s.borrows)
	}
	if err != nil {
		err = t.refuse(err)
		t.mu.Unlock()
		return Entry{}, err
	}
	s.state = StateReleasing
	e := s.entry(h)
	t.mu.Unlock()

	t.notify(Event{Type: EventReleaseStarted, Handle: h, TypeID: e.TypeID, Rep: e.Rep, From: side})
	return e, nil
}

// FinishRelease marks a releasing handle released. The slot keeps its
// generation as a tombstone until it is reused.
func (t *Table) FinishRelease(h Handle) error {
	t.mu.Lock()
	s, err := t.lookup(errors.PhaseRelease, h)
	if err == nil && s.state != StateReleasing {
		err = errors.New(errors.PhaseRelease, errors.KindInvalidInput).
			Value(uint32(h)).
			Detail("handle %s is %s, not releasing", h, s.state).
			Build()
	}
	if err != nil {
		err = t.refuse(err)
		t.mu.Unlock()
		return err
	}
	owner, typeID, rep := s.owner, s.typeID, s.rep
	s.state = StateReleased
	s.owner = SideNone
	s.rep = 0
	if s.gen < maxGeneration {
		idx, _ := h.index()
		t.freeList = append(t.freeList, idx)
	}
	t.stats.Released++
	t.mu.Unlock()

	t.notify(Event{Type: EventReleased, Handle: h, TypeID: typeID, Rep: rep, From: owner})
	return nil
}

// AbortRelease returns a releasing handle to live, for when freeing the
// block failed and the block is still intact.
func (t *Table) AbortRelease(h Handle) error {
	t.mu.Lock()
	s, err := t.lookup(errors.PhaseRelease, h)
	if err == nil && s.state != StateReleasing {
		err = errors.New(errors.PhaseRelease, errors.KindInvalidInput).
			Value(uint32(h)).
			Detail("handle %s is %s, not releasing", h, s.state).
			Build()
	}
	if err != nil {
		t.mu.Unlock()
		return err
	}
	s.state = StateLive
	typeID, rep, owner := s.typeID, s.rep, s.owner
	t.mu.Unlock()

	t.notify(Event{Type: EventReleaseAborted, Handle: h, TypeID: typeID, Rep: rep, From: owner})
	return nil
}

// Get returns a snapshot of h. Released and unknown handles report false.
func (t *Table) Get(h Handle) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.lookup(errors.PhaseTransfer, h)
	if err != nil {
		return Entry{}, false
	}
	return s.entry(h), true
}

// TypeID returns the type of a live handle.
func (t *Table) TypeID(h Handle) (contract.TypeID, bool) {
	e, ok := t.Get(h)
	return e.TypeID, ok
}

// Outstanding returns every handle not yet released, in slot order.
func (t *Table) Outstanding() []Entry {
	var out []Entry
	t.Each(func(e Entry) bool {
		out = append(out, e)
		return true
	})
	return out
}

// Len returns the number of handles not yet released.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for i := range t.slots {
		if t.slots[i].used && t.slots[i].state != StateReleased {
			n++
		}
	}
	return n
}

// Each calls fn for every handle not yet released until fn returns false.
// fn runs on a snapshot, so it may call back into the table.
func (t *Table) Each(fn func(Entry) bool) {
	t.mu.Lock()
	entries := t.snapshotLocked()
	t.mu.Unlock()

	for _, e := range entries {
		if !fn(e) {
			return
		}
	}
}

func (t *Table) snapshotLocked() []Entry {
	entries := make([]Entry, 0, len(t.slots))
	for i := range t.slots {
		s := &t.slots[i]
		if s.used && s.state != StateReleased {
			entries = append(entries, s.entry(makeHandle(uint32(i), s.gen)))
		}
	}
	return entries
}

// Stats returns a snapshot of the table counters.
func (t *Table) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// Subscribe adds an observer and returns a function that removes it.
func (t *Table) Subscribe(o Observer) (cancel func()) {
	t.obsMu.Lock()
	t.nextSub++
	id := t.nextSub
	t.observers = append(t.observers, subscription{id: id, obs: o})
	t.obsMu.Unlock()

	return func() {
		t.obsMu.Lock()
		defer t.obsMu.Unlock()
		for i, sub := range t.observers {
			if sub.id == id {
				t.observers = append(t.observers[:i], t.observers[i+1:]...)
				return
			}
		}
	}
}

// Close stops the table and returns the handles still outstanding, sorted by
// handle. An EventRetained is emitted for each of them.
func (t *Table) Close() []Entry {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	retained := t.snapshotLocked()
	t.closed = true
	t.mu.Unlock()

	sort.Slice(retained, func(i, j int) bool { return retained[i].Handle < retained[j].Handle })
	for _, e := range retained {
		t.notify(Event{Type: EventRetained, Handle: e.Handle, TypeID: e.TypeID, Rep: e.Rep, From: e.Owner})
	}
	return retained
}

func (s *slot) entry(h Handle) Entry {
	return Entry{
		Handle:  h,
		TypeID:  s.typeID,
		Policy:  s.policy,
		Rep:     s.rep,
		Owner:   s.owner,
		State:   s.state,
		Borrows: s.borrows,
	}
}

func (t *Table) notify(e Event) {
	t.obsMu.RLock()
	subs := make([]subscription, len(t.observers))
	copy(subs, t.observers)
	t.obsMu.RUnlock()

	for _, sub := range subs {
		sub.obs.OnLedgerEvent(e)
	}
}
