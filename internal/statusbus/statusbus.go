// Package statusbus implements the StatusBus: a broadcast channel from the
// Scheduler to UI observers (the terminal renderer and the web UI) with
// snapshot-on-subscribe semantics. A new subscriber receives the current
// state as a single coalesced event, then every subsequent transition in
// per-cell order. Subscribers that fall behind are dropped rather than
// allowed to stall the scheduler's dispatch loop.
package statusbus

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// CellState is the scheduler's live state for a single (test, revision)
// pair, named identically to the Scheduler's Cell so consumers do not need
// a second vocabulary.
type CellState int

const (
	Blocked CellState = iota
	Pending
	Running
	Done
	Canceled
)

func (s CellState) String() string {
	switch s {
	case Blocked:
		return "blocked"
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Done:
		return "done"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// MarshalJSON renders a CellState as its String() form, so the web UI's
// /api/state JSON (and its JavaScript, which compares against the string
// "done") sees the same vocabulary the terminal dashboard prints.
func (s CellState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON parses the String() form MarshalJSON produces.
func (s *CellState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	switch str {
	case "blocked":
		*s = Blocked
	case "pending":
		*s = Pending
	case "running":
		*s = Running
	case "done":
		*s = Done
	case "canceled":
		*s = Canceled
	default:
		return fmt.Errorf("invalid cell state %q", str)
	}
	return nil
}

// Key identifies a cell by test name and revision commit id; it is the
// StatusBus's vocabulary for addressing cells, independent of the
// scheduler's internal Cell bookkeeping.
type Key struct {
	Test     string
	Revision string
}

// MarshalText renders a Key as "test@revision" so a Snapshot can be
// JSON-encoded directly (encoding/json requires map keys to be strings,
// integers, or encoding.TextMarshaler implementations) for the web UI's
// /api/state endpoint.
func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.Test + "@" + k.Revision), nil
}

// UnmarshalText parses the "test@revision" form MarshalText produces.
func (k *Key) UnmarshalText(text []byte) error {
	test, revision, ok := strings.Cut(string(text), "@")
	if !ok {
		return fmt.Errorf("invalid status bus key %q: want \"test@revision\"", text)
	}
	k.Test, k.Revision = test, revision
	return nil
}

// Cell is a StatusBus-level snapshot of one (test, revision) cell: enough
// for a UI to render without depending on scheduler internals.
type Cell struct {
	Key        Key
	State      CellState
	OutcomeOK  bool   // valid only when State == Done; true for Success
	ExitCode   int    // valid only when State == Done and !OutcomeOK
	Reason     string // e.g. "skipped: dependency failed", set on some Canceled cells
	StdoutPath string
	StderrPath string
}

// Snapshot is the full state of all live cells at a point in time, keyed
// for O(1) lookup by subscribers that only want to diff against it.
type Snapshot map[Key]Cell

// Event is either a full Snapshot (sent immediately on Subscribe) or a
// single cell Transition.
type Event struct {
	Snapshot   Snapshot // non-nil only for the initial snapshot event
	Transition *Cell    // non-nil for every subsequent event
}

const subscriberBuffer = 256

// Bus is the StatusBus. Zero value is not usable; construct with New.
type Bus struct {
	mu          sync.Mutex
	state       Snapshot
	subscribers map[chan Event]struct{}
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		state:       make(Snapshot),
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe registers a new observer and returns a channel that first
// receives a coalesced snapshot of the current state, then every
// subsequent Publish call as an individual event. Call Unsubscribe when
// done to free the channel.
func (b *Bus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	snapshot := make(Snapshot, len(b.state))
	for k, v := range b.state {
		snapshot[k] = v
	}
	// Buffered by subscriberBuffer so this never blocks: a brand new
	// channel has nothing else queued yet.
	ch <- Event{Snapshot: snapshot}
	b.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscriber and closes its channel. Safe to call
// more than once or with a channel the Bus already dropped internally.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.subscribers {
		if c == ch {
			delete(b.subscribers, c)
			close(c)
			return
		}
	}
}

// Publish records a cell transition in the current snapshot and fans it
// out to all subscribers. A subscriber whose buffer is full is dropped
// (its channel closed) instead of blocking the publisher, since the
// scheduler's dispatch loop must never stall on a slow UI.
func (b *Bus) Publish(c Cell) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state[c.Key] = c
	for ch := range b.subscribers {
		select {
		case ch <- Event{Transition: &c}:
		default:
			delete(b.subscribers, ch)
			close(ch)
		}
	}
}

// Forget removes a cell from the current snapshot, used when a revision
// leaves the watched range entirely and its cells should no longer appear
// in future subscribers' initial snapshots. It does not itself publish an
// event; callers publish a Canceled transition first via Publish, then
// call Forget once every subscriber has had a chance to observe it.
func (b *Bus) Forget(k Key) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.state, k)
}
