// Package confirm implements the client side of fire-and-forget mutations.
// The transport has no per-message acknowledgment: success or failure of an
// update is inferred by diffing every subsequent authoritative snapshot
// against the expected post-update field values, with a fixed timeout as the
// only failure signal.
package confirm

import (
	"errors"
	"reflect"
	"sync"
	"time"

	"tabletavern/server"
)

// Rejection sentinels: these refuse a request synchronously with no network
// effect, leaving any in-flight operation undisturbed.
var (
	ErrRequestPending = errors.New("an update for this target is already pending")
	ErrUnknownTarget  = errors.New("target not present in current snapshot")
)

const DefaultTimeout = 5 * time.Second

// Fields is the tracked subset of an entity's state, keyed by field name.
type Fields map[string]any

// Resolver extracts the comparable fields of one target entity from a
// snapshot. ok is false when the entity does not exist in that snapshot.
type Resolver func(room server.RoomSnapshot, targetID string) (Fields, bool)

// SendFunc transmits the mutation command. Called exactly once per accepted
// request.
type SendFunc func(cmd server.Command) error

type Status int

const (
	StatusConfirmed Status = iota
	StatusTimedOut
)

// Result is delivered once per accepted request: either Confirmed when a
// snapshot matched every tracked field, or TimedOut when none did in time.
type Result struct {
	Kind     string
	TargetID string
	Status   Status
	Expected Fields
	Elapsed  time.Duration
}

type record struct {
	targetID  string
	expected  Fields
	startedAt time.Time
	timer     *time.Timer
}

// Tracker runs the confirmation state machine for one mutation kind. At most
// one pending record may exist per target; per-kind trackers give the
// per-(entity, mutation-kind) uniqueness the protocol requires.
//
// States per target: Begin moves Idle to Pending; a matching snapshot moves
// Pending to Confirmed; the timer firing first moves it to TimedOut. A
// snapshot matching after the timeout does not resurrect the record.
type Tracker struct {
	mu       sync.Mutex
	kind     string
	timeout  time.Duration
	send     SendFunc
	resolve  Resolver
	clock    func() time.Time
	onResult func(Result)
	pending  map[string]*record
}

type Option func(*Tracker)

func WithTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.timeout = d
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(t *Tracker) { t.clock = clock }
}

// OnResult registers the callback invoked (outside the tracker lock) for
// every confirmation or timeout.
func OnResult(fn func(Result)) Option {
	return func(t *Tracker) { t.onResult = fn }
}

func NewTracker(kind string, send SendFunc, resolve Resolver, opts ...Option) *Tracker {
	t := &Tracker{
		kind:    kind,
		timeout: DefaultTimeout,
		send:    send,
		resolve: resolve,
		clock:   time.Now,
		pending: make(map[string]*record),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Begin starts one optimistic update: it requires the target to exist in the
// given snapshot, records the update's values as the expected post-mutation
// state, transmits cmd, and arms the timeout. The tracked field set is
// exactly the keys of update, so unrelated concurrent edits neither block nor
// falsely satisfy confirmation.
//
// A second Begin for a target that is already pending is rejected outright.
func (t *Tracker) Begin(room server.RoomSnapshot, targetID string, update Fields, cmd server.Command) error {
	t.mu.Lock()
	if _, exists := t.pending[targetID]; exists {
		t.mu.Unlock()
		return ErrRequestPending
	}

	if _, ok := t.resolve(room, targetID); !ok {
		t.mu.Unlock()
		return ErrUnknownTarget
	}

	expected := make(Fields, len(update))
	for key, value := range update {
		expected[key] = value
	}

	rec := &record{
		targetID:  targetID,
		expected:  expected,
		startedAt: t.clock(),
	}
	t.pending[targetID] = rec
	t.mu.Unlock()

	if err := t.send(cmd); err != nil {
		t.mu.Lock()
		delete(t.pending, targetID)
		t.mu.Unlock()
		return err
	}

	t.mu.Lock()
	// Re-check: the send runs unlocked and a racing snapshot may already
	// have confirmed and cleared the record.
	if t.pending[targetID] == rec {
		rec.timer = time.AfterFunc(t.timeout, func() { t.expire(rec) })
	}
	t.mu.Unlock()
	return nil
}

// Observe feeds one incoming snapshot through every pending record. A record
// resolves to Confirmed only when all of its tracked fields match strictly
// and simultaneously; partial matches leave it pending.
func (t *Tracker) Observe(room server.RoomSnapshot) {
	now := t.clock()

	t.mu.Lock()
	var resolved []*record
	for targetID, rec := range t.pending {
		observed, ok := t.resolve(room, targetID)
		if !ok {
			continue
		}
		if !fieldsMatch(rec.expected, observed) {
			continue
		}
		delete(t.pending, targetID)
		if rec.timer != nil {
			rec.timer.Stop()
		}
		resolved = append(resolved, rec)
	}
	t.mu.Unlock()

	for _, rec := range resolved {
		t.emit(Result{
			Kind:     t.kind,
			TargetID: rec.targetID,
			Status:   StatusConfirmed,
			Expected: rec.expected,
			Elapsed:  now.Sub(rec.startedAt),
		})
	}
}

func (t *Tracker) expire(rec *record) {
	t.mu.Lock()
	if t.pending[rec.targetID] != rec {
		// Already confirmed; the timeout lost the race.
		t.mu.Unlock()
		return
	}
	delete(t.pending, rec.targetID)
	t.mu.Unlock()

	t.emit(Result{
		Kind:     t.kind,
		TargetID: rec.targetID,
		Status:   StatusTimedOut,
		Expected: rec.expected,
		Elapsed:  t.timeout,
	})
}

func (t *Tracker) emit(result Result) {
	if t.onResult != nil {
		t.onResult(result)
	}
}

// Pending reports whether an update for targetID is in flight.
func (t *Tracker) Pending(targetID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[targetID]
	return ok
}

func fieldsMatch(expected, observed Fields) bool {
	for key, want := range expected {
		got, ok := observed[key]
		if !ok {
			return false
		}
		if !valueEqual(want, got) {
			return false
		}
	}
	return true
}

func valueEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta.Comparable() && tb.Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}
