package server

import (
	"sync"
	"time"
)

// BroadcastScheduler coalesces bursts of broadcast requests into a single
// emit. Re-serializing the full snapshot for every mutation in a drag gesture
// would flood every connection; a trailing-edge debounce window means N
// requests inside the window produce exactly one broadcast, after the window
// from the last request closes.
//
// A hub owns exactly one scheduler; the single timer handle is the only
// asynchronous suspension point on the server side.
type BroadcastScheduler struct {
	mu     sync.Mutex
	window time.Duration
	timer  *time.Timer
}

func NewBroadcastScheduler(window time.Duration) *BroadcastScheduler {
	if window <= 0 {
		window = defaultBroadcastWindow
	}
	return &BroadcastScheduler{window: window}
}

// Schedule arms (or re-arms) the debounce timer to run emit once the window
// closes. A call while a timer is pending resets the window; the pending emit
// is replaced, never stacked.
func (s *BroadcastScheduler) Schedule(emit func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.window, func() {
		s.mu.Lock()
		s.timer = nil
		s.mu.Unlock()
		emit()
	})
}

// ScheduleImmediate runs emit synchronously, cancelling any pending timer so
// the burst it belonged to does not fire a second broadcast afterwards. Used
// for state transitions that must be observed at once, such as session load.
func (s *BroadcastScheduler) ScheduleImmediate(emit func()) {
	s.Cancel()
	emit()
}

// Cancel clears an outstanding timer without firing it. Safe when nothing is
// pending. Must be called at shutdown so a dangling timer cannot fire against
// a torn-down connection set.
func (s *BroadcastScheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Pending reports whether a debounced broadcast is currently armed.
func (s *BroadcastScheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}
