package sinks

import (
	"context"
	"sync"

	"tabletavern/server/logging"
)

// MemorySink records the event stream so tests can assert on exactly what a
// component published. Not meant for production sink lists.
type MemorySink struct {
	mu       sync.RWMutex
	recorded []logging.Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Write(event logging.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorded = append(s.recorded, snapshotEvent(event))
	return nil
}

// Events returns everything recorded so far, in arrival order.
func (s *MemorySink) Events() []logging.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]logging.Event, len(s.recorded))
	copy(out, s.recorded)
	return out
}

// ByType returns the recorded events of one type, in arrival order.
func (s *MemorySink) ByType(t logging.EventType) []logging.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []logging.Event
	for _, e := range s.recorded {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// SinceSeq returns the recorded events at or after the given broadcast
// sequence, in arrival order.
func (s *MemorySink) SinceSeq(seq uint64) []logging.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []logging.Event
	for _, e := range s.recorded {
		if e.Seq >= seq {
			out = append(out, e)
		}
	}
	return out
}

// Len reports how many events have been recorded.
func (s *MemorySink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.recorded)
}

func (s *MemorySink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorded = nil
}

func (s *MemorySink) Close(context.Context) error {
	return nil
}

// snapshotEvent copies the event's mutable members so later writes by the
// publisher cannot alter what was recorded.
func snapshotEvent(event logging.Event) logging.Event {
	copied := event
	if len(event.Targets) > 0 {
		copied.Targets = append([]logging.EntityRef(nil), event.Targets...)
	}
	if event.Extra != nil {
		extra := make(map[string]any, len(event.Extra))
		for k, v := range event.Extra {
			extra[k] = v
		}
		copied.Extra = extra
	}
	return copied
}
