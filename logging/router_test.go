package logging_test

import (
	"context"
	"testing"
	"time"

	"tabletavern/server/logging"
	"tabletavern/server/logging/sinks"
)

func waitForEvents(t *testing.T, sink *sinks.MemorySink, want int) []logging.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if events := sink.Events(); len(events) >= want {
			return events
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("sink received %d events, want %d", len(sink.Events()), want)
	return nil
}

func TestRouterDeliversToSinks(t *testing.T) {
	sink := sinks.NewMemorySink()
	cfg := logging.DefaultConfig()
	cfg.MinimumSeverity = logging.SeverityDebug
	router := logging.NewRouter(nil, cfg, []logging.NamedSink{{Name: "memory", Sink: sink}})

	router.Publish(context.Background(), logging.Event{
		Type:     "mutation.applied",
		Seq:      3,
		Actor:    logging.EntityRef{ID: "alice", Kind: logging.EntityKindPlayer},
		Severity: logging.SeverityDebug,
		Category: logging.CategoryMutation,
	})

	events := waitForEvents(t, sink, 1)
	if events[0].Type != "mutation.applied" || events[0].Seq != 3 {
		t.Fatalf("event = %+v", events[0])
	}
	if events[0].Time.IsZero() {
		t.Fatalf("router did not stamp the event time")
	}
	if len(sink.SinceSeq(4)) != 0 || len(sink.SinceSeq(3)) != 1 {
		t.Fatalf("sequence filter disagrees with the recorded stream")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := router.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if stats := router.Stats(); stats.EventsTotal != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestRouterFiltersBelowMinimumSeverity(t *testing.T) {
	sink := sinks.NewMemorySink()
	cfg := logging.DefaultConfig()
	cfg.MinimumSeverity = logging.SeverityWarn
	router := logging.NewRouter(nil, cfg, []logging.NamedSink{{Name: "memory", Sink: sink}})

	router.Publish(context.Background(), logging.Event{Type: "quiet", Severity: logging.SeverityInfo})
	router.Publish(context.Background(), logging.Event{Type: "loud", Severity: logging.SeverityError})

	waitForEvents(t, sink, 1)
	if len(sink.ByType("quiet")) != 0 {
		t.Fatalf("info event passed a warn threshold")
	}
	if len(sink.ByType("loud")) != 1 {
		t.Fatalf("error event did not pass a warn threshold")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	router.Close(ctx)
}

func TestRouterDropsUntypedEvents(t *testing.T) {
	sink := sinks.NewMemorySink()
	cfg := logging.DefaultConfig()
	cfg.MinimumSeverity = logging.SeverityDebug
	router := logging.NewRouter(nil, cfg, []logging.NamedSink{{Name: "memory", Sink: sink}})

	router.Publish(context.Background(), logging.Event{})
	router.Publish(context.Background(), logging.Event{Type: "real", Severity: logging.SeverityInfo})

	events := waitForEvents(t, sink, 1)
	if sink.Len() != 1 || events[0].Type != "real" {
		t.Fatalf("events = %+v", events)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	router.Close(ctx)
}

func TestRouterSinkAccessor(t *testing.T) {
	sink := sinks.NewMemorySink()
	router := logging.NewRouter(nil, logging.DefaultConfig(), []logging.NamedSink{{Name: "memory", Sink: sink}})

	if got := router.Sink("memory"); got != logging.Sink(sink) {
		t.Fatalf("accessor returned a different sink")
	}
	if router.Sink("console") != nil {
		t.Fatalf("unknown sink name resolved")
	}

	sink.Reset()
	if sink.Len() != 0 {
		t.Fatalf("reset left %d events recorded", sink.Len())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	router.Close(ctx)
}
