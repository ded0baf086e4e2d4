package mutation

import (
	"context"

	"tabletavern/server/logging"
)

const (
	// EventApplied is emitted after a mutation changed the snapshot.
	EventApplied logging.EventType = "mutation.applied"
	// EventDenied is emitted when authorization refuses a mutation.
	EventDenied logging.EventType = "mutation.denied"
	// EventUnknownTag is emitted for messages with an unrecognized tag.
	EventUnknownTag logging.EventType = "mutation.unknown_tag"
	// EventHandlerPanic is emitted when a handler panics; the dispatch loop
	// recovers and continues.
	EventHandlerPanic logging.EventType = "mutation.handler_panic"
)

func playerRef(uid string) logging.EntityRef {
	return logging.EntityRef{ID: uid, Kind: logging.EntityKindPlayer}
}

func Applied(ctx context.Context, pub logging.Publisher, seq uint64, uid, tag string, targets []logging.EntityRef) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventApplied,
		Seq:      seq,
		Actor:    playerRef(uid),
		Targets:  targets,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryMutation,
		Extra:    map[string]any{"tag": tag},
	})
}

func Denied(ctx context.Context, pub logging.Publisher, seq uint64, uid, tag, reason string) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventDenied,
		Seq:      seq,
		Actor:    playerRef(uid),
		Severity: logging.SeverityInfo,
		Category: logging.CategoryMutation,
		Extra:    map[string]any{"tag": tag, "reason": reason},
	})
}

func UnknownTag(ctx context.Context, pub logging.Publisher, uid, tag string) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventUnknownTag,
		Actor:    playerRef(uid),
		Severity: logging.SeverityWarn,
		Category: logging.CategoryMutation,
		Extra:    map[string]any{"tag": tag},
	})
}

// HandlerPanic carries a JSON-serializable copy of the offending message so
// the failure can be reproduced from the log alone.
func HandlerPanic(ctx context.Context, pub logging.Publisher, uid, tag string, recovered any, message any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventHandlerPanic,
		Actor:    playerRef(uid),
		Severity: logging.SeverityError,
		Category: logging.CategoryMutation,
		Payload:  message,
		Extra:    map[string]any{"tag": tag, "panic": recovered},
	})
}
