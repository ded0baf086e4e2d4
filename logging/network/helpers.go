package network

import (
	"context"

	"tabletavern/server/logging"
)

const (
	// EventAttached is emitted when a connection is registered for a uid.
	EventAttached logging.EventType = "network.attached"
	// EventDetached is emitted when a connection is removed from the registry.
	EventDetached logging.EventType = "network.detached"
	// EventWriteFailed is emitted when a transport write fails and the
	// connection is about to be detached.
	EventWriteFailed logging.EventType = "network.write_failed"
	// EventEncodeFailed is emitted when a payload cannot be serialized for a
	// connection's negotiated codec.
	EventEncodeFailed logging.EventType = "network.encode_failed"
	// EventHeartbeatLapsed is emitted when a connection is swept for missing
	// its heartbeat window.
	EventHeartbeatLapsed logging.EventType = "network.heartbeat_lapsed"
	// EventBroadcast is emitted once per snapshot broadcast.
	EventBroadcast logging.EventType = "network.broadcast"
)

type BroadcastPayload struct {
	Seq         uint64 `json:"seq"`
	Connections int    `json:"connections"`
	Failed      int    `json:"failed"`
	Immediate   bool   `json:"immediate"`
}

func playerRef(uid string) logging.EntityRef {
	return logging.EntityRef{ID: uid, Kind: logging.EntityKindPlayer}
}

func Attached(ctx context.Context, pub logging.Publisher, uid, codec string, replaced bool) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventAttached,
		Actor:    playerRef(uid),
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNetwork,
		Extra:    map[string]any{"codec": codec, "replaced": replaced},
	}
	pub.Publish(ctx, event)
}

func Detached(ctx context.Context, pub logging.Publisher, uid string) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventDetached,
		Actor:    playerRef(uid),
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNetwork,
	})
}

func WriteFailed(ctx context.Context, pub logging.Publisher, uid string, err error) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventWriteFailed,
		Actor:    playerRef(uid),
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
		Extra:    map[string]any{"error": err.Error()},
	})
}

func EncodeFailed(ctx context.Context, pub logging.Publisher, uid string, err error) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventEncodeFailed,
		Actor:    playerRef(uid),
		Severity: logging.SeverityError,
		Category: logging.CategoryNetwork,
		Extra:    map[string]any{"error": err.Error()},
	})
}

func HeartbeatLapsed(ctx context.Context, pub logging.Publisher, uid string) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventHeartbeatLapsed,
		Actor:    playerRef(uid),
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
	})
}

func Broadcast(ctx context.Context, pub logging.Publisher, payload BroadcastPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventBroadcast,
		Seq:      payload.Seq,
		Actor:    logging.EntityRef{Kind: logging.EntityKindRoom},
		Severity: logging.SeverityDebug,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}
