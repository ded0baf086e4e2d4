package server

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"tabletavern/server/logging"
	lognet "tabletavern/server/logging/network"
)

// Hub owns the authoritative room snapshot, the connection registry, and the
// broadcast scheduler. Every mutation funnels through the hub mutex, so one
// inbound message is processed to completion before the next; mutating the
// snapshot and requesting the follow-up broadcast are atomic with respect to
// all other connections.
type Hub struct {
	mu        sync.Mutex
	snapshot  *RoomSnapshot
	registry  *Registry
	scheduler *BroadcastScheduler
	pub       logging.Publisher
	cfg       Config
	roll      RollFunc
	rng       *rand.Rand
	clock     func() time.Time

	seq atomic.Uint64
}

// HubOption customizes hub construction in tests.
type HubOption func(*Hub)

func WithClock(clock func() time.Time) HubOption {
	return func(h *Hub) { h.clock = clock }
}

func WithRoll(roll RollFunc, rng *rand.Rand) HubOption {
	return func(h *Hub) {
		h.roll = roll
		h.rng = rng
	}
}

func NewHub(cfg Config, pub logging.Publisher, opts ...HubOption) *Hub {
	if pub == nil {
		pub = logging.NopPublisher()
	}
	h := &Hub{
		snapshot:  NewRoomSnapshot(),
		registry:  NewRegistry(pub),
		scheduler: NewBroadcastScheduler(cfg.BroadcastWindow),
		pub:       pub,
		cfg:       cfg,
		roll:      DefaultRoll,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Registry exposes the connection registry for the transport layer.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Seq is the broadcast sequence the room has reached.
func (h *Hub) Seq() uint64 {
	return h.seq.Load()
}

// Join registers uid's connection, records the player, and delivers the
// joined message with the current snapshot. Other clients learn about the
// new player through the next debounced broadcast.
func (h *Hub) Join(uid, name string, conn Conn, codec Codec) {
	h.registry.Attach(uid, conn, codec)

	h.mu.Lock()
	h.snapshot.EnsurePlayer(uid, name)
	joined := JoinedMessage{
		Ver:        ProtocolVersion,
		Type:       MessageTypeJoined,
		UID:        uid,
		Seq:        h.seq.Load(),
		Room:       h.snapshot.Clone(),
		ServerTime: h.clock().UnixMilli(),
	}
	h.mu.Unlock()

	h.registry.SetState(uid, StateOpen)
	h.registry.SendTo(uid, joined)
	h.scheduler.Schedule(h.emitBroadcast)
}

// Leave detaches uid's connection. The player record stays in the snapshot so
// object ownership keeps resolving for previously-known players.
func (h *Hub) Leave(uid string) {
	h.registry.SetState(uid, StateClosing)
	h.registry.Detach(uid)
}

// Snapshot returns a read-only copy of the current room state.
func (h *Hub) Snapshot() RoomSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshot.Clone()
}

// requestBroadcast is called by handlers while holding h.mu. The snapshot is
// serialized at fire time, not at schedule time, so every mutation accepted
// before the window closes rides the same broadcast.
func (h *Hub) requestBroadcast(immediate bool) {
	if immediate {
		h.scheduler.ScheduleImmediate(h.emitBroadcastImmediateLocked)
		return
	}
	h.scheduler.Schedule(h.emitBroadcast)
}

func (h *Hub) emitBroadcast() {
	h.mu.Lock()
	msg := h.buildSnapshotLocked()
	h.mu.Unlock()
	h.deliver(msg, false)
}

// emitBroadcastImmediateLocked runs synchronously inside a handler, which
// already holds h.mu.
func (h *Hub) emitBroadcastImmediateLocked() {
	msg := h.buildSnapshotLocked()
	h.deliver(msg, true)
}

func (h *Hub) buildSnapshotLocked() SnapshotMessage {
	return SnapshotMessage{
		Ver:        ProtocolVersion,
		Type:       MessageTypeSnapshot,
		Seq:        h.seq.Add(1),
		Room:       h.snapshot.Clone(),
		ServerTime: h.clock().UnixMilli(),
	}
}

func (h *Hub) deliver(msg SnapshotMessage, immediate bool) {
	failed := h.registry.Broadcast(msg)
	lognet.Broadcast(context.Background(), h.pub, lognet.BroadcastPayload{
		Seq:         msg.Seq,
		Connections: h.registry.Size(),
		Failed:      len(failed),
		Immediate:   immediate,
	})
}

// Run drives the heartbeat sweep until stop closes, then cancels any pending
// broadcast so no timer fires against a torn-down connection set.
func (h *Hub) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			h.scheduler.Cancel()
			return
		case now := <-ticker.C:
			h.registry.SweepStale(now)
		}
	}
}

// Close tears the hub down outside of Run.
func (h *Hub) Close() {
	h.scheduler.Cancel()
}
