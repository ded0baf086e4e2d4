package server

import (
	"context"
	"sync"
	"time"

	"tabletavern/server/logging"
	lognet "tabletavern/server/logging/network"
)

// ConnState is the readiness of one connection. Only StateOpen is a valid
// send target; every other state makes sends a silent no-op so callers never
// need defensive checks for clients mid-handshake or mid-teardown.
type ConnState string

const (
	StateConnecting ConnState = "connecting"
	StateOpen       ConnState = "open"
	StateClosing    ConnState = "closing"
	StateClosed     ConnState = "closed"
)

// Conn is the transport handle the registry writes to. *websocket.Conn
// satisfies it; tests substitute recorders.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type connEntry struct {
	uid           string
	conn          Conn
	codec         Codec
	writeMu       sync.Mutex
	state         ConnState
	lastHeartbeat time.Time
	lastRTT       time.Duration
}

// Registry maps user ids to live connection handles for targeted sends.
// Entries are added on connect and removed on disconnect; a stale uid is a
// no-op for sends, not an error.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*connEntry
	pub     logging.Publisher
}

func NewRegistry(pub logging.Publisher) *Registry {
	if pub == nil {
		pub = logging.NopPublisher()
	}
	return &Registry{
		entries: make(map[string]*connEntry),
		pub:     pub,
	}
}

// Attach registers conn for uid in the connecting state, replacing (and
// closing) any previous connection for the same uid.
func (r *Registry) Attach(uid string, conn Conn, codec Codec) {
	if codec == nil {
		codec = jsonCodec{}
	}
	r.mu.Lock()
	prev, hadPrev := r.entries[uid]
	r.entries[uid] = &connEntry{
		uid:           uid,
		conn:          conn,
		codec:         codec,
		state:         StateConnecting,
		lastHeartbeat: time.Now(),
	}
	r.mu.Unlock()

	if hadPrev {
		prev.conn.Close()
	}
	lognet.Attached(context.Background(), r.pub, uid, codec.Name(), hadPrev)
}

// SetState moves uid's connection through its lifecycle. Unknown uids are
// ignored.
func (r *Registry) SetState(uid string, state ConnState) {
	r.mu.Lock()
	if entry, ok := r.entries[uid]; ok {
		entry.state = state
	}
	r.mu.Unlock()
}

// Detach removes uid's entry and closes the connection. Reports whether an
// entry existed.
func (r *Registry) Detach(uid string) bool {
	r.mu.Lock()
	entry, ok := r.entries[uid]
	if ok {
		delete(r.entries, uid)
		entry.state = StateClosed
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	entry.conn.Close()
	lognet.Detached(context.Background(), r.pub, uid)
	return true
}

// Ready reports whether a SendTo for uid would currently transmit, without
// side effects.
func (r *Registry) Ready(uid string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[uid]
	return ok && entry.state == StateOpen
}

// SendTo delivers message to exactly one connection. A missing uid or a
// connection in any state but open is a silent no-op. A transport write
// failure detaches the connection; it is never surfaced to the caller.
func (r *Registry) SendTo(uid string, message any) {
	r.mu.Lock()
	entry, ok := r.entries[uid]
	if !ok || entry.state != StateOpen {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	data, err := entry.codec.Encode(message)
	if err != nil {
		lognet.EncodeFailed(context.Background(), r.pub, uid, err)
		return
	}
	if !r.write(entry, data) {
		r.Detach(uid)
	}
}

func (r *Registry) write(entry *connEntry, data []byte) bool {
	entry.writeMu.Lock()
	defer entry.writeMu.Unlock()
	entry.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := entry.conn.WriteMessage(entry.codec.MessageType(), data); err != nil {
		lognet.WriteFailed(context.Background(), r.pub, entry.uid, err)
		return false
	}
	return true
}

// Broadcast transmits message to every open connection, encoding once per
// negotiated codec. Connections whose writes fail are detached and their uids
// returned so the hub can finish tearing them down.
func (r *Registry) Broadcast(message any) []string {
	r.mu.Lock()
	targets := make([]*connEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		if entry.state == StateOpen {
			targets = append(targets, entry)
		}
	}
	r.mu.Unlock()

	encoded := make(map[string][]byte, 2)
	var failed []string
	for _, entry := range targets {
		data, ok := encoded[entry.codec.Name()]
		if !ok {
			var err error
			data, err = entry.codec.Encode(message)
			if err != nil {
				lognet.EncodeFailed(context.Background(), r.pub, entry.uid, err)
				continue
			}
			encoded[entry.codec.Name()] = data
		}
		if !r.write(entry, data) {
			failed = append(failed, entry.uid)
		}
	}
	for _, uid := range failed {
		r.Detach(uid)
	}
	return failed
}

// UpdateHeartbeat records liveness for uid and derives a round-trip estimate
// from the client-reported send time.
func (r *Registry) UpdateHeartbeat(uid string, receivedAt time.Time, clientSent int64) (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[uid]
	if !ok {
		return 0, false
	}
	entry.lastHeartbeat = receivedAt

	if clientSent > 0 {
		clientTime := time.UnixMilli(clientSent)
		if clientTime.Before(receivedAt.Add(5 * time.Second)) {
			rtt := receivedAt.Sub(clientTime)
			if rtt < 0 {
				rtt = 0
			}
			entry.lastRTT = rtt
		}
	}
	return entry.lastRTT, true
}

// SweepStale detaches every connection whose heartbeat has lapsed and returns
// the affected uids.
func (r *Registry) SweepStale(now time.Time) []string {
	r.mu.Lock()
	var stale []string
	for uid, entry := range r.entries {
		if now.Sub(entry.lastHeartbeat) > disconnectAfter {
			stale = append(stale, uid)
		}
	}
	r.mu.Unlock()

	for _, uid := range stale {
		lognet.HeartbeatLapsed(context.Background(), r.pub, uid)
		r.Detach(uid)
	}
	return stale
}

// UIDs lists every uid with a registered connection, in any state.
func (r *Registry) UIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	uids := make([]string, 0, len(r.entries))
	for uid := range r.entries {
		uids = append(uids, uid)
	}
	return uids
}

// Size reports the number of registered connections in any state.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
