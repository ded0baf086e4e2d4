// Package client is a Go session client: it dials the server, mirrors the
// broadcast snapshot stream, and runs the optimistic-confirmation trackers
// for every fire-and-forget mutation kind.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"tabletavern/server"
	"tabletavern/server/internal/confirm"
)

const heartbeatInterval = 2 * time.Second

type Options struct {
	// UID to identify as; empty lets the server mint one.
	UID  string
	Name string
	// Codec is "json" or "cbor". Empty selects json.
	Codec string
	// ConfirmTimeout bounds how long an optimistic update waits for a
	// matching snapshot.
	ConfirmTimeout time.Duration
	// OnSnapshot is invoked for every snapshot broadcast, after the
	// confirmation trackers have seen it.
	OnSnapshot func(server.RoomSnapshot)
	// OnResult is invoked for every confirmation or timeout.
	OnResult func(confirm.Result)
}

// Client is one connected session participant.
type Client struct {
	conn  *websocket.Conn
	codec server.Codec

	writeMu sync.Mutex

	mu   sync.Mutex
	uid  string
	room server.RoomSnapshot
	seq  uint64

	characters *confirm.Tracker
	props      *confirm.Tracker
	roles      *confirm.Tracker

	onSnapshot func(server.RoomSnapshot)

	joined chan struct{}
	done   chan struct{}
	once   sync.Once
}

// Dial connects and blocks until the server's joined message arrives.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	codec, err := server.CodecByName(opts.Codec)
	if err != nil {
		return nil, err
	}

	target := url + "?codec=" + codec.Name()
	if opts.UID != "" {
		target += "&uid=" + opts.UID
	}
	if opts.Name != "" {
		target += "&name=" + opts.Name
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Client{
		conn:       conn,
		codec:      codec,
		onSnapshot: opts.OnSnapshot,
		joined:     make(chan struct{}),
		done:       make(chan struct{}),
	}

	trackerOpts := []confirm.Option{}
	if opts.ConfirmTimeout > 0 {
		trackerOpts = append(trackerOpts, confirm.WithTimeout(opts.ConfirmTimeout))
	}
	if opts.OnResult != nil {
		trackerOpts = append(trackerOpts, confirm.OnResult(opts.OnResult))
	}
	c.characters = confirm.NewTracker("character", c.Send, CharacterResolver, trackerOpts...)
	c.props = confirm.NewTracker("prop", c.Send, PropResolver, trackerOpts...)
	c.roles = confirm.NewTracker("role", c.Send, RoleResolver, trackerOpts...)

	go c.readLoop()
	go c.heartbeatLoop()

	select {
	case <-c.joined:
		return c, nil
	case <-c.done:
		return nil, fmt.Errorf("connection closed before join completed")
	case <-ctx.Done():
		conn.Close()
		return nil, ctx.Err()
	}
}

func (c *Client) readLoop() {
	defer c.Close()
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			glog.V(1).Infof("read loop ended: %v", err)
			return
		}
		var env server.Envelope
		if err := c.codec.Decode(payload, &env); err != nil {
			glog.Warningf("discarding malformed frame: %v", err)
			continue
		}
		switch env.Type {
		case server.MessageTypeJoined:
			var msg server.JoinedMessage
			if err := c.codec.Decode(payload, &msg); err != nil {
				glog.Warningf("discarding malformed joined message: %v", err)
				continue
			}
			c.mu.Lock()
			c.uid = msg.UID
			c.room = msg.Room
			c.seq = msg.Seq
			c.mu.Unlock()
			c.once.Do(func() { close(c.joined) })
		case server.MessageTypeSnapshot:
			var msg server.SnapshotMessage
			if err := c.codec.Decode(payload, &msg); err != nil {
				glog.Warningf("discarding malformed snapshot: %v", err)
				continue
			}
			c.handleSnapshot(msg)
		case server.MessageTypeHeartbeat:
			var msg server.HeartbeatMessage
			if err := c.codec.Decode(payload, &msg); err != nil {
				continue
			}
			glog.V(2).Infof("heartbeat rtt=%dms", msg.RTTMillis)
		default:
			glog.V(1).Infof("ignoring server message type %q", env.Type)
		}
	}
}

func (c *Client) handleSnapshot(msg server.SnapshotMessage) {
	c.mu.Lock()
	c.room = msg.Room
	c.seq = msg.Seq
	room := msg.Room
	c.mu.Unlock()

	// The trackers see every snapshot while pending; that diff, not any
	// acknowledgment, is how mutations resolve.
	c.characters.Observe(room)
	c.props.Observe(room)
	c.roles.Observe(room)

	if c.onSnapshot != nil {
		c.onSnapshot(room)
	}
}

func (c *Client) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case now := <-ticker.C:
			if err := c.Send(&server.HeartbeatCommand{SentAt: now.UnixMilli()}); err != nil {
				glog.V(1).Infof("heartbeat send failed: %v", err)
				return
			}
		}
	}
}

// Send frames and transmits one command.
func (c *Client) Send(cmd server.Command) error {
	data, err := server.EncodeCommand(c.codec, cmd)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(c.codec.MessageType(), data)
}

// UID reports the identity assigned at join.
func (c *Client) UID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uid
}

// Snapshot returns the most recently received room state.
func (c *Client) Snapshot() server.RoomSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// Seq reports the latest broadcast sequence seen.
func (c *Client) Seq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

func (c *Client) Close() error {
	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return nil
	default:
		close(c.done)
	}
	c.mu.Unlock()
	return c.conn.Close()
}
