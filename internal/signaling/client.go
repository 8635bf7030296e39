package signaling

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Limits bounds a single connection.
type Limits struct {
	// WriteWait is the time allowed to write a frame to the peer.
	WriteWait time.Duration
	// PongWait is the time allowed to read the next pong from the peer.
	PongWait time.Duration
	// PingPeriod must be less than PongWait.
	PingPeriod time.Duration
	// MaxMessageBytes is the largest frame accepted from the peer.
	MaxMessageBytes int64
	// SendQueueSize is the number of outbound frames buffered per connection.
	SendQueueSize int
}

// DefaultLimits returns limits sized for SDP-carrying signaling traffic.
func DefaultLimits() Limits {
	pongWait := 60 * time.Second
	return Limits{
		WriteWait:       10 * time.Second,
		PongWait:        pongWait,
		PingPeriod:      (pongWait * 9) / 10,
		MaxMessageBytes: 64 * 1024,
		SendQueueSize:   256,
	}
}

// Client is one live websocket connection to the relay.
type Client struct {
	// ID is assigned by the relay and never reused.
	// Other members see it as peerId in presence events.
	ID string

	// Remote is the peer address as seen by the listener.
	Remote string

	// hub is the hub that owns this client's room memberships.
	hub *Hub

	// conn is the websocket connection.
	conn *websocket.Conn

	// send is the bounded outbound queue.
	// Only the hub writes to it and only the hub closes it;
	// WritePump drains it onto the websocket.
	send chan []byte

	// limits are the deadlines and sizes this connection runs with.
	limits Limits

	// log carries conn_id and remote on every line.
	log *zap.Logger
}

// NewClient wraps conn. The client does nothing until it is registered and its pumps run.
func NewClient(hub *Hub, conn *websocket.Conn, limits Limits) *Client {
	if limits.PingPeriod <= 0 || limits.PingPeriod >= limits.PongWait {
		limits.PingPeriod = (limits.PongWait * 9) / 10
	}

	id := uuid.NewString()
	remote := conn.RemoteAddr().String()
	return &Client{
		ID:     id,
		Remote: remote,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, limits.SendQueueSize),
		limits: limits,
		log:    hub.log.With(zap.String("conn_id", id), zap.String("remote", remote)),
	}
}

// ReadPump pumps frames from the websocket connection to the hub.
//
// It must run in its own goroutine; it is the only reader of the connection.
// When it returns the client has been unregistered and the connection closed.
func (c *Client) ReadPump() {
	// When the connection ends, leave every room before closing the socket.
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.limits.MaxMessageBytes)
	c.conn.SetReadDeadline(time.Now().Add(c.limits.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.limits.PongWait))
		return nil
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Warn("read failed", zap.Error(err))
			}
			return
		}

		// Undecodable frames still go through the hub so the reply is ordered
		// with everything else this client sent.
		in := inbound{client: c}
		if kind != websocket.TextMessage {
			in.err = fmt.Errorf("%w: only text frames are accepted", ErrMalformedFrame)
		} else if err := json.Unmarshal(data, &in.env); err != nil {
			in.err = fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}

		if !c.hub.dispatch(in) {
			return
		}
	}
}

// WritePump pumps frames from the hub to the websocket connection and keeps it alive with pings.
//
// It must run in its own goroutine; it is the only writer of the connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.limits.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		// Next queued frame, or the hub closing the queue.
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.limits.WriteWait))
			if !ok {
				// The hub closed the queue.
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Debug("write failed", zap.Error(err))
				return
			}

		// Keepalive; the peer's pong extends our read deadline.
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.limits.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
