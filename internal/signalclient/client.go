package signalclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/BioHazard786/carecall/internal/dns"
	"github.com/BioHazard786/carecall/internal/signaling"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var (
	// ErrClosed is returned when sending on a closed client.
	ErrClosed = errors.New("signaling connection closed")
	// ErrConnectionLost is returned when sending after the relay connection dropped.
	ErrConnectionLost = errors.New("connection to relay lost")
)

// Client manages the websocket connection to the relay.
type Client struct {
	conn      *websocket.Conn
	serverURL string
	resolver  *dns.Resolver
	incoming  chan signaling.Envelope
	outgoing  chan []byte

	// done is closed by Close.
	done      chan struct{}
	closeOnce sync.Once

	// lost is closed when either pump exits.
	lost     chan struct{}
	lostOnce sync.Once
}

// NewClient creates a client for serverURL. A nil resolver dials with the system resolver only.
func NewClient(serverURL string, resolver *dns.Resolver) *Client {
	return &Client{
		serverURL: serverURL,
		resolver:  resolver,
		incoming:  make(chan signaling.Envelope, 16),
		outgoing:  make(chan []byte, 16),
		done:      make(chan struct{}),
		lost:      make(chan struct{}),
	}
}

// Connect establishes the websocket connection and starts the pumps.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	dialer := *websocket.DefaultDialer
	if c.resolver != nil {
		dialer.NetDialContext = c.resolver.DialContext
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", u.Redacted(), err)
	}

	c.conn = conn
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()

	return nil
}

// readPump reads envelopes from the relay until the connection drops.
func (c *Client) readPump() {
	defer func() {
		c.markLost()
		c.conn.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var env signaling.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			select {
			case <-c.done:
			default:
				zap.L().Debug("signaling read ended", zap.Error(err))
			}
			return
		}

		select {
		case c.incoming <- env:
		case <-c.done:
			return
		}
	}
}

// writePump writes queued frames and sends periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.markLost()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				zap.L().Debug("signaling write failed", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send queues an event for the relay.
func (c *Client) Send(event string, payload any) error {
	frame, err := signaling.NewFrame(event, payload)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrClosed
	case <-c.lost:
		return ErrConnectionLost
	default:
	}

	select {
	case c.outgoing <- frame:
		return nil
	case <-c.done:
		return ErrClosed
	case <-c.lost:
		return ErrConnectionLost
	}
}

func (c *Client) markLost() {
	c.lostOnce.Do(func() {
		close(c.lost)
	})
}

// Join asks the relay to add this connection to roomID.
func (c *Client) Join(roomID string) error {
	return c.Send(signaling.EventJoinRoom, signaling.RoomRequest{RoomID: roomID})
}

// Leave asks the relay to remove this connection from roomID.
func (c *Client) Leave(roomID string) error {
	return c.Send(signaling.EventLeaveRoom, signaling.RoomRequest{RoomID: roomID})
}

// SendOffer relays an SDP offer to the other members of roomID.
func (c *Client) SendOffer(roomID, sdp string) error {
	return c.Send(signaling.EventOffer, signaling.Offer{RoomID: roomID, Type: signaling.SDPTypeOffer, SDP: sdp})
}

// SendAnswer relays an SDP answer to the other members of roomID.
func (c *Client) SendAnswer(roomID, sdp string) error {
	return c.Send(signaling.EventAnswer, signaling.Answer{RoomID: roomID, Type: signaling.SDPTypeAnswer, SDP: sdp})
}

// SendCandidate relays an ICE candidate. candidate must marshal to a JSON object.
func (c *Client) SendCandidate(roomID string, candidate any) error {
	raw, err := json.Marshal(candidate)
	if err != nil {
		return fmt.Errorf("marshal candidate: %w", err)
	}
	return c.Send(signaling.EventICECandidate, signaling.IceCandidate{RoomID: roomID, Candidate: raw})
}

// Incoming returns the channel of envelopes from the relay. It is closed when the connection ends.
func (c *Client) Incoming() <-chan signaling.Envelope {
	return c.incoming
}

// Done is closed once Close has been called.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the connection. It is safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
