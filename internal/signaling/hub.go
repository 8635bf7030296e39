package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/BioHazard786/carecall/internal/metrics"
)

// Options controls room policy.
type Options struct {
	// SingleRoom rejects a join for a second room while the connection is still in one.
	SingleRoom bool
	// Presence enables joined, peer-joined and peer-left notifications.
	Presence bool
	// MaxRoomSize caps members per room. Zero means unlimited.
	MaxRoomSize int
}

// DefaultOptions returns the policy the relay ships with.
func DefaultOptions() Options {
	return Options{SingleRoom: true, Presence: true}
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Connections int `json:"connections"`
	DirectoryStats
}

// inbound is one frame read from a client, or the reason it could not be decoded.
type inbound struct {
	client *Client
	env    Envelope
	err    error
}

// Hub is the central brain of the relay.
// All dispatch happens on the goroutine running Run, so joins, leaves and
// broadcasts are applied in the order they were received.
type Hub struct {
	// opts is the room policy applied to every join.
	opts Options

	// dir records room memberships. It is safe for concurrent reads,
	// but only Run changes it.
	dir Directory

	log *zap.Logger

	// clients maps connection IDs to registered clients. It is owned by Run.
	clients map[string]*Client

	// register is a channel for registering new clients.
	register chan *Client

	// unregister is a channel for clients whose connection has ended.
	unregister chan *Client

	// inbound carries frames from every ReadPump to Run.
	inbound chan inbound

	// done is closed when Run returns.
	done chan struct{}

	// connections mirrors len(clients) for readers outside Run.
	connections atomic.Int64
}

// NewHub creates a hub backed by dir. A nil dir gets a MemoryDirectory.
func NewHub(dir Directory, opts Options, logger *zap.Logger) *Hub {
	if dir == nil {
		dir = NewMemoryDirectory()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		opts:       opts,
		dir:        dir,
		log:        logger,
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound, 64),
		done:       make(chan struct{}),
	}
}

// Run processes registrations and messages until ctx is cancelled.
// On return every client's outbound queue is closed.
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()

	for {
		select {
		// Shutdown: closing every queue makes each WritePump hang up.
		case <-ctx.Done():
			return

		// A new connection. It belongs to no room until it joins one.
		case c := <-h.register:
			h.clients[c.ID] = c
			h.connections.Add(1)
			metrics.ConnectionsTotal.Inc()
			metrics.ActiveConnections.Inc()
			c.log.Info("client registered")

		// The read side ended. It may already have been evicted.
		case c := <-h.unregister:
			if _, ok := h.clients[c.ID]; ok {
				c.log.Info("client unregistered")
				h.remove(c)
			}

		// join-room, leave-room and the negotiation messages.
		case in := <-h.inbound:
			h.handle(in)
		}
	}
}

func (h *Hub) shutdown() {
	close(h.done)
	for _, c := range h.clients {
		delete(h.clients, c.ID)
		h.dir.LeaveAll(c.ID)
		close(c.send)
	}
	h.connections.Store(0)
	metrics.ActiveConnections.Set(0)
	metrics.ActiveRooms.Set(float64(h.dir.Stats().Rooms))
	h.log.Info("hub stopped")
}

// Register hands a new client to the hub. It reports false once the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client and every room membership it holds.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Dispatch queues an inbound envelope from c. It reports false once the hub has stopped.
func (h *Hub) Dispatch(c *Client, env Envelope) bool {
	return h.dispatch(inbound{client: c, env: env})
}

func (h *Hub) dispatch(in inbound) bool {
	// inbound is buffered, so check done first or a stopped hub could still accept.
	select {
	case <-h.done:
		return false
	default:
	}

	select {
	case h.inbound <- in:
		return true
	case <-h.done:
		return false
	}
}

// Stats may be called from any goroutine.
func (h *Hub) Stats() Stats {
	return Stats{
		Connections:    int(h.connections.Load()),
		DirectoryStats: h.dir.Stats(),
	}
}

func (h *Hub) handle(in inbound) {
	c := in.client
	if _, ok := h.clients[c.ID]; !ok {
		// Evicted while the frame was in flight.
		return
	}
	if in.err != nil {
		h.reject(c, in.err)
		return
	}

	var err error
	switch in.env.Event {
	case EventJoinRoom:
		err = h.join(c, in.env.Data)
	case EventLeaveRoom:
		err = h.leave(c, in.env.Data)
	case EventOffer, EventAnswer, EventICECandidate:
		err = h.relay(c, in.env)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownEvent, in.env.Event)
	}

	if err != nil {
		h.reject(c, err)
	}
}

func (h *Hub) join(c *Client, data json.RawMessage) error {
	roomID, err := ParseRoomRequest(data)
	if err != nil {
		return err
	}

	if h.dir.Contains(roomID, c.ID) {
		c.log.Debug("already joined", zap.String("room", roomID))
		return nil
	}
	if h.opts.SingleRoom {
		if rooms := h.dir.RoomsOf(c.ID); len(rooms) > 0 {
			return fmt.Errorf("%w: %s", ErrAlreadyInRoom, rooms[0])
		}
	}
	if h.opts.MaxRoomSize > 0 && h.dir.Size(roomID) >= h.opts.MaxRoomSize {
		return ErrRoomFull
	}

	// The joiner hears about the room before anyone hears about the joiner,
	// so a joiner evicted on its own joined frame is never announced.
	members := h.dir.Members(roomID)
	if h.opts.Presence {
		h.send(c, EventJoined, JoinedPayload{RoomID: roomID, PeerID: c.ID, Peers: len(members), Members: members})
		if _, ok := h.clients[c.ID]; !ok {
			return nil
		}
	}

	h.dir.Join(roomID, c.ID)
	metrics.JoinsTotal.Inc()
	h.updateRoomGauge()
	c.log.Info("joined room", zap.String("room", roomID), zap.Int("peers", len(members)))

	if h.opts.Presence {
		h.fanout(roomID, c.ID, EventPeerJoined, PeerPayload{RoomID: roomID, PeerID: c.ID})
	}
	return nil
}

func (h *Hub) leave(c *Client, data json.RawMessage) error {
	roomID, err := ParseRoomRequest(data)
	if err != nil {
		return err
	}
	if !h.dir.Leave(roomID, c.ID) {
		return fmt.Errorf("%w: %s", ErrNotInRoom, roomID)
	}
	h.updateRoomGauge()
	c.log.Info("left room", zap.String("room", roomID))

	if h.opts.Presence {
		h.fanout(roomID, c.ID, EventPeerLeft, PeerPayload{RoomID: roomID, PeerID: c.ID})
	}
	return nil
}

func (h *Hub) relay(c *Client, env Envelope) error {
	sig, err := DecodeSignal(env)
	if err != nil {
		return err
	}
	roomID := sig.Room()
	if !h.dir.Contains(roomID, c.ID) {
		return fmt.Errorf("%w: %s", ErrNotInRoom, roomID)
	}

	frame, err := EncodeFrame(sig.Event(), env.Data)
	if err != nil {
		return err
	}

	metrics.RelayedTotal.WithLabelValues(sig.Event()).Inc()
	if n := h.broadcast(roomID, c.ID, sig.Event(), frame); n == 0 {
		metrics.DroppedTotal.WithLabelValues("empty_room").Inc()
		c.log.Debug("no other members, dropped", zap.String("event", sig.Event()), zap.String("room", roomID))
		return nil
	}

	c.log.Debug("relayed", zap.String("event", sig.Event()), zap.String("room", roomID))
	return nil
}

// remove forgets c, closes its queue and tells its rooms it has gone.
func (h *Hub) remove(c *Client) {
	delete(h.clients, c.ID)
	close(c.send)
	h.connections.Add(-1)
	metrics.ActiveConnections.Dec()

	rooms := h.dir.LeaveAll(c.ID)
	h.updateRoomGauge()

	if !h.opts.Presence {
		return
	}
	for _, roomID := range rooms {
		h.fanout(roomID, c.ID, EventPeerLeft, PeerPayload{RoomID: roomID, PeerID: c.ID})
	}
}

func (h *Hub) broadcast(roomID, senderID, event string, frame []byte) int {
	return h.dir.Broadcast(roomID, senderID, func(connID string) {
		if target, ok := h.clients[connID]; ok {
			h.deliver(target, event, frame)
		}
	})
}

// deliver never blocks the hub. A client that cannot keep up is evicted.
func (h *Hub) deliver(c *Client, event string, frame []byte) {
	select {
	case c.send <- frame:
		metrics.DeliveriesTotal.WithLabelValues(event).Inc()
	default:
		c.log.Warn("outbound queue full, evicting client", zap.String("event", event))
		metrics.EvictionsTotal.Inc()
		metrics.DroppedTotal.WithLabelValues("slow_consumer").Inc()
		h.remove(c)
	}
}

func (h *Hub) send(c *Client, event string, payload any) {
	frame, err := NewFrame(event, payload)
	if err != nil {
		h.log.Error("encode frame", zap.String("event", event), zap.Error(err))
		return
	}
	h.deliver(c, event, frame)
}

func (h *Hub) fanout(roomID, senderID, event string, payload any) {
	frame, err := NewFrame(event, payload)
	if err != nil {
		h.log.Error("encode frame", zap.String("event", event), zap.Error(err))
		return
	}
	h.broadcast(roomID, senderID, event, frame)
}

func (h *Hub) reject(c *Client, err error) {
	reason := rejectReason(err)
	metrics.RejectedTotal.WithLabelValues(reason).Inc()
	c.log.Warn("rejected message", zap.String("reason", reason), zap.Error(err))
	h.send(c, EventError, ErrorPayload{Error: err.Error()})
}

func (h *Hub) updateRoomGauge() {
	metrics.ActiveRooms.Set(float64(h.dir.Stats().Rooms))
}
