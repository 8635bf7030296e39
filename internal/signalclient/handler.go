package signalclient

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/BioHazard786/carecall/internal/signaling"
)

// Handler routes incoming relay events to typed channels.
type Handler struct {
	client *Client

	Joined     chan signaling.JoinedPayload
	PeerJoined chan signaling.PeerPayload
	PeerLeft   chan signaling.PeerPayload
	Offer      chan *signaling.Offer
	Answer     chan *signaling.Answer
	Candidate  chan *signaling.IceCandidate
	Error      chan string

	stop      chan struct{}
	finished  chan struct{}
	closeOnce sync.Once
}

// NewHandler creates a handler for client. Call Start to begin routing.
func NewHandler(client *Client) *Handler {
	return &Handler{
		client:     client,
		Joined:     make(chan signaling.JoinedPayload, 1),
		PeerJoined: make(chan signaling.PeerPayload, 4),
		PeerLeft:   make(chan signaling.PeerPayload, 4),
		Offer:      make(chan *signaling.Offer, 1),
		Answer:     make(chan *signaling.Answer, 1),
		Candidate:  make(chan *signaling.IceCandidate, 32),
		Error:      make(chan string, 4),
		stop:       make(chan struct{}),
		finished:   make(chan struct{}),
	}
}

// Start routes messages until the connection ends or Close is called.
func (h *Handler) Start() {
	defer close(h.finished)

	for env := range h.client.Incoming() {
		switch env.Event {
		case signaling.EventJoined:
			var p signaling.JoinedPayload
			if h.decode(env, &p) {
				deliver(h, h.Joined, p)
			}

		case signaling.EventPeerJoined:
			var p signaling.PeerPayload
			if h.decode(env, &p) {
				deliver(h, h.PeerJoined, p)
			}

		case signaling.EventPeerLeft:
			var p signaling.PeerPayload
			if h.decode(env, &p) {
				deliver(h, h.PeerLeft, p)
			}

		case signaling.EventOffer, signaling.EventAnswer, signaling.EventICECandidate:
			h.handleSignal(env)

		case signaling.EventError:
			var p signaling.ErrorPayload
			if h.decode(env, &p) {
				deliver(h, h.Error, p.Error)
			}

		default:
			zap.L().Debug("ignoring relay event", zap.String("event", env.Event))
		}
	}
}

// handleSignal validates a relayed negotiation message the same way the relay does.
func (h *Handler) handleSignal(env signaling.Envelope) {
	sig, err := signaling.DecodeSignal(env)
	if err != nil {
		deliver(h, h.Error, "invalid "+env.Event+" from peer: "+err.Error())
		return
	}

	switch s := sig.(type) {
	case *signaling.Offer:
		deliver(h, h.Offer, s)
	case *signaling.Answer:
		deliver(h, h.Answer, s)
	case *signaling.IceCandidate:
		deliver(h, h.Candidate, s)
	}
}

func (h *Handler) decode(env signaling.Envelope, v any) bool {
	if err := json.Unmarshal(env.Data, v); err != nil {
		zap.L().Warn("undecodable relay event", zap.String("event", env.Event), zap.Error(err))
		deliver(h, h.Error, "unreadable "+env.Event+" event from relay")
		return false
	}
	return true
}

func deliver[T any](h *Handler, ch chan T, v T) {
	select {
	case ch <- v:
	case <-h.stop:
	}
}

// Done is closed when the relay connection has ended and every event has been routed.
func (h *Handler) Done() <-chan struct{} {
	return h.finished
}

// Close stops routing. Pending events are dropped.
func (h *Handler) Close() {
	h.closeOnce.Do(func() {
		close(h.stop)
	})
}
