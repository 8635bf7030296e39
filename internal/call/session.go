package call

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/BioHazard786/carecall/internal/config"
	"github.com/BioHazard786/carecall/internal/signalclient"
	"github.com/BioHazard786/carecall/internal/signaling"
)

// Stage is a step of call setup, reported to Options.OnStage.
type Stage int

const (
	StageJoining Stage = iota
	StageWaitingForPeer
	StageNegotiating
	StageConnected
	StageProbing
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageJoining:
		return "Joining room"
	case StageWaitingForPeer:
		return "Waiting for the other participant"
	case StageNegotiating:
		return "Negotiating connection"
	case StageConnected:
		return "Connected"
	case StageProbing:
		return "Measuring round-trip time"
	case StageDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// Options configures a call session.
type Options struct {
	RoomID string
	// Timeout bounds the whole session. Zero means no limit.
	Timeout time.Duration
	Probe   ProbeOptions
	// API builds peer connections. Nil uses pion's defaults.
	API *webrtc.API
	// OnStage is called as the session progresses. It may be nil.
	OnStage func(Stage)
}

// Session drives one side of a call over an already connected relay client.
type Session struct {
	client *signalclient.Client
	events *signalclient.Handler
	cfg    *config.Client
	opts   Options

	pc         *webrtc.PeerConnection
	candidates candidateQueue
	failed     chan struct{}

	// id is this connection's ID on the relay; peerID is the other participant's.
	id     string
	peerID string
}

// AnswerResult describes a completed callee session.
type AnswerResult struct {
	PeerID   string
	Answered int
	// HungUp is true when the caller left without saying bye.
	HungUp bool
}

// CallResult describes a completed caller session.
type CallResult struct {
	PeerID string
	Probe  *ProbeResult
}

func NewSession(client *signalclient.Client, events *signalclient.Handler, cfg *config.Client, opts Options) *Session {
	return &Session{
		client: client,
		events: events,
		cfg:    cfg,
		opts:   opts,
		failed: make(chan struct{}, 1),
	}
}

// Call joins the room, offers to the first peer present and probes the data channel.
func (s *Session) Call(ctx context.Context) (*CallResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	joined, err := s.join(ctx)
	if err != nil {
		return nil, err
	}
	if len(joined.Members) > 0 {
		s.peerID = joined.Members[0]
	}
	if joined.Peers == 0 {
		s.stage(StageWaitingForPeer)
		if err := s.waitForPeer(ctx); err != nil {
			return nil, err
		}
	}

	s.stage(StageNegotiating)
	if err := s.newPeerConnection(); err != nil {
		return nil, err
	}

	dc, err := CreateProbeChannel(s.pc)
	if err != nil {
		return nil, err
	}
	opened := make(chan struct{})
	var openOnce sync.Once
	dc.OnOpen(func() { openOnce.Do(func() { close(opened) }) })

	offer, err := CreateOffer(s.pc)
	if err != nil {
		return nil, err
	}
	if err := s.client.SendOffer(s.opts.RoomID, offer.SDP); err != nil {
		return nil, WrapError("send offer", ErrSignaling, err.Error())
	}

	for {
		select {
		case answer := <-s.events.Answer:
			if err := ApplyAnswer(s.pc, answer); err != nil {
				return nil, err
			}
			if err := s.candidates.flush(s.pc); err != nil {
				return nil, err
			}

		case <-opened:
			s.stage(StageConnected)
			return s.probe(ctx, dc)

		case <-s.events.Offer:
			return nil, WrapError("call", ErrUnexpectedSignal, "offer")

		case c := <-s.events.Candidate:
			if err := s.candidates.add(c); err != nil {
				return nil, err
			}

		case p := <-s.events.PeerJoined:
			s.extraPeer(p)

		case p := <-s.events.PeerLeft:
			if err := s.peerLeft(p); err != nil {
				return nil, err
			}

		case msg := <-s.events.Error:
			return nil, WrapError("relay", ErrSignaling, msg)

		case <-s.events.Done():
			return nil, errRelayLost("call")

		case <-s.failed:
			return nil, NewError("ice", ErrConnectionFailed)

		case <-ctx.Done():
			return nil, s.contextErr(ctx)
		}
	}
}

func (s *Session) probe(ctx context.Context, dc *webrtc.DataChannel) (*CallResult, error) {
	s.stage(StageProbing)

	type outcome struct {
		res *ProbeResult
		err error
	}
	done := make(chan outcome, 1)
	probeCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		res, err := RunProbe(probeCtx, dc, s.opts.Probe)
		done <- outcome{res, err}
	}()

	for {
		select {
		case out := <-done:
			if out.err != nil {
				if ctx.Err() != nil {
					return nil, s.contextErr(ctx)
				}
				return nil, out.err
			}
			waitForDrain(dc, time.Second)
			s.stage(StageDone)
			return &CallResult{PeerID: s.peerID, Probe: out.res}, nil

		case c := <-s.events.Candidate:
			if err := s.candidates.add(c); err != nil {
				return nil, err
			}

		case p := <-s.events.PeerJoined:
			s.extraPeer(p)

		case p := <-s.events.PeerLeft:
			if err := s.peerLeft(p); err != nil {
				return nil, err
			}

		case msg := <-s.events.Error:
			return nil, WrapError("relay", ErrSignaling, msg)

		case <-s.failed:
			return nil, NewError("ice", ErrConnectionFailed)

		case <-ctx.Done():
			return nil, s.contextErr(ctx)
		}
	}
}

// Answer joins the room, waits for an offer and echoes pings until the caller says bye.
func (s *Session) Answer(ctx context.Context) (*AnswerResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	joined, err := s.join(ctx)
	if err != nil {
		return nil, err
	}
	if len(joined.Members) > 0 {
		s.peerID = joined.Members[0]
	}

	s.stage(StageWaitingForPeer)
	responders := make(chan *Responder, 1)
	var responder *Responder
	var bye <-chan struct{} // nil until the probe channel opens

	for {
		select {
		case offer := <-s.events.Offer:
			if s.pc != nil {
				return nil, WrapError("answer", ErrUnexpectedSignal, "second offer")
			}
			if err := s.acceptOffer(offer, responders); err != nil {
				return nil, err
			}

		case r := <-responders:
			responder = r
			bye = r.Bye()
			s.stage(StageConnected)

		case <-bye:
			s.stage(StageDone)
			return &AnswerResult{PeerID: s.peerID, Answered: responder.Answered()}, nil

		case <-s.events.Answer:
			return nil, WrapError("answer", ErrUnexpectedSignal, "answer")

		case c := <-s.events.Candidate:
			if err := s.candidates.add(c); err != nil {
				return nil, err
			}

		case p := <-s.events.PeerJoined:
			if s.peerID == "" {
				s.peerID = p.PeerID
				continue
			}
			s.extraPeer(p)

		case p := <-s.events.PeerLeft:
			err := s.peerLeft(p)
			if err != nil && responder != nil && responder.Answered() > 0 {
				s.stage(StageDone)
				return &AnswerResult{PeerID: s.peerID, Answered: responder.Answered(), HungUp: true}, nil
			}
			if err != nil {
				return nil, err
			}

		case msg := <-s.events.Error:
			return nil, WrapError("relay", ErrSignaling, msg)

		case <-s.events.Done():
			return nil, errRelayLost("answer")

		case <-s.failed:
			return nil, NewError("ice", ErrConnectionFailed)

		case <-ctx.Done():
			return nil, s.contextErr(ctx)
		}
	}
}

func (s *Session) acceptOffer(offer *signaling.Offer, responders chan<- *Responder) error {
	s.stage(StageNegotiating)
	if err := s.newPeerConnection(); err != nil {
		return err
	}

	s.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != ProbeChannelLabel {
			return
		}
		r := NewResponder(dc)
		dc.OnOpen(func() {
			select {
			case responders <- r:
			default:
			}
		})
	})

	answer, err := CreateAnswer(s.pc, offer)
	if err != nil {
		return err
	}
	if err := s.candidates.flush(s.pc); err != nil {
		return err
	}
	if err := s.client.SendAnswer(s.opts.RoomID, answer.SDP); err != nil {
		return WrapError("send answer", ErrSignaling, err.Error())
	}
	return nil
}

// peerLeft fails the session when the participant it is talking to leaves.
// Anyone else leaving the room is ignored.
func (s *Session) peerLeft(p signaling.PeerPayload) error {
	if s.peerID != "" && p.PeerID == s.peerID {
		return WrapError("call", ErrPeerLeft, p.PeerID)
	}
	zap.L().Debug("ignoring departure", zap.String("peer", p.PeerID), zap.String("room", p.RoomID))
	return nil
}

func (s *Session) extraPeer(p signaling.PeerPayload) {
	zap.L().Debug("ignoring extra participant", zap.String("peer", p.PeerID), zap.String("room", p.RoomID))
}

func (s *Session) contextErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return WrapError("call", ErrTimeout, "no answer within "+s.opts.Timeout.String())
	}
	return ctx.Err()
}

func errRelayLost(op string) error {
	return WrapError(op, ErrSignaling, "connection to relay lost")
}

func (s *Session) join(ctx context.Context) (signaling.JoinedPayload, error) {
	s.stage(StageJoining)
	if err := s.client.Join(s.opts.RoomID); err != nil {
		return signaling.JoinedPayload{}, WrapError("join room", ErrSignaling, err.Error())
	}

	select {
	case joined := <-s.events.Joined:
		s.id = joined.PeerID
		return joined, nil
	case msg := <-s.events.Error:
		return signaling.JoinedPayload{}, WrapError("join room", ErrSignaling, msg)
	case <-s.events.Done():
		return signaling.JoinedPayload{}, errRelayLost("join room")
	case <-ctx.Done():
		return signaling.JoinedPayload{}, s.contextErr(ctx)
	}
}

func (s *Session) waitForPeer(ctx context.Context) error {
	for {
		select {
		case p := <-s.events.PeerJoined:
			s.peerID = p.PeerID
			return nil
		case c := <-s.events.Candidate:
			// A previous occupant may still be trickling; nothing to apply it to yet.
			zap.L().Debug("candidate before negotiation", zap.String("room", c.RoomID))
		case <-s.events.Offer:
			return WrapError("call", ErrUnexpectedSignal, "offer")
		case <-s.events.Answer:
			return WrapError("call", ErrUnexpectedSignal, "answer")
		case msg := <-s.events.Error:
			return WrapError("relay", ErrSignaling, msg)
		case <-s.events.Done():
			return errRelayLost("call")
		case <-ctx.Done():
			return s.contextErr(ctx)
		}
	}
}

func (s *Session) newPeerConnection() error {
	pc, err := NewPeerConnection(s.opts.API, s.cfg)
	if err != nil {
		return err
	}
	s.pc = pc

	trickle(pc, func(c webrtc.ICECandidateInit) error {
		return s.client.SendCandidate(s.opts.RoomID, c)
	}, s.failed)
	return nil
}

func (s *Session) stage(st Stage) {
	zap.L().Debug("call stage", zap.String("stage", st.String()), zap.String("room", s.opts.RoomID))
	if s.opts.OnStage != nil {
		s.opts.OnStage(st)
	}
}

func (s *Session) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.Timeout > 0 {
		return context.WithTimeout(ctx, s.opts.Timeout)
	}
	return context.WithCancel(ctx)
}

// ID is this session's connection ID on the relay, known once the room is joined.
func (s *Session) ID() string {
	return s.id
}

// Close tears down the peer connection and leaves the room.
func (s *Session) Close() error {
	if err := s.client.Leave(s.opts.RoomID); err != nil && !errors.Is(err, signalclient.ErrClosed) && !errors.Is(err, signalclient.ErrConnectionLost) {
		zap.L().Debug("leave room", zap.Error(err))
	}
	if s.pc != nil {
		return s.pc.Close()
	}
	return nil
}

// waitForDrain gives queued data channel frames time to leave before teardown.
func waitForDrain(dc *webrtc.DataChannel, limit time.Duration) {
	start := time.Now()
	for dc.BufferedAmount() > 0 && time.Since(start) < limit {
		if dc.ReadyState() != webrtc.DataChannelStateOpen {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
}
