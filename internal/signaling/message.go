package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Envelope is the frame exchanged over the websocket in both directions.
// Data is kept raw so relayed payloads leave the relay byte-for-byte as they arrived.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client to relay events.
const (
	EventJoinRoom     = "join-room"
	EventLeaveRoom    = "leave-room"
	EventOffer        = "offer"
	EventAnswer       = "answer"
	EventICECandidate = "ice-candidate"
)

// Relay to client events. Offer, answer and ice-candidate are forwarded under their own names.
const (
	EventJoined     = "joined"
	EventPeerJoined = "peer-joined"
	EventPeerLeft   = "peer-left"
	EventError      = "error"
)

// SDP types carried in offer and answer payloads.
const (
	SDPTypeOffer  = "offer"
	SDPTypeAnswer = "answer"
)

// Signal is a validated negotiation message: one of Offer, Answer or IceCandidate.
type Signal interface {
	// Event is the wire event name the signal travels under.
	Event() string
	// Room is the room the signal is addressed to.
	Room() string
	validate() error
}

// Offer carries the caller's session description.
type Offer struct {
	RoomID string `json:"roomId"`
	Type   string `json:"type"`
	SDP    string `json:"sdp"`
}

func (o *Offer) Event() string { return EventOffer }
func (o *Offer) Room() string  { return o.RoomID }
func (o *Offer) validate() error {
	return validateDescription(o.RoomID, o.Type, o.SDP, SDPTypeOffer)
}

// Answer carries the callee's session description.
type Answer struct {
	RoomID string `json:"roomId"`
	Type   string `json:"type"`
	SDP    string `json:"sdp"`
}

func (a *Answer) Event() string { return EventAnswer }
func (a *Answer) Room() string  { return a.RoomID }
func (a *Answer) validate() error {
	return validateDescription(a.RoomID, a.Type, a.SDP, SDPTypeAnswer)
}

// IceCandidate carries one trickled candidate. The candidate object is never inspected.
type IceCandidate struct {
	RoomID    string          `json:"roomId"`
	Candidate json.RawMessage `json:"candidate"`
}

func (c *IceCandidate) Event() string { return EventICECandidate }
func (c *IceCandidate) Room() string  { return c.RoomID }
func (c *IceCandidate) validate() error {
	if strings.TrimSpace(c.RoomID) == "" {
		return ErrEmptyRoomID
	}
	trimmed := bytes.TrimSpace(c.Candidate)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return ErrMissingCandidate
	}
	return nil
}

func validateDescription(roomID, sdpType, sdp, want string) error {
	if strings.TrimSpace(roomID) == "" {
		return ErrEmptyRoomID
	}
	if sdpType != want {
		return fmt.Errorf("%w: got %q, want %q", ErrWrongSDPType, sdpType, want)
	}
	if sdp == "" {
		return ErrMissingSDP
	}
	return nil
}

// DecodeSignal turns an offer, answer or ice-candidate envelope into a validated Signal.
func DecodeSignal(env Envelope) (Signal, error) {
	var sig Signal
	switch env.Event {
	case EventOffer:
		sig = &Offer{}
	case EventAnswer:
		sig = &Answer{}
	case EventICECandidate:
		sig = &IceCandidate{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}

	if len(env.Data) == 0 {
		return nil, ErrMissingPayload
	}
	if err := json.Unmarshal(env.Data, sig); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := sig.validate(); err != nil {
		return nil, err
	}
	return sig, nil
}

// ParseRoomRequest extracts the room ID from join-room and leave-room payloads.
// Both a bare JSON string and an object with a roomId field are accepted.
func ParseRoomRequest(data json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", ErrEmptyRoomID
	}

	var roomID string
	if trimmed[0] == '"' {
		if err := json.Unmarshal(trimmed, &roomID); err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
	} else {
		var req RoomRequest
		if err := json.Unmarshal(trimmed, &req); err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		roomID = req.RoomID
	}

	if strings.TrimSpace(roomID) == "" {
		return "", ErrEmptyRoomID
	}
	return roomID, nil
}

// RoomRequest is the object form of a join-room or leave-room payload.
type RoomRequest struct {
	RoomID string `json:"roomId"`
}

// JoinedPayload is sent to a connection when it joins a room.
type JoinedPayload struct {
	RoomID string `json:"roomId"`
	// PeerID is the joiner's own connection ID.
	PeerID string `json:"peerId"`
	// Peers is the number of other members already in the room.
	Peers int `json:"peers"`
	// Members lists their connection IDs.
	Members []string `json:"members,omitempty"`
}

// PeerPayload announces another member joining or leaving a room.
type PeerPayload struct {
	RoomID string `json:"roomId"`
	PeerID string `json:"peerId"`
}

// ErrorPayload is the body of an error event.
type ErrorPayload struct {
	Error string `json:"error"`
}

// EncodeFrame builds a text frame for event around already-encoded data.
// data is written as is, so relayed payloads are not re-encoded.
func EncodeFrame(event string, data json.RawMessage) ([]byte, error) {
	name, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(len(name) + len(data) + 20)
	buf.WriteString(`{"event":`)
	buf.Write(name)
	if len(data) > 0 {
		buf.WriteString(`,"data":`)
		buf.Write(data)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// NewFrame marshals payload and wraps it in an envelope frame.
func NewFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return EncodeFrame(event, data)
}
