package signaling

import "errors"

var (
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrMalformedPayload = errors.New("malformed payload")
	ErrMissingPayload   = errors.New("missing payload")
	ErrUnknownEvent     = errors.New("unknown event")
	ErrEmptyRoomID      = errors.New("roomId is required")
	ErrWrongSDPType     = errors.New("unexpected sdp type")
	ErrMissingSDP       = errors.New("sdp is required")
	ErrMissingCandidate = errors.New("candidate object is required")
	ErrNotInRoom        = errors.New("join the room first")
	ErrAlreadyInRoom    = errors.New("already in a room; leave it first")
	ErrRoomFull         = errors.New("room is full")
)

// rejectReason maps an error to a short, bounded label for metrics.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrMalformedFrame):
		return "malformed_frame"
	case errors.Is(err, ErrMalformedPayload), errors.Is(err, ErrMissingPayload):
		return "malformed_payload"
	case errors.Is(err, ErrUnknownEvent):
		return "unknown_event"
	case errors.Is(err, ErrEmptyRoomID):
		return "empty_room_id"
	case errors.Is(err, ErrWrongSDPType), errors.Is(err, ErrMissingSDP), errors.Is(err, ErrMissingCandidate):
		return "invalid_signal"
	case errors.Is(err, ErrNotInRoom):
		return "not_in_room"
	case errors.Is(err, ErrAlreadyInRoom):
		return "already_in_room"
	case errors.Is(err, ErrRoomFull):
		return "room_full"
	default:
		return "other"
	}
}
