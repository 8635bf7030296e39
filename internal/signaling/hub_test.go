package signaling

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func startHub(t *testing.T, opts Options) *Hub {
	t.Helper()

	h := NewHub(nil, opts, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return h
}

func connect(t *testing.T, h *Hub, id string) *Client {
	t.Helper()
	return connectWithQueue(t, h, id, 16)
}

func connectWithQueue(t *testing.T, h *Hub, id string, queue int) *Client {
	t.Helper()

	c := &Client{
		ID:   id,
		hub:  h,
		send: make(chan []byte, queue),
		log:  zap.NewNop(),
	}
	require.True(t, h.Register(c))
	return c
}

func emit(t *testing.T, h *Hub, c *Client, event string, data string) {
	t.Helper()

	var raw json.RawMessage
	if data != "" {
		raw = json.RawMessage(data)
	}
	require.True(t, h.Dispatch(c, Envelope{Event: event, Data: raw}))
}

func recv(t *testing.T, c *Client) Envelope {
	t.Helper()

	select {
	case frame, ok := <-c.send:
		require.True(t, ok, "queue for %s closed", c.ID)
		var env Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		return env
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for frame on %s", c.ID)
		return Envelope{}
	}
}

// flush round-trips an invalid event through the hub so that everything
// dispatched before it has been handled.
func flush(t *testing.T, h *Hub, c *Client) {
	t.Helper()

	emit(t, h, c, "flush", "")
	env := recv(t, c)
	require.Equal(t, EventError, env.Event)
}

func assertSilent(t *testing.T, c *Client) {
	t.Helper()

	select {
	case frame, ok := <-c.send:
		if ok {
			t.Fatalf("unexpected frame for %s: %s", c.ID, frame)
		}
	default:
	}
}

func quietOptions() Options {
	return Options{SingleRoom: true}
}

func TestHub_RelaysNegotiationBetweenRoomMembers(t *testing.T) {
	h := startHub(t, quietOptions())
	x := connect(t, h, "x")
	y := connect(t, h, "y")

	emit(t, h, x, EventJoinRoom, `"abc123"`)
	emit(t, h, y, EventJoinRoom, `{"roomId":"abc123"}`)

	offer := `{"roomId":"abc123", "type":"offer", "sdp":"v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\n", "extra":{"kept":true}}`
	emit(t, h, x, EventOffer, offer)

	got := recv(t, y)
	assert.Equal(t, EventOffer, got.Event)
	assert.Equal(t, offer, string(got.Data), "payload must be forwarded byte-for-byte")

	answer := `{"roomId":"abc123","type":"answer","sdp":"v=0..."}`
	emit(t, h, y, EventAnswer, answer)
	got = recv(t, x)
	assert.Equal(t, EventAnswer, got.Event)
	assert.JSONEq(t, answer, string(got.Data))

	emit(t, h, x, EventICECandidate, `{"roomId":"abc123","candidate":{"candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host","sdpMid":"0"}}`)
	emit(t, h, y, EventICECandidate, `{"roomId":"abc123","candidate":{"candidate":"candidate:2 1 udp 1 10.0.0.2 5001 typ host","sdpMid":"0"}}`)

	assert.Equal(t, EventICECandidate, recv(t, y).Event)
	assert.Equal(t, EventICECandidate, recv(t, x).Event)

	flush(t, h, x)
	flush(t, h, y)
	assertSilent(t, x)
	assertSilent(t, y)
}

func TestHub_RoomIsolation(t *testing.T) {
	h := startHub(t, quietOptions())
	a := connect(t, h, "a")
	b := connect(t, h, "b")
	outsider := connect(t, h, "outsider")

	emit(t, h, a, EventJoinRoom, `"r1"`)
	emit(t, h, b, EventJoinRoom, `"r1"`)
	emit(t, h, outsider, EventJoinRoom, `"r2"`)

	emit(t, h, a, EventOffer, `{"roomId":"r1","type":"offer","sdp":"v=0"}`)
	emit(t, h, a, EventICECandidate, `{"roomId":"r1","candidate":{"candidate":"c"}}`)

	assert.Equal(t, EventOffer, recv(t, b).Event)
	assert.Equal(t, EventICECandidate, recv(t, b).Event)

	flush(t, h, a)
	flush(t, h, outsider)
	assertSilent(t, outsider)
}

func TestHub_SenderNeverReceivesOwnMessage(t *testing.T) {
	h := startHub(t, quietOptions())
	a := connect(t, h, "a")
	b := connect(t, h, "b")

	emit(t, h, a, EventJoinRoom, `"r"`)
	emit(t, h, b, EventJoinRoom, `"r"`)

	emit(t, h, a, EventOffer, `{"roomId":"r","type":"offer","sdp":"v=0"}`)
	emit(t, h, a, EventAnswer, `{"roomId":"r","type":"answer","sdp":"v=0"}`)
	emit(t, h, a, EventICECandidate, `{"roomId":"r","candidate":{}}`)

	for _, want := range []string{EventOffer, EventAnswer, EventICECandidate} {
		assert.Equal(t, want, recv(t, b).Event)
	}

	flush(t, h, a)
	assertSilent(t, a)
}

func TestHub_FanOutReachesExactlyOtherMembers(t *testing.T) {
	h := startHub(t, quietOptions())
	a := connect(t, h, "a")
	b := connect(t, h, "b")
	c := connect(t, h, "c")
	other := connect(t, h, "other")

	for _, cl := range []*Client{a, b, c} {
		emit(t, h, cl, EventJoinRoom, `"trio"`)
	}
	emit(t, h, other, EventJoinRoom, `"elsewhere"`)

	emit(t, h, a, EventOffer, `{"roomId":"trio","type":"offer","sdp":"v=0"}`)

	assert.Equal(t, EventOffer, recv(t, b).Event)
	assert.Equal(t, EventOffer, recv(t, c).Event)

	flush(t, h, a)
	for _, cl := range []*Client{a, b, c, other} {
		flush(t, h, cl)
		assertSilent(t, cl)
	}
}

func TestHub_RepeatedJoinDeliversOnce(t *testing.T) {
	h := startHub(t, quietOptions())
	a := connect(t, h, "a")
	b := connect(t, h, "b")

	emit(t, h, a, EventJoinRoom, `"r"`)
	emit(t, h, b, EventJoinRoom, `"r"`)
	emit(t, h, b, EventJoinRoom, `"r"`)

	emit(t, h, a, EventOffer, `{"roomId":"r","type":"offer","sdp":"v=0"}`)

	assert.Equal(t, EventOffer, recv(t, b).Event)
	flush(t, h, a)
	flush(t, h, b)
	assertSilent(t, b)
	assert.Equal(t, 2, h.Stats().Memberships)
}

func TestHub_LateJoinerGetsNoHistory(t *testing.T) {
	h := startHub(t, quietOptions())
	a := connect(t, h, "a")
	late := connect(t, h, "late")

	emit(t, h, a, EventJoinRoom, `"r"`)
	emit(t, h, a, EventOffer, `{"roomId":"r","type":"offer","sdp":"v=0"}`)
	emit(t, h, late, EventJoinRoom, `"r"`)

	flush(t, h, a)
	flush(t, h, late)
	assertSilent(t, late)

	emit(t, h, a, EventICECandidate, `{"roomId":"r","candidate":{"candidate":"c"}}`)
	assert.Equal(t, EventICECandidate, recv(t, late).Event)
}

func TestHub_DisconnectedClientReceivesNothing(t *testing.T) {
	h := startHub(t, quietOptions())
	a := connect(t, h, "a")
	b := connect(t, h, "b")

	emit(t, h, a, EventJoinRoom, `"r"`)
	emit(t, h, b, EventJoinRoom, `"r"`)
	flush(t, h, b)

	h.Unregister(a)
	emit(t, h, b, EventOffer, `{"roomId":"r","type":"offer","sdp":"v=0"}`)
	flush(t, h, b)
	assertSilent(t, b)

	_, ok := <-a.send
	assert.False(t, ok, "queue of a disconnected client must be closed without frames")
	assert.Equal(t, 1, h.Stats().Connections)
	assert.Equal(t, 1, h.Stats().Memberships)
}

func TestHub_RejectsSignalFromNonMember(t *testing.T) {
	h := startHub(t, quietOptions())
	member := connect(t, h, "member")
	stranger := connect(t, h, "stranger")

	emit(t, h, member, EventJoinRoom, `"r"`)
	emit(t, h, stranger, EventOffer, `{"roomId":"r","type":"offer","sdp":"v=0"}`)

	got := recv(t, stranger)
	require.Equal(t, EventError, got.Event)
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(got.Data, &payload))
	assert.Contains(t, payload.Error, ErrNotInRoom.Error())

	flush(t, h, member)
	assertSilent(t, member)
}

func TestHub_RejectsMalformedMessages(t *testing.T) {
	tests := []struct {
		name  string
		event string
		data  string
	}{
		{name: "join without room", event: EventJoinRoom, data: `""`},
		{name: "join with null", event: EventJoinRoom, data: `null`},
		{name: "offer without room", event: EventOffer, data: `{"type":"offer","sdp":"v=0"}`},
		{name: "offer with answer type", event: EventOffer, data: `{"roomId":"r","type":"answer","sdp":"v=0"}`},
		{name: "answer without sdp", event: EventAnswer, data: `{"roomId":"r","type":"answer"}`},
		{name: "candidate missing", event: EventICECandidate, data: `{"roomId":"r"}`},
		{name: "candidate not an object", event: EventICECandidate, data: `{"roomId":"r","candidate":"x"}`},
		{name: "payload not an object", event: EventOffer, data: `[1,2]`},
		{name: "unknown event", event: "hangup", data: `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := startHub(t, quietOptions())
			a := connect(t, h, "a")
			b := connect(t, h, "b")
			emit(t, h, a, EventJoinRoom, `"r"`)
			emit(t, h, b, EventJoinRoom, `"r"`)

			emit(t, h, a, tt.event, tt.data)
			assert.Equal(t, EventError, recv(t, a).Event)

			flush(t, h, b)
			assertSilent(t, b)

			// The connection survives and keeps relaying.
			emit(t, h, a, EventOffer, `{"roomId":"r","type":"offer","sdp":"v=0"}`)
			assert.Equal(t, EventOffer, recv(t, b).Event)
		})
	}
}

func TestHub_MalformedFrameIsRejected(t *testing.T) {
	h := startHub(t, quietOptions())
	a := connect(t, h, "a")

	require.True(t, h.dispatch(inbound{client: a, err: ErrMalformedFrame}))
	assert.Equal(t, EventError, recv(t, a).Event)
}

func TestHub_SingleRoomRejectsSecondRoom(t *testing.T) {
	h := startHub(t, quietOptions())
	a := connect(t, h, "a")

	emit(t, h, a, EventJoinRoom, `"first"`)
	emit(t, h, a, EventJoinRoom, `"second"`)

	got := recv(t, a)
	require.Equal(t, EventError, got.Event)
	assert.Contains(t, string(got.Data), "first")
	assert.Equal(t, []string{"first"}, h.dir.RoomsOf("a"))
}

func TestHub_LeaveRoomAllowsSwitching(t *testing.T) {
	h := startHub(t, quietOptions())
	a := connect(t, h, "a")
	b := connect(t, h, "b")

	emit(t, h, a, EventJoinRoom, `"first"`)
	emit(t, h, a, EventLeaveRoom, `"first"`)
	emit(t, h, a, EventJoinRoom, `"second"`)
	emit(t, h, b, EventJoinRoom, `"second"`)

	emit(t, h, b, EventOffer, `{"roomId":"second","type":"offer","sdp":"v=0"}`)
	assert.Equal(t, EventOffer, recv(t, a).Event)

	emit(t, h, a, EventLeaveRoom, `"first"`)
	assert.Equal(t, EventError, recv(t, a).Event)
}

func TestHub_MultiRoomFansOutPerRoom(t *testing.T) {
	h := startHub(t, Options{SingleRoom: false})
	hubby := connect(t, h, "hub")
	left := connect(t, h, "left")
	right := connect(t, h, "right")

	emit(t, h, hubby, EventJoinRoom, `"l"`)
	emit(t, h, hubby, EventJoinRoom, `"r"`)
	emit(t, h, left, EventJoinRoom, `"l"`)
	emit(t, h, right, EventJoinRoom, `"r"`)

	emit(t, h, left, EventOffer, `{"roomId":"l","type":"offer","sdp":"v=0"}`)
	assert.Equal(t, EventOffer, recv(t, hubby).Event)

	flush(t, h, right)
	assertSilent(t, right)

	h.Unregister(hubby)
	flush(t, h, left)
	assert.Equal(t, 2, h.Stats().Rooms)
	assert.Equal(t, 2, h.Stats().Memberships)
}

func TestHub_PresenceNotifications(t *testing.T) {
	h := startHub(t, DefaultOptions())
	a := connect(t, h, "a")
	b := connect(t, h, "b")

	emit(t, h, a, EventJoinRoom, `"r"`)
	joined := recv(t, a)
	require.Equal(t, EventJoined, joined.Event)
	var jp JoinedPayload
	require.NoError(t, json.Unmarshal(joined.Data, &jp))
	assert.Equal(t, JoinedPayload{RoomID: "r", PeerID: "a", Peers: 0}, jp)

	emit(t, h, b, EventJoinRoom, `"r"`)
	joined = recv(t, b)
	require.NoError(t, json.Unmarshal(joined.Data, &jp))
	assert.Equal(t, 1, jp.Peers)
	assert.Equal(t, []string{"a"}, jp.Members)

	peerJoined := recv(t, a)
	require.Equal(t, EventPeerJoined, peerJoined.Event)
	var pp PeerPayload
	require.NoError(t, json.Unmarshal(peerJoined.Data, &pp))
	assert.Equal(t, PeerPayload{RoomID: "r", PeerID: "b"}, pp)

	h.Unregister(b)
	peerLeft := recv(t, a)
	require.Equal(t, EventPeerLeft, peerLeft.Event)
	require.NoError(t, json.Unmarshal(peerLeft.Data, &pp))
	assert.Equal(t, PeerPayload{RoomID: "r", PeerID: "b"}, pp)
}

func TestHub_PresenceOnLeaveRoom(t *testing.T) {
	h := startHub(t, DefaultOptions())
	a := connect(t, h, "a")
	b := connect(t, h, "b")

	emit(t, h, a, EventJoinRoom, `"r"`)
	emit(t, h, b, EventJoinRoom, `"r"`)
	recv(t, a) // joined
	recv(t, b) // joined
	recv(t, a) // peer-joined

	emit(t, h, b, EventLeaveRoom, `{"roomId":"r"}`)
	assert.Equal(t, EventPeerLeft, recv(t, a).Event)
}

func TestHub_JoinerEvictedOnJoinedIsNeverAnnounced(t *testing.T) {
	h := startHub(t, DefaultOptions())
	a := connect(t, h, "a")
	b := connectWithQueue(t, h, "b", 1)

	emit(t, h, a, EventJoinRoom, `"r"`)
	require.Equal(t, EventJoined, recv(t, a).Event)

	b.send <- []byte(`{"event":"filler"}`)
	emit(t, h, b, EventJoinRoom, `"r"`)

	// flush fails if a peer-joined or peer-left reached a first.
	flush(t, h, a)
	assertSilent(t, a)

	<-b.send
	_, ok := <-b.send
	assert.False(t, ok, "b should have been evicted")

	assert.Equal(t, 1, h.Stats().Connections)
	assert.Equal(t, 1, h.Stats().Memberships)
	assert.Equal(t, []string{"a"}, h.dir.Members("r"))
}

func TestHub_MaxRoomSize(t *testing.T) {
	h := startHub(t, Options{SingleRoom: true, MaxRoomSize: 2})
	a := connect(t, h, "a")
	b := connect(t, h, "b")
	c := connect(t, h, "c")

	emit(t, h, a, EventJoinRoom, `"r"`)
	emit(t, h, b, EventJoinRoom, `"r"`)
	emit(t, h, c, EventJoinRoom, `"r"`)

	got := recv(t, c)
	require.Equal(t, EventError, got.Event)
	assert.Contains(t, string(got.Data), ErrRoomFull.Error())
	assert.Equal(t, 2, h.dir.Size("r"))
}

func TestHub_EvictsSlowConsumer(t *testing.T) {
	h := startHub(t, quietOptions())
	fast := connect(t, h, "fast")
	slow := connectWithQueue(t, h, "slow", 1)

	emit(t, h, fast, EventJoinRoom, `"r"`)
	emit(t, h, slow, EventJoinRoom, `"r"`)

	emit(t, h, fast, EventICECandidate, `{"roomId":"r","candidate":{"n":1}}`)
	emit(t, h, fast, EventICECandidate, `{"roomId":"r","candidate":{"n":2}}`)
	flush(t, h, fast)

	frame, ok := <-slow.send
	require.True(t, ok)
	assert.Contains(t, string(frame), `"n":1`)
	_, ok = <-slow.send
	assert.False(t, ok, "slow client should have been evicted")

	assert.Equal(t, 1, h.Stats().Connections)
	assert.False(t, h.dir.Contains("r", "slow"))
}

func TestHub_StopClosesQueues(t *testing.T) {
	h := NewHub(nil, quietOptions(), zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()

	a := connect(t, h, "a")
	emit(t, h, a, EventJoinRoom, `"r"`)
	flush(t, h, a)

	cancel()
	<-stopped

	_, ok := <-a.send
	assert.False(t, ok)
	assert.False(t, h.Register(&Client{ID: "late", send: make(chan []byte, 1), log: zap.NewNop()}))
	assert.False(t, h.Dispatch(a, Envelope{Event: EventJoinRoom}))
	assert.Equal(t, 0, h.Stats().Rooms)
}
