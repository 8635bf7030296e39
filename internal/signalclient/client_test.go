package signalclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BioHazard786/carecall/internal/server"
	"github.com/BioHazard786/carecall/internal/signaling"
)

func startRelay(t *testing.T) string {
	t.Helper()

	logger := zaptest.NewLogger(t)
	hub := signaling.NewHub(nil, signaling.DefaultOptions(), logger)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	ts := httptest.NewServer(server.New(hub, server.Options{
		AllowedOrigins: []string{"*"},
		Limits:         signaling.DefaultLimits(),
	}, logger).Routes())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		<-stopped
	})
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func connect(t *testing.T, url string) (*Client, *Handler) {
	t.Helper()

	c := NewClient(url, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))

	h := NewHandler(c)
	go h.Start()
	t.Cleanup(func() {
		h.Close()
		c.Close()
	})
	return c, h
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		var zero T
		t.Fatalf("timed out waiting for %T", zero)
		return zero
	}
}

func TestClient_NegotiationRoundTrip(t *testing.T) {
	url := startRelay(t)
	caller, callerEvents := connect(t, url)
	callee, calleeEvents := connect(t, url)

	require.NoError(t, caller.Join("exam-room"))
	assert.Equal(t, 0, receive(t, callerEvents.Joined).Peers)

	require.NoError(t, callee.Join("exam-room"))
	joined := receive(t, calleeEvents.Joined)
	assert.Equal(t, 1, joined.Peers)
	peer := receive(t, callerEvents.PeerJoined)
	assert.Equal(t, joined.PeerID, peer.PeerID)

	require.NoError(t, caller.SendOffer("exam-room", "v=0 offer"))
	offer := receive(t, calleeEvents.Offer)
	assert.Equal(t, "v=0 offer", offer.SDP)

	require.NoError(t, callee.SendAnswer("exam-room", "v=0 answer"))
	answer := receive(t, callerEvents.Answer)
	assert.Equal(t, "v=0 answer", answer.SDP)

	require.NoError(t, caller.SendCandidate("exam-room", map[string]any{"candidate": "candidate:1 1 udp 1 127.0.0.1 9 typ host"}))
	candidate := receive(t, calleeEvents.Candidate)
	assert.JSONEq(t, `{"candidate":"candidate:1 1 udp 1 127.0.0.1 9 typ host"}`, string(candidate.Candidate))

	require.NoError(t, callee.Leave("exam-room"))
	left := receive(t, callerEvents.PeerLeft)
	assert.Equal(t, "exam-room", left.RoomID)
}

func TestClient_RelayErrorsSurface(t *testing.T) {
	url := startRelay(t)
	c, events := connect(t, url)

	require.NoError(t, c.SendOffer("not-joined", "v=0"))
	assert.Contains(t, receive(t, events.Error), "join the room first")
}

func TestClient_CloseEndsHandler(t *testing.T) {
	url := startRelay(t)
	c, events := connect(t, url)

	c.Close()
	receive(t, events.Done())
	assert.ErrorIs(t, c.Send(signaling.EventJoinRoom, "r"), ErrClosed)
}

func TestClient_ConnectFailure(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1/ws", nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, c.Connect(ctx))
}

func TestClient_SendFailsOnceRelayDrops(t *testing.T) {
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	t.Cleanup(ts.Close)

	c := NewClient("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	t.Cleanup(c.Close)

	// More sends than the outgoing queue holds; none may block.
	result := make(chan error, 1)
	go func() {
		for i := 0; i < 1000; i++ {
			if err := c.Send(signaling.EventJoinRoom, signaling.RoomRequest{RoomID: "r"}); err != nil {
				result <- err
				return
			}
			time.Sleep(time.Millisecond)
		}
		result <- nil
	}()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrConnectionLost)
	case <-time.After(5 * time.Second):
		t.Fatal("Send blocked after the relay dropped the connection")
	}
}
