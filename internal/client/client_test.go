package client

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentping/relay/internal/classify"
	"github.com/agentping/relay/internal/origin"
	"github.com/agentping/relay/internal/session"
	"github.com/agentping/relay/internal/ws"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startRelay(t *testing.T, token string) (*ws.Hub, string) {
	t.Helper()
	hub := ws.NewHub(nil, ws.Options{}, quietLogger())
	v, err := origin.NewValidator(nil)
	require.NoError(t, err)
	srv := httptest.NewServer(ws.NewServer(hub, v, token, quietLogger()).Handler())
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, srv.URL
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestWSURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"http://127.0.0.1:8765", "ws://127.0.0.1:8765/ws"},
		{"https://relay.example", "wss://relay.example/ws"},
		{"100.64.1.2:8765", "ws://100.64.1.2:8765/ws"},
		{"ws://host:1/ws", "ws://host:1/ws"},
	}
	for _, tt := range tests {
		got, err := WSURL(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := WSURL("ftp://host")
	assert.Error(t, err)

	h, err := HTTPURL("wss://relay.example/ws")
	require.NoError(t, err)
	assert.Equal(t, "https://relay.example", h)
}

func TestEmitDeliversSignal(t *testing.T) {
	hub, url := startRelay(t, "")

	err := Emit(testCtx(t), url, "", classify.Signal{SessionID: "s1", SignalType: "task_completed", TranscriptExcerpt: "All done"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s, ok := hub.Registry().Get("s1")
		return ok && s.State == session.Idle
	}, 3*time.Second, 10*time.Millisecond)

	s, _ := hub.Registry().Get("s1")
	assert.False(t, s.EmitterConnected, "transient emitters never bind")
}

func TestDialUnauthorized(t *testing.T) {
	_, url := startRelay(t, "tok")

	_, err := Dial(testCtx(t), url, "wrong", ws.Envelope{Role: ws.RoleViewer})
	assert.ErrorIs(t, err, ws.ErrUnauthorized)

	c, err := Dial(testCtx(t), url, "tok", ws.Envelope{Role: ws.RoleViewer})
	require.NoError(t, err)
	assert.NotEmpty(t, c.Welcome.ConnectionID)
	c.Close()
}

func TestAttachedEmitterReceivesCommands(t *testing.T) {
	hub, url := startRelay(t, "")

	got := make(chan ws.CommandMessage, 1)
	em := NewEmitter(url, "", "s1", func(_ context.Context, cmd ws.CommandMessage) error {
		got <- cmd
		return nil
	}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- em.Run(ctx) }()

	require.NoError(t, em.Signal(classify.SignalInputNeeded, "Deploy?", "/srv/app"))
	require.Eventually(t, func() bool {
		s, ok := hub.Registry().Get("s1")
		return ok && s.EmitterConnected
	}, 3*time.Second, 10*time.Millisecond)

	v, err := DialViewer(testCtx(t), url, "")
	require.NoError(t, err)
	defer v.Close()

	ack, err := v.Approve(testCtx(t), "s1")
	require.NoError(t, err)
	assert.True(t, ack.OK)

	select {
	case cmd := <-got:
		assert.Equal(t, ws.ApprovePayload, cmd.Payload)
		assert.Equal(t, ack.CommandID, cmd.CommandID)
	case <-time.After(3 * time.Second):
		t.Fatal("command not delivered")
	}

	cancel()
	assert.NoError(t, <-done)
}

func TestViewerRoundTrips(t *testing.T) {
	hub, url := startRelay(t, "")
	hub.Ingest(session.Event{SessionID: "s1", Kind: session.InputNeeded, Summary: "Continue?"})

	v, err := DialViewer(testCtx(t), url, "")
	require.NoError(t, err)
	defer v.Close()

	snap, err := v.Snapshot(testCtx(t))
	require.NoError(t, err)
	require.Len(t, snap.Sessions, 1)
	assert.Equal(t, 1, snap.Counts.AwaitingInput)

	st, err := v.Status(testCtx(t), "s1")
	require.NoError(t, err)
	assert.True(t, st.Found)
	assert.Equal(t, "Continue?", st.LastEventSummary)

	hist, err := v.History(testCtx(t), 10)
	require.NoError(t, err)
	assert.Len(t, hist, 1)

	// No emitter is attached, so the command cannot be delivered.
	_, err = v.Command(testCtx(t), "s1", "y")
	assert.ErrorIs(t, err, ws.ErrSessionUnreachable)
}

func TestHTTPClient(t *testing.T) {
	hub, url := startRelay(t, "tok")
	hub.Ingest(session.Event{SessionID: "s1", Kind: session.Progress})

	c, err := NewHTTPClient(url, "tok")
	require.NoError(t, err)

	h, err := c.Health(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, 1, h.Sessions)

	snap, err := c.Sessions(testCtx(t))
	require.NoError(t, err)
	assert.Len(t, snap.Sessions, 1)

	st, err := c.Session(testCtx(t), "missing")
	require.NoError(t, err)
	assert.False(t, st.Found)

	_, err = c.Command(testCtx(t), "s1", "y")
	assert.ErrorIs(t, err, ws.ErrSessionUnreachable)

	bad, _ := NewHTTPClient(url, "")
	_, err = bad.Sessions(testCtx(t))
	assert.ErrorContains(t, err, "401")
}

func TestReplacedEmitterStops(t *testing.T) {
	hub, url := startRelay(t, "")
	noop := func(context.Context, ws.CommandMessage) error { return nil }

	first := NewEmitter(url, "", "s1", noop, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- first.Run(ctx) }()

	require.NoError(t, first.Signal(classify.SignalProgress, "", ""))
	require.Eventually(t, func() bool { _, ok := hub.Registry().Get("s1"); return ok }, 3*time.Second, 10*time.Millisecond)
	c, err := Dial(testCtx(t), url, "", ws.Envelope{Role: ws.RoleEmitter, SessionID: "s1"})
	require.NoError(t, err)
	defer c.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ws.ErrReplaced)
	case <-time.After(3 * time.Second):
		t.Fatal("replaced emitter kept running")
	}
}

func TestDispatch(t *testing.T) {
	msg := dispatch(ws.MsgBehind, []byte(`{"type":"behind","dropped":7}`))
	assert.Equal(t, BehindMsg{Dropped: 7}, msg)

	msg = dispatch(ws.MsgError, []byte(`{"type":"error","code":"RateLimited","message":"slow down"}`))
	em, ok := msg.(ErrorMsg)
	require.True(t, ok)
	assert.ErrorIs(t, em.Err, ws.ErrRateLimited)

	assert.Nil(t, dispatch("mystery", []byte(`{}`)))
}
