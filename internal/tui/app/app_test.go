package app

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentping/relay/internal/client"
	"github.com/agentping/relay/internal/notify"
	"github.com/agentping/relay/internal/session"
	"github.com/agentping/relay/internal/ws"
)

type fakeRelay struct {
	sent      []ws.Envelope
	approved  []string
	denied    []string
	commands  []string
	snapshots int
	err       error
}

func (f *fakeRelay) Listen(context.Context) tea.Cmd { return nil }
func (f *fakeRelay) ReadLoop() tea.Cmd             { return nil }

func (f *fakeRelay) Send(env ws.Envelope) error {
	f.sent = append(f.sent, env)
	return f.err
}

func (f *fakeRelay) RequestSnapshot() error {
	f.snapshots++
	return f.err
}

func (f *fakeRelay) Approve(id string) error {
	f.approved = append(f.approved, id)
	return f.err
}

func (f *fakeRelay) Deny(id string) error {
	f.denied = append(f.denied, id)
	return f.err
}

func (f *fakeRelay) Command(id, payload string) error {
	f.commands = append(f.commands, id+":"+payload)
	return f.err
}

func update(t *testing.T, m Model, msgs ...tea.Msg) Model {
	t.Helper()
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		m = next.(Model)
	}
	return m
}

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func snapshot(sessions ...session.Session) client.SnapshotMsg {
	return client.SnapshotMsg{Snapshot: ws.SnapshotMessage{
		Sessions: sessions,
		Counts:   session.CountStates(sessions),
	}}
}

func TestSnapshotOrdersAwaitingFirst(t *testing.T) {
	m := update(t, New(&fakeRelay{}), snapshot(
		session.Session{ID: "a", State: session.Idle, Seq: 1},
		session.Session{ID: "b", State: session.AwaitingInput, Seq: 2},
		session.Session{ID: "c", State: session.Busy, Seq: 3},
	))

	assert.Equal(t, []string{"b", "c", "a"}, m.order)
	assert.Equal(t, 1, m.statusBar.Counts.AwaitingInput)
	assert.Equal(t, 3, m.statusBar.Counts.Total)
}

func TestStaleEventsIgnored(t *testing.T) {
	m := update(t, New(&fakeRelay{}),
		snapshot(session.Session{ID: "s1", State: session.Busy, Seq: 5}),
		client.EventMsg{Event: ws.EventMessage{Seq: 4, SessionID: "s1", Kind: session.TaskCompleted, State: session.Idle}},
	)
	assert.Equal(t, session.Busy, m.sessions["s1"].State)
	assert.Empty(t, m.feed.Entries)

	m = update(t, m, client.EventMsg{Event: ws.EventMessage{
		Seq: 6, SessionID: "s1", Kind: session.InputNeeded, State: session.AwaitingInput,
		Summary: "Deploy?", Urgency: notify.Urgent, Announce: true, OccurredAt: time.Now(),
	}})
	assert.Equal(t, session.AwaitingInput, m.sessions["s1"].State)
	assert.Equal(t, "Deploy?", m.sessions["s1"].LastEventSummary)
	assert.Len(t, m.feed.Entries, 1)
	assert.Contains(t, m.statusBar.Notice, "s1 needs you")
	assert.Equal(t, 1, m.statusBar.Counts.AwaitingInput)
}

func TestEventForNewSession(t *testing.T) {
	m := update(t, New(&fakeRelay{}), client.EventMsg{Event: ws.EventMessage{
		Seq: 1, SessionID: "new", Kind: session.Progress, State: session.Busy, Cwd: "/srv",
	}})
	require.Contains(t, m.sessions, "new")
	assert.Equal(t, "/srv", m.sessions["new"].Cwd)
	assert.Equal(t, []string{"new"}, m.order)
}

func TestBehindRequestsSnapshot(t *testing.T) {
	relay := &fakeRelay{}
	m := update(t, New(relay), client.BehindMsg{Dropped: 7})
	assert.Equal(t, 7, m.statusBar.Dropped)
	require.Len(t, relay.sent, 1)
	assert.Equal(t, ws.MsgSnapshot, relay.sent[0].Type)
}

func TestConnectedRequestsHistory(t *testing.T) {
	relay := &fakeRelay{}
	m := update(t, New(relay), client.ConnectedMsg{ConnectionID: "c1"})
	assert.True(t, m.connected)
	require.Len(t, relay.sent, 1)
	assert.Equal(t, ws.MsgHistory, relay.sent[0].Type)
	assert.Equal(t, historyLimit, relay.sent[0].Limit)
}

func TestSessionRemoved(t *testing.T) {
	m := update(t, New(&fakeRelay{}),
		snapshot(session.Session{ID: "a"}, session.Session{ID: "b"}),
		client.SessionRemovedMsg{SessionID: "a"},
	)
	assert.Equal(t, []string{"b"}, m.order)
	assert.Equal(t, 1, m.statusBar.Counts.Total)
}

func TestApproveDenySelected(t *testing.T) {
	relay := &fakeRelay{}
	m := update(t, New(relay),
		snapshot(
			session.Session{ID: "a", State: session.AwaitingInput},
			session.Session{ID: "b", State: session.Busy},
		),
		keyMsg("y"),
		keyMsg("j"),
		keyMsg("n"),
	)
	assert.Equal(t, []string{"a"}, relay.approved)
	assert.Equal(t, []string{"b"}, relay.denied)
	assert.Equal(t, 1, m.selectedIdx)
}

func TestSelectionFollowsSession(t *testing.T) {
	m := update(t, New(&fakeRelay{}),
		snapshot(
			session.Session{ID: "a", State: session.Busy, Seq: 1},
			session.Session{ID: "b", State: session.Idle, Seq: 2},
		),
		keyMsg("j"),
	)
	id, _ := m.selected()
	require.Equal(t, "b", id)

	// b jumps to the top; the cursor stays on it.
	m = update(t, m, client.EventMsg{Event: ws.EventMessage{Seq: 3, SessionID: "b", State: session.AwaitingInput}})
	id, _ = m.selected()
	assert.Equal(t, "b", id)
	assert.Equal(t, 0, m.selectedIdx)
}

func TestCommandInput(t *testing.T) {
	relay := &fakeRelay{}
	m := update(t, New(relay),
		snapshot(session.Session{ID: "a", State: session.AwaitingInput}),
		keyMsg("c"),
	)
	require.True(t, m.typing)

	m.input.SetValue("run the migrations")
	m = update(t, m, keyMsg("enter"))
	assert.False(t, m.typing)
	assert.Equal(t, []string{"a:run the migrations"}, relay.commands)

	m = update(t, m, keyMsg("c"))
	m.input.SetValue("discard me")
	m = update(t, m, keyMsg("esc"))
	assert.False(t, m.typing)
	assert.Len(t, relay.commands, 1)
}

func TestKeysWhileTypingDoNotApprove(t *testing.T) {
	relay := &fakeRelay{}
	_ = update(t, New(relay),
		snapshot(session.Session{ID: "a"}),
		keyMsg("c"),
		keyMsg("y"),
	)
	assert.Empty(t, relay.approved)
}

func TestRelayErrorsShownAsNotice(t *testing.T) {
	relay := &fakeRelay{err: errors.New("not connected")}
	m := update(t, New(relay), snapshot(session.Session{ID: "a"}), keyMsg("y"))
	assert.Contains(t, m.statusBar.Notice, "not connected")

	m = update(t, m, client.AckMsg{Ack: ws.CommandAck{TargetSessionID: "a", OK: false, Error: ws.CodeSessionUnreachable}})
	assert.Contains(t, m.statusBar.Notice, ws.CodeSessionUnreachable)
}

func TestHistoryReplacesFeed(t *testing.T) {
	m := update(t, New(&fakeRelay{}), client.HistoryMsg{Events: []ws.EventMessage{
		{SessionID: "a", Seq: 1}, {SessionID: "b", Seq: 2},
	}})
	assert.Len(t, m.feed.Entries, 2)
}

func TestDisconnectBanner(t *testing.T) {
	m := update(t, New(&fakeRelay{}), tea.WindowSizeMsg{Width: 100, Height: 30})
	v := m.View()
	assert.Contains(t, v, "DISCONNECTED")
	assert.Contains(t, v, "Reconnecting")

	m = update(t, m, client.ConnectedMsg{}, snapshot(session.Session{ID: "sess-1", State: session.Busy}))
	v = m.View()
	assert.NotContains(t, v, "DISCONNECTED")
	assert.Contains(t, v, "sess-1")
}

func TestInitializingView(t *testing.T) {
	assert.Equal(t, "Initializing...", New(&fakeRelay{}).View())
}
