package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/agentping/relay/internal/ws"
)

// Watcher is a reconnecting viewer connection that feeds a Bubble Tea
// program.
type Watcher struct {
	base   string
	token  string
	logger *slog.Logger

	mu   sync.Mutex
	conn *Conn
}

func NewWatcher(base, token string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{base: base, token: token, logger: logger}
}

// --- Bubble Tea messages ---

// ConnectedMsg is sent when the viewer connection is up.
type ConnectedMsg struct{ ConnectionID string }

// DisconnectedMsg is sent when the connection drops.
type DisconnectedMsg struct{ Err error }

type SnapshotMsg struct{ Snapshot ws.SnapshotMessage }

type EventMsg struct{ Event ws.EventMessage }

// BehindMsg reports events the relay dropped for this viewer.
type BehindMsg struct{ Dropped int }

type SessionRemovedMsg struct{ SessionID string }

type AckMsg struct{ Ack ws.CommandAck }

type StatusMsg struct{ Status ws.StatusMessage }

type HistoryMsg struct{ Events []ws.EventMessage }

// ErrorMsg wraps an error frame from the relay.
type ErrorMsg struct{ Err error }

// Listen returns a command that connects, retrying with backoff.
func (w *Watcher) Listen(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		delay := reconnectBaseDelay
		for {
			dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			c, err := Dial(dialCtx, w.base, w.token, ws.Envelope{Role: ws.RoleViewer})
			cancel()
			if err == nil {
				w.mu.Lock()
				w.conn = c
				w.mu.Unlock()
				return ConnectedMsg{ConnectionID: c.Welcome.ConnectionID}
			}
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Warn("relay dial failed", "err", err, "retry", delay)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			delay = backoff(delay)
		}
	}
}

// ReadLoop returns a command that yields the next relay message. The model
// re-issues it after each message.
func (w *Watcher) ReadLoop() tea.Cmd {
	return func() tea.Msg {
		w.mu.Lock()
		c := w.conn
		w.mu.Unlock()
		if c == nil {
			return DisconnectedMsg{Err: errors.New("not connected")}
		}

		for {
			typ, data, err := c.Read()
			if err != nil {
				w.mu.Lock()
				if w.conn == c {
					w.conn = nil
				}
				w.mu.Unlock()
				c.Close()
				return DisconnectedMsg{Err: closeReason(err)}
			}
			if msg := dispatch(typ, data); msg != nil {
				return msg
			}
		}
	}
}

func dispatch(typ ws.MessageType, data []byte) tea.Msg {
	switch typ {
	case ws.MsgSnapshot:
		var m ws.SnapshotMessage
		if json.Unmarshal(data, &m) == nil {
			return SnapshotMsg{Snapshot: m}
		}
	case ws.MsgEvent:
		var m ws.EventMessage
		if json.Unmarshal(data, &m) == nil {
			return EventMsg{Event: m}
		}
	case ws.MsgBehind:
		var m ws.BehindMessage
		if json.Unmarshal(data, &m) == nil {
			return BehindMsg{Dropped: m.Dropped}
		}
	case ws.MsgSessionRemoved:
		var m ws.SessionRemovedMessage
		if json.Unmarshal(data, &m) == nil {
			return SessionRemovedMsg{SessionID: m.SessionID}
		}
	case ws.MsgCommandAck:
		var m ws.CommandAck
		if json.Unmarshal(data, &m) == nil {
			return AckMsg{Ack: m}
		}
	case ws.MsgStatus:
		var m ws.StatusMessage
		if json.Unmarshal(data, &m) == nil {
			return StatusMsg{Status: m}
		}
	case ws.MsgHistory:
		var m ws.HistoryMessage
		if json.Unmarshal(data, &m) == nil {
			return HistoryMsg{Events: m.Events}
		}
	case ws.MsgError:
		return ErrorMsg{Err: decodeError(data)}
	}
	return nil
}

// Send writes a request on the live connection; replies arrive through
// ReadLoop.
func (w *Watcher) Send(env ws.Envelope) error {
	w.mu.Lock()
	c := w.conn
	w.mu.Unlock()
	if c == nil {
		return errors.New("not connected")
	}
	return c.Send(env)
}

func (w *Watcher) RequestSnapshot() error {
	return w.Send(ws.Envelope{Type: ws.MsgSnapshot})
}

func (w *Watcher) Approve(sessionID string) error {
	return w.Send(ws.Envelope{Type: ws.MsgApprove, TargetSessionID: sessionID})
}

func (w *Watcher) Deny(sessionID string) error {
	return w.Send(ws.Envelope{Type: ws.MsgDeny, TargetSessionID: sessionID})
}

func (w *Watcher) Command(sessionID, payload string) error {
	return w.Send(ws.Envelope{Type: ws.MsgCommand, TargetSessionID: sessionID, Payload: payload})
}

// Close drops the live connection, if any.
func (w *Watcher) Close() {
	w.mu.Lock()
	c := w.conn
	w.conn = nil
	w.mu.Unlock()
	if c != nil {
		c.Close()
	}
}
