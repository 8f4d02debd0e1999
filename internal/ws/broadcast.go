package ws

import (
	"encoding/json"
	"sync"

	"github.com/agentping/relay/internal/session"
)

// Ingest records ev in the registry and fans it out to every subscribed
// viewer. The fan-out happens under the session's lock, so all viewers see a
// session's events in the order the registry applied them.
func (h *Hub) Ingest(ev session.Event) session.Session {
	filter := h.privacy.Load()
	s := h.registry.Apply(ev, func(s session.Session, _ bool) {
		msg := newEventMessage(ev, s)
		h.history.add(msg)

		if !filter.IsAllowed(s.Cwd) {
			return
		}
		masked := filter.ApplyEvent(session.Event{Cwd: msg.Cwd})
		msg.Cwd = masked.Cwd
		data, err := json.Marshal(msg)
		if err != nil {
			h.logger.Error("marshal event", "session", ev.SessionID, "err", err)
			return
		}
		for _, v := range h.viewers() {
			if !v.wants(ev.SessionID) {
				continue
			}
			v.out.pushEvent(data)
		}
	})

	h.logger.Debug("event", "session", ev.SessionID, "kind", ev.Kind.String(), "state", s.State.String(), "seq", s.Seq)
	if filter.IsAllowed(s.Cwd) {
		ev.Cwd = s.Cwd
		h.notifier.Dispatch(filter.ApplyEvent(ev))
	}
	return s
}

func (h *Hub) broadcastRemoval(id string) {
	data, _ := json.Marshal(SessionRemovedMessage{Type: MsgSessionRemoved, SessionID: id})
	for _, v := range h.viewers() {
		if v.wants(id) {
			v.out.pushEvent(data)
		}
	}
}

// Snapshot returns every session a viewer may see, with privacy rules
// applied.
func (h *Hub) Snapshot() SnapshotMessage {
	sessions := h.registry.All()
	if filter := h.privacy.Load(); !filter.IsNoop() {
		sessions = filter.FilterSlice(sessions)
	}
	return SnapshotMessage{
		Type:     MsgSnapshot,
		Sessions: sessions,
		Counts:   session.CountStates(sessions),
	}
}

func (h *Hub) snapshotFor(c *conn) SnapshotMessage {
	snap := h.Snapshot()
	kept := snap.Sessions[:0]
	for _, s := range snap.Sessions {
		if c.wants(s.ID) {
			kept = append(kept, s)
		}
	}
	snap.Sessions = kept
	snap.Counts = session.CountStates(kept)
	return snap
}

// Status answers a status query. It restarts the session's grace period.
func (h *Hub) Status(id string) StatusMessage {
	s, ok := h.registry.Query(id)
	if ok && !h.privacy.Load().IsAllowed(s.Cwd) {
		ok = false
	}
	return newStatusMessage(id, s, ok)
}

// History returns up to limit recent events, oldest first, for which wants
// returns true.
// A non-positive limit returns everything retained.
func (h *Hub) History(limit int, wants func(string) bool) []EventMessage {
	filter := h.privacy.Load()
	var out []EventMessage
	for _, msg := range h.history.list() {
		if !filter.IsAllowed(msg.Cwd) || (wants != nil && !wants(msg.SessionID)) {
			continue
		}
		msg.Cwd = filter.ApplyEvent(session.Event{Cwd: msg.Cwd}).Cwd
		out = append(out, msg)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// history is a fixed-size ring of the most recent events.
type history struct {
	mu   sync.Mutex
	buf  []EventMessage
	next int
	full bool
}

func newHistory(size int) *history {
	return &history{buf: make([]EventMessage, size)}
}

func (r *history) add(msg EventMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = msg
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

func (r *history) list() []EventMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]EventMessage(nil), r.buf[:r.next]...)
	}
	out := make([]EventMessage, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}
