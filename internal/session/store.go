package session

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// entry is the registry's private record for one session. Its mutex
// serialises all updates to that session; unrelated sessions never contend.
type entry struct {
	mu sync.Mutex

	state Session
	seen  bool // false until the first event; bound-but-silent sessions are invisible

	emitterID  string
	detachedAt time.Time
	queriedAt  time.Time

	removed bool // set by Sweep; holders must re-resolve the entry
}

// Registry maps session ids to session state. The emitter connection is held
// only as an identifier; resolving it is the connection manager's job, so a
// torn-down connection simply fails to resolve.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	seq     atomic.Uint64
	now     func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// lock returns the locked entry for id. When create is false and the id is
// unknown it returns nil. The map lock is never held while waiting on an
// entry lock.
func (r *Registry) lock(id string, create bool) (*entry, bool) {
	for {
		r.mu.RLock()
		e := r.entries[id]
		r.mu.RUnlock()

		created := false
		if e == nil {
			if !create {
				return nil, false
			}
			r.mu.Lock()
			e = r.entries[id]
			if e == nil {
				e = &entry{state: Session{ID: id}}
				r.entries[id] = e
				created = true
			}
			r.mu.Unlock()
		}

		e.mu.Lock()
		if e.removed {
			e.mu.Unlock()
			continue
		}
		return e, created
	}
}

// Apply records ev against its session, creating the session on first sight.
// The state after Apply is always the state implied by ev.Kind, and Seq is
// the next value of a registry-wide counter. If fn is
// non-nil it runs while the session is still locked, so callers can fan the
// event out in exactly the order the registry applied it.
func (r *Registry) Apply(ev Event, fn func(s Session, created bool)) Session {
	e, _ := r.lock(ev.SessionID, true)
	defer e.mu.Unlock()

	created := !e.seen
	e.seen = true
	e.state.State = StateFor(ev.Kind)
	e.state.LastEventKind = ev.Kind
	e.state.LastEventSummary = ev.Summary
	if ev.Cwd != "" {
		e.state.Cwd = ev.Cwd
	}
	e.state.LastUpdatedAt = r.now()
	e.state.EmitterConnected = e.emitterID != ""
	e.state.Seq = r.seq.Add(1)

	snap := e.state
	if fn != nil {
		fn(snap, created)
	}
	return snap
}

// BindEmitter makes connID the emitter for session id and returns the id of
// the connection it replaced, if any. The replacement is atomic: there is
// never a moment where both connections are bound.
func (r *Registry) BindEmitter(id, connID string) (previous string) {
	e, _ := r.lock(id, true)
	defer e.mu.Unlock()

	previous = e.emitterID
	if previous == connID {
		previous = ""
	}
	e.emitterID = connID
	e.detachedAt = time.Time{}
	e.state.EmitterConnected = true
	return previous
}

// DetachEmitter clears the emitter binding only if it still points at
// connID; a newer connection that already replaced it is left alone. The
// session's state is kept as-is.
func (r *Registry) DetachEmitter(id, connID string) bool {
	e, _ := r.lock(id, false)
	if e == nil {
		return false
	}
	defer e.mu.Unlock()

	if e.emitterID != connID {
		return false
	}
	e.emitterID = ""
	e.detachedAt = r.now()
	e.state.EmitterConnected = false
	return true
}

// EmitterFor returns the emitter connection id bound to session id. ok is
// false when no event has ever been seen for id.
func (r *Registry) EmitterFor(id string) (connID string, ok bool) {
	e, _ := r.lock(id, false)
	if e == nil {
		return "", false
	}
	defer e.mu.Unlock()
	if !e.seen {
		return "", false
	}
	return e.emitterID, true
}

// RecordCommand notes that a command was delivered to session id. It does
// not touch the session state: only the emitter's next event does.
func (r *Registry) RecordCommand(id string) {
	e, _ := r.lock(id, false)
	if e == nil {
		return
	}
	defer e.mu.Unlock()
	t := r.now()
	e.state.LastCommandAt = &t
}

func (r *Registry) Get(id string) (Session, bool) {
	e, _ := r.lock(id, false)
	if e == nil {
		return Session{}, false
	}
	defer e.mu.Unlock()
	if !e.seen {
		return Session{}, false
	}
	return e.state.clone(), true
}

// Query is Get on behalf of a viewer; it also restarts the session's grace
// period.
func (r *Registry) Query(id string) (Session, bool) {
	e, _ := r.lock(id, false)
	if e == nil {
		return Session{}, false
	}
	defer e.mu.Unlock()
	if !e.seen {
		return Session{}, false
	}
	e.queriedAt = r.now()
	return e.state.clone(), true
}

// All returns copies of every visible session, ordered by id.
func (r *Registry) All() []Session {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	result := make([]Session, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if e.seen && !e.removed {
			result = append(result, e.state.clone())
		}
		e.mu.Unlock()
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (r *Registry) Len() int {
	return len(r.All())
}

// Sweep removes sessions whose emitter is gone and which nobody has updated
// or queried within grace. It returns the removed ids.
func (r *Registry) Sweep(now time.Time, grace time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for id, e := range r.entries {
		e.mu.Lock()
		if e.emitterID == "" && now.Sub(e.lastSeen()) >= grace {
			e.removed = true
			delete(r.entries, id)
			if e.seen {
				removed = append(removed, id)
			}
		}
		e.mu.Unlock()
	}
	sort.Strings(removed)
	return removed
}

// lastSeen is the most recent moment anything kept the session alive.
// Caller must hold e.mu.
func (e *entry) lastSeen() time.Time {
	t := e.state.LastUpdatedAt
	for _, c := range []time.Time{e.detachedAt, e.queriedAt} {
		if c.After(t) {
			t = c
		}
	}
	return t
}

func (s Session) clone() Session {
	if s.LastCommandAt != nil {
		t := *s.LastCommandAt
		s.LastCommandAt = &t
	}
	return s
}
