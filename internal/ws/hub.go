package ws

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentping/relay/internal/config"
	"github.com/agentping/relay/internal/notify"
	"github.com/agentping/relay/internal/session"
)

// Options tunes the Hub. Zero fields take the values of config.Default.
type Options struct {
	HeartbeatInterval time.Duration
	HandshakeTimeout  time.Duration
	CommandTimeout    time.Duration
	WriteTimeout      time.Duration
	SessionGrace      time.Duration
	SweepInterval     time.Duration
	ViewerQueueSize   int
	EmitterQueueSize  int
	HistorySize       int
	MessagesPerSecond float64
	MessageBurst      int
	// MaxConnections caps live connections; 0 means unlimited.
	MaxConnections int
}

// OptionsFromConfig copies the relay and server limits out of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	r := cfg.Relay
	return Options{
		HeartbeatInterval: r.HeartbeatInterval,
		HandshakeTimeout:  r.HandshakeTimeout,
		CommandTimeout:    r.CommandTimeout,
		WriteTimeout:      r.WriteTimeout,
		SessionGrace:      r.SessionGrace,
		SweepInterval:     r.SweepInterval,
		ViewerQueueSize:   r.ViewerQueueSize,
		EmitterQueueSize:  r.EmitterQueueSize,
		HistorySize:       r.HistorySize,
		MessagesPerSecond: r.MessagesPerSecond,
		MessageBurst:      r.MessageBurst,
		MaxConnections:    cfg.Server.MaxConnections,
	}
}

func (o Options) withDefaults() Options {
	d := OptionsFromConfig(config.Default())
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = d.HeartbeatInterval
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = d.HandshakeTimeout
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = d.CommandTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.SessionGrace <= 0 {
		o.SessionGrace = d.SessionGrace
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = d.SweepInterval
	}
	if o.ViewerQueueSize <= 0 {
		o.ViewerQueueSize = d.ViewerQueueSize
	}
	if o.EmitterQueueSize <= 0 {
		o.EmitterQueueSize = d.EmitterQueueSize
	}
	if o.HistorySize <= 0 {
		o.HistorySize = d.HistorySize
	}
	return o
}

// Hub is the connection manager. It owns every live connection, the session
// registry, and the recent-event history, and routes traffic between
// emitters and viewers.
type Hub struct {
	opts     Options
	registry *session.Registry
	history  *history
	notifier *notify.Dispatcher
	privacy  atomic.Pointer[session.PrivacyFilter]
	logger   *slog.Logger

	mu    sync.RWMutex
	conns map[string]*conn

	closed atomic.Bool
}

func NewHub(registry *session.Registry, opts Options, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = session.NewRegistry()
	}
	opts = opts.withDefaults()
	h := &Hub{
		opts:     opts,
		registry: registry,
		history:  newHistory(opts.HistorySize),
		logger:   logger,
		conns:    make(map[string]*conn),
	}
	h.privacy.Store(&session.PrivacyFilter{})
	return h
}

// SetNotifier installs the dispatcher that receives every ingested event.
// Must be called before Run.
func (h *Hub) SetNotifier(d *notify.Dispatcher) {
	h.notifier = d
}

// SetPrivacyFilter swaps the filter applied to everything viewers see.
func (h *Hub) SetPrivacyFilter(f *session.PrivacyFilter) {
	if f == nil {
		f = &session.PrivacyFilter{}
	}
	h.privacy.Store(f)
}

func (h *Hub) Registry() *session.Registry { return h.registry }

// register adds c to the live set. Non-transient emitters take over their
// session's command binding; the connection they replace is closed.
func (h *Hub) register(c *conn) error {
	h.mu.Lock()
	if h.closed.Load() {
		h.mu.Unlock()
		return net.ErrClosed
	}
	if h.opts.MaxConnections > 0 && len(h.conns) >= h.opts.MaxConnections {
		h.mu.Unlock()
		return ErrTooManyConnections
	}
	h.conns[c.id] = c
	h.mu.Unlock()

	if c.role == RoleEmitter && !c.transient {
		if prev := h.registry.BindEmitter(c.sessionID, c.id); prev != "" {
			if old := h.lookup(prev); old != nil {
				h.logger.Info("emitter replaced", "session", c.sessionID, "old", prev, "conn", c.id)
				old.closeWith(ErrReplaced)
			}
		}
	}
	return nil
}

// unregister drops c from the live set. An emitter's session keeps its state;
// only the binding is cleared, and only if c still holds it.
func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	if h.conns[c.id] == c {
		delete(h.conns, c.id)
	}
	h.mu.Unlock()

	if c.role == RoleEmitter && !c.transient {
		h.registry.DetachEmitter(c.sessionID, c.id)
	}
}

func (h *Hub) lookup(id string) *conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conns[id]
}

// viewers returns a copy of the live viewer set.
func (h *Hub) viewers() []*conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		if c.role == RoleViewer {
			out = append(out, c)
		}
	}
	return out
}

// ClientCount returns the number of live connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Counts returns live connection counts by role.
func (h *Hub) Counts() (emitters, viewers int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.conns {
		if c.role == RoleEmitter {
			emitters++
		} else {
			viewers++
		}
	}
	return emitters, viewers
}

// Run sweeps idle sessions until ctx is done, then closes every connection.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.Close()
			return nil
		case now := <-ticker.C:
			h.Sweep(now)
		}
	}
}

// Sweep removes sessions past their grace period and tells viewers.
func (h *Hub) Sweep(now time.Time) []string {
	removed := h.registry.Sweep(now, h.opts.SessionGrace)
	for _, id := range removed {
		h.logger.Info("session removed", "session", id)
		h.broadcastRemoval(id)
	}
	return removed
}

// Close tears down every live connection.
func (h *Hub) Close() {
	if !h.closed.CompareAndSwap(false, true) {
		return
	}
	h.mu.RLock()
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		c.closeWith(nil)
	}
}
