package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// conn is one live WebSocket peer after a successful handshake. Exactly one
// goroutine reads (readPump) and one writes (writePump).
type conn struct {
	id        string
	role      Role
	sessionID string
	transient bool
	remote    string

	ws      *websocket.Conn
	hub     *Hub
	out     *outbox
	limiter *rate.Limiter
	logger  *slog.Logger

	// commands is the emitter's bounded command queue; nil for viewers.
	commands chan []byte
	// pending holds a viewer's commands awaiting delivery; nil for emitters.
	pending chan Envelope

	subMu sync.RWMutex
	subs  map[string]bool

	lastHeartbeat atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
	reason    error
}

// pendingCommands bounds how many commands one viewer may have in flight.
const pendingCommands = 16

func newConn(h *Hub, wsConn *websocket.Conn, hello Envelope, remote string) *conn {
	limit := rate.Inf
	if h.opts.MessagesPerSecond > 0 {
		limit = rate.Limit(h.opts.MessagesPerSecond)
	}
	burst := h.opts.MessageBurst
	if burst < 1 {
		burst = 1
	}

	c := &conn{
		id:        uuid.NewString(),
		role:      hello.Role,
		sessionID: hello.SessionID,
		transient: hello.Transient,
		remote:    remote,
		ws:        wsConn,
		hub:       h,
		out:       newOutbox(h.opts.ViewerQueueSize),
		limiter:   rate.NewLimiter(limit, burst),
		done:      make(chan struct{}),
	}
	if c.role == RoleEmitter {
		c.commands = make(chan []byte, h.opts.EmitterQueueSize)
	} else {
		c.pending = make(chan Envelope, pendingCommands)
	}
	c.logger = h.logger.With("conn", c.id, "role", string(c.role), "remote", remote)
	if c.sessionID != "" {
		c.logger = c.logger.With("session", c.sessionID)
	}
	c.touch()
	return c
}

func (c *conn) touch() {
	c.lastHeartbeat.Store(time.Now().UnixNano())
	c.ws.SetReadDeadline(time.Now().Add(2 * c.hub.opts.HeartbeatInterval))
}

// LastHeartbeat is the time the peer was last heard from.
func (c *conn) LastHeartbeat() time.Time {
	return time.Unix(0, c.lastHeartbeat.Load())
}

// wants reports whether a viewer is subscribed to sessionID. An empty
// subscription means every session.
func (c *conn) wants(sessionID string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subs) == 0 || c.subs[sessionID]
}

func (c *conn) subscribe(ids []string) {
	subs := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id != "" {
			subs[id] = true
		}
	}
	c.subMu.Lock()
	c.subs = subs
	c.subMu.Unlock()
}

func (c *conn) reply(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("marshal reply", "err", err)
		return
	}
	c.out.pushReply(data)
}

func (c *conn) replyError(err error) {
	c.reply(ErrorMessage{Type: MsgError, Code: ErrorCode(err), Message: err.Error()})
}

// queueCommand hands a viewer command to the command loop. A viewer with too
// many commands in flight gets a failed ack straight away.
func (c *conn) queueCommand(env Envelope) {
	select {
	case c.pending <- env:
	default:
		err := fmt.Errorf("%w: %w", ErrSessionUnreachable, ErrQueueOverflow)
		c.reply(commandAck("", env.TargetSessionID, err))
	}
}

// commandLoop delivers a viewer's commands in the order they arrived. A
// command can wait up to the command timeout for room in the emitter's
// queue; meanwhile the read pump keeps answering heartbeats.
func (c *conn) commandLoop() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-c.done
		cancel()
	}()

	for {
		select {
		case <-c.done:
			return
		case env := <-c.pending:
			c.reply(c.hub.deliverCommand(ctx, c, env))
		}
	}
}

// readPump reads frames until the peer goes away or misses two heartbeats.
func (c *conn) readPump() {
	c.ws.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})
	c.ws.SetPingHandler(func(data string) error {
		c.touch()
		err := c.ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.hub.opts.WriteTimeout))
		if err == websocket.ErrCloseSent || isTimeout(err) {
			return nil
		}
		return err
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if isTimeout(err) {
				c.logger.Debug("heartbeat missed", "silent_for", time.Since(c.LastHeartbeat()).Round(time.Millisecond))
				err = ErrHeartbeatTimeout
			}
			c.closeWith(err)
			return
		}
		c.touch()

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.hub.handleUndecodable(c, err)
			continue
		}
		if env.Type == MsgHeartbeat {
			continue
		}
		if !c.limiter.Allow() {
			c.replyError(ErrRateLimited)
			continue
		}
		if c.role == RoleEmitter {
			c.hub.handleEmitter(c, env, data)
		} else {
			c.hub.handleViewer(c, env)
		}
	}
}

// writePump drains the outbox and command queue and pings the peer every
// heartbeat interval. It is the only writer, so it also flushes pending
// replies and sends the close frame once the connection is closed.
func (c *conn) writePump() {
	ticker := time.NewTicker(c.hub.opts.HeartbeatInterval)
	defer ticker.Stop()
	defer c.shutdown()

	for {
		select {
		case <-c.done:
			replies, _, _ := c.out.drain()
			if err := c.writeAll(replies); err != nil {
				c.logger.Debug("replies not flushed", "err", err)
			}
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.hub.opts.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.closeWith(err)
				return
			}
		case <-c.out.ready:
			replies, events, dropped := c.out.drain()
			if err := c.writeAll(replies); err != nil {
				c.closeWith(err)
				return
			}
			if dropped > 0 {
				c.logger.Warn("viewer behind, dropped events", "dropped", dropped)
				data, _ := json.Marshal(BehindMessage{Type: MsgBehind, Dropped: dropped})
				if err := c.write(data); err != nil {
					c.closeWith(err)
					return
				}
			}
			if err := c.writeAll(events); err != nil {
				c.closeWith(err)
				return
			}
		case msg := <-c.commands:
			if err := c.write(msg); err != nil {
				c.closeWith(err)
				return
			}
		}
	}
}

func (c *conn) writeAll(msgs [][]byte) error {
	for _, m := range msgs {
		if err := c.write(m); err != nil {
			return err
		}
	}
	return nil
}

func (c *conn) write(msg []byte) error {
	c.ws.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, msg)
}

// closeWith marks the connection closed once and drops it from the hub. The
// write pump then flushes queued replies and sends reason to the peer as the
// close frame text. Commands still queued for an emitter are discarded.
func (c *conn) closeWith(reason error) {
	c.closeOnce.Do(func() {
		c.reason = reason
		close(c.done)
		c.hub.unregister(c)

		switch {
		case reason == nil, isExpectedClose(reason):
			c.logger.Info("connection closed", "reason", reason)
		default:
			c.logger.Warn("connection closed", "err", reason)
		}
	})
}

// shutdown sends the close frame and releases the socket. Only the write
// pump calls it, after done is closed.
func (c *conn) shutdown() {
	code, text := websocket.CloseNormalClosure, ""
	if r := c.reason; r != nil && (!isExpectedClose(r) || errors.Is(r, ErrReplaced)) {
		code, text = websocket.CloseGoingAway, ErrorCode(r)
	}
	deadline := time.Now().Add(time.Second)
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
	c.ws.Close()
}

func (c *conn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
