package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentping/relay/internal/classify"
	"github.com/agentping/relay/internal/ws"
)

// Emit delivers one signal through a short-lived transient emitter
// connection. It never takes over the session's command binding.
func Emit(ctx context.Context, base, token string, sig classify.Signal) error {
	c, err := Dial(ctx, base, token, ws.Envelope{
		Role:      ws.RoleEmitter,
		SessionID: sig.SessionID,
		Transient: true,
	})
	if err != nil {
		return err
	}
	defer c.Close()

	if sig.OccurredAt.IsZero() {
		sig.OccurredAt = time.Now().UTC()
	}
	if err := c.Send(ws.SignalEnvelope(sig)); err != nil {
		return fmt.Errorf("send signal: %w", err)
	}
	return nil
}

// CommandHandler receives each command routed to an attached emitter, in
// delivery order.
type CommandHandler func(ctx context.Context, cmd ws.CommandMessage) error

// Emitter is a long-lived emitter bound to one session. It reconnects with
// backoff and, on each connect, replaces any older emitter for the session.
type Emitter struct {
	base      string
	token     string
	sessionID string
	handler   CommandHandler
	logger    *slog.Logger

	signals chan classify.Signal
}

func NewEmitter(base, token, sessionID string, handler CommandHandler, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		base:      base,
		token:     token,
		sessionID: sessionID,
		handler:   handler,
		logger:    logger.With("session", sessionID),
		signals:   make(chan classify.Signal, 16),
	}
}

// Signal queues a signal for the session. It is sent on the next live
// connection; it fails only when the local queue is full.
func (e *Emitter) Signal(signalType, excerpt, cwd string) error {
	sig := classify.Signal{
		SessionID:         e.sessionID,
		SignalType:        signalType,
		TranscriptExcerpt: excerpt,
		OccurredAt:        time.Now().UTC(),
		Cwd:               cwd,
	}
	select {
	case e.signals <- sig:
		return nil
	default:
		return errors.New("signal queue full")
	}
}

// Run keeps the emitter connected until ctx is done.
func (e *Emitter) Run(ctx context.Context) error {
	delay := reconnectBaseDelay
	for {
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		c, err := Dial(dialCtx, e.base, e.token, ws.Envelope{Role: ws.RoleEmitter, SessionID: e.sessionID})
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			e.logger.Warn("relay unreachable", "err", err, "retry", delay)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			delay = backoff(delay)
			continue
		}

		delay = reconnectBaseDelay
		e.logger.Info("attached", "conn", c.Welcome.ConnectionID)
		err = e.serve(ctx, c)
		c.Close()
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ws.ErrReplaced) {
			return err
		}
		e.logger.Warn("relay connection lost", "err", err)
	}
}

// serve pumps signals out and commands in until the connection drops.
func (e *Emitter) serve(ctx context.Context, c *Conn) error {
	readErr := make(chan error, 1)
	go func() {
		for {
			typ, data, err := c.Read()
			if err != nil {
				readErr <- closeReason(err)
				return
			}
			switch typ {
			case ws.MsgCommand:
				var cmd ws.CommandMessage
				if err := json.Unmarshal(data, &cmd); err != nil {
					e.logger.Warn("bad command frame", "err", err)
					continue
				}
				if err := e.handler(ctx, cmd); err != nil {
					e.logger.Warn("command handler failed", "command", cmd.CommandID, "err", err)
				}
			case ws.MsgError:
				e.logger.Warn("relay error", "err", decodeError(data))
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case sig := <-e.signals:
			if err := c.Send(ws.SignalEnvelope(sig)); err != nil {
				// Requeue so the signal survives a reconnect.
				select {
				case e.signals <- sig:
				default:
				}
				return err
			}
		}
	}
}
