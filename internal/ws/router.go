package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/agentping/relay/internal/classify"
)

// handleEmitter processes one frame from an emitter. Signal frames are
// decoded by the classifier from the raw frame.
func (h *Hub) handleEmitter(c *conn, env Envelope, data []byte) {
	if env.Type != MsgSignal {
		c.replyError(fmt.Errorf("%w: emitters may only send signals, got %q", ErrMalformedMessage, env.Type))
		return
	}

	sig, err := classify.Parse(data)
	if err != nil {
		c.logger.Warn("unparsable signal", "err", err)
		if c.sessionID != "" {
			h.Ingest(classify.Anomaly(c.sessionID, err))
			return
		}
		c.replyError(err)
		return
	}
	if sig.SessionID == "" {
		sig.SessionID = c.sessionID
	}
	if c.sessionID != "" && sig.SessionID != c.sessionID {
		c.replyError(fmt.Errorf("%w: signal for %q on emitter bound to %q", classify.ErrMalformedSignal, sig.SessionID, c.sessionID))
		return
	}

	ev, err := classify.Classify(sig)
	if err != nil {
		c.logger.Warn("unclassifiable signal", "err", err)
		c.replyError(err)
		return
	}
	h.Ingest(ev)
}

// handleUndecodable deals with a frame that is not JSON. For an emitter bound
// to a session the anomaly is recorded as an Error event on that session.
func (h *Hub) handleUndecodable(c *conn, err error) {
	c.logger.Warn("undecodable frame", "err", err)
	if c.role == RoleEmitter && c.sessionID != "" {
		h.Ingest(classify.Anomaly(c.sessionID, fmt.Errorf("%w: %v", classify.ErrMalformedSignal, err)))
		return
	}
	c.replyError(fmt.Errorf("%w: %v", ErrMalformedMessage, err))
}

// handleViewer processes one frame from a viewer.
func (h *Hub) handleViewer(c *conn, env Envelope) {
	switch env.Type {
	case MsgSnapshot:
		c.reply(h.snapshotFor(c))

	case MsgCommand, MsgApprove, MsgDeny:
		c.queueCommand(env)

	case MsgStatusQuery:
		c.reply(h.Status(env.TargetSessionID))

	case MsgSubscribe:
		c.subscribe(env.SessionIDs)
		c.reply(h.snapshotFor(c))

	case MsgHistory:
		c.reply(HistoryMessage{Type: MsgHistory, Events: h.History(env.Limit, c.wants)})

	default:
		c.replyError(fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, env.Type))
	}
}

// deliverCommand routes one viewer command and builds its ack. It runs on the
// viewer's command loop, never on its read pump.
func (h *Hub) deliverCommand(ctx context.Context, c *conn, env Envelope) CommandAck {
	payload := env.Payload
	switch env.Type {
	case MsgApprove:
		payload = ApprovePayload
	case MsgDeny:
		payload = DenyPayload
	}
	ctx, cancel := context.WithTimeout(ctx, h.opts.CommandTimeout)
	defer cancel()
	cmd, err := h.SendCommand(ctx, env.TargetSessionID, payload)
	if err != nil {
		c.logger.Info("command failed", "target", env.TargetSessionID, "err", err)
	}
	return commandAck(cmd.CommandID, env.TargetSessionID, err)
}

func commandAck(commandID, target string, err error) CommandAck {
	ack := CommandAck{
		Type:            MsgCommandAck,
		CommandID:       commandID,
		TargetSessionID: target,
		OK:              err == nil,
	}
	if err != nil {
		ack.Error = ErrorCode(err)
	}
	return ack
}

// SendCommand hands payload to the emitter currently bound to target. It
// succeeds once the command is in the emitter's queue; it waits for room
// until ctx is done. Every failure wraps ErrSessionUnreachable. The command
// id is set even on failure.
func (h *Hub) SendCommand(ctx context.Context, target, payload string) (CommandMessage, error) {
	cmd := CommandMessage{
		Type:      MsgCommand,
		CommandID: ulid.Make().String(),
		Payload:   payload,
		IssuedAt:  time.Now().UTC(),
	}
	if target == "" {
		return cmd, fmt.Errorf("%w: no target session", ErrSessionUnreachable)
	}

	s, ok := h.registry.Get(target)
	if !ok || !h.privacy.Load().IsAllowed(s.Cwd) {
		return cmd, fmt.Errorf("%w: unknown session %q", ErrSessionUnreachable, target)
	}
	connID, _ := h.registry.EmitterFor(target)
	emitter := h.lookup(connID)
	if connID == "" || emitter == nil || emitter.closed() {
		return cmd, fmt.Errorf("%w: %q has no connected emitter", ErrSessionUnreachable, target)
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return cmd, err
	}

	select {
	case emitter.commands <- data:
	default:
		select {
		case emitter.commands <- data:
		case <-emitter.done:
			return cmd, fmt.Errorf("%w: emitter for %q went away", ErrSessionUnreachable, target)
		case <-ctx.Done():
			err := ctx.Err()
			if errors.Is(err, context.DeadlineExceeded) {
				err = ErrQueueOverflow
			}
			return cmd, fmt.Errorf("%w: %w", ErrSessionUnreachable, err)
		}
	}

	h.registry.RecordCommand(target)
	h.logger.Info("command routed", "session", target, "command", cmd.CommandID, "conn", connID)
	return cmd, nil
}
