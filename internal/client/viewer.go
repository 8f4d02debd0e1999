package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentping/relay/internal/ws"
)

// Viewer is a one-shot viewer connection for CLI commands. It is not safe
// for concurrent use.
type Viewer struct {
	conn *Conn
}

// DialViewer connects as a viewer and consumes the initial snapshot.
func DialViewer(ctx context.Context, base, token string) (*Viewer, error) {
	c, err := Dial(ctx, base, token, ws.Envelope{Role: ws.RoleViewer})
	if err != nil {
		return nil, err
	}
	if _, err := c.ReadUntil(ctx, ws.MsgSnapshot); err != nil {
		c.Close()
		return nil, err
	}
	return &Viewer{conn: c}, nil
}

func (v *Viewer) Close() error { return v.conn.Close() }

func (v *Viewer) Snapshot(ctx context.Context) (ws.SnapshotMessage, error) {
	var snap ws.SnapshotMessage
	err := v.roundTrip(ctx, ws.Envelope{Type: ws.MsgSnapshot}, ws.MsgSnapshot, &snap)
	return snap, err
}

// Command sends payload to a session and waits for the relay's ack. A
// negative ack is returned as an error matching ws.ErrSessionUnreachable.
func (v *Viewer) Command(ctx context.Context, sessionID, payload string) (ws.CommandAck, error) {
	return v.command(ctx, ws.Envelope{Type: ws.MsgCommand, TargetSessionID: sessionID, Payload: payload})
}

func (v *Viewer) Approve(ctx context.Context, sessionID string) (ws.CommandAck, error) {
	return v.command(ctx, ws.Envelope{Type: ws.MsgApprove, TargetSessionID: sessionID})
}

func (v *Viewer) Deny(ctx context.Context, sessionID string) (ws.CommandAck, error) {
	return v.command(ctx, ws.Envelope{Type: ws.MsgDeny, TargetSessionID: sessionID})
}

func (v *Viewer) command(ctx context.Context, env ws.Envelope) (ws.CommandAck, error) {
	var ack ws.CommandAck
	if err := v.roundTrip(ctx, env, ws.MsgCommandAck, &ack); err != nil {
		return ack, err
	}
	if !ack.OK {
		return ack, fmt.Errorf("command to %s: %w", ack.TargetSessionID, ws.CodeError(ack.Error, ""))
	}
	return ack, nil
}

func (v *Viewer) Status(ctx context.Context, sessionID string) (ws.StatusMessage, error) {
	var st ws.StatusMessage
	err := v.roundTrip(ctx, ws.Envelope{Type: ws.MsgStatusQuery, TargetSessionID: sessionID}, ws.MsgStatus, &st)
	return st, err
}

func (v *Viewer) History(ctx context.Context, limit int) ([]ws.EventMessage, error) {
	var h ws.HistoryMessage
	err := v.roundTrip(ctx, ws.Envelope{Type: ws.MsgHistory, Limit: limit}, ws.MsgHistory, &h)
	return h.Events, err
}

func (v *Viewer) roundTrip(ctx context.Context, req ws.Envelope, want ws.MessageType, out any) error {
	if err := v.conn.Send(req); err != nil {
		return err
	}
	data, err := v.conn.ReadUntil(ctx, want)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
