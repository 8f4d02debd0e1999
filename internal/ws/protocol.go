package ws

import (
	"encoding/json"
	"time"

	"github.com/agentping/relay/internal/classify"
	"github.com/agentping/relay/internal/notify"
	"github.com/agentping/relay/internal/session"
)

type MessageType string

const (
	// Handshake.
	MsgHello   MessageType = "hello"
	MsgWelcome MessageType = "welcome"

	// Either direction.
	MsgHeartbeat MessageType = "heartbeat"
	MsgError     MessageType = "error"
	MsgCommand   MessageType = "command"
	MsgSnapshot  MessageType = "snapshot"
	MsgHistory   MessageType = "history"

	// Emitter to relay.
	MsgSignal MessageType = "signal"

	// Viewer to relay.
	MsgApprove     MessageType = "approve"
	MsgDeny        MessageType = "deny"
	MsgStatusQuery MessageType = "statusQuery"
	MsgSubscribe   MessageType = "subscribe"

	// Relay to viewer.
	MsgEvent          MessageType = "event"
	MsgCommandAck     MessageType = "commandAck"
	MsgStatus         MessageType = "status"
	MsgBehind         MessageType = "behind"
	MsgSessionRemoved MessageType = "sessionRemoved"
)

type Role string

const (
	RoleEmitter Role = "emitter"
	RoleViewer  Role = "viewer"
)

// Payloads sent for the approve and deny shortcuts.
const (
	ApprovePayload = "y"
	DenyPayload    = "n"
)

// Envelope is any frame a client sends. Only the fields relevant to Type are
// set.
type Envelope struct {
	Type MessageType `json:"type"`

	// hello
	Role      Role   `json:"role,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Transient bool   `json:"transient,omitempty"`
	Token     string `json:"token,omitempty"`

	// signal
	SignalType        string    `json:"signalType,omitempty"`
	TranscriptExcerpt string    `json:"transcriptExcerpt,omitempty"`
	OccurredAt        time.Time `json:"occurredAt,omitzero"`
	Cwd               string    `json:"cwd,omitempty"`

	// command, approve, deny, statusQuery
	TargetSessionID string `json:"targetSessionId,omitempty"`
	Payload         string `json:"payload,omitempty"`

	// subscribe
	SessionIDs []string `json:"sessionIds,omitempty"`

	// history
	Limit int `json:"limit,omitempty"`
}

// SignalEnvelope wraps sig in a signal frame.
func SignalEnvelope(sig classify.Signal) Envelope {
	return Envelope{
		Type:              MsgSignal,
		SessionID:         sig.SessionID,
		SignalType:        sig.SignalType,
		TranscriptExcerpt: sig.TranscriptExcerpt,
		OccurredAt:        sig.OccurredAt,
		Cwd:               sig.Cwd,
	}
}

type Welcome struct {
	Type              MessageType `json:"type"`
	ConnectionID      string      `json:"connectionId"`
	Role              Role        `json:"role"`
	HeartbeatInterval string      `json:"heartbeatInterval"`
}

// EventMessage is one classified event as viewers see it.
type EventMessage struct {
	Type       MessageType    `json:"type"`
	Seq        uint64         `json:"seq"`
	SessionID  string         `json:"sessionId"`
	Kind       session.Kind   `json:"kind"`
	Summary    string         `json:"summary"`
	OccurredAt time.Time      `json:"occurredAt"`
	Urgency    notify.Urgency `json:"urgency"`
	Announce   bool           `json:"announce"`
	State      session.State  `json:"state"`
	Cwd        string         `json:"cwd,omitempty"`
}

type SnapshotMessage struct {
	Type     MessageType       `json:"type"`
	Sessions []session.Session `json:"sessions"`
	Counts   session.Counts    `json:"counts"`
}

// CommandMessage is what an emitter receives for each routed command.
type CommandMessage struct {
	Type      MessageType `json:"type"`
	CommandID string      `json:"commandId"`
	Payload   string      `json:"payload"`
	IssuedAt  time.Time   `json:"issuedAt"`
}

type CommandAck struct {
	Type            MessageType `json:"type"`
	CommandID       string      `json:"commandId"`
	TargetSessionID string      `json:"targetSessionId"`
	OK              bool        `json:"ok"`
	Error           string      `json:"error,omitempty"`
}

type StatusMessage struct {
	Type             MessageType    `json:"type"`
	SessionID        string         `json:"sessionId"`
	Found            bool           `json:"found"`
	State            *session.State `json:"state,omitempty"`
	LastEventSummary string         `json:"lastEventSummary,omitempty"`
	LastUpdatedAt    time.Time      `json:"lastUpdatedAt,omitzero"`
	EmitterConnected bool           `json:"emitterConnected"`
}

type BehindMessage struct {
	Type    MessageType `json:"type"`
	Dropped int         `json:"dropped"`
}

type SessionRemovedMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId"`
}

type HistoryMessage struct {
	Type   MessageType    `json:"type"`
	Events []EventMessage `json:"events"`
}

type ErrorMessage struct {
	Type    MessageType `json:"type"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
}

// PeekType returns the type field of a frame without decoding the rest.
func PeekType(data []byte) (MessageType, error) {
	var head struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", err
	}
	return head.Type, nil
}

func newEventMessage(ev session.Event, s session.Session) EventMessage {
	u := notify.UrgencyOf(ev.Kind)
	return EventMessage{
		Type:       MsgEvent,
		Seq:        s.Seq,
		SessionID:  ev.SessionID,
		Kind:       ev.Kind,
		Summary:    ev.Summary,
		OccurredAt: ev.OccurredAt,
		Urgency:    u,
		Announce:   u.Announce(),
		State:      s.State,
		Cwd:        s.Cwd,
	}
}

func newStatusMessage(id string, s session.Session, found bool) StatusMessage {
	msg := StatusMessage{Type: MsgStatus, SessionID: id, Found: found}
	if !found {
		return msg
	}
	state := s.State
	msg.State = &state
	msg.LastEventSummary = s.LastEventSummary
	msg.LastUpdatedAt = s.LastUpdatedAt
	msg.EmitterConnected = s.EmitterConnected
	return msg
}
