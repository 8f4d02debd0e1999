// Package classify turns raw lifecycle signals from an agent process into
// typed session events. It does no I/O and never blocks.
package classify

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/agentping/relay/internal/session"
)

// ErrMalformedSignal is returned when a signal cannot be interpreted at all.
// Callers at process boundaries log it and carry on; it must never reach the
// emitting agent's control flow.
var ErrMalformedSignal = errors.New("malformed signal")

// MaxSummaryRunes bounds the summary carried by an event. The tail of the
// excerpt is kept since the latest text is the most relevant.
const MaxSummaryRunes = 3000

// Signal is the raw lifecycle signal an emitter submits.
type Signal struct {
	SessionID         string    `json:"sessionId"`
	SignalType        string    `json:"signalType"`
	TranscriptExcerpt string    `json:"transcriptExcerpt,omitempty"`
	OccurredAt        time.Time `json:"occurredAt"`
	Cwd               string    `json:"cwd,omitempty"`
}

// Signal type codes. Several aliases map to each kind so hook integrations
// can pass their native event names straight through.
const (
	SignalTaskCompleted = "task_completed"
	SignalBlockedOnUser = "blocked_on_user"
	SignalInputNeeded   = "input_needed"
	SignalPermission    = "permission_request"
	SignalError         = "error"
	SignalProgress      = "progress"
)

var signalKinds = map[string]session.Kind{
	SignalTaskCompleted: session.TaskCompleted,
	"stop":              session.TaskCompleted,
	"Stop":              session.TaskCompleted,
	"done":              session.TaskCompleted,

	SignalBlockedOnUser:  session.InputNeeded,
	SignalInputNeeded:    session.InputNeeded,
	SignalPermission:     session.InputNeeded,
	"permission_prompt":  session.InputNeeded,
	"idle_prompt":        session.InputNeeded,
	"elicitation_dialog": session.InputNeeded,

	SignalError:   session.Error,
	"failure":     session.Error,
	"crashed":     session.Error,
	"StopFailure": session.Error,

	SignalProgress:     session.Progress,
	"working":          session.Progress,
	"tool_use":         session.Progress,
	"PreToolUse":       session.Progress,
	"PostToolUse":      session.Progress,
	"UserPromptSubmit": session.Progress,
}

// KindOf maps a signal type code to an event kind. An empty code carries no
// information and maps to Progress; any other unknown code maps to Error so
// an anomaly is surfaced rather than dropped.
func KindOf(signalType string) session.Kind {
	code := strings.TrimSpace(signalType)
	if code == "" {
		return session.Progress
	}
	if k, ok := signalKinds[code]; ok {
		return k
	}
	return session.Error
}

// Classify turns sig into exactly one event. The only failure is a signal
// without a session id, which cannot be attributed to any session.
func Classify(sig Signal) (session.Event, error) {
	id := strings.TrimSpace(sig.SessionID)
	if id == "" {
		return session.Event{}, fmt.Errorf("%w: missing sessionId", ErrMalformedSignal)
	}

	occurred := sig.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}

	return session.Event{
		SessionID:  id,
		Kind:       KindOf(sig.SignalType),
		Summary:    summarize(sig.TranscriptExcerpt),
		OccurredAt: occurred,
		Cwd:        sig.Cwd,
	}, nil
}

// Parse decodes a signal from JSON.
func Parse(data []byte) (Signal, error) {
	var sig Signal
	if err := json.Unmarshal(data, &sig); err != nil {
		return Signal{}, fmt.Errorf("%w: %v", ErrMalformedSignal, err)
	}
	return sig, nil
}

// Anomaly builds the Error event reported in place of a signal that could not
// be classified but is still attributable to sessionID.
func Anomaly(sessionID string, err error) session.Event {
	return session.Event{
		SessionID:  sessionID,
		Kind:       session.Error,
		Summary:    err.Error(),
		OccurredAt: time.Now().UTC(),
	}
}

func summarize(excerpt string) string {
	s := strings.TrimSpace(excerpt)
	if utf8.RuneCountInString(s) <= MaxSummaryRunes {
		return s
	}
	r := []rune(s)
	return string(r[len(r)-MaxSummaryRunes:])
}
