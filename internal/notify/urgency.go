// Package notify holds the notification-urgency contract viewers act on, and
// an optional push sink that honours it.
package notify

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentping/relay/internal/session"
)

// Urgency is the obligation level a viewer has for an event.
type Urgency int

const (
	// Silent obligates no user-facing interruption.
	Silent Urgency = iota
	// Normal obligates a passive visible notification.
	Normal
	// Urgent obligates an active audible or spoken announcement.
	Urgent
)

var urgencyNames = map[Urgency]string{
	Silent: "silent",
	Normal: "normal",
	Urgent: "urgent",
}

func (u Urgency) String() string {
	if n, ok := urgencyNames[u]; ok {
		return n
	}
	return "unknown"
}

func (u Urgency) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.String())
}

func (u *Urgency) UnmarshalJSON(data []byte) error {
	var n string
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	parsed, err := ParseUrgency(n)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// ParseUrgency is the inverse of String, ignoring case.
func ParseUrgency(s string) (Urgency, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for k, v := range urgencyNames {
		if v == name {
			return k, nil
		}
	}
	return Silent, fmt.Errorf("unknown urgency %q", s)
}

// UrgencyOf is the fixed kind-to-urgency mapping. It depends on nothing but
// the kind: routine completions never page the user.
func UrgencyOf(kind session.Kind) Urgency {
	switch kind {
	case session.InputNeeded:
		return Urgent
	case session.TaskCompleted, session.Error:
		return Normal
	default:
		return Silent
	}
}

// Announce reports whether u requires an audible announcement.
func (u Urgency) Announce() bool {
	return u == Urgent
}

// Visible reports whether u requires any user-facing notification.
func (u Urgency) Visible() bool {
	return u != Silent
}
