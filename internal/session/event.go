package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind classifies a lifecycle event. It is assigned once by the classifier
// and never reinterpreted downstream.
type Kind int

const (
	Progress Kind = iota
	TaskCompleted
	InputNeeded
	Error
)

var kindNames = map[Kind]string{
	Progress:      "Progress",
	TaskCompleted: "TaskCompleted",
	InputNeeded:   "InputNeeded",
	Error:         "Error",
}

var kindFromName = map[string]Kind{
	"Progress":      Progress,
	"TaskCompleted": TaskCompleted,
	"InputNeeded":   InputNeeded,
	"Error":         Error,
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "Unknown"
}

func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *Kind) UnmarshalJSON(data []byte) error {
	var n string
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	v, ok := kindFromName[n]
	if !ok {
		return fmt.Errorf("unknown event kind %q", n)
	}
	*k = v
	return nil
}

// Event is one classified lifecycle signal.
type Event struct {
	SessionID  string    `json:"sessionId"`
	Kind       Kind      `json:"kind"`
	Summary    string    `json:"summary"`
	OccurredAt time.Time `json:"occurredAt"`
	Cwd        string    `json:"cwd,omitempty"`
}
