package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// State is the coarse state of an observed agent session.
type State int

const (
	Idle State = iota
	Busy
	AwaitingInput
	ErrorState
)

var stateNames = map[State]string{
	Idle:          "idle",
	Busy:          "busy",
	AwaitingInput: "awaiting_input",
	ErrorState:    "error",
}

var stateFromName = map[string]State{
	"idle":           Idle,
	"busy":           Busy,
	"awaiting_input": AwaitingInput,
	"error":          ErrorState,
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var n string
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	v, ok := stateFromName[n]
	if !ok {
		return fmt.Errorf("unknown session state %q", n)
	}
	*s = v
	return nil
}

// StateFor returns the state a session enters after an event of the given
// kind. Every state can reach every other state; there is no terminal state.
func StateFor(kind Kind) State {
	switch kind {
	case TaskCompleted:
		return Idle
	case InputNeeded:
		return AwaitingInput
	case Error:
		return ErrorState
	default:
		return Busy
	}
}

// Session is a point-in-time copy of one tracked agent run. Values returned
// by the Registry are copies and safe to retain.
type Session struct {
	ID               string     `json:"sessionId"`
	State            State      `json:"state"`
	LastEventKind    Kind       `json:"lastEventKind"`
	LastEventSummary string     `json:"lastEventSummary"`
	Cwd              string     `json:"cwd,omitempty"`
	LastUpdatedAt    time.Time  `json:"lastUpdatedAt"`
	LastCommandAt    *time.Time `json:"lastCommandAt,omitempty"`
	EmitterConnected bool       `json:"emitterConnected"`
	// Seq is the sequence number of the last event applied.
	Seq uint64 `json:"seq"`
}

// Counts summarises how many sessions are in each state.
type Counts struct {
	Total         int `json:"total"`
	AwaitingInput int `json:"awaitingInput"`
	Busy          int `json:"busy"`
	Idle          int `json:"idle"`
	Error         int `json:"error"`
}

// CountStates tallies sessions by state.
func CountStates(sessions []Session) Counts {
	c := Counts{Total: len(sessions)}
	for _, s := range sessions {
		switch s.State {
		case AwaitingInput:
			c.AwaitingInput++
		case Busy:
			c.Busy++
		case Idle:
			c.Idle++
		case ErrorState:
			c.Error++
		}
	}
	return c
}
