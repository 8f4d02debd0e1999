package session

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateMarshalJSON(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Idle, `"idle"`},
		{Busy, `"busy"`},
		{AwaitingInput, `"awaiting_input"`},
		{ErrorState, `"error"`},
	}

	for _, tt := range tests {
		data, err := json.Marshal(tt.state)
		require.NoError(t, err)
		assert.Equal(t, tt.want, string(data))
	}
}

func TestStateUnmarshalRejectsUnknown(t *testing.T) {
	var s State
	assert.Error(t, json.Unmarshal([]byte(`"sleeping"`), &s))
}

func TestKindJSONNames(t *testing.T) {
	data, err := json.Marshal(Event{SessionID: "s1", Kind: InputNeeded})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"InputNeeded"`)

	var ev Event
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, InputNeeded, ev.Kind)
}

func TestStateFor(t *testing.T) {
	tests := []struct {
		kind Kind
		want State
	}{
		{TaskCompleted, Idle},
		{Progress, Busy},
		{InputNeeded, AwaitingInput},
		{Error, ErrorState},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, StateFor(tt.kind))
		})
	}
}

func TestCountStates(t *testing.T) {
	c := CountStates([]Session{
		{State: AwaitingInput},
		{State: AwaitingInput},
		{State: Busy},
		{State: Idle},
		{State: ErrorState},
	})

	assert.Equal(t, Counts{Total: 5, AwaitingInput: 2, Busy: 1, Idle: 1, Error: 1}, c)
}
