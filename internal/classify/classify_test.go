package classify

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentping/relay/internal/session"
)

func TestClassifyTable(t *testing.T) {
	tests := []struct {
		signalType string
		want       session.Kind
	}{
		{"task_completed", session.TaskCompleted},
		{"Stop", session.TaskCompleted},
		{"stop", session.TaskCompleted},
		{"done", session.TaskCompleted},
		{"blocked_on_user", session.InputNeeded},
		{"input_needed", session.InputNeeded},
		{"permission_request", session.InputNeeded},
		{"permission_prompt", session.InputNeeded},
		{"idle_prompt", session.InputNeeded},
		{"elicitation_dialog", session.InputNeeded},
		{"error", session.Error},
		{"failure", session.Error},
		{"crashed", session.Error},
		{"StopFailure", session.Error},
		{"progress", session.Progress},
		{"working", session.Progress},
		{"tool_use", session.Progress},
		{"PreToolUse", session.Progress},
		{"PostToolUse", session.Progress},
		{"UserPromptSubmit", session.Progress},
		{"", session.Progress},
		{"   ", session.Progress},
		{"something_new", session.Error},
		{"TASK_COMPLETED", session.Error},
	}

	for _, tt := range tests {
		t.Run(tt.signalType, func(t *testing.T) {
			ev, err := Classify(Signal{SessionID: "s1", SignalType: tt.signalType})
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev.Kind)
			assert.Equal(t, "s1", ev.SessionID)
		})
	}
}

func TestClassifyMissingSessionID(t *testing.T) {
	_, err := Classify(Signal{SignalType: "task_completed"})
	assert.True(t, errors.Is(err, ErrMalformedSignal))

	_, err = Classify(Signal{SessionID: "  ", SignalType: "task_completed"})
	assert.True(t, errors.Is(err, ErrMalformedSignal))
}

func TestClassifyStampsOccurredAt(t *testing.T) {
	before := time.Now().UTC()
	ev, err := Classify(Signal{SessionID: "s1", SignalType: "progress"})
	require.NoError(t, err)
	assert.False(t, ev.OccurredAt.Before(before))

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ev, err = Classify(Signal{SessionID: "s1", SignalType: "progress", OccurredAt: at})
	require.NoError(t, err)
	assert.Equal(t, at, ev.OccurredAt)
}

func TestClassifySummaryKeepsTail(t *testing.T) {
	long := strings.Repeat("a", MaxSummaryRunes) + "END"
	ev, err := Classify(Signal{SessionID: "s1", SignalType: "task_completed", TranscriptExcerpt: long})
	require.NoError(t, err)

	assert.Equal(t, MaxSummaryRunes, len([]rune(ev.Summary)))
	assert.True(t, strings.HasSuffix(ev.Summary, "END"))
}

func TestClassifySummaryMultibyte(t *testing.T) {
	long := strings.Repeat("é", MaxSummaryRunes+10)
	ev, err := Classify(Signal{SessionID: "s1", TranscriptExcerpt: long})
	require.NoError(t, err)
	assert.Equal(t, MaxSummaryRunes, len([]rune(ev.Summary)))
}

func TestClassifyTrimsSummary(t *testing.T) {
	ev, err := Classify(Signal{SessionID: "s1", TranscriptExcerpt: "\n  all done  \n"})
	require.NoError(t, err)
	assert.Equal(t, "all done", ev.Summary)
}

func TestParseThenClassify(t *testing.T) {
	sig, err := Parse([]byte(`{"type":"signal","sessionId":"s1","signalType":"blocked_on_user","cwd":"/srv/app"}`))
	require.NoError(t, err)
	ev, err := Classify(sig)
	require.NoError(t, err)
	assert.Equal(t, session.InputNeeded, ev.Kind)
	assert.Equal(t, "/srv/app", ev.Cwd)
}

func TestParseMalformed(t *testing.T) {
	for _, in := range []string{"", "{", "[]", `{"sessionId": 7}`} {
		_, err := Parse([]byte(in))
		assert.ErrorIs(t, err, ErrMalformedSignal, "input %q", in)
	}
}

func TestAnomaly(t *testing.T) {
	ev := Anomaly("s1", ErrMalformedSignal)
	assert.Equal(t, session.Error, ev.Kind)
	assert.Equal(t, "s1", ev.SessionID)
	assert.NotEmpty(t, ev.Summary)
}
