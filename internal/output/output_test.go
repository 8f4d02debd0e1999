package output

import (
	"bytes"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentping/relay/internal/session"
)

func newTestUI() (*UI, *bytes.Buffer, *bytes.Buffer) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return &UI{Out: out, ErrOut: errOut}, out, errOut
}

func TestMain(m *testing.M) {
	color.NoColor = true
	m.Run()
}

func TestInfoAndSuccess(t *testing.T) {
	u, out, _ := newTestUI()
	u.Info("hello %s", "world")
	u.Success("done %d", 42)
	assert.Contains(t, out.String(), "hello world")
	assert.Contains(t, out.String(), "done 42")
}

func TestWarningAndErrorGoToStderr(t *testing.T) {
	u, out, errOut := newTestUI()
	u.Warning("careful %s", "now")
	u.Error("failed %s", "badly")
	assert.Empty(t, out.String())
	assert.Contains(t, errOut.String(), "careful now")
	assert.Contains(t, errOut.String(), "failed badly")
}

func TestVerboseLog(t *testing.T) {
	u, out, _ := newTestUI()
	u.VerboseLog("hidden")
	assert.Empty(t, out.String())
	u.Verbose = true
	u.VerboseLog("detail %d", 1)
	assert.Contains(t, out.String(), "detail 1")
}

func TestAge(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{30 * time.Second, "30s ago"},
		{5 * time.Minute, "5m ago"},
		{3 * time.Hour, "3h ago"},
		{72 * time.Hour, "3d ago"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Age(now.Add(-tt.ago), now))
	}
	assert.Equal(t, "-", Age(time.Time{}, now))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abcd…", Truncate("abcdefgh", 5))
}

func TestSessionsTable(t *testing.T) {
	u, out, _ := newTestUI()
	now := time.Now()
	err := u.Sessions([]session.Session{
		{ID: "s1", State: session.AwaitingInput, LastEventSummary: "Deploy?\nmore", EmitterConnected: true, LastUpdatedAt: now},
		{ID: "s2", State: session.Idle},
	}, now)
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "awaiting_input")
	assert.Contains(t, text, "Deploy?")
	assert.NotContains(t, text, "more")
	assert.Contains(t, text, "attached")
	assert.Contains(t, text, "detached")
}

func TestCounts(t *testing.T) {
	u, out, _ := newTestUI()
	u.Counts(session.Counts{Total: 3, AwaitingInput: 1, Busy: 2})
	assert.Contains(t, out.String(), "1 awaiting input, 2 busy, 0 idle, 0 error (3 total)")
}
