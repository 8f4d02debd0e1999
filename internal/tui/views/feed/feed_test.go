package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentping/relay/internal/notify"
	"github.com/agentping/relay/internal/session"
	"github.com/agentping/relay/internal/ws"
)

func event(id, summary string) ws.EventMessage {
	return ws.EventMessage{
		SessionID:  id,
		Kind:       session.InputNeeded,
		Summary:    summary,
		OccurredAt: time.Now(),
		Urgency:    notify.Urgent,
	}
}

func TestAddCapsEntries(t *testing.T) {
	m := New()
	for i := 0; i < maxEntries+50; i++ {
		m.Add(event("s1", "msg"))
	}
	assert.Len(t, m.Entries, maxEntries)
}

func TestScroll(t *testing.T) {
	m := New()
	for i := 0; i < 20; i++ {
		m.Add(event("s1", "msg"))
	}
	m.ScrollUp(5)
	assert.Equal(t, 5, m.Offset)
	m.ScrollDown(3)
	assert.Equal(t, 2, m.Offset)
	m.ScrollDown(10)
	assert.Equal(t, 0, m.Offset)
	m.ScrollUp(100)
	assert.Equal(t, 19, m.Offset)

	m.Add(event("s1", "new"))
	assert.Equal(t, 0, m.Offset, "new events snap to the bottom")
}

func TestReplace(t *testing.T) {
	m := New()
	m.Add(event("old", "x"))
	m.Replace([]ws.EventMessage{event("a", "1"), event("b", "2")})
	require.Len(t, m.Entries, 2)
	assert.Equal(t, "a", m.Entries[0].SessionID)
}

func TestView(t *testing.T) {
	m := New()
	assert.Contains(t, m.View(80, 5), "No events")

	m.Add(event("s1", "Deploy to staging?\nsecond line"))
	v := m.View(120, 5)
	assert.Contains(t, v, "Deploy to staging?")
	assert.NotContains(t, v, "second line")
	assert.Contains(t, v, "InputNeeded")
}
