// Package feed provides the scrollable recent-event log shown under the
// session list.
package feed

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/agentping/relay/internal/tui/theme"
	"github.com/agentping/relay/internal/ws"
)

const maxEntries = 200

// Model holds feed state.
type Model struct {
	Entries []ws.EventMessage
	Offset  int // scroll offset from the bottom
}

func New() Model {
	return Model{}
}

// Add appends an event and caps the buffer.
func (m *Model) Add(ev ws.EventMessage) {
	m.Entries = append(m.Entries, ev)
	if len(m.Entries) > maxEntries {
		m.Entries = m.Entries[len(m.Entries)-maxEntries:]
	}
	m.Offset = 0
}

// Replace swaps the buffer for a history reply.
func (m *Model) Replace(events []ws.EventMessage) {
	m.Entries = nil
	for _, ev := range events {
		m.Add(ev)
	}
}

func (m *Model) ScrollUp(n int) {
	m.Offset += n
	limit := len(m.Entries) - 1
	if limit < 0 {
		limit = 0
	}
	if m.Offset > limit {
		m.Offset = limit
	}
}

func (m *Model) ScrollDown(n int) {
	m.Offset -= n
	if m.Offset < 0 {
		m.Offset = 0
	}
}

// View renders at most lines entries ending Offset entries from the newest.
func (m Model) View(width, lines int) string {
	if lines < 1 {
		lines = 1
	}
	if len(m.Entries) == 0 {
		return theme.StyleDimmed.Render("  No events yet.")
	}

	end := len(m.Entries) - m.Offset
	start := end - lines
	if start < 0 {
		start = 0
	}

	out := make([]string, 0, end-start+1)
	for i := start; i < end; i++ {
		ev := m.Entries[i]
		ts := theme.StyleDimmed.Render(ev.OccurredAt.Local().Format("15:04:05"))
		kind := lipgloss.NewStyle().Foreground(theme.UrgencyColor(ev.Urgency)).Width(14).Render(ev.Kind.String())
		msg := firstLine(ev.Summary)
		budget := width - 40 - len(ev.SessionID)
		if budget > 3 && len(msg) > budget {
			msg = msg[:budget-3] + "..."
		}
		out = append(out, fmt.Sprintf("%s %s %s %s", ts, kind, ev.SessionID, msg))
	}
	if m.Offset > 0 {
		out = append(out, theme.StyleDimmed.Render(fmt.Sprintf(" ↓ %d more", m.Offset)))
	}
	return strings.Join(out, "\n")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
