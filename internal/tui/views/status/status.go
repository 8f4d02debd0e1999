package status

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/agentping/relay/internal/session"
	"github.com/agentping/relay/internal/tui/theme"
)

// Model holds the status bar state.
type Model struct {
	Connected bool
	Counts    session.Counts
	// Dropped counts events the relay skipped for this viewer since the
	// last resync.
	Dropped int
	Notice  string
	Width   int
}

func New() Model {
	return Model{}
}

// View renders the status bar.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	var connStr string
	if m.Connected {
		connStr = lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("● Connected")
	} else {
		connStr = lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("○ Connecting...")
	}

	awaiting := lipgloss.NewStyle().Foreground(theme.ColorAwaiting).Render(
		fmt.Sprintf("%d awaiting input", m.Counts.AwaitingInput))
	counts := fmt.Sprintf("%s  %d busy  %d idle  %d error  (%d total)",
		awaiting, m.Counts.Busy, m.Counts.Idle, m.Counts.Error, m.Counts.Total)

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := connStr + sep + counts
	if m.Dropped > 0 {
		content += sep + lipgloss.NewStyle().Foreground(theme.ColorWarning).Render(
			fmt.Sprintf("%d events skipped", m.Dropped))
	}
	if m.Notice != "" {
		content += sep + m.Notice
	}

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}
