// Package theme provides the Lip Gloss palette and shared styles for the
// watch TUI. It is a leaf package with no internal imports besides the
// value types it colors.
package theme

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/agentping/relay/internal/notify"
	"github.com/agentping/relay/internal/session"
)

// State colors.
var (
	ColorIdle     = lipgloss.Color("#16a34a")
	ColorBusy     = lipgloss.Color("#2563eb")
	ColorAwaiting = lipgloss.Color("#f59e0b")
	ColorErrored  = lipgloss.Color("#dc2626")
	ColorDefault  = lipgloss.Color("#9ca3af")
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
)

func StateColor(s session.State) lipgloss.Color {
	switch s {
	case session.Idle:
		return ColorIdle
	case session.Busy:
		return ColorBusy
	case session.AwaitingInput:
		return ColorAwaiting
	case session.ErrorState:
		return ColorErrored
	default:
		return ColorDefault
	}
}

// StateGlyph returns a single-cell marker for a session state.
func StateGlyph(s session.State) string {
	switch s {
	case session.Idle:
		return "✓"
	case session.Busy:
		return "●"
	case session.AwaitingInput:
		return "?"
	case session.ErrorState:
		return "✗"
	default:
		return "·"
	}
}

func UrgencyColor(u notify.Urgency) lipgloss.Color {
	switch u {
	case notify.Urgent:
		return ColorAwaiting
	case notify.Normal:
		return ColorBright
	default:
		return ColorDimmed
	}
}

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder)

	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)

	StyleSelected = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)
)
