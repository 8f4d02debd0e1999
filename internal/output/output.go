// Package output formats CLI results: colored status lines and borderless
// tables.
package output

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/agentping/relay/internal/session"
)

// UI writes human-readable output.
type UI struct {
	Verbose bool
	Out     io.Writer
	ErrOut  io.Writer
}

func New() *UI {
	return &UI{
		Out:    os.Stdout,
		ErrOut: os.Stderr,
	}
}

var (
	infoPrefix    = color.New(color.FgHiBlue).Sprint("i")
	successPrefix = color.New(color.FgHiGreen).Sprint("✓")
	warningPrefix = color.New(color.FgHiYellow).Sprint("⚠")
	errorPrefix   = color.New(color.FgHiRed).Sprint("✗")
	verbosePrefix = color.New(color.FgHiBlue).Sprint("  →")
	cyan          = color.New(color.FgHiCyan).SprintFunc()
	green         = color.New(color.FgHiGreen).SprintFunc()
	yellow        = color.New(color.FgHiYellow).SprintFunc()
	red           = color.New(color.FgHiRed).SprintFunc()
	dim           = color.New(color.Faint).SprintFunc()
)

func Cyan(s string) string { return cyan(s) }

func Bold(s string) string { return color.New(color.Bold).Sprint(s) }

// StateColor colors a session state by how much it needs the user.
func StateColor(s session.State) string {
	name := s.String()
	switch s {
	case session.AwaitingInput:
		return yellow(name)
	case session.ErrorState:
		return red(name)
	case session.Busy:
		return cyan(name)
	case session.Idle:
		return green(name)
	default:
		return name
	}
}

// Age renders how long ago t was, coarsely.
func Age(t, now time.Time) string {
	if t.IsZero() {
		return dim("-")
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// Truncate shortens s to n runes, marking the cut.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}

func (u *UI) Info(format string, a ...any) {
	fmt.Fprintf(u.Out, "%s %s\n", infoPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Success(format string, a ...any) {
	fmt.Fprintf(u.Out, "%s %s\n", successPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Warning(format string, a ...any) {
	fmt.Fprintf(u.ErrOut, "%s %s\n", warningPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Error(format string, a ...any) {
	fmt.Fprintf(u.ErrOut, "%s %s\n", errorPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) VerboseLog(format string, a ...any) {
	if u.Verbose {
		fmt.Fprintf(u.Out, "%s %s\n", verbosePrefix, fmt.Sprintf(format, a...))
	}
}

// Table creates a tablewriter with consistent styling.
func (u *UI) Table(headers []string) *tablewriter.Table {
	table := tablewriter.NewTable(u.Out,
		tablewriter.WithHeaderAlignment(tw.AlignLeft),
		tablewriter.WithRowAlignment(tw.AlignLeft),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Lines:      tw.LinesNone,
				Separators: tw.SeparatorsNone,
			},
		}),
		tablewriter.WithPadding(tw.Padding{Left: "", Right: "  "}),
	)
	table.Header(headers)
	return table
}

// Sessions prints one row per session.
func (u *UI) Sessions(sessions []session.Session, now time.Time) error {
	table := u.Table([]string{"Session", "State", "Emitter", "Updated", "Last event"})
	for _, s := range sessions {
		emitter := dim("detached")
		if s.EmitterConnected {
			emitter = green("attached")
		}
		if err := table.Append([]string{
			s.ID,
			StateColor(s.State),
			emitter,
			Age(s.LastUpdatedAt, now),
			Truncate(firstLine(s.LastEventSummary), 60),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

// Counts prints the one-line state summary.
func (u *UI) Counts(c session.Counts) {
	fmt.Fprintf(u.Out, "%s awaiting input, %d busy, %d idle, %s error (%d total)\n",
		yellow(fmt.Sprint(c.AwaitingInput)), c.Busy, c.Idle, red(fmt.Sprint(c.Error)), c.Total)
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
