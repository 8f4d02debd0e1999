package main

import (
	"io"
	"log/slog"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/agentping/relay/internal/client"
	"github.com/agentping/relay/internal/output"
	"github.com/agentping/relay/internal/tui/app"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch sessions live and answer them from the terminal",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// The alt screen owns the terminal; logging would corrupt it.
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		w := client.NewWatcher(relayURL(), relayToken(), logger)
		defer w.Close()

		p := tea.NewProgram(app.New(w), tea.WithAltScreen(), tea.WithContext(cmd.Context()))
		_, err := p.Run()
		return err
	},
}

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print recent events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := contextWithTimeout(cmd)
		defer cancel()

		v, err := client.DialViewer(ctx, relayURL(), relayToken())
		if err != nil {
			return err
		}
		defer v.Close()

		events, err := v.History(ctx, historyLimit)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			ui.Info("No events yet.")
			return nil
		}
		table := ui.Table([]string{"Time", "Session", "Kind", "Urgency", "Summary"})
		for _, ev := range events {
			if err := table.Append([]string{
				ev.OccurredAt.Local().Format("15:04:05"),
				ev.SessionID,
				ev.Kind.String(),
				ev.Urgency.String(),
				output.Truncate(strings.SplitN(ev.Summary, "\n", 2)[0], 60),
			}); err != nil {
				return err
			}
		}
		return table.Render()
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of events")
	rootCmd.AddCommand(watchCmd, historyCmd)
}
