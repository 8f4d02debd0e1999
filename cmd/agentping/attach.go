package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agentping/relay/internal/client"
	"github.com/agentping/relay/internal/tmux"
	"github.com/agentping/relay/internal/ws"
)

var (
	attachTmux string
	attachPID  int
)

var attachCmd = &cobra.Command{
	Use:   "attach SESSION_ID",
	Short: "Receive remote commands for a session",
	Long: `Hold an emitter connection for SESSION_ID so viewers can send it commands.

Commands are typed into a tmux pane when one is known (--tmux, the pane
holding --pid, or $TMUX_PANE) and printed to stdout otherwise. A newer
attach for the same session takes over and this one exits.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		id := args[0]
		target, err := paneTarget(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		handler := func(ctx context.Context, c ws.CommandMessage) error {
			ui.VerboseLog("command %s: %q", c.CommandID, c.Payload)
			if target == "" {
				_, err := fmt.Fprintln(out, c.Payload)
				return err
			}
			return tmux.SendKeys(ctx, target, c.Payload)
		}

		if target != "" {
			ui.Info("attached to %s, typing commands into tmux pane %s", id, target)
		} else {
			ui.Info("attached to %s, printing commands", id)
		}

		em := client.NewEmitter(relayURL(), relayToken(), id, handler, cliLogger())
		if err := em.Run(ctx); err != nil {
			if errors.Is(err, ws.ErrReplaced) {
				ui.Warning("another attach took over session %s", id)
				return nil
			}
			return err
		}
		return nil
	},
}

func init() {
	attachCmd.Flags().StringVar(&attachTmux, "tmux", "", "tmux target pane (e.g. main:1.0)")
	attachCmd.Flags().IntVar(&attachPID, "pid", 0, "Agent PID; its tmux pane receives the commands")
	rootCmd.AddCommand(attachCmd)
}

func paneTarget(ctx context.Context) (string, error) {
	if attachTmux != "" {
		return attachTmux, nil
	}
	if attachPID > 0 {
		r, err := tmux.NewResolver(ctx)
		if err != nil {
			return "", err
		}
		target, ok := r.Resolve(attachPID)
		if !ok {
			return "", fmt.Errorf("pid %d is not running inside tmux", attachPID)
		}
		return target, nil
	}
	return os.Getenv("TMUX_PANE"), nil
}
