package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/agentping/relay/internal/classify"
	"github.com/agentping/relay/internal/client"
	"github.com/agentping/relay/internal/hook"
)

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Forward one agent hook event to the relay",
	Long: `Reads the agent's hook JSON on stdin and forwards it as a signal. Install
it as the command for the Stop, Notification and tool-use hooks.

It never fails the agent: errors go to a log file in the user cache dir
and the exit status is always 0.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, closeLog := hookLogger()
		defer closeLog()

		base, token := relayURL(), relayToken()
		send := func(ctx context.Context, sig classify.Signal) error {
			return client.Emit(ctx, base, token, sig)
		}
		if err := hook.Forward(cmd.Context(), cmd.InOrStdin(), send); err != nil {
			logger.Warn("hook not forwarded", "relay", base, "err", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hookCmd)
}

// hookLogger writes to the cache dir so nothing lands in the agent's
// terminal.
func hookLogger() (*slog.Logger, func()) {
	discard := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir, err := os.UserCacheDir()
	if err != nil {
		return discard, func() {}
	}
	dir = filepath.Join(dir, "agentping")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return discard, func() {}
	}
	f, err := os.OpenFile(filepath.Join(dir, "hook.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return discard, func() {}
	}
	level := viper.GetString("log_level")
	if level == "" {
		level = "info"
	}
	logger, _, err := newLogger(f, level)
	if err != nil {
		logger, _, _ = newLogger(f, "info")
	}
	return logger, func() { f.Close() }
}
