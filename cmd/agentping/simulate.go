package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentping/relay/internal/mock"
)

var simulateInterval time.Duration

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Drive fake agent sessions through the relay",
	Long: `Attach a handful of simulated sessions that work, finish, fail and ask
for input. Sessions that ask wait for an approve or deny from a viewer.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		g := mock.NewGenerator(relayURL(), relayToken(), simulateInterval, cliLogger())
		ui.Info("simulating %d sessions against %s", len(g.SessionIDs()), relayURL())
		return g.Run(ctx)
	},
}

func init() {
	simulateCmd.Flags().DurationVar(&simulateInterval, "interval", time.Second, "Time between simulated steps")
	rootCmd.AddCommand(simulateCmd)
}
