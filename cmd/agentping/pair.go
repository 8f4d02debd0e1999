package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/agentping/relay/internal/output"
	"github.com/agentping/relay/internal/overlay"
)

var pairCmd = &cobra.Command{
	Use:   "pair",
	Short: "Print the address viewers should connect to",
	Long: `Find this host's overlay-network addresses and print the pairing URI
and WebSocket URL for each. Viewer apps accept the URI as-is.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := contextWithTimeout(cmd)
		defer cancel()
		return pairRun(ctx)
	},
}

func init() {
	rootCmd.AddCommand(pairCmd)
}

func pairRun(ctx context.Context) error {
	port := viper.GetInt("server.port")
	addrs, err := overlay.Discover(ctx, viper.GetStringSlice("origin.allowed_prefixes"))
	if errors.Is(err, overlay.ErrNoAddress) {
		ui.Warning("no overlay address found; is the overlay network up on this host?")
		return err
	}
	if err != nil {
		return err
	}

	for i, a := range addrs {
		label := a.Interface
		if i == 0 {
			label += " (preferred)"
		}
		ui.Info("%s  %s", output.Bold(a.Addr.String()), label)
		ui.Info("  pair:   %s", output.Cyan(overlay.PairingURI(a.Addr, port)))
		ui.Info("  viewer: %s", overlay.ViewerURL(a.Addr, port))
	}
	if relayToken() != "" {
		ui.Info("The relay requires a token; enter server.auth_token in the viewer.")
	}
	return nil
}
