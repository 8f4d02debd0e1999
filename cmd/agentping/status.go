package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentping/relay/internal/client"
	"github.com/agentping/relay/internal/output"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status [SESSION_ID]",
	Short: "Show session states",
	Long: `Without arguments, list every session the relay knows with a state
summary. With a session id, show that session in detail.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout())
		defer cancel()

		c, err := client.NewHTTPClient(relayURL(), relayToken())
		if err != nil {
			return err
		}
		if len(args) == 1 {
			return statusOne(ctx, c, args[0])
		}
		return statusAll(ctx, c)
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the raw JSON response")
	rootCmd.AddCommand(statusCmd)
}

func statusAll(ctx context.Context, c *client.HTTPClient) error {
	snap, err := c.Sessions(ctx)
	if err != nil {
		return err
	}
	if statusJSON {
		return printJSON(snap)
	}
	if len(snap.Sessions) == 0 {
		ui.Info("No sessions reporting.")
		return nil
	}
	if err := ui.Sessions(snap.Sessions, time.Now()); err != nil {
		return err
	}
	ui.Counts(snap.Counts)
	return nil
}

func statusOne(ctx context.Context, c *client.HTTPClient, id string) error {
	st, err := c.Session(ctx, id)
	if err != nil {
		return err
	}
	if statusJSON {
		return printJSON(st)
	}
	if !st.Found {
		ui.Warning("session %s not found", id)
		return nil
	}

	emitter := "detached"
	if st.EmitterConnected {
		emitter = "attached"
	}
	ui.Info("%s  %s  emitter %s  updated %s", output.Bold(id), output.StateColor(*st.State), emitter, output.Age(st.LastUpdatedAt, time.Now()))
	if st.LastEventSummary != "" {
		ui.Info("%s", st.LastEventSummary)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(ui.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
