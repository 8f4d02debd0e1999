package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentping/relay/internal/client"
	"github.com/agentping/relay/internal/ws"
)

var sendCmd = &cobra.Command{
	Use:   "send SESSION_ID TEXT...",
	Short: "Send text to a session's attached emitter",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendRun(cmd.Context(), args[0], strings.Join(args[1:], " "))
	},
}

var approveCmd = &cobra.Command{
	Use:   "approve SESSION_ID",
	Short: "Answer yes to a session waiting for input",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendRun(cmd.Context(), args[0], ws.ApprovePayload)
	},
}

var denyCmd = &cobra.Command{
	Use:   "deny SESSION_ID",
	Short: "Answer no to a session waiting for input",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendRun(cmd.Context(), args[0], ws.DenyPayload)
	},
}

func init() {
	rootCmd.AddCommand(sendCmd, approveCmd, denyCmd)
}

func sendRun(ctx context.Context, id, payload string) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout())
	defer cancel()

	v, err := client.DialViewer(ctx, relayURL(), relayToken())
	if err != nil {
		return err
	}
	defer v.Close()

	ack, err := v.Command(ctx, id, payload)
	if err != nil {
		return err
	}
	ui.Success("delivered to %s (command %s)", id, ack.CommandID)
	return nil
}
