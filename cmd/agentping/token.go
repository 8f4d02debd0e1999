package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentping/relay/internal/config"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Generate a random value for server.auth_token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tok, err := config.GenerateToken()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
		return err
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
}
