package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/agentping/relay/internal/config"
	"github.com/agentping/relay/internal/output"
)

var ui *output.UI

var rootCmd = &cobra.Command{
	Use:   "agentping",
	Short: "Relay coding-agent session state to your other devices",
	Long: `agentping runs a small relay that agent hooks report to. Viewers on
other devices watch every session, get told when one needs input, and can
answer it remotely.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	rootCmd.Version = fmt.Sprintf("%s (%s)", version, commit)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	ui = output.New()

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Config file (default $XDG_CONFIG_HOME/agentping/config.yaml)")
	pf.String("url", "", "Relay address (default http://127.0.0.1:<server.port>)")
	pf.String("token", "", "Relay auth token (default server.auth_token from the config file)")
	pf.Duration("timeout", 10*time.Second, "Timeout for one-shot relay requests")
	pf.String("log-level", "", "Log level: debug, info, warn, error")
	pf.BoolVarP(&ui.Verbose, "verbose", "v", false, "Verbose output")
}

func initConfig() {
	path := configPath()
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	pf := rootCmd.PersistentFlags()
	for _, name := range []string{"url", "token", "timeout", "log-level"} {
		_ = viper.BindPFlag(strings.ReplaceAll(name, "-", "_"), pf.Lookup(name))
	}

	viper.SetEnvPrefix("AGENTPING")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.port", config.DefaultPort)
	viper.SetDefault("server.auth_token", "")
	viper.SetDefault("timeout", 10*time.Second)

	// The config file is optional for client commands.
	_ = viper.ReadInConfig()
}

// configPath is --config, then AGENTPING_CONFIG, then the per-user default.
func configPath() string {
	if p, _ := rootCmd.PersistentFlags().GetString("config"); p != "" {
		return p
	}
	if p := os.Getenv("AGENTPING_CONFIG"); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(dir, "agentping", "config.yaml")
}

// relayURL is where client commands connect.
func relayURL() string {
	if u := viper.GetString("url"); u != "" {
		return u
	}
	return fmt.Sprintf("http://127.0.0.1:%d", viper.GetInt("server.port"))
}

// relayToken falls back to the relay's own token so commands run on the relay
// host need no extra setup.
func relayToken() string {
	if t := viper.GetString("token"); t != "" {
		return t
	}
	return viper.GetString("server.auth_token")
}

func contextWithTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), requestTimeout())
}

func requestTimeout() time.Duration {
	if d := viper.GetDuration("timeout"); d > 0 {
		return d
	}
	return 10 * time.Second
}

// newLogger builds the text logger used by long-running commands. The
// returned LevelVar lets config reloads change the level live.
func newLogger(w io.Writer, level string) (*slog.Logger, *slog.LevelVar, error) {
	lvl, err := config.ParseLevel(level)
	if err != nil {
		return nil, nil, err
	}
	v := new(slog.LevelVar)
	v.Set(lvl)
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: v})), v, nil
}

// cliLogger is for client commands: warnings only unless --verbose.
func cliLogger() *slog.Logger {
	level := viper.GetString("log_level")
	if level == "" {
		level = "warn"
		if ui.Verbose {
			level = "debug"
		}
	}
	logger, _, err := newLogger(os.Stderr, level)
	if err != nil {
		logger, _, _ = newLogger(os.Stderr, "warn")
	}
	return logger
}
