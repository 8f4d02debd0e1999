package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/agentping/relay/internal/config"
	"github.com/agentping/relay/internal/notify"
	"github.com/agentping/relay/internal/origin"
	"github.com/agentping/relay/internal/session"
	"github.com/agentping/relay/internal/ws"
)

var (
	servePort int
	serveHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay",
	Long: `Run the relay. Emitters (agent hooks) and viewers connect to /ws; peers
outside the allowed overlay prefixes are refused. The config file is
watched: origin prefixes, privacy rules and the log level apply live.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Override server.port")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Override server.host")
	rootCmd.AddCommand(serveCmd)
}

func serveRun(ctx context.Context) error {
	path := configPath()
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return err
	}
	if servePort > 0 {
		cfg.Server.Port = servePort
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if lvl := viper.GetString("log_level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, level, err := newLogger(os.Stderr, cfg.Log.Level)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	validator, err := origin.NewValidator(cfg.Origin.AllowedPrefixes)
	if err != nil {
		return err
	}

	hub := ws.NewHub(session.NewRegistry(), ws.OptionsFromConfig(cfg), logger)
	hub.SetPrivacyFilter(config.NewPrivacyFilter(cfg.Privacy))
	notifier, err := newNotifier(cfg.Notify.Ntfy, logger)
	if err != nil {
		return err
	}
	hub.SetNotifier(notifier)
	if cfg.Server.AuthToken == "" {
		logger.Warn("no server.auth_token set; any peer on the overlay can connect")
	}

	srv := ws.NewServer(hub, validator, cfg.Server.AuthToken, logger)
	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(ctx, addr) })
	g.Go(func() error { return hub.Run(ctx) })

	if _, err := os.Stat(path); err == nil {
		g.Go(func() error {
			return config.Watch(ctx, path, cfg, logger, func(old, next *config.Config) {
				applyReload(old, next, validator, hub, level, logger)
			})
		})
	} else if !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("config not watched", "path", path, "err", err)
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("relay: %w", err)
	}
	logger.Info("relay stopped")
	return nil
}

// newNotifier builds the push dispatcher, or returns nil when no ntfy topic
// is configured.
func newNotifier(nc config.NtfyConfig, logger *slog.Logger) (*notify.Dispatcher, error) {
	if nc.Topic == "" {
		return nil, nil
	}
	minUrgency, err := notify.ParseUrgency(nc.MinUrgencyName())
	if err != nil {
		return nil, fmt.Errorf("notify.ntfy.min_urgency: %w", err)
	}
	logger.Info("push notifications enabled", "topic", nc.Topic, "min_urgency", minUrgency)
	return notify.NewDispatcher(logger, notify.NewNtfy(nc.Topic, nc.Token, minUrgency)), nil
}

// applyReload pushes the live-reloadable parts of next into the running
// relay.
func applyReload(old, next *config.Config, validator *origin.Validator, hub *ws.Hub, level *slog.LevelVar, logger *slog.Logger) {
	if config.OriginChanged(old, next) {
		if err := validator.SetPrefixes(next.Origin.AllowedPrefixes); err != nil {
			logger.Warn("origin prefixes not applied", "err", err)
		}
	}
	if old.Privacy.MaskWorkingDirs != next.Privacy.MaskWorkingDirs ||
		!slices.Equal(old.Privacy.AllowedPaths, next.Privacy.AllowedPaths) ||
		!slices.Equal(old.Privacy.BlockedPaths, next.Privacy.BlockedPaths) {
		hub.SetPrivacyFilter(config.NewPrivacyFilter(next.Privacy))
	}
	if lvl, err := config.ParseLevel(next.Log.Level); err == nil {
		level.Set(lvl)
	}
}
