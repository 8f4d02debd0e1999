package main

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentping/relay/internal/config"
	"github.com/agentping/relay/internal/origin"
	"github.com/agentping/relay/internal/ws"
)

func TestRelayURLDefaultsToLocalPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	viper.Set("server.port", 9100)
	assert.Equal(t, "http://127.0.0.1:9100", relayURL())

	viper.Set("url", "100.64.0.7:8765")
	assert.Equal(t, "100.64.0.7:8765", relayURL())
}

func TestRelayTokenFallsBackToServerToken(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	viper.Set("server.auth_token", "from-config")
	assert.Equal(t, "from-config", relayToken())

	viper.Set("token", "from-flag")
	assert.Equal(t, "from-flag", relayToken())
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, level, err := newLogger(&buf, "warn")
	require.NoError(t, err)

	logger.Info("quiet")
	logger.Warn("loud")
	assert.NotContains(t, buf.String(), "quiet")
	assert.Contains(t, buf.String(), "loud")

	level.Set(slog.LevelDebug)
	logger.Debug("now visible")
	assert.Contains(t, buf.String(), "now visible")

	_, _, err = newLogger(&buf, "chatty")
	assert.Error(t, err)
}

func TestApplyReload(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	old := config.Default()
	validator, err := origin.NewValidator(old.Origin.AllowedPrefixes)
	require.NoError(t, err)
	hub := ws.NewHub(nil, ws.Options{}, logger)
	defer hub.Close()
	level := new(slog.LevelVar)

	require.False(t, validator.Accept("10.1.2.3:5000"))

	next := config.Default()
	next.Origin.AllowedPrefixes = []string{"10.0.0.0/8"}
	next.Log.Level = "debug"
	applyReload(old, next, validator, hub, level, logger)

	assert.True(t, validator.Accept("10.1.2.3:5000"))
	assert.False(t, validator.Accept("100.64.0.7:5000"))
	assert.Equal(t, slog.LevelDebug, level.Level())
}

func TestNewNotifier(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	d, err := newNotifier(config.NtfyConfig{}, logger)
	require.NoError(t, err)
	assert.Nil(t, d, "no topic, no pushes")

	d, err = newNotifier(config.NtfyConfig{Topic: "agents", MinUrgency: ""}, logger)
	require.NoError(t, err, "an empty minimum falls back to urgent")
	assert.NotNil(t, d)

	_, err = newNotifier(config.NtfyConfig{Topic: "agents", MinUrgency: "loud"}, logger)
	assert.Error(t, err)
}

func TestTokenCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"token"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.Len(t, strings.TrimSpace(out.String()), 32)
}

func TestHookCommandNeverFails(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	rootCmd.SetIn(strings.NewReader(`{"hook_event_name":"Stop","session_id":"s1"}`))
	rootCmd.SetArgs([]string{"hook", "--url", "http://127.0.0.1:1", "--timeout", "1s"})
	t.Cleanup(func() {
		rootCmd.SetIn(nil)
		rootCmd.SetArgs(nil)
	})

	assert.NoError(t, rootCmd.Execute())
}
