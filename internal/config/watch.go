package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"reflect"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Diff lists human-readable changes between two configs, one line per
// changed setting.
func Diff(old, new *Config) []string {
	var changes []string
	add := func(name string, a, b any) {
		if !reflect.DeepEqual(a, b) {
			changes = append(changes, fmt.Sprintf("%s: %v -> %v", name, a, b))
		}
	}

	add("server.port", old.Server.Port, new.Server.Port)
	add("server.host", old.Server.Host, new.Server.Host)
	if old.Server.AuthToken != new.Server.AuthToken {
		changes = append(changes, "server.auth_token changed")
	}
	add("server.max_connections", old.Server.MaxConnections, new.Server.MaxConnections)

	add("relay", old.Relay, new.Relay)
	add("origin.allowed_prefixes", old.Origin.AllowedPrefixes, new.Origin.AllowedPrefixes)

	add("privacy.mask_working_dirs", old.Privacy.MaskWorkingDirs, new.Privacy.MaskWorkingDirs)
	add("privacy.allowed_paths", old.Privacy.AllowedPaths, new.Privacy.AllowedPaths)
	add("privacy.blocked_paths", old.Privacy.BlockedPaths, new.Privacy.BlockedPaths)

	add("notify.ntfy.topic", old.Notify.Ntfy.Topic, new.Notify.Ntfy.Topic)
	add("notify.ntfy.min_urgency", old.Notify.Ntfy.MinUrgency, new.Notify.Ntfy.MinUrgency)

	add("log.level", old.Log.Level, new.Log.Level)
	return changes
}

// NeedsRestart reports whether any change between old and new only takes
// effect after the relay restarts. Origin prefixes, privacy rules and the
// log level are applied live.
func NeedsRestart(old, new *Config) bool {
	return old.Server != new.Server ||
		old.Relay != new.Relay ||
		old.Notify != new.Notify
}

// Watch reloads path whenever it is written and calls onChange with the
// previous and the freshly loaded config. Invalid files are logged and
// skipped. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, current *Config, logger *slog.Logger, onChange func(old, new *Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer watcher.Close()

	// Editors replace files via rename, so watch the directory.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	reload := make(chan struct{}, 1)
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(100*time.Millisecond, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", "err", err)
		case <-reload:
			next, err := Load(path)
			if err != nil {
				logger.Warn("config reload skipped", "path", path, "err", err)
				continue
			}
			changes := Diff(current, next)
			if len(changes) == 0 {
				continue
			}
			logger.Info("config reloaded", "path", path, "changes", changes)
			if NeedsRestart(current, next) {
				logger.Warn("some config changes need a restart to take effect")
			}
			onChange(current, next)
			current = next
		case <-ctx.Done():
			return nil
		}
	}
}

// samePrefixes reports whether two prefix lists hold the same entries in any
// order.
func samePrefixes(a, b []string) bool {
	a, b = slices.Clone(a), slices.Clone(b)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}

// OriginChanged reports whether the allowed origin prefixes differ.
func OriginChanged(old, new *Config) bool {
	return !samePrefixes(old.Origin.AllowedPrefixes, new.Origin.AllowedPrefixes)
}
