// Package tmux locates the pane an agent runs in and types relayed commands
// into it.
package tmux

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// ErrNotRunning is returned when tmux is missing or has no server.
var ErrNotRunning = errors.New("tmux not running")

// Pane is a single tmux pane and its shell PID.
type Pane struct {
	SessionName string // e.g. "main"
	WindowIndex int
	PaneIndex   int
	PanePID     int    // PID of the shell running inside this pane
	Target      string // "main:2.0" for tmux commands
}

// Resolver maps process PIDs to their containing pane.
type Resolver struct {
	targetByPID map[int]string
	parentPID   func(int) int
}

// NewResolver queries tmux for all panes.
func NewResolver(ctx context.Context) (*Resolver, error) {
	panes, err := ListPanes(ctx)
	if err != nil {
		return nil, err
	}
	if len(panes) == 0 {
		return nil, ErrNotRunning
	}
	targetByPID := make(map[int]string, len(panes))
	for _, p := range panes {
		targetByPID[p.PanePID] = p.Target
	}
	return &Resolver{targetByPID: targetByPID, parentPID: parentPID}, nil
}

// Resolve walks the process tree upward from pid until it reaches a pane's
// shell. It gives up after 10 ancestors.
func (r *Resolver) Resolve(pid int) (string, bool) {
	if r == nil {
		return "", false
	}
	current := pid
	for i := 0; i < 10; i++ {
		if target, ok := r.targetByPID[current]; ok {
			return target, true
		}
		parent := r.parentPID(current)
		if parent <= 1 || parent == current {
			break
		}
		current = parent
	}
	return "", false
}

func parentPID(pid int) int {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return 0
	}
	ppid, err := p.Ppid()
	if err != nil {
		return 0
	}
	return int(ppid)
}

// ListPanes runs tmux list-panes across all sessions.
func ListPanes(ctx context.Context) ([]Pane, error) {
	path, err := exec.LookPath("tmux")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotRunning, err)
	}
	out, err := exec.CommandContext(ctx, path, "list-panes", "-a", "-F",
		"#{pane_pid}\t#{session_name}\t#{window_index}\t#{pane_index}").Output()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotRunning, err)
	}
	return parsePanes(string(out)), nil
}

// parsePanes parses the tab-separated output of tmux list-panes.
func parsePanes(output string) []Pane {
	var panes []Pane
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 4 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		winIdx, err := strconv.Atoi(fields[2])
		if err != nil {
			continue
		}
		paneIdx, err := strconv.Atoi(fields[3])
		if err != nil {
			continue
		}
		panes = append(panes, Pane{
			SessionName: fields[1],
			WindowIndex: winIdx,
			PaneIndex:   paneIdx,
			PanePID:     pid,
			Target:      fmt.Sprintf("%s:%d.%d", fields[1], winIdx, paneIdx),
		})
	}
	return panes
}

// sendKeysArgs types text literally, then presses Enter as a separate key
// so text like "Enter" is never interpreted as a key name.
func sendKeysArgs(target, text string) [][]string {
	return [][]string{
		{"send-keys", "-t", target, "-l", text},
		{"send-keys", "-t", target, "Enter"},
	}
}

// SendKeys types text into target and submits it.
func SendKeys(ctx context.Context, target, text string) error {
	if target == "" {
		return errors.New("tmux target is empty")
	}
	path, err := exec.LookPath("tmux")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotRunning, err)
	}
	for _, args := range sendKeysArgs(target, text) {
		if out, err := exec.CommandContext(ctx, path, args...).CombinedOutput(); err != nil {
			return fmt.Errorf("tmux %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
		}
	}
	return nil
}
