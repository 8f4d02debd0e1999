package notify

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentping/relay/internal/session"
)

// Notifier delivers events to something outside the relay.
type Notifier interface {
	Notify(ctx context.Context, ev session.Event) error
}

// Dispatcher fans events out to notifiers without blocking the caller.
type Dispatcher struct {
	notifiers []Notifier
	timeout   time.Duration
	logger    *slog.Logger
}

func NewDispatcher(logger *slog.Logger, notifiers ...Notifier) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{notifiers: notifiers, timeout: 10 * time.Second, logger: logger}
}

// Dispatch hands ev to every notifier in its own goroutine.
func (d *Dispatcher) Dispatch(ev session.Event) {
	if d == nil {
		return
	}
	for _, n := range d.notifiers {
		go func(n Notifier) {
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			defer cancel()
			if err := n.Notify(ctx, ev); err != nil {
				d.logger.Warn("notifier failed", "session", ev.SessionID, "err", err)
			}
		}(n)
	}
}

// Ntfy pushes non-silent events to an ntfy topic (ntfy.sh or self-hosted).
type Ntfy struct {
	url        string
	token      string
	minUrgency Urgency
	client     *http.Client
}

// NewNtfy creates an ntfy sink. Topic can be a bare topic name (expanded to
// https://ntfy.sh/{topic}) or a full URL. Events below minUrgency are not
// pushed; Silent events are never pushed.
func NewNtfy(topic, token string, minUrgency Urgency) *Ntfy {
	url := topic
	if !strings.HasPrefix(topic, "http://") && !strings.HasPrefix(topic, "https://") {
		url = "https://ntfy.sh/" + topic
	}
	if minUrgency < Normal {
		minUrgency = Normal
	}
	return &Ntfy{url: url, token: token, minUrgency: minUrgency, client: http.DefaultClient}
}

func (n *Ntfy) Notify(ctx context.Context, ev session.Event) error {
	u := UrgencyOf(ev.Kind)
	if !u.Visible() || u < n.minUrgency {
		return nil
	}

	title, priority, tags := ntfyHeaders(ev)
	body := ev.Summary
	if body == "" {
		body = "session " + ev.SessionID
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewBufferString(body))
	if err != nil {
		return fmt.Errorf("ntfy: build request: %w", err)
	}
	req.Header.Set("Title", title)
	req.Header.Set("Priority", priority)
	req.Header.Set("Tags", tags)
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("ntfy: post: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("ntfy: HTTP %d", resp.StatusCode)
	}
	return nil
}

func ntfyHeaders(ev session.Event) (title, priority, tags string) {
	who := "Agent"
	if ev.Cwd != "" {
		who = filepath.Base(ev.Cwd)
	}
	switch ev.Kind {
	case session.InputNeeded:
		return who + " needs input", "high", "bell"
	case session.Error:
		return who + " hit an error", "default", "x"
	default:
		return who + " finished", "default", "white_check_mark"
	}
}
