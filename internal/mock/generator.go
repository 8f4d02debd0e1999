// Package mock drives simulated agent sessions through a relay so viewers can
// be exercised without real agents.
package mock

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentping/relay/internal/classify"
	"github.com/agentping/relay/internal/client"
	"github.com/agentping/relay/internal/ws"
)

// Signaler is where a simulated session sends its signals.
type Signaler interface {
	Signal(signalType, excerpt, cwd string) error
}

type mockSession struct {
	id      string
	cwd     string
	pattern string
	tools   []string
	toolIdx int

	// Ages in ticks since the current task started.
	length int
	askAt  int
	errAt  int

	question string
	answers  chan string

	started   int
	doneAt    int
	asked     bool
	waiting   bool
	completed bool
}

type step struct {
	signalType string
	excerpt    string
}

// restTicks is how long a finished session stays idle before its next task.
const restTicks = 5

var defaultSessions = []mockSession{
	{id: "mock-refactor", cwd: "/home/user/myproject", pattern: "steady", length: 24,
		tools: []string{"Read", "Grep", "Edit", "Write", "Bash", "Edit"}},
	{id: "mock-migrate", cwd: "/home/user/database", pattern: "asks", length: 20, askAt: 10,
		question: "Apply migration 0042_add_index to staging?",
		tools:    []string{"Read", "Bash", "Write"}},
	{id: "mock-feature", cwd: "/home/user/frontend", pattern: "error", length: 30, errAt: 12,
		tools: []string{"Glob", "Read", "Edit", "Bash"}},
	{id: "mock-review", cwd: "/home/user/library", pattern: "asks", length: 14, askAt: 6,
		question: "Found 3 style issues. Fix them now?",
		tools:    []string{"Read", "Grep", "Read"}},
	{id: "mock-tests", cwd: "/home/user/webapp", pattern: "burst", length: 8,
		tools: []string{"Bash", "Bash", "Write"}},
}

// Generator replays scripted session lifecycles.
type Generator struct {
	base     string
	token    string
	interval time.Duration
	logger   *slog.Logger
	sessions []*mockSession
}

func NewGenerator(base, token string, interval time.Duration, logger *slog.Logger) *Generator {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	g := &Generator{base: base, token: token, interval: interval, logger: logger}
	for _, def := range defaultSessions {
		ms := def
		ms.answers = make(chan string, 4)
		g.sessions = append(g.sessions, &ms)
	}
	return g
}

// SessionIDs lists the simulated session ids.
func (g *Generator) SessionIDs() []string {
	ids := make([]string, len(g.sessions))
	for i, ms := range g.sessions {
		ids[i] = ms.id
	}
	return ids
}

// Run attaches one emitter per session and advances every session on each
// tick until ctx is done.
func (g *Generator) Run(ctx context.Context) error {
	grp, ctx := errgroup.WithContext(ctx)

	emitters := make([]Signaler, len(g.sessions))
	for i, ms := range g.sessions {
		em := client.NewEmitter(g.base, g.token, ms.id, ms.handle, g.logger)
		emitters[i] = em
		grp.Go(func() error { return em.Run(ctx) })
	}

	grp.Go(func() error {
		ticker := time.NewTicker(g.interval)
		defer ticker.Stop()
		tick := 0
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				tick++
				for i, ms := range g.sessions {
					g.advance(ms, emitters[i], tick)
				}
			}
		}
	})
	return grp.Wait()
}

func (g *Generator) advance(ms *mockSession, out Signaler, tick int) {
	st, ok := ms.next(tick)
	if !ok {
		return
	}
	if err := out.Signal(st.signalType, st.excerpt, ms.cwd); err != nil {
		g.logger.Warn("mock signal dropped", "session", ms.id, "err", err)
	}
}

// handle receives commands for the session. Only answers to an open
// question matter; anything else is logged by the emitter and ignored.
func (ms *mockSession) handle(_ context.Context, cmd ws.CommandMessage) error {
	select {
	case ms.answers <- cmd.Payload:
		return nil
	default:
		return fmt.Errorf("session %s: answer queue full", ms.id)
	}
}

// next returns the signal for tick, if any. Sessions start a fresh task a
// few ticks after finishing so the simulation never goes quiet.
func (ms *mockSession) next(tick int) (step, bool) {
	if ms.waiting {
		select {
		case answer := <-ms.answers:
			ms.waiting = false
			if answer == ws.DenyPayload {
				ms.finish(tick)
				return step{classify.SignalTaskCompleted, "Stopped at your request."}, true
			}
			return step{classify.SignalProgress, "Continuing with " + ms.tool()}, true
		default:
			return step{}, false
		}
	}

	if ms.completed {
		if tick-ms.doneAt < restTicks {
			return step{}, false
		}
		ms.completed = false
		ms.asked = false
		ms.started = tick
		return step{classify.SignalProgress, "Starting a new task"}, true
	}

	age := tick - ms.started
	switch ms.pattern {
	case "asks":
		if !ms.asked && ms.askAt > 0 && age >= ms.askAt {
			ms.asked = true
			ms.waiting = true
			return step{classify.SignalInputNeeded, ms.question}, true
		}
	case "error":
		if ms.errAt > 0 && age >= ms.errAt {
			ms.finish(tick)
			return step{classify.SignalError, "go build ./...: undefined: handler.Serve"}, true
		}
	case "burst":
		if age%2 == 0 {
			return step{}, false
		}
	}

	if age >= ms.length {
		ms.finish(tick)
		return step{classify.SignalTaskCompleted, fmt.Sprintf("Finished in %s. %d files changed.", ms.cwd, 1+rand.Intn(9))}, true
	}
	return step{classify.SignalProgress, ms.tool()}, true
}

func (ms *mockSession) finish(tick int) {
	ms.completed = true
	ms.doneAt = tick
}

func (ms *mockSession) tool() string {
	if len(ms.tools) == 0 {
		return "Thinking"
	}
	t := ms.tools[ms.toolIdx%len(ms.tools)]
	ms.toolIdx++
	return t
}
