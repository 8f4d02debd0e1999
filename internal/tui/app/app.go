// Package app is the root Bubble Tea model of the watch TUI.
package app

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/agentping/relay/internal/client"
	"github.com/agentping/relay/internal/session"
	"github.com/agentping/relay/internal/tui/theme"
	"github.com/agentping/relay/internal/tui/views/feed"
	"github.com/agentping/relay/internal/tui/views/status"
	"github.com/agentping/relay/internal/ws"
)

// historyLimit is how many past events are requested on connect.
const historyLimit = 50

// Relay is the viewer connection the model drives. *client.Watcher
// implements it.
type Relay interface {
	Listen(ctx context.Context) tea.Cmd
	ReadLoop() tea.Cmd
	Send(env ws.Envelope) error
	RequestSnapshot() error
	Approve(sessionID string) error
	Deny(sessionID string) error
	Command(sessionID, payload string) error
}

// Model is the root Bubble Tea model.
type Model struct {
	relay  Relay
	ctx    context.Context
	cancel context.CancelFunc

	keys   KeyMap
	width  int
	height int

	sessions map[string]session.Session
	order    []string

	selectedIdx int
	input       textinput.Model
	typing      bool

	statusBar status.Model
	feed      feed.Model

	connected bool
}

func New(relay Relay) Model {
	ctx, cancel := context.WithCancel(context.Background())
	ti := textinput.New()
	ti.Placeholder = "text to type into the session"
	ti.CharLimit = 4096
	return Model{
		relay:     relay,
		ctx:       ctx,
		cancel:    cancel,
		keys:      DefaultKeyMap(),
		sessions:  make(map[string]session.Session),
		input:     ti,
		statusBar: status.New(),
		feed:      feed.New(),
	}
}

// Init starts the relay connection.
func (m Model) Init() tea.Cmd {
	return m.relay.Listen(m.ctx)
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		m.input.Width = msg.Width - 20
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case client.ConnectedMsg:
		m.connected = true
		m.statusBar.Connected = true
		m.statusBar.Dropped = 0
		m.send(ws.Envelope{Type: ws.MsgHistory, Limit: historyLimit})
		return m, m.relay.ReadLoop()

	case client.DisconnectedMsg:
		m.connected = false
		m.statusBar.Connected = false
		if msg.Err != nil {
			m.statusBar.Notice = msg.Err.Error()
		}
		return m, m.relay.Listen(m.ctx)

	case client.SnapshotMsg:
		m.sessions = make(map[string]session.Session, len(msg.Snapshot.Sessions))
		for _, s := range msg.Snapshot.Sessions {
			m.sessions[s.ID] = s
		}
		m.rebuild()
		return m, m.relay.ReadLoop()

	case client.EventMsg:
		if m.apply(msg.Event) {
			m.feed.Add(msg.Event)
			if msg.Event.Announce {
				m.statusBar.Notice = lipgloss.NewStyle().Foreground(theme.ColorAwaiting).Render(
					fmt.Sprintf("%s needs you", msg.Event.SessionID))
			}
			m.rebuild()
		}
		return m, m.relay.ReadLoop()

	case client.BehindMsg:
		// Events were skipped; a fresh snapshot restores a consistent view.
		m.statusBar.Dropped += msg.Dropped
		m.send(ws.Envelope{Type: ws.MsgSnapshot})
		return m, m.relay.ReadLoop()

	case client.SessionRemovedMsg:
		delete(m.sessions, msg.SessionID)
		m.rebuild()
		return m, m.relay.ReadLoop()

	case client.AckMsg:
		if msg.Ack.OK {
			m.statusBar.Notice = fmt.Sprintf("sent to %s", msg.Ack.TargetSessionID)
		} else {
			m.statusBar.Notice = lipgloss.NewStyle().Foreground(theme.ColorDanger).Render(
				fmt.Sprintf("%s: %s", msg.Ack.TargetSessionID, msg.Ack.Error))
		}
		return m, m.relay.ReadLoop()

	case client.HistoryMsg:
		m.feed.Replace(msg.Events)
		return m, m.relay.ReadLoop()

	case client.StatusMsg:
		return m, m.relay.ReadLoop()

	case client.ErrorMsg:
		m.statusBar.Notice = lipgloss.NewStyle().Foreground(theme.ColorDanger).Render(msg.Err.Error())
		return m, m.relay.ReadLoop()
	}

	if m.typing {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

// apply folds an event into the local view. Events no newer than what a
// snapshot already reflected are stale and ignored.
func (m *Model) apply(ev ws.EventMessage) bool {
	s, ok := m.sessions[ev.SessionID]
	if ok && ev.Seq <= s.Seq {
		return false
	}
	if !ok {
		s = session.Session{ID: ev.SessionID, EmitterConnected: true}
	}
	s.State = ev.State
	s.LastEventKind = ev.Kind
	s.LastEventSummary = ev.Summary
	s.LastUpdatedAt = ev.OccurredAt
	s.Seq = ev.Seq
	if ev.Cwd != "" {
		s.Cwd = ev.Cwd
	}
	m.sessions[ev.SessionID] = s
	return true
}

func (m *Model) send(env ws.Envelope) {
	if err := m.relay.Send(env); err != nil {
		m.statusBar.Notice = err.Error()
	}
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.typing {
		switch {
		case key.Matches(msg, m.keys.Escape):
			m.typing = false
			m.input.Blur()
			m.input.Reset()
			return m, nil
		case key.Matches(msg, m.keys.Submit):
			text := strings.TrimSpace(m.input.Value())
			m.typing = false
			m.input.Blur()
			m.input.Reset()
			if id, ok := m.selected(); ok && text != "" {
				m.report(m.relay.Command(id, text))
			}
			return m, nil
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.cancel()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Down):
		if len(m.order) > 0 {
			m.selectedIdx = (m.selectedIdx + 1) % len(m.order)
		}

	case key.Matches(msg, m.keys.Up):
		if len(m.order) > 0 {
			m.selectedIdx = (m.selectedIdx - 1 + len(m.order)) % len(m.order)
		}

	case key.Matches(msg, m.keys.Approve):
		if id, ok := m.selected(); ok {
			m.report(m.relay.Approve(id))
		}

	case key.Matches(msg, m.keys.Deny):
		if id, ok := m.selected(); ok {
			m.report(m.relay.Deny(id))
		}

	case key.Matches(msg, m.keys.Command):
		if _, ok := m.selected(); ok {
			m.typing = true
			return m, m.input.Focus()
		}

	case key.Matches(msg, m.keys.History):
		m.send(ws.Envelope{Type: ws.MsgHistory, Limit: historyLimit})

	case key.Matches(msg, m.keys.FeedUp):
		m.feed.ScrollUp(5)

	case key.Matches(msg, m.keys.FeedDown):
		m.feed.ScrollDown(5)

	case key.Matches(msg, m.keys.Resync):
		m.statusBar.Dropped = 0
		m.report(m.relay.RequestSnapshot())
	}
	return m, nil
}

func (m *Model) report(err error) {
	if err != nil {
		m.statusBar.Notice = lipgloss.NewStyle().Foreground(theme.ColorDanger).Render(err.Error())
	}
}

func (m Model) selected() (string, bool) {
	if m.selectedIdx < 0 || m.selectedIdx >= len(m.order) {
		return "", false
	}
	return m.order[m.selectedIdx], true
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	sections := []string{m.statusBar.View()}
	if !m.connected {
		sections = append(sections, lipgloss.NewStyle().Foreground(theme.ColorDanger).Bold(true).
			Render("  DISCONNECTED  Reconnecting to relay..."))
	}
	sections = append(sections, m.renderSessions())

	feedLines := m.height - len(m.order) - 10
	if feedLines < 3 {
		feedLines = 3
	}
	sections = append(sections,
		theme.StyleHeader.Render("─── EVENTS ───"),
		m.feed.View(m.width, feedLines),
	)

	if m.typing {
		sections = append(sections, "> "+m.input.View())
	} else {
		sections = append(sections, theme.StyleDimmed.Render(
			"  j/k:select  y:approve  n:deny  c:send text  h:history  pgup/pgdn:scroll  r:resync  q:quit"))
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderSessions() string {
	lines := []string{theme.StyleHeader.Render("─── SESSIONS ───")}
	if len(m.order) == 0 {
		lines = append(lines, theme.StyleDimmed.Render("  No sessions reporting"))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}
	for i, id := range m.order {
		s := m.sessions[id]
		prefix := "  "
		if i == m.selectedIdx {
			prefix = "> "
		}
		color := theme.StateColor(s.State)
		glyph := lipgloss.NewStyle().Foreground(color).Render(theme.StateGlyph(s.State))
		name := lipgloss.NewStyle().Foreground(color).Width(24).Render(truncate(id, 24))
		state := lipgloss.NewStyle().Foreground(color).Width(15).Render(s.State.String())
		link := ""
		if !s.EmitterConnected {
			link = theme.StyleDimmed.Render(" (detached)")
		}
		summary := truncate(firstLine(s.LastEventSummary), max(m.width-60, 10))
		lines = append(lines, prefix+glyph+" "+name+" "+state+" "+summary+link)
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// rebuild re-sorts sessions so those needing the user come first and
// refreshes the counts.
func (m *Model) rebuild() {
	prev, _ := m.selected()

	all := make([]session.Session, 0, len(m.sessions))
	m.order = make([]string, 0, len(m.sessions))
	for id, s := range m.sessions {
		m.order = append(m.order, id)
		all = append(all, s)
	}
	sort.Slice(m.order, func(i, j int) bool {
		si, sj := m.sessions[m.order[i]], m.sessions[m.order[j]]
		if ri, rj := stateRank(si.State), stateRank(sj.State); ri != rj {
			return ri < rj
		}
		if !si.LastUpdatedAt.Equal(sj.LastUpdatedAt) {
			return si.LastUpdatedAt.After(sj.LastUpdatedAt)
		}
		return si.ID < sj.ID
	})

	m.selectedIdx = 0
	for i, id := range m.order {
		if id == prev {
			m.selectedIdx = i
			break
		}
	}
	m.statusBar.Counts = session.CountStates(all)
}

func stateRank(s session.State) int {
	switch s {
	case session.AwaitingInput:
		return 0
	case session.ErrorState:
		return 1
	case session.Busy:
		return 2
	default:
		return 3
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
