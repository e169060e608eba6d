// Package monitor implements a read-only Bubble Tea view of a running
// dispatcher's live counters: connection count, pause/resume activity,
// and recv-path breakdown, subscribed to internal/events.
package monitor

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/mayfield/longerpull/internal/events"
	"github.com/mayfield/longerpull/internal/lpconn"
	"github.com/mayfield/longerpull/internal/tui/theme"
)

// Snapshotter is the subset of *internal/dispatch.Server the monitor
// polls for its per-connection table.
type Snapshotter interface {
	Snapshot() []lpconn.Snapshot
	ConnCount() int
}

type tickMsg time.Time

type eventMsg events.Event

// Model is the Bubble Tea model for `longerpulld monitor`.
type Model struct {
	server Snapshotter
	bus    *events.Bus
	theme  theme.Theme

	width, height int

	connOpened int64
	connClosed int64
	pauses     int64
	resumes    int64
	dispatched int64
	errors     int64

	connTable viewport.Model

	events <-chan events.Event
}

// New returns a Model that polls server and subscribes to bus.
func New(server Snapshotter, bus *events.Bus) Model {
	ch := make(chan events.Event, 100)
	bus.Subscribe(func(e events.Event) {
		ch <- e
	})
	return Model{
		server:    server,
		bus:       bus,
		theme:     theme.New(),
		connTable: viewport.New(0, 0),
		events:    ch,
	}
}

func tick() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		e, ok := <-m.events
		if !ok {
			return nil
		}
		return eventMsg(e)
	}
}

// Init starts the polling tick and the event-bus subscription.
func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(), m.waitForEvent())
}

// Update handles ticks, bus events, resizes, and quit keys.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.connTable.Width = max(m.width, 40) - 4
		m.connTable.Height = max(m.height-10, 3)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.connTable, cmd = m.connTable.Update(msg)
		return m, cmd

	case tickMsg:
		return m, tick()

	case eventMsg:
		m.applyEvent(events.Event(msg))
		return m, m.waitForEvent()
	}
	return m, nil
}

func (m *Model) applyEvent(e events.Event) {
	switch e.Type() {
	case events.EventConnectionOpened:
		m.connOpened++
	case events.EventConnectionClosed:
		m.connClosed++
	case events.EventPaused:
		m.pauses++
	case events.EventResumed:
		m.resumes++
	case events.EventMessageDispatched:
		m.dispatched++
	case events.EventHandlerError:
		m.errors++
	}
}

// View renders the stats screen.
func (m Model) View() string {
	var b strings.Builder

	summary := fmt.Sprintf(
		"live conns:   %d\nopened total: %d\nclosed total: %d\npauses:       %d\nresumes:      %d\ndispatched:   %d\nhandler errs: %d",
		m.server.ConnCount(), m.connOpened, m.connClosed, m.pauses, m.resumes, m.dispatched, m.errors,
	)
	b.WriteString(m.theme.RenderPane("longerpulld", summary, max(m.width, 40), true))
	b.WriteString("\n")

	snaps := m.server.Snapshot()
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Ident < snaps[j].Ident })

	var rows strings.Builder
	rows.WriteString(fmt.Sprintf("%-6s %-22s %-8s %-6s %-8s %-8s %-8s %-8s\n",
		"ID", "PEER", "STATE", "QLEN", "DIRECT", "ENQ", "DEQ", "WAIT"))
	for _, s := range snaps {
		state := "open"
		if s.Paused {
			state = "paused"
		}
		rows.WriteString(fmt.Sprintf("%-6d %-22s %-8s %-6d %-8d %-8d %-8d %-8d\n",
			s.Ident, s.PeerAddr, m.theme.StatusPill(state), s.QueueLength,
			s.RecvDirect, s.RecvEnqueue, s.RecvDequeue, s.RecvWait))
	}
	if len(snaps) == 0 {
		rows.WriteString(m.theme.Faint.Render("(no live connections)") + "\n")
	}

	m.connTable.SetContent(strings.TrimRight(rows.String(), "\n"))
	if m.connTable.Width == 0 {
		m.connTable.Width = max(m.width, 40) - 4
	}
	if m.connTable.Height == 0 {
		m.connTable.Height = max(len(snaps)+2, 3)
	}

	b.WriteString(m.theme.RenderPane("connections", m.connTable.View(), max(m.width, 40), false))
	b.WriteString("\n")
	b.WriteString(m.theme.StatusBar.Render("↑/↓ to scroll · q to quit"))
	return b.String()
}
