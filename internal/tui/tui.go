// Package tui implements the interactive terminal dashboard for limmat
// watch: a live grid of tests by revision, subscribed to the StatusBus.
// Structured the way baiirun-aetherflow's dashboard polls its daemon — a
// bubbletea Model driven by Cmds that each produce one message and queue
// the next — except the source of truth here is a StatusBus subscription
// channel instead of a poll timer.
package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"limmat/internal/statusbus"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	greenStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	yellowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	redStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	cyanStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
)

// Config holds the parameters the TUI needs to run.
type Config struct {
	Bus *statusbus.Bus
}

// busEventMsg wraps one StatusBus event for bubbletea's message loop.
type busEventMsg statusbus.Event

// busClosedMsg signals the subscription channel was closed (the Bus
// dropped this subscriber, or the scheduler shut down).
type busClosedMsg struct{}

// Model is the bubbletea model for the watch dashboard.
type Model struct {
	sub     <-chan statusbus.Event
	cells   map[statusbus.Key]statusbus.Cell
	spinner spinner.Model
	width   int
	height  int
	closed  bool
}

// New constructs a Model subscribed to cfg.Bus. The caller is responsible
// for calling cfg.Bus.Unsubscribe once the program exits; Run does this
// automatically.
func New(cfg Config) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	// Left unstyled: cellLabel applies cyanStyle to the whole padded cell
	// label, and padRight must count plain runes, not ANSI escapes.
	return Model{
		sub:     cfg.Bus.Subscribe(),
		cells:   make(map[statusbus.Key]statusbus.Cell),
		spinner: sp,
	}
}

func waitForEvent(sub <-chan statusbus.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-sub
		if !ok {
			return busClosedMsg{}
		}
		return busEventMsg(ev)
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.sub), m.spinner.Tick)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case busEventMsg:
		if msg.Snapshot != nil {
			m.cells = msg.Snapshot
		} else if msg.Transition != nil {
			m.cells[msg.Transition.Key] = *msg.Transition
		}
		return m, waitForEvent(m.sub)

	case busClosedMsg:
		m.closed = true
		return m, nil
	}

	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString("\n  ")
	b.WriteString(titleStyle.Render("limmat"))
	if m.closed {
		b.WriteString("  " + redStyle.Render("disconnected from scheduler"))
	}
	b.WriteString("\n\n")
	b.WriteString(m.viewGrid())
	b.WriteString("\n  " + dimStyle.Render("q quit") + "\n")
	return b.String()
}

// viewGrid renders tests as rows and revisions as columns. Both are sorted
// lexically (revisions by commit id), not by the watched range's commit
// order, which the cell map does not carry.
func (m Model) viewGrid() string {
	if len(m.cells) == 0 {
		return "  " + dimStyle.Render("waiting for the first range update...") + "\n"
	}

	tests := make(map[string]bool)
	revisions := make(map[string]bool)
	for k := range m.cells {
		tests[k.Test] = true
		revisions[k.Revision] = true
	}
	testNames := sortedKeys(tests)
	revNames := sortedKeys(revisions)

	var b strings.Builder
	b.WriteString("  " + headerStyle.Render(padRight("TEST", 16)))
	for _, r := range revNames {
		b.WriteString(" " + headerStyle.Render(padRight(shortRev(r), 10)))
	}
	b.WriteString("\n")

	for _, test := range testNames {
		b.WriteString("  " + padRight(test, 16))
		for _, rev := range revNames {
			cell, ok := m.cells[statusbus.Key{Test: test, Revision: rev}]
			label, style := cellLabel(cell, ok, m.spinner.View())
			b.WriteString(" " + style.Render(padRight(label, 10)))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// cellLabel returns a cell's plain-text label and the style to render it
// with. Padding is applied to the plain label before styling (not after)
// so the style's ANSI escapes never get counted as display-width runes.
// frame is the spinner's current plain-text glyph, used for Running cells.
func cellLabel(c statusbus.Cell, ok bool, frame string) (string, lipgloss.Style) {
	if !ok {
		return "-", dimStyle
	}
	switch c.State {
	case statusbus.Blocked:
		return "blocked", dimStyle
	case statusbus.Pending:
		return "pending", yellowStyle
	case statusbus.Running:
		return frame + " running", cyanStyle
	case statusbus.Canceled:
		return "canceled", dimStyle
	case statusbus.Done:
		if c.OutcomeOK {
			return "ok", greenStyle
		}
		return fmt.Sprintf("fail(%d)", c.ExitCode), redStyle
	default:
		return "?", dimStyle
	}
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func shortRev(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

func padRight(s string, width int) string {
	runes := []rune(s)
	if len(runes) >= width {
		return string(runes[:width])
	}
	return s + strings.Repeat(" ", width-len(runes))
}

// Run starts the TUI program in the alternate screen buffer and blocks
// until the user quits. The StatusBus subscription is released once the
// program exits.
func Run(cfg Config) error {
	m := New(cfg)
	defer cfg.Bus.Unsubscribe(m.sub)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
