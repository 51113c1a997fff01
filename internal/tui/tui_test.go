package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"limmat/internal/statusbus"
)

func TestUpdate_SnapshotPopulatesCells(t *testing.T) {
	bus := statusbus.New()
	bus.Publish(statusbus.Cell{Key: statusbus.Key{Test: "build", Revision: "r1"}, State: statusbus.Running})

	m := New(Config{Bus: bus})
	defer bus.Unsubscribe(m.sub)

	updated, cmd := m.Update(waitOne(t, m.sub))
	model := updated.(Model)
	if len(model.cells) != 1 {
		t.Fatalf("expected 1 cell after snapshot, got %d", len(model.cells))
	}
	if cmd == nil {
		t.Error("expected Update to queue another waitForEvent Cmd")
	}
}

func TestUpdate_TransitionAppliesToExistingCell(t *testing.T) {
	bus := statusbus.New()
	m := New(Config{Bus: bus})
	defer bus.Unsubscribe(m.sub)

	model, _ := m.Update(waitOne(t, m.sub)) // initial empty snapshot
	m = model.(Model)

	bus.Publish(statusbus.Cell{Key: statusbus.Key{Test: "build", Revision: "r1"}, State: statusbus.Done, OutcomeOK: true})
	model, _ = m.Update(waitOne(t, m.sub))
	m = model.(Model)

	cell, ok := m.cells[statusbus.Key{Test: "build", Revision: "r1"}]
	if !ok || cell.State != statusbus.Done || !cell.OutcomeOK {
		t.Errorf("cell = %+v, ok=%v, want Done/success", cell, ok)
	}
}

func TestUpdate_QuitOnKeypress(t *testing.T) {
	m := New(Config{Bus: statusbus.New()})
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("expected a Cmd for the quit key")
	}
	msg := cmd()
	if _, ok := msg.(tea.QuitMsg); !ok {
		t.Errorf("expected tea.QuitMsg, got %T", msg)
	}
}

func TestView_RendersGridWithTestAndRevision(t *testing.T) {
	bus := statusbus.New()
	bus.Publish(statusbus.Cell{Key: statusbus.Key{Test: "build", Revision: "abcdef12"}, State: statusbus.Running})
	m := New(Config{Bus: bus})
	defer bus.Unsubscribe(m.sub)

	model, _ := m.Update(waitOne(t, m.sub))
	m = model.(Model)

	view := m.View()
	if !strings.Contains(view, "build") {
		t.Errorf("view missing test name: %q", view)
	}
	if !strings.Contains(view, "abcdef12") {
		t.Errorf("view missing revision: %q", view)
	}
}

func TestView_EmptyGridShowsWaitingMessage(t *testing.T) {
	m := New(Config{Bus: statusbus.New()})
	if !strings.Contains(m.View(), "waiting") {
		t.Error("expected a waiting message before the first range update")
	}
}

func waitOne(t *testing.T, sub <-chan statusbus.Event) tea.Msg {
	t.Helper()
	cmd := waitForEvent(sub)
	return cmd()
}
