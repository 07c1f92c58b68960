package main

import (
	"bytes"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/go-cmp/cmp"
)

func TestLineSinkProgressSteps(t *testing.T) {
	var buf bytes.Buffer
	s := newLineSink(&buf)
	for _, p := range []int{0, 3, 9, 10, 42, 47, 99, 100} {
		s.Progress(p)
	}
	// A second download starts over.
	s.Progress(0)
	s.Progress(100)

	want := []string{
		"download 0%", "download 10%", "download 40%", "download 90%", "download 100%",
		"download 0%", "download 100%",
	}
	got := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("progress lines mismatch (-want +got):\n%s", diff)
	}
}

func TestLineSinkCompleted(t *testing.T) {
	var buf bytes.Buffer
	s := newLineSink(&buf)
	s.Log("fetching package 1.1")
	s.Completed(false)
	if got := buf.String(); got != "fetching package 1.1\nupdate failed\n" {
		t.Errorf("output = %q", got)
	}
}

func TestDisplayModelEvents(t *testing.T) {
	cancelled := false
	m := newDisplayModel(func() { cancelled = true })

	feed := func(ev displayEvent) tea.Cmd {
		t.Helper()
		_, cmd := m.Update(eventMsg(ev))
		return cmd
	}
	feed(displayEvent{kind: eventCurrent, text: "1.0"})
	feed(displayEvent{kind: eventNewest, text: "2.0"})
	for i := 0; i < displayLogLines+2; i++ {
		feed(displayEvent{kind: eventLog, text: "line"})
	}
	feed(displayEvent{kind: eventLog, text: "fetching package 2.0"})
	feed(displayEvent{kind: eventProgress, percent: 40})

	if !m.downloading {
		t.Error("progress below 100 should show the progress bar")
	}
	if len(m.lines) != displayLogLines {
		t.Errorf("kept %d log lines, want %d", len(m.lines), displayLogLines)
	}
	view := m.View()
	for _, want := range []string{"installed 1.0", "newest 2.0", "fetching package 2.0"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}

	m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if !cancelled || !m.stopping {
		t.Error("ctrl+c should cancel the run")
	}
	if !strings.Contains(m.View(), "stopping after the current version") {
		t.Error("view should announce the pending stop")
	}

	if cmd := feed(displayEvent{kind: eventCompleted, ok: true}); cmd == nil {
		t.Fatal("completion should quit the program")
	}
	if !m.finished || !strings.Contains(m.View(), "Update finished") {
		t.Errorf("view after completion:\n%s", m.View())
	}
}

func TestDisplayModelFailure(t *testing.T) {
	m := newDisplayModel(nil)
	m.Update(eventMsg(displayEvent{kind: eventCompleted, ok: false}))
	if !strings.Contains(m.View(), "Update failed") {
		t.Errorf("view:\n%s", m.View())
	}
}
