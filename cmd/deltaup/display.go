package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/reflow/wordwrap"
)

const (
	displayLogLines = 6
	displayWidth    = 72
)

type eventKind int

const (
	eventCurrent eventKind = iota
	eventNewest
	eventLog
	eventProgress
	eventCompleted
)

type displayEvent struct {
	kind    eventKind
	text    string
	percent int
	ok      bool
}

type eventMsg displayEvent

// displayModel is the bubbletea model of a running update.
type displayModel struct {
	spinner  spinner.Model
	progress progress.Model

	current     string
	newest      string
	status      string
	lines       []string
	downloading bool
	stopping    bool
	finished    bool
	ok          bool
	width       int

	events chan displayEvent
	cancel func()
}

func newDisplayModel(cancel func()) *displayModel {
	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = spinnerStyle

	p := progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(40),
	)

	if cancel == nil {
		cancel = func() {}
	}
	return &displayModel{
		spinner:  s,
		progress: p,
		status:   "Checking for updates",
		width:    displayWidth,
		events:   make(chan displayEvent, 64),
		cancel:   cancel,
	}
}

func (m *displayModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.waitForEvent(),
	)
}

func (m *displayModel) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-m.events)
	}
}

func (m *displayModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if msg.Width > 4 && msg.Width-4 < displayWidth {
			m.width = msg.Width - 4
		} else {
			m.width = displayWidth
		}
		return m, nil

	case eventMsg:
		cmd := m.apply(displayEvent(msg))
		if m.finished {
			return m, tea.Quit
		}
		return m, tea.Batch(cmd, m.waitForEvent())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		m.progress = progressModel.(progress.Model)
		return m, cmd

	case tea.KeyMsg:
		// The run stops after the version in progress.
		if msg.String() == "ctrl+c" && !m.stopping {
			m.stopping = true
			m.cancel()
		}
	}
	return m, nil
}

func (m *displayModel) apply(ev displayEvent) tea.Cmd {
	switch ev.kind {
	case eventCurrent:
		m.current = ev.text
	case eventNewest:
		m.newest = ev.text
	case eventLog:
		m.status = ev.text
		m.lines = append(m.lines, ev.text)
		if len(m.lines) > displayLogLines {
			m.lines = m.lines[len(m.lines)-displayLogLines:]
		}
		if !strings.HasPrefix(ev.text, "fetching") {
			m.downloading = false
		}
	case eventProgress:
		m.downloading = ev.percent < 100
		return m.progress.SetPercent(float64(ev.percent) / 100)
	case eventCompleted:
		m.finished = true
		m.ok = ev.ok
	}
	return nil
}

func (m *displayModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("deltaup"))
	if m.current != "" {
		b.WriteString(" ")
		b.WriteString(dimStyle.Render("installed " + m.current))
	}
	if m.newest != "" {
		b.WriteString(dimStyle.Render(" → newest " + m.newest))
	}
	b.WriteString("\n\n")

	switch {
	case m.finished && m.ok:
		b.WriteString(successStyle.Render("Update finished"))
	case m.finished:
		b.WriteString(errorStyle.Render("Update failed"))
	case m.downloading:
		b.WriteString(m.progress.View())
	default:
		b.WriteString(m.spinner.View())
		b.WriteString(" ")
		b.WriteString(textStyle.Render(ansi.Truncate(m.status, m.width-2, "…")))
	}
	if m.stopping && !m.finished {
		b.WriteString("\n")
		b.WriteString(dimStyle.Render("stopping after the current version"))
	}

	if len(m.lines) > 0 {
		b.WriteString("\n\n")
		for _, line := range m.lines {
			b.WriteString(dimStyle.Render(wordwrap.String(line, m.width)))
			b.WriteString("\n")
		}
	}
	return containerStyle.Render(b.String())
}

// UpdateDisplay renders update events in the terminal. It runs the bubbletea
// program on its own goroutine; the updater feeds it through a buffered
// channel.
type UpdateDisplay struct {
	program *tea.Program
	model   *displayModel
	done    chan struct{}
	mu      sync.Mutex
	stopped bool
}

// NewUpdateDisplay starts the display on w. cancel is called when the user
// presses ctrl+c.
func NewUpdateDisplay(w io.Writer, cancel func()) *UpdateDisplay {
	model := newDisplayModel(cancel)

	program := tea.NewProgram(
		model,
		tea.WithOutput(w),
		tea.WithoutSignalHandler(),
	)

	d := &UpdateDisplay{
		program: program,
		model:   model,
		done:    make(chan struct{}),
	}
	go func() {
		_, _ = program.Run()
		close(d.done)
	}()
	return d
}

func (d *UpdateDisplay) CurrentVersion(version string) {
	d.send(displayEvent{kind: eventCurrent, text: version})
}

func (d *UpdateDisplay) NewestVersion(version string) {
	d.send(displayEvent{kind: eventNewest, text: version})
}

func (d *UpdateDisplay) Log(line string) {
	d.send(displayEvent{kind: eventLog, text: line})
}

// Progress drops intermediate percentages when the display lags behind.
func (d *UpdateDisplay) Progress(percent int) {
	ev := displayEvent{kind: eventProgress, percent: percent}
	if percent >= 100 {
		d.send(ev)
		return
	}
	select {
	case d.model.events <- ev:
	default:
	}
}

func (d *UpdateDisplay) Completed(ok bool) {
	d.send(displayEvent{kind: eventCompleted, ok: ok})
}

func (d *UpdateDisplay) send(ev displayEvent) {
	select {
	case d.model.events <- ev:
	case <-d.done:
	}
}

// Stop waits for the display to draw its final frame and exit.
func (d *UpdateDisplay) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.mu.Unlock()

	select {
	case <-d.done:
	case <-time.After(500 * time.Millisecond):
		d.program.Kill()
		<-d.done
	}
}

// lineSink prints update events as plain lines, for logs and pipes.
type lineSink struct {
	w    io.Writer
	last int
}

func newLineSink(w io.Writer) *lineSink {
	return &lineSink{w: w, last: -1}
}

func (s *lineSink) CurrentVersion(string) {}
func (s *lineSink) NewestVersion(string)  {}

func (s *lineSink) Log(line string) {
	_, _ = fmt.Fprintln(s.w, line)
}

// Progress prints every tenth percent once per download.
func (s *lineSink) Progress(percent int) {
	step := percent / 10 * 10
	if percent < s.last {
		s.last = -1
	}
	if step <= s.last {
		return
	}
	s.last = step
	_, _ = fmt.Fprintf(s.w, "download %d%%\n", step)
	if percent >= 100 {
		s.last = -1
	}
}

func (s *lineSink) Completed(ok bool) {
	if ok {
		_, _ = fmt.Fprintln(s.w, "update finished")
		return
	}
	_, _ = fmt.Fprintln(s.w, "update failed")
}
