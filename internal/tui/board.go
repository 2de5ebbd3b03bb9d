// Package tui provides Bubble Tea models for nwf.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wiheto/niworkflows/internal/engine"
	"github.com/wiheto/niworkflows/internal/scheduler"
)

// BoardModel is a Bubble Tea model showing live job states while a
// pipeline runs. Events arrive from the engine's Notify callback via
// a channel; the run itself happens in a separate goroutine.
type BoardModel struct {
	// Pipeline is the pipeline name shown in the header.
	Pipeline string

	// Jobs is the display order (dependency order).
	Jobs []string

	// Events delivers job state changes from the engine.
	Events <-chan engine.Event

	// Done delivers the final result once the run finishes.
	Done <-chan BoardDoneMsg

	// Cancel stops the run when the user quits mid-flight.
	Cancel func()

	states   map[string]scheduler.State
	failures map[string]string
	spinner  spinner.Model
	started  time.Time
	elapsed  time.Duration
	result   *engine.RunResult
	err      error
	finished bool
	canceled bool

	headerStyle  lipgloss.Style
	successStyle lipgloss.Style
	errorStyle   lipgloss.Style
	runningStyle lipgloss.Style
	skippedStyle lipgloss.Style
	pendingStyle lipgloss.Style
}

// BoardDoneMsg is sent when the engine run returns.
type BoardDoneMsg struct {
	Result *engine.RunResult
	Err    error
}

// eventMsg wraps an engine event for the update loop.
type eventMsg engine.Event

// tickMsg drives the elapsed clock.
type tickMsg time.Time

// NewBoardModel creates a board for the given jobs in display order.
func NewBoardModel(pipelineName string, jobs []string, events <-chan engine.Event, done <-chan BoardDoneMsg, cancel func()) BoardModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("yellow"))

	states := make(map[string]scheduler.State, len(jobs))
	for _, j := range jobs {
		states[j] = scheduler.StatePending
	}

	return BoardModel{
		Pipeline: pipelineName,
		Jobs:     jobs,
		Events:   events,
		Done:     done,
		Cancel:   cancel,
		states:   states,
		failures: make(map[string]string),
		spinner:  sp,
		started:  time.Now(),

		headerStyle:  lipgloss.NewStyle().Bold(true),
		successStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("green")),
		errorStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("red")),
		runningStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("yellow")),
		skippedStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("242")),
		pendingStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
	}
}

// Result returns the run outcome after the program exits.
func (m BoardModel) Result() (*engine.RunResult, error) {
	return m.result, m.err
}

// Canceled reports whether the user quit before the run finished.
func (m BoardModel) Canceled() bool { return m.canceled }

// Init implements tea.Model.
func (m BoardModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForEvent(), m.waitForDone(), tick())
}

func (m BoardModel) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.Events
		if !ok {
			return nil
		}
		return eventMsg(ev)
	}
}

func (m BoardModel) waitForDone() tea.Cmd {
	return func() tea.Msg {
		return <-m.Done
	}
}

func tick() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m BoardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if !m.finished {
				m.canceled = true
				if m.Cancel != nil {
					m.Cancel()
				}
				// Keep the program alive until the engine drains
				// running jobs and sends the final result.
				return m, nil
			}
			return m, tea.Quit
		}

	case eventMsg:
		m.states[msg.Job] = msg.State
		if msg.Result != nil && msg.Result.Err != nil {
			m.failures[msg.Job] = msg.Result.Err.Error()
		}
		return m, m.waitForEvent()

	case BoardDoneMsg:
		m.finished = true
		m.result = msg.Result
		m.err = msg.Err
		m.elapsed = time.Since(m.started)
		if m.result != nil {
			for _, j := range m.result.Jobs {
				m.states[j.Name] = j.State
			}
		}
		return m, tea.Quit

	case tickMsg:
		if !m.finished {
			m.elapsed = time.Since(m.started)
			return m, tick()
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View implements tea.Model.
func (m BoardModel) View() string {
	var b strings.Builder

	header := fmt.Sprintf(" %s  %s", m.Pipeline, m.elapsed.Truncate(100*time.Millisecond))
	if m.canceled && !m.finished {
		header += "  (canceling...)"
	}
	b.WriteString(m.headerStyle.Render(header))
	b.WriteString("\n\n")

	for _, job := range m.Jobs {
		b.WriteString(" ")
		b.WriteString(m.jobLine(job))
		b.WriteString("\n")
	}

	if m.finished {
		b.WriteString("\n")
		b.WriteString(m.summaryLine())
		b.WriteString("\n")
	} else {
		b.WriteString("\n")
		b.WriteString(m.pendingStyle.Render(" q to cancel"))
		b.WriteString("\n")
	}

	return b.String()
}

func (m BoardModel) jobLine(job string) string {
	state := m.states[job]
	switch state {
	case scheduler.StateSucceeded:
		return m.successStyle.Render("✓ " + job)
	case scheduler.StateFailed:
		line := "✗ " + job
		if reason := m.failures[job]; reason != "" {
			line += "  " + reason
		}
		return m.errorStyle.Render(line)
	case scheduler.StateSkipped:
		return m.skippedStyle.Render("- " + job + "  skipped")
	case scheduler.StateRunning:
		return m.runningStyle.Render(m.spinner.View() + job)
	default:
		return m.pendingStyle.Render("· " + job)
	}
}

func (m BoardModel) summaryLine() string {
	switch {
	case m.err != nil:
		return m.errorStyle.Render(" error: " + m.err.Error())
	case m.result == nil:
		return ""
	case m.result.Canceled:
		return m.errorStyle.Render(" canceled")
	case m.result.Success:
		return m.successStyle.Render(fmt.Sprintf(" success in %s", m.result.Duration.Truncate(time.Millisecond)))
	default:
		return m.errorStyle.Render(fmt.Sprintf(" failed in %s", m.result.Duration.Truncate(time.Millisecond)))
	}
}
