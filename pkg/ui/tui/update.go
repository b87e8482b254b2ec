package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"coursedump/pkg/crawl"
)

// WriteMsg carries a persisted file
type WriteMsg crawl.WriteEvent

// SkipMsg carries an entry that was not dispatched
type SkipMsg crawl.SkipEvent

// FailureMsg carries a failed entry
type FailureMsg crawl.FailureEvent

// TotalMsg sets the number of top-level entries
type TotalMsg int

// DoneMsg is sent when the traversal returns
type DoneMsg struct {
	Result *crawl.Result
	Err    error
}

// LogMsg is sent to add a log message
type LogMsg struct {
	Level   string
	Message string
}

// TickMsg is sent periodically to refresh elapsed time
type TickMsg time.Time

// Update handles all messages and updates the model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.mu.Lock()
		m.width = msg.Width
		m.height = msg.Height
		m.mu.Unlock()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case TickMsg:
		if m.Done() {
			return m, nil
		}
		return m, tickCmd()

	case WriteMsg:
		m.RecordWrite(crawl.WriteEvent(msg))
		return m, nil

	case SkipMsg:
		m.RecordSkip(crawl.SkipEvent(msg))
		return m, nil

	case FailureMsg:
		m.RecordFailure(crawl.FailureEvent(msg))
		return m, nil

	case TotalMsg:
		m.SetTotal(int(msg))
		return m, nil

	case DoneMsg:
		m.Finish(msg.Result, msg.Err)
		return m, tea.Quit

	case LogMsg:
		m.AddLogMessage(msg.Level, msg.Message)
		return m, nil
	}

	return m, nil
}

// handleKeyPress handles keyboard input
func (m *Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "Q", "ctrl+c":
		if m.onQuit != nil && !m.Done() {
			m.onQuit()
		}
		return m, tea.Quit

	case "?":
		m.mu.Lock()
		m.showHelp = !m.showHelp
		m.mu.Unlock()
		return m, nil

	case "ctrl+l":
		m.mu.Lock()
		m.logMessages = nil
		m.mu.Unlock()
		return m, nil
	}

	return m, nil
}

// tickCmd returns a command that sends a tick message
func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}
