package tui

import (
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"coursedump/pkg/crawl"
)

// EntryState is the outcome of one archived entry
type EntryState int

const (
	EntryWritten EntryState = iota
	EntryOverflowed
	EntrySkipped
	EntryFailed
)

// Entry is one line of the recent activity panel
type Entry struct {
	Time     time.Time
	Position string
	Label    string
	Detail   string
	State    EntryState
}

// LogMessage represents a log entry
type LogMessage struct {
	Time    time.Time
	Level   string
	Message string
	Color   lipgloss.Color
}

// Model is the dashboard state. It is only mutated from the program loop
// through Update; the mutex guards reads from other goroutines.
type Model struct {
	spinner  spinner.Model
	progress progress.Model

	files      int
	overflowed int
	skipped    int
	failures   int
	total      int
	top        int
	current    string
	startTime  time.Time

	recent         []Entry
	maxRecent      int
	logMessages    []LogMessage
	maxLogMessages int

	done   bool
	result *crawl.Result
	err    error

	width    int
	height   int
	showHelp bool

	onQuit func()

	mu sync.RWMutex
}

// NewModel creates a dashboard model; onQuit runs when the user quits
func NewModel(onQuit func()) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(accentCyan)

	p := progress.New(progress.WithDefaultGradient())
	p.Width = 40

	return &Model{
		spinner:        s,
		progress:       p,
		startTime:      time.Now(),
		maxRecent:      8,
		maxLogMessages: 50,
		onQuit:         onQuit,
	}
}

// Init starts the spinner and the refresh tick
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

// RecordWrite adds a persisted file
func (m *Model) RecordWrite(e crawl.WriteEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.files++
	state := EntryWritten
	if e.Written.Overflowed {
		m.overflowed++
		state = EntryOverflowed
	}
	if len(e.Position) > 0 {
		m.top = e.Position[0]
	}
	m.current = e.Node.Label()
	m.pushRecent(Entry{
		Time:     time.Now(),
		Position: e.Position.String(),
		Label:    e.Node.Label(),
		Detail:   e.Written.Path,
		State:    state,
	})
}

// RecordSkip adds an entry that was not dispatched
func (m *Model) RecordSkip(e crawl.SkipEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.skipped++
	m.pushRecent(Entry{
		Time:     time.Now(),
		Position: e.Position.String(),
		Label:    e.Node.Label(),
		Detail:   string(e.Reason),
		State:    EntrySkipped,
	})
}

// RecordFailure adds a failed entry and logs the policy decision
func (m *Model) RecordFailure(e crawl.FailureEvent) {
	m.mu.Lock()
	m.failures++
	detail := e.Decision.String()
	if e.Err != nil {
		detail = e.Err.Error()
	}
	m.pushRecent(Entry{
		Time:     time.Now(),
		Position: e.Position.String(),
		Label:    e.Node.Label(),
		Detail:   detail,
		State:    EntryFailed,
	})
	m.mu.Unlock()

	m.AddLogMessage("ERROR", e.Node.Label()+": "+detail+" ("+e.Decision.String()+")")
}

// SetTotal sets the number of top-level entries
func (m *Model) SetTotal(n int) {
	m.mu.Lock()
	m.total = n
	m.mu.Unlock()
}

// Finish records the result of the traversal
func (m *Model) Finish(result *crawl.Result, err error) {
	m.mu.Lock()
	m.done = true
	m.result = result
	m.err = err
	m.mu.Unlock()

	switch {
	case result != nil && result.Aborted:
		m.AddLogMessage("WARN", "Archive stopped")
	case err != nil:
		m.AddLogMessage("ERROR", err.Error())
	default:
		m.AddLogMessage("SUCCESS", "Archive complete")
	}
}

// AddLogMessage adds a log message
func (m *Model) AddLogMessage(level, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	color := dimWhite
	switch level {
	case "ERROR":
		color = alertRed
	case "WARN":
		color = accentOrange
	case "SUCCESS":
		color = accentGreen
	case "INFO":
		color = accentCyan
	}

	m.logMessages = append(m.logMessages, LogMessage{
		Time:    time.Now(),
		Level:   level,
		Message: message,
		Color:   color,
	})

	if len(m.logMessages) > m.maxLogMessages {
		m.logMessages = m.logMessages[len(m.logMessages)-m.maxLogMessages:]
	}
}

// Done reports whether the traversal has finished
func (m *Model) Done() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.done
}

// Recent returns the recent activity, oldest first
func (m *Model) Recent() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Entry(nil), m.recent...)
}

// Counts returns files written, entries skipped and entries failed
func (m *Model) Counts() (files, skipped, failures int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.files, m.skipped, m.failures
}

// fraction is the share of top-level entries reached; callers hold m.mu
func (m *Model) fraction() float64 {
	if m.total <= 0 {
		return 0
	}
	if m.done && m.result != nil && m.result.Complete {
		return 1
	}
	f := float64(m.top) / float64(m.total)
	if f > 1 {
		f = 1
	}
	return f
}

// pushRecent appends to the activity panel; callers hold m.mu
func (m *Model) pushRecent(e Entry) {
	m.recent = append(m.recent, e)
	if len(m.recent) > m.maxRecent {
		m.recent = m.recent[len(m.recent)-m.maxRecent:]
	}
}
