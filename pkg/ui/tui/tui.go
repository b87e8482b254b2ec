// Package tui renders a live dashboard of a running crawl with bubbletea.
package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"coursedump/pkg/crawl"
)

// TUI is a crawl.Observer that forwards events to a bubbletea program
type TUI struct {
	program *tea.Program
	model   *Model
}

// New creates a dashboard. onQuit is called when the user quits before the
// traversal finished; it should cancel the crawl context.
func New(onQuit func(), opts ...tea.ProgramOption) *TUI {
	model := NewModel(onQuit)
	if len(opts) == 0 {
		opts = []tea.ProgramOption{tea.WithAltScreen()}
	}

	return &TUI{
		program: tea.NewProgram(model, opts...),
		model:   model,
	}
}

// Start runs the program until the traversal finishes or the user quits
func (t *TUI) Start() error {
	_, err := t.program.Run()
	return err
}

// Stop stops the program
func (t *TUI) Stop() {
	t.program.Quit()
}

// Model returns the dashboard state
func (t *TUI) Model() *Model {
	return t.model
}

// Send sends a message to the program; it returns once the program has
// taken it or has exited
func (t *TUI) Send(msg tea.Msg) {
	if t.program != nil {
		t.program.Send(msg)
	}
}

func (t *TUI) OnWrite(e crawl.WriteEvent) {
	t.Send(WriteMsg(e))
}

func (t *TUI) OnSkip(e crawl.SkipEvent) {
	t.Send(SkipMsg(e))
}

func (t *TUI) OnFailure(e crawl.FailureEvent) {
	t.Send(FailureMsg(e))
}

// SetTotal sets the number of top-level entries
func (t *TUI) SetTotal(n int) {
	t.Send(TotalMsg(n))
}

// Finish reports the traversal result; the program exits after showing it
func (t *TUI) Finish(result *crawl.Result, err error) {
	t.Send(DoneMsg{Result: result, Err: err})
}

// Log sends a log message to the dashboard
func (t *TUI) Log(level, format string, args ...interface{}) {
	t.Send(LogMsg{Level: level, Message: fmt.Sprintf(format, args...)})
}

// LogInfo logs an info message
func (t *TUI) LogInfo(format string, args ...interface{}) {
	t.Log("INFO", format, args...)
}

// LogWarning logs a warning message
func (t *TUI) LogWarning(format string, args ...interface{}) {
	t.Log("WARN", format, args...)
}
