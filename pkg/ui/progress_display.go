package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"coursedump/pkg/crawl"
)

// Progress is a crawl.Observer that keeps a single status line up to date.
// In verbose mode every event gets its own line instead.
type Progress struct {
	mu      sync.Mutex
	out     io.Writer
	stats   *Stats
	verbose bool
	current string
	total   int
}

// NewProgress creates a progress display writing to out
func NewProgress(out io.Writer, verbose bool) *Progress {
	return &Progress{out: out, stats: NewStats(), verbose: verbose}
}

// SetTotal sets the number of top-level entries, enabling the bar
func (p *Progress) SetTotal(n int) {
	p.mu.Lock()
	p.total = n
	p.mu.Unlock()
}

// Stats returns the counters behind the display
func (p *Progress) Stats() *Stats {
	return p.stats
}

func (p *Progress) OnWrite(e crawl.WriteEvent) {
	p.stats.addFile(e.Written.Overflowed)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = e.Node.Label()
	if p.verbose {
		mark := Green("✓")
		if e.Written.Overflowed {
			mark = Yellow("↪")
		}
		fmt.Fprintf(p.out, "%s %s %s\n", mark, Dim(e.Position.String()), e.Written.Path)
		return
	}
	top := 0
	if len(e.Position) > 0 {
		top = e.Position[0]
	}
	p.printLine(top)
}

func (p *Progress) OnSkip(e crawl.SkipEvent) {
	p.stats.addSkip()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.verbose {
		fmt.Fprintf(p.out, "%s %s %s (%s)\n", Dim("-"), Dim(e.Position.String()), e.Node.Label(), e.Reason)
	}
}

func (p *Progress) OnFailure(e crawl.FailureEvent) {
	p.stats.addFailure()

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "\n%s %s %s: %v (%s)\n", Red("✗"), Dim(e.Position.String()), e.Node.Label(), e.Err, e.Decision)
}

// printLine redraws the status line; callers hold p.mu
func (p *Progress) printLine(top int) {
	s := p.stats.Snapshot()

	line := fmt.Sprintf("%s %d files • %.1f/min • %s",
		Cyan("[ARCHIVING]"),
		s.Files,
		p.stats.Rate(),
		FormatDuration(p.stats.Elapsed()),
	)
	if p.total > 0 {
		line = fmt.Sprintf("%s [%s] %d/%d", line, Bar(top+1, p.total, 20), top+1, p.total)
	}
	if s.Failures > 0 {
		line += " • " + Red(fmt.Sprintf("%d failed", s.Failures))
	}
	if p.current != "" {
		current := p.current
		if len(current) > 40 {
			current = current[:37] + "..."
		}
		line += " • " + current
	}

	fmt.Fprintf(p.out, "\r%s\r%s", strings.Repeat(" ", 120), line)
}

// Complete prints the run totals
func (p *Progress) Complete(result *crawl.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if result == nil {
		result = &crawl.Result{}
	}
	status := Green("✓ Archive complete")
	if result.Aborted {
		status = Yellow("⏸ Archive stopped, run again to resume")
	} else if !result.Complete {
		status = Yellow("⚠ Archive incomplete")
	}

	fmt.Fprintf(p.out, "\n\n%s\n", status)
	fmt.Fprintf(p.out, "  %s %d files in %s\n", Dim("•"), result.Files, FormatDuration(p.stats.Elapsed()))
	if result.Overflowed > 0 {
		fmt.Fprintf(p.out, "  %s %d files moved to the overflow folder\n", Dim("•"), result.Overflowed)
	}
	if result.Skipped > 0 {
		fmt.Fprintf(p.out, "  %s %d entries skipped\n", Dim("•"), result.Skipped)
	}
	if result.Failures > 0 {
		fmt.Fprintf(p.out, "  %s %d entries failed\n", Dim("•"), result.Failures)
	}
	if result.LastPosition != nil {
		fmt.Fprintf(p.out, "  %s last position %s\n", Dim("•"), result.LastPosition)
	}
}
