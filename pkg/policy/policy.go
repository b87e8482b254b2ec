package policy

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"coursedump/pkg/checkpoint"
	"coursedump/pkg/config"
	errs "coursedump/pkg/errors"
	"coursedump/pkg/models"
)

// Decision is the outcome for one failed entry
type Decision int

const (
	// Continue skips the failed entry and moves on to its next sibling
	Continue Decision = iota
	// Abort stops the whole traversal
	Abort
)

func (d Decision) String() string {
	if d == Abort {
		return "abort"
	}
	return "continue"
}

// ParseDecision maps a configured policy name to a decision
func ParseDecision(s string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case config.PolicyContinue, "skip":
		return Continue, nil
	case config.PolicyAbort:
		return Abort, nil
	}
	return Continue, fmt.Errorf("unknown failure decision %q", s)
}

// Failure identifies the entry that failed and why
type Failure struct {
	Node     models.Node
	Position checkpoint.Position
	Err      error
}

// Policy decides what happens after an entry fails
type Policy interface {
	OnFailure(ctx context.Context, f Failure) Decision
}

// SuccessRecorder is implemented by policies that track consecutive failures
type SuccessRecorder interface {
	Succeeded()
}

// Fixed always returns the same decision
type Fixed struct {
	Decision Decision
}

// OnFailure returns the fixed decision
func (p Fixed) OnFailure(ctx context.Context, f Failure) Decision {
	return p.Decision
}

// Interactive asks the operator for every failure
type Interactive struct {
	mu     sync.Mutex
	reader *bufio.Reader
	out    io.Writer
}

// NewInteractive creates a prompt reading answers from in
func NewInteractive(in io.Reader, out io.Writer) *Interactive {
	return &Interactive{reader: bufio.NewReader(in), out: out}
}

// OnFailure prints the failure and reads a line. Only "skip" continues;
// any other answer, EOF or a cancelled context aborts.
func (p *Interactive) OnFailure(ctx context.Context, f Failure) Decision {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ctx.Err() != nil {
		return Abort
	}

	fmt.Fprintln(p.out)
	fmt.Fprintf(p.out, "Failed to process %q (%s)\n", f.Node.Label(), f.Node.Kind)
	if f.Node.Locator != "" {
		fmt.Fprintf(p.out, "  Location: %s\n", f.Node.Locator)
	}
	fmt.Fprintf(p.out, "  Position: %s\n", f.Position)
	if f.Err != nil {
		fmt.Fprintf(p.out, "  Error (%s): %v\n", errs.KindOf(f.Err), f.Err)
	}
	fmt.Fprintln(p.out, "Type 'skip' to skip this element and continue with the remaining elements, or anything else to abort.")
	fmt.Fprint(p.out, "Skip this element? ")

	answer, err := p.reader.ReadString('\n')
	if err != nil && answer == "" {
		return Abort
	}
	if strings.TrimSpace(answer) == "skip" {
		return Continue
	}
	return Abort
}

// Limited aborts once too many failures happen in a row, otherwise it
// defers to the wrapped policy
type Limited struct {
	inner Policy
	max   int

	mu          sync.Mutex
	consecutive int
}

// NewLimited wraps inner with a cap of max consecutive failures
func NewLimited(inner Policy, max int) *Limited {
	return &Limited{inner: inner, max: max}
}

// OnFailure counts the failure and consults the wrapped policy
func (p *Limited) OnFailure(ctx context.Context, f Failure) Decision {
	p.mu.Lock()
	p.consecutive++
	exceeded := p.max > 0 && p.consecutive >= p.max
	p.mu.Unlock()

	if exceeded {
		return Abort
	}
	return p.inner.OnFailure(ctx, f)
}

// Succeeded resets the consecutive failure count
func (p *Limited) Succeeded() {
	p.mu.Lock()
	p.consecutive = 0
	p.mu.Unlock()
}

// Consecutive returns the current run of failures
func (p *Limited) Consecutive() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.consecutive
}

// New builds the policy described by cfg. Interactive mode requires in to be
// a terminal; otherwise the non-interactive decision applies.
func New(cfg config.PolicyConfig, in io.Reader, out io.Writer) (Policy, error) {
	var p Policy

	switch strings.ToLower(cfg.Mode) {
	case "", config.PolicyInteractive:
		if isTerminal(in) {
			p = NewInteractive(in, out)
			break
		}
		fallback := cfg.NonInteractiveDecision
		if fallback == "" {
			fallback = config.PolicyContinue
		}
		d, err := ParseDecision(fallback)
		if err != nil {
			return nil, err
		}
		p = Fixed{Decision: d}
	case config.PolicyContinue, config.PolicyAbort:
		d, _ := ParseDecision(cfg.Mode)
		p = Fixed{Decision: d}
	default:
		return nil, fmt.Errorf("unknown failure policy %q", cfg.Mode)
	}

	if cfg.MaxConsecutiveFailures > 0 {
		p = NewLimited(p, cfg.MaxConsecutiveFailures)
	}
	return p, nil
}

func isTerminal(in io.Reader) bool {
	f, ok := in.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
