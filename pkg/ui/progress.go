package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	ProgressBar   = "█"
	ProgressEmpty = "░"
)

// Counts are the totals of a crawl so far
type Counts struct {
	Files      int
	Overflowed int
	Skipped    int
	Failures   int
}

// Stats counts what a crawl has done so far
type Stats struct {
	mu        sync.Mutex
	counts    Counts
	StartTime time.Time
}

// NewStats creates counters starting now
func NewStats() *Stats {
	return &Stats{StartTime: time.Now()}
}

func (s *Stats) addFile(overflowed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts.Files++
	if overflowed {
		s.counts.Overflowed++
	}
}

func (s *Stats) addSkip() {
	s.mu.Lock()
	s.counts.Skipped++
	s.mu.Unlock()
}

func (s *Stats) addFailure() {
	s.mu.Lock()
	s.counts.Failures++
	s.mu.Unlock()
}

// Snapshot returns a copy of the counters
func (s *Stats) Snapshot() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts
}

// Elapsed returns the time since the counters started
func (s *Stats) Elapsed() time.Duration {
	return time.Since(s.StartTime)
}

// Rate returns written files per minute
func (s *Stats) Rate() float64 {
	elapsed := s.Elapsed().Minutes()
	if elapsed == 0 {
		return 0
	}
	return float64(s.Snapshot().Files) / elapsed
}

// Bar renders done out of total as a fixed width bar
func Bar(done, total, width int) string {
	if total <= 0 {
		return strings.Repeat(ProgressEmpty, width)
	}
	filled := done * width / total
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return strings.Repeat(ProgressBar, filled) + strings.Repeat(ProgressEmpty, width-filled)
}

// FormatDuration formats a duration in a human-readable way
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
