package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// View renders the dashboard
func (m *Model) View() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	half := (m.width - 4) / 2

	left := lipgloss.JoinVertical(lipgloss.Left,
		m.renderStatsPanel(half),
		m.renderCurrentPanel(half),
	)
	right := lipgloss.JoinVertical(lipgloss.Left,
		m.renderRecentPanel(half),
		m.renderLogsPanel(half),
	)

	sections := []string{
		m.renderHeader(),
		lipgloss.JoinHorizontal(lipgloss.Top, left, "  ", right),
	}
	if m.showHelp {
		sections = append(sections, m.renderHelp())
	} else {
		sections = append(sections, helpStyle.Render("q quit and keep the checkpoint • ? help"))
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m *Model) renderHeader() string {
	status := m.spinner.View() + " archiving"
	if m.done {
		status = successStyle.Render("done")
	}
	return headerStyle.Render("coursedump") + " " + status
}

func (m *Model) renderStatsPanel(width int) string {
	title := titleStyle.Render(" ARCHIVE ")

	elapsed := time.Since(m.startTime)
	rate := 0.0
	if elapsed.Minutes() > 0 {
		rate = float64(m.files) / elapsed.Minutes()
	}

	stats := []string{
		statLine("Elapsed:", formatDuration(elapsed)),
		statLine("Files:", fmt.Sprintf("%d (%.1f/min)", m.files, rate)),
		statLine("Skipped:", fmt.Sprintf("%d", m.skipped)),
		statLine("Failed:", fmt.Sprintf("%d", m.failures)),
	}
	if m.overflowed > 0 {
		stats = append(stats, statLine("Overflowed:", fmt.Sprintf("%d", m.overflowed)))
	}
	if m.total > 0 {
		bar := m.progress
		bar.Width = width - 8
		if bar.Width < 10 {
			bar.Width = 10
		}
		stats = append(stats,
			statLine("Top level:", fmt.Sprintf("%d/%d", m.top+1, m.total)),
			bar.ViewAs(m.fraction()),
		)
	}

	return panelStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(stats, "\n")),
	)
}

func (m *Model) renderCurrentPanel(width int) string {
	title := titleStyle.Render(" CURRENT ")

	content := dimStyle.Render("Waiting for the first entry...")
	if m.current != "" {
		content = truncate(m.current, width-4)
	}
	if m.done && m.result != nil && m.result.LastPosition != nil {
		content = statLine("Last position:", m.result.LastPosition.String())
	}

	return panelStyle.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left, title, content))
}

func (m *Model) renderRecentPanel(width int) string {
	title := titleStyle.Render(" RECENT ")

	if len(m.recent) == 0 {
		return panelStyle.Width(width).Render(
			lipgloss.JoinVertical(lipgloss.Left, title, dimStyle.Render("Nothing yet")),
		)
	}

	var lines []string
	for _, e := range m.recent {
		mark, style := entryStyle(e.State)
		line := fmt.Sprintf("%s %s %s", style.Render(mark), positionStyle.Render(e.Position), e.Label)
		if e.State != EntryWritten {
			line += " " + dimStyle.Render("("+e.Detail+")")
		}
		lines = append(lines, truncate(line, width+40))
	}

	return panelStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(lines, "\n")),
	)
}

func (m *Model) renderLogsPanel(width int) string {
	title := titleStyle.Render(" LOG ")

	start := len(m.logMessages) - 6
	if start < 0 {
		start = 0
	}

	var logs []string
	for _, msg := range m.logMessages[start:] {
		timestamp := logTimestampStyle.Render(msg.Time.Format("15:04:05"))
		level := lipgloss.NewStyle().Foreground(msg.Color).Bold(true).Render(fmt.Sprintf("[%-7s]", msg.Level))
		logs = append(logs, fmt.Sprintf("%s %s %s", timestamp, level, truncate(msg.Message, width-25)))
	}

	content := strings.Join(logs, "\n")
	if content == "" {
		content = dimStyle.Render("No messages")
	}

	return panelStyle.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left, title, content))
}

func (m *Model) renderHelp() string {
	help := `
  q/Q/ctrl+c  stop after the current entry; the next run resumes there
  ?           toggle this help
  ctrl+l      clear the log

  ` + successStyle.Render("✓") + ` written   ` + warningStyle.Render("↪") + ` overflowed   ` +
		dimStyle.Render("-") + ` skipped   ` + errorStyle.Render("✗") + ` failed
`
	return panelStyle.Width(m.width - 2).Render(help)
}

func statLine(label, value string) string {
	return fmt.Sprintf("%s %s", statsLabelStyle.Render(label), statsValueStyle.Render(value))
}

func truncate(s string, max int) string {
	if max < 4 {
		max = 4
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

// formatDuration formats a duration as a clock
func formatDuration(d time.Duration) string {
	if d < 0 {
		return "00:00"
	}

	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
