package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/sukria/koan-sub002/internal/domain"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250")).
			Width(9)

	runningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	dimmedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255"))
)

var modeStyles = map[domain.Mode]lipgloss.Style{
	domain.ModeDeep:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
	domain.ModeImplement: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
	domain.ModeReview:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214")),
	domain.ModeWait:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 || m.refreshes == 0 {
		return "Loading..."
	}
	s := m.snap
	inner := m.width - 2

	var b strings.Builder

	header := fmt.Sprintf(" koan │ %s │ mode: %s │ pending: %d │ %s ",
		s.Root, s.Decision.Mode, s.Pending(), m.runningLabel())
	b.WriteString(headerStyle.Width(m.width).Render(header))
	b.WriteString("\n")

	b.WriteString(sectionStyle.Width(inner).Render(m.renderUsage()))
	b.WriteString("\n")
	b.WriteString(sectionStyle.Width(inner).Render(renderState(s)))
	b.WriteString("\n")
	b.WriteString(sectionStyle.Width(inner).Render(renderProjects(s)))
	b.WriteString("\n")
	b.WriteString(sectionStyle.Width(inner).Render(renderRecent(s)))
	b.WriteString("\n")
	if len(s.Upcoming) > 0 {
		b.WriteString(sectionStyle.Width(inner).Render(renderUpcoming(s)))
		b.WriteString("\n")
	}
	if len(s.Warnings) > 0 {
		b.WriteString(sectionStyle.Width(inner).Render(renderWarnings(s)))
		b.WriteString("\n")
	}
	if m.showHelp {
		b.WriteString(dimmedStyle.Render(" r refresh now · ? toggle help · q quit"))
		b.WriteString("\n")
	}

	status := fmt.Sprintf(" refreshed %s · every %s · q quit · ? help ",
		m.lastRefresh.Format("15:04:05"), RefreshInterval)
	b.WriteString(statusBarStyle.Width(m.width).Render(status))

	return b.String()
}

func (m Model) runningLabel() string {
	if m.snap.Running.Running {
		return runningStyle.Render(fmt.Sprintf("%s running (pid %d)", m.spinner.View(), m.snap.Running.Holder.PID))
	}
	return dimmedStyle.Render("loop stopped")
}

func (m Model) renderUsage() string {
	u := m.snap.Usage
	lines := []string{
		titleStyle.Render("Usage"),
		usageLine("session", u.SessionPct, u.SessionResetDisplay, m.sessionBar),
		usageLine("weekly", u.WeeklyPct, u.WeeklyResetDisplay, m.weeklyBar),
		dimmedStyle.Render(fmt.Sprintf("available after margin: %.1f%% · iteration cost ≈ %.1f%%",
			m.snap.Decision.Available, m.snap.Decision.IterationCost)),
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func usageLine(label string, pct float64, reset string, bar progress.Model) string {
	line := lipgloss.JoinHorizontal(lipgloss.Top,
		labelStyle.Render(label),
		bar.ViewAs(pct/100),
		fmt.Sprintf(" %3.0f%% used", pct),
	)
	if reset != "" {
		line += dimmedStyle.Render(" (" + reset + ")")
	}
	return line
}

func renderState(s Snapshot) string {
	mode := modeStyles[s.Decision.Mode].Render(string(s.Decision.Mode))
	lines := []string{
		titleStyle.Render("State"),
		labelStyle.Render("mode") + mode + dimmedStyle.Render(" "+s.Decision.Reason),
	}
	lines = append(lines, labelStyle.Render("pause")+pauseLine(s))
	lines = append(lines, labelStyle.Render("focus")+focusLine(s))
	lines = append(lines, labelStyle.Render("schedule")+scheduleLine(s))
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func pauseLine(s Snapshot) string {
	if s.Pause == nil {
		return dimmedStyle.Render("none")
	}
	line := fmt.Sprintf("%s until %s (%s)", s.Pause.Reason,
		s.Pause.ResumeAt.Local().Format("Mon 15:04"), humanize.RelTime(s.Pause.ResumeAt, s.At, "ago", "from now"))
	if s.Pause.DisplayHint != "" {
		line += ", " + s.Pause.DisplayHint
	}
	return warningStyle.Render(line)
}

func focusLine(s Snapshot) string {
	if !s.Focus.Active {
		return dimmedStyle.Render("off")
	}
	line := s.Focus.RemainingDisplay + " remaining"
	if s.Focus.Reason != "" {
		line += " · " + s.Focus.Reason
	}
	return warningStyle.Render(line)
}

func scheduleLine(s Snapshot) string {
	switch {
	case s.Schedule.InWorkHours:
		return warningStyle.Render("work hours")
	case s.Schedule.InDeepHours:
		return runningStyle.Render("deep hours")
	}
	return dimmedStyle.Render("unrestricted")
}

func renderProjects(s Snapshot) string {
	lines := []string{titleStyle.Render("Missions")}
	if len(s.Projects) == 0 {
		lines = append(lines, dimmedStyle.Render("No pending missions"))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}
	for _, p := range s.Projects {
		name := p.Project
		if name == "" {
			name = "(untagged)"
		}
		line := fmt.Sprintf("%-20s %3d pending", name, p.Pending)
		if p.InProgress > 0 {
			line += runningStyle.Render(fmt.Sprintf("  %d in progress", p.InProgress))
		}
		lines = append(lines, line)
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderRecent(s Snapshot) string {
	title := "Recent iterations"
	if s.Last24h > 0 {
		title += fmt.Sprintf(" (%d in 24h)", s.Last24h)
	}
	lines := []string{titleStyle.Render(title)}
	if len(s.Recent) == 0 {
		lines = append(lines, dimmedStyle.Render("Nothing run yet"))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}
	for _, it := range s.Recent {
		lines = append(lines, iterationLine(it))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func iterationLine(it *domain.Iteration) string {
	subject := it.Project
	if it.Mission != "" {
		subject += ": " + truncate(it.Mission, 48)
	}
	line := fmt.Sprintf("%s  %-13s %-9s %s", it.StartedAt.Local().Format("01-02 15:04"), it.Action, it.Mode, subject)
	switch {
	case it.Error != "":
		return errorStyle.Render(line + "  ✗ " + truncate(it.Error, 40))
	case it.QuotaExhausted:
		return warningStyle.Render(line + "  quota")
	case it.FinishedAt == nil:
		return runningStyle.Render(line + "  running")
	}
	return line + dimmedStyle.Render(fmt.Sprintf("  %s · %s tokens",
		it.Duration().Round(time.Second), humanize.Comma(it.TokensInput+it.TokensOutput)))
}

func renderUpcoming(s Snapshot) string {
	lines := []string{titleStyle.Render("Recurring")}
	for _, u := range s.Upcoming {
		when := humanize.RelTime(u.Next, s.At, "ago", "from now")
		line := fmt.Sprintf("%-20s %s", u.Name, when)
		if !u.Enabled {
			line = dimmedStyle.Render(line + " (disabled)")
		}
		lines = append(lines, line)
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderWarnings(s Snapshot) string {
	lines := []string{titleStyle.Render("Warnings")}
	for _, w := range s.Warnings {
		lines = append(lines, warningStyle.Render("⚠ "+w))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// RenderStatus renders the snapshot as plain text for `koan status`
func RenderStatus(s Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Instance:  %s\n", s.Root)
	if s.Running.Running {
		fmt.Fprintf(&b, "Loop:      running (pid %d)\n", s.Running.Holder.PID)
	} else {
		b.WriteString("Loop:      stopped\n")
	}
	fmt.Fprintf(&b, "Mode:      %s (%.1f%% available) %s\n", s.Decision.Mode, s.Decision.Available, s.Decision.Reason)
	fmt.Fprintf(&b, "Session:   %.0f%% used", s.Usage.SessionPct)
	if s.Usage.SessionResetDisplay != "" {
		fmt.Fprintf(&b, " (%s)", s.Usage.SessionResetDisplay)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Weekly:    %.0f%% used", s.Usage.WeeklyPct)
	if s.Usage.WeeklyResetDisplay != "" {
		fmt.Fprintf(&b, " (%s)", s.Usage.WeeklyResetDisplay)
	}
	b.WriteString("\n")

	if s.Pause != nil {
		fmt.Fprintf(&b, "Paused:    %s until %s\n", s.Pause.Reason, s.Pause.ResumeAt.Local().Format(time.RFC3339))
	}
	if s.Focus.Active {
		fmt.Fprintf(&b, "Focus:     %s remaining\n", s.Focus.RemainingDisplay)
	}
	switch {
	case s.Schedule.InWorkHours:
		b.WriteString("Schedule:  work hours\n")
	case s.Schedule.InDeepHours:
		b.WriteString("Schedule:  deep hours\n")
	}

	fmt.Fprintf(&b, "Runs 24h:  %d\n", s.Last24h)
	fmt.Fprintf(&b, "Pending:   %d\n", s.Pending())
	for _, p := range s.Projects {
		name := p.Project
		if name == "" {
			name = "(untagged)"
		}
		fmt.Fprintf(&b, "  %-20s %d pending, %d in progress\n", name, p.Pending, p.InProgress)
	}
	for _, w := range s.Warnings {
		fmt.Fprintf(&b, "Warning:   %s\n", w)
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
