package tui

import (
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// barChrome is the label and padding around each usage bar
const barChrome = 40

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, m.refreshCmd()
		case "?":
			m.showHelp = !m.showHelp
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		w := msg.Width - barChrome
		if w < 10 {
			w = 10
		}
		if w > 60 {
			w = 60
		}
		m.sessionBar.Width = w
		m.weeklyBar.Width = w
		return m, nil

	case TickMsg:
		return m, m.refreshCmd()

	case SnapshotMsg:
		m.snap = Snapshot(msg)
		m.lastRefresh = m.snap.At
		m.refreshes++
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}
