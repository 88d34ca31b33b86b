// Package tui is the live status dashboard of a koan instance
package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/sukria/koan-sub002/internal/budget"
)

// RefreshInterval is how often the dashboard re-reads the instance
const RefreshInterval = 2 * time.Second

// Model is the TUI application model
type Model struct {
	// Data
	snap    Snapshot
	collect func(now time.Time) Snapshot

	// Widgets
	sessionBar progress.Model
	weeklyBar  progress.Model
	spinner    spinner.Model

	// UI state
	width     int
	height    int
	showHelp  bool
	now       func() time.Time
	refreshes int

	// Refresh
	lastRefresh time.Time
}

// ModelConfig holds what the TUI model reads from
type ModelConfig struct {
	Root     string
	Settings budget.Settings
	// Collect overrides the snapshot source; tests use it to avoid the disk
	Collect func(now time.Time) Snapshot
	Now     func() time.Time
}

// NewModel creates a new TUI model
func NewModel(cfg ModelConfig) Model {
	collect := cfg.Collect
	if collect == nil {
		collect = func(now time.Time) Snapshot {
			return Collect(cfg.Root, cfg.Settings, now)
		}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	sp := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("42"))),
	)

	return Model{
		collect:    collect,
		sessionBar: newBar(),
		weeklyBar:  newBar(),
		spinner:    sp,
		now:        now,
	}
}

func newBar() progress.Model {
	return progress.New(
		progress.WithGradient("#5FD787", "#FF5F5F"),
		progress.WithWidth(30),
		progress.WithoutPercentage(),
	)
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.refreshCmd(),
		m.spinner.Tick,
	)
}

// TickMsg triggers a refresh
type TickMsg time.Time

// SnapshotMsg carries a freshly collected snapshot
type SnapshotMsg Snapshot

func tickCmd() tea.Cmd {
	return tea.Tick(RefreshInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// refreshCmd collects off the update loop; sqlite and flock can block briefly
func (m Model) refreshCmd() tea.Cmd {
	collect, now := m.collect, m.now
	return func() tea.Msg {
		return SnapshotMsg(collect(now()))
	}
}

// Snapshot returns the last collected snapshot
func (m Model) Snapshot() Snapshot {
	return m.snap
}

// Run starts the dashboard on the terminal until the user quits
func Run(cfg ModelConfig) error {
	p := tea.NewProgram(NewModel(cfg), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
