package tui

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sukria/koan-sub002/internal/admission"
	"github.com/sukria/koan-sub002/internal/budget"
	"github.com/sukria/koan-sub002/internal/domain"
	"github.com/sukria/koan-sub002/internal/gates"
	"github.com/sukria/koan-sub002/internal/history"
	"github.com/sukria/koan-sub002/internal/missions"
	"github.com/sukria/koan-sub002/internal/quota"
	"github.com/sukria/koan-sub002/internal/recurring"
)

// recentLimit is how many ledger rows the dashboard shows
const recentLimit = 8

// ProjectCount is the mission backlog of one project
type ProjectCount struct {
	Project    string
	Pending    int
	InProgress int
}

// Snapshot is everything the dashboard and `koan status` show about an
// instance at one instant
type Snapshot struct {
	Root     string
	At       time.Time
	Usage    budget.UsageSnapshot
	Decision budget.ModeDecision
	Pause    *domain.PauseRecord
	Focus    gates.FocusState
	Schedule gates.ScheduleState
	Running  admission.Liveness
	Projects []ProjectCount
	Recent   []*domain.Iteration
	Last24h  int // iterations started in the last 24 hours
	Upcoming []recurring.Upcoming
	Warnings []string
}

// Pending returns the total pending missions
func (s Snapshot) Pending() int {
	n := 0
	for _, p := range s.Projects {
		n += p.Pending
	}
	return n
}

// Collect reads every instance document. Unreadable sources are reported in
// Warnings and leave their part of the snapshot zero.
func Collect(root string, settings budget.Settings, now time.Time) Snapshot {
	s := Snapshot{Root: root, At: now}
	warn := func(source string, err error) {
		s.Warnings = append(s.Warnings, fmt.Sprintf("%s: %v", source, err))
	}

	tracker := budget.NewTracker(root, settings, nil)
	tracker.SetClock(func() time.Time { return now })
	if err := tracker.Refresh(); err != nil {
		warn("budget", err)
	}
	s.Usage = tracker.Snapshot()
	s.Decision = tracker.Decide()

	pauses := &quota.PauseStore{Root: root}
	pause, err := pauses.Read()
	if err != nil {
		warn("pause", err)
	}
	if pause.Active(now) {
		s.Pause = pause
	}

	focus := gates.FocusGate{Root: root}
	if s.Focus, err = focus.State(now); err != nil {
		warn("focus", err)
	}
	schedule := gates.ScheduleGate{Root: root}
	if s.Schedule, err = schedule.State(now); err != nil {
		warn("schedule", err)
	}

	if s.Running, err = admission.CheckLiveness(root, "run"); err != nil {
		warn("admission", err)
	}

	store := missions.NewStore(root, nil)
	text, err := store.Load()
	if err != nil {
		warn("missions", err)
	}
	for _, g := range missions.GroupByProject(text) {
		if len(g.Pending) == 0 && len(g.InProgress) == 0 {
			continue
		}
		s.Projects = append(s.Projects, ProjectCount{Project: g.Project, Pending: len(g.Pending), InProgress: len(g.InProgress)})
	}

	injector := recurring.NewInjector(root, store, nil)
	if s.Upcoming, err = injector.NextRuns(now); err != nil {
		warn("recurring", err)
	}

	// the ledger is created by the loop; a fresh instance has none yet
	if _, err := os.Stat(filepath.Join(root, history.FileName)); err == nil {
		if s.Recent, s.Last24h, err = recentIterations(root, now); err != nil {
			warn("history", err)
		}
	}
	return s
}

func recentIterations(root string, now time.Time) ([]*domain.Iteration, int, error) {
	h, err := history.Open(root)
	if err != nil {
		return nil, 0, err
	}
	defer h.Close()
	recent, err := h.Recent(recentLimit)
	if err != nil {
		return nil, 0, err
	}
	n, err := h.CountSince(now.Add(-24 * time.Hour))
	return recent, n, err
}
