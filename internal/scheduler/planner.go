// Package scheduler decides the single action of each loop iteration from the
// budget, the mission queue, recurring definitions and the focus/schedule gates.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/sukria/koan-sub002/internal/budget"
	"github.com/sukria/koan-sub002/internal/config"
	"github.com/sukria/koan-sub002/internal/domain"
	"github.com/sukria/koan-sub002/internal/gates"
	"github.com/sukria/koan-sub002/internal/missions"
	"github.com/sukria/koan-sub002/internal/recurring"
)

// Focus areas handed to the assistant prompt
const (
	FocusMission   = "Execute assigned mission"
	FocusDeep      = "Deep work: architecture, refactoring, complex features"
	FocusImplement = "Medium-cost implementation: prototype fixes, small improvements"
	FocusReview    = "Low-cost review: audit code, update docs, triage issues"
	FocusWait      = "Budget exhausted: wait for the next window"
)

// fallbackAvailable is reported when the budget cannot be read at all
const fallbackAvailable = 50.0

// Result is a collaborator reading together with whether it had to be replaced
// by a default
type Result[T any] struct {
	Value    T
	Fallback bool
	Err      error
}

// Roller produces uniform values in [0,1). *rand.Rand satisfies it.
type Roller interface {
	Float64() float64
}

// Input is everything one planning call needs
type Input struct {
	InstanceRoot  string
	RunsCompleted int
	Projects      []domain.Project
	LastProject   string
	Iteration     int
}

// Sources are the collaborator reads the planner performs. Each field may be
// replaced; DefaultSources reads the instance root on disk.
type Sources struct {
	Budget    func(root string, now time.Time) (budget.ModeDecision, error)
	Recurring func(root string, now time.Time) ([]string, error)
	Mission   func(root, lastProject string) (missions.Mission, bool, error)
	Focus     func(root string, now time.Time) (gates.FocusState, error)
	Schedule  func(root string, now time.Time) (gates.ScheduleState, error)
}

// DefaultSources wires the on-disk budget, recurring, mission and gate stores
func DefaultSources(settings budget.Settings, logger *slog.Logger) Sources {
	return Sources{
		Budget: func(root string, now time.Time) (budget.ModeDecision, error) {
			t := budget.NewTracker(root, settings, logger)
			t.SetClock(func() time.Time { return now })
			err := t.Refresh()
			return t.Decide(), err
		},
		Recurring: func(root string, now time.Time) ([]string, error) {
			return recurring.NewInjector(root, missions.NewStore(root, logger), logger).InjectDue(now)
		},
		Mission: func(root, lastProject string) (missions.Mission, bool, error) {
			return missions.NewStore(root, logger).PeekNext("", lastProject)
		},
		Focus: func(root string, now time.Time) (gates.FocusState, error) {
			g := gates.FocusGate{Root: root}
			return g.State(now)
		},
		Schedule: func(root string, now time.Time) (gates.ScheduleState, error) {
			g := gates.ScheduleGate{Root: root}
			return g.State(now)
		},
	}
}

// PreviewSources read the same documents as DefaultSources but write nothing.
// Due recurring missions are queued into an in-memory copy of missions.md so
// the mission pick matches what a real iteration would do.
func PreviewSources(settings budget.Settings, logger *slog.Logger) Sources {
	src := DefaultSources(settings, logger)
	var (
		queue  string
		staged bool
	)
	src.Budget = func(root string, now time.Time) (budget.ModeDecision, error) {
		t := budget.NewTracker(root, settings, logger)
		t.SetClock(func() time.Time { return now })
		err := t.Reload()
		return t.Decide(), err
	}
	src.Recurring = func(root string, now time.Time) ([]string, error) {
		staged = false
		store := missions.NewStore(root, logger)
		due, err := recurring.NewInjector(root, store, logger).Due(now)
		if err != nil || len(due) == 0 {
			return nil, err
		}
		text, err := store.Load()
		if err != nil {
			return nil, err
		}
		var names []string
		for _, def := range due {
			if missions.HasPending(text, def.Text) {
				continue
			}
			if text, err = missions.Enqueue(text, def.Text, def.Project); err != nil {
				return names, err
			}
			names = append(names, def.Name+": "+def.Text)
		}
		queue, staged = text, true
		return names, nil
	}
	src.Mission = func(root, lastProject string) (missions.Mission, bool, error) {
		if !staged {
			return missions.NewStore(root, logger).PeekNext("", lastProject)
		}
		m, ok := missions.PeekNextRotating(queue, "", lastProject)
		return m, ok, nil
	}
	return src
}

// Planner produces one Decision per loop iteration
type Planner struct {
	Sources Sources

	contemplative config.ContemplativeConfig
	roller        Roller
	now           func() time.Time
	logger        *slog.Logger
}

// NewPlanner creates a planner reading the instance root through DefaultSources
func NewPlanner(settings budget.Settings, contemplative config.ContemplativeConfig, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{
		Sources:       DefaultSources(settings, logger),
		contemplative: contemplative,
		roller:        rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
		now:           time.Now,
		logger:        logger.With("component", "scheduler"),
	}
}

// SetClock replaces the time source
func (p *Planner) SetClock(now func() time.Time) {
	p.now = now
}

// SetRoller replaces the contemplative dice
func (p *Planner) SetRoller(r Roller) {
	p.roller = r
}

// PlanIteration decides what the next iteration does. It never fails: broken
// collaborators fall back to defaults and are listed in Decision.Warnings.
func (p *Planner) PlanIteration(ctx context.Context, in Input) domain.Decision {
	now := p.now()
	iteration := in.Iteration
	if iteration <= 0 {
		iteration = in.RunsCompleted + 1
	}

	d := domain.Decision{Iteration: iteration}
	warn := func(source string, err error) {
		d.Warnings = append(d.Warnings, fmt.Sprintf("%s: %v", source, err))
		p.logger.WarnContext(ctx, "planning source degraded", "source", source, "error", err)
	}

	mode := p.decideMode(in.InstanceRoot, now)
	if mode.Err != nil {
		warn("budget", mode.Err)
	}
	d.Mode = mode.Value.Mode
	d.AvailablePct = mode.Value.Available
	d.Reason = mode.Value.Reason
	if affordable := mode.Value.AffordableMode(); affordable != d.Mode {
		d.Reason += fmt.Sprintf("; %s not affordable at %.1f%% per iteration, using %s",
			d.Mode, mode.Value.IterationCost, affordable)
		d.Mode = affordable
	}
	recommended := recommendedProject(in.Projects, d.Mode, iteration)

	injected := p.injectRecurring(in.InstanceRoot, now)
	if injected.Err != nil {
		warn("recurring", injected.Err)
	}
	d.RecurringInjected = injected.Value

	next := p.peekMission(in.InstanceRoot, in.LastProject)
	if next.Err != nil {
		warn("missions", next.Err)
	}

	if next.Value != nil {
		return p.finish(ctx, resolveMission(d, *next.Value, in.Projects, recommended))
	}

	p.planIdle(&d, in.InstanceRoot, now, warn)
	if d.Action != domain.ActionWaitPause {
		d.ProjectName = recommended.Name
		d.ProjectPath = recommended.Path
	}
	return p.finish(ctx, d)
}

func (p *Planner) finish(ctx context.Context, d domain.Decision) domain.Decision {
	d.FocusArea = FocusArea(d.Mode, d.Action == domain.ActionMission)
	p.logger.InfoContext(ctx, "iteration planned",
		"iteration", d.Iteration,
		"action", d.Action,
		"mode", d.Mode,
		"project", d.ProjectName,
		"available_pct", d.AvailablePct)
	return d
}

func (p *Planner) decideMode(root string, now time.Time) Result[budget.ModeDecision] {
	decision, err := p.Sources.Budget(root, now)
	if decision.Mode == "" {
		if err == nil {
			err = errors.New("budget produced no decision")
		}
		return Result[budget.ModeDecision]{
			Value: budget.ModeDecision{
				Mode:      domain.ModeImplement,
				Available: fallbackAvailable,
				Reason:    fmt.Sprintf("budget unavailable, assuming %.0f%% available", fallbackAvailable),
			},
			Fallback: true,
			Err:      err,
		}
	}
	return Result[budget.ModeDecision]{Value: decision, Err: err}
}

func (p *Planner) injectRecurring(root string, now time.Time) Result[[]string] {
	injected, err := p.Sources.Recurring(root, now)
	if err != nil {
		return Result[[]string]{Value: injected, Fallback: len(injected) == 0, Err: err}
	}
	return Result[[]string]{Value: injected}
}

func (p *Planner) peekMission(root, lastProject string) Result[*missions.Mission] {
	m, ok, err := p.Sources.Mission(root, lastProject)
	if err != nil {
		return Result[*missions.Mission]{Fallback: true, Err: err}
	}
	if !ok {
		return Result[*missions.Mission]{}
	}
	return Result[*missions.Mission]{Value: &m}
}

// planIdle picks the action when no mission is queued
func (p *Planner) planIdle(d *domain.Decision, root string, now time.Time, warn func(string, error)) {
	focus, err := p.Sources.Focus(root, now)
	if err != nil {
		warn("focus", err)
		focus = gates.FocusState{}
	}
	schedule, err := p.Sources.Schedule(root, now)
	if err != nil {
		warn("schedule", err)
		schedule = gates.ScheduleState{}
	}

	d.Action = domain.ActionAutonomous

	switch {
	case p.rollContemplative(d.Mode, focus, schedule):
		d.Action = domain.ActionContemplative
	case focus.Active:
		d.Action = domain.ActionFocusWait
		d.FocusRemaining = focus.RemainingDisplay
		d.Reason = fmt.Sprintf("focus mode, %s remaining; %s", focus.RemainingDisplay, d.Reason)
	case schedule.InWorkHours:
		d.Action = domain.ActionScheduleWait
		d.Reason = "work hours, autonomous work suppressed; " + d.Reason
	case d.Mode == domain.ModeWait:
		d.Action = domain.ActionWaitPause
	}
}

// ContemplativeChance is the probability of a reflective session for the
// given gate readings
func ContemplativeChance(c config.ContemplativeConfig, mode domain.Mode, focus gates.FocusState, schedule gates.ScheduleState) float64 {
	if mode != domain.ModeDeep && mode != domain.ModeImplement {
		return 0
	}
	if focus.Active || schedule.InWorkHours {
		return 0
	}
	chance := c.BaseChance
	if schedule.InDeepHours && c.DeepHoursBoost > 0 {
		chance *= c.DeepHoursBoost
	}
	if chance > 1 {
		chance = 1
	}
	if chance < 0 {
		chance = 0
	}
	return chance
}

func (p *Planner) rollContemplative(mode domain.Mode, focus gates.FocusState, schedule gates.ScheduleState) bool {
	chance := ContemplativeChance(p.contemplative, mode, focus, schedule)
	if chance <= 0 {
		return false
	}
	return p.roller.Float64() < chance
}

// resolveMission attaches the mission's project. Untagged missions go to the
// recommended project; unknown owners produce an error decision.
func resolveMission(d domain.Decision, m missions.Mission, projects []domain.Project, recommended domain.Project) domain.Decision {
	d.Mission = m.Text()
	d.MissionBody = m.Body()
	if m.Owner == "" {
		if recommended.Name == "" {
			d.Action = domain.ActionError
			d.Error = "no project configured for untagged mission"
			d.KnownProjects = domain.ProjectNames(projects)
			return d
		}
		d.Action = domain.ActionMission
		d.ProjectName = recommended.Name
		d.ProjectPath = recommended.Path
		return d
	}

	project, ok := domain.FindProject(projects, m.Owner)
	if !ok {
		d.Action = domain.ActionError
		d.ProjectName = m.Owner
		d.Error = fmt.Sprintf("unknown project %q", m.Owner)
		d.KnownProjects = domain.ProjectNames(projects)
		return d
	}
	d.Action = domain.ActionMission
	d.ProjectName = project.Name
	d.ProjectPath = project.Path
	return d
}

func recommendedProject(projects []domain.Project, mode domain.Mode, iteration int) domain.Project {
	if len(projects) == 0 {
		return domain.Project{}
	}
	return projects[budget.SelectProjectIndex(len(projects), mode, iteration)]
}

// FocusArea is the prompt focus for a mode; an assigned mission overrides it
func FocusArea(mode domain.Mode, hasMission bool) string {
	if hasMission {
		return FocusMission
	}
	switch mode {
	case domain.ModeDeep:
		return FocusDeep
	case domain.ModeImplement:
		return FocusImplement
	case domain.ModeReview:
		return FocusReview
	default:
		return FocusWait
	}
}
