// Package loop runs the long-lived control loop: plan an iteration, invoke the
// assistant, account for its usage and react to quota exhaustion.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sukria/koan-sub002/internal/admission"
	"github.com/sukria/koan-sub002/internal/assistant"
	"github.com/sukria/koan-sub002/internal/budget"
	"github.com/sukria/koan-sub002/internal/config"
	"github.com/sukria/koan-sub002/internal/domain"
	"github.com/sukria/koan-sub002/internal/history"
	"github.com/sukria/koan-sub002/internal/missions"
	"github.com/sukria/koan-sub002/internal/notify"
	"github.com/sukria/koan-sub002/internal/observer"
	"github.com/sukria/koan-sub002/internal/prompts"
	"github.com/sukria/koan-sub002/internal/quota"
	"github.com/sukria/koan-sub002/internal/scheduler"
)

// ErrStopRequested is returned by Tick when the stop marker is present
var ErrStopRequested = errors.New("stop requested")

// Options configures a Loop
type Options struct {
	Root              string
	Projects          []domain.Project
	PollInterval      time.Duration
	MaxRunsPerSession int
	QuotaResumeDelay  time.Duration
	StuckThreshold    time.Duration
	Budget            budget.Settings
	Contemplative     config.ContemplativeConfig
}

// OptionsFromConfig resolves loop options from the configuration file
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	settings, err := budget.SettingsFromConfig(cfg.Budget)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Root:              cfg.General.InstanceRoot,
		Projects:          cfg.Projects,
		PollInterval:      config.Duration(cfg.General.PollInterval, 5*time.Minute),
		MaxRunsPerSession: cfg.General.MaxRunsPerSession,
		QuotaResumeDelay:  config.Duration(cfg.Quota.DefaultResumeDelay, quota.DefaultResumeDelay),
		StuckThreshold:    config.Duration(cfg.Assistant.Timeout, 45*time.Minute),
		Budget:            settings,
		Contemplative:     cfg.Contemplative,
	}, nil
}

// Loop is one agent's control loop over an instance root
type Loop struct {
	opts     Options
	planner  *scheduler.Planner
	runner   assistant.Runner
	missions *missions.Store
	guard    *quota.Guard
	prompts  *prompts.Loader
	history  *history.Store
	notifier notify.Notifier
	observer *observer.Observer
	wake     <-chan struct{}
	now      func() time.Time
	logger   *slog.Logger

	runs        int
	lastProject string
}

// New creates a loop. History and notifications are optional; see SetHistory
// and SetNotifier.
func New(opts Options, runner assistant.Runner, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Minute
	}
	return &Loop{
		opts:     opts,
		planner:  scheduler.NewPlanner(opts.Budget, opts.Contemplative, logger),
		runner:   runner,
		missions: missions.NewStore(opts.Root, logger),
		guard:    quota.NewGuard(opts.Root, opts.QuotaResumeDelay, logger),
		prompts:  prompts.DefaultLoader(opts.Root),
		notifier: notify.NoopNotifier{},
		observer: observer.New(opts.StuckThreshold),
		now:      time.Now,
		logger:   logger.With("component", "loop"),
	}
}

// SetHistory enables the iteration ledger
func (l *Loop) SetHistory(h *history.Store) {
	l.history = h
}

// SetNotifier replaces the notifier
func (l *Loop) SetNotifier(n notify.Notifier) {
	l.notifier = n
}

// SetPrompts replaces the prompt loader
func (l *Loop) SetPrompts(p *prompts.Loader) {
	l.prompts = p
}

// SetClock replaces the time source of the loop and its collaborators
func (l *Loop) SetClock(now func() time.Time) {
	l.now = now
	l.planner.SetClock(now)
	l.guard.SetClock(now)
}

// Planner exposes the planner, e.g. to fix its dice in tests
func (l *Loop) Planner() *scheduler.Planner {
	return l.planner
}

// Observer returns the in-memory iteration metrics
func (l *Loop) Observer() *observer.Observer {
	return l.observer
}

// Runs returns the number of iterations run since the session started
func (l *Loop) Runs() int {
	return l.runs
}

// Run drives ticks until ctx is cancelled or a stop is requested. A watcher
// on the instance root cuts waits short when the operator edits it.
func (l *Loop) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	w, err := observer.NewWatcher(l.opts.Root, l.logger)
	if err != nil {
		l.logger.Warn("instance watcher unavailable, relying on polling", "error", err)
	} else {
		l.wake = w.Wake()
		g.Go(func() error { return w.Run(ctx) })
	}

	g.Go(func() error {
		defer cancel()
		return l.loop(ctx)
	})

	err = g.Wait()
	m := l.observer.GetMetrics()
	l.logger.Info("loop stopped",
		"iterations", m.TotalCompleted+m.TotalFailed,
		"failed", m.TotalFailed,
		"tokens_input", m.TotalTokensInput,
		"tokens_output", m.TotalTokensOutput,
		"avg_duration", m.AvgDuration)
	return err
}

func (l *Loop) loop(ctx context.Context) error {
	l.logger.Info("loop started", "root", l.opts.Root, "projects", len(l.opts.Projects))
	for {
		wait, err := l.Tick(ctx)
		if errors.Is(err, ErrStopRequested) {
			if err := admission.ClearStop(l.opts.Root); err != nil {
				l.logger.Warn("could not clear stop marker", "error", err)
			}
			l.send(ctx, notify.Notification{Title: "koan stopped", Message: "Stop requested", Event: notify.EventStopped})
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		l.sleep(ctx, wait)
	}
}

// sleep waits for d, ctx cancellation or a watcher wake, whichever is first
func (l *Loop) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-l.wake:
		l.logger.Debug("woken by instance change")
	}
}

// Tick performs one loop step and returns how long to wait before the next.
// Only ErrStopRequested and context errors are returned; everything else is
// logged, notified and retried on a later tick.
func (l *Loop) Tick(ctx context.Context) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	now := l.now()
	if admission.StopRequested(l.opts.Root) {
		return 0, ErrStopRequested
	}

	rec, resumed, err := l.guard.Pauses.CheckResume(now)
	if err != nil {
		l.logger.Warn("pause record unreadable, cleared", "error", err)
	}
	if resumed {
		l.runs = 0
		l.logger.Info("pause ended, resuming")
		l.send(ctx, notify.Resumed(rec, now))
	} else if rec.Active(now) {
		return min(rec.ResumeAt.Sub(now), l.opts.PollInterval), nil
	}

	if l.opts.MaxRunsPerSession > 0 && l.runs >= l.opts.MaxRunsPerSession {
		l.pauseMaxRuns(ctx, now)
		return l.opts.PollInterval, nil
	}

	d := l.planner.PlanIteration(ctx, scheduler.Input{
		InstanceRoot:  l.opts.Root,
		RunsCompleted: l.runs,
		Projects:      l.opts.Projects,
		LastProject:   l.lastProject,
		Iteration:     l.runs + 1,
	})

	switch {
	case d.Action.IsWait():
		l.logger.Info("waiting", "action", d.Action, "reason", d.Reason)
		return l.opts.PollInterval, nil
	case d.Action == domain.ActionError:
		l.planningError(ctx, d)
		return l.opts.PollInterval, nil
	}

	l.execute(ctx, d)
	return 0, ctx.Err()
}

func (l *Loop) pauseMaxRuns(ctx context.Context, now time.Time) {
	tracker := budget.NewTracker(l.opts.Root, l.opts.Budget, l.logger)
	tracker.SetClock(l.now)
	_ = tracker.Refresh()
	resumeAt := tracker.State().SessionWindowStart.Add(l.opts.Budget.SessionWindow)
	if !resumeAt.After(now) {
		resumeAt = now.Add(l.opts.QuotaResumeDelay)
	}

	rec, err := l.guard.Pauses.Pause(domain.PauseMaxRuns, resumeAt, "session run limit reached", now)
	if err != nil {
		l.logger.Warn("could not record max-runs pause", "error", err)
		return
	}
	l.logger.Info("run limit reached, pausing", "runs", l.runs, "resume_at", rec.ResumeAt)
	l.send(ctx, notify.Paused(rec))
}

func (l *Loop) planningError(ctx context.Context, d domain.Decision) {
	l.logger.Error("cannot run planned iteration", "error", d.Error, "known_projects", d.KnownProjects)
	msg := d.Error
	if len(d.KnownProjects) > 0 {
		msg = fmt.Sprintf("%s (known projects: %v)", d.Error, d.KnownProjects)
	}
	l.send(ctx, notify.Failed(d.ProjectName, errors.New(msg)))

	now := l.now()
	it := iterationFor(d, now)
	it.Error = d.Error
	it.FinishedAt = &now
	l.record(it)
}

// execute runs one productive iteration end to end
func (l *Loop) execute(ctx context.Context, d domain.Decision) {
	started := l.now()
	it := iterationFor(d, started)
	l.record(it)

	isMission := d.Action == domain.ActionMission
	if isMission {
		if err := l.missions.MarkInProgress(d.Mission); err != nil {
			l.logger.Warn("could not mark mission in progress", "mission", d.Mission, "error", err)
		}
	}

	out, runErr := l.invoke(ctx, d)
	finished := l.now()

	l.recordUsage(out)
	ex, exhausted := l.guard.OnExhaustion(quota.ExhaustionContext{
		Project:   d.ProjectName,
		Iteration: d.Iteration,
		Output:    out.Result,
		Stderr:    out.Stderr,
	})

	failed := runErr != nil || out.IsError
	switch {
	case exhausted:
		if isMission {
			l.requeue(d.Mission)
		}
		rec, _ := l.guard.Pauses.Read()
		if rec == nil {
			rec = &domain.PauseRecord{Reason: domain.PauseQuota, ResumeAt: ex.ResumeAt, DisplayHint: ex.DisplayReset, CreatedAt: finished}
		}
		l.send(ctx, notify.Paused(rec))
	case ctx.Err() != nil:
		if isMission {
			l.requeue(d.Mission)
		}
	case failed:
		if runErr == nil {
			runErr = errors.New("assistant reported an error")
		}
		l.logger.Error("iteration failed", "project", d.ProjectName, "action", d.Action, "error", runErr)
		l.send(ctx, notify.Failed(d.ProjectName, runErr))
	case isMission:
		if err := l.missions.MarkDone(d.Mission); err != nil {
			l.logger.Warn("could not mark mission done", "mission", d.Mission, "error", err)
		}
		l.send(ctx, notify.Notification{
			Title:   "Mission done",
			Message: d.Mission,
			Type:    notify.NotifySuccess,
			Event:   notify.EventMissionDone,
			Project: d.ProjectName,
		})
	}

	if l.observer.IsStuck(started, finished) {
		l.logger.Warn("iteration overran", "project", d.ProjectName, "duration", finished.Sub(started))
	}
	l.observer.RecordCompletion(d.ProjectName, finished.Sub(started), out.InputTokens, out.OutputTokens, failed)

	if l.history != nil {
		outcome := history.Outcome{
			TokensInput:    out.InputTokens,
			TokensOutput:   out.OutputTokens,
			QuotaExhausted: exhausted,
		}
		if runErr != nil {
			outcome.Error = runErr.Error()
		}
		if err := l.history.Finish(it.ID, finished, outcome); err != nil {
			l.logger.Warn("could not finish history record", "error", err)
		}
	}

	l.runs++
	l.lastProject = d.ProjectName
	l.logger.Info("iteration finished",
		"iteration", d.Iteration,
		"action", d.Action,
		"project", d.ProjectName,
		"tokens", out.Tokens(),
		"failed", failed,
		"quota_exhausted", exhausted)
}

func (l *Loop) invoke(ctx context.Context, d domain.Decision) (assistant.Output, error) {
	prompt, err := l.prompts.BuildIterationPrompt(d, l.missions.Path())
	if err != nil {
		return assistant.Output{}, fmt.Errorf("building prompt: %w", err)
	}
	req := assistant.Request{Prompt: prompt, Dir: d.ProjectPath}
	if d.Action == domain.ActionMission {
		req.SessionKey = d.Mission
	}
	l.logger.Info("invoking assistant", "iteration", d.Iteration, "action", d.Action, "project", d.ProjectName, "mode", d.Mode)
	return l.runner.Run(ctx, req)
}

func (l *Loop) recordUsage(out assistant.Output) {
	tracker := budget.NewTracker(l.opts.Root, l.opts.Budget, l.logger)
	tracker.SetClock(l.now)
	if err := tracker.Refresh(); err != nil {
		l.logger.Debug("budget refresh degraded", "error", err)
	}
	if err := tracker.RecordUsage(out); err != nil {
		l.logger.Warn("could not record usage", "error", err)
	}
}

func (l *Loop) requeue(mission string) {
	if err := l.missions.Requeue(mission); err != nil {
		l.logger.Warn("could not requeue mission", "mission", mission, "error", err)
	}
}

func (l *Loop) record(it *domain.Iteration) {
	if l.history == nil {
		return
	}
	if err := l.history.Record(it); err != nil {
		l.logger.Warn("could not record iteration", "error", err)
	}
}

func (l *Loop) send(ctx context.Context, n notify.Notification) {
	if err := l.notifier.Send(ctx, n); err != nil {
		l.logger.Warn("notification failed", "event", n.Event, "error", err)
	}
}

func iterationFor(d domain.Decision, started time.Time) *domain.Iteration {
	return &domain.Iteration{
		StartedAt:    started,
		Action:       d.Action,
		Mode:         d.Mode,
		Project:      d.ProjectName,
		Mission:      d.Mission,
		AvailablePct: d.AvailablePct,
	}
}
