// Package budget tracks consumption against the session and weekly windows and
// turns the remaining budget into an operating mode.
package budget

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sukria/koan-sub002/internal/assistant"
	"github.com/sukria/koan-sub002/internal/config"
	"github.com/sukria/koan-sub002/internal/domain"
)

// Settings are the tracker's tunables, resolved from config.BudgetConfig
type Settings struct {
	Policy               domain.Policy
	SafetyMargin         float64
	DeepThreshold        float64
	ImplementThreshold   float64
	StopThreshold        float64
	DefaultIterationCost float64
	SessionWindow        time.Duration
	WeeklyWindow         time.Duration
	WeeklyResetDay       time.Weekday
	WeeklyResetHour      int
	SessionTokenLimit    int64
	WeeklyTokenLimit     int64
}

// DefaultSettings mirrors config.Default().Budget
func DefaultSettings() Settings {
	return Settings{
		Policy:               domain.PolicyFull,
		SafetyMargin:         10,
		DeepThreshold:        40,
		ImplementThreshold:   30,
		StopThreshold:        15,
		DefaultIterationCost: 5,
		SessionWindow:        5 * time.Hour,
		WeeklyWindow:         7 * 24 * time.Hour,
		WeeklyResetDay:       time.Monday,
		WeeklyResetHour:      0,
		SessionTokenLimit:    2_000_000,
		WeeklyTokenLimit:     40_000_000,
	}
}

// SettingsFromConfig converts the TOML budget section
func SettingsFromConfig(c config.BudgetConfig) (Settings, error) {
	s := DefaultSettings()
	policy, err := domain.ParsePolicy(c.Policy)
	if err != nil {
		return s, err
	}
	day, err := config.ParseWeekday(c.WeeklyResetDay)
	if err != nil {
		return s, err
	}
	s.Policy = policy
	s.SafetyMargin = c.SafetyMargin
	s.DeepThreshold = c.DeepThreshold
	s.ImplementThreshold = c.ImplementThreshold
	s.StopThreshold = c.StopThreshold
	if c.DefaultIterationCost > 0 {
		s.DefaultIterationCost = c.DefaultIterationCost
	}
	s.SessionWindow = config.Duration(c.SessionWindow, s.SessionWindow)
	s.WeeklyWindow = config.Duration(c.WeeklyWindow, s.WeeklyWindow)
	s.WeeklyResetDay = day
	s.WeeklyResetHour = c.WeeklyResetHour
	s.SessionTokenLimit = c.SessionTokenLimit
	s.WeeklyTokenLimit = c.WeeklyTokenLimit
	return s, nil
}

// UsageSnapshot is the derived, display-oriented view of both windows
type UsageSnapshot struct {
	SessionPct          float64 `json:"session_pct"`
	SessionResetDisplay string  `json:"session_reset_display"`
	WeeklyPct           float64 `json:"weekly_pct"`
	WeeklyResetDisplay  string  `json:"weekly_reset_display"`
}

// Remaining is the usable percentage per window after the safety margin
type Remaining struct {
	Session float64 `json:"session"`
	Weekly  float64 `json:"weekly"`
}

// ModeDecision is the output of Decide
type ModeDecision struct {
	Mode          domain.Mode
	Available     float64
	Reason        string
	Remaining     Remaining
	IterationCost float64
	Policy        domain.Policy
}

// AffordableMode steps Mode down until one iteration fits in Available. The
// disabled policy ignores real usage and keeps the decided mode.
func (d ModeDecision) AffordableMode() domain.Mode {
	mode := d.Mode
	if d.Policy == domain.PolicyDisabled {
		return mode
	}
	for mode != domain.ModeWait && d.IterationCost*mode.CostMultiplier() > d.Available {
		mode = mode.Lower()
	}
	return mode
}

// Tracker owns the budget state of one instance root
type Tracker struct {
	root     string
	settings Settings
	state    State
	report   *Report
	now      func() time.Time
	logger   *slog.Logger
}

// NewTracker creates a tracker with a zero state. Call Refresh to load the
// persisted state and the latest usage report.
func NewTracker(root string, settings Settings, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		root:     root,
		settings: settings,
		now:      time.Now,
		logger:   logger.With("component", "budget"),
	}
}

// SetClock replaces the time source
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// Settings returns the tracker's tunables
func (t *Tracker) Settings() Settings {
	return t.settings
}

// State returns a copy of the current counters
func (t *Tracker) State() State {
	return t.state
}

// SetState replaces the in-memory counters
func (t *Tracker) SetState(s State) {
	s.normalize()
	t.state = s
}

// SetReport replaces the in-memory usage report
func (t *Tracker) SetReport(r *Report) {
	t.report = r
}

// Refresh reloads state and usage report from disk, rolls windows over and
// persists the result. Broken sources degrade to zero usage; the returned
// error is informational only.
func (t *Tracker) Refresh() error {
	err := t.Reload()
	if saveErr := t.Save(); saveErr != nil {
		t.logger.Warn("could not persist budget state", "error", saveErr)
		if err == nil {
			err = saveErr
		}
	}
	return err
}

// Reload is Refresh without persisting: the rollover only happens in memory
func (t *Tracker) Reload() error {
	var errs []error

	state, err := LoadState(t.root)
	if err != nil {
		t.logger.Warn("budget state unreadable, starting fresh", "error", err)
		errs = append(errs, err)
	}
	t.state = state

	report, err := LoadReport(t.root)
	if err != nil {
		t.logger.Warn("usage report unreadable, assuming 0% used", "error", err)
		errs = append(errs, fmt.Errorf("reading usage report: %w", err))
		report = nil
	}
	t.report = report

	t.MaybeRollover(t.now())
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// Save persists the counters
func (t *Tracker) Save() error {
	return SaveState(t.root, t.state)
}

// RecordUsage adds the output's token counters to both windows. Replaying the
// same output is a no-op.
func (t *Tracker) RecordUsage(out assistant.Output) error {
	now := t.now()
	t.MaybeRollover(now)

	id := out.ID()
	if id != "" && id == t.state.LastRecordedID {
		t.logger.Debug("usage already recorded", "output_id", id)
		return nil
	}

	tokens := out.Tokens()
	t.state.SessionConsumed = saturatingAdd(t.state.SessionConsumed, tokens)
	t.state.WeeklyConsumed = saturatingAdd(t.state.WeeklyConsumed, tokens)
	t.state.IterationsInSession++
	t.state.LastRecordedID = id

	t.logger.Info("usage recorded",
		"tokens", tokens,
		"session_consumed", t.state.SessionConsumed,
		"weekly_consumed", t.state.WeeklyConsumed,
		"iterations", t.state.IterationsInSession)
	return t.Save()
}

// MaybeRollover resets any window whose duration elapsed or, for the weekly
// window, whose reset boundary was crossed. It reports whether anything reset.
func (t *Tracker) MaybeRollover(now time.Time) bool {
	changed := false

	if t.state.SessionWindowStart.IsZero() {
		t.state.SessionWindowStart = t.initialStart(now, t.settings.SessionWindow)
		changed = true
	} else if now.Sub(t.state.SessionWindowStart) > t.settings.SessionWindow {
		t.logger.Info("session window rolled over", "started", t.state.SessionWindowStart)
		t.state.SessionWindowStart = now
		t.state.SessionConsumed = 0
		t.state.IterationsInSession = 0
		changed = true
	}

	if t.state.WeeklyWindowStart.IsZero() {
		t.state.WeeklyWindowStart = t.initialStart(now, t.settings.WeeklyWindow)
		changed = true
	} else if now.Sub(t.state.WeeklyWindowStart) > t.settings.WeeklyWindow ||
		t.lastWeeklyBoundary(now).After(t.state.WeeklyWindowStart) {
		t.logger.Info("weekly window rolled over", "started", t.state.WeeklyWindowStart)
		t.state.WeeklyWindowStart = now
		t.state.WeeklyConsumed = 0
		changed = true
	}

	return changed
}

// initialStart lets a fresh state adopt a recent usage report so the first
// decision of a new install still honours it
func (t *Tracker) initialStart(now time.Time, window time.Duration) time.Time {
	if t.report == nil || t.report.CapturedAt.IsZero() {
		return now
	}
	captured := t.report.CapturedAt
	if captured.After(now) || now.Sub(captured) >= window {
		return now
	}
	return captured
}

// lastWeeklyBoundary is the most recent reset instant at or before now
func (t *Tracker) lastWeeklyBoundary(now time.Time) time.Time {
	b := time.Date(now.Year(), now.Month(), now.Day(), t.settings.WeeklyResetHour, 0, 0, 0, now.Location())
	offset := (int(b.Weekday()) - int(t.settings.WeeklyResetDay) + 7) % 7
	b = b.AddDate(0, 0, -offset)
	if b.After(now) {
		b = b.AddDate(0, 0, -7)
	}
	return b
}

func (t *Tracker) sessionPct() float64 {
	pct := counterPct(t.state.SessionConsumed, t.settings.SessionTokenLimit)
	if r := t.report; r != nil && r.HasSession && !r.CapturedAt.Before(t.state.SessionWindowStart) {
		pct = math.Max(pct, r.SessionPct)
	}
	return clampPct(pct)
}

func (t *Tracker) weeklyPct() float64 {
	pct := counterPct(t.state.WeeklyConsumed, t.settings.WeeklyTokenLimit)
	if r := t.report; r != nil && r.HasWeekly && !r.CapturedAt.Before(t.state.WeeklyWindowStart) {
		pct = math.Max(pct, r.WeeklyPct)
	}
	return clampPct(pct)
}

// Snapshot returns percent-used and reset displays for both windows
func (t *Tracker) Snapshot() UsageSnapshot {
	now := t.now()
	t.MaybeRollover(now)

	snap := UsageSnapshot{
		SessionPct:          t.sessionPct(),
		SessionResetDisplay: humanize.Time(t.state.SessionWindowStart.Add(t.settings.SessionWindow)),
		WeeklyPct:           t.weeklyPct(),
		WeeklyResetDisplay:  humanize.Time(t.weeklyEnd()),
	}
	if r := t.report; r != nil {
		if r.SessionReset != "" && !r.CapturedAt.Before(t.state.SessionWindowStart) {
			snap.SessionResetDisplay = r.SessionReset
		}
		if r.WeeklyReset != "" && !r.CapturedAt.Before(t.state.WeeklyWindowStart) {
			snap.WeeklyResetDisplay = r.WeeklyReset
		}
	}
	return snap
}

func (t *Tracker) weeklyEnd() time.Time {
	end := t.state.WeeklyWindowStart.Add(t.settings.WeeklyWindow)
	if next := t.lastWeeklyBoundary(t.state.WeeklyWindowStart).AddDate(0, 0, 7); next.Before(end) {
		return next
	}
	return end
}

// Remaining returns the usable percentage per window
func (t *Tracker) Remaining() Remaining {
	t.MaybeRollover(t.now())
	return RemainingFor(t.sessionPct(), t.weeklyPct(), t.settings)
}

// RemainingFor computes max(0, 100 - pct - margin) per window, replacing
// inactive windows with the generous 100 - margin
func RemainingFor(sessionPct, weeklyPct float64, s Settings) Remaining {
	generous := math.Max(0, 100-s.SafetyMargin)
	r := Remaining{
		Session: math.Max(0, 100-clampPct(sessionPct)-s.SafetyMargin),
		Weekly:  math.Max(0, 100-clampPct(weeklyPct)-s.SafetyMargin),
	}
	switch s.Policy {
	case domain.PolicySessionOnly:
		r.Weekly = generous
	case domain.PolicyDisabled:
		r.Session = generous
		r.Weekly = generous
	}
	return r
}

// EstimateIterationCost is the running average share of the session window
// one iteration consumed, or the configured default before any iteration
func (t *Tracker) EstimateIterationCost() float64 {
	if t.state.IterationsInSession <= 0 {
		return t.settings.DefaultIterationCost
	}
	return t.sessionPct() / float64(t.state.IterationsInSession)
}

// Decide picks the operating mode from the smallest active remaining budget
func (t *Tracker) Decide() ModeDecision {
	now := t.now()
	t.MaybeRollover(now)

	sessionPct, weeklyPct := t.sessionPct(), t.weeklyPct()
	rem := RemainingFor(sessionPct, weeklyPct, t.settings)
	available := math.Min(rem.Session, rem.Weekly)
	mode := ModeFor(available, t.settings)

	return ModeDecision{
		Mode:          mode,
		Available:     available,
		Remaining:     rem,
		IterationCost: t.EstimateIterationCost(),
		Policy:        t.settings.Policy,
		Reason: fmt.Sprintf("session %.0f%% used, weekly %.0f%% used, %.0f%% available (%s policy)",
			sessionPct, weeklyPct, available, t.settings.Policy),
	}
}

// ModeFor maps an available percentage to a mode. A value equal to a
// threshold selects the higher mode.
func ModeFor(available float64, s Settings) domain.Mode {
	switch {
	case available >= s.DeepThreshold:
		return domain.ModeDeep
	case available >= s.ImplementThreshold:
		return domain.ModeImplement
	case available >= s.StopThreshold:
		return domain.ModeReview
	default:
		return domain.ModeWait
	}
}

// CanAffordRun reports whether an iteration in mode fits in available
func (t *Tracker) CanAffordRun(mode domain.Mode, available float64) bool {
	if t.settings.Policy == domain.PolicyDisabled {
		return true
	}
	return t.EstimateIterationCost()*mode.CostMultiplier() <= available
}

// SelectProjectIndex recommends which configured project to work on
func SelectProjectIndex(n int, mode domain.Mode, iteration int) int {
	if n <= 0 {
		return 0
	}
	if mode != domain.ModeImplement {
		return 0
	}
	idx := (iteration - 1) % n
	if idx < 0 {
		idx += n
	}
	return idx
}

func counterPct(consumed, limit int64) float64 {
	if limit <= 0 || consumed <= 0 {
		return 0
	}
	return float64(consumed) / float64(limit) * 100
}

func saturatingAdd(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}
