package budget

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sukria/koan-sub002/internal/assistant"
	"github.com/sukria/koan-sub002/internal/config"
	"github.com/sukria/koan-sub002/internal/domain"
)

// Wednesday, well away from the Monday weekly boundary
var baseNow = time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC)

func newTestTracker(t *testing.T, settings Settings) *Tracker {
	t.Helper()
	tr := NewTracker(t.TempDir(), settings, nil)
	tr.SetClock(func() time.Time { return baseNow })
	return tr
}

func pctState(sessionPct, weeklyPct float64, s Settings) State {
	return State{
		SessionWindowStart: baseNow.Add(-time.Hour),
		SessionConsumed:    int64(sessionPct / 100 * float64(s.SessionTokenLimit)),
		WeeklyWindowStart:  baseNow.Add(-24 * time.Hour),
		WeeklyConsumed:     int64(weeklyPct / 100 * float64(s.WeeklyTokenLimit)),
	}
}

func TestDecide_ThresholdBoundaries(t *testing.T) {
	s := DefaultSettings()
	tests := []struct {
		name      string
		available float64
		want      domain.Mode
	}{
		{"well above deep", 90, domain.ModeDeep},
		{"exactly deep", 40, domain.ModeDeep},
		{"just below deep", 39.99, domain.ModeImplement},
		{"exactly implement", 30, domain.ModeImplement},
		{"just below implement", 29.99, domain.ModeReview},
		{"exactly stop", 15, domain.ModeReview},
		{"just below stop", 14.99, domain.ModeWait},
		{"nothing left", 0, domain.ModeWait},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ModeFor(tt.available, s))
		})
	}
}

func TestDecide_ModeNonIncreasingInUsage(t *testing.T) {
	s := DefaultSettings()
	prev := domain.ModeDeep
	for used := 0.0; used <= 100; used += 0.5 {
		rem := RemainingFor(used, 0, s)
		mode := ModeFor(rem.Session, s)
		require.LessOrEqual(t, mode.Rank(), prev.Rank(), "used=%v", used)
		prev = mode
	}
}

func TestRemainingFor_BoundsAndMonotonicity(t *testing.T) {
	s := DefaultSettings()
	for _, policy := range []domain.Policy{domain.PolicyFull, domain.PolicySessionOnly, domain.PolicyDisabled} {
		s.Policy = policy
		prev := RemainingFor(0, 0, s)
		for p := 0.0; p <= 100; p += 2.5 {
			r := RemainingFor(p, p, s)
			assert.GreaterOrEqual(t, r.Session, 0.0)
			assert.LessOrEqual(t, r.Session, 100-s.SafetyMargin)
			assert.GreaterOrEqual(t, r.Weekly, 0.0)
			assert.LessOrEqual(t, r.Weekly, 100-s.SafetyMargin)
			assert.LessOrEqual(t, r.Session, prev.Session, "policy=%s p=%v", policy, p)
			assert.LessOrEqual(t, r.Weekly, prev.Weekly, "policy=%s p=%v", policy, p)
			prev = r
		}
	}
}

func TestRemainingFor_Policies(t *testing.T) {
	s := DefaultSettings()

	r := RemainingFor(50, 95, s)
	assert.InDelta(t, 40, r.Session, 0.001)
	assert.InDelta(t, 0, r.Weekly, 0.001)

	s.Policy = domain.PolicySessionOnly
	r = RemainingFor(50, 95, s)
	assert.InDelta(t, 40, r.Session, 0.001)
	assert.InDelta(t, 90, r.Weekly, 0.001)

	s.Policy = domain.PolicyDisabled
	r = RemainingFor(100, 100, s)
	assert.InDelta(t, 90, r.Session, 0.001)
	assert.InDelta(t, 90, r.Weekly, 0.001)
}

func TestDecide_SessionAndWeeklyMix(t *testing.T) {
	s := DefaultSettings()
	tr := newTestTracker(t, s)
	tr.SetState(pctState(25, 60, s))

	d := tr.Decide()
	assert.Equal(t, domain.ModeImplement, d.Mode)
	assert.InDelta(t, 30, d.Available, 0.001)
	assert.InDelta(t, 65, d.Remaining.Session, 0.001)
	assert.Contains(t, d.Reason, "full policy")
}

func TestDecide_DisabledPolicyForcesDeep(t *testing.T) {
	s := DefaultSettings()
	s.Policy = domain.PolicyDisabled
	tr := newTestTracker(t, s)
	tr.SetState(pctState(99, 99, s))

	assert.Equal(t, domain.ModeDeep, tr.Decide().Mode)
}

func TestAffordableMode_DisabledPolicyIgnoresRealCost(t *testing.T) {
	s := DefaultSettings()
	s.Policy = domain.PolicyDisabled
	tr := newTestTracker(t, s)
	state := pctState(100, 100, s)
	state.IterationsInSession = 1
	tr.SetState(state)

	d := tr.Decide()
	require.Equal(t, domain.ModeDeep, d.Mode)
	assert.InDelta(t, 100, d.IterationCost, 0.001)
	assert.Equal(t, domain.ModeDeep, d.AffordableMode())
	assert.True(t, tr.CanAffordRun(domain.ModeDeep, d.Available))

	// the same cost under the full policy steps down
	d.Policy = domain.PolicyFull
	d.Available = 90
	assert.Equal(t, domain.ModeReview, d.AffordableMode())
}

func TestDecide_RolloverClearsStaleUsage(t *testing.T) {
	s := DefaultSettings()
	tr := newTestTracker(t, s)
	tr.SetState(State{
		SessionWindowStart:  baseNow.Add(-6 * time.Hour),
		SessionConsumed:     s.SessionTokenLimit,
		WeeklyWindowStart:   baseNow.Add(-6 * time.Hour),
		IterationsInSession: 12,
	})

	d := tr.Decide()
	assert.Equal(t, domain.ModeDeep, d.Mode)
	assert.Equal(t, int64(0), tr.State().SessionConsumed)
	assert.Equal(t, 0, tr.State().IterationsInSession)
	assert.Equal(t, baseNow, tr.State().SessionWindowStart)
}

func TestMaybeRollover_WeeklyBoundary(t *testing.T) {
	s := DefaultSettings()
	tr := newTestTracker(t, s)
	// Started Sunday, now Wednesday: the Monday 00:00 boundary was crossed
	tr.SetState(State{
		SessionWindowStart: baseNow.Add(-time.Hour),
		WeeklyWindowStart:  time.Date(2026, 3, 8, 18, 0, 0, 0, time.UTC),
		WeeklyConsumed:     1000,
	})

	require.True(t, tr.MaybeRollover(baseNow))
	assert.Equal(t, int64(0), tr.State().WeeklyConsumed)
	assert.Equal(t, baseNow, tr.State().WeeklyWindowStart)

	// Started Monday after the boundary: no reset
	tr.SetState(State{
		SessionWindowStart: baseNow.Add(-time.Hour),
		WeeklyWindowStart:  time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC),
		WeeklyConsumed:     1000,
	})
	assert.False(t, tr.MaybeRollover(baseNow))
	assert.Equal(t, int64(1000), tr.State().WeeklyConsumed)
}

func TestLastWeeklyBoundary(t *testing.T) {
	s := DefaultSettings()
	s.WeeklyResetDay = time.Wednesday
	s.WeeklyResetHour = 14
	tr := newTestTracker(t, s)

	// Wednesday 12:00 is before this week's 14:00 reset
	assert.Equal(t, time.Date(2026, 3, 4, 14, 0, 0, 0, time.UTC), tr.lastWeeklyBoundary(baseNow))
	assert.Equal(t, time.Date(2026, 3, 11, 14, 0, 0, 0, time.UTC),
		tr.lastWeeklyBoundary(baseNow.Add(3*time.Hour)))
}

func TestRecordUsage_AddsAndDedupes(t *testing.T) {
	tr := newTestTracker(t, DefaultSettings())
	require.NoError(t, tr.Refresh())

	out := assistant.ParseOutput([]byte(`{"result":"ok","session_id":"s-1","usage":{"input_tokens":1000,"output_tokens":500}}`))
	require.NoError(t, tr.RecordUsage(out))
	require.NoError(t, tr.RecordUsage(out))

	st := tr.State()
	assert.Equal(t, int64(1500), st.SessionConsumed)
	assert.Equal(t, int64(1500), st.WeeklyConsumed)
	assert.Equal(t, 1, st.IterationsInSession)

	other := assistant.ParseOutput([]byte(`{"result":"ok","session_id":"s-2","input_tokens":-40,"output_tokens":10}`))
	require.NoError(t, tr.RecordUsage(other))
	assert.Equal(t, int64(1510), tr.State().SessionConsumed)
	assert.Equal(t, 2, tr.State().IterationsInSession)

	persisted, err := LoadState(tr.root)
	require.NoError(t, err)
	assert.Equal(t, tr.State().SessionConsumed, persisted.SessionConsumed)
	assert.Equal(t, other.ID(), persisted.LastRecordedID)
	assert.True(t, strings.HasPrefix(persisted.LastRecordedID, "s-2:"))
}

func TestRefresh_CorruptStateFailsOpen(t *testing.T) {
	tr := newTestTracker(t, DefaultSettings())
	require.NoError(t, os.WriteFile(filepath.Join(tr.root, StateFile), []byte("{not json"), 0o644))

	err := tr.Refresh()
	require.Error(t, err)
	assert.Equal(t, int64(0), tr.State().SessionConsumed)
	assert.Equal(t, domain.ModeDeep, tr.Decide().Mode)
}

func TestRefresh_HonoursFreshReport(t *testing.T) {
	tr := newTestTracker(t, DefaultSettings())
	path := filepath.Join(tr.root, ReportFile)
	require.NoError(t, os.WriteFile(path, []byte("Session (5hr) : 75% (resets in 2h)\nWeekly (7 day) : 20% (Resets Mon 9am)\n"), 0o644))
	captured := baseNow.Add(-10 * time.Minute)
	require.NoError(t, os.Chtimes(path, captured, captured))

	require.NoError(t, tr.Refresh())
	snap := tr.Snapshot()
	assert.InDelta(t, 75, snap.SessionPct, 0.001)
	assert.InDelta(t, 20, snap.WeeklyPct, 0.001)
	assert.Equal(t, "resets in 2h", snap.SessionResetDisplay)
	assert.Equal(t, "Resets Mon 9am", snap.WeeklyResetDisplay)
	assert.Equal(t, domain.ModeReview, tr.Decide().Mode)
}

func TestSnapshot_IgnoresReportOlderThanWindow(t *testing.T) {
	s := DefaultSettings()
	tr := newTestTracker(t, s)
	tr.SetState(pctState(10, 10, s))
	tr.SetReport(&Report{SessionPct: 99, HasSession: true, CapturedAt: baseNow.Add(-2 * time.Hour)})

	snap := tr.Snapshot()
	assert.InDelta(t, 10, snap.SessionPct, 0.5)
	assert.NotEmpty(t, snap.SessionResetDisplay)
}

func TestEstimateIterationCost(t *testing.T) {
	s := DefaultSettings()
	tr := newTestTracker(t, s)
	assert.Equal(t, 5.0, tr.EstimateIterationCost())

	st := pctState(30, 0, s)
	st.IterationsInSession = 3
	tr.SetState(st)
	assert.InDelta(t, 10, tr.EstimateIterationCost(), 0.001)

	assert.True(t, tr.CanAffordRun(domain.ModeImplement, 10))
	assert.False(t, tr.CanAffordRun(domain.ModeDeep, 19.9))
	assert.True(t, tr.CanAffordRun(domain.ModeReview, 5))
}

func TestSelectProjectIndex(t *testing.T) {
	tests := []struct {
		n         int
		mode      domain.Mode
		iteration int
		want      int
	}{
		{0, domain.ModeImplement, 5, 0},
		{3, domain.ModeDeep, 5, 0},
		{3, domain.ModeReview, 5, 0},
		{3, domain.ModeImplement, 1, 0},
		{3, domain.ModeImplement, 2, 1},
		{3, domain.ModeImplement, 4, 0},
		{3, domain.ModeImplement, 0, 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SelectProjectIndex(tt.n, tt.mode, tt.iteration), "%+v", tt)
	}
}

func TestSettingsFromConfig(t *testing.T) {
	cfg := config.Default().Budget
	cfg.Policy = "session-only"
	cfg.WeeklyResetDay = "friday"
	cfg.SessionWindow = "4h"

	s, err := SettingsFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, domain.PolicySessionOnly, s.Policy)
	assert.Equal(t, time.Friday, s.WeeklyResetDay)
	assert.Equal(t, 4*time.Hour, s.SessionWindow)

	cfg.Policy = "sometimes"
	_, err = SettingsFromConfig(cfg)
	require.Error(t, err)
}
