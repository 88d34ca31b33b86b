package history

import (
	"errors"
	"testing"
	"time"

	"github.com/sukria/koan-sub002/internal/domain"
)

var t0 = time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_RecordAndFinish(t *testing.T) {
	store := newStore(t)

	it := &domain.Iteration{
		StartedAt:    t0,
		Action:       domain.ActionMission,
		Mode:         domain.ModeDeep,
		Project:      "koan",
		Mission:      "speed up the parser",
		AvailablePct: 72.5,
	}
	if err := store.Record(it); err != nil {
		t.Fatal(err)
	}
	if it.ID == "" {
		t.Fatal("Record should assign an ID")
	}

	got, err := store.Get(it.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.FinishedAt != nil {
		t.Errorf("FinishedAt = %v, want nil", got.FinishedAt)
	}
	if !got.StartedAt.Equal(t0) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, t0)
	}
	if got.Mission != it.Mission || got.Mode != domain.ModeDeep || got.AvailablePct != 72.5 {
		t.Errorf("got %+v", got)
	}

	end := t0.Add(12 * time.Minute)
	if err := store.Finish(it.ID, end, Outcome{TokensInput: 1200, TokensOutput: 300}); err != nil {
		t.Fatal(err)
	}
	got, err = store.Get(it.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.FinishedAt == nil || got.Duration() != 12*time.Minute {
		t.Errorf("Duration = %v, want 12m", got.Duration())
	}
	if got.TokensInput != 1200 || got.TokensOutput != 300 {
		t.Errorf("tokens = %d/%d, want 1200/300", got.TokensInput, got.TokensOutput)
	}
}

func TestStore_UnknownID(t *testing.T) {
	store := newStore(t)

	if _, err := store.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get error = %v, want ErrNotFound", err)
	}
	if err := store.Finish("nope", t0, Outcome{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Finish error = %v, want ErrNotFound", err)
	}
}

func TestStore_RecentAndTotals(t *testing.T) {
	store := newStore(t)

	records := []struct {
		offset time.Duration
		action domain.Action
		out    Outcome
	}{
		{0, domain.ActionMission, Outcome{TokensInput: 100, TokensOutput: 10}},
		{time.Hour, domain.ActionAutonomous, Outcome{TokensInput: 200, TokensOutput: 20, QuotaExhausted: true}},
		{2 * time.Hour, domain.ActionMission, Outcome{TokensInput: 300, TokensOutput: 30, Error: "exit status 1"}},
		{3 * time.Hour, domain.ActionContemplative, Outcome{TokensInput: 400, TokensOutput: 40}},
	}
	for _, r := range records {
		it := &domain.Iteration{StartedAt: t0.Add(r.offset), Action: r.action, Mode: domain.ModeImplement}
		if err := store.Record(it); err != nil {
			t.Fatal(err)
		}
		if err := store.Finish(it.ID, it.StartedAt.Add(time.Minute), r.out); err != nil {
			t.Fatal(err)
		}
	}

	recent, err := store.Recent(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 {
		t.Fatalf("Recent(2) = %d items", len(recent))
	}
	if recent[0].Action != domain.ActionContemplative || recent[1].Error != "exit status 1" {
		t.Errorf("Recent order wrong: %s, %s", recent[0].Action, recent[1].Action)
	}

	n, err := store.CountSince(t0.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("CountSince = %d, want 3", n)
	}

	totals, err := store.TotalsSince(t0)
	if err != nil {
		t.Fatal(err)
	}
	want := domain.UsageTotals{
		Iterations:   4,
		TokensInput:  1000,
		TokensOutput: 100,
		QuotaPauses:  1,
		MissionsRun:  2,
		Errors:       1,
	}
	if totals != want {
		t.Errorf("TotalsSince = %+v, want %+v", totals, want)
	}

	empty, err := store.TotalsSince(t0.Add(24 * time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if empty != (domain.UsageTotals{}) {
		t.Errorf("TotalsSince(future) = %+v, want zero", empty)
	}
}

func TestStore_TimezonesCompare(t *testing.T) {
	store := newStore(t)
	paris, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Skip("no tzdata")
	}

	// 10:30 Paris is 09:30 UTC in March
	it := &domain.Iteration{StartedAt: time.Date(2026, 3, 11, 10, 30, 0, 0, paris), Action: domain.ActionAutonomous, Mode: domain.ModeReview}
	if err := store.Record(it); err != nil {
		t.Fatal(err)
	}
	n, err := store.CountSince(t0.Add(20 * time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("CountSince across zones = %d, want 1", n)
	}
}
