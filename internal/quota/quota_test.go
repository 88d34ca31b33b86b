package quota

import (
	"math/rand/v2"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sukria/koan-sub002/internal/domain"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		texts []string
		want  bool
	}{
		{[]string{"You're out of extra usage · resets 10am (Europe/Paris)"}, true},
		{[]string{"", "Claude AI usage limit reached|1700000000"}, true},
		{[]string{"You’ve hit your limit"}, true},
		{[]string{"Error: Credit balance is too low"}, true},
		{[]string{"all good", "warning: deprecated flag"}, false},
		{nil, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Detect(tt.texts...), "%q", tt.texts)
	}
}

func TestExtractResetHint(t *testing.T) {
	tests := []struct {
		texts []string
		want  string
	}{
		{[]string{"You're out of extra usage · resets 10am (Europe/Paris)"}, "resets 10am (Europe/Paris)"},
		{[]string{"limit hit", "Your limit resets in 2h. Try later"}, "resets in 2h"},
		{[]string{"resets Jan 5, 3pm (America/New_York) bye"}, "resets Jan 5, 3pm (America/New_York)"},
		{[]string{"no hint"}, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExtractResetHint(tt.texts...), "%q", tt.texts)
	}
}

func TestComputeResumeTimestamp_Zoned(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)

	// 09:00 in Paris: 10am is later today
	now := time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC)
	at, display := ComputeResumeTimestamp("resets 10am (Europe/Paris)", now, 0)
	assert.Equal(t, time.Date(2026, 3, 11, 10, 0, 0, 0, paris), at.In(paris))
	assert.Contains(t, display, "10:00")

	// 10:30 in Paris: 10am already passed, roll to tomorrow
	now = time.Date(2026, 3, 11, 9, 30, 0, 0, time.UTC)
	at, _ = ComputeResumeTimestamp("resets 10am (Europe/Paris)", now, 0)
	assert.Equal(t, time.Date(2026, 3, 12, 10, 0, 0, 0, paris), at.In(paris))
}

func TestComputeResumeTimestamp_Forms(t *testing.T) {
	now := time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		hint string
		want time.Time
	}{
		{"resets in 2h", now.Add(2 * time.Hour)},
		{"resets in 45 minutes", now.Add(45 * time.Minute)},
		{"in 1h 30m", now.Add(90 * time.Minute)},
		{"resets 14:30", time.Date(2026, 3, 11, 14, 30, 0, 0, time.UTC)},
		{"resets at 10:30pm", time.Date(2026, 3, 11, 22, 30, 0, 0, time.UTC)},
		{"resets 9am", time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)},
		{"resets 12am", time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)},
		{"resets Mar 20, 3pm", time.Date(2026, 3, 20, 15, 0, 0, 0, time.UTC)},
		{"resets Jan 5 at 3pm", time.Date(2027, 1, 5, 15, 0, 0, 0, time.UTC)},
		{"Resets Mon 9am", time.Date(2026, 3, 16, 9, 0, 0, 0, time.UTC)},
		{"resets 1pm (Mars/Olympus)", time.Date(2026, 3, 11, 13, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.hint, func(t *testing.T) {
			at, _ := ComputeResumeTimestamp(tt.hint, now, time.Hour)
			assert.True(t, tt.want.Equal(at), "got %v, want %v", at, tt.want)
		})
	}
}

func TestComputeResumeTimestamp_Fallbacks(t *testing.T) {
	now := time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC)
	for _, hint := range []string{"", "garbage", "resets soon", "resets 10", "resets 25:00", "resets in 0h", "resets Foo 5, 3pm"} {
		at, _ := ComputeResumeTimestamp(hint, now, 0)
		assert.Equal(t, now.Add(DefaultResumeDelay), at, "hint %q", hint)
	}

	at, _ := ComputeResumeTimestamp("garbage", now, 20*time.Minute)
	assert.Equal(t, now.Add(20*time.Minute), at)
}

func TestComputeResumeTimestamp_AlwaysInFuture(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 42))
	fixed := []string{
		"", "resets", "resets in -2h", "resets 10am (Europe/Paris)", "resets 11:59pm (Pacific/Kiritimati)",
		"resets 12:00am (Etc/GMT+12)", "resets Jan 1, 12am", "resets Dec 31 11:59pm", "resets Sun 12am",
		"resets in 0 minutes", "resets 00:00", "resets 23:59", "(UTC)", "resets Feb 30 1pm",
	}
	zones := []string{"UTC", "Europe/Paris", "Asia/Tokyo", "America/Los_Angeles", "Pacific/Apia", "Bogus/Zone"}
	for i := 0; i < 500; i++ {
		now := time.Unix(rng.Int64N(4_000_000_000), rng.Int64N(1e9)).UTC()
		var hint string
		switch i % 3 {
		case 0:
			hint = fixed[rng.IntN(len(fixed))]
		case 1:
			hint = "resets " + randomClock(rng) + " (" + zones[rng.IntN(len(zones))] + ")"
		default:
			hint = randomGarbage(rng)
		}
		at, display := ComputeResumeTimestamp(hint, now, 0)
		require.True(t, at.After(now), "hint %q at %v produced %v", hint, now, at)
		require.NotEmpty(t, display)
	}
}

func randomClock(rng *rand.Rand) string {
	switch rng.IntN(3) {
	case 0:
		return time.Date(2000, 1, 1, rng.IntN(24), rng.IntN(60), 0, 0, time.UTC).Format("15:04")
	case 1:
		return time.Date(2000, 1, 1, rng.IntN(24), 0, 0, 0, time.UTC).Format("3pm")
	default:
		return "in " + time.Duration(rng.IntN(600)*int(time.Minute)).String()
	}
}

func randomGarbage(rng *rand.Rand) string {
	const alphabet = "resets 0123456789:apm()/ inhdm,"
	b := make([]byte, rng.IntN(30))
	for i := range b {
		b[i] = alphabet[rng.IntN(len(alphabet))]
	}
	return string(b)
}

func TestPauseStore(t *testing.T) {
	store := &PauseStore{Root: t.TempDir()}
	now := time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC)

	rec, err := store.Read()
	require.NoError(t, err)
	assert.Nil(t, rec)

	rec, err = store.Pause(domain.PauseManual, now.Add(-time.Minute), "stale", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(DefaultResumeDelay), rec.ResumeAt)

	got, resumed, err := store.CheckResume(now.Add(30 * time.Minute))
	require.NoError(t, err)
	assert.False(t, resumed)
	require.NotNil(t, got)
	assert.Equal(t, domain.PauseManual, got.Reason)

	got, resumed, err = store.CheckResume(now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, resumed)
	assert.NotNil(t, got)

	rec, err = store.Read()
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestPauseStore_CorruptRecordIsCleared(t *testing.T) {
	store := &PauseStore{Root: t.TempDir()}
	require.NoError(t, os.WriteFile(store.path(), []byte("{"), 0o644))

	_, resumed, err := store.CheckResume(time.Now())
	assert.Error(t, err)
	assert.True(t, resumed)

	rec, err := store.Read()
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestGuard_OnExhaustion(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC)
	g := NewGuard(root, time.Hour, nil)
	g.SetClock(func() time.Time { return now })

	ex, ok := g.OnExhaustion(ExhaustionContext{Project: "koan", Iteration: 7, Output: "all fine"})
	assert.False(t, ok)
	assert.Nil(t, ex)

	ex, ok = g.OnExhaustion(ExhaustionContext{
		Project:   "koan",
		Iteration: 7,
		Output:    "You're out of extra usage · resets 10am (Europe/Paris)",
	})
	require.True(t, ok)
	assert.Equal(t, "resets 10am (Europe/Paris)", ex.DisplayReset)
	assert.True(t, ex.ResumeAt.After(now))
	assert.Contains(t, ex.ResumeMessage, "resuming at")
	assert.Contains(t, ex.ResumeMessage, "10am")
	assert.Contains(t, ex.ResumeMessage, "(Europe/Paris)")
	// 10am in Paris is 09:00 UTC
	assert.True(t, ex.ResumeAt.Equal(time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)), "ResumeAt = %v", ex.ResumeAt)
	assert.Contains(t, ex.ResumeMessage, "10:00 CET")

	rec, err := g.Pauses.Read()
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, domain.PauseQuota, rec.Reason)
	assert.True(t, rec.ResumeAt.Equal(ex.ResumeAt))

	note, err := os.ReadFile(g.Journal.Path("koan", now))
	require.NoError(t, err)
	assert.Contains(t, string(note), "iteration: 7")
	assert.Contains(t, string(note), "resets 10am (Europe/Paris)")
	assert.Contains(t, string(note), ex.ResumeMessage)

	// a second note appends
	ex, ok = g.OnExhaustion(ExhaustionContext{Project: "koan", Iteration: 8, Stderr: "usage limit reached"})
	require.True(t, ok)
	assert.Equal(t, "Quota exhausted, resuming at 09:00 UTC (1 hour from now)", ex.ResumeMessage)
	note, err = os.ReadFile(g.Journal.Path("koan", now))
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(note), "Quota exhausted\n"))
}
