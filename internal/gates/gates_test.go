package gates

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFocusGate_Lifecycle(t *testing.T) {
	g := &FocusGate{Root: t.TempDir()}
	now := time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC)

	st, err := g.State(now)
	require.NoError(t, err)
	assert.False(t, st.Active)

	_, err = g.Start(90*time.Minute, "release week", now)
	require.NoError(t, err)

	st, err = g.State(now.Add(5 * time.Minute))
	require.NoError(t, err)
	assert.True(t, st.Active)
	assert.Equal(t, 85*time.Minute, st.Remaining)
	assert.Equal(t, "1h25m", st.RemainingDisplay)
	assert.Equal(t, "release week", st.Reason)

	st, err = g.State(now.Add(90 * time.Minute))
	require.NoError(t, err)
	assert.False(t, st.Active, "expired focus must be inactive")

	require.NoError(t, g.Stop())
	require.NoError(t, g.Stop())
	st, err = g.State(now)
	require.NoError(t, err)
	assert.False(t, st.Active)

	_, err = g.Start(0, "", now)
	assert.Error(t, err)
}

func TestFocusGate_CorruptRecord(t *testing.T) {
	g := &FocusGate{Root: t.TempDir()}
	require.NoError(t, os.WriteFile(filepath.Join(g.Root, FocusFile), []byte("nope"), 0o644))

	st, err := g.State(time.Now())
	assert.Error(t, err)
	assert.False(t, st.Active)
}

func TestFormatRemaining(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{30 * time.Second, "30s"},
		{40 * time.Minute, "40m"},
		{2 * time.Hour, "2h"},
		{125 * time.Minute, "2h05m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatRemaining(tt.d))
	}
}

const scheduleYAML = `
deep_hours:
  - days: [sat, sunday]
    hours: "08:00-12:00"
work_hours:
  - days: [mon, tue, wed, thu, fri]
    hours: "09:00-18:00"
  - days: [fri]
    hours: "22:00-02:00"
`

func TestSchedule_State(t *testing.T) {
	s, err := ParseSchedule([]byte(scheduleYAML))
	require.NoError(t, err)

	at := func(day, hour, minute int) time.Time {
		// March 2026: the 9th is a Monday
		return time.Date(2026, 3, day, hour, minute, 0, 0, time.UTC)
	}
	tests := []struct {
		name string
		t    time.Time
		want ScheduleState
	}{
		{"weekday office hours", at(11, 10, 0), ScheduleState{InWorkHours: true}},
		{"weekday end is exclusive", at(11, 18, 0), ScheduleState{}},
		{"saturday morning", at(14, 9, 30), ScheduleState{InDeepHours: true}},
		{"friday late", at(13, 23, 0), ScheduleState{InWorkHours: true}},
		{"wrap continues saturday", at(14, 1, 59), ScheduleState{InWorkHours: true}},
		{"wrap ends", at(14, 2, 0), ScheduleState{}},
		{"wrap is friday only", at(12, 23, 0), ScheduleState{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.State(tt.t))
		})
	}
}

func TestSchedule_Invalid(t *testing.T) {
	for _, doc := range []string{
		"deep_hours: [{hours: \"9-\"}]",
		"work_hours: [{hours: \"09:00\"}]",
		"work_hours: [{days: [funday], hours: \"09:00-10:00\"}]",
		"work_hours: [{hours: \"25:00-26:00\"}]",
		"deep_hours: {",
	} {
		_, err := ParseSchedule([]byte(doc))
		assert.Error(t, err, doc)
	}
}

func TestScheduleGate_MissingAndMalformed(t *testing.T) {
	root := t.TempDir()
	g := &ScheduleGate{Root: root}

	st, err := g.State(time.Now())
	require.NoError(t, err)
	assert.Equal(t, ScheduleState{}, st)

	require.NoError(t, os.WriteFile(filepath.Join(root, ScheduleFile), []byte("work_hours: [{hours: nonsense}]"), 0o644))
	st, err = g.State(time.Now())
	assert.Error(t, err)
	assert.Equal(t, ScheduleState{}, st)

	require.NoError(t, os.WriteFile(filepath.Join(root, ScheduleFile), []byte("work_hours: [{hours: \"00:00-00:00\"}]"), 0o644))
	st, err = g.State(time.Now())
	require.NoError(t, err)
	assert.True(t, st.InWorkHours)
}
