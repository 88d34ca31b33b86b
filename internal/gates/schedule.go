package gates

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ScheduleFile is the operator's hours definition under the instance root
const ScheduleFile = "schedule.yaml"

// Window is a recurring daily time range, optionally limited to some days
type Window struct {
	Days  []string `yaml:"days,omitempty"`
	Hours string   `yaml:"hours"`

	days       map[time.Weekday]bool
	start, end int // minutes since midnight
}

// Schedule is the parsed schedule.yaml
type Schedule struct {
	DeepHours []Window `yaml:"deep_hours"`
	WorkHours []Window `yaml:"work_hours"`
}

// ScheduleState is the gate reading at one instant
type ScheduleState struct {
	InDeepHours bool
	InWorkHours bool
}

// ParseSchedule decodes and validates schedule YAML
func ParseSchedule(data []byte) (*Schedule, error) {
	var s Schedule
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", ScheduleFile, err)
	}
	for i := range s.DeepHours {
		if err := s.DeepHours[i].compile(); err != nil {
			return nil, fmt.Errorf("deep_hours[%d]: %w", i, err)
		}
	}
	for i := range s.WorkHours {
		if err := s.WorkHours[i].compile(); err != nil {
			return nil, fmt.Errorf("work_hours[%d]: %w", i, err)
		}
	}
	return &s, nil
}

func (w *Window) compile() error {
	from, to, ok := strings.Cut(w.Hours, "-")
	if !ok {
		return fmt.Errorf("hours %q: want HH:MM-HH:MM", w.Hours)
	}
	var err error
	if w.start, err = parseClock(from); err != nil {
		return err
	}
	if w.end, err = parseClock(to); err != nil {
		return err
	}
	if len(w.Days) == 0 {
		return nil
	}
	w.days = make(map[time.Weekday]bool, len(w.Days))
	for _, name := range w.Days {
		d, err := parseDay(name)
		if err != nil {
			return err
		}
		w.days[d] = true
	}
	return nil
}

func parseClock(s string) (int, error) {
	s = strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		mm = "0"
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	return h*60 + m, nil
}

func parseDay(name string) (time.Weekday, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if len(n) >= 3 {
		for d := time.Sunday; d <= time.Saturday; d++ {
			if strings.HasPrefix(strings.ToLower(d.String()), n) {
				return d, nil
			}
		}
	}
	return 0, fmt.Errorf("unknown day %q", name)
}

func (w *Window) onDay(d time.Weekday) bool {
	return w.days == nil || w.days[d]
}

// Contains reports whether t falls inside the window. A range whose end is
// before its start wraps past midnight and belongs to the day it starts on.
func (w *Window) Contains(t time.Time) bool {
	m := t.Hour()*60 + t.Minute()
	today := t.Weekday()
	yesterday := (today + 6) % 7

	switch {
	case w.start == w.end:
		return w.onDay(today)
	case w.start < w.end:
		return w.onDay(today) && m >= w.start && m < w.end
	default:
		return (w.onDay(today) && m >= w.start) || (w.onDay(yesterday) && m < w.end)
	}
}

// State evaluates the schedule at now
func (s *Schedule) State(now time.Time) ScheduleState {
	if s == nil {
		return ScheduleState{}
	}
	var st ScheduleState
	for i := range s.DeepHours {
		if s.DeepHours[i].Contains(now) {
			st.InDeepHours = true
		}
	}
	for i := range s.WorkHours {
		if s.WorkHours[i].Contains(now) {
			st.InWorkHours = true
		}
	}
	return st
}

// ScheduleGate reads schedule.yaml from the instance root
type ScheduleGate struct {
	Root string
}

// Load returns the schedule, or nil when the file does not exist
func (g *ScheduleGate) Load() (*Schedule, error) {
	data, err := os.ReadFile(filepath.Join(g.Root, ScheduleFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", ScheduleFile, err)
	}
	return ParseSchedule(data)
}

// State evaluates the schedule at now. A missing or malformed file yields
// both flags false; the error is returned for logging.
func (g *ScheduleGate) State(now time.Time) (ScheduleState, error) {
	s, err := g.Load()
	if err != nil {
		return ScheduleState{}, err
	}
	return s.State(now), nil
}
