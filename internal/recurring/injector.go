package recurring

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/sukria/koan-sub002/internal/fsutil"
	"github.com/sukria/koan-sub002/internal/missions"
)

// StateFile records the last injection time of each definition
const StateFile = ".recurring-state.json"

// lookBack is how far back a never-run definition searches for a due slot
const lookBack = 24 * time.Hour

type injectionState struct {
	LastRun map[string]time.Time `json:"last_run"`
}

// Upcoming is a definition's next scheduled injection
type Upcoming struct {
	Name    string
	Text    string
	Project string
	Next    time.Time
	Enabled bool
}

// Injector enqueues due recurring missions
type Injector struct {
	root   string
	store  *missions.Store
	logger *slog.Logger
}

// NewInjector creates an injector for an instance root
func NewInjector(root string, store *missions.Store, logger *slog.Logger) *Injector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Injector{root: root, store: store, logger: logger.With("component", "recurring")}
}

func (i *Injector) loadState() injectionState {
	st := injectionState{LastRun: make(map[string]time.Time)}
	if _, err := fsutil.ReadJSON(filepath.Join(i.root, StateFile), &st); err != nil {
		i.logger.Warn("recurring state unreadable, starting fresh", "error", err)
		st = injectionState{}
	}
	if st.LastRun == nil {
		st.LastRun = make(map[string]time.Time)
	}
	return st
}

// InjectDue enqueues every enabled definition whose next slot after its last
// injection is at or before now. Definitions already pending are not queued
// twice. It returns "<name>: <text>" for each injected mission.
func (i *Injector) InjectDue(now time.Time) ([]string, error) {
	cfg, err := LoadConfig(filepath.Join(i.root, ConfigFile))
	if err != nil {
		return nil, err
	}
	if len(cfg.Missions) == 0 {
		return nil, nil
	}

	st := i.loadState()
	var injected []string
	changed := false

	for _, def := range dueDefinitions(cfg, st, now) {
		text, err := i.store.Load()
		if err != nil {
			return injected, fmt.Errorf("reading missions: %w", err)
		}
		if missions.HasPending(text, def.Text) {
			i.logger.Debug("recurring mission already pending", "name", def.Name)
		} else {
			if err := i.store.Enqueue(def.Text, def.Project); err != nil {
				return injected, fmt.Errorf("enqueueing %s: %w", def.Name, err)
			}
			injected = append(injected, def.Name+": "+def.Text)
			i.logger.Info("recurring mission injected", "name", def.Name, "project", def.Project)
		}
		st.LastRun[def.Name] = now
		changed = true
	}

	if changed {
		if err := fsutil.WriteJSON(filepath.Join(i.root, StateFile), st); err != nil {
			return injected, fmt.Errorf("writing recurring state: %w", err)
		}
	}
	return injected, nil
}

// Due lists the enabled definitions whose next slot after their last
// injection is at or before now. It writes nothing.
func (i *Injector) Due(now time.Time) ([]Definition, error) {
	cfg, err := LoadConfig(filepath.Join(i.root, ConfigFile))
	if err != nil {
		return nil, err
	}
	return dueDefinitions(cfg, i.loadState(), now), nil
}

func dueDefinitions(cfg *Config, st injectionState, now time.Time) []Definition {
	var due []Definition
	for _, def := range cfg.Missions {
		if !def.IsEnabled() {
			continue
		}
		sched, err := ParseCron(def.Cron)
		if err != nil {
			continue
		}
		lastRun := st.LastRun[def.Name]
		if lastRun.IsZero() {
			lastRun = now.Add(-lookBack)
		}
		if sched.Next(lastRun).After(now) {
			continue
		}
		due = append(due, def)
	}
	return due
}

// NextRuns lists the next injection slot of every definition, soonest first
func (i *Injector) NextRuns(now time.Time) ([]Upcoming, error) {
	cfg, err := LoadConfig(filepath.Join(i.root, ConfigFile))
	if err != nil {
		return nil, err
	}
	st := i.loadState()

	out := make([]Upcoming, 0, len(cfg.Missions))
	for _, def := range cfg.Missions {
		sched, err := ParseCron(def.Cron)
		if err != nil {
			continue
		}
		from := now
		if last := st.LastRun[def.Name]; last.After(now) {
			from = last
		}
		out = append(out, Upcoming{
			Name:    def.Name,
			Text:    def.Text,
			Project: def.Project,
			Next:    sched.Next(from),
			Enabled: def.IsEnabled(),
		})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Next.Before(out[b].Next) })
	return out, nil
}
