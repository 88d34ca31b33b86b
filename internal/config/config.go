package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/sukria/koan-sub002/internal/domain"
)

// LocalConfigName is the per-checkout config file searched upward from cwd
const LocalConfigName = "koan.toml"

// ErrInvalid is returned by Validate for unusable settings
var ErrInvalid = errors.New("invalid configuration")

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Budget        BudgetConfig        `toml:"budget"`
	Contemplative ContemplativeConfig `toml:"contemplative"`
	Quota         QuotaConfig         `toml:"quota"`
	Missions      MissionsConfig      `toml:"missions"`
	Assistant     AssistantConfig     `toml:"assistant"`
	Admission     AdmissionConfig     `toml:"admission"`
	Notifications NotificationsConfig `toml:"notifications"`
	Projects      []domain.Project    `toml:"projects"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	InstanceRoot      string `toml:"instance_root"`
	PollInterval      string `toml:"poll_interval"`
	MaxRunsPerSession int    `toml:"max_runs_per_session"`
}

// BudgetConfig holds the budget policy and mode thresholds
type BudgetConfig struct {
	Policy               string  `toml:"policy"`
	SafetyMargin         float64 `toml:"safety_margin"`
	DeepThreshold        float64 `toml:"deep_threshold"`
	ImplementThreshold   float64 `toml:"implement_threshold"`
	StopThreshold        float64 `toml:"stop_threshold"`
	DefaultIterationCost float64 `toml:"default_iteration_cost"`
	SessionWindow        string  `toml:"session_window"`
	WeeklyWindow         string  `toml:"weekly_window"`
	WeeklyResetDay       string  `toml:"weekly_reset_day"`
	WeeklyResetHour      int     `toml:"weekly_reset_hour"`
	SessionTokenLimit    int64   `toml:"session_token_limit"`
	WeeklyTokenLimit     int64   `toml:"weekly_token_limit"`
}

// ContemplativeConfig holds the odds of a reflective session
type ContemplativeConfig struct {
	BaseChance     float64 `toml:"base_chance"`
	DeepHoursBoost float64 `toml:"deep_hours_boost"`
}

// QuotaConfig holds quota exhaustion settings
type QuotaConfig struct {
	DefaultResumeDelay string `toml:"default_resume_delay"`
}

// MissionsConfig holds mission document settings
type MissionsConfig struct {
	ExtraSections []string `toml:"extra_sections"`
}

// AssistantConfig holds the assistant command line
type AssistantConfig struct {
	Command []string `toml:"command"`
	Timeout string   `toml:"timeout"`
}

// AdmissionConfig holds process admission settings
type AdmissionConfig struct {
	ShutdownTimeout string `toml:"shutdown_timeout"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			InstanceRoot: filepath.Join(home, ".koan", "instance"),
			PollInterval: "5m",
		},
		Budget: BudgetConfig{
			Policy:               string(domain.PolicyFull),
			SafetyMargin:         10,
			DeepThreshold:        40,
			ImplementThreshold:   30,
			StopThreshold:        15,
			DefaultIterationCost: 5,
			SessionWindow:        "5h",
			WeeklyWindow:         "168h",
			WeeklyResetDay:       "monday",
			WeeklyResetHour:      0,
			SessionTokenLimit:    2_000_000,
			WeeklyTokenLimit:     40_000_000,
		},
		Contemplative: ContemplativeConfig{
			BaseChance:     0.10,
			DeepHoursBoost: 3.0,
		},
		Quota: QuotaConfig{
			DefaultResumeDelay: "1h",
		},
		Missions: MissionsConfig{
			ExtraSections: []string{"Ideas", "Idées"},
		},
		Assistant: AssistantConfig{
			Command: []string{"claude", "-p", "--output-format", "json"},
			Timeout: "45m",
		},
		Admission: AdmissionConfig{
			ShutdownTimeout: "30s",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	// Expand paths
	cfg.General.InstanceRoot = ExpandPath(cfg.General.InstanceRoot)
	for i := range cfg.Projects {
		cfg.Projects[i].Path = ExpandPath(cfg.Projects[i].Path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks thresholds, durations and projects
func (c *Config) Validate() error {
	if _, err := domain.ParsePolicy(c.Budget.Policy); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	b := c.Budget
	if b.SafetyMargin < 0 || b.SafetyMargin >= 100 {
		return fmt.Errorf("%w: safety_margin %v must be in [0,100)", ErrInvalid, b.SafetyMargin)
	}
	if b.StopThreshold < 0 || b.ImplementThreshold < b.StopThreshold || b.DeepThreshold < b.ImplementThreshold {
		return fmt.Errorf("%w: thresholds must satisfy deep >= implement >= stop >= 0 (got %v/%v/%v)",
			ErrInvalid, b.DeepThreshold, b.ImplementThreshold, b.StopThreshold)
	}
	if b.WeeklyResetHour < 0 || b.WeeklyResetHour > 23 {
		return fmt.Errorf("%w: weekly_reset_hour %d out of range", ErrInvalid, b.WeeklyResetHour)
	}
	if _, err := ParseWeekday(b.WeeklyResetDay); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.Contemplative.BaseChance < 0 || c.Contemplative.BaseChance > 1 {
		return fmt.Errorf("%w: contemplative base_chance %v must be in [0,1]", ErrInvalid, c.Contemplative.BaseChance)
	}

	durations := map[string]string{
		"general.poll_interval":      c.General.PollInterval,
		"budget.session_window":      b.SessionWindow,
		"budget.weekly_window":       b.WeeklyWindow,
		"quota.default_resume_delay": c.Quota.DefaultResumeDelay,
		"assistant.timeout":          c.Assistant.Timeout,
		"admission.shutdown_timeout": c.Admission.ShutdownTimeout,
	}
	for key, value := range durations {
		if value == "" {
			continue
		}
		if d, err := time.ParseDuration(value); err != nil || d < 0 {
			return fmt.Errorf("%w: %s = %q is not a duration", ErrInvalid, key, value)
		}
	}

	seen := make(map[string]bool, len(c.Projects))
	for _, p := range c.Projects {
		if p.Name == "" {
			return fmt.Errorf("%w: project with path %q has no name", ErrInvalid, p.Path)
		}
		key := strings.ToLower(p.Name)
		if seen[key] {
			return fmt.Errorf("%w: duplicate project %q", ErrInvalid, p.Name)
		}
		seen[key] = true
	}
	return nil
}

// Duration parses a validated duration setting, returning fallback when empty
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// ParseWeekday converts "monday", "mon" etc. to a time.Weekday
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return time.Monday, nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("unknown weekday %q", s)
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "koan", "config.toml")
}

// FindLocalConfig walks up from the working directory looking for koan.toml
func FindLocalConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, LocalConfigName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
