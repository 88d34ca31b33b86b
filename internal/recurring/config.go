// Package recurring injects missions defined in recurring.toml into the queue
// when their cron schedule comes due.
package recurring

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// ConfigFile is the recurring mission definitions under the instance root
const ConfigFile = "recurring.toml"

// cronParser accepts the standard 5-field format
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Definition is one [[mission]] entry
type Definition struct {
	Name    string `toml:"name"`
	Cron    string `toml:"cron"`
	Text    string `toml:"text"`
	Project string `toml:"project"`
	Enabled *bool  `toml:"enabled"`
}

// Config holds all recurring definitions
type Config struct {
	Missions []Definition `toml:"mission"`
}

// IsEnabled defaults to true when the flag is omitted
func (d *Definition) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// Validate checks if the definition is usable
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("mission name is required")
	}
	if strings.TrimSpace(d.Text) == "" {
		return fmt.Errorf("mission %q: text is required", d.Name)
	}
	if d.Cron == "" {
		return fmt.Errorf("mission %q: cron expression is required", d.Name)
	}
	if _, err := ParseCron(d.Cron); err != nil {
		return fmt.Errorf("mission %q: invalid cron expression: %w", d.Name, err)
	}
	return nil
}

// ParseCron parses a cron expression
func ParseCron(expr string) (cron.Schedule, error) {
	return cronParser.Parse(expr)
}

// LoadConfig loads recurring definitions from a TOML file. A missing file
// yields an empty config.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", ConfigFile, err)
	}

	seen := make(map[string]bool)
	for i := range cfg.Missions {
		if err := cfg.Missions[i].Validate(); err != nil {
			return nil, fmt.Errorf("mission %d: %w", i, err)
		}
		if seen[cfg.Missions[i].Name] {
			return nil, fmt.Errorf("mission %d: duplicate name %q", i, cfg.Missions[i].Name)
		}
		seen[cfg.Missions[i].Name] = true
	}

	return &cfg, nil
}
