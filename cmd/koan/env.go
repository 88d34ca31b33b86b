package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/sukria/koan-sub002/internal/budget"
	"github.com/sukria/koan-sub002/internal/config"
)

// resolveConfigPath picks --config/KOAN_CONFIG, then a koan.toml found
// upward from the working directory, then the user config
func resolveConfigPath() string {
	if p := env.GetString("config"); p != "" {
		return config.ExpandPath(p)
	}
	if p := config.FindLocalConfig(); p != "" {
		return p
	}
	return config.DefaultConfigPath()
}

// loadConfig reads the config file and applies the flag/env overlay. The
// instance .env is loaded afterwards so it can supply secrets such as the
// Slack webhook without overriding variables already set.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}

	if root := env.GetString("instance"); root != "" {
		cfg.General.InstanceRoot = config.ExpandPath(root)
	}
	if p := env.GetString("policy"); p != "" {
		cfg.Budget.Policy = p
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	if cfg.General.InstanceRoot == "" {
		return nil, errors.New("no instance root configured")
	}

	dotenv := filepath.Join(cfg.General.InstanceRoot, ".env")
	if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not load .env", "path", dotenv, "error", err)
	}
	if hook := env.GetString("slack_webhook"); hook != "" {
		cfg.Notifications.SlackWebhook = hook
	}
	return cfg, nil
}

// loadInstance loads the config and makes sure the instance root exists
func loadInstance() (*config.Config, budget.Settings, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, budget.Settings{}, err
	}
	if err := os.MkdirAll(cfg.General.InstanceRoot, 0755); err != nil {
		return nil, budget.Settings{}, fmt.Errorf("creating instance root: %w", err)
	}
	settings, err := budget.SettingsFromConfig(cfg.Budget)
	if err != nil {
		return nil, budget.Settings{}, err
	}
	return cfg, settings, nil
}
