// Copyright (C) 2025 Mashura AI (engineering@mashura.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads service configuration from a YAML file with
// environment overrides, and watches the file for quota changes.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Port int `yaml:"port"`

	Weaviate struct {
		URL    string `yaml:"url"`
		APIKey string `yaml:"api_key"`
	} `yaml:"weaviate"`

	LLM struct {
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
		Model   string `yaml:"model"`
	} `yaml:"llm"`

	Limits struct {
		GuestMax        int `yaml:"guest_max"`
		UserMax         int `yaml:"user_max"`
		CooldownMinutes int `yaml:"cooldown_minutes"`
	} `yaml:"limits"`

	// AuthTokens maps verified bearer tokens to user ids. Token issuance
	// and verification live upstream.
	AuthTokens map[string]string `yaml:"auth_tokens"`

	// GovernorDir is the badger directory for durable usage cycles.
	// Empty keeps usage state in memory only.
	GovernorDir string `yaml:"governor_dir"`

	ContextWindow       int `yaml:"context_window"`
	GuestIdleTTLMinutes int `yaml:"guest_idle_ttl_minutes"`

	RateLimit struct {
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"rate_limit"`
}

// Default returns the configuration used when no file or overrides exist.
func Default() Config {
	var c Config
	c.Port = 12400
	c.Weaviate.URL = "localhost:8080"
	c.LLM.BaseURL = "http://localhost:11434/v1"
	c.LLM.Model = "qwen2.5:14b"
	c.Limits.GuestMax = 5
	c.Limits.UserMax = 20
	c.Limits.CooldownMinutes = 90
	c.ContextWindow = 10
	c.GuestIdleTTLMinutes = 120
	c.RateLimit.RequestsPerSecond = 2
	c.RateLimit.Burst = 5
	return c
}

// Load reads the YAML file at path, if present, and applies environment
// overrides on top. A missing file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	c := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults plus env only.
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &c); err != nil {
				return Config{}, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	applyEnv(&c)
	return c, nil
}

func applyEnv(c *Config) {
	if v := os.Getenv("MASHURA_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	if v := os.Getenv("WEAVIATE_SERVICE_URL"); v != "" {
		c.Weaviate.URL = v
	}
	if v := os.Getenv("WEAVIATE_API_KEY"); v != "" {
		c.Weaviate.APIKey = v
	}
	if v := os.Getenv("MASHURA_LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("MASHURA_LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("MASHURA_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("MASHURA_GOVERNOR_DIR"); v != "" {
		c.GovernorDir = v
	}
}

// Cooldown returns the configured cooldown as a duration.
func (c Config) Cooldown() time.Duration {
	return time.Duration(c.Limits.CooldownMinutes) * time.Minute
}

// GuestIdleTTL returns the guest eviction window as a duration.
func (c Config) GuestIdleTTL() time.Duration {
	return time.Duration(c.GuestIdleTTLMinutes) * time.Minute
}

// Watch re-reads the config file whenever it changes and hands the result
// to onReload. Intended for hot-reloadable settings (quota limits); callers
// decide what to apply. Blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, logger *slog.Logger, onReload func(Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("watch config file: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			c, err := Load(path)
			if err != nil {
				logger.Error("config reload failed, keeping previous settings", "error", err)
				continue
			}
			logger.Info("config reloaded", "path", path)
			onReload(c)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", "error", err)
		}
	}
}
