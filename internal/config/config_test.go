// Postwave - Content Coalescing and Fan-out Posting Pipeline
// Copyright 2026 Postwave Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/postwave/postwave

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default configuration invalid: %v", err)
	}

	if cfg.Server.Port != 8480 {
		t.Errorf("Server.Port = %d, want 8480", cfg.Server.Port)
	}
	if cfg.Window.Debounce != 20*time.Second {
		t.Errorf("Window.Debounce = %s, want 20s", cfg.Window.Debounce)
	}
	if cfg.Window.SizeCap != 50 {
		t.Errorf("Window.SizeCap = %d, want 50", cfg.Window.SizeCap)
	}
	if cfg.Pipeline.SimilarityThreshold != 85 {
		t.Errorf("Pipeline.SimilarityThreshold = %d, want 85", cfg.Pipeline.SimilarityThreshold)
	}
	if cfg.Executor.MaxAttempts != 7 {
		t.Errorf("Executor.MaxAttempts = %d, want 7", cfg.Executor.MaxAttempts)
	}
	if cfg.Replicate.MaxBackupSinks != 5 {
		t.Errorf("Replicate.MaxBackupSinks = %d, want 5", cfg.Replicate.MaxBackupSinks)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port out of range", func(c *Config) { c.Server.Port = 0 }},
		{"empty store path", func(c *Config) { c.Store.Path = "" }},
		{"similarity threshold over 100", func(c *Config) { c.Pipeline.SimilarityThreshold = 200 }},
		{"unknown log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"unknown log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"zero size cap", func(c *Config) { c.Window.SizeCap = 0 }},
		{"zero max attempts", func(c *Config) { c.Executor.MaxAttempts = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate accepted an invalid configuration")
			}
		})
	}
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"POSTWAVE_WINDOW__SIZE_CAP", "window.size_cap"},
		{"POSTWAVE_SERVER__PORT", "server.port"},
		{"POSTWAVE_LOGGING__LEVEL", "logging.level"},
		{"POSTWAVE_TRANSPORT__ARCHIVE_SINK", "transport.archive_sink"},
	}
	for _, tt := range tests {
		if got := envTransformFunc(tt.in); got != tt.want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoadLayersFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("server:\n  port: 9000\nwindow:\n  debounce: 45s\n  size_cap: 20\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("POSTWAVE_WINDOW__SIZE_CAP", "10")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want file value 9000", cfg.Server.Port)
	}
	if cfg.Window.Debounce != 45*time.Second {
		t.Errorf("Window.Debounce = %s, want file value 45s", cfg.Window.Debounce)
	}
	// Environment beats the file.
	if cfg.Window.SizeCap != 10 {
		t.Errorf("Window.SizeCap = %d, want env value 10", cfg.Window.SizeCap)
	}
	// Untouched keys keep their defaults.
	if cfg.Executor.MaxAttempts != 7 {
		t.Errorf("Executor.MaxAttempts = %d, want default 7", cfg.Executor.MaxAttempts)
	}
}

func TestLoadRejectsInvalidLayeredConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  level: loud\n"), 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	if _, err := Load(); err == nil {
		t.Fatal("Load accepted a config with an unknown log level")
	}
}
