// Postwave - Content Coalescing and Fan-out Posting Pipeline
// Copyright 2026 Postwave Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/postwave/postwave

// Package config holds the layered runtime configuration: built-in
// defaults, an optional YAML file, and environment variables, in
// ascending precedence.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration tree.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Store     StoreConfig     `koanf:"store"`
	Transport TransportConfig `koanf:"transport"`
	Window    WindowConfig    `koanf:"window"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Executor  ExecutorConfig  `koanf:"executor"`
	Delivery  DeliveryConfig  `koanf:"delivery"`
	Replicate ReplicateConfig `koanf:"replicate"`
	Health    HealthConfig    `koanf:"health"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig tunes the status/metrics HTTP listener.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout time.Duration `koanf:"timeout"`
}

// StoreConfig locates the persistence layer.
type StoreConfig struct {
	Path string `koanf:"path" validate:"required"`
}

// TransportConfig identifies the fixed sinks the pipeline talks to
// outside of per-owner settings.
type TransportConfig struct {
	// ArchiveSink receives a durable copy of every admitted item.
	// Empty disables archival copies.
	ArchiveSink string `koanf:"archive_sink"`

	// OperatorSink receives operational notices (pauses, outages).
	OperatorSink string `koanf:"operator_sink"`
}

// WindowConfig tunes the collection window manager.
type WindowConfig struct {
	Debounce         time.Duration `koanf:"debounce" validate:"min=1s"`
	SizeCap          int           `koanf:"size_cap" validate:"min=1"`
	MinDuration      int           `koanf:"min_duration" validate:"min=0"`
	ProgressInterval time.Duration `koanf:"progress_interval"`
}

// PipelineConfig tunes finalization.
type PipelineConfig struct {
	SimilarityThreshold int `koanf:"similarity_threshold" validate:"min=1,max=100"`
	ParseWorkers        int `koanf:"parse_workers" validate:"min=1"`
}

// ExecutorConfig tunes the retrying executor in front of the transport.
type ExecutorConfig struct {
	MaxAttempts     int           `koanf:"max_attempts" validate:"min=1"`
	BaseDelay       time.Duration `koanf:"base_delay" validate:"min=0"`
	RateLimitMargin time.Duration `koanf:"rate_limit_margin" validate:"min=0"`
}

// DeliveryConfig tunes fan-out pacing.
type DeliveryConfig struct {
	Pacing time.Duration `koanf:"pacing" validate:"min=0"`
}

// ReplicateConfig tunes bulk replication jobs.
type ReplicateConfig struct {
	ProgressInterval time.Duration `koanf:"progress_interval" validate:"min=1s"`
	MaxBackupSinks   int           `koanf:"max_backup_sinks" validate:"min=1"`
}

// HealthConfig tunes the transport probe.
type HealthConfig struct {
	Interval         time.Duration `koanf:"interval" validate:"min=1s"`
	ProbeTimeout     time.Duration `koanf:"probe_timeout"`
	FailureThreshold uint32        `koanf:"failure_threshold" validate:"min=1"`
	OpenTimeout      time.Duration `koanf:"open_timeout"`
}

// LoggingConfig tunes log output.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns the built-in defaults, overridden by file and
// environment layers.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8480,
			Timeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Path: "/data/postwave",
		},
		Transport: TransportConfig{
			ArchiveSink:  "",
			OperatorSink: "",
		},
		Window: WindowConfig{
			Debounce:         20 * time.Second,
			SizeCap:          50,
			MinDuration:      1200,
			ProgressInterval: 2 * time.Second,
		},
		Pipeline: PipelineConfig{
			SimilarityThreshold: 85,
			ParseWorkers:        8,
		},
		Executor: ExecutorConfig{
			MaxAttempts:     7,
			BaseDelay:       5 * time.Second,
			RateLimitMargin: 10 * time.Second,
		},
		Delivery: DeliveryConfig{
			Pacing: 2500 * time.Millisecond,
		},
		Replicate: ReplicateConfig{
			ProgressInterval: 5 * time.Second,
			MaxBackupSinks:   5,
		},
		Health: HealthConfig{
			Interval:         120 * time.Second,
			ProbeTimeout:     15 * time.Second,
			FailureThreshold: 3,
			OpenTimeout:      60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Validate checks the assembled configuration against the struct tags.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
