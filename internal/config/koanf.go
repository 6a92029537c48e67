// Driftwatch - Outbound Record Synchronization and Drift Reconciliation
// Copyright 2026 Driftwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftwatch/driftwatch

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order
// of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/driftwatch/config.yaml",
	"/etc/driftwatch/config.yml",
}

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all defaults applied. Defaults load
// first, then the config file, then environment variables.
func defaultConfig() *Config {
	defaultTarget := TargetConfig{
		Enabled:        false,
		AuthMode:       AuthModeNone,
		Timeout:        15 * time.Second,
		MaxRetries:     3,
		RetryBaseDelay: 500 * time.Millisecond,
		RetryMaxDelay:  30 * time.Second,
		RatePerSecond:  10,
	}

	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8420,
			Timeout:         30 * time.Second,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
		Database: DatabaseConfig{
			Path:            "/data/driftwatch.duckdb",
			MaxMemory:       "1GB",
			Threads:         0, // 0 = runtime.NumCPU()
			ConnectRetryMax: 30 * time.Second,
			SeedDemoData:    false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Sync: SyncConfig{
			Enabled:        true,
			DryRun:         false,
			MaxRetries:     5,
			RetryBaseDelay: 2 * time.Second,
			RetryMaxDelay:  10 * time.Minute,
		},
		Sweep: SweepConfig{
			Interval:  10 * time.Minute,
			BatchSize: 100,
		},
		Reconcile: ReconcileConfig{
			Enabled:     true,
			Interval:    time.Hour,
			SampleLimit: 100,
		},
		ControlPlane: ControlPlaneConfig{
			Enabled:           false,
			BaseURL:           "",
			APIKey:            "",
			Timeout:           10 * time.Second,
			FlagsTTL:          5 * time.Minute,
			HeartbeatInterval: 5 * time.Minute,
			InstanceID:        "", // Auto-generated at startup if empty
		},
		SystemA: defaultTarget,
		SystemB: defaultTarget,
		SystemC: defaultTarget,
	}
}

// Load loads configuration using Koanf v2 with layered sources:
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. Environment variables (highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// DW_SYSTEM_A_BASE_URL -> system_a.base_url etc. via explicit mapping.
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths lists config paths parsed as comma-separated slices when
// they arrive as env-var strings.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf config paths.
// Unmapped variables return empty string and are skipped, preventing random
// environment variables from polluting config.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Server
		"http_host":            "server.host",
		"http_port":            "server.port",
		"http_timeout":         "server.timeout",
		"rate_limit_requests":  "server.rate_limit_reqs",
		"rate_limit_window":    "server.rate_limit_window",
		"cors_origins":         "server.cors_origins",

		// Database
		"duckdb_path":       "database.path",
		"duckdb_max_memory": "database.max_memory",
		"duckdb_threads":    "database.threads",
		"seed_demo_data":    "database.seed_demo_data",

		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",

		// Sync / feature flag defaults
		"sync_enabled":          "sync.enabled",
		"sync_dry_run":          "sync.dry_run",
		"sync_max_retries":      "sync.max_retries",
		"sync_retry_base_delay": "sync.retry_base_delay",
		"sync_retry_max_delay":  "sync.retry_max_delay",

		// Sweep
		"sweep_interval":   "sweep.interval",
		"sweep_batch_size": "sweep.batch_size",

		// Reconcile
		"reconciliation_enabled": "reconcile.enabled",
		"reconcile_interval":     "reconcile.interval",
		"reconcile_sample_limit": "reconcile.sample_limit",

		// Control plane
		"control_plane_enabled":  "control_plane.enabled",
		"control_plane_url":      "control_plane.base_url",
		"control_plane_api_key":  "control_plane.api_key",
		"control_plane_timeout":  "control_plane.timeout",
		"flags_ttl":              "control_plane.flags_ttl",
		"heartbeat_interval":     "control_plane.heartbeat_interval",
		"instance_id":            "control_plane.instance_id",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// Target sections share one layout: DW_SYSTEM_A_BASE_URL etc.
	for _, prefix := range []string{"dw_system_a_", "dw_system_b_", "dw_system_c_"} {
		if strings.HasPrefix(key, prefix) {
			section := strings.TrimSuffix(strings.TrimPrefix(prefix, "dw_"), "_")
			return section + "." + strings.TrimPrefix(key, prefix)
		}
	}

	return ""
}
