// Driftwatch - Outbound Record Synchronization and Drift Reconciliation
// Copyright 2026 Driftwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftwatch/driftwatch

// Package config defines the Driftwatch configuration model and its layered
// loading (defaults, optional YAML file, environment variables).
//
// Feature gates are an explicit, enumerated set of typed fields validated at
// startup. There is no reflection-driven flag application: every recognized
// flag is a named struct field.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/driftwatch/driftwatch/internal/models"
)

// Auth modes supported by target adapters.
const (
	AuthModeNone   = "none"
	AuthModeBearer = "bearer"
	AuthModeBasic  = "basic"
	AuthModeAPIKey = "apikey"
)

// Config is the root configuration for the Driftwatch server.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Database     DatabaseConfig     `koanf:"database"`
	Logging      LoggingConfig      `koanf:"logging"`
	Sync         SyncConfig         `koanf:"sync"`
	Sweep        SweepConfig        `koanf:"sweep"`
	Reconcile    ReconcileConfig    `koanf:"reconcile"`
	ControlPlane ControlPlaneConfig `koanf:"control_plane"`

	// One section per external system of record. Fixed sections (rather than
	// a dynamic list) keep env-var overrides unambiguous.
	SystemA TargetConfig `koanf:"system_a"`
	SystemB TargetConfig `koanf:"system_b"`
	SystemC TargetConfig `koanf:"system_c"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"gt=0,lte=65535"`
	Timeout time.Duration `koanf:"timeout"`

	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// DatabaseConfig holds the DuckDB-backed store settings.
type DatabaseConfig struct {
	Path      string        `koanf:"path" validate:"required"`
	MaxMemory string        `koanf:"max_memory"`
	Threads   int           `koanf:"threads"`
	// ConnectRetryMax bounds the exponential-backoff bring-up loop.
	ConnectRetryMax time.Duration `koanf:"connect_retry_max"`
	SeedDemoData    bool          `koanf:"seed_demo_data"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// SyncConfig holds orchestrator-level settings. Enabled and DryRun are the
// static defaults for the corresponding feature flags; the control plane may
// override them at runtime when reachable.
type SyncConfig struct {
	Enabled bool `koanf:"enabled"`
	DryRun  bool `koanf:"dry_run"`

	MaxRetries     int           `koanf:"max_retries" validate:"gte=0"`
	RetryBaseDelay time.Duration `koanf:"retry_base_delay"`
	RetryMaxDelay  time.Duration `koanf:"retry_max_delay"`
}

// SweepConfig holds retry sweeper scheduling settings.
type SweepConfig struct {
	Interval  time.Duration `koanf:"interval"`
	BatchSize int           `koanf:"batch_size" validate:"gt=0"`
}

// ReconcileConfig holds reconciliation engine settings. Enabled is the static
// default for the reconciliation_enabled flag.
type ReconcileConfig struct {
	Enabled     bool          `koanf:"enabled"`
	Interval    time.Duration `koanf:"interval"`
	SampleLimit int           `koanf:"sample_limit" validate:"gt=0"`
}

// ControlPlaneConfig holds the license/entitlements/usage endpoint settings.
// All control-plane calls are best-effort and fail open.
type ControlPlaneConfig struct {
	Enabled           bool          `koanf:"enabled"`
	BaseURL           string        `koanf:"base_url"`
	APIKey            string        `koanf:"api_key"`
	Timeout           time.Duration `koanf:"timeout"`
	FlagsTTL          time.Duration `koanf:"flags_ttl"`
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
	InstanceID        string        `koanf:"instance_id"`
}

// TargetConfig describes one external system of record. Authentication is
// static configuration carried by the adapter, not business logic.
type TargetConfig struct {
	Enabled bool   `koanf:"enabled"`
	BaseURL string `koanf:"base_url"`

	AuthMode     string `koanf:"auth_mode" validate:"omitempty,oneof=none bearer basic apikey"`
	Token        string `koanf:"token"`
	Username     string `koanf:"username"`
	Password     string `koanf:"password"`
	APIKeyID     string `koanf:"api_key_id"`
	APIKeySecret string `koanf:"api_key_secret"`

	Timeout        time.Duration `koanf:"timeout"`
	MaxRetries     int           `koanf:"max_retries"`
	RetryBaseDelay time.Duration `koanf:"retry_base_delay"`
	RetryMaxDelay  time.Duration `koanf:"retry_max_delay"`
	RatePerSecond  float64       `koanf:"rate_per_second"`

	// CustomersOnly targets reject pre-conversion (lead) contacts; the
	// idempotency guard skips those instead of pushing.
	CustomersOnly bool `koanf:"customers_only"`
}

// Targets returns the configured target sections keyed by system name.
// Disabled targets are included; callers decide whether to act on them.
func (c *Config) Targets() map[models.TargetSystem]TargetConfig {
	return map[models.TargetSystem]TargetConfig{
		models.TargetSystemA: c.SystemA,
		models.TargetSystemB: c.SystemB,
		models.TargetSystemC: c.SystemC,
	}
}

// Target returns the section for one system name.
func (c *Config) Target(name models.TargetSystem) (TargetConfig, bool) {
	tc, ok := c.Targets()[name]
	return tc, ok
}

// Validate checks structural constraints and cross-field consistency.
// Enabled targets must carry a base URL and complete credentials for their
// auth mode so that misconfiguration surfaces at startup instead of as
// per-attempt NotConfigured failures.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	for name, tc := range c.Targets() {
		if !tc.Enabled {
			continue
		}
		if tc.BaseURL == "" {
			return fmt.Errorf("target %s: enabled but base_url is empty", name)
		}
		switch tc.AuthMode {
		case AuthModeBearer:
			if tc.Token == "" {
				return fmt.Errorf("target %s: auth_mode bearer requires token", name)
			}
		case AuthModeBasic:
			if tc.Username == "" || tc.Password == "" {
				return fmt.Errorf("target %s: auth_mode basic requires username and password", name)
			}
		case AuthModeAPIKey:
			if tc.APIKeyID == "" || tc.APIKeySecret == "" {
				return fmt.Errorf("target %s: auth_mode apikey requires api_key_id and api_key_secret", name)
			}
		}
	}

	if c.ControlPlane.Enabled && c.ControlPlane.BaseURL == "" {
		return fmt.Errorf("control_plane: enabled but base_url is empty")
	}

	return nil
}
