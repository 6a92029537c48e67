// Driftwatch - Outbound Record Synchronization and Drift Reconciliation
// Copyright 2026 Driftwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftwatch/driftwatch

// Package controlplane talks to the vendor control plane: license validation,
// feature entitlements, usage reporting, and instance heartbeats.
//
// Every call here is best-effort. The control plane being down must never
// stop outbound synchronization, so callers treat errors as "use static
// configuration" and move on. A circuit breaker keeps a dead control plane
// from adding per-call timeout latency.
package controlplane

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/driftwatch/driftwatch/internal/breaker"
	"github.com/driftwatch/driftwatch/internal/config"
	"github.com/driftwatch/driftwatch/internal/logging"
	"github.com/driftwatch/driftwatch/internal/metrics"
)

// LicenseStatus is the response of GET /licenses/validate.
type LicenseStatus struct {
	Valid     bool       `json:"valid"`
	Plan      string     `json:"plan"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Entitlements is the response of GET /features/entitlements. Pointer fields
// distinguish "no override" (nil) from an explicit override.
type Entitlements struct {
	SyncEnabled           *bool `json:"sync_enabled,omitempty"`
	DryRun                *bool `json:"dry_run,omitempty"`
	ReconciliationEnabled *bool `json:"reconciliation_enabled,omitempty"`
}

// UsageReport is the payload of POST /usage/report.
type UsageReport struct {
	InstanceID    string         `json:"instance_id"`
	ReportedAt    time.Time      `json:"reported_at"`
	EntityCounts  map[string]int `json:"entity_counts"`
	SyncAttempts  map[string]int `json:"sync_attempts"`
	TargetSystems []string       `json:"target_systems"`
}

// heartbeat is the payload of POST /instances/heartbeat.
type heartbeat struct {
	InstanceID string    `json:"instance_id"`
	Version    string    `json:"version"`
	SentAt     time.Time `json:"sent_at"`
}

// Client is an HTTP client for the control plane API.
type Client struct {
	cfg        *config.ControlPlaneConfig
	httpClient *http.Client
	cb         *breaker.Breaker
	version    string
}

// NewClient creates a control plane client. version is the build version
// reported in heartbeats.
func NewClient(cfg *config.ControlPlaneConfig, version string) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		cb:         breaker.New("control-plane"),
		version:    version,
	}
}

// ValidateLicense checks the license with the control plane. On any transport
// or server error the caller should proceed as if licensed.
func (c *Client) ValidateLicense(ctx context.Context) (*LicenseStatus, error) {
	result, err := c.cb.Execute(func() (any, error) {
		var status LicenseStatus
		if err := c.get(ctx, "/licenses/validate", &status); err != nil {
			return nil, err
		}
		return &status, nil
	})
	c.observe("license", err)
	return breaker.Result[LicenseStatus](result, err)
}

// Entitlements fetches runtime feature flag overrides.
func (c *Client) Entitlements(ctx context.Context) (*Entitlements, error) {
	result, err := c.cb.Execute(func() (any, error) {
		var ent Entitlements
		if err := c.get(ctx, "/features/entitlements", &ent); err != nil {
			return nil, err
		}
		return &ent, nil
	})
	c.observe("entitlements", err)
	return breaker.Result[Entitlements](result, err)
}

// ReportUsage uploads aggregate usage counters. Errors are returned so the
// caller can log them, but nothing downstream depends on success.
func (c *Client) ReportUsage(ctx context.Context, report *UsageReport) error {
	_, err := c.cb.Execute(func() (any, error) {
		return nil, c.post(ctx, "/usage/report", report)
	})
	c.observe("usage", err)
	return err
}

// Heartbeat announces this instance as alive.
func (c *Client) Heartbeat(ctx context.Context) error {
	_, err := c.cb.Execute(func() (any, error) {
		return nil, c.post(ctx, "/instances/heartbeat", &heartbeat{
			InstanceID: c.cfg.InstanceID,
			Version:    c.version,
			SentAt:     time.Now().UTC(),
		})
	})
	c.observe("heartbeat", err)
	return err
}

func (c *Client) observe(operation string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
		if breaker.Rejected(err) {
			result = "rejected"
		}
		logging.Debug().Str("operation", operation).Err(err).Msg("Control plane call failed")
	}
	metrics.ControlPlaneRequests.WithLabelValues(operation, result).Inc()
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("control plane request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("control plane returned HTTP %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode control plane response: %w", err)
	}
	return nil
}
