// Driftwatch - Outbound Record Synchronization and Drift Reconciliation
// Copyright 2026 Driftwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftwatch/driftwatch

package controlplane

import (
	"context"
	"sync"
	"time"

	"github.com/driftwatch/driftwatch/internal/config"
	"github.com/driftwatch/driftwatch/internal/logging"
)

// FeatureFlags is the full, enumerated set of runtime feature gates. Adding a
// flag means adding a field here and wiring it where it applies; there is no
// dynamic flag registry.
type FeatureFlags struct {
	SyncEnabled           bool
	DryRun                bool
	ReconciliationEnabled bool
}

// entitlementsFetcher is satisfied by *Client.
type entitlementsFetcher interface {
	Entitlements(ctx context.Context) (*Entitlements, error)
}

// FlagProvider resolves the effective feature flags: static configuration
// defaults, overridden by control plane entitlements when the control plane
// is enabled and reachable. Entitlements are cached for a TTL so flag reads
// on the sync hot path cost a mutex, not a network round trip.
//
// On any fetch error the provider fails open to the static defaults.
type FlagProvider struct {
	defaults FeatureFlags
	client   entitlementsFetcher
	ttl      time.Duration

	mu        sync.Mutex
	cached    FeatureFlags
	fetchedAt time.Time
}

// NewFlagProvider builds a provider from the static configuration. client may
// be nil when the control plane is disabled; the defaults then always apply.
func NewFlagProvider(cfg *config.Config, client entitlementsFetcher) *FlagProvider {
	ttl := cfg.ControlPlane.FlagsTTL
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	if !cfg.ControlPlane.Enabled {
		client = nil
	}
	return &FlagProvider{
		defaults: FeatureFlags{
			SyncEnabled:           cfg.Sync.Enabled,
			DryRun:                cfg.Sync.DryRun,
			ReconciliationEnabled: cfg.Reconcile.Enabled,
		},
		client: client,
		ttl:    ttl,
	}
}

// Current returns the effective flags, refreshing the entitlement cache when
// stale.
func (p *FlagProvider) Current(ctx context.Context) FeatureFlags {
	if p.client == nil {
		return p.defaults
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.fetchedAt.IsZero() && time.Since(p.fetchedAt) < p.ttl {
		return p.cached
	}

	ent, err := p.client.Entitlements(ctx)
	if err != nil {
		logging.Debug().Err(err).Msg("Entitlements fetch failed, using static flag defaults")
		// Cache the fallback too: a dead control plane should not be
		// re-queried on every flag read inside the TTL window.
		p.cached = p.defaults
		p.fetchedAt = time.Now()
		return p.defaults
	}

	flags := p.defaults
	if ent.SyncEnabled != nil {
		flags.SyncEnabled = *ent.SyncEnabled
	}
	if ent.DryRun != nil {
		flags.DryRun = *ent.DryRun
	}
	if ent.ReconciliationEnabled != nil {
		flags.ReconciliationEnabled = *ent.ReconciliationEnabled
	}

	p.cached = flags
	p.fetchedAt = time.Now()
	return flags
}

// Invalidate drops the cached entitlements so the next read refetches.
func (p *FlagProvider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetchedAt = time.Time{}
}
