// Driftwatch - Outbound Record Synchronization and Drift Reconciliation
// Copyright 2026 Driftwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftwatch/driftwatch

package sync

import (
	"context"
	"errors"

	"github.com/driftwatch/driftwatch/internal/config"
	"github.com/driftwatch/driftwatch/internal/database"
	"github.com/driftwatch/driftwatch/internal/models"
)

// Skip reasons recorded on SKIPPED log entries. Stable strings: operators
// filter the sync log on them.
const (
	SkipReasonUnchanged     = "no changes detected"
	SkipReasonDisabled      = "sync disabled for target"
	SkipReasonNotApplicable = "entity not applicable to target"
)

// Decision is the outcome of the idempotency guard. Either Skip is true with
// a reason, or the payload, its hash, and the prior sync state are populated
// for the push path.
type Decision struct {
	Skip   bool
	Reason string

	Payload map[string]any
	Hash    string
	// Prior is nil on a first sync. Its hash is the compare-and-set
	// expectation when the push outcome is written back.
	Prior *models.EntitySyncState
}

// stateReader is the slice of the store the guard needs.
type stateReader interface {
	GetSyncState(ctx context.Context, entityType models.EntityType, entityID int64, target models.TargetSystem) (*models.EntitySyncState, error)
}

// Guard decides skip-vs-proceed for one (entity, target) pair by comparing
// the content hash of the freshly built payload against the hash stored on
// the last successful sync.
//
// The comparison is only correct if the hash function and serialization are
// byte-identical to the ones used when the stored value was written; both
// sides go through HashPayload.
type Guard struct {
	store   stateReader
	targets map[models.TargetSystem]config.TargetConfig
}

// NewGuard builds a guard over the configured target sections.
func NewGuard(store stateReader, targets map[models.TargetSystem]config.TargetConfig) *Guard {
	return &Guard{store: store, targets: targets}
}

// ShouldSync evaluates one entity against one target. Mapping failures
// propagate as a *MappingError; store failures propagate as-is.
func (g *Guard) ShouldSync(ctx context.Context, entity models.Entity, target models.TargetSystem) (*Decision, error) {
	tc, known := g.targets[target]
	if !known || !tc.Enabled {
		return &Decision{Skip: true, Reason: SkipReasonDisabled}, nil
	}

	if !applicable(entity, tc) {
		return &Decision{Skip: true, Reason: SkipReasonNotApplicable}, nil
	}

	payload, err := BuildPayload(entity, target)
	if err != nil {
		return nil, err
	}
	hash, err := HashPayload(payload)
	if err != nil {
		return nil, err
	}

	prior, err := g.store.GetSyncState(ctx, entity.Type(), entity.ID(), target)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	if prior != nil && prior.LastSyncedHash == hash {
		return &Decision{Skip: true, Reason: SkipReasonUnchanged, Hash: hash, Prior: prior}, nil
	}
	return &Decision{Payload: payload, Hash: hash, Prior: prior}, nil
}

// applicable reports whether the entity's current state is accepted by the
// target at all. Customers-only targets refuse pre-conversion leads.
func applicable(entity models.Entity, tc config.TargetConfig) bool {
	if c, ok := entity.(*models.Contact); ok {
		if tc.CustomersOnly && c.Status == models.ContactStatusLead {
			return false
		}
	}
	return true
}
