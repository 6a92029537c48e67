// Driftwatch - Outbound Record Synchronization and Drift Reconciliation
// Copyright 2026 Driftwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftwatch/driftwatch

package sync

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/driftwatch/driftwatch/internal/config"
	"github.com/driftwatch/driftwatch/internal/database"
	"github.com/driftwatch/driftwatch/internal/logging"
	"github.com/driftwatch/driftwatch/internal/metrics"
	"github.com/driftwatch/driftwatch/internal/models"
)

// Drift reasons for sync-history-derived comparison.
const (
	DriftReasonNeverSynced   = "never synced to target"
	DriftReasonNoExternalID  = "no external id assigned"
	DriftReasonNoSuccess     = "no successful sync recorded"
	DriftReasonHashMismatch  = "payload hash differs from last successful sync"
	DriftReasonUnbuildable   = "payload cannot be built from current state"
	DriftReasonMissingLegacy = "missing in external"
	DriftReasonFieldMismatch = "field mismatch"
)

// Reconciler audits cross-system consistency for one target per run.
//
// Two comparison modes feed one report:
//   - contacts are dual-written to the legacy store and compared field by
//     field, after normalizing whitespace and empties
//   - tickets and invoices have no secondary copy, so drift is derived from
//     sync history: missing state, missing success, or a payload hash that
//     no longer matches the last successful push
type Reconciler struct {
	store Store
	flags flagProvider
	cfg   config.ReconcileConfig
}

// NewReconciler builds a reconciliation engine.
func NewReconciler(store Store, flags flagProvider, cfg config.ReconcileConfig) *Reconciler {
	return &Reconciler{store: store, flags: flags, cfg: cfg}
}

// Reconcile runs the full comparison for one target and persists the run
// summary. Expensive; health checks use DriftSummary instead.
func (r *Reconciler) Reconcile(ctx context.Context, target models.TargetSystem) (*models.ReconciliationReport, error) {
	if !r.flags.Current(ctx).ReconciliationEnabled {
		return nil, ErrReconciliationDisabled
	}

	start := time.Now()
	report := &models.ReconciliationReport{
		Target: target,
		RunAt:  start.UTC(),
	}

	if err := r.reconcileContacts(ctx, report); err != nil {
		return nil, err
	}
	for _, entityType := range []models.EntityType{models.EntityTicket, models.EntityInvoice} {
		if err := r.reconcileFromSyncHistory(ctx, entityType, target, report); err != nil {
			return nil, err
		}
	}

	report.Duration = time.Since(start)
	if report.TotalCompared > 0 {
		report.DriftPercentage = float64(report.DriftedCount) / float64(report.TotalCompared) * 100
	}

	metrics.ReconcileRuns.WithLabelValues(string(target)).Inc()
	metrics.ReconcileDuration.WithLabelValues(string(target)).Observe(report.Duration.Seconds())
	metrics.DriftPercentage.WithLabelValues(string(target)).Set(report.DriftPercentage)
	metrics.DriftedEntities.WithLabelValues(string(target)).Set(float64(report.DriftedCount))

	if err := r.store.InsertReconcileRun(ctx, report); err != nil {
		return nil, err
	}

	logging.Info().Str("target", string(target)).Int("total_compared", report.TotalCompared).
		Int("drifted", report.DriftedCount).Float64("drift_pct", report.DriftPercentage).
		Dur("duration", report.Duration).Msg("Reconciliation run completed")
	return report, nil
}

// reconcileContacts is the legacy-table comparison mode.
func (r *Reconciler) reconcileContacts(ctx context.Context, report *models.ReconciliationReport) error {
	contacts, err := r.store.ListContacts(ctx)
	if err != nil {
		return err
	}
	legacy, err := r.store.ListLegacyContacts(ctx)
	if err != nil {
		return err
	}

	seen := make(map[int64]bool, len(contacts))
	for _, c := range contacts {
		report.TotalCompared++
		seen[c.ContactID] = true

		lc, exists := legacy[c.ContactID]
		if !exists {
			report.MissingInExternal++
			report.DriftedCount++
			r.sample(report, models.ContactDrift{EntityID: c.ContactID, Reason: DriftReasonMissingLegacy})
			continue
		}

		mismatches := compareContactFields(c, lc)
		if len(mismatches) > 0 {
			report.DriftedCount++
			r.sample(report, models.ContactDrift{
				EntityID:         c.ContactID,
				Reason:           DriftReasonFieldMismatch,
				MismatchedFields: mismatches,
			})
		}
	}

	// Orphans: legacy rows with no canonical counterpart.
	for id := range legacy {
		if !seen[id] {
			report.MissingInCanonical++
		}
	}
	return nil
}

// reconcileFromSyncHistory is the sync-log-derived comparison mode.
func (r *Reconciler) reconcileFromSyncHistory(ctx context.Context, entityType models.EntityType, target models.TargetSystem, report *models.ReconciliationReport) error {
	ids, err := r.store.ListEntityIDs(ctx, entityType)
	if err != nil {
		return err
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		report.TotalCompared++

		state, err := r.store.GetSyncState(ctx, entityType, id, target)
		if errors.Is(err, database.ErrNotFound) {
			report.DriftedCount++
			report.MissingInExternal++
			r.sample(report, models.ContactDrift{EntityID: id, Reason: DriftReasonNeverSynced})
			continue
		}
		if err != nil {
			return err
		}
		if state.ExternalID == "" {
			report.DriftedCount++
			r.sample(report, models.ContactDrift{EntityID: id, Reason: DriftReasonNoExternalID})
			continue
		}

		last, err := r.store.LastSuccessfulSync(ctx, entityType, id, target)
		if errors.Is(err, database.ErrNotFound) {
			report.DriftedCount++
			r.sample(report, models.ContactDrift{EntityID: id, ExternalID: state.ExternalID, Reason: DriftReasonNoSuccess})
			continue
		}
		if err != nil {
			return err
		}

		entity, err := r.store.GetEntity(ctx, entityType, id)
		if err != nil {
			return err
		}
		payload, err := BuildPayload(entity, target)
		if err != nil {
			report.DriftedCount++
			r.sample(report, models.ContactDrift{EntityID: id, ExternalID: state.ExternalID, Reason: DriftReasonUnbuildable})
			continue
		}
		hash, err := HashPayload(payload)
		if err != nil {
			return err
		}
		if hash != last.PayloadHash {
			report.DriftedCount++
			r.sample(report, models.ContactDrift{EntityID: id, ExternalID: state.ExternalID, Reason: DriftReasonHashMismatch})
		}
	}
	return nil
}

// sample appends a drift to the report up to the configured sample limit.
// Counts are exact regardless of the cap.
func (r *Reconciler) sample(report *models.ReconciliationReport, drift models.ContactDrift) {
	if r.cfg.SampleLimit > 0 && len(report.Drifts) >= r.cfg.SampleLimit {
		return
	}
	report.Drifts = append(report.Drifts, drift)
}

// DriftSummary is the cheap counts-only read for health checks; no field
// comparison, no payload hashing.
func (r *Reconciler) DriftSummary(ctx context.Context, target models.TargetSystem) (*models.DriftSummary, error) {
	summary := &models.DriftSummary{Target: target}

	for _, entityType := range []models.EntityType{models.EntityContact, models.EntityTicket, models.EntityInvoice} {
		total, err := r.store.CountEntities(ctx, entityType)
		if err != nil {
			return nil, err
		}
		summary.TotalEntities += total

		never, err := r.store.CountNeverSynced(ctx, entityType, target)
		if err != nil {
			return nil, err
		}
		summary.NeverSynced += never
	}

	counts, err := r.store.CountSyncLogByStatus(ctx, target)
	if err != nil {
		return nil, err
	}
	summary.FailedPending = counts[models.StatusFailed] + counts[models.StatusPending]

	last, err := r.store.LastReconcileRun(ctx, target)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}
	if last != nil {
		runAt := last.RunAt
		pct := last.DriftPercentage
		summary.LastRunAt = &runAt
		summary.LastDriftPct = &pct
	}
	return summary, nil
}

// compareContactFields compares one canonical contact against its legacy row
// after normalization. Whitespace-only and empty values compare equal.
func compareContactFields(c *models.Contact, lc *models.LegacyContact) []models.FieldMismatch {
	pairs := []struct {
		field     string
		canonical string
		external  string
	}{
		{"name", c.Name, lc.FullName},
		{"email", c.Email, lc.Email},
		{"phone", c.Phone, lc.Phone},
		{"company", c.Company, lc.Company},
		{"status", c.Status, lc.Status},
		{"city", c.Address.City, lc.City},
		{"country", c.Address.Country, lc.Country},
	}

	var mismatches []models.FieldMismatch
	for _, p := range pairs {
		canonical := normalize(p.canonical)
		external := normalize(p.external)
		if canonical != external {
			mismatches = append(mismatches, models.FieldMismatch{
				Field:          p.field,
				CanonicalValue: canonical,
				ExternalValue:  external,
			})
		}
	}
	return mismatches
}

// normalize maps whitespace-only strings to empty so "" and " " compare
// equal across stores with different null conventions.
func normalize(s string) string {
	return strings.TrimSpace(s)
}
