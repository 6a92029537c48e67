// Driftwatch - Outbound Record Synchronization and Drift Reconciliation
// Copyright 2026 Driftwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftwatch/driftwatch

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/driftwatch/driftwatch/internal/models"
)

// InsertReconcileRun persists the summary of one reconciliation run. The full
// drift sample stays in memory with the report; only aggregates are stored,
// feeding the cheap drift-summary read.
func (db *DB) InsertReconcileRun(ctx context.Context, r *models.ReconciliationReport) error {
	start := time.Now()
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO reconcile_runs
			(id, target_system, run_at, duration_ms, total_compared, drifted_count,
			 drift_percentage, missing_in_external, missing_in_canonical)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), string(r.Target), r.RunAt, r.Duration.Milliseconds(),
		r.TotalCompared, r.DriftedCount, r.DriftPercentage,
		r.MissingInExternal, r.MissingInCanonical)
	observe("insert", "reconcile_runs", start, err)
	if err != nil {
		return fmt.Errorf("failed to insert reconcile run: %w", err)
	}
	return nil
}

// LastReconcileRun returns the most recent run summary for a target, or
// ErrNotFound when the target was never reconciled.
func (db *DB) LastReconcileRun(ctx context.Context, target models.TargetSystem) (*models.ReconciliationReport, error) {
	start := time.Now()
	row := db.conn.QueryRowContext(ctx, `
		SELECT target_system, run_at, duration_ms, total_compared, drifted_count,
		       drift_percentage, missing_in_external, missing_in_canonical
		FROM reconcile_runs
		WHERE target_system = ?
		ORDER BY run_at DESC LIMIT 1`, string(target))

	var (
		r          models.ReconciliationReport
		tg         string
		durationMS int64
	)
	err := row.Scan(&tg, &r.RunAt, &durationMS, &r.TotalCompared, &r.DriftedCount,
		&r.DriftPercentage, &r.MissingInExternal, &r.MissingInCanonical)
	observe("select", "reconcile_runs", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last reconcile run: %w", err)
	}
	r.Target = models.TargetSystem(tg)
	r.Duration = time.Duration(durationMS) * time.Millisecond
	return &r, nil
}
