// Driftwatch - Outbound Record Synchronization and Drift Reconciliation
// Copyright 2026 Driftwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftwatch/driftwatch

/*
schema.go - Database Schema Management

Tables:
  - contacts, tickets, invoices: canonical business records
  - legacy_contacts: dual-written secondary store compared during
    reconciliation mode (a)
  - sync_log: append-only ledger of sync attempts (one row per attempt)
  - entity_sync_state: last known-successful hash/external id per
    (entity, target) pair
  - reconcile_runs: summary row per reconciliation run, feeding the cheap
    drift-summary read

All columns are defined in the initial CREATE TABLE statements; there is no
migration framework at this stage.
*/
package database

import (
	"context"
	"fmt"
	"time"
)

// schemaContext returns a context with timeout for schema operations.
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// createTables creates all tables and indexes if they do not exist.
func (db *DB) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, query := range tableCreationQueries() {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute schema statement: %s: %w", query, err)
		}
	}
	return nil
}

func tableCreationQueries() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS contacts (
			id BIGINT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT,
			phone TEXT,
			company TEXT,
			status TEXT NOT NULL DEFAULT 'lead',
			address_street TEXT,
			address_city TEXT,
			address_zip TEXT,
			address_country TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS tickets (
			id BIGINT PRIMARY KEY,
			contact_id BIGINT NOT NULL,
			subject TEXT NOT NULL,
			body TEXT,
			status TEXT NOT NULL DEFAULT 'open',
			priority TEXT NOT NULL DEFAULT 'normal',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS invoices (
			id BIGINT PRIMARY KEY,
			contact_id BIGINT NOT NULL,
			number TEXT NOT NULL,
			amount_cents BIGINT NOT NULL DEFAULT 0,
			currency TEXT NOT NULL DEFAULT 'USD',
			status TEXT NOT NULL DEFAULT 'draft',
			issued_at TIMESTAMP,
			due_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,

		// Secondary store populated by dual-write. Schema intentionally
		// differs from contacts (flattened address, full_name) because the
		// reconciliation engine normalizes across heterogeneous schemas.
		`CREATE TABLE IF NOT EXISTS legacy_contacts (
			contact_id BIGINT PRIMARY KEY,
			full_name TEXT,
			email TEXT,
			phone TEXT,
			company TEXT,
			status TEXT,
			city TEXT,
			country TEXT,
			updated_at TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS sync_log (
			id UUID PRIMARY KEY,
			entity_type TEXT NOT NULL,
			entity_id BIGINT NOT NULL,
			target_system TEXT NOT NULL,
			operation TEXT NOT NULL,
			idempotency_key TEXT NOT NULL UNIQUE,
			payload_hash TEXT NOT NULL,
			status TEXT NOT NULL,
			external_id TEXT,
			retry_count INTEGER NOT NULL DEFAULT 0,
			next_retry_at TIMESTAMP,
			error_message TEXT,
			created_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS entity_sync_state (
			entity_type TEXT NOT NULL,
			entity_id BIGINT NOT NULL,
			target_system TEXT NOT NULL,
			external_id TEXT,
			last_synced_hash TEXT,
			last_synced_at TIMESTAMP,
			PRIMARY KEY (entity_type, entity_id, target_system)
		)`,

		`CREATE TABLE IF NOT EXISTS reconcile_runs (
			id UUID PRIMARY KEY,
			target_system TEXT NOT NULL,
			run_at TIMESTAMP NOT NULL,
			duration_ms BIGINT NOT NULL,
			total_compared INTEGER NOT NULL,
			drifted_count INTEGER NOT NULL,
			drift_percentage DOUBLE NOT NULL,
			missing_in_external INTEGER NOT NULL,
			missing_in_canonical INTEGER NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_sync_log_status
			ON sync_log (status, target_system, next_retry_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_log_entity
			ON sync_log (entity_type, entity_id, target_system, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_reconcile_runs_target
			ON reconcile_runs (target_system, run_at)`,
	}
}
