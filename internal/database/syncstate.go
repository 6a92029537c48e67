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

	"github.com/driftwatch/driftwatch/internal/models"
)

// ErrStateConflict is returned by the compare-and-set path when another
// writer changed the sync state between read and write.
var ErrStateConflict = errors.New("sync state modified concurrently")

// GetSyncState returns the stored state for one (entity, target) pair, or
// ErrNotFound when the entity was never synced to that target.
func (db *DB) GetSyncState(ctx context.Context, entityType models.EntityType, entityID int64, target models.TargetSystem) (*models.EntitySyncState, error) {
	start := time.Now()
	row := db.conn.QueryRowContext(ctx, `
		SELECT entity_type, entity_id, target_system, external_id,
		       last_synced_hash, last_synced_at
		FROM entity_sync_state
		WHERE entity_type = ? AND entity_id = ? AND target_system = ?`,
		string(entityType), entityID, string(target))

	var (
		st         models.EntitySyncState
		et, tg     string
		externalID sql.NullString
		hash       sql.NullString
		syncedAt   sql.NullTime
	)
	err := row.Scan(&et, &st.EntityID, &tg, &externalID, &hash, &syncedAt)
	observe("select", "entity_sync_state", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync state: %w", err)
	}

	st.EntityType = models.EntityType(et)
	st.Target = models.TargetSystem(tg)
	st.ExternalID = externalID.String
	st.LastSyncedHash = hash.String
	if syncedAt.Valid {
		t := syncedAt.Time
		st.LastSyncedAt = &t
	}
	return &st, nil
}

// UpsertSyncState writes the state after a successful push using a
// compare-and-set on the previously observed hash. expectedHash is the
// LastSyncedHash read before the push ("" for a first sync). If another
// worker committed a different hash in between, ErrStateConflict is returned
// and the caller's outcome bookkeeping still stands — the next guard pass
// re-reads fresh state.
//
// The read-modify-write runs inside a transaction so the existence check and
// the conditional write cannot interleave with another worker's upsert.
func (db *DB) UpsertSyncState(ctx context.Context, st *models.EntitySyncState, expectedHash string) error {
	start := time.Now()
	err := db.upsertSyncStateTx(ctx, st, expectedHash)
	observe("upsert", "entity_sync_state", start, err)
	return err
}

func (db *DB) upsertSyncStateTx(ctx context.Context, st *models.EntitySyncState, expectedHash string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin sync state transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT last_synced_hash FROM entity_sync_state
		WHERE entity_type = ? AND entity_id = ? AND target_system = ?`,
		string(st.EntityType), st.EntityID, string(st.Target)).Scan(&current)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		if expectedHash != "" {
			return ErrStateConflict
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO entity_sync_state
				(entity_type, entity_id, target_system, external_id, last_synced_hash, last_synced_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			string(st.EntityType), st.EntityID, string(st.Target),
			nullString(st.ExternalID), nullString(st.LastSyncedHash), nullTime(st.LastSyncedAt)); err != nil {
			return fmt.Errorf("failed to insert sync state: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to read sync state: %w", err)
	default:
		if current.String != expectedHash {
			return ErrStateConflict
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE entity_sync_state
			SET external_id = ?, last_synced_hash = ?, last_synced_at = ?
			WHERE entity_type = ? AND entity_id = ? AND target_system = ?`,
			nullString(st.ExternalID), nullString(st.LastSyncedHash), nullTime(st.LastSyncedAt),
			string(st.EntityType), st.EntityID, string(st.Target)); err != nil {
			return fmt.Errorf("failed to update sync state: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit sync state: %w", err)
	}
	return nil
}

// CountNeverSynced returns how many entities of one type have no sync state
// row for the target. Feeds the cheap drift summary.
func (db *DB) CountNeverSynced(ctx context.Context, entityType models.EntityType, target models.TargetSystem) (int, error) {
	table, err := entityTable(entityType)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	var n int
	//nolint:gosec // table name comes from the fixed entityTable map, not user input
	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM %s e
		WHERE NOT EXISTS (
			SELECT 1 FROM entity_sync_state s
			WHERE s.entity_type = ? AND s.entity_id = e.id AND s.target_system = ?
		)`, table)
	err = db.conn.QueryRowContext(ctx, query, string(entityType), string(target)).Scan(&n)
	observe("select", table, start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to count never-synced %s: %w", entityType, err)
	}
	return n, nil
}
