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

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

const syncLogColumns = `id, entity_type, entity_id, target_system, operation,
	idempotency_key, payload_hash, status, external_id, retry_count,
	next_retry_at, error_message, created_at, completed_at`

// InsertSyncLog appends one attempt row to the ledger. The row arrives either
// PENDING (a push is about to happen) or SKIPPED (terminal, with reason in
// ErrorMessage).
func (db *DB) InsertSyncLog(ctx context.Context, e *models.SyncLogEntry) error {
	start := time.Now()
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO sync_log (`+syncLogColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.EntityType), e.EntityID, string(e.Target), string(e.Operation),
		e.IdempotencyKey, e.PayloadHash, string(e.Status), nullString(e.ExternalID),
		e.RetryCount, nullTime(e.NextRetryAt), nullString(e.ErrorMessage),
		e.CreatedAt, nullTime(e.CompletedAt))
	observe("insert", "sync_log", start, err)
	if err != nil {
		return fmt.Errorf("failed to insert sync log entry: %w", err)
	}
	return nil
}

// MarkSyncLogSuccess transitions an entry to SUCCESS and records the
// target-assigned external id.
func (db *DB) MarkSyncLogSuccess(ctx context.Context, id, externalID string, completedAt time.Time) error {
	start := time.Now()
	_, err := db.conn.ExecContext(ctx, `
		UPDATE sync_log
		SET status = ?, external_id = ?, error_message = NULL,
		    next_retry_at = NULL, completed_at = ?
		WHERE id = ?`,
		string(models.StatusSuccess), nullString(externalID), completedAt, id)
	observe("update", "sync_log", start, err)
	if err != nil {
		return fmt.Errorf("failed to mark sync log %s success: %w", id, err)
	}
	return nil
}

// MarkSyncLogFailed transitions an entry to FAILED, increments its retry
// count atomically, and schedules the next replay. A nil nextRetryAt leaves
// the entry for the sweeper's due-time default.
func (db *DB) MarkSyncLogFailed(ctx context.Context, id, errMsg string, nextRetryAt *time.Time) error {
	start := time.Now()
	_, err := db.conn.ExecContext(ctx, `
		UPDATE sync_log
		SET status = ?, error_message = ?, retry_count = retry_count + 1,
		    next_retry_at = ?, completed_at = NULL
		WHERE id = ?`,
		string(models.StatusFailed), errMsg, nullTime(nextRetryAt), id)
	observe("update", "sync_log", start, err)
	if err != nil {
		return fmt.Errorf("failed to mark sync log %s failed: %w", id, err)
	}
	return nil
}

// MarkSyncLogAbandoned marks a FAILED entry permanently dead: the retry count
// is pinned at the ceiling so no future sweep selects it again. Used when the
// referenced entity no longer exists or the ceiling was reached.
func (db *DB) MarkSyncLogAbandoned(ctx context.Context, id, reason string, maxRetries int) error {
	start := time.Now()
	_, err := db.conn.ExecContext(ctx, `
		UPDATE sync_log
		SET status = ?, error_message = ?, retry_count = ?, next_retry_at = NULL
		WHERE id = ?`,
		string(models.StatusFailed), reason, maxRetries, id)
	observe("update", "sync_log", start, err)
	if err != nil {
		return fmt.Errorf("failed to abandon sync log %s: %w", id, err)
	}
	return nil
}

// MarkSyncLogSkipped transitions an entry to the terminal SKIPPED state with
// a human-readable reason. Used when a replay finds the entity already in
// sync (a later attempt succeeded in the meantime).
func (db *DB) MarkSyncLogSkipped(ctx context.Context, id, reason string, completedAt time.Time) error {
	start := time.Now()
	_, err := db.conn.ExecContext(ctx, `
		UPDATE sync_log
		SET status = ?, error_message = ?, next_retry_at = NULL, completed_at = ?
		WHERE id = ?`,
		string(models.StatusSkipped), reason, completedAt, id)
	observe("update", "sync_log", start, err)
	if err != nil {
		return fmt.Errorf("failed to mark sync log %s skipped: %w", id, err)
	}
	return nil
}

// GetSyncLog fetches one entry by id.
func (db *DB) GetSyncLog(ctx context.Context, id string) (*models.SyncLogEntry, error) {
	start := time.Now()
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+syncLogColumns+` FROM sync_log WHERE id = ?`, id)
	e, err := scanSyncLog(row)
	observe("select", "sync_log", start, err)
	return e, err
}

// SelectReplayable returns FAILED entries under the retry ceiling whose next
// retry is due, oldest first, up to batchSize. A nil target matches all
// targets.
func (db *DB) SelectReplayable(ctx context.Context, target *models.TargetSystem, batchSize, maxRetries int, now time.Time) ([]*models.SyncLogEntry, error) {
	start := time.Now()

	query := `
		SELECT ` + syncLogColumns + `
		FROM sync_log
		WHERE status = ? AND retry_count < ?
		  AND (next_retry_at IS NULL OR next_retry_at <= ?)`
	args := []any{string(models.StatusFailed), maxRetries, now}
	if target != nil {
		query += ` AND target_system = ?`
		args = append(args, string(*target))
	}
	query += ` ORDER BY created_at ASC LIMIT ?`
	args = append(args, batchSize)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	observe("select", "sync_log", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to select replayable entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.SyncLogEntry
	for rows.Next() {
		e, err := scanSyncLog(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// LastSuccessfulSync returns the most recent SUCCESS entry for one
// (entity, target) pair, or ErrNotFound when the pair never succeeded.
func (db *DB) LastSuccessfulSync(ctx context.Context, entityType models.EntityType, entityID int64, target models.TargetSystem) (*models.SyncLogEntry, error) {
	start := time.Now()
	row := db.conn.QueryRowContext(ctx, `
		SELECT `+syncLogColumns+`
		FROM sync_log
		WHERE entity_type = ? AND entity_id = ? AND target_system = ? AND status = ?
		ORDER BY created_at DESC LIMIT 1`,
		string(entityType), entityID, string(target), string(models.StatusSuccess))
	e, err := scanSyncLog(row)
	observe("select", "sync_log", start, err)
	return e, err
}

// SyncLogFilter narrows ListSyncLogs results. Zero values match everything.
type SyncLogFilter struct {
	EntityType models.EntityType
	EntityID   int64
	Target     models.TargetSystem
	Status     models.SyncStatus
	Limit      int
}

// ListSyncLogs returns ledger entries newest first.
func (db *DB) ListSyncLogs(ctx context.Context, f SyncLogFilter) ([]*models.SyncLogEntry, error) {
	start := time.Now()

	query := `SELECT ` + syncLogColumns + ` FROM sync_log WHERE 1=1`
	var args []any
	if f.EntityType != "" {
		query += ` AND entity_type = ?`
		args = append(args, string(f.EntityType))
	}
	if f.EntityID != 0 {
		query += ` AND entity_id = ?`
		args = append(args, f.EntityID)
	}
	if f.Target != "" {
		query += ` AND target_system = ?`
		args = append(args, string(f.Target))
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	observe("select", "sync_log", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync log: %w", err)
	}
	defer rows.Close()

	var entries []*models.SyncLogEntry
	for rows.Next() {
		e, err := scanSyncLog(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountSyncLogByStatus returns attempt counts per status for one target.
func (db *DB) CountSyncLogByStatus(ctx context.Context, target models.TargetSystem) (map[models.SyncStatus]int, error) {
	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM sync_log
		WHERE target_system = ? GROUP BY status`, string(target))
	observe("select", "sync_log", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to count sync log: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.SyncStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[models.SyncStatus(status)] = n
	}
	return counts, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSyncLog(s scanner) (*models.SyncLogEntry, error) {
	var (
		e           models.SyncLogEntry
		entityType  string
		target      string
		operation   string
		status      string
		externalID  sql.NullString
		nextRetryAt sql.NullTime
		errMsg      sql.NullString
		completedAt sql.NullTime
	)
	err := s.Scan(&e.ID, &entityType, &e.EntityID, &target, &operation,
		&e.IdempotencyKey, &e.PayloadHash, &status, &externalID, &e.RetryCount,
		&nextRetryAt, &errMsg, &e.CreatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan sync log row: %w", err)
	}

	e.EntityType = models.EntityType(entityType)
	e.Target = models.TargetSystem(target)
	e.Operation = models.Operation(operation)
	e.Status = models.SyncStatus(status)
	e.ExternalID = externalID.String
	e.ErrorMessage = errMsg.String
	if nextRetryAt.Valid {
		t := nextRetryAt.Time
		e.NextRetryAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		e.CompletedAt = &t
	}
	return &e, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
