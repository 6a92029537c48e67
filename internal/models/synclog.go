// Driftwatch - Outbound Record Synchronization and Drift Reconciliation
// Copyright 2026 Driftwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftwatch/driftwatch

package models

import "time"

// TargetSystem names an external system of record. The set of valid targets
// comes from configuration; these constants cover the built-in deployment.
type TargetSystem string

const (
	TargetSystemA TargetSystem = "system_a"
	TargetSystemB TargetSystem = "system_b"
	TargetSystemC TargetSystem = "system_c"
)

// Valid reports whether t is one of the configured target systems.
func (t TargetSystem) Valid() bool {
	switch t {
	case TargetSystemA, TargetSystemB, TargetSystemC:
		return true
	}
	return false
}

// Operation is the kind of outbound mutation issued against a target.
type Operation string

const (
	OperationCreate Operation = "CREATE"
	OperationUpdate Operation = "UPDATE"
	OperationDelete Operation = "DELETE"
)

// SyncStatus is the state of one sync attempt.
//
// State machine: PENDING -> {SUCCESS, FAILED, SKIPPED}. SUCCESS and SKIPPED
// are terminal. FAILED entries with RetryCount below the configured ceiling
// are eligible for replay by the retry sweeper; the replay mutates the row in
// place rather than appending a new one.
type SyncStatus string

const (
	StatusPending SyncStatus = "PENDING"
	StatusSuccess SyncStatus = "SUCCESS"
	StatusFailed  SyncStatus = "FAILED"
	StatusSkipped SyncStatus = "SKIPPED"
)

// Terminal reports whether the status can never change again on its own.
// FAILED is not terminal here because the sweeper may still replay it; the
// retry ceiling is enforced by the sweeper's selection query.
func (s SyncStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusSkipped
}

// SyncLogEntry is one row of the append-only sync audit ledger: the inputs,
// outcome, and retry state of a single sync attempt.
type SyncLogEntry struct {
	ID             string       `json:"id"`
	EntityType     EntityType   `json:"entity_type"`
	EntityID       int64        `json:"entity_id"`
	Target         TargetSystem `json:"target_system"`
	Operation      Operation    `json:"operation"`
	IdempotencyKey string       `json:"idempotency_key"`
	PayloadHash    string       `json:"payload_hash"`
	Status         SyncStatus   `json:"status"`
	ExternalID     string       `json:"external_id,omitempty"`
	RetryCount     int          `json:"retry_count"`
	NextRetryAt    *time.Time   `json:"next_retry_at,omitempty"`
	ErrorMessage   string       `json:"error_message,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
}

// Replayable reports whether the entry is eligible for a sweeper replay under
// the given retry ceiling.
func (e *SyncLogEntry) Replayable(maxRetries int) bool {
	return e.Status == StatusFailed && e.RetryCount < maxRetries
}

// EntitySyncState records the last known-successful push of one entity to one
// target. If LastSyncedHash equals the hash of the entity's current payload,
// the entity is in sync with that target and must not be re-pushed.
type EntitySyncState struct {
	EntityType     EntityType   `json:"entity_type"`
	EntityID       int64        `json:"entity_id"`
	Target         TargetSystem `json:"target_system"`
	ExternalID     string       `json:"external_id,omitempty"`
	LastSyncedHash string       `json:"last_synced_hash,omitempty"`
	LastSyncedAt   *time.Time   `json:"last_synced_at,omitempty"`
}

// SweepResult aggregates one retry sweeper run. Individual errors stay in the
// sync log; the caller only sees counts.
type SweepResult struct {
	Retried   int `json:"retried"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	// Abandoned counts entries marked permanently failed during this sweep
	// (entity deleted, retry ceiling reached while replaying).
	Abandoned int `json:"abandoned"`
}
