// Driftwatch - Outbound Record Synchronization and Drift Reconciliation
// Copyright 2026 Driftwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftwatch/driftwatch

package models

import "time"

// FieldMismatch describes one differing field between a canonical entity and
// its external/legacy counterpart, after whitespace/empty normalization.
type FieldMismatch struct {
	Field          string `json:"field"`
	CanonicalValue string `json:"canonical_value"`
	ExternalValue  string `json:"external_value"`
}

// ContactDrift is one drifted entity in a reconciliation report, with its
// field-level mismatches. Despite the name it is also used for ticket and
// invoice drift derived from sync history, where MismatchedFields is empty
// and Reason explains the discrepancy.
type ContactDrift struct {
	EntityID         int64           `json:"entity_id"`
	ExternalID       string          `json:"external_id,omitempty"`
	Reason           string          `json:"reason,omitempty"`
	MismatchedFields []FieldMismatch `json:"mismatched_fields,omitempty"`
}

// ReconciliationReport is the immutable result of one reconciliation run for
// one target system. Created fresh each run; consumed by metrics and the API.
type ReconciliationReport struct {
	Target             TargetSystem   `json:"target_system"`
	RunAt              time.Time      `json:"run_at"`
	Duration           time.Duration  `json:"duration"`
	TotalCompared      int            `json:"total_compared"`
	DriftedCount       int            `json:"drifted_count"`
	DriftPercentage    float64        `json:"drift_percentage"`
	MissingInExternal  int            `json:"missing_in_external"`
	MissingInCanonical int            `json:"missing_in_canonical"`
	Drifts             []ContactDrift `json:"drifts"`
}

// DriftSummary is the cheap counts-only view used by health checks, distinct
// from a full reconciliation run.
type DriftSummary struct {
	Target        TargetSystem `json:"target_system"`
	TotalEntities int          `json:"total_entities"`
	NeverSynced   int          `json:"never_synced"`
	FailedPending int          `json:"failed_pending"`
	LastRunAt     *time.Time   `json:"last_run_at,omitempty"`
	LastDriftPct  *float64     `json:"last_drift_percentage,omitempty"`
}
