// Driftwatch - Outbound Record Synchronization and Drift Reconciliation
// Copyright 2026 Driftwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftwatch/driftwatch

package sync

import (
	"errors"
	"fmt"

	"github.com/driftwatch/driftwatch/internal/models"
)

// ErrSyncInFlight is returned when a sync for the same (entity, target) pair
// is already running in this process.
var ErrSyncInFlight = errors.New("sync already in flight for this entity and target")

// ErrReconciliationDisabled is returned when the reconciliation_enabled
// feature flag is off.
var ErrReconciliationDisabled = errors.New("reconciliation is disabled")

// MappingError means a payload could not be built because a required mapping
// is undefined for the entity's current state. Fatal for the attempt; nothing
// retries it until the entity changes.
type MappingError struct {
	EntityType models.EntityType
	EntityID   int64
	Target     models.TargetSystem
	Field      string
	Reason     string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("mapping error for %s %d -> %s: field %q: %s",
		e.EntityType, e.EntityID, e.Target, e.Field, e.Reason)
}

// TransientNetworkError is a timeout, connection failure, or 5xx response.
// Retried with backoff, bounded by the retry ceiling.
type TransientNetworkError struct {
	StatusCode int // 0 for pure network errors
	Err        error
}

func (e *TransientNetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transient target error: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("transient network error: %v", e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// ClientRejectedError is a 4xx response. The target understood the request
// and refused it, so automatic retries would only repeat the rejection; the
// attempt is logged FAILED and surfaced for manual investigation.
type ClientRejectedError struct {
	StatusCode int
	Body       string
}

func (e *ClientRejectedError) Error() string {
	return fmt.Sprintf("target rejected request: HTTP %d: %s", e.StatusCode, e.Body)
}

// NotConfiguredError means a target adapter is missing its endpoint or
// credentials. Fails fast; never degrades to a silent success.
type NotConfiguredError struct {
	Target models.TargetSystem
	Reason string
}

func (e *NotConfiguredError) Error() string {
	return fmt.Sprintf("target %s not configured: %s", e.Target, e.Reason)
}
