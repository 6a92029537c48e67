// Driftwatch - Outbound Record Synchronization and Drift Reconciliation
// Copyright 2026 Driftwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftwatch/driftwatch

// Package sync is the outbound synchronization engine. It decides whether a
// canonical entity needs to be pushed to an external system of record, pushes
// it idempotently, records every attempt in the sync log, retries failures
// with backoff, and audits cross-system consistency.
//
// Component map:
//   - payload.go: pure per-(entity type, target) payload builders and the
//     canonical content hash
//   - guard.go: the idempotency guard (skip vs proceed)
//   - target_client.go: resilient HTTP adapter per target system
//   - orchestrator.go: sync(entity, target) end to end, plus replay
//   - sweeper.go: periodic replay of failed attempts under the retry ceiling
//   - reconcile.go: drift reports against the legacy store and sync history
//
// Delivery is at-least-once: a push may succeed on the target while the
// outcome write fails locally, in which case the next attempt re-pushes the
// same payload. Targets are expected to treat an identical create/update as
// a no-op; the content hash keeps local bookkeeping from re-pushing entities
// that have not changed.
package sync
