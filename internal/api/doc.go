// Driftwatch - Outbound Record Synchronization and Drift Reconciliation
// Copyright 2026 Driftwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftwatch/driftwatch

// Package api provides the HTTP control surface using the Chi router.
//
// Endpoints:
//   - POST /api/v1/sync/{type}/{id}/{target}  sync one entity to one target
//   - POST /api/v1/sync/{type}/{id}           sync one entity to all targets
//   - POST /api/v1/sweep                      run a retry sweep now
//   - POST /api/v1/reconcile/{target}         run reconciliation for a target
//   - GET  /api/v1/drift/{target}             drift summary for a target
//   - GET  /api/v1/sync-log                   filtered audit ledger listing
//   - GET  /api/v1/health                     liveness and dependency status
//   - GET  /metrics                           Prometheus exposition
//
// All responses use the models.APIResponse envelope. Mutating endpoints are
// POST-only; the sync endpoints return the resulting ledger row so callers
// can see the outcome (SUCCESS, SKIPPED, FAILED) of a synchronous attempt.
package api
