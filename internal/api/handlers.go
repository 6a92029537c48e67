// Driftwatch - Outbound Record Synchronization and Drift Reconciliation
// Copyright 2026 Driftwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftwatch/driftwatch

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/driftwatch/driftwatch/internal/database"
	"github.com/driftwatch/driftwatch/internal/models"
	syncengine "github.com/driftwatch/driftwatch/internal/sync"
)

// syncService is the slice of the orchestrator the handlers use.
type syncService interface {
	Sync(ctx context.Context, entityType models.EntityType, entityID int64, target models.TargetSystem) (*models.SyncLogEntry, error)
	SyncAll(ctx context.Context, entityType models.EntityType, entityID int64) ([]*models.SyncLogEntry, error)
	Targets() []models.TargetSystem
}

// sweepService runs on-demand retry sweeps.
type sweepService interface {
	Sweep(ctx context.Context, target *models.TargetSystem) (*models.SweepResult, error)
}

// reconcileService runs reconciliation and reads drift summaries.
type reconcileService interface {
	Reconcile(ctx context.Context, target models.TargetSystem) (*models.ReconciliationReport, error)
	DriftSummary(ctx context.Context, target models.TargetSystem) (*models.DriftSummary, error)
}

// ledgerStore reads the sync audit ledger and answers health probes.
type ledgerStore interface {
	ListSyncLogs(ctx context.Context, f database.SyncLogFilter) ([]*models.SyncLogEntry, error)
	Ping(ctx context.Context) error
}

// Handler implements the HTTP endpoints.
type Handler struct {
	orch      syncService
	sweeper   sweepService
	rec       reconcileService
	store     ledgerStore
	version   string
	startTime time.Time
}

// NewHandler wires the handler against the engine components.
func NewHandler(orch syncService, sweeper sweepService, rec reconcileService, store ledgerStore, version string) *Handler {
	return &Handler{
		orch:      orch,
		sweeper:   sweeper,
		rec:       rec,
		store:     store,
		version:   version,
		startTime: time.Now().UTC(),
	}
}

// SyncOne handles POST /api/v1/sync/{type}/{id}/{target}.
func (h *Handler) SyncOne(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	entityType, entityID, ok := h.entityParams(w, r)
	if !ok {
		return
	}
	target := models.TargetSystem(chi.URLParam(r, "target"))
	if !target.Valid() {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Unknown target system", nil)
		return
	}

	entry, err := h.orch.Sync(r.Context(), entityType, entityID, target)
	if err != nil {
		h.syncError(w, err)
		return
	}
	respondData(w, http.StatusOK, entry, start)
}

// SyncAllTargets handles POST /api/v1/sync/{type}/{id}.
func (h *Handler) SyncAllTargets(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	entityType, entityID, ok := h.entityParams(w, r)
	if !ok {
		return
	}

	entries, err := h.orch.SyncAll(r.Context(), entityType, entityID)
	if err != nil {
		h.syncError(w, err)
		return
	}
	respondData(w, http.StatusOK, entries, start)
}

// Sweep handles POST /api/v1/sweep. An optional ?target= narrows the sweep.
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var target *models.TargetSystem
	if raw := r.URL.Query().Get("target"); raw != "" {
		t := models.TargetSystem(raw)
		if !t.Valid() {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Unknown target system", nil)
			return
		}
		target = &t
	}

	result, err := h.sweeper.Sweep(r.Context(), target)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Sweep failed", err)
		return
	}
	respondData(w, http.StatusOK, result, start)
}

// Reconcile handles POST /api/v1/reconcile/{target}.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	target := models.TargetSystem(chi.URLParam(r, "target"))
	if !target.Valid() {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Unknown target system", nil)
		return
	}

	report, err := h.rec.Reconcile(r.Context(), target)
	if err != nil {
		if errors.Is(err, syncengine.ErrReconciliationDisabled) {
			respondError(w, http.StatusConflict, "RECONCILIATION_DISABLED", "Reconciliation is disabled", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Reconciliation failed", err)
		return
	}
	respondData(w, http.StatusOK, report, start)
}

// Drift handles GET /api/v1/drift/{target}.
func (h *Handler) Drift(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	target := models.TargetSystem(chi.URLParam(r, "target"))
	if !target.Valid() {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Unknown target system", nil)
		return
	}

	summary, err := h.rec.DriftSummary(r.Context(), target)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to compute drift summary", err)
		return
	}
	respondData(w, http.StatusOK, summary, start)
}

// SyncLog handles GET /api/v1/sync-log with optional entity_type, entity_id,
// target, status, and limit query parameters.
func (h *Handler) SyncLog(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	filter := database.SyncLogFilter{
		Limit: getIntParam(r, "limit", 100),
	}
	if raw := r.URL.Query().Get("entity_type"); raw != "" {
		entityType := models.EntityType(raw)
		if !entityType.Valid() {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Unknown entity type", nil)
			return
		}
		filter.EntityType = entityType
	}
	if raw := r.URL.Query().Get("entity_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "entity_id must be an integer", nil)
			return
		}
		filter.EntityID = id
	}
	if raw := r.URL.Query().Get("target"); raw != "" {
		target := models.TargetSystem(raw)
		if !target.Valid() {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Unknown target system", nil)
			return
		}
		filter.Target = target
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		filter.Status = models.SyncStatus(raw)
	}

	entries, err := h.store.ListSyncLogs(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to list sync log", err)
		return
	}
	if entries == nil {
		entries = []*models.SyncLogEntry{}
	}
	respondData(w, http.StatusOK, entries, start)
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := &models.HealthStatus{
		Status:        "ok",
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Database:      "ok",
	}
	for _, target := range h.orch.Targets() {
		status.Targets = append(status.Targets, string(target))
	}

	code := http.StatusOK
	if err := h.store.Ping(r.Context()); err != nil {
		status.Status = "degraded"
		status.Database = "unreachable"
		code = http.StatusServiceUnavailable
	}
	respondData(w, code, status, start)
}

func (h *Handler) entityParams(w http.ResponseWriter, r *http.Request) (models.EntityType, int64, bool) {
	entityType := models.EntityType(chi.URLParam(r, "type"))
	if !entityType.Valid() {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Unknown entity type", nil)
		return "", 0, false
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Entity id must be a positive integer", nil)
		return "", 0, false
	}
	return entityType, id, true
}

func (h *Handler) syncError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Entity does not exist", nil)
	case errors.Is(err, syncengine.ErrSyncInFlight):
		respondError(w, http.StatusConflict, "SYNC_IN_FLIGHT", "A sync for this entity and target is already running", nil)
	default:
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Sync failed", err)
	}
}
