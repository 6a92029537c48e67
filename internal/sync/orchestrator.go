// Driftwatch - Outbound Record Synchronization and Drift Reconciliation
// Copyright 2026 Driftwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftwatch/driftwatch

package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	stdsync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/driftwatch/driftwatch/internal/config"
	"github.com/driftwatch/driftwatch/internal/controlplane"
	"github.com/driftwatch/driftwatch/internal/logging"
	"github.com/driftwatch/driftwatch/internal/metrics"
	"github.com/driftwatch/driftwatch/internal/models"
)

// Skip reason for the global sync kill switch, distinct from the per-target
// disable handled by the guard.
const SkipReasonSyncDisabled = "synchronization disabled"

// Store is the persistence surface the sync engine depends on. *database.DB
// satisfies it; tests substitute a fake.
type Store interface {
	GetEntity(ctx context.Context, entityType models.EntityType, id int64) (models.Entity, error)

	InsertSyncLog(ctx context.Context, e *models.SyncLogEntry) error
	MarkSyncLogSuccess(ctx context.Context, id, externalID string, completedAt time.Time) error
	MarkSyncLogFailed(ctx context.Context, id, errMsg string, nextRetryAt *time.Time) error
	MarkSyncLogAbandoned(ctx context.Context, id, reason string, maxRetries int) error
	MarkSyncLogSkipped(ctx context.Context, id, reason string, completedAt time.Time) error
	SelectReplayable(ctx context.Context, target *models.TargetSystem, batchSize, maxRetries int, now time.Time) ([]*models.SyncLogEntry, error)
	LastSuccessfulSync(ctx context.Context, entityType models.EntityType, entityID int64, target models.TargetSystem) (*models.SyncLogEntry, error)
	CountSyncLogByStatus(ctx context.Context, target models.TargetSystem) (map[models.SyncStatus]int, error)

	GetSyncState(ctx context.Context, entityType models.EntityType, entityID int64, target models.TargetSystem) (*models.EntitySyncState, error)
	UpsertSyncState(ctx context.Context, st *models.EntitySyncState, expectedHash string) error
	CountNeverSynced(ctx context.Context, entityType models.EntityType, target models.TargetSystem) (int, error)

	ListContacts(ctx context.Context) ([]*models.Contact, error)
	ListLegacyContacts(ctx context.Context) (map[int64]*models.LegacyContact, error)
	ListEntityIDs(ctx context.Context, entityType models.EntityType) ([]int64, error)
	CountEntities(ctx context.Context, entityType models.EntityType) (int, error)

	InsertReconcileRun(ctx context.Context, r *models.ReconciliationReport) error
	LastReconcileRun(ctx context.Context, target models.TargetSystem) (*models.ReconciliationReport, error)
}

// flagProvider is satisfied by *controlplane.FlagProvider.
type flagProvider interface {
	Current(ctx context.Context) controlplane.FeatureFlags
}

// Orchestrator drives one sync attempt end to end: operation kind, guard,
// PENDING log entry, push, outcome bookkeeping. All state is constructor
// injected; nothing here is a package-level singleton, so tests run isolated
// instances side by side.
//
// Target adapters are attached with explicit RegisterTarget calls during
// process initialization. The registered set is inspectable via Targets().
type Orchestrator struct {
	store Store
	guard *Guard
	flags flagProvider
	cfg   config.SyncConfig

	clients map[models.TargetSystem]TargetClient

	// inflight prevents a second sync for an (entity, target) pair while one
	// is outstanding in this process. Cross-process races are handled by the
	// compare-and-set on entity_sync_state, not here.
	mu       stdsync.Mutex
	inflight map[string]struct{}
}

// NewOrchestrator builds an orchestrator with no targets registered.
func NewOrchestrator(store Store, guard *Guard, flags flagProvider, cfg config.SyncConfig) *Orchestrator {
	return &Orchestrator{
		store:    store,
		guard:    guard,
		flags:    flags,
		cfg:      cfg,
		clients:  make(map[models.TargetSystem]TargetClient),
		inflight: make(map[string]struct{}),
	}
}

// RegisterTarget attaches the adapter for one target system. Registering the
// same target twice is a wiring bug and fails loudly.
func (o *Orchestrator) RegisterTarget(name models.TargetSystem, client TargetClient) error {
	if _, exists := o.clients[name]; exists {
		return fmt.Errorf("target %s is already registered", name)
	}
	o.clients[name] = client
	return nil
}

// Targets returns the registered target systems in stable order.
func (o *Orchestrator) Targets() []models.TargetSystem {
	names := make([]models.TargetSystem, 0, len(o.clients))
	for name := range o.clients {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Sync pushes one entity to one target and returns the resulting log entry.
// Push failures are captured in the entry (status FAILED), not returned as
// an error; the error return covers infrastructure problems only (unknown
// entity, store failures, a concurrent sync for the same pair).
func (o *Orchestrator) Sync(ctx context.Context, entityType models.EntityType, entityID int64, target models.TargetSystem) (*models.SyncLogEntry, error) {
	if !entityType.Valid() {
		return nil, fmt.Errorf("unknown entity type %q", entityType)
	}

	release, err := o.acquire(entityType, entityID, target)
	if err != nil {
		return nil, err
	}
	defer release()

	flags := o.flags.Current(ctx)
	now := time.Now().UTC()

	if !flags.SyncEnabled {
		entry := o.newEntry(entityType, entityID, target, models.OperationUpdate, "", now)
		return o.recordSkip(ctx, entry, SkipReasonSyncDisabled, now)
	}

	entity, err := o.store.GetEntity(ctx, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s %d: %w", entityType, entityID, err)
	}

	decision, err := o.guard.ShouldSync(ctx, entity, target)
	if err != nil {
		var mapErr *MappingError
		if errors.As(err, &mapErr) {
			// The attempt record is never lost, even when no payload exists.
			entry := o.newEntry(entityType, entityID, target, models.OperationUpdate, "", now)
			entry.Status = models.StatusFailed
			entry.ErrorMessage = mapErr.Error()
			if insertErr := o.store.InsertSyncLog(ctx, entry); insertErr != nil {
				return nil, insertErr
			}
			metrics.SyncAttempts.WithLabelValues(string(target), string(entityType), "failed").Inc()
			return entry, nil
		}
		return nil, err
	}

	if decision.Skip {
		entry := o.newEntry(entityType, entityID, target, models.OperationUpdate, decision.Hash, now)
		return o.recordSkip(ctx, entry, decision.Reason, now)
	}

	entry := o.newEntry(entityType, entityID, target, operationFor(decision), decision.Hash, now)
	if err := o.store.InsertSyncLog(ctx, entry); err != nil {
		return nil, err
	}

	o.execute(ctx, entity, target, decision, entry, flags)
	return entry, nil
}

// SyncAll pushes one entity to every registered target. One target failing
// does not stop the others; per-target outcomes are in the returned entries.
func (o *Orchestrator) SyncAll(ctx context.Context, entityType models.EntityType, entityID int64) ([]*models.SyncLogEntry, error) {
	var entries []*models.SyncLogEntry
	for _, target := range o.Targets() {
		entry, err := o.Sync(ctx, entityType, entityID, target)
		if err != nil {
			return entries, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Replay re-runs a FAILED attempt by mutating the existing log row. The
// entity is re-resolved and the payload recomputed: entity state may have
// changed since the original attempt. Callers (the sweeper) handle deleted
// entities before getting here.
func (o *Orchestrator) Replay(ctx context.Context, entry *models.SyncLogEntry, entity models.Entity) error {
	release, err := o.acquire(entry.EntityType, entry.EntityID, entry.Target)
	if err != nil {
		return err
	}
	defer release()

	flags := o.flags.Current(ctx)
	now := time.Now().UTC()

	decision, err := o.guard.ShouldSync(ctx, entity, entry.Target)
	if err != nil {
		var mapErr *MappingError
		if errors.As(err, &mapErr) {
			o.recordFailure(ctx, entry, mapErr, now)
			return nil
		}
		return err
	}

	if decision.Skip {
		// A later attempt already converged (or the target got disabled);
		// retrying would be a duplicate push.
		if err := o.store.MarkSyncLogSkipped(ctx, entry.ID, decision.Reason, now); err != nil {
			return err
		}
		entry.Status = models.StatusSkipped
		entry.ErrorMessage = decision.Reason
		entry.CompletedAt = &now
		metrics.SyncAttempts.WithLabelValues(string(entry.Target), string(entry.EntityType), "skipped").Inc()
		metrics.SyncSkips.WithLabelValues(string(entry.Target), skipMetricReason(decision.Reason)).Inc()
		return nil
	}

	entry.Operation = operationFor(decision)
	o.execute(ctx, entity, entry.Target, decision, entry, flags)
	return nil
}

// execute performs the push (or the dry-run short circuit) and records the
// outcome on the already-persisted entry.
func (o *Orchestrator) execute(ctx context.Context, entity models.Entity, target models.TargetSystem, decision *Decision, entry *models.SyncLogEntry, flags controlplane.FeatureFlags) {
	now := time.Now().UTC()

	// Dry-run is explicit: no network call, reported as success, and the
	// sync state is still updated so idempotency keeps functioning.
	if flags.DryRun {
		externalID := ""
		if decision.Prior != nil {
			externalID = decision.Prior.ExternalID
		}
		o.recordSuccess(ctx, entry, decision, externalID, now)
		logging.Debug().Str("target", string(target)).Str("entity_type", string(entry.EntityType)).
			Int64("entity_id", entry.EntityID).Msg("Dry-run sync, push skipped")
		return
	}

	client, registered := o.clients[target]
	if !registered {
		o.recordFailure(ctx, entry, &NotConfiguredError{Target: target, Reason: "no adapter registered"}, now)
		return
	}

	resource := resourcePath(entity.Type())
	var (
		result *PushResult
		err    error
	)
	switch entry.Operation {
	case models.OperationCreate:
		result, err = client.Create(ctx, resource, decision.Payload)
	case models.OperationUpdate:
		result, err = client.Update(ctx, resource, decision.Prior.ExternalID, decision.Payload)
	default:
		err = fmt.Errorf("unsupported operation %s", entry.Operation)
	}
	now = time.Now().UTC()

	if err != nil {
		o.recordFailure(ctx, entry, err, now)
		return
	}

	externalID := result.ExternalID
	if externalID == "" && decision.Prior != nil {
		externalID = decision.Prior.ExternalID
	}
	o.recordSuccess(ctx, entry, decision, externalID, now)
}

func (o *Orchestrator) recordSkip(ctx context.Context, entry *models.SyncLogEntry, reason string, now time.Time) (*models.SyncLogEntry, error) {
	entry.Status = models.StatusSkipped
	entry.ErrorMessage = reason
	entry.CompletedAt = &now
	if err := o.store.InsertSyncLog(ctx, entry); err != nil {
		return nil, err
	}
	metrics.SyncAttempts.WithLabelValues(string(entry.Target), string(entry.EntityType), "skipped").Inc()
	metrics.SyncSkips.WithLabelValues(string(entry.Target), skipMetricReason(reason)).Inc()
	return entry, nil
}

func (o *Orchestrator) recordSuccess(ctx context.Context, entry *models.SyncLogEntry, decision *Decision, externalID string, now time.Time) {
	if err := o.store.MarkSyncLogSuccess(ctx, entry.ID, externalID, now); err != nil {
		logging.Error().Err(err).Str("sync_log_id", entry.ID).Msg("Failed to record sync success")
	}
	entry.Status = models.StatusSuccess
	entry.ExternalID = externalID
	entry.CompletedAt = &now
	entry.ErrorMessage = ""

	expected := ""
	if decision.Prior != nil {
		expected = decision.Prior.LastSyncedHash
	}
	state := &models.EntitySyncState{
		EntityType:     entry.EntityType,
		EntityID:       entry.EntityID,
		Target:         entry.Target,
		ExternalID:     externalID,
		LastSyncedHash: decision.Hash,
		LastSyncedAt:   &now,
	}
	if err := o.store.UpsertSyncState(ctx, state, expected); err != nil {
		// A concurrent worker won the compare-and-set. The push already
		// happened; the next guard pass re-reads fresh state.
		logging.Warn().Err(err).Str("target", string(entry.Target)).
			Str("entity_type", string(entry.EntityType)).Int64("entity_id", entry.EntityID).
			Msg("Sync state write lost to a concurrent sync")
	}

	metrics.SyncAttempts.WithLabelValues(string(entry.Target), string(entry.EntityType), "success").Inc()
}

func (o *Orchestrator) recordFailure(ctx context.Context, entry *models.SyncLogEntry, cause error, now time.Time) {
	var (
		rejected      *ClientRejectedError
		notConfigured *NotConfiguredError
	)
	switch {
	case errors.As(cause, &rejected), errors.As(cause, &notConfigured):
		// Automatic retries cannot fix a 4xx or missing credentials; pin the
		// entry at the ceiling so the sweeper leaves it for an operator.
		if err := o.store.MarkSyncLogAbandoned(ctx, entry.ID, cause.Error(), o.cfg.MaxRetries); err != nil {
			logging.Error().Err(err).Str("sync_log_id", entry.ID).Msg("Failed to record sync failure")
		}
		entry.RetryCount = o.cfg.MaxRetries
		entry.NextRetryAt = nil
	default:
		next := now.Add(backoffDelay(o.cfg.RetryBaseDelay, o.cfg.RetryMaxDelay, entry.RetryCount))
		if err := o.store.MarkSyncLogFailed(ctx, entry.ID, cause.Error(), &next); err != nil {
			logging.Error().Err(err).Str("sync_log_id", entry.ID).Msg("Failed to record sync failure")
		}
		entry.RetryCount++
		entry.NextRetryAt = &next
	}

	entry.Status = models.StatusFailed
	entry.ErrorMessage = cause.Error()
	logging.Warn().Err(cause).Str("target", string(entry.Target)).
		Str("entity_type", string(entry.EntityType)).Int64("entity_id", entry.EntityID).
		Int("retry_count", entry.RetryCount).Msg("Sync attempt failed")
	metrics.SyncAttempts.WithLabelValues(string(entry.Target), string(entry.EntityType), "failed").Inc()
}

func (o *Orchestrator) newEntry(entityType models.EntityType, entityID int64, target models.TargetSystem, op models.Operation, hash string, now time.Time) *models.SyncLogEntry {
	return &models.SyncLogEntry{
		ID:             uuid.NewString(),
		EntityType:     entityType,
		EntityID:       entityID,
		Target:         target,
		Operation:      op,
		IdempotencyKey: fmt.Sprintf("%s:%s:%d:%d", target, entityType, entityID, now.UnixNano()),
		PayloadHash:    hash,
		Status:         models.StatusPending,
		CreatedAt:      now,
	}
}

func (o *Orchestrator) acquire(entityType models.EntityType, entityID int64, target models.TargetSystem) (func(), error) {
	key := fmt.Sprintf("%s:%d:%s", entityType, entityID, target)
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inflight[key]; busy {
		return nil, ErrSyncInFlight
	}
	o.inflight[key] = struct{}{}
	return func() {
		o.mu.Lock()
		delete(o.inflight, key)
		o.mu.Unlock()
	}, nil
}

// operationFor picks CREATE when the entity has no prior external id for the
// target, UPDATE otherwise.
func operationFor(decision *Decision) models.Operation {
	if decision.Prior == nil || decision.Prior.ExternalID == "" {
		return models.OperationCreate
	}
	return models.OperationUpdate
}

func resourcePath(t models.EntityType) string {
	switch t {
	case models.EntityContact:
		return "contacts"
	case models.EntityTicket:
		return "tickets"
	default:
		return "invoices"
	}
}

// skipMetricReason maps skip reason strings to low-cardinality metric labels.
func skipMetricReason(reason string) string {
	switch reason {
	case SkipReasonUnchanged:
		return "unchanged"
	case SkipReasonDisabled, SkipReasonSyncDisabled:
		return "disabled"
	case SkipReasonNotApplicable:
		return "not_applicable"
	default:
		return "other"
	}
}
