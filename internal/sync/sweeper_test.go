// Driftwatch - Outbound Record Synchronization and Drift Reconciliation
// Copyright 2026 Driftwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftwatch/driftwatch

package sync

import (
	"context"
	"testing"
	"time"

	"github.com/driftwatch/driftwatch/internal/config"
	"github.com/driftwatch/driftwatch/internal/models"
)

func newTestSweeper(store *fakeStore, orch *Orchestrator) *Sweeper {
	return NewSweeper(store, orch, config.SweepConfig{BatchSize: 100},
		config.SyncConfig{MaxRetries: 3, RetryBaseDelay: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond})
}

// failSync produces one FAILED entry by pushing against a broken client.
func failSync(t *testing.T, orch *Orchestrator, client *fakeClient) {
	t.Helper()
	client.err = &TransientNetworkError{StatusCode: 500}
	entry, err := orch.Sync(context.Background(), models.EntityContact, 1, models.TargetSystemA)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != models.StatusFailed {
		t.Fatalf("Setup expected FAILED, got %s", entry.Status)
	}
}

func TestSweep_RetryCeiling(t *testing.T) {
	store := newFakeStore()
	store.putEntity(testContact())
	orch, client := newTestOrchestrator(t, store, enabledFlags())
	sweeper := newTestSweeper(store, orch)
	ctx := context.Background()

	failSync(t, orch, client) // retry_count 1

	// A permanently failing target: each sweep increments retry_count until
	// the ceiling, after which sweeps stop touching the entry.
	time.Sleep(10 * time.Millisecond)
	r1, err := sweeper.Sweep(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if r1.Retried != 1 || r1.Failed != 1 {
		t.Fatalf("First sweep: expected 1 retried / 1 failed, got %+v", r1)
	}

	time.Sleep(10 * time.Millisecond)
	r2, err := sweeper.Sweep(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if r2.Retried != 1 || r2.Abandoned != 1 {
		t.Fatalf("Second sweep: expected the entry to hit the ceiling, got %+v", r2)
	}

	entry := store.logsFor(models.EntityContact, 1, models.TargetSystemA)[0]
	if entry.RetryCount != 3 {
		t.Errorf("Expected retry count pinned at 3, got %d", entry.RetryCount)
	}

	time.Sleep(10 * time.Millisecond)
	r3, err := sweeper.Sweep(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if r3.Retried != 0 {
		t.Errorf("Entry at the ceiling must not be replayed, got %+v", r3)
	}
}

func TestSweep_SucceedsOnceTargetRecovers(t *testing.T) {
	store := newFakeStore()
	store.putEntity(testContact())
	orch, client := newTestOrchestrator(t, store, enabledFlags())
	sweeper := newTestSweeper(store, orch)
	ctx := context.Background()

	failSync(t, orch, client)
	client.err = nil // target recovers

	time.Sleep(10 * time.Millisecond)
	result, err := sweeper.Sweep(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Succeeded != 1 {
		t.Fatalf("Expected 1 succeeded, got %+v", result)
	}

	entry := store.logsFor(models.EntityContact, 1, models.TargetSystemA)[0]
	if entry.Status != models.StatusSuccess {
		t.Errorf("Replay must mutate the existing row, got %s", entry.Status)
	}
	if entry.ExternalID != "ext-100" {
		t.Errorf("Expected external id recorded on replay, got %q", entry.ExternalID)
	}

	// Exactly one row for the pair: replays never append.
	if logs := store.logsFor(models.EntityContact, 1, models.TargetSystemA); len(logs) != 1 {
		t.Errorf("Expected 1 log row after replay, got %d", len(logs))
	}

	st, err := store.GetSyncState(ctx, models.EntityContact, 1, models.TargetSystemA)
	if err != nil {
		t.Fatalf("Expected sync state after successful replay: %v", err)
	}
	if st.ExternalID != "ext-100" {
		t.Errorf("Unexpected sync state: %+v", st)
	}
}

func TestSweep_DeletedEntityAbandoned(t *testing.T) {
	store := newFakeStore()
	store.putEntity(testContact())
	orch, client := newTestOrchestrator(t, store, enabledFlags())
	sweeper := newTestSweeper(store, orch)
	ctx := context.Background()

	failSync(t, orch, client)
	store.removeEntity(models.EntityContact, 1)

	time.Sleep(10 * time.Millisecond)
	result, err := sweeper.Sweep(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Abandoned != 1 {
		t.Fatalf("Expected 1 abandoned, got %+v", result)
	}

	entry := store.logsFor(models.EntityContact, 1, models.TargetSystemA)[0]
	if entry.ErrorMessage != AbandonReasonEntityGone {
		t.Errorf("Expected reason %q, got %q", AbandonReasonEntityGone, entry.ErrorMessage)
	}
	if entry.RetryCount != 3 {
		t.Errorf("Abandoned entry must be pinned at the ceiling, got %d", entry.RetryCount)
	}
}

func TestSweep_AlreadyConvergedMarksSkipped(t *testing.T) {
	store := newFakeStore()
	c := testContact()
	store.putEntity(c)
	orch, client := newTestOrchestrator(t, store, enabledFlags())
	sweeper := newTestSweeper(store, orch)
	ctx := context.Background()

	failSync(t, orch, client)

	// Another worker synced the same state in the meantime.
	payload, err := BuildPayload(c, models.TargetSystemA)
	if err != nil {
		t.Fatal(err)
	}
	hash, err := HashPayload(payload)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC()
	if err := store.UpsertSyncState(ctx, &models.EntitySyncState{
		EntityType: models.EntityContact, EntityID: 1, Target: models.TargetSystemA,
		ExternalID: "ext-other", LastSyncedHash: hash, LastSyncedAt: &now,
	}, ""); err != nil {
		t.Fatal(err)
	}

	client.err = nil
	pushesBefore := client.pushes()
	time.Sleep(10 * time.Millisecond)
	result, err := sweeper.Sweep(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Succeeded != 1 {
		t.Fatalf("Expected converged entry counted as succeeded, got %+v", result)
	}

	entry := store.logsFor(models.EntityContact, 1, models.TargetSystemA)[0]
	if entry.Status != models.StatusSkipped {
		t.Errorf("Expected SKIPPED, got %s", entry.Status)
	}
	if client.pushes() != pushesBefore {
		t.Error("Converged entry must not be re-pushed")
	}
}

func TestSweep_TargetFilter(t *testing.T) {
	store := newFakeStore()
	store.putEntity(testContact())
	orch, client := newTestOrchestrator(t, store, enabledFlags())
	sweeper := newTestSweeper(store, orch)
	ctx := context.Background()

	failSync(t, orch, client)

	other := models.TargetSystemB
	time.Sleep(10 * time.Millisecond)
	result, err := sweeper.Sweep(ctx, &other)
	if err != nil {
		t.Fatal(err)
	}
	if result.Retried != 0 {
		t.Errorf("Filter on another target must match nothing, got %+v", result)
	}
}
