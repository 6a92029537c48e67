// Driftwatch - Outbound Record Synchronization and Drift Reconciliation
// Copyright 2026 Driftwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftwatch/driftwatch

package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/driftwatch/driftwatch/internal/config"
	"github.com/driftwatch/driftwatch/internal/controlplane"
	"github.com/driftwatch/driftwatch/internal/database"
	"github.com/driftwatch/driftwatch/internal/models"
)

func testTargets() map[models.TargetSystem]config.TargetConfig {
	return map[models.TargetSystem]config.TargetConfig{
		models.TargetSystemA: {Enabled: true, BaseURL: "http://system-a.example"},
		models.TargetSystemB: {Enabled: true, BaseURL: "http://system-b.example", CustomersOnly: true},
	}
}

func enabledFlags() controlplane.FeatureFlags {
	return controlplane.FeatureFlags{SyncEnabled: true, ReconciliationEnabled: true}
}

func newTestOrchestrator(t *testing.T, store *fakeStore, flags controlplane.FeatureFlags) (*Orchestrator, *fakeClient) {
	t.Helper()
	guard := NewGuard(store, testTargets())
	orch := NewOrchestrator(store, guard, &fakeFlags{flags: flags}, config.SyncConfig{
		MaxRetries:     3,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
	})
	client := &fakeClient{nextID: "ext-100"}
	if err := orch.RegisterTarget(models.TargetSystemA, client); err != nil {
		t.Fatalf("RegisterTarget failed: %v", err)
	}
	return orch, client
}

func TestSync_Idempotency(t *testing.T) {
	store := newFakeStore()
	store.putEntity(testContact())
	orch, client := newTestOrchestrator(t, store, enabledFlags())
	ctx := context.Background()

	first, err := orch.Sync(ctx, models.EntityContact, 1, models.TargetSystemA)
	if err != nil {
		t.Fatalf("First sync failed: %v", err)
	}
	if first.Status != models.StatusSuccess {
		t.Fatalf("Expected SUCCESS, got %s (%s)", first.Status, first.ErrorMessage)
	}
	if first.Operation != models.OperationCreate {
		t.Errorf("First sync should be CREATE, got %s", first.Operation)
	}
	if first.ExternalID != "ext-100" {
		t.Errorf("Expected assigned external id, got %q", first.ExternalID)
	}

	second, err := orch.Sync(ctx, models.EntityContact, 1, models.TargetSystemA)
	if err != nil {
		t.Fatalf("Second sync failed: %v", err)
	}
	if second.Status != models.StatusSkipped {
		t.Errorf("Expected SKIPPED on unchanged entity, got %s", second.Status)
	}
	if second.ErrorMessage != SkipReasonUnchanged {
		t.Errorf("Expected reason %q, got %q", SkipReasonUnchanged, second.ErrorMessage)
	}

	if client.pushes() != 1 {
		t.Errorf("Expected exactly one network push, got %d", client.pushes())
	}
	logs := store.logsFor(models.EntityContact, 1, models.TargetSystemA)
	if len(logs) != 2 {
		t.Errorf("Expected 2 log entries, got %d", len(logs))
	}
}

func TestSync_CreateThenUpdate(t *testing.T) {
	store := newFakeStore()
	c := testContact()
	store.putEntity(c)
	orch, client := newTestOrchestrator(t, store, enabledFlags())
	ctx := context.Background()

	first, err := orch.Sync(ctx, models.EntityContact, 1, models.TargetSystemA)
	if err != nil {
		t.Fatal(err)
	}
	if first.Operation != models.OperationCreate {
		t.Fatalf("Expected CREATE, got %s", first.Operation)
	}

	// Mutate a mapped field; the next sync must be an UPDATE against the
	// same external id.
	changed := *c
	changed.Status = models.ContactStatusArchived
	store.putEntity(&changed)

	second, err := orch.Sync(ctx, models.EntityContact, 1, models.TargetSystemA)
	if err != nil {
		t.Fatal(err)
	}
	if second.Status != models.StatusSuccess {
		t.Fatalf("Expected SUCCESS, got %s (%s)", second.Status, second.ErrorMessage)
	}
	if second.Operation != models.OperationUpdate {
		t.Errorf("Expected UPDATE after state change, got %s", second.Operation)
	}
	if second.ExternalID != "ext-100" {
		t.Errorf("Update must address the existing external id, got %q", second.ExternalID)
	}
	if client.creates != 1 || client.updates != 1 {
		t.Errorf("Expected 1 create + 1 update, got %d/%d", client.creates, client.updates)
	}
}

func TestSync_DryRun(t *testing.T) {
	store := newFakeStore()
	store.putEntity(testContact())
	flags := enabledFlags()
	flags.DryRun = true
	orch, client := newTestOrchestrator(t, store, flags)
	ctx := context.Background()

	entry, err := orch.Sync(ctx, models.EntityContact, 1, models.TargetSystemA)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != models.StatusSuccess {
		t.Fatalf("Dry-run must report SUCCESS, got %s", entry.Status)
	}
	if client.pushes() != 0 {
		t.Errorf("Dry-run must not touch the network, got %d pushes", client.pushes())
	}

	// Sync state updated: the next call with unchanged state is SKIPPED.
	st, err := store.GetSyncState(ctx, models.EntityContact, 1, models.TargetSystemA)
	if err != nil {
		t.Fatalf("Expected sync state after dry-run: %v", err)
	}
	if st.LastSyncedHash == "" {
		t.Error("Dry-run must record the payload hash")
	}

	second, err := orch.Sync(ctx, models.EntityContact, 1, models.TargetSystemA)
	if err != nil {
		t.Fatal(err)
	}
	if second.Status != models.StatusSkipped {
		t.Errorf("Expected SKIPPED after dry-run, got %s", second.Status)
	}
}

func TestSync_GloballyDisabled(t *testing.T) {
	store := newFakeStore()
	store.putEntity(testContact())
	flags := enabledFlags()
	flags.SyncEnabled = false
	orch, client := newTestOrchestrator(t, store, flags)

	entry, err := orch.Sync(context.Background(), models.EntityContact, 1, models.TargetSystemA)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != models.StatusSkipped || entry.ErrorMessage != SkipReasonSyncDisabled {
		t.Errorf("Expected SKIPPED %q, got %s %q", SkipReasonSyncDisabled, entry.Status, entry.ErrorMessage)
	}
	if client.pushes() != 0 {
		t.Error("Disabled sync must not push")
	}
}

func TestSync_LeadSkippedOnCustomersOnlyTarget(t *testing.T) {
	store := newFakeStore()
	lead := testContact()
	lead.Status = models.ContactStatusLead
	store.putEntity(lead)
	orch, _ := newTestOrchestrator(t, store, enabledFlags())
	if err := orch.RegisterTarget(models.TargetSystemB, &fakeClient{nextID: "b-1"}); err != nil {
		t.Fatal(err)
	}

	entry, err := orch.Sync(context.Background(), models.EntityContact, 1, models.TargetSystemB)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != models.StatusSkipped || entry.ErrorMessage != SkipReasonNotApplicable {
		t.Errorf("Expected SKIPPED %q, got %s %q", SkipReasonNotApplicable, entry.Status, entry.ErrorMessage)
	}
}

func TestSync_UnknownTargetSkippedAsDisabled(t *testing.T) {
	store := newFakeStore()
	store.putEntity(testContact())
	orch, _ := newTestOrchestrator(t, store, enabledFlags())

	entry, err := orch.Sync(context.Background(), models.EntityContact, 1, models.TargetSystemC)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != models.StatusSkipped || entry.ErrorMessage != SkipReasonDisabled {
		t.Errorf("Expected SKIPPED %q, got %s %q", SkipReasonDisabled, entry.Status, entry.ErrorMessage)
	}
}

func TestSync_TransientFailureLeavesStateUntouched(t *testing.T) {
	store := newFakeStore()
	store.putEntity(testContact())
	orch, client := newTestOrchestrator(t, store, enabledFlags())
	client.err = &TransientNetworkError{StatusCode: 503}

	entry, err := orch.Sync(context.Background(), models.EntityContact, 1, models.TargetSystemA)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != models.StatusFailed {
		t.Fatalf("Expected FAILED, got %s", entry.Status)
	}
	if entry.RetryCount != 1 {
		t.Errorf("Expected retry count 1, got %d", entry.RetryCount)
	}
	if entry.NextRetryAt == nil {
		t.Error("Transient failure must schedule the next retry")
	}

	if _, err := store.GetSyncState(context.Background(), models.EntityContact, 1, models.TargetSystemA); !errors.Is(err, database.ErrNotFound) {
		t.Error("Failed sync must leave EntitySyncState untouched")
	}
}

func TestSync_ClientRejectionNotAutoRetried(t *testing.T) {
	store := newFakeStore()
	store.putEntity(testContact())
	orch, client := newTestOrchestrator(t, store, enabledFlags())
	client.err = &ClientRejectedError{StatusCode: 422, Body: "invalid email"}

	entry, err := orch.Sync(context.Background(), models.EntityContact, 1, models.TargetSystemA)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != models.StatusFailed {
		t.Fatalf("Expected FAILED, got %s", entry.Status)
	}
	if entry.RetryCount != 3 {
		t.Errorf("4xx must pin retry count at the ceiling, got %d", entry.RetryCount)
	}

	replayable, err := store.SelectReplayable(context.Background(), nil, 10, 3, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if len(replayable) != 0 {
		t.Error("Rejected entry must never be selected for replay")
	}
}

func TestSync_MappingErrorStillRecorded(t *testing.T) {
	store := newFakeStore()
	broken := testContact()
	broken.Status = "hibernating"
	store.putEntity(broken)
	orch, client := newTestOrchestrator(t, store, enabledFlags())

	entry, err := orch.Sync(context.Background(), models.EntityContact, 1, models.TargetSystemA)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != models.StatusFailed {
		t.Fatalf("Expected FAILED on mapping error, got %s", entry.Status)
	}
	if entry.ErrorMessage == "" {
		t.Error("Mapping failure must carry the error message")
	}
	if client.pushes() != 0 {
		t.Error("Unbuildable payload must not be pushed")
	}
}

func TestSync_EntityNotFound(t *testing.T) {
	store := newFakeStore()
	orch, _ := newTestOrchestrator(t, store, enabledFlags())
	if _, err := orch.Sync(context.Background(), models.EntityContact, 99, models.TargetSystemA); err == nil {
		t.Error("Expected error for unknown entity")
	}
}

func TestSyncAll_AllRegisteredTargets(t *testing.T) {
	store := newFakeStore()
	store.putEntity(testContact())
	orch, _ := newTestOrchestrator(t, store, enabledFlags())
	if err := orch.RegisterTarget(models.TargetSystemB, &fakeClient{nextID: "b-1"}); err != nil {
		t.Fatal(err)
	}

	entries, err := orch.SyncAll(context.Background(), models.EntityContact, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected one entry per registered target, got %d", len(entries))
	}
	for _, e := range entries {
		if e.Status != models.StatusSuccess {
			t.Errorf("Target %s: expected SUCCESS, got %s (%s)", e.Target, e.Status, e.ErrorMessage)
		}
	}
}

func TestRegisterTarget_Duplicate(t *testing.T) {
	store := newFakeStore()
	orch, _ := newTestOrchestrator(t, store, enabledFlags())
	if err := orch.RegisterTarget(models.TargetSystemA, &fakeClient{}); err == nil {
		t.Error("Expected error on duplicate registration")
	}
}
