// Driftwatch - Outbound Record Synchronization and Drift Reconciliation
// Copyright 2026 Driftwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftwatch/driftwatch

package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/driftwatch/driftwatch/internal/config"
	"github.com/driftwatch/driftwatch/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(&config.DatabaseConfig{
		Path:            filepath.Join(t.TempDir(), "test.duckdb"),
		MaxMemory:       "256MB",
		ConnectRetryMax: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func pendingEntry(target models.TargetSystem, entityID int64) *models.SyncLogEntry {
	now := time.Now().UTC()
	return &models.SyncLogEntry{
		ID:             uuid.NewString(),
		EntityType:     models.EntityContact,
		EntityID:       entityID,
		Target:         target,
		Operation:      models.OperationCreate,
		IdempotencyKey: uuid.NewString(),
		PayloadHash:    "hash-1",
		Status:         models.StatusPending,
		CreatedAt:      now,
	}
}

func TestSyncLog_InsertAndGet(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	e := pendingEntry(models.TargetSystemA, 1)
	if err := db.InsertSyncLog(ctx, e); err != nil {
		t.Fatalf("InsertSyncLog failed: %v", err)
	}

	got, err := db.GetSyncLog(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetSyncLog failed: %v", err)
	}
	if got.Status != models.StatusPending {
		t.Errorf("Expected PENDING, got %s", got.Status)
	}
	if got.EntityID != 1 || got.Target != models.TargetSystemA {
		t.Errorf("Entry round-trip mismatch: %+v", got)
	}
	if got.CompletedAt != nil {
		t.Error("Expected nil completed_at on pending entry")
	}
}

func TestSyncLog_IdempotencyKeyUnique(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	e1 := pendingEntry(models.TargetSystemA, 1)
	e2 := pendingEntry(models.TargetSystemA, 2)
	e2.IdempotencyKey = e1.IdempotencyKey

	if err := db.InsertSyncLog(ctx, e1); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}
	if err := db.InsertSyncLog(ctx, e2); err == nil {
		t.Error("Expected unique constraint violation on duplicate idempotency key")
	}
}

func TestSyncLog_MarkSuccess(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	e := pendingEntry(models.TargetSystemA, 1)
	if err := db.InsertSyncLog(ctx, e); err != nil {
		t.Fatalf("InsertSyncLog failed: %v", err)
	}

	completed := time.Now().UTC()
	if err := db.MarkSyncLogSuccess(ctx, e.ID, "ext-42", completed); err != nil {
		t.Fatalf("MarkSyncLogSuccess failed: %v", err)
	}

	got, err := db.GetSyncLog(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetSyncLog failed: %v", err)
	}
	if got.Status != models.StatusSuccess {
		t.Errorf("Expected SUCCESS, got %s", got.Status)
	}
	if got.ExternalID != "ext-42" {
		t.Errorf("Expected external id ext-42, got %q", got.ExternalID)
	}
	if got.CompletedAt == nil {
		t.Error("Expected completed_at to be set")
	}
}

func TestSyncLog_FailedIncrementsRetryCount(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	e := pendingEntry(models.TargetSystemA, 1)
	if err := db.InsertSyncLog(ctx, e); err != nil {
		t.Fatalf("InsertSyncLog failed: %v", err)
	}

	next := time.Now().UTC().Add(time.Minute)
	for i := 1; i <= 3; i++ {
		if err := db.MarkSyncLogFailed(ctx, e.ID, "HTTP 500", &next); err != nil {
			t.Fatalf("MarkSyncLogFailed failed: %v", err)
		}
		got, err := db.GetSyncLog(ctx, e.ID)
		if err != nil {
			t.Fatalf("GetSyncLog failed: %v", err)
		}
		if got.RetryCount != i {
			t.Errorf("Expected retry count %d, got %d", i, got.RetryCount)
		}
		if got.Status != models.StatusFailed {
			t.Errorf("Expected FAILED, got %s", got.Status)
		}
	}
}

func TestSelectReplayable_RespectsCeilingAndDueTime(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Entry under the ceiling and due.
	due := pendingEntry(models.TargetSystemA, 1)
	if err := db.InsertSyncLog(ctx, due); err != nil {
		t.Fatal(err)
	}
	past := now.Add(-time.Minute)
	if err := db.MarkSyncLogFailed(ctx, due.ID, "HTTP 500", &past); err != nil {
		t.Fatal(err)
	}

	// Entry scheduled in the future.
	future := pendingEntry(models.TargetSystemA, 2)
	if err := db.InsertSyncLog(ctx, future); err != nil {
		t.Fatal(err)
	}
	later := now.Add(time.Hour)
	if err := db.MarkSyncLogFailed(ctx, future.ID, "HTTP 500", &later); err != nil {
		t.Fatal(err)
	}

	// Entry at the ceiling.
	exhausted := pendingEntry(models.TargetSystemA, 3)
	if err := db.InsertSyncLog(ctx, exhausted); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkSyncLogAbandoned(ctx, exhausted.ID, "entity not found", 5); err != nil {
		t.Fatal(err)
	}

	entries, err := db.SelectReplayable(ctx, nil, 10, 5, now)
	if err != nil {
		t.Fatalf("SelectReplayable failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected exactly 1 replayable entry, got %d", len(entries))
	}
	if entries[0].ID != due.ID {
		t.Errorf("Expected due entry %s, got %s", due.ID, entries[0].ID)
	}
}

func TestSelectReplayable_TargetFilterAndOrder(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	older := pendingEntry(models.TargetSystemB, 1)
	older.CreatedAt = now.Add(-2 * time.Hour)
	newer := pendingEntry(models.TargetSystemB, 2)
	newer.CreatedAt = now.Add(-time.Hour)
	other := pendingEntry(models.TargetSystemC, 3)

	for _, e := range []*models.SyncLogEntry{newer, older, other} {
		if err := db.InsertSyncLog(ctx, e); err != nil {
			t.Fatal(err)
		}
		if err := db.MarkSyncLogFailed(ctx, e.ID, "HTTP 503", nil); err != nil {
			t.Fatal(err)
		}
	}

	target := models.TargetSystemB
	entries, err := db.SelectReplayable(ctx, &target, 10, 5, now)
	if err != nil {
		t.Fatalf("SelectReplayable failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries for system_b, got %d", len(entries))
	}
	if entries[0].ID != older.ID {
		t.Error("Expected oldest-first ordering")
	}
}

func TestSyncState_CASConflict(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	st := &models.EntitySyncState{
		EntityType:     models.EntityContact,
		EntityID:       1,
		Target:         models.TargetSystemA,
		ExternalID:     "ext-1",
		LastSyncedHash: "hash-1",
		LastSyncedAt:   &now,
	}

	// First write: no prior row, expected hash empty.
	if err := db.UpsertSyncState(ctx, st, ""); err != nil {
		t.Fatalf("Initial upsert failed: %v", err)
	}

	// Writer that read "hash-1" wins.
	st2 := *st
	st2.LastSyncedHash = "hash-2"
	if err := db.UpsertSyncState(ctx, &st2, "hash-1"); err != nil {
		t.Fatalf("CAS upsert failed: %v", err)
	}

	// Writer that still holds the stale "hash-1" expectation loses.
	st3 := *st
	st3.LastSyncedHash = "hash-3"
	if err := db.UpsertSyncState(ctx, &st3, "hash-1"); !errors.Is(err, ErrStateConflict) {
		t.Errorf("Expected ErrStateConflict for stale expectation, got %v", err)
	}

	// A fresh insert against an existing row also conflicts.
	if err := db.UpsertSyncState(ctx, &st3, ""); !errors.Is(err, ErrStateConflict) {
		t.Errorf("Expected ErrStateConflict for insert over existing row, got %v", err)
	}

	got, err := db.GetSyncState(ctx, models.EntityContact, 1, models.TargetSystemA)
	if err != nil {
		t.Fatalf("GetSyncState failed: %v", err)
	}
	if got.LastSyncedHash != "hash-2" {
		t.Errorf("Expected winning hash-2, got %q", got.LastSyncedHash)
	}
}

func TestEntities_RoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	c := &models.Contact{
		ContactID: 7, Name: "Acme", Email: "a@acme.example", Status: models.ContactStatusCustomer,
		Address:   models.Address{City: "Springfield", Country: "US"},
		CreatedAt: now, UpdatedAt: now,
	}
	if err := db.UpsertContact(ctx, c); err != nil {
		t.Fatalf("UpsertContact failed: %v", err)
	}

	entity, err := db.GetEntity(ctx, models.EntityContact, 7)
	if err != nil {
		t.Fatalf("GetEntity failed: %v", err)
	}
	got, ok := entity.(*models.Contact)
	if !ok {
		t.Fatalf("Expected *models.Contact, got %T", entity)
	}
	if got.Address.City != "Springfield" {
		t.Errorf("Address round-trip failed: %+v", got.Address)
	}

	if err := db.DeleteContact(ctx, 7); err != nil {
		t.Fatalf("DeleteContact failed: %v", err)
	}
	if _, err := db.GetEntity(ctx, models.EntityContact, 7); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}

func TestReconcileRuns_LastRun(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if _, err := db.LastReconcileRun(ctx, models.TargetSystemA); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound before any run, got %v", err)
	}

	r := &models.ReconciliationReport{
		Target:          models.TargetSystemA,
		RunAt:           time.Now().UTC(),
		Duration:        1500 * time.Millisecond,
		TotalCompared:   10,
		DriftedCount:    3,
		DriftPercentage: 30.0,
	}
	if err := db.InsertReconcileRun(ctx, r); err != nil {
		t.Fatalf("InsertReconcileRun failed: %v", err)
	}

	got, err := db.LastReconcileRun(ctx, models.TargetSystemA)
	if err != nil {
		t.Fatalf("LastReconcileRun failed: %v", err)
	}
	if got.DriftPercentage != 30.0 || got.TotalCompared != 10 {
		t.Errorf("Run summary mismatch: %+v", got)
	}
}

func TestSeedDemoData(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := db.SeedDemoData(ctx); err != nil {
		t.Fatalf("SeedDemoData failed: %v", err)
	}

	n, err := db.CountEntities(ctx, models.EntityContact)
	if err != nil {
		t.Fatalf("CountEntities failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Expected 3 seeded contacts, got %d", n)
	}

	legacy, err := db.ListLegacyContacts(ctx)
	if err != nil {
		t.Fatalf("ListLegacyContacts failed: %v", err)
	}
	if len(legacy) != 2 {
		t.Errorf("Expected 2 legacy rows, got %d", len(legacy))
	}
}
