// Driftwatch - Outbound Record Synchronization and Drift Reconciliation
// Copyright 2026 Driftwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftwatch/driftwatch

package sync

import (
	"context"
	"fmt"
	"sort"
	stdsync "sync"
	"time"

	"github.com/driftwatch/driftwatch/internal/controlplane"
	"github.com/driftwatch/driftwatch/internal/database"
	"github.com/driftwatch/driftwatch/internal/models"
)

// fakeStore is an in-memory Store for orchestrator, sweeper, and reconciler
// tests. Semantics mirror the real database package, including the
// compare-and-set on sync state.
type fakeStore struct {
	mu       stdsync.Mutex
	entities map[string]models.Entity
	logs     []*models.SyncLogEntry
	states   map[string]*models.EntitySyncState
	legacy   map[int64]*models.LegacyContact
	runs     []*models.ReconciliationReport
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		entities: make(map[string]models.Entity),
		states:   make(map[string]*models.EntitySyncState),
		legacy:   make(map[int64]*models.LegacyContact),
	}
}

func entityKey(t models.EntityType, id int64) string { return fmt.Sprintf("%s:%d", t, id) }

func stateKey(t models.EntityType, id int64, target models.TargetSystem) string {
	return fmt.Sprintf("%s:%d:%s", t, id, target)
}

func (s *fakeStore) putEntity(e models.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[entityKey(e.Type(), e.ID())] = e
}

func (s *fakeStore) removeEntity(t models.EntityType, id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entities, entityKey(t, id))
}

func (s *fakeStore) GetEntity(_ context.Context, t models.EntityType, id int64) (models.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[entityKey(t, id)]
	if !ok {
		return nil, database.ErrNotFound
	}
	return e, nil
}

func (s *fakeStore) InsertSyncLog(_ context.Context, e *models.SyncLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.logs {
		if existing.IdempotencyKey == e.IdempotencyKey {
			return fmt.Errorf("duplicate idempotency key %s", e.IdempotencyKey)
		}
	}
	clone := *e
	s.logs = append(s.logs, &clone)
	return nil
}

func (s *fakeStore) findLog(id string) *models.SyncLogEntry {
	for _, e := range s.logs {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func (s *fakeStore) MarkSyncLogSuccess(_ context.Context, id, externalID string, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.findLog(id)
	if e == nil {
		return database.ErrNotFound
	}
	e.Status = models.StatusSuccess
	e.ExternalID = externalID
	e.ErrorMessage = ""
	e.NextRetryAt = nil
	e.CompletedAt = &completedAt
	return nil
}

func (s *fakeStore) MarkSyncLogFailed(_ context.Context, id, errMsg string, nextRetryAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.findLog(id)
	if e == nil {
		return database.ErrNotFound
	}
	e.Status = models.StatusFailed
	e.ErrorMessage = errMsg
	e.RetryCount++
	e.NextRetryAt = nextRetryAt
	e.CompletedAt = nil
	return nil
}

func (s *fakeStore) MarkSyncLogAbandoned(_ context.Context, id, reason string, maxRetries int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.findLog(id)
	if e == nil {
		return database.ErrNotFound
	}
	e.Status = models.StatusFailed
	e.ErrorMessage = reason
	e.RetryCount = maxRetries
	e.NextRetryAt = nil
	return nil
}

func (s *fakeStore) MarkSyncLogSkipped(_ context.Context, id, reason string, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.findLog(id)
	if e == nil {
		return database.ErrNotFound
	}
	e.Status = models.StatusSkipped
	e.ErrorMessage = reason
	e.NextRetryAt = nil
	e.CompletedAt = &completedAt
	return nil
}

func (s *fakeStore) SelectReplayable(_ context.Context, target *models.TargetSystem, batchSize, maxRetries int, now time.Time) ([]*models.SyncLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.SyncLogEntry
	for _, e := range s.logs {
		if e.Status != models.StatusFailed || e.RetryCount >= maxRetries {
			continue
		}
		if e.NextRetryAt != nil && e.NextRetryAt.After(now) {
			continue
		}
		if target != nil && e.Target != *target {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > batchSize {
		out = out[:batchSize]
	}
	return out, nil
}

func (s *fakeStore) LastSuccessfulSync(_ context.Context, t models.EntityType, id int64, target models.TargetSystem) (*models.SyncLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last *models.SyncLogEntry
	for _, e := range s.logs {
		if e.EntityType == t && e.EntityID == id && e.Target == target && e.Status == models.StatusSuccess {
			if last == nil || e.CreatedAt.After(last.CreatedAt) {
				last = e
			}
		}
	}
	if last == nil {
		return nil, database.ErrNotFound
	}
	return last, nil
}

func (s *fakeStore) CountSyncLogByStatus(_ context.Context, target models.TargetSystem) (map[models.SyncStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[models.SyncStatus]int)
	for _, e := range s.logs {
		if e.Target == target {
			counts[e.Status]++
		}
	}
	return counts, nil
}

func (s *fakeStore) GetSyncState(_ context.Context, t models.EntityType, id int64, target models.TargetSystem) (*models.EntitySyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[stateKey(t, id, target)]
	if !ok {
		return nil, database.ErrNotFound
	}
	clone := *st
	return &clone, nil
}

func (s *fakeStore) UpsertSyncState(_ context.Context, st *models.EntitySyncState, expectedHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := stateKey(st.EntityType, st.EntityID, st.Target)
	current, exists := s.states[key]
	if !exists && expectedHash != "" {
		return database.ErrStateConflict
	}
	if exists && current.LastSyncedHash != expectedHash {
		return database.ErrStateConflict
	}
	clone := *st
	s.states[key] = &clone
	return nil
}

func (s *fakeStore) CountNeverSynced(_ context.Context, t models.EntityType, target models.TargetSystem) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entities {
		if e.Type() != t {
			continue
		}
		if _, ok := s.states[stateKey(t, e.ID(), target)]; !ok {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) ListContacts(_ context.Context) ([]*models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Contact
	for _, e := range s.entities {
		if c, ok := e.(*models.Contact); ok {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContactID < out[j].ContactID })
	return out, nil
}

func (s *fakeStore) ListLegacyContacts(_ context.Context) (map[int64]*models.LegacyContact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]*models.LegacyContact, len(s.legacy))
	for id, lc := range s.legacy {
		clone := *lc
		out[id] = &clone
	}
	return out, nil
}

func (s *fakeStore) ListEntityIDs(_ context.Context, t models.EntityType) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for _, e := range s.entities {
		if e.Type() == t {
			ids = append(ids, e.ID())
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *fakeStore) CountEntities(_ context.Context, t models.EntityType) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entities {
		if e.Type() == t {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) InsertReconcileRun(_ context.Context, r *models.ReconciliationReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *r
	s.runs = append(s.runs, &clone)
	return nil
}

func (s *fakeStore) LastReconcileRun(_ context.Context, target models.TargetSystem) (*models.ReconciliationReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.runs) - 1; i >= 0; i-- {
		if s.runs[i].Target == target {
			clone := *s.runs[i]
			return &clone, nil
		}
	}
	return nil, database.ErrNotFound
}

// logsFor returns the entries for one (entity, target) pair, oldest first.
func (s *fakeStore) logsFor(t models.EntityType, id int64, target models.TargetSystem) []*models.SyncLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.SyncLogEntry
	for _, e := range s.logs {
		if e.EntityType == t && e.EntityID == id && e.Target == target {
			out = append(out, e)
		}
	}
	return out
}

// fakeFlags is a static flag provider.
type fakeFlags struct {
	flags controlplane.FeatureFlags
}

func (f *fakeFlags) Current(_ context.Context) controlplane.FeatureFlags { return f.flags }

// fakeClient is a scripted TargetClient.
type fakeClient struct {
	mu      stdsync.Mutex
	creates int
	updates int
	nextID  string
	err     error
}

func (c *fakeClient) Create(_ context.Context, _ string, _ map[string]any) (*PushResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creates++
	if c.err != nil {
		return nil, c.err
	}
	return &PushResult{ExternalID: c.nextID}, nil
}

func (c *fakeClient) Update(_ context.Context, _ string, externalID string, _ map[string]any) (*PushResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates++
	if c.err != nil {
		return nil, c.err
	}
	return &PushResult{ExternalID: externalID}, nil
}

func (c *fakeClient) Delete(_ context.Context, _, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeClient) pushes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creates + c.updates
}
