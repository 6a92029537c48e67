// Driftwatch - Outbound Record Synchronization and Drift Reconciliation
// Copyright 2026 Driftwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftwatch/driftwatch

package sync

import (
	"context"
	"errors"
	"time"

	"github.com/driftwatch/driftwatch/internal/config"
	"github.com/driftwatch/driftwatch/internal/database"
	"github.com/driftwatch/driftwatch/internal/logging"
	"github.com/driftwatch/driftwatch/internal/metrics"
	"github.com/driftwatch/driftwatch/internal/models"
)

// AbandonReasonEntityGone is recorded when a replayed entry references an
// entity that no longer exists.
const AbandonReasonEntityGone = "entity not found"

// Sweeper periodically replays FAILED sync log entries that are under the
// retry ceiling and due. Each replay mutates the existing row; a sweep never
// appends new attempt rows.
type Sweeper struct {
	store Store
	orch  *Orchestrator
	cfg   config.SweepConfig
	max   int
}

// NewSweeper builds a sweeper sharing the orchestrator's push logic.
func NewSweeper(store Store, orch *Orchestrator, sweepCfg config.SweepConfig, syncCfg config.SyncConfig) *Sweeper {
	return &Sweeper{store: store, orch: orch, cfg: sweepCfg, max: syncCfg.MaxRetries}
}

// Sweep replays due FAILED entries, optionally filtered to one target, and
// returns aggregate counts. Individual errors stay in the sync log.
func (s *Sweeper) Sweep(ctx context.Context, target *models.TargetSystem) (*models.SweepResult, error) {
	metrics.SweepRuns.Inc()
	result := &models.SweepResult{}

	entries, err := s.store.SelectReplayable(ctx, target, s.cfg.BatchSize, s.max, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.Retried++

		entity, err := s.store.GetEntity(ctx, entry.EntityType, entry.EntityID)
		if errors.Is(err, database.ErrNotFound) {
			if err := s.store.MarkSyncLogAbandoned(ctx, entry.ID, AbandonReasonEntityGone, s.max); err != nil {
				logging.Error().Err(err).Str("sync_log_id", entry.ID).Msg("Failed to abandon orphaned entry")
				continue
			}
			result.Abandoned++
			metrics.SweepRetries.WithLabelValues(string(entry.Target), "abandoned").Inc()
			continue
		}
		if err != nil {
			logging.Error().Err(err).Str("sync_log_id", entry.ID).Msg("Failed to resolve entity for replay")
			continue
		}

		if err := s.orch.Replay(ctx, entry, entity); err != nil {
			if errors.Is(err, ErrSyncInFlight) {
				// A live sync owns the pair right now; this entry stays due
				// and the next sweep picks it up.
				result.Retried--
				continue
			}
			logging.Error().Err(err).Str("sync_log_id", entry.ID).Msg("Replay failed")
			continue
		}

		switch entry.Status {
		case models.StatusSuccess, models.StatusSkipped:
			result.Succeeded++
			metrics.SweepRetries.WithLabelValues(string(entry.Target), "succeeded").Inc()
		default:
			if entry.RetryCount >= s.max {
				result.Abandoned++
				metrics.SweepRetries.WithLabelValues(string(entry.Target), "abandoned").Inc()
			} else {
				result.Failed++
				metrics.SweepRetries.WithLabelValues(string(entry.Target), "failed").Inc()
			}
		}
	}

	logging.Info().Int("retried", result.Retried).Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).Int("abandoned", result.Abandoned).
		Msg("Retry sweep completed")
	return result, nil
}
