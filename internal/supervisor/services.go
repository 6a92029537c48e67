// Driftwatch - Outbound Record Synchronization and Drift Reconciliation
// Copyright 2026 Driftwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftwatch/driftwatch

package supervisor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/driftwatch/driftwatch/internal/controlplane"
	"github.com/driftwatch/driftwatch/internal/logging"
	"github.com/driftwatch/driftwatch/internal/models"
	syncengine "github.com/driftwatch/driftwatch/internal/sync"
)

// PeriodicService runs one job on a fixed interval under supervision. Job
// errors are logged and the loop continues; only context cancellation stops
// the service. Panics escape on purpose so suture restarts the service.
type PeriodicService struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) error
}

// NewPeriodicService wraps a job function as a suture service.
func NewPeriodicService(name string, interval time.Duration, run func(ctx context.Context) error) *PeriodicService {
	return &PeriodicService{name: name, interval: interval, run: run}
}

func (s *PeriodicService) String() string { return s.name }

// Serve runs the job once at startup and then on every tick.
func (s *PeriodicService) Serve(ctx context.Context) error {
	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *PeriodicService) runOnce(ctx context.Context) {
	if err := s.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Str("service", s.name).Msg("Periodic job failed")
	}
}

// NewSweeperService schedules retry sweeps across all targets.
func NewSweeperService(sweeper *syncengine.Sweeper, interval time.Duration) *PeriodicService {
	return NewPeriodicService("retry-sweeper", interval, func(ctx context.Context) error {
		_, err := sweeper.Sweep(ctx, nil)
		return err
	})
}

// NewReconcilerService schedules reconciliation runs for the given targets.
// A disabled reconciliation flag is a quiet no-op, not an error.
func NewReconcilerService(rec *syncengine.Reconciler, targets []models.TargetSystem, interval time.Duration) *PeriodicService {
	return NewPeriodicService("reconciler", interval, func(ctx context.Context) error {
		for _, target := range targets {
			if _, err := rec.Reconcile(ctx, target); err != nil {
				if errors.Is(err, syncengine.ErrReconciliationDisabled) {
					return nil
				}
				return err
			}
		}
		return nil
	})
}

// NewHeartbeatService announces this instance to the control plane. Failures
// are already logged and counted by the client; the loop never escalates
// them (fail-open).
func NewHeartbeatService(client *controlplane.Client, interval time.Duration) *PeriodicService {
	return NewPeriodicService("heartbeat", interval, func(ctx context.Context) error {
		_ = client.Heartbeat(ctx)
		return nil
	})
}

// usageStore is the slice of the store the usage reporter reads.
type usageStore interface {
	CountEntities(ctx context.Context, entityType models.EntityType) (int, error)
	CountSyncLogByStatus(ctx context.Context, target models.TargetSystem) (map[models.SyncStatus]int, error)
}

// NewUsageReportService uploads aggregate usage counters to the control
// plane. Best-effort like the heartbeat.
func NewUsageReportService(client *controlplane.Client, store usageStore, instanceID string, targets []models.TargetSystem, interval time.Duration) *PeriodicService {
	return NewPeriodicService("usage-report", interval, func(ctx context.Context) error {
		report := &controlplane.UsageReport{
			InstanceID:   instanceID,
			ReportedAt:   time.Now().UTC(),
			EntityCounts: make(map[string]int),
			SyncAttempts: make(map[string]int),
		}
		for _, entityType := range []models.EntityType{models.EntityContact, models.EntityTicket, models.EntityInvoice} {
			n, err := store.CountEntities(ctx, entityType)
			if err != nil {
				return err
			}
			report.EntityCounts[string(entityType)] = n
		}
		for _, target := range targets {
			report.TargetSystems = append(report.TargetSystems, string(target))
			counts, err := store.CountSyncLogByStatus(ctx, target)
			if err != nil {
				return err
			}
			for status, n := range counts {
				report.SyncAttempts[string(status)] += n
			}
		}
		_ = client.ReportUsage(ctx, report)
		return nil
	})
}

// HTTPService runs an http.Server as a suture service with graceful
// shutdown on context cancellation.
type HTTPService struct {
	server *http.Server
	grace  time.Duration
}

// NewHTTPService wraps a configured server.
func NewHTTPService(server *http.Server, grace time.Duration) *HTTPService {
	if grace == 0 {
		grace = 10 * time.Second
	}
	return &HTTPService{server: server, grace: grace}
}

func (s *HTTPService) String() string { return "http-server" }

// Serve blocks until the server stops or the context is canceled.
func (s *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.grace)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("HTTP server shutdown timed out")
		}
		return ctx.Err()
	}
}
