// Driftwatch - Outbound Record Synchronization and Drift Reconciliation
// Copyright 2026 Driftwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftwatch/driftwatch

// Package main is the entry point for the Driftwatch server.
//
// Driftwatch keeps a canonical record store (contacts, tickets, invoices)
// synchronized with external systems of record, and measures how far the two
// sides have drifted apart.
//
// Startup order:
//
//  1. Configuration: layered Koanf v2 load (defaults, config.yaml, env)
//  2. Logging: zerolog, configured from the logging section
//  3. Database: DuckDB-backed store with schema migration
//  4. Control plane client and feature-flag provider (optional, fail-open)
//  5. Sync engine: idempotency guard, orchestrator, per-target adapters
//  6. Supervisor tree: retry sweeper, reconciler, control-plane reporters,
//     and the HTTP API under suture supervision
//
// Shutdown is graceful on SIGINT/SIGTERM: in-flight HTTP requests get a
// drain window and the supervisor tree stops its layers before the database
// closes.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/driftwatch/driftwatch/internal/api"
	"github.com/driftwatch/driftwatch/internal/config"
	"github.com/driftwatch/driftwatch/internal/controlplane"
	"github.com/driftwatch/driftwatch/internal/database"
	"github.com/driftwatch/driftwatch/internal/logging"
	"github.com/driftwatch/driftwatch/internal/models"
	"github.com/driftwatch/driftwatch/internal/supervisor"
	syncengine "github.com/driftwatch/driftwatch/internal/sync"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("version", version).
		Str("db_path", cfg.Database.Path).
		Bool("control_plane", cfg.ControlPlane.Enabled).
		Msg("Starting Driftwatch")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	if cfg.Database.SeedDemoData {
		if err := db.SeedDemoData(context.Background()); err != nil {
			logging.Fatal().Err(err).Msg("Failed to seed demo data")
		}
		logging.Info().Msg("Demo data seeded")
	}

	// Control plane is optional; the flag provider falls back to the static
	// configuration when it is disabled or unreachable.
	var cpClient *controlplane.Client
	if cfg.ControlPlane.Enabled {
		cpClient = controlplane.NewClient(&cfg.ControlPlane, version)
		if license, err := cpClient.ValidateLicense(context.Background()); err != nil {
			logging.Warn().Err(err).Msg("License validation unavailable, continuing")
		} else if !license.Valid {
			logging.Warn().Str("plan", license.Plan).Msg("License reported invalid, continuing (fail-open)")
		}
	}
	flags := controlplane.NewFlagProvider(cfg, cpClient)

	// Sync engine wiring. Target adapters are registered explicitly so the
	// set of reachable systems is visible here, not buried in config glue.
	guard := syncengine.NewGuard(db, cfg.Targets())
	orch := syncengine.NewOrchestrator(db, guard, flags, cfg.Sync)
	var activeTargets []models.TargetSystem
	for name, targetCfg := range cfg.Targets() {
		if !targetCfg.Enabled {
			logging.Info().Str("target", string(name)).Msg("Target disabled, not registering")
			continue
		}
		if err := orch.RegisterTarget(name, syncengine.NewTargetClient(name, targetCfg)); err != nil {
			logging.Fatal().Err(err).Str("target", string(name)).Msg("Failed to register target")
		}
		activeTargets = append(activeTargets, name)
		logging.Info().
			Str("target", string(name)).
			Str("base_url", targetCfg.BaseURL).
			Bool("customers_only", targetCfg.CustomersOnly).
			Msg("Target registered")
	}

	sweeper := syncengine.NewSweeper(db, orch, cfg.Sweep, cfg.Sync)
	reconciler := syncengine.NewReconciler(db, flags, cfg.Reconcile)

	handler := api.NewHandler(orch, sweeper, reconciler, db, version)
	router := api.NewRouter(handler, api.NewMiddleware(api.MiddlewareConfig{
		CORSAllowedOrigins: cfg.Server.CORSOrigins,
		RateLimitRequests:  cfg.Server.RateLimitReqs,
		RateLimitWindow:    cfg.Server.RateLimitWindow,
	}))

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddJobService(supervisor.NewSweeperService(sweeper, cfg.Sweep.Interval))
	tree.AddJobService(supervisor.NewReconcilerService(reconciler, orch.Targets(), cfg.Reconcile.Interval))
	if cpClient != nil {
		tree.AddReportingService(supervisor.NewHeartbeatService(cpClient, cfg.ControlPlane.HeartbeatInterval))
		tree.AddReportingService(supervisor.NewUsageReportService(
			cpClient, db, cfg.ControlPlane.InstanceID, orch.Targets(), cfg.ControlPlane.HeartbeatInterval))
	}
	tree.AddAPIService(supervisor.NewHTTPService(server, 10*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := tree.ServeBackground(ctx)
	logging.Info().
		Str("addr", server.Addr).
		Int("targets", len(activeTargets)).
		Msg("Driftwatch running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	case err := <-errCh:
		logging.Error().Err(err).Msg("Supervisor tree exited unexpectedly")
	}

	if unstopped, err := tree.UnstoppedServiceReport(); err == nil && len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
		}
	}

	logging.Info().Msg("Driftwatch stopped")
}
