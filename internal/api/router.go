// Driftwatch - Outbound Record Synchronization and Drift Reconciliation
// Copyright 2026 Driftwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftwatch/driftwatch

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router assembles the middleware stack and the route table.
type Router struct {
	handler    *Handler
	middleware *Middleware
}

// NewRouter creates a router around the given handler.
func NewRouter(handler *Handler, mw *Middleware) *Router {
	if mw == nil {
		mw = NewMiddleware(DefaultMiddlewareConfig())
	}
	return &Router{handler: handler, middleware: mw}
}

// Setup builds the http.Handler. CORS is global so OPTIONS preflights are
// answered before routing; rate limiting and metrics apply to the API
// routes but not to /metrics scrapes.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.middleware.CORS())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(router.middleware.RateLimit())
		r.Use(PrometheusMetrics)

		r.Get("/health", router.handler.Health)
		r.Get("/sync-log", router.handler.SyncLog)
		r.Get("/drift/{target}", router.handler.Drift)

		r.Post("/sync/{type}/{id}/{target}", router.handler.SyncOne)
		r.Post("/sync/{type}/{id}", router.handler.SyncAllTargets)
		r.Post("/sweep", router.handler.Sweep)
		r.Post("/reconcile/{target}", router.handler.Reconcile)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
