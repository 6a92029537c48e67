// Driftwatch - Outbound Record Synchronization and Drift Reconciliation
// Copyright 2026 Driftwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftwatch/driftwatch

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/driftwatch/driftwatch/internal/metrics"
)

// MiddlewareConfig holds settings for the shared middleware stack.
type MiddlewareConfig struct {
	CORSAllowedOrigins []string
	RateLimitRequests  int
	RateLimitWindow    time.Duration
}

// DefaultMiddlewareConfig returns conservative defaults. CORS origins are
// empty on purpose: cross-origin access requires explicit configuration.
func DefaultMiddlewareConfig() MiddlewareConfig {
	return MiddlewareConfig{
		CORSAllowedOrigins: []string{},
		RateLimitRequests:  100,
		RateLimitWindow:    time.Minute,
	}
}

// Middleware builds Chi-compatible middleware from configuration.
type Middleware struct {
	config MiddlewareConfig
	cors   func(http.Handler) http.Handler
}

// NewMiddleware creates the middleware factory.
func NewMiddleware(config MiddlewareConfig) *Middleware {
	if config.RateLimitRequests == 0 {
		config.RateLimitRequests = 100
	}
	if config.RateLimitWindow == 0 {
		config.RateLimitWindow = time.Minute
	}
	corsHandler := cors.Handler(cors.Options{
		AllowedOrigins: config.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         86400,
	})
	return &Middleware{config: config, cors: corsHandler}
}

// CORS returns the go-chi/cors handler. Applied globally so OPTIONS
// preflight requests are answered before routing.
func (m *Middleware) CORS() func(http.Handler) http.Handler {
	return m.cors
}

// RateLimit returns an IP-keyed limiter from go-chi/httprate.
func (m *Middleware) RateLimit() func(http.Handler) http.Handler {
	return httprate.LimitByIP(m.config.RateLimitRequests, m.config.RateLimitWindow)
}

// PrometheusMetrics records request counts and latency per route pattern.
// The Chi route pattern (not the raw path) keeps label cardinality bounded.
func PrometheusMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			pattern = rctx.RoutePattern()
		}
		metrics.APIRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(ww.Status())).Inc()
		metrics.APIRequestDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
	})
}
