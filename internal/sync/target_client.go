// Driftwatch - Outbound Record Synchronization and Drift Reconciliation
// Copyright 2026 Driftwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftwatch/driftwatch

package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/driftwatch/driftwatch/internal/breaker"
	"github.com/driftwatch/driftwatch/internal/config"
	"github.com/driftwatch/driftwatch/internal/logging"
	"github.com/driftwatch/driftwatch/internal/metrics"
	"github.com/driftwatch/driftwatch/internal/models"
)

// PushResult is the outcome of a successful create or update.
type PushResult struct {
	// ExternalID is the identifier assigned by the target on create; on
	// update it echoes the id that was addressed.
	ExternalID string
}

// TargetClient is the generic create-or-update contract every target adapter
// satisfies. resource is the collection path segment ("contacts", "tickets",
// "invoices").
type TargetClient interface {
	Create(ctx context.Context, resource string, payload map[string]any) (*PushResult, error)
	Update(ctx context.Context, resource, externalID string, payload map[string]any) (*PushResult, error)
	Delete(ctx context.Context, resource, externalID string) error
}

// HTTPTargetClient pushes JSON payloads to one external system of record.
// Every attempt passes a rate limiter and a circuit breaker; transient
// failures (network errors, 5xx) are retried in-call with exponential
// backoff and ±25% jitter, 4xx responses are surfaced immediately as
// ClientRejectedError and never retried.
type HTTPTargetClient struct {
	name       models.TargetSystem
	cfg        config.TargetConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	cb         *breaker.Breaker
}

// NewTargetClient builds the adapter for one configured target.
func NewTargetClient(name models.TargetSystem, cfg config.TargetConfig) *HTTPTargetClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 10
	}
	return &HTTPTargetClient{
		name:       name,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		cb:         breaker.New("target-" + string(name)),
	}
}

// Create issues POST /{resource} and returns the target-assigned id.
func (c *HTTPTargetClient) Create(ctx context.Context, resource string, payload map[string]any) (*PushResult, error) {
	return c.push(ctx, http.MethodPost, fmt.Sprintf("%s/%s", c.cfg.BaseURL, resource), payload)
}

// Update issues PUT /{resource}/{id}.
func (c *HTTPTargetClient) Update(ctx context.Context, resource, externalID string, payload map[string]any) (*PushResult, error) {
	result, err := c.push(ctx, http.MethodPut, fmt.Sprintf("%s/%s/%s", c.cfg.BaseURL, resource, externalID), payload)
	if err != nil {
		return nil, err
	}
	if result.ExternalID == "" {
		result.ExternalID = externalID
	}
	return result, nil
}

// Delete issues DELETE /{resource}/{id}.
func (c *HTTPTargetClient) Delete(ctx context.Context, resource, externalID string) error {
	_, err := c.push(ctx, http.MethodDelete, fmt.Sprintf("%s/%s/%s", c.cfg.BaseURL, resource, externalID), nil)
	return err
}

func (c *HTTPTargetClient) push(ctx context.Context, method, url string, payload map[string]any) (*PushResult, error) {
	if err := c.checkConfigured(); err != nil {
		return nil, err
	}

	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	maxRetries := c.cfg.MaxRetries
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, &TransientNetworkError{Err: ctx.Err()}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &TransientNetworkError{Err: err}
		}

		start := time.Now()
		result, err := c.cb.Execute(func() (any, error) {
			return c.doOnce(ctx, method, url, body)
		})
		metrics.SyncDuration.WithLabelValues(string(c.name)).Observe(time.Since(start).Seconds())

		if err == nil {
			return result.(*PushResult), nil
		}
		if breaker.Rejected(err) {
			// Open breaker: shed immediately, the sweeper picks it up later.
			return nil, &TransientNetworkError{Err: err}
		}
		if _, rejected := asClientRejected(err); rejected {
			return nil, err
		}

		lastErr = err
		if attempt == maxRetries {
			break
		}

		delay := backoffDelay(c.cfg.RetryBaseDelay, c.cfg.RetryMaxDelay, attempt)
		logging.Debug().Str("target", string(c.name)).Str("method", method).
			Int("attempt", attempt+1).Dur("delay", delay).Err(err).
			Msg("Transient push failure, backing off")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, &TransientNetworkError{Err: ctx.Err()}
		}
	}

	return nil, lastErr
}

// doOnce performs a single HTTP attempt and classifies the outcome.
func (c *HTTPTargetClient) doOnce(ctx context.Context, method, url string, body []byte) (*PushResult, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransientNetworkError{Err: err}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return decodePushResult(resp.Body)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &ClientRejectedError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(payload))}
	default:
		return nil, &TransientNetworkError{StatusCode: resp.StatusCode}
	}
}

func (c *HTTPTargetClient) checkConfigured() error {
	if !c.cfg.Enabled {
		return &NotConfiguredError{Target: c.name, Reason: "target is disabled"}
	}
	if c.cfg.BaseURL == "" {
		return &NotConfiguredError{Target: c.name, Reason: "base_url is empty"}
	}
	switch c.cfg.AuthMode {
	case config.AuthModeBearer:
		if c.cfg.Token == "" {
			return &NotConfiguredError{Target: c.name, Reason: "bearer token is empty"}
		}
	case config.AuthModeBasic:
		if c.cfg.Username == "" || c.cfg.Password == "" {
			return &NotConfiguredError{Target: c.name, Reason: "basic auth credentials are incomplete"}
		}
	case config.AuthModeAPIKey:
		if c.cfg.APIKeyID == "" || c.cfg.APIKeySecret == "" {
			return &NotConfiguredError{Target: c.name, Reason: "api key pair is incomplete"}
		}
	}
	return nil
}

func (c *HTTPTargetClient) authorize(req *http.Request) {
	switch c.cfg.AuthMode {
	case config.AuthModeBearer:
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	case config.AuthModeBasic:
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	case config.AuthModeAPIKey:
		req.Header.Set("X-API-Key-ID", c.cfg.APIKeyID)
		req.Header.Set("X-API-Key-Secret", c.cfg.APIKeySecret)
	}
}

// decodePushResult extracts the assigned identifier from a 2xx response.
// Targets return {"id": ...} with the id as either a string or a number; an
// empty body (update/delete acknowledgements) is fine.
func decodePushResult(body io.Reader) (*PushResult, error) {
	data, err := io.ReadAll(io.LimitReader(body, 64*1024))
	if err != nil {
		return nil, &TransientNetworkError{Err: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return &PushResult{}, nil
	}

	var envelope struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode target response: %w", err)
	}
	if len(envelope.ID) == 0 {
		return &PushResult{}, nil
	}

	var asString string
	if err := json.Unmarshal(envelope.ID, &asString); err == nil {
		return &PushResult{ExternalID: asString}, nil
	}
	var asNumber int64
	if err := json.Unmarshal(envelope.ID, &asNumber); err == nil {
		return &PushResult{ExternalID: fmt.Sprintf("%d", asNumber)}, nil
	}
	return nil, fmt.Errorf("failed to decode target response: unsupported id type %s", envelope.ID)
}

// backoffDelay computes base * 2^attempt with ±25% jitter, capped at max.
// Jitter spreads retries from concurrent workers so a recovering target is
// not hit by a synchronized thundering herd.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = 30 * time.Second
	}

	delay := base * time.Duration(1<<uint(attempt))
	if delay > max || delay <= 0 {
		delay = max
	}

	// ±25%
	jitter := time.Duration(rand.Int63n(int64(delay)/2+1)) - delay/4
	delay += jitter
	if delay > max {
		delay = max
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

func asClientRejected(err error) (*ClientRejectedError, bool) {
	var rejected *ClientRejectedError
	if errors.As(err, &rejected) {
		return rejected, true
	}
	return nil, false
}
