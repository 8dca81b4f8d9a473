// Copyright (C) 2025 Peakform Labs (ops@peakform.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package adsapi is the HTTP client for the tenant-scoped advertising
// backend: campaign metrics and diagnostics, the tenant configuration
// store (the PROMOTE flag), the campaign mutation endpoints used by
// rollback, and the audience lookup.
//
// Transport and auth details live behind the base URL; this client only
// speaks the eight logical operations the canary core needs. Every call
// takes a context and passes through a shared rate limiter so rollback
// bursts cannot hammer the mutation API.
package adsapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/peakform/adcanary/cmd/adcanary/internal/safety"
	"github.com/peakform/adcanary/pkg/logging"
)

// =============================================================================
// Backend Interface
// =============================================================================

// Backend is the boundary the canary core consumes. The production
// implementation is Client; tests use Mock.
type Backend interface {
	// Metrics returns the current campaign metrics for the tenant.
	Metrics(ctx context.Context, tenant string) (Metrics, error)

	// RecentErrors returns the tenant's recent campaign errors.
	RecentErrors(ctx context.Context, tenant string) ([]safety.CampaignError, error)

	// GetConfigFlag reads a boolean flag from the tenant config store.
	GetConfigFlag(ctx context.Context, tenant, key string) (bool, error)

	// SetConfigFlag writes a boolean flag with an audit reason.
	SetConfigFlag(ctx context.Context, tenant, key string, value bool, reason string) error

	// PauseCampaign pauses the canary campaign.
	PauseCampaign(ctx context.Context, tenant, reason string) error

	// ResetBudget restores the original daily budget.
	ResetBudget(ctx context.Context, tenant string, originalBudget float64, reason string) error

	// ResetSchedule restores the original ad schedule.
	ResetSchedule(ctx context.Context, tenant, originalSchedule, reason string) error

	// ClearAudience removes canary audience mappings from the campaign.
	ClearAudience(ctx context.Context, tenant, reason string) error

	// AudienceList looks up an audience list by ID.
	AudienceList(ctx context.Context, listID string) (AudienceList, error)
}

// =============================================================================
// Wire Types
// =============================================================================

// Metrics is the raw metrics document returned by the backend.
type Metrics struct {
	Spend        float64 `json:"spend"`
	Clicks       int64   `json:"clicks"`
	Impressions  int64   `json:"impressions"`
	AvgCPC       float64 `json:"avg_cpc"`
	CTR          float64 `json:"ctr"`
	QualityScore float64 `json:"quality_score"`
}

// AudienceList is the audience lookup result.
type AudienceList struct {
	Exists    bool   `json:"exists"`
	Status    string `json:"status"`
	Type      string `json:"type"`
	Size      int    `json:"size"`
	CanTarget bool   `json:"can_target"`
}

// StatusError reports a non-2xx backend response.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: backend returned %d: %s", e.Op, e.StatusCode, e.Body)
}

// =============================================================================
// Client
// =============================================================================

// Client is the production Backend over HTTP.
//
// # Thread Safety
//
// Safe for concurrent use. The rate limiter serializes bursts; the
// http.Client is inherently concurrent-safe.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	logger  *logging.Logger
}

// Compile-time interface satisfaction check
var _ Backend = (*Client)(nil)

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient substitutes the underlying http.Client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.http = httpClient }
}

// WithRateLimit overrides the default limiter (5 req/s, burst 10).
func WithRateLimit(limiter *rate.Limiter) Option {
	return func(c *Client) { c.limiter = limiter }
}

// WithLogger attaches a logger for request failures.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a backend client for the given base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(5), 10),
		logger:  logging.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// =============================================================================
// Read Operations
// =============================================================================

func (c *Client) Metrics(ctx context.Context, tenant string) (Metrics, error) {
	var out Metrics
	err := c.get(ctx, "metrics", c.tenantURL(tenant, "metrics"), &out)
	return out, err
}

func (c *Client) RecentErrors(ctx context.Context, tenant string) ([]safety.CampaignError, error) {
	var out []safety.CampaignError
	err := c.get(ctx, "errors", c.tenantURL(tenant, "errors"), &out)
	return out, err
}

func (c *Client) GetConfigFlag(ctx context.Context, tenant, key string) (bool, error) {
	var out struct {
		Value bool `json:"value"`
	}
	err := c.get(ctx, "get config", c.tenantURL(tenant, "config", key), &out)
	return out.Value, err
}

func (c *Client) AudienceList(ctx context.Context, listID string) (AudienceList, error) {
	var out AudienceList
	err := c.get(ctx, "audience lookup", fmt.Sprintf("%s/audiences/%s", c.baseURL, url.PathEscape(listID)), &out)
	return out, err
}

// Healthz probes backend availability. Used by the preflight validator as
// the environment health check.
func (c *Client) Healthz(ctx context.Context) error {
	return c.get(ctx, "healthz", c.baseURL+"/healthz", nil)
}

// =============================================================================
// Mutation Operations
// =============================================================================

func (c *Client) SetConfigFlag(ctx context.Context, tenant, key string, value bool, reason string) error {
	body := map[string]any{"value": value, "reason": reason}
	return c.post(ctx, "set config", c.tenantURL(tenant, "config", key), body)
}

func (c *Client) PauseCampaign(ctx context.Context, tenant, reason string) error {
	body := map[string]any{"reason": reason}
	return c.post(ctx, "pause campaign", c.tenantURL(tenant, "campaign", "pause"), body)
}

func (c *Client) ResetBudget(ctx context.Context, tenant string, originalBudget float64, reason string) error {
	body := map[string]any{"original_budget": originalBudget, "reason": reason}
	return c.post(ctx, "reset budget", c.tenantURL(tenant, "campaign", "reset-budget"), body)
}

func (c *Client) ResetSchedule(ctx context.Context, tenant, originalSchedule, reason string) error {
	body := map[string]any{"original_schedule": originalSchedule, "reason": reason}
	return c.post(ctx, "reset schedule", c.tenantURL(tenant, "campaign", "reset-schedule"), body)
}

func (c *Client) ClearAudience(ctx context.Context, tenant, reason string) error {
	body := map[string]any{"reason": reason}
	return c.post(ctx, "clear audience", c.tenantURL(tenant, "campaign", "clear-audience"), body)
}

// =============================================================================
// Internals
// =============================================================================

func (c *Client) tenantURL(tenant string, parts ...string) string {
	u := fmt.Sprintf("%s/tenants/%s", c.baseURL, url.PathEscape(tenant))
	for _, p := range parts {
		u += "/" + url.PathEscape(p)
	}
	return u
}

// get performs a rate-limited GET and decodes the JSON response into out
// (out may be nil for probe-style calls).
func (c *Client) get(ctx context.Context, op, rawURL string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	return c.do(op, req, out)
}

// post performs a rate-limited POST with a JSON body.
func (c *Client) post(ctx context.Context, op, rawURL string, body any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: encode body: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(op, req, nil)
}

func (c *Client) do(op string, req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		c.logger.Warn("backend call failed", "op", op, "status", resp.StatusCode)
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
