// Copyright 2026 Esteban Alvarez. All Rights Reserved.
//
// Created: August 2026
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api is the gateway's HTTP boundary: routing, credential checks,
// rate limiting, request validation, and the mapping from the service
// layer's typed errors to wire status codes. Operational endpoints (/,
// /health, /metrics, /v1/metrics) bypass auth; /v1/query and the admin
// cache wipe do not.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"sentinel/internal/gateway/auth"
	"sentinel/internal/gateway/cache"
	"sentinel/internal/gateway/errs"
	"sentinel/internal/gateway/ratelimit"
	"sentinel/internal/gateway/service"
	"sentinel/internal/gateway/telemetry"
)

// Executor runs one resolved query. Satisfied by service.Orchestrator.
type Executor interface {
	Execute(ctx context.Context, q service.Query) (service.Outcome, error)
}

// CacheAdmin is the slice of the cache the operator endpoints need.
type CacheAdmin interface {
	Snapshot(ctx context.Context) (cache.Stats, error)
	Clear(ctx context.Context) (int64, error)
}

// Options carries request defaults and validation bounds.
type Options struct {
	MaxPromptBytes         int
	DefaultModel           string
	DefaultTemperature     float64
	DefaultMaxOutputTokens int
	MaxOutputTokensCap     int
	DefaultThreshold       float64
}

// Server is the HTTP boundary.
type Server struct {
	executor   Executor
	cacheAdmin CacheAdmin
	auth       *auth.Authenticator
	limiter    ratelimit.Limiter
	lifecycle  *service.Lifecycle
	pinger     service.Pinger
	metrics    *telemetry.Metrics
	gatherer   prometheus.Gatherer
	opts       Options
	log        zerolog.Logger
	started    time.Time
}

// NewServer wires the HTTP boundary. The gatherer backs GET /metrics and is
// normally the same registry the telemetry instruments live on.
func NewServer(
	executor Executor,
	cacheAdmin CacheAdmin,
	authenticator *auth.Authenticator,
	limiter ratelimit.Limiter,
	lifecycle *service.Lifecycle,
	pinger service.Pinger,
	metrics *telemetry.Metrics,
	gatherer prometheus.Gatherer,
	opts Options,
	log zerolog.Logger,
) *Server {
	return &Server{
		executor:   executor,
		cacheAdmin: cacheAdmin,
		auth:       authenticator,
		limiter:    limiter,
		lifecycle:  lifecycle,
		pinger:     pinger,
		metrics:    metrics,
		gatherer:   gatherer,
		opts:       opts,
		log:        log,
		started:    time.Now(),
	}
}

// Handler builds the full route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestLogger)
	r.Use(s.recordMetrics)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/v1/metrics", s.handleCacheMetrics)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/v1/query", s.handleQuery)
		r.Delete("/v1/cache", s.handleCacheClear)
	})
	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "sentinel",
		"status":  "running",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.pinger.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "degraded",
			"cache":  "unreachable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"cache":          "connected",
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleCacheMetrics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.cacheAdmin.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, r, errs.Wrap(errs.DependencyUnavailable, "cache unavailable", err))
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type queryRequest struct {
	Prompt              string   `json:"prompt"`
	Model               string   `json:"model,omitempty"`
	Temperature         *float64 `json:"temperature,omitempty"`
	MaxTokens           *int     `json:"max_tokens,omitempty"`
	SimilarityThreshold *float64 `json:"similarity_threshold,omitempty"`
}

// queryResponse is the wire shape of a resolved query. The hit fields are
// pointers so misses serialize them as explicit nulls rather than zero
// values.
type queryResponse struct {
	Response        string   `json:"response"`
	CacheHit        bool     `json:"cache_hit"`
	HitType         *string  `json:"hit_type"`
	SimilarityScore *float64 `json:"similarity_score"`
	MatchedPrompt   *string  `json:"matched_prompt"`
	TokensUsed      int      `json:"tokens_used"`
	Cost            float64  `json:"cost"`
	LatencyMS       float64  `json:"latency_ms"`
}

func ptr[T any](v T) *T { return &v }

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	done, err := s.lifecycle.Begin()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer done()

	q, err := s.parseQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	start := time.Now()
	out, err := s.executor.Execute(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := queryResponse{
		Response:   out.Response,
		CacheHit:   out.CacheHit,
		TokensUsed: out.TokensUsed,
		Cost:       out.Cost,
		LatencyMS:  float64(time.Since(start).Microseconds()) / 1000.0,
	}
	switch out.Tier {
	case telemetry.OutcomeExactHit:
		// Identical fingerprint, similarity is 1 by definition and the
		// matched prompt is the caller's own.
		resp.HitType = ptr("exact")
		resp.SimilarityScore = ptr(1.0)
		resp.MatchedPrompt = ptr(q.Prompt)
	case telemetry.OutcomeSemanticHit:
		resp.HitType = ptr("semantic")
		resp.SimilarityScore = ptr(out.Similarity)
		resp.MatchedPrompt = ptr(out.MatchedPrompt)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) parseQuery(r *http.Request) (service.Query, error) {
	var req queryRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return service.Query{}, errs.New(errs.Validation, "malformed JSON body")
	}

	if req.Prompt == "" {
		return service.Query{}, errs.New(errs.Validation, "prompt is required")
	}
	if len(req.Prompt) > s.opts.MaxPromptBytes {
		return service.Query{}, errs.New(errs.Validation, "prompt exceeds maximum length")
	}
	if !utf8.ValidString(req.Prompt) {
		return service.Query{}, errs.New(errs.Validation, "prompt must be valid UTF-8")
	}

	q := service.Query{
		Prompt:          req.Prompt,
		Model:           s.opts.DefaultModel,
		Temperature:     s.opts.DefaultTemperature,
		MaxOutputTokens: s.opts.DefaultMaxOutputTokens,
		Threshold:       s.opts.DefaultThreshold,
	}
	if req.Model != "" {
		q.Model = req.Model
	}
	if req.Temperature != nil {
		if *req.Temperature < 0 || *req.Temperature > 2 {
			return service.Query{}, errs.New(errs.Validation, "temperature must be in [0, 2]")
		}
		q.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		if *req.MaxTokens < 1 || *req.MaxTokens > s.opts.MaxOutputTokensCap {
			return service.Query{}, errs.New(errs.Validation, "max_tokens out of range")
		}
		q.MaxOutputTokens = *req.MaxTokens
	}
	if req.SimilarityThreshold != nil {
		if *req.SimilarityThreshold < 0 || *req.SimilarityThreshold > 1 {
			return service.Query{}, errs.New(errs.Validation, "similarity_threshold must be in [0, 1]")
		}
		q.Threshold = *req.SimilarityThreshold
	}
	return q, nil
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r.Context())
	if !ok || p.Role != auth.RoleAdmin {
		s.writeError(w, r, errs.New(errs.Unauthenticated, "admin credential required"))
		return
	}
	n, err := s.cacheAdmin.Clear(r.Context())
	if err != nil {
		s.writeError(w, r, errs.Wrap(errs.DependencyUnavailable, "cache unavailable", err))
		return
	}
	s.log.Info().Int64("deleted", n).Msg("cache cleared by admin")
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

// statusFor maps an error Kind to its HTTP status.
func statusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.Validation:
		return http.StatusBadRequest
	case errs.Unauthenticated:
		return http.StatusUnauthorized
	case errs.RateLimited:
		return http.StatusTooManyRequests
	case errs.DependencyUnavailable, errs.LLMUnavailable, errs.ShuttingDown:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if errors.Is(r.Context().Err(), context.Canceled) {
		// The client is gone; nothing useful to write.
		return
	}
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	if ra := errs.RetryAfterOf(err); ra > 0 {
		w.Header().Set("Retry-After", retryAfterSeconds(ra))
	}
	writeJSON(w, status, map[string]string{
		"error":   errs.KindOf(err).Code(),
		"message": errs.MessageOf(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
