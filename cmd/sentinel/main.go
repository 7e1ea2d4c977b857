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

// Package main is the entry point of the sentinel gateway: a caching proxy
// that sits between clients and an LLM provider, answering repeated and
// semantically similar prompts from Redis instead of paying for a fresh
// completion.
//
// This file is responsible for orchestrating the service:
//  1. Loading configuration from the environment (.env supported).
//  2. Connecting the KV store and verifying it is reachable.
//  3. Wiring the cache, rate limiter, breaker, and HTTP boundary.
//  4. Managing graceful shutdown: stop admitting, drain, then close.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"sentinel/internal/gateway/api"
	"sentinel/internal/gateway/auth"
	"sentinel/internal/gateway/cache"
	"sentinel/internal/gateway/config"
	"sentinel/internal/gateway/embedding"
	"sentinel/internal/gateway/kv"
	"sentinel/internal/gateway/llm"
	"sentinel/internal/gateway/ratelimit"
	"sentinel/internal/gateway/service"
	"sentinel/internal/gateway/telemetry"
)

func main() {
	// 1. Configuration. A missing .env is fine; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	log := zerolog.New(os.Stderr).With().Timestamp().Str("service", "sentinel").Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("configuration invalid")
	}

	// 2. KV store. No REDIS_URL selects the in-process store: handy for
	// demos and local hacking, useless across replicas.
	var store kv.Store
	var evaler kv.Evaler
	if cfg.RedisURL != "" {
		r, err := kv.NewRedis(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("redis configuration invalid")
		}
		store, evaler = r, r
	} else {
		log.Warn().Msg("REDIS_URL not set, using in-process store (single replica, no persistence)")
		m := kv.NewMemory()
		store, evaler = m, nil
	}
	defer store.Close()

	if err := service.StartupProbe(context.Background(), store, log); err != nil {
		log.Fatal().Err(err).Msg("kv store unreachable")
	}

	// 3. Wiring.
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := telemetry.NewMetrics(reg)

	responses := cache.New(store, cache.Config{
		KeyPrefix:   cfg.CachePrefix,
		LockPrefix:  cfg.LockPrefix,
		ResponseTTL: cfg.CacheTTL,
		LockTTL:     cfg.LockTTL,
		Dimension:   cfg.EmbeddingDim,
	})

	var limiter ratelimit.Limiter
	rlCfg := ratelimit.Config{
		Capacity:      cfg.RateLimitCapacity,
		WindowSeconds: int(cfg.RateLimitWindow / time.Second),
		KeyPrefix:     cfg.RateLimitPrefix,
	}
	if evaler != nil {
		limiter = ratelimit.NewRedisLimiter(evaler, rlCfg)
	} else {
		limiter = ratelimit.NewMemoryLimiter(rlCfg)
	}

	embedder := embedding.NewClient(cfg.EmbeddingEndpoint, cfg.EmbeddingToken, cfg.EmbeddingDim, cfg.EmbeddingTimeout)
	completer := llm.NewClient(llm.ClientConfig{
		Endpoint:        cfg.LLMEndpoint,
		APIKey:          cfg.LLMAPIKey,
		MaxAttempts:     cfg.LLMMaxAttempts,
		AttemptTimeout:  cfg.LLMTimeout,
		InputCostPer1K:  cfg.InputCostPer1K,
		OutputCostPer1K: cfg.OutputCostPer1K,
	}, log)
	breaker := llm.NewBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown)

	orchestrator := service.NewOrchestrator(responses, embedder, completer, breaker, metrics,
		service.Config{LockWait: cfg.LockWait}, log)
	lifecycle := service.NewLifecycle()

	server := api.NewServer(
		orchestrator,
		responses,
		auth.NewAuthenticator(cfg.CredentialHeader, cfg.AdminKeys, cfg.UserKeys),
		limiter,
		lifecycle,
		store,
		metrics,
		reg,
		api.Options{
			MaxPromptBytes:         cfg.MaxPromptBytes,
			DefaultModel:           cfg.LLMModel,
			DefaultTemperature:     cfg.DefaultTemperature,
			DefaultMaxOutputTokens: cfg.DefaultMaxOutputTokens,
			MaxOutputTokensCap:     cfg.MaxOutputTokensCap,
			DefaultThreshold:       cfg.SimilarityThreshold,
		},
		log,
	)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      server.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 2 * cfg.LLMTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// 4. Serve until a signal arrives.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.ListenAddr).Msg("gateway listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		// 5. Graceful shutdown: refuse new queries, drain what is in
		// flight, then close listeners.
		log.Info().Msg("shutting down")
		lifecycle.Shutdown()

		drainCtx, cancel := context.WithTimeout(context.Background(), cfg.DrainTimeout)
		defer cancel()
		if err := lifecycle.Drain(drainCtx); err != nil {
			log.Warn().Int64("in_flight", lifecycle.InFlight()).Msg("drain deadline hit, closing anyway")
		}

		shutCtx, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		return httpServer.Shutdown(shutCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("gateway exited")
	}
	log.Info().Msg("gateway stopped")
}
