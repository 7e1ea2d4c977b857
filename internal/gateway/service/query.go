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

// Package service orchestrates one query through the cache tiers, the
// per-fingerprint fill lock, and the guarded LLM call. Auth and rate
// limiting happen upstream at the API boundary.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sentinel/internal/gateway/cache"
	"sentinel/internal/gateway/embedding"
	"sentinel/internal/gateway/errs"
	"sentinel/internal/gateway/llm"
	"sentinel/internal/gateway/telemetry"
)

// Store is the slice of the response cache the orchestrator needs.
type Store interface {
	GetExact(ctx context.Context, fp string) (cache.Entry, bool, error)
	Peek(ctx context.Context, fp string) (cache.Entry, bool, error)
	FindSemanticMatch(ctx context.Context, query embedding.Vector, threshold float64) (cache.Match, bool, error)
	RecordMiss()
	Set(ctx context.Context, fp, prompt, response string, vec embedding.Vector) error
	TryAcquireLock(ctx context.Context, fp, holder string) (bool, error)
	ReleaseLock(ctx context.Context, fp, holder string) (bool, error)
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) (embedding.Vector, error)
}

// Completer produces a fresh completion.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Result, error)
}

// Query is one fully-resolved request: the API layer has already applied
// defaults and validated ranges.
type Query struct {
	Prompt          string
	Model           string
	Temperature     float64
	MaxOutputTokens int
	// Threshold is the minimum cosine similarity for a semantic hit.
	Threshold float64
}

// Outcome is the resolution of one query.
type Outcome struct {
	Response string
	CacheHit bool
	// Tier is one of the telemetry outcome labels: exact_hit, semantic_hit,
	// miss.
	Tier string
	// Similarity and MatchedPrompt are set only on semantic hits.
	Similarity    float64
	MatchedPrompt string
	// TokensUsed and Cost are nonzero only when the LLM was actually called.
	TokensUsed int
	Cost       float64
}

// Config bounds the single-flight wait behavior.
type Config struct {
	// LockWait is how long a loser of the fill lock polls for the winner's
	// result before giving up and calling the LLM itself.
	LockWait time.Duration
	// PollInterval is the exact-tier polling cadence while waiting.
	PollInterval time.Duration
}

// Orchestrator runs the query pipeline.
type Orchestrator struct {
	store    Store
	embedder Embedder
	llm      Completer
	breaker  *llm.Breaker
	metrics  *telemetry.Metrics
	cfg      Config
	log      zerolog.Logger

	// Injectable for deterministic lock-wait tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator wires the pipeline.
func NewOrchestrator(store Store, embedder Embedder, completer Completer, breaker *llm.Breaker, metrics *telemetry.Metrics, cfg Config, log zerolog.Logger) *Orchestrator {
	// Matches the default lock TTL: a waiter gives the holder its full
	// lease before going it alone.
	if cfg.LockWait <= 0 {
		cfg.LockWait = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	return &Orchestrator{
		store:    store,
		embedder: embedder,
		llm:      completer,
		breaker:  breaker,
		metrics:  metrics,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Execute resolves one query: exact tier, semantic tier, then a
// single-flight LLM call with write-back.
func (o *Orchestrator) Execute(ctx context.Context, q Query) (Outcome, error) {
	fp := cache.Fingerprint(q.Prompt, q.Model)
	log := o.log.With().Str("fingerprint", fp[:12]).Logger()

	if e, ok, err := o.store.GetExact(ctx, fp); err != nil {
		return Outcome{}, errs.Wrap(errs.DependencyUnavailable, "cache unavailable", err)
	} else if ok {
		log.Debug().Msg("exact cache hit")
		o.metrics.RecordCacheOutcome(telemetry.OutcomeExactHit)
		return Outcome{Response: e.Response, CacheHit: true, Tier: telemetry.OutcomeExactHit}, nil
	}

	// Embedder outages degrade to exact-only behavior rather than failing
	// the request.
	vec, err := o.embedder.Embed(ctx, q.Prompt)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		log.Warn().Err(err).Msg("embedding unavailable, skipping semantic tier")
		vec = nil
	}

	if len(vec) > 0 {
		m, ok, err := o.store.FindSemanticMatch(ctx, vec, q.Threshold)
		if err != nil {
			return Outcome{}, errs.Wrap(errs.DependencyUnavailable, "cache unavailable", err)
		}
		if ok {
			log.Debug().Float64("similarity", m.Similarity).Msg("semantic cache hit")
			o.metrics.RecordCacheOutcome(telemetry.OutcomeSemanticHit)
			return Outcome{
				Response:      m.Response,
				CacheHit:      true,
				Tier:          telemetry.OutcomeSemanticHit,
				Similarity:    m.Similarity,
				MatchedPrompt: m.Prompt,
			}, nil
		}
	}

	holder := uuid.NewString()
	acquired, err := o.store.TryAcquireLock(ctx, fp, holder)
	if err != nil {
		// Lock trouble must not take down the request path; proceed
		// unlocked and accept a possible duplicate LLM call.
		log.Warn().Err(err).Msg("fill lock unavailable, proceeding unlocked")
	} else if !acquired {
		if out, ok := o.awaitWinner(ctx, fp, log); ok {
			return out, nil
		}
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		log.Warn().Msg("fill lock wait timed out, proceeding unlocked")
	} else {
		// Double-check both tiers: a previous holder may have filled the
		// cache between our first lookups and the lock grab.
		if e, ok, err := o.store.Peek(ctx, fp); err == nil && ok {
			o.releaseLock(ctx, fp, holder, log)
			o.metrics.RecordCacheOutcome(telemetry.OutcomeExactHit)
			return Outcome{Response: e.Response, CacheHit: true, Tier: telemetry.OutcomeExactHit}, nil
		}
		if len(vec) > 0 {
			if m, ok, err := o.store.FindSemanticMatch(ctx, vec, q.Threshold); err == nil && ok {
				log.Debug().Float64("similarity", m.Similarity).Msg("semantic cache hit after lock grab")
				o.releaseLock(ctx, fp, holder, log)
				o.metrics.RecordCacheOutcome(telemetry.OutcomeSemanticHit)
				return Outcome{
					Response:      m.Response,
					CacheHit:      true,
					Tier:          telemetry.OutcomeSemanticHit,
					Similarity:    m.Similarity,
					MatchedPrompt: m.Prompt,
				}, nil
			}
		}
		defer o.releaseLock(ctx, fp, holder, log)
	}

	return o.fill(ctx, q, fp, vec, log)
}

// awaitWinner polls the exact tier while another request fills it.
func (o *Orchestrator) awaitWinner(ctx context.Context, fp string, log zerolog.Logger) (Outcome, bool) {
	deadline := o.now().Add(o.cfg.LockWait)
	for {
		if err := o.sleep(ctx, o.cfg.PollInterval); err != nil {
			return Outcome{}, false
		}
		if e, ok, err := o.store.Peek(ctx, fp); err == nil && ok {
			log.Debug().Msg("exact cache hit after lock wait")
			o.metrics.RecordCacheOutcome(telemetry.OutcomeExactHit)
			return Outcome{Response: e.Response, CacheHit: true, Tier: telemetry.OutcomeExactHit}, true
		}
		if !o.now().Before(deadline) {
			return Outcome{}, false
		}
	}
}

// fill calls the LLM through the breaker and writes the result back.
func (o *Orchestrator) fill(ctx context.Context, q Query, fp string, vec embedding.Vector, log zerolog.Logger) (Outcome, error) {
	if err := o.breaker.Allow(); err != nil {
		o.metrics.SetBreakerState(int(o.breaker.State()))
		return Outcome{}, err
	}
	res, err := o.llm.Complete(ctx, llm.Request{
		Prompt:          q.Prompt,
		Model:           q.Model,
		Temperature:     q.Temperature,
		MaxOutputTokens: q.MaxOutputTokens,
	})
	if err != nil {
		if ctx.Err() == nil {
			o.breaker.RecordFailure()
		}
		o.metrics.SetBreakerState(int(o.breaker.State()))
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		return Outcome{}, errs.Wrap(errs.LLMUnavailable, "llm call failed", err)
	}
	o.breaker.RecordSuccess()
	o.metrics.SetBreakerState(int(o.breaker.State()))
	o.metrics.RecordLLMUsage(res.InputTokens, res.OutputTokens, res.Cost)
	// A miss is only a miss once the fresh completion exists; rejected and
	// failed calls are not cache outcomes.
	o.store.RecordMiss()
	o.metrics.RecordCacheOutcome(telemetry.OutcomeMiss)

	// The answer is already paid for; finish the write-back even if the
	// caller hangs up mid-store.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.store.Set(wctx, fp, q.Prompt, res.Text, vec); err != nil {
		log.Error().Err(err).Msg("cache write-back failed")
	}

	return Outcome{
		Response:   res.Text,
		Tier:       telemetry.OutcomeMiss,
		TokensUsed: res.TotalTokens,
		Cost:       res.Cost,
	}, nil
}

func (o *Orchestrator) releaseLock(ctx context.Context, fp, holder string, log zerolog.Logger) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	ok, err := o.store.ReleaseLock(rctx, fp, holder)
	if err != nil {
		log.Warn().Err(err).Msg("fill lock release failed")
		return
	}
	if !ok {
		// Expired under us; the TTL already freed waiters.
		log.Debug().Msg("fill lock expired before release")
	}
}
