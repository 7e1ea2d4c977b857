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

// Package ratelimit implements the per-credential token bucket. The Redis
// adapter runs check-and-consume as a single Lua script so concurrent calls
// for one credential are atomic across gateway replicas; the in-memory
// adapter backs tests and demo mode.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"sentinel/internal/gateway/kv"
)

// Decision is the result of one check-and-consume.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetAt is when the bucket will be full again.
	ResetAt time.Time
	// RetryAfter is how long until one token is available. Set only on
	// denial; zero when no hint is possible (refill rate 0).
	RetryAfter time.Duration
}

// Limiter admits or denies one request for a credential.
type Limiter interface {
	Check(ctx context.Context, credential string) (Decision, error)
}

// tokenBucketScript atomically refills and consumes. State is a hash of
// {tokens, ts}; refill is lazy, computed from elapsed time at check time.
// Returns {allowed, floor(tokens), retry_after_ms, reset_in_ms}.
const tokenBucketScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])
local state = redis.call('HMGET', key, 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
  tokens = capacity
  ts = now
end
local elapsed = now - ts
if elapsed < 0 then elapsed = 0 end
tokens = tokens + elapsed * refill
if tokens > capacity then tokens = capacity end
local allowed = 0
local retry_ms = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
elseif refill > 0 then
  retry_ms = math.ceil(((1 - tokens) / refill) * 1000)
end
redis.call('HSET', key, 'tokens', tokens, 'ts', now)
if ttl > 0 then
  redis.call('EXPIRE', key, ttl)
end
local reset_ms = 0
if refill > 0 then
  reset_ms = math.ceil(((capacity - tokens) / refill) * 1000)
end
return {allowed, math.floor(tokens), retry_ms, reset_ms}
`

// Config is the bucket policy shared by both adapters.
type Config struct {
	// Capacity is the bucket size (burst bound). Capacity 0 denies every
	// request.
	Capacity int
	// WindowSeconds sets the refill rate: Capacity tokens per window.
	WindowSeconds int
	// KeyPrefix namespaces bucket state in the KV store.
	KeyPrefix string
}

func (c Config) refillPerSecond() float64 {
	if c.WindowSeconds <= 0 {
		return 0
	}
	return float64(c.Capacity) / float64(c.WindowSeconds)
}

// RedisLimiter stores bucket state in the KV store so the limit holds across
// gateway replicas.
type RedisLimiter struct {
	evaler kv.Evaler
	cfg    Config
	now    func() time.Time
}

// NewRedisLimiter builds a KV-backed limiter.
func NewRedisLimiter(evaler kv.Evaler, cfg Config) *RedisLimiter {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "sentinel:ratelimit:"
	}
	return &RedisLimiter{evaler: evaler, cfg: cfg, now: time.Now}
}

// SetClock replaces the limiter's time source. Test helper.
func (l *RedisLimiter) SetClock(now func() time.Time) { l.now = now }

// BucketKey returns the KV key holding a credential's bucket state.
func (l *RedisLimiter) BucketKey(credential string) string {
	return l.cfg.KeyPrefix + credential
}

func (l *RedisLimiter) Check(ctx context.Context, credential string) (Decision, error) {
	now := l.now()
	// Bucket state is garbage once idle for two windows.
	ttl := 2 * l.cfg.WindowSeconds
	res, err := l.evaler.Eval(ctx, tokenBucketScript,
		[]string{l.BucketKey(credential)},
		l.cfg.Capacity,
		l.cfg.refillPerSecond(),
		float64(now.UnixMilli())/1000.0,
		ttl,
	)
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit eval: %w", err)
	}
	return l.parse(res, now)
}

func (l *RedisLimiter) parse(res interface{}, now time.Time) (Decision, error) {
	arr, ok := res.([]interface{})
	if !ok || len(arr) != 4 {
		return Decision{}, fmt.Errorf("rate limit script returned unexpected shape %T", res)
	}
	nums := make([]int64, 4)
	for i, v := range arr {
		n, ok := v.(int64)
		if !ok {
			return Decision{}, fmt.Errorf("rate limit script element %d is %T", i, v)
		}
		nums[i] = n
	}
	return Decision{
		Allowed:    nums[0] == 1,
		Limit:      l.cfg.Capacity,
		Remaining:  int(nums[1]),
		RetryAfter: time.Duration(nums[2]) * time.Millisecond,
		ResetAt:    now.Add(time.Duration(nums[3]) * time.Millisecond),
	}, nil
}

// MemoryLimiter keeps buckets in-process. It enforces the same policy as the
// Redis adapter but only within one replica; use it for tests and demo mode.
type MemoryLimiter struct {
	cfg     Config
	now     func() time.Time
	mu      chan struct{} // buffered-1 channel as a mutex usable with ctx
	buckets map[string]*bucket
}

type bucket struct {
	tokens float64
	ts     time.Time
}

// NewMemoryLimiter builds an in-process limiter.
func NewMemoryLimiter(cfg Config) *MemoryLimiter {
	m := &MemoryLimiter{
		cfg:     cfg,
		now:     time.Now,
		mu:      make(chan struct{}, 1),
		buckets: make(map[string]*bucket),
	}
	m.mu <- struct{}{}
	return m
}

// SetClock replaces the limiter's time source. Test helper.
func (l *MemoryLimiter) SetClock(now func() time.Time) { l.now = now }

func (l *MemoryLimiter) Check(ctx context.Context, credential string) (Decision, error) {
	select {
	case <-l.mu:
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	}
	defer func() { l.mu <- struct{}{} }()

	now := l.now()
	refill := l.cfg.refillPerSecond()
	b, ok := l.buckets[credential]
	if !ok {
		b = &bucket{tokens: float64(l.cfg.Capacity), ts: now}
		l.buckets[credential] = b
	}
	elapsed := now.Sub(b.ts).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	b.tokens = math.Min(float64(l.cfg.Capacity), b.tokens+elapsed*refill)
	b.ts = now

	d := Decision{Limit: l.cfg.Capacity}
	if refill > 0 {
		d.ResetAt = now.Add(time.Duration((float64(l.cfg.Capacity)-b.tokens)/refill*1000) * time.Millisecond)
	} else {
		d.ResetAt = now
	}
	if b.tokens >= 1 {
		b.tokens--
		d.Allowed = true
		d.Remaining = int(b.tokens)
		return d, nil
	}
	if refill > 0 {
		d.RetryAfter = time.Duration((1-b.tokens)/refill*1000) * time.Millisecond
	}
	return d, nil
}
