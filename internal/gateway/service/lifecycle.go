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

package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"sentinel/internal/gateway/errs"
)

// Lifecycle tracks in-flight requests so shutdown can drain them. Once
// shutdown begins, Begin rejects new work; requests already admitted run to
// completion.
type Lifecycle struct {
	inflight     atomic.Int64
	shuttingDown atomic.Bool

	// Injectable for drain tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewLifecycle builds an idle lifecycle.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{sleep: sleepCtx}
}

// Begin admits one request. The returned done func is idempotent. The
// shutdown check happens before the counter bump so a racing Shutdown never
// waits on work it already refused.
func (l *Lifecycle) Begin() (done func(), err error) {
	if l.shuttingDown.Load() {
		return nil, errs.New(errs.ShuttingDown, "service is shutting down")
	}
	l.inflight.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { l.inflight.Add(-1) })
	}, nil
}

// InFlight reports currently admitted requests.
func (l *Lifecycle) InFlight() int64 { return l.inflight.Load() }

// Shutdown flips the gate; subsequent Begin calls fail.
func (l *Lifecycle) Shutdown() { l.shuttingDown.Store(true) }

// ShuttingDown reports whether the gate is closed.
func (l *Lifecycle) ShuttingDown() bool { return l.shuttingDown.Load() }

// Drain waits for in-flight work to finish, polling up to 100ms at a time,
// bounded by ctx. Returns ctx's error when the deadline fires first.
func (l *Lifecycle) Drain(ctx context.Context) error {
	for l.inflight.Load() > 0 {
		if err := l.sleep(ctx, 100*time.Millisecond); err != nil {
			return err
		}
	}
	return nil
}

// Pinger is the slice of the KV store the startup probe needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// probeSleep is swapped out in tests so probe retries do not wait out real
// backoff.
var probeSleep = sleepCtx

// StartupProbe verifies the KV store is reachable before the gateway starts
// serving, retrying with the same 1s/2s/4s backoff the LLM client uses.
// Exhausting attempts is fatal to startup.
func StartupProbe(ctx context.Context, p Pinger, log zerolog.Logger) error {
	backoff := time.Second
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		lastErr = p.Ping(pctx)
		cancel()
		if lastErr == nil {
			return nil
		}
		log.Warn().Err(lastErr).Int("attempt", attempt).Msg("kv store not reachable")
		if attempt == 3 {
			break
		}
		if err := probeSleep(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
	}
	return errs.Wrap(errs.DependencyUnavailable, "kv store unreachable at startup", lastErr)
}
