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

package llm

import (
	"sync"
	"time"

	"sentinel/internal/gateway/errs"
)

// BreakerState is the circuit breaker's current position. Values match the
// breaker_state gauge encoding (0=CLOSED, 1=HALF_OPEN, 2=OPEN).
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerHalfOpen
	BreakerOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerHalfOpen:
		return "half_open"
	case BreakerOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Breaker is a process-local three-state circuit breaker guarding the LLM
// producer. State is shared across goroutines behind a single mutex; the
// design does not require cluster-wide breaker state.
type Breaker struct {
	mu                  sync.Mutex
	state               BreakerState
	consecutiveFailures int
	lastFailure         time.Time

	failureThreshold int
	cooldown         time.Duration

	// now is injectable for cooldown tests.
	now func() time.Time
}

// NewBreaker builds a breaker. failureThreshold 0 is a documented edge case:
// the breaker trips on the first Allow and is effectively always open.
func NewBreaker(failureThreshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		now:              time.Now,
	}
}

// SetClock replaces the breaker's time source. Test helper.
func (b *Breaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// Allow reports whether a call may proceed. While open it fails immediately
// with LLMUnavailable and never touches the remote; after the cooldown it
// lets exactly one probe through in half-open state.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failureThreshold <= 0 && b.state == BreakerClosed {
		b.state = BreakerOpen
		b.lastFailure = b.now()
	}

	switch b.state {
	case BreakerClosed, BreakerHalfOpen:
		return nil
	case BreakerOpen:
		// Defensive: an unset timestamp means not-yet-elapsed; never compute
		// now minus a zero time.
		if b.lastFailure.IsZero() || b.now().Sub(b.lastFailure) < b.cooldown {
			return errs.New(errs.LLMUnavailable, "llm provider unavailable (circuit open)")
		}
		b.state = BreakerHalfOpen
		return nil
	}
	return nil
}

// RecordSuccess resets the failure count and closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	b.state = BreakerClosed
}

// RecordFailure counts a failed call. A half-open probe failure reopens the
// breaker immediately; in closed state it opens once the threshold is hit.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures++
	b.lastFailure = b.now()
	if b.state == BreakerHalfOpen || b.consecutiveFailures >= b.failureThreshold {
		b.state = BreakerOpen
	}
}

// State returns the breaker's current position. Note an open breaker past
// its cooldown still reports open until the next Allow flips it half-open.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ConsecutiveFailures returns the current failure streak.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}
