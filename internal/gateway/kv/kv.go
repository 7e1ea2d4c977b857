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

// Package kv provides the typed key/value store contract the gateway depends
// on, plus a production Redis adapter and an in-memory adapter used by tests
// and demo mode. The cache, lock, and rate-limit components depend only on
// these interfaces, never on a concrete client.
package kv

import (
	"context"
	"time"
)

// Store is the minimal surface the gateway needs from the remote key/value
// store: byte-transparent get/set, per-key TTL, atomic set-if-absent,
// compare-and-delete, scripted transactions, cursor-based prefix scan, and a
// liveness probe. Any store meeting this contract is acceptable.
type Store interface {
	// Get returns the value for key. The second result is false when the key
	// is absent (absence is not an error).
	Get(ctx context.Context, key string) (string, bool, error)

	// Set writes key=value with the given TTL. A non-positive TTL stores the
	// key without expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX atomically writes key=value with TTL only if the key is absent.
	// Returns true if the write happened.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// CompareAndDelete deletes key only if its current value equals expect.
	// Returns true if the key was deleted.
	CompareAndDelete(ctx context.Context, key, expect string) (bool, error)

	// Delete removes the given keys and returns how many existed.
	Delete(ctx context.Context, keys ...string) (int64, error)

	// Scan invokes fn for every key matching the glob-style pattern, using
	// cursor-based non-blocking iteration. Iteration stops on the first
	// error returned by fn.
	Scan(ctx context.Context, pattern string, fn func(key string) error) error

	// Ping probes liveness.
	Ping(ctx context.Context) error

	// Close releases client resources.
	Close() error
}

// Evaler runs a scripted transaction against the store. The rate limiter
// depends on this narrow surface so its atomic check-and-consume can be
// tested against a fake.
type Evaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
}
