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

package kv

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process Store used by tests and demo mode. It honors TTLs
// lazily (expired keys are dropped on access) and supports the prefix
// patterns the gateway actually issues ("prefix*"). Not for production use.
type Memory struct {
	mu    sync.Mutex
	items map[string]memoryItem
	// now is injectable so TTL arithmetic can be tested without sleeping.
	now func() time.Time
}

type memoryItem struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// NewMemory builds an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]memoryItem), now: time.Now}
}

// SetClock replaces the store's time source. Test helper.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// live returns the item if present and unexpired, deleting it if expired.
// Caller must hold mu.
func (m *Memory) live(key string) (memoryItem, bool) {
	it, ok := m.items[key]
	if !ok {
		return memoryItem{}, false
	}
	if !it.expiresAt.IsZero() && !m.now().Before(it.expiresAt) {
		delete(m.items, key)
		return memoryItem{}, false
	}
	return it, true
}

func (m *Memory) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.live(key)
	if !ok {
		return "", false, nil
	}
	return it.value, true, nil
}

func (m *Memory) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = m.newItem(value, ttl)
	return nil
}

func (m *Memory) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live(key); ok {
		return false, nil
	}
	m.items[key] = m.newItem(value, ttl)
	return true, nil
}

func (m *Memory) CompareAndDelete(ctx context.Context, key, expect string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.live(key)
	if !ok || it.value != expect {
		return false, nil
	}
	delete(m.items, key)
	return true, nil
}

func (m *Memory) Delete(ctx context.Context, keys ...string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := m.live(k); ok {
			delete(m.items, k)
			n++
		}
	}
	return n, nil
}

func (m *Memory) Scan(ctx context.Context, pattern string, fn func(key string) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// Single-star globs only ("prefix*" or "prefix*suffix"), which is all
	// the key layout uses.
	prefix, suffix, _ := strings.Cut(pattern, "*")

	// Snapshot matching keys under the lock, run fn outside it so callbacks
	// may issue further store operations.
	m.mu.Lock()
	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		if _, ok := m.live(k); !ok {
			continue
		}
		if len(k) >= len(prefix)+len(suffix) &&
			strings.HasPrefix(k, prefix) && strings.HasSuffix(k, suffix) {
			keys = append(keys, k)
		}
	}
	m.mu.Unlock()

	// Deterministic order keeps semantic-match tie-breaking stable in tests.
	sort.Strings(keys)
	for _, k := range keys {
		if err := fn(k); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Ping(ctx context.Context) error { return ctx.Err() }

func (m *Memory) Close() error { return nil }

func (m *Memory) newItem(value string, ttl time.Duration) memoryItem {
	it := memoryItem{value: value}
	if ttl > 0 {
		it.expiresAt = m.now().Add(ttl)
	}
	return it
}
