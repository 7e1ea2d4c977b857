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

// Package cache is the two-tier response cache. Tier one is an exact lookup
// keyed by a prompt+model fingerprint; tier two scans stored embeddings for
// the nearest cosine neighbor above a similarity threshold. Per fingerprint
// three co-keyed entries share one TTL: the response, the original prompt
// text, and the embedding vector.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"sentinel/internal/gateway/embedding"
	"sentinel/internal/gateway/kv"
)

const (
	promptSuffix    = ":prompt"
	embeddingSuffix = ":embedding"
)

// Fingerprint derives the exact-match key material for a prompt under a
// model. The prompt is hashed verbatim: whitespace and casing differences
// produce distinct fingerprints on purpose, the semantic tier is what
// absorbs phrasing variation. The 0x1f separator keeps (prompt, model)
// pairs unambiguous.
func Fingerprint(prompt, model string) string {
	h := sha256.New()
	h.Write([]byte(prompt))
	h.Write([]byte{0x1f})
	h.Write([]byte(model))
	return hex.EncodeToString(h.Sum(nil))
}

// Entry is one cached completion.
type Entry struct {
	Fingerprint string
	Response    string
}

// Match is a semantic-tier hit.
type Match struct {
	Fingerprint string
	Response    string
	// Prompt is the stored prompt that produced the cached response.
	Prompt     string
	Similarity float64
}

// Config sets key layout and lifetimes.
type Config struct {
	// KeyPrefix namespaces cache entries, e.g. "sentinel:cache:".
	KeyPrefix string
	// LockPrefix namespaces fill locks, e.g. "sentinel:lock:".
	LockPrefix string
	// ResponseTTL applies to all three co-keyed entries.
	ResponseTTL time.Duration
	// LockTTL bounds how long a crashed filler can block others.
	LockTTL time.Duration
	// Dimension is the expected embedding width; stored vectors of any
	// other width are skipped during semantic scans.
	Dimension int
}

// Cache reads and writes the two tiers plus the fill lock.
type Cache struct {
	store kv.Store
	cfg   Config

	exactHits    atomic.Int64
	semanticHits atomic.Int64
	misses       atomic.Int64
}

// New builds a cache over the given store.
func New(store kv.Store, cfg Config) *Cache {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "sentinel:cache:"
	}
	if cfg.LockPrefix == "" {
		cfg.LockPrefix = "sentinel:lock:"
	}
	return &Cache{store: store, cfg: cfg}
}

func (c *Cache) responseKey(fp string) string  { return c.cfg.KeyPrefix + fp }
func (c *Cache) promptKey(fp string) string    { return c.cfg.KeyPrefix + fp + promptSuffix }
func (c *Cache) embeddingKey(fp string) string { return c.cfg.KeyPrefix + fp + embeddingSuffix }
func (c *Cache) lockKey(fp string) string      { return c.cfg.LockPrefix + fp }

// GetExact looks up tier one. A hit bumps the exact-hit counter.
func (c *Cache) GetExact(ctx context.Context, fp string) (Entry, bool, error) {
	v, ok, err := c.store.Get(ctx, c.responseKey(fp))
	if err != nil {
		return Entry{}, false, fmt.Errorf("exact lookup: %w", err)
	}
	if !ok {
		return Entry{}, false, nil
	}
	c.exactHits.Add(1)
	return Entry{Fingerprint: fp, Response: v}, true, nil
}

// Peek is GetExact without touching the hit counters. The lock-wait path
// polls with it so a single request is not double counted.
func (c *Cache) Peek(ctx context.Context, fp string) (Entry, bool, error) {
	v, ok, err := c.store.Get(ctx, c.responseKey(fp))
	if err != nil {
		return Entry{}, false, err
	}
	if !ok {
		return Entry{}, false, nil
	}
	return Entry{Fingerprint: fp, Response: v}, true, nil
}

// ScanAll walks every stored embedding, invoking fn with the owning
// fingerprint and decoded vector. Entries that expired mid-scan or fail to
// decode are skipped. Scan order follows the underlying store.
func (c *Cache) ScanAll(ctx context.Context, fn func(fp string, vec embedding.Vector) error) error {
	return c.store.Scan(ctx, c.cfg.KeyPrefix+"*"+embeddingSuffix, func(key string) error {
		raw, ok, err := c.store.Get(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			// Expired between SCAN and GET.
			return nil
		}
		vec, err := embedding.Unmarshal([]byte(raw))
		if err != nil {
			return nil
		}
		fp := strings.TrimSuffix(strings.TrimPrefix(key, c.cfg.KeyPrefix), embeddingSuffix)
		return fn(fp, vec)
	})
}

// FindSemanticMatch scans every stored embedding and returns the most
// similar entry at or above threshold. Ties keep the first candidate in
// scan order. Entries whose vector width differs from the configured
// dimension are skipped, they are leftovers from an embedding model change
// and comparing them would be meaningless.
func (c *Cache) FindSemanticMatch(ctx context.Context, query embedding.Vector, threshold float64) (Match, bool, error) {
	var best Match
	found := false
	err := c.ScanAll(ctx, func(fp string, vec embedding.Vector) error {
		if c.cfg.Dimension > 0 && len(vec) != c.cfg.Dimension {
			return nil
		}
		sim := embedding.Cosine(query, vec)
		// Threshold 0 means "best entry no matter how far"; cosine can go
		// negative, so only filter when a real threshold is set.
		if threshold > 0 && sim < threshold {
			return nil
		}
		if found && sim <= best.Similarity {
			return nil
		}
		resp, ok, err := c.store.Get(ctx, c.responseKey(fp))
		if err != nil {
			return err
		}
		if !ok {
			// Embedding outlived its response, treat as absent.
			return nil
		}
		prompt, _, err := c.store.Get(ctx, c.promptKey(fp))
		if err != nil {
			return err
		}
		best = Match{Fingerprint: fp, Response: resp, Prompt: prompt, Similarity: sim}
		found = true
		return nil
	})
	if err != nil {
		return Match{}, false, fmt.Errorf("semantic scan: %w", err)
	}
	if found {
		c.semanticHits.Add(1)
	}
	return best, found, nil
}

// RecordMiss bumps the miss counter. The orchestrator calls it once per
// request that fell through both tiers.
func (c *Cache) RecordMiss() { c.misses.Add(1) }

// Set stores the co-keyed entries. The response lands first so a concurrent
// exact lookup never sees an embedding without its answer. A nil vector
// stores the exact tier only; that happens when the embedder was down for
// this request.
func (c *Cache) Set(ctx context.Context, fp, prompt, response string, vec embedding.Vector) error {
	if err := c.store.Set(ctx, c.responseKey(fp), response, c.cfg.ResponseTTL); err != nil {
		return fmt.Errorf("store response: %w", err)
	}
	if err := c.store.Set(ctx, c.promptKey(fp), prompt, c.cfg.ResponseTTL); err != nil {
		return fmt.Errorf("store prompt: %w", err)
	}
	if len(vec) == 0 {
		return nil
	}
	if err := c.store.Set(ctx, c.embeddingKey(fp), string(vec.Marshal()), c.cfg.ResponseTTL); err != nil {
		return fmt.Errorf("store embedding: %w", err)
	}
	return nil
}

// TryAcquireLock claims the fill lock for a fingerprint. The holder token
// must be unique per request; only the matching holder can release.
func (c *Cache) TryAcquireLock(ctx context.Context, fp, holder string) (bool, error) {
	ok, err := c.store.SetNX(ctx, c.lockKey(fp), holder, c.cfg.LockTTL)
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	return ok, nil
}

// ReleaseLock releases only if still held by holder. Returns false when the
// lock expired and possibly got re-acquired by someone else.
func (c *Cache) ReleaseLock(ctx context.Context, fp, holder string) (bool, error) {
	ok, err := c.store.CompareAndDelete(ctx, c.lockKey(fp), holder)
	if err != nil {
		return false, fmt.Errorf("release lock: %w", err)
	}
	return ok, nil
}

// Stats is a point-in-time cache summary.
type Stats struct {
	ExactHits    int64 `json:"exact_hits"`
	SemanticHits int64 `json:"semantic_hits"`
	Misses       int64 `json:"misses"`
	// HitRate is hits over lookups since process start, 0 when idle.
	HitRate float64 `json:"hit_rate"`
	// StoredItemEstimate counts embeddings currently in the store. It is
	// an estimate: entries may expire mid-scan.
	StoredItemEstimate int64 `json:"stored_item_estimate"`
}

// Snapshot counts live entries and folds in the process-local counters.
func (c *Cache) Snapshot(ctx context.Context) (Stats, error) {
	var stored int64
	err := c.ScanAll(ctx, func(string, embedding.Vector) error {
		stored++
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("stats scan: %w", err)
	}
	s := Stats{
		ExactHits:          c.exactHits.Load(),
		SemanticHits:       c.semanticHits.Load(),
		Misses:             c.misses.Load(),
		StoredItemEstimate: stored,
	}
	if total := s.ExactHits + s.SemanticHits + s.Misses; total > 0 {
		s.HitRate = float64(s.ExactHits+s.SemanticHits) / float64(total)
	}
	return s, nil
}

// Clear drops every cache entry under the key prefix. Fill locks are left
// alone so in-flight fills still release cleanly. Returns the number of
// keys removed.
func (c *Cache) Clear(ctx context.Context) (int64, error) {
	var keys []string
	err := c.store.Scan(ctx, c.cfg.KeyPrefix+"*", func(key string) error {
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("clear scan: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := c.store.Delete(ctx, keys...)
	if err != nil {
		return 0, fmt.Errorf("clear delete: %w", err)
	}
	return n, nil
}
