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

// Package config builds the gateway's immutable configuration from the
// environment. Everything is read once at startup; inconsistent settings
// fail fast rather than surfacing mid-request.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full gateway configuration.
type Config struct {
	ListenAddr string

	// RedisURL empty selects the in-process KV store: single-replica demo
	// mode with no persistence.
	RedisURL string

	CredentialHeader string
	AdminKeys        []string
	UserKeys         []string

	RateLimitCapacity int
	RateLimitWindow   time.Duration
	RateLimitPrefix   string

	CachePrefix string
	LockPrefix  string
	CacheTTL    time.Duration
	LockTTL     time.Duration
	LockWait    time.Duration

	SimilarityThreshold float64
	MaxPromptBytes      int
	MaxOutputTokensCap  int

	DefaultTemperature     float64
	DefaultMaxOutputTokens int

	EmbeddingEndpoint string
	EmbeddingToken    string
	EmbeddingDim      int
	EmbeddingTimeout  time.Duration

	LLMEndpoint     string
	LLMAPIKey       string
	LLMModel        string
	LLMMaxAttempts  int
	LLMTimeout      time.Duration
	InputCostPer1K  float64
	OutputCostPer1K float64

	BreakerThreshold int
	BreakerCooldown  time.Duration

	DrainTimeout time.Duration
}

// Load reads the environment and validates the result.
func Load() (Config, error) {
	var errv []string
	cfg := Config{
		ListenAddr: envStr("SENTINEL_LISTEN_ADDR", ":8000"),
		RedisURL:   os.Getenv("REDIS_URL"),

		CredentialHeader: envStr("SENTINEL_AUTH_HEADER", "X-API-Key"),
		AdminKeys:        splitKeys(os.Getenv("SENTINEL_ADMIN_KEY")),
		UserKeys:         splitKeys(os.Getenv("SENTINEL_USER_KEYS")),

		RateLimitCapacity: envInt(&errv, "SENTINEL_RATE_LIMIT_MAX", 100),
		RateLimitWindow:   envSeconds(&errv, "SENTINEL_RATE_LIMIT_WINDOW_SECONDS", 60),
		RateLimitPrefix:   envStr("SENTINEL_RATE_LIMIT_PREFIX", "sentinel:ratelimit:"),

		CachePrefix: envStr("SENTINEL_CACHE_PREFIX", "sentinel:cache:"),
		LockPrefix:  envStr("SENTINEL_LOCK_PREFIX", "sentinel:lock:"),
		CacheTTL:    envSeconds(&errv, "SENTINEL_CACHE_TTL_SECONDS", 3600),
		LockTTL:     envSeconds(&errv, "SENTINEL_LOCK_TTL_SECONDS", 30),
		LockWait:    envSeconds(&errv, "SENTINEL_LOCK_WAIT_SECONDS", 0),

		SimilarityThreshold: envFloat(&errv, "SENTINEL_SIMILARITY_THRESHOLD", 0.75),
		MaxPromptBytes:      envInt(&errv, "SENTINEL_MAX_PROMPT_BYTES", 2048),
		MaxOutputTokensCap:  envInt(&errv, "SENTINEL_MAX_OUTPUT_TOKENS_CAP", 4000),

		DefaultTemperature:     envFloat(&errv, "SENTINEL_DEFAULT_TEMPERATURE", 0.7),
		DefaultMaxOutputTokens: envInt(&errv, "SENTINEL_DEFAULT_MAX_TOKENS", 500),

		EmbeddingEndpoint: envStr("SENTINEL_EMBEDDING_ENDPOINT",
			"https://api-inference.huggingface.co/models/sentence-transformers/all-MiniLM-L6-v2"),
		EmbeddingToken:   os.Getenv("HF_API_TOKEN"),
		EmbeddingDim:     envInt(&errv, "SENTINEL_EMBEDDING_DIM", 384),
		EmbeddingTimeout: envSeconds(&errv, "SENTINEL_EMBEDDING_TIMEOUT_SECONDS", 5),

		LLMEndpoint: envStr("SENTINEL_LLM_ENDPOINT",
			"https://api.groq.com/openai/v1/chat/completions"),
		LLMAPIKey:       os.Getenv("GROQ_API_KEY"),
		LLMModel:        envStr("SENTINEL_LLM_MODEL", "llama-3.1-8b-instant"),
		LLMMaxAttempts:  envInt(&errv, "SENTINEL_LLM_MAX_ATTEMPTS", 3),
		LLMTimeout:      envSeconds(&errv, "SENTINEL_LLM_TIMEOUT_SECONDS", 30),
		InputCostPer1K:  envFloat(&errv, "SENTINEL_LLM_INPUT_COST_PER_1K", 0.00005),
		OutputCostPer1K: envFloat(&errv, "SENTINEL_LLM_OUTPUT_COST_PER_1K", 0.00015),

		BreakerThreshold: envInt(&errv, "SENTINEL_BREAKER_THRESHOLD", 5),
		BreakerCooldown:  envSeconds(&errv, "SENTINEL_BREAKER_COOLDOWN_SECONDS", 60),

		DrainTimeout: envSeconds(&errv, "SENTINEL_DRAIN_TIMEOUT_SECONDS", 10),
	}

	// Waiters give a lock holder its full TTL before going it alone.
	if cfg.LockWait <= 0 {
		cfg.LockWait = cfg.LockTTL
	}

	if len(cfg.AdminKeys) == 0 && len(cfg.UserKeys) == 0 {
		errv = append(errv, "no credentials configured: set SENTINEL_ADMIN_KEY and/or SENTINEL_USER_KEYS")
	}
	if cfg.EmbeddingDim <= 0 {
		errv = append(errv, "SENTINEL_EMBEDDING_DIM must be positive")
	}
	if cfg.SimilarityThreshold < 0 || cfg.SimilarityThreshold > 1 {
		errv = append(errv, "SENTINEL_SIMILARITY_THRESHOLD must be in [0,1]")
	}
	if cfg.DefaultTemperature < 0 || cfg.DefaultTemperature > 2 {
		errv = append(errv, "SENTINEL_DEFAULT_TEMPERATURE must be in [0,2]")
	}
	if cfg.MaxPromptBytes <= 0 {
		errv = append(errv, "SENTINEL_MAX_PROMPT_BYTES must be positive")
	}
	if cfg.RateLimitCapacity < 0 {
		errv = append(errv, "SENTINEL_RATE_LIMIT_MAX must not be negative")
	}
	if cfg.CacheTTL <= 0 || cfg.LockTTL <= 0 {
		errv = append(errv, "cache and lock TTLs must be positive")
	}
	if len(errv) > 0 {
		return Config{}, fmt.Errorf("invalid configuration: %s", strings.Join(errv, "; "))
	}
	return cfg, nil
}

func envStr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func envInt(errv *[]string, name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errv = append(*errv, name+" is not an integer")
		return def
	}
	return n
}

func envFloat(errv *[]string, name string, def float64) float64 {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errv = append(*errv, name+" is not a number")
		return def
	}
	return f
}

func envSeconds(errv *[]string, name string, defSeconds int) time.Duration {
	return time.Duration(envInt(errv, name, defSeconds)) * time.Second
}

// splitKeys parses a comma-separated credential list, dropping empties so a
// trailing comma cannot smuggle in an empty key.
func splitKeys(s string) []string {
	var out []string
	for _, k := range strings.Split(s, ",") {
		k = strings.TrimSpace(k)
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}
