package config

import (
	"testing"
	"time"
)

func setMinimalEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SENTINEL_USER_KEYS", "user-key-1")
}

func TestLoad_Defaults(t *testing.T) {
	setMinimalEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if cfg.ListenAddr != ":8000" {
		t.Fatalf("bad listen addr: %q", cfg.ListenAddr)
	}
	if cfg.CacheTTL != time.Hour {
		t.Fatalf("bad cache ttl: %v", cfg.CacheTTL)
	}
	if cfg.SimilarityThreshold != 0.75 {
		t.Fatalf("bad threshold: %v", cfg.SimilarityThreshold)
	}
	if cfg.EmbeddingDim != 384 {
		t.Fatalf("bad dim: %d", cfg.EmbeddingDim)
	}
	if cfg.RateLimitCapacity != 100 || cfg.RateLimitWindow != time.Minute {
		t.Fatalf("bad rate limit: %d/%v", cfg.RateLimitCapacity, cfg.RateLimitWindow)
	}
	if cfg.DefaultTemperature != 0.7 || cfg.DefaultMaxOutputTokens != 500 {
		t.Fatalf("bad llm defaults: %v/%d", cfg.DefaultTemperature, cfg.DefaultMaxOutputTokens)
	}
	if cfg.CredentialHeader != "X-API-Key" {
		t.Fatalf("bad header: %q", cfg.CredentialHeader)
	}
	// Unset, the lock wait tracks the lock TTL.
	if cfg.LockWait != cfg.LockTTL || cfg.LockWait != 30*time.Second {
		t.Fatalf("bad lock wait default: %v (ttl %v)", cfg.LockWait, cfg.LockTTL)
	}
}

func TestLoad_LockWaitFollowsLockTTL(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("SENTINEL_LOCK_TTL_SECONDS", "45")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if cfg.LockWait != 45*time.Second {
		t.Fatalf("lock wait should default to the lock ttl: %v", cfg.LockWait)
	}

	t.Setenv("SENTINEL_LOCK_WAIT_SECONDS", "5")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if cfg.LockWait != 5*time.Second {
		t.Fatalf("explicit lock wait must win: %v", cfg.LockWait)
	}
}

func TestLoad_Overrides(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("SENTINEL_CACHE_TTL_SECONDS", "120")
	t.Setenv("SENTINEL_SIMILARITY_THRESHOLD", "0.9")
	t.Setenv("SENTINEL_ADMIN_KEY", "root")
	t.Setenv("SENTINEL_USER_KEYS", "a, b ,,c,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if cfg.CacheTTL != 2*time.Minute {
		t.Fatalf("bad ttl: %v", cfg.CacheTTL)
	}
	if cfg.SimilarityThreshold != 0.9 {
		t.Fatalf("bad threshold: %v", cfg.SimilarityThreshold)
	}
	if len(cfg.AdminKeys) != 1 || cfg.AdminKeys[0] != "root" {
		t.Fatalf("bad admin keys: %v", cfg.AdminKeys)
	}
	if len(cfg.UserKeys) != 3 {
		t.Fatalf("empty slots must be dropped: %v", cfg.UserKeys)
	}
}

func TestLoad_NoCredentialsFails(t *testing.T) {
	t.Setenv("SENTINEL_ADMIN_KEY", "")
	t.Setenv("SENTINEL_USER_KEYS", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected failure with no credentials")
	}
}

func TestLoad_RejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"SENTINEL_SIMILARITY_THRESHOLD": "1.5",
		"SENTINEL_EMBEDDING_DIM":        "0",
		"SENTINEL_DEFAULT_TEMPERATURE":  "3",
		"SENTINEL_CACHE_TTL_SECONDS":    "not-a-number",
		"SENTINEL_RATE_LIMIT_MAX":       "-1",
	}
	for name, value := range cases {
		t.Run(name, func(t *testing.T) {
			setMinimalEnv(t)
			t.Setenv(name, value)
			if _, err := Load(); err == nil {
				t.Fatalf("%s=%s should fail validation", name, value)
			}
		})
	}
}
