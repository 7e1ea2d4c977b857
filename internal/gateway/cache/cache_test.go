package cache

import (
	"context"
	"testing"
	"time"

	"sentinel/internal/gateway/embedding"
	"sentinel/internal/gateway/kv"
)

func newTestCache() (*Cache, *kv.Memory) {
	store := kv.NewMemory()
	c := New(store, Config{
		KeyPrefix:   "sentinel:cache:",
		LockPrefix:  "sentinel:lock:",
		ResponseTTL: time.Hour,
		LockTTL:     30 * time.Second,
		Dimension:   3,
	})
	return c, store
}

func TestFingerprint_SeparatesPromptAndModel(t *testing.T) {
	a := Fingerprint("what is python", "llama3")
	b := Fingerprint("what is python", "mixtral")
	if a == b {
		t.Fatal("same prompt under different models must differ")
	}
	if a != Fingerprint("what is python", "llama3") {
		t.Fatal("fingerprint must be deterministic")
	}
	if len(a) != 64 {
		t.Fatalf("expected hex sha256, got %d chars", len(a))
	}
	// The separator prevents boundary ambiguity.
	if Fingerprint("ab", "c") == Fingerprint("a", "bc") {
		t.Fatal("prompt/model boundary must be unambiguous")
	}
}

func TestFingerprint_WhitespaceIsSignificant(t *testing.T) {
	if Fingerprint("what is python", "m") == Fingerprint("What is Python?", "m") {
		t.Fatal("exact tier must not normalize")
	}
}

func TestCache_SetThenGetExact(t *testing.T) {
	c, _ := newTestCache()
	ctx := context.Background()
	fp := Fingerprint("p", "m")

	if _, ok, _ := c.GetExact(ctx, fp); ok {
		t.Fatal("unexpected hit on empty cache")
	}
	if err := c.Set(ctx, fp, "p", "answer", embedding.Vector{1, 0, 0}); err != nil {
		t.Fatalf("set: %v", err)
	}
	e, ok, err := c.GetExact(ctx, fp)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if e.Response != "answer" {
		t.Fatalf("bad response: %q", e.Response)
	}
}

func TestCache_SemanticMatchPicksNearest(t *testing.T) {
	c, _ := newTestCache()
	ctx := context.Background()

	c.Set(ctx, Fingerprint("a", "m"), "a", "answer-a", embedding.Vector{1, 0, 0})
	c.Set(ctx, Fingerprint("b", "m"), "b", "answer-b", embedding.Vector{0.9, 0.1, 0})
	c.Set(ctx, Fingerprint("c", "m"), "c", "answer-c", embedding.Vector{0, 1, 0})

	m, ok, err := c.FindSemanticMatch(ctx, embedding.Vector{1, 0, 0}, 0.75)
	if err != nil || !ok {
		t.Fatalf("expected match, got ok=%v err=%v", ok, err)
	}
	if m.Response != "answer-a" || m.Prompt != "a" {
		t.Fatalf("expected nearest entry, got %+v", m)
	}
	if m.Similarity < 0.999 {
		t.Fatalf("identical vectors should score ~1, got %v", m.Similarity)
	}
}

func TestCache_SemanticMatchBelowThreshold(t *testing.T) {
	c, _ := newTestCache()
	ctx := context.Background()
	c.Set(ctx, Fingerprint("a", "m"), "a", "answer-a", embedding.Vector{0, 1, 0})

	if _, ok, _ := c.FindSemanticMatch(ctx, embedding.Vector{1, 0, 0}, 0.75); ok {
		t.Fatal("orthogonal vector must not match at 0.75")
	}
}

func TestCache_SemanticMatchSkipsDimensionSkew(t *testing.T) {
	c, store := newTestCache()
	ctx := context.Background()

	// A stale entry written with a different embedding model width.
	stale := embedding.Vector{1, 0, 0, 0}
	fp := Fingerprint("old", "m")
	store.Set(ctx, "sentinel:cache:"+fp, "old-answer", time.Hour)
	store.Set(ctx, "sentinel:cache:"+fp+":embedding", string(stale.Marshal()), time.Hour)

	if _, ok, _ := c.FindSemanticMatch(ctx, embedding.Vector{1, 0, 0}, 0.5); ok {
		t.Fatal("mismatched dimension must be skipped, not compared")
	}
}

func TestCache_SemanticMatchSkipsOrphanedEmbedding(t *testing.T) {
	c, store := newTestCache()
	ctx := context.Background()

	// Embedding present, response expired.
	fp := Fingerprint("gone", "m")
	vec := embedding.Vector{1, 0, 0}
	store.Set(ctx, "sentinel:cache:"+fp+":embedding", string(vec.Marshal()), time.Hour)

	if _, ok, _ := c.FindSemanticMatch(ctx, embedding.Vector{1, 0, 0}, 0.5); ok {
		t.Fatal("embedding without a response must not match")
	}
}

func TestCache_LockAcquireRelease(t *testing.T) {
	c, _ := newTestCache()
	ctx := context.Background()
	fp := Fingerprint("p", "m")

	ok, err := c.TryAcquireLock(ctx, fp, "holder-1")
	if err != nil || !ok {
		t.Fatalf("first acquire should win: ok=%v err=%v", ok, err)
	}
	if ok, _ := c.TryAcquireLock(ctx, fp, "holder-2"); ok {
		t.Fatal("second acquire must lose")
	}
	if ok, _ := c.ReleaseLock(ctx, fp, "holder-2"); ok {
		t.Fatal("non-holder must not release")
	}
	if ok, _ := c.ReleaseLock(ctx, fp, "holder-1"); !ok {
		t.Fatal("holder release should succeed")
	}
	if ok, _ := c.TryAcquireLock(ctx, fp, "holder-2"); !ok {
		t.Fatal("lock should be free after release")
	}
}

func TestCache_SnapshotCounters(t *testing.T) {
	c, _ := newTestCache()
	ctx := context.Background()
	fp := Fingerprint("p", "m")
	c.Set(ctx, fp, "p", "answer", embedding.Vector{1, 0, 0})

	c.GetExact(ctx, fp)                                          // exact hit
	c.GetExact(ctx, Fingerprint("other", "m"))                   // no hit, no counter
	c.FindSemanticMatch(ctx, embedding.Vector{1, 0, 0}, 0.75)    // semantic hit
	c.FindSemanticMatch(ctx, embedding.Vector{0, 0, 1}, 0.75)    // no match
	c.RecordMiss()

	s, err := c.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if s.ExactHits != 1 || s.SemanticHits != 1 || s.Misses != 1 {
		t.Fatalf("bad counters: %+v", s)
	}
	if s.HitRate < 0.66 || s.HitRate > 0.67 {
		t.Fatalf("expected 2/3 hit rate, got %v", s.HitRate)
	}
	if s.StoredItemEstimate != 1 {
		t.Fatalf("expected 1 stored item, got %d", s.StoredItemEstimate)
	}
}

func TestCache_PeekDoesNotCount(t *testing.T) {
	c, _ := newTestCache()
	ctx := context.Background()
	fp := Fingerprint("p", "m")
	c.Set(ctx, fp, "p", "answer", embedding.Vector{1, 0, 0})

	if _, ok, _ := c.Peek(ctx, fp); !ok {
		t.Fatal("expected peek hit")
	}
	s, _ := c.Snapshot(ctx)
	if s.ExactHits != 0 {
		t.Fatalf("peek must not bump counters: %+v", s)
	}
}

func TestCache_ClearLeavesLocks(t *testing.T) {
	c, store := newTestCache()
	ctx := context.Background()
	fp := Fingerprint("p", "m")
	c.Set(ctx, fp, "p", "answer", embedding.Vector{1, 0, 0})
	c.TryAcquireLock(ctx, fp, "holder")

	n, err := c.Clear(ctx)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 keys cleared, got %d", n)
	}
	if _, ok, _ := c.GetExact(ctx, fp); ok {
		t.Fatal("entry should be gone")
	}
	if _, ok, _ := store.Get(ctx, "sentinel:lock:"+fp); !ok {
		t.Fatal("fill lock must survive a cache wipe")
	}
}
