package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"sentinel/internal/gateway/auth"
	"sentinel/internal/gateway/cache"
	"sentinel/internal/gateway/embedding"
	"sentinel/internal/gateway/kv"
	"sentinel/internal/gateway/llm"
	"sentinel/internal/gateway/ratelimit"
	"sentinel/internal/gateway/service"
	"sentinel/internal/gateway/telemetry"
)

// embeddingBackend serves deterministic vectors: similar prompts about the
// same topic land close together, anything else lands orthogonal.
func embeddingBackend(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Inputs string `json:"inputs"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		vec := []float64{0, 1, 0}
		if strings.Contains(req.Inputs, "python") {
			vec = []float64{1, 0.05, 0}
			if strings.Contains(req.Inputs, "?") {
				vec = []float64{1, 0.1, 0}
			}
		}
		json.NewEncoder(w).Encode([][]float64{vec})
	}))
}

// llmBackend counts completions and answers with a canned body.
func llmBackend(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		fmt.Fprintf(w, `{
			"choices": [{"message": {"role": "assistant", "content": "completion %d"}}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 20, "total_tokens": 30}
		}`, n)
	}))
}

// newPipeline wires the real orchestrator over an in-memory store with
// httptest embedding and LLM backends behind it.
func newPipeline(t *testing.T) (http.Handler, *atomic.Int32) {
	t.Helper()
	var llmCalls atomic.Int32
	embSrv := embeddingBackend(t)
	t.Cleanup(embSrv.Close)
	llmSrv := llmBackend(t, &llmCalls)
	t.Cleanup(llmSrv.Close)

	store := kv.NewMemory()
	responses := cache.New(store, cache.Config{
		ResponseTTL: time.Hour,
		LockTTL:     30 * time.Second,
		Dimension:   3,
	})
	embedder := embedding.NewClient(embSrv.URL, "", 3, time.Second)
	completer := llm.NewClient(llm.ClientConfig{
		Endpoint:       llmSrv.URL,
		APIKey:         "test",
		AttemptTimeout: time.Second,
		InitialBackoff: time.Millisecond,
	}, zerolog.Nop())

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	orch := service.NewOrchestrator(responses, embedder, completer,
		llm.NewBreaker(5, time.Minute), metrics,
		service.Config{LockWait: time.Second, PollInterval: 5 * time.Millisecond},
		zerolog.Nop())

	srv := NewServer(
		orch,
		responses,
		auth.NewAuthenticator("X-API-Key", []string{"admin-key"}, []string{"user-key"}),
		ratelimit.NewMemoryLimiter(ratelimit.Config{Capacity: 100, WindowSeconds: 60}),
		service.NewLifecycle(),
		store,
		metrics,
		reg,
		Options{
			MaxPromptBytes:         2048,
			DefaultModel:           "m1",
			DefaultTemperature:     0.7,
			DefaultMaxOutputTokens: 500,
			MaxOutputTokensCap:     4000,
			DefaultThreshold:       0.75,
		},
		zerolog.Nop(),
	)
	return srv.Handler(), &llmCalls
}

func postQuery(t *testing.T, h http.Handler, key, prompt string) (int, queryResponse) {
	t.Helper()
	body := fmt.Sprintf(`{"prompt": %q}`, prompt)
	req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(body))
	req.Header.Set("X-API-Key", key)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var resp queryResponse
	if rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("bad body %q: %v", rec.Body.String(), err)
		}
	}
	return rec.Code, resp
}

func TestPipeline_MissThenExactThenSemantic(t *testing.T) {
	h, llmCalls := newPipeline(t)

	// Cold miss pays for a completion.
	code, resp := postQuery(t, h, "user-key", "what is python")
	if code != http.StatusOK {
		t.Fatalf("miss: status %d", code)
	}
	if resp.CacheHit || resp.TokensUsed != 30 {
		t.Fatalf("miss: %+v", resp)
	}
	if resp.HitType != nil || resp.SimilarityScore != nil {
		t.Fatalf("miss must null the hit fields: %+v", resp)
	}

	// Identical prompt replays from the exact tier.
	code, resp = postQuery(t, h, "user-key", "what is python")
	if code != http.StatusOK {
		t.Fatalf("exact: status %d", code)
	}
	if !resp.CacheHit || resp.TokensUsed != 0 {
		t.Fatalf("exact: %+v", resp)
	}
	if resp.HitType == nil || *resp.HitType != "exact" {
		t.Fatalf("exact hit_type: %+v", resp.HitType)
	}
	if resp.SimilarityScore == nil || *resp.SimilarityScore != 1.0 {
		t.Fatalf("exact similarity: %+v", resp.SimilarityScore)
	}

	// A paraphrase lands in the semantic tier.
	code, resp = postQuery(t, h, "user-key", "what is python?")
	if code != http.StatusOK {
		t.Fatalf("semantic: status %d", code)
	}
	if !resp.CacheHit || resp.HitType == nil || *resp.HitType != "semantic" {
		t.Fatalf("semantic: %+v", resp)
	}
	if resp.SimilarityScore == nil || *resp.SimilarityScore < 0.75 || *resp.SimilarityScore >= 1.0 {
		t.Fatalf("semantic similarity: %+v", resp.SimilarityScore)
	}
	if resp.MatchedPrompt == nil || *resp.MatchedPrompt != "what is python" {
		t.Fatalf("semantic matched_prompt: %+v", resp.MatchedPrompt)
	}

	if llmCalls.Load() != 1 {
		t.Fatalf("three queries should cost one completion, got %d", llmCalls.Load())
	}
}

func TestPipeline_UnrelatedPromptMisses(t *testing.T) {
	h, llmCalls := newPipeline(t)

	postQuery(t, h, "user-key", "what is python")
	code, resp := postQuery(t, h, "user-key", "best pizza in naples")
	if code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if resp.CacheHit {
		t.Fatalf("unrelated prompt must miss: %+v", resp)
	}
	if llmCalls.Load() != 2 {
		t.Fatalf("expected 2 completions, got %d", llmCalls.Load())
	}
}

func TestPipeline_AdminWipeForcesRefill(t *testing.T) {
	h, llmCalls := newPipeline(t)

	postQuery(t, h, "user-key", "what is python")

	req := httptest.NewRequest(http.MethodDelete, "/v1/cache", nil)
	req.Header.Set("X-API-Key", "admin-key")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("wipe: status %d", rec.Code)
	}

	_, resp := postQuery(t, h, "user-key", "what is python")
	if resp.CacheHit {
		t.Fatalf("post-wipe query must miss: %+v", resp)
	}
	if llmCalls.Load() != 2 {
		t.Fatalf("expected refill completion, got %d calls", llmCalls.Load())
	}
}
