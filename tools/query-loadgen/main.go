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

// query-loadgen fires synthetic traffic at a running gateway to observe
// cache behavior under load.
//
// Modes:
//   - repeat: every request sends the same prompt. After the first fill the
//     gateway should serve everything from the exact tier.
//   - skew:   an 80/20-ish deterministic mix of one hot prompt and a pool of
//     cold prompts, which exercises misses, fills, and concurrent
//     duplicate suppression together.
//
// Example:
//
//	go run ./tools/query-loadgen -base http://127.0.0.1:8000 -api_key user-key -mode skew -n 2000 -c 16
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type modeType string

const (
	modeRepeat modeType = "repeat"
	modeSkew   modeType = "skew"
)

type counters struct {
	sent      atomic.Int64
	hits      atomic.Int64
	misses    atomic.Int64
	limited   atomic.Int64
	errors    atomic.Int64
	netErrors atomic.Int64
}

func main() {
	var (
		base   = flag.String("base", "http://127.0.0.1:8000", "Gateway base URL")
		apiKey = flag.String("api_key", "", "Credential sent in the auth header (required)")
		header = flag.String("header", "X-API-Key", "Auth header name")
		modeS  = flag.String("mode", string(modeRepeat), "Mode: repeat|skew")
		prompt = flag.String("prompt", "what is the capital of france", "Prompt for repeat mode and the hot slot of skew mode")
		coldN  = flag.Int("cold_prompts", 50, "Number of distinct cold prompts in skew mode")
		// hotEvery=5 means 4 of every 5 requests reuse the hot prompt.
		hotEvery = flag.Int("hot_every", 5, "Skew period (minimum 2)")
		n        = flag.Int("n", 1000, "Total requests to send")
		conc     = flag.Int("c", 8, "Concurrent workers")
		timeout  = flag.Duration("timeout", 5*time.Minute, "Overall deadline for the run")
	)
	flag.Parse()

	m := modeType(strings.ToLower(*modeS))
	if m != modeRepeat && m != modeSkew {
		fmt.Fprintf(os.Stderr, "unknown -mode=%s (want repeat|skew)\n", *modeS)
		os.Exit(2)
	}
	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "-api_key is required")
		os.Exit(2)
	}
	if *n <= 0 || *conc <= 0 {
		fmt.Fprintln(os.Stderr, "-n and -c must be > 0")
		os.Exit(2)
	}
	if *hotEvery < 2 {
		*hotEvery = 2
	}

	endpoint := strings.TrimRight(*base, "/") + "/v1/query"
	client := &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        256,
			MaxIdleConnsPerHost: 256,
			IdleConnTimeout:     30 * time.Second,
		},
		Timeout: 60 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var c counters
	var latMu sync.Mutex
	latencies := make([]time.Duration, 0, *n)

	worker := func(id, count int) {
		for i := 0; i < count; i++ {
			if ctx.Err() != nil {
				return
			}
			p := *prompt
			if m == modeSkew && ((i+id)%*hotEvery) == 0 {
				p = fmt.Sprintf("%s (variant %d)", *prompt, ((i+id)%*coldN)+1)
			}
			body, _ := json.Marshal(map[string]string{"prompt": p})
			req, _ := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set(*header, *apiKey)

			start := time.Now()
			resp, err := client.Do(req)
			if err != nil {
				c.netErrors.Add(1)
				time.Sleep(200 * time.Microsecond)
				continue
			}
			elapsed := time.Since(start)
			c.sent.Add(1)
			latMu.Lock()
			latencies = append(latencies, elapsed)
			latMu.Unlock()

			switch resp.StatusCode {
			case http.StatusOK:
				var qr struct {
					CacheHit bool `json:"cache_hit"`
				}
				if json.NewDecoder(resp.Body).Decode(&qr) == nil && qr.CacheHit {
					c.hits.Add(1)
				} else {
					c.misses.Add(1)
				}
			case http.StatusTooManyRequests:
				c.limited.Add(1)
			default:
				c.errors.Add(1)
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}
	}

	startAll := time.Now()
	per := *n / *conc
	rem := *n - per**conc
	var wg sync.WaitGroup
	wg.Add(*conc)
	for w := 0; w < *conc; w++ {
		count := per
		if w == *conc-1 {
			count += rem
		}
		go func(id, cnt int) {
			defer wg.Done()
			worker(id, cnt)
		}(w, count)
	}
	wg.Wait()
	elapsed := time.Since(startAll)

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	fmt.Printf("mode=%s n=%d c=%d duration=%s throughput=%.0f req/s\n",
		m, *n, *conc, elapsed.Truncate(time.Millisecond), float64(c.sent.Load())/elapsed.Seconds())
	fmt.Printf("hits=%d misses=%d rate_limited=%d http_errors=%d net_errors=%d\n",
		c.hits.Load(), c.misses.Load(), c.limited.Load(), c.errors.Load(), c.netErrors.Load())
	if total := c.hits.Load() + c.misses.Load(); total > 0 {
		fmt.Printf("hit_rate=%.1f%%\n", 100*float64(c.hits.Load())/float64(total))
	}
	fmt.Printf("latency p50=%s p95=%s p99=%s\n",
		percentile(latencies, 50), percentile(latencies, 95), percentile(latencies, 99))
}

func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := (len(sorted) - 1) * p / 100
	return sorted[idx].Truncate(time.Microsecond)
}
