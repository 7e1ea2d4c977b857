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

// Package llm provides the bounded-latency client for the remote completion
// endpoint (OpenAI-compatible chat completions) and the circuit breaker that
// guards it.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// ErrAuthConfig marks a 401/403 from the provider: the deployment's API key
// is wrong, so retrying is pointless.
var ErrAuthConfig = errors.New("llm provider rejected credentials")

// Request is one completion call.
type Request struct {
	Prompt          string
	Model           string
	Temperature     float64
	MaxOutputTokens int
}

// Result is a successful completion with token and cost accounting.
type Result struct {
	Text         string
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	// Cost is in abstract currency units, computed from the configured
	// per-direction rates.
	Cost    float64
	Latency time.Duration
}

// ClientConfig bounds the client's retry and cost behavior.
type ClientConfig struct {
	Endpoint string
	APIKey   string
	// MaxAttempts caps attempts on transient failures (default 3).
	MaxAttempts int
	// AttemptTimeout bounds each attempt (default 30s).
	AttemptTimeout time.Duration
	// InitialBackoff is the first retry delay, doubled per attempt
	// (default 1s, so 1s/2s/4s).
	InitialBackoff time.Duration
	// InputCostPer1K / OutputCostPer1K are per-direction token rates in
	// abstract currency units.
	InputCostPer1K  float64
	OutputCostPer1K float64
}

// Client calls the completion endpoint with retry, timeout, and cost
// accounting. It holds no breaker state; callers gate it with a Breaker.
type Client struct {
	cfg   ClientConfig
	httpc *http.Client
	log   zerolog.Logger

	// sleep is injectable so retry tests need not wait out real backoff.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient builds a completion client.
func NewClient(cfg ClientConfig, log zerolog.Logger) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 30 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	return &Client{
		cfg:   cfg,
		httpc: &http.Client{},
		log:   log,
		sleep: sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete calls the provider, retrying transient failures (connection
// errors, 5xx, 429, per-attempt timeout) with exponential backoff. 401/403
// fail immediately with ErrAuthConfig.
func (c *Client) Complete(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	backoff := c.cfg.InitialBackoff

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		res, retryable, err := c.attempt(ctx, req)
		if err == nil {
			res.Latency = time.Since(start)
			c.log.Info().
				Str("model", req.Model).
				Int("input_tokens", res.InputTokens).
				Int("output_tokens", res.OutputTokens).
				Float64("cost", res.Cost).
				Dur("latency", res.Latency).
				Msg("llm call succeeded")
			return res, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		c.log.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", c.cfg.MaxAttempts).Msg("llm call failed")
		if attempt == c.cfg.MaxAttempts {
			break
		}
		if err := c.sleep(ctx, backoff); err != nil {
			return nil, err
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("llm call failed after %d attempts: %w", c.cfg.MaxAttempts, lastErr)
}

// attempt runs one bounded call. The bool result reports whether the failure
// is retryable.
func (c *Client) attempt(ctx context.Context, req Request) (*Result, bool, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model:       req.Model,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxOutputTokens,
	})
	if err != nil {
		return nil, false, fmt.Errorf("marshal completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("build completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		// The caller's context being done is not a provider fault; surface it
		// without retry.
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		// Connection error or per-attempt timeout: retryable.
		return nil, true, fmt.Errorf("completion call: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, false, fmt.Errorf("%w (status %d)", ErrAuthConfig, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, true, fmt.Errorf("completion endpoint status %d: %s", resp.StatusCode, snippet)
	case resp.StatusCode != http.StatusOK:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, false, fmt.Errorf("completion endpoint status %d: %s", resp.StatusCode, snippet)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, false, fmt.Errorf("decode completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, false, fmt.Errorf("completion response has no choices")
	}

	in := parsed.Usage.PromptTokens
	out := parsed.Usage.CompletionTokens
	total := parsed.Usage.TotalTokens
	if total == 0 {
		total = in + out
	}
	return &Result{
		Text:         parsed.Choices[0].Message.Content,
		InputTokens:  in,
		OutputTokens: out,
		TotalTokens:  total,
		Cost:         c.cost(in, out),
	}, false, nil
}

// cost converts token counts to currency units using the configured
// per-1K-token rates.
func (c *Client) cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1000*c.cfg.InputCostPer1K +
		float64(outputTokens)/1000*c.cfg.OutputCostPer1K
}
