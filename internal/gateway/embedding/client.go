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

package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client calls a Hugging-Face-style inference endpoint that turns text into
// a fixed-length vector. One attempt, bounded timeout, no retry: on failure
// the orchestrator degrades by skipping the semantic stage.
type Client struct {
	endpoint string
	token    string
	dim      int
	httpc    *http.Client
}

// NewClient builds an embedding client. dim is the configured vector
// dimensionality; responses with any other length are rejected as a
// configuration error.
func NewClient(endpoint, token string, dim int, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		token:    token,
		dim:      dim,
		httpc:    &http.Client{Timeout: timeout},
	}
}

type embedRequest struct {
	Inputs string `json:"inputs"`
}

// Embed converts text to its embedding vector.
func (c *Client) Embed(ctx context.Context, text string) (Vector, error) {
	body, err := json.Marshal(embedRequest{Inputs: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("embedding endpoint status %d: %s", resp.StatusCode, snippet)
	}

	vec, err := decodeVector(resp.Body)
	if err != nil {
		return nil, err
	}
	if c.dim > 0 && vec.Dim() != c.dim {
		return nil, fmt.Errorf("embedding dimension mismatch: producer returned %d, configured %d", vec.Dim(), c.dim)
	}
	return vec, nil
}

// decodeVector accepts both response shapes the producer may emit: a flat
// vector or a batch of one vector per input.
func decodeVector(r io.Reader) (Vector, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}

	var batch [][]float32
	if err := json.Unmarshal(raw, &batch); err == nil {
		if len(batch) == 0 || len(batch[0]) == 0 {
			return nil, fmt.Errorf("embedding response is empty")
		}
		return Vector(batch[0]), nil
	}

	var flat []float32
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, fmt.Errorf("unexpected embedding response shape: %w", err)
	}
	if len(flat) == 0 {
		return nil, fmt.Errorf("embedding response is empty")
	}
	return Vector(flat), nil
}
