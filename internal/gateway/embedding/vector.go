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

// Package embedding provides the fixed-length vector type produced by the
// remote embedding endpoint, its byte-exact serialization, cosine similarity,
// and the HTTP client that fetches embeddings.
package embedding

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Vector is a fixed-length embedding. Equivalence is defined by identical
// serialized bytes, so the codec must round-trip bit-for-bit.
type Vector []float32

// Dim returns the vector's dimensionality.
func (v Vector) Dim() int { return len(v) }

// Marshal serializes the vector as a little-endian float32 array. The format
// is stable across processes and restarts.
func (v Vector) Marshal() []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(f))
	}
	return out
}

// Unmarshal parses a little-endian float32 array. The blob length must be a
// multiple of four bytes.
func Unmarshal(b []byte) (Vector, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(b))
	}
	v := make(Vector, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

// Cosine computes the cosine similarity dot(a,b) / (|a|*|b|), clamped to
// [-1, 1]. Vectors of different lengths or zero magnitude score 0.
func Cosine(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if sim > 1 {
		return 1
	}
	if sim < -1 {
		return -1
	}
	return sim
}
