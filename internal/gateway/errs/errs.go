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

// Package errs defines the gateway's error taxonomy. The service layer is
// transport-agnostic: it returns typed errors and the API layer maps each
// Kind to a wire status code and a short machine code.
package errs

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a gateway failure.
type Kind int

const (
	// Internal is any uncaught failure. Deliberately the zero value so an
	// unclassified error maps to a 500, never to something more permissive.
	Internal Kind = iota
	// Validation is malformed input; never retried.
	Validation
	// Unauthenticated means the credential is absent or unknown.
	Unauthenticated
	// RateLimited means the caller's token bucket is empty.
	RateLimited
	// DependencyUnavailable means the KV store or embedding producer is
	// unreachable and the request could not degrade gracefully.
	DependencyUnavailable
	// LLMUnavailable means the breaker is open or retries were exhausted.
	LLMUnavailable
	// ShuttingDown means the shutdown flag was set before admission.
	ShuttingDown
)

// Code returns the machine-readable code carried in error response bodies.
func (k Kind) Code() string {
	switch k {
	case Validation:
		return "validation_error"
	case Unauthenticated:
		return "unauthenticated"
	case RateLimited:
		return "rate_limited"
	case DependencyUnavailable, LLMUnavailable, ShuttingDown:
		return "service_unavailable"
	default:
		return "internal_error"
	}
}

// Error is a classified gateway failure. Message is safe to return to
// callers; wrapped causes are for logs only.
type Error struct {
	Kind    Kind
	Message string
	// RetryAfter is set for RateLimited errors so the API layer can emit a
	// Retry-After header. Zero means no hint.
	RetryAfter time.Duration

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a classified error with a caller-visible message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies an underlying cause. The message is caller-visible; the
// cause is not.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// KindOf extracts the Kind from err, defaulting to Internal for anything
// unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// MessageOf returns the caller-visible message for err. Unclassified errors
// get a generic message so internals never leak to responses.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "an unexpected error occurred"
}

// RetryAfterOf returns the retry hint carried by err, or zero.
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}
