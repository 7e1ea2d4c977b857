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

// Package auth maps presented bearer credentials to roles. The allow-list of
// unauthenticated endpoints lives at the API boundary, not here.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"

	"sentinel/internal/gateway/errs"
)

// Role is the privilege tier attached to a credential.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Principal is an authenticated caller.
type Principal struct {
	// Credential is the presented token; it keys the caller's rate-limit
	// bucket. Never log it in full.
	Credential string
	Role       Role
}

// Authenticator validates credentials against the configured admin and user
// sets.
type Authenticator struct {
	headerName string
	adminKeys  [][32]byte
	userKeys   [][32]byte
}

// NewAuthenticator builds an authenticator reading credentials from the
// given header.
func NewAuthenticator(headerName string, adminKeys, userKeys []string) *Authenticator {
	return &Authenticator{
		headerName: headerName,
		adminKeys:  digestAll(adminKeys),
		userKeys:   digestAll(userKeys),
	}
}

// HeaderName returns the configured credential header.
func (a *Authenticator) HeaderName() string { return a.headerName }

// Authenticate maps a presented credential to a Principal. Missing or
// unknown credentials fail with Unauthenticated; the response does not
// distinguish the two cases.
func (a *Authenticator) Authenticate(credential string) (Principal, error) {
	if credential == "" {
		return Principal{}, errs.New(errs.Unauthenticated, "missing "+a.headerName+" header")
	}
	// Comparing fixed-size digests keeps the check constant-time and avoids
	// leaking configured key lengths.
	d := sha256.Sum256([]byte(credential))
	if matchAny(d, a.adminKeys) {
		return Principal{Credential: credential, Role: RoleAdmin}, nil
	}
	if matchAny(d, a.userKeys) {
		return Principal{Credential: credential, Role: RoleUser}, nil
	}
	return Principal{}, errs.New(errs.Unauthenticated, "invalid credential")
}

func digestAll(keys []string) [][32]byte {
	out := make([][32]byte, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		out = append(out, sha256.Sum256([]byte(k)))
	}
	return out
}

// matchAny scans every configured digest without early exit on a match, so
// timing does not reveal which slot matched.
func matchAny(d [32]byte, keys [][32]byte) bool {
	var found byte
	for i := range keys {
		found |= byte(subtle.ConstantTimeCompare(d[:], keys[i][:]))
	}
	return found == 1
}
