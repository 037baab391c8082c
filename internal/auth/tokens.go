// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
)

// TokenSet verifies static API tokens. Configured tokens are reduced to
// SHA-256 digests at construction so the plaintext values leave memory, and
// a presented token is checked by constant-time digest comparison against
// every entry. Scanning the whole set on every attempt keeps verification
// time independent of which (if any) token matched.
type TokenSet struct {
	digests [][sha256.Size]byte
}

// NewTokenSet digests the configured tokens. Config validation enforces the
// per-token minimum length; an empty list is rejected here because a set
// that can never match is a wiring mistake, not a policy.
func NewTokenSet(tokens []string) (*TokenSet, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("token auth requires at least one configured token")
	}
	s := &TokenSet{digests: make([][sha256.Size]byte, 0, len(tokens))}
	for _, tok := range tokens {
		s.digests = append(s.digests, sha256.Sum256([]byte(tok)))
	}
	return s, nil
}

// Verify reports whether the presented token matches any configured token.
func (s *TokenSet) Verify(token string) bool {
	presented := sha256.Sum256([]byte(token))
	match := 0
	for i := range s.digests {
		match |= subtle.ConstantTimeCompare(presented[:], s.digests[i][:])
	}
	return match == 1
}

// Len returns the number of configured tokens.
func (s *TokenSet) Len() int { return len(s.digests) }
