// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package auth

import (
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// bcryptCost balances login latency against brute-force resistance. Logins
// are rare (one admin, token TTL in hours), so the expensive end is fine.
const bcryptCost = 12

// Credentials verifies the configured admin username and password. The
// password is bcrypt-hashed once at construction so the plaintext is not
// retained and every verification is timing-safe.
type Credentials struct {
	username     string
	passwordHash []byte
}

// NewCredentials hashes the admin password. bcrypt rejects passwords longer
// than 72 bytes; that error surfaces here at boot rather than as a login
// that can never succeed.
func NewCredentials(username, password string) (*Credentials, error) {
	if username == "" {
		return nil, fmt.Errorf("admin username is required")
	}
	if password == "" {
		return nil, fmt.Errorf("admin password is required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash admin password: %w", err)
	}

	return &Credentials{username: username, passwordHash: hash}, nil
}

// Verify reports whether the presented username and password match. Both
// comparisons always run so a wrong username costs the same as a wrong
// password; bcrypt's comparison is timing-safe by construction.
func (c *Credentials) Verify(username, password string) bool {
	usernameMatch := subtle.ConstantTimeCompare([]byte(username), []byte(c.username)) == 1
	passwordMatch := bcrypt.CompareHashAndPassword(c.passwordHash, []byte(password)) == nil
	return usernameMatch && passwordMatch
}
