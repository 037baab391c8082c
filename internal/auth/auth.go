// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

// Package auth authenticates API requests for the configured mode.
//
// Three modes are supported, selected by AMAS_AUTH_MODE:
//
//   - jwt: HS256 bearer tokens minted by POST /api/v1/auth/login from the
//     configured admin credentials. Tokens carry a username and role and
//     expire after AMAS_TOKEN_TTL.
//   - token: static API tokens from AMAS_API_TOKENS. Presented tokens are
//     verified by constant-time comparison of SHA-256 digests and map to the
//     operator role.
//   - none: every request is admitted with admin claims. Config validation
//     rejects this mode in production.
//
// Authentication answers "who is calling"; what they may call is decided by
// the role enforcer in internal/authz.
package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/tomtom215/amas/internal/config"
	"github.com/tomtom215/amas/internal/logging"
	"github.com/tomtom215/amas/internal/metrics"
)

// Roles, in ascending privilege. The authz enforcer treats each role as
// inheriting the permissions of the ones below it.
const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

type contextKey string

// claimsKey carries the authenticated *Claims through the request context.
const claimsKey contextKey = "claims"

// WithClaims returns a context carrying the given claims. Exposed for
// handler tests that bypass the middleware.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

// FromContext extracts the authenticated claims set by the middleware.
func FromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok
}

// Authenticator validates request credentials for the configured auth mode
// and mints admin tokens through the login handler.
type Authenticator struct {
	mode   string
	jwt    *JWTManager
	tokens *TokenSet
	creds  *Credentials
	log    zerolog.Logger
}

// New builds an Authenticator from the security config. The config is
// assumed to have passed Validate, so mode-specific settings are present;
// anything still malformed (for example an admin password bcrypt cannot
// hash) surfaces here.
func New(cfg *config.SecurityConfig) (*Authenticator, error) {
	a := &Authenticator{
		mode: cfg.AuthMode,
		log:  logging.WithComponent("auth"),
	}

	switch cfg.AuthMode {
	case "jwt":
		mgr, err := NewJWTManager(cfg)
		if err != nil {
			return nil, err
		}
		creds, err := NewCredentials(cfg.AdminUsername, cfg.AdminPassword)
		if err != nil {
			return nil, err
		}
		a.jwt = mgr
		a.creds = creds
	case "token":
		set, err := NewTokenSet(cfg.APITokens)
		if err != nil {
			return nil, err
		}
		a.tokens = set
	case "none":
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.AuthMode)
	}

	return a, nil
}

// Mode returns the configured auth mode.
func (a *Authenticator) Mode() string { return a.mode }

// anonymousClaims is what AMAS_AUTH_MODE=none injects: every caller is an
// unauthenticated admin. Config validation keeps this out of production.
func anonymousClaims() *Claims {
	return &Claims{Username: "anonymous", Role: RoleAdmin}
}

// tokenClaims is the identity assigned to a valid static API token.
func tokenClaims() *Claims {
	return &Claims{Username: "api-token", Role: RoleOperator}
}

// unauthorized rejects the request and counts the failure.
func (a *Authenticator) unauthorized(w http.ResponseWriter, msg string) {
	metrics.AuthFailures.WithLabelValues(a.mode).Inc()
	http.Error(w, msg, http.StatusUnauthorized)
}
