// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package auth

import (
	"fmt"
	"net/http"
	"strings"
)

// Middleware authenticates the request for the configured mode and injects
// the resulting *Claims into the request context. Mounted chi-style:
//
//	r.Use(authn.Middleware)
//
// Rejections are plain-text 401s; role checks happen later in internal/authz
// and respond 403.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch a.mode {
		case "none":
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), anonymousClaims())))
		case "token":
			a.serveToken(w, r, next)
		default:
			a.serveJWT(w, r, next)
		}
	})
}

// serveToken admits requests bearing a configured static API token.
func (a *Authenticator) serveToken(w http.ResponseWriter, r *http.Request, next http.Handler) {
	token, err := bearerToken(r)
	if err != nil {
		a.unauthorized(w, "Unauthorized: "+err.Error())
		return
	}
	if !a.tokens.Verify(token) {
		a.log.Warn().Str("remote", r.RemoteAddr).Msg("Rejected invalid API token")
		a.unauthorized(w, "Unauthorized: invalid token")
		return
	}
	next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), tokenClaims())))
}

// serveJWT admits requests bearing a token minted by the login handler.
func (a *Authenticator) serveJWT(w http.ResponseWriter, r *http.Request, next http.Handler) {
	token, err := jwtToken(r)
	if err != nil {
		a.unauthorized(w, "Unauthorized: "+err.Error())
		return
	}

	claims, err := a.jwt.ValidateToken(token)
	if err != nil {
		a.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Token validation failed")
		a.unauthorized(w, "Unauthorized: invalid token")
		return
	}
	next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
}

// bearerToken extracts the token from an "Authorization: Bearer x" header.
func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", fmt.Errorf("missing authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", fmt.Errorf("invalid authorization header")
	}
	return parts[1], nil
}

// jwtToken extracts a JWT from the Authorization header, falling back to the
// cookie the login handler sets for browser clients.
func jwtToken(r *http.Request) (string, error) {
	if r.Header.Get("Authorization") != "" {
		return bearerToken(r)
	}
	cookie, err := r.Cookie(tokenCookieName)
	if err != nil {
		return "", fmt.Errorf("missing token")
	}
	return cookie.Value, nil
}
