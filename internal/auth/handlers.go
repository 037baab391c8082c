// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package auth

import (
	"net/http"
	"time"

	json "github.com/goccy/go-json"
)

// tokenCookieName is the HTTP-only cookie the login handler sets alongside
// the JSON response, for browser clients that cannot attach headers.
const tokenCookieName = "token"

// LoginRequest is the POST /api/v1/auth/login body.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the minted bearer token and its expiry.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
}

// LoginHandler authenticates the configured admin credentials and mints an
// admin JWT. Only meaningful in jwt mode; the other modes have no login
// flow, so the endpoint answers 403 there rather than disappearing (a probe
// should learn "disabled", not "not found").
func (a *Authenticator) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if a.mode != "jwt" {
		http.Error(w, "Forbidden: authentication is disabled", http.StatusForbidden)
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad Request: invalid request body", http.StatusBadRequest)
		return
	}

	if !a.creds.Verify(req.Username, req.Password) {
		a.log.Warn().Str("username", req.Username).Str("remote", r.RemoteAddr).
			Msg("Login rejected")
		a.unauthorized(w, "Unauthorized: invalid username or password")
		return
	}

	token, expires, err := a.jwt.GenerateToken(req.Username, RoleAdmin)
	if err != nil {
		a.log.Error().Err(err).Msg("Token generation failed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})

	a.log.Info().Str("username", req.Username).Msg("Admin login succeeded")

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(LoginResponse{
		Token:     token,
		ExpiresAt: expires,
		Username:  req.Username,
		Role:      RoleAdmin,
	}); err != nil {
		a.log.Error().Err(err).Msg("Failed to encode login response")
	}
}
