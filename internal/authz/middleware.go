// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package authz

import (
	"net/http"

	"github.com/tomtom215/amas/internal/auth"
	"github.com/tomtom215/amas/internal/logging"
	"github.com/tomtom215/amas/internal/metrics"
)

// Middleware authorizes authenticated requests against the embedded policy.
// It must run after auth.Middleware; a request without claims in context is
// a router wiring bug and is refused outright.
//
//	r.Use(authn.Middleware, enforcer.Middleware)
func (e *Enforcer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.FromContext(r.Context())
		if !ok {
			http.Error(w, "Forbidden: no authentication context", http.StatusForbidden)
			return
		}

		allowed, err := e.Enforce(claims.Role, r.URL.Path, methodToAction(r.Method))
		if err != nil {
			logging.Error().Err(err).Str("role", claims.Role).Str("path", r.URL.Path).
				Msg("Authorization check failed")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		if !allowed {
			metrics.AuthzDenials.WithLabelValues(claims.Role).Inc()
			http.Error(w, "Forbidden: insufficient permissions", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// methodToAction maps HTTP methods onto the two policy actions.
func methodToAction(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return "read"
	default:
		return "write"
	}
}
