// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

// Package authz enforces role-based access over the API route groups.
//
// Authentication (internal/auth) establishes who is calling; this package
// decides whether that caller's role may touch the requested path. The RBAC
// model and policy are embedded: AMAS has exactly three roles in a fixed
// hierarchy (viewer < operator < admin), so policy is code, not deployment
// configuration.
//
//	Request -> auth.Middleware -> authz.Middleware -> handler
//
// Paths are matched with casbin's keyMatch, so one policy line covers a
// route group ("/api/v1/users/*"). HTTP methods map to actions: GET-style
// methods are "read", mutating methods are "write".
package authz

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

//go:embed model.conf
var embeddedModel string

//go:embed policy.csv
var embeddedPolicy string

// Enforcer answers role/path/action questions against the embedded policy.
// casbin's SyncedEnforcer makes it safe for concurrent use.
type Enforcer struct {
	enforcer *casbin.SyncedEnforcer
}

// NewEnforcer loads the embedded model and policy. Errors are wiring
// mistakes (malformed embedded assets) and should fail boot.
func NewEnforcer() (*Enforcer, error) {
	m, err := model.NewModelFromString(embeddedModel)
	if err != nil {
		return nil, fmt.Errorf("failed to load authz model: %w", err)
	}

	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("failed to create authz enforcer: %w", err)
	}
	if err := loadPolicy(enforcer, embeddedPolicy); err != nil {
		return nil, err
	}

	return &Enforcer{enforcer: enforcer}, nil
}

// loadPolicy parses the embedded CSV policy into the enforcer.
func loadPolicy(enforcer *casbin.SyncedEnforcer, policy string) error {
	for _, line := range strings.Split(policy, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}

		switch parts[0] {
		case "p":
			if len(parts) != 4 {
				return fmt.Errorf("malformed policy line %q", line)
			}
			if _, err := enforcer.AddPolicy(parts[1], parts[2], parts[3]); err != nil {
				return fmt.Errorf("failed to add policy %q: %w", line, err)
			}
		case "g":
			if len(parts) != 3 {
				return fmt.Errorf("malformed grouping line %q", line)
			}
			if _, err := enforcer.AddGroupingPolicy(parts[1], parts[2]); err != nil {
				return fmt.Errorf("failed to add grouping %q: %w", line, err)
			}
		default:
			return fmt.Errorf("unknown policy type in line %q", line)
		}
	}
	return nil
}

// Enforce reports whether the role may perform the action on the path.
func (e *Enforcer) Enforce(role, path, action string) (bool, error) {
	allowed, err := e.enforcer.Enforce(role, path, action)
	if err != nil {
		return false, fmt.Errorf("enforcement failed: %w", err)
	}
	return allowed, nil
}

// Policy returns the loaded policy rules, for the admin status surface.
func (e *Enforcer) Policy() [][]string {
	policies, _ := e.enforcer.GetPolicy() //nolint:errcheck // only fails on nil enforcer
	return policies
}
