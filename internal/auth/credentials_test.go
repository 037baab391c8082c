// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package auth

import (
	"strings"
	"testing"
)

func TestCredentialsVerify(t *testing.T) {
	creds, err := NewCredentials("admin", "correct-horse-battery")
	if err != nil {
		t.Fatalf("NewCredentials: %v", err)
	}

	tests := []struct {
		name     string
		username string
		password string
		want     bool
	}{
		{"valid", "admin", "correct-horse-battery", true},
		{"wrong password", "admin", "wrong-horse-battery", false},
		{"wrong username", "root", "correct-horse-battery", false},
		{"both wrong", "root", "toor", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := creds.Verify(tt.username, tt.password); got != tt.want {
				t.Errorf("Verify(%q, …) = %v, want %v", tt.username, got, tt.want)
			}
		})
	}
}

func TestNewCredentialsValidation(t *testing.T) {
	tests := []struct {
		name     string
		username string
		password string
	}{
		{"empty username", "", "some-password"},
		{"empty password", "admin", ""},
		{"password over bcrypt limit", "admin", strings.Repeat("p", 80)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewCredentials(tt.username, tt.password); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}
