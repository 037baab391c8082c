// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package validation

import (
	"strings"
	"testing"
)

type sampleRequest struct {
	SessionID string  `validate:"required,max=128"`
	Limit     int     `validate:"min=1,max=100"`
	Profile   string  `validate:"omitempty,oneof=standard cram relaxed"`
	Density   float64 `validate:"gte=0,lte=1"`
}

func validSample() sampleRequest {
	return sampleRequest{SessionID: "sess-1", Limit: 20, Profile: "standard", Density: 0.5}
}

func TestValidateStructPasses(t *testing.T) {
	req := validSample()
	if verr := ValidateStruct(&req); verr != nil {
		t.Fatalf("ValidateStruct = %v, want nil", verr)
	}

	// omitempty: an absent optional field is not an error.
	req.Profile = ""
	if verr := ValidateStruct(&req); verr != nil {
		t.Fatalf("ValidateStruct without Profile = %v, want nil", verr)
	}
}

func TestValidateStructFieldErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*sampleRequest)
		field   string
		tag     string
		message string
	}{
		{
			name:    "missing required string",
			mutate:  func(r *sampleRequest) { r.SessionID = "" },
			field:   "SessionID",
			tag:     "required",
			message: "SessionID is required",
		},
		{
			name:    "string over max",
			mutate:  func(r *sampleRequest) { r.SessionID = strings.Repeat("s", 129) },
			field:   "SessionID",
			tag:     "max",
			message: "SessionID must be at most 128 characters",
		},
		{
			name:    "int below min",
			mutate:  func(r *sampleRequest) { r.Limit = 0 },
			field:   "Limit",
			tag:     "min",
			message: "Limit must be at least 1",
		},
		{
			name:    "int over max",
			mutate:  func(r *sampleRequest) { r.Limit = 500 },
			field:   "Limit",
			tag:     "max",
			message: "Limit must be at most 100",
		},
		{
			name:    "bad enum value",
			mutate:  func(r *sampleRequest) { r.Profile = "turbo" },
			field:   "Profile",
			tag:     "oneof",
			message: "Profile must be one of: standard cram relaxed",
		},
		{
			name:    "float over lte bound",
			mutate:  func(r *sampleRequest) { r.Density = 1.5 },
			field:   "Density",
			tag:     "lte",
			message: "Density must be less than or equal to 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validSample()
			tt.mutate(&req)

			verr := ValidateStruct(&req)
			if verr == nil {
				t.Fatal("ValidateStruct = nil, want error")
			}
			errs := verr.Errors()
			if len(errs) != 1 {
				t.Fatalf("got %d field errors, want 1: %v", len(errs), verr)
			}
			if errs[0].Field() != tt.field {
				t.Errorf("Field = %q, want %q", errs[0].Field(), tt.field)
			}
			if errs[0].Tag() != tt.tag {
				t.Errorf("Tag = %q, want %q", errs[0].Tag(), tt.tag)
			}
			if errs[0].Error() != tt.message {
				t.Errorf("message = %q, want %q", errs[0].Error(), tt.message)
			}
		})
	}
}

func TestToAPIErrorSingle(t *testing.T) {
	req := validSample()
	req.Limit = 0

	apiErr := ValidateStruct(&req).ToAPIError()
	if apiErr.Code != "VALIDATION_ERROR" {
		t.Errorf("Code = %q, want VALIDATION_ERROR", apiErr.Code)
	}
	if apiErr.Message != "Limit must be at least 1" {
		t.Errorf("Message = %q", apiErr.Message)
	}
	if apiErr.Details["field"] != "Limit" {
		t.Errorf("Details[field] = %v, want Limit", apiErr.Details["field"])
	}
}

func TestToAPIErrorMultiple(t *testing.T) {
	req := validSample()
	req.SessionID = ""
	req.Limit = 0

	apiErr := ValidateStruct(&req).ToAPIError()
	if !strings.Contains(apiErr.Message, "SessionID") || !strings.Contains(apiErr.Message, "Limit") {
		t.Errorf("combined message missing fields: %q", apiErr.Message)
	}
	fields, ok := apiErr.Details["fields"].([]map[string]interface{})
	if !ok {
		t.Fatalf("Details[fields] has type %T", apiErr.Details["fields"])
	}
	if len(fields) != 2 {
		t.Errorf("got %d field entries, want 2", len(fields))
	}
}

func TestGetValidatorIsShared(t *testing.T) {
	if GetValidator() != GetValidator() {
		t.Error("GetValidator returned distinct instances")
	}
}
