/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 Joshua Paschall
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package agentsdk

import (
	"errors"
	"net/http"
	"testing"
	"time"
)

func fakeResponse(status int, headers map[string]string) *http.Response {
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     h,
	}
}

func TestNewAPIError(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		headers   map[string]string
		body      string
		checkType func(error) bool
	}{
		{"401 auth", http.StatusUnauthorized, nil, `{"message":"bad token"}`, IsAuthError},
		{"403 forbidden", http.StatusForbidden, nil, ``, IsForbidden},
		{"404 not found", http.StatusNotFound, nil, `{"message":"gone"}`, IsNotFound},
		{"409 conflict", http.StatusConflict, nil, ``, IsConflict},
		{"429 rate limit", http.StatusTooManyRequests, map[string]string{"Retry-After": "30"}, ``, IsRateLimited},
		{"500 server", http.StatusInternalServerError, nil, ``, IsServerError},
		{"503 server", http.StatusServiceUnavailable, nil, ``, IsServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := NewAPIError(fakeResponse(tc.status, tc.headers), []byte(tc.body))
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !tc.checkType(err) {
				t.Errorf("Wrong error type for status %d: %T", tc.status, err)
			}

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("Expected errors.As to find *APIError in %T", err)
			}
			if apiErr.StatusCode != tc.status {
				t.Errorf("Expected status %d, got %d", tc.status, apiErr.StatusCode)
			}
		})
	}
}

func TestAPIErrorFields(t *testing.T) {
	err := NewAPIError(
		fakeResponse(http.StatusTooManyRequests, map[string]string{"Retry-After": "15"}),
		[]byte(`{"message":"slow down","trackingId":"agentdesk_abc"}`),
	)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected *APIError, got %T", err)
	}
	if apiErr.Message != "slow down" {
		t.Errorf("Expected message from body, got %q", apiErr.Message)
	}
	if apiErr.TrackingID != "agentdesk_abc" {
		t.Errorf("Expected tracking id from body, got %q", apiErr.TrackingID)
	}
	if apiErr.RetryAfter != 15*time.Second {
		t.Errorf("Expected RetryAfter 15s, got %v", apiErr.RetryAfter)
	}
}

func TestAPIErrorNonJSONBody(t *testing.T) {
	raw := []byte("<html>upstream exploded</html>")
	err := NewAPIError(fakeResponse(http.StatusBadGateway, nil), raw)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected *APIError, got %T", err)
	}
	if apiErr.Message != "" {
		t.Errorf("Expected empty message for non-JSON body, got %q", apiErr.Message)
	}
	if string(apiErr.RawBody) != string(raw) {
		t.Error("Expected raw body to be preserved")
	}
}

func TestUnknownStatusReturnsBaseError(t *testing.T) {
	err := NewAPIError(fakeResponse(http.StatusTeapot, nil), nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected *APIError, got %T", err)
	}
	if IsServerError(err) || IsNotFound(err) || IsAuthError(err) {
		t.Error("Unknown status must not match a specific sub-type")
	}
}
