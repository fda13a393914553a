package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "keyregistry/pkg/domain-errors"
)

func TestWriteError(t *testing.T) {
	t.Run("internal error omits description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeInternal, "db failed"))

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}

		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body["error"] != "internal_error" {
			t.Fatalf("expected error code internal_error, got %q", body["error"])
		}
		if _, ok := body["error_description"]; ok {
			t.Fatalf("expected error_description to be omitted for internal errors")
		}
	})

	t.Run("bad request includes description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid input"))

		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}

		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body["error"] != "bad_request" {
			t.Fatalf("expected error code bad_request, got %q", body["error"])
		}
		if body["error_description"] != "invalid input" {
			t.Fatalf("expected error_description to be returned for bad request")
		}
	})

	t.Run("uncoded error is internal", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, errors.New("boom"))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		code dErrors.Code
		want int
	}{
		{dErrors.CodeUnauthorized, http.StatusUnauthorized},
		{dErrors.CodeInvalidSignature, http.StatusUnauthorized},
		{dErrors.CodeSignatureExpired, http.StatusUnauthorized},
		{dErrors.CodeInvalidState, http.StatusConflict},
		{dErrors.CodeCapacityExceeded, http.StatusConflict},
		{dErrors.CodeAlreadyMigrated, http.StatusConflict},
		{dErrors.CodeNotPaused, http.StatusConflict},
		{dErrors.CodeGatewayFrozen, http.StatusConflict},
		{dErrors.CodeInvalidMetadata, http.StatusUnprocessableEntity},
		{dErrors.CodeValidatorNotFound, http.StatusUnprocessableEntity},
		{dErrors.CodePermissionRevoked, http.StatusForbidden},
		{dErrors.CodeInvalidBatch, http.StatusBadRequest},
		{dErrors.CodePaused, http.StatusServiceUnavailable},
		{dErrors.CodeRateLimited, http.StatusTooManyRequests},
		{dErrors.CodeNotFound, http.StatusNotFound},
		{dErrors.CodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.code))
		})
	}
}

type pingRequest struct {
	Name string `json:"name"`
}

func (r *pingRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return dErrors.New(dErrors.CodeValidation, "name is required")
	}
	return nil
}

func TestDecodeAndPrepare(t *testing.T) {
	decode := func(body string) (*pingRequest, *httptest.ResponseRecorder, bool) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		req, ok := DecodeAndPrepare[pingRequest](w, r, nil, r.Context(), "req-1")
		return req, w, ok
	}

	t.Run("valid body is normalised", func(t *testing.T) {
		req, _, ok := decode(`{"name":"  alice "}`)
		require.True(t, ok)
		assert.Equal(t, "alice", req.Name)
	})

	t.Run("validation failure", func(t *testing.T) {
		_, w, ok := decode(`{"name":" "}`)
		require.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "validation_error")
	})

	t.Run("unknown fields rejected", func(t *testing.T) {
		_, w, ok := decode(`{"name":"a","extra":1}`)
		require.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("empty body", func(t *testing.T) {
		_, w, ok := decode(``)
		require.False(t, ok)
		assert.Contains(t, w.Body.String(), "request body is required")
	})
}
