package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/visionplus/visionplus/internal/domain"
)

func TestErrorResponse_InternalErrorHidesDetails(t *testing.T) {
	upstreamErr := errors.New(`Post "http://auth.internal:9999/token": dial tcp: connection refused`)
	internalErr := domain.Internal(upstreamErr, "gotrue.SignIn", "Provider request failed")

	req := httptest.NewRequest("GET", "/login", nil)
	req.Header.Set("Accept", "text/html")
	rec := httptest.NewRecorder()

	ErrorResponse(rec, req, testLogger(), internalErr)

	body := rec.Body.String()

	// Upstream addresses and operation names stay in the logs.
	if strings.Contains(body, "auth.internal") {
		t.Errorf("response exposes upstream address: %s", body)
	}
	if strings.Contains(body, "gotrue") {
		t.Errorf("response exposes internal operation: %s", body)
	}
	if !strings.Contains(body, "internal error") {
		t.Errorf("response should contain generic internal error message, got: %s", body)
	}
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status code = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestErrorResponse_JSONWhenAccepted(t *testing.T) {
	err := domain.Invalid("auth.signup", "Username is too short")

	req := httptest.NewRequest("POST", "/signup", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()

	ErrorResponse(rec, req, testLogger(), err)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status code = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if !strings.Contains(rec.Body.String(), "Username is too short") {
		t.Errorf("JSON body should carry the message: %s", rec.Body.String())
	}
}

func TestErrorCodeToHTTPStatus(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{domain.EINVALID, http.StatusBadRequest},
		{domain.EUNAUTHORIZED, http.StatusUnauthorized},
		{domain.ENOTFOUND, http.StatusNotFound},
		{domain.ECONFLICT, http.StatusConflict},
		{domain.ERATELIMIT, http.StatusTooManyRequests},
		{domain.EINTERNAL, http.StatusInternalServerError},
		{"something_else", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := ErrorCodeToHTTPStatus(tt.code); got != tt.want {
				t.Errorf("ErrorCodeToHTTPStatus(%q) = %d, want %d", tt.code, got, tt.want)
			}
		})
	}
}

func TestNotFoundResponse(t *testing.T) {
	req := httptest.NewRequest("GET", "/missing", nil)
	rec := httptest.NewRecorder()

	NotFoundResponse(rec, req, testLogger())

	if rec.Code != http.StatusNotFound {
		t.Errorf("status code = %d, want %d", rec.Code, http.StatusNotFound)
	}
}
