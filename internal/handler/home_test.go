package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/visionplus/visionplus/internal/auth"
	"github.com/visionplus/visionplus/internal/provider"
)

func homeData(t *testing.T, renderer *mockRenderer) HomePageData {
	t.Helper()
	data, ok := renderer.Data.(HomePageData)
	if !ok {
		t.Fatalf("rendered data is %T, want HomePageData", renderer.Data)
	}
	return data
}

func TestHome_Anonymous(t *testing.T) {
	renderer := &mockRenderer{}
	h := NewHomeHandler(renderer, testLogger(), false)

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()

	h.Home(rec, req)

	if renderer.Name != "public/home" {
		t.Errorf("rendered %q, want public/home", renderer.Name)
	}
	data := homeData(t, renderer)
	if data.SignedIn {
		t.Error("anonymous visitor should not be signed in")
	}
	if data.DisplayName != "" {
		t.Errorf("DisplayName = %q, want empty", data.DisplayName)
	}
}

func TestHome_SignedIn_MetadataUsernameWins(t *testing.T) {
	renderer := &mockRenderer{}
	h := NewHomeHandler(renderer, testLogger(), false)

	user := &provider.User{
		ID:       uuid.New(),
		Email:    "alice@visionplus.app",
		Metadata: map[string]any{"username": "AliceOriginal"},
	}

	req := httptest.NewRequest("GET", "/", nil)
	req = req.WithContext(auth.SetUser(req.Context(), user))
	rec := httptest.NewRecorder()

	h.Home(rec, req)

	data := homeData(t, renderer)
	if !data.SignedIn {
		t.Error("expected SignedIn")
	}
	// The metadata value is used exactly as stored.
	if data.DisplayName != "AliceOriginal" {
		t.Errorf("DisplayName = %q, want AliceOriginal", data.DisplayName)
	}
	if data.CSRFToken == "" {
		t.Error("expected a CSRF token for the logout form")
	}
}

func TestHome_SignedIn_EmailLocalPartFallback(t *testing.T) {
	renderer := &mockRenderer{}
	h := NewHomeHandler(renderer, testLogger(), false)

	user := &provider.User{
		ID:    uuid.New(),
		Email: "bob_01@visionplus.app",
	}

	req := httptest.NewRequest("GET", "/", nil)
	req = req.WithContext(auth.SetUser(req.Context(), user))

	h.Home(httptest.NewRecorder(), req)

	data := homeData(t, renderer)
	if data.DisplayName != "bob_01" {
		t.Errorf("DisplayName = %q, want bob_01", data.DisplayName)
	}
}

func TestHome_UnknownPathIs404(t *testing.T) {
	renderer := &mockRenderer{}
	h := NewHomeHandler(renderer, testLogger(), false)

	req := httptest.NewRequest("GET", "/nope", nil)
	rec := httptest.NewRecorder()

	h.Home(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status code = %d, want %d", rec.Code, http.StatusNotFound)
	}
}
