package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/visionplus/visionplus/internal/csrf"
	"github.com/visionplus/visionplus/internal/identity"
	"github.com/visionplus/visionplus/internal/middleware"
	"github.com/visionplus/visionplus/internal/provider"
	"github.com/visionplus/visionplus/internal/session"
)

// mockClient implements provider.Client for testing.
type mockClient struct {
	SignUpFunc  func(ctx context.Context, email, password string, metadata map[string]any) (*provider.Session, error)
	SignInFunc  func(ctx context.Context, email, password string) (*provider.Session, error)
	GetUserFunc func(ctx context.Context, accessToken string) (*provider.User, error)
	RefreshFunc func(ctx context.Context, refreshToken string) (*provider.Session, error)
	SignOutFunc func(ctx context.Context, accessToken string) error
}

func (m *mockClient) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*provider.Session, error) {
	if m.SignUpFunc != nil {
		return m.SignUpFunc(ctx, email, password, metadata)
	}
	return nil, errors.New("not implemented")
}

func (m *mockClient) SignIn(ctx context.Context, email, password string) (*provider.Session, error) {
	if m.SignInFunc != nil {
		return m.SignInFunc(ctx, email, password)
	}
	return nil, errors.New("not implemented")
}

func (m *mockClient) GetUser(ctx context.Context, accessToken string) (*provider.User, error) {
	if m.GetUserFunc != nil {
		return m.GetUserFunc(ctx, accessToken)
	}
	return nil, errors.New("not implemented")
}

func (m *mockClient) Refresh(ctx context.Context, refreshToken string) (*provider.Session, error) {
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, refreshToken)
	}
	return nil, errors.New("not implemented")
}

func (m *mockClient) SignOut(ctx context.Context, accessToken string) error {
	if m.SignOutFunc != nil {
		return m.SignOutFunc(ctx, accessToken)
	}
	return nil
}

// mockRenderer captures the last rendered template and its data.
type mockRenderer struct {
	Name string
	Data interface{}
}

func (m *mockRenderer) RenderHTTP(w http.ResponseWriter, name string, data interface{}) {
	m.Name = name
	m.Data = data
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func newTestAuthHandler(t *testing.T, client provider.Client) (*AuthHandler, *mockRenderer) {
	t.Helper()

	mapper, err := identity.NewMapper("visionplus.app")
	if err != nil {
		t.Fatalf("NewMapper: %v", err)
	}

	renderer := &mockRenderer{}
	limiter := middleware.NewAuthRateLimiter(100, time.Minute, testLogger())

	return NewAuthHandler(client, mapper, limiter, renderer, testLogger(), false), renderer
}

// postForm builds a form POST request with a valid CSRF cookie and field.
func postForm(t *testing.T, path string, values url.Values) *http.Request {
	t.Helper()

	token, err := csrf.Token()
	if err != nil {
		t.Fatalf("csrf.Token: %v", err)
	}
	values.Set(csrf.FormFieldName, token)

	req := httptest.NewRequest("POST", path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: csrf.CookieName, Value: token})
	req.RemoteAddr = "192.168.1.1:12345"
	return req
}

func authData(t *testing.T, renderer *mockRenderer) AuthPageData {
	t.Helper()
	data, ok := renderer.Data.(AuthPageData)
	if !ok {
		t.Fatalf("rendered data is %T, want AuthPageData", renderer.Data)
	}
	return data
}

func TestShowLogin_RendersForm(t *testing.T) {
	h, renderer := newTestAuthHandler(t, &mockClient{})

	req := httptest.NewRequest("GET", "/login?return_to=/", nil)
	rec := httptest.NewRecorder()

	h.ShowLogin(rec, req)

	if renderer.Name != "auth/login" {
		t.Errorf("rendered %q, want auth/login", renderer.Name)
	}
	data := authData(t, renderer)
	if data.CSRFToken == "" {
		t.Error("expected a CSRF token")
	}
	if data.ReturnTo != "/" {
		t.Errorf("ReturnTo = %q, want /", data.ReturnTo)
	}
}

func TestShowLogin_RegisteredFlash(t *testing.T) {
	h, renderer := newTestAuthHandler(t, &mockClient{})

	req := httptest.NewRequest("GET", "/login?registered=1", nil)
	h.ShowLogin(httptest.NewRecorder(), req)

	data := authData(t, renderer)
	if data.Flash == nil || data.Flash.Type != "success" {
		t.Errorf("expected success flash, got %+v", data.Flash)
	}
}

func TestLogin_MissingFields(t *testing.T) {
	client := &mockClient{
		SignInFunc: func(ctx context.Context, email, password string) (*provider.Session, error) {
			t.Error("SignIn should not be called")
			return nil, errors.New("unexpected")
		},
	}
	h, renderer := newTestAuthHandler(t, client)

	req := postForm(t, "/login", url.Values{})
	h.Login(httptest.NewRecorder(), req)

	data := authData(t, renderer)
	if data.Errors["username"] == "" {
		t.Error("expected username error")
	}
	if data.Errors["password"] == "" {
		t.Error("expected password error")
	}
}

func TestLogin_InvalidCSRF(t *testing.T) {
	client := &mockClient{
		SignInFunc: func(ctx context.Context, email, password string) (*provider.Session, error) {
			t.Error("SignIn should not be called")
			return nil, errors.New("unexpected")
		},
	}
	h, renderer := newTestAuthHandler(t, client)

	values := url.Values{"username": {"alice"}, "password": {"secret1"}}
	req := httptest.NewRequest("POST", "/login", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	h.Login(rec, req)

	data := authData(t, renderer)
	if data.Flash == nil || !strings.Contains(data.Flash.Message, "security token") {
		t.Errorf("expected security token flash, got %+v", data.Flash)
	}
}

func TestLogin_UsernameMappedToAccountEmail(t *testing.T) {
	var gotEmail string
	client := &mockClient{
		SignInFunc: func(ctx context.Context, email, password string) (*provider.Session, error) {
			gotEmail = email
			return &provider.Session{
				AccessToken:  "tok",
				RefreshToken: "ref",
				ExpiresIn:    3600,
				User:         &provider.User{ID: uuid.New(), Email: email},
			}, nil
		},
	}
	h, _ := newTestAuthHandler(t, client)

	req := postForm(t, "/login", url.Values{
		"username": {"Alice"},
		"password": {"secret1"},
	})
	rec := httptest.NewRecorder()

	h.Login(rec, req)

	if gotEmail != "alice@visionplus.app" {
		t.Errorf("SignIn email = %q, want alice@visionplus.app", gotEmail)
	}
	if rec.Code != http.StatusSeeOther {
		t.Errorf("status code = %d, want %d", rec.Code, http.StatusSeeOther)
	}
}

func TestLogin_EmailIdentifierPassedThrough(t *testing.T) {
	var gotEmail string
	client := &mockClient{
		SignInFunc: func(ctx context.Context, email, password string) (*provider.Session, error) {
			gotEmail = email
			return &provider.Session{
				AccessToken: "tok",
				ExpiresIn:   3600,
				User:        &provider.User{ID: uuid.New(), Email: email},
			}, nil
		},
	}
	h, _ := newTestAuthHandler(t, client)

	req := postForm(t, "/login", url.Values{
		"username": {"Someone@Example.com"},
		"password": {"secret1"},
	})
	h.Login(httptest.NewRecorder(), req)

	if gotEmail != "Someone@Example.com" {
		t.Errorf("SignIn email = %q, want identifier unchanged", gotEmail)
	}
}

func TestLogin_ProviderRejection_ShowsProviderMessage(t *testing.T) {
	client := &mockClient{
		SignInFunc: func(ctx context.Context, email, password string) (*provider.Session, error) {
			return nil, &provider.Error{Status: http.StatusBadRequest, Message: "Invalid login credentials"}
		},
	}
	h, renderer := newTestAuthHandler(t, client)

	req := postForm(t, "/login", url.Values{
		"username": {"alice"},
		"password": {"wrong-password"},
	})
	h.Login(httptest.NewRecorder(), req)

	data := authData(t, renderer)
	if data.Flash == nil || data.Flash.Message != "Invalid login credentials" {
		t.Errorf("flash = %+v, want the provider message verbatim", data.Flash)
	}
	if data.Form["Username"] != "alice" {
		t.Errorf("Form[Username] = %q, want alice", data.Form["Username"])
	}
}

func TestLogin_ProviderUnreachable_GenericMessage(t *testing.T) {
	client := &mockClient{
		SignInFunc: func(ctx context.Context, email, password string) (*provider.Session, error) {
			return nil, errors.New("dial tcp: connection refused")
		},
	}
	h, renderer := newTestAuthHandler(t, client)

	req := postForm(t, "/login", url.Values{
		"username": {"alice"},
		"password": {"secret1"},
	})
	h.Login(httptest.NewRecorder(), req)

	data := authData(t, renderer)
	if data.Flash == nil || !strings.Contains(data.Flash.Message, "try again later") {
		t.Errorf("flash = %+v, want generic failure message", data.Flash)
	}
}

func TestLogin_Success_SetsCookiesAndRedirects(t *testing.T) {
	client := &mockClient{
		SignInFunc: func(ctx context.Context, email, password string) (*provider.Session, error) {
			return &provider.Session{
				AccessToken:  "access-tok",
				RefreshToken: "refresh-tok",
				ExpiresIn:    3600,
				User:         &provider.User{ID: uuid.New(), Email: email},
			}, nil
		},
	}
	h, _ := newTestAuthHandler(t, client)

	req := postForm(t, "/login", url.Values{
		"username":  {"alice"},
		"password":  {"secret1"},
		"return_to": {"/?welcome=1"},
	})
	rec := httptest.NewRecorder()

	h.Login(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status code = %d, want %d", rec.Code, http.StatusSeeOther)
	}
	if location := rec.Header().Get("Location"); location != "/?welcome=1" {
		t.Errorf("Location = %q, want /?welcome=1", location)
	}

	var gotAccess, gotRefresh bool
	for _, cookie := range rec.Result().Cookies() {
		switch cookie.Name {
		case session.AccessCookieName:
			gotAccess = cookie.Value == "access-tok" && cookie.HttpOnly
		case session.RefreshCookieName:
			gotRefresh = cookie.Value == "refresh-tok" && cookie.HttpOnly
		}
	}
	if !gotAccess {
		t.Error("access token cookie not set correctly")
	}
	if !gotRefresh {
		t.Error("refresh token cookie not set correctly")
	}
}

func TestLogin_UnsafeReturnToIgnored(t *testing.T) {
	client := &mockClient{
		SignInFunc: func(ctx context.Context, email, password string) (*provider.Session, error) {
			return &provider.Session{
				AccessToken: "tok",
				ExpiresIn:   3600,
				User:        &provider.User{ID: uuid.New(), Email: email},
			}, nil
		},
	}
	h, _ := newTestAuthHandler(t, client)

	req := postForm(t, "/login", url.Values{
		"username":  {"alice"},
		"password":  {"secret1"},
		"return_to": {"https://evil.example"},
	})
	rec := httptest.NewRecorder()

	h.Login(rec, req)

	if location := rec.Header().Get("Location"); location != "/" {
		t.Errorf("Location = %q, want /", location)
	}
}

func TestSignup_ValidationBeforeProvider(t *testing.T) {
	tests := []struct {
		name       string
		username   string
		password   string
		confirm    string
		errorField string
	}{
		{
			name:       "username too short",
			username:   "ab",
			password:   "secret1",
			confirm:    "secret1",
			errorField: "username",
		},
		{
			name:       "username bad charset",
			username:   "user name",
			password:   "secret1",
			confirm:    "secret1",
			errorField: "username",
		},
		{
			name:       "password too short",
			username:   "alice",
			password:   "abc",
			confirm:    "abc",
			errorField: "password",
		},
		{
			name:       "password mismatch",
			username:   "alice",
			password:   "secret1",
			confirm:    "secret2",
			errorField: "password_confirmation",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockClient{
				SignUpFunc: func(ctx context.Context, email, password string, metadata map[string]any) (*provider.Session, error) {
					t.Error("SignUp should not be called before validation passes")
					return nil, errors.New("unexpected")
				},
			}
			h, renderer := newTestAuthHandler(t, client)

			req := postForm(t, "/signup", url.Values{
				"username":              {tt.username},
				"password":              {tt.password},
				"password_confirmation": {tt.confirm},
			})
			h.Signup(httptest.NewRecorder(), req)

			data := authData(t, renderer)
			if data.Errors[tt.errorField] == "" {
				t.Errorf("expected error on %q, got %v", tt.errorField, data.Errors)
			}
		})
	}
}

func TestSignup_FoldsUsernameIntoEmailAndMetadata(t *testing.T) {
	var gotEmail string
	var gotMetadata map[string]any
	client := &mockClient{
		SignUpFunc: func(ctx context.Context, email, password string, metadata map[string]any) (*provider.Session, error) {
			gotEmail = email
			gotMetadata = metadata
			return &provider.Session{
				AccessToken: "tok",
				ExpiresIn:   3600,
				User:        &provider.User{ID: uuid.New(), Email: email, Metadata: metadata},
			}, nil
		},
	}
	h, _ := newTestAuthHandler(t, client)

	req := postForm(t, "/signup", url.Values{
		"username":              {"Bob_01"},
		"password":              {"secret1"},
		"password_confirmation": {"secret1"},
	})
	rec := httptest.NewRecorder()

	h.Signup(rec, req)

	if gotEmail != "bob_01@visionplus.app" {
		t.Errorf("SignUp email = %q, want bob_01@visionplus.app", gotEmail)
	}
	if gotMetadata["username"] != "bob_01" {
		t.Errorf("metadata username = %v, want bob_01", gotMetadata["username"])
	}
	if rec.Code != http.StatusSeeOther {
		t.Errorf("status code = %d, want %d", rec.Code, http.StatusSeeOther)
	}
	if location := rec.Header().Get("Location"); location != "/" {
		t.Errorf("Location = %q, want /", location)
	}
}

func TestSignup_DuplicateAccount_ShowsProviderMessage(t *testing.T) {
	client := &mockClient{
		SignUpFunc: func(ctx context.Context, email, password string, metadata map[string]any) (*provider.Session, error) {
			return nil, &provider.Error{Status: http.StatusUnprocessableEntity, Message: "User already registered"}
		},
	}
	h, renderer := newTestAuthHandler(t, client)

	req := postForm(t, "/signup", url.Values{
		"username":              {"alice"},
		"password":              {"secret1"},
		"password_confirmation": {"secret1"},
	})
	h.Signup(httptest.NewRecorder(), req)

	data := authData(t, renderer)
	if data.Flash == nil || data.Flash.Message != "User already registered" {
		t.Errorf("flash = %+v, want the provider message verbatim", data.Flash)
	}
}

func TestSignup_ConfirmationPending_RedirectsToLogin(t *testing.T) {
	client := &mockClient{
		SignUpFunc: func(ctx context.Context, email, password string, metadata map[string]any) (*provider.Session, error) {
			// No tokens when the provider requires email confirmation.
			return &provider.Session{
				User: &provider.User{ID: uuid.New(), Email: email, Metadata: metadata},
			}, nil
		},
	}
	h, _ := newTestAuthHandler(t, client)

	req := postForm(t, "/signup", url.Values{
		"username":              {"alice"},
		"password":              {"secret1"},
		"password_confirmation": {"secret1"},
	})
	rec := httptest.NewRecorder()

	h.Signup(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status code = %d, want %d", rec.Code, http.StatusSeeOther)
	}
	if location := rec.Header().Get("Location"); location != "/login?confirm=1" {
		t.Errorf("Location = %q, want /login?confirm=1", location)
	}
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == session.AccessCookieName {
			t.Error("access cookie should not be set for a pending account")
		}
	}
}

func TestLogout_RevokesSessionAndClearsCookies(t *testing.T) {
	var revokedToken string
	client := &mockClient{
		SignOutFunc: func(ctx context.Context, accessToken string) error {
			revokedToken = accessToken
			return nil
		},
	}
	h, _ := newTestAuthHandler(t, client)

	req := postForm(t, "/logout", url.Values{})
	req.AddCookie(&http.Cookie{Name: session.AccessCookieName, Value: "tok-123"})
	rec := httptest.NewRecorder()

	h.Logout(rec, req)

	if revokedToken != "tok-123" {
		t.Errorf("revoked token = %q, want tok-123", revokedToken)
	}
	if rec.Code != http.StatusSeeOther {
		t.Errorf("status code = %d, want %d", rec.Code, http.StatusSeeOther)
	}
	if location := rec.Header().Get("Location"); location != "/login?logout=1" {
		t.Errorf("Location = %q, want /login?logout=1", location)
	}

	cleared := 0
	for _, cookie := range rec.Result().Cookies() {
		if (cookie.Name == session.AccessCookieName || cookie.Name == session.RefreshCookieName) && cookie.MaxAge == -1 {
			cleared++
		}
	}
	if cleared != 2 {
		t.Errorf("cleared %d token cookies, want 2", cleared)
	}
}

func TestLogout_ClearsCookiesEvenWhenRevokeFails(t *testing.T) {
	client := &mockClient{
		SignOutFunc: func(ctx context.Context, accessToken string) error {
			return errors.New("provider down")
		},
	}
	h, _ := newTestAuthHandler(t, client)

	req := postForm(t, "/logout", url.Values{})
	req.AddCookie(&http.Cookie{Name: session.AccessCookieName, Value: "tok-123"})
	rec := httptest.NewRecorder()

	h.Logout(rec, req)

	cleared := false
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == session.AccessCookieName && cookie.MaxAge == -1 {
			cleared = true
		}
	}
	if !cleared {
		t.Error("access cookie was not cleared")
	}
}

func TestIsSafeRedirectURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"/", true},
		{"/login?return_to=/", true},
		{"//evil.example", false},
		{"https://evil.example", false},
		{"javascript:alert(1)", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			if got := isSafeRedirectURL(tt.url); got != tt.want {
				t.Errorf("isSafeRedirectURL(%q) = %v, want %v", tt.url, got, tt.want)
			}
		})
	}
}

func TestLogin_ShortPasswordRejectedBeforeProvider(t *testing.T) {
	signInCalled := false
	client := &mockClient{
		SignInFunc: func(ctx context.Context, email, password string) (*provider.Session, error) {
			signInCalled = true
			return nil, errors.New("should not be reached")
		},
	}
	h, renderer := newTestAuthHandler(t, client)

	req := postForm(t, "/login", url.Values{
		"username": {"alice"},
		"password": {"abc"},
	})
	rec := httptest.NewRecorder()

	h.Login(rec, req)

	if signInCalled {
		t.Error("SignIn should not be called with a too-short password")
	}
	data := authData(t, renderer)
	if data.Errors["password"] == "" {
		t.Error("expected an inline password error")
	}
	if data.Form["Username"] != "alice" {
		t.Errorf("Form username = %q, want alice", data.Form["Username"])
	}
}

func TestLogout_UnparseableBodyRejected(t *testing.T) {
	signOutCalled := false
	client := &mockClient{
		SignOutFunc: func(ctx context.Context, accessToken string) error {
			signOutCalled = true
			return nil
		},
	}
	h, _ := newTestAuthHandler(t, client)

	req := httptest.NewRequest("POST", "/logout", strings.NewReader("%zz"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: session.AccessCookieName, Value: "access-abc"})
	rec := httptest.NewRecorder()

	h.Logout(rec, req)

	if signOutCalled {
		t.Error("SignOut should not run without a verified token")
	}
	if loc := rec.Header().Get("Location"); loc != "/" {
		t.Errorf("Location = %q, want /", loc)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Error("session cookies should be untouched when the body does not parse")
	}
}
