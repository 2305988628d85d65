// Package handler contains the HTTP handlers for the Vision+ web app.
//
// This file implements the login, signup, and logout handlers. All
// credential checks happen at the identity provider; these handlers
// validate input, map usernames to account emails, and manage the
// token cookies.
package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/visionplus/visionplus/internal/csrf"
	"github.com/visionplus/visionplus/internal/identity"
	"github.com/visionplus/visionplus/internal/metrics"
	"github.com/visionplus/visionplus/internal/middleware"
	"github.com/visionplus/visionplus/internal/provider"
	"github.com/visionplus/visionplus/internal/session"
)

// TemplateRenderer is the interface for rendering HTML templates.
// This interface allows for mocking in tests.
type TemplateRenderer interface {
	RenderHTTP(w http.ResponseWriter, name string, data interface{})
}

// AuthHandler handles authentication-related HTTP requests.
//
// Routes handled:
//   - GET  /login  -> ShowLogin
//   - POST /login  -> Login
//   - GET  /signup -> ShowSignup
//   - POST /signup -> Signup
//   - POST /logout -> Logout
type AuthHandler struct {
	client   provider.Client
	mapper   *identity.Mapper
	limiter  *middleware.AuthRateLimiter
	renderer TemplateRenderer
	logger   *slog.Logger
	isSecure bool
}

// NewAuthHandler creates a new AuthHandler with the required dependencies.
func NewAuthHandler(
	client provider.Client,
	mapper *identity.Mapper,
	limiter *middleware.AuthRateLimiter,
	renderer TemplateRenderer,
	logger *slog.Logger,
	isSecure bool,
) *AuthHandler {
	return &AuthHandler{
		client:   client,
		mapper:   mapper,
		limiter:  limiter,
		renderer: renderer,
		logger:   logger,
		isSecure: isSecure,
	}
}

// Flash represents a flash message to display to the user.
//
// The Type field determines styling in templates:
//   - "success" -> green background
//   - "error"   -> red background
//   - "info"    -> blue background
type Flash struct {
	Type    string // "success", "error", or "info"
	Message string
}

// AuthPageData contains common data for the login and signup pages.
type AuthPageData struct {
	CurrentPath string            // Current URL path for navigation highlighting
	CSRFToken   string            // CSRF token for form protection
	Form        map[string]string // Form field values for re-populating on error
	Errors      map[string]string // Field-level validation errors
	Flash       *Flash            // Flash message to display
	ReturnTo    string            // URL to redirect to after successful login
}

// ShowLogin renders the login form.
//
// Query Parameters:
//   - return_to (optional): URL to redirect to after successful login
//   - registered (optional): If "1", show success message for new account
//   - logout (optional): If "1", show signed-out confirmation
func (h *AuthHandler) ShowLogin(w http.ResponseWriter, r *http.Request) {
	var flash *Flash
	if r.URL.Query().Get("registered") == "1" {
		flash = &Flash{
			Type:    "success",
			Message: "Account created! Please sign in.",
		}
	} else if r.URL.Query().Get("confirm") == "1" {
		flash = &Flash{
			Type:    "info",
			Message: "Account created. Check your email to confirm it, then sign in.",
		}
	} else if r.URL.Query().Get("logout") == "1" {
		flash = &Flash{
			Type:    "success",
			Message: "You have been signed out.",
		}
	}

	data := AuthPageData{
		CurrentPath: r.URL.Path,
		CSRFToken:   csrf.EnsureToken(w, r, h.isSecure),
		Form:        make(map[string]string),
		Errors:      make(map[string]string),
		Flash:       flash,
		ReturnTo:    r.URL.Query().Get("return_to"),
	}

	h.renderer.RenderHTTP(w, "auth/login", data)
}

// Login processes the login form submission.
//
// Form Fields:
//   - username (required): account username, or a full email address
//   - password (required)
//   - return_to (optional): URL to redirect to after successful login
//
// The identifier is mapped to the provider email before the sign-in
// call: anything containing "@" is used as-is, anything else is folded
// to lowercase and expanded to its account email. Provider rejections
// are shown with the provider's own message.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.logger.Error("failed to parse form", "error", err)
		h.renderLoginError(w, r, nil, nil, &Flash{
			Type:    "error",
			Message: "Invalid form submission. Please try again.",
		})
		return
	}

	if !csrf.ValidateRequest(r) {
		h.renderLoginError(w, r, nil, nil, &Flash{
			Type:    "error",
			Message: "Invalid security token. Please try again.",
		})
		return
	}

	identifier := strings.TrimSpace(r.FormValue("username"))
	password := r.FormValue("password")
	returnTo := r.FormValue("return_to")

	// Store form values for re-rendering (never the password)
	formValues := map[string]string{
		"Username": identifier,
	}

	errs := make(map[string]string)
	if identifier == "" {
		errs["username"] = "Username is required"
	}
	if password == "" {
		errs["password"] = "Password is required"
	} else if err := identity.ValidatePassword(password); err != nil {
		// Shorter than the minimum can never match a stored credential,
		// so reject it here instead of spending a provider round trip.
		var verr *identity.Error
		if errors.As(err, &verr) {
			errs[verr.Field] = verr.Message
		}
	}
	if len(errs) > 0 {
		h.renderLoginError(w, r, formValues, errs, nil)
		return
	}

	email := h.mapper.LoginEmail(identifier)

	sess, err := h.client.SignIn(r.Context(), email, password)
	if err != nil {
		clientIP := middleware.ClientIP(r)

		var perr *provider.Error
		if errors.As(err, &perr) {
			// The provider's own message goes to the user unchanged.
			metrics.LoginsTotal.WithLabelValues("rejected").Inc()
			h.limiter.RecordFailedLogin(clientIP)
			h.renderLoginError(w, r, formValues, nil, &Flash{
				Type:    "error",
				Message: perr.Message,
			})
			return
		}

		metrics.LoginsTotal.WithLabelValues("error").Inc()
		h.logger.Error("login failed", "error", err, "email", email)
		h.renderLoginError(w, r, formValues, nil, &Flash{
			Type:    "error",
			Message: "Login failed. Please try again later.",
		})
		return
	}

	session.Set(w, sess, h.isSecure)
	metrics.LoginsTotal.WithLabelValues("success").Inc()
	h.limiter.ResetLogin(middleware.ClientIP(r))

	h.logger.Info("user logged in",
		"user_id", sess.User.ID,
		"email", sess.User.Email,
	)

	redirectURL := "/"
	if returnTo != "" && isSafeRedirectURL(returnTo) {
		redirectURL = returnTo
	}
	http.Redirect(w, r, redirectURL, http.StatusSeeOther)
}

// renderLoginError re-renders the login form with errors.
func (h *AuthHandler) renderLoginError(
	w http.ResponseWriter,
	r *http.Request,
	formValues map[string]string,
	errs map[string]string,
	flash *Flash,
) {
	if formValues == nil {
		formValues = make(map[string]string)
	}
	if errs == nil {
		errs = make(map[string]string)
	}

	data := AuthPageData{
		CurrentPath: "/login",
		CSRFToken:   csrf.EnsureToken(w, r, h.isSecure),
		Form:        formValues,
		Errors:      errs,
		Flash:       flash,
		ReturnTo:    r.FormValue("return_to"),
	}

	h.renderer.RenderHTTP(w, "auth/login", data)
}

// ShowSignup renders the signup form.
func (h *AuthHandler) ShowSignup(w http.ResponseWriter, r *http.Request) {
	data := AuthPageData{
		CurrentPath: r.URL.Path,
		CSRFToken:   csrf.EnsureToken(w, r, h.isSecure),
		Form:        make(map[string]string),
		Errors:      make(map[string]string),
	}

	h.renderer.RenderHTTP(w, "auth/signup", data)
}

// Signup processes the signup form submission.
//
// Form Fields:
//   - username (required): 3+ chars of [a-z0-9_] after lowercase folding
//   - password (required): 6+ chars
//   - password_confirmation (required): must match password
//
// All validation runs before the provider is contacted. On success the
// provider receives the account email derived from the username, plus
// the username in the account metadata.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.logger.Error("failed to parse form", "error", err)
		h.renderSignupError(w, r, nil, nil, &Flash{
			Type:    "error",
			Message: "Invalid form submission. Please try again.",
		})
		return
	}

	if !csrf.ValidateRequest(r) {
		h.renderSignupError(w, r, nil, nil, &Flash{
			Type:    "error",
			Message: "Invalid security token. Please try again.",
		})
		return
	}

	rawUsername := strings.TrimSpace(r.FormValue("username"))
	password := r.FormValue("password")
	passwordConfirmation := r.FormValue("password_confirmation")

	formValues := map[string]string{
		"Username": rawUsername,
	}

	errs := make(map[string]string)

	username, err := identity.ValidateUsername(rawUsername)
	if err != nil {
		var ierr *identity.Error
		if errors.As(err, &ierr) {
			errs[ierr.Field] = ierr.Message
		} else {
			errs["username"] = "Invalid username"
		}
	}

	if err := identity.ValidatePasswordPair(password, passwordConfirmation); err != nil {
		var ierr *identity.Error
		if errors.As(err, &ierr) {
			errs[ierr.Field] = ierr.Message
		} else {
			errs["password"] = "Invalid password"
		}
	}

	if len(errs) > 0 {
		h.renderSignupError(w, r, formValues, errs, nil)
		return
	}

	email := h.mapper.SyntheticEmail(username)
	metadata := map[string]any{
		"username": username,
	}

	sess, err := h.client.SignUp(r.Context(), email, password, metadata)
	if err != nil {
		var perr *provider.Error
		if errors.As(err, &perr) {
			metrics.SignupsTotal.WithLabelValues("rejected").Inc()
			h.renderSignupError(w, r, formValues, nil, &Flash{
				Type:    "error",
				Message: perr.Message,
			})
			return
		}

		metrics.SignupsTotal.WithLabelValues("error").Inc()
		h.logger.Error("signup failed", "error", err, "email", email)
		h.renderSignupError(w, r, formValues, nil, &Flash{
			Type:    "error",
			Message: "Signup failed. Please try again later.",
		})
		return
	}

	metrics.SignupsTotal.WithLabelValues("success").Inc()

	// With email confirmation enabled the provider registers the account
	// but returns no tokens; the user signs in after confirming.
	if !sess.Authenticated() {
		h.logger.Info("user registered, confirmation pending", "email", email)
		http.Redirect(w, r, "/login?confirm=1", http.StatusSeeOther)
		return
	}

	session.Set(w, sess, h.isSecure)

	h.logger.Info("user registered and logged in",
		"user_id", sess.User.ID,
		"email", sess.User.Email,
	)

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// renderSignupError re-renders the signup form with errors.
func (h *AuthHandler) renderSignupError(
	w http.ResponseWriter,
	r *http.Request,
	formValues map[string]string,
	errs map[string]string,
	flash *Flash,
) {
	if formValues == nil {
		formValues = make(map[string]string)
	}
	if errs == nil {
		errs = make(map[string]string)
	}

	data := AuthPageData{
		CurrentPath: "/signup",
		CSRFToken:   csrf.EnsureToken(w, r, h.isSecure),
		Form:        formValues,
		Errors:      errs,
		Flash:       flash,
	}

	h.renderer.RenderHTTP(w, "auth/signup", data)
}

// Logout revokes the provider session and clears the token cookies.
//
// The operation is idempotent: the cookies are cleared even when the
// provider call fails or there was no session to begin with.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	// A body that does not parse cannot carry a valid token.
	if err := r.ParseForm(); err != nil || !csrf.ValidateRequest(r) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	if accessToken := session.AccessToken(r); accessToken != "" {
		if err := h.client.SignOut(r.Context(), accessToken); err != nil {
			// Cookie removal is what actually ends the browser session.
			h.logger.Warn("failed to revoke provider session", "error", err)
		}
	}

	session.Clear(w, h.isSecure)

	h.logger.Debug("user logged out")

	http.Redirect(w, r, "/login?logout=1", http.StatusSeeOther)
}

// isSafeRedirectURL checks if a URL is safe to redirect to.
//
// This prevents open redirect vulnerabilities by ensuring:
//   - URL is relative (starts with /)
//   - URL is not a protocol-relative URL (not //)
//   - URL does not redirect to an external domain
func isSafeRedirectURL(rawURL string) bool {
	if !strings.HasPrefix(rawURL, "/") {
		return false
	}
	if strings.HasPrefix(rawURL, "//") {
		return false
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if parsed.Scheme != "" {
		return false
	}
	if parsed.Host != "" {
		return false
	}

	return true
}
