// Package middleware contains the HTTP middleware stack: session
// resolution, request logging, rate limiting, security headers, and
// metrics endpoint auth. Middleware wraps http.Handler in the standard
// way and composes with Stack.
package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/visionplus/visionplus/internal/auth"
	"github.com/visionplus/visionplus/internal/metrics"
	"github.com/visionplus/visionplus/internal/provider"
	"github.com/visionplus/visionplus/internal/session"
)

// SessionMiddleware resolves the provider token cookies to a signed-in
// user on each request. The provider owns the session; this middleware
// only asks it who the tokens belong to.
type SessionMiddleware struct {
	client   provider.Client
	logger   *slog.Logger
	isSecure bool
}

// NewSessionMiddleware creates a new SessionMiddleware.
func NewSessionMiddleware(client provider.Client, logger *slog.Logger, isSecure bool) *SessionMiddleware {
	return &SessionMiddleware{
		client:   client,
		logger:   logger,
		isSecure: isSecure,
	}
}

// WithSession attempts to load the user behind the request's token
// cookies and stores it in the context. The request continues either
// way; handlers decide what an unauthenticated request means for them.
//
// An access token the provider rejects is retried once through the
// refresh token. Cookies are cleared only when the provider itself
// refuses both tokens; a transport failure leaves them alone so a
// provider blip does not log everyone out.
func (m *SessionMiddleware) WithSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accessToken := session.AccessToken(r)
		refreshToken := session.RefreshToken(r)

		if accessToken == "" && refreshToken == "" {
			next.ServeHTTP(w, r)
			return
		}

		if accessToken != "" {
			user, err := m.client.GetUser(r.Context(), accessToken)
			if err == nil {
				next.ServeHTTP(w, r.WithContext(auth.SetUser(r.Context(), user)))
				return
			}

			var perr *provider.Error
			if !errors.As(err, &perr) {
				// Provider unreachable; continue unauthenticated but keep
				// the cookies for the next request.
				m.logger.Warn("session lookup failed", "error", err)
				next.ServeHTTP(w, r)
				return
			}
		}

		// Access token missing or rejected; try the refresh token.
		if refreshToken == "" {
			session.Clear(w, m.isSecure)
			next.ServeHTTP(w, r)
			return
		}

		sess, err := m.client.Refresh(r.Context(), refreshToken)
		if err != nil {
			var perr *provider.Error
			if errors.As(err, &perr) {
				metrics.SessionRefreshesTotal.WithLabelValues("rejected").Inc()
				session.Clear(w, m.isSecure)
			} else {
				metrics.SessionRefreshesTotal.WithLabelValues("error").Inc()
				m.logger.Warn("session refresh failed", "error", err)
			}
			next.ServeHTTP(w, r)
			return
		}

		metrics.SessionRefreshesTotal.WithLabelValues("success").Inc()
		session.Set(w, sess, m.isSecure)
		m.logger.Debug("session refreshed", "user_id", sess.User.ID)

		next.ServeHTTP(w, r.WithContext(auth.SetUser(r.Context(), sess.User)))
	})
}

// RequireSession redirects unauthenticated requests to the login page,
// carrying the original path in return_to. Must run after WithSession.
func (m *SessionMiddleware) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.GetUser(r.Context()) == nil {
			returnTo := r.URL.Path
			if r.URL.RawQuery != "" {
				returnTo += "?" + r.URL.RawQuery
			}
			// Escaped so a query string in the original URL survives the
			// round trip through the login form.
			http.Redirect(w, r, "/login?return_to="+url.QueryEscape(returnTo), http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RedirectIfAuthenticated sends signed-in users straight home. Applied
// to the login and signup pages, mirroring their session check: a user
// with a live session has nothing to do there. Must run after
// WithSession.
func (m *SessionMiddleware) RedirectIfAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.GetUser(r.Context()) != nil {
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Stack composes middleware. The first middleware in the list is the
// outermost (runs first on the request, last on the response).
func Stack(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}
