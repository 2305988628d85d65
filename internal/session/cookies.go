// Package session owns the cookies that carry the external provider's
// tokens between requests.
//
// The provider owns the session itself; this application only ferries
// the opaque access and refresh tokens in HttpOnly cookies and hands
// them back to the provider on every request. Both handler and
// middleware packages import this one, so cookie names and attributes
// cannot drift apart.
package session

import (
	"net/http"

	"github.com/visionplus/visionplus/internal/provider"
)

const (
	// AccessCookieName stores the provider access token.
	AccessCookieName = "vp_access_token"

	// RefreshCookieName stores the provider refresh token, used to
	// recover transparently when the access token expires.
	RefreshCookieName = "vp_refresh_token"

	// CookiePath ensures the cookies are sent with all requests.
	CookiePath = "/"

	// RefreshCookieMaxAge bounds how long a signed-in browser can stay
	// away and still come back without logging in (7 days).
	RefreshCookieMaxAge = 7 * 24 * 60 * 60

	// defaultAccessMaxAge is used when the provider does not report an
	// access token lifetime.
	defaultAccessMaxAge = 3600
)

// Set writes both token cookies for an authenticated provider session.
//
// Cookie settings follow the usual discipline: HttpOnly (no script
// access), SameSite=Lax, Secure in production. The access cookie expires
// with the token it carries; the refresh cookie outlives it.
func Set(w http.ResponseWriter, sess *provider.Session, isSecure bool) {
	accessMaxAge := sess.ExpiresIn
	if accessMaxAge <= 0 {
		accessMaxAge = defaultAccessMaxAge
	}

	setCookie(w, AccessCookieName, sess.AccessToken, accessMaxAge, isSecure)
	if sess.RefreshToken != "" {
		setCookie(w, RefreshCookieName, sess.RefreshToken, RefreshCookieMaxAge, isSecure)
	}
}

// Clear deletes both token cookies. Idempotent; safe to call whether or
// not the browser sent them.
func Clear(w http.ResponseWriter, isSecure bool) {
	setCookie(w, AccessCookieName, "", -1, isSecure)
	setCookie(w, RefreshCookieName, "", -1, isSecure)
}

// AccessToken returns the provider access token from the request, or ""
// when absent.
func AccessToken(r *http.Request) string {
	return cookieValue(r, AccessCookieName)
}

// RefreshToken returns the provider refresh token from the request, or
// "" when absent.
func RefreshToken(r *http.Request) string {
	return cookieValue(r, RefreshCookieName)
}

func setCookie(w http.ResponseWriter, name, value string, maxAge int, isSecure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     CookiePath,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   isSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func cookieValue(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}
