// Package csrf protects the login and signup forms with the
// double-submit cookie pattern: a random token lives in a cookie and is
// echoed back in a hidden form field, and the two must match on POST.
// A cross-origin attacker can make the browser send our cookie but
// cannot read it, so it cannot forge the matching form field.
package csrf

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
)

const (
	// CookieName is the name of the CSRF token cookie.
	CookieName = "vp_csrf_token"

	// FormFieldName is the name of the hidden form field.
	FormFieldName = "csrf_token"

	// tokenLength is the number of random bytes per token.
	tokenLength = 32

	// cookieMaxAge keeps CSRF tokens short-lived (1 hour); a fresh one
	// is minted whenever a form page is rendered without one.
	cookieMaxAge = 3600
)

// Token generates a new random token.
func Token() (string, error) {
	b := make([]byte, tokenLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// EnsureToken returns the request's existing CSRF token, or mints a new
// one and sets its cookie. Form page handlers call this on GET and embed
// the result in the form.
func EnsureToken(w http.ResponseWriter, r *http.Request, isSecure bool) string {
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	token, err := Token()
	if err != nil {
		// crypto/rand failing means the process has bigger problems.
		panic("csrf: failed to generate token: " + err.Error())
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   cookieMaxAge,
		HttpOnly: false, // the form field must be fillable server-side and comparable on POST
		Secure:   isSecure,
		SameSite: http.SameSiteStrictMode,
	})

	return token
}

// ValidateRequest compares the cookie token against the submitted form
// field in constant time. ParseForm must have been called.
func ValidateRequest(r *http.Request) bool {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return false
	}

	formToken := r.FormValue(FormFieldName)
	if formToken == "" {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(formToken)) == 1
}
