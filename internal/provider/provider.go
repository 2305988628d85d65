// Package provider defines the minimal surface this application consumes
// from the external identity provider.
//
// The provider is the system of record for credentials and sessions: it
// owns account storage, password hashing, token issuance and refresh.
// Nothing in this repository implements or emulates it. Handlers receive
// a Client as an injected dependency so that tests never need a live
// network endpoint.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// User is the provider's view of an authenticated account.
type User struct {
	ID       uuid.UUID
	Email    string
	Metadata map[string]any
}

// Session is an authenticated provider session. The tokens are opaque;
// this application stores them in cookies and hands them back to the
// provider, nothing more.
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int // access token lifetime in seconds
	User         *User
}

// Authenticated reports whether the session carries a usable access token.
// A provider configured to require confirmation may answer a signup with
// an account but no session.
func (s *Session) Authenticated() bool {
	return s != nil && s.AccessToken != ""
}

// Client is the fixed interface to the external identity provider.
type Client interface {
	// SignUp creates an account and, when the provider allows immediate
	// sign-in, an authenticated session. Metadata is stored verbatim on
	// the account.
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*Session, error)

	// SignIn exchanges credentials for a session.
	SignIn(ctx context.Context, email, password string) (*Session, error)

	// GetUser resolves an access token to the account it belongs to.
	GetUser(ctx context.Context, accessToken string) (*User, error)

	// Refresh exchanges a refresh token for a fresh session.
	Refresh(ctx context.Context, refreshToken string) (*Session, error)

	// SignOut revokes the session behind the access token. Best effort;
	// callers clear their cookies regardless of the outcome.
	SignOut(ctx context.Context, accessToken string) error
}

// Error is an error the provider itself produced. Message carries the
// provider's text unmodified; the UI displays it verbatim rather than
// guessing at a rewording. Transport failures (connection refused, bad
// JSON) are ordinary wrapped errors, not *Error.
type Error struct {
	Status  int    // HTTP status the provider answered with
	Message string // provider's message text, verbatim
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider: %s (status %d)", e.Message, e.Status)
}

// Message returns the provider's own message text when err came from the
// provider, and ok=false for transport-level failures that have no text
// safe to show a user.
func Message(err error) (string, bool) {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Message, true
	}
	return "", false
}
