// Package identity maps human-chosen usernames onto the email-shaped
// identifiers required by the external auth provider, and enforces the
// username/password policy before anything reaches the network.
//
// The provider only understands email addresses, so signup derives a
// synthetic, non-deliverable address from the username. The mapping must
// stay bidirectional: the address derived at signup has to resolve back
// to the same username at login and on the home page.
package identity

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// MinUsernameLength is the minimum number of characters in a username.
	MinUsernameLength = 3

	// MinPasswordLength is the minimum number of characters in a password.
	// Anything longer is the provider's problem; hashing and strength
	// policy live on its side.
	MinPasswordLength = 6
)

// usernamePattern matches a fully folded, valid username.
// The charset deliberately excludes '@' so that username + "@" + domain
// is injective over valid usernames.
var usernamePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// Rule identifies which policy rule a value violated.
type Rule string

const (
	RuleTooShort       Rule = "too_short"
	RuleInvalidCharset Rule = "invalid_charset"
	RuleMismatch       Rule = "mismatch"
)

// Error is a field-level policy violation. It is always user-correctable;
// callers display Message inline next to the offending form field and do
// not submit to the provider.
type Error struct {
	Field   string // form field the violation belongs to
	Rule    Rule   // machine-readable rule identifier
	Message string // message suitable for inline display
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateUsername folds and validates a candidate username.
//
// Folding happens here, not at the call site, so the result is
// deterministic regardless of caller behavior. On success the returned
// string is the lower-cased form, which is what gets stored in provider
// metadata and fed to SyntheticEmail.
func ValidateUsername(candidate string) (string, error) {
	folded := strings.ToLower(candidate)

	if len(folded) < MinUsernameLength {
		return "", &Error{
			Field:   "username",
			Rule:    RuleTooShort,
			Message: fmt.Sprintf("Username must be at least %d characters long", MinUsernameLength),
		}
	}

	if !usernamePattern.MatchString(folded) {
		return "", &Error{
			Field:   "username",
			Rule:    RuleInvalidCharset,
			Message: "Username can only contain letters, numbers, and underscores",
		}
	}

	return folded, nil
}

// ValidatePassword checks the password length rule. Used alone by the
// login flow, which has no confirmation field.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return &Error{
			Field:   "password",
			Rule:    RuleTooShort,
			Message: fmt.Sprintf("Password must be at least %d characters long", MinPasswordLength),
		}
	}
	return nil
}

// ValidatePasswordPair checks the password length rule and that the
// confirmation matches. Used by the signup flow. The password is returned
// to the caller unchanged; this module never hashes.
func ValidatePasswordPair(password, confirm string) error {
	if err := ValidatePassword(password); err != nil {
		return err
	}
	if password != confirm {
		return &Error{
			Field:   "password_confirmation",
			Rule:    RuleMismatch,
			Message: "Passwords do not match",
		}
	}
	return nil
}

// Mapper derives synthetic email addresses under a fixed account domain.
//
// The domain must be stable across signup and login: changing it breaks
// login for every previously created account.
type Mapper struct {
	domain string
}

// NewMapper creates a Mapper for the given account domain.
//
// The domain must be non-empty and must not contain '@'; otherwise the
// username -> email mapping is no longer injective and the local-part
// inverse stops round-tripping.
func NewMapper(accountDomain string) (*Mapper, error) {
	domain := strings.TrimSpace(strings.ToLower(accountDomain))
	if domain == "" {
		return nil, fmt.Errorf("identity: account domain must not be empty")
	}
	if strings.Contains(domain, "@") {
		return nil, fmt.Errorf("identity: account domain %q must not contain '@'", domain)
	}
	return &Mapper{domain: domain}, nil
}

// Domain returns the configured account domain.
func (m *Mapper) Domain() string {
	return m.domain
}

// SyntheticEmail derives the provider-facing email address for a
// validated, folded username. Pure string transform; no lookups.
//
// The address is syntactically valid for the provider's email validator
// but is never used for mail delivery.
func (m *Mapper) SyntheticEmail(username string) string {
	return username + "@" + m.domain
}

// LoginEmail normalizes a login identifier to the address the provider
// knows the account by.
//
// Identifiers containing '@' are treated as literal email addresses and
// pass through unchanged; this is the escape hatch for provider-level
// accounts (operator, admin) that were not created through signup.
// Anything else is folded the same way signup folds it and mapped
// through SyntheticEmail, so users can log in with exactly the
// identifier they chose.
func (m *Mapper) LoginEmail(identifier string) string {
	if strings.Contains(identifier, "@") {
		return identifier
	}
	return m.SyntheticEmail(strings.ToLower(identifier))
}

// DisplayUsername resolves the name to greet a signed-in user with, from
// the session data the provider returned.
//
// Precedence, first match wins:
//  1. the "username" metadata field, verbatim: set at signup, preserves
//     original casing, authoritative even if it disagrees with the email
//  2. the local part of the session email, the inverse of SyntheticEmail,
//     kept as a fallback for sessions without metadata
//  3. nothing: unauthenticated or unrecognizable session
func DisplayUsername(metadata map[string]any, email string) (string, bool) {
	if username, ok := metadata["username"].(string); ok && username != "" {
		return username, true
	}
	if email != "" {
		if at := strings.Index(email, "@"); at > 0 {
			return email[:at], true
		}
	}
	return "", false
}
