package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"storefront.org/internal/market"
)

// State of the session lifecycle.
type State string

const (
	Unauthenticated State = "unauthenticated"
	Authenticating  State = "authenticating"
	Authenticated   State = "authenticated"
)

// Session is an immutable snapshot of the current session.
type Session struct {
	AccessToken  string
	RefreshToken string
	User         *market.User
	State        State
	// Loading is true until RestoreSession has run.
	Loading bool
}

// Authenticated reports whether a resolved user backs the session.
func (s Session) Authenticated() bool {
	return s.State == Authenticated && s.User != nil
}

// ExpiresAt returns the expiry embedded in a JWT access token. Opaque tokens
// report false.
func (s Session) ExpiresAt() (time.Time, bool) {
	return tokenExpiry(s.AccessToken)
}

func tokenExpiry(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// tokenExpired is a local check only; the server still decides.
func tokenExpired(raw string, now time.Time) bool {
	exp, ok := tokenExpiry(raw)
	return ok && !now.Before(exp)
}
