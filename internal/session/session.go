// Package session bridges the identity issued by the central auth portal
// into a cookie-backed session and back.
//
// The bridge is an explicit state machine (Unauthenticated/Authenticated)
// with an injected clock and cookie jar, so every transition is testable
// without a browser.
package session

import (
	"context"
	"errors"
	"time"

	"porky.com/knmt/internal/sysenv"
)

var (
	// ErrNoSession means neither URL parameters nor a usable cookie were found.
	ErrNoSession = errors.New("session: not authenticated")
	// ErrSessionExpired means a cookie was found but is older than the timeout.
	ErrSessionExpired = errors.New("session: expired")
	// ErrSessionRevoked means the session was signed out elsewhere.
	ErrSessionRevoked = errors.New("session: revoked")
	// ErrInvalidPortalToken means the auth_token parameter failed verification.
	ErrInvalidPortalToken = errors.New("session: invalid portal token")
)

// Session is the authenticated identity of one browser.
type Session struct {
	UserID          string        `json:"uid"`
	Email           string        `json:"email"`
	DisplayName     string        `json:"displayName"`
	PhotoURL        string        `json:"photoURL,omitempty"`
	IsAuthenticated bool          `json:"isAuthenticated"`
	System          sysenv.System `json:"system,omitempty"`
	IssuedAt        time.Time     `json:"issuedAt"`
}

// Age reports how long ago the session was issued.
func (s Session) Age(now time.Time) time.Duration {
	return now.Sub(s.IssuedAt)
}

// State of the bridge for one request.
type State int

const (
	Unauthenticated State = iota
	Authenticated
)

func (s State) String() string {
	if s == Authenticated {
		return "authenticated"
	}
	return "unauthenticated"
}

type sessionContextKey struct{}

// WithSession attaches the session to the context.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, &s)
}

// FromContext extracts the session attached by WithSession.
func FromContext(ctx context.Context) (Session, bool) {
	if ctx == nil {
		return Session{}, false
	}
	v, ok := ctx.Value(sessionContextKey{}).(*Session)
	if !ok || v == nil {
		return Session{}, false
	}
	return *v, true
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
