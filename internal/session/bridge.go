package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"porky.com/knmt/internal/obs"
	"porky.com/knmt/internal/sysenv"
)

// Config drives the bridge.
type Config struct {
	PortalURL  string
	CookieName string
	// CookieSecret keys the HMAC carried by every session cookie.
	CookieSecret []byte
	// LegacyCookieName is read (never written) when CookieName is absent.
	LegacyCookieName     string
	SessionTimeout       time.Duration
	LegacySessionTimeout time.Duration
	// RefreshAfter re-issues the cookie once a session is this old. Zero disables.
	RefreshAfter time.Duration
	Branding     Branding
}

// Bridge owns the session cookie. It is safe for concurrent use; all
// per-client state lives in the Jar.
type Bridge struct {
	cfg      Config
	clock    Clock
	verifier TokenVerifier
	revoked  Revocations
	log      *zap.Logger
}

// Option customises a Bridge.
type Option func(*Bridge)

func WithClock(c Clock) Option { return func(b *Bridge) { b.clock = c } }

// WithTokenVerifier requires auth_token to be a verifiable portal token.
func WithTokenVerifier(v TokenVerifier) Option { return func(b *Bridge) { b.verifier = v } }

func WithRevocations(r Revocations) Option { return func(b *Bridge) { b.revoked = r } }

func WithLogger(l *zap.Logger) Option { return func(b *Bridge) { b.log = l } }

const minCookieSecret = 32

// New validates cfg and builds a bridge.
func New(cfg Config, opts ...Option) (*Bridge, error) {
	if strings.TrimSpace(cfg.PortalURL) == "" {
		return nil, errors.New("session: portal url is required")
	}
	if strings.TrimSpace(cfg.CookieName) == "" {
		return nil, errors.New("session: cookie name is required")
	}
	if len(cfg.CookieSecret) < minCookieSecret {
		return nil, fmt.Errorf("session: cookie secret must be at least %d bytes", minCookieSecret)
	}
	if cfg.SessionTimeout <= 0 {
		return nil, errors.New("session: timeout must be positive")
	}
	if cfg.LegacySessionTimeout <= 0 {
		cfg.LegacySessionTimeout = cfg.SessionTimeout
	}
	b := &Bridge{cfg: cfg, clock: systemClock{}}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = obs.Logger()
	}
	return b, nil
}

// Config returns the bridge configuration.
func (b *Bridge) Config() Config { return b.cfg }

// Callback is the result of consuming portal parameters.
type Callback struct {
	Session Session
	// CleanURL is the current URL without auth parameters; the browser should
	// be sent there so the token does not linger in history.
	CleanURL string
}

// CheckAuthFromURL consumes auth_token/auth_email (and optional auth_name,
// zsystem) from current. It reports false when the parameters are absent.
func (b *Bridge) CheckAuthFromURL(ctx context.Context, jar Jar, current *url.URL) (Callback, bool, error) {
	if current == nil {
		return Callback{}, false, nil
	}
	q := current.Query()
	token := strings.TrimSpace(q.Get(ParamAuthToken))
	email := strings.TrimSpace(q.Get(ParamAuthEmail))
	if token == "" || email == "" {
		return Callback{}, false, nil
	}

	uid := token
	name := strings.TrimSpace(q.Get(ParamAuthName))
	if b.verifier != nil {
		id, err := b.verifier.Verify(token)
		if err != nil {
			obs.ObserveSession("portal_token_rejected")
			b.log.Warn("portal_token_rejected", zap.String("email", email), zap.Error(err))
			return Callback{}, false, err
		}
		uid = id.Subject
		if id.Email != "" && !strings.EqualFold(id.Email, email) {
			return Callback{}, false, fmt.Errorf("%w: email mismatch", ErrInvalidPortalToken)
		}
		if name == "" {
			name = id.Name
		}
	}
	if name == "" {
		name = email
	}

	sys, err := sysenv.Parse(q.Get(ParamZSystem))
	if err != nil {
		b.log.Warn("portal_system_ignored", zap.String("zsystem", q.Get(ParamZSystem)))
		sys = ""
	}

	s, err := b.Save(jar, Session{
		UserID:          uid,
		Email:           email,
		DisplayName:     name,
		IsAuthenticated: true,
		System:          sys,
		IssuedAt:        b.clock.Now(),
	})
	if err != nil {
		return Callback{}, false, err
	}
	obs.ObserveSession("issued")
	b.log.Info("session_issued", zap.String("email", s.Email), zap.String("system", string(s.System)))
	return Callback{Session: s, CleanURL: CleanURL(current.String())}, true, nil
}

// Authenticate restores the session from the cookie. It returns
// ErrNoSession, ErrSessionExpired or ErrSessionRevoked when the client must
// log in again. Bad or stale cookies are deleted as a side effect.
func (b *Bridge) Authenticate(ctx context.Context, jar Jar) (Session, error) {
	s, err := b.readCookie(jar, b.cfg.CookieName, b.cfg.SessionTimeout)
	if errors.Is(err, ErrNoSession) && b.cfg.LegacyCookieName != "" {
		s, err = b.readCookie(jar, b.cfg.LegacyCookieName, b.cfg.LegacySessionTimeout)
		if err == nil {
			// Move the user onto the current cookie, keeping the original age.
			b.deleteCookie(jar, b.cfg.LegacyCookieName)
			s.IsAuthenticated = true
			if s, err = b.Save(jar, s); err != nil {
				return Session{}, err
			}
			obs.ObserveSession("legacy_migrated")
		}
	}
	if err != nil {
		return Session{}, err
	}

	if b.revoked != nil {
		revoked, rerr := b.revoked.IsRevoked(ctx, s)
		if rerr != nil {
			b.log.Warn("revocation_check_failed", zap.Error(rerr))
		} else if revoked {
			b.Clear(jar)
			obs.ObserveSession("revoked")
			return Session{}, ErrSessionRevoked
		}
	}

	if b.cfg.RefreshAfter > 0 && s.Age(b.clock.Now()) > b.cfg.RefreshAfter {
		s.IssuedAt = b.clock.Now()
		if s, err = b.Save(jar, s); err != nil {
			return Session{}, err
		}
		obs.ObserveSession("refreshed")
	}
	obs.ObserveSession("restored")
	return s, nil
}

func (b *Bridge) readCookie(jar Jar, name string, timeout time.Duration) (Session, error) {
	raw, ok := jar.Cookie(name)
	if !ok || raw == "" {
		return Session{}, ErrNoSession
	}
	s, err := decodeCookie(raw, b.cfg.CookieSecret)
	if err != nil {
		b.deleteCookie(jar, name)
		obs.ObserveSession("malformed")
		b.log.Warn("session_cookie_malformed", zap.String("cookie", name), zap.Error(err))
		return Session{}, ErrNoSession
	}
	// A cookie without a timestamp cannot be aged and is refused.
	if s.IssuedAt.IsZero() || b.clock.Now().Sub(s.IssuedAt) > timeout {
		b.deleteCookie(jar, name)
		obs.ObserveSession("expired")
		return Session{}, ErrSessionExpired
	}
	return s, nil
}

// Save writes s to the session cookie. A zero IssuedAt is set to now; the
// stored timestamp has millisecond precision and the returned Session
// reflects exactly what a later Authenticate will read.
func (b *Bridge) Save(jar Jar, s Session) (Session, error) {
	if strings.TrimSpace(s.UserID) == "" {
		return Session{}, errors.New("session: user id is required")
	}
	if s.IssuedAt.IsZero() {
		s.IssuedAt = b.clock.Now()
	}
	s.IssuedAt = time.UnixMilli(s.IssuedAt.UnixMilli()).UTC()
	value, err := encodeCookie(s, b.cfg.CookieSecret)
	if err != nil {
		return Session{}, fmt.Errorf("encode session cookie: %w", err)
	}
	jar.SetCookie(&http.Cookie{
		Name:     b.cfg.CookieName,
		Value:    value,
		Path:     "/",
		Expires:  s.IssuedAt.Add(b.cfg.SessionTimeout).UTC(),
		SameSite: http.SameSiteLaxMode,
		Secure:   jar.Secure(),
	})
	return s, nil
}

// Clear deletes the current and legacy cookies.
func (b *Bridge) Clear(jar Jar) {
	b.deleteCookie(jar, b.cfg.CookieName)
	if b.cfg.LegacyCookieName != "" {
		if _, ok := jar.Cookie(b.cfg.LegacyCookieName); ok {
			b.deleteCookie(jar, b.cfg.LegacyCookieName)
		}
	}
}

func (b *Bridge) deleteCookie(jar Jar, name string) {
	jar.SetCookie(&http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		SameSite: http.SameSiteLaxMode,
		Secure:   jar.Secure(),
	})
}

// Logout revokes and clears the session and returns the portal logout URL.
func (b *Bridge) Logout(ctx context.Context, jar Jar, currentURL string) string {
	if b.revoked != nil {
		if s, err := b.readCookie(jar, b.cfg.CookieName, b.cfg.SessionTimeout); err == nil {
			until := s.IssuedAt.Add(b.cfg.SessionTimeout)
			if err := b.revoked.Revoke(ctx, s, until); err != nil {
				b.log.Warn("session_revoke_failed", zap.Error(err))
			}
		}
	}
	b.Clear(jar)
	obs.ObserveSession("logout")
	return b.LogoutURL(currentURL)
}

// Decision is the outcome of Initialize.
type Decision struct {
	State   State
	Session Session
	// Redirect is set when the browser must navigate: to the clean URL after
	// a portal callback, or to the portal when unauthenticated.
	Redirect string
	// Err carries why the client is unauthenticated, if anything notable.
	Err error
}

// Initialize runs the full entry check for a protected page: portal
// parameters first, then the cookie, otherwise a redirect to login.
func (b *Bridge) Initialize(ctx context.Context, jar Jar, current *url.URL) Decision {
	cb, ok, err := b.CheckAuthFromURL(ctx, jar, current)
	if err != nil {
		return Decision{State: Unauthenticated, Redirect: b.LoginURL(urlString(current)), Err: err}
	}
	if ok {
		return Decision{State: Authenticated, Session: cb.Session, Redirect: cb.CleanURL}
	}
	s, err := b.Authenticate(ctx, jar)
	if err != nil {
		return Decision{State: Unauthenticated, Redirect: b.LoginURL(urlString(current)), Err: err}
	}
	return Decision{State: Authenticated, Session: s}
}

func urlString(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.String()
}
