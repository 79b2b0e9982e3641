package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"porky.com/knmt/internal/obs"
	"porky.com/knmt/internal/session"
	"porky.com/knmt/internal/sysenv"
)

type systemKey struct{}

func contextWithSystem(ctx context.Context, sys sysenv.System) context.Context {
	return context.WithValue(ctx, systemKey{}, sys)
}

// systemFromContext returns the routing system resolved for the request.
func systemFromContext(ctx context.Context) sysenv.System {
	if sys, ok := ctx.Value(systemKey{}).(sysenv.System); ok && sys != "" {
		return sys
	}
	return sysenv.PRD
}

// withSession restores the portal session. GETs carrying portal parameters
// are consumed and always redirected to the clean URL;
// unauthenticated browser navigations go to the portal and API calls get
// 401 with the portal URL in Location.
func (a *API) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if a.bridge == nil {
			writeError(w, r, http.StatusServiceUnavailable, "authentication is not configured")
			return
		}
		jar := session.NewHTTPJar(w, r)

		if r.Method == http.MethodGet && r.URL.Query().Has(session.ParamAuthToken) {
			current := a.currentURL(r)
			d := a.bridge.Initialize(r.Context(), jar, current)
			target := d.Redirect
			if target == "" {
				target = session.CleanURL(current.String())
			}
			http.Redirect(w, r, target, redirectStatus(d.State))
			return
		}

		s, err := a.bridge.Authenticate(r.Context(), jar)
		if err != nil {
			a.unauthenticated(w, r, err)
			return
		}

		ctx := session.WithSession(r.Context(), s)
		ctx = contextWithSystem(ctx, sysenv.Resolve(string(s.System), a.locationHref(r)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func redirectStatus(st session.State) int {
	if st == session.Authenticated {
		return http.StatusSeeOther
	}
	return http.StatusFound
}

func (a *API) unauthenticated(w http.ResponseWriter, r *http.Request, err error) {
	if !errors.Is(err, session.ErrNoSession) {
		obs.Logger().Info("session_rejected",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.Error(err),
		)
	}
	if wantsHTML(r) {
		http.Redirect(w, r, a.bridge.LoginURL(a.currentURL(r).String()), http.StatusFound)
		return
	}
	login := a.bridge.LoginURL(a.returnURL(r))
	w.Header().Set("Location", login)
	msg := "authentication required"
	if errors.Is(err, session.ErrSessionExpired) {
		msg = "session expired"
	}
	writeJSON(w, http.StatusUnauthorized, map[string]any{
		"error":      msg,
		"login_url":  login,
		"request_id": RequestIDFromContext(r.Context()),
	})
}

// wantsHTML reports a top-level browser navigation.
func wantsHTML(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// currentURL reconstructs the URL the browser requested.
func (a *API) currentURL(r *http.Request) *url.URL {
	if base := strings.TrimRight(a.opts.PublicURL, "/"); base != "" {
		if u, err := url.Parse(base + r.URL.RequestURI()); err == nil {
			return u
		}
	}
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return &url.URL{Scheme: scheme, Host: r.Host, Path: r.URL.Path, RawQuery: r.URL.RawQuery}
}

// returnURL is where the portal should send the user after login: the UI
// page that made the call, else the configured public URL.
func (a *API) returnURL(r *http.Request) string {
	if ref := r.Header.Get("Referer"); ref != "" {
		return ref
	}
	if a.opts.PublicURL != "" {
		return a.opts.PublicURL
	}
	return a.currentURL(r).String()
}

// locationHref approximates the browser's location for system detection.
func (a *API) locationHref(r *http.Request) string {
	if ref := r.Header.Get("Referer"); ref != "" {
		return ref
	}
	return a.currentURL(r).String()
}
