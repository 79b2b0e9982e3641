package httpapi

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"porky.com/knmt/internal/audit"
	"porky.com/knmt/internal/entitlement"
	"porky.com/knmt/internal/session"
	"porky.com/knmt/internal/sysenv"
)

type meResponse struct {
	UserID       string                    `json:"uid"`
	Email        string                    `json:"email"`
	DisplayName  string                    `json:"displayName"`
	PhotoURL     string                    `json:"photoURL,omitempty"`
	System       sysenv.System             `json:"system"`
	IssuedAt     string                    `json:"issuedAt"`
	Entitlements []entitlement.Entitlement `json:"entitlements,omitempty"`
}

// handleCallback consumes the portal parameters and redirects to the
// target page without them.
func (a *API) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.bridge == nil {
		writeError(w, r, http.StatusServiceUnavailable, "authentication is not configured")
		return
	}
	jar := session.NewHTTPJar(w, r)
	cb, ok, err := a.bridge.CheckAuthFromURL(r.Context(), jar, a.currentURL(r))
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "portal token rejected")
		return
	}
	if !ok {
		writeError(w, r, http.StatusBadRequest, "auth_token and auth_email are required")
		return
	}
	ctx := session.WithSession(r.Context(), cb.Session)
	_ = audit.LogEvent(ctx, "session.login", map[string]any{"system": string(cb.Session.System)})

	http.Redirect(w, r, a.callbackTarget(r), http.StatusSeeOther)
}

// callbackTarget honours ?redirect= when it stays on this site.
func (a *API) callbackTarget(r *http.Request) string {
	target := strings.TrimSpace(r.URL.Query().Get("redirect"))
	if target == "" || !isLocalRedirect(target) {
		target = "/"
		if a.opts.PublicURL != "" {
			target = a.opts.PublicURL
		}
	}
	return session.CleanURL(target)
}

func isLocalRedirect(target string) bool {
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	return u.Scheme == "" && u.Host == "" && strings.HasPrefix(u.Path, "/") && !strings.HasPrefix(target, "//")
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.bridge == nil {
		writeError(w, r, http.StatusServiceUnavailable, "authentication is not configured")
		return
	}
	ret := strings.TrimSpace(r.URL.Query().Get("returnUrl"))
	if ret == "" {
		ret = a.returnURL(r)
	}
	http.Redirect(w, r, a.bridge.LoginURL(ret), http.StatusFound)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		return
	}
	if a.bridge == nil {
		writeError(w, r, http.StatusServiceUnavailable, "authentication is not configured")
		return
	}
	jar := session.NewHTTPJar(w, r)
	ctx := r.Context()
	if s, err := a.bridge.Authenticate(ctx, jar); err == nil {
		ctx = session.WithSession(ctx, s)
	}
	ret := strings.TrimSpace(r.URL.Query().Get("returnUrl"))
	if ret == "" {
		ret = a.returnURL(r)
	}
	target := a.bridge.Logout(ctx, jar, ret)
	_ = audit.LogEvent(ctx, "session.logout", nil)

	if r.Method == http.MethodPost {
		writeJSON(w, http.StatusOK, map[string]any{"redirect": target})
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	s, _ := session.FromContext(r.Context())
	sys := systemFromContext(r.Context())
	resp := meResponse{
		UserID:      s.UserID,
		Email:       s.Email,
		DisplayName: s.DisplayName,
		PhotoURL:    s.PhotoURL,
		System:      sys,
		IssuedAt:    s.IssuedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
	if a.ents != nil {
		ents, err := a.ents.ForUser(r.Context(), s.Email, sys)
		if err != nil && !errors.Is(err, entitlement.ErrNoEntitlements) {
			handleBackendError(w, r, err)
			return
		}
		resp.Entitlements = ents
	}
	writeJSON(w, http.StatusOK, resp)
}
