package session

import (
	"net/url"
	"strconv"
	"strings"
)

// Inbound portal parameters. They are stripped from every URL we hand back
// to the browser or forward as returnUrl.
const (
	ParamAuthToken = "auth_token"
	ParamAuthEmail = "auth_email"
	ParamAuthName  = "auth_name"
	ParamZSystem   = "zsystem"
)

var authParams = map[string]struct{}{
	ParamAuthToken: {},
	ParamAuthEmail: {},
	ParamAuthName:  {},
	ParamZSystem:   {},
}

// Branding is forwarded to the portal's login page.
type Branding struct {
	H1            string
	H2            string
	H3            string
	AlternateAuth string
	ShowSignup    bool
	Branding      string
}

// CleanURL removes the portal's auth parameters from raw, keeping every
// other parameter in its original order. Unparseable input is returned as is.
func CleanURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.RawQuery == "" {
		return u.String()
	}
	kept := make([]string, 0, 4)
	for _, pair := range strings.Split(u.RawQuery, "&") {
		if pair == "" {
			continue
		}
		key := pair
		if i := strings.IndexByte(pair, '='); i >= 0 {
			key = pair[:i]
		}
		if k, err := url.QueryUnescape(key); err == nil {
			key = k
		}
		if _, drop := authParams[key]; drop {
			continue
		}
		kept = append(kept, pair)
	}
	u.RawQuery = strings.Join(kept, "&")
	u.ForceQuery = false
	return u.String()
}

// LoginURL is where an unauthenticated browser is sent. returnURL is cleaned
// first so the portal can never bounce stale auth parameters back to us.
func (b *Bridge) LoginURL(returnURL string) string {
	return b.portalURL(false, returnURL)
}

// LogoutURL asks the portal to end its own session and then return.
func (b *Bridge) LogoutURL(returnURL string) string {
	return b.portalURL(true, returnURL)
}

func (b *Bridge) portalURL(logout bool, returnURL string) string {
	var q []string
	if logout {
		q = append(q, "logout=true")
	}
	q = append(q, "returnUrl="+url.QueryEscape(CleanURL(returnURL)))
	br := b.cfg.Branding
	q = append(q,
		"h1="+url.QueryEscape(br.H1),
		"h2="+url.QueryEscape(br.H2),
		"h3="+url.QueryEscape(br.H3),
		"alternateauth="+url.QueryEscape(br.AlternateAuth),
		"showsignup="+strconv.FormatBool(br.ShowSignup),
		"branding="+url.QueryEscape(br.Branding),
	)
	sep := "?"
	if strings.Contains(b.cfg.PortalURL, "?") {
		sep = "&"
	}
	return b.cfg.PortalURL + sep + strings.Join(q, "&")
}
