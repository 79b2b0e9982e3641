package session

import (
	"net/http"
	"strings"
	"sync"
)

// Jar reads and writes cookies for one client.
type Jar interface {
	// Cookie returns the raw (undecoded) value of the named cookie.
	Cookie(name string) (string, bool)
	SetCookie(c *http.Cookie)
	// Secure reports whether the client reached us over TLS.
	Secure() bool
}

// HTTPJar adapts a request/response pair. Cookies set during the request
// are visible to later reads on the same jar.
type HTTPJar struct {
	r *http.Request
	w http.ResponseWriter

	mu  sync.Mutex
	set map[string]*http.Cookie
}

// NewHTTPJar wraps r and w.
func NewHTTPJar(w http.ResponseWriter, r *http.Request) *HTTPJar {
	return &HTTPJar{r: r, w: w, set: make(map[string]*http.Cookie)}
}

// Cookie scans the raw Cookie header. net/http's parser drops values with
// quotes, which the legacy client wrote unencoded.
func (j *HTTPJar) Cookie(name string) (string, bool) {
	j.mu.Lock()
	if c, ok := j.set[name]; ok {
		j.mu.Unlock()
		if c.MaxAge < 0 {
			return "", false
		}
		return c.Value, true
	}
	j.mu.Unlock()

	prefix := name + "="
	for _, header := range j.r.Header.Values("Cookie") {
		for _, part := range strings.Split(header, ";") {
			part = strings.TrimSpace(part)
			if strings.HasPrefix(part, prefix) {
				return part[len(prefix):], true
			}
		}
	}
	return "", false
}

func (j *HTTPJar) SetCookie(c *http.Cookie) {
	j.mu.Lock()
	j.set[c.Name] = c
	j.mu.Unlock()
	http.SetCookie(j.w, c)
}

func (j *HTTPJar) Secure() bool {
	if j.r.TLS != nil {
		return true
	}
	return strings.EqualFold(j.r.Header.Get("X-Forwarded-Proto"), "https")
}

// MemoryJar is an in-process jar that honours Expires like a browser would.
type MemoryJar struct {
	mu      sync.Mutex
	cookies map[string]*http.Cookie
	clock   Clock
	secure  bool
}

// NewMemoryJar returns an empty jar that expires cookies against clock.
func NewMemoryJar(clock Clock, secure bool) *MemoryJar {
	if clock == nil {
		clock = systemClock{}
	}
	return &MemoryJar{cookies: make(map[string]*http.Cookie), clock: clock, secure: secure}
}

func (j *MemoryJar) Cookie(name string) (string, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	c, ok := j.cookies[name]
	if !ok {
		return "", false
	}
	if !c.Expires.IsZero() && !j.clock.Now().Before(c.Expires) {
		delete(j.cookies, name)
		return "", false
	}
	return c.Value, true
}

func (j *MemoryJar) SetCookie(c *http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if c.MaxAge < 0 || (!c.Expires.IsZero() && !c.Expires.After(j.clock.Now())) {
		delete(j.cookies, c.Name)
		return
	}
	cp := *c
	j.cookies[c.Name] = &cp
}

func (j *MemoryJar) Secure() bool { return j.secure }

// Get returns the stored cookie with its attributes, for assertions.
func (j *MemoryJar) Get(name string) (*http.Cookie, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	c, ok := j.cookies[name]
	if !ok {
		return nil, false
	}
	cp := *c
	return &cp, true
}
