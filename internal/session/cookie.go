package session

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"porky.com/knmt/internal/sysenv"
)

// cookiePayload is the JSON stored in the cookie. zsystem is the field name
// used by older portal builds and is read but never written.
type cookiePayload struct {
	UID             string `json:"uid"`
	Email           string `json:"email"`
	DisplayName     string `json:"displayName"`
	PhotoURL        string `json:"photoURL,omitempty"`
	IsAuthenticated bool   `json:"isAuthenticated"`
	System          string `json:"system,omitempty"`
	ZSystem         string `json:"zsystem,omitempty"`
	Timestamp       int64  `json:"timestamp"`
	// Sig is the HS256 MAC of the payload marshalled with Sig empty.
	Sig string `json:"sig,omitempty"`
}

var (
	errMalformedCookie = errors.New("session: malformed cookie")
	errBadSignature    = errors.New("session: bad cookie signature")
)

func (p cookiePayload) signingString() (string, error) {
	p.Sig = ""
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (p *cookiePayload) sign(key []byte) error {
	ss, err := p.signingString()
	if err != nil {
		return err
	}
	sig, err := jwt.SigningMethodHS256.Sign(ss, key)
	if err != nil {
		return err
	}
	p.Sig = base64.RawURLEncoding.EncodeToString(sig)
	return nil
}

func (p cookiePayload) verify(key []byte) error {
	if p.Sig == "" {
		return errBadSignature
	}
	sig, err := base64.RawURLEncoding.DecodeString(p.Sig)
	if err != nil {
		return errBadSignature
	}
	ss, err := p.signingString()
	if err != nil {
		return err
	}
	if err := jwt.SigningMethodHS256.Verify(ss, sig, key); err != nil {
		return fmt.Errorf("%w: %w", errBadSignature, err)
	}
	return nil
}

// encodeCookie serializes s as signed, URL-component-encoded JSON.
func encodeCookie(s Session, key []byte) (string, error) {
	p := cookiePayload{
		UID:             s.UserID,
		Email:           s.Email,
		DisplayName:     s.DisplayName,
		PhotoURL:        s.PhotoURL,
		IsAuthenticated: s.IsAuthenticated,
		System:          string(s.System),
		Timestamp:       s.IssuedAt.UnixMilli(),
	}
	if err := p.sign(key); err != nil {
		return "", err
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return encodeURIComponent(string(raw)), nil
}

// decodeCookie accepts URL-encoded or raw JSON. The payload must carry a
// valid signature under key.
func decodeCookie(value string, key []byte) (Session, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Session{}, errMalformedCookie
	}
	candidates := []string{value}
	if unescaped, err := url.PathUnescape(value); err == nil && unescaped != value {
		candidates = []string{unescaped, value}
	}
	for _, c := range candidates {
		var p cookiePayload
		if err := json.Unmarshal([]byte(c), &p); err != nil {
			continue
		}
		if strings.TrimSpace(p.UID) == "" {
			return Session{}, errMalformedCookie
		}
		if err := p.verify(key); err != nil {
			return Session{}, fmt.Errorf("%w: %w", errMalformedCookie, err)
		}
		system := p.System
		if system == "" {
			system = p.ZSystem
		}
		sys, err := sysenv.Parse(system)
		if err != nil {
			sys = ""
		}
		s := Session{
			UserID:          p.UID,
			Email:           p.Email,
			DisplayName:     p.DisplayName,
			PhotoURL:        p.PhotoURL,
			IsAuthenticated: p.IsAuthenticated,
			System:          sys,
		}
		if p.Timestamp > 0 {
			s.IssuedAt = time.UnixMilli(p.Timestamp).UTC()
		}
		return s, nil
	}
	return Session{}, errMalformedCookie
}

// encodeURIComponent matches the browser function of the same name so the
// UI can read the cookie with decodeURIComponent.
func encodeURIComponent(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s) * 3 / 2)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreservedComponent(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func isUnreservedComponent(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}
