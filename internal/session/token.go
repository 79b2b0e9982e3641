package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// PortalIdentity is what a verified portal token asserts.
type PortalIdentity struct {
	Subject string
	Email   string
	Name    string
}

// TokenVerifier checks the auth_token handed over by the portal.
type TokenVerifier interface {
	Verify(token string) (PortalIdentity, error)
}

// PortalClaims are the claims the portal signs.
type PortalClaims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

// HMACVerifier verifies HS256 portal tokens against a shared secret.
type HMACVerifier struct {
	secret []byte
	issuer string
	clock  Clock
}

// NewHMACVerifier returns a verifier; issuer may be empty to skip the check.
func NewHMACVerifier(secret, issuer string, clock Clock) (*HMACVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("portal secret is empty")
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &HMACVerifier{secret: []byte(secret), issuer: issuer, clock: clock}, nil
}

func (v *HMACVerifier) Verify(token string) (PortalIdentity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return PortalIdentity{}, ErrInvalidPortalToken
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.clock.Now),
		jwt.WithLeeway(5 * time.Second),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	var claims PortalClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return PortalIdentity{}, fmt.Errorf("%w: %v", ErrInvalidPortalToken, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return PortalIdentity{}, fmt.Errorf("%w: subject missing", ErrInvalidPortalToken)
	}
	return PortalIdentity{Subject: claims.Subject, Email: claims.Email, Name: claims.Name}, nil
}
