package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signPortalToken(t *testing.T, secret string, claims PortalClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return tok
}

func TestHMACVerifier(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := ClockFunc(func() time.Time { return now })
	v, err := NewHMACVerifier("s3cret", "portal", clock)
	require.NoError(t, err)

	good := signPortalToken(t, "s3cret", PortalClaims{
		Email: "ann@example.com",
		Name:  "Ann",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "portal",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
	})
	id, err := v.Verify(good)
	require.NoError(t, err)
	assert.Equal(t, PortalIdentity{Subject: "user-1", Email: "ann@example.com", Name: "Ann"}, id)

	expired := signPortalToken(t, "s3cret", PortalClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject: "user-1", Issuer: "portal", ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute)),
	}})
	_, err = v.Verify(expired)
	assert.ErrorIs(t, err, ErrInvalidPortalToken)

	wrongKey := signPortalToken(t, "other", PortalClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject: "user-1", Issuer: "portal", ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	}})
	_, err = v.Verify(wrongKey)
	assert.ErrorIs(t, err, ErrInvalidPortalToken)

	noExp := signPortalToken(t, "s3cret", PortalClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u", Issuer: "portal"}})
	_, err = v.Verify(noExp)
	assert.ErrorIs(t, err, ErrInvalidPortalToken)

	_, err = NewHMACVerifier("  ", "", nil)
	assert.Error(t, err)
}

func TestBridgeWithVerifierUsesSubject(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: now}
	v, err := NewHMACVerifier("s3cret", "", clock)
	require.NoError(t, err)
	b, _, jar := newTestBridge(t, WithClock(clock), WithTokenVerifier(v))

	tok := signPortalToken(t, "s3cret", PortalClaims{
		Email:            "ann@example.com",
		Name:             "Ann From Token",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-7", ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute))},
	})
	u := mustURL(t, "https://knmt.porky.com/?auth_token="+tok+"&auth_email=ann%40example.com")
	cb, ok, err := b.CheckAuthFromURL(context.Background(), jar, u)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "user-7", cb.Session.UserID)
	assert.Equal(t, "Ann From Token", cb.Session.DisplayName)

	u = mustURL(t, "https://knmt.porky.com/?auth_token="+tok+"&auth_email=mallory%40example.com")
	_, ok, err = b.CheckAuthFromURL(context.Background(), NewMemoryJar(clock, false), u)
	assert.ErrorIs(t, err, ErrInvalidPortalToken)
	assert.False(t, ok)

	_, ok, err = b.CheckAuthFromURL(context.Background(), jar, mustURL(t, "/?auth_token=garbage&auth_email=a%40b.c"))
	assert.ErrorIs(t, err, ErrInvalidPortalToken)
	assert.False(t, ok)
}

func TestRedisRevocations(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	revs := NewRedisRevocations(client, ClockFunc(func() time.Time { return now }))
	s := Session{UserID: "u-1", IssuedAt: now.Add(-time.Hour)}
	ctx := context.Background()

	revoked, err := revs.IsRevoked(ctx, s)
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, revs.Revoke(ctx, s, now.Add(time.Hour)))
	revoked, err = revs.IsRevoked(ctx, s)
	require.NoError(t, err)
	assert.True(t, revoked)

	other := Session{UserID: "u-1", IssuedAt: now}
	revoked, err = revs.IsRevoked(ctx, other)
	require.NoError(t, err)
	assert.False(t, revoked, "a fresh login is a different session")

	mr.FastForward(2 * time.Hour)
	revoked, err = revs.IsRevoked(ctx, s)
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, revs.Revoke(ctx, s, now.Add(-time.Minute)))
	assert.False(t, mr.Exists("knmt:revoked:"+revocationKey(s)))
}

func TestMemoryRevocationsExpire(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	revs := NewMemoryRevocations(clock)
	s := Session{UserID: "u", IssuedAt: clock.Now()}
	require.NoError(t, revs.Revoke(context.Background(), s, clock.Now().Add(time.Minute)))
	ok, _ := revs.IsRevoked(context.Background(), s)
	assert.True(t, ok)
	clock.Advance(2 * time.Minute)
	ok, _ = revs.IsRevoked(context.Background(), s)
	assert.False(t, ok)
}
