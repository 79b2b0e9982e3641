package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "porky_auth", cfg.Auth.CookieName)
	assert.Equal(t, "knmt_auth", cfg.Auth.LegacyCookieName)
	assert.Equal(t, 14*24*time.Hour, cfg.Auth.SessionTimeout)
	assert.Equal(t, "ZODATA_KNMTREQUEST_SRV", cfg.Backend.ServiceName)
	assert.Equal(t, "ZCSD_ZKNMTRequest", cfg.Backend.EntitySet)
	assert.True(t, cfg.Auth.Branding.ShowSignup)
	assert.Equal(t, int64(32<<20), cfg.Backend.MaxResponseBytes)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("KNMT_AUTH_SESSION_TIMEOUT", "24h")
	t.Setenv("KNMT_BACKEND_BASE_URL", "https://mcp.example.test")
	t.Setenv("KNMT_HTTP_ALLOWED_ORIGINS", "https://a.test, https://b.test")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 24*time.Hour, cfg.Auth.SessionTimeout)
	assert.Equal(t, "https://mcp.example.test", cfg.Backend.BaseURL)
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, cfg.HTTP.AllowedOrigins)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	body := []byte("auth:\n  cookie_name: knmt_auth\n  session_timeout: 24h\n")
	require.NoError(t, os.WriteFile(path, body, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "knmt_auth", cfg.Auth.CookieName)
	assert.Equal(t, 24*time.Hour, cfg.Auth.SessionTimeout)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	bad := *cfg
	bad.Auth.SessionTimeout = 0
	bad.Backend.BaseURL = "not a url"
	err = bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session_timeout")
	assert.Contains(t, err.Error(), "backend.base_url")

	bad = *cfg
	bad.Auth.RefreshAfter = bad.Auth.SessionTimeout
	assert.Error(t, bad.Validate())
}

func TestValidateCookieSecret(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.True(t, cfg.App.IsDevelopment())
	assert.NoError(t, cfg.Validate(), "development may run without a cookie secret")

	prod := *cfg
	prod.App.Environment = "production"
	err = prod.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.cookie_secret")

	prod.Auth.CookieSecret = "too-short"
	assert.Error(t, prod.Validate())

	prod.Auth.CookieSecret = "0123456789abcdef0123456789abcdef"
	assert.NoError(t, prod.Validate())
}
