// Package config loads gateway settings from an optional YAML file, a .env
// file and KNMT_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config is the root configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	HTTP     HTTPConfig     `mapstructure:"http"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	ListenAddr  string `mapstructure:"listen_addr"`
	// PublicURL is the externally visible base URL of the UI; used when the
	// request does not tell us where the user came from.
	PublicURL string `mapstructure:"public_url"`
}

// IsDevelopment reports whether the gateway runs on a developer machine.
func (a AppConfig) IsDevelopment() bool {
	switch strings.ToLower(strings.TrimSpace(a.Environment)) {
	case "development", "dev", "local":
		return true
	}
	return false
}

// MinCookieSecret is the shortest accepted auth.cookie_secret.
const MinCookieSecret = 32

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// BackendConfig describes the MCP/SAP gateway.
type BackendConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	ServiceName   string        `mapstructure:"service_name"`
	EntitySet     string        `mapstructure:"entity_set"`
	AppID         string        `mapstructure:"app_id"`
	APIKey        string        `mapstructure:"api_key"`
	AuthToken     string        `mapstructure:"auth_token"`
	BasicUser     string        `mapstructure:"basic_user"`
	BasicPassword string        `mapstructure:"basic_password"`
	Timeout       time.Duration `mapstructure:"timeout"`
	// MaxResponseBytes bounds one backend response body.
	MaxResponseBytes int64 `mapstructure:"max_response_bytes"`
}

// AuthConfig drives the session bridge.
type AuthConfig struct {
	PortalURL            string        `mapstructure:"portal_url"`
	CookieName           string        `mapstructure:"cookie_name"`
	LegacyCookieName     string        `mapstructure:"legacy_cookie_name"`
	SessionTimeout       time.Duration `mapstructure:"session_timeout"`
	LegacySessionTimeout time.Duration `mapstructure:"legacy_session_timeout"`
	RefreshAfter         time.Duration `mapstructure:"refresh_after"`
	PortalSecret         string        `mapstructure:"portal_secret"`
	// CookieSecret signs the session cookie. Development falls back to a
	// per-process random key when it is empty.
	CookieSecret string         `mapstructure:"cookie_secret"`
	Branding     BrandingConfig `mapstructure:"branding"`
}

// BrandingConfig is forwarded to the portal login page.
type BrandingConfig struct {
	H1            string `mapstructure:"h1"`
	H2            string `mapstructure:"h2"`
	H3            string `mapstructure:"h3"`
	AlternateAuth string `mapstructure:"alternate_auth"`
	ShowSignup    bool   `mapstructure:"show_signup"`
	Branding      string `mapstructure:"branding"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type HTTPConfig struct {
	RateBurst      int      `mapstructure:"rate_burst"`
	RatePerSecond  int      `mapstructure:"rate_per_second"`
	MaxBodyBytes   int64    `mapstructure:"max_body_bytes"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Validate reports configuration that would make the gateway unusable.
func (c *Config) Validate() error {
	var errs []error
	if _, err := url.ParseRequestURI(c.Backend.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("backend.base_url: %w", err))
	}
	if strings.TrimSpace(c.Backend.ServiceName) == "" {
		errs = append(errs, errors.New("backend.service_name is required"))
	}
	if strings.TrimSpace(c.Backend.EntitySet) == "" {
		errs = append(errs, errors.New("backend.entity_set is required"))
	}
	if _, err := url.ParseRequestURI(c.Auth.PortalURL); err != nil {
		errs = append(errs, fmt.Errorf("auth.portal_url: %w", err))
	}
	if strings.TrimSpace(c.Auth.CookieName) == "" {
		errs = append(errs, errors.New("auth.cookie_name is required"))
	}
	if c.Auth.SessionTimeout <= 0 {
		errs = append(errs, errors.New("auth.session_timeout must be positive"))
	}
	if n := len(c.Auth.CookieSecret); (n > 0 || !c.App.IsDevelopment()) && n < MinCookieSecret {
		errs = append(errs, fmt.Errorf("auth.cookie_secret must be at least %d bytes", MinCookieSecret))
	}
	if c.Auth.RefreshAfter < 0 || (c.Auth.RefreshAfter > 0 && c.Auth.RefreshAfter >= c.Auth.SessionTimeout) {
		errs = append(errs, errors.New("auth.refresh_after must be between 0 and session_timeout"))
	}
	if c.HTTP.RateBurst <= 0 || c.HTTP.RatePerSecond <= 0 {
		errs = append(errs, errors.New("http rate limits must be positive"))
	}
	return errors.Join(errs...)
}
