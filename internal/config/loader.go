package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. KNMT_BACKEND_BASE_URL.
const EnvPrefix = "KNMT"

// Load reads configuration. configFile may be empty, in which case
// config.yaml is searched in ./configs and the working directory.
func Load(configFile string) (*Config, error) {
	loadDotEnv()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configFile != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.HTTP.AllowedOrigins = splitList(cfg.HTTP.AllowedOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "knmt-gateway")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.listen_addr", ":8080")
	v.SetDefault("app.public_url", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("backend.base_url", "https://mcp.porky.com")
	v.SetDefault("backend.service_name", "ZODATA_KNMTREQUEST_SRV")
	v.SetDefault("backend.entity_set", "ZCSD_ZKNMTRequest")
	v.SetDefault("backend.app_id", "knmtapp")
	v.SetDefault("backend.api_key", "")
	v.SetDefault("backend.auth_token", "")
	v.SetDefault("backend.basic_user", "")
	v.SetDefault("backend.basic_password", "")
	v.SetDefault("backend.timeout", 30*time.Second)
	v.SetDefault("backend.max_response_bytes", int64(32<<20))

	v.SetDefault("auth.portal_url", "https://portal.porky.com/login")
	v.SetDefault("auth.cookie_name", "porky_auth")
	v.SetDefault("auth.legacy_cookie_name", "knmt_auth")
	v.SetDefault("auth.session_timeout", 14*24*time.Hour)
	v.SetDefault("auth.legacy_session_timeout", 7*24*time.Hour)
	v.SetDefault("auth.refresh_after", time.Duration(0))
	v.SetDefault("auth.portal_secret", "")
	v.SetDefault("auth.cookie_secret", "")
	v.SetDefault("auth.branding.h1", "Porky")
	v.SetDefault("auth.branding.h2", "Welcome to Albertsons K&B ↔ Porky Item Cross Reference Online Access")
	v.SetDefault("auth.branding.h3", "Welcome Back")
	v.SetDefault("auth.branding.alternate_auth", "apple,google,microsoft")
	v.SetDefault("auth.branding.show_signup", true)
	v.SetDefault("auth.branding.branding", "porky")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("http.rate_burst", 50)
	v.SetDefault("http.rate_per_second", 20)
	v.SetDefault("http.max_body_bytes", int64(1<<20))
	v.SetDefault("http.allowed_origins", []string{})
}

func loadDotEnv() {
	for _, path := range []string{".env", "../.env", "../../.env"} {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

// splitList accepts both YAML lists and a single comma-separated env value.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
