package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration of the broker. Values come
// from a YAML file with environment-variable overrides on top; secrets
// are normally supplied only through the environment.
type Config struct {
	App struct {
		// dev | staging | prod
		Env      string `yaml:"env"`
		LogLevel string `yaml:"log_level"`
		// BaseURL is the portal's public origin, used to build the
		// first-party callback URL and post-logout redirects.
		BaseURL string `yaml:"base_url"`
	} `yaml:"app"`

	Server struct {
		Addr               string   `yaml:"addr"`
		MetricsAddr        string   `yaml:"metrics_addr"`
		CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
		ReadTimeout        string   `yaml:"read_timeout"`
		WriteTimeout       string   `yaml:"write_timeout"`
	} `yaml:"server"`

	// Provider is the upstream OIDC identity provider (Keycloak-shaped:
	// base URL + realm).
	Provider struct {
		BaseURL      string `yaml:"base_url"`
		Realm        string `yaml:"realm"`
		ClientID     string `yaml:"client_id"`
		ClientSecret string `yaml:"client_secret"`
		// Service account used for the client-management API.
		AdminClientID     string `yaml:"admin_client_id"`
		AdminClientSecret string `yaml:"admin_client_secret"`
		Timeout           string `yaml:"timeout"`
	} `yaml:"provider"`

	Security struct {
		// SigningSecret signs the step-up marker and password-reset
		// tokens (HS256). Min 32 bytes.
		SigningSecret string `yaml:"signing_secret"`
	} `yaml:"security"`

	Cookies struct {
		Domain   string `yaml:"domain"`
		SameSite string `yaml:"samesite"`
		Secure   bool   `yaml:"secure"`
	} `yaml:"cookies"`

	Session struct {
		// AttemptTTL bounds the in-flight authorization attempt cookies.
		AttemptTTL string `yaml:"attempt_ttl"`
		// StepUpTTL bounds the 2fa_verified marker.
		StepUpTTL string `yaml:"step_up_ttl"`
	} `yaml:"session"`

	MFA struct {
		Issuer string `yaml:"issuer"`
		// Window is the clock-skew tolerance in 30s steps (0..3).
		Window      int `yaml:"window"`
		BackupCodes int `yaml:"backup_codes"`
	} `yaml:"mfa"`

	Storage struct {
		DSN             string `yaml:"dsn"`
		MaxOpenConns    int    `yaml:"max_open_conns"`
		ConnMaxLifetime string `yaml:"conn_max_lifetime"`
	} `yaml:"storage"`

	Cache struct {
		Kind  string `yaml:"kind"` // memory | redis
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
		Memory struct {
			DefaultTTL string `yaml:"default_ttl"`
		} `yaml:"memory"`
	} `yaml:"cache"`

	Rate struct {
		Enabled bool `yaml:"enabled"`
		Login   struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"login"`
		MFAVerify struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"mfa_verify"`
	} `yaml:"rate"`
}

// Load reads the YAML file at path, applies environment overrides,
// defaults what can be defaulted, and fails on anything required that
// is still missing. Missing required values are a startup error, never
// a runtime one.
func Load(path string) (*Config, error) {
	var c Config

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	c.applyEnv()
	c.applyDefaults()

	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyEnv() {
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = v
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.App.LogLevel = v
	}
	if v, ok := getEnvStr("APP_BASE_URL"); ok {
		c.App.BaseURL = v
	}
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("PROVIDER_BASE_URL"); ok {
		c.Provider.BaseURL = v
	}
	if v, ok := getEnvStr("PROVIDER_REALM"); ok {
		c.Provider.Realm = v
	}
	if v, ok := getEnvStr("PROVIDER_CLIENT_ID"); ok {
		c.Provider.ClientID = v
	}
	if v, ok := getEnvStr("PROVIDER_CLIENT_SECRET"); ok {
		c.Provider.ClientSecret = v
	}
	if v, ok := getEnvStr("PROVIDER_ADMIN_CLIENT_ID"); ok {
		c.Provider.AdminClientID = v
	}
	if v, ok := getEnvStr("PROVIDER_ADMIN_CLIENT_SECRET"); ok {
		c.Provider.AdminClientSecret = v
	}
	if v, ok := getEnvStr("SIGNING_SECRET"); ok {
		c.Security.SigningSecret = v
	}
	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvStr("CACHE_KIND"); ok {
		c.Cache.Kind = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvBool("COOKIE_SECURE"); ok {
		c.Cookies.Secure = v
	}
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.MetricsAddr == "" {
		c.Server.MetricsAddr = ":9090"
	}
	if c.Server.ReadTimeout == "" {
		c.Server.ReadTimeout = "10s"
	}
	if c.Server.WriteTimeout == "" {
		c.Server.WriteTimeout = "30s"
	}
	if c.Provider.Timeout == "" {
		c.Provider.Timeout = "10s"
	}
	if c.Provider.AdminClientID == "" {
		c.Provider.AdminClientID = "admin-cli"
	}
	if c.Cookies.SameSite == "" {
		c.Cookies.SameSite = "lax"
	}
	if c.Session.AttemptTTL == "" {
		c.Session.AttemptTTL = "1h"
	}
	if c.Session.StepUpTTL == "" {
		c.Session.StepUpTTL = "1h"
	}
	if c.MFA.Issuer == "" {
		c.MFA.Issuer = "Pehchan"
	}
	if c.MFA.Window == 0 {
		c.MFA.Window = 1
	}
	if c.MFA.BackupCodes == 0 {
		c.MFA.BackupCodes = 8
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.Memory.DefaultTTL == "" {
		c.Cache.Memory.DefaultTTL = "2m"
	}
	if c.Rate.Login.Limit == 0 {
		c.Rate.Login.Limit = 10
	}
	if c.Rate.Login.Window == "" {
		c.Rate.Login.Window = "1m"
	}
	if c.Rate.MFAVerify.Limit == 0 {
		c.Rate.MFAVerify.Limit = 5
	}
	if c.Rate.MFAVerify.Window == "" {
		c.Rate.MFAVerify.Window = "1m"
	}
	if c.MFA.Window > 3 {
		c.MFA.Window = 3
	}
}

func (c *Config) validate() error {
	var missing []string
	if strings.TrimSpace(c.Provider.BaseURL) == "" {
		missing = append(missing, "provider.base_url / PROVIDER_BASE_URL")
	}
	if strings.TrimSpace(c.Provider.Realm) == "" {
		missing = append(missing, "provider.realm / PROVIDER_REALM")
	}
	if strings.TrimSpace(c.Provider.ClientID) == "" {
		missing = append(missing, "provider.client_id / PROVIDER_CLIENT_ID")
	}
	if strings.TrimSpace(c.Provider.ClientSecret) == "" {
		missing = append(missing, "provider.client_secret / PROVIDER_CLIENT_SECRET")
	}
	if strings.TrimSpace(c.App.BaseURL) == "" {
		missing = append(missing, "app.base_url / APP_BASE_URL")
	}
	if strings.TrimSpace(c.Security.SigningSecret) == "" {
		missing = append(missing, "security.signing_secret / SIGNING_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required values: %s", strings.Join(missing, ", "))
	}

	if len(c.Security.SigningSecret) < 32 {
		return fmt.Errorf("config: security.signing_secret must be at least 32 bytes")
	}

	if ss := strings.ToLower(c.Cookies.SameSite); ss != "lax" && ss != "strict" && ss != "none" {
		return fmt.Errorf("config: cookies.samesite must be lax, strict or none (got %q)", c.Cookies.SameSite)
	}
	// SameSite=None without Secure is rejected by modern browsers; treat
	// it as a config error instead of a silent auth failure.
	if strings.EqualFold(c.Cookies.SameSite, "none") && !c.Cookies.Secure {
		return fmt.Errorf("config: cookies.samesite=none requires cookies.secure=true")
	}

	if strings.EqualFold(c.App.Env, "prod") && !c.Cookies.Secure {
		return fmt.Errorf("config: cookies.secure must be true in prod")
	}
	return nil
}

// ProviderTimeout returns the parsed upstream call timeout.
func (c *Config) ProviderTimeout() time.Duration {
	return parseDur(c.Provider.Timeout, 10*time.Second)
}

// AttemptTTL returns the parsed authorization-attempt lifetime.
func (c *Config) AttemptTTL() time.Duration {
	return parseDur(c.Session.AttemptTTL, time.Hour)
}

// StepUpTTL returns the parsed step-up marker lifetime.
func (c *Config) StepUpTTL() time.Duration {
	return parseDur(c.Session.StepUpTTL, time.Hour)
}

func parseDur(s string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil && d > 0 {
		return d
	}
	return def
}

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}
