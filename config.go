package authcore

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kuraykaraaslan/authcore/sso"
)

// Config collects every tunable of the core. Load it once at startup
// with FromEnv; after Validate it is treated as immutable.
type Config struct {
	AccessTokenSecret  string
	RefreshTokenSecret string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	JWTIssuer          string
	JWTAudience        string

	SessionLifetime time.Duration
	SessionCacheTTL time.Duration

	OTPExpiry     time.Duration
	OTPLength     int
	OTPRateWindow time.Duration
	TOTPIssuer    string

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	ListenAddr    string

	LogLevel string
	LogDev   bool

	RegistrationDisabled bool
	SSOAllowedProviders  []string
	SSORedirectBase      string
	SSOCredentials       map[string]sso.Credentials
	PostLoginURL         string
}

// FromEnv reads the configuration from the process environment,
// applies defaults, and validates. Call godotenv first if a .env file
// should participate.
func FromEnv() (*Config, error) {
	var env envReader
	cfg := &Config{
		AccessTokenSecret:  os.Getenv("ACCESS_TOKEN_SECRET"),
		RefreshTokenSecret: os.Getenv("REFRESH_TOKEN_SECRET"),
		AccessTokenTTL:     env.duration("ACCESS_TOKEN_EXPIRES_IN", time.Hour),
		RefreshTokenTTL:    env.duration("REFRESH_TOKEN_EXPIRES_IN", 168*time.Hour),
		JWTIssuer:          envString("JWT_ISSUER", "authcore"),
		JWTAudience:        os.Getenv("JWT_AUDIENCE"),

		SessionLifetime: time.Duration(env.intVal("SESSION_EXPIRY_MS", 604800000)) * time.Millisecond,
		SessionCacheTTL: time.Duration(env.intVal("SESSION_REDIS_EXPIRY_MS", 1800000)) * time.Millisecond,

		OTPExpiry:     time.Duration(env.intVal("OTP_EXPIRY_SECONDS", 600)) * time.Second,
		OTPLength:     env.intVal("OTP_LENGTH", 6),
		OTPRateWindow: time.Duration(env.intVal("OTP_RATE_LIMIT_SECONDS", 60)) * time.Second,
		TOTPIssuer:    envString("TOTP_ISSUER", "authcore"),

		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisAddr:     envString("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		ListenAddr:    envString("LISTEN_ADDR", ":8080"),

		LogLevel: envString("LOG_LEVEL", "info"),
		LogDev:   envBool("LOG_DEV"),

		RegistrationDisabled: envBool("REGISTRATION_DISABLED"),
		SSORedirectBase:      os.Getenv("SSO_REDIRECT_BASE"),
		PostLoginURL:         envString("POST_LOGIN_URL", "/"),
	}

	if raw := os.Getenv("SSO_ALLOWED_PROVIDERS"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			name = strings.ToLower(strings.TrimSpace(name))
			if name != "" {
				cfg.SSOAllowedProviders = append(cfg.SSOAllowedProviders, name)
			}
		}
	}

	cfg.SSOCredentials = make(map[string]sso.Credentials, len(cfg.SSOAllowedProviders))
	for _, name := range cfg.SSOAllowedProviders {
		prefix := strings.ToUpper(name)
		cfg.SSOCredentials[name] = sso.Credentials{
			ClientID:     os.Getenv(prefix + "_CLIENT_ID"),
			ClientSecret: os.Getenv(prefix + "_CLIENT_SECRET"),
		}
	}

	// Malformed numeric values are fatal at load, never silently
	// replaced by a default.
	if env.err != nil {
		return nil, env.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate walks a declarative rule table and reports the first
// violation by field name, so a misconfigured deployment fails fast
// with an actionable message.
func (c *Config) Validate() error {
	rules := []struct {
		field string
		check func() error
	}{
		{"ACCESS_TOKEN_SECRET", func() error {
			if c.AccessTokenSecret == "" {
				return fmt.Errorf("required")
			}
			return nil
		}},
		{"REFRESH_TOKEN_SECRET", func() error {
			if c.RefreshTokenSecret == "" {
				return fmt.Errorf("required")
			}
			return nil
		}},
		{"ACCESS_TOKEN_EXPIRES_IN", func() error {
			if c.AccessTokenTTL <= 0 {
				return fmt.Errorf("must be positive")
			}
			return nil
		}},
		{"REFRESH_TOKEN_EXPIRES_IN", func() error {
			if c.RefreshTokenTTL < c.AccessTokenTTL {
				return fmt.Errorf("must be at least the access token ttl")
			}
			return nil
		}},
		{"SESSION_EXPIRY_MS", func() error {
			if c.SessionLifetime <= 0 {
				return fmt.Errorf("must be positive")
			}
			return nil
		}},
		{"SESSION_REDIS_EXPIRY_MS", func() error {
			if c.SessionCacheTTL <= 0 {
				return fmt.Errorf("must be positive")
			}
			if c.SessionCacheTTL >= c.AccessTokenTTL {
				return fmt.Errorf("must be below the access token ttl")
			}
			return nil
		}},
		{"OTP_LENGTH", func() error {
			if c.OTPLength < 4 || c.OTPLength > 10 {
				return fmt.Errorf("must be between 4 and 10")
			}
			return nil
		}},
		{"OTP_EXPIRY_SECONDS", func() error {
			if c.OTPExpiry <= 0 {
				return fmt.Errorf("must be positive")
			}
			return nil
		}},
		{"OTP_RATE_LIMIT_SECONDS", func() error {
			if c.OTPRateWindow <= 0 {
				return fmt.Errorf("must be positive")
			}
			return nil
		}},
		{"SSO_REDIRECT_BASE", func() error {
			if len(c.SSOAllowedProviders) > 0 && c.SSORedirectBase == "" {
				return fmt.Errorf("required when sso providers are enabled")
			}
			return nil
		}},
	}

	for _, rule := range rules {
		if err := rule.check(); err != nil {
			return fmt.Errorf("config %s: %w", rule.field, err)
		}
	}
	return nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envReader accumulates the first parse failure so FromEnv can assemble
// the whole struct in one literal and still reject bad input by name.
type envReader struct {
	err error
}

func (r *envReader) intVal(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		if r.err == nil {
			r.err = fmt.Errorf("config %s: invalid integer %q", key, v)
		}
		return fallback
	}
	return n
}

func (r *envReader) duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		if r.err == nil {
			r.err = fmt.Errorf("config %s: invalid duration %q", key, v)
		}
		return fallback
	}
	return d
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}
