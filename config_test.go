package authcore

import (
	"strings"
	"testing"
	"time"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ACCESS_TOKEN_SECRET", "access-secret")
	t.Setenv("REFRESH_TOKEN_SECRET", "refresh-secret")
}

func TestFromEnvDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}

	if cfg.AccessTokenTTL != time.Hour {
		t.Fatalf("unexpected access ttl %v", cfg.AccessTokenTTL)
	}
	if cfg.RefreshTokenTTL != 168*time.Hour {
		t.Fatalf("unexpected refresh ttl %v", cfg.RefreshTokenTTL)
	}
	if cfg.SessionLifetime != 7*24*time.Hour {
		t.Fatalf("unexpected session lifetime %v", cfg.SessionLifetime)
	}
	if cfg.SessionCacheTTL != 30*time.Minute {
		t.Fatalf("unexpected cache ttl %v", cfg.SessionCacheTTL)
	}
	if cfg.OTPLength != 6 || cfg.OTPExpiry != 10*time.Minute || cfg.OTPRateWindow != time.Minute {
		t.Fatalf("unexpected otp defaults: %+v", cfg)
	}
}

func TestFromEnvMissingSecretsFailFast(t *testing.T) {
	t.Setenv("ACCESS_TOKEN_SECRET", "")
	t.Setenv("REFRESH_TOKEN_SECRET", "refresh-secret")

	_, err := FromEnv()
	if err == nil {
		t.Fatal("expected error for missing access secret")
	}
	if !strings.Contains(err.Error(), "ACCESS_TOKEN_SECRET") {
		t.Fatalf("error must name the failing field, got %q", err)
	}
}

func TestValidateReportsFailingFieldByName(t *testing.T) {
	setBaseEnv(t)
	// A cache ttl at or above the access ttl breaks the rule that a
	// cached session may never outlive its token.
	t.Setenv("ACCESS_TOKEN_EXPIRES_IN", "1h")
	t.Setenv("SESSION_REDIS_EXPIRY_MS", "7200000")

	_, err := FromEnv()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "SESSION_REDIS_EXPIRY_MS") {
		t.Fatalf("error must name SESSION_REDIS_EXPIRY_MS, got %q", err)
	}
}

func TestFromEnvParsesSSOProviders(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("SSO_ALLOWED_PROVIDERS", "Google, github ,")
	t.Setenv("SSO_REDIRECT_BASE", "https://app.example.com/callback")
	t.Setenv("GOOGLE_CLIENT_ID", "gid")
	t.Setenv("GOOGLE_CLIENT_SECRET", "gsecret")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}

	if len(cfg.SSOAllowedProviders) != 2 {
		t.Fatalf("unexpected providers %v", cfg.SSOAllowedProviders)
	}
	if cfg.SSOAllowedProviders[0] != "google" || cfg.SSOAllowedProviders[1] != "github" {
		t.Fatalf("unexpected providers %v", cfg.SSOAllowedProviders)
	}
	if cfg.SSOCredentials["google"].ClientID != "gid" || cfg.SSOCredentials["google"].ClientSecret != "gsecret" {
		t.Fatalf("google credentials not read: %+v", cfg.SSOCredentials["google"])
	}
}

func TestFromEnvSSOProvidersRequireRedirectBase(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("SSO_ALLOWED_PROVIDERS", "google")
	t.Setenv("SSO_REDIRECT_BASE", "")

	_, err := FromEnv()
	if err == nil || !strings.Contains(err.Error(), "SSO_REDIRECT_BASE") {
		t.Fatalf("expected SSO_REDIRECT_BASE error, got %v", err)
	}
}

func TestFromEnvMalformedNumbersAreFatal(t *testing.T) {
	// A value that fails to parse must stop startup and name the key,
	// never run on silently with the default.
	cases := []struct {
		key   string
		value string
	}{
		{"SESSION_EXPIRY_MS", "not-a-number"},
		{"SESSION_REDIS_EXPIRY_MS", "30m"},
		{"OTP_EXPIRY_SECONDS", "ten"},
		{"OTP_LENGTH", "six"},
		{"OTP_RATE_LIMIT_SECONDS", "1m"},
		{"ACCESS_TOKEN_EXPIRES_IN", "bogus"},
		{"REFRESH_TOKEN_EXPIRES_IN", "168"},
	}
	for _, tc := range cases {
		t.Run(tc.key, func(t *testing.T) {
			setBaseEnv(t)
			t.Setenv(tc.key, tc.value)

			_, err := FromEnv()
			if err == nil {
				t.Fatalf("expected error for %s=%q", tc.key, tc.value)
			}
			if !strings.Contains(err.Error(), tc.key) {
				t.Fatalf("error must name %s, got %q", tc.key, err)
			}
		})
	}
}

func TestFromEnvInvalidOTPLength(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("OTP_LENGTH", "12")

	_, err := FromEnv()
	if err == nil || !strings.Contains(err.Error(), "OTP_LENGTH") {
		t.Fatalf("expected OTP_LENGTH error, got %v", err)
	}
}
