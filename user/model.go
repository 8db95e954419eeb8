// Package user holds the account aggregate consumed by the session
// core: the user record, its security configuration, and links to
// external identity providers.
package user

import (
	"encoding/json"
	"time"
)

// Role is the account privilege level. Ordering is defined by the
// orchestrator's role hierarchy, not by the string values.
type Role string

const (
	RoleSuperAdmin Role = "SUPER_ADMIN"
	RoleAdmin      Role = "ADMIN"
	RoleUser       Role = "USER"
	RoleGuest      Role = "GUEST"
)

// OTPMethod identifies a second-factor delivery or computation method.
type OTPMethod string

const (
	MethodEmail OTPMethod = "EMAIL"
	MethodSMS   OTPMethod = "SMS"
	MethodTOTP  OTPMethod = "TOTP_APP"
)

// Security is the per-user second-factor configuration. Logically its
// own aggregate; stored as a JSON column on the user row.
//
// Invariant: TOTPSecret is present only while MethodTOTP is being set up
// or is enabled. Enabling MethodTOTP requires a verified setup
// round-trip; disabling a method is an explicit confirmed transition and
// never drops the secret as a side effect of something else.
type Security struct {
	OTPMethods []OTPMethod `json:"otpMethods"`
	TOTPSecret string      `json:"totpSecret,omitempty"`
}

// HasMethod reports whether method is in the enabled set.
func (s Security) HasMethod(method OTPMethod) bool {
	for _, m := range s.OTPMethods {
		if m == method {
			return true
		}
	}
	return false
}

// WithMethod returns a copy of s with method added (idempotent).
func (s Security) WithMethod(method OTPMethod) Security {
	if s.HasMethod(method) {
		return s
	}
	out := s
	out.OTPMethods = append(append([]OTPMethod(nil), s.OTPMethods...), method)
	return out
}

// WithoutMethod returns a copy of s with method removed.
func (s Security) WithoutMethod(method OTPMethod) Security {
	out := s
	out.OTPMethods = nil
	for _, m := range s.OTPMethods {
		if m != method {
			out.OTPMethods = append(out.OTPMethods, m)
		}
	}
	return out
}

// User is one account. PasswordHash is empty for SSO-only accounts.
type User struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	Phone        string    `db:"phone" json:"phone,omitempty"`
	Name         string    `db:"name" json:"name,omitempty"`
	Role         Role      `db:"role" json:"role"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Security     Security  `db:"-" json:"userSecurity"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

// SocialAccount links a user to an external identity provider. Unique
// per (provider, user); re-authentication updates the row in place.
// Provider tokens are stored opaque for later revocation, never used
// for authorization decisions here.
type SocialAccount struct {
	Provider          string `db:"provider"`
	ProviderAccountID string `db:"provider_account_id"`
	UserID            string `db:"user_id"`
	AccessToken       string `db:"access_token"`
	RefreshToken      string `db:"refresh_token"`
}

func marshalSecurity(s Security) ([]byte, error) {
	return json.Marshal(s)
}

func unmarshalSecurity(data []byte, s *Security) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, s)
}
