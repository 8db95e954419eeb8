// Package session owns the durable session record, its Postgres store,
// and the Manager that layers the read-through cache and token issuance
// on top of it.
package session

import "time"

// Session is one authenticated device/browser context.
//
// Invariants: ExpiresAt advances only through explicit rotation;
// DeviceFingerprint is immutable for the life of the session, so a request
// whose derived fingerprint disagrees is rejected, never migrated; a
// session with OTPVerifyNeeded set authenticates no privileged
// operation.
type Session struct {
	ID                string    `db:"id" json:"sessionId"`
	UserID            string    `db:"user_id" json:"userId"`
	AccessTokenHash   string    `db:"access_token_hash" json:"accessTokenHash"`
	RefreshTokenHash  string    `db:"refresh_token_hash" json:"refreshTokenHash"`
	DeviceFingerprint string    `db:"device_fingerprint" json:"deviceFingerprint"`
	OTPVerifyNeeded   bool      `db:"otp_verify_needed" json:"otpVerifyNeeded"`
	CreatedAt         time.Time `db:"created_at" json:"createdAt"`
	ExpiresAt         time.Time `db:"session_expiry" json:"sessionExpiry"`
}

// Expired reports whether the session is past its expiry at now. A
// session exactly at its expiry instant is expired.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
