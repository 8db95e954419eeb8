package authcore

import (
	"errors"

	"github.com/kuraykaraaslan/authcore/otp"
	"github.com/kuraykaraaslan/authcore/session"
	"github.com/kuraykaraaslan/authcore/sso"
	"github.com/kuraykaraaslan/authcore/token"
)

// The root error taxonomy. Errors owned by a concern package are
// re-exported here by assignment so callers can match with errors.Is
// against either name.
var (
	// ErrInvalidEmailOrPassword is the uniform credential failure. It
	// never distinguishes an unknown email from a wrong password.
	ErrInvalidEmailOrPassword = errors.New("invalid email or password")
	// ErrEmailTaken is returned by Register for an existing email.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInsufficientRole is returned when the caller's role sits below
	// the endpoint's requirement.
	ErrInsufficientRole = errors.New("insufficient role")
	// ErrTOTPNotEnrolled is returned when a TOTP operation requires an
	// enrolled authenticator and none exists.
	ErrTOTPNotEnrolled = errors.New("totp not enrolled")

	ErrTokenInvalid = token.ErrInvalid
	ErrTokenExpired = token.ErrExpired

	ErrSessionNotFound    = session.ErrNotFound
	ErrOTPNeeded          = session.ErrOTPNeeded
	ErrRefreshTokenReused = session.ErrReuseDetected

	ErrOTPNotNeeded      = otp.ErrNotNeeded
	ErrInvalidOTPMethod  = otp.ErrInvalidMethod
	ErrRateLimitExceeded = otp.ErrRateLimited
	ErrOTPExpired        = otp.ErrExpired
	ErrInvalidOTP        = otp.ErrInvalid

	ErrInvalidProvider      = sso.ErrInvalidProvider
	ErrCodeNotFound         = sso.ErrCodeNotFound
	ErrEmailNotFound        = sso.ErrEmailNotFound
	ErrOAuth                = sso.ErrOAuth
	ErrRegistrationDisabled = sso.ErrRegistrationDisabled
)
