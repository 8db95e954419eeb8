package authcore

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kuraykaraaslan/authcore/otp"
	"github.com/kuraykaraaslan/authcore/user"
)

// TOTPSetup carries the material a client needs to enroll an
// authenticator app. The secret is not persisted until EnableTOTP
// confirms a valid code round trip.
type TOTPSetup struct {
	Secret       string `json:"secret"`
	ProvisionURI string `json:"provisionUri"`
}

// GenerateTOTPSetup mints a fresh shared secret and provisioning URI.
func (o *Orchestrator) GenerateTOTPSetup(usr *user.User, issuer string) (*TOTPSetup, error) {
	secret, err := otp.GenerateTOTPSecret()
	if err != nil {
		return nil, err
	}
	return &TOTPSetup{
		Secret:       secret,
		ProvisionURI: otp.ProvisionURI(secret, issuer, usr.Email),
	}, nil
}

// EnableTOTP persists the secret and enrolls TOTP_APP as a method,
// but only after the user proves possession with a valid code
// generated from that secret.
func (o *Orchestrator) EnableTOTP(ctx context.Context, usr *user.User, secret, code string) error {
	ok, err := otp.VerifyTOTP(secret, code, time.Now())
	if err != nil || !ok {
		return ErrInvalidOTP
	}

	sec := usr.Security.WithMethod(user.MethodTOTP)
	sec.TOTPSecret = secret
	if err := o.users.UpdateSecurity(ctx, usr.ID, sec); err != nil {
		return err
	}
	usr.Security = sec

	o.log.Info("totp enabled", zap.String("user_id", usr.ID))
	return nil
}

// DisableTOTP is an explicit confirmed transition: the caller must
// present a currently valid code before the enrollment is removed.
func (o *Orchestrator) DisableTOTP(ctx context.Context, usr *user.User, code string) error {
	if !usr.Security.HasMethod(user.MethodTOTP) {
		return ErrTOTPNotEnrolled
	}

	ok, err := otp.VerifyTOTP(usr.Security.TOTPSecret, code, time.Now())
	if err != nil || !ok {
		return ErrInvalidOTP
	}

	sec := usr.Security.WithoutMethod(user.MethodTOTP)
	sec.TOTPSecret = ""
	if err := o.users.UpdateSecurity(ctx, usr.ID, sec); err != nil {
		return err
	}
	usr.Security = sec

	o.log.Info("totp disabled", zap.String("user_id", usr.ID))
	return nil
}
