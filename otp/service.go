package otp

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/kuraykaraaslan/authcore/user"
)

var (
	// ErrNotNeeded is returned when the session is past verification.
	ErrNotNeeded = errors.New("otp verification not needed")
	// ErrInvalidMethod is returned for a method the user has not
	// enrolled, or one that cannot carry the requested operation.
	ErrInvalidMethod = errors.New("invalid otp method")
	// ErrRateLimited is returned when the send budget for the
	// (session, method) pair is exhausted.
	ErrRateLimited = errors.New("otp rate limit exceeded")
	// ErrExpired is returned when no live code exists for the pair.
	ErrExpired = errors.New("otp expired")
	// ErrInvalid is returned for a code that does not match.
	ErrInvalid = errors.New("invalid otp")
)

// Delivery pushes generated codes to the user out of band. Errors stay
// inside the delivery layer; Send does not wait on the wire.
type Delivery interface {
	DeliverEmail(ctx context.Context, to, code string) error
	DeliverSMS(ctx context.Context, to, code string) error
}

// Config tunes code shape and send budget.
type Config struct {
	Digits     int           // default 6
	CodeTTL    time.Duration // default 10m
	RateWindow time.Duration // default 60s
	MaxSends   int           // default 5
	TOTPIssuer string
}

// Service implements the second-factor challenge: code issue and
// delivery for EMAIL and SMS, and validation for all three methods.
type Service struct {
	store    *Store
	delivery Delivery
	config   Config
	log      *zap.Logger
}

// NewService wires a Service, applying config defaults.
func NewService(store *Store, delivery Delivery, cfg Config, log *zap.Logger) *Service {
	if cfg.Digits <= 0 {
		cfg.Digits = 6
	}
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = 10 * time.Minute
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}
	if cfg.MaxSends <= 0 {
		cfg.MaxSends = 5
	}
	return &Service{store: store, delivery: delivery, config: cfg, log: log}
}

// Send issues a fresh code for the (session, method) pair and hands it
// to the delivery layer. A resend replaces the previous code. TOTP_APP
// generates codes on the device, so it is not a sendable method.
func (s *Service) Send(ctx context.Context, sessionID string, usr *user.User, method user.OTPMethod) error {
	if !usr.Security.HasMethod(method) {
		return ErrInvalidMethod
	}

	switch method {
	case user.MethodEmail:
		if usr.Email == "" {
			return ErrInvalidMethod
		}
	case user.MethodSMS:
		if usr.Phone == "" {
			return ErrInvalidMethod
		}
	default:
		return ErrInvalidMethod
	}

	count, err := s.store.IncrementSends(ctx, sessionID, string(method), s.config.RateWindow)
	if err != nil {
		return err
	}
	if count > int64(s.config.MaxSends) {
		return ErrRateLimited
	}

	code, err := NewCode(s.config.Digits)
	if err != nil {
		return err
	}
	if err := s.store.SaveCode(ctx, sessionID, string(method), hashCode(code), s.config.CodeTTL); err != nil {
		return err
	}

	switch method {
	case user.MethodEmail:
		err = s.delivery.DeliverEmail(ctx, usr.Email, code)
	case user.MethodSMS:
		err = s.delivery.DeliverSMS(ctx, usr.Phone, code)
	}
	if err != nil {
		return err
	}

	s.log.Info("otp sent",
		zap.String("session_id", sessionID),
		zap.String("method", string(method)))
	return nil
}

// Validate checks code for the (session, method) pair. Delivered codes
// are one shot; a successful check consumes the code and its counter.
// TOTP codes are checked against the user's persisted secret.
func (s *Service) Validate(ctx context.Context, sessionID string, usr *user.User, method user.OTPMethod, code string) error {
	if !usr.Security.HasMethod(method) {
		return ErrInvalidMethod
	}

	if method == user.MethodTOTP {
		ok, err := VerifyTOTP(usr.Security.TOTPSecret, code, time.Now())
		if err != nil {
			// Method enrolled but no usable secret: the enrollment is
			// broken, not the submitted code.
			return ErrInvalidMethod
		}
		if !ok {
			return ErrInvalid
		}
		return nil
	}

	stored, err := s.store.GetCode(ctx, sessionID, string(method))
	if err != nil {
		return err
	}
	if stored == "" {
		return ErrExpired
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(hashCode(code))) != 1 {
		return ErrInvalid
	}

	return s.store.Consume(ctx, sessionID, string(method))
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
