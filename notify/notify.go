// Package notify delivers one-time codes over email and SMS through an
// asynchronous dispatcher, so the request path never waits on a
// provider round trip.
package notify

import "context"

// EmailSender delivers a one-time code to an email address.
type EmailSender interface {
	SendOTPEmail(ctx context.Context, to, code string) error
}

// SMSSender delivers a one-time code to a phone number.
type SMSSender interface {
	SendOTPSMS(ctx context.Context, to, code string) error
}

// NoOpEmail discards email deliveries. Used in tests and when no
// provider is configured.
type NoOpEmail struct{}

func (NoOpEmail) SendOTPEmail(ctx context.Context, to, code string) error { return nil }

// NoOpSMS discards SMS deliveries.
type NoOpSMS struct{}

func (NoOpSMS) SendOTPSMS(ctx context.Context, to, code string) error { return nil }
