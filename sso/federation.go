package sso

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kuraykaraaslan/authcore/user"
)

var (
	// ErrInvalidProvider is returned for a provider off the allow list.
	ErrInvalidProvider = errors.New("invalid sso provider")
	// ErrCodeNotFound is returned when the callback carries no code.
	ErrCodeNotFound = errors.New("authorization code not found")
	// ErrEmailNotFound is returned when the provider exposes no email
	// and no existing link resolves the account.
	ErrEmailNotFound = errors.New("email not found in provider profile")
	// ErrOAuth is the uniform failure for any upstream exchange or
	// profile fetch error. Detail goes to the log, never to the caller.
	ErrOAuth = errors.New("oauth exchange failed")
	// ErrRegistrationDisabled is returned when the profile's email is
	// unknown and new account creation is switched off.
	ErrRegistrationDisabled = errors.New("registration disabled")
)

// Federation turns a provider callback into a local user: an existing
// account by email gets the social link upserted, an unknown email
// creates an account when registration is open.
type Federation struct {
	registry         *Registry
	users            user.Store
	registrationOpen bool
	log              *zap.Logger
}

// NewFederation wires a Federation over the provider registry.
func NewFederation(registry *Registry, users user.Store, registrationOpen bool, log *zap.Logger) *Federation {
	return &Federation{
		registry:         registry,
		users:            users,
		registrationOpen: registrationOpen,
		log:              log,
	}
}

// AuthURL returns the provider's authorization URL carrying state.
func (f *Federation) AuthURL(providerName, state string) (string, error) {
	p, ok := f.registry.Lookup(providerName)
	if !ok {
		return "", ErrInvalidProvider
	}
	return p.AuthURL(state), nil
}

// Authenticate resolves a callback to a local user. Upstream failures
// collapse to ErrOAuth so the response shape cannot leak which stage
// of the exchange broke.
func (f *Federation) Authenticate(ctx context.Context, providerName, code string) (*user.User, error) {
	p, ok := f.registry.Lookup(providerName)
	if !ok {
		return nil, ErrInvalidProvider
	}
	if code == "" {
		return nil, ErrCodeNotFound
	}

	tokens, err := p.Exchange(ctx, code)
	if err != nil {
		f.log.Warn("sso code exchange failed",
			zap.String("provider", p.Name()), zap.Error(err))
		return nil, ErrOAuth
	}

	profile, err := p.UserInfo(ctx, tokens)
	if err != nil {
		f.log.Warn("sso profile fetch failed",
			zap.String("provider", p.Name()), zap.Error(err))
		return nil, ErrOAuth
	}
	if profile.Email == "" {
		return nil, ErrEmailNotFound
	}

	usr, err := f.users.GetByEmail(ctx, profile.Email)
	switch {
	case err == nil:
	case errors.Is(err, user.ErrNotFound):
		if !f.registrationOpen {
			return nil, ErrRegistrationDisabled
		}
		usr = &user.User{
			ID:        uuid.NewString(),
			Email:     profile.Email,
			Name:      profile.Name,
			Role:      user.RoleUser,
			CreatedAt: time.Now(),
		}
		if err := f.users.Create(ctx, usr); err != nil {
			return nil, err
		}
		f.log.Info("user registered via sso",
			zap.String("provider", p.Name()), zap.String("user_id", usr.ID))
	default:
		return nil, err
	}

	link := &user.SocialAccount{
		Provider:          p.Name(),
		ProviderAccountID: profile.Subject,
		UserID:            usr.ID,
		AccessToken:       tokens.AccessToken,
		RefreshToken:      tokens.RefreshToken,
	}
	if err := f.users.UpsertSocialAccount(ctx, link); err != nil {
		return nil, err
	}

	return usr, nil
}
