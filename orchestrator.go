package authcore

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/kuraykaraaslan/authcore/device"
	"github.com/kuraykaraaslan/authcore/otp"
	"github.com/kuraykaraaslan/authcore/session"
	"github.com/kuraykaraaslan/authcore/sso"
	"github.com/kuraykaraaslan/authcore/user"
)

// Cookie names the HTTP layer and AuthenticateRequest agree on.
const (
	CookieAccessToken  = "accessToken"
	CookieRefreshToken = "refreshToken"
)

// dummyHash is a bcrypt hash of a random throwaway value. Login
// compares against it when the email is unknown so both failure paths
// cost one bcrypt verification.
var dummyHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

// Auth is the outcome of authenticating a request. Anonymous is set
// when a GUEST-level requirement degraded instead of failing.
type Auth struct {
	User      *user.User
	Session   *session.Session
	Anonymous bool
}

// Orchestrator composes the concern packages into the flows a
// transport calls: credential login, session establishment and
// teardown, refresh, the OTP second factor, and SSO federation.
type Orchestrator struct {
	users      user.Store
	sessions   *session.Manager
	otp        *otp.Service
	federation *sso.Federation
	log        *zap.Logger
}

// New wires an Orchestrator. federation may be nil when no SSO
// providers are configured.
func New(users user.Store, sessions *session.Manager, otpService *otp.Service, federation *sso.Federation, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		users:      users,
		sessions:   sessions,
		otp:        otpService,
		federation: federation,
		log:        log,
	}
}

// Login verifies the credential pair. Unknown email and wrong password
// both return ErrInvalidEmailOrPassword after a bcrypt comparison, so
// response timing does not reveal account existence. No session is
// created here; the caller decides the second-factor path first.
func (o *Orchestrator) Login(ctx context.Context, email, password string) (*user.User, error) {
	usr, err := o.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return nil, ErrInvalidEmailOrPassword
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(usr.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidEmailOrPassword
	}
	return usr, nil
}

// Register creates an account and returns it. The password is stored
// as a bcrypt hash only.
func (o *Orchestrator) Register(ctx context.Context, email, password, name string) (*user.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	usr := &user.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		Role:         user.RoleUser,
		PasswordHash: string(hash),
		CreatedAt:    time.Now(),
	}
	if err := o.users.Create(ctx, usr); err != nil {
		if errors.Is(err, user.ErrDuplicateEmail) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	o.log.Info("user registered", zap.String("user_id", usr.ID))
	return usr, nil
}

// EstablishSession creates a session for an already-authenticated
// user. otpIgnore skips the pending state for flows that carry their
// own proof, registration being the canonical case.
func (o *Orchestrator) EstablishSession(ctx context.Context, usr *user.User, fingerprint string, otpIgnore bool) (*session.Established, error) {
	return o.sessions.Create(ctx, usr, fingerprint, otpIgnore)
}

// AuthenticateRequest resolves the caller from the request cookies and
// enforces requiredRole. A GUEST requirement degrades to an anonymous
// Auth on any failure; every other requirement propagates the error.
func (o *Orchestrator) AuthenticateRequest(r *http.Request, requiredRole user.Role) (*Auth, error) {
	auth, err := o.resolveRequest(r)
	if err != nil {
		if requiredRole == user.RoleGuest {
			return &Auth{Anonymous: true}, nil
		}
		return nil, err
	}

	if !RoleSatisfies(auth.User.Role, requiredRole) {
		if requiredRole == user.RoleGuest {
			return &Auth{Anonymous: true}, nil
		}
		return nil, ErrInsufficientRole
	}
	return auth, nil
}

func (o *Orchestrator) resolveRequest(r *http.Request) (*Auth, error) {
	access, err := r.Cookie(CookieAccessToken)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	if _, err := r.Cookie(CookieRefreshToken); err != nil {
		return nil, ErrTokenInvalid
	}

	fingerprint := device.Fingerprint(r)
	sess, err := o.sessions.Resolve(r.Context(), access.Value, fingerprint)
	if err != nil {
		return nil, err
	}

	usr, err := o.users.GetByID(r.Context(), sess.UserID)
	if err != nil {
		return nil, ErrSessionNotFound
	}
	return &Auth{User: usr, Session: sess}, nil
}

// PendingSession resolves the session behind a request without
// requiring the second factor to be complete. OTP endpoints use it to
// operate on sessions still in the pending state.
func (o *Orchestrator) PendingSession(r *http.Request) (*session.Session, *user.User, error) {
	access, err := r.Cookie(CookieAccessToken)
	if err != nil {
		return nil, nil, ErrTokenInvalid
	}

	fingerprint := device.Fingerprint(r)
	sess, err := o.sessions.Resolve(r.Context(), access.Value, fingerprint)
	if err != nil && !errors.Is(err, ErrOTPNeeded) {
		return nil, nil, err
	}

	usr, err := o.users.GetByID(r.Context(), sess.UserID)
	if err != nil {
		return nil, nil, ErrSessionNotFound
	}
	return sess, usr, nil
}

// Refresh rotates the refresh token presented by the request.
func (o *Orchestrator) Refresh(ctx context.Context, rawRefresh, fingerprint string) (*session.Established, error) {
	return o.sessions.Refresh(ctx, rawRefresh, fingerprint)
}

// Logout destroys the caller's session.
func (o *Orchestrator) Logout(ctx context.Context, sess *session.Session) error {
	return o.sessions.Destroy(ctx, sess)
}

// DestroyOtherSessions revokes every other session of the caller's
// account, keeping the current one.
func (o *Orchestrator) DestroyOtherSessions(ctx context.Context, sess *session.Session) error {
	return o.sessions.DestroyOthers(ctx, sess)
}

// SendOTP issues and delivers a code for a pending session.
func (o *Orchestrator) SendOTP(ctx context.Context, sess *session.Session, usr *user.User, method user.OTPMethod) error {
	if !sess.OTPVerifyNeeded {
		return ErrOTPNotNeeded
	}
	return o.otp.Send(ctx, sess.ID, usr, method)
}

// VerifyOTP validates a code for a pending session and, on success,
// flips the session into the verified state.
func (o *Orchestrator) VerifyOTP(ctx context.Context, sess *session.Session, usr *user.User, method user.OTPMethod, code string) error {
	if !sess.OTPVerifyNeeded {
		return ErrOTPNotNeeded
	}
	if err := o.otp.Validate(ctx, sess.ID, usr, method, code); err != nil {
		return err
	}
	return o.sessions.MarkOTPVerified(ctx, sess)
}

// SSOAuthURL returns the provider's authorization URL for state.
func (o *Orchestrator) SSOAuthURL(providerName, state string) (string, error) {
	if o.federation == nil {
		return "", ErrInvalidProvider
	}
	return o.federation.AuthURL(providerName, state)
}

// SSOCallback completes the provider exchange and establishes a
// session for the federated user.
func (o *Orchestrator) SSOCallback(ctx context.Context, providerName, code, fingerprint string) (*session.Established, error) {
	if o.federation == nil {
		return nil, ErrInvalidProvider
	}
	usr, err := o.federation.Authenticate(ctx, providerName, code)
	if err != nil {
		return nil, err
	}
	return o.sessions.Create(ctx, usr, fingerprint, false)
}
