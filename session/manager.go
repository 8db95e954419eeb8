package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kuraykaraaslan/authcore/cache"
	"github.com/kuraykaraaslan/authcore/token"
	"github.com/kuraykaraaslan/authcore/user"
)

// ErrOTPNeeded marks a session that resolved successfully but has not
// completed its second factor yet. The session is returned alongside
// the error so OTP endpoints can operate on it.
var ErrOTPNeeded = errors.New("otp verification needed")

// ErrReuseDetected is returned when a refresh token that was already
// rotated is presented again. All sessions of the affected user are
// destroyed before this is returned.
var ErrReuseDetected = errors.New("refresh token reuse detected")

// Established is the result of creating or refreshing a session. The
// raw tokens appear here once and are never persisted.
type Established struct {
	Session      *Session
	AccessToken  string
	RefreshToken string
}

// Manager owns the session lifecycle: creation, read-through
// resolution, refresh rotation and teardown. The cache in front of the
// store holds verified sessions only; anything that mutates a session
// funnels through invalidateUser.
type Manager struct {
	store    Store
	cache    *cache.Cache
	codec    *token.Codec
	lifetime time.Duration
	cacheTTL time.Duration
	log      *zap.Logger
}

// NewManager wires a Manager. cacheTTL must stay below the access
// token TTL so a cached entry can never outlive its token.
func NewManager(store Store, c *cache.Cache, codec *token.Codec, lifetime, cacheTTL time.Duration, log *zap.Logger) *Manager {
	return &Manager{
		store:    store,
		cache:    c,
		codec:    codec,
		lifetime: lifetime,
		cacheTTL: cacheTTL,
		log:      log,
	}
}

func cacheKey(userID, accessHash string) string {
	return fmt.Sprintf("session:%s:%s", userID, accessHash)
}

func userPrefix(userID string) string {
	return fmt.Sprintf("session:%s:", userID)
}

// Create mints a token pair and persists a new session bound to the
// device fingerprint. When the user has OTP methods enrolled and
// otpIgnore is false, the session starts in the pending state and
// resolves with ErrOTPNeeded until verified.
func (m *Manager) Create(ctx context.Context, usr *user.User, fingerprint string, otpIgnore bool) (*Established, error) {
	id := uuid.NewString()

	access, err := m.codec.IssueAccess(usr.ID, id, fingerprint)
	if err != nil {
		return nil, err
	}
	refresh, err := m.codec.IssueRefresh(usr.ID, id, fingerprint)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sess := &Session{
		ID:                id,
		UserID:            usr.ID,
		AccessTokenHash:   token.Hash(access),
		RefreshTokenHash:  token.Hash(refresh),
		DeviceFingerprint: fingerprint,
		OTPVerifyNeeded:   !otpIgnore && len(usr.Security.OTPMethods) > 0,
		CreatedAt:         now,
		ExpiresAt:         now.Add(m.lifetime),
	}
	if err := m.store.Create(ctx, sess); err != nil {
		return nil, err
	}

	m.log.Info("session created",
		zap.String("session_id", sess.ID),
		zap.String("user_id", sess.UserID),
		zap.Bool("otp_pending", sess.OTPVerifyNeeded))

	return &Established{Session: sess, AccessToken: access, RefreshToken: refresh}, nil
}

// Resolve authenticates a raw access token against the fingerprint of
// the caller. Verified sessions are served read-through from the
// cache; pending sessions are never cached and return ErrOTPNeeded
// together with the session.
func (m *Manager) Resolve(ctx context.Context, rawAccess, fingerprint string) (*Session, error) {
	claims, err := m.codec.VerifyAccess(rawAccess, fingerprint)
	if err != nil {
		return nil, err
	}

	hash := token.Hash(rawAccess)
	key := cacheKey(claims.Subject, hash)

	data, err := m.cache.GetOrLoad(ctx, key, m.cacheTTL, func(ctx context.Context) ([]byte, bool, error) {
		sess, err := m.store.GetByAccessHash(ctx, hash, fingerprint, time.Now())
		if err != nil {
			return nil, false, err
		}
		buf, err := json.Marshal(sess)
		if err != nil {
			return nil, false, err
		}
		// Pending sessions stay out of the cache so verification
		// takes effect on the next request.
		return buf, !sess.OTPVerifyNeeded, nil
	})
	if err != nil {
		return nil, err
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, err
	}
	if sess.Expired(time.Now()) {
		return nil, ErrNotFound
	}
	if sess.OTPVerifyNeeded {
		return &sess, ErrOTPNeeded
	}
	return &sess, nil
}

// Refresh rotates a refresh token. The store performs the swap as an
// atomic conditional update; when that update loses to an already
// rotated hash, every session of the user is destroyed and
// ErrReuseDetected is returned.
func (m *Manager) Refresh(ctx context.Context, rawRefresh, fingerprint string) (*Established, error) {
	claims, err := m.codec.VerifyRefresh(rawRefresh)
	if err != nil {
		return nil, err
	}

	// The refresh token itself is not fingerprint-checked at parse
	// time; the binding lives on the stored session row.
	current, err := m.store.Get(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if current.DeviceFingerprint != fingerprint {
		return nil, token.ErrInvalid
	}

	newAccess, err := m.codec.IssueAccess(claims.Subject, claims.SessionID, fingerprint)
	if err != nil {
		return nil, err
	}
	newRefresh, err := m.codec.IssueRefresh(claims.Subject, claims.SessionID, fingerprint)
	if err != nil {
		return nil, err
	}

	sess, err := m.store.Rotate(ctx,
		claims.SessionID,
		token.Hash(rawRefresh),
		token.Hash(newAccess),
		token.Hash(newRefresh),
		time.Now().Add(m.lifetime))
	if err != nil {
		if errors.Is(err, ErrRotateConflict) {
			m.log.Warn("refresh token reuse detected, revoking all user sessions",
				zap.String("session_id", claims.SessionID),
				zap.String("user_id", claims.Subject))
			if wipeErr := m.store.DeleteAllForUser(ctx, claims.Subject); wipeErr != nil {
				m.log.Error("session wipe after reuse failed", zap.Error(wipeErr))
			}
			m.invalidateUser(ctx, claims.Subject)
			return nil, ErrReuseDetected
		}
		return nil, err
	}

	m.invalidateUser(ctx, sess.UserID)
	if !sess.OTPVerifyNeeded {
		if buf, err := json.Marshal(sess); err == nil {
			if setErr := m.cache.Set(ctx, cacheKey(sess.UserID, sess.AccessTokenHash), buf, m.cacheTTL); setErr != nil {
				m.log.Warn("session cache seed failed",
					zap.String("user_id", sess.UserID), zap.Error(setErr))
			}
		}
	}

	return &Established{Session: sess, AccessToken: newAccess, RefreshToken: newRefresh}, nil
}

// MarkOTPVerified flips the pending flag off. The cache needs no
// invalidation since pending sessions are never cached, but the user
// prefix is purged anyway to keep a single consistency rule.
func (m *Manager) MarkOTPVerified(ctx context.Context, sess *Session) error {
	if err := m.store.SetOTPVerified(ctx, sess.ID); err != nil {
		return err
	}
	sess.OTPVerifyNeeded = false
	m.invalidateUser(ctx, sess.UserID)
	return nil
}

// Destroy removes one session and purges the user's cache entries.
func (m *Manager) Destroy(ctx context.Context, sess *Session) error {
	if err := m.store.Delete(ctx, sess.ID); err != nil {
		return err
	}
	m.invalidateUser(ctx, sess.UserID)
	return nil
}

// DestroyOthers removes every session of the user except the given one.
func (m *Manager) DestroyOthers(ctx context.Context, sess *Session) error {
	if err := m.store.DeleteOthers(ctx, sess.UserID, sess.ID); err != nil {
		return err
	}
	m.invalidateUser(ctx, sess.UserID)
	return nil
}

// DestroyAllForUser removes every session of the user.
func (m *Manager) DestroyAllForUser(ctx context.Context, userID string) error {
	if err := m.store.DeleteAllForUser(ctx, userID); err != nil {
		return err
	}
	m.invalidateUser(ctx, userID)
	return nil
}

// invalidateUser is the single choke point for cache coherence: every
// mutation of a user's sessions lands here. Failures degrade to a
// shorter cache window and are logged, not propagated.
func (m *Manager) invalidateUser(ctx context.Context, userID string) {
	if err := m.cache.InvalidatePrefix(ctx, userPrefix(userID)); err != nil {
		m.log.Warn("session cache invalidation failed",
			zap.String("user_id", userID), zap.Error(err))
	}
}
