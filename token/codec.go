// Package token mints and verifies the two bearer token classes used by
// the session core: short-lived access tokens and longer-lived refresh
// tokens, signed with independent HS256 secrets.
//
// Raw tokens never touch durable storage; callers persist Hash(token)
// only, so a leaked database snapshot is not a replayable credential.
package token

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrExpired is returned when a token's exp claim is in the past.
	ErrExpired = errors.New("token expired")
	// ErrInvalid covers every other verification failure: bad signature,
	// wrong issuer or audience, malformed token, and fingerprint mismatch.
	// Mismatch is folded into the same error on purpose so callers cannot
	// learn which check failed.
	ErrInvalid = errors.New("invalid token")
)

// Config holds the signing material and claim policy for a [Codec].
type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration // default 1h
	RefreshTTL    time.Duration // default 168h
	Issuer        string
	Audience      string

	// RefreshNotBefore delays refresh token validity by a few seconds to
	// close immediate-reuse races. Negative disables, zero means default.
	RefreshNotBefore time.Duration
}

const defaultRefreshNotBefore = 3 * time.Second

// Codec signs and verifies access and refresh tokens. Both secrets are
// required at construction; a missing secret is a fatal wiring error,
// never a per-request condition.
type Codec struct {
	config Config
}

// Claims is the claim set carried by both token classes. SessionID and
// Fingerprint bind a token to one session on one declared client.
type Claims struct {
	SessionID   string `json:"sid"`
	Fingerprint string `json:"fp"`
	jwt.RegisteredClaims
}

// NewCodec validates cfg and returns a Codec.
func NewCodec(cfg Config) (*Codec, error) {
	if len(cfg.AccessSecret) == 0 {
		return nil, errors.New("access token secret required")
	}
	if len(cfg.RefreshSecret) == 0 {
		return nil, errors.New("refresh token secret required")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = time.Hour
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	if cfg.RefreshNotBefore == 0 {
		cfg.RefreshNotBefore = defaultRefreshNotBefore
	}
	if cfg.RefreshNotBefore < 0 {
		cfg.RefreshNotBefore = 0
	}
	return &Codec{config: cfg}, nil
}

// IssueAccess mints an access token bound to the session and fingerprint.
func (c *Codec) IssueAccess(userID, sessionID, fingerprint string) (string, error) {
	return c.issue(c.config.AccessSecret, c.config.AccessTTL, 0, userID, sessionID, fingerprint)
}

// IssueRefresh mints a refresh token with the refresh secret and a short
// not-before window.
func (c *Codec) IssueRefresh(userID, sessionID, fingerprint string) (string, error) {
	return c.issue(c.config.RefreshSecret, c.config.RefreshTTL, c.config.RefreshNotBefore, userID, sessionID, fingerprint)
}

func (c *Codec) issue(secret []byte, ttl, notBefore time.Duration, userID, sessionID, fingerprint string) (string, error) {
	now := time.Now()
	claims := Claims{
		SessionID:   sessionID,
		Fingerprint: fingerprint,
		RegisteredClaims: jwt.RegisteredClaims{
			// The jti makes every mint unique. iat/exp have second
			// resolution, so without it two tokens for the same identity
			// minted inside one second would hash to the same storage key.
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    c.config.Issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	if c.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{c.config.Audience}
	}
	if notBefore > 0 {
		claims.NotBefore = jwt.NewNumericDate(now.Add(notBefore))
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// VerifyAccess checks signature, issuer, audience, and expiry, then
// compares the embedded fingerprint against expectedFingerprint. Expiry
// maps to [ErrExpired]; everything else, fingerprint mismatch included,
// maps to [ErrInvalid].
func (c *Codec) VerifyAccess(tokenStr, expectedFingerprint string) (*Claims, error) {
	claims, err := c.parse(tokenStr, c.config.AccessSecret)
	if err != nil {
		return nil, err
	}
	if claims.Fingerprint != expectedFingerprint {
		return nil, ErrInvalid
	}
	return claims, nil
}

// VerifyRefresh checks signature, issuer, audience, and expiry. The
// fingerprint is not checked at this layer; the orchestrator re-validates
// it against the stored session.
func (c *Codec) VerifyRefresh(tokenStr string) (*Claims, error) {
	return c.parse(tokenStr, c.config.RefreshSecret)
}

func (c *Codec) parse(tokenStr string, secret []byte) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if c.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(c.config.Issuer))
	}
	if c.config.Audience != "" {
		options = append(options, jwt.WithAudience(c.config.Audience))
	}

	parser := jwt.NewParser(options...)
	parsed, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalid
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalid
	}
	return claims, nil
}

// Hash returns the hex SHA-256 of a raw token. Deterministic; this is
// the only form of a token ever written to the session store.
func Hash(tokenStr string) string {
	sum := sha256.Sum256([]byte(tokenStr))
	return hex.EncodeToString(sum[:])
}
