package session

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when no live session matches the lookup.
var ErrNotFound = errors.New("session not found")

// ErrRotateConflict is returned by Rotate when the session row exists
// but its stored refresh hash disagrees with the presented one. The
// Manager treats this as refresh token reuse.
var ErrRotateConflict = errors.New("refresh hash conflict")

// Store is the durable session contract. The Manager is its only
// caller; correctness under concurrent refresh attempts relies on
// Rotate being a single atomic conditional update, not on locks.
type Store interface {
	Create(ctx context.Context, sess *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	GetByAccessHash(ctx context.Context, accessHash, fingerprint string, now time.Time) (*Session, error)
	Rotate(ctx context.Context, id, oldRefreshHash, newAccessHash, newRefreshHash string, newExpiry time.Time) (*Session, error)
	SetOTPVerified(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	DeleteAllForUser(ctx context.Context, userID string) error
	DeleteOthers(ctx context.Context, userID, keepID string) error
}

// NOTE: expected table schema (Postgres):
//
//	CREATE TABLE sessions (
//	  id TEXT PRIMARY KEY,
//	  user_id TEXT NOT NULL,
//	  access_token_hash TEXT NOT NULL,
//	  refresh_token_hash TEXT NOT NULL,
//	  device_fingerprint TEXT NOT NULL,
//	  otp_verify_needed BOOLEAN NOT NULL DEFAULT FALSE,
//	  created_at TIMESTAMP WITH TIME ZONE NOT NULL,
//	  session_expiry TIMESTAMP WITH TIME ZONE NOT NULL
//	);
//	CREATE INDEX sessions_access_hash_idx ON sessions (access_token_hash);
//	CREATE INDEX sessions_user_idx ON sessions (user_id);
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore returns a Postgres-backed [Store].
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

const sessionColumns = `id, user_id, access_token_hash, refresh_token_hash, device_fingerprint, otp_verify_needed, created_at, session_expiry`

func (s *SQLStore) Create(ctx context.Context, sess *Session) error {
	query := `INSERT INTO sessions (` + sessionColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := s.db.ExecContext(ctx, query,
		sess.ID, sess.UserID, sess.AccessTokenHash, sess.RefreshTokenHash,
		sess.DeviceFingerprint, sess.OTPVerifyNeeded, sess.CreatedAt, sess.ExpiresAt)
	return err
}

func (s *SQLStore) Get(ctx context.Context, id string) (*Session, error) {
	var sess Session
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	if err := s.db.GetContext(ctx, &sess, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sess, nil
}

// GetByAccessHash looks up the live session bound to the access token
// hash and fingerprint. The live condition is session_expiry > now; a
// row exactly at its expiry is already dead. A fingerprint mismatch is
// indistinguishable from absence.
func (s *SQLStore) GetByAccessHash(ctx context.Context, accessHash, fingerprint string, now time.Time) (*Session, error) {
	var sess Session
	query := `SELECT ` + sessionColumns + ` FROM sessions
	          WHERE access_token_hash = $1 AND device_fingerprint = $2 AND session_expiry > $3`
	if err := s.db.GetContext(ctx, &sess, query, accessHash, fingerprint, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sess, nil
}

// Rotate swaps the token hashes and advances expiry in one conditional
// UPDATE keyed on the old refresh hash. Under two concurrent refresh
// calls racing on the same stale token, at most one UPDATE matches; the
// loser observes ErrRotateConflict (row present, hash superseded) or
// ErrNotFound (row gone or expired).
func (s *SQLStore) Rotate(ctx context.Context, id, oldRefreshHash, newAccessHash, newRefreshHash string, newExpiry time.Time) (*Session, error) {
	var sess Session
	query := `UPDATE sessions
	          SET access_token_hash = $3, refresh_token_hash = $4, session_expiry = $5
	          WHERE id = $1 AND refresh_token_hash = $2 AND session_expiry > $6
	          RETURNING ` + sessionColumns
	err := s.db.GetContext(ctx, &sess, query, id, oldRefreshHash, newAccessHash, newRefreshHash, newExpiry, time.Now())
	if err == nil {
		return &sess, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	// Distinguish a superseded hash from a missing or expired row.
	existing, getErr := s.Get(ctx, id)
	if getErr != nil {
		return nil, ErrNotFound
	}
	if existing.Expired(time.Now()) {
		return nil, ErrNotFound
	}
	return nil, ErrRotateConflict
}

func (s *SQLStore) SetOTPVerified(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET otp_verify_needed = FALSE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return err
}

func (s *SQLStore) DeleteAllForUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	return err
}

func (s *SQLStore) DeleteOthers(ctx context.Context, userID, keepID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1 AND id <> $2`, userID, keepID)
	return err
}
