package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when no user matches the lookup key.
var ErrNotFound = errors.New("user not found")

// ErrDuplicateEmail is returned when a create collides on email.
var ErrDuplicateEmail = errors.New("email already registered")

// Store is the query contract the session core consumes. The relational
// schema behind it is owned elsewhere; the core only depends on
// fetch-by-unique-key, create, and update semantics.
type Store interface {
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	Create(ctx context.Context, u *User) error
	UpdateSecurity(ctx context.Context, userID string, sec Security) error
	UpsertSocialAccount(ctx context.Context, link *SocialAccount) error
}

// NOTE: expected table schema (Postgres):
//
//	CREATE TABLE users (
//	  id TEXT PRIMARY KEY,
//	  email TEXT NOT NULL UNIQUE,
//	  phone TEXT NOT NULL DEFAULT '',
//	  name TEXT NOT NULL DEFAULT '',
//	  role TEXT NOT NULL,
//	  password_hash TEXT NOT NULL DEFAULT '',
//	  security JSONB NOT NULL DEFAULT '{}',
//	  created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
//	);
//	CREATE TABLE social_accounts (
//	  provider TEXT NOT NULL,
//	  user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
//	  provider_account_id TEXT NOT NULL,
//	  access_token TEXT NOT NULL DEFAULT '',
//	  refresh_token TEXT NOT NULL DEFAULT '',
//	  PRIMARY KEY (provider, user_id)
//	);
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore returns a Postgres-backed [Store].
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

type userRow struct {
	ID           string    `db:"id"`
	Email        string    `db:"email"`
	Phone        string    `db:"phone"`
	Name         string    `db:"name"`
	Role         string    `db:"role"`
	PasswordHash string    `db:"password_hash"`
	Security     []byte    `db:"security"`
	CreatedAt    time.Time `db:"created_at"`
}

func (r *userRow) toUser() (*User, error) {
	u := &User{
		ID:           r.ID,
		Email:        r.Email,
		Phone:        r.Phone,
		Name:         r.Name,
		Role:         Role(r.Role),
		PasswordHash: r.PasswordHash,
		CreatedAt:    r.CreatedAt,
	}
	if err := unmarshalSecurity(r.Security, &u.Security); err != nil {
		return nil, fmt.Errorf("decode user security: %w", err)
	}
	return u, nil
}

const userColumns = `id, email, phone, name, role, password_hash, security, created_at`

func (s *SQLStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	var row userRow
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	if err := s.db.GetContext(ctx, &row, query, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toUser()
}

func (s *SQLStore) GetByID(ctx context.Context, id string) (*User, error) {
	var row userRow
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toUser()
}

func (s *SQLStore) Create(ctx context.Context, u *User) error {
	sec, err := marshalSecurity(u.Security)
	if err != nil {
		return err
	}

	query := `INSERT INTO users (id, email, phone, name, role, password_hash, security, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	          ON CONFLICT (email) DO NOTHING`
	res, err := s.db.ExecContext(ctx, query,
		u.ID, u.Email, u.Phone, u.Name, string(u.Role), u.PasswordHash, sec, u.CreatedAt)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrDuplicateEmail
	}
	return nil
}

func (s *SQLStore) UpdateSecurity(ctx context.Context, userID string, sec Security) error {
	data, err := marshalSecurity(sec)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `UPDATE users SET security = $2 WHERE id = $1`, userID, data)
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

// UpsertSocialAccount creates or refreshes the (provider, user) link.
// Re-authenticating through the same provider updates the provider
// subject and tokens in place rather than duplicating the row.
func (s *SQLStore) UpsertSocialAccount(ctx context.Context, link *SocialAccount) error {
	query := `INSERT INTO social_accounts (provider, user_id, provider_account_id, access_token, refresh_token)
	          VALUES ($1, $2, $3, $4, $5)
	          ON CONFLICT (provider, user_id) DO UPDATE
	          SET provider_account_id = EXCLUDED.provider_account_id,
	              access_token = EXCLUDED.access_token,
	              refresh_token = EXCLUDED.refresh_token`
	_, err := s.db.ExecContext(ctx, query,
		link.Provider, link.UserID, link.ProviderAccountID, link.AccessToken, link.RefreshToken)
	return err
}
