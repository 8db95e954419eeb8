package otp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps any Redis transport failure.
var ErrRedisUnavailable = errors.New("otp store unavailable")

// Store keeps delivered code hashes and per-challenge send counters in
// Redis. Codes are stored hashed only; the raw code exists solely in
// the outbound message.
type Store struct {
	redis redis.UniversalClient
}

// NewStore returns a Redis-backed OTP store.
func NewStore(client redis.UniversalClient) *Store {
	return &Store{redis: client}
}

func codeKey(sessionID, method string) string {
	return fmt.Sprintf("otp:code:%s:%s", sessionID, method)
}

func rateKey(sessionID, method string) string {
	return fmt.Sprintf("otp:rate:%s:%s", sessionID, method)
}

// SaveCode stores the code hash for the (session, method) pair with
// ttl. A resend overwrites the previous code and restarts its clock.
func (s *Store) SaveCode(ctx context.Context, sessionID, method, codeHash string, ttl time.Duration) error {
	if err := s.redis.Set(ctx, codeKey(sessionID, method), codeHash, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// GetCode returns the stored code hash, or "" when none is live.
func (s *Store) GetCode(ctx context.Context, sessionID, method string) (string, error) {
	hash, err := s.redis.Get(ctx, codeKey(sessionID, method)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return hash, nil
}

// Consume removes the code and its send counter. Called on successful
// validation so a code can never be replayed.
func (s *Store) Consume(ctx context.Context, sessionID, method string) error {
	keys := []string{codeKey(sessionID, method), rateKey(sessionID, method)}
	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// IncrementSends bumps the fixed-window send counter for the
// (session, method) pair and returns the new count. The TTL is set
// only on the first hit in the window.
func (s *Store) IncrementSends(ctx context.Context, sessionID, method string, window time.Duration) (int64, error) {
	key := rateKey(sessionID, method)
	count, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count == 1 {
		if err := s.redis.Expire(ctx, key, window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return count, nil
}
