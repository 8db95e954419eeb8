package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kuraykaraaslan/authcore/cache"
	"github.com/kuraykaraaslan/authcore/token"
	"github.com/kuraykaraaslan/authcore/user"
)

// memStore is an in-memory Store with the same conditional-update
// semantics as the SQL implementation.
type memStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]*Session)}
}

func (m *memStore) Create(ctx context.Context, sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sess
	m.sessions[sess.ID] = &cp
	return nil
}

func (m *memStore) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (m *memStore) GetByAccessHash(ctx context.Context, accessHash, fingerprint string, now time.Time) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sess := range m.sessions {
		if sess.AccessTokenHash == accessHash &&
			sess.DeviceFingerprint == fingerprint &&
			sess.ExpiresAt.After(now) {
			cp := *sess
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) Rotate(ctx context.Context, id, oldRefreshHash, newAccessHash, newRefreshHash string, newExpiry time.Time) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok || sess.Expired(time.Now()) {
		return nil, ErrNotFound
	}
	if sess.RefreshTokenHash != oldRefreshHash {
		return nil, ErrRotateConflict
	}
	sess.AccessTokenHash = newAccessHash
	sess.RefreshTokenHash = newRefreshHash
	sess.ExpiresAt = newExpiry
	cp := *sess
	return &cp, nil
}

func (m *memStore) SetOTPVerified(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.OTPVerifyNeeded = false
	return nil
}

func (m *memStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *memStore) DeleteAllForUser(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, sess := range m.sessions {
		if sess.UserID == userID {
			delete(m.sessions, id)
		}
	}
	return nil
}

func (m *memStore) DeleteOthers(ctx context.Context, userID, keepID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, sess := range m.sessions {
		if sess.UserID == userID && id != keepID {
			delete(m.sessions, id)
		}
	}
	return nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

type managerFixture struct {
	manager *Manager
	store   *memStore
	redis   *miniredis.Miniredis
}

func newManagerFixture(t *testing.T, lifetime time.Duration) *managerFixture {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	codec, err := token.NewCodec(token.Config{
		AccessSecret:     []byte("access-secret-for-tests"),
		RefreshSecret:    []byte("refresh-secret-for-tests"),
		AccessTTL:        time.Minute,
		RefreshTTL:       time.Hour,
		Issuer:           "authcore-test",
		RefreshNotBefore: -1,
	})
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}

	store := newMemStore()
	manager := NewManager(store, cache.New(rdb), codec, lifetime, 30*time.Second, zap.NewNop())

	return &managerFixture{manager: manager, store: store, redis: mr}
}

func testUser(methods ...user.OTPMethod) *user.User {
	return &user.User{
		ID:       "user-1",
		Email:    "u@example.com",
		Role:     user.RoleUser,
		Security: user.Security{OTPMethods: methods},
	}
}

func TestCreateAndResolve(t *testing.T) {
	f := newManagerFixture(t, time.Hour)
	ctx := context.Background()

	est, err := f.manager.Create(ctx, testUser(), "fp-1", false)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if est.AccessToken == "" || est.RefreshToken == "" {
		t.Fatal("expected raw tokens")
	}
	if est.Session.OTPVerifyNeeded {
		t.Fatal("user without otp methods must not be pending")
	}
	if est.Session.AccessTokenHash != token.Hash(est.AccessToken) {
		t.Fatal("stored hash does not match token")
	}

	sess, err := f.manager.Resolve(ctx, est.AccessToken, "fp-1")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if sess.ID != est.Session.ID {
		t.Fatal("resolved a different session")
	}

	// Second resolve should be served from the cache.
	if !f.redis.Exists(cacheKey("user-1", est.Session.AccessTokenHash)) {
		t.Fatal("verified session missing from cache")
	}
	if _, err := f.manager.Resolve(ctx, est.AccessToken, "fp-1"); err != nil {
		t.Fatalf("cached Resolve failed: %v", err)
	}
}

func TestResolveFingerprintMismatch(t *testing.T) {
	f := newManagerFixture(t, time.Hour)
	ctx := context.Background()

	est, err := f.manager.Create(ctx, testUser(), "fp-1", false)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := f.manager.Resolve(ctx, est.AccessToken, "fp-other"); !errors.Is(err, token.ErrInvalid) {
		t.Fatalf("expected token.ErrInvalid, got %v", err)
	}
}

func TestPendingSessionNotCached(t *testing.T) {
	f := newManagerFixture(t, time.Hour)
	ctx := context.Background()

	est, err := f.manager.Create(ctx, testUser(user.MethodEmail), "fp-1", false)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if !est.Session.OTPVerifyNeeded {
		t.Fatal("expected pending session")
	}

	sess, err := f.manager.Resolve(ctx, est.AccessToken, "fp-1")
	if !errors.Is(err, ErrOTPNeeded) {
		t.Fatalf("expected ErrOTPNeeded, got %v", err)
	}
	if sess == nil || sess.ID != est.Session.ID {
		t.Fatal("pending resolve must still return the session")
	}
	if f.redis.Exists(cacheKey("user-1", est.Session.AccessTokenHash)) {
		t.Fatal("pending session must not be cached")
	}

	if err := f.manager.MarkOTPVerified(ctx, sess); err != nil {
		t.Fatalf("MarkOTPVerified failed: %v", err)
	}

	if _, err := f.manager.Resolve(ctx, est.AccessToken, "fp-1"); err != nil {
		t.Fatalf("Resolve after verification failed: %v", err)
	}
}

func TestOTPIgnoreSkipsPending(t *testing.T) {
	f := newManagerFixture(t, time.Hour)

	est, err := f.manager.Create(context.Background(), testUser(user.MethodEmail), "fp-1", true)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if est.Session.OTPVerifyNeeded {
		t.Fatal("otpIgnore must skip the pending state")
	}
}

func TestRefreshRotatesTokensAndCache(t *testing.T) {
	f := newManagerFixture(t, time.Hour)
	ctx := context.Background()

	est, err := f.manager.Create(ctx, testUser(), "fp-1", false)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	// Populate the cache entry for the old access token.
	if _, err := f.manager.Resolve(ctx, est.AccessToken, "fp-1"); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	rotated, err := f.manager.Refresh(ctx, est.RefreshToken, "fp-1")
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if rotated.AccessToken == est.AccessToken || rotated.RefreshToken == est.RefreshToken {
		t.Fatal("refresh must mint new tokens")
	}
	if rotated.Session.ID != est.Session.ID {
		t.Fatal("refresh must keep the session identity")
	}

	if f.redis.Exists(cacheKey("user-1", est.Session.AccessTokenHash)) {
		t.Fatal("stale cache entry survived rotation")
	}
	if !f.redis.Exists(cacheKey("user-1", rotated.Session.AccessTokenHash)) {
		t.Fatal("rotated session missing from cache")
	}

	if _, err := f.manager.Resolve(ctx, est.AccessToken, "fp-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old access token must be dead, got %v", err)
	}
	if _, err := f.manager.Resolve(ctx, rotated.AccessToken, "fp-1"); err != nil {
		t.Fatalf("new access token failed to resolve: %v", err)
	}
}

func TestRefreshReuseWipesAllUserSessions(t *testing.T) {
	f := newManagerFixture(t, time.Hour)
	ctx := context.Background()

	usr := testUser()
	est, err := f.manager.Create(ctx, usr, "fp-1", false)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	other, err := f.manager.Create(ctx, usr, "fp-2", false)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := f.manager.Refresh(ctx, est.RefreshToken, "fp-1"); err != nil {
		t.Fatalf("first Refresh failed: %v", err)
	}

	// Presenting the already-rotated token again is reuse.
	if _, err := f.manager.Refresh(ctx, est.RefreshToken, "fp-1"); !errors.Is(err, ErrReuseDetected) {
		t.Fatalf("expected ErrReuseDetected, got %v", err)
	}

	if f.store.count() != 0 {
		t.Fatalf("expected a full wipe, %d sessions remain", f.store.count())
	}
	if f.redis.Exists(cacheKey(usr.ID, other.Session.AccessTokenHash)) {
		t.Fatal("cache entries survived the reuse wipe")
	}
}

func TestRefreshFingerprintMismatch(t *testing.T) {
	f := newManagerFixture(t, time.Hour)
	ctx := context.Background()

	est, err := f.manager.Create(ctx, testUser(), "fp-1", false)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := f.manager.Refresh(ctx, est.RefreshToken, "fp-other"); !errors.Is(err, token.ErrInvalid) {
		t.Fatalf("expected token.ErrInvalid, got %v", err)
	}
}

func TestSessionExactlyAtExpiryIsDead(t *testing.T) {
	f := newManagerFixture(t, 0)
	ctx := context.Background()

	est, err := f.manager.Create(ctx, testUser(), "fp-1", false)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := f.manager.Resolve(ctx, est.AccessToken, "fp-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for expired session, got %v", err)
	}
}

func TestDestroyOthersKeepsCurrent(t *testing.T) {
	f := newManagerFixture(t, time.Hour)
	ctx := context.Background()

	usr := testUser()
	keep, err := f.manager.Create(ctx, usr, "fp-1", false)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := f.manager.Create(ctx, usr, "fp-x", false); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	if err := f.manager.DestroyOthers(ctx, keep.Session); err != nil {
		t.Fatalf("DestroyOthers failed: %v", err)
	}
	if f.store.count() != 1 {
		t.Fatalf("expected one surviving session, got %d", f.store.count())
	}
	if _, err := f.manager.Resolve(ctx, keep.AccessToken, "fp-1"); err != nil {
		t.Fatalf("kept session failed to resolve: %v", err)
	}
}

func TestDestroyRemovesSession(t *testing.T) {
	f := newManagerFixture(t, time.Hour)
	ctx := context.Background()

	est, err := f.manager.Create(ctx, testUser(), "fp-1", false)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := f.manager.Resolve(ctx, est.AccessToken, "fp-1"); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if err := f.manager.Destroy(ctx, est.Session); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	if _, err := f.manager.Resolve(ctx, est.AccessToken, "fp-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("destroyed session must not resolve, got %v", err)
	}
}

func TestRefreshSurvivesAndLogsCacheSeedFailure(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	codec, err := token.NewCodec(token.Config{
		AccessSecret:     []byte("access-secret-for-tests"),
		RefreshSecret:    []byte("refresh-secret-for-tests"),
		AccessTTL:        time.Minute,
		RefreshTTL:       time.Hour,
		Issuer:           "authcore-test",
		RefreshNotBefore: -1,
	})
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}

	obs, logs := observer.New(zap.WarnLevel)
	manager := NewManager(newMemStore(), cache.New(rdb), codec, time.Hour, 30*time.Second, zap.New(obs))
	ctx := context.Background()

	est, err := manager.Create(ctx, testUser(), "fp-1", false)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Cache loss degrades to durable lookups; rotation still completes,
	// but the failed seed must leave a trace in the log.
	mr.Close()

	rotated, err := manager.Refresh(ctx, est.RefreshToken, "fp-1")
	if err != nil {
		t.Fatalf("Refresh must succeed with the cache down: %v", err)
	}
	if rotated.AccessToken == est.AccessToken {
		t.Fatal("refresh must mint new tokens")
	}

	seen := false
	for _, entry := range logs.All() {
		if entry.Message == "session cache seed failed" {
			seen = true
		}
	}
	if !seen {
		t.Fatal("expected a warning for the failed cache seed")
	}
}
