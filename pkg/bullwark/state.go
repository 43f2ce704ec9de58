package bullwark

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/aussiebroadwan/bullwark/pkg/jwtx"
	"github.com/aussiebroadwan/bullwark/pkg/storage"
)

// Keys the session is persisted under.
const (
	StorageKeyToken        = "bullwark:jwt"
	StorageKeyTokenExpiry  = "bullwark:jwt-exp"
	StorageKeyRefreshToken = "bullwark:refresh"
)

// SessionState is the only place session data is mutated. Every method is a
// self contained transition under the lock, storage I/O happens outside it.
//
// Invariants: authenticated implies a token that came out of a successful
// verification; a refresh token is only ever held outside cookie mode.
type SessionState struct {
	store      storage.Storage
	cookieMode bool
	now        func() time.Time
	logger     *slog.Logger

	mu                  sync.RWMutex
	initialized         bool
	authenticated       bool
	token               string
	tokenExpiry         time.Time
	refreshToken        string
	detailsHash         string
	previousDetailsHash string
	user                *User
	userCachedAt        time.Time

	// epoch is bumped by every Invalidate so that results of network calls
	// started before a teardown can be recognised and dropped.
	epoch uint64

	// persistMu serializes whole transitions including their storage I/O,
	// so a slow Set can't land after a later Remove. Lock order is
	// persistMu then mu; mu is never held across storage calls.
	persistMu sync.Mutex

	readyOnce sync.Once
	ready     chan struct{}
}

// NewSessionState returns an empty, uninitialized session.
func NewSessionState(store storage.Storage, cookieMode bool, logger *slog.Logger) *SessionState {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionState{
		store:      store,
		cookieMode: cookieMode,
		now:        time.Now,
		logger:     logger,
		ready:      make(chan struct{}),
	}
}

// Restore loads the persisted refresh token into memory and returns the
// persisted access token, if any. The access token stays untrusted until
// the caller verifies it and calls ApplyVerifiedToken.
func (s *SessionState) Restore(ctx context.Context) (string, bool) {
	if !s.cookieMode {
		if rt, ok := s.read(ctx, StorageKeyRefreshToken); ok && rt != "" {
			s.mu.Lock()
			s.refreshToken = rt
			s.mu.Unlock()
		}
	}
	tok, ok := s.read(ctx, StorageKeyToken)
	if !ok || tok == "" {
		return "", false
	}
	return tok, true
}

// ApplyVerifiedToken installs a token the caller has already verified and
// rotates the details hash. With persist the token and its expiry are also
// written to storage.
func (s *SessionState) ApplyVerifiedToken(ctx context.Context, claims *jwtx.Claims, raw string, persist bool) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	s.applyTokenLocked(claims, raw)
	expiry := s.tokenExpiry
	s.mu.Unlock()

	if persist {
		s.persistToken(ctx, raw, expiry)
	}
}

func (s *SessionState) applyTokenLocked(claims *jwtx.Claims, raw string) {
	s.token = raw
	s.tokenExpiry, _ = claims.Expiry()
	s.previousDetailsHash = s.detailsHash
	s.detailsHash = claims.DetailsHash
}

// persistToken must be called with persistMu held.
func (s *SessionState) persistToken(ctx context.Context, raw string, expiry time.Time) {
	s.write(ctx, StorageKeyToken, raw)
	s.write(ctx, StorageKeyTokenExpiry, strconv.FormatInt(expiry.Unix(), 10))
}

// ApplyUserProfile replaces the cached profile and stamps its cache time.
func (s *SessionState) ApplyUserProfile(user *User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyUserLocked(user)
}

// ApplyUserProfileAt is ApplyUserProfile guarded by epoch like Commit.
func (s *SessionState) ApplyUserProfileAt(epoch uint64, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return newError(KindSessionSuperseded, "session was torn down while the profile was loading", nil)
	}
	s.applyUserLocked(user)
	return nil
}

func (s *SessionState) applyUserLocked(user *User) {
	s.user = user.Clone()
	s.userCachedAt = s.now()
}

func (s *SessionState) SetAuthenticated(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setAuthenticatedLocked(v)
}

// An unverified session can't be authenticated, there must be a token.
func (s *SessionState) setAuthenticatedLocked(v bool) {
	s.authenticated = v && s.token != ""
}

// SetRefreshToken holds and persists a client side refresh token. It fails
// in cookie mode, where the refresh token must stay in the HTTP-only cookie.
func (s *SessionState) SetRefreshToken(ctx context.Context, token string) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	err := s.holdRefreshTokenLocked(token)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.persistRefreshToken(ctx, token)
	return nil
}

func (s *SessionState) holdRefreshTokenLocked(token string) error {
	if s.cookieMode {
		return newError(KindInvalidConfiguration, "refresh tokens are cookie held in this mode", nil)
	}
	s.refreshToken = token
	return nil
}

// persistRefreshToken must be called with persistMu held.
func (s *SessionState) persistRefreshToken(ctx context.Context, token string) {
	if token == "" {
		s.remove(ctx, StorageKeyRefreshToken)
		return
	}
	s.write(ctx, StorageKeyRefreshToken, token)
}

// DetailsHashChanged reports whether the last applied token carried a
// different details hash than the one before it.
func (s *SessionState) DetailsHashChanged() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.previousDetailsHash != "" && s.previousDetailsHash != s.detailsHash
}

// DetailsHashWouldChange reports whether applying a token with hash next
// would make DetailsHashChanged true.
func (s *SessionState) DetailsHashWouldChange(next string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.detailsHash != "" && s.detailsHash != next
}

// Invalidate clears the session and erases its persisted copy. Calling it
// again is harmless.
func (s *SessionState) Invalidate(ctx context.Context) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	s.clearLocked()
	s.mu.Unlock()

	s.erase(ctx)
}

// InvalidateAt is Invalidate, but only if no other invalidation happened
// since epoch was read. It reports whether the session was cleared.
func (s *SessionState) InvalidateAt(ctx context.Context, epoch uint64) bool {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return false
	}
	s.clearLocked()
	s.mu.Unlock()

	s.erase(ctx)
	return true
}

// InvalidateIfErased drops an authenticated session whose persisted token
// is gone from storage, e.g. removed by another process sharing the store.
// It reports whether the session was dropped.
func (s *SessionState) InvalidateIfErased(ctx context.Context) bool {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	if !s.Authenticated() {
		return false
	}
	if _, err := s.store.Get(ctx, StorageKeyToken); !errors.Is(err, storage.ErrNotFound) {
		return false
	}

	s.mu.Lock()
	s.clearLocked()
	s.mu.Unlock()

	s.erase(ctx)
	return true
}

func (s *SessionState) clearLocked() {
	s.authenticated = false
	s.token = ""
	s.tokenExpiry = time.Time{}
	s.refreshToken = ""
	s.detailsHash = ""
	s.previousDetailsHash = ""
	s.user = nil
	s.userCachedAt = time.Time{}
	s.epoch++
}

// erase must be called with persistMu held.
func (s *SessionState) erase(ctx context.Context) {
	s.remove(ctx, StorageKeyToken)
	s.remove(ctx, StorageKeyTokenExpiry)
	s.remove(ctx, StorageKeyRefreshToken)
}

// MarkInitialized records that startup hydration finished. Only the first
// call has an effect.
func (s *SessionState) MarkInitialized() {
	s.readyOnce.Do(func() {
		s.mu.Lock()
		s.initialized = true
		s.mu.Unlock()
		close(s.ready)
	})
}

// Ready is closed once the session is initialized.
func (s *SessionState) Ready() <-chan struct{} { return s.ready }

// WaitInitialized blocks until the session is initialized or ctx is done.
func (s *SessionState) WaitInitialized(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Epoch returns the invalidation counter.
func (s *SessionState) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// Update is a complete session change produced by login, refresh or
// hydration, applied by Commit in one step.
type Update struct {
	Claims  *jwtx.Claims
	Token   string
	Persist bool

	// User replaces the cached profile when non-nil.
	User *User

	// RefreshToken is stored when non-empty. Ignored in cookie mode.
	RefreshToken string
}

// Commit applies u and marks the session authenticated, provided no
// Invalidate happened since epoch was read. Otherwise nothing changes and
// a KindSessionSuperseded error is returned.
func (s *SessionState) Commit(ctx context.Context, epoch uint64, u Update) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return newError(KindSessionSuperseded, "session was torn down while the request was in flight", nil)
	}
	s.applyTokenLocked(u.Claims, u.Token)
	if u.User != nil {
		s.applyUserLocked(u.User)
	}
	storeRefresh := false
	if u.RefreshToken != "" {
		if err := s.holdRefreshTokenLocked(u.RefreshToken); err != nil {
			s.logger.Debug("refresh token in response ignored", "error", err)
		} else {
			storeRefresh = true
		}
	}
	s.setAuthenticatedLocked(true)
	expiry := s.tokenExpiry
	s.mu.Unlock()

	if u.Persist {
		s.persistToken(ctx, u.Token, expiry)
	}
	if storeRefresh {
		s.persistRefreshToken(ctx, u.RefreshToken)
	}
	return nil
}

// ============================================================================
// Accessors
// ============================================================================

func (s *SessionState) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

func (s *SessionState) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

func (s *SessionState) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != ""
}

func (s *SessionState) TokenExpiry() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokenExpiry, !s.tokenExpiry.IsZero()
}

func (s *SessionState) RefreshToken() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshToken, s.refreshToken != ""
}

func (s *SessionState) DetailsHash() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.detailsHash, s.detailsHash != ""
}

// User returns a copy of the cached profile.
func (s *SessionState) User() (*User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user.Clone(), s.user != nil
}

func (s *SessionState) UserCachedAt() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userCachedAt, !s.userCachedAt.IsZero()
}

// ============================================================================
// Storage
// ============================================================================

// Storage failures never abort a session transition, the session carries on
// in memory.

func (s *SessionState) read(ctx context.Context, key string) (string, bool) {
	v, err := s.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("session storage read failed", "key", key, "error", err)
		}
		return "", false
	}
	return v, true
}

func (s *SessionState) write(ctx context.Context, key, value string) {
	if err := s.store.Set(ctx, key, value); err != nil {
		s.logger.Warn("session storage write failed, continuing in memory", "key", key, "error", err)
	}
}

func (s *SessionState) remove(ctx context.Context, key string) {
	if err := s.store.Remove(ctx, key); err != nil {
		s.logger.Warn("session storage remove failed", "key", key, "error", err)
	}
}
