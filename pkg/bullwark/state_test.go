package bullwark

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/bullwark/pkg/jwtx"
	"github.com/aussiebroadwan/bullwark/pkg/storage"
)

func claimsWithHash(hash string, ttl time.Duration) *jwtx.Claims {
	c := testClaims(ttl)
	c.DetailsHash = hash
	return &c
}

func TestSessionState_CommitPersists(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	s := NewSessionState(store, false, discard)

	claims := claimsWithHash("h1", time.Hour)
	err := s.Commit(ctx, s.Epoch(), Update{
		Claims:       claims,
		Token:        "tok-1",
		Persist:      true,
		User:         &User{UUID: "user-1"},
		RefreshToken: "rt-1",
	})
	require.NoError(t, err)

	require.True(t, s.Authenticated())
	tok, ok := s.Token()
	require.True(t, ok)
	require.Equal(t, "tok-1", tok)
	u, ok := s.User()
	require.True(t, ok)
	require.Equal(t, "user-1", u.UUID)
	_, ok = s.UserCachedAt()
	require.True(t, ok)

	got, err := store.Get(ctx, StorageKeyToken)
	require.NoError(t, err)
	require.Equal(t, "tok-1", got)

	exp, err := store.Get(ctx, StorageKeyTokenExpiry)
	require.NoError(t, err)
	require.Equal(t, strconv.FormatInt(claims.ExpiresAt.Unix(), 10), exp)

	rt, err := store.Get(ctx, StorageKeyRefreshToken)
	require.NoError(t, err)
	require.Equal(t, "rt-1", rt)

	// A second process restores both.
	other := NewSessionState(store, false, discard)
	restored, ok := other.Restore(ctx)
	require.True(t, ok)
	require.Equal(t, "tok-1", restored)
	require.False(t, other.Authenticated())
	held, ok := other.RefreshToken()
	require.True(t, ok)
	require.Equal(t, "rt-1", held)
}

func TestSessionState_CookieModeNeverHoldsRefreshToken(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	s := NewSessionState(store, true, discard)

	err := s.SetRefreshToken(ctx, "rt")
	require.Equal(t, KindInvalidConfiguration, KindOf(err))

	err = s.Commit(ctx, s.Epoch(), Update{Claims: claimsWithHash("h", time.Hour), Token: "t", Persist: true, RefreshToken: "rt"})
	require.NoError(t, err)

	_, ok := s.RefreshToken()
	require.False(t, ok)
	_, err = store.Get(ctx, StorageKeyRefreshToken)
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.Set(ctx, StorageKeyRefreshToken, "planted"))
	restored := NewSessionState(store, true, discard)
	_, _ = restored.Restore(ctx)
	_, ok = restored.RefreshToken()
	require.False(t, ok)
}

func TestSessionState_SetRefreshToken(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	s := NewSessionState(store, false, discard)

	require.NoError(t, s.SetRefreshToken(ctx, "rt-9"))
	v, err := store.Get(ctx, StorageKeyRefreshToken)
	require.NoError(t, err)
	require.Equal(t, "rt-9", v)

	require.NoError(t, s.SetRefreshToken(ctx, ""))
	_, err = store.Get(ctx, StorageKeyRefreshToken)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSessionState_InvalidateErasesEverything(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	s := NewSessionState(store, false, discard)

	require.NoError(t, s.Commit(ctx, s.Epoch(), Update{
		Claims: claimsWithHash("h", time.Hour), Token: "t", Persist: true,
		User: &User{UUID: "u"}, RefreshToken: "rt",
	}))

	before := s.Epoch()
	s.Invalidate(ctx)
	s.Invalidate(ctx)

	require.Greater(t, s.Epoch(), before)
	require.False(t, s.Authenticated())
	_, ok := s.Token()
	require.False(t, ok)
	_, ok = s.TokenExpiry()
	require.False(t, ok)
	_, ok = s.User()
	require.False(t, ok)
	_, ok = s.RefreshToken()
	require.False(t, ok)
	_, ok = s.DetailsHash()
	require.False(t, ok)
	require.Zero(t, store.Len())
}

func TestSessionState_StaleCommitDiscarded(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	s := NewSessionState(store, false, discard)

	epoch := s.Epoch()
	s.Invalidate(ctx)

	err := s.Commit(ctx, epoch, Update{Claims: claimsWithHash("h", time.Hour), Token: "late", Persist: true})
	require.Equal(t, KindSessionSuperseded, KindOf(err))
	require.False(t, s.Authenticated())
	require.Zero(t, store.Len())

	require.ErrorIs(t, s.ApplyUserProfileAt(epoch, &User{UUID: "u"}), ErrSessionSuperseded)
	require.False(t, s.InvalidateAt(ctx, epoch))
	require.True(t, s.InvalidateAt(ctx, s.Epoch()))
}

func TestSessionState_DetailsHashRotation(t *testing.T) {
	ctx := context.Background()
	s := NewSessionState(storage.NewMemory(), false, discard)

	require.False(t, s.DetailsHashWouldChange("h1"))
	s.ApplyVerifiedToken(ctx, claimsWithHash("h1", time.Hour), "t1", false)
	require.False(t, s.DetailsHashChanged())

	require.False(t, s.DetailsHashWouldChange("h1"))
	s.ApplyVerifiedToken(ctx, claimsWithHash("h1", time.Hour), "t2", false)
	require.False(t, s.DetailsHashChanged())

	require.True(t, s.DetailsHashWouldChange("h2"))
	s.ApplyVerifiedToken(ctx, claimsWithHash("h2", time.Hour), "t3", false)
	require.True(t, s.DetailsHashChanged())

	h, _ := s.DetailsHash()
	require.Equal(t, "h2", h)
}

func TestSessionState_CommitRotatesDetailsHash(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	s := NewSessionState(store, false, discard)

	require.NoError(t, s.Commit(ctx, s.Epoch(), Update{Claims: claimsWithHash("h1", time.Hour), Token: "t1", RefreshToken: "rt-1"}))
	require.False(t, s.DetailsHashChanged())
	require.True(t, s.Authenticated())

	require.NoError(t, s.Commit(ctx, s.Epoch(), Update{Claims: claimsWithHash("h2", time.Hour), Token: "t2", RefreshToken: "rt-2"}))
	require.True(t, s.DetailsHashChanged())

	held, ok := s.RefreshToken()
	require.True(t, ok)
	require.Equal(t, "rt-2", held)
	v, err := store.Get(ctx, StorageKeyRefreshToken)
	require.NoError(t, err)
	require.Equal(t, "rt-2", v)
}

func TestSessionState_SetAuthenticatedNeedsToken(t *testing.T) {
	ctx := context.Background()
	s := NewSessionState(storage.NewMemory(), false, discard)

	s.SetAuthenticated(true)
	require.False(t, s.Authenticated())

	s.ApplyVerifiedToken(ctx, claimsWithHash("h", time.Hour), "t", false)
	s.SetAuthenticated(true)
	require.True(t, s.Authenticated())
}

func TestSessionState_StorageFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	logger, logs := captureLogger()
	s := NewSessionState(failingStore{}, false, logger)

	_, ok := s.Restore(ctx)
	require.False(t, ok)

	err := s.Commit(ctx, s.Epoch(), Update{Claims: claimsWithHash("h", time.Hour), Token: "t", Persist: true, RefreshToken: "rt"})
	require.NoError(t, err)
	require.True(t, s.Authenticated())
	require.Contains(t, logs.String(), "session storage write failed")

	s.Invalidate(ctx)
	require.False(t, s.Authenticated())
	require.Contains(t, logs.String(), "session storage remove failed")
}

func TestSessionState_InvalidateIfErased(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	s := NewSessionState(store, false, discard)

	require.False(t, s.InvalidateIfErased(ctx))

	require.NoError(t, s.Commit(ctx, s.Epoch(), Update{Claims: claimsWithHash("h", time.Hour), Token: "t", Persist: true}))
	require.False(t, s.InvalidateIfErased(ctx))

	require.NoError(t, store.Remove(ctx, StorageKeyToken))
	require.True(t, s.InvalidateIfErased(ctx))
	require.False(t, s.Authenticated())
}

func TestSessionState_MarkInitialized(t *testing.T) {
	s := NewSessionState(storage.NewMemory(), false, discard)
	require.False(t, s.Initialized())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, s.WaitInitialized(ctx), context.DeadlineExceeded)

	s.MarkInitialized()
	s.MarkInitialized()
	require.True(t, s.Initialized())
	require.NoError(t, s.WaitInitialized(context.Background()))

	select {
	case <-s.Ready():
	default:
		t.Fatal("ready channel not closed")
	}
}
