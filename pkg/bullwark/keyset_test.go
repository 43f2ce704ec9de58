package bullwark

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeySetCache_HitAvoidsFetch(t *testing.T) {
	signer := newTestSigner(t, "k1")
	src := &fakeKeySource{}
	src.publish(signer.PublicJWK())

	cache := NewKeySetCache(src, time.Hour)

	key, err := cache.Get(context.Background(), "k1")
	require.NoError(t, err)
	require.Equal(t, "k1", key.Kid)
	require.NotNil(t, key.Key)

	_, err = cache.Get(context.Background(), "k1")
	require.NoError(t, err)
	require.EqualValues(t, 1, src.calls.Load())
	require.Equal(t, 1, cache.Len())
}

func TestKeySetCache_MissIsNotCached(t *testing.T) {
	src := &fakeKeySource{}
	cache := NewKeySetCache(src, time.Hour)

	_, err := cache.Get(context.Background(), "k2")
	require.Equal(t, KindKeyNotFound, KindOf(err))
	require.ErrorIs(t, err, ErrKeyNotFound)

	// Key rotation: the issuer publishes k2 after the failed lookup.
	src.publish(newTestSigner(t, "k2").PublicJWK())

	key, err := cache.Get(context.Background(), "k2")
	require.NoError(t, err)
	require.Equal(t, "k2", key.Kid)
	require.EqualValues(t, 2, src.calls.Load())
}

func TestKeySetCache_ExpiredEntryRefetched(t *testing.T) {
	src := &fakeKeySource{}
	src.publish(newTestSigner(t, "k1").PublicJWK())

	now := time.Now()
	cache := NewKeySetCache(src, time.Minute)
	cache.now = func() time.Time { return now }

	_, err := cache.Get(context.Background(), "k1")
	require.NoError(t, err)

	now = now.Add(30 * time.Second)
	_, err = cache.Get(context.Background(), "k1")
	require.NoError(t, err)
	require.EqualValues(t, 1, src.calls.Load())

	now = now.Add(time.Minute)
	_, err = cache.Get(context.Background(), "k1")
	require.NoError(t, err)
	require.EqualValues(t, 2, src.calls.Load())
}

func TestKeySetCache_SourceFailure(t *testing.T) {
	src := &fakeKeySource{}
	src.fail(errors.New("connection refused"))
	cache := NewKeySetCache(src, time.Hour)

	_, err := cache.Get(context.Background(), "k1")
	require.Equal(t, KindKeySourceUnavailable, KindOf(err))
	require.False(t, KindOf(err).Fatal())
	require.Zero(t, cache.Len())
}

func TestKeySetCache_UnusableKey(t *testing.T) {
	src := &fakeKeySource{}
	jwk := newTestSigner(t, "k1").PublicJWK()
	jwk.X = "!!not base64!!"
	src.publish(jwk)

	cache := NewKeySetCache(src, time.Hour)
	_, err := cache.Get(context.Background(), "k1")
	require.Equal(t, KindKeyNotFound, KindOf(err))
}

func TestKeySetCache_ConcurrentMissesShareFetch(t *testing.T) {
	src := &fakeKeySource{gate: make(chan struct{})}
	src.publish(newTestSigner(t, "k1").PublicJWK())
	cache := NewKeySetCache(src, time.Hour)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.Get(context.Background(), "k1")
			errs <- err
		}()
	}

	// Let every goroutine join the in-flight lookup.
	time.Sleep(50 * time.Millisecond)
	close(src.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, src.calls.Load())
}

func TestKeySetCache_CancelledCallerDoesNotFailOthers(t *testing.T) {
	src := &fakeKeySource{gate: make(chan struct{})}
	src.publish(newTestSigner(t, "k1").PublicJWK())
	cache := NewKeySetCache(src, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := cache.Get(ctx, "k1")
		first <- err
	}()
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, 5*time.Second, time.Millisecond)

	second := make(chan error, 1)
	go func() {
		_, err := cache.Get(context.Background(), "k1")
		second <- err
	}()
	// Let the second caller join the in-flight lookup.
	time.Sleep(50 * time.Millisecond)

	cancel()
	err := <-first
	require.Equal(t, KindKeySourceUnavailable, KindOf(err))
	require.ErrorIs(t, err, context.Canceled)

	close(src.gate)
	require.NoError(t, <-second)
	require.EqualValues(t, 1, src.calls.Load())
	require.Equal(t, 1, cache.Len())
}

func TestKeySetCache_Purge(t *testing.T) {
	src := &fakeKeySource{}
	src.publish(newTestSigner(t, "k1").PublicJWK())
	cache := NewKeySetCache(src, 0)
	require.Equal(t, DefaultConfig().KeySetCacheTTL, cache.ttl)

	_, err := cache.Get(context.Background(), "k1")
	require.NoError(t, err)
	cache.Purge()
	require.Zero(t, cache.Len())

	_, err = cache.Get(context.Background(), "k1")
	require.NoError(t, err)
	require.EqualValues(t, 2, src.calls.Load())
}
