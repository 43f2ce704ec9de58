package bullwark

import (
	"context"
	"crypto"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/aussiebroadwan/bullwark/pkg/jwtx"
)

// KeySource publishes the issuer's verification keys.
type KeySource interface {
	FetchKeySet(ctx context.Context) (jwtx.JWKS, error)
}

// VerificationKey is a parsed public key from the key set.
type VerificationKey struct {
	Kid string
	JWK jwtx.JWK
	Key crypto.PublicKey
}

type cachedKey struct {
	key       VerificationKey
	expiresAt time.Time
}

// KeySetCache holds verification keys by kid. Entries are refetched once
// they outlive the TTL, even if the issuer still publishes them. Misses are
// never cached, so a key published after a failed lookup is picked up on
// the next call.
type KeySetCache struct {
	source KeySource
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]cachedKey

	group singleflight.Group
}

// NewKeySetCache returns a cache over source. A non-positive ttl uses the
// default of 24h.
func NewKeySetCache(source KeySource, ttl time.Duration) *KeySetCache {
	if ttl <= 0 {
		ttl = DefaultConfig().KeySetCacheTTL
	}
	return &KeySetCache{
		source:  source,
		ttl:     ttl,
		now:     time.Now,
		logger:  slog.Default(),
		entries: make(map[string]cachedKey),
	}
}

// Get returns the key for kid, fetching the key set at most once per call.
func (c *KeySetCache) Get(ctx context.Context, kid string) (VerificationKey, error) {
	c.mu.Lock()
	e, ok := c.entries[kid]
	if ok && e.expiresAt.After(c.now()) {
		c.mu.Unlock()
		return e.key, nil
	}
	if ok {
		delete(c.entries, kid)
	}
	c.mu.Unlock()

	// Concurrent misses for one kid share a single fetch. The fetch is
	// detached from ctx, one caller giving up must not fail the others.
	ch := c.group.DoChan(kid, func() (any, error) {
		return c.fetch(context.WithoutCancel(ctx), kid)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return VerificationKey{}, res.Err
		}
		return res.Val.(VerificationKey), nil
	case <-ctx.Done():
		return VerificationKey{}, newError(KindKeySourceUnavailable, "waiting for key set", ctx.Err())
	}
}

func (c *KeySetCache) fetch(ctx context.Context, kid string) (VerificationKey, error) {
	set, err := c.source.FetchKeySet(ctx)
	if err != nil {
		return VerificationKey{}, newError(KindKeySourceUnavailable, "fetch key set", err)
	}

	jwk, ok := set.Find(kid)
	if !ok {
		c.logger.Debug("kid not in key set", "kid", kid, "keys", len(set.Keys))
		return VerificationKey{}, newError(KindKeyNotFound, "kid "+kid, nil)
	}

	pub, err := jwtx.ParseJWK(jwk)
	if err != nil {
		return VerificationKey{}, newError(KindKeyNotFound, "kid "+kid+" is not a usable key", err)
	}

	key := VerificationKey{Kid: kid, JWK: jwk, Key: pub}

	c.mu.Lock()
	c.entries[kid] = cachedKey{key: key, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()

	return key, nil
}

// Purge drops every cached key.
func (c *KeySetCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

// Len reports the number of cached keys, expired ones included.
func (c *KeySetCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
