package bullwark

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/bullwark/pkg/cryptox"
	"github.com/aussiebroadwan/bullwark/pkg/jwtx"
	"github.com/aussiebroadwan/bullwark/pkg/slogx"
)

var testConstraints = jwtx.Constraints{
	Issuer:   jwtx.DefaultIssuer,
	Audience: []string{jwtx.DefaultAudience},
}

// fakeKeySource serves a mutable key set and counts fetches.
type fakeKeySource struct {
	mu    sync.Mutex
	set   jwtx.JWKS
	err   error
	gate  chan struct{}
	calls atomic.Int32
}

func (f *fakeKeySource) FetchKeySet(ctx context.Context) (jwtx.JWKS, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return jwtx.JWKS{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return jwtx.JWKS{}, f.err
	}
	return f.set, nil
}

func (f *fakeKeySource) publish(keys ...jwtx.JWK) {
	f.mu.Lock()
	f.set.Keys = append(f.set.Keys, keys...)
	f.mu.Unlock()
}

func (f *fakeKeySource) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func newTestSigner(t *testing.T, kid string) *jwtx.Signer {
	t.Helper()

	pemKey, err := cryptox.GenerateEd25519Key()
	require.NoError(t, err)
	s, err := jwtx.NewSigner(kid, pemKey)
	require.NoError(t, err)
	return s
}

func testClaims(ttl time.Duration) jwtx.Claims {
	return jwtx.NewSessionClaims("user-1", "tenant-1", "", "hash-1", ttl,
		jwtx.DefaultIssuer, []string{jwtx.DefaultAudience}, time.Now())
}

func signClaims(t *testing.T, s *jwtx.Signer, claims jwt.Claims) string {
	t.Helper()
	tok, err := s.Sign(claims)
	require.NoError(t, err)
	return tok
}

// logBuffer captures log output for assertions.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func captureLogger() (*slog.Logger, *logBuffer) {
	b := &logBuffer{}
	return slog.New(slog.NewTextHandler(b, &slog.HandlerOptions{Level: slog.LevelDebug})), b
}

var discard = slogx.Discard()

// failingStore fails every operation.
type failingStore struct{}

var errStoreDown = errors.New("store down")

func (failingStore) Get(context.Context, string) (string, error) { return "", errStoreDown }
func (failingStore) Set(context.Context, string, string) error   { return errStoreDown }
func (failingStore) Remove(context.Context, string) error        { return errStoreDown }
