package bullwark

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/bullwark/pkg/storage"
)

var errUnused = errors.New("not used by this test")

// keyOnlyTransport serves verification keys and nothing else.
type keyOnlyTransport struct{ *fakeKeySource }

func (keyOnlyTransport) Login(context.Context, LoginCredentials) (TokenResponse, error) {
	return TokenResponse{}, errUnused
}

func (keyOnlyTransport) Refresh(context.Context, string) (TokenResponse, error) {
	return TokenResponse{}, errUnused
}

func (keyOnlyTransport) Logout(context.Context, string) error { return errUnused }

func (keyOnlyTransport) FetchUser(context.Context, string) (*User, error) { return nil, errUnused }

func TestHydration_SessionReplacedBeforeStartIsKept(t *testing.T) {
	ctx := context.Background()
	signer := newTestSigner(t, "k1")
	src := &fakeKeySource{}
	src.publish(signer.PublicJWK())

	cfg := Config{
		APIBaseURL:       "https://api.bullwark.test",
		TenantIdentifier: testTenant,
		ProfileMode:      ProfileFromClaims,
	}
	c, err := New(ctx, cfg, WithTransport(keyOnlyTransport{src}), WithStorage(storage.NewMemory()), WithLogger(discard))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.WaitInitialized(ctx))

	// The epoch a restored token belongs to, then a Login tearing it down
	// before hydration got to run.
	epoch := c.state.Epoch()
	c.state.Invalidate(ctx)

	restored := signClaims(t, signer, testClaims(time.Hour))
	c.hydrateFromToken(ctx, epoch, restored)

	require.False(t, c.IsAuthenticated())
	require.Empty(t, c.Token())
	require.False(t, c.Scheduler().Armed())
}
