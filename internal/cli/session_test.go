package cli

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/bullwark/pkg/bullwark"
	"github.com/aussiebroadwan/bullwark/pkg/bullwarktest"
	"github.com/aussiebroadwan/bullwark/pkg/slogx"
)

func testConfig(t *testing.T, s *bullwarktest.Server) Config {
	t.Helper()
	return Config{
		APIBaseURL:       s.URL,
		TenantIdentifier: s.TenantUUID(),
		ProfileMode:      "endpoint",
		HTTPTimeout:      5 * time.Second,
		Storage:          StorageFile,
		StoragePath:      filepath.Join(t.TempDir(), "session.json"),
	}
}

func TestSession_PersistsAcrossInvocations(t *testing.T) {
	ctx := context.Background()
	s := bullwarktest.Start(t)
	s.MustAddUser(t, bullwarktest.UserSpec{Email: "alice@example.com", Password: "hunter22", Roles: []bullwark.Role{{UUID: "r-fin", Key: "finance"}}})
	cfg := testConfig(t, s)

	first, err := Open(ctx, cfg, slogx.Discard())
	require.NoError(t, err)
	require.False(t, first.Client.IsAuthenticated())

	u, err := first.Client.Login(ctx, bullwark.LoginCredentials{Email: "alice@example.com", Password: "hunter22"})
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", u.Email)
	require.NotEmpty(t, first.Client.RefreshToken())
	require.NoError(t, first.Close())

	second, err := Open(ctx, cfg, slogx.Discard())
	require.NoError(t, err)
	defer second.Close()

	require.True(t, second.Client.IsAuthenticated())
	require.True(t, second.Client.UserHasRoleKey("finance"))

	st := Describe(second.Client)
	require.True(t, st.Authenticated)
	require.Equal(t, "alice@example.com", st.User.Email)
	require.NotNil(t, st.ExpiresAt)
	require.NotEmpty(t, st.ExpiresIn)
}

func TestSession_InvalidConfig(t *testing.T) {
	cfg := Config{Storage: StorageMemory}
	_, err := Open(context.Background(), cfg, slogx.Discard())
	require.Error(t, err)
}

func TestDescribe_SignedOut(t *testing.T) {
	s := bullwarktest.Start(t)
	cfg := testConfig(t, s)
	cfg.Storage = StorageMemory

	sess, err := Open(context.Background(), cfg, slogx.Discard())
	require.NoError(t, err)
	defer sess.Close()

	st := Describe(sess.Client)
	require.False(t, st.Authenticated)
	require.Nil(t, st.User)
	require.Nil(t, st.ExpiresAt)
}

func TestCredentials(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	creds, err := Credentials("a@b.com", "pw", "123456", "", now)
	require.NoError(t, err)
	require.Equal(t, "123456", creds.OTP)

	secret := "JBSWY3DPEHPK3PXP"
	creds, err = Credentials("a@b.com", "pw", "123456", secret, now)
	require.NoError(t, err)
	want, err := totp.GenerateCode(secret, now)
	require.NoError(t, err)
	require.Equal(t, want, creds.OTP)

	_, err = Credentials("a@b.com", "pw", "", "not base32!", now)
	require.Error(t, err)
}
