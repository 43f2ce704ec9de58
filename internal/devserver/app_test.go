package devserver

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/bullwark/pkg/bullwark"
	"github.com/aussiebroadwan/bullwark/pkg/slogx"
)

func testConfig() Config {
	return Config{
		ListenAddr:           "127.0.0.1:0",
		Issuer:               "paulauth",
		Audience:             "fe",
		Algorithm:            "RS256",
		TokenTTL:             15 * time.Minute,
		Users:                "alice@example.com:hunter22",
		Roles:                "finance",
		Abilities:            "invoices.approve",
		KeepKeys:             2,
		Env:                  "test",
		LogLevel:             "error",
		LogFormat:            "json",
		ShutdownGracePeriod:  5 * time.Second,
		HousekeepingInterval: time.Hour,
	}
}

func startApp(t *testing.T, cfg Config) *Application {
	t.Helper()

	app, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, app.Start())
	t.Cleanup(func() { require.NoError(t, app.Shutdown()) })
	return app
}

func TestApplication_Contract(t *testing.T) {
	app := startApp(t, testConfig())

	var buf bytes.Buffer
	require.NoError(t, app.WriteContract(&buf))

	var c Contract
	require.NoError(t, json.Unmarshal(buf.Bytes(), &c))
	require.Contains(t, c.BaseURL, "http://127.0.0.1:")
	require.Equal(t, c.BaseURL+"/.well-known/jwks", c.JWKSURL)
	require.Equal(t, app.Fake().TenantUUID(), c.TenantUUID)
	require.Equal(t, c.BaseURL, c.Env["BULLWARK_API_URL"])
	require.Equal(t, []ContractUser{{Email: "alice@example.com", Password: "hunter22"}}, c.Users)
}

func TestApplication_ServesSDK(t *testing.T) {
	ctx := context.Background()
	app := startApp(t, testConfig())
	contract := app.Contract()

	cfg := bullwark.DefaultConfig()
	cfg.APIBaseURL = contract.BaseURL
	cfg.TenantIdentifier = contract.TenantUUID
	cfg.UseCookieForRefresh = false
	cfg.AutoRefresh = false

	client, err := bullwark.New(ctx, cfg, bullwark.WithLogger(slogx.Discard()))
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.WaitInitialized(ctx))

	u, err := client.Login(ctx, bullwark.LoginCredentials{Email: "alice@example.com", Password: "hunter22"})
	require.NoError(t, err)
	require.Equal(t, contract.TenantUUID, u.TenantUUID)

	require.True(t, client.UserHasRoleKey("finance"))
	require.True(t, client.UserCan(grantUUID("ability", "invoices.approve")))
	require.False(t, client.UserCanKey("invoices.delete"))

	_, err = client.Refresh(ctx, "")
	require.NoError(t, err)
	require.NoError(t, client.Logout(ctx, ""))
}

func TestApplication_ListenFailure(t *testing.T) {
	cfg := testConfig()
	cfg.ListenAddr = "127.0.0.1:-1"

	app, err := New(cfg)
	require.NoError(t, err)
	require.Error(t, app.Start())
}

func TestNew_RejectsBadUsers(t *testing.T) {
	cfg := testConfig()
	cfg.Users = "no-password"

	_, err := New(cfg)
	require.ErrorIs(t, err, ErrInvalidUser)
}
