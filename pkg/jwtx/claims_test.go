package jwtx_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/aussiebroadwan/bullwark/pkg/jwtx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestValidateIssuer(t *testing.T) {
	c := &jwtx.Claims{RegisteredClaims: jwt.RegisteredClaims{Issuer: "paulauth"}}

	require.NoError(t, c.ValidateIssuer("paulauth"))
	require.NoError(t, c.ValidateIssuer(""))
	require.ErrorIs(t, c.ValidateIssuer("someone-else"), jwtx.ErrIssuer)
}

func TestValidateAudience(t *testing.T) {
	c := &jwtx.Claims{RegisteredClaims: jwt.RegisteredClaims{Audience: []string{"fe", "admin"}}}

	require.NoError(t, c.ValidateAudience([]string{"fe"}))
	require.NoError(t, c.ValidateAudience([]string{"x", "admin"}))
	require.NoError(t, c.ValidateAudience(nil))
	require.ErrorIs(t, c.ValidateAudience([]string{"be"}), jwtx.ErrAudience)
}

func TestNewSessionClaims(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	c := jwtx.NewSessionClaims("user-1", "tenant-1", "customer-1", "hash-1", 15*time.Minute, jwtx.DefaultIssuer, []string{jwtx.DefaultAudience}, now)

	exp, ok := c.Expiry()
	require.True(t, ok)
	require.Equal(t, now.Add(15*time.Minute).Unix(), exp.Unix())
	require.Equal(t, "user-1", c.UserUUID)
	require.Equal(t, "hash-1", c.DetailsHash)

	// Wire names must match what the Bullwark API emits.
	b, err := json.Marshal(c)
	require.NoError(t, err)
	require.Contains(t, string(b), `"userUuid":"user-1"`)
	require.Contains(t, string(b), `"tenantUuid":"tenant-1"`)
	require.Contains(t, string(b), `"customerUuid":"customer-1"`)
	require.Contains(t, string(b), `"detailsHash":"hash-1"`)
}

func TestExpiry_Missing(t *testing.T) {
	var c *jwtx.Claims
	_, ok := c.Expiry()
	require.False(t, ok)

	_, ok = (&jwtx.Claims{}).Expiry()
	require.False(t, ok)
}

func TestClaimsFromMap(t *testing.T) {
	m := map[string]any{
		"exp":         json.Number("1700000000"),
		"userUuid":    "u",
		"detailsHash": "h",
		"roles":       []any{map[string]any{"uuid": "r1", "key": "admin"}},
	}

	c, err := jwtx.ClaimsFromMap(m)
	require.NoError(t, err)
	require.Equal(t, int64(1_700_000_000), c.ExpiresAt.Unix())
	require.Equal(t, "u", c.UserUUID)
	require.Equal(t, []jwtx.Grant{{UUID: "r1", Key: "admin"}}, c.Roles)

	_, err = jwtx.ClaimsFromMap(map[string]any{"exp": "soon"})
	require.ErrorIs(t, err, jwtx.ErrMalformed)
}
