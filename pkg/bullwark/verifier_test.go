package bullwark

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/bullwark/pkg/jwtx"
)

func newTestVerifier(t *testing.T, signers ...*jwtx.Signer) (*TokenVerifier, *fakeKeySource) {
	t.Helper()

	src := &fakeKeySource{}
	for _, s := range signers {
		src.publish(s.PublicJWK())
	}
	v, err := NewTokenVerifier(NewKeySetCache(src, time.Hour), jwtx.NewSignatureVerifier(), testConstraints, false, discard)
	require.NoError(t, err)
	return v, src
}

func TestVerify_Valid(t *testing.T) {
	signer := newTestSigner(t, "k1")
	v, _ := newTestVerifier(t, signer)

	tok := signClaims(t, signer, testClaims(time.Hour))
	claims, err := v.Verify(context.Background(), tok)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.UserUUID)
	require.Equal(t, "hash-1", claims.DetailsHash)
	require.False(t, IsExpired(claims, time.Now()))
}

func TestVerify_Failures(t *testing.T) {
	signer := newTestSigner(t, "k1")
	impostor := newTestSigner(t, "k1")
	v, _ := newTestVerifier(t, signer)

	noKID, err := signer.SignWithKID(testClaims(time.Hour), "")
	require.NoError(t, err)

	unknownKID, err := signer.SignWithKID(testClaims(time.Hour), "k9")
	require.NoError(t, err)

	noExp := testClaims(time.Hour)
	noExp.ExpiresAt = nil

	wrongIssuer := testClaims(time.Hour)
	wrongIssuer.Issuer = "someone-else"

	wrongAudience := testClaims(time.Hour)
	wrongAudience.Audience = jwt.ClaimStrings{"admin"}

	good := signClaims(t, signer, testClaims(time.Hour))
	parts := strings.Split(good, ".")
	forgedPayload := signClaims(t, impostor, testClaims(24*time.Hour))
	spliced := parts[0] + "." + strings.Split(forgedPayload, ".")[1] + "." + parts[2]

	tests := []struct {
		name  string
		token string
		kind  Kind
	}{
		{"garbage", "not-a-token", KindMalformedToken},
		{"bad header", "e30.e30.sig", KindMissingKeyID},
		{"undecodable header", "%%%.e30.sig", KindMalformedToken},
		{"missing kid", noKID, KindMissingKeyID},
		{"unknown kid", unknownKID, KindKeyNotFound},
		{"wrong key", signClaims(t, impostor, testClaims(time.Hour)), KindSignatureInvalid},
		{"spliced payload", spliced, KindSignatureInvalid},
		{"missing exp", signClaims(t, signer, noExp), KindInvalidExpiry},
		{"string exp", signClaims(t, signer, jwt.MapClaims{
			"iss": jwtx.DefaultIssuer, "aud": jwtx.DefaultAudience, "exp": "tomorrow",
		}), KindInvalidExpiry},
		{"wrong issuer", signClaims(t, signer, wrongIssuer), KindSignatureInvalid},
		{"wrong audience", signClaims(t, signer, wrongAudience), KindSignatureInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := v.Verify(context.Background(), tt.token)
			require.Error(t, err)
			require.Nil(t, claims)
			require.Equal(t, tt.kind, KindOf(err), "got %v", err)
			require.True(t, KindOf(err).Fatal())
		})
	}
}

func TestVerify_ExpiredTokenIsAuthentic(t *testing.T) {
	signer := newTestSigner(t, "k1")
	v, _ := newTestVerifier(t, signer)

	tok := signClaims(t, signer, testClaims(-time.Minute))
	claims, err := v.Verify(context.Background(), tok)
	require.NoError(t, err)
	require.True(t, IsExpired(claims, time.Now()))
}

func TestVerify_KeySourceDown(t *testing.T) {
	signer := newTestSigner(t, "k1")
	v, src := newTestVerifier(t, signer)
	src.fail(context.DeadlineExceeded)

	_, err := v.Verify(context.Background(), signClaims(t, signer, testClaims(time.Hour)))
	require.Equal(t, KindKeySourceUnavailable, KindOf(err))
	require.False(t, KindOf(err).Fatal())
}

func TestVerify_RotatedKeyPickedUp(t *testing.T) {
	old := newTestSigner(t, "k1")
	v, src := newTestVerifier(t, old)

	next := newTestSigner(t, "k2")
	tok := signClaims(t, next, testClaims(time.Hour))

	_, err := v.Verify(context.Background(), tok)
	require.Equal(t, KindKeyNotFound, KindOf(err))

	src.publish(next.PublicJWK())
	_, err = v.Verify(context.Background(), tok)
	require.NoError(t, err)
}

func TestNewTokenVerifier_RequiresPrimitive(t *testing.T) {
	_, err := NewTokenVerifier(nil, nil, testConstraints, false, discard)
	require.Equal(t, KindInvalidConfiguration, KindOf(err))

	_, err = NewTokenVerifier(nil, jwtx.NewSignatureVerifier(), testConstraints, false, discard)
	require.Equal(t, KindInvalidConfiguration, KindOf(err))
}

func TestVerify_DegradedMode(t *testing.T) {
	logger, logs := captureLogger()
	v, err := NewTokenVerifier(nil, nil, testConstraints, true, logger)
	require.NoError(t, err)
	require.True(t, v.Degraded())

	// Any signature passes, even one by a key nobody published.
	tok := signClaims(t, newTestSigner(t, "whatever"), testClaims(time.Hour))
	claims, err := v.Verify(context.Background(), tok)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.UserUUID)

	_, err = v.Verify(context.Background(), tok)
	require.NoError(t, err)
	require.GreaterOrEqual(t, strings.Count(logs.String(), unverifiedWarning), 3)

	// exp is still enforced structurally.
	noExp := testClaims(time.Hour)
	noExp.ExpiresAt = nil
	_, err = v.Verify(context.Background(), signClaims(t, newTestSigner(t, "x"), noExp))
	require.Equal(t, KindInvalidExpiry, KindOf(err))
}

func TestIsExpired_MillisecondPrecision(t *testing.T) {
	exp := time.Unix(1_700_000_000, 0)
	claims := &jwtx.Claims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)}}

	require.False(t, IsExpired(claims, exp))
	require.False(t, IsExpired(claims, exp.Add(-time.Millisecond)))
	require.True(t, IsExpired(claims, exp.Add(time.Millisecond)))
	require.True(t, IsExpired(&jwtx.Claims{}, exp))
}
