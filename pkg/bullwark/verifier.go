package bullwark

import (
	"context"
	"crypto"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/bullwark/pkg/jwtx"
)

// SignatureVerifier is the cryptographic primitive. *jwtx.SignatureVerifier
// implements it.
type SignatureVerifier interface {
	VerifySignature(token string, key crypto.PublicKey, c jwtx.Constraints) (map[string]any, error)
}

// KeyResolver supplies the verification key for a kid. *KeySetCache
// implements it.
type KeyResolver interface {
	Get(ctx context.Context, kid string) (VerificationKey, error)
}

// unverifiedWarning is logged every time a token is accepted without a
// signature check.
const unverifiedWarning = "JWT headers and payloads are unverified. DO NOT TRUST THIS DATA ON PRODUCTION"

// TokenVerifier turns a raw token into trusted claims. It checks
// authenticity only: an authentic but expired token verifies, and callers
// decide about freshness with IsExpired.
type TokenVerifier struct {
	keys        KeyResolver
	sig         SignatureVerifier
	constraints jwtx.Constraints
	logger      *slog.Logger

	// degraded skips signature checks. Only possible in development mode.
	degraded bool
}

// NewTokenVerifier builds a verifier. A nil sig is only accepted when
// devMode is set, in which case every Verify trusts the decoded claims and
// logs a warning.
func NewTokenVerifier(keys KeyResolver, sig SignatureVerifier, constraints jwtx.Constraints, devMode bool, logger *slog.Logger) (*TokenVerifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if sig == nil {
		if !devMode {
			return nil, newError(KindInvalidConfiguration, "no signature verifier and development mode is off", nil)
		}
		logger.Warn(unverifiedWarning)
		return &TokenVerifier{constraints: constraints, logger: logger, degraded: true}, nil
	}
	if keys == nil {
		return nil, newError(KindInvalidConfiguration, "no key resolver", nil)
	}
	return &TokenVerifier{keys: keys, sig: sig, constraints: constraints, logger: logger}, nil
}

// Degraded reports whether signature checks are skipped.
func (v *TokenVerifier) Degraded() bool { return v.degraded }

// Verify returns the claims of token once its signature, issuer and
// audience check out and exp is numeric.
func (v *TokenVerifier) Verify(ctx context.Context, token string) (*jwtx.Claims, error) {
	header, err := jwtx.DecodeHeader(token)
	if err != nil {
		return nil, newError(KindMalformedToken, "", err)
	}

	var verified map[string]any
	if v.degraded {
		v.logger.Warn(unverifiedWarning, "kid", header.Kid, "alg", header.Alg)
		verified, err = jwtx.DecodePayloadMap(token)
		if err != nil {
			return nil, newError(KindMalformedToken, "", err)
		}
	} else {
		if header.Kid == "" {
			return nil, newError(KindMissingKeyID, "", nil)
		}

		key, err := v.keys.Get(ctx, header.Kid)
		if err != nil {
			return nil, err
		}

		verified, err = v.sig.VerifySignature(token, key.Key, v.constraints)
		if err != nil {
			return nil, signatureError(err)
		}
	}

	// Everything below reads the verified payload only.
	if !numericClaim(verified["exp"]) {
		return nil, newError(KindInvalidExpiry, "exp is missing or not a number", nil)
	}

	claims, err := jwtx.ClaimsFromMap(verified)
	if err != nil {
		return nil, newError(KindMalformedToken, "claims", err)
	}
	return claims, nil
}

// signatureError maps primitive failures. Anything that isn't a decode
// problem is treated as an invalid signature.
func signatureError(err error) error {
	if errors.Is(err, jwtx.ErrMalformed) {
		return newError(KindMalformedToken, "", err)
	}
	return newError(KindSignatureInvalid, "", err)
}

func numericClaim(v any) bool {
	switch n := v.(type) {
	case json.Number:
		_, err := n.Float64()
		return err == nil
	case float64, float32, int, int64, int32, uint, uint64, uint32:
		return true
	default:
		return false
	}
}

// IsExpired reports whether exp lies before ref, compared in milliseconds.
// Claims without exp are expired.
func IsExpired(claims *jwtx.Claims, ref time.Time) bool {
	exp, ok := claims.Expiry()
	if !ok {
		return true
	}
	return exp.UnixMilli() < ref.UnixMilli()
}
