package jwtx

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformed   = errors.New("jwtx: malformed token")
	ErrUnknownKey  = errors.New("jwtx: unsupported key type")
	ErrInvalidSig  = errors.New("jwtx: invalid signature")
	ErrIssuer      = errors.New("jwtx: issuer mismatch")
	ErrAudience    = errors.New("jwtx: audience mismatch")
	ErrAlgMismatch = errors.New("jwtx: algorithm mismatch")
)

// Constraints are the claim expectations checked together with the
// signature. Empty members are not enforced.
type Constraints struct {
	Issuer   string
	Audience []string
}

// SignatureVerifier checks a compact JWS against a single public key. It
// deliberately leaves exp and nbf alone, freshness is the caller's decision.
type SignatureVerifier struct{}

// NewSignatureVerifier returns the golang-jwt backed signature primitive.
func NewSignatureVerifier() *SignatureVerifier {
	return &SignatureVerifier{}
}

// VerifySignature verifies token with key and returns the verified claims.
// Numbers in the result are json.Number.
func (v *SignatureVerifier) VerifySignature(token string, key crypto.PublicKey, c Constraints) (map[string]any, error) {
	method, err := MethodFor(key)
	if err != nil {
		return nil, err
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{method.Alg()}),
		jwt.WithoutClaimsValidation(),
		jwt.WithJSONNumber(),
	)

	claims := jwt.MapClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidSig, err)
		}
		if errors.Is(err, jwt.ErrTokenUnverifiable) {
			return nil, fmt.Errorf("%w: %w", ErrAlgMismatch, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidSig
	}

	// Malformed iss or aud read as absent and fail any expectation.
	iss, _ := claims.GetIssuer()
	aud, _ := claims.GetAudience()
	view := Claims{RegisteredClaims: jwt.RegisteredClaims{Issuer: iss, Audience: aud}}
	if err := view.ValidateIssuer(c.Issuer); err != nil {
		return nil, err
	}
	if err := view.ValidateAudience(c.Audience); err != nil {
		return nil, err
	}

	return claims, nil
}

// MethodFor picks the only signing method a key type may be used with, so a
// token can't talk the parser into a weaker algorithm.
func MethodFor(key crypto.PublicKey) (jwt.SigningMethod, error) {
	switch k := key.(type) {
	case *rsa.PublicKey:
		return jwt.SigningMethodRS256, nil
	case ed25519.PublicKey:
		return jwt.SigningMethodEdDSA, nil
	case *ecdsa.PublicKey:
		if k.Curve == nil || k.Curve.Params().Name != "P-256" {
			return nil, fmt.Errorf("%w: ecdsa curve", ErrUnknownKey)
		}
		return jwt.SigningMethodES256, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKey, key)
	}
}
