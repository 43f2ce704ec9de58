package jwtx

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Signer mints tokens with a single private key. The SDK never signs, this
// exists for the development server and tests.
type Signer struct {
	kid    string
	method jwt.SigningMethod
	key    crypto.Signer
}

// NewSigner loads a PEM private key. RSA keys may be PKCS1 or PKCS8, Ed25519
// and P-256 keys must be PKCS8.
func NewSigner(kid string, pemKey []byte) (*Signer, error) {
	block, _ := pem.Decode(pemKey)
	if block == nil {
		return nil, errors.New("jwtx: invalid PEM private key")
	}

	var priv any
	var err error
	switch block.Type {
	case "RSA PRIVATE KEY":
		priv, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		priv, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	default:
		return nil, fmt.Errorf("jwtx: unsupported PEM type %q", block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("jwtx: parse private key: %w", err)
	}

	key, ok := priv.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("jwtx: %T cannot sign", priv)
	}

	method, err := MethodFor(key.Public())
	if err != nil {
		return nil, err
	}

	return &Signer{kid: kid, method: method, key: key}, nil
}

func (s *Signer) KID() string { return s.kid }
func (s *Signer) Alg() string { return s.method.Alg() }

// Sign produces a compact JWS carrying the signer's kid.
func (s *Signer) Sign(claims jwt.Claims) (string, error) {
	return s.SignWithKID(claims, s.kid)
}

// SignWithKID is Sign with an explicit kid header. An empty kid omits the
// header entirely.
func (s *Signer) SignWithKID(claims jwt.Claims, kid string) (string, error) {
	t := jwt.NewWithClaims(s.method, claims)
	if kid != "" {
		t.Header["kid"] = kid
	}
	return t.SignedString(s.key)
}

// PublicJWK returns the JWK to publish for this signer.
func (s *Signer) PublicJWK() JWK {
	switch pub := s.key.Public().(type) {
	case *rsa.PublicKey:
		return NewRSAJWK(s.kid, "sig", s.Alg(), pub)
	case ed25519.PublicKey:
		return NewEd25519JWK(s.kid, "sig", s.Alg(), pub)
	case *ecdsa.PublicKey:
		return NewES256JWK(s.kid, "sig", s.Alg(), pub)
	default:
		return JWK{Kid: s.kid}
	}
}
