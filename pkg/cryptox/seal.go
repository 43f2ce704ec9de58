package cryptox

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// SealKeySize is the key length Seal and Open expect.
const SealKeySize = chacha20poly1305.KeySize

var ErrUnsealFailed = errors.New("cryptox: unseal failed")

// NewSalt returns a random salt for DeriveSealKey.
func NewSalt() ([]byte, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("cryptox: generate salt: %w", err)
	}
	return salt, nil
}

// DeriveSealKey stretches a passphrase into a SealKeySize key with Argon2id.
func DeriveSealKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, argonIterations, argonMemory, argonParallelism, SealKeySize)
}

// Seal encrypts plaintext with XChaCha20-Poly1305. The output is
// nonce || ciphertext || tag, aad is authenticated but not stored.
func Seal(key, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("cryptox: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("cryptox: generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, aad), nil
}

// Open reverses Seal. Any tampering, a wrong key or a different aad yields
// ErrUnsealFailed.
func Open(key, sealed, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("cryptox: %w", err)
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrUnsealFailed
	}

	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, aad)
	if err != nil {
		return nil, ErrUnsealFailed
	}
	return pt, nil
}
