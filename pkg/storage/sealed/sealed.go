// Package sealed encrypts values at rest on top of any storage.Storage.
//
// The key is derived from a passphrase with Argon2id and a per-store salt
// kept alongside the values. It lives in a memguard enclave and is only
// decrypted into locked memory for the duration of a single operation.
// Values are bound to their key name, so a ciphertext copied from one key to
// another does not open.
package sealed

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/awnumar/memguard"

	"github.com/aussiebroadwan/bullwark/pkg/cryptox"
	"github.com/aussiebroadwan/bullwark/pkg/storage"
)

// SaltKey is where the derivation salt is kept in the inner store.
const SaltKey = "bullwark:sealed-salt"

var (
	ErrEmptyPassphrase = errors.New("sealed: empty passphrase")
	// ErrCorrupt is returned when a stored value cannot be decoded or
	// authenticated, typically because the passphrase changed.
	ErrCorrupt = errors.New("sealed: value corrupt or passphrase mismatch")
)

type Store struct {
	inner storage.Storage
	key   *memguard.Enclave
}

var _ storage.Storage = (*Store)(nil)

// New wraps inner. The salt is created on first use and reused afterwards.
func New(ctx context.Context, inner storage.Storage, passphrase []byte) (*Store, error) {
	if len(passphrase) == 0 {
		return nil, ErrEmptyPassphrase
	}

	salt, err := loadOrCreateSalt(ctx, inner)
	if err != nil {
		return nil, err
	}

	// NewEnclave wipes the derived key slice.
	return &Store{
		inner: inner,
		key:   memguard.NewEnclave(cryptox.DeriveSealKey(passphrase, salt)),
	}, nil
}

func loadOrCreateSalt(ctx context.Context, inner storage.Storage) ([]byte, error) {
	enc, err := inner.Get(ctx, SaltKey)
	switch {
	case err == nil:
		salt, err := base64.RawStdEncoding.DecodeString(enc)
		if err != nil {
			return nil, fmt.Errorf("sealed: decode salt: %w", err)
		}
		return salt, nil
	case errors.Is(err, storage.ErrNotFound):
		salt, err := cryptox.NewSalt()
		if err != nil {
			return nil, err
		}
		if err := inner.Set(ctx, SaltKey, base64.RawStdEncoding.EncodeToString(salt)); err != nil {
			return nil, fmt.Errorf("sealed: store salt: %w", err)
		}
		return salt, nil
	default:
		return nil, fmt.Errorf("sealed: load salt: %w", err)
	}
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	enc, err := s.inner.Get(ctx, key)
	if err != nil {
		return "", err
	}
	raw, err := base64.RawStdEncoding.DecodeString(enc)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrCorrupt, key)
	}

	buf, err := s.key.Open()
	if err != nil {
		return "", fmt.Errorf("sealed: open key: %w", err)
	}
	defer buf.Destroy()

	pt, err := cryptox.Open(buf.Bytes(), raw, []byte(key))
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrCorrupt, key)
	}
	return string(pt), nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	buf, err := s.key.Open()
	if err != nil {
		return fmt.Errorf("sealed: open key: %w", err)
	}
	ct, err := cryptox.Seal(buf.Bytes(), []byte(value), []byte(key))
	buf.Destroy()
	if err != nil {
		return fmt.Errorf("sealed: seal %s: %w", key, err)
	}
	return s.inner.Set(ctx, key, base64.RawStdEncoding.EncodeToString(ct))
}

func (s *Store) Remove(ctx context.Context, key string) error {
	return s.inner.Remove(ctx, key)
}

// Watch forwards to the inner store when it supports watching.
func (s *Store) Watch(ctx context.Context, onChange func(key string)) error {
	w, ok := s.inner.(storage.Watcher)
	if !ok {
		return nil
	}
	return w.Watch(ctx, onChange)
}

// Unwrap returns the inner store.
func (s *Store) Unwrap() storage.Storage { return s.inner }
