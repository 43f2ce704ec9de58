package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aussiebroadwan/bullwark/pkg/slogx"
	"github.com/aussiebroadwan/bullwark/pkg/storage"
	boltstore "github.com/aussiebroadwan/bullwark/pkg/storage/drivers/bbolt"
	filestore "github.com/aussiebroadwan/bullwark/pkg/storage/drivers/file"
	redisstore "github.com/aussiebroadwan/bullwark/pkg/storage/drivers/redis"
	sqlitestore "github.com/aussiebroadwan/bullwark/pkg/storage/drivers/sqlite"
	"github.com/aussiebroadwan/bullwark/pkg/storage/sealed"
)

var ErrUnknownStorage = errors.New("unknown storage backend")

// OpenStorage opens the configured backend, wrapped in sealed when a
// passphrase is set. The returned close func is never nil.
func OpenStorage(ctx context.Context, cfg Config) (storage.Storage, func() error, error) {
	store, closeFn, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	if cfg.SealPassphrase == "" {
		return store, closeFn, nil
	}

	wrapped, err := sealed.New(ctx, store, []byte(cfg.SealPassphrase))
	if err != nil {
		_ = closeFn()
		return nil, nil, fmt.Errorf("failed to open sealed storage: %w", err)
	}
	return wrapped, closeFn, nil
}

func openBackend(ctx context.Context, cfg Config) (storage.Storage, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Storage {
	case StorageMemory:
		return storage.NewMemory(), noop, nil

	case StorageFile:
		if err := ensureDir(cfg.StoragePath); err != nil {
			return nil, nil, err
		}
		s, err := filestore.Open(cfg.StoragePath, filestore.WithLogger(slogx.FromContext(ctx)))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open session file: %w", err)
		}
		return s, noop, nil

	case StorageSQLite:
		if err := ensureDir(cfg.StoragePath); err != nil {
			return nil, nil, err
		}
		s, err := sqlitestore.Open(sqlitestore.DSN(cfg.StoragePath))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open session database: %w", err)
		}
		return s, s.Close, nil

	case StorageBolt:
		if err := ensureDir(cfg.StoragePath); err != nil {
			return nil, nil, err
		}
		s, err := boltstore.Open(cfg.StoragePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open session database: %w", err)
		}
		return s, s.Close, nil

	case StorageRedis:
		s, err := redisstore.Open(ctx, cfg.RedisAddr, cfg.RedisPrefix)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return s, s.Close, nil
	}

	return nil, nil, fmt.Errorf("%w: %q", ErrUnknownStorage, cfg.Storage)
}

func ensureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}
	return nil
}
