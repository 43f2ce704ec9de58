// Package bbolt is a storage.Storage backed by a bbolt file. bbolt holds an
// exclusive file lock, so only one process may use a given file at a time.
package bbolt

import (
	"context"
	"fmt"
	"time"

	"github.com/aussiebroadwan/bullwark/pkg/storage"
	"go.etcd.io/bbolt"
)

var bucketName = []byte("bullwark")

type Store struct {
	db *bbolt.DB
}

var _ storage.Storage = (*Store)(nil)

// New wraps an open database, creating the session bucket if needed.
func New(db *bbolt.DB) (*Store, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("bbolt: create bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Open opens (or creates) the database file at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("bbolt: open %s: %w", path, err)
	}
	s, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Get(_ context.Context, key string) (string, error) {
	var out string
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(key))
		if v == nil {
			return storage.ErrNotFound
		}
		// v is only valid inside the transaction.
		out = string(v)
		return nil
	})
	return out, err
}

func (s *Store) Set(_ context.Context, key, value string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), []byte(value))
	})
}

func (s *Store) Remove(_ context.Context, key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(key))
	})
}
