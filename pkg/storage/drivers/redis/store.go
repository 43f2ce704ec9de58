// Package redis is a storage.Storage backed by Redis. Several processes
// sharing one prefix share one session, and Watch reports changes made by
// any of them.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/aussiebroadwan/bullwark/pkg/storage"
	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "bullwark"

type Store struct {
	rdb    *redis.Client
	prefix string
}

var (
	_ storage.Storage = (*Store)(nil)
	_ storage.Watcher = (*Store)(nil)
)

// New wraps rdb. An empty prefix uses DefaultPrefix.
func New(rdb *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{rdb: rdb, prefix: prefix}
}

// Open connects to addr and pings it.
func Open(ctx context.Context, addr, prefix string) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", addr, err)
	}
	return New(rdb, prefix), nil
}

func (s *Store) Close() error { return s.rdb.Close() }

func (s *Store) key(k string) string { return s.prefix + ":" + k }

func (s *Store) channel() string { return s.prefix + ":changes" }

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	v, err := s.rdb.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis: get %s: %w", key, err)
	}
	return v, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.rdb.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	if err := s.rdb.Publish(ctx, s.channel(), key).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", key, err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	n, err := s.rdb.Del(ctx, s.key(key)).Result()
	if err != nil {
		return fmt.Errorf("redis: remove %s: %w", key, err)
	}
	if n == 0 {
		return nil
	}
	if err := s.rdb.Publish(ctx, s.channel(), key).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", key, err)
	}
	return nil
}

// Watch subscribes to the change channel of this prefix.
func (s *Store) Watch(ctx context.Context, onChange func(key string)) error {
	sub := s.rdb.Subscribe(ctx, s.channel())
	// Wait for the subscription confirmation so that changes published after
	// Watch returns are not missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis: subscribe: %w", err)
	}

	ch := sub.Channel()
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				onChange(msg.Payload)
			}
		}
	}()
	return nil
}
