// Package storagetest is a conformance suite every storage.Storage
// implementation runs from its own tests.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/aussiebroadwan/bullwark/pkg/storage"
	"github.com/stretchr/testify/require"
)

// Run exercises s against the storage.Storage contract.
func Run(t *testing.T, s storage.Storage) {
	t.Helper()
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		_, err := s.Get(ctx, "bullwark:missing")
		require.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("set then get", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "bullwark:jwt", "a.b.c"))
		got, err := s.Get(ctx, "bullwark:jwt")
		require.NoError(t, err)
		require.Equal(t, "a.b.c", got)
	})

	t.Run("overwrite", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "bullwark:jwt-exp", "1700000000"))
		require.NoError(t, s.Set(ctx, "bullwark:jwt-exp", "1700000600"))
		got, err := s.Get(ctx, "bullwark:jwt-exp")
		require.NoError(t, err)
		require.Equal(t, "1700000600", got)
	})

	t.Run("empty value", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "bullwark:empty", ""))
		got, err := s.Get(ctx, "bullwark:empty")
		require.NoError(t, err)
		require.Empty(t, got)
	})

	t.Run("remove", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "bullwark:refresh", "r1"))
		require.NoError(t, s.Remove(ctx, "bullwark:refresh"))
		_, err := s.Get(ctx, "bullwark:refresh")
		require.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("remove is idempotent", func(t *testing.T) {
		require.NoError(t, s.Remove(ctx, "bullwark:never-set"))
		require.NoError(t, s.Remove(ctx, "bullwark:never-set"))
	})
}

// RunWatcher checks that a change made through writer is reported to a
// watch established on w.
func RunWatcher(t *testing.T, w storage.Watcher, writer storage.Storage) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seen := make(chan string, 16)
	require.NoError(t, w.Watch(ctx, func(key string) { seen <- key }))

	require.NoError(t, writer.Set(context.Background(), "bullwark:jwt", "x.y.z"))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case key := <-seen:
			if key == "bullwark:jwt" {
				return
			}
		case <-deadline:
			t.Fatal("watcher never reported bullwark:jwt")
		}
	}
}
