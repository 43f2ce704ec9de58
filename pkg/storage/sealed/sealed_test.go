package sealed_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/bullwark/pkg/storage"
	"github.com/aussiebroadwan/bullwark/pkg/storage/sealed"
	"github.com/aussiebroadwan/bullwark/pkg/storage/storagetest"
)

func TestSealed(t *testing.T) {
	s, err := sealed.New(context.Background(), storage.NewMemory(), []byte("correct horse"))
	require.NoError(t, err)
	storagetest.Run(t, s)
}

func TestSealed_ValuesAreNotPlaintext(t *testing.T) {
	ctx := context.Background()
	inner := storage.NewMemory()

	s, err := sealed.New(ctx, inner, []byte("correct horse"))
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "bullwark:refresh", "refresh-token-value"))

	raw, err := inner.Get(ctx, "bullwark:refresh")
	require.NoError(t, err)
	require.NotContains(t, raw, "refresh-token-value")
}

func TestSealed_ReopenWithSamePassphrase(t *testing.T) {
	ctx := context.Background()
	inner := storage.NewMemory()

	s, err := sealed.New(ctx, inner, []byte("pw"))
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "bullwark:jwt", "a.b.c"))

	again, err := sealed.New(ctx, inner, []byte("pw"))
	require.NoError(t, err)
	got, err := again.Get(ctx, "bullwark:jwt")
	require.NoError(t, err)
	require.Equal(t, "a.b.c", got)
}

func TestSealed_WrongPassphrase(t *testing.T) {
	ctx := context.Background()
	inner := storage.NewMemory()

	s, err := sealed.New(ctx, inner, []byte("pw"))
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "bullwark:jwt", "a.b.c"))

	other, err := sealed.New(ctx, inner, []byte("not pw"))
	require.NoError(t, err)
	_, err = other.Get(ctx, "bullwark:jwt")
	require.ErrorIs(t, err, sealed.ErrCorrupt)
}

func TestSealed_ValueBoundToKey(t *testing.T) {
	ctx := context.Background()
	inner := storage.NewMemory()

	s, err := sealed.New(ctx, inner, []byte("pw"))
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "bullwark:jwt", "a.b.c"))

	raw, err := inner.Get(ctx, "bullwark:jwt")
	require.NoError(t, err)
	require.NoError(t, inner.Set(ctx, "bullwark:refresh", raw))

	_, err = s.Get(ctx, "bullwark:refresh")
	require.ErrorIs(t, err, sealed.ErrCorrupt)
}

func TestSealed_TamperedValue(t *testing.T) {
	ctx := context.Background()
	inner := storage.NewMemory()

	s, err := sealed.New(ctx, inner, []byte("pw"))
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "bullwark:jwt", "a.b.c"))

	raw, err := inner.Get(ctx, "bullwark:jwt")
	require.NoError(t, err)

	b := []byte(raw)
	i := len(b) / 2
	if b[i] == 'A' {
		b[i] = 'B'
	} else {
		b[i] = 'A'
	}
	require.NoError(t, inner.Set(ctx, "bullwark:jwt", string(b)))

	_, err = s.Get(ctx, "bullwark:jwt")
	require.ErrorIs(t, err, sealed.ErrCorrupt)
}

func TestSealed_EmptyPassphrase(t *testing.T) {
	_, err := sealed.New(context.Background(), storage.NewMemory(), nil)
	require.ErrorIs(t, err, sealed.ErrEmptyPassphrase)
}

func TestSealed_WatchPassesThrough(t *testing.T) {
	inner := storage.NewMemory()
	s, err := sealed.New(context.Background(), inner, []byte("pw"))
	require.NoError(t, err)
	storagetest.RunWatcher(t, s, s)
}
