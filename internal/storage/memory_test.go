package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maynagashev/assetkeeper/internal/apperr"
	"github.com/maynagashev/assetkeeper/internal/content"
	"github.com/maynagashev/assetkeeper/internal/storage"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	addr, err := content.NewAddresser("")
	require.NoError(t, err)

	data := []byte("буфер вершин")
	hash := addr.Hash(data)

	t.Run("Запись и чтение", func(t *testing.T) {
		path, err := store.Put(ctx, hash, data)
		require.NoError(t, err)

		got, err := store.Get(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("Повторная запись не дублирует объект", func(t *testing.T) {
		_, err := store.Put(ctx, hash, data)
		require.NoError(t, err)
		assert.Equal(t, 1, store.Len())
	})

	t.Run("Объект не найден", func(t *testing.T) {
		_, err := store.Get(ctx, "objects/sha256/00/missing")
		require.ErrorIs(t, err, storage.ErrObjectNotFound)
		require.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("Некорректный хеш", func(t *testing.T) {
		_, err := store.Put(ctx, "bad", data)
		require.ErrorIs(t, err, content.ErrInvalidHash)
	})

	t.Run("Отменённый контекст", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := store.Put(cctx, hash, data)
		require.ErrorIs(t, err, context.Canceled)
	})
}
