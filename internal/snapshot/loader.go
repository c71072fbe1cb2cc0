// Package snapshot загружает сцены версий из blob-хранилища.
package snapshot

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/maynagashev/assetkeeper/internal/content"
	"github.com/maynagashev/assetkeeper/internal/logger"
	"github.com/maynagashev/assetkeeper/internal/models"
	"github.com/maynagashev/assetkeeper/internal/storage"
)

const defaultCacheSize = 256

// ErrCorruptContent - байты в хранилище не совпадают с хешем версии.
var ErrCorruptContent = errors.New("содержимое версии повреждено")

// Loader читает и декодирует манифесты сцен. Сцена неизменяема для данного хеша,
// поэтому кэш не нуждается в инвалидации.
type Loader struct {
	blobs     storage.BlobStore
	addresser *content.Addresser
	cache     *lru.Cache[string, *models.Scene]
	log       *logger.Logger
}

// NewLoader создаёт загрузчик с LRU на cacheSize сцен.
func NewLoader(blobs storage.BlobStore, addresser *content.Addresser, cacheSize int, log *logger.Logger) (*Loader, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	l := &Loader{
		blobs:     blobs,
		addresser: addresser,
		log:       log.Component("snapshot"),
	}
	cache, err := lru.NewWithEvict[string, *models.Scene](cacheSize, l.handleEviction)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания кэша сцен: %w", err)
	}
	l.cache = cache
	return l, nil
}

// Load возвращает копию сцены версии.
func (l *Loader) Load(ctx context.Context, v *models.ModelVersion) (*models.Scene, error) {
	if scene, ok := l.cache.Get(v.ContentHash); ok {
		return scene.Clone(), nil
	}

	data, err := l.blobs.Get(ctx, v.ContentPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения содержимого версии %s: %w", v.ID, err)
	}
	// Хеш другим алгоритмом проверить нельзя: такая версия записана до смены настройки.
	if algo, _, parseErr := content.ParseHash(v.ContentHash); parseErr == nil && algo == l.addresser.Algorithm() {
		if !l.addresser.Verify(v.ContentHash, data) {
			return nil, fmt.Errorf("%w: версия %s", ErrCorruptContent, v.ID)
		}
	}

	scene, err := content.DecodeScene(data)
	if err != nil {
		return nil, fmt.Errorf("версия %s: %w", v.ID, err)
	}
	l.cache.Add(v.ContentHash, scene)
	return scene.Clone(), nil
}

// Len возвращает число сцен в кэше.
func (l *Loader) Len() int {
	return l.cache.Len()
}

func (l *Loader) handleEviction(hash string, _ *models.Scene) {
	l.log.Debug().Str("content_hash", hash).Msg("Сцена вытеснена из кэша")
}
