// Package storage - контентно-адресуемое хранилище байтов (манифесты сцен и буферы).
package storage

import (
	"context"
	"fmt"

	"github.com/maynagashev/assetkeeper/internal/apperr"
)

// BlobStore хранит байты по хешу содержимого.
type BlobStore interface {
	// Put сохраняет данные и возвращает путь, по которому их можно прочитать.
	Put(ctx context.Context, hash string, data []byte) (string, error)
	// Get возвращает данные по пути.
	Get(ctx context.Context, path string) ([]byte, error)
}

// ErrObjectNotFound - объекта нет в хранилище.
var ErrObjectNotFound = fmt.Errorf("объект не найден в хранилище: %w", apperr.ErrNotFound)
