package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/maynagashev/assetkeeper/internal/content"
)

// MemoryStore - BlobStore в памяти процесса для разработки и тестов.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

var _ BlobStore = (*MemoryStore)(nil)

// NewMemoryStore создаёт пустое хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

// Put сохраняет копию данных.
func (s *MemoryStore) Put(ctx context.Context, hash string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key, err := content.ObjectKey(hash)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		s.objects[key] = append([]byte(nil), data...)
	}
	return key, nil
}

// Get возвращает копию данных.
func (s *MemoryStore) Get(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, path)
	}
	return append([]byte(nil), data...), nil
}

// Len возвращает число объектов.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
