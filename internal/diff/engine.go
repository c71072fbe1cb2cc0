// Package diff вычисляет структурные изменения между двумя снимками сцены.
package diff

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"

	"github.com/maynagashev/assetkeeper/internal/logger"
	"github.com/maynagashev/assetkeeper/internal/models"
)

const (
	defaultNumCounters = 1e5
	defaultMaxCost     = 1e6 // в изменениях
	defaultBufferItems = 64
	defaultTTL         = 30 * time.Minute
)

// Snapshot - сцена версии вместе с идентификацией.
type Snapshot struct {
	VersionID   uuid.UUID
	ContentHash string
	SizeBytes   int64
	Scene       *models.Scene
}

// CacheConfig настраивает кэш результатов diff.
type CacheConfig struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	TTL         time.Duration
}

// Engine вычисляет diff. Результаты кэшируются по паре хешей: снимки неизменяемы.
type Engine struct {
	cache *ristretto.Cache
	ttl   time.Duration
	log   *logger.Logger
}

// NewEngine создаёт движок diff.
func NewEngine(config *CacheConfig, log *logger.Logger) (*Engine, error) {
	cfg := applyDefaults(config)
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка создания кэша diff: %w", err)
	}
	return &Engine{cache: cache, ttl: cfg.TTL, log: log.Component("diff")}, nil
}

func applyDefaults(config *CacheConfig) *CacheConfig {
	cfg := &CacheConfig{
		NumCounters: defaultNumCounters,
		MaxCost:     defaultMaxCost,
		BufferItems: defaultBufferItems,
		TTL:         defaultTTL,
	}
	if config == nil {
		return cfg
	}
	if config.NumCounters > 0 {
		cfg.NumCounters = config.NumCounters
	}
	if config.MaxCost > 0 {
		cfg.MaxCost = config.MaxCost
	}
	if config.BufferItems > 0 {
		cfg.BufferItems = config.BufferItems
	}
	if config.TTL > 0 {
		cfg.TTL = config.TTL
	}
	return cfg
}

// Close освобождает кэш.
func (e *Engine) Close() {
	e.cache.Close()
}

// Compute возвращает изменения from -> to. Отмена ctx проверяется между проходами по категориям.
func (e *Engine) Compute(ctx context.Context, from, to Snapshot) (*models.VersionDiff, error) {
	if from.Scene == nil || to.Scene == nil {
		return nil, fmt.Errorf("снимок без сцены")
	}
	key := cacheKey(from, to)
	if key != "" {
		if cached, ok := e.cache.Get(key); ok {
			if d, ok := cached.(*models.VersionDiff); ok {
				return withIDs(d, from.VersionID, to.VersionID), nil
			}
		}
	}

	passes := []func(from, to *models.Scene) []models.ModelChange{
		diffMeshes, diffMaterials, diffTextures, diffTransforms, diffMetadata,
	}
	var changes []models.ModelChange
	for _, pass := range passes {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("вычисление diff прервано: %w", err)
		}
		changes = append(changes, pass(from.Scene, to.Scene)...)
	}
	if changes == nil {
		changes = []models.ModelChange{}
	}

	d := &models.VersionDiff{
		FromVersionID: from.VersionID,
		ToVersionID:   to.VersionID,
		Changes:       changes,
		Statistics:    statistics(changes, to.SizeBytes-from.SizeBytes),
	}
	if key != "" {
		e.cache.SetWithTTL(key, d, int64(len(changes))+1, e.ttl)
	}
	e.log.Debug().
		Str("from", from.VersionID.String()).
		Str("to", to.VersionID.String()).
		Int("changes", len(changes)).
		Msg("Вычислен diff")
	return withIDs(d, from.VersionID, to.VersionID), nil
}

// Compare сравнивает версии. Совпадающие хеши дают сходство 1.0 без вычисления diff.
func (e *Engine) Compare(ctx context.Context, from, to Snapshot) (*models.VersionComparisonResult, error) {
	if from.ContentHash != "" && from.ContentHash == to.ContentHash {
		return &models.VersionComparisonResult{
			FromVersionID: from.VersionID,
			ToVersionID:   to.VersionID,
			Similarity:    1.0,
			Identical:     true,
			Diff: &models.VersionDiff{
				FromVersionID: from.VersionID,
				ToVersionID:   to.VersionID,
				Changes:       []models.ModelChange{},
				Statistics:    models.DiffStatistics{ChangesByType: map[models.ChangeType]int{}},
			},
		}, nil
	}

	d, err := e.Compute(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return &models.VersionComparisonResult{
		FromVersionID: from.VersionID,
		ToVersionID:   to.VersionID,
		Similarity:    Similarity(d),
		Identical:     len(d.Changes) == 0,
		Diff:          d,
	}, nil
}

// cacheKey пуст, если хеши неизвестны (снимок собран в памяти).
func cacheKey(from, to Snapshot) string {
	if from.ContentHash == "" || to.ContentHash == "" {
		return ""
	}
	return from.ContentHash + ">" + to.ContentHash
}

// withIDs возвращает копию diff с идентификаторами версий; кэш делится между версиями с одинаковыми хешами.
func withIDs(d *models.VersionDiff, from, to uuid.UUID) *models.VersionDiff {
	byType := make(map[models.ChangeType]int, len(d.Statistics.ChangesByType))
	for k, v := range d.Statistics.ChangesByType {
		byType[k] = v
	}
	out := &models.VersionDiff{
		FromVersionID: from,
		ToVersionID:   to,
		Changes:       append([]models.ModelChange(nil), d.Changes...),
		Statistics:    d.Statistics,
	}
	out.Statistics.ChangesByType = byType
	return out
}

func statistics(changes []models.ModelChange, sizeDelta int64) models.DiffStatistics {
	stats := models.DiffStatistics{
		TotalChanges:  len(changes),
		ChangesByType: make(map[models.ChangeType]int),
		SizeDelta:     sizeDelta,
	}
	for _, c := range changes {
		stats.ChangesByType[c.Type]++
		var before, after int64
		if c.OldValue != nil && c.OldValue.Mesh != nil {
			before = c.OldValue.Mesh.TriangleCount()
		}
		if c.NewValue != nil && c.NewValue.Mesh != nil {
			after = c.NewValue.Mesh.TriangleCount()
		}
		if delta := after - before; delta > 0 {
			stats.TrianglesAdded += delta
		} else {
			stats.TrianglesRemoved -= delta
		}
	}
	return stats
}
