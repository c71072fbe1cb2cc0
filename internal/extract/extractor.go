// Package extract вычисляет структурные метрики содержимого версии.
package extract

import (
	"context"

	"github.com/maynagashev/assetkeeper/internal/content"
	"github.com/maynagashev/assetkeeper/internal/models"
)

// MetadataExtractor вычисляет метрики по байтам содержимого.
type MetadataExtractor interface {
	Extract(ctx context.Context, data []byte) (models.ModelMetadata, error)
}

// SceneExtractor считает метрики по манифесту сцены.
type SceneExtractor struct{}

var _ MetadataExtractor = SceneExtractor{}

// Extract декодирует манифест и суммирует геометрию.
func (SceneExtractor) Extract(ctx context.Context, data []byte) (models.ModelMetadata, error) {
	if err := ctx.Err(); err != nil {
		return models.ModelMetadata{}, err
	}
	scene, err := content.DecodeScene(data)
	if err != nil {
		return models.ModelMetadata{}, err
	}
	return FromScene(scene), nil
}

// FromScene считает метрики уже разобранной сцены.
func FromScene(scene *models.Scene) models.ModelMetadata {
	md := models.ModelMetadata{
		MaterialCount: len(scene.Materials),
		TextureCount:  len(scene.Textures),
	}
	for _, m := range scene.Meshes {
		md.TriangleCount += m.TriangleCount()
		md.VertexCount += m.VertexCount
		md.BoundingBox = md.BoundingBox.Union(m.Bounds)
	}
	return md
}
