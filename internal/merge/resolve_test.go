package merge_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maynagashev/assetkeeper/internal/apperr"
	"github.com/maynagashev/assetkeeper/internal/merge"
	"github.com/maynagashev/assetkeeper/internal/models"
)

func TestCheckResolution(t *testing.T) {
	material := models.Conflict{
		Type:        models.ConflictMaterial,
		Path:        "materials/paint",
		BaseValue:   models.MaterialValue(models.Material{Name: "paint", Roughness: 0.5}),
		SourceValue: models.MaterialValue(models.Material{Name: "paint", Roughness: 0.9}),
		TargetValue: models.MaterialValue(models.Material{Name: "paint", Metallic: 1, Roughness: 0.5}),
	}
	texture := models.Conflict{
		Type:        models.ConflictTexture,
		Path:        "textures/albedo",
		SourceValue: models.TextureValue(models.Texture{Name: "albedo", Width: 1024, Height: 1024}),
		TargetValue: models.TextureValue(models.Texture{Name: "albedo", Width: 2048, Height: 2048}),
	}
	metadata := models.Conflict{
		Type:        models.ConflictMetadata,
		Path:        "format",
		SourceValue: models.MetadataValue(models.SceneMetadata{Format: "glb"}),
		TargetValue: models.MetadataValue(models.SceneMetadata{Format: "gltf"}),
	}
	with := func(c models.Conflict, strategy models.ResolutionStrategy, custom *models.ChangeValue) models.Conflict {
		c.Resolution = &models.Resolution{Strategy: strategy, ResolvedBy: "carol", Custom: custom}
		return c
	}

	tests := []struct {
		name     string
		conflict models.Conflict
		wantErr  error
	}{
		{
			name:     "Версия источника",
			conflict: with(material, models.ResolveUseSource, nil),
		},
		{
			name:     "Пополевое слияние материала",
			conflict: with(material, models.ResolveMerge, nil),
		},
		{
			name:     "Ручное значение того же вида",
			conflict: with(material, models.ResolveManual, models.MaterialValue(models.Material{Name: "paint"})),
		},
		{
			name:     "Ручное решение без значения удаляет элемент",
			conflict: with(texture, models.ResolveManual, nil),
		},
		{
			name:     "Значение другого вида",
			conflict: with(material, models.ResolveManual, models.TextureValue(models.Texture{Name: "paint"})),
			wantErr:  apperr.ErrValidation,
		},
		{
			name:     "Слияние со значением другого вида",
			conflict: with(material, models.ResolveMerge, models.MeshValue(models.Mesh{Name: "paint"})),
			wantErr:  apperr.ErrValidation,
		},
		{
			name:     "Текстуры пополево не сливаются",
			conflict: with(texture, models.ResolveMerge, nil),
			wantErr:  apperr.ErrValidation,
		},
		{
			name:     "Формат сцены нельзя удалить",
			conflict: with(metadata, models.ResolveManual, nil),
			wantErr:  apperr.ErrValidation,
		},
		{
			name:     "Аннотации к сцене не применяются",
			conflict: with(models.Conflict{Type: models.ConflictAnnotation, Path: "notes/1"}, models.ResolveUseSource, nil),
			wantErr:  apperr.ErrValidation,
		},
		{
			name:     "Без решения",
			conflict: material,
			wantErr:  apperr.ErrUnresolvedConflicts,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := merge.CheckResolution(tt.conflict)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}
