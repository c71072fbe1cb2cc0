package conflict_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maynagashev/assetkeeper/internal/conflict"
	"github.com/maynagashev/assetkeeper/internal/logger"
	"github.com/maynagashev/assetkeeper/internal/models"
)

func transformChange(target string, y float64) models.ModelChange {
	return models.ModelChange{
		Type:     models.ChangeTransform,
		Path:     models.MeshPath(target),
		OldValue: models.TransformValue(models.Transform{Target: target}),
		NewValue: models.TransformValue(models.Transform{Target: target, Translation: models.Vec3{Y: y}}),
	}
}

func TestDetector_Detect(t *testing.T) {
	paint := models.ModelChange{
		Type:     models.ChangeMaterialModified,
		Path:     models.MaterialPath("paint"),
		OldValue: models.MaterialValue(models.Material{Name: "paint"}),
		NewValue: models.MaterialValue(models.Material{Name: "paint", Roughness: 0.2}),
	}
	bodyMesh := models.ModelChange{
		Type:     models.ChangeMeshModified,
		Path:     models.MeshPath("body"),
		OldValue: models.MeshValue(models.Mesh{Name: "body", IndexCount: 300}),
		NewValue: models.MeshValue(models.Mesh{Name: "body", IndexCount: 600}),
	}

	tests := []struct {
		name      string
		source    []models.ModelChange
		target    []models.ModelChange
		wantTypes []models.ConflictType
	}{
		{
			name:      "Непересекающиеся изменения",
			source:    []models.ModelChange{bodyMesh},
			target:    []models.ModelChange{paint},
			wantTypes: []models.ConflictType{},
		},
		{
			name:      "Трансформация одного меша",
			source:    []models.ModelChange{transformChange("body", 1)},
			target:    []models.ModelChange{transformChange("body", 2)},
			wantTypes: []models.ConflictType{models.ConflictTransform},
		},
		{
			name:      "Геометрия и трансформация одного пути - разные семейства",
			source:    []models.ModelChange{bodyMesh},
			target:    []models.ModelChange{transformChange("body", 2)},
			wantTypes: []models.ConflictType{},
		},
		{
			name:      "Одинаковые изменения тоже конфликтуют",
			source:    []models.ModelChange{paint},
			target:    []models.ModelChange{paint},
			wantTypes: []models.ConflictType{models.ConflictMaterial},
		},
		{
			name:   "Порядок по семействам",
			source: []models.ModelChange{paint, transformChange("body", 1), bodyMesh},
			target: []models.ModelChange{transformChange("body", 2), bodyMesh, paint},
			wantTypes: []models.ConflictType{
				models.ConflictGeometryOverlap,
				models.ConflictMaterial,
				models.ConflictTransform,
			},
		},
	}

	d := conflict.NewDetector(logger.Nop())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.Detect(context.Background(),
				&models.VersionDiff{Changes: tt.source},
				&models.VersionDiff{Changes: tt.target})
			require.NoError(t, err)

			types := make([]models.ConflictType, 0, len(got))
			for _, c := range got {
				types = append(types, c.Type)
			}
			assert.Equal(t, tt.wantTypes, types)
		})
	}
}

func TestDetector_Detect_Values(t *testing.T) {
	d := conflict.NewDetector(logger.Nop())
	source := transformChange("body", 1)
	target := transformChange("body", 2)

	got, err := d.Detect(context.Background(),
		&models.VersionDiff{Changes: []models.ModelChange{source}},
		&models.VersionDiff{Changes: []models.ModelChange{target}})
	require.NoError(t, err)
	require.Len(t, got, 1)

	c := got[0]
	assert.Equal(t, "meshes/body", c.Path)
	assert.True(t, c.BaseValue.Equal(source.OldValue))
	assert.True(t, c.SourceValue.Equal(source.NewValue))
	assert.True(t, c.TargetValue.Equal(target.NewValue))
	assert.NotEmpty(t, c.Description)
	assert.False(t, c.Resolved())
}

func TestDetector_Detect_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := conflict.NewDetector(logger.Nop()).Detect(ctx, &models.VersionDiff{}, &models.VersionDiff{})
	require.ErrorIs(t, err, context.Canceled)
}
