package merge

import (
	"strings"

	"github.com/maynagashev/assetkeeper/internal/apperr"
	"github.com/maynagashev/assetkeeper/internal/models"
)

// familyOf возвращает семейство изменений для класса конфликта.
func familyOf(t models.ConflictType) (models.Family, bool) {
	for _, f := range models.Families {
		if f.ConflictType() == t {
			return f, true
		}
	}
	return "", false
}

// patch записывает значение элемента по пути; nil удаляет элемент.
func patch(scene *models.Scene, family models.Family, path string, value *models.ChangeValue) error {
	if value != nil && value.Kind() != kindOf(family) {
		return apperr.Validation("значение %q не подходит для пути %s", value.Kind(), path)
	}

	switch family {
	case models.FamilyGeometry:
		name := strings.TrimPrefix(path, models.MeshPathPrefix)
		var m *models.Mesh
		if value != nil {
			m = value.Mesh
		}
		scene.Meshes = upsert(scene.Meshes, name, func(x models.Mesh) string { return x.Name }, m)
	case models.FamilyMaterial:
		name := strings.TrimPrefix(path, models.MaterialPathPrefix)
		var m *models.Material
		if value != nil {
			m = value.Material
		}
		scene.Materials = upsert(scene.Materials, name, func(x models.Material) string { return x.Name }, m)
	case models.FamilyTexture:
		name := strings.TrimPrefix(path, models.TexturePathPrefix)
		var tx *models.Texture
		if value != nil {
			tx = value.Texture
		}
		scene.Textures = upsert(scene.Textures, name, func(x models.Texture) string { return x.Name }, tx)
	case models.FamilyTransform:
		target := strings.TrimPrefix(path, models.MeshPathPrefix)
		var tr *models.Transform
		if value != nil {
			tr = value.Transform
		}
		scene.Transforms = upsert(scene.Transforms, target, func(x models.Transform) string { return x.Target }, tr)
	case models.FamilyMetadata:
		if value == nil {
			return apperr.Validation("формат сцены нельзя удалить")
		}
		scene.Format = value.Metadata.Format
	}
	return nil
}

func kindOf(family models.Family) models.ValueKind {
	switch family {
	case models.FamilyGeometry:
		return models.ValueKindMesh
	case models.FamilyMaterial:
		return models.ValueKindMaterial
	case models.FamilyTexture:
		return models.ValueKindTexture
	case models.FamilyTransform:
		return models.ValueKindTransform
	default:
		return models.ValueKindMetadata
	}
}

// upsert заменяет элемент с именем name на v, добавляет его в конец или удаляет при v == nil.
func upsert[T any](items []T, name string, nameOf func(T) string, v *T) []T {
	for i := range items {
		if nameOf(items[i]) != name {
			continue
		}
		if v == nil {
			return append(items[:i], items[i+1:]...)
		}
		items[i] = *v
		return items
	}
	if v != nil {
		items = append(items, *v)
	}
	return items
}

// pruneTransforms убирает трансформации удалённых мешей и возвращает их цели.
func pruneTransforms(scene *models.Scene) []string {
	meshes := make(map[string]struct{}, len(scene.Meshes))
	for _, m := range scene.Meshes {
		meshes[m.Name] = struct{}{}
	}
	var dropped []string
	kept := scene.Transforms[:0]
	for _, tr := range scene.Transforms {
		if _, ok := meshes[tr.Target]; ok {
			kept = append(kept, tr)
			continue
		}
		dropped = append(dropped, tr.Target)
	}
	scene.Transforms = kept
	return dropped
}
