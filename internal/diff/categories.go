package diff

import "github.com/maynagashev/assetkeeper/internal/models"

// kinds - типы изменений одной категории.
type kinds struct {
	added, removed, modified models.ChangeType
}

// diffNamed сравнивает два списка элементов по имени.
// Порядок результата: удалённые и изменённые в порядке from, затем добавленные в порядке to.
func diffNamed[T comparable](
	from, to []T,
	name func(T) string,
	path func(string) string,
	wrap func(T) *models.ChangeValue,
	k kinds,
) []models.ModelChange {
	toByName := make(map[string]T, len(to))
	for _, el := range to {
		toByName[name(el)] = el
	}
	fromNames := make(map[string]struct{}, len(from))

	var changes []models.ModelChange
	for _, old := range from {
		n := name(old)
		fromNames[n] = struct{}{}
		cur, ok := toByName[n]
		switch {
		case !ok:
			changes = append(changes, models.ModelChange{Type: k.removed, Path: path(n), OldValue: wrap(old)})
		case old != cur:
			changes = append(changes, models.ModelChange{
				Type: k.modified, Path: path(n), OldValue: wrap(old), NewValue: wrap(cur),
			})
		}
	}
	for _, cur := range to {
		if _, ok := fromNames[name(cur)]; !ok {
			changes = append(changes, models.ModelChange{Type: k.added, Path: path(name(cur)), NewValue: wrap(cur)})
		}
	}
	return changes
}

func diffMeshes(from, to *models.Scene) []models.ModelChange {
	return diffNamed(from.Meshes, to.Meshes,
		func(m models.Mesh) string { return m.Name },
		models.MeshPath, models.MeshValue,
		kinds{models.ChangeMeshAdded, models.ChangeMeshRemoved, models.ChangeMeshModified})
}

func diffMaterials(from, to *models.Scene) []models.ModelChange {
	return diffNamed(from.Materials, to.Materials,
		func(m models.Material) string { return m.Name },
		models.MaterialPath, models.MaterialValue,
		kinds{models.ChangeMaterialAdded, models.ChangeMaterialRemoved, models.ChangeMaterialModified})
}

func diffTextures(from, to *models.Scene) []models.ModelChange {
	return diffNamed(from.Textures, to.Textures,
		func(t models.Texture) string { return t.Name },
		models.TexturePath, models.TextureValue,
		kinds{models.ChangeTextureAdded, models.ChangeTextureRemoved, models.ChangeTextureModified})
}

// diffTransforms - отдельная категория: трансформация меняется независимо от геометрии того же меша.
// Появление или исчезновение трансформации тоже transform_changed, с пустой стороной.
func diffTransforms(from, to *models.Scene) []models.ModelChange {
	return diffNamed(from.Transforms, to.Transforms,
		func(t models.Transform) string { return t.Target },
		models.MeshPath, models.TransformValue,
		kinds{models.ChangeTransform, models.ChangeTransform, models.ChangeTransform})
}

func diffMetadata(from, to *models.Scene) []models.ModelChange {
	if from.Format == to.Format {
		return nil
	}
	return []models.ModelChange{{
		Type:     models.ChangeMetadata,
		Path:     models.SceneFormatPath,
		OldValue: models.MetadataValue(models.SceneMetadata{Format: from.Format}),
		NewValue: models.MetadataValue(models.SceneMetadata{Format: to.Format}),
	}}
}
