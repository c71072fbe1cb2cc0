package merge

import (
	"github.com/maynagashev/assetkeeper/internal/apperr"
	"github.com/maynagashev/assetkeeper/internal/models"
)

// CheckResolution проверяет, что решение конфликта применимо к сцене так же, как при слиянии:
// значение подходит по виду, а пополевое слияние возможно для этого класса конфликта.
// Ручное решение без значения удаляет элемент.
func CheckResolution(c models.Conflict) error {
	family, ok := familyOf(c.Type)
	if !ok {
		return apperr.Validation("конфликт %s не может быть применён к сцене", c.Type)
	}
	value, err := resolvedValue(c)
	if err != nil {
		return err
	}
	if value == nil {
		if family == models.FamilyMetadata {
			return apperr.Validation("%s: формат сцены нельзя удалить", c.Path)
		}
		return nil
	}
	if value.Kind() != kindOf(family) {
		return apperr.Validation("значение %q не подходит для конфликта %s по пути %s", value.Kind(), c.Type, c.Path)
	}
	return nil
}

// resolvedValue возвращает значение, которое решение конфликта записывает в сцену.
func resolvedValue(c models.Conflict) (*models.ChangeValue, error) {
	r := c.Resolution
	if r == nil {
		return nil, apperr.Unresolved([]models.Conflict{c})
	}
	switch r.Strategy {
	case models.ResolveUseSource:
		return c.SourceValue, nil
	case models.ResolveUseTarget:
		return c.TargetValue, nil
	case models.ResolveManual:
		return r.Custom, nil
	case models.ResolveMerge:
		if r.Custom != nil {
			return r.Custom, nil
		}
		return mergeFields(c)
	default:
		return nil, apperr.Validation("неизвестная стратегия разрешения %q", r.Strategy)
	}
}

// mergeFields сливает значения пополево: поле берётся из источника, если источник его менял, иначе из цели.
func mergeFields(c models.Conflict) (*models.ChangeValue, error) {
	src, tgt := c.SourceValue, c.TargetValue
	if src == nil || tgt == nil {
		return nil, apperr.Validation("%s: удалённый элемент нельзя слить пополево, нужно явное решение", c.Path)
	}

	switch c.Type {
	case models.ConflictMaterial:
		var base models.Material
		if c.BaseValue != nil && c.BaseValue.Material != nil {
			base = *c.BaseValue.Material
		}
		s, t := *src.Material, *tgt.Material
		out := t
		out.BaseColor = pick(base.BaseColor, s.BaseColor, t.BaseColor)
		out.Metallic = pick(base.Metallic, s.Metallic, t.Metallic)
		out.Roughness = pick(base.Roughness, s.Roughness, t.Roughness)
		out.Emissive = pick(base.Emissive, s.Emissive, t.Emissive)
		out.AlphaMode = pick(base.AlphaMode, s.AlphaMode, t.AlphaMode)
		out.DoubleSided = pick(base.DoubleSided, s.DoubleSided, t.DoubleSided)
		out.BaseColorTexture = pick(base.BaseColorTexture, s.BaseColorTexture, t.BaseColorTexture)
		out.NormalTexture = pick(base.NormalTexture, s.NormalTexture, t.NormalTexture)
		return models.MaterialValue(out), nil

	case models.ConflictGeometryOverlap:
		var base models.Mesh
		if c.BaseValue != nil && c.BaseValue.Mesh != nil {
			base = *c.BaseValue.Mesh
		}
		s, t := *src.Mesh, *tgt.Mesh
		out := t
		// Буфер, счётчики и границы описывают одну геометрию и переносятся вместе.
		if s.VertexCount != base.VertexCount || s.IndexCount != base.IndexCount ||
			s.BufferHash != base.BufferHash || s.Bounds != base.Bounds {
			out.VertexCount, out.IndexCount = s.VertexCount, s.IndexCount
			out.BufferHash, out.Bounds = s.BufferHash, s.Bounds
		}
		out.Material = pick(base.Material, s.Material, t.Material)
		return models.MeshValue(out), nil

	case models.ConflictTransform:
		var base models.Transform
		if c.BaseValue != nil && c.BaseValue.Transform != nil {
			base = *c.BaseValue.Transform
		}
		s, t := *src.Transform, *tgt.Transform
		out := t
		out.Translation = pick(base.Translation, s.Translation, t.Translation)
		out.Rotation = pick(base.Rotation, s.Rotation, t.Rotation)
		out.Scale = pick(base.Scale, s.Scale, t.Scale)
		return models.TransformValue(out), nil

	case models.ConflictMetadata:
		var base models.SceneMetadata
		if c.BaseValue != nil && c.BaseValue.Metadata != nil {
			base = *c.BaseValue.Metadata
		}
		return models.MetadataValue(models.SceneMetadata{
			Format: pick(base.Format, src.Metadata.Format, tgt.Metadata.Format),
		}), nil

	default:
		return nil, apperr.Validation("%s: конфликт типа %s разрешается только явным значением", c.Path, c.Type)
	}
}

func pick[T comparable](base, source, target T) T {
	if source != base {
		return source
	}
	return target
}
