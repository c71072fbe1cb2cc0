package models

import "github.com/google/uuid"

// ChangeType - тип структурного изменения.
type ChangeType string

const (
	ChangeMeshAdded        ChangeType = "mesh_added"
	ChangeMeshRemoved      ChangeType = "mesh_removed"
	ChangeMeshModified     ChangeType = "mesh_modified"
	ChangeMaterialAdded    ChangeType = "material_added"
	ChangeMaterialRemoved  ChangeType = "material_removed"
	ChangeMaterialModified ChangeType = "material_modified"
	ChangeTextureAdded     ChangeType = "texture_added"
	ChangeTextureRemoved   ChangeType = "texture_removed"
	ChangeTextureModified  ChangeType = "texture_modified"
	ChangeTransform        ChangeType = "transform_changed"
	ChangeMetadata         ChangeType = "metadata_changed"
)

// Family - семейство изменений; конфликты ищутся внутри семейства.
type Family string

const (
	FamilyGeometry  Family = "geometry"
	FamilyMaterial  Family = "material"
	FamilyTexture   Family = "texture"
	FamilyTransform Family = "transform"
	FamilyMetadata  Family = "metadata"
)

// Families - порядок обхода семейств.
var Families = []Family{FamilyGeometry, FamilyMaterial, FamilyTexture, FamilyTransform, FamilyMetadata}

// Family возвращает семейство типа изменения.
func (t ChangeType) Family() Family {
	switch t {
	case ChangeMeshAdded, ChangeMeshRemoved, ChangeMeshModified:
		return FamilyGeometry
	case ChangeMaterialAdded, ChangeMaterialRemoved, ChangeMaterialModified:
		return FamilyMaterial
	case ChangeTextureAdded, ChangeTextureRemoved, ChangeTextureModified:
		return FamilyTexture
	case ChangeTransform:
		return FamilyTransform
	default:
		return FamilyMetadata
	}
}

// Inverse возвращает тип изменения при обмене сторон diff.
func (t ChangeType) Inverse() ChangeType {
	switch t {
	case ChangeMeshAdded:
		return ChangeMeshRemoved
	case ChangeMeshRemoved:
		return ChangeMeshAdded
	case ChangeMaterialAdded:
		return ChangeMaterialRemoved
	case ChangeMaterialRemoved:
		return ChangeMaterialAdded
	case ChangeTextureAdded:
		return ChangeTextureRemoved
	case ChangeTextureRemoved:
		return ChangeTextureAdded
	default:
		return t
	}
}

// ConflictType возвращает класс конфликта для семейства.
func (f Family) ConflictType() ConflictType {
	switch f {
	case FamilyGeometry:
		return ConflictGeometryOverlap
	case FamilyMaterial:
		return ConflictMaterial
	case FamilyTexture:
		return ConflictTexture
	case FamilyTransform:
		return ConflictTransform
	default:
		return ConflictMetadata
	}
}

// ModelChange - одно структурное изменение.
type ModelChange struct {
	Type     ChangeType   `json:"type"`
	Path     string       `json:"path"`
	OldValue *ChangeValue `json:"old_value,omitempty"`
	NewValue *ChangeValue `json:"new_value,omitempty"`
}

// DiffStatistics - сводка по изменениям.
type DiffStatistics struct {
	TotalChanges     int                `json:"total_changes"`
	ChangesByType    map[ChangeType]int `json:"changes_by_type"`
	TrianglesAdded   int64              `json:"triangles_added"`
	TrianglesRemoved int64              `json:"triangles_removed"`
	SizeDelta        int64              `json:"size_delta"`
}

// VersionDiff - набор изменений между двумя снимками.
type VersionDiff struct {
	FromVersionID uuid.UUID      `json:"from_version_id"`
	ToVersionID   uuid.UUID      `json:"to_version_id"`
	Changes       []ModelChange  `json:"changes"`
	Statistics    DiffStatistics `json:"statistics"`
}

// ByFamily группирует изменения по семействам.
func (d *VersionDiff) ByFamily() map[Family][]ModelChange {
	out := make(map[Family][]ModelChange)
	for _, c := range d.Changes {
		f := c.Type.Family()
		out[f] = append(out[f], c)
	}
	return out
}

// VersionComparisonResult - результат сравнения двух версий.
type VersionComparisonResult struct {
	FromVersionID uuid.UUID    `json:"from_version_id"`
	ToVersionID   uuid.UUID    `json:"to_version_id"`
	Similarity    float64      `json:"similarity"`
	Identical     bool         `json:"identical"`
	Diff          *VersionDiff `json:"diff"`
}
