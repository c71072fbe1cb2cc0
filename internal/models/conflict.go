package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ValueKind - вариант ChangeValue.
type ValueKind string

const (
	ValueKindNone      ValueKind = ""
	ValueKindMesh      ValueKind = "mesh"
	ValueKindMaterial  ValueKind = "material"
	ValueKindTexture   ValueKind = "texture"
	ValueKindTransform ValueKind = "transform"
	ValueKindMetadata  ValueKind = "metadata"
)

// ChangeValue - типизированное значение элемента сцены.
// Заполнен ровно один вариант; nil *ChangeValue означает отсутствие элемента.
type ChangeValue struct {
	Mesh      *Mesh          `json:"mesh,omitempty"`
	Material  *Material      `json:"material,omitempty"`
	Texture   *Texture       `json:"texture,omitempty"`
	Transform *Transform     `json:"transform,omitempty"`
	Metadata  *SceneMetadata `json:"metadata,omitempty"`
}

// MeshValue, MaterialValue и т.д. - конструкторы вариантов.
func MeshValue(m Mesh) *ChangeValue { return &ChangeValue{Mesh: &m} }
func MaterialValue(m Material) *ChangeValue { return &ChangeValue{Material: &m} }
func TextureValue(t Texture) *ChangeValue { return &ChangeValue{Texture: &t} }
func TransformValue(t Transform) *ChangeValue { return &ChangeValue{Transform: &t} }
func MetadataValue(m SceneMetadata) *ChangeValue { return &ChangeValue{Metadata: &m} }

// Kind возвращает заполненный вариант.
func (v *ChangeValue) Kind() ValueKind {
	switch {
	case v == nil:
		return ValueKindNone
	case v.Mesh != nil:
		return ValueKindMesh
	case v.Material != nil:
		return ValueKindMaterial
	case v.Texture != nil:
		return ValueKindTexture
	case v.Transform != nil:
		return ValueKindTransform
	case v.Metadata != nil:
		return ValueKindMetadata
	default:
		return ValueKindNone
	}
}

// Validate проверяет, что заполнено не больше одного варианта.
func (v *ChangeValue) Validate() error {
	if v == nil {
		return nil
	}
	n := 0
	for _, set := range []bool{v.Mesh != nil, v.Material != nil, v.Texture != nil, v.Transform != nil, v.Metadata != nil} {
		if set {
			n++
		}
	}
	if n != 1 {
		return fmt.Errorf("значение изменения должно содержать ровно один вариант, получено %d", n)
	}
	return nil
}

// Equal сравнивает значения по содержимому.
func (v *ChangeValue) Equal(o *ChangeValue) bool {
	if v == nil || o == nil {
		return v == nil && o == nil
	}
	if v.Kind() != o.Kind() {
		return false
	}
	switch v.Kind() {
	case ValueKindMesh:
		return *v.Mesh == *o.Mesh
	case ValueKindMaterial:
		return *v.Material == *o.Material
	case ValueKindTexture:
		return *v.Texture == *o.Texture
	case ValueKindTransform:
		return *v.Transform == *o.Transform
	case ValueKindMetadata:
		return *v.Metadata == *o.Metadata
	default:
		return true
	}
}

// Value реализует driver.Valuer.
func (v ChangeValue) Value() (driver.Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("ошибка кодирования значения изменения: %w", err)
	}
	return string(data), nil
}

// Scan реализует sql.Scanner.
func (v *ChangeValue) Scan(src any) error {
	return scanJSON(src, v)
}

// ConflictType - класс конфликта.
type ConflictType string

const (
	ConflictGeometryOverlap ConflictType = "geometry_overlap"
	ConflictMaterial        ConflictType = "material_conflict"
	ConflictTexture         ConflictType = "texture_conflict"
	ConflictMetadata        ConflictType = "metadata_conflict"
	ConflictAnnotation      ConflictType = "annotation_conflict"
	ConflictTransform       ConflictType = "transform_conflict"
)

// ResolutionStrategy - способ разрешения конфликта.
type ResolutionStrategy string

const (
	ResolveUseSource ResolutionStrategy = "use_source"
	ResolveUseTarget ResolutionStrategy = "use_target"
	// ResolveManual - значение задаёт пользователь в Custom; nil Custom удаляет элемент.
	ResolveManual ResolutionStrategy = "manual"
	// ResolveMerge - пополевое трёхстороннее слияние; Custom, если задан, имеет приоритет.
	ResolveMerge ResolutionStrategy = "merge"
)

// Valid сообщает, что стратегия известна.
func (s ResolutionStrategy) Valid() bool {
	switch s {
	case ResolveUseSource, ResolveUseTarget, ResolveManual, ResolveMerge:
		return true
	}
	return false
}

// Resolution - решение по конфликту.
type Resolution struct {
	Strategy   ResolutionStrategy `json:"strategy"`
	ResolvedBy string             `json:"resolved_by"`
	ResolvedAt time.Time          `json:"resolved_at"`
	Custom     *ChangeValue       `json:"custom,omitempty"`
}

// Value реализует driver.Valuer.
func (r Resolution) Value() (driver.Value, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("ошибка кодирования решения конфликта: %w", err)
	}
	return string(data), nil
}

// Scan реализует sql.Scanner.
func (r *Resolution) Scan(src any) error {
	return scanJSON(src, r)
}

// Conflict - изменение одного пути обеими сторонами слияния.
type Conflict struct {
	ID             uuid.UUID    `db:"id" json:"id"`
	MergeRequestID uuid.UUID    `db:"merge_request_id" json:"merge_request_id,omitempty"`
	Type           ConflictType `db:"conflict_type" json:"type"`
	Path           string       `db:"path" json:"path"`
	Description    string       `db:"description" json:"description"`
	BaseValue      *ChangeValue `db:"base_value" json:"base_value,omitempty"`
	SourceValue    *ChangeValue `db:"source_value" json:"source_value,omitempty"`
	TargetValue    *ChangeValue `db:"target_value" json:"target_value,omitempty"`
	Resolution     *Resolution  `db:"resolution" json:"resolution,omitempty"`
	CreatedAt      time.Time    `db:"created_at" json:"created_at"`
}

// Key - ключ конфликта (тип + путь), не зависящий от идентификатора.
func (c *Conflict) Key() string {
	return string(c.Type) + "|" + c.Path
}

// Resolved сообщает, что по конфликту есть решение.
func (c *Conflict) Resolved() bool {
	return c.Resolution != nil
}
