package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// VersionStatus - статус версии модели. Единственное изменяемое поле версии.
type VersionStatus string

const (
	VersionStatusDraft         VersionStatus = "draft"
	VersionStatusPendingReview VersionStatus = "pending_review"
	VersionStatusApproved      VersionStatus = "approved"
	VersionStatusRejected      VersionStatus = "rejected"
	VersionStatusArchived      VersionStatus = "archived"
)

// ModelMetadata - структурные метрики сцены, вычисляются экстрактором при создании версии.
type ModelMetadata struct {
	TriangleCount int64       `db:"triangle_count" json:"triangle_count"`
	VertexCount   int64       `db:"vertex_count" json:"vertex_count"`
	MaterialCount int         `db:"material_count" json:"material_count"`
	TextureCount  int         `db:"texture_count" json:"texture_count"`
	BoundingBox   BoundingBox `db:"bounding_box" json:"bounding_box"`
}

// ModelVersion представляет неизменяемый коммит ассета.
// Версии образуют DAG через ParentVersionID и MergeParentID (второй родитель у merge-коммитов).
type ModelVersion struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	AssetID         string     `db:"asset_id" json:"asset_id"`
	Version         string     `db:"version" json:"version"` // major.minor.patch
	ParentVersionID *uuid.UUID `db:"parent_version_id" json:"parent_version_id,omitempty"`
	MergeParentID   *uuid.UUID `db:"merge_parent_id" json:"merge_parent_id,omitempty"`
	Branch          string     `db:"branch_name" json:"branch"`
	Message         string     `db:"commit_message" json:"message"`
	ContentHash     string     `db:"content_hash" json:"content_hash"`
	ContentPath     string     `db:"content_path" json:"content_path"`
	Author          string     `db:"author" json:"author"`
	SizeBytes       int64      `db:"size_bytes" json:"size_bytes"`
	ModelMetadata
	Status    VersionStatus `db:"status" json:"status"`
	Tags      StringMap     `db:"tags" json:"tags,omitempty"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
}

// Parents возвращает идентификаторы всех родителей версии.
func (v *ModelVersion) Parents() []uuid.UUID {
	parents := make([]uuid.UUID, 0, 2)
	if v.ParentVersionID != nil {
		parents = append(parents, *v.ParentVersionID)
	}
	if v.MergeParentID != nil {
		parents = append(parents, *v.MergeParentID)
	}
	return parents
}

// StringMap - произвольные теги версии, в БД хранятся как JSON-объект.
type StringMap map[string]string

// Value реализует driver.Valuer.
func (m StringMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(map[string]string(m))
	if err != nil {
		return nil, fmt.Errorf("ошибка кодирования тегов: %w", err)
	}
	return string(data), nil
}

// Scan реализует sql.Scanner.
func (m *StringMap) Scan(src any) error {
	return scanJSON(src, m)
}

// StringSet - упорядоченное множество строк (участники ветки, согласующие), в БД хранится как JSON-массив.
type StringSet []string

// Add добавляет значение, если его ещё нет.
func (s StringSet) Add(v string) StringSet {
	if v == "" || slices.Contains(s, v) {
		return s
	}
	return append(s, v)
}

// Contains сообщает о наличии значения.
func (s StringSet) Contains(v string) bool {
	return slices.Contains(s, v)
}

// Value реализует driver.Valuer.
func (s StringSet) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	data, err := json.Marshal([]string(s))
	if err != nil {
		return nil, fmt.Errorf("ошибка кодирования списка: %w", err)
	}
	return string(data), nil
}

// Scan реализует sql.Scanner.
func (s *StringSet) Scan(src any) error {
	return scanJSON(src, s)
}
