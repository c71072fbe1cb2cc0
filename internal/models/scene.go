package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// Vec3 - трёхмерный вектор (позиция, масштаб, углы ограничивающего параллелепипеда).
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Quat - кватернион поворота.
type Quat struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// BoundingBox - выровненный по осям ограничивающий параллелепипед.
type BoundingBox struct {
	Min Vec3 `json:"min"`
	Max Vec3 `json:"max"`
}

// IsZero сообщает, что параллелепипед не задан.
func (b BoundingBox) IsZero() bool {
	return b == BoundingBox{}
}

// Union возвращает параллелепипед, покрывающий оба.
func (b BoundingBox) Union(o BoundingBox) BoundingBox {
	if b.IsZero() {
		return o
	}
	if o.IsZero() {
		return b
	}
	return BoundingBox{
		Min: Vec3{X: min(b.Min.X, o.Min.X), Y: min(b.Min.Y, o.Min.Y), Z: min(b.Min.Z, o.Min.Z)},
		Max: Vec3{X: max(b.Max.X, o.Max.X), Y: max(b.Max.Y, o.Max.Y), Z: max(b.Max.Z, o.Max.Z)},
	}
}

// Value сохраняет параллелепипед в БД как JSON.
func (b BoundingBox) Value() (driver.Value, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("ошибка кодирования bounding box: %w", err)
	}
	return string(data), nil
}

// Scan читает параллелепипед из БД.
func (b *BoundingBox) Scan(src any) error {
	return scanJSON(src, b)
}

// Mesh - геометрия сцены. Байты буфера хранятся отдельно и адресуются по BufferHash.
type Mesh struct {
	Name        string      `json:"name"`
	VertexCount int64       `json:"vertex_count"`
	IndexCount  int64       `json:"index_count"`
	Bounds      BoundingBox `json:"bounds"`
	Material    string      `json:"material,omitempty"`
	BufferHash  string      `json:"buffer_hash,omitempty"`
}

// TriangleCount возвращает число треугольников (индексный буфер из троек).
func (m Mesh) TriangleCount() int64 {
	return m.IndexCount / 3
}

// Material - PBR-материал.
type Material struct {
	Name             string     `json:"name"`
	BaseColor        [4]float64 `json:"base_color"`
	Metallic         float64    `json:"metallic"`
	Roughness        float64    `json:"roughness"`
	Emissive         [3]float64 `json:"emissive"`
	AlphaMode        string     `json:"alpha_mode,omitempty"`
	DoubleSided      bool       `json:"double_sided,omitempty"`
	BaseColorTexture string     `json:"base_color_texture,omitempty"`
	NormalTexture    string     `json:"normal_texture,omitempty"`
}

// ChangedFields перечисляет поля материала, отличающиеся от other.
func (m Material) ChangedFields(other Material) []string {
	var fields []string
	if m.BaseColor != other.BaseColor {
		fields = append(fields, "base_color")
	}
	if m.Metallic != other.Metallic {
		fields = append(fields, "metallic")
	}
	if m.Roughness != other.Roughness {
		fields = append(fields, "roughness")
	}
	if m.Emissive != other.Emissive {
		fields = append(fields, "emissive")
	}
	if m.AlphaMode != other.AlphaMode {
		fields = append(fields, "alpha_mode")
	}
	if m.DoubleSided != other.DoubleSided {
		fields = append(fields, "double_sided")
	}
	if m.BaseColorTexture != other.BaseColorTexture {
		fields = append(fields, "base_color_texture")
	}
	if m.NormalTexture != other.NormalTexture {
		fields = append(fields, "normal_texture")
	}
	return fields
}

// Texture - текстура сцены, пиксели лежат в blob-хранилище под BlobHash.
type Texture struct {
	Name        string `json:"name"`
	BlobHash    string `json:"blob_hash,omitempty"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	PixelFormat string `json:"pixel_format,omitempty"`
	ByteSize    int64  `json:"byte_size"`
}

// Transform - трансформация меша с именем Target.
type Transform struct {
	Target      string `json:"target"`
	Translation Vec3   `json:"translation"`
	Rotation    Quat   `json:"rotation"`
	Scale       Vec3   `json:"scale"`
}

// SceneMetadata - поля уровня сцены.
type SceneMetadata struct {
	Format string `json:"format"`
}

// Scene - структурный снимок ассета: манифест, который версионируется.
type Scene struct {
	Format     string      `json:"format"`
	Meshes     []Mesh      `json:"meshes"`
	Materials  []Material  `json:"materials"`
	Textures   []Texture   `json:"textures"`
	Transforms []Transform `json:"transforms"`
}

// Clone возвращает независимую копию сцены.
func (s *Scene) Clone() *Scene {
	if s == nil {
		return nil
	}
	return &Scene{
		Format:     s.Format,
		Meshes:     append([]Mesh(nil), s.Meshes...),
		Materials:  append([]Material(nil), s.Materials...),
		Textures:   append([]Texture(nil), s.Textures...),
		Transforms: append([]Transform(nil), s.Transforms...),
	}
}

// Пути элементов сцены.
const (
	MeshPathPrefix     = "meshes/"
	MaterialPathPrefix = "materials/"
	TexturePathPrefix  = "textures/"
	SceneFormatPath    = "scene/format"
)

// MeshPath возвращает путь меша (и его трансформации).
func MeshPath(name string) string { return MeshPathPrefix + name }

// MaterialPath возвращает путь материала.
func MaterialPath(name string) string { return MaterialPathPrefix + name }

// TexturePath возвращает путь текстуры.
func TexturePath(name string) string { return TexturePathPrefix + name }

// scanJSON декодирует JSON-колонку: lib/pq отдаёт []byte, sqlite - string.
func scanJSON(src any, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("неподдерживаемый тип колонки %T: %w", src, errUnsupportedColumn)
	}
}

var errUnsupportedColumn = errors.New("ожидалась JSON-колонка")
