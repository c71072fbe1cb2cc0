package content

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/maynagashev/assetkeeper/internal/models"
)

// EncodeScene кодирует манифест канонически: порядок элементов сохраняется, nil-срезы пишутся как [].
// Одинаковые сцены дают одинаковые байты, а значит и одинаковый хеш.
func EncodeScene(scene *models.Scene) ([]byte, error) {
	if scene == nil {
		return nil, fmt.Errorf("пустая сцена")
	}
	normalized := normalize(scene)
	data, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("ошибка кодирования сцены: %w", err)
	}
	return data, nil
}

// DecodeScene разбирает манифест, отвергая неизвестные поля.
func DecodeScene(data []byte) (*models.Scene, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var scene models.Scene
	if err := dec.Decode(&scene); err != nil {
		return nil, fmt.Errorf("ошибка декодирования сцены: %w", err)
	}
	return normalize(&scene), nil
}

func normalize(scene *models.Scene) *models.Scene {
	s := scene.Clone()
	if s.Meshes == nil {
		s.Meshes = []models.Mesh{}
	}
	if s.Materials == nil {
		s.Materials = []models.Material{}
	}
	if s.Textures == nil {
		s.Textures = []models.Texture{}
	}
	if s.Transforms == nil {
		s.Transforms = []models.Transform{}
	}
	return s
}
