package diff

import "github.com/maynagashev/assetkeeper/internal/models"

// Веса изменений для оценки сходства: геометрия весит больше всего, метаданные меньше всего.
var weights = map[models.Family]float64{
	models.FamilyGeometry:  0.25,
	models.FamilyTexture:   0.15,
	models.FamilyMaterial:  0.10,
	models.FamilyTransform: 0.05,
	models.FamilyMetadata:  0.02,
}

// Weight возвращает вес типа изменения.
func Weight(t models.ChangeType) float64 {
	return weights[t.Family()]
}

// Similarity возвращает max(0, 1 - сумма весов изменений).
func Similarity(d *models.VersionDiff) float64 {
	total := 0.0
	for _, c := range d.Changes {
		total += Weight(c.Type)
	}
	return max(0, 1-total)
}
