// Package conflict находит пересекающиеся изменения двух веток и их общего предка.
package conflict

import (
	"context"
	"fmt"

	"github.com/maynagashev/assetkeeper/internal/logger"
	"github.com/maynagashev/assetkeeper/internal/models"
)

// Detector сравнивает два diff от общего предка.
type Detector struct {
	log *logger.Logger
}

// NewDetector создаёт детектор.
func NewDetector(log *logger.Logger) *Detector {
	return &Detector{log: log.Component("conflict")}
}

// Detect возвращает конфликты: по одному на путь в каждом семействе изменений, где менялись обе стороны.
// Пути, изменённые только одной стороной, конфликтом не считаются.
func (d *Detector) Detect(ctx context.Context, source, target *models.VersionDiff) ([]models.Conflict, error) {
	sourceByFamily := source.ByFamily()
	targetByFamily := target.ByFamily()

	conflicts := []models.Conflict{}
	for _, family := range models.Families {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("поиск конфликтов прерван: %w", err)
		}
		bySourcePath := make(map[string]models.ModelChange)
		for _, c := range sourceByFamily[family] {
			bySourcePath[c.Path] = c
		}
		processed := make(map[string]struct{})
		for _, tc := range targetByFamily[family] {
			sc, ok := bySourcePath[tc.Path]
			if !ok {
				continue
			}
			if _, done := processed[tc.Path]; done {
				continue
			}
			processed[tc.Path] = struct{}{}
			conflicts = append(conflicts, newConflict(family, sc, tc))
		}
	}

	if len(conflicts) > 0 {
		d.log.Debug().Int("conflicts", len(conflicts)).Msg("Найдены конфликты")
	}
	return conflicts, nil
}

func newConflict(family models.Family, source, target models.ModelChange) models.Conflict {
	base := source.OldValue
	if base == nil {
		base = target.OldValue
	}
	return models.Conflict{
		Type:        family.ConflictType(),
		Path:        source.Path,
		Description: describe(family, source, target),
		BaseValue:   base,
		SourceValue: source.NewValue,
		TargetValue: target.NewValue,
	}
}

func describe(family models.Family, source, target models.ModelChange) string {
	var subject string
	switch family {
	case models.FamilyGeometry:
		subject = "геометрия"
	case models.FamilyMaterial:
		subject = "материал"
	case models.FamilyTexture:
		subject = "текстура"
	case models.FamilyTransform:
		subject = "трансформация"
	default:
		subject = "метаданные"
	}
	return fmt.Sprintf("%s %s изменены в обеих ветках: %s в исходной, %s в целевой",
		subject, source.Path, source.Type, target.Type)
}
