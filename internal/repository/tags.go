package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/maynagashev/assetkeeper/internal/models"
)

const tagColumns = `id, asset_id, version_id, name, created_by, is_release, created_at`

// CreateTag создает тег версии. Имя уникально в пределах версии.
func (s *sqlStore) CreateTag(ctx context.Context, tag *models.VersionTag) (err error) {
	defer func(start time.Time) { s.observe("create_tag", start, 1, err) }(time.Now())

	if tag.ID == uuid.Nil {
		tag.ID = uuid.New()
	}
	tag.CreatedAt = timeOrNow(tag.CreatedAt, s.now)
	query := `INSERT INTO version_tags (` + tagColumns + `)
		VALUES (:id, :asset_id, :version_id, :name, :created_by, :is_release, :created_at)`
	if _, err = s.db.NamedExecContext(ctx, query, tag); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrTagExists, tag.Name)
		}
		return fmt.Errorf("ошибка выполнения запроса на создание тега: %w", err)
	}
	return nil
}

// ListTags возвращает теги версии.
func (s *sqlStore) ListTags(ctx context.Context, versionID uuid.UUID) (tags []models.VersionTag, err error) {
	defer func(start time.Time) { s.observe("list_tags", start, len(tags), err) }(time.Now())

	tags = []models.VersionTag{}
	query := s.db.Rebind(`SELECT ` + tagColumns + ` FROM version_tags WHERE version_id = ? ORDER BY created_at, name`)
	if err = s.db.SelectContext(ctx, &tags, query, versionID); err != nil {
		return nil, fmt.Errorf("ошибка выполнения запроса на получение тегов: %w", err)
	}
	return tags, nil
}
