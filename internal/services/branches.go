package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/maynagashev/assetkeeper/internal/apperr"
	"github.com/maynagashev/assetkeeper/internal/models"
)

// CreateBranchInput - параметры новой ветки.
type CreateBranchInput struct {
	AssetID string
	Name    string
	// BaseVersionID - версия, от которой ветка начинается; нулевой означает голову ветки по умолчанию.
	BaseVersionID uuid.UUID
	Creator       string
	Protected     bool
}

// CreateBranch создаёт ветку, голова которой совпадает с базовой версией.
func (s *versionControlService) CreateBranch(ctx context.Context, in CreateBranchInput) (b *models.Branch, err error) {
	defer func(start time.Time) { s.observe("create_branch", start, err) }(time.Now())

	name := strings.TrimSpace(in.Name)
	if err = validateBranchName(name); err != nil {
		return nil, err
	}
	if in.Creator == "" {
		return nil, apperr.Validation("не указан автор ветки")
	}

	baseID := in.BaseVersionID
	if baseID == uuid.Nil {
		def, getErr := s.store.GetBranch(ctx, in.AssetID, s.cfg.DefaultBranch)
		if getErr != nil {
			return nil, getErr
		}
		baseID = def.HeadVersionID
	}
	base, err := s.store.GetVersion(ctx, baseID)
	if err != nil {
		return nil, err
	}
	if base.AssetID != in.AssetID {
		return nil, apperr.Validation("версия %s принадлежит другому ассету", base.ID)
	}

	b = &models.Branch{
		AssetID:       in.AssetID,
		Name:          name,
		Protected:     in.Protected,
		HeadVersionID: base.ID,
		BaseVersionID: base.ID,
		CreatedBy:     in.Creator,
	}
	if err = s.store.CreateBranch(ctx, b); err != nil {
		return nil, err
	}
	s.log.Info().
		Str("asset_id", b.AssetID).
		Str("branch", b.Name).
		Str("base_version", base.Version).
		Msg("Создана ветка")
	return b, nil
}

func validateBranchName(name string) error {
	if name == "" {
		return apperr.Validation("пустое имя ветки")
	}
	if len(name) > 255 {
		return apperr.Validation("имя ветки длиннее 255 символов")
	}
	if strings.ContainsAny(name, " \t\n~^:?*[\\") || strings.Contains(name, "..") {
		return apperr.Validation("недопустимое имя ветки %q", name)
	}
	return nil
}

// GetBranch возвращает ветку по имени.
func (s *versionControlService) GetBranch(ctx context.Context, assetID, name string) (b *models.Branch, err error) {
	defer func(start time.Time) { s.observe("get_branch", start, err) }(time.Now())

	return s.store.GetBranch(ctx, assetID, name)
}

// ListBranches возвращает ветки ассета.
func (s *versionControlService) ListBranches(ctx context.Context, assetID string) (list []models.Branch, err error) {
	defer func(start time.Time) { s.observe("list_branches", start, err) }(time.Now())

	return s.store.ListBranches(ctx, assetID)
}
