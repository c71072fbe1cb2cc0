package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/maynagashev/assetkeeper/internal/apperr"
	"github.com/maynagashev/assetkeeper/internal/approval"
	"github.com/maynagashev/assetkeeper/internal/diff"
	"github.com/maynagashev/assetkeeper/internal/models"
	"github.com/maynagashev/assetkeeper/internal/repository"
	"github.com/maynagashev/assetkeeper/internal/versioning"
	"github.com/maynagashev/assetkeeper/internal/workerpool"
)

// Теги, которыми помечается откат.
const (
	TagRollback      = "rollback"
	TagRollbackOf    = "rollback_of"
	TagRollbackTo    = "rollback_to_version"
	TagRollbackCause = "rollback_reason"
)

// CreateVersionInput - данные нового коммита.
type CreateVersionInput struct {
	AssetID string
	// Branch - пустая означает ветку по умолчанию.
	Branch  string
	Scene   *models.Scene
	Author  string
	Message string
	Tags    map[string]string
	Bump    versioning.Bump
	// ParentOverride задаёт родителя вместо головы ветки; версия должна принадлежать тому же ассету.
	// Если это не голова, голова становится вторым родителем и остаётся в истории ветки.
	ParentOverride *uuid.UUID
}

// RollbackInput - параметры отката.
type RollbackInput struct {
	AssetID         string
	Branch          string // пустая - ветка целевой версии
	TargetVersionID uuid.UUID
	Actor           string
	Reason          string
}

// CreateTagInput - параметры тега.
type CreateTagInput struct {
	VersionID uuid.UUID
	Name      string
	Creator   string
	IsRelease bool
}

// CreateVersion фиксирует новую версию в ветку. Первый коммит ассета создаёт ветку.
func (s *versionControlService) CreateVersion(ctx context.Context, in CreateVersionInput) (v *models.ModelVersion, err error) {
	defer func(start time.Time) { s.observe("create_version", start, err) }(time.Now())

	if in.Branch == "" {
		in.Branch = s.cfg.DefaultBranch
	}
	if err = s.checkApprovalPolicy(); err != nil {
		return nil, err
	}

	v, err = s.commitWithRetry(ctx, "create_version", func(ctx context.Context) (*models.ModelVersion, error) {
		return s.createVersion(ctx, in)
	})
	if err != nil {
		return nil, err
	}
	if err = s.startVersionWorkflow(ctx, v); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("asset_id", v.AssetID).
		Str("branch", v.Branch).
		Str("version", v.Version).
		Str("content_hash", v.ContentHash).
		Msg("Создана версия")
	return v, nil
}

func (s *versionControlService) createVersion(ctx context.Context, in CreateVersionInput) (*models.ModelVersion, error) {
	branch, err := s.store.GetBranch(ctx, in.AssetID, in.Branch)
	if errors.Is(err, apperr.ErrNotFound) {
		return s.createInitialVersion(ctx, in)
	}
	if err != nil {
		return nil, err
	}
	if branch.Protected {
		return nil, apperr.Validation("ветка %s защищена: изменения принимаются только слиянием", branch.Name)
	}

	head, err := s.store.GetVersion(ctx, branch.HeadVersionID)
	if err != nil {
		return nil, fmt.Errorf("голова ветки %s: %w", branch.Name, err)
	}
	parent := head
	var mergeParent *models.ModelVersion
	if in.ParentOverride != nil && *in.ParentOverride != head.ID {
		if parent, err = s.store.GetVersion(ctx, *in.ParentOverride); err != nil {
			return nil, fmt.Errorf("родительская версия: %w", err)
		}
		if parent.AssetID != in.AssetID {
			return nil, apperr.Validation("родительская версия %s принадлежит другому ассету", parent.ID)
		}
		mergeParent = head
	}

	v, err := s.builder.Build(ctx, versioning.Input{
		AssetID:     in.AssetID,
		Branch:      branch.Name,
		Scene:       in.Scene,
		Base:        head.Version,
		Bump:        in.Bump,
		Parent:      parent,
		MergeParent: mergeParent,
		Author:      in.Author,
		Message:     in.Message,
		Tags:        in.Tags,
		Status:      s.newVersionStatus(),
	})
	if err != nil {
		return nil, err
	}
	if err = s.store.CommitVersion(ctx, v, branch.ID, head.ID); err != nil {
		return nil, fmt.Errorf("фиксация версии в ветку %s: %w", branch.Name, err)
	}
	return v, nil
}

func (s *versionControlService) createInitialVersion(ctx context.Context, in CreateVersionInput) (*models.ModelVersion, error) {
	existing, err := s.store.ListVersions(ctx, in.AssetID, "", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, fmt.Errorf("%w: %s/%s", repository.ErrBranchNotFound, in.AssetID, in.Branch)
	}
	if in.ParentOverride != nil {
		return nil, apperr.Validation("у первой версии ассета не может быть родителя")
	}

	v, err := s.builder.Build(ctx, versioning.Input{
		AssetID: in.AssetID,
		Branch:  in.Branch,
		Scene:   in.Scene,
		Author:  in.Author,
		Message: in.Message,
		Tags:    in.Tags,
		Status:  s.newVersionStatus(),
	})
	if err != nil {
		return nil, err
	}
	b := &models.Branch{
		AssetID:   in.AssetID,
		Name:      in.Branch,
		IsDefault: true,
		Protected: s.cfg.ProtectDefaultBranch,
		CreatedBy: in.Author,
	}
	if err = s.store.CommitInitialVersion(ctx, v, b); err != nil {
		return nil, fmt.Errorf("первая версия ассета %s: %w", in.AssetID, err)
	}
	return v, nil
}

// startVersionWorkflow запускает согласование версии, если оно требуется.
func (s *versionControlService) startVersionWorkflow(ctx context.Context, v *models.ModelVersion) error {
	if !s.cfg.RequireApproval {
		return nil
	}
	if _, err := s.approvals.Start(ctx, approval.StartInput{
		VersionID: v.ID,
		Approvers: s.cfg.DefaultApprovers,
	}); err != nil {
		return fmt.Errorf("версия %s создана, но согласование не запущено: %w", v.ID, err)
	}
	return nil
}

// GetVersion возвращает версию.
func (s *versionControlService) GetVersion(ctx context.Context, id uuid.UUID) (v *models.ModelVersion, err error) {
	defer func(start time.Time) { s.observe("get_version", start, err) }(time.Now())

	return s.store.GetVersion(ctx, id)
}

// ListVersions возвращает историю ассета от новых версий к старым.
func (s *versionControlService) ListVersions(
	ctx context.Context,
	assetID, branch string,
	limit, offset int,
) (list []models.ModelVersion, err error) {
	defer func(start time.Time) { s.observe("list_versions", start, err) }(time.Now())

	if offset < 0 {
		return nil, apperr.Validation("отрицательное смещение")
	}
	return s.store.ListVersions(ctx, assetID, branch, clampLimit(limit), offset)
}

// GetContent возвращает сцену версии.
func (s *versionControlService) GetContent(ctx context.Context, versionID uuid.UUID) (scene *models.Scene, err error) {
	defer func(start time.Time) { s.observe("get_content", start, err) }(time.Now())

	v, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	return s.loader.Load(ctx, v)
}

// UploadBuffer сохраняет буфер геометрии или текстуры и возвращает его хеш.
func (s *versionControlService) UploadBuffer(ctx context.Context, data []byte) (hash string, err error) {
	defer func(start time.Time) { s.observe("upload_buffer", start, err) }(time.Now())

	return s.builder.PutBuffer(ctx, data)
}

// Rollback создаёт новую версию с содержимым целевой. История не переписывается:
// родитель новой версии - текущая голова ветки.
func (s *versionControlService) Rollback(ctx context.Context, in RollbackInput) (v *models.ModelVersion, err error) {
	defer func(start time.Time) { s.observe("rollback", start, err) }(time.Now())

	if in.Actor == "" {
		return nil, apperr.Validation("не указан автор отката")
	}
	if err = s.checkApprovalPolicy(); err != nil {
		return nil, err
	}
	target, err := s.store.GetVersion(ctx, in.TargetVersionID)
	if err != nil {
		return nil, err
	}
	if target.AssetID != in.AssetID {
		return nil, apperr.Validation("версия %s принадлежит другому ассету", target.ID)
	}
	branchName := in.Branch
	if branchName == "" {
		branchName = target.Branch
	}

	v, err = s.commitWithRetry(ctx, "rollback", func(ctx context.Context) (*models.ModelVersion, error) {
		return s.rollback(ctx, in, target, branchName)
	})
	if err != nil {
		return nil, err
	}

	// Откат уже зафиксирован: ошибка записи тега его не отменяет.
	if tagErr := s.store.CreateTag(ctx, &models.VersionTag{
		AssetID: v.AssetID, VersionID: v.ID, Name: TagRollback, CreatedBy: in.Actor,
	}); tagErr != nil {
		s.log.Warn().Err(tagErr).Str("version_id", v.ID.String()).Msg("Откат создан, но тег не записан")
	}
	if err = s.startVersionWorkflow(ctx, v); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("asset_id", v.AssetID).
		Str("branch", v.Branch).
		Str("version", v.Version).
		Str("rollback_to", target.Version).
		Msg("Выполнен откат")
	return v, nil
}

func (s *versionControlService) rollback(
	ctx context.Context,
	in RollbackInput,
	target *models.ModelVersion,
	branchName string,
) (*models.ModelVersion, error) {
	branch, err := s.store.GetBranch(ctx, in.AssetID, branchName)
	if err != nil {
		return nil, err
	}
	head, err := s.store.GetVersion(ctx, branch.HeadVersionID)
	if err != nil {
		return nil, fmt.Errorf("голова ветки %s: %w", branch.Name, err)
	}
	number, err := versioning.NextVersion(head.Version, versioning.BumpPatch)
	if err != nil {
		return nil, err
	}

	message := "Откат к версии " + target.Version
	if reason := strings.TrimSpace(in.Reason); reason != "" {
		message += ": " + reason
	}
	parentID := head.ID
	v := &models.ModelVersion{
		AssetID:         in.AssetID,
		Version:         number,
		ParentVersionID: &parentID,
		Branch:          branch.Name,
		Message:         message,
		ContentHash:     target.ContentHash,
		ContentPath:     target.ContentPath,
		Author:          in.Actor,
		SizeBytes:       target.SizeBytes,
		ModelMetadata:   target.ModelMetadata,
		Status:          s.newVersionStatus(),
		Tags: models.StringMap{
			TagRollback:   "true",
			TagRollbackOf: target.ID.String(),
			TagRollbackTo: target.Version,
		},
	}
	if in.Reason != "" {
		v.Tags[TagRollbackCause] = in.Reason
	}
	if err = s.store.CommitVersion(ctx, v, branch.ID, head.ID); err != nil {
		return nil, fmt.Errorf("фиксация отката в ветку %s: %w", branch.Name, err)
	}
	return v, nil
}

// CompareVersions сравнивает две версии одного ассета.
func (s *versionControlService) CompareVersions(
	ctx context.Context,
	fromID, toID uuid.UUID,
) (res *models.VersionComparisonResult, err error) {
	defer func(start time.Time) { s.observe("compare_versions", start, err) }(time.Now())

	from, err := s.store.GetVersion(ctx, fromID)
	if err != nil {
		return nil, err
	}
	to, err := s.store.GetVersion(ctx, toID)
	if err != nil {
		return nil, err
	}
	if from.AssetID != to.AssetID {
		return nil, apperr.Validation("версии принадлежат разным ассетам")
	}

	return workerpool.Run(ctx, s.pool, func(ctx context.Context) (*models.VersionComparisonResult, error) {
		fromSnap := diff.Snapshot{VersionID: from.ID, ContentHash: from.ContentHash, SizeBytes: from.SizeBytes}
		toSnap := diff.Snapshot{VersionID: to.ID, ContentHash: to.ContentHash, SizeBytes: to.SizeBytes}
		if from.ContentHash != to.ContentHash {
			var loadErr error
			if fromSnap.Scene, loadErr = s.loader.Load(ctx, from); loadErr != nil {
				return nil, loadErr
			}
			if toSnap.Scene, loadErr = s.loader.Load(ctx, to); loadErr != nil {
				return nil, loadErr
			}
		}
		return s.differ.Compare(ctx, fromSnap, toSnap)
	})
}

// ArchiveVersion переводит версию в archived.
func (s *versionControlService) ArchiveVersion(
	ctx context.Context,
	versionID uuid.UUID,
	actor string,
) (v *models.ModelVersion, err error) {
	defer func(start time.Time) { s.observe("archive_version", start, err) }(time.Now())

	if err = s.store.UpdateVersionStatus(ctx, versionID, models.VersionStatusArchived); err != nil {
		return nil, err
	}
	s.log.Info().Str("version_id", versionID.String()).Str("actor", actor).Msg("Версия архивирована")
	return s.store.GetVersion(ctx, versionID)
}

// CreateTag ставит именованную метку на версию.
func (s *versionControlService) CreateTag(ctx context.Context, in CreateTagInput) (tag *models.VersionTag, err error) {
	defer func(start time.Time) { s.observe("create_tag", start, err) }(time.Now())

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.Validation("пустое имя тега")
	}
	v, err := s.store.GetVersion(ctx, in.VersionID)
	if err != nil {
		return nil, err
	}
	tag = &models.VersionTag{
		AssetID:   v.AssetID,
		VersionID: v.ID,
		Name:      name,
		CreatedBy: in.Creator,
		IsRelease: in.IsRelease,
	}
	if err = s.store.CreateTag(ctx, tag); err != nil {
		return nil, err
	}
	return tag, nil
}

// ListTags возвращает теги версии.
func (s *versionControlService) ListTags(ctx context.Context, versionID uuid.UUID) (tags []models.VersionTag, err error) {
	defer func(start time.Time) { s.observe("list_tags", start, err) }(time.Now())

	if _, err = s.store.GetVersion(ctx, versionID); err != nil {
		return nil, err
	}
	return s.store.ListTags(ctx, versionID)
}
