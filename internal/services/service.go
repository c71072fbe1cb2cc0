// Package services - VersionControlService: единая точка входа над хранилищем, diff, слиянием и согласованием.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/maynagashev/assetkeeper/internal/apperr"
	"github.com/maynagashev/assetkeeper/internal/approval"
	"github.com/maynagashev/assetkeeper/internal/diff"
	"github.com/maynagashev/assetkeeper/internal/logger"
	"github.com/maynagashev/assetkeeper/internal/merge"
	"github.com/maynagashev/assetkeeper/internal/metrics"
	"github.com/maynagashev/assetkeeper/internal/models"
	"github.com/maynagashev/assetkeeper/internal/notify"
	"github.com/maynagashev/assetkeeper/internal/repository"
	"github.com/maynagashev/assetkeeper/internal/snapshot"
	"github.com/maynagashev/assetkeeper/internal/versioning"
	"github.com/maynagashev/assetkeeper/internal/workerpool"
)

// DefaultBranch - имя ветки по умолчанию.
const DefaultBranch = "main"

const (
	maxCommitRetries = 1
	defaultListLimit = 50
	maxListLimit     = 500
)

// VersionControlService определяет операции над версиями ассетов.
type VersionControlService interface {
	CreateVersion(ctx context.Context, in CreateVersionInput) (*models.ModelVersion, error)
	GetVersion(ctx context.Context, id uuid.UUID) (*models.ModelVersion, error)
	ListVersions(ctx context.Context, assetID, branch string, limit, offset int) ([]models.ModelVersion, error)
	GetContent(ctx context.Context, versionID uuid.UUID) (*models.Scene, error)
	UploadBuffer(ctx context.Context, data []byte) (string, error)
	Rollback(ctx context.Context, in RollbackInput) (*models.ModelVersion, error)
	CompareVersions(ctx context.Context, fromID, toID uuid.UUID) (*models.VersionComparisonResult, error)
	ArchiveVersion(ctx context.Context, versionID uuid.UUID, actor string) (*models.ModelVersion, error)
	CreateTag(ctx context.Context, in CreateTagInput) (*models.VersionTag, error)
	ListTags(ctx context.Context, versionID uuid.UUID) ([]models.VersionTag, error)

	CreateBranch(ctx context.Context, in CreateBranchInput) (*models.Branch, error)
	GetBranch(ctx context.Context, assetID, name string) (*models.Branch, error)
	ListBranches(ctx context.Context, assetID string) ([]models.Branch, error)

	CreateMergeRequest(ctx context.Context, in CreateMergeRequestInput) (*models.MergeRequest, error)
	GetMergeRequest(ctx context.Context, id uuid.UUID) (*models.MergeRequest, error)
	ListMergeRequests(ctx context.Context, assetID string, status models.MergeRequestStatus) ([]models.MergeRequest, error)
	ResolveConflict(ctx context.Context, in ResolveConflictInput) (*models.MergeRequest, error)
	ReviewMergeRequest(ctx context.Context, in ReviewInput) (*models.MergeRequest, error)
	AddComment(ctx context.Context, mergeRequestID uuid.UUID, author, body string) (*models.Comment, error)
	CloseMergeRequest(ctx context.Context, mergeRequestID uuid.UUID, actor string) (*models.MergeRequest, error)
	MergeBranches(ctx context.Context, in MergeInput) (*models.ModelVersion, error)

	SubmitApproval(
		ctx context.Context,
		workflowID uuid.UUID,
		approver string,
		decision models.ApprovalStatus,
		comment string,
	) (*models.ApprovalWorkflow, error)
	GetWorkflow(ctx context.Context, id uuid.UUID) (*models.ApprovalWorkflow, error)
	SweepExpired(ctx context.Context) (int, error)
	SweepAutoApprovals(ctx context.Context) (int, error)
}

// Config - политика сервиса.
type Config struct {
	// RequireApproval: новые версии получают статус pending_review и процесс согласования,
	// а слияние требует одобренного процесса.
	RequireApproval  bool
	DefaultApprovers []string
	DefaultBranch    string
	// ProtectDefaultBranch запрещает прямые коммиты в ветку, созданную первым коммитом ассета.
	ProtectDefaultBranch bool
}

// Dependencies - зависимости сервиса.
type Dependencies struct {
	Store     repository.VersionStore
	Builder   *versioning.Builder
	Loader    *snapshot.Loader
	Differ    *diff.Engine
	Merger    *merge.Engine
	Approvals *approval.Engine
	Notifier  notify.Notifier
	Pool      *workerpool.Pool
	Metrics   *metrics.Metrics
	Logger    *logger.Logger
}

var _ VersionControlService = (*versionControlService)(nil)

type versionControlService struct {
	cfg       Config
	store     repository.VersionStore
	builder   *versioning.Builder
	loader    *snapshot.Loader
	differ    *diff.Engine
	merger    *merge.Engine
	approvals *approval.Engine
	notifier  notify.Notifier
	pool      *workerpool.Pool
	metrics   *metrics.Metrics
	log       *logger.Logger
	now       func() time.Time
}

// NewVersionControlService создает сервис.
func NewVersionControlService(cfg Config, deps Dependencies) VersionControlService {
	if cfg.DefaultBranch == "" {
		cfg.DefaultBranch = DefaultBranch
	}
	return &versionControlService{
		cfg:       cfg,
		store:     deps.Store,
		builder:   deps.Builder,
		loader:    deps.Loader,
		differ:    deps.Differ,
		merger:    deps.Merger,
		approvals: deps.Approvals,
		notifier:  deps.Notifier,
		pool:      deps.Pool,
		metrics:   deps.Metrics,
		log:       deps.Logger.Component("service"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// observe пишет метрику операции и логирует ошибки, которые не являются ожидаемым отказом.
func (s *versionControlService) observe(op string, start time.Time, err error) {
	s.metrics.RecordOperation(op, err, time.Since(start))
	if err == nil {
		return
	}
	kind := apperr.Kind(err)
	if kind == "internal" {
		s.log.Error().Err(err).Str("operation", op).Msg("Операция завершилась ошибкой")
		return
	}
	s.log.Debug().Err(err).Str("operation", op).Str("kind", kind).Msg("Операция отклонена")
}

// retryable сообщает, что коммит проиграл гонку и его стоит повторить от новой головы.
// AlreadyExists возникает, когда два первых коммита ассета создают одну ветку одновременно.
func retryable(err error) bool {
	return errors.Is(err, apperr.ErrConcurrencyConflict) || errors.Is(err, apperr.ErrAlreadyExists)
}

// commitWithRetry выполняет fn и один раз повторяет её после проигранной гонки.
func (s *versionControlService) commitWithRetry(
	ctx context.Context,
	op string,
	fn func(ctx context.Context) (*models.ModelVersion, error),
) (*models.ModelVersion, error) {
	for attempt := 0; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if !retryable(err) || attempt >= maxCommitRetries {
			return nil, err
		}
		s.metrics.RecordCASConflict(op)
		s.log.Warn().Err(err).Str("operation", op).Msg("Голова ветки изменилась, повтор")
	}
}

func (s *versionControlService) newVersionStatus() models.VersionStatus {
	if s.cfg.RequireApproval {
		return models.VersionStatusPendingReview
	}
	return models.VersionStatusApproved
}

func (s *versionControlService) checkApprovalPolicy() error {
	if s.cfg.RequireApproval && len(s.cfg.DefaultApprovers) == 0 {
		return apperr.Validation("согласование включено, но согласующие по умолчанию не заданы")
	}
	return nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	default:
		return limit
	}
}
