// Package repository - хранилище версий, веток, запросов на слияние, согласований и тегов.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/maynagashev/assetkeeper/internal/apperr"
	"github.com/maynagashev/assetkeeper/internal/logger"
	"github.com/maynagashev/assetkeeper/internal/metrics"
	"github.com/maynagashev/assetkeeper/internal/models"
)

const pgUniqueViolationCode = "23505"

// Ошибки репозитория. Каждая оборачивает вид ошибки из apperr.
var (
	ErrVersionNotFound      = fmt.Errorf("версия не найдена: %w", apperr.ErrNotFound)
	ErrVersionExists        = fmt.Errorf("версия с таким номером уже есть в ветке: %w", apperr.ErrAlreadyExists)
	ErrBranchNotFound       = fmt.Errorf("ветка не найдена: %w", apperr.ErrNotFound)
	ErrBranchExists         = fmt.Errorf("ветка с таким именем уже существует: %w", apperr.ErrAlreadyExists)
	ErrHeadMismatch         = fmt.Errorf("голова ветки изменилась: %w", apperr.ErrConcurrencyConflict)
	ErrMergeRequestNotFound = fmt.Errorf("запрос на слияние не найден: %w", apperr.ErrNotFound)
	ErrReviewerNotFound     = fmt.Errorf("ревьюер не найден: %w", apperr.ErrNotFound)
	ErrReviewerDuplicate    = fmt.Errorf("повторяющийся ревьюер: %w", apperr.ErrValidation)
	ErrConflictNotFound     = fmt.Errorf("конфликт не найден: %w", apperr.ErrNotFound)
	ErrWorkflowNotFound     = fmt.Errorf("процесс согласования не найден: %w", apperr.ErrNotFound)
	ErrWorkflowStale        = fmt.Errorf("процесс согласования изменён параллельно: %w", apperr.ErrConcurrencyConflict)
	ErrTagExists            = fmt.Errorf("тег уже существует у версии: %w", apperr.ErrAlreadyExists)
)

// VersionRepository - неизменяемые версии и атомарные коммиты в ветку.
type VersionRepository interface {
	// CreateVersion сохраняет версию без изменения веток.
	CreateVersion(ctx context.Context, v *models.ModelVersion) error
	// CommitInitialVersion сохраняет первую версию ассета вместе с веткой, которая на неё указывает.
	CommitInitialVersion(ctx context.Context, v *models.ModelVersion, b *models.Branch) error
	// CommitVersion в одной транзакции сдвигает голову ветки с expectedHead на v.ID и сохраняет v.
	// При несовпадении головы возвращает ErrHeadMismatch, версия не сохраняется.
	CommitVersion(ctx context.Context, v *models.ModelVersion, branchID, expectedHead uuid.UUID) error
	GetVersion(ctx context.Context, id uuid.UUID) (*models.ModelVersion, error)
	// ListVersions возвращает версии ассета от новых к старым; пустая branch означает все ветки.
	ListVersions(ctx context.Context, assetID, branch string, limit, offset int) ([]models.ModelVersion, error)
	UpdateVersionStatus(ctx context.Context, id uuid.UUID, status models.VersionStatus) error
}

// BranchRepository - ветки и CAS по их головам.
type BranchRepository interface {
	CreateBranch(ctx context.Context, b *models.Branch) error
	GetBranch(ctx context.Context, assetID, name string) (*models.Branch, error)
	GetBranchByID(ctx context.Context, id uuid.UUID) (*models.Branch, error)
	ListBranches(ctx context.Context, assetID string) ([]models.Branch, error)
	// CASUpdateBranchHead меняет голову, только если текущая равна expectedHead.
	CASUpdateBranchHead(ctx context.Context, branchID, expectedHead, newHead uuid.UUID, contributor string) error
}

// MergeRequestRepository - запросы на слияние, ревьюеры, конфликты и комментарии.
type MergeRequestRepository interface {
	// CreateMergeRequest сохраняет запрос вместе с ревьюерами и конфликтами.
	CreateMergeRequest(ctx context.Context, mr *models.MergeRequest) error
	// GetMergeRequest возвращает запрос с ревьюерами, конфликтами и комментариями.
	GetMergeRequest(ctx context.Context, id uuid.UUID) (*models.MergeRequest, error)
	// ListMergeRequests возвращает запросы ассета без вложенных списков; пустой status означает все.
	ListMergeRequests(ctx context.Context, assetID string, status models.MergeRequestStatus) ([]models.MergeRequest, error)
	UpdateMergeRequest(ctx context.Context, mr *models.MergeRequest) error
	UpdateReviewer(ctx context.Context, r *models.Reviewer) error
	AddComment(ctx context.Context, c *models.Comment) error
	AddConflicts(ctx context.Context, mrID uuid.UUID, conflicts []models.Conflict) error
	ListConflicts(ctx context.Context, mrID uuid.UUID) ([]models.Conflict, error)
	UpdateConflictResolution(ctx context.Context, mrID, conflictID uuid.UUID, res *models.Resolution) error
}

// WorkflowRepository - процессы согласования.
type WorkflowRepository interface {
	CreateApprovalWorkflow(ctx context.Context, wf *models.ApprovalWorkflow) error
	GetApprovalWorkflow(ctx context.Context, id uuid.UUID) (*models.ApprovalWorkflow, error)
	// UpdateApprovalWorkflow сохраняет согласования и статус, если ревизия не менялась с момента чтения.
	// При успехе wf.Revision увеличивается; при гонке возвращается ErrWorkflowStale.
	UpdateApprovalWorkflow(ctx context.Context, wf *models.ApprovalWorkflow) error
	// CompleteApprovalWorkflow делает то же, что UpdateApprovalWorkflow, и в той же транзакции
	// выставляет статус версии процесса. При любой ошибке не меняется ничего.
	CompleteApprovalWorkflow(ctx context.Context, wf *models.ApprovalWorkflow, versionStatus models.VersionStatus) error
	// ListExpiredWorkflows возвращает ожидающие процессы с истёкшим сроком.
	ListExpiredWorkflows(ctx context.Context, now time.Time) ([]models.ApprovalWorkflow, error)
	// ListAutoApprovableWorkflows возвращает ожидающие процессы, чьё время автоодобрения наступило.
	ListAutoApprovableWorkflows(ctx context.Context, now time.Time) ([]models.ApprovalWorkflow, error)
}

// TagRepository - теги версий.
type TagRepository interface {
	CreateTag(ctx context.Context, tag *models.VersionTag) error
	ListTags(ctx context.Context, versionID uuid.UUID) ([]models.VersionTag, error)
}

// VersionStore объединяет все репозитории.
type VersionStore interface {
	VersionRepository
	BranchRepository
	MergeRequestRepository
	WorkflowRepository
	TagRepository
}

// sqlStore реализует VersionStore поверх PostgreSQL и SQLite.
// Запросы пишутся с плейсхолдерами "?" и переписываются под драйвер через Rebind.
type sqlStore struct {
	db      *sqlx.DB
	log     *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

var _ VersionStore = (*sqlStore)(nil)

// NewSQLStore создает хранилище над открытым подключением.
func NewSQLStore(db *sqlx.DB, log *logger.Logger, m *metrics.Metrics) VersionStore {
	if log == nil {
		log = logger.Nop()
	}
	return &sqlStore{
		db:      db,
		log:     log.Component("store"),
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// observe пишет лог и метрики операции.
func (s *sqlStore) observe(op string, start time.Time, count int, err error) {
	d := time.Since(start)
	s.log.LogDBOperation(op, d, count, err)
	s.metrics.RecordDBOperation(op, err, d)
}

// withTx выполняет fn в транзакции. Внутри fn запросы идут только через tx.
func (s *sqlStore) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Error().Err(rbErr).Msg("Ошибка отката транзакции")
		}
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

// isUniqueViolation распознаёт нарушение уникальности в обоих драйверах.
func isUniqueViolation(err error) bool {
	var pgErr *pq.Error
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			return strings.Contains(liteErr.Error(), "UNIQUE")
		}
	}
	return false
}

func timeOrNow(t time.Time, now func() time.Time) time.Time {
	if t.IsZero() {
		return now()
	}
	return t.UTC()
}
