package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/maynagashev/assetkeeper/internal/models"
)

const workflowColumns = `id, version_id, merge_request_id, required_approvers, min_approvers, approvals, status,
	deadline, auto_approve_at, revision, created_at, updated_at, completed_at`

// CreateApprovalWorkflow сохраняет новый процесс согласования.
func (s *sqlStore) CreateApprovalWorkflow(ctx context.Context, wf *models.ApprovalWorkflow) (err error) {
	defer func(start time.Time) { s.observe("create_workflow", start, 1, err) }(time.Now())

	if wf.ID == uuid.Nil {
		wf.ID = uuid.New()
	}
	wf.CreatedAt = timeOrNow(wf.CreatedAt, s.now)
	wf.UpdatedAt = wf.CreatedAt
	query := `INSERT INTO approval_workflows (` + workflowColumns + `) VALUES (
		:id, :version_id, :merge_request_id, :required_approvers, :min_approvers, :approvals, :status,
		:deadline, :auto_approve_at, :revision, :created_at, :updated_at, :completed_at)`
	if _, err = s.db.NamedExecContext(ctx, query, wf); err != nil {
		return fmt.Errorf("ошибка выполнения запроса на создание процесса согласования: %w", err)
	}
	return nil
}

// GetApprovalWorkflow находит процесс по ID.
func (s *sqlStore) GetApprovalWorkflow(ctx context.Context, id uuid.UUID) (wf *models.ApprovalWorkflow, err error) {
	defer func(start time.Time) { s.observe("get_workflow", start, 1, err) }(time.Now())

	var workflow models.ApprovalWorkflow
	query := s.db.Rebind(`SELECT ` + workflowColumns + ` FROM approval_workflows WHERE id = ?`)
	if err = s.db.GetContext(ctx, &workflow, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
		}
		return nil, fmt.Errorf("ошибка выполнения запроса на получение процесса согласования: %w", err)
	}
	return &workflow, nil
}

// UpdateApprovalWorkflow сохраняет процесс, если его ревизия не изменилась.
func (s *sqlStore) UpdateApprovalWorkflow(ctx context.Context, wf *models.ApprovalWorkflow) (err error) {
	defer func(start time.Time) { s.observe("update_workflow", start, 1, err) }(time.Now())

	return s.saveWorkflow(ctx, wf, "")
}

// CompleteApprovalWorkflow сохраняет итоговый статус процесса и статус его версии в одной транзакции.
// Пустой versionStatus оставляет версию как есть.
func (s *sqlStore) CompleteApprovalWorkflow(
	ctx context.Context,
	wf *models.ApprovalWorkflow,
	versionStatus models.VersionStatus,
) (err error) {
	defer func(start time.Time) { s.observe("complete_workflow", start, 1, err) }(time.Now())

	return s.saveWorkflow(ctx, wf, versionStatus)
}

func (s *sqlStore) saveWorkflow(ctx context.Context, wf *models.ApprovalWorkflow, versionStatus models.VersionStatus) error {
	updatedAt := s.now()
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		query := tx.Rebind(`UPDATE approval_workflows
			SET approvals = ?, status = ?, completed_at = ?, updated_at = ?, revision = revision + 1
			WHERE id = ? AND revision = ?`)
		res, txErr := tx.ExecContext(ctx, query,
			wf.Approvals, wf.Status, wf.CompletedAt, updatedAt, wf.ID, wf.Revision)
		if txErr != nil {
			return fmt.Errorf("ошибка обновления процесса согласования: %w", txErr)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var exists int
			check := tx.Rebind(`SELECT 1 FROM approval_workflows WHERE id = ?`)
			if getErr := tx.GetContext(ctx, &exists, check, wf.ID); errors.Is(getErr, sql.ErrNoRows) {
				return fmt.Errorf("%w: %s", ErrWorkflowNotFound, wf.ID)
			}
			return fmt.Errorf("%w: %s (ревизия %d)", ErrWorkflowStale, wf.ID, wf.Revision)
		}
		if versionStatus == "" {
			return nil
		}
		return updateVersionStatus(ctx, tx, wf.VersionID, versionStatus)
	})
	if err != nil {
		return err
	}
	wf.Revision++
	wf.UpdatedAt = updatedAt
	return nil
}

// ListExpiredWorkflows возвращает ожидающие процессы, срок которых наступил к now.
func (s *sqlStore) ListExpiredWorkflows(ctx context.Context, now time.Time) (list []models.ApprovalWorkflow, err error) {
	defer func(start time.Time) { s.observe("list_expired_workflows", start, len(list), err) }(time.Now())

	return s.listDueWorkflows(ctx, "deadline", now)
}

// ListAutoApprovableWorkflows возвращает ожидающие процессы, время автоодобрения которых наступило к now.
func (s *sqlStore) ListAutoApprovableWorkflows(
	ctx context.Context,
	now time.Time,
) (list []models.ApprovalWorkflow, err error) {
	defer func(start time.Time) { s.observe("list_auto_approvable_workflows", start, len(list), err) }(time.Now())

	return s.listDueWorkflows(ctx, "auto_approve_at", now)
}

// listDueWorkflows выбирает ожидающие процессы по колонке времени. column - константа, не ввод пользователя.
func (s *sqlStore) listDueWorkflows(ctx context.Context, column string, now time.Time) ([]models.ApprovalWorkflow, error) {
	query := s.db.Rebind(`SELECT ` + workflowColumns + ` FROM approval_workflows
		WHERE status = ? AND ` + column + ` IS NOT NULL AND ` + column + ` <= ?
		ORDER BY ` + column + `, id`)
	list := []models.ApprovalWorkflow{}
	if err := s.db.SelectContext(ctx, &list, query, models.WorkflowPending, now.UTC()); err != nil {
		return nil, fmt.Errorf("ошибка выборки процессов согласования: %w", err)
	}
	return list, nil
}
