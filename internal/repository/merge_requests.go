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

const mergeRequestColumns = `id, asset_id, source_branch_id, target_branch_id, title, description, status,
	author, workflow_id, merged_by, merged_at, merged_version_id, created_at, updated_at`

const reviewerColumns = `merge_request_id, reviewer_id, position, status, updated_at`

const conflictColumns = `id, merge_request_id, conflict_type, path, description, base_value, source_value,
	target_value, resolution, created_at`

const commentColumns = `id, merge_request_id, author, body, created_at`

// CreateMergeRequest сохраняет запрос, ревьюеров и конфликты в одной транзакции.
func (s *sqlStore) CreateMergeRequest(ctx context.Context, mr *models.MergeRequest) (err error) {
	defer func(start time.Time) { s.observe("create_merge_request", start, 1, err) }(time.Now())

	if mr.ID == uuid.Nil {
		mr.ID = uuid.New()
	}
	mr.CreatedAt = timeOrNow(mr.CreatedAt, s.now)
	mr.UpdatedAt = mr.CreatedAt

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		query := `INSERT INTO merge_requests (` + mergeRequestColumns + `) VALUES (
			:id, :asset_id, :source_branch_id, :target_branch_id, :title, :description, :status,
			:author, :workflow_id, :merged_by, :merged_at, :merged_version_id, :created_at, :updated_at)`
		if _, txErr := tx.NamedExecContext(ctx, query, mr); txErr != nil {
			return fmt.Errorf("ошибка выполнения запроса на создание запроса на слияние: %w", txErr)
		}

		for i := range mr.Reviewers {
			r := &mr.Reviewers[i]
			r.MergeRequestID = mr.ID
			r.Position = i
			if r.Status == "" {
				r.Status = models.ReviewPending
			}
			r.UpdatedAt = mr.CreatedAt
			query := `INSERT INTO merge_request_reviewers (` + reviewerColumns + `)
				VALUES (:merge_request_id, :reviewer_id, :position, :status, :updated_at)`
			if _, txErr := tx.NamedExecContext(ctx, query, r); txErr != nil {
				if isUniqueViolation(txErr) {
					return fmt.Errorf("ревьюер '%s' указан дважды: %w", r.ReviewerID, ErrReviewerDuplicate)
				}
				return fmt.Errorf("ошибка добавления ревьюера: %w", txErr)
			}
		}

		return s.insertConflicts(ctx, tx, mr.ID, mr.Conflicts, 0)
	})
}

// GetMergeRequest возвращает запрос с ревьюерами, конфликтами и комментариями.
func (s *sqlStore) GetMergeRequest(ctx context.Context, id uuid.UUID) (mr *models.MergeRequest, err error) {
	defer func(start time.Time) { s.observe("get_merge_request", start, 1, err) }(time.Now())

	var req models.MergeRequest
	query := s.db.Rebind(`SELECT ` + mergeRequestColumns + ` FROM merge_requests WHERE id = ?`)
	if err = s.db.GetContext(ctx, &req, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrMergeRequestNotFound, id)
		}
		return nil, fmt.Errorf("ошибка выполнения запроса на получение запроса на слияние: %w", err)
	}

	req.Reviewers = []models.Reviewer{}
	query = s.db.Rebind(`SELECT ` + reviewerColumns +
		` FROM merge_request_reviewers WHERE merge_request_id = ? ORDER BY position`)
	if err = s.db.SelectContext(ctx, &req.Reviewers, query, id); err != nil {
		return nil, fmt.Errorf("ошибка получения ревьюеров: %w", err)
	}

	if req.Conflicts, err = s.selectConflicts(ctx, id); err != nil {
		return nil, err
	}

	req.Comments = []models.Comment{}
	query = s.db.Rebind(`SELECT ` + commentColumns +
		` FROM merge_request_comments WHERE merge_request_id = ? ORDER BY created_at, id`)
	if err = s.db.SelectContext(ctx, &req.Comments, query, id); err != nil {
		return nil, fmt.Errorf("ошибка получения комментариев: %w", err)
	}
	return &req, nil
}

// ListMergeRequests возвращает запросы ассета, сначала новые.
func (s *sqlStore) ListMergeRequests(
	ctx context.Context,
	assetID string,
	status models.MergeRequestStatus,
) (list []models.MergeRequest, err error) {
	defer func(start time.Time) { s.observe("list_merge_requests", start, len(list), err) }(time.Now())

	query := `SELECT ` + mergeRequestColumns + ` FROM merge_requests WHERE asset_id = ?`
	args := []any{assetID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id`

	list = []models.MergeRequest{}
	if err = s.db.SelectContext(ctx, &list, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("ошибка выполнения запроса на получение списка запросов на слияние: %w", err)
	}
	return list, nil
}

// UpdateMergeRequest сохраняет изменяемые поля запроса.
func (s *sqlStore) UpdateMergeRequest(ctx context.Context, mr *models.MergeRequest) (err error) {
	defer func(start time.Time) { s.observe("update_merge_request", start, 1, err) }(time.Now())

	mr.UpdatedAt = s.now()
	query := s.db.Rebind(`UPDATE merge_requests SET title = ?, description = ?, status = ?, workflow_id = ?,
		merged_by = ?, merged_at = ?, merged_version_id = ?, updated_at = ? WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query,
		mr.Title, mr.Description, mr.Status, mr.WorkflowID,
		mr.MergedBy, mr.MergedAt, mr.MergedVersionID, mr.UpdatedAt, mr.ID)
	if err != nil {
		return fmt.Errorf("ошибка обновления запроса на слияние: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrMergeRequestNotFound, mr.ID)
	}
	return nil
}

// UpdateReviewer сохраняет статус ревьюера.
func (s *sqlStore) UpdateReviewer(ctx context.Context, r *models.Reviewer) (err error) {
	defer func(start time.Time) { s.observe("update_reviewer", start, 1, err) }(time.Now())

	r.UpdatedAt = s.now()
	query := s.db.Rebind(`UPDATE merge_request_reviewers SET status = ?, updated_at = ?
		WHERE merge_request_id = ? AND reviewer_id = ?`)
	res, err := s.db.ExecContext(ctx, query, r.Status, r.UpdatedAt, r.MergeRequestID, r.ReviewerID)
	if err != nil {
		return fmt.Errorf("ошибка обновления ревьюера: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrReviewerNotFound, r.ReviewerID)
	}
	return nil
}

// AddComment добавляет комментарий в обсуждение.
func (s *sqlStore) AddComment(ctx context.Context, c *models.Comment) (err error) {
	defer func(start time.Time) { s.observe("add_comment", start, 1, err) }(time.Now())

	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = timeOrNow(c.CreatedAt, s.now)
	query := `INSERT INTO merge_request_comments (` + commentColumns + `)
		VALUES (:id, :merge_request_id, :author, :body, :created_at)`
	if _, err = s.db.NamedExecContext(ctx, query, c); err != nil {
		return fmt.Errorf("ошибка добавления комментария: %w", err)
	}
	return nil
}

// AddConflicts дописывает конфликты после уже сохранённых.
func (s *sqlStore) AddConflicts(ctx context.Context, mrID uuid.UUID, conflicts []models.Conflict) (err error) {
	defer func(start time.Time) { s.observe("add_conflicts", start, len(conflicts), err) }(time.Now())

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var count int
		query := tx.Rebind(`SELECT COUNT(*) FROM merge_conflicts WHERE merge_request_id = ?`)
		if txErr := tx.GetContext(ctx, &count, query, mrID); txErr != nil {
			return fmt.Errorf("ошибка подсчёта конфликтов: %w", txErr)
		}
		return s.insertConflicts(ctx, tx, mrID, conflicts, count)
	})
}

// ListConflicts возвращает конфликты запроса в порядке обнаружения.
func (s *sqlStore) ListConflicts(ctx context.Context, mrID uuid.UUID) (conflicts []models.Conflict, err error) {
	defer func(start time.Time) { s.observe("list_conflicts", start, len(conflicts), err) }(time.Now())

	return s.selectConflicts(ctx, mrID)
}

// UpdateConflictResolution сохраняет решение по конфликту.
func (s *sqlStore) UpdateConflictResolution(
	ctx context.Context,
	mrID, conflictID uuid.UUID,
	res *models.Resolution,
) (err error) {
	defer func(start time.Time) { s.observe("update_conflict_resolution", start, 1, err) }(time.Now())

	query := s.db.Rebind(`UPDATE merge_conflicts SET resolution = ? WHERE id = ? AND merge_request_id = ?`)
	result, err := s.db.ExecContext(ctx, query, res, conflictID, mrID)
	if err != nil {
		return fmt.Errorf("ошибка сохранения решения конфликта: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrConflictNotFound, conflictID)
	}
	return nil
}

func (s *sqlStore) insertConflicts(
	ctx context.Context,
	tx *sqlx.Tx,
	mrID uuid.UUID,
	conflicts []models.Conflict,
	offset int,
) error {
	query := tx.Rebind(`INSERT INTO merge_conflicts (position, ` + conflictColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	for i := range conflicts {
		c := &conflicts[i]
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		c.MergeRequestID = mrID
		c.CreatedAt = timeOrNow(c.CreatedAt, s.now)
		_, err := tx.ExecContext(ctx, query, offset+i,
			c.ID, c.MergeRequestID, c.Type, c.Path, c.Description,
			c.BaseValue, c.SourceValue, c.TargetValue, c.Resolution, c.CreatedAt)
		if err != nil {
			return fmt.Errorf("ошибка сохранения конфликта %s: %w", c.Path, err)
		}
	}
	return nil
}

func (s *sqlStore) selectConflicts(ctx context.Context, mrID uuid.UUID) ([]models.Conflict, error) {
	conflicts := []models.Conflict{}
	query := s.db.Rebind(`SELECT ` + conflictColumns +
		` FROM merge_conflicts WHERE merge_request_id = ? ORDER BY position`)
	if err := s.db.SelectContext(ctx, &conflicts, query, mrID); err != nil {
		return nil, fmt.Errorf("ошибка получения конфликтов: %w", err)
	}
	return conflicts, nil
}
