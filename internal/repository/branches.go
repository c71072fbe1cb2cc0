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

const branchColumns = `id, asset_id, name, is_protected, is_default, head_version_id, base_version_id,
	created_by, contributors, last_activity_at, created_at`

const insertBranchQuery = `INSERT INTO branches (` + branchColumns + `) VALUES (
	:id, :asset_id, :name, :is_protected, :is_default, :head_version_id, :base_version_id,
	:created_by, :contributors, :last_activity_at, :created_at)`

// CreateBranch создает ветку. Имя уникально в пределах ассета.
func (s *sqlStore) CreateBranch(ctx context.Context, b *models.Branch) (err error) {
	defer func(start time.Time) { s.observe("create_branch", start, 1, err) }(time.Now())

	s.prepareBranch(b)
	if _, err = s.db.NamedExecContext(ctx, insertBranchQuery, b); err != nil {
		return mapBranchInsertError(b, err)
	}
	return nil
}

// GetBranch находит ветку по имени.
func (s *sqlStore) GetBranch(ctx context.Context, assetID, name string) (b *models.Branch, err error) {
	defer func(start time.Time) { s.observe("get_branch", start, 1, err) }(time.Now())

	query := s.db.Rebind(`SELECT ` + branchColumns + ` FROM branches WHERE asset_id = ? AND name = ?`)
	var branch models.Branch
	if err = s.db.GetContext(ctx, &branch, query, assetID, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%s", ErrBranchNotFound, assetID, name)
		}
		return nil, fmt.Errorf("ошибка выполнения запроса на получение ветки: %w", err)
	}
	return &branch, nil
}

// GetBranchByID находит ветку по ID.
func (s *sqlStore) GetBranchByID(ctx context.Context, id uuid.UUID) (b *models.Branch, err error) {
	defer func(start time.Time) { s.observe("get_branch_by_id", start, 1, err) }(time.Now())

	return getBranchByID(ctx, s.db, id)
}

// ListBranches возвращает ветки ассета по имени.
func (s *sqlStore) ListBranches(ctx context.Context, assetID string) (branches []models.Branch, err error) {
	defer func(start time.Time) { s.observe("list_branches", start, len(branches), err) }(time.Now())

	query := s.db.Rebind(`SELECT ` + branchColumns + ` FROM branches WHERE asset_id = ? ORDER BY name`)
	branches = []models.Branch{}
	if err = s.db.SelectContext(ctx, &branches, query, assetID); err != nil {
		return nil, fmt.Errorf("ошибка выполнения запроса на получение списка веток: %w", err)
	}
	return branches, nil
}

// CASUpdateBranchHead сдвигает голову ветки с expectedHead на newHead.
func (s *sqlStore) CASUpdateBranchHead(
	ctx context.Context,
	branchID, expectedHead, newHead uuid.UUID,
	contributor string,
) (err error) {
	defer func(start time.Time) { s.observe("cas_branch_head", start, 1, err) }(time.Now())

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		return s.casHead(ctx, tx, branchID, expectedHead, newHead, contributor)
	})
}

// casHead читает ветку и обновляет голову с условием на её текущее значение.
// Условие в WHERE защищает от писателя, успевшего между чтением и записью.
func (s *sqlStore) casHead(
	ctx context.Context,
	tx *sqlx.Tx,
	branchID, expectedHead, newHead uuid.UUID,
	contributor string,
) error {
	branch, err := getBranchByID(ctx, tx, branchID)
	if err != nil {
		return err
	}
	if branch.HeadVersionID != expectedHead {
		return fmt.Errorf("%w: ожидалась %s, текущая %s", ErrHeadMismatch, expectedHead, branch.HeadVersionID)
	}

	query := tx.Rebind(`UPDATE branches SET head_version_id = ?, contributors = ?, last_activity_at = ?
		WHERE id = ? AND head_version_id = ?`)
	res, err := tx.ExecContext(ctx, query,
		newHead, branch.Contributors.Add(contributor), s.now(), branchID, expectedHead)
	if err != nil {
		return fmt.Errorf("ошибка обновления головы ветки: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: ветка %s", ErrHeadMismatch, branchID)
	}
	return nil
}

// lockHead захватывает строку ветки до конца транзакции, если её голова равна expectedHead.
func (s *sqlStore) lockHead(ctx context.Context, tx *sqlx.Tx, branchID, expectedHead uuid.UUID) error {
	query := tx.Rebind(`UPDATE branches SET last_activity_at = ? WHERE id = ? AND head_version_id = ?`)
	res, err := tx.ExecContext(ctx, query, s.now(), branchID, expectedHead)
	if err != nil {
		return fmt.Errorf("ошибка блокировки ветки: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	branch, err := getBranchByID(ctx, tx, branchID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: ожидалась %s, текущая %s", ErrHeadMismatch, expectedHead, branch.HeadVersionID)
}

// queryer - общее у *sqlx.DB и *sqlx.Tx.
type queryer interface {
	sqlx.QueryerContext
	Rebind(query string) string
}

func getBranchByID(ctx context.Context, q queryer, id uuid.UUID) (*models.Branch, error) {
	query := q.Rebind(`SELECT ` + branchColumns + ` FROM branches WHERE id = ?`)
	var branch models.Branch
	if err := sqlx.GetContext(ctx, q, &branch, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrBranchNotFound, id)
		}
		return nil, fmt.Errorf("ошибка выполнения запроса на получение ветки: %w", err)
	}
	return &branch, nil
}

func (s *sqlStore) prepareBranch(b *models.Branch) {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.CreatedAt = timeOrNow(b.CreatedAt, s.now)
	b.LastActivityAt = timeOrNow(b.LastActivityAt, s.now)
	if b.Contributors == nil {
		b.Contributors = models.StringSet{}
	}
	b.Contributors = b.Contributors.Add(b.CreatedBy)
}

func mapBranchInsertError(b *models.Branch, err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s/%s", ErrBranchExists, b.AssetID, b.Name)
	}
	return fmt.Errorf("ошибка выполнения запроса на создание ветки: %w", err)
}
