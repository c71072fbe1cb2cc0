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

const versionColumns = `id, asset_id, version, parent_version_id, merge_parent_id, branch_name, commit_message,
	content_hash, content_path, author, size_bytes, triangle_count, vertex_count, material_count,
	texture_count, bounding_box, status, tags, created_at`

const insertVersionQuery = `INSERT INTO versions (` + versionColumns + `) VALUES (
	:id, :asset_id, :version, :parent_version_id, :merge_parent_id, :branch_name, :commit_message,
	:content_hash, :content_path, :author, :size_bytes, :triangle_count, :vertex_count, :material_count,
	:texture_count, :bounding_box, :status, :tags, :created_at)`

// CreateVersion сохраняет версию без изменения веток.
func (s *sqlStore) CreateVersion(ctx context.Context, v *models.ModelVersion) (err error) {
	defer func(start time.Time) { s.observe("create_version", start, 1, err) }(time.Now())

	s.prepareVersion(v)
	if _, err = s.db.NamedExecContext(ctx, insertVersionQuery, v); err != nil {
		return s.mapVersionInsertError(v, err)
	}
	return nil
}

// CommitInitialVersion сохраняет первую версию ассета и ветку, указывающую на неё.
func (s *sqlStore) CommitInitialVersion(ctx context.Context, v *models.ModelVersion, b *models.Branch) (err error) {
	defer func(start time.Time) { s.observe("commit_initial_version", start, 1, err) }(time.Now())

	s.prepareVersion(v)
	b.HeadVersionID = v.ID
	b.BaseVersionID = v.ID
	s.prepareBranch(b)
	b.Contributors = b.Contributors.Add(v.Author)

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, txErr := tx.NamedExecContext(ctx, insertVersionQuery, v); txErr != nil {
			return s.mapVersionInsertError(v, txErr)
		}
		if _, txErr := tx.NamedExecContext(ctx, insertBranchQuery, b); txErr != nil {
			return mapBranchInsertError(b, txErr)
		}
		return nil
	})
}

// CommitVersion сохраняет версию и сдвигает голову ветки в одной транзакции.
// Сначала строка ветки блокируется с проверкой головы: проигравший писатель
// получает ErrHeadMismatch и не оставляет строки версии. Голова ссылается на versions,
// поэтому версия вставляется до переноса головы.
func (s *sqlStore) CommitVersion(
	ctx context.Context,
	v *models.ModelVersion,
	branchID, expectedHead uuid.UUID,
) (err error) {
	defer func(start time.Time) { s.observe("commit_version", start, 1, err) }(time.Now())

	s.prepareVersion(v)
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if txErr := s.lockHead(ctx, tx, branchID, expectedHead); txErr != nil {
			return txErr
		}
		if _, txErr := tx.NamedExecContext(ctx, insertVersionQuery, v); txErr != nil {
			return s.mapVersionInsertError(v, txErr)
		}
		return s.casHead(ctx, tx, branchID, expectedHead, v.ID, v.Author)
	})
}

// GetVersion находит версию по ID.
func (s *sqlStore) GetVersion(ctx context.Context, id uuid.UUID) (v *models.ModelVersion, err error) {
	defer func(start time.Time) { s.observe("get_version", start, 1, err) }(time.Now())

	query := s.db.Rebind(`SELECT ` + versionColumns + ` FROM versions WHERE id = ?`)
	var version models.ModelVersion
	if err = s.db.GetContext(ctx, &version, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrVersionNotFound, id)
		}
		return nil, fmt.Errorf("ошибка выполнения запроса на получение версии: %w", err)
	}
	return &version, nil
}

// ListVersions возвращает версии ассета с пагинацией, сначала новые.
func (s *sqlStore) ListVersions(
	ctx context.Context,
	assetID, branch string,
	limit, offset int,
) (versions []models.ModelVersion, err error) {
	defer func(start time.Time) { s.observe("list_versions", start, len(versions), err) }(time.Now())

	query := `SELECT ` + versionColumns + ` FROM versions WHERE asset_id = ?`
	args := []any{assetID}
	if branch != "" {
		query += ` AND branch_name = ?`
		args = append(args, branch)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	versions = make([]models.ModelVersion, 0, limit)
	if err = s.db.SelectContext(ctx, &versions, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("ошибка выполнения запроса на получение списка версий: %w", err)
	}
	return versions, nil
}

// UpdateVersionStatus меняет статус - единственное изменяемое поле версии.
func (s *sqlStore) UpdateVersionStatus(
	ctx context.Context,
	id uuid.UUID,
	status models.VersionStatus,
) (err error) {
	defer func(start time.Time) { s.observe("update_version_status", start, 1, err) }(time.Now())

	return updateVersionStatus(ctx, s.db, id, status)
}

func updateVersionStatus(ctx context.Context, e sqlx.ExtContext, id uuid.UUID, status models.VersionStatus) error {
	query := e.Rebind(`UPDATE versions SET status = ? WHERE id = ?`)
	res, err := e.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("ошибка обновления статуса версии: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrVersionNotFound, id)
	}
	return nil
}

func (s *sqlStore) prepareVersion(v *models.ModelVersion) {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	v.CreatedAt = timeOrNow(v.CreatedAt, s.now)
	if v.Tags == nil {
		v.Tags = models.StringMap{}
	}
}

func (s *sqlStore) mapVersionInsertError(v *models.ModelVersion, err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s/%s@%s", ErrVersionExists, v.AssetID, v.Branch, v.Version)
	}
	return fmt.Errorf("ошибка выполнения запроса на создание версии: %w", err)
}
