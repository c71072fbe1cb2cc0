package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maynagashev/assetkeeper/internal/apperr"
	"github.com/maynagashev/assetkeeper/internal/logger"
	"github.com/maynagashev/assetkeeper/internal/models"
	"github.com/maynagashev/assetkeeper/internal/repository"
)

func newTestStore(t *testing.T) repository.VersionStore {
	t.Helper()
	return repository.NewSQLStore(newTestDB(t), logger.Nop(), nil)
}

func newVersion(branch, version string, parent *uuid.UUID) *models.ModelVersion {
	return &models.ModelVersion{
		AssetID:         "chair",
		Version:         version,
		ParentVersionID: parent,
		Branch:          branch,
		Message:         "коммит " + version,
		ContentHash:     "sha256:" + version,
		ContentPath:     "objects/sha256/" + version,
		Author:          "alice",
		SizeBytes:       128,
		Status:          models.VersionStatusApproved,
	}
}

// seedMain создает ассет с первой версией и веткой main.
func seedMain(t *testing.T, store repository.VersionStore) (*models.ModelVersion, *models.Branch) {
	t.Helper()
	v := newVersion("main", "1.0.0", nil)
	v.ModelMetadata = models.ModelMetadata{
		TriangleCount: 1000,
		VertexCount:   600,
		MaterialCount: 2,
		BoundingBox:   models.BoundingBox{Max: models.Vec3{X: 1, Y: 2, Z: 3}},
	}
	v.Tags = models.StringMap{"stage": "blockout"}
	v.CreatedAt = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	b := &models.Branch{AssetID: "chair", Name: "main", IsDefault: true, CreatedBy: "alice"}
	require.NoError(t, store.CommitInitialVersion(context.Background(), v, b))
	return v, b
}

func TestStore_CommitInitialVersion(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	v, b := seedMain(t, store)

	got, err := store.GetVersion(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", got.Version)
	assert.Nil(t, got.ParentVersionID)
	assert.Equal(t, int64(1000), got.TriangleCount)
	assert.Equal(t, 3.0, got.BoundingBox.Max.Z)
	assert.Equal(t, "blockout", got.Tags["stage"])
	assert.Equal(t, models.VersionStatusApproved, got.Status)

	branch, err := store.GetBranch(ctx, "chair", "main")
	require.NoError(t, err)
	assert.Equal(t, b.ID, branch.ID)
	assert.Equal(t, v.ID, branch.HeadVersionID)
	assert.Equal(t, v.ID, branch.BaseVersionID)
	assert.True(t, branch.IsDefault)
	assert.False(t, branch.Protected)
	assert.Equal(t, models.StringSet{"alice"}, branch.Contributors)
}

func TestStore_CommitVersion(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	root, main := seedMain(t, store)

	t.Run("Успешный коммит сдвигает голову", func(t *testing.T) {
		next := newVersion("main", "1.0.1", &root.ID)
		next.Author = "bob"
		require.NoError(t, store.CommitVersion(ctx, next, main.ID, root.ID))

		branch, err := store.GetBranchByID(ctx, main.ID)
		require.NoError(t, err)
		assert.Equal(t, next.ID, branch.HeadVersionID)
		assert.Equal(t, models.StringSet{"alice", "bob"}, branch.Contributors)
	})

	t.Run("Устаревшая голова: версия не сохраняется", func(t *testing.T) {
		stale := newVersion("main", "1.0.2", &root.ID)
		err := store.CommitVersion(ctx, stale, main.ID, root.ID)
		require.ErrorIs(t, err, repository.ErrHeadMismatch)
		require.ErrorIs(t, err, apperr.ErrConcurrencyConflict)

		_, err = store.GetVersion(ctx, stale.ID)
		require.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("Неизвестная ветка", func(t *testing.T) {
		err := store.CommitVersion(ctx, newVersion("main", "9.9.9", nil), uuid.New(), root.ID)
		require.ErrorIs(t, err, repository.ErrBranchNotFound)
	})
}

func TestStore_CASUpdateBranchHead(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	root, main := seedMain(t, store)

	other := newVersion("main", "1.0.1", &root.ID)
	require.NoError(t, store.CreateVersion(ctx, other))

	require.NoError(t, store.CASUpdateBranchHead(ctx, main.ID, root.ID, other.ID, "carol"))

	err := store.CASUpdateBranchHead(ctx, main.ID, root.ID, other.ID, "carol")
	require.ErrorIs(t, err, apperr.ErrConcurrencyConflict)

	err = store.CASUpdateBranchHead(ctx, uuid.New(), root.ID, other.ID, "carol")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestStore_Branches(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	root, _ := seedMain(t, store)

	feature := &models.Branch{
		AssetID: "chair", Name: "feature", HeadVersionID: root.ID, BaseVersionID: root.ID, CreatedBy: "bob",
	}
	require.NoError(t, store.CreateBranch(ctx, feature))

	dup := &models.Branch{
		AssetID: "chair", Name: "feature", HeadVersionID: root.ID, BaseVersionID: root.ID, CreatedBy: "bob",
	}
	err := store.CreateBranch(ctx, dup)
	require.ErrorIs(t, err, repository.ErrBranchExists)
	require.ErrorIs(t, err, apperr.ErrAlreadyExists)

	branches, err := store.ListBranches(ctx, "chair")
	require.NoError(t, err)
	require.Len(t, branches, 2)
	assert.Equal(t, "feature", branches[0].Name)
	assert.Equal(t, "main", branches[1].Name)

	_, err = store.GetBranch(ctx, "chair", "missing")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestStore_ListVersions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	root, main := seedMain(t, store)

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	head := root.ID
	for i, ver := range []string{"1.0.1", "1.0.2", "1.0.3"} {
		v := newVersion("main", ver, &head)
		v.CreatedAt = base.Add(time.Duration(i+1) * time.Minute)
		require.NoError(t, store.CommitVersion(ctx, v, main.ID, head))
		head = v.ID
	}
	side := newVersion("feature", "1.0.1", &root.ID)
	require.NoError(t, store.CreateVersion(ctx, side))

	tests := []struct {
		name   string
		branch string
		limit  int
		offset int
		want   []string
	}{
		{name: "Ветка main, первая страница", branch: "main", limit: 2, offset: 0, want: []string{"1.0.3", "1.0.2"}},
		{name: "Ветка main, вторая страница", branch: "main", limit: 2, offset: 2, want: []string{"1.0.1", "1.0.0"}},
		{name: "Ветка feature", branch: "feature", limit: 10, offset: 0, want: []string{"1.0.1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			versions, err := store.ListVersions(ctx, "chair", tt.branch, tt.limit, tt.offset)
			require.NoError(t, err)
			got := make([]string, 0, len(versions))
			for _, v := range versions {
				got = append(got, v.Version)
			}
			assert.Equal(t, tt.want, got)
		})
	}

	all, err := store.ListVersions(ctx, "chair", "", 100, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestStore_VersionUniqueness(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedMain(t, store)

	err := store.CreateVersion(ctx, newVersion("main", "1.0.0", nil))
	require.ErrorIs(t, err, repository.ErrVersionExists)
	require.ErrorIs(t, err, apperr.ErrAlreadyExists)
}

func TestStore_UpdateVersionStatus(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	root, _ := seedMain(t, store)

	require.NoError(t, store.UpdateVersionStatus(ctx, root.ID, models.VersionStatusArchived))
	got, err := store.GetVersion(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VersionStatusArchived, got.Status)

	err = store.UpdateVersionStatus(ctx, uuid.New(), models.VersionStatusArchived)
	require.ErrorIs(t, err, repository.ErrVersionNotFound)
}

func TestStore_MergeRequests(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	root, main := seedMain(t, store)
	feature := &models.Branch{
		AssetID: "chair", Name: "feature", HeadVersionID: root.ID, BaseVersionID: root.ID, CreatedBy: "bob",
	}
	require.NoError(t, store.CreateBranch(ctx, feature))

	source := models.Transform{Target: "seat", Translation: models.Vec3{X: 1}}
	target := models.Transform{Target: "seat", Translation: models.Vec3{X: 2}}
	mr := &models.MergeRequest{
		AssetID:        "chair",
		SourceBranchID: feature.ID,
		TargetBranchID: main.ID,
		Title:          "Сдвинуть сиденье",
		Status:         models.MergeRequestConflict,
		Author:         "bob",
		Reviewers:      []models.Reviewer{{ReviewerID: "carol"}, {ReviewerID: "dave"}},
		Conflicts: []models.Conflict{{
			Type:        models.ConflictTransform,
			Path:        models.MeshPath("seat"),
			SourceValue: models.TransformValue(source),
			TargetValue: models.TransformValue(target),
		}},
	}
	require.NoError(t, store.CreateMergeRequest(ctx, mr))

	got, err := store.GetMergeRequest(ctx, mr.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MergeRequestConflict, got.Status)
	require.Len(t, got.Reviewers, 2)
	assert.Equal(t, "carol", got.Reviewers[0].ReviewerID)
	assert.Equal(t, models.ReviewPending, got.Reviewers[0].Status)
	assert.Equal(t, 1, got.Reviewers[1].Position)
	require.Len(t, got.Conflicts, 1)
	assert.Equal(t, models.TransformValue(source), got.Conflicts[0].SourceValue)
	assert.Nil(t, got.Conflicts[0].BaseValue)
	assert.False(t, got.Conflicts[0].Resolved())

	t.Run("Решение конфликта", func(t *testing.T) {
		res := &models.Resolution{
			Strategy:   models.ResolveUseSource,
			ResolvedBy: "bob",
			ResolvedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		}
		require.NoError(t, store.UpdateConflictResolution(ctx, mr.ID, got.Conflicts[0].ID, res))

		conflicts, err := store.ListConflicts(ctx, mr.ID)
		require.NoError(t, err)
		require.Len(t, conflicts, 1)
		require.NotNil(t, conflicts[0].Resolution)
		assert.Equal(t, models.ResolveUseSource, conflicts[0].Resolution.Strategy)

		err = store.UpdateConflictResolution(ctx, mr.ID, uuid.New(), res)
		require.ErrorIs(t, err, repository.ErrConflictNotFound)
	})

	t.Run("Новые конфликты дописываются в конец", func(t *testing.T) {
		extra := []models.Conflict{{Type: models.ConflictMaterial, Path: models.MaterialPath("wood")}}
		require.NoError(t, store.AddConflicts(ctx, mr.ID, extra))

		conflicts, err := store.ListConflicts(ctx, mr.ID)
		require.NoError(t, err)
		require.Len(t, conflicts, 2)
		assert.Equal(t, models.MaterialPath("wood"), conflicts[1].Path)
	})

	t.Run("Ревьюер и комментарий", func(t *testing.T) {
		r := &models.Reviewer{MergeRequestID: mr.ID, ReviewerID: "dave", Status: models.ReviewApproved}
		require.NoError(t, store.UpdateReviewer(ctx, r))
		require.NoError(t, store.AddComment(ctx, &models.Comment{MergeRequestID: mr.ID, Author: "dave", Body: "ок"}))

		missing := &models.Reviewer{MergeRequestID: mr.ID, ReviewerID: "eve", Status: models.ReviewApproved}
		require.ErrorIs(t, store.UpdateReviewer(ctx, missing), repository.ErrReviewerNotFound)

		got, err := store.GetMergeRequest(ctx, mr.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ReviewApproved, got.Reviewers[1].Status)
		require.Len(t, got.Comments, 1)
		assert.Equal(t, "ок", got.Comments[0].Body)
	})

	t.Run("Обновление и фильтр по статусу", func(t *testing.T) {
		mr.Status = models.MergeRequestOpen
		require.NoError(t, store.UpdateMergeRequest(ctx, mr))

		open, err := store.ListMergeRequests(ctx, "chair", models.MergeRequestOpen)
		require.NoError(t, err)
		require.Len(t, open, 1)
		assert.Equal(t, mr.ID, open[0].ID)

		merged, err := store.ListMergeRequests(ctx, "chair", models.MergeRequestMerged)
		require.NoError(t, err)
		assert.Empty(t, merged)
	})

	t.Run("Повторяющийся ревьюер", func(t *testing.T) {
		dup := &models.MergeRequest{
			AssetID: "chair", SourceBranchID: feature.ID, TargetBranchID: main.ID,
			Title: "x", Status: models.MergeRequestOpen, Author: "bob",
			Reviewers: []models.Reviewer{{ReviewerID: "carol"}, {ReviewerID: "carol"}},
		}
		err := store.CreateMergeRequest(ctx, dup)
		require.ErrorIs(t, err, apperr.ErrValidation)

		_, err = store.GetMergeRequest(ctx, dup.ID)
		require.ErrorIs(t, err, repository.ErrMergeRequestNotFound)
	})
}

func TestStore_Workflows(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	root, _ := seedMain(t, store)

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	expired := &models.ApprovalWorkflow{
		VersionID:         root.ID,
		RequiredApprovers: models.StringSet{"carol"},
		MinApprovers:      1,
		Approvals:         models.ApprovalList{{Approver: "carol", Status: models.ApprovalPending}},
		Status:            models.WorkflowPending,
		Deadline:          &past,
	}
	autoDue := &models.ApprovalWorkflow{
		VersionID:         root.ID,
		RequiredApprovers: models.StringSet{"dave"},
		MinApprovers:      1,
		Approvals:         models.ApprovalList{{Approver: "dave", Status: models.ApprovalPending}},
		Status:            models.WorkflowPending,
		Deadline:          &future,
		AutoApproveAt:     &past,
	}
	require.NoError(t, store.CreateApprovalWorkflow(ctx, expired))
	require.NoError(t, store.CreateApprovalWorkflow(ctx, autoDue))

	t.Run("Выборки для обходов", func(t *testing.T) {
		list, err := store.ListExpiredWorkflows(ctx, now)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, expired.ID, list[0].ID)

		list, err = store.ListAutoApprovableWorkflows(ctx, now)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, autoDue.ID, list[0].ID)
	})

	t.Run("Обновление по ревизии", func(t *testing.T) {
		wf, err := store.GetApprovalWorkflow(ctx, expired.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), wf.Revision)
		stale := wf.Clone()

		wf.Status = models.WorkflowExpired
		wf.CompletedAt = &now
		require.NoError(t, store.UpdateApprovalWorkflow(ctx, wf))
		assert.Equal(t, int64(1), wf.Revision)

		stale.Status = models.WorkflowApproved
		err = store.UpdateApprovalWorkflow(ctx, stale)
		require.ErrorIs(t, err, repository.ErrWorkflowStale)
		require.ErrorIs(t, err, apperr.ErrConcurrencyConflict)

		got, err := store.GetApprovalWorkflow(ctx, expired.ID)
		require.NoError(t, err)
		assert.Equal(t, models.WorkflowExpired, got.Status)
		require.NotNil(t, got.CompletedAt)

		list, err := store.ListExpiredWorkflows(ctx, now)
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("Итог процесса и статус версии пишутся вместе", func(t *testing.T) {
		wf, err := store.GetApprovalWorkflow(ctx, autoDue.ID)
		require.NoError(t, err)

		broken := wf.Clone()
		broken.VersionID = uuid.New()
		broken.Status = models.WorkflowRejected
		broken.CompletedAt = &now
		err = store.CompleteApprovalWorkflow(ctx, broken, models.VersionStatusRejected)
		require.ErrorIs(t, err, repository.ErrVersionNotFound)
		assert.Equal(t, int64(0), broken.Revision)

		got, err := store.GetApprovalWorkflow(ctx, autoDue.ID)
		require.NoError(t, err)
		assert.Equal(t, models.WorkflowPending, got.Status)
		assert.Equal(t, int64(0), got.Revision)

		wf.Status = models.WorkflowRejected
		wf.CompletedAt = &now
		require.NoError(t, store.CompleteApprovalWorkflow(ctx, wf, models.VersionStatusRejected))
		assert.Equal(t, int64(1), wf.Revision)

		v, err := store.GetVersion(ctx, root.ID)
		require.NoError(t, err)
		assert.Equal(t, models.VersionStatusRejected, v.Status)
	})

	t.Run("Неизвестный процесс", func(t *testing.T) {
		_, err := store.GetApprovalWorkflow(ctx, uuid.New())
		require.ErrorIs(t, err, repository.ErrWorkflowNotFound)

		err = store.UpdateApprovalWorkflow(ctx, &models.ApprovalWorkflow{ID: uuid.New()})
		require.ErrorIs(t, err, repository.ErrWorkflowNotFound)
	})
}

func TestStore_Tags(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	root, _ := seedMain(t, store)

	tag := &models.VersionTag{AssetID: "chair", VersionID: root.ID, Name: "v1", CreatedBy: "alice", IsRelease: true}
	require.NoError(t, store.CreateTag(ctx, tag))

	err := store.CreateTag(ctx, &models.VersionTag{AssetID: "chair", VersionID: root.ID, Name: "v1", CreatedBy: "bob"})
	require.ErrorIs(t, err, repository.ErrTagExists)

	tags, err := store.ListTags(ctx, root.ID)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.True(t, tags[0].IsRelease)
}

func TestStore_VersionReferences(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	root, main := seedMain(t, store)
	missing := uuid.New()

	t.Run("Родитель должен существовать", func(t *testing.T) {
		err := store.CreateVersion(ctx, newVersion("main", "2.0.0", &missing))
		require.Error(t, err)
	})

	t.Run("Ветка не может указывать на несуществующую версию", func(t *testing.T) {
		err := store.CreateBranch(ctx, &models.Branch{
			AssetID: "chair", Name: "ghost", HeadVersionID: missing, BaseVersionID: root.ID, CreatedBy: "bob",
		})
		require.Error(t, err)
	})

	t.Run("CAS на несуществующую версию не сдвигает голову", func(t *testing.T) {
		err := store.CASUpdateBranchHead(ctx, main.ID, root.ID, missing, "bob")
		require.Error(t, err)

		branch, err := store.GetBranchByID(ctx, main.ID)
		require.NoError(t, err)
		assert.Equal(t, root.ID, branch.HeadVersionID)
	})

	t.Run("Коммит после отказов проходит", func(t *testing.T) {
		next := newVersion("main", "1.0.1", &root.ID)
		require.NoError(t, store.CommitVersion(ctx, next, main.ID, root.ID))
	})
}
