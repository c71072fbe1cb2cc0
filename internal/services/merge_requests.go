package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/maynagashev/assetkeeper/internal/apperr"
	"github.com/maynagashev/assetkeeper/internal/approval"
	"github.com/maynagashev/assetkeeper/internal/merge"
	"github.com/maynagashev/assetkeeper/internal/models"
	"github.com/maynagashev/assetkeeper/internal/repository"
	"github.com/maynagashev/assetkeeper/internal/versioning"
)

// CreateMergeRequestInput - параметры запроса на слияние.
type CreateMergeRequestInput struct {
	AssetID      string
	SourceBranch string
	TargetBranch string
	Title        string
	Description  string
	Author       string
	Reviewers    []string
}

// ResolveConflictInput - решение по одному конфликту.
type ResolveConflictInput struct {
	MergeRequestID uuid.UUID
	ConflictID     uuid.UUID
	Strategy       models.ResolutionStrategy
	Custom         *models.ChangeValue
	Actor          string
}

// ReviewInput - отзыв ревьюера.
type ReviewInput struct {
	MergeRequestID uuid.UUID
	Reviewer       string
	Status         models.ReviewStatus
	Comment        string
}

// MergeInput - параметры слияния по запросу.
type MergeInput struct {
	MergeRequestID uuid.UUID
	Actor          string
	Strategy       models.MergeStrategy // пустая - merge
	Message        string
	Bump           versioning.Bump
}

// CreateMergeRequest сразу ищет конфликты: при их наличии запрос создаётся в статусе conflict.
func (s *versionControlService) CreateMergeRequest(
	ctx context.Context,
	in CreateMergeRequestInput,
) (mr *models.MergeRequest, err error) {
	defer func(start time.Time) { s.observe("create_merge_request", start, err) }(time.Now())

	if in.Author == "" {
		return nil, apperr.Validation("не указан автор запроса")
	}
	if len(in.Reviewers) == 0 {
		if err = s.checkApprovalPolicy(); err != nil {
			return nil, err
		}
	}

	a, err := s.merger.Analyze(ctx, in.AssetID, in.SourceBranch, in.TargetBranch)
	if err != nil {
		return nil, err
	}
	if a.Base.ID == a.SourceHead.ID {
		return nil, apperr.Validation("в ветке %s нет изменений относительно %s", in.SourceBranch, in.TargetBranch)
	}

	mr = &models.MergeRequest{
		ID:             uuid.New(),
		AssetID:        in.AssetID,
		SourceBranchID: a.Source.ID,
		TargetBranchID: a.Target.ID,
		Title:          strings.TrimSpace(in.Title),
		Description:    in.Description,
		Status:         models.MergeRequestOpen,
		Author:         in.Author,
		Conflicts:      a.Conflicts,
	}
	if mr.Title == "" {
		mr.Title = fmt.Sprintf("Слияние %s в %s", in.SourceBranch, in.TargetBranch)
	}
	if len(mr.Conflicts) > 0 {
		mr.Status = models.MergeRequestConflict
	}
	for _, id := range in.Reviewers {
		mr.Reviewers = append(mr.Reviewers, models.Reviewer{ReviewerID: id})
	}

	if err = s.store.CreateMergeRequest(ctx, mr); err != nil {
		return nil, err
	}

	if s.cfg.RequireApproval {
		approvers := in.Reviewers
		if len(approvers) == 0 {
			approvers = s.cfg.DefaultApprovers
		}
		mrID := mr.ID
		wf, startErr := s.approvals.Start(ctx, approval.StartInput{
			VersionID:      a.SourceHead.ID,
			MergeRequestID: &mrID,
			Approvers:      approvers,
		})
		if startErr != nil {
			return nil, fmt.Errorf("запрос %s создан, но согласование не запущено: %w", mr.ID, startErr)
		}
		mr.WorkflowID = &wf.ID
		if err = s.store.UpdateMergeRequest(ctx, mr); err != nil {
			return nil, fmt.Errorf("привязка согласования к запросу %s: %w", mr.ID, err)
		}
	}

	if len(in.Reviewers) > 0 {
		if notifyErr := s.notifier.NotifyReviewers(ctx, mr.ID, in.Reviewers); notifyErr != nil {
			s.log.Warn().Err(notifyErr).Str("merge_request_id", mr.ID.String()).
				Msg("Не удалось уведомить ревьюеров")
		}
	}

	s.log.Info().
		Str("merge_request_id", mr.ID.String()).
		Str("source", in.SourceBranch).
		Str("target", in.TargetBranch).
		Str("base_version", a.Base.Version).
		Int("conflicts", len(mr.Conflicts)).
		Msg("Создан запрос на слияние")
	return mr, nil
}

// GetMergeRequest возвращает запрос с ревьюерами, конфликтами и комментариями.
func (s *versionControlService) GetMergeRequest(ctx context.Context, id uuid.UUID) (mr *models.MergeRequest, err error) {
	defer func(start time.Time) { s.observe("get_merge_request", start, err) }(time.Now())

	return s.store.GetMergeRequest(ctx, id)
}

// ListMergeRequests возвращает запросы ассета; пустой статус означает все.
func (s *versionControlService) ListMergeRequests(
	ctx context.Context,
	assetID string,
	status models.MergeRequestStatus,
) (list []models.MergeRequest, err error) {
	defer func(start time.Time) { s.observe("list_merge_requests", start, err) }(time.Now())

	return s.store.ListMergeRequests(ctx, assetID, status)
}

// ResolveConflict сохраняет решение. Когда решены все конфликты, запрос снова открыт.
func (s *versionControlService) ResolveConflict(
	ctx context.Context,
	in ResolveConflictInput,
) (mr *models.MergeRequest, err error) {
	defer func(start time.Time) { s.observe("resolve_conflict", start, err) }(time.Now())

	if !in.Strategy.Valid() {
		return nil, apperr.Validation("неизвестная стратегия разрешения %q", in.Strategy)
	}
	if in.Actor == "" {
		return nil, apperr.Validation("не указан автор решения")
	}
	if in.Custom != nil {
		if err = in.Custom.Validate(); err != nil {
			return nil, err
		}
	}

	mr, err = s.store.GetMergeRequest(ctx, in.MergeRequestID)
	if err != nil {
		return nil, err
	}
	if err = checkActive(mr); err != nil {
		return nil, err
	}
	idx := -1
	for i := range mr.Conflicts {
		if mr.Conflicts[i].ID == in.ConflictID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", repository.ErrConflictNotFound, in.ConflictID)
	}

	res := &models.Resolution{
		Strategy:   in.Strategy,
		ResolvedBy: in.Actor,
		ResolvedAt: s.now(),
	}
	if in.Strategy == models.ResolveManual || in.Strategy == models.ResolveMerge {
		res.Custom = in.Custom
	}
	candidate := mr.Conflicts[idx]
	candidate.Resolution = res
	if err = merge.CheckResolution(candidate); err != nil {
		return nil, err
	}
	if err = s.store.UpdateConflictResolution(ctx, mr.ID, in.ConflictID, res); err != nil {
		return nil, err
	}
	mr.Conflicts[idx].Resolution = res

	if mr.Status == models.MergeRequestConflict && len(mr.UnresolvedConflicts()) == 0 {
		mr.Status = models.MergeRequestOpen
		if err = s.store.UpdateMergeRequest(ctx, mr); err != nil {
			return nil, err
		}
		s.log.Info().Str("merge_request_id", mr.ID.String()).Msg("Все конфликты разрешены, запрос открыт")
	}
	return mr, nil
}

// ReviewMergeRequest записывает отзыв ревьюера. Одобрение или отказ передаются в процесс согласования.
func (s *versionControlService) ReviewMergeRequest(ctx context.Context, in ReviewInput) (mr *models.MergeRequest, err error) {
	defer func(start time.Time) { s.observe("review_merge_request", start, err) }(time.Now())

	if !in.Status.Valid() || in.Status == models.ReviewPending {
		return nil, apperr.Validation("недопустимый статус отзыва %q", in.Status)
	}
	mr, err = s.store.GetMergeRequest(ctx, in.MergeRequestID)
	if err != nil {
		return nil, err
	}
	if err = checkActive(mr); err != nil {
		return nil, err
	}
	r, ok := mr.Reviewer(in.Reviewer)
	if !ok {
		return nil, fmt.Errorf("%w: %s не назначен ревьюером запроса %s", apperr.ErrNotAnApprover, in.Reviewer, mr.ID)
	}

	r.Status = in.Status
	if err = s.store.UpdateReviewer(ctx, r); err != nil {
		return nil, err
	}
	if body := strings.TrimSpace(in.Comment); body != "" {
		c := &models.Comment{MergeRequestID: mr.ID, Author: in.Reviewer, Body: body}
		if err = s.store.AddComment(ctx, c); err != nil {
			return nil, err
		}
		mr.Comments = append(mr.Comments, *c)
	}

	if mr.WorkflowID != nil && (in.Status == models.ReviewApproved || in.Status == models.ReviewRejected) {
		if _, err = s.approvals.Submit(ctx, *mr.WorkflowID, in.Reviewer, models.ApprovalStatus(in.Status), in.Comment); err != nil {
			return nil, err
		}
	}
	return mr, nil
}

// AddComment добавляет комментарий в обсуждение запроса.
func (s *versionControlService) AddComment(
	ctx context.Context,
	mergeRequestID uuid.UUID,
	author, body string,
) (c *models.Comment, err error) {
	defer func(start time.Time) { s.observe("add_comment", start, err) }(time.Now())

	body = strings.TrimSpace(body)
	if author == "" || body == "" {
		return nil, apperr.Validation("комментарию нужны автор и текст")
	}
	if _, err = s.store.GetMergeRequest(ctx, mergeRequestID); err != nil {
		return nil, err
	}
	c = &models.Comment{MergeRequestID: mergeRequestID, Author: author, Body: body}
	if err = s.store.AddComment(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// CloseMergeRequest закрывает запрос без слияния. Повторное закрытие ничего не меняет.
func (s *versionControlService) CloseMergeRequest(
	ctx context.Context,
	mergeRequestID uuid.UUID,
	actor string,
) (mr *models.MergeRequest, err error) {
	defer func(start time.Time) { s.observe("close_merge_request", start, err) }(time.Now())

	mr, err = s.store.GetMergeRequest(ctx, mergeRequestID)
	if err != nil {
		return nil, err
	}
	switch mr.Status {
	case models.MergeRequestClosed:
		return mr, nil
	case models.MergeRequestMerged:
		return nil, apperr.Validation("запрос %s уже слит", mr.ID)
	}
	mr.Status = models.MergeRequestClosed
	if err = s.store.UpdateMergeRequest(ctx, mr); err != nil {
		return nil, err
	}
	s.log.Info().Str("merge_request_id", mr.ID.String()).Str("actor", actor).Msg("Запрос на слияние закрыт")
	return mr, nil
}

// MergeBranches выполняет слияние по запросу. Запрос должен быть открыт,
// а его процесс согласования, если он есть, одобрен.
func (s *versionControlService) MergeBranches(ctx context.Context, in MergeInput) (v *models.ModelVersion, err error) {
	defer func(start time.Time) { s.observe("merge_branches", start, err) }(time.Now())

	mr, err := s.store.GetMergeRequest(ctx, in.MergeRequestID)
	if err != nil {
		return nil, err
	}
	switch mr.Status {
	case models.MergeRequestConflict:
		return nil, apperr.Unresolved(mr.UnresolvedConflicts())
	case models.MergeRequestMerged, models.MergeRequestClosed:
		return nil, apperr.Validation("запрос %s в статусе %s", mr.ID, mr.Status)
	}
	if err = s.checkMergeApproval(ctx, mr); err != nil {
		return nil, err
	}

	source, err := s.store.GetBranchByID(ctx, mr.SourceBranchID)
	if err != nil {
		return nil, err
	}
	target, err := s.store.GetBranchByID(ctx, mr.TargetBranchID)
	if err != nil {
		return nil, err
	}
	strategy := in.Strategy
	if strategy == "" {
		strategy = models.StrategyMerge
	}

	res, err := s.merger.Merge(ctx, merge.Request{
		AssetID:      mr.AssetID,
		SourceBranch: source.Name,
		TargetBranch: target.Name,
		Strategy:     strategy,
		Committer:    in.Actor,
		Message:      in.Message,
		Resolutions:  mr.Conflicts,
		Bump:         in.Bump,
		Status:       models.VersionStatusApproved,
	})
	if err != nil {
		if conflicts, ok := apperr.ConflictsOf(err); ok {
			s.recordNewConflicts(ctx, mr, conflicts)
		}
		return nil, err
	}

	now := s.now()
	actor := in.Actor
	mr.Status = models.MergeRequestMerged
	mr.MergedBy = &actor
	mr.MergedAt = &now
	mr.MergedVersionID = &res.Version.ID
	if err = s.store.UpdateMergeRequest(ctx, mr); err != nil {
		return nil, fmt.Errorf("версия %s зафиксирована, но запрос не отмечен слитым: %w", res.Version.ID, err)
	}

	s.log.Info().
		Str("merge_request_id", mr.ID.String()).
		Str("strategy", string(strategy)).
		Str("version", res.Version.Version).
		Int("attempts", res.Attempts).
		Msg("Запрос на слияние выполнен")
	return res.Version, nil
}

// checkMergeApproval требует одобренного процесса согласования.
func (s *versionControlService) checkMergeApproval(ctx context.Context, mr *models.MergeRequest) error {
	if mr.WorkflowID == nil {
		if s.cfg.RequireApproval {
			return fmt.Errorf("%w: у запроса %s нет процесса согласования", apperr.ErrInsufficientApprovals, mr.ID)
		}
		return nil
	}
	wf, err := s.approvals.Get(ctx, *mr.WorkflowID)
	if err != nil {
		return err
	}
	switch wf.Status {
	case models.WorkflowApproved:
		return nil
	case models.WorkflowExpired:
		return fmt.Errorf("%w: процесс %s", apperr.ErrWorkflowExpired, wf.ID)
	case models.WorkflowPending:
		if wf.Deadline != nil && !s.now().Before(*wf.Deadline) {
			return fmt.Errorf("%w: процесс %s", apperr.ErrWorkflowExpired, wf.ID)
		}
	}
	approved, _, _ := wf.Counts()
	return fmt.Errorf("%w: процесс %s в статусе %s, одобрений %d из %d",
		apperr.ErrInsufficientApprovals, wf.ID, wf.Status, approved, wf.MinApprovers)
}

// recordNewConflicts сохраняет конфликты, появившиеся после создания запроса, и переводит его в conflict.
// Ошибки только логируются: вызывающий и так получает UnresolvedConflicts.
func (s *versionControlService) recordNewConflicts(ctx context.Context, mr *models.MergeRequest, found []models.Conflict) {
	known := make(map[string]struct{}, len(mr.Conflicts))
	for i := range mr.Conflicts {
		known[mr.Conflicts[i].Key()] = struct{}{}
	}
	var fresh []models.Conflict
	for _, c := range found {
		if _, ok := known[c.Key()]; !ok {
			c.ID = uuid.Nil
			fresh = append(fresh, c)
		}
	}
	if len(fresh) == 0 {
		return
	}
	id := mr.ID.String()
	if err := s.store.AddConflicts(ctx, mr.ID, fresh); err != nil {
		s.log.Error().Err(err).Str("merge_request_id", id).Msg("Не удалось сохранить новые конфликты")
		return
	}
	mr.Status = models.MergeRequestConflict
	if err := s.store.UpdateMergeRequest(ctx, mr); err != nil {
		s.log.Error().Err(err).Str("merge_request_id", id).Msg("Не удалось перевести запрос в статус conflict")
		return
	}
	s.log.Warn().Str("merge_request_id", id).Int("conflicts", len(fresh)).Msg("Ветки разошлись после создания запроса, найдены новые конфликты")
}

func checkActive(mr *models.MergeRequest) error {
	if mr.Status == models.MergeRequestMerged || mr.Status == models.MergeRequestClosed {
		return apperr.Validation("запрос %s в статусе %s", mr.ID, mr.Status)
	}
	return nil
}
