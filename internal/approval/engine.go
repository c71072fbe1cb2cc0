// Package approval ведёт процессы согласования версий.
package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/maynagashev/assetkeeper/internal/apperr"
	"github.com/maynagashev/assetkeeper/internal/logger"
	"github.com/maynagashev/assetkeeper/internal/metrics"
	"github.com/maynagashev/assetkeeper/internal/models"
	"github.com/maynagashev/assetkeeper/internal/notify"
)

// AutoApprovedComment ставится согласованиям, одобренным по таймеру.
const AutoApprovedComment = "auto-approved"

const maxUpdateRetries = 1

// Store - операции хранилища, нужные согласованию.
type Store interface {
	CreateApprovalWorkflow(ctx context.Context, wf *models.ApprovalWorkflow) error
	GetApprovalWorkflow(ctx context.Context, id uuid.UUID) (*models.ApprovalWorkflow, error)
	UpdateApprovalWorkflow(ctx context.Context, wf *models.ApprovalWorkflow) error
	ListExpiredWorkflows(ctx context.Context, now time.Time) ([]models.ApprovalWorkflow, error)
	ListAutoApprovableWorkflows(ctx context.Context, now time.Time) ([]models.ApprovalWorkflow, error)
	CompleteApprovalWorkflow(ctx context.Context, wf *models.ApprovalWorkflow, versionStatus models.VersionStatus) error
}

// Config - политика согласования.
type Config struct {
	MinApprovers     int
	Timeout          time.Duration // 0 - без срока
	AutoApproveAfter time.Duration // 0 - без автоодобрения
	Now              func() time.Time
}

// Engine - машина состояний согласования.
type Engine struct {
	store    Store
	notifier notify.Notifier
	cfg      Config
	metrics  *metrics.Metrics
	log      *logger.Logger
}

// NewEngine создаёт движок согласования.
func NewEngine(store Store, notifier notify.Notifier, cfg Config, m *metrics.Metrics, log *logger.Logger) *Engine {
	if cfg.MinApprovers <= 0 {
		cfg.MinApprovers = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		metrics:  m,
		log:      log.Component("approval"),
	}
}

func (e *Engine) now() time.Time {
	return e.cfg.Now().UTC()
}

// StartInput - параметры нового процесса.
type StartInput struct {
	VersionID      uuid.UUID
	MergeRequestID *uuid.UUID
	Approvers      []string
	// MinApprovers переопределяет значение из конфигурации, если больше нуля.
	MinApprovers int
}

// Start создаёт процесс согласования в статусе pending.
func (e *Engine) Start(ctx context.Context, in StartInput) (*models.ApprovalWorkflow, error) {
	var approvers models.StringSet
	for _, a := range in.Approvers {
		approvers = approvers.Add(a)
	}
	if len(approvers) == 0 {
		return nil, apperr.Validation("не заданы согласующие")
	}
	minApprovers := e.cfg.MinApprovers
	if in.MinApprovers > 0 {
		minApprovers = in.MinApprovers
	}
	if minApprovers > len(approvers) {
		return nil, apperr.Validation("требуется %d согласований, а согласующих %d", minApprovers, len(approvers))
	}

	now := e.now()
	wf := &models.ApprovalWorkflow{
		VersionID:         in.VersionID,
		MergeRequestID:    in.MergeRequestID,
		RequiredApprovers: approvers,
		MinApprovers:      minApprovers,
		Approvals:         make(models.ApprovalList, 0, len(approvers)),
		Status:            models.WorkflowPending,
		CreatedAt:         now,
	}
	for _, a := range approvers {
		wf.Approvals = append(wf.Approvals, models.Approval{Approver: a, Status: models.ApprovalPending})
	}
	if e.cfg.Timeout > 0 {
		deadline := now.Add(e.cfg.Timeout)
		wf.Deadline = &deadline
	}
	if e.cfg.AutoApproveAfter > 0 {
		at := now.Add(e.cfg.AutoApproveAfter)
		wf.AutoApproveAt = &at
	}

	if err := e.store.CreateApprovalWorkflow(ctx, wf); err != nil {
		return nil, err
	}
	e.log.Info().
		Str("workflow_id", wf.ID.String()).
		Str("version_id", wf.VersionID.String()).
		Strs("approvers", wf.RequiredApprovers).
		Int("min_approvers", wf.MinApprovers).
		Msg("Запущено согласование")
	return wf, nil
}

// Get возвращает процесс согласования.
func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*models.ApprovalWorkflow, error) {
	return e.store.GetApprovalWorkflow(ctx, id)
}

// Evaluate вычисляет статус по решениям: любой отказ отклоняет,
// нужное число одобрений одобряет, а если решили все и порога нет - отказ.
func Evaluate(wf *models.ApprovalWorkflow) models.WorkflowStatus {
	approved, rejected, pending := wf.Counts()
	switch {
	case rejected > 0:
		return models.WorkflowRejected
	case approved >= wf.MinApprovers:
		return models.WorkflowApproved
	case pending == 0:
		return models.WorkflowRejected
	default:
		return models.WorkflowPending
	}
}

// Submit записывает решение согласующего и пересчитывает статус.
// Повтор того же решения ничего не меняет; новое решение заменяет прежнее.
func (e *Engine) Submit(
	ctx context.Context,
	workflowID uuid.UUID,
	approver string,
	decision models.ApprovalStatus,
	comment string,
) (*models.ApprovalWorkflow, error) {
	if decision != models.ApprovalApproved && decision != models.ApprovalRejected {
		return nil, apperr.Validation("решение должно быть approved или rejected, получено %q", decision)
	}

	for attempt := 0; ; attempt++ {
		wf, err := e.submit(ctx, workflowID, approver, decision, comment)
		if err == nil || !errors.Is(err, apperr.ErrConcurrencyConflict) || attempt >= maxUpdateRetries {
			return wf, err
		}
		e.log.Debug().Str("workflow_id", workflowID.String()).Msg("Процесс изменён параллельно, повтор")
	}
}

func (e *Engine) submit(
	ctx context.Context,
	workflowID uuid.UUID,
	approver string,
	decision models.ApprovalStatus,
	comment string,
) (*models.ApprovalWorkflow, error) {
	wf, err := e.store.GetApprovalWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	now := e.now()

	if wf.Status == models.WorkflowPending && wf.Deadline != nil && now.After(*wf.Deadline) {
		if err = e.transition(ctx, wf, models.WorkflowExpired, now); err != nil {
			return nil, err
		}
	}
	if wf.Status == models.WorkflowExpired {
		return nil, fmt.Errorf("%w: %s", apperr.ErrWorkflowExpired, wf.ID)
	}

	a, ok := wf.Approval(approver)
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperr.ErrNotAnApprover, approver)
	}
	if a.Status == decision && a.Comment == comment {
		return wf, nil
	}
	if wf.Status != models.WorkflowPending {
		return nil, apperr.Validation("согласование уже завершено со статусом %s", wf.Status)
	}

	a.Status = decision
	a.Comment = comment
	a.DecidedAt = &now

	next := Evaluate(wf)
	if next == models.WorkflowPending {
		if err = e.store.UpdateApprovalWorkflow(ctx, wf); err != nil {
			return nil, err
		}
		return wf, nil
	}
	if err = e.transition(ctx, wf, next, now); err != nil {
		return nil, err
	}
	return wf, nil
}

// transition атомарно сохраняет финальный статус процесса и статус версии, затем уведомляет.
// Просроченное согласование статус версии не трогает.
func (e *Engine) transition(ctx context.Context, wf *models.ApprovalWorkflow, status models.WorkflowStatus, now time.Time) error {
	var versionStatus models.VersionStatus
	switch status {
	case models.WorkflowApproved:
		versionStatus = models.VersionStatusApproved
	case models.WorkflowRejected:
		versionStatus = models.VersionStatusRejected
	}

	prevStatus, prevCompleted := wf.Status, wf.CompletedAt
	wf.Status = status
	wf.CompletedAt = &now
	if err := e.store.CompleteApprovalWorkflow(ctx, wf, versionStatus); err != nil {
		wf.Status, wf.CompletedAt = prevStatus, prevCompleted
		return err
	}
	e.metrics.RecordWorkflowTransition(string(status))
	e.log.Info().
		Str("workflow_id", wf.ID.String()).
		Str("version_id", wf.VersionID.String()).
		Str("status", string(status)).
		Msg("Статус согласования изменён")

	if err := e.notifier.NotifyWorkflowUpdate(ctx, wf.ID, status); err != nil {
		e.log.Warn().Err(err).Str("workflow_id", wf.ID.String()).Msg("Не удалось отправить уведомление")
	}
	return nil
}

// SweepExpired переводит в expired ожидающие процессы с наступившим сроком.
// Повторный запуск ничего не меняет: выбираются только процессы в pending.
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	now := e.now()
	list, err := e.store.ListExpiredWorkflows(ctx, now)
	if err != nil {
		return 0, err
	}
	return e.sweep(ctx, "expired", list, func(*models.ApprovalWorkflow) models.WorkflowStatus {
		return models.WorkflowExpired
	}, now)
}

// SweepAutoApprovals одобряет оставшиеся решения процессов, чьё время автоодобрения наступило.
func (e *Engine) SweepAutoApprovals(ctx context.Context) (int, error) {
	now := e.now()
	list, err := e.store.ListAutoApprovableWorkflows(ctx, now)
	if err != nil {
		return 0, err
	}
	return e.sweep(ctx, "auto_approve", list, func(wf *models.ApprovalWorkflow) models.WorkflowStatus {
		if wf.Deadline != nil && now.After(*wf.Deadline) {
			return models.WorkflowExpired
		}
		for i := range wf.Approvals {
			if wf.Approvals[i].Status == models.ApprovalPending {
				wf.Approvals[i].Status = models.ApprovalApproved
				wf.Approvals[i].Comment = AutoApprovedComment
				wf.Approvals[i].DecidedAt = &now
			}
		}
		return Evaluate(wf)
	}, now)
}

// sweep применяет decide к каждому процессу. Процесс, изменённый параллельно, пропускается:
// его уже перевёл другой участник.
func (e *Engine) sweep(
	ctx context.Context,
	name string,
	list []models.ApprovalWorkflow,
	decide func(wf *models.ApprovalWorkflow) models.WorkflowStatus,
	now time.Time,
) (int, error) {
	var (
		transitioned int
		errs         []error
	)
	for i := range list {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		wf := &list[i]
		err := e.transition(ctx, wf, decide(wf), now)
		switch {
		case err == nil:
			transitioned++
		case errors.Is(err, apperr.ErrConcurrencyConflict):
			e.log.Debug().Str("workflow_id", wf.ID.String()).Str("sweep", name).Msg("Процесс уже изменён, пропуск")
		default:
			e.log.Error().Err(err).Str("workflow_id", wf.ID.String()).Str("sweep", name).Msg("Ошибка обхода")
			errs = append(errs, err)
		}
	}
	e.metrics.RecordSweep(name, transitioned)
	if transitioned > 0 {
		e.log.Info().Str("sweep", name).Int("transitioned", transitioned).Msg("Обход согласований выполнен")
	}
	return transitioned, errors.Join(errs...)
}
