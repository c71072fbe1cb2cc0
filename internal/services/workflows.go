package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/maynagashev/assetkeeper/internal/models"
)

// SubmitApproval записывает решение согласующего.
func (s *versionControlService) SubmitApproval(
	ctx context.Context,
	workflowID uuid.UUID,
	approver string,
	decision models.ApprovalStatus,
	comment string,
) (wf *models.ApprovalWorkflow, err error) {
	defer func(start time.Time) { s.observe("submit_approval", start, err) }(time.Now())

	return s.approvals.Submit(ctx, workflowID, approver, decision, comment)
}

// GetWorkflow возвращает процесс согласования.
func (s *versionControlService) GetWorkflow(ctx context.Context, id uuid.UUID) (wf *models.ApprovalWorkflow, err error) {
	defer func(start time.Time) { s.observe("get_workflow", start, err) }(time.Now())

	return s.approvals.Get(ctx, id)
}

// SweepExpired переводит просроченные процессы в expired.
func (s *versionControlService) SweepExpired(ctx context.Context) (n int, err error) {
	defer func(start time.Time) { s.observe("sweep_expired", start, err) }(time.Now())

	return s.approvals.SweepExpired(ctx)
}

// SweepAutoApprovals одобряет процессы, чьё время автоодобрения наступило.
func (s *versionControlService) SweepAutoApprovals(ctx context.Context) (n int, err error) {
	defer func(start time.Time) { s.observe("sweep_auto_approvals", start, err) }(time.Now())

	return s.approvals.SweepAutoApprovals(ctx)
}
