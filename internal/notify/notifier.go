// Package notify уведомляет ревьюеров и согласующих.
package notify

import (
	"context"

	"github.com/google/uuid"

	"github.com/maynagashev/assetkeeper/internal/logger"
	"github.com/maynagashev/assetkeeper/internal/models"
)

// Notifier доставляет уведомления. Ошибки доставки не прерывают вызвавшую операцию.
type Notifier interface {
	NotifyReviewers(ctx context.Context, mergeRequestID uuid.UUID, reviewerIDs []string) error
	NotifyWorkflowUpdate(ctx context.Context, workflowID uuid.UUID, status models.WorkflowStatus) error
}

// LogNotifier пишет уведомления в структурированный лог.
type LogNotifier struct {
	log *logger.Logger
}

var _ Notifier = (*LogNotifier)(nil)

// NewLogNotifier создаёт уведомитель в лог.
func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{log: log.Component("notifier")}
}

// NotifyReviewers пишет событие назначения ревьюеров.
func (n *LogNotifier) NotifyReviewers(_ context.Context, mergeRequestID uuid.UUID, reviewerIDs []string) error {
	n.log.Info().
		Str("event", "reviewers_assigned").
		Str("merge_request_id", mergeRequestID.String()).
		Strs("reviewers", reviewerIDs).
		Msg("Назначены ревьюеры")
	return nil
}

// NotifyWorkflowUpdate пишет событие смены статуса согласования.
func (n *LogNotifier) NotifyWorkflowUpdate(_ context.Context, workflowID uuid.UUID, status models.WorkflowStatus) error {
	n.log.Info().
		Str("event", "workflow_updated").
		Str("workflow_id", workflowID.String()).
		Str("status", string(status)).
		Msg("Статус согласования изменён")
	return nil
}
