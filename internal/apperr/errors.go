// Package apperr содержит виды ошибок, по которым вызывающий решает: повторить, разрешить или прервать.
package apperr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/maynagashev/assetkeeper/internal/models"
)

// Виды ошибок. Ошибки слоёв оборачивают их через %w.
var (
	ErrNotFound              = errors.New("не найдено")
	ErrAlreadyExists         = errors.New("уже существует")
	ErrValidation            = errors.New("ошибка валидации")
	ErrUnresolvedConflicts   = errors.New("есть неразрешённые конфликты")
	ErrNoCommonAncestor      = errors.New("нет общего предка")
	ErrConcurrencyConflict   = errors.New("конфликт параллельного обновления")
	ErrNotAnApprover         = errors.New("пользователь не входит в список согласующих")
	ErrInsufficientApprovals = errors.New("недостаточно согласований")
	ErrWorkflowExpired       = errors.New("срок согласования истёк")
)

// Validation создаёт ошибку валидации с описанием.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// UnresolvedConflictsError несёт список конфликтов, блокирующих слияние.
type UnresolvedConflictsError struct {
	Conflicts []models.Conflict
}

// Error реализует error.
func (e *UnresolvedConflictsError) Error() string {
	paths := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		paths = append(paths, string(c.Type)+":"+c.Path)
	}
	return fmt.Sprintf("%s (%d): %s", ErrUnresolvedConflicts.Error(), len(e.Conflicts), strings.Join(paths, ", "))
}

// Is позволяет проверять ошибку через errors.Is(err, ErrUnresolvedConflicts).
func (e *UnresolvedConflictsError) Is(target error) bool {
	return target == ErrUnresolvedConflicts
}

// Unresolved возвращает ошибку с конфликтами.
func Unresolved(conflicts []models.Conflict) error {
	return &UnresolvedConflictsError{Conflicts: conflicts}
}

// ConflictsOf извлекает конфликты из ошибки, если она их несёт.
func ConflictsOf(err error) ([]models.Conflict, bool) {
	var uc *UnresolvedConflictsError
	if errors.As(err, &uc) {
		return uc.Conflicts, true
	}
	return nil, false
}

// Kind возвращает имя вида ошибки для логов, метрик и HTTP-ответов.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrUnresolvedConflicts):
		return "unresolved_conflicts"
	case errors.Is(err, ErrNoCommonAncestor):
		return "no_common_ancestor"
	case errors.Is(err, ErrConcurrencyConflict):
		return "concurrency_conflict"
	case errors.Is(err, ErrNotAnApprover):
		return "not_an_approver"
	case errors.Is(err, ErrInsufficientApprovals):
		return "insufficient_approvals"
	case errors.Is(err, ErrWorkflowExpired):
		return "workflow_expired"
	default:
		return "internal"
	}
}
