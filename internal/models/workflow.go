package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WorkflowStatus - состояние процесса согласования.
type WorkflowStatus string

const (
	WorkflowPending  WorkflowStatus = "pending"
	WorkflowApproved WorkflowStatus = "approved"
	WorkflowRejected WorkflowStatus = "rejected"
	WorkflowExpired  WorkflowStatus = "expired"
)

// ApprovalStatus - решение отдельного согласующего.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Approval - решение одного согласующего.
type Approval struct {
	Approver  string         `json:"approver"`
	Status    ApprovalStatus `json:"status"`
	Comment   string         `json:"comment,omitempty"`
	DecidedAt *time.Time     `json:"decided_at,omitempty"`
}

// ApprovalList хранится в колонке approvals как JSON-массив.
type ApprovalList []Approval

// Value реализует driver.Valuer.
func (l ApprovalList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal([]Approval(l))
	if err != nil {
		return nil, fmt.Errorf("ошибка кодирования согласований: %w", err)
	}
	return string(data), nil
}

// Scan реализует sql.Scanner.
func (l *ApprovalList) Scan(src any) error {
	return scanJSON(src, l)
}

// ApprovalWorkflow - процесс согласования версии.
// Revision увеличивается при каждом сохранении и защищает от потерянных обновлений.
type ApprovalWorkflow struct {
	ID                uuid.UUID      `db:"id" json:"id"`
	VersionID         uuid.UUID      `db:"version_id" json:"version_id"`
	MergeRequestID    *uuid.UUID     `db:"merge_request_id" json:"merge_request_id,omitempty"`
	RequiredApprovers StringSet      `db:"required_approvers" json:"required_approvers"`
	MinApprovers      int            `db:"min_approvers" json:"min_approvers"`
	Approvals         ApprovalList   `db:"approvals" json:"approvals"`
	Status            WorkflowStatus `db:"status" json:"status"`
	Deadline          *time.Time     `db:"deadline" json:"deadline,omitempty"`
	AutoApproveAt     *time.Time     `db:"auto_approve_at" json:"auto_approve_at,omitempty"`
	Revision          int64          `db:"revision" json:"revision"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updated_at"`
	CompletedAt       *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
}

// Approval возвращает запись согласующего.
func (w *ApprovalWorkflow) Approval(approver string) (*Approval, bool) {
	for i := range w.Approvals {
		if w.Approvals[i].Approver == approver {
			return &w.Approvals[i], true
		}
	}
	return nil, false
}

// Counts возвращает число одобрений, отказов и ожидающих решений.
func (w *ApprovalWorkflow) Counts() (approved, rejected, pending int) {
	for _, a := range w.Approvals {
		switch a.Status {
		case ApprovalApproved:
			approved++
		case ApprovalRejected:
			rejected++
		default:
			pending++
		}
	}
	return approved, rejected, pending
}

// Clone возвращает копию с независимым списком согласований.
func (w *ApprovalWorkflow) Clone() *ApprovalWorkflow {
	c := *w
	c.RequiredApprovers = append(StringSet(nil), w.RequiredApprovers...)
	c.Approvals = append(ApprovalList(nil), w.Approvals...)
	return &c
}
