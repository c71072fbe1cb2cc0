package models

import (
	"time"

	"github.com/google/uuid"
)

// MergeRequestStatus - статус запроса на слияние.
type MergeRequestStatus string

const (
	MergeRequestOpen     MergeRequestStatus = "open"
	MergeRequestMerged   MergeRequestStatus = "merged"
	MergeRequestClosed   MergeRequestStatus = "closed"
	MergeRequestConflict MergeRequestStatus = "conflict"
)

// ReviewStatus - статус ревьюера.
type ReviewStatus string

const (
	ReviewPending   ReviewStatus = "pending"
	ReviewApproved  ReviewStatus = "approved"
	ReviewRejected  ReviewStatus = "rejected"
	ReviewCommented ReviewStatus = "commented"
)

// Valid сообщает, что статус известен.
func (s ReviewStatus) Valid() bool {
	switch s {
	case ReviewPending, ReviewApproved, ReviewRejected, ReviewCommented:
		return true
	}
	return false
}

// MergeStrategy - стратегия слияния.
type MergeStrategy string

const (
	StrategyMerge  MergeStrategy = "merge"
	StrategySquash MergeStrategy = "squash"
	StrategyRebase MergeStrategy = "rebase"
)

// Valid сообщает, что стратегия известна.
func (s MergeStrategy) Valid() bool {
	switch s {
	case StrategyMerge, StrategySquash, StrategyRebase:
		return true
	}
	return false
}

// MergeRequest - запрос на слияние ветки SourceBranchID в TargetBranchID.
type MergeRequest struct {
	ID              uuid.UUID          `db:"id" json:"id"`
	AssetID         string             `db:"asset_id" json:"asset_id"`
	SourceBranchID  uuid.UUID          `db:"source_branch_id" json:"source_branch_id"`
	TargetBranchID  uuid.UUID          `db:"target_branch_id" json:"target_branch_id"`
	Title           string             `db:"title" json:"title"`
	Description     string             `db:"description" json:"description"`
	Status          MergeRequestStatus `db:"status" json:"status"`
	Author          string             `db:"author" json:"author"`
	WorkflowID      *uuid.UUID         `db:"workflow_id" json:"workflow_id,omitempty"`
	MergedBy        *string            `db:"merged_by" json:"merged_by,omitempty"`
	MergedAt        *time.Time         `db:"merged_at" json:"merged_at,omitempty"`
	MergedVersionID *uuid.UUID         `db:"merged_version_id" json:"merged_version_id,omitempty"`
	CreatedAt       time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time          `db:"updated_at" json:"updated_at"`

	Reviewers []Reviewer `db:"-" json:"reviewers"`
	Conflicts []Conflict `db:"-" json:"conflicts,omitempty"`
	Comments  []Comment  `db:"-" json:"comments,omitempty"`
}

// UnresolvedConflicts возвращает конфликты без решения.
func (mr *MergeRequest) UnresolvedConflicts() []Conflict {
	var out []Conflict
	for _, c := range mr.Conflicts {
		if !c.Resolved() {
			out = append(out, c)
		}
	}
	return out
}

// Reviewer возвращает ревьюера по идентификатору.
func (mr *MergeRequest) Reviewer(id string) (*Reviewer, bool) {
	for i := range mr.Reviewers {
		if mr.Reviewers[i].ReviewerID == id {
			return &mr.Reviewers[i], true
		}
	}
	return nil, false
}

// Reviewer - ревьюер запроса на слияние; Position задаёт порядок.
type Reviewer struct {
	MergeRequestID uuid.UUID    `db:"merge_request_id" json:"-"`
	ReviewerID     string       `db:"reviewer_id" json:"reviewer_id"`
	Position       int          `db:"position" json:"position"`
	Status         ReviewStatus `db:"status" json:"status"`
	UpdatedAt      time.Time    `db:"updated_at" json:"updated_at"`
}

// Comment - комментарий в обсуждении запроса на слияние.
type Comment struct {
	ID             uuid.UUID `db:"id" json:"id"`
	MergeRequestID uuid.UUID `db:"merge_request_id" json:"-"`
	Author         string    `db:"author" json:"author"`
	Body           string    `db:"body" json:"body"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
