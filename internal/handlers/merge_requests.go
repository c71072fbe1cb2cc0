package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/maynagashev/assetkeeper/internal/models"
	"github.com/maynagashev/assetkeeper/internal/services"
	"github.com/maynagashev/assetkeeper/internal/versioning"
)

type createMergeRequestRequest struct {
	SourceBranch string   `json:"source_branch"`
	TargetBranch string   `json:"target_branch"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Reviewers    []string `json:"reviewers"`
}

// CreateMergeRequest обрабатывает POST /assets/{assetID}/merge-requests.
func (h *Handler) CreateMergeRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req createMergeRequestRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	mr, err := h.svc.CreateMergeRequest(r.Context(), services.CreateMergeRequestInput{
		AssetID:      chi.URLParam(r, "assetID"),
		SourceBranch: req.SourceBranch,
		TargetBranch: req.TargetBranch,
		Title:        req.Title,
		Description:  req.Description,
		Author:       actor,
		Reviewers:    req.Reviewers,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, mr)
}

// ListMergeRequests обрабатывает GET /assets/{assetID}/merge-requests?status=.
func (h *Handler) ListMergeRequests(w http.ResponseWriter, r *http.Request) {
	status := models.MergeRequestStatus(r.URL.Query().Get("status"))
	list, err := h.svc.ListMergeRequests(r.Context(), chi.URLParam(r, "assetID"), status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// GetMergeRequest обрабатывает GET /merge-requests/{id}.
func (h *Handler) GetMergeRequest(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	mr, err := h.svc.GetMergeRequest(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mr)
}

type resolveRequest struct {
	Strategy models.ResolutionStrategy `json:"strategy"`
	Custom   *models.ChangeValue       `json:"custom"`
}

// ResolveConflict обрабатывает POST /merge-requests/{id}/conflicts/{conflictID}/resolve.
func (h *Handler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, err := uuidParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	conflictID, err := uuidParam(r, "conflictID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req resolveRequest
	if err = h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	mr, err := h.svc.ResolveConflict(r.Context(), services.ResolveConflictInput{
		MergeRequestID: id,
		ConflictID:     conflictID,
		Strategy:       req.Strategy,
		Custom:         req.Custom,
		Actor:          actor,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mr)
}

type reviewRequest struct {
	Status  models.ReviewStatus `json:"status"`
	Comment string              `json:"comment"`
}

// Review обрабатывает POST /merge-requests/{id}/reviews. Ревьюер - текущий пользователь.
func (h *Handler) Review(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, err := uuidParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req reviewRequest
	if err = h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	mr, err := h.svc.ReviewMergeRequest(r.Context(), services.ReviewInput{
		MergeRequestID: id, Reviewer: actor, Status: req.Status, Comment: req.Comment,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mr)
}

type commentRequest struct {
	Body string `json:"body"`
}

// AddComment обрабатывает POST /merge-requests/{id}/comments.
func (h *Handler) AddComment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, err := uuidParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req commentRequest
	if err = h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	c, err := h.svc.AddComment(r.Context(), id, actor, req.Body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// CloseMergeRequest обрабатывает POST /merge-requests/{id}/close.
func (h *Handler) CloseMergeRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, err := uuidParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	mr, err := h.svc.CloseMergeRequest(r.Context(), id, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mr)
}

type mergeRequestBody struct {
	Strategy models.MergeStrategy `json:"strategy"`
	Message  string               `json:"message"`
	Bump     versioning.Bump      `json:"bump"`
}

// Merge обрабатывает POST /merge-requests/{id}/merge. Пустое тело - слияние по умолчанию.
func (h *Handler) Merge(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, err := uuidParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req mergeRequestBody
	if r.ContentLength != 0 {
		if err = h.decode(w, r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	v, err := h.svc.MergeBranches(r.Context(), services.MergeInput{
		MergeRequestID: id,
		Actor:          actor,
		Strategy:       req.Strategy,
		Message:        req.Message,
		Bump:           req.Bump,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}
