package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/maynagashev/assetkeeper/internal/services"
)

type createBranchRequest struct {
	Name          string    `json:"name"`
	BaseVersionID uuid.UUID `json:"base_version_id"`
	Protected     bool      `json:"protected"`
}

// CreateBranch обрабатывает POST /assets/{assetID}/branches.
func (h *Handler) CreateBranch(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req createBranchRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	b, err := h.svc.CreateBranch(r.Context(), services.CreateBranchInput{
		AssetID:       chi.URLParam(r, "assetID"),
		Name:          req.Name,
		BaseVersionID: req.BaseVersionID,
		Creator:       actor,
		Protected:     req.Protected,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// GetBranch обрабатывает GET /assets/{assetID}/branches/{name}.
func (h *Handler) GetBranch(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.GetBranch(r.Context(), chi.URLParam(r, "assetID"), chi.URLParam(r, "name"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// ListBranches обрабатывает GET /assets/{assetID}/branches.
func (h *Handler) ListBranches(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListBranches(r.Context(), chi.URLParam(r, "assetID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
