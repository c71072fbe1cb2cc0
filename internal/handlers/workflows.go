package handlers

import (
	"net/http"

	"github.com/maynagashev/assetkeeper/internal/models"
)

// GetWorkflow обрабатывает GET /workflows/{id}.
func (h *Handler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	wf, err := h.svc.GetWorkflow(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

type decisionRequest struct {
	Decision models.ApprovalStatus `json:"decision"`
	Comment  string                `json:"comment"`
}

// SubmitApproval обрабатывает POST /workflows/{id}/decisions. Согласующий - текущий пользователь.
func (h *Handler) SubmitApproval(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, err := uuidParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req decisionRequest
	if err = h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	wf, err := h.svc.SubmitApproval(r.Context(), id, actor, req.Decision, req.Comment)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}
