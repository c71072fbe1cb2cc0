package handlers

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/maynagashev/assetkeeper/internal/apperr"
	"github.com/maynagashev/assetkeeper/internal/models"
	"github.com/maynagashev/assetkeeper/internal/services"
	"github.com/maynagashev/assetkeeper/internal/versioning"
)

type createVersionRequest struct {
	Branch          string            `json:"branch"`
	Scene           *models.Scene     `json:"scene"`
	Message         string            `json:"message"`
	Tags            map[string]string `json:"tags"`
	Bump            versioning.Bump   `json:"bump"`
	ParentVersionID *uuid.UUID        `json:"parent_version_id"`
}

// CreateVersion обрабатывает POST /assets/{assetID}/versions.
func (h *Handler) CreateVersion(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req createVersionRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	v, err := h.svc.CreateVersion(r.Context(), services.CreateVersionInput{
		AssetID:        chi.URLParam(r, "assetID"),
		Branch:         req.Branch,
		Scene:          req.Scene,
		Author:         actor,
		Message:        req.Message,
		Tags:           req.Tags,
		Bump:           req.Bump,
		ParentOverride: req.ParentVersionID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

// ListVersions обрабатывает GET /assets/{assetID}/versions?branch=&limit=&offset=.
func (h *Handler) ListVersions(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	offset, err := intQuery(r, "offset")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	list, err := h.svc.ListVersions(r.Context(), chi.URLParam(r, "assetID"), r.URL.Query().Get("branch"), limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// GetVersion обрабатывает GET /versions/{id}.
func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	v, err := h.svc.GetVersion(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// GetContent обрабатывает GET /versions/{id}/content.
func (h *Handler) GetContent(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	scene, err := h.svc.GetContent(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, scene)
}

// UploadBuffer обрабатывает POST /buffers: тело запроса - сырые байты буфера.
func (h *Handler) UploadBuffer(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		h.writeError(w, r, apperr.Validation("не удалось прочитать буфер: %v", err))
		return
	}
	hash, err := h.svc.UploadBuffer(r.Context(), data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"hash": hash})
}

type rollbackRequest struct {
	Branch          string    `json:"branch"`
	TargetVersionID uuid.UUID `json:"target_version_id"`
	Reason          string    `json:"reason"`
}

// Rollback обрабатывает POST /assets/{assetID}/rollback.
func (h *Handler) Rollback(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req rollbackRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	v, err := h.svc.Rollback(r.Context(), services.RollbackInput{
		AssetID:         chi.URLParam(r, "assetID"),
		Branch:          req.Branch,
		TargetVersionID: req.TargetVersionID,
		Actor:           actor,
		Reason:          req.Reason,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

// CompareVersions обрабатывает GET /versions/compare?from=&to=.
func (h *Handler) CompareVersions(w http.ResponseWriter, r *http.Request) {
	from, err := uuidQuery(r, "from")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	to, err := uuidQuery(r, "to")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.svc.CompareVersions(r.Context(), from, to)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ArchiveVersion обрабатывает POST /versions/{id}/archive.
func (h *Handler) ArchiveVersion(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, err := uuidParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	v, err := h.svc.ArchiveVersion(r.Context(), id, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type createTagRequest struct {
	Name      string `json:"name"`
	IsRelease bool   `json:"is_release"`
}

// CreateTag обрабатывает POST /versions/{id}/tags.
func (h *Handler) CreateTag(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, err := uuidParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req createTagRequest
	if err = h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	tag, err := h.svc.CreateTag(r.Context(), services.CreateTagInput{
		VersionID: id, Name: req.Name, Creator: actor, IsRelease: req.IsRelease,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tag)
}

// ListTags обрабатывает GET /versions/{id}/tags.
func (h *Handler) ListTags(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	tags, err := h.svc.ListTags(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tags)
}
