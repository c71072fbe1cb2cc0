// Package handlers - HTTP API над VersionControlService.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/maynagashev/assetkeeper/internal/apperr"
	"github.com/maynagashev/assetkeeper/internal/logger"
	"github.com/maynagashev/assetkeeper/internal/middleware"
	"github.com/maynagashev/assetkeeper/internal/models"
	"github.com/maynagashev/assetkeeper/internal/services"
)

// DefaultMaxBodyBytes - лимит тела запроса по умолчанию.
const DefaultMaxBodyBytes = 16 << 20

// Handler обрабатывает HTTP-запросы к версиям, веткам, запросам на слияние и согласованиям.
type Handler struct {
	svc          services.VersionControlService
	log          *logger.Logger
	maxBodyBytes int64
}

// NewHandler создает обработчик.
func NewHandler(svc services.VersionControlService, log *logger.Logger, maxBodyBytes int64) *Handler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &Handler{svc: svc, log: log.Component("handlers"), maxBodyBytes: maxBodyBytes}
}

// Routes регистрирует маршруты. Все они требуют пользователя в контексте.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/assets/{assetID}", func(r chi.Router) {
		r.Get("/versions", h.ListVersions)
		r.Post("/versions", h.CreateVersion)
		r.Post("/rollback", h.Rollback)
		r.Get("/branches", h.ListBranches)
		r.Post("/branches", h.CreateBranch)
		r.Get("/branches/{name}", h.GetBranch)
		r.Get("/merge-requests", h.ListMergeRequests)
		r.Post("/merge-requests", h.CreateMergeRequest)
	})

	r.Post("/buffers", h.UploadBuffer)

	r.Route("/versions", func(r chi.Router) {
		r.Get("/compare", h.CompareVersions)
		r.Get("/{id}", h.GetVersion)
		r.Get("/{id}/content", h.GetContent)
		r.Post("/{id}/archive", h.ArchiveVersion)
		r.Get("/{id}/tags", h.ListTags)
		r.Post("/{id}/tags", h.CreateTag)
	})

	r.Route("/merge-requests/{id}", func(r chi.Router) {
		r.Get("/", h.GetMergeRequest)
		r.Post("/conflicts/{conflictID}/resolve", h.ResolveConflict)
		r.Post("/reviews", h.Review)
		r.Post("/comments", h.AddComment)
		r.Post("/close", h.CloseMergeRequest)
		r.Post("/merge", h.Merge)
	})

	r.Route("/workflows/{id}", func(r chi.Router) {
		r.Get("/", h.GetWorkflow)
		r.Post("/decisions", h.SubmitApproval)
	})
}

// errorResponse - тело ответа с ошибкой.
type errorResponse struct {
	Error     string            `json:"error"`
	Message   string            `json:"message"`
	Conflicts []models.Conflict `json:"conflicts,omitempty"`
}

var statusByKind = map[string]int{
	"not_found":              http.StatusNotFound,
	"already_exists":         http.StatusConflict,
	"validation_error":       http.StatusBadRequest,
	"unresolved_conflicts":   http.StatusConflict,
	"no_common_ancestor":     http.StatusUnprocessableEntity,
	"concurrency_conflict":   http.StatusConflict,
	"not_an_approver":        http.StatusForbidden,
	"insufficient_approvals": http.StatusPreconditionFailed,
	"workflow_expired":       http.StatusGone,
}

// writeError переводит вид ошибки в HTTP-статус. Внутренние ошибки не раскрываются клиенту.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.Kind(err)
	status, ok := statusByKind[kind]
	if !ok {
		h.log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("Внутренняя ошибка")
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error: kind, Message: "Внутренняя ошибка сервера",
		})
		return
	}
	resp := errorResponse{Error: kind, Message: err.Error()}
	if conflicts, found := apperr.ConflictsOf(err); found {
		resp.Conflicts = conflicts
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// decode читает JSON-тело с ограничением размера.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.Validation("тело запроса больше %d байт", tooLarge.Limit)
		}
		return apperr.Validation("некорректный JSON: %v", err)
	}
	return nil
}

// actor возвращает пользователя из контекста; без него запрос не должен был пройти аутентификацию.
func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (string, bool) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		h.log.Error().Str("path", r.URL.Path).Msg("Не удалось получить пользователя из контекста")
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Message: "Требуется аутентификация"})
	}
	return actor, ok
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, apperr.Validation("некорректный идентификатор %s", name)
	}
	return id, nil
}

func intQuery(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Validation("параметр %s должен быть числом", name)
	}
	return n, nil
}

func uuidQuery(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.URL.Query().Get(name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: параметр %s", apperr.ErrValidation, name)
	}
	return id, nil
}
