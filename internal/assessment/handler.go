package assessment

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/atlaslending/provisioning/internal/platform/httpx"
	"github.com/atlaslending/provisioning/internal/shared"
)

// Handler wires HTTP endpoints for risk assessments.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers assessment routes under a case scope.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{assessmentID}", h.get)
	r.Put("/{assessmentID}", h.update)
	r.Delete("/{assessmentID}", h.delete)
}

func caseIDParam(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "caseID"))
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	caseID, err := caseIDParam(r)
	if err != nil {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}
	var req assessmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input, err := req.toInput(actorFrom(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	created, err := h.service.Create(r.Context(), caseID, input)
	if err != nil {
		h.logger.Error("create assessment", slog.Any("error", err), slog.String("case_id", caseID.String()))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(created))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	caseID, err := caseIDParam(r)
	if err != nil {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "assessmentID"))
	if err != nil {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}
	a, err := h.service.Get(r.Context(), caseID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(a))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	caseID, err := caseIDParam(r)
	if err != nil {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}
	page, perPage := shared.PageFromQuery(r.URL.Query())
	assessments, pagination, err := h.service.List(r.Context(), caseID, page, perPage)
	if err != nil {
		h.logger.Error("list assessments", slog.Any("error", err), slog.String("case_id", caseID.String()))
		httpx.RespondError(w, err)
		return
	}
	items := make([]assessmentResponse, 0, len(assessments))
	for _, a := range assessments {
		items = append(items, toResponse(a))
	}
	httpx.JSON(w, http.StatusOK, listResponse{Items: items, Pagination: pagination})
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	caseID, err := caseIDParam(r)
	if err != nil {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "assessmentID"))
	if err != nil {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}
	var req assessmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input, err := req.toInput(actorFrom(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	updated, err := h.service.Update(r.Context(), caseID, id, input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(updated))
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	caseID, err := caseIDParam(r)
	if err != nil {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "assessmentID"))
	if err != nil {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}
	if err := h.service.Delete(r.Context(), caseID, id, actorFrom(r)); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// actorFrom identifies the caller recorded in the audit trail. Identity is
// supplied by the surrounding service boundary, not verified here.
func actorFrom(r *http.Request) string {
	if actor := r.Header.Get("X-Actor"); actor != "" {
		return actor
	}
	return "system"
}
