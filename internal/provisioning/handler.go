package provisioning

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/atlaslending/provisioning/internal/ecl"
	"github.com/atlaslending/provisioning/internal/ledger"
	"github.com/atlaslending/provisioning/internal/platform/httpx"
	"github.com/atlaslending/provisioning/internal/shared"
	"github.com/atlaslending/provisioning/internal/staging"
)

// RouteMounter attaches child routes under a case.
type RouteMounter interface {
	MountRoutes(r chi.Router)
}

// Handler wires HTTP endpoints for provisioning cases and their children.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	idempotency *shared.IdempotencyStore
	assessments RouteMounter
	validator   *validator.Validate
}

// NewHandler constructs a Handler instance. idempotency and assessments may
// be nil.
func NewHandler(logger *slog.Logger, service *Service, idempotency *shared.IdempotencyStore, assessments RouteMounter) *Handler {
	return &Handler{logger: logger, service: service, idempotency: idempotency, assessments: assessments, validator: validator.New()}
}

// MountRoutes registers case routes. Calculation runs get a tighter rate
// limit keyed by case, since each run is a full unit of work.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listCases)
	r.Post("/", h.createCase)
	r.Route("/{caseID}", func(r chi.Router) {
		r.Get("/", h.getCase)
		r.Put("/", h.updateCase)
		r.Delete("/", h.deleteCase)

		runLimiter := httprate.Limit(30, time.Minute, httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return chi.URLParam(r, "caseID"), nil
		}))
		r.With(runLimiter).Post("/calculations", h.runCalculation)
		r.Get("/calculations", h.listCalculations)
		r.Get("/calculations/{calcID}", h.getCalculation)
		r.Get("/calculations/{calcID}/journal", h.listCalculationJournal)

		r.Get("/journal", h.listJournal)
		r.Post("/journal/{entryID}/reverse", h.reverseJournal)

		r.Get("/stage-history", h.listStageHistory)
		r.Get("/stage-history/export", h.exportStageHistory)

		if h.assessments != nil {
			r.Route("/assessments", h.assessments.MountRoutes)
		}
	})
}

func (h *Handler) createCase(w http.ResponseWriter, r *http.Request) {
	var req createCaseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	servicingID, err := uuid.Parse(req.ServicingCaseID)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "servicingCaseId is not a UUID")
		return
	}
	created, err := h.service.CreateCase(r.Context(), CreateCaseInput{
		ServicingCaseID: servicingID,
		Stage:           staging.StageCode(req.StageCode),
		RiskGrade:       RiskGrade(req.RiskGrade),
		Status:          ProvisioningStatus(req.Status),
		Remarks:         req.Remarks,
	})
	if err != nil {
		h.logger.Error("create case", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toCaseResponse(created))
}

func (h *Handler) getCase(w http.ResponseWriter, r *http.Request) {
	caseID, err := uuid.Parse(chi.URLParam(r, "caseID"))
	if err != nil {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}
	c, err := h.service.GetCase(r.Context(), caseID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toCaseResponse(c))
}

func (h *Handler) listCases(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, perPage := shared.PageFromQuery(q)
	cases, pagination, err := h.service.ListCases(r.Context(), ListCasesRequest{
		Stage:   q.Get("stage"),
		Status:  q.Get("status"),
		Page:    page,
		PerPage: perPage,
	})
	if err != nil {
		h.logger.Error("list cases", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	items := make([]caseResponse, 0, len(cases))
	for _, c := range cases {
		items = append(items, toCaseResponse(c))
	}
	httpx.JSON(w, http.StatusOK, caseListResponse{Items: items, Pagination: pagination})
}

func (h *Handler) updateCase(w http.ResponseWriter, r *http.Request) {
	caseID, err := uuid.Parse(chi.URLParam(r, "caseID"))
	if err != nil {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}
	var req updateCaseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	updated, err := h.service.UpdateCase(r.Context(), caseID, UpdateCaseInput{
		RiskGrade: RiskGrade(req.RiskGrade),
		Status:    ProvisioningStatus(req.Status),
		Remarks:   req.Remarks,
		Actor:     actorFrom(r),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toCaseResponse(updated))
}

func (h *Handler) deleteCase(w http.ResponseWriter, r *http.Request) {
	caseID, err := uuid.Parse(chi.URLParam(r, "caseID"))
	if err != nil {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}
	if err := h.service.DeleteCase(r.Context(), caseID, actorFrom(r)); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) runCalculation(w http.ResponseWriter, r *http.Request) {
	caseID, err := uuid.Parse(chi.URLParam(r, "caseID"))
	if err != nil {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}
	var req runCalculationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	assessmentID, err := uuid.Parse(req.AssessmentID)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "riskAssessmentId is not a UUID")
		return
	}

	idemKey := r.Header.Get("Idempotency-Key")
	if h.idempotency != nil && idemKey != "" {
		if err := h.idempotency.CheckAndInsert(r.Context(), idemKey, "provisioning.calculation"); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}

	input := RunCalculationInput{
		CaseID:       caseID,
		AssessmentID: assessmentID,
		Method:       ecl.CalcMethod(req.CalcMethod),
		Notes:        req.Notes,
		StageReason:  req.StageReason,
		Actor:        actorFrom(r),
	}
	if req.NewStageCode != "" {
		stage := staging.StageCode(req.NewStageCode)
		input.NewStage = &stage
	}

	result, err := h.service.RunCalculation(r.Context(), input)
	if err != nil {
		// Release the key so the caller can retry after fixing the request.
		if h.idempotency != nil && idemKey != "" && !errors.Is(err, shared.ErrIdempotencyConflict) {
			_ = h.idempotency.Delete(r.Context(), idemKey)
		}
		h.logger.Error("run calculation", slog.Any("error", err), slog.String("case_id", caseID.String()))
		httpx.RespondError(w, err)
		return
	}

	resp := runCalculationResponse{
		Case:        toCaseResponse(result.Case),
		Calculation: toCalculationResponse(result.Calculation),
	}
	if result.Journal != nil {
		j := toJournalResponse(*result.Journal)
		resp.Journal = &j
	}
	if result.StageChange != nil {
		sc := toStageHistoryResponse(*result.StageChange)
		resp.StageChange = &sc
	}
	httpx.JSON(w, http.StatusCreated, resp)
}

func (h *Handler) getCalculation(w http.ResponseWriter, r *http.Request) {
	caseID, calcID, ok := casePathIDs(r, "calcID")
	if !ok {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}
	c, err := h.service.GetCalculation(r.Context(), caseID, calcID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toCalculationResponse(c))
}

func (h *Handler) listCalculations(w http.ResponseWriter, r *http.Request) {
	caseID, err := uuid.Parse(chi.URLParam(r, "caseID"))
	if err != nil {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}
	page, perPage := shared.PageFromQuery(r.URL.Query())
	calcs, pagination, err := h.service.ListCalculations(r.Context(), caseID, page, perPage)
	if err != nil {
		h.logger.Error("list calculations", slog.Any("error", err), slog.String("case_id", caseID.String()))
		httpx.RespondError(w, err)
		return
	}
	items := make([]calculationResponse, 0, len(calcs))
	for _, c := range calcs {
		items = append(items, toCalculationResponse(c))
	}
	httpx.JSON(w, http.StatusOK, calculationListResponse{Items: items, Pagination: pagination})
}

func (h *Handler) listCalculationJournal(w http.ResponseWriter, r *http.Request) {
	caseID, calcID, ok := casePathIDs(r, "calcID")
	if !ok {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}
	entries, err := h.service.ListJournalForCalculation(r.Context(), caseID, calcID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, journalItems(entries))
}

func (h *Handler) listJournal(w http.ResponseWriter, r *http.Request) {
	caseID, err := uuid.Parse(chi.URLParam(r, "caseID"))
	if err != nil {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}
	entries, err := h.service.ListJournal(r.Context(), caseID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, journalItems(entries))
}

func (h *Handler) reverseJournal(w http.ResponseWriter, r *http.Request) {
	caseID, entryID, ok := casePathIDs(r, "entryID")
	if !ok {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}
	reversal, err := h.service.ReverseJournal(r.Context(), ReverseJournalInput{
		CaseID:  caseID,
		EntryID: entryID,
		Actor:   actorFrom(r),
	})
	if err != nil {
		h.logger.Error("reverse journal", slog.Any("error", err), slog.String("case_id", caseID.String()))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toJournalResponse(reversal))
}

func (h *Handler) listStageHistory(w http.ResponseWriter, r *http.Request) {
	caseID, err := uuid.Parse(chi.URLParam(r, "caseID"))
	if err != nil {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}
	history, err := h.service.ListStageHistory(r.Context(), caseID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items := make([]stageHistoryResponse, 0, len(history))
	for _, entry := range history {
		items = append(items, toStageHistoryResponse(entry))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func casePathIDs(r *http.Request, childParam string) (caseID, childID uuid.UUID, ok bool) {
	caseID, err := uuid.Parse(chi.URLParam(r, "caseID"))
	if err != nil {
		return uuid.Nil, uuid.Nil, false
	}
	childID, err = uuid.Parse(chi.URLParam(r, childParam))
	if err != nil {
		return uuid.Nil, uuid.Nil, false
	}
	return caseID, childID, true
}

func journalItems(entries []ledger.JournalEntry) map[string]any {
	items := make([]journalResponse, 0, len(entries))
	for _, e := range entries {
		items = append(items, toJournalResponse(e))
	}
	return map[string]any{"items": items}
}

// actorFrom identifies the caller recorded in the audit trail. Identity is
// supplied by the surrounding service boundary, not verified here.
func actorFrom(r *http.Request) string {
	if actor := r.Header.Get("X-Actor"); actor != "" {
		return actor
	}
	return "system"
}
