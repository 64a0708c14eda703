package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"energy-allocation/internal/allocation/application"
	allocation "energy-allocation/internal/allocation/domain"
	"energy-allocation/internal/auth"
	"energy-allocation/internal/reporting"
)

// Handler exposes allocation runs, overrides and reports over HTTP.
type Handler struct {
	service *application.Service
	log     zerolog.Logger
}

// NewHandler constructs a handler.
func NewHandler(service *application.Service, log zerolog.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("allocation handler: nil service")
	}
	return &Handler{service: service, log: log.With().Str("handler", "allocation").Logger()}, nil
}

// Routes mounts the handler under r. Paths are relative to /api/v1.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/allocations", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/calculate", h.handleCalculate)
		r.Post("/overrides", h.handleOverrides)
		r.Get("/validate", h.handleValidate)
		r.Post("/preview", h.handlePreview)
	})
	r.Route("/reports", func(r chi.Router) {
		r.Get("/banking", h.handleBankingReport)
		r.Get("/consumption", h.handleConsumptionReport)
		r.Get("/site-totals", h.handleSiteTotals)
		r.Get("/oa-charges", h.handleOACharges)
	})
}

type calculateRequest struct {
	CompanyID string `json:"companyId"`
	Month     string `json:"month"`
	Year      int    `json:"year"`
}

type overrideRequest struct {
	CompanyID string             `json:"companyId"`
	Month     string             `json:"month"`
	Year      int                `json:"year"`
	Overrides map[string]float64 `json:"overrides"`
}

type previewRequest struct {
	Month             string              `json:"month"`
	Year              int                 `json:"year"`
	ProductionUnits   []allocation.Record `json:"productionUnits"`
	ConsumptionUnits  []allocation.Record `json:"consumptionUnits"`
	BankingUnits      []allocation.Record `json:"bankingUnits"`
	Shareholdings     []allocation.Record `json:"shareholdings"`
	ManualAllocations allocation.Record   `json:"manualAllocations"`
}

type runResponse struct {
	RunID        string                      `json:"runId"`
	CompanyID    string                      `json:"companyId"`
	Month        string                      `json:"month"`
	Trigger      string                      `json:"trigger"`
	CalculatedAt string                      `json:"calculatedAt"`
	Allocations  []map[string]any            `json:"allocations"`
	Balances     []allocation.BankingBalance `json:"balances,omitempty"`
	Warnings     []allocation.Warning        `json:"warnings,omitempty"`
}

func (h *Handler) handleCalculate(w http.ResponseWriter, r *http.Request) {
	var req calculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	month, err := allocation.ResolveMonthKey(req.Month, req.Year)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	if err := auth.EnsureCompany(r.Context(), req.CompanyID); err != nil {
		h.respondServiceError(w, err)
		return
	}
	run, err := h.service.Calculate(r.Context(), req.CompanyID, month, accessFrom(r))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newRunResponse(run))
}

func (h *Handler) handleOverrides(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	month, err := allocation.ResolveMonthKey(req.Month, req.Year)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	if err := auth.EnsureCompany(r.Context(), req.CompanyID); err != nil {
		h.respondServiceError(w, err)
		return
	}

	edits := make(allocation.ManualAllocations, len(req.Overrides))
	var malformed []string
	for raw, value := range req.Overrides {
		key, ok := allocation.ParseManualKey(raw)
		if !ok {
			malformed = append(malformed, raw)
			continue
		}
		edits[key] = value
	}
	if len(malformed) > 0 {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": "override keys must be productionSiteId_consumptionSiteId_period",
			"keys":  malformed,
		})
		return
	}

	run, err := h.service.ApplyOverrides(r.Context(), req.CompanyID, month, edits, accessFrom(r))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newRunResponse(run))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	companyID, month, ok := h.companyMonth(w, r)
	if !ok {
		return
	}
	list, err := h.service.List(r.Context(), companyID, month)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	access := accessFrom(r)
	out := make([]map[string]any, 0, len(list))
	for _, p := range list {
		if !visible(access, p) {
			continue
		}
		out = append(out, p.Attributes())
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"allocations": out})
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	companyID, month, ok := h.companyMonth(w, r)
	if !ok {
		return
	}
	violations, err := h.service.Validate(r.Context(), companyID, month)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	if violations == nil {
		violations = []allocation.Violation{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"valid":      !allocation.HasErrors(violations),
		"violations": violations,
	})
}

func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := h.service.Preview(application.PreviewRequest{
		Month:             req.Month,
		Year:              req.Year,
		ProductionUnits:   req.ProductionUnits,
		ConsumptionUnits:  req.ConsumptionUnits,
		BankingUnits:      req.BankingUnits,
		Shareholdings:     req.Shareholdings,
		ManualAllocations: req.ManualAllocations,
	}, accessFrom(r))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleBankingReport(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.company(w, r)
	if !ok {
		return
	}
	raw := r.URL.Query().Get("financial_year")
	fy, err := strconv.Atoi(strings.SplitN(raw, "-", 2)[0])
	if err != nil || fy < 1000 {
		h.writeError(w, http.StatusBadRequest, "financial_year must be a starting year such as 2024 or 2024-2025")
		return
	}
	report, err := h.service.BankingReport(r.Context(), companyID, fy)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"financialYear": allocation.FinancialYearLabel(fy), "sites": report})
}

func (h *Handler) handleConsumptionReport(w http.ResponseWriter, r *http.Request) {
	companyID, month, ok := h.companyMonth(w, r)
	if !ok {
		return
	}
	views, err := h.service.ConsumptionReport(r.Context(), companyID, month, accessFrom(r))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"month": month.String(), "sites": views})
}

func (h *Handler) handleSiteTotals(w http.ResponseWriter, r *http.Request) {
	companyID, month, ok := h.companyMonth(w, r)
	if !ok {
		return
	}
	totals, err := h.service.SiteTotals(r.Context(), companyID, month)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"month": month.String(), "sites": totals})
}

func (h *Handler) handleOACharges(w http.ResponseWriter, r *http.Request) {
	companyID, month, ok := h.companyMonth(w, r)
	if !ok {
		return
	}
	report, err := h.service.OAChargeReport(r.Context(), companyID, month)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

func (h *Handler) company(w http.ResponseWriter, r *http.Request) (string, bool) {
	companyID := strings.TrimSpace(r.URL.Query().Get("company_id"))
	if companyID == "" {
		h.writeError(w, http.StatusBadRequest, "company_id is required")
		return "", false
	}
	if err := auth.EnsureCompany(r.Context(), companyID); err != nil {
		h.respondServiceError(w, err)
		return "", false
	}
	return companyID, true
}

func (h *Handler) companyMonth(w http.ResponseWriter, r *http.Request) (string, allocation.MonthKey, bool) {
	companyID, ok := h.company(w, r)
	if !ok {
		return "", "", false
	}
	year, _ := strconv.Atoi(r.URL.Query().Get("year"))
	month, err := allocation.ResolveMonthKey(r.URL.Query().Get("month"), year)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "month must be MMYYYY, YYYY-MM or a month number with year")
		return "", "", false
	}
	return companyID, month, true
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrCompanyMismatch):
		h.writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, application.ErrCompanyRequired),
		errors.Is(err, application.ErrNoOverrides),
		errors.Is(err, allocation.ErrInvalidMonth),
		errors.Is(err, allocation.ErrInvalidType):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, allocation.ErrProductionSiteNotFound),
		errors.Is(err, allocation.ErrMissingCompanyID),
		errors.Is(err, allocation.ErrMissingConsumptionSite):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, reporting.ErrNoChargeTable):
		h.writeError(w, http.StatusNotFound, err.Error())
	default:
		h.log.Error().Err(err).Msg("allocation request failed")
		h.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// accessFrom returns the caller identity as site access. Unauthenticated
// requests only reach here when the auth middleware is disabled.
func accessFrom(r *http.Request) allocation.SiteAccess {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		return identity
	}
	return allocation.AllowAllSites{}
}

func visible(access allocation.SiteAccess, p application.Payload) bool {
	if !access.HasSiteAccess(p.ProductionSiteID, allocation.SiteTypeProduction) {
		return false
	}
	return p.ConsumptionSiteID == "" || access.HasSiteAccess(p.ConsumptionSiteID, allocation.SiteTypeConsumption)
}

func newRunResponse(run *application.Run) runResponse {
	rows := make([]map[string]any, 0, len(run.Payloads))
	for _, p := range run.Payloads {
		rows = append(rows, p.Attributes())
	}
	return runResponse{
		RunID:        run.ID,
		CompanyID:    run.CompanyID,
		Month:        run.Month.String(),
		Trigger:      run.Trigger,
		CalculatedAt: run.CalculatedAt.Format(time.RFC3339),
		Allocations:  rows,
		Balances:     run.Result.Balances,
		Warnings:     run.Result.Warnings,
	}
}
