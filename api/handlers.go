/*
handlers.go - HTTP API handlers for the incentive engine

PURPOSE:
  Exposes the incentive engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the engine and the field validator.

ENDPOINTS:
  Facilities:
    GET    /api/facilities                       List facilities
    GET    /api/facilities/{id}                  Facility details

  Field submissions:
    GET    /api/facilities/{id}/fields?month=    Read view (hidden dependents null)
    POST   /api/facilities/{id}/fields?month=    Validate and store a submission

  Remuneration:
    GET    /api/facilities/{id}/remuneration?month=              Snapshot (first call computes)
    GET    /api/facilities/{id}/performance?month=               Indicator results
    GET    /api/facilities/{id}/workers?month=                   Worker payouts
    POST   /api/facilities/{id}/remuneration/recalculate?month=  Replace snapshot

  Admin:
    POST   /api/admin/sweep                      Bulk recalculation
    GET    /api/warnings?month=&facility=&kind=  Configuration warnings
    GET    /api/indicators                       Indicator catalog

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: configuration and submissions
  - Records: snapshot cache (engine.RecordService)
  - Validator: conditional field rules of the loaded catalog
  - Warnings: warning log (SQLite or Postgres)

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid month, malformed body
  - 404: Unknown facility
  - 422: Field validation errors (all violations listed)
         Conditional logic errors are stored sanitized, then reported
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/incentive-engine/conditional"
	"github.com/warp/incentive-engine/engine"
	"github.com/warp/incentive-engine/factory"
	"github.com/warp/incentive-engine/program"
	"github.com/warp/incentive-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     *sqlite.Store
	Records   *engine.RecordService
	Catalog   program.Catalog
	Validator *conditional.Validator
	Warnings  engine.WarningQuery
	Logger    *zap.Logger
	Now       func() time.Time

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler for the given store, record service and catalog.
func NewHandler(store *sqlite.Store, records *engine.RecordService, catalog program.Catalog) (*Handler, error) {
	validator, err := conditional.New(catalog.Rules)
	if err != nil {
		return nil, err
	}
	return &Handler{
		Store:     store,
		Records:   records,
		Catalog:   catalog,
		Validator: validator,
		Warnings:  store,
		Logger:    zap.NewNop(),
		Now:       time.Now,
	}, nil
}

// =============================================================================
// FACILITY HANDLERS
// =============================================================================

// ListFacilities returns all facilities.
func (h *Handler) ListFacilities(w http.ResponseWriter, r *http.Request) {
	facilities, err := h.Store.Facilities(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list facilities", err)
		return
	}

	dtos := make([]FacilityDTO, 0, len(facilities))
	for _, f := range facilities {
		workers, err := h.Store.Workers(r.Context(), f.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to list workers", err)
			return
		}
		dtos = append(dtos, toFacilityDTO(f, len(workers)))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetFacility returns a single facility.
func (h *Handler) GetFacility(w http.ResponseWriter, r *http.Request) {
	f, ok := h.facility(w, r)
	if !ok {
		return
	}
	workers, err := h.Store.Workers(r.Context(), f.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list workers", err)
		return
	}
	writeJSON(w, http.StatusOK, toFacilityDTO(f, len(workers)))
}

// =============================================================================
// FIELD HANDLERS
// =============================================================================

// GetFields returns the stored values with conditional visibility applied.
func (h *Handler) GetFields(w http.ResponseWriter, r *http.Request) {
	f, ok := h.facility(w, r)
	if !ok {
		return
	}
	month, ok := monthParam(w, r)
	if !ok {
		return
	}

	stored, err := h.Store.FieldValues(r.Context(), f.ID, month)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load fields", err)
		return
	}

	writeJSON(w, http.StatusOK, FieldsResponse{
		FacilityID: f.ID,
		Month:      month,
		Fields:     h.Validator.Read(plainValues(stored)),
	})
}

// SubmitFields validates a submission against the stored values and
// persists the sanitized result. Validation and required-field errors
// reject the submission; conditional logic errors are reported after the
// offending dependents are stored as null.
func (h *Handler) SubmitFields(w http.ResponseWriter, r *http.Request) {
	f, ok := h.facility(w, r)
	if !ok {
		return
	}
	month, ok := monthParam(w, r)
	if !ok {
		return
	}

	var req SubmitFieldsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.Values) == 0 {
		writeError(w, http.StatusBadRequest, "No values submitted", nil)
		return
	}

	ctx := r.Context()
	existing, err := h.Store.FieldValues(ctx, f.ID, month)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load fields", err)
		return
	}
	stored := plainValues(existing)

	// Conditional logic violations are corrected by sanitizing (the dependent
	// is stored as null) and still reported. Any other violation rejects the
	// whole submission.
	sanitized, fieldErrs := h.Validator.Sanitize(req.Values, stored)
	if fieldErrs.Count(conditional.ErrConditionalLogic) < len(fieldErrs) {
		writeJSON(w, http.StatusUnprocessableEntity, ValidationErrorResponse{
			Error:  "Submission rejected",
			Errors: fieldErrs,
		})
		return
	}

	now := h.Now()
	values := make([]engine.FieldValue, 0, len(sanitized))
	for key, val := range sanitized {
		fv := engine.FieldValue{
			FacilityID: f.ID,
			Field:      key,
			Month:      month,
			Value:      val,
			UpdatedAt:  now,
		}
		if prev, ok := existing[key]; ok {
			fv.Override, fv.OverrideReason, fv.Normalized = prev.Override, prev.OverrideReason, prev.Normalized
		}
		if reason, ok := req.Overrides[key]; ok {
			fv.Override, fv.OverrideReason = reason != "", reason
		}
		if n, ok := req.Normalized[key]; ok {
			fv.Normalized = &n
		}
		values = append(values, fv)
		stored[key] = val
	}

	if err := h.Store.SaveFieldValues(ctx, values); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save fields", err)
		return
	}

	h.Logger.Info("field submission stored",
		zap.String("facility_id", string(f.ID)),
		zap.String("month", month.String()),
		zap.Int("fields", len(values)),
	)

	if len(fieldErrs) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, ValidationErrorResponse{
			Error:  "Submission stored with dependent fields cleared",
			Errors: fieldErrs,
		})
		return
	}

	writeJSON(w, http.StatusOK, FieldsResponse{
		FacilityID: f.ID,
		Month:      month,
		Fields:     h.Validator.Read(stored),
	})
}

func plainValues(fields map[engine.FieldKey]engine.FieldValue) map[engine.FieldKey]engine.Value {
	out := make(map[engine.FieldKey]engine.Value, len(fields))
	for k, fv := range fields {
		out[k] = fv.Value
	}
	return out
}

// =============================================================================
// REMUNERATION HANDLERS
// =============================================================================

// GetRemuneration returns the stored snapshot, computing it on first request.
func (h *Handler) GetRemuneration(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.record(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GetPerformance returns the indicator results of the snapshot.
func (h *Handler) GetPerformance(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.record(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toPerformanceResponse(rec))
}

// GetWorkers returns the worker payouts of the snapshot.
func (h *Handler) GetWorkers(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.record(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toWorkersResponse(rec))
}

// Recalculate discards the snapshot and computes a new one.
func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	month, ok := monthParam(w, r)
	if !ok {
		return
	}
	key := engine.RecordKey{FacilityID: engine.FacilityID(chi.URLParam(r, "id")), Month: month}

	rec, err := h.Records.Recalculate(r.Context(), key)
	if err != nil {
		writeEngineError(w, "Failed to recalculate", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Sweep recalculates every stored snapshot, or every facility for a month
// range. Per-record failures are reported in the body, not as an error status.
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	var body SweepRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var req engine.SweepRequest
	if body.From != "" || body.To != "" {
		from, err := engine.ParseMonth(firstNonEmpty(body.From, body.To))
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from month", err)
			return
		}
		to, err := engine.ParseMonth(firstNonEmpty(body.To, body.From))
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to month", err)
			return
		}
		if to.Before(from) {
			writeError(w, http.StatusBadRequest, "to month is before from month", nil)
			return
		}
		req.From, req.To = &from, &to
	}

	report, err := h.Records.Sweep(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Sweep failed", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// =============================================================================
// CONFIGURATION HANDLERS
// =============================================================================

// ListWarnings returns recorded configuration warnings.
func (h *Handler) ListWarnings(w http.ResponseWriter, r *http.Request) {
	filter := engine.WarningFilter{
		FacilityID: engine.FacilityID(r.URL.Query().Get("facility")),
		Kind:       engine.WarningKind(r.URL.Query().Get("kind")),
	}
	if m := r.URL.Query().Get("month"); m != "" {
		month, err := engine.ParseMonth(m)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid month", err)
			return
		}
		filter.Month = month
	}

	warnings, err := h.Warnings.Warnings(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list warnings", err)
		return
	}
	if warnings == nil {
		warnings = []engine.ConfigWarning{}
	}
	writeJSON(w, http.StatusOK, warnings)
}

// ListIndicators returns the stored indicator catalog in canonical order.
func (h *Handler) ListIndicators(w http.ResponseWriter, r *http.Request) {
	indicators, err := h.Store.Indicators(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list indicators", err)
		return
	}

	sorted := engine.SortCanonical(indicators, h.Catalog.Config.CanonicalOrder)
	docs := make([]factory.IndicatorDoc, len(sorted))
	for i, ind := range sorted {
		docs[i] = factory.IndicatorToDoc(ind)
	}
	writeJSON(w, http.StatusOK, docs)
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) facility(w http.ResponseWriter, r *http.Request) (engine.Facility, bool) {
	f, err := h.Store.Facility(r.Context(), engine.FacilityID(chi.URLParam(r, "id")))
	if err != nil {
		writeEngineError(w, "Failed to load facility", err)
		return engine.Facility{}, false
	}
	return f, true
}

func (h *Handler) record(w http.ResponseWriter, r *http.Request) (engine.RemunerationRecord, bool) {
	month, ok := monthParam(w, r)
	if !ok {
		return engine.RemunerationRecord{}, false
	}
	key := engine.RecordKey{FacilityID: engine.FacilityID(chi.URLParam(r, "id")), Month: month}

	rec, err := h.Records.Get(r.Context(), key)
	if err != nil {
		writeEngineError(w, "Failed to load remuneration", err)
		return engine.RemunerationRecord{}, false
	}
	return rec, true
}

// monthParam reads the required ?month=YYYY-MM query parameter.
func monthParam(w http.ResponseWriter, r *http.Request) (engine.ReportMonth, bool) {
	raw := r.URL.Query().Get("month")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "month is required (YYYY-MM)", nil)
		return engine.ReportMonth{}, false
	}
	month, err := engine.ParseMonth(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid month", err)
		return engine.ReportMonth{}, false
	}
	return month, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps engine sentinels to HTTP statuses.
func writeEngineError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, engine.ErrFacilityNotFound):
		writeError(w, http.StatusNotFound, "Facility not found", err)
	case engine.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case engine.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
