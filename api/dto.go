/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Engine result types
  (RemunerationRecord, PerformanceResult, WorkerRemuneration) already carry
  JSON tags and are returned as-is; the types here cover requests and the
  responses that reshape engine data.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Facility:
    FacilityDTO

  Fields:
    FieldsResponse, SubmitFieldsRequest, ValidationErrorResponse

  Remuneration:
    PerformanceResponse, WorkersResponse, SweepRequestDTO

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Validation is done in handlers and the conditional package, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/catalog.go: IndicatorDoc, returned by GET /api/indicators
*/
package api

import (
	"github.com/warp/incentive-engine/conditional"
	"github.com/warp/incentive-engine/engine"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// FacilityDTO represents a facility in API responses.
type FacilityDTO struct {
	ID          engine.FacilityID   `json:"id"`
	Name        string              `json:"name"`
	Type        engine.FacilityType `json:"type"`
	WorkerCount int                 `json:"worker_count"`
}

// FieldsResponse is the validator's read view of one facility-month.
type FieldsResponse struct {
	FacilityID engine.FacilityID                         `json:"facility_id"`
	Month      engine.ReportMonth                        `json:"month"`
	Fields     map[engine.FieldKey]conditional.FieldView `json:"fields"`
}

// SubmitFieldsRequest carries a partial submission. Overrides maps a field
// to the reason its value was entered manually; Normalized marks stored
// denominators as already per-period (true) or raw annual (false).
type SubmitFieldsRequest struct {
	Values     map[engine.FieldKey]engine.Value `json:"values"`
	Overrides  map[engine.FieldKey]string       `json:"overrides,omitempty"`
	Normalized map[engine.FieldKey]bool         `json:"normalized,omitempty"`
}

// ValidationErrorResponse lists every violation found in a submission.
type ValidationErrorResponse struct {
	Error  string                  `json:"error"`
	Errors conditional.FieldErrors `json:"errors"`
}

// PerformanceResponse is the indicator half of a remuneration record.
type PerformanceResponse struct {
	RecordID   string                     `json:"record_id"`
	FacilityID engine.FacilityID          `json:"facility_id"`
	Month      engine.ReportMonth         `json:"month"`
	Indicators []engine.PerformanceResult `json:"indicators"`
	Summary    engine.Summary             `json:"summary"`
}

// WorkersResponse is the worker half of a remuneration record.
type WorkersResponse struct {
	RecordID            string                      `json:"record_id"`
	FacilityID          engine.FacilityID           `json:"facility_id"`
	Month               engine.ReportMonth          `json:"month"`
	FacilityAchievement float64                     `json:"facility_achievement"`
	Workers             []engine.WorkerRemuneration `json:"workers"`
	WorkerTotal         string                      `json:"worker_total"`
	Issues              []engine.WorkerConfigError  `json:"issues,omitempty"`
}

// SweepRequestDTO bounds a bulk recalculation. Both empty recalculates
// every stored record.
type SweepRequestDTO struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"`
}

// LoadScenarioRequest selects a scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toFacilityDTO(f engine.Facility, workers int) FacilityDTO {
	return FacilityDTO{ID: f.ID, Name: f.Name, Type: f.Type, WorkerCount: workers}
}

func toPerformanceResponse(rec engine.RemunerationRecord) PerformanceResponse {
	return PerformanceResponse{
		RecordID:   rec.ID,
		FacilityID: rec.FacilityID,
		Month:      rec.Month,
		Indicators: rec.Indicators,
		Summary:    rec.Summary,
	}
}

func toWorkersResponse(rec engine.RemunerationRecord) WorkersResponse {
	workers := rec.Workers
	if workers == nil {
		workers = []engine.WorkerRemuneration{}
	}
	return WorkersResponse{
		RecordID:            rec.ID,
		FacilityID:          rec.FacilityID,
		Month:               rec.Month,
		FacilityAchievement: rec.Summary.FacilityAchievement,
		Workers:             workers,
		WorkerTotal:         rec.Summary.WorkerTotal.StringFixed(engine.MoneyPlaces),
		Issues:              rec.Summary.WorkerIssues,
	}
}
