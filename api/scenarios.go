/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built scenarios that populate the database with realistic
  data for testing and demos. Each scenario creates facilities, workers,
  and one month of field submissions that demonstrate specific features.

AVAILABLE SCENARIOS:
  health-post-month:    Fully reported health post with in-charge, nurses, CHV
  phc-no-deliveries:    PHC without delivery services and partial reporting
  community-unit:       Team-based facility, no individual worker rows
  missing-remuneration: Indicator applied to a type with no configured amount

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Import the loaded program catalog
 3. Create facilities and workers
 4. Submit field values for the previous reporting month

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "health-post-month"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, month)
 3. Add case to LoadScenario handler

NOTE:
  Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: ResetDatabase handler
  - program/program.go: Default indicator catalog
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/incentive-engine/engine"
	"github.com/warp/incentive-engine/program"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "health-post-month",
		Name:        "Health Post Month",
		Description: "Fully reported health post with in-charge, two nurses and a CHV",
		Category:    "allocation",
	},
	{
		ID:          "phc-no-deliveries",
		Name:        "PHC Without Deliveries",
		Description: "Delivery services off, raw annual denominators, unsubmitted fields",
		Category:    "performance",
	},
	{
		ID:          "community-unit",
		Name:        "Community Unit",
		Description: "Team-based facility paid as a pool, no individual worker rows",
		Category:    "allocation",
	},
	{
		ID:          "missing-remuneration",
		Name:        "Missing Remuneration",
		Description: "TB referrals extended to hospitals without an amount, recorded as a warning",
		Category:    "configuration",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}

	writeJSON(w, http.StatusOK, ScenarioDTO{
		ID:          current,
		Name:        current,
		Description: "Currently loaded scenario",
	})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var loader func(context.Context, engine.ReportMonth) error
	switch req.ScenarioID {
	case "health-post-month":
		loader = h.loadHealthPostScenario
	case "phc-no-deliveries":
		loader = h.loadPHCNoDeliveriesScenario
	case "community-unit":
		loader = h.loadCommunityUnitScenario
	case "missing-remuneration":
		loader = h.loadMissingRemunerationScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	h.mu.Lock()
	defer h.mu.Unlock()

	// Reset first
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := h.Store.ImportIndicators(ctx, h.Catalog.Indicators); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to import indicators", err)
		return
	}

	month := engine.MonthOf(h.Now()).Prev()
	if err := loader(ctx, month); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.currentScenario = req.ScenarioID
	h.Logger.Info("scenario loaded",
		zap.String("scenario", req.ScenarioID),
		zap.String("month", month.String()))

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "loaded",
		"scenario": req.ScenarioID,
		"month":    month.String(),
	})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadHealthPostScenario(ctx context.Context, month engine.ReportMonth) error {
	hp := engine.Facility{ID: "hp-001", Name: "Kibera Health Post", Type: program.HealthPost}
	workers := []engine.Worker{
		{ID: "w-001", Name: "Amina Otieno", Designation: "Facility In-Charge", AllocatedBase: decimal.NewFromInt(3000)},
		{ID: "w-002", Name: "Juma Mwangi", Designation: "Nurse", AllocatedBase: decimal.NewFromInt(1500)},
		{ID: "w-003", Name: "Grace Wanjiru", Designation: "Nurse", AllocatedBase: decimal.NewFromInt(1500)},
		{ID: "w-004", Name: "Peter Kamau", Designation: "CHV", AllocatedBase: decimal.NewFromInt(800)},
	}
	if err := h.seedFacility(ctx, hp, workers); err != nil {
		return err
	}

	normalized := true
	return h.seedFields(ctx, hp.ID, month, []engine.FieldValue{
		{Field: program.FieldANCVisits, Value: engine.Number(14)},
		{Field: program.FieldExpectedPregnancy, Value: engine.Number(240)},
		{Field: program.FieldHasDeliveries, Value: engine.Boolean(true)},
		{Field: program.FieldDeliveries, Value: engine.Number(9)},
		{Field: program.FieldExpectedDeliveries, Value: engine.Number(216)},
		{Field: program.FieldFPAcceptors, Value: engine.Number(48)},
		{Field: program.FieldWomenReproductive, Value: engine.Number(1200), Normalized: &normalized},
		{Field: program.FieldFullyImmunized, Value: engine.Number(88)},
		{Field: program.FieldQualityScore, Value: engine.Number(92)},
		{Field: program.FieldSatisfactionScore, Value: engine.Number(4.2)},
		{Field: program.FieldHMISSubmitted, Value: engine.Boolean(true)},
		{Field: program.FieldTBScreening, Value: engine.Boolean(true)},
		{Field: program.FieldTBReferrals, Value: engine.Number(2)},
	})
}

func (h *Handler) loadPHCNoDeliveriesScenario(ctx context.Context, month engine.ReportMonth) error {
	phc := engine.Facility{ID: "phc-001", Name: "Mbagathi Primary Health Centre", Type: program.PHC}
	workers := []engine.Worker{
		{ID: "w-101", Name: "Samuel Njoroge", Designation: "Medical Director", AllocatedBase: decimal.NewFromInt(6000)},
		{ID: "w-102", Name: "Faith Achieng", Designation: "Clinical Officer", AllocatedBase: decimal.NewFromInt(3500)},
		{ID: "w-103", Name: "Mary Njeri", Designation: "Midwife", AllocatedBase: decimal.NewFromInt(3000)},
		{ID: "w-104", Name: "Ali Hassan", Designation: "Lab Technician", AllocatedBase: decimal.NewFromInt(2500)},
	}
	if err := h.seedFacility(ctx, phc, workers); err != nil {
		return err
	}

	// Women of reproductive age entered as the raw annual count; FP acceptors
	// and immunization left unsubmitted.
	raw := false
	return h.seedFields(ctx, phc.ID, month, []engine.FieldValue{
		{Field: program.FieldANCVisits, Value: engine.Number(55)},
		{Field: program.FieldExpectedPregnancy, Value: engine.Number(960)},
		{Field: program.FieldHasDeliveries, Value: engine.Boolean(false)},
		{Field: program.FieldDeliveries, Value: engine.Null()},
		{Field: program.FieldWomenReproductive, Value: engine.Number(4800), Normalized: &raw},
		{Field: program.FieldQualityScore, Value: engine.Number(65)},
		{Field: program.FieldSatisfactionScore, Value: engine.Number(3.1)},
		{Field: program.FieldHMISSubmitted, Value: engine.Boolean(false)},
		{Field: program.FieldTBScreening, Value: engine.Boolean(false)},
		{Field: program.FieldTBReferrals, Value: engine.Null()},
	})
}

func (h *Handler) loadCommunityUnitScenario(ctx context.Context, month engine.ReportMonth) error {
	cu := engine.Facility{ID: "cu-001", Name: "Mathare Community Unit", Type: program.CommunityUnit}
	workers := []engine.Worker{
		{ID: "w-201", Name: "Esther Moraa", Designation: "CHEW", AllocatedBase: decimal.NewFromInt(1000)},
		{ID: "w-202", Name: "John Ouma", Designation: "CHV", AllocatedBase: decimal.NewFromInt(500)},
		{ID: "w-203", Name: "Rose Atieno", Designation: "CHV", AllocatedBase: decimal.NewFromInt(500)},
	}
	if err := h.seedFacility(ctx, cu, workers); err != nil {
		return err
	}

	return h.seedFields(ctx, cu.ID, month, []engine.FieldValue{
		{Field: program.FieldANCVisits, Value: engine.Number(20)},
		{Field: program.FieldExpectedPregnancy, Value: engine.Number(300)},
		{Field: program.FieldFPAcceptors, Value: engine.Number(30)},
		{Field: program.FieldWomenReproductive, Value: engine.Number(900)},
		{Field: program.FieldHMISSubmitted, Value: engine.Boolean(true)},
	})
}

func (h *Handler) loadMissingRemunerationScenario(ctx context.Context, month engine.ReportMonth) error {
	tb, ok := h.Catalog.Indicator(program.IndTBReferrals)
	if !ok {
		return fmt.Errorf("indicator %s not in catalog", program.IndTBReferrals)
	}
	tb.ApplicableTypes = append(append([]engine.FacilityType(nil), tb.ApplicableTypes...), program.Hospital)
	if err := h.Store.SaveIndicator(ctx, tb); err != nil {
		return err
	}

	hosp := engine.Facility{ID: "hosp-001", Name: "Mama Lucy Hospital", Type: program.Hospital}
	workers := []engine.Worker{
		{ID: "w-301", Name: "Dr. Wairimu", Designation: "Medical Director", AllocatedBase: decimal.NewFromInt(10000)},
		{ID: "w-302", Name: "Kevin Mutua", Designation: "Clinical Officer", AllocatedBase: decimal.NewFromInt(5000)},
		{ID: "w-303", Name: "Lucy Chebet", Designation: "Nurse", AllocatedBase: decimal.NewFromInt(4000)},
		{ID: "w-304", Name: "Daniel Kiprop", Designation: "Nurse", AllocatedBase: decimal.NewFromInt(4000)},
		{ID: "w-305", Name: "Halima Abdi", Designation: "Midwife", AllocatedBase: decimal.NewFromInt(4000)},
	}
	if err := h.seedFacility(ctx, hosp, workers); err != nil {
		return err
	}

	return h.seedFields(ctx, hosp.ID, month, []engine.FieldValue{
		{Field: program.FieldANCVisits, Value: engine.Number(400)},
		{Field: program.FieldExpectedPregnancy, Value: engine.Number(6000)},
		{Field: program.FieldHasDeliveries, Value: engine.Boolean(true)},
		{Field: program.FieldDeliveries, Value: engine.Number(300)},
		{Field: program.FieldExpectedDeliveries, Value: engine.Number(5400)},
		{Field: program.FieldHMISSubmitted, Value: engine.Boolean(true)},
		{Field: program.FieldTBScreening, Value: engine.Boolean(true)},
		{Field: program.FieldTBReferrals, Value: engine.Number(2)},
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) seedFacility(ctx context.Context, f engine.Facility, workers []engine.Worker) error {
	if err := h.Store.SaveFacility(ctx, f); err != nil {
		return err
	}
	for _, w := range workers {
		w.FacilityID = f.ID
		if err := h.Store.SaveWorker(ctx, w); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) seedFields(ctx context.Context, facility engine.FacilityID, month engine.ReportMonth, values []engine.FieldValue) error {
	now := h.Now()
	for i := range values {
		values[i].FacilityID = facility
		values[i].Month = month
		values[i].UpdatedAt = now
	}
	return h.Store.SaveFieldValues(ctx, values)
}
