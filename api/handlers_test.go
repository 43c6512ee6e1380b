/*
handlers_test.go - HTTP tests for API handlers

Tests for:
- Facility listing and lookup
- Field submission validation (422 with every violation) and read view
- Remuneration snapshot caching and recalculation
- Sweep, warnings and indicator catalog endpoints
*/
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/incentive-engine/api"
	"github.com/warp/incentive-engine/engine"
	"github.com/warp/incentive-engine/program"
	"github.com/warp/incentive-engine/store/sqlite"
)

// April 2025: scenarios seed March 2025.
var testNow = time.Date(2025, time.April, 10, 9, 0, 0, 0, time.UTC)

const march = "2025-03"

type testServer struct {
	handler *api.Handler
	router  http.Handler
	store   *sqlite.Store
}

func setupServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	catalog := program.Default()
	require.NoError(t, store.ImportIndicators(context.Background(), catalog.Indicators))

	clock := func() time.Time { return testNow }
	agg := engine.NewAggregator(store, store, catalog.Config, nil,
		engine.WithTargets(store), engine.WithWarningSink(store), engine.WithClock(clock))
	records := &engine.RecordService{
		Facilities: store,
		Fields:     store,
		Workers:    store,
		Records:    store,
		Aggregator: agg,
		Allocator:  engine.NewAllocator(catalog.Config),
		Now:        clock,
	}

	h, err := api.NewHandler(store, records, catalog)
	require.NoError(t, err)
	h.Now = clock

	return &testServer{
		handler: h,
		router:  api.NewRouter(h, api.RouterOptions{EnableDemo: true}),
		store:   store,
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) serve(t *testing.T, router http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func (ts *testServer) loadScenario(t *testing.T, id string) {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/scenarios/load", api.LoadScenarioRequest{ScenarioID: id})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// =============================================================================
// FACILITIES
// =============================================================================

func TestFacilities_ListAndGet(t *testing.T) {
	ts := setupServer(t)
	ts.loadScenario(t, "health-post-month")

	rec := ts.do(t, http.MethodGet, "/api/facilities", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]api.FacilityDTO](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, engine.FacilityID("hp-001"), list[0].ID)
	assert.Equal(t, program.HealthPost, list[0].Type)
	assert.Equal(t, 4, list[0].WorkerCount)

	rec = ts.do(t, http.MethodGet, "/api/facilities/hp-001", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/facilities/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// FIELDS
// =============================================================================

func TestSubmitFields_CollectsEveryViolation(t *testing.T) {
	// GIVEN: A health post with delivery services and TB screening stored
	// WHEN: Deliveries are turned off while a count is sent, and TB referrals cleared
	// THEN: 422 lists both violations and nothing is written

	ts := setupServer(t)
	ts.loadScenario(t, "health-post-month")

	rec := ts.do(t, http.MethodPost, "/api/facilities/hp-001/fields?month="+march, map[string]any{
		"values": map[string]any{
			"has_delivery_services": false,
			"facility_deliveries":   5,
			"tb_screening_done":     true,
			"tb_referrals":          nil,
		},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	resp := decode[api.ValidationErrorResponse](t, rec)
	require.Len(t, resp.Errors, 2)
	kinds := map[engine.FieldKey]string{}
	for _, e := range resp.Errors {
		kinds[e.Field] = string(e.Kind)
	}
	assert.Equal(t, "CONDITIONAL_LOGIC_ERROR", kinds[program.FieldDeliveries])
	assert.Equal(t, "REQUIRED_FIELD_ERROR", kinds[program.FieldTBReferrals])

	stored, err := ts.store.FieldValues(context.Background(), "hp-001", engine.NewReportMonth(2025, time.March))
	require.NoError(t, err)
	assert.Equal(t, engine.Boolean(true), stored[program.FieldHasDeliveries].Value)
	assert.Equal(t, engine.Number(9), stored[program.FieldDeliveries].Value)
}

func TestSubmitFields_ConditionalLogicStoresNull(t *testing.T) {
	// GIVEN: A health post that recorded 9 deliveries
	// WHEN: Delivery services are switched off and 7 deliveries sent anyway
	// THEN: One CONDITIONAL_LOGIC_ERROR is returned and the count is stored as null

	ts := setupServer(t)
	ts.loadScenario(t, "health-post-month")

	rec := ts.do(t, http.MethodPost, "/api/facilities/hp-001/fields?month="+march, map[string]any{
		"values": map[string]any{"has_delivery_services": false, "facility_deliveries": 7},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	resp := decode[api.ValidationErrorResponse](t, rec)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, program.FieldDeliveries, resp.Errors[0].Field)
	assert.Equal(t, "CONDITIONAL_LOGIC_ERROR", string(resp.Errors[0].Kind))

	stored, err := ts.store.FieldValues(context.Background(), "hp-001", engine.NewReportMonth(2025, time.March))
	require.NoError(t, err)
	assert.Equal(t, engine.Boolean(false), stored[program.FieldHasDeliveries].Value)
	assert.True(t, stored[program.FieldDeliveries].Value.IsNull())
}

func TestSubmitFields_HidesAndClearsDependent(t *testing.T) {
	// GIVEN: A health post that recorded 9 deliveries
	// WHEN: Delivery services are switched off
	// THEN: The stored count is cleared and the read view marks it hidden

	ts := setupServer(t)
	ts.loadScenario(t, "health-post-month")

	rec := ts.do(t, http.MethodPost, "/api/facilities/hp-001/fields?month="+march, map[string]any{
		"values":    map[string]any{"has_delivery_services": false, "anc_visits": 16},
		"overrides": map[string]string{"anc_visits": "register recount"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[api.FieldsResponse](t, rec)
	deliveries := resp.Fields[program.FieldDeliveries]
	assert.True(t, deliveries.Hidden)
	assert.True(t, deliveries.Value.IsNull())
	assert.Equal(t, engine.Number(16), resp.Fields[program.FieldANCVisits].Value)

	rec = ts.do(t, http.MethodGet, "/api/facilities/hp-001/fields?month="+march, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	read := decode[api.FieldsResponse](t, rec)
	assert.True(t, read.Fields[program.FieldDeliveries].Hidden)
	assert.False(t, read.Fields[program.FieldTBReferrals].Hidden)

	stored, err := ts.store.FieldValues(context.Background(), "hp-001", engine.NewReportMonth(2025, time.March))
	require.NoError(t, err)
	assert.True(t, stored[program.FieldDeliveries].Value.IsNull())
	assert.True(t, stored[program.FieldANCVisits].Override)
	assert.Equal(t, "register recount", stored[program.FieldANCVisits].OverrideReason)
}

func TestFields_MonthRequired(t *testing.T) {
	ts := setupServer(t)
	ts.loadScenario(t, "health-post-month")

	rec := ts.do(t, http.MethodGet, "/api/facilities/hp-001/fields", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/facilities/hp-001/fields?month=2025-13", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/facilities/hp-001/fields?month="+march, map[string]any{"values": map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// REMUNERATION
// =============================================================================

func TestRemuneration_CachedUntilRecalculated(t *testing.T) {
	// GIVEN: A fully reported health post
	// WHEN: The remuneration is read twice, then recalculated after a change
	// THEN: Reads return the same snapshot; recalculation replaces it

	ts := setupServer(t)
	ts.loadScenario(t, "health-post-month")
	path := "/api/facilities/hp-001/remuneration?month=" + march

	rec := ts.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[engine.RemunerationRecord](t, rec)
	assert.NotEmpty(t, first.ID)
	assert.Len(t, first.Indicators, 8)
	assert.True(t, first.Summary.GrandTotal.IsPositive())

	second := decode[engine.RemunerationRecord](t, ts.do(t, http.MethodGet, path, nil))
	assert.Equal(t, first.ID, second.ID)

	rec = ts.do(t, http.MethodPost, "/api/facilities/hp-001/fields?month="+march, map[string]any{
		"values": map[string]any{"hmis_report_submitted": false},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	third := decode[engine.RemunerationRecord](t, ts.do(t, http.MethodGet, path, nil))
	assert.Equal(t, first.ID, third.ID, "snapshot is not invalidated by submissions")

	rec = ts.do(t, http.MethodPost, "/api/facilities/hp-001/remuneration/recalculate?month="+march, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	fresh := decode[engine.RemunerationRecord](t, rec)
	assert.NotEqual(t, first.ID, fresh.ID)
	assert.True(t, fresh.Summary.IndicatorTotal.LessThan(first.Summary.IndicatorTotal))
}

func TestRemuneration_Errors(t *testing.T) {
	ts := setupServer(t)
	ts.loadScenario(t, "health-post-month")

	rec := ts.do(t, http.MethodGet, "/api/facilities/ghost/remuneration?month="+march, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/facilities/hp-001/remuneration", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/facilities/ghost/remuneration/recalculate?month="+march, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPerformanceAndWorkers(t *testing.T) {
	ts := setupServer(t)
	ts.loadScenario(t, "health-post-month")

	rec := ts.do(t, http.MethodGet, "/api/facilities/hp-001/performance?month="+march, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	perf := decode[api.PerformanceResponse](t, rec)
	require.NotEmpty(t, perf.Indicators)
	assert.Equal(t, program.IndANCVisits, perf.Indicators[0].Indicator)
	assert.Equal(t, 8, perf.Summary.TotalIndicators)

	rec = ts.do(t, http.MethodGet, "/api/facilities/hp-001/workers?month="+march, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	workers := decode[api.WorkersResponse](t, rec)
	assert.Equal(t, perf.RecordID, workers.RecordID)
	require.NotEmpty(t, workers.Workers)
	assert.Equal(t, engine.RoleIndividualLead, workers.Workers[0].Role)
}

func TestWorkers_TeamBasedFacilityHasNoRows(t *testing.T) {
	ts := setupServer(t)
	ts.loadScenario(t, "community-unit")

	rec := ts.do(t, http.MethodGet, "/api/facilities/cu-001/workers?month="+march, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	workers := decode[api.WorkersResponse](t, rec)
	assert.Empty(t, workers.Workers)
	assert.Equal(t, "0.00", workers.WorkerTotal)
}

// =============================================================================
// ADMIN
// =============================================================================

func TestSweep(t *testing.T) {
	// GIVEN: One stored snapshot
	// WHEN: A sweep runs without a range, then for a month range
	// THEN: Only stored keys are recalculated first, then every facility-month

	ts := setupServer(t)
	ts.loadScenario(t, "health-post-month")
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/facilities/hp-001/remuneration?month="+march, nil).Code)

	rec := ts.do(t, http.MethodPost, "/api/admin/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode[engine.SweepReport](t, rec)
	assert.Equal(t, 1, report.Total)
	assert.Equal(t, 1, report.Succeeded)
	assert.Empty(t, report.Failures)
	assert.NotEmpty(t, report.RunID)

	rec = ts.do(t, http.MethodPost, "/api/admin/sweep", api.SweepRequestDTO{From: "2025-01", To: march})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report = decode[engine.SweepReport](t, rec)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 3, report.Succeeded)

	rec = ts.do(t, http.MethodPost, "/api/admin/sweep", api.SweepRequestDTO{From: march, To: "2025-01"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/admin/sweep", api.SweepRequestDTO{From: "March"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWarnings_MissingRemuneration(t *testing.T) {
	ts := setupServer(t)
	ts.loadScenario(t, "missing-remuneration")

	rec := ts.do(t, http.MethodGet, "/api/facilities/hosp-001/remuneration?month="+march, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	record := decode[engine.RemunerationRecord](t, rec)
	assert.Contains(t, record.Summary.SkippedIndicators, program.IndTBReferrals)

	rec = ts.do(t, http.MethodGet, "/api/warnings?kind=missing_remuneration&month="+march, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	warnings := decode[[]engine.ConfigWarning](t, rec)
	require.Len(t, warnings, 1)
	assert.Equal(t, program.IndTBReferrals, warnings[0].Indicator)
	assert.Equal(t, program.Hospital, warnings[0].FacilityType)

	rec = ts.do(t, http.MethodGet, "/api/warnings?month=bad", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListIndicators_CanonicalOrder(t *testing.T) {
	ts := setupServer(t)

	rec := ts.do(t, http.MethodGet, "/api/indicators", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var docs []struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &docs))
	require.Len(t, docs, 8)
	assert.Equal(t, "1.1", docs[0].Code)
	assert.Equal(t, "4.2", docs[7].Code)
}
