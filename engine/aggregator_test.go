package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/incentive-engine/engine"
	"github.com/warp/incentive-engine/engine/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var march2025 = engine.NewReportMonth(2025, time.March)

func testProgram() engine.ProgramConfig {
	return engine.ProgramConfig{
		CanonicalOrder: []engine.IndicatorCode{"1.1", "2.1", "3.2", "4.1"},
		DefaultPopulation: map[engine.FacilityType]float64{
			"health_post":             5000,
			engine.PopulationFallback: 10000,
		},
		SatisfactionIndicator: "3.2",
		SatisfactionScale:     5,
		DefaultTarget:         100,
		RoleMapping: map[string]engine.RoleType{
			"in-charge": engine.RoleIndividualLead,
			"chv":       engine.RoleTeamPooled,
			"nurse":     engine.RolePerformanceProportional,
		},
		DefaultRole:    engine.RolePerformanceProportional,
		TeamBasedTypes: []engine.FacilityType{"community_unit"},
	}
}

func remuneration(hp float64) map[engine.FacilityType]decimal.Decimal {
	return map[engine.FacilityType]decimal.Decimal{"health_post": money(hp)}
}

func seedIndicators(mem *store.Memory) {
	mem.PutIndicator(engine.Indicator{
		Code: "4.1", Name: "HMIS report", TargetType: engine.TargetBinary,
		NumeratorField: "hmis_report_submitted", TargetValue: "true",
		ApplicableTypes: []engine.FacilityType{"health_post", "community_unit"},
		Remuneration:    remuneration(500),
	})
	mem.PutIndicator(engine.Indicator{
		Code: "2.1", Name: "FP acceptors", TargetType: engine.TargetPercentageRange,
		Formula: "(A/B)*100", NumeratorField: "fp_new_acceptors", DenominatorField: "women_reproductive_age",
		TargetValue:     "3-5",
		ApplicableTypes: []engine.FacilityType{"health_post"},
		Remuneration:    remuneration(500),
	})
	mem.PutIndicator(engine.Indicator{
		Code: "1.1", Name: "ANC visits", TargetType: engine.TargetPercentageRange,
		Formula: "(A/(B/12))*100", NumeratorField: "anc_visits", DenominatorField: "expected_pregnancies",
		TargetValue:     "60-80",
		ApplicableTypes: []engine.FacilityType{"health_post"},
		Remuneration:    remuneration(1000),
	})
	mem.PutIndicator(engine.Indicator{
		Code: "3.2", Name: "Client satisfaction", TargetType: engine.TargetPercentageRange,
		Formula: "(A/B)*100", NumeratorField: "client_satisfaction_score",
		TargetValue:     "60-80",
		ApplicableTypes: []engine.FacilityType{"health_post"},
		Remuneration:    remuneration(200),
	})
}

func submit(t *testing.T, mem *store.Memory, facility engine.FacilityID, month engine.ReportMonth, vals map[engine.FieldKey]engine.Value) {
	t.Helper()
	var fvs []engine.FieldValue
	for k, v := range vals {
		fvs = append(fvs, engine.FieldValue{FacilityID: facility, Field: k, Month: month, Value: v})
	}
	require.NoError(t, mem.SaveFieldValues(context.Background(), fvs))
}

func newTestAggregator(mem *store.Memory, opts ...engine.AggregatorOption) *engine.Aggregator {
	opts = append([]engine.AggregatorOption{engine.WithTargets(mem), engine.WithWarningSink(mem)}, opts...)
	return engine.NewAggregator(mem, mem, testProgram(), engine.NewCalculator(engine.CalculatorConfig{}), opts...)
}

var healthPost = engine.Facility{ID: "hp-001", Name: "Kibera Health Post", Type: "health_post"}

// =============================================================================
// AGGREGATION TESTS
// =============================================================================

func TestEvaluate_FullFacility(t *testing.T) {
	// GIVEN: A health post with all four indicators submitted
	//   1.1 ANC:  14 / (240/12) = 70%   within 60-80 → 80% of 1000 = 800
	//   2.1 FP:   4 / 100       = 4%    within 3-5   → 80% of 500  = 400
	//   3.2 Sat:  4 / 5         = 80%   at max       → 200
	//   4.1 HMIS: submitted                         → 500
	// THEN: Totals, counts and canonical order match

	mem := store.NewMemory()
	seedIndicators(mem)
	submit(t, mem, healthPost.ID, march2025, map[engine.FieldKey]engine.Value{
		"anc_visits":                engine.Number(14),
		"expected_pregnancies":      engine.Number(240),
		"fp_new_acceptors":          engine.Number(4),
		"women_reproductive_age":    engine.Number(100),
		"client_satisfaction_score": engine.Number(4),
		"hmis_report_submitted":     engine.Boolean(true),
	})

	fp, err := newTestAggregator(mem).Evaluate(context.Background(), healthPost, march2025)
	require.NoError(t, err)

	require.Len(t, fp.Results, 4)
	codes := []engine.IndicatorCode{}
	for _, r := range fp.Results {
		codes = append(codes, r.Indicator)
	}
	assert.Equal(t, []engine.IndicatorCode{"1.1", "2.1", "3.2", "4.1"}, codes)

	assertMoney(t, 800, fp.Results[0].Incentive)
	assertMoney(t, 400, fp.Results[1].Incentive)
	assertMoney(t, 200, fp.Results[2].Incentive)
	assertMoney(t, 500, fp.Results[3].Incentive)
	assertMoney(t, 1900, fp.IndicatorTotal)
	assertMoney(t, 2200, fp.MaxPossible)

	assert.Equal(t, 2, fp.Counts.Achieved)
	assert.Equal(t, 2, fp.Counts.PartiallyAchieved)
	assert.Equal(t, 50.0, fp.PerformancePct())
	assert.InDelta(t, 86.36, fp.Achievement(), 0.001)
	assert.Empty(t, fp.Skipped)
}

func TestEvaluate_SatisfactionDenominatorIsScale(t *testing.T) {
	// GIVEN: A satisfaction score with a spurious population default
	// THEN: The denominator is always 5

	mem := store.NewMemory()
	seedIndicators(mem)
	submit(t, mem, healthPost.ID, march2025, map[engine.FieldKey]engine.Value{
		"client_satisfaction_score": engine.Number(3),
	})

	fp, err := newTestAggregator(mem).Evaluate(context.Background(), healthPost, march2025)
	require.NoError(t, err)

	for _, r := range fp.Results {
		if r.Indicator == "3.2" {
			assert.Equal(t, 5.0, r.Denominator)
			assert.Equal(t, 60.0, r.Achievement)
			assert.Equal(t, engine.StatusPartiallyAchieved, r.Status)
		}
	}
}

func TestEvaluate_MissingDenominator_UsesPopulationTable(t *testing.T) {
	// GIVEN: FP acceptors of 200 with no women_reproductive_age submitted
	// THEN: Denominator falls back to the health post population (5000): 4%

	mem := store.NewMemory()
	seedIndicators(mem)
	submit(t, mem, healthPost.ID, march2025, map[engine.FieldKey]engine.Value{
		"fp_new_acceptors": engine.Number(200),
	})

	fp, err := newTestAggregator(mem).Evaluate(context.Background(), healthPost, march2025)
	require.NoError(t, err)

	fpResult := fp.Results[1]
	require.Equal(t, engine.IndicatorCode("2.1"), fpResult.Indicator)
	assert.Equal(t, 5000.0, fpResult.Denominator)
	assert.Equal(t, 4.0, fpResult.Achievement)
}

func TestEvaluate_ZeroDenominator_IsNA(t *testing.T) {
	mem := store.NewMemory()
	seedIndicators(mem)
	submit(t, mem, healthPost.ID, march2025, map[engine.FieldKey]engine.Value{
		"fp_new_acceptors":       engine.Number(3),
		"women_reproductive_age": engine.Number(0),
	})

	fp, err := newTestAggregator(mem).Evaluate(context.Background(), healthPost, march2025)
	require.NoError(t, err)

	assert.Equal(t, engine.StatusNA, fp.Results[1].Status)
	assert.Equal(t, 1, fp.Counts.NA)
}

func TestEvaluate_MissingRemuneration_SkipsAndWarns(t *testing.T) {
	// GIVEN: An indicator applicable to a PHC but remunerated only for health posts
	// WHEN: Evaluating a PHC
	// THEN: The indicator is skipped, a structured warning is logged and recorded

	mem := store.NewMemory()
	mem.PutIndicator(engine.Indicator{
		Code: "4.1", TargetType: engine.TargetBinary, NumeratorField: "hmis_report_submitted",
		ApplicableTypes: []engine.FacilityType{"phc"},
		Remuneration:    remuneration(500),
	})
	phc := engine.Facility{ID: "phc-001", Type: "phc"}

	core, logs := observer.New(zapcore.WarnLevel)
	agg := newTestAggregator(mem, engine.WithLogger(zap.New(core)))

	fp, err := agg.Evaluate(context.Background(), phc, march2025)
	require.NoError(t, err)

	assert.Empty(t, fp.Results)
	assert.Equal(t, []engine.IndicatorCode{"4.1"}, fp.Skipped)

	entries := logs.FilterField(zap.String("kind", string(engine.WarningMissingRemuneration))).All()
	require.Len(t, entries, 1)
	assert.Equal(t, "phc-001", entries[0].ContextMap()["facility_id"])

	warnings, err := mem.Warnings(context.Background(), engine.WarningFilter{Kind: engine.WarningMissingRemuneration})
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Equal(t, engine.IndicatorCode("4.1"), warnings[0].Indicator)
	assert.Equal(t, march2025, warnings[0].Month)
}

func TestEvaluate_MissingNumerator_DefaultsToZero(t *testing.T) {
	mem := store.NewMemory()
	seedIndicators(mem)

	fp, err := newTestAggregator(mem).Evaluate(context.Background(), healthPost, march2025)
	require.NoError(t, err)

	require.Len(t, fp.Results, 4)
	for _, r := range fp.Results {
		assert.Equal(t, 0.0, r.Actual)
	}
	warnings, _ := mem.Warnings(context.Background(), engine.WarningFilter{Kind: engine.WarningMissingField})
	assert.Len(t, warnings, 4)
}

func TestEvaluate_UnsupportedFormula_Skipped(t *testing.T) {
	mem := store.NewMemory()
	mem.PutIndicator(engine.Indicator{
		Code: "9.9", TargetType: engine.TargetPercentageRange, Formula: "log(A)",
		NumeratorField:  "x",
		ApplicableTypes: []engine.FacilityType{"health_post"},
		Remuneration:    remuneration(100),
	})

	fp, err := newTestAggregator(mem).Evaluate(context.Background(), healthPost, march2025)
	require.NoError(t, err)

	assert.Empty(t, fp.Results)
	assert.Equal(t, []engine.IndicatorCode{"9.9"}, fp.Skipped)
	warnings, _ := mem.Warnings(context.Background(), engine.WarningFilter{Kind: engine.WarningUnsupportedFormula})
	assert.Len(t, warnings, 1)
}

func TestEvaluate_UnparseableTarget_FallsBackAndWarns(t *testing.T) {
	mem := store.NewMemory()
	mem.PutIndicator(engine.Indicator{
		Code: "5.1", TargetType: engine.TargetRange, NumeratorField: "visits", TargetValue: "lots",
		ApplicableTypes: []engine.FacilityType{"health_post"},
		Remuneration:    remuneration(100),
	})
	submit(t, mem, healthPost.ID, march2025, map[engine.FieldKey]engine.Value{"visits": engine.Number(100)})

	fp, err := newTestAggregator(mem).Evaluate(context.Background(), healthPost, march2025)
	require.NoError(t, err)

	require.Len(t, fp.Results, 1)
	assert.Equal(t, 100.0, fp.Results[0].Target)
	assert.Equal(t, engine.StatusAchieved, fp.Results[0].Status)
	warnings, _ := mem.Warnings(context.Background(), engine.WarningFilter{Kind: engine.WarningUnparseableTarget})
	assert.Len(t, warnings, 1)
}

func TestEvaluate_FacilityTargetOverride(t *testing.T) {
	// GIVEN: FP acceptors at 2%, default band 3-5
	// WHEN: The facility has a per-month target of 1-2
	// THEN: It is ACHIEVED

	mem := store.NewMemory()
	seedIndicators(mem)
	mem.PutTarget(engine.FacilityTarget{FacilityID: healthPost.ID, Indicator: "2.1", Month: march2025, TargetValue: "1-2"})
	submit(t, mem, healthPost.ID, march2025, map[engine.FieldKey]engine.Value{
		"fp_new_acceptors":       engine.Number(2),
		"women_reproductive_age": engine.Number(100),
	})

	fp, err := newTestAggregator(mem).Evaluate(context.Background(), healthPost, march2025)
	require.NoError(t, err)

	assert.Equal(t, engine.StatusAchieved, fp.Results[1].Status)
	assert.Equal(t, &engine.Range{Min: 1, Max: 2}, fp.Results[1].Range)
}

func TestEvaluate_OverrideFlagCarriedToResult(t *testing.T) {
	mem := store.NewMemory()
	seedIndicators(mem)
	require.NoError(t, mem.SaveFieldValues(context.Background(), []engine.FieldValue{{
		FacilityID: healthPost.ID, Field: "hmis_report_submitted", Month: march2025,
		Value: engine.Boolean(true), Override: true, OverrideReason: "late upload accepted by county",
	}}))

	fp, err := newTestAggregator(mem).Evaluate(context.Background(), healthPost, march2025)
	require.NoError(t, err)

	hmis := fp.Results[3]
	assert.True(t, hmis.Overridden)
	assert.Equal(t, "late upload accepted by county", hmis.OverrideReason)
}

func TestSortCanonical_UnknownCodesFollowNaturally(t *testing.T) {
	inds := []engine.Indicator{{Code: "1.10"}, {Code: "2.1"}, {Code: "1.2"}, {Code: "9.1"}, {Code: "1.1"}}
	sorted := engine.SortCanonical(inds, []engine.IndicatorCode{"2.1", "1.1"})

	var codes []engine.IndicatorCode
	for _, ind := range sorted {
		codes = append(codes, ind.Code)
	}
	assert.Equal(t, []engine.IndicatorCode{"2.1", "1.1", "1.2", "1.10", "9.1"}, codes)
}
