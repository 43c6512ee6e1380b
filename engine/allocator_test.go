package engine_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/incentive-engine/engine"
)

// performance builds a facility result earning `earned` out of `possible`.
func performance(f engine.Facility, earned, possible float64) engine.FacilityPerformance {
	status := engine.StatusPartiallyAchieved
	if earned >= possible {
		status = engine.StatusAchieved
	}
	return engine.FacilityPerformance{
		Facility: f,
		Month:    march2025,
		Results: []engine.PerformanceResult{{
			Indicator: "1.1", Status: status,
			Incentive: money(earned), MaxRemuneration: money(possible),
		}},
		IndicatorTotal: money(earned),
		MaxPossible:    money(possible),
	}
}

func TestAllocate_RoleModels(t *testing.T) {
	// GIVEN: A health post at 80% achievement (1600 of 2000) with
	//   an in-charge, two nurses and a CHV
	// THEN:
	//   in-charge: full facility total (1600), not in worker total
	//   nurses:    base × 80%
	//   CHV:       not listed

	alloc := engine.NewAllocator(testProgram())
	workers := []engine.Worker{
		{ID: "w-3", Name: "Zawadi", Designation: "Nurse", AllocatedBase: money(1000)},
		{ID: "w-1", Name: "Amina", Designation: "In-Charge", AllocatedBase: money(3000)},
		{ID: "w-4", Name: "Baraka", Designation: "CHV", AllocatedBase: money(500)},
		{ID: "w-2", Name: "Juma", Designation: "nurse", AllocatedBase: money(1250)},
	}

	out := alloc.Allocate(performance(healthPost, 1600, 2000), workers)

	require.Len(t, out.Workers, 3)
	assert.Equal(t, engine.WorkerID("w-1"), out.Workers[0].WorkerID)
	assert.Equal(t, engine.RoleIndividualLead, out.Workers[0].Role)
	assertMoney(t, 1600, out.Workers[0].Amount)

	assert.Equal(t, "Juma", out.Workers[1].Name)
	assertMoney(t, 1000, out.Workers[1].Amount)
	assert.Equal(t, "Zawadi", out.Workers[2].Name)
	assertMoney(t, 800, out.Workers[2].Amount)

	assertMoney(t, 1800, out.WorkerTotal)
	assertMoney(t, 3400, out.GrandTotal)
	assert.Equal(t, 80.0, out.Achievement)
}

func TestAllocate_TeamBasedFacility_NoWorkerRows(t *testing.T) {
	// GIVEN: A wholly team-based community unit with 3 worker records
	// THEN: The worker list is empty and the grand total is the indicator total

	unit := engine.Facility{ID: "cu-001", Type: "community_unit"}
	workers := []engine.Worker{
		{ID: "w-1", Designation: "CHV", AllocatedBase: money(100)},
		{ID: "w-2", Designation: "Nurse", AllocatedBase: money(400)},
		{ID: "w-3", Designation: "In-Charge", AllocatedBase: money(900)},
	}

	out := engine.NewAllocator(testProgram()).Allocate(performance(unit, 300, 500), workers)

	assert.Empty(t, out.Workers)
	assert.True(t, out.WorkerTotal.IsZero())
	assertMoney(t, 300, out.GrandTotal)
}

func TestAllocate_ProportionalInvariant(t *testing.T) {
	// GIVEN: Many proportional workers with awkward bases
	// THEN: Σ shares = achievement × Σ bases / 100 within a cent per worker

	alloc := engine.NewAllocator(testProgram())
	bases := []float64{333.33, 1234.56, 999.99, 10, 0.01, 7777.77}
	var workers []engine.Worker
	sumBase := decimal.Zero
	for i, b := range bases {
		workers = append(workers, engine.Worker{
			ID: engine.WorkerID(string(rune('a' + i))), Role: engine.RolePerformanceProportional, AllocatedBase: money(b),
		})
		sumBase = sumBase.Add(money(b))
	}

	fp := performance(healthPost, 1234.56, 2000)
	out := alloc.Allocate(fp, workers)

	expected := sumBase.Mul(decimal.NewFromFloat(out.Achievement)).Div(decimal.NewFromInt(100))
	diff := out.WorkerTotal.Sub(expected).Abs()
	assert.True(t, diff.LessThanOrEqual(decimal.NewFromFloat(0.01*float64(len(bases)))), "diff %s", diff)
	assert.True(t, out.GrandTotal.Equal(fp.IndicatorTotal.Add(out.WorkerTotal)))
}

func TestAllocate_NAIndicatorsExcludedFromAchievement(t *testing.T) {
	fp := performance(healthPost, 500, 1000)
	fp.Results = append(fp.Results, engine.PerformanceResult{
		Indicator: "2.1", Status: engine.StatusNA, Incentive: decimal.Zero, MaxRemuneration: money(1000),
	})

	out := engine.NewAllocator(testProgram()).Allocate(fp, []engine.Worker{
		{ID: "w-1", Role: engine.RolePerformanceProportional, AllocatedBase: money(200)},
	})
	assert.Equal(t, 50.0, out.Achievement)
	assertMoney(t, 100, out.WorkerTotal)
}

func TestRoleOf_Classification(t *testing.T) {
	alloc := engine.NewAllocator(testProgram())

	assert.Equal(t, engine.RoleTeamPooled, alloc.RoleOf(engine.Worker{Designation: " chv "}))
	assert.Equal(t, engine.RoleIndividualLead, alloc.RoleOf(engine.Worker{Designation: "Nurse", Role: engine.RoleIndividualLead}))
	assert.Equal(t, engine.RolePerformanceProportional, alloc.RoleOf(engine.Worker{Designation: "Pharmacist"}))
}

func TestValidateWorkers(t *testing.T) {
	program := testProgram()
	program.WorkerRules = map[engine.FacilityType]engine.WorkerRule{
		"health_post": {RequiredRoles: []engine.RoleType{engine.RoleIndividualLead}, MinWorkers: 2, MaxWorkers: 3},
	}
	alloc := engine.NewAllocator(program)

	// Missing in-charge and too few workers
	issues := alloc.ValidateWorkers(healthPost, []engine.Worker{{ID: "w-1", Designation: "Nurse"}})
	require.Len(t, issues, 2)
	assert.Equal(t, engine.WorkerIssueMissingRole, issues[0].Issue)
	assert.Equal(t, engine.RoleIndividualLead, issues[0].Role)
	assert.Equal(t, engine.WorkerIssueCount, issues[1].Issue)
	assert.Contains(t, issues[1].Error(), "allowed 2..3")

	// Valid registry
	issues = alloc.ValidateWorkers(healthPost, []engine.Worker{
		{ID: "w-1", Designation: "In-Charge"}, {ID: "w-2", Designation: "Nurse"},
	})
	assert.Empty(t, issues)

	// Issues surface on the allocation without stopping it
	out := alloc.Allocate(performance(healthPost, 100, 100), []engine.Worker{{ID: "w-1", Designation: "Nurse", AllocatedBase: money(50)}})
	assert.Len(t, out.Issues, 2)
	assertMoney(t, 50, out.WorkerTotal)
}
