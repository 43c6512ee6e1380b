/*
Package program provides the pre-built indicator catalog of a results-based
financing program.

PURPOSE:
  The engine is program-agnostic. This package supplies one ready-to-use
  program: facility types, the indicator catalog with its remuneration
  scale, the conditional field table, and the classification data
  (canonical order, population defaults, worker role mapping) the engine
  takes as injected configuration.

AVAILABLE INDICATORS:
  1.1  ANC visits             PERCENTAGE_RANGE  (A/(B/12))*100
  1.2  Facility deliveries    PERCENTAGE_RANGE  (A/(B/12))*100
  2.1  FP new acceptors       PERCENTAGE_RANGE  (A/B)*100, target 3-5
  2.2  Immunization coverage  RANGE             80-95
  3.1  Quality checklist      RANGE             70-90
  3.2  Client satisfaction    PERCENTAGE_RANGE  1-5 scale, target 60-80
  4.1  HMIS report submitted  BINARY
  4.2  TB referrals           RANGE             1-3

FACILITY TYPES:
  health_post, phc, hospital: individually remunerated staff
  community_unit:            wholly team-based, no worker rows

EXAMPLE:
  catalog := program.Default()
  agg := engine.NewAggregator(store, store, catalog.Config, calc)

SEE ALSO:
  - factory/catalog.go: the same catalog loaded from YAML or JSON
*/
package program

import (
	"github.com/shopspring/decimal"

	"github.com/warp/incentive-engine/conditional"
	"github.com/warp/incentive-engine/engine"
)

// Catalog is everything one program needs: engine configuration, the
// indicator catalog and the conditional field table.
type Catalog struct {
	Name       string
	Config     engine.ProgramConfig
	Indicators []engine.Indicator
	Rules      []conditional.Rule
}

// Indicator returns the catalog entry for code.
func (c Catalog) Indicator(code engine.IndicatorCode) (engine.Indicator, bool) {
	for _, ind := range c.Indicators {
		if ind.Code == code {
			return ind, true
		}
	}
	return engine.Indicator{}, false
}

// Default returns the built-in program catalog.
func Default() Catalog {
	return Catalog{
		Name:       "Facility RBF",
		Config:     DefaultConfig(),
		Indicators: DefaultIndicators(),
		Rules:      DefaultRules(),
	}
}

// =============================================================================
// PROGRAM CONFIG
// =============================================================================

func DefaultConfig() engine.ProgramConfig {
	return engine.ProgramConfig{
		CanonicalOrder: []engine.IndicatorCode{
			IndANCVisits, IndFacilityDeliveries,
			IndFPAcceptors, IndImmunization,
			IndQualityChecklist, IndClientSatisfaction,
			IndHMISReport, IndTBReferrals,
		},
		DefaultPopulation: map[engine.FacilityType]float64{
			HealthPost:                5000,
			PHC:                       25000,
			Hospital:                  100000,
			engine.PopulationFallback: 10000,
		},
		SatisfactionIndicator: IndClientSatisfaction,
		SatisfactionScale:     5,
		DefaultTarget:         100,
		RoleMapping: map[string]engine.RoleType{
			"facility in-charge":         engine.RoleIndividualLead,
			"in-charge":                  engine.RoleIndividualLead,
			"medical director":           engine.RoleIndividualLead,
			"chv":                        engine.RoleTeamPooled,
			"chew":                       engine.RoleTeamPooled,
			"community health volunteer": engine.RoleTeamPooled,
			"nurse":                      engine.RolePerformanceProportional,
			"midwife":                    engine.RolePerformanceProportional,
			"clinical officer":           engine.RolePerformanceProportional,
			"lab technician":             engine.RolePerformanceProportional,
		},
		DefaultRole:    engine.RolePerformanceProportional,
		TeamBasedTypes: []engine.FacilityType{CommunityUnit},
		WorkerRules: map[engine.FacilityType]engine.WorkerRule{
			HealthPost: {RequiredRoles: []engine.RoleType{engine.RoleIndividualLead}, MinWorkers: 1, MaxWorkers: 6},
			PHC:        {RequiredRoles: []engine.RoleType{engine.RoleIndividualLead}, MinWorkers: 2, MaxWorkers: 25},
			Hospital:   {RequiredRoles: []engine.RoleType{engine.RoleIndividualLead}, MinWorkers: 5},
		},
	}
}

// =============================================================================
// INDICATORS
// =============================================================================

func money(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

// scale builds the remuneration table for the clinical facility types.
func scale(hp, phc, hosp int64) map[engine.FacilityType]decimal.Decimal {
	return map[engine.FacilityType]decimal.Decimal{
		HealthPost: money(hp),
		PHC:        money(phc),
		Hospital:   money(hosp),
	}
}

var clinicalTypes = []engine.FacilityType{HealthPost, PHC, Hospital}

func withCommunityUnit(m map[engine.FacilityType]decimal.Decimal) map[engine.FacilityType]decimal.Decimal {
	m[CommunityUnit] = money(300)
	return m
}

func DefaultIndicators() []engine.Indicator {
	return []engine.Indicator{
		{
			Code:             IndANCVisits,
			Name:             "Antenatal care visits",
			TargetType:       engine.TargetPercentageRange,
			Formula:          "(A/(B/12))*100",
			NumeratorField:   FieldANCVisits,
			DenominatorField: FieldExpectedPregnancy,
			ApplicableTypes:  []engine.FacilityType{HealthPost, PHC, Hospital, CommunityUnit},
			TargetValue:      "60-80",
			Remuneration:     withCommunityUnit(scale(500, 2000, 5000)),
		},
		{
			Code:             IndFacilityDeliveries,
			Name:             "Skilled facility deliveries",
			TargetType:       engine.TargetPercentageRange,
			Formula:          "(A/(B/12))*100",
			NumeratorField:   FieldDeliveries,
			DenominatorField: FieldExpectedDeliveries,
			ApplicableTypes:  clinicalTypes,
			TargetValue:      "50-70",
			Remuneration:     scale(500, 2000, 5000),
		},
		{
			Code:             IndFPAcceptors,
			Name:             "Family planning new acceptors",
			TargetType:       engine.TargetPercentageRange,
			Formula:          "(A/B)*100",
			NumeratorField:   FieldFPAcceptors,
			DenominatorField: FieldWomenReproductive,
			ApplicableTypes:  []engine.FacilityType{HealthPost, PHC, Hospital, CommunityUnit},
			TargetValue:      "3-5",
			Remuneration:     withCommunityUnit(scale(500, 2000, 5000)),
		},
		{
			Code:            IndImmunization,
			Name:            "Fully immunized children",
			TargetType:      engine.TargetRange,
			NumeratorField:  FieldFullyImmunized,
			ApplicableTypes: clinicalTypes,
			TargetValue:     `{"min": 80, "max": 95}`,
			Remuneration:    scale(400, 1500, 4000),
		},
		{
			Code:            IndQualityChecklist,
			Name:            "Quality of care checklist score",
			TargetType:      engine.TargetRange,
			NumeratorField:  FieldQualityScore,
			ApplicableTypes: clinicalTypes,
			TargetValue:     "70%-90%",
			Remuneration:    scale(300, 1000, 3000),
		},
		{
			Code:            IndClientSatisfaction,
			Name:            "Client satisfaction (1-5 scale)",
			TargetType:      engine.TargetPercentageRange,
			Formula:         "(A/B)*100",
			NumeratorField:  FieldSatisfactionScore,
			ApplicableTypes: clinicalTypes,
			TargetValue:     "60-80",
			Remuneration:    scale(200, 800, 2000),
		},
		{
			Code:            IndHMISReport,
			Name:            "Monthly HMIS report submitted on time",
			TargetType:      engine.TargetBinary,
			NumeratorField:  FieldHMISSubmitted,
			ApplicableTypes: []engine.FacilityType{HealthPost, PHC, Hospital, CommunityUnit},
			TargetValue:     "true",
			Remuneration:    withCommunityUnit(scale(500, 2000, 5000)),
		},
		{
			Code:            IndTBReferrals,
			Name:            "Presumptive TB referrals",
			TargetType:      engine.TargetRange,
			NumeratorField:  FieldTBReferrals,
			ApplicableTypes: []engine.FacilityType{HealthPost, PHC},
			TargetValue:     "1-3",
			Remuneration: map[engine.FacilityType]decimal.Decimal{
				HealthPost: money(200),
				PHC:        money(600),
			},
		},
	}
}

// =============================================================================
// CONDITIONAL FIELDS
// =============================================================================

func DefaultRules() []conditional.Rule {
	return []conditional.Rule{
		{
			Controller: FieldHasDeliveries,
			Dependent:  FieldDeliveries,
			Kind:       conditional.KindCount,
			Reason:     "facility does not offer delivery services",
		},
		{
			Controller: FieldTBScreening,
			Dependent:  FieldTBReferrals,
			Kind:       conditional.KindCount,
			Required:   true,
			Reason:     "no TB screening was done this month",
		},
	}
}
