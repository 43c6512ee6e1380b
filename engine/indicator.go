/*
indicator.go - Indicator configuration and program-level classification data

PURPOSE:
  Defines the rules that govern how one indicator is scored: its target type,
  formula, which facility types it applies to, what it pays per facility type,
  and any facility-specific target overrides. ProgramConfig carries every
  classification table the engine needs (canonical order, population
  defaults, worker role mapping), injected explicitly rather than held in
  package globals.

TARGET TYPES:
  BINARY:
    - Achieved when the actual value is positive (report submitted, service
      available). Pays all or nothing.

  RANGE:
    - Actual value compared against a {min, max} band. Pays 60% of the
      maximum at min, rising linearly to 100% at max.

  PERCENTAGE_RANGE:
    - A formula over actual (A) and denominator (B) yields a percentage,
      which is then scored against a {min, max} band like RANGE.

EXAMPLE:
  ind := Indicator{
      Code:            "2.1",
      Name:            "Family planning new acceptors",
      TargetType:      TargetPercentageRange,
      Formula:         "(A/B)*100",
      NumeratorField:  "fp_new_acceptors",
      ApplicableTypes: []FacilityType{"health_post"},
      TargetValue:     "3-5",
      Remuneration:    map[FacilityType]decimal.Decimal{"health_post": NewMoney(500)},
  }
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TARGET TYPES AND STATUSES
// =============================================================================

type TargetType string

const (
	TargetBinary          TargetType = "BINARY"
	TargetRange           TargetType = "RANGE"
	TargetPercentageRange TargetType = "PERCENTAGE_RANGE"
)

func (t TargetType) Valid() bool {
	switch t {
	case TargetBinary, TargetRange, TargetPercentageRange:
		return true
	}
	return false
}

type Status string

const (
	StatusAchieved          Status = "ACHIEVED"
	StatusPartiallyAchieved Status = "PARTIALLY_ACHIEVED"
	StatusBelowTarget       Status = "BELOW_TARGET"
	StatusNA                Status = "NA"
)

// Range is an inclusive threshold band.
type Range struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Normalize returns the range with Min <= Max.
func (r Range) Normalize() Range {
	if r.Min > r.Max {
		return Range{Min: r.Max, Max: r.Min}
	}
	return r
}

// =============================================================================
// INDICATOR - Scoring rules for one performance indicator
// =============================================================================

type Indicator struct {
	Code             IndicatorCode
	Name             string
	TargetType       TargetType
	Formula          string
	NumeratorField   FieldKey
	DenominatorField FieldKey // optional

	ApplicableTypes []FacilityType

	// Raw stored target: "80", "80%", "3-5", `{"min":3,"max":5}`, "true".
	TargetValue string

	// Explicit range, used when the target encoding carries none.
	Range *Range

	// Optional upper bound applied to formula results before scoring.
	PercentageCap *float64

	// Maximum incentive per facility type.
	Remuneration map[FacilityType]decimal.Decimal

	// Facility-specific threshold overrides.
	FacilityOverrides map[FacilityID]Range
}

// AppliesTo reports whether the indicator is scored for the facility type.
func (ind Indicator) AppliesTo(ft FacilityType) bool {
	for _, t := range ind.ApplicableTypes {
		if t == ft {
			return true
		}
	}
	return false
}

// MaxRemuneration returns the configured maximum incentive for a facility
// type. ok is false when the indicator has no remuneration for that type.
func (ind Indicator) MaxRemuneration(ft FacilityType) (decimal.Decimal, bool) {
	amount, ok := ind.Remuneration[ft]
	return amount, ok
}

// FacilityTarget overrides an indicator's target for one facility and month.
type FacilityTarget struct {
	FacilityID  FacilityID
	Indicator   IndicatorCode
	Month       ReportMonth
	TargetValue string
	Range       *Range
}

// =============================================================================
// FACILITIES, FIELDS, WORKERS
// =============================================================================

type Facility struct {
	ID   FacilityID
	Name string
	Type FacilityType
}

// FieldValue is one submitted value for (facility, field, month).
type FieldValue struct {
	FacilityID FacilityID
	Field      FieldKey
	Month      ReportMonth
	Value      Value

	Override       bool
	OverrideReason string

	// Normalized records whether a denominator is already period-normalized.
	// nil means unknown (legacy data).
	Normalized *bool

	UpdatedAt time.Time
}

type RoleType string

const (
	RoleIndividualLead          RoleType = "individual_lead"
	RoleTeamPooled              RoleType = "team_pooled"
	RolePerformanceProportional RoleType = "performance_proportional"
)

func (r RoleType) Valid() bool {
	switch r {
	case RoleIndividualLead, RoleTeamPooled, RolePerformanceProportional:
		return true
	}
	return false
}

type Worker struct {
	ID            WorkerID
	FacilityID    FacilityID
	Name          string
	Designation   string
	Role          RoleType // empty: derive from designation
	AllocatedBase decimal.Decimal
}

// WorkerRule constrains the worker registry of a facility type.
type WorkerRule struct {
	RequiredRoles []RoleType
	MinWorkers    int
	MaxWorkers    int // 0 = unbounded
}

// =============================================================================
// PROGRAM CONFIG - Injected classification tables
// =============================================================================

// PopulationFallback is the DefaultPopulation key used when a facility type
// has no entry of its own.
const PopulationFallback FacilityType = "*"

type ProgramConfig struct {
	// Published indicator numbering; results are sorted in this order.
	CanonicalOrder []IndicatorCode

	// Default denominator when an indicator's denominator field is missing.
	DefaultPopulation map[FacilityType]float64

	// Indicator scored on a fixed scale; its denominator is always
	// SatisfactionScale.
	SatisfactionIndicator IndicatorCode
	SatisfactionScale     float64

	// Target used when an indicator's stored target does not parse.
	DefaultTarget float64

	// Designation (lower-cased) to role; DefaultRole when unmapped.
	RoleMapping map[string]RoleType
	DefaultRole RoleType

	// Facility types whose staff are paid only as a team.
	TeamBasedTypes []FacilityType

	WorkerRules map[FacilityType]WorkerRule
}

// IsTeamBased reports whether no individual worker rows are emitted for ft.
func (pc ProgramConfig) IsTeamBased(ft FacilityType) bool {
	for _, t := range pc.TeamBasedTypes {
		if t == ft {
			return true
		}
	}
	return false
}

// Population returns the default population for a facility type, falling
// back to the "*" entry.
func (pc ProgramConfig) Population(ft FacilityType) (float64, bool) {
	if v, ok := pc.DefaultPopulation[ft]; ok {
		return v, true
	}
	v, ok := pc.DefaultPopulation[PopulationFallback]
	return v, ok
}
