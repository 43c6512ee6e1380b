package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PERFORMANCE RESULT - One indicator, one facility, one month
// =============================================================================

type PerformanceResult struct {
	Indicator       IndicatorCode   `json:"indicator"`
	IndicatorName   string          `json:"indicator_name"`
	TargetType      TargetType      `json:"target_type"`
	FacilityID      FacilityID      `json:"facility_id"`
	Month           ReportMonth     `json:"month"`
	Actual          float64         `json:"actual"`
	Denominator     float64         `json:"denominator"`
	Target          float64         `json:"target"`
	Range           *Range          `json:"range,omitempty"`
	Achievement     float64         `json:"achievement"`
	Status          Status          `json:"status"`
	Incentive       decimal.Decimal `json:"incentive"`
	MaxRemuneration decimal.Decimal `json:"max_remuneration"`
	Message         string          `json:"message"`
	Overridden      bool            `json:"overridden,omitempty"`
	OverrideReason  string          `json:"override_reason,omitempty"`
}

// =============================================================================
// WORKER REMUNERATION - One worker's share for a facility/month
// =============================================================================

type WorkerRemuneration struct {
	WorkerID      WorkerID        `json:"worker_id"`
	Name          string          `json:"name"`
	Designation   string          `json:"designation"`
	Role          RoleType        `json:"role"`
	AllocatedBase decimal.Decimal `json:"allocated_base"`
	Achievement   float64         `json:"achievement"`
	Amount        decimal.Decimal `json:"amount"`
}

// =============================================================================
// SUMMARY AND RECORD - The persisted snapshot
// =============================================================================

type StatusCounts struct {
	Achieved          int `json:"achieved"`
	PartiallyAchieved int `json:"partially_achieved"`
	BelowTarget       int `json:"below_target"`
	NA                int `json:"na"`
}

func (c *StatusCounts) add(s Status) {
	switch s {
	case StatusAchieved:
		c.Achieved++
	case StatusPartiallyAchieved:
		c.PartiallyAchieved++
	case StatusBelowTarget:
		c.BelowTarget++
	case StatusNA:
		c.NA++
	}
}

// NotAchieved counts indicators that earned nothing (below target or NA).
func (c StatusCounts) NotAchieved() int {
	return c.BelowTarget + c.NA
}

type Summary struct {
	IndicatorTotal      decimal.Decimal     `json:"indicator_total"`
	MaxPossible         decimal.Decimal     `json:"max_possible"`
	WorkerTotal         decimal.Decimal     `json:"worker_total"`
	GrandTotal          decimal.Decimal     `json:"grand_total"`
	PerformancePct      float64             `json:"performance_pct"`
	FacilityAchievement float64             `json:"facility_achievement"`
	Counts              StatusCounts        `json:"counts"`
	TotalIndicators     int                 `json:"total_indicators"`
	SkippedIndicators   []IndicatorCode     `json:"skipped_indicators,omitempty"`
	WorkerIssues        []WorkerConfigError `json:"worker_issues,omitempty"`
}

// RecordKey identifies one snapshot.
type RecordKey struct {
	FacilityID FacilityID  `json:"facility_id"`
	Month      ReportMonth `json:"month"`
}

func (k RecordKey) String() string {
	return string(k.FacilityID) + "@" + k.Month.String()
}

// RemunerationRecord is the snapshot persisted per facility and month.
type RemunerationRecord struct {
	ID           string               `json:"id"`
	FacilityID   FacilityID           `json:"facility_id"`
	FacilityName string               `json:"facility_name"`
	FacilityType FacilityType         `json:"facility_type"`
	Month        ReportMonth          `json:"month"`
	Indicators   []PerformanceResult  `json:"indicators"`
	Workers      []WorkerRemuneration `json:"workers"`
	Summary      Summary              `json:"summary"`
	CalculatedAt time.Time            `json:"calculated_at"`
}

func (r RemunerationRecord) Key() RecordKey {
	return RecordKey{FacilityID: r.FacilityID, Month: r.Month}
}

// Clone returns a deep copy so stored snapshots cannot be mutated by callers.
func (r RemunerationRecord) Clone() RemunerationRecord {
	out := r
	out.Indicators = append([]PerformanceResult(nil), r.Indicators...)
	for i := range out.Indicators {
		if rng := out.Indicators[i].Range; rng != nil {
			cp := *rng
			out.Indicators[i].Range = &cp
		}
	}
	out.Workers = append([]WorkerRemuneration(nil), r.Workers...)
	out.Summary.SkippedIndicators = append([]IndicatorCode(nil), r.Summary.SkippedIndicators...)
	out.Summary.WorkerIssues = append([]WorkerConfigError(nil), r.Summary.WorkerIssues...)
	return out
}
