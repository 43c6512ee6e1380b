/*
calculator.go - Per-indicator achievement and incentive calculation

PURPOSE:
  Pure function from (actual, denominator, max remuneration, descriptor) to
  {achievement %, incentive, status, message}. No I/O, no clock, no globals:
  the same input always yields the same result.

INCENTIVE CURVE (RANGE and PERCENTAGE_RANGE):
  value <  min        → 0%    BELOW_TARGET
  min <= value < max  → 60% + (value-min)/(max-min) × 40%   PARTIALLY_ACHIEVED
  value >= max        → 100%  ACHIEVED

  incentive = incentivePct / 100 × max remuneration

FALLBACKS:
  - denominator <= 0 (or non-finite) → achievement 0, incentive 0, NA
  - non-finite intermediate results collapse to 0
  - incentive is clamped to [0, max remuneration]

EXAMPLE:
  calc := NewCalculator(CalculatorConfig{})
  res, _ := calc.Calculate(CalculationInput{
      Actual:          4,
      Denominator:     100,
      MaxRemuneration: NewMoney(500),
      Descriptor: Descriptor{
          TargetType: TargetPercentageRange,
          Formula:    "(A/B)*100",
          Range:      &Range{Min: 3, Max: 5},
      },
  })
  // res.Incentive == 400, res.Status == PARTIALLY_ACHIEVED
*/
package engine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

const (
	// CurveFloorPct is the share of max remuneration paid at the range minimum.
	CurveFloorPct = 60.0
	// CurveSpanPct is the additional share earned between min and max.
	CurveSpanPct = 40.0
)

// DefaultPercentageRange is the threshold band for PERCENTAGE_RANGE
// indicators that carry no range of their own.
var DefaultPercentageRange = Range{Min: 3, Max: 5}

// DefaultLegacyThreshold is the denominator magnitude below which unflagged
// yearly denominators are treated as already normalized.
const DefaultLegacyThreshold = 100.0

// =============================================================================
// INPUT / OUTPUT
// =============================================================================

// Descriptor carries the scoring rules for one calculation.
type Descriptor struct {
	TargetType    TargetType
	Target        float64
	Range         *Range
	PercentageCap *float64
	Formula       string

	// Facility-specific range; wins over Range.
	Override *Range

	// Explicit normalization state of the denominator; nil when unknown.
	DenominatorNormalized *bool
}

type CalculationInput struct {
	Actual          float64
	Denominator     float64
	MaxRemuneration decimal.Decimal
	Descriptor      Descriptor
	FacilityType    FacilityType

	// Raw submitted fields, used for formula operand substitution.
	Fields map[FieldKey]Value
}

type CalculationResult struct {
	Achievement float64
	Incentive   decimal.Decimal
	Status      Status
	Message     string
}

// =============================================================================
// CALCULATOR
// =============================================================================

type CalculatorConfig struct {
	DefaultRange    *Range
	LegacyThreshold *float64
}

type Calculator struct {
	defaultRange    Range
	legacyThreshold float64

	mu       sync.RWMutex
	compiled map[string]*Formula
}

func NewCalculator(cfg CalculatorConfig) *Calculator {
	c := &Calculator{
		defaultRange:    DefaultPercentageRange,
		legacyThreshold: DefaultLegacyThreshold,
		compiled:        make(map[string]*Formula),
	}
	if cfg.DefaultRange != nil {
		c.defaultRange = cfg.DefaultRange.Normalize()
	}
	if cfg.LegacyThreshold != nil {
		c.legacyThreshold = *cfg.LegacyThreshold
	}
	return c
}

// Calculate scores one indicator. An error is returned only when the
// formula cannot be evaluated; callers skip the indicator in that case.
func (c *Calculator) Calculate(in CalculationInput) (CalculationResult, error) {
	max := in.MaxRemuneration
	if max.IsNegative() {
		max = decimal.Zero
	}

	denominator := finite(in.Denominator)
	if denominator <= 0 {
		return CalculationResult{
			Incentive: decimal.Zero,
			Status:    StatusNA,
			Message:   fmt.Sprintf("denominator %g unusable", in.Denominator),
		}, nil
	}
	actual := finite(in.Actual)

	switch in.Descriptor.TargetType {
	case TargetBinary:
		return c.binary(actual, max), nil
	case TargetRange:
		return c.rangeTarget(actual, c.rangeFor(in.Descriptor, true), max), nil
	case TargetPercentageRange:
		return c.percentageRange(in, actual, denominator, max)
	default:
		return CalculationResult{}, fmt.Errorf("%w: target type %q", ErrUnsupportedFormula, in.Descriptor.TargetType)
	}
}

func (c *Calculator) binary(actual float64, max decimal.Decimal) CalculationResult {
	if actual > 0 {
		return CalculationResult{
			Achievement: 100,
			Incentive:   max,
			Status:      StatusAchieved,
			Message:     "binary: achieved",
		}
	}
	return CalculationResult{
		Incentive: decimal.Zero,
		Status:    StatusBelowTarget,
		Message:   "binary: not achieved",
	}
}

func (c *Calculator) rangeTarget(actual float64, r Range, max decimal.Decimal) CalculationResult {
	pct, status := curve(actual, r)
	res := CalculationResult{
		Incentive: clamp(percentOf(max, pct), max),
		Status:    status,
	}
	switch status {
	case StatusAchieved:
		res.Achievement = 100
		res.Message = fmt.Sprintf("range: %g at or above max %g", actual, r.Max)
	case StatusPartiallyAchieved:
		res.Achievement = roundPct(pct)
		res.Message = fmt.Sprintf("range: %g within [%g, %g], incentive %.2f%%", actual, r.Min, r.Max, pct)
	default:
		res.Message = fmt.Sprintf("range: %g below min %g", actual, r.Min)
	}
	return res
}

func (c *Calculator) percentageRange(in CalculationInput, actual, denominator float64, max decimal.Decimal) (CalculationResult, error) {
	formula, err := c.compile(in.Descriptor.Formula)
	if err != nil {
		return CalculationResult{}, err
	}

	achievement, note, err := formula.Evaluate(Operands{
		A:               actual,
		B:               denominator,
		Fields:          in.Fields,
		Normalized:      in.Descriptor.DenominatorNormalized,
		LegacyThreshold: c.legacyThreshold,
	})
	if errors.Is(err, ErrUnusableDenominator) {
		return CalculationResult{
			Incentive: decimal.Zero,
			Status:    StatusNA,
			Message:   err.Error(),
		}, nil
	}
	if err != nil {
		return CalculationResult{}, err
	}
	achievement = snap(achievement)
	if achievement < 0 {
		achievement = 0
	}
	if limit := in.Descriptor.PercentageCap; limit != nil && achievement > *limit {
		achievement = *limit
	}

	r := c.rangeFor(in.Descriptor, false)
	pct, status := curve(achievement, r)
	return CalculationResult{
		Achievement: roundPct(achievement),
		Incentive:   clamp(percentOf(max, pct), max),
		Status:      status,
		Message: fmt.Sprintf("percentage range: %.2f%% against [%g, %g] (%s), incentive %.2f%%",
			achievement, r.Min, r.Max, note, pct),
	}, nil
}

// rangeFor picks the threshold band: facility override, then the indicator
// range, then (RANGE only) the explicit target as a single threshold, then
// the calculator default.
func (c *Calculator) rangeFor(d Descriptor, allowTarget bool) Range {
	switch {
	case d.Override != nil:
		return d.Override.Normalize()
	case d.Range != nil:
		return d.Range.Normalize()
	case allowTarget && d.Target > 0:
		return Range{Min: d.Target, Max: d.Target}
	default:
		return c.defaultRange
	}
}

func (c *Calculator) compile(text string) (*Formula, error) {
	c.mu.RLock()
	f, ok := c.compiled[text]
	c.mu.RUnlock()
	if ok {
		return f, nil
	}

	f, err := CompileFormula(text)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.compiled[text] = f
	c.mu.Unlock()
	return f, nil
}

// curve maps a value onto the incentive percentage for a range.
func curve(value float64, r Range) (float64, Status) {
	switch {
	case value >= r.Max:
		return 100, StatusAchieved
	case value < r.Min:
		return 0, StatusBelowTarget
	default:
		pct := CurveFloorPct + ((value-r.Min)/(r.Max-r.Min))*CurveSpanPct
		return finite(pct), StatusPartiallyAchieved
	}
}

func clamp(amount, max decimal.Decimal) decimal.Decimal {
	if amount.IsNegative() {
		return decimal.Zero
	}
	if amount.GreaterThan(max) {
		return max
	}
	return amount
}
