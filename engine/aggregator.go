/*
aggregator.go - Facility performance aggregation

PURPOSE:
  For one facility and one report month, evaluate every applicable indicator
  and total the results. The aggregator resolves each indicator's inputs
  (actual, denominator, target, range), invokes the Calculator, and sorts the
  results into the program's canonical order.

RESOLUTION ORDER:
  actual:       numerator field → 0 (missing_field warning)
  denominator:  satisfaction indicator → SatisfactionScale
                denominator field → value
                PERCENTAGE_RANGE or declared denominator field
                    → population table (facility type, then "*")
                otherwise → resolved target
  target:       facility target override → indicator target → DefaultTarget
  range:        facility override → target range → indicator range

SKIP-AND-WARN:
  An indicator with no remuneration for the facility type, or with a formula
  that cannot be evaluated, is skipped. The skip is logged and recorded as a
  ConfigWarning; it never aborts the facility.

SEE ALSO:
  - calculator.go: per-indicator scoring
  - allocator.go: consumes FacilityPerformance
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// FacilityPerformance is the aggregated evaluation of one facility/month.
type FacilityPerformance struct {
	Facility Facility
	Month    ReportMonth
	Results  []PerformanceResult

	IndicatorTotal decimal.Decimal
	MaxPossible    decimal.Decimal
	Counts         StatusCounts
	Skipped        []IndicatorCode
	Warnings       []ConfigWarning
}

// PerformancePct is achievedCount / totalIndicators × 100.
func (fp FacilityPerformance) PerformancePct() float64 {
	if len(fp.Results) == 0 {
		return 0
	}
	return roundPct(float64(fp.Counts.Achieved) / float64(len(fp.Results)) * 100)
}

// Achievement is the facility achievement %: earned incentive over the
// maximum earnable on indicators that could be evaluated (NA excluded).
func (fp FacilityPerformance) Achievement() float64 {
	earned, possible := decimal.Zero, decimal.Zero
	for _, r := range fp.Results {
		if r.Status == StatusNA {
			continue
		}
		earned = earned.Add(r.Incentive)
		possible = possible.Add(r.MaxRemuneration)
	}
	if !possible.IsPositive() {
		return 0
	}
	pct, _ := earned.Div(possible).Mul(decimal.NewFromInt(100)).Float64()
	return roundPct(pct)
}

// =============================================================================
// AGGREGATOR
// =============================================================================

type Aggregator struct {
	indicators IndicatorSource
	fields     FieldSource
	targets    TargetSource
	program    ProgramConfig
	calc       *Calculator
	sink       WarningSink
	logger     *zap.Logger
	now        func() time.Time
}

type AggregatorOption func(*Aggregator)

func WithTargets(t TargetSource) AggregatorOption {
	return func(a *Aggregator) { a.targets = t }
}

func WithWarningSink(s WarningSink) AggregatorOption {
	return func(a *Aggregator) { a.sink = s }
}

func WithLogger(l *zap.Logger) AggregatorOption {
	return func(a *Aggregator) { a.logger = l }
}

func WithClock(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) { a.now = now }
}

func NewAggregator(indicators IndicatorSource, fields FieldSource, program ProgramConfig, calc *Calculator, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		indicators: indicators,
		fields:     fields,
		program:    program,
		calc:       calc,
		sink:       nopSink{},
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	if a.calc == nil {
		a.calc = NewCalculator(CalculatorConfig{})
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Aggregator) Program() ProgramConfig { return a.program }

// Evaluate scores every indicator applicable to the facility for the month.
// Errors are returned only when the sources themselves fail.
func (a *Aggregator) Evaluate(ctx context.Context, facility Facility, month ReportMonth) (FacilityPerformance, error) {
	indicators, err := a.indicators.Indicators(ctx)
	if err != nil {
		return FacilityPerformance{}, fmt.Errorf("load indicators: %w", err)
	}
	fields, err := a.fields.FieldValues(ctx, facility.ID, month)
	if err != nil {
		return FacilityPerformance{}, fmt.Errorf("load field values for %s %s: %w", facility.ID, month, err)
	}
	var targets map[IndicatorCode]FacilityTarget
	if a.targets != nil {
		targets, err = a.targets.FacilityTargets(ctx, facility.ID, month)
		if err != nil {
			return FacilityPerformance{}, fmt.Errorf("load facility targets for %s %s: %w", facility.ID, month, err)
		}
	}

	fp := FacilityPerformance{
		Facility:       facility,
		Month:          month,
		IndicatorTotal: decimal.Zero,
		MaxPossible:    decimal.Zero,
	}

	raw := make(map[FieldKey]Value, len(fields))
	for k, fv := range fields {
		raw[k] = fv.Value
	}

	for _, ind := range a.SortIndicators(applicable(indicators, facility.Type)) {
		res, ok := a.evaluateIndicator(ctx, &fp, ind, fields, raw, targets)
		if !ok {
			fp.Skipped = append(fp.Skipped, ind.Code)
			continue
		}
		fp.Results = append(fp.Results, res)
		fp.Counts.add(res.Status)
		fp.IndicatorTotal = fp.IndicatorTotal.Add(res.Incentive)
		fp.MaxPossible = fp.MaxPossible.Add(res.MaxRemuneration)
	}
	return fp, nil
}

func (a *Aggregator) evaluateIndicator(
	ctx context.Context,
	fp *FacilityPerformance,
	ind Indicator,
	fields map[FieldKey]FieldValue,
	raw map[FieldKey]Value,
	targets map[IndicatorCode]FacilityTarget,
) (PerformanceResult, bool) {
	ft := fp.Facility.Type

	maxRem, ok := ind.MaxRemuneration(ft)
	if !ok {
		a.warn(ctx, fp, ind.Code, WarningMissingRemuneration,
			fmt.Sprintf("no remuneration configured for facility type %s", ft))
		return PerformanceResult{}, false
	}

	actual := 0.0
	numerator, hasNumerator := fields[ind.NumeratorField]
	if hasNumerator {
		actual, hasNumerator = numerator.Value.Float()
	}
	if !hasNumerator && ind.NumeratorField != "" {
		a.warn(ctx, fp, ind.Code, WarningMissingField,
			fmt.Sprintf("numerator field %s missing, using 0", ind.NumeratorField))
	}

	target, targetRange := a.resolveTarget(ctx, fp, ind, targets)
	denominator, normalized := a.resolveDenominator(ind, ft, fields, target)

	desc := Descriptor{
		TargetType:            ind.TargetType,
		Target:                target,
		Range:                 targetRange,
		PercentageCap:         ind.PercentageCap,
		Formula:               ind.Formula,
		DenominatorNormalized: normalized,
	}
	if override, ok := ind.FacilityOverrides[fp.Facility.ID]; ok {
		o := override
		desc.Override = &o
	}

	calc, err := a.calc.Calculate(CalculationInput{
		Actual:          actual,
		Denominator:     denominator,
		MaxRemuneration: maxRem,
		Descriptor:      desc,
		FacilityType:    ft,
		Fields:          raw,
	})
	if err != nil {
		kind := WarningUnsupportedFormula
		if errors.Is(err, ErrMissingOperand) {
			kind = WarningMissingField
		}
		a.warn(ctx, fp, ind.Code, kind, err.Error())
		return PerformanceResult{}, false
	}

	res := PerformanceResult{
		Indicator:       ind.Code,
		IndicatorName:   ind.Name,
		TargetType:      ind.TargetType,
		FacilityID:      fp.Facility.ID,
		Month:           fp.Month,
		Actual:          actual,
		Denominator:     denominator,
		Target:          target,
		Achievement:     calc.Achievement,
		Status:          calc.Status,
		Incentive:       calc.Incentive,
		MaxRemuneration: maxRem,
		Message:         calc.Message,
	}
	if desc.Override != nil {
		res.Range = desc.Override
	} else if desc.Range != nil {
		res.Range = desc.Range
	}
	if numerator.Override {
		res.Overridden = true
		res.OverrideReason = numerator.OverrideReason
	}
	return res, true
}

func (a *Aggregator) resolveTarget(ctx context.Context, fp *FacilityPerformance, ind Indicator, targets map[IndicatorCode]FacilityTarget) (float64, *Range) {
	rng := ind.Range
	if ft, ok := targets[ind.Code]; ok {
		if ft.Range != nil {
			r := ft.Range.Normalize()
			return r.Max, &r
		}
		if t, ok, err := ParseTarget(ft.TargetValue); err == nil && ok {
			if t.Range != nil {
				return t.Value, t.Range
			}
			return t.Value, rng
		}
	}

	t, ok, err := ParseTarget(ind.TargetValue)
	if err != nil {
		a.warn(ctx, fp, ind.Code, WarningUnparseableTarget,
			fmt.Sprintf("target %q unparseable, using %g", ind.TargetValue, a.defaultTarget()))
	}
	if !ok {
		return a.defaultTarget(), rng
	}
	if t.Range != nil {
		return t.Value, t.Range
	}
	return t.Value, rng
}

func (a *Aggregator) defaultTarget() float64 {
	if a.program.DefaultTarget > 0 {
		return a.program.DefaultTarget
	}
	return 100
}

func (a *Aggregator) resolveDenominator(ind Indicator, ft FacilityType, fields map[FieldKey]FieldValue, target float64) (float64, *bool) {
	if a.program.SatisfactionIndicator != "" && ind.Code == a.program.SatisfactionIndicator {
		scale := a.program.SatisfactionScale
		if scale <= 0 {
			scale = 5
		}
		return scale, nil
	}
	if ind.DenominatorField != "" {
		if fv, ok := fields[ind.DenominatorField]; ok {
			if v, ok := fv.Value.Float(); ok {
				return v, fv.Normalized
			}
		}
	}
	if ind.TargetType == TargetPercentageRange || ind.DenominatorField != "" {
		if pop, ok := a.program.Population(ft); ok {
			// Population table entries are raw yearly figures.
			raw := false
			return pop, &raw
		}
	}
	if target > 0 {
		return target, nil
	}
	return a.defaultTarget(), nil
}

func (a *Aggregator) warn(ctx context.Context, fp *FacilityPerformance, code IndicatorCode, kind WarningKind, msg string) {
	w := ConfigWarning{
		FacilityID:   fp.Facility.ID,
		FacilityType: fp.Facility.Type,
		Month:        fp.Month,
		Indicator:    code,
		Kind:         kind,
		Message:      msg,
		RecordedAt:   a.now().UTC(),
	}
	fp.Warnings = append(fp.Warnings, w)
	a.logger.Warn("indicator configuration warning",
		zap.String("facility_id", string(w.FacilityID)),
		zap.String("facility_type", string(w.FacilityType)),
		zap.String("month", w.Month.String()),
		zap.String("indicator", string(code)),
		zap.String("kind", string(kind)),
		zap.String("message", msg),
	)
	if err := a.sink.RecordWarning(ctx, w); err != nil {
		a.logger.Error("record configuration warning", zap.Error(err))
	}
}

// =============================================================================
// ORDERING
// =============================================================================

func applicable(indicators []Indicator, ft FacilityType) []Indicator {
	var out []Indicator
	for _, ind := range indicators {
		if ind.AppliesTo(ft) {
			out = append(out, ind)
		}
	}
	return out
}

// SortIndicators orders indicators by the program's canonical numbering.
// Codes absent from the canonical order follow, in natural code order.
func (a *Aggregator) SortIndicators(indicators []Indicator) []Indicator {
	return SortCanonical(indicators, a.program.CanonicalOrder)
}

func SortCanonical(indicators []Indicator, order []IndicatorCode) []Indicator {
	rank := make(map[IndicatorCode]int, len(order))
	for i, code := range order {
		if _, dup := rank[code]; !dup {
			rank[code] = i
		}
	}
	out := append([]Indicator(nil), indicators...)
	sort.SliceStable(out, func(i, j int) bool {
		ri, iok := rank[out[i].Code]
		rj, jok := rank[out[j].Code]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return naturalLess(string(out[i].Code), string(out[j].Code))
		}
	})
	return out
}

// naturalLess compares dotted codes numerically segment by segment, so that
// "1.2" < "1.10" < "2.1".
func naturalLess(a, b string) bool {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		if as[i] == bs[i] {
			continue
		}
		ai, aerr := strconv.Atoi(as[i])
		bi, berr := strconv.Atoi(bs[i])
		if aerr == nil && berr == nil {
			return ai < bi
		}
		return as[i] < bs[i]
	}
	if len(as) != len(bs) {
		return len(as) < len(bs)
	}
	return a < b
}
