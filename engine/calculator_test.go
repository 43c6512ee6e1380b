package engine_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/incentive-engine/engine"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func money(v float64) decimal.Decimal {
	return engine.NewMoney(v)
}

func assertMoney(t *testing.T, expected float64, actual decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.Equal(t, money(expected).StringFixed(2), actual.StringFixed(2), msgAndArgs...)
}

func percentageRange(actual, denominator float64, max float64) engine.CalculationInput {
	return engine.CalculationInput{
		Actual:          actual,
		Denominator:     denominator,
		MaxRemuneration: money(max),
		Descriptor: engine.Descriptor{
			TargetType: engine.TargetPercentageRange,
			Formula:    "(A/B)*100",
			Range:      &engine.Range{Min: 3, Max: 5},
		},
	}
}

func newCalculator() *engine.Calculator {
	return engine.NewCalculator(engine.CalculatorConfig{})
}

// =============================================================================
// WORKED SCENARIOS
// =============================================================================

func TestCalculate_PercentageRange_InsideRange(t *testing.T) {
	// GIVEN: Max remuneration 500, range [3,5]
	// WHEN: Achievement is 4%
	// THEN: incentivePct = 60 + ((4-3)/(5-3))×40 = 80, incentive = 400

	res, err := newCalculator().Calculate(percentageRange(4, 100, 500))
	require.NoError(t, err)

	assertMoney(t, 400, res.Incentive)
	assert.Equal(t, engine.StatusPartiallyAchieved, res.Status)
	assert.Equal(t, 4.0, res.Achievement)
	assert.NotEmpty(t, res.Message)
}

func TestCalculate_PercentageRange_AtMax(t *testing.T) {
	// GIVEN: Max remuneration 2000, range [3,5]
	// WHEN: Achievement is 5%
	// THEN: Full incentive, ACHIEVED

	res, err := newCalculator().Calculate(percentageRange(5, 100, 2000))
	require.NoError(t, err)

	assertMoney(t, 2000, res.Incentive)
	assert.Equal(t, engine.StatusAchieved, res.Status)
}

func TestCalculate_Binary_NotAchieved(t *testing.T) {
	// GIVEN: A BINARY indicator
	// WHEN: Actual is 0
	// THEN: No incentive, BELOW_TARGET

	res, err := newCalculator().Calculate(engine.CalculationInput{
		Actual:          0,
		Denominator:     1,
		MaxRemuneration: money(500),
		Descriptor:      engine.Descriptor{TargetType: engine.TargetBinary},
	})
	require.NoError(t, err)

	assert.True(t, res.Incentive.IsZero())
	assert.Equal(t, engine.StatusBelowTarget, res.Status)
	assert.Equal(t, 0.0, res.Achievement)
}

func TestCalculate_Binary_Achieved(t *testing.T) {
	res, err := newCalculator().Calculate(engine.CalculationInput{
		Actual:          1,
		Denominator:     1,
		MaxRemuneration: money(500),
		Descriptor:      engine.Descriptor{TargetType: engine.TargetBinary},
	})
	require.NoError(t, err)

	assertMoney(t, 500, res.Incentive)
	assert.Equal(t, engine.StatusAchieved, res.Status)
	assert.Equal(t, 100.0, res.Achievement)
}

// =============================================================================
// RANGE
// =============================================================================

func TestCalculate_Range_Thresholds(t *testing.T) {
	cases := []struct {
		actual    float64
		incentive float64
		status    engine.Status
	}{
		{actual: 79, incentive: 0, status: engine.StatusBelowTarget},
		{actual: 80, incentive: 600, status: engine.StatusPartiallyAchieved},
		{actual: 87.5, incentive: 800, status: engine.StatusPartiallyAchieved},
		{actual: 95, incentive: 1000, status: engine.StatusAchieved},
		{actual: 120, incentive: 1000, status: engine.StatusAchieved},
	}

	calc := newCalculator()
	for _, tc := range cases {
		res, err := calc.Calculate(engine.CalculationInput{
			Actual:          tc.actual,
			Denominator:     100,
			MaxRemuneration: money(1000),
			Descriptor: engine.Descriptor{
				TargetType: engine.TargetRange,
				Range:      &engine.Range{Min: 80, Max: 95},
			},
		})
		require.NoError(t, err)
		assertMoney(t, tc.incentive, res.Incentive, "actual %v", tc.actual)
		assert.Equal(t, tc.status, res.Status, "actual %v", tc.actual)
	}
}

func TestCalculate_Range_TargetAsSingleThreshold(t *testing.T) {
	// GIVEN: A RANGE indicator with only an explicit target of 10
	// THEN: 10 or more achieves, anything less is below target

	calc := newCalculator()
	in := engine.CalculationInput{
		Denominator:     10,
		MaxRemuneration: money(300),
		Descriptor:      engine.Descriptor{TargetType: engine.TargetRange, Target: 10},
	}

	in.Actual = 10
	res, err := calc.Calculate(in)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusAchieved, res.Status)

	in.Actual = 9
	res, err = calc.Calculate(in)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusBelowTarget, res.Status)
}

func TestCalculate_FacilityOverrideRange_Wins(t *testing.T) {
	// GIVEN: Indicator range [3,5], facility override [1,2]
	// WHEN: Achievement 2%
	// THEN: Scored against the override: ACHIEVED

	in := percentageRange(2, 100, 500)
	in.Descriptor.Override = &engine.Range{Min: 1, Max: 2}

	res, err := newCalculator().Calculate(in)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusAchieved, res.Status)
	assertMoney(t, 500, res.Incentive)
}

func TestCalculate_DefaultRange(t *testing.T) {
	// GIVEN: PERCENTAGE_RANGE with no range of its own
	// THEN: The default 3-5 band applies
	in := percentageRange(4, 100, 500)
	in.Descriptor.Range = nil

	res, err := newCalculator().Calculate(in)
	require.NoError(t, err)
	assertMoney(t, 400, res.Incentive)

	// AND: A calculator configured with another default uses it
	calc := engine.NewCalculator(engine.CalculatorConfig{DefaultRange: &engine.Range{Min: 0, Max: 4}})
	res, err = calc.Calculate(in)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusAchieved, res.Status)
}

func TestCalculate_PercentageCap(t *testing.T) {
	limit := 4.0
	in := percentageRange(9, 100, 500)
	in.Descriptor.PercentageCap = &limit

	res, err := newCalculator().Calculate(in)
	require.NoError(t, err)
	assert.Equal(t, 4.0, res.Achievement)
	assertMoney(t, 400, res.Incentive)
}

// =============================================================================
// PROPERTIES
// =============================================================================

func TestCalculate_UnusableDenominator_IsNA(t *testing.T) {
	// GIVEN: Every target type
	// WHEN: The denominator is zero or negative
	// THEN: Achievement 0, incentive 0, NA

	calc := newCalculator()
	for _, tt := range []engine.TargetType{engine.TargetBinary, engine.TargetRange, engine.TargetPercentageRange} {
		for _, denom := range []float64{0, -12} {
			res, err := calc.Calculate(engine.CalculationInput{
				Actual:          50,
				Denominator:     denom,
				MaxRemuneration: money(500),
				Descriptor:      engine.Descriptor{TargetType: tt, Range: &engine.Range{Min: 3, Max: 5}},
			})
			require.NoError(t, err)
			assert.Equal(t, engine.StatusNA, res.Status, "%s / %v", tt, denom)
			assert.True(t, res.Incentive.IsZero())
			assert.Equal(t, 0.0, res.Achievement)
		}
	}
}

func TestCalculate_FieldDivisorZero_IsNA(t *testing.T) {
	// GIVEN: A formula dividing one submitted field by another
	// WHEN: The divisor field is 0 while B is positive
	// THEN: The indicator is NA rather than below target

	in := percentageRange(4, 1000, 500)
	in.Descriptor.Formula = "(anc_visits/anc_target)*100"
	in.Fields = map[engine.FieldKey]engine.Value{
		"anc_visits": engine.Number(4),
		"anc_target": engine.Number(0),
	}

	res, err := newCalculator().Calculate(in)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusNA, res.Status)
	assert.True(t, res.Incentive.IsZero())
	assert.Equal(t, 0.0, res.Achievement)
	assert.Contains(t, res.Message, "unusable")
}

func TestCalculate_IncentiveMonotonicAndBounded(t *testing.T) {
	// GIVEN: A sweep of achievement values across [0, 8]
	// THEN: Incentive never decreases, never exceeds max, and matches the
	// status bands

	calc := newCalculator()
	max := money(2000)
	prev := decimal.Zero
	for a := 0.0; a <= 8.0; a += 0.05 {
		res, err := calc.Calculate(percentageRange(a, 100, 2000))
		require.NoError(t, err)

		assert.False(t, res.Incentive.LessThan(prev), "incentive dropped at %v", a)
		assert.False(t, res.Incentive.GreaterThan(max), "incentive above max at %v", a)
		switch res.Status {
		case engine.StatusBelowTarget:
			assert.True(t, res.Incentive.IsZero())
		case engine.StatusAchieved:
			assert.True(t, res.Incentive.Equal(max))
		case engine.StatusPartiallyAchieved:
			assert.True(t, res.Incentive.IsPositive() && res.Incentive.LessThan(max))
		}
		prev = res.Incentive
	}
}

func TestCalculate_BinaryIsAllOrNothing(t *testing.T) {
	calc := newCalculator()
	for _, actual := range []float64{-1, 0, 0.2, 1, 30} {
		res, err := calc.Calculate(engine.CalculationInput{
			Actual:          actual,
			Denominator:     1,
			MaxRemuneration: money(700),
			Descriptor:      engine.Descriptor{TargetType: engine.TargetBinary},
		})
		require.NoError(t, err)
		assert.True(t, res.Incentive.IsZero() || res.Incentive.Equal(money(700)))
	}
}

func TestCalculate_NegativeMaxClampedToZero(t *testing.T) {
	res, err := newCalculator().Calculate(percentageRange(5, 100, -50))
	require.NoError(t, err)
	assert.True(t, res.Incentive.IsZero())
}

func TestCalculate_UnsupportedFormula(t *testing.T) {
	in := percentageRange(4, 100, 500)
	in.Descriptor.Formula = "sqrt(A)+log(B)"

	_, err := newCalculator().Calculate(in)
	assert.ErrorIs(t, err, engine.ErrUnsupportedFormula)
}
