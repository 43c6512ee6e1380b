/*
Package engine provides the achievement and remuneration calculation engine.

PURPOSE:
  This package turns raw monthly facility submissions into indicator
  achievement percentages, monetary incentives, and worker payouts. It is
  program-agnostic: the indicator catalog, canonical numbering, population
  defaults and worker role mapping are injected as ProgramConfig, so the same
  engine serves any results-based financing program.

KEY CONCEPTS IN THIS FILE (types.go):
  - Identifiers: FacilityID, FacilityType, IndicatorCode, FieldKey, WorkerID
  - Value: a submitted field value (number, boolean, string or null)
  - Money helpers: decimal amounts rounded to cents

DESIGN PRINCIPLES:
  1. Precision: incentive amounts use decimal.Decimal, never float64
  2. Determinism: identical inputs always produce identical, identically
     ordered outputs
  3. Stability: computed records are snapshots, never silently recomputed
  4. Explicit configuration: no package-level mutable classification tables

SEE ALSO:
  - calculator.go: per-indicator formula evaluation
  - aggregator.go: per-facility evaluation of the indicator catalog
  - allocator.go: worker payout split
  - records.go: snapshot cache and recalculation
*/
package engine

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type FacilityID string
type FacilityType string
type IndicatorCode string
type FieldKey string
type WorkerID string

// =============================================================================
// MONEY
// =============================================================================

// MoneyPlaces is the number of decimal places incentive amounts are rounded to.
const MoneyPlaces = 2

func NewMoney(value float64) decimal.Decimal {
	return decimal.NewFromFloat(value).Round(MoneyPlaces)
}

func MustParseMoney(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// percentOf returns amount × pct / 100 rounded to cents.
func percentOf(amount decimal.Decimal, pct float64) decimal.Decimal {
	return amount.Mul(decimal.NewFromFloat(pct)).Div(decimal.NewFromInt(100)).Round(MoneyPlaces)
}

// roundPct rounds a percentage to two decimal places.
func roundPct(v float64) float64 {
	return math.Round(v*100) / 100
}

// snap removes floating-point noise so that 28.999999999999996 scores as 29.
func snap(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// finite collapses NaN and ±Inf to zero.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// =============================================================================
// VALUE - A single submitted field value
// =============================================================================

type ValueKind string

const (
	KindNull    ValueKind = ""
	KindNumber  ValueKind = "number"
	KindBoolean ValueKind = "boolean"
	KindString  ValueKind = "string"
)

// Value is one of {numeric, boolean, string} or null.
type Value struct {
	Kind ValueKind
	Num  float64
	Bool bool
	Str  string
}

func Null() Value               { return Value{} }
func Number(f float64) Value    { return Value{Kind: KindNumber, Num: f} }
func Boolean(b bool) Value      { return Value{Kind: KindBoolean, Bool: b} }
func String(s string) Value     { return Value{Kind: KindString, Str: s} }
func (v Value) IsNull() bool    { return v.Kind == KindNull }
func (v Value) IsNumber() bool  { return v.Kind == KindNumber }
func (v Value) IsBoolean() bool { return v.Kind == KindBoolean }

// Float converts the value to a number. Booleans map to 1/0 and numeric
// strings are parsed. The second return is false when no number exists.
func (v Value) Float() (float64, bool) {
	switch v.Kind {
	case KindNumber:
		return finite(v.Num), true
	case KindBoolean:
		if v.Bool {
			return 1, true
		}
		return 0, true
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return 0, false
		}
		return finite(f), true
	default:
		return 0, false
	}
}

// IsEmpty reports whether the value carries no information: null, blank
// string, zero or false.
func (v Value) IsEmpty() bool {
	switch v.Kind {
	case KindNull:
		return true
	case KindNumber:
		return v.Num == 0
	case KindBoolean:
		return !v.Bool
	case KindString:
		return strings.TrimSpace(v.Str) == ""
	}
	return true
}

func (v Value) String() string {
	switch v.Kind {
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindBoolean:
		return strconv.FormatBool(v.Bool)
	case KindString:
		return v.Str
	default:
		return "null"
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNumber:
		return json.Marshal(v.Num)
	case KindBoolean:
		return json.Marshal(v.Bool)
	case KindString:
		return json.Marshal(v.Str)
	default:
		return []byte("null"), nil
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch t := raw.(type) {
	case nil:
		*v = Null()
	case float64:
		*v = Number(t)
	case bool:
		*v = Boolean(t)
	case string:
		*v = String(t)
	default:
		return fmt.Errorf("unsupported field value %s", string(data))
	}
	return nil
}
