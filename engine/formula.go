/*
formula.go - Two-variable achievement formulas

PURPOSE:
  Indicator formulas are short arithmetic strings over the actual value (A)
  and the denominator (B). Rather than a general expression parser, the
  engine recognizes an enumerated set of shapes plus one generic two-operand
  form, compiled once and evaluated per facility.

KNOWN SHAPES:
  direct:            A                 (the numerator is already a percentage)
  ratio:             (A/B)*100
  normalized_ratio:  (A/(B/N))*100     (B is a yearly figure, N periods/year)
  binary_op:         X op Y  |  (X op Y)  |  (X op Y)*100
                     X, Y ∈ {A, B, numeric literal, field key}
                     op   ∈ {+, -, *, /}

OVERRIDE SUBSTITUTION:
  In binary_op, an operand that is neither A, B nor a literal is looked up in
  the raw field map, so "(anc_visits/anc_target)*100" works without mapping
  the fields onto A and B.

LEGACY DENOMINATORS:
  normalized_ratio divides B by N. Older submissions sometimes stored B
  already divided. When the denominator carries an explicit Normalized flag
  it decides; otherwise values below LegacyThreshold are treated as already
  normalized (the threshold is configurable, zero disables it).
*/
package engine

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

type FormulaShape string

const (
	ShapeDirect          FormulaShape = "direct"
	ShapeRatio           FormulaShape = "ratio"
	ShapeNormalizedRatio FormulaShape = "normalized_ratio"
	ShapeBinaryOp        FormulaShape = "binary_op"
)

// DefaultFormula is used for PERCENTAGE_RANGE indicators with no formula.
const DefaultFormula = "(A/B)*100"

var (
	directPattern = regexp.MustCompile(`(?i)^(?:A|\(A\))$`)
	ratioPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^\(A/B\)\*100$`),
		regexp.MustCompile(`(?i)^A/B\*100$`),
		regexp.MustCompile(`(?i)^100\*\(A/B\)$`),
		regexp.MustCompile(`(?i)^A\*100/B$`),
		regexp.MustCompile(`(?i)^\(A\*100\)/B$`),
	}
	normalizedPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^\(A/\(B/(\d+(?:\.\d+)?)\)\)\*100$`),
		regexp.MustCompile(`(?i)^A/\(B/(\d+(?:\.\d+)?)\)\*100$`),
	}
	binaryOpPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^` + binaryOperands + `(\*100)?$`),
		regexp.MustCompile(`^\(` + binaryOperands + `\)(\*100)?$`),
	}
)

const (
	binaryOperand  = `([A-Za-z_][A-Za-z0-9_.]*|\d+(?:\.\d+)?)`
	binaryOperands = binaryOperand + `([-+*/])` + binaryOperand
)

type operandKind int

const (
	operandActual operandKind = iota
	operandDenominator
	operandLiteral
	operandField
)

type operand struct {
	kind    operandKind
	field   FieldKey
	literal float64
}

func parseOperand(tok string) operand {
	switch tok {
	case "A", "a":
		return operand{kind: operandActual}
	case "B", "b":
		return operand{kind: operandDenominator}
	}
	if f, err := strconv.ParseFloat(tok, 64); err == nil {
		return operand{kind: operandLiteral, literal: f}
	}
	return operand{kind: operandField, field: FieldKey(tok)}
}

// Formula is a compiled indicator formula.
type Formula struct {
	Text  string
	Shape FormulaShape

	// normalized_ratio
	Divisor float64

	// binary_op
	left, right operand
	op          byte
	percent     bool
}

// CompileFormula recognizes the shape of a formula string.
func CompileFormula(text string) (*Formula, error) {
	compact := strings.Join(strings.Fields(text), "")
	if compact == "" {
		compact = DefaultFormula
	}

	if directPattern.MatchString(compact) {
		return &Formula{Text: text, Shape: ShapeDirect}, nil
	}
	for _, p := range ratioPatterns {
		if p.MatchString(compact) {
			return &Formula{Text: text, Shape: ShapeRatio}, nil
		}
	}
	for _, p := range normalizedPatterns {
		if m := p.FindStringSubmatch(compact); m != nil {
			n, _ := strconv.ParseFloat(m[1], 64)
			if n <= 0 {
				return nil, &FormulaError{Formula: text, Reason: "period divisor must be positive", Err: ErrUnsupportedFormula}
			}
			return &Formula{Text: text, Shape: ShapeNormalizedRatio, Divisor: n}, nil
		}
	}
	for _, p := range binaryOpPatterns {
		if m := p.FindStringSubmatch(compact); m != nil {
			return &Formula{
				Text:    text,
				Shape:   ShapeBinaryOp,
				left:    parseOperand(m[1]),
				op:      m[2][0],
				right:   parseOperand(m[3]),
				percent: m[4] != "",
			}, nil
		}
	}
	return nil, &FormulaError{Formula: text, Reason: "matches no known shape", Err: ErrUnsupportedFormula}
}

// Operands are the inputs a formula is evaluated against.
type Operands struct {
	A, B   float64
	Fields map[FieldKey]Value

	// Normalized is the explicit period-normalization flag of B, if known.
	Normalized *bool

	// LegacyThreshold enables the magnitude heuristic for unflagged B.
	LegacyThreshold float64
}

// Evaluate computes the formula. The note describes any normalization
// decision for audit display. Non-finite results collapse to zero. A
// two-operand division by a non-positive value returns ErrUnusableDenominator.
func (f *Formula) Evaluate(ops Operands) (float64, string, error) {
	switch f.Shape {
	case ShapeDirect:
		return finite(ops.A), "direct value", nil

	case ShapeRatio:
		return finite(ops.A / ops.B * 100), "ratio A/B", nil

	case ShapeNormalizedRatio:
		b, note := f.normalizeDenominator(ops)
		return finite(ops.A / b * 100), note, nil

	case ShapeBinaryOp:
		l, err := f.resolve(f.left, ops)
		if err != nil {
			return 0, "", err
		}
		r, err := f.resolve(f.right, ops)
		if err != nil {
			return 0, "", err
		}
		var v float64
		switch f.op {
		case '+':
			v = l + r
		case '-':
			v = l - r
		case '*':
			v = l * r
		case '/':
			if !(r > 0) || math.IsInf(r, 0) {
				return 0, "", &FormulaError{Formula: f.Text, Reason: fmt.Sprintf("divisor %g unusable", r), Err: ErrUnusableDenominator}
			}
			v = l / r
		}
		if f.percent {
			v *= 100
		}
		return finite(v), "two-operand expression", nil
	}
	return 0, "", &FormulaError{Formula: f.Text, Reason: "not compiled", Err: ErrUnsupportedFormula}
}

// NormalizesDenominator reports whether the formula divides B into periods.
func (f *Formula) NormalizesDenominator() bool {
	return f.Shape == ShapeNormalizedRatio
}

func (f *Formula) normalizeDenominator(ops Operands) (float64, string) {
	if ops.Normalized != nil {
		if *ops.Normalized {
			return ops.B, "denominator flagged as already normalized"
		}
		return ops.B / f.Divisor, fmt.Sprintf("denominator divided by %g", f.Divisor)
	}
	if ops.LegacyThreshold > 0 && ops.B < ops.LegacyThreshold {
		return ops.B, fmt.Sprintf("legacy heuristic: denominator %g below %g treated as normalized", ops.B, ops.LegacyThreshold)
	}
	return ops.B / f.Divisor, fmt.Sprintf("denominator divided by %g", f.Divisor)
}

func (f *Formula) resolve(o operand, ops Operands) (float64, error) {
	switch o.kind {
	case operandActual:
		return ops.A, nil
	case operandDenominator:
		return ops.B, nil
	case operandLiteral:
		return o.literal, nil
	}
	v, ok := ops.Fields[o.field]
	if !ok {
		return 0, &FormulaError{Formula: f.Text, Reason: fmt.Sprintf("field %q not submitted", o.field), Err: ErrMissingOperand}
	}
	n, ok := v.Float()
	if !ok {
		return 0, &FormulaError{Formula: f.Text, Reason: fmt.Sprintf("field %q is not numeric", o.field), Err: ErrMissingOperand}
	}
	return n, nil
}
