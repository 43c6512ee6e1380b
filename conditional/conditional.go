/*
Package conditional enforces controller/dependent field rules on submitted
facility data.

PURPOSE:
  Some inputs only make sense when another input allows them: deliveries are
  counted only at facilities that offer delivery services, TB referrals only
  when screening took place. Each such pair is one Rule in a declarative
  table. The validator guards both directions:

  Read:   a dependent whose controller is falsy is reported hidden with a
          null value and the rule's reason. A stale stored value is never
          surfaced.
  Write:  a dependent submitted while its controller is falsy is rejected
          with CONDITIONAL_LOGIC_ERROR, and the dependent is force-written as
          null whatever was submitted.

CONTROLLER VALUES:
  Recognized: true, false, 1, 0, "1", "0". Anything else is a
  VALIDATION_ERROR and the controller is treated as falsy. A missing or null
  controller is falsy without error.

ERRORS:
  Violations are collected across all rules; Sanitize never stops at the
  first one.
*/
package conditional

import (
	"fmt"
	"strings"

	"github.com/warp/incentive-engine/engine"
)

// =============================================================================
// RULES
// =============================================================================

type DependentKind string

const (
	KindCount   DependentKind = "count"
	KindNumber  DependentKind = "number"
	KindText    DependentKind = "text"
	KindBoolean DependentKind = "boolean"
)

// Visibility says which controller state makes the dependent visible.
type Visibility string

const (
	VisibleWhenTruthy Visibility = "truthy"
	VisibleWhenFalsy  Visibility = "falsy"
)

type Rule struct {
	Controller  engine.FieldKey `json:"controller" yaml:"controller"`
	Dependent   engine.FieldKey `json:"dependent" yaml:"dependent"`
	Kind        DependentKind   `json:"kind" yaml:"kind"`
	VisibleWhen Visibility      `json:"visible_when,omitempty" yaml:"visible_when,omitempty"`
	Required    bool            `json:"required,omitempty" yaml:"required,omitempty"`
	Reason      string          `json:"reason,omitempty" yaml:"reason,omitempty"`
}

func (r Rule) visibleWhen() bool {
	return r.VisibleWhen != VisibleWhenFalsy
}

func (r Rule) reason() string {
	if r.Reason != "" {
		return r.Reason
	}
	return fmt.Sprintf("%s is hidden while %s is not set", r.Dependent, r.Controller)
}

// =============================================================================
// VALIDATOR
// =============================================================================

type Validator struct {
	rules []Rule
}

// New checks the rule table and returns a validator for it.
func New(rules []Rule) (*Validator, error) {
	rules = append([]Rule(nil), rules...)
	seen := make(map[engine.FieldKey]bool, len(rules))
	for i, r := range rules {
		switch {
		case r.Controller == "" || r.Dependent == "":
			return nil, fmt.Errorf("rule %d: controller and dependent are required", i)
		case r.Controller == r.Dependent:
			return nil, fmt.Errorf("rule %d: field %s cannot control itself", i, r.Controller)
		case seen[r.Dependent]:
			return nil, fmt.Errorf("rule %d: dependent %s already has a controller", i, r.Dependent)
		}
		switch r.Kind {
		case KindCount, KindNumber, KindText, KindBoolean:
		case "":
			rules[i].Kind = KindCount
		default:
			return nil, fmt.Errorf("rule %d: unknown dependent kind %q", i, r.Kind)
		}
		switch r.VisibleWhen {
		case "", VisibleWhenTruthy, VisibleWhenFalsy:
		default:
			return nil, fmt.Errorf("rule %d: unknown visibility %q", i, r.VisibleWhen)
		}
		seen[r.Dependent] = true
	}
	return &Validator{rules: rules}, nil
}

// MustNew is New for static tables.
func MustNew(rules []Rule) *Validator {
	v, err := New(rules)
	if err != nil {
		panic(err)
	}
	return v
}

func (v *Validator) Rules() []Rule {
	return append([]Rule(nil), v.rules...)
}

// FieldView is one field as presented to readers.
type FieldView struct {
	Value  engine.Value `json:"value"`
	Hidden bool         `json:"hidden,omitempty"`
	Reason string       `json:"reason,omitempty"`
}

// Read returns every stored value, hiding dependents whose controller does
// not allow them.
func (v *Validator) Read(values map[engine.FieldKey]engine.Value) map[engine.FieldKey]FieldView {
	out := make(map[engine.FieldKey]FieldView, len(values))
	for k, val := range values {
		out[k] = FieldView{Value: val}
	}
	for _, r := range v.rules {
		state, _ := ControllerState(values[r.Controller])
		if state != r.visibleWhen() {
			out[r.Dependent] = FieldView{Value: engine.Null(), Hidden: true, Reason: r.reason()}
		}
	}
	return out
}

// Sanitize validates a submission against the stored values and returns the
// values to persist. Controllers absent from the submission are read from
// stored. Hidden dependents are always returned as null.
func (v *Validator) Sanitize(submitted, stored map[engine.FieldKey]engine.Value) (map[engine.FieldKey]engine.Value, FieldErrors) {
	out := make(map[engine.FieldKey]engine.Value, len(submitted))
	for k, val := range submitted {
		out[k] = val
	}

	var c Collector
	checkedControllers := make(map[engine.FieldKey]bool)

	for _, r := range v.rules {
		ctrl, fromSubmission := out[r.Controller]
		if !fromSubmission {
			ctrl = stored[r.Controller]
		}
		state, recognized := ControllerState(ctrl)
		if fromSubmission && !recognized && !ctrl.IsNull() && !checkedControllers[r.Controller] {
			c.Add(FieldError{
				Field:   r.Controller,
				Kind:    ErrValidation,
				Message: fmt.Sprintf("must be one of true, false, 1, 0; got %s", ctrl),
			})
		}
		checkedControllers[r.Controller] = true

		dep, depSubmitted := submitted[r.Dependent]

		if state != r.visibleWhen() {
			if depSubmitted && !dep.IsEmpty() {
				c.Add(FieldError{
					Field:   r.Dependent,
					Kind:    ErrConditionalLogic,
					Message: fmt.Sprintf("must be empty while %s is %s", r.Controller, describeState(ctrl)),
				})
			}
			out[r.Dependent] = engine.Null()
			continue
		}

		if depSubmitted && !dep.IsNull() {
			if fe := checkKind(r, dep); fe != nil {
				c.Add(*fe)
			}
			continue
		}
		if r.Required {
			existing, ok := stored[r.Dependent]
			if depSubmitted || !ok || existing.IsNull() {
				c.Add(FieldError{
					Field:   r.Dependent,
					Kind:    ErrRequiredField,
					Message: fmt.Sprintf("is required when %s is %s", r.Controller, describeState(ctrl)),
				})
			}
		}
	}
	return out, c.Errors()
}

// ControllerState interprets a controller value. recognized is false for
// anything outside {true, false, 1, 0, "1", "0"}, including null.
func ControllerState(val engine.Value) (state, recognized bool) {
	switch val.Kind {
	case engine.KindBoolean:
		return val.Bool, true
	case engine.KindNumber:
		switch val.Num {
		case 1:
			return true, true
		case 0:
			return false, true
		}
	case engine.KindString:
		switch strings.TrimSpace(val.Str) {
		case "1":
			return true, true
		case "0":
			return false, true
		}
	}
	return false, false
}

func describeState(val engine.Value) string {
	if val.IsNull() {
		return "unset"
	}
	if state, ok := ControllerState(val); ok && state {
		return "true"
	}
	return "false"
}

func checkKind(r Rule, val engine.Value) *FieldError {
	switch r.Kind {
	case KindCount:
		n, ok := val.Float()
		if !ok || val.IsBoolean() {
			return &FieldError{Field: r.Dependent, Kind: ErrValidation, Message: fmt.Sprintf("must be a number, got %s", val)}
		}
		if n < 0 {
			return &FieldError{Field: r.Dependent, Kind: ErrValidation, Message: fmt.Sprintf("must not be negative, got %s", val)}
		}
	case KindNumber:
		if _, ok := val.Float(); !ok || val.IsBoolean() {
			return &FieldError{Field: r.Dependent, Kind: ErrValidation, Message: fmt.Sprintf("must be a number, got %s", val)}
		}
	case KindBoolean:
		if _, ok := ControllerState(val); !ok {
			return &FieldError{Field: r.Dependent, Kind: ErrValidation, Message: fmt.Sprintf("must be one of true, false, 1, 0; got %s", val)}
		}
	}
	return nil
}
