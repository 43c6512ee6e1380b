/*
errors.go - Centralized error types for the calculation engine

PURPOSE:
  All engine error types in one place for consistency and discoverability.
  Infrastructure packages (stores, API) wrap these with additional context.

ERROR CATEGORIES:
  1. Lookup errors - facility, record or indicator not found
  2. Input errors - malformed months, unsupported formulas
  3. Worker configuration errors - missing roles, worker counts out of bounds

  Computational NA (unusable denominator) is NOT an error. It is a Status.
  Field-level validation errors live in the conditional package.

USAGE:
  rec, err := store.GetRecord(ctx, facilityID, month)
  if errors.Is(err, engine.ErrRecordNotFound) {
      // first calculation for this key
  }

SEE ALSO:
  - records.go: Uses ErrRecordNotFound to decide first calculation
  - formula.go: Returns ErrUnsupportedFormula
  - allocator.go: Produces WorkerConfigError
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrRecordNotFound is returned when no snapshot exists for a facility/month.
	ErrRecordNotFound = errors.New("remuneration record not found")

	// ErrFacilityNotFound is returned when a referenced facility doesn't exist.
	ErrFacilityNotFound = errors.New("facility not found")

	// ErrIndicatorNotFound is returned when a referenced indicator doesn't exist.
	ErrIndicatorNotFound = errors.New("indicator not found")

	// ErrInvalidMonth is returned when a report month is malformed.
	ErrInvalidMonth = errors.New("invalid report month")

	// ErrUnsupportedFormula is returned when a formula matches no known shape.
	ErrUnsupportedFormula = errors.New("unsupported formula")

	// ErrMissingOperand is returned when a formula references a field that
	// has no numeric value.
	ErrMissingOperand = errors.New("missing formula operand")

	// ErrUnusableDenominator is returned when a formula divides by zero, a
	// negative value or a non-finite value.
	ErrUnusableDenominator = errors.New("unusable denominator")

	// ErrInvalidTarget is returned when a stored target value cannot be parsed.
	ErrInvalidTarget = errors.New("invalid target value")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// FormulaError reports which formula failed and why.
type FormulaError struct {
	Formula string
	Reason  string
	Err     error
}

func (e *FormulaError) Error() string {
	return fmt.Sprintf("formula %q: %s", e.Formula, e.Reason)
}

func (e *FormulaError) Unwrap() error {
	return e.Err
}

// WorkerIssue classifies a worker-configuration problem.
type WorkerIssue string

const (
	WorkerIssueMissingRole WorkerIssue = "missing_role"
	WorkerIssueCount       WorkerIssue = "worker_count"
)

// WorkerConfigError describes a worker registry that does not satisfy the
// rules for its facility type. These are reported on the record, they never
// abort a calculation.
type WorkerConfigError struct {
	FacilityID   FacilityID   `json:"facility_id"`
	FacilityType FacilityType `json:"facility_type"`
	Issue        WorkerIssue  `json:"issue"`
	Role         RoleType     `json:"role,omitempty"`
	Count        int          `json:"count"`
	Min          int          `json:"min,omitempty"`
	Max          int          `json:"max,omitempty"`
}

func (e *WorkerConfigError) Error() string {
	switch e.Issue {
	case WorkerIssueMissingRole:
		return fmt.Sprintf("facility %s (%s): missing mandatory %s worker", e.FacilityID, e.FacilityType, e.Role)
	default:
		return fmt.Sprintf("facility %s (%s): %d workers, allowed %d..%d", e.FacilityID, e.FacilityType, e.Count, e.Min, e.Max)
	}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound) ||
		errors.Is(err, ErrFacilityNotFound) ||
		errors.Is(err, ErrIndicatorNotFound)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidMonth) ||
		errors.Is(err, ErrInvalidTarget)
}
