package conditional

import (
	"fmt"
	"strings"

	"github.com/warp/incentive-engine/engine"
)

// ErrorKind classifies a field-level violation.
type ErrorKind string

const (
	ErrValidation       ErrorKind = "VALIDATION_ERROR"
	ErrConditionalLogic ErrorKind = "CONDITIONAL_LOGIC_ERROR"
	ErrRequiredField    ErrorKind = "REQUIRED_FIELD_ERROR"
)

type FieldError struct {
	Field   engine.FieldKey `json:"field"`
	Kind    ErrorKind       `json:"kind"`
	Message string          `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Field, e.Message, e.Kind)
}

// FieldErrors is every violation found in one submission. A nil FieldErrors
// means the submission is clean.
type FieldErrors []FieldError

func (fe FieldErrors) Error() string {
	msgs := make([]string, len(fe))
	for i, e := range fe {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// Count returns the number of violations of the given kind.
func (fe FieldErrors) Count(kind ErrorKind) int {
	n := 0
	for _, e := range fe {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Collector accumulates field errors without failing on first.
type Collector struct {
	errors FieldErrors
}

func (c *Collector) Add(err FieldError) {
	c.errors = append(c.errors, err)
}

func (c *Collector) HasErrors() bool {
	return len(c.errors) > 0
}

func (c *Collector) Errors() FieldErrors {
	return c.errors
}
