package engine

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// CONFIGURATION WARNINGS - Queryable record of skipped or defaulted inputs
// =============================================================================

type WarningKind string

const (
	WarningMissingRemuneration WarningKind = "missing_remuneration"
	WarningMissingField        WarningKind = "missing_field"
	WarningUnparseableTarget   WarningKind = "unparseable_target"
	WarningUnsupportedFormula  WarningKind = "unsupported_formula"
)

// ConfigWarning is emitted whenever an aggregation skips an indicator or falls
// back to a default because configuration or data is missing.
type ConfigWarning struct {
	FacilityID   FacilityID    `json:"facility_id"`
	FacilityType FacilityType  `json:"facility_type"`
	Month        ReportMonth   `json:"month"`
	Indicator    IndicatorCode `json:"indicator"`
	Kind         WarningKind   `json:"kind"`
	Message      string        `json:"message"`
	RecordedAt   time.Time     `json:"recorded_at"`
}

// WarningSink receives configuration warnings.
type WarningSink interface {
	RecordWarning(ctx context.Context, w ConfigWarning) error
}

// WarningFilter narrows a warning query. Zero fields match everything.
type WarningFilter struct {
	FacilityID FacilityID
	Month      ReportMonth
	Kind       WarningKind
}

func (f WarningFilter) Match(w ConfigWarning) bool {
	if f.FacilityID != "" && f.FacilityID != w.FacilityID {
		return false
	}
	if !f.Month.IsZero() && !f.Month.Equal(w.Month) {
		return false
	}
	if f.Kind != "" && f.Kind != w.Kind {
		return false
	}
	return true
}

// WarningQuery lists previously recorded warnings.
type WarningQuery interface {
	Warnings(ctx context.Context, filter WarningFilter) ([]ConfigWarning, error)
}

// WarningBuffer is an in-process WarningSink that also answers queries.
// Repeated warnings for the same (facility, month, indicator, kind) replace
// the earlier entry so recalculations do not pile up duplicates.
type WarningBuffer struct {
	mu    sync.Mutex
	items []ConfigWarning
}

func NewWarningBuffer() *WarningBuffer {
	return &WarningBuffer{}
}

func (b *WarningBuffer) RecordWarning(_ context.Context, w ConfigWarning) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, existing := range b.items {
		if existing.FacilityID == w.FacilityID && existing.Month.Equal(w.Month) &&
			existing.Indicator == w.Indicator && existing.Kind == w.Kind {
			b.items[i] = w
			return nil
		}
	}
	b.items = append(b.items, w)
	return nil
}

func (b *WarningBuffer) Warnings(_ context.Context, filter WarningFilter) ([]ConfigWarning, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []ConfigWarning
	for _, w := range b.items {
		if filter.Match(w) {
			out = append(out, w)
		}
	}
	return out, nil
}

type nopSink struct{}

func (nopSink) RecordWarning(context.Context, ConfigWarning) error { return nil }
