package engine

import (
	"fmt"
	"time"
)

// =============================================================================
// REPORT MONTH - The period key partitioning all submitted and computed data
// =============================================================================

// ReportMonth identifies a monthly reporting period, e.g. 2025-03.
type ReportMonth struct {
	Year  int
	Month time.Month
}

// Constructors
func NewReportMonth(year int, month time.Month) ReportMonth {
	return ReportMonth{Year: year, Month: month}
}

func MonthOf(t time.Time) ReportMonth {
	return ReportMonth{Year: t.Year(), Month: t.Month()}
}

// ParseMonth parses "YYYY-MM".
func ParseMonth(s string) (ReportMonth, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return ReportMonth{}, fmt.Errorf("%w: %q", ErrInvalidMonth, s)
	}
	return MonthOf(t), nil
}

// Comparison
func (m ReportMonth) Before(other ReportMonth) bool { return m.Start().Before(other.Start()) }
func (m ReportMonth) After(other ReportMonth) bool  { return m.Start().After(other.Start()) }
func (m ReportMonth) Equal(other ReportMonth) bool  { return m == other }
func (m ReportMonth) IsZero() bool                  { return m.Year == 0 && m.Month == 0 }

// Arithmetic
func (m ReportMonth) AddMonths(n int) ReportMonth { return MonthOf(m.Start().AddDate(0, n, 0)) }
func (m ReportMonth) Next() ReportMonth           { return m.AddMonths(1) }
func (m ReportMonth) Prev() ReportMonth           { return m.AddMonths(-1) }

// Start returns the first instant of the month in UTC.
func (m ReportMonth) Start() time.Time {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End returns the last day of the month.
func (m ReportMonth) End() time.Time {
	return m.Start().AddDate(0, 1, -1)
}

func (m ReportMonth) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

func (m ReportMonth) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *ReportMonth) UnmarshalText(b []byte) error {
	parsed, err := ParseMonth(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// MonthsBetween returns every month in [from, to]. Returns nil if to is
// before from.
func MonthsBetween(from, to ReportMonth) []ReportMonth {
	var months []ReportMonth
	for current := from; !current.After(to); current = current.Next() {
		months = append(months, current)
	}
	return months
}
