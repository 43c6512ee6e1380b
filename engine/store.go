/*
store.go - Narrow read and write interfaces the engine depends on

PURPOSE:
  The engine owns no persistence. It reads configuration and submissions
  through these interfaces and publishes snapshots through RecordStore.
  Implementations live in engine/store (memory), store/sqlite and
  store/postgres.

DESIGN:
  Each interface covers one concern so a caller can mix implementations,
  e.g. SQLite for submissions and Postgres for the snapshot cache.
*/
package engine

import "context"

// FieldSource returns the submitted values of one facility for one month.
type FieldSource interface {
	FieldValues(ctx context.Context, facility FacilityID, month ReportMonth) (map[FieldKey]FieldValue, error)
}

// FieldWriter persists validated submissions.
type FieldWriter interface {
	SaveFieldValues(ctx context.Context, values []FieldValue) error
}

type IndicatorSource interface {
	Indicators(ctx context.Context) ([]Indicator, error)
}

// TargetSource returns facility-specific target overrides for a month.
type TargetSource interface {
	FacilityTargets(ctx context.Context, facility FacilityID, month ReportMonth) (map[IndicatorCode]FacilityTarget, error)
}

type FacilitySource interface {
	// Facility returns ErrFacilityNotFound when the id is unknown.
	Facility(ctx context.Context, id FacilityID) (Facility, error)
	Facilities(ctx context.Context) ([]Facility, error)
}

type WorkerSource interface {
	Workers(ctx context.Context, facility FacilityID) ([]Worker, error)
}

// RecordStore persists remuneration snapshots. UpsertRecord must be
// idempotent: concurrent first-time writes for one key converge on the last.
type RecordStore interface {
	// GetRecord returns ErrRecordNotFound when no snapshot exists.
	GetRecord(ctx context.Context, key RecordKey) (RemunerationRecord, error)
	UpsertRecord(ctx context.Context, rec RemunerationRecord) error
	DeleteRecord(ctx context.Context, key RecordKey) error
	ListRecordKeys(ctx context.Context) ([]RecordKey, error)
}
