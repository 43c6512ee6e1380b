/*
Package sqlite provides a SQLite-backed implementation of the engine's
storage interfaces.

PURPOSE:
  Implements every persistence interface the engine consumes or produces
  using SQLite. The Postgres package covers the record cache for
  deployments that share snapshots across instances.

INTERFACES IMPLEMENTED:
  engine.FacilitySource:  Facility registry
  engine.IndicatorSource: Indicator catalog (stored as catalog JSON)
  engine.TargetSource:    Facility-specific monthly targets
  engine.FieldSource:     Submitted field values
  engine.FieldWriter:     Sanitized submissions
  engine.WorkerSource:    Worker registry
  engine.RecordStore:     Remuneration snapshots
  engine.WarningSink:     Configuration warnings (deduplicated)
  engine.WarningQuery:    Warning listing for the admin surface

KEY TABLES:
  facilities:           Facility id, name, type
  indicators:           Indicator configuration as JSON
  facility_targets:     Per-facility, per-month target overrides
  field_values:         One row per (facility, month, field)
  workers:              Worker registry with allocated base
  remuneration_records: One snapshot per (facility, month)
  config_warnings:      One row per (facility, month, indicator, kind)

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. Snapshot writes are upserts so
  concurrent first-time calculations for one key converge on the last write.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time

USAGE:
  store, err := sqlite.New("./data/incentives.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is versioned with goose; migrations are embedded from
  store/sqlite/migrations and applied on New().

SEE ALSO:
  - engine/store.go: Interface definitions
  - engine/store/memory.go: In-memory implementation for testing
  - store/postgres: Postgres record cache
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/warp/incentive-engine/engine"
	"github.com/warp/incentive-engine/factory"
	"github.com/warp/incentive-engine/store/sqlite/migrations"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, eris.Wrap(err, "failed to open database")
	}
	if dbPath == ":memory:" {
		// each connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "failed to migrate database")
	}

	return store, nil
}

// Migrate applies all pending embedded migrations.
func Migrate(db *sql.DB) error {
	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(migrations.FS)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return eris.Wrap(err, "set dialect")
	}
	if err := goose.Up(db, "."); err != nil {
		return eris.Wrap(err, "run migrations")
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for the migrate command.
func (s *Store) DB() *sql.DB {
	return s.db
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "commit transaction")
}

// =============================================================================
// FACILITIES
// =============================================================================

func (s *Store) SaveFacility(ctx context.Context, f engine.Facility) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO facilities (id, name, type) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, type = excluded.type
	`, f.ID, f.Name, f.Type)
	return eris.Wrapf(err, "save facility %s", f.ID)
}

func (s *Store) Facility(ctx context.Context, id engine.FacilityID) (engine.Facility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var f engine.Facility
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, type FROM facilities WHERE id = ?", id,
	).Scan(&f.ID, &f.Name, &f.Type)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Facility{}, eris.Wrapf(engine.ErrFacilityNotFound, "facility %s", id)
	}
	if err != nil {
		return engine.Facility{}, eris.Wrapf(err, "load facility %s", id)
	}
	return f, nil
}

func (s *Store) Facilities(ctx context.Context) ([]engine.Facility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, name, type FROM facilities ORDER BY id")
	if err != nil {
		return nil, eris.Wrap(err, "list facilities")
	}
	defer rows.Close()

	var out []engine.Facility
	for rows.Next() {
		var f engine.Facility
		if err := rows.Scan(&f.ID, &f.Name, &f.Type); err != nil {
			return nil, eris.Wrap(err, "scan facility")
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// =============================================================================
// INDICATORS
// =============================================================================

func (s *Store) SaveIndicator(ctx context.Context, ind engine.Indicator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveIndicator(ctx, s.db, ind)
}

// ImportIndicators replaces the catalog with the given indicators in one
// transaction.
func (s *Store) ImportIndicators(ctx context.Context, indicators []engine.Indicator) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM indicators"); err != nil {
			return eris.Wrap(err, "clear indicators")
		}
		for _, ind := range indicators {
			if err := s.saveIndicator(ctx, tx, ind); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) saveIndicator(ctx context.Context, db execer, ind engine.Indicator) error {
	configJSON, err := factory.IndicatorToJSON(ind)
	if err != nil {
		return eris.Wrapf(err, "encode indicator %s", ind.Code)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO indicators (code, config_json, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET config_json = excluded.config_json, updated_at = excluded.updated_at
	`, ind.Code, configJSON, time.Now().UTC().Format(time.RFC3339))
	return eris.Wrapf(err, "save indicator %s", ind.Code)
}

func (s *Store) DeleteIndicator(ctx context.Context, code engine.IndicatorCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM indicators WHERE code = ?", code)
	return eris.Wrapf(err, "delete indicator %s", code)
}

// Indicators returns the catalog in code order; the aggregator re-sorts.
func (s *Store) Indicators(ctx context.Context) ([]engine.Indicator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT code, config_json FROM indicators ORDER BY code")
	if err != nil {
		return nil, eris.Wrap(err, "list indicators")
	}
	defer rows.Close()

	var out []engine.Indicator
	for rows.Next() {
		var code, configJSON string
		if err := rows.Scan(&code, &configJSON); err != nil {
			return nil, eris.Wrap(err, "scan indicator")
		}
		ind, err := factory.ParseIndicator(configJSON)
		if err != nil {
			return nil, eris.Wrapf(err, "decode indicator %s", code)
		}
		out = append(out, ind)
	}
	return out, rows.Err()
}

// =============================================================================
// FACILITY TARGETS
// =============================================================================

func (s *Store) SaveTarget(ctx context.Context, t engine.FacilityTarget) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var minV, maxV sql.NullFloat64
	if t.Range != nil {
		minV = sql.NullFloat64{Float64: t.Range.Min, Valid: true}
		maxV = sql.NullFloat64{Float64: t.Range.Max, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO facility_targets (facility_id, indicator, month, target_value, range_min, range_max)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(facility_id, month, indicator) DO UPDATE SET
			target_value = excluded.target_value,
			range_min = excluded.range_min,
			range_max = excluded.range_max
	`, t.FacilityID, t.Indicator, t.Month.String(), t.TargetValue, minV, maxV)
	return eris.Wrapf(err, "save target %s/%s", t.FacilityID, t.Indicator)
}

func (s *Store) FacilityTargets(ctx context.Context, facility engine.FacilityID, month engine.ReportMonth) (map[engine.IndicatorCode]engine.FacilityTarget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT indicator, target_value, range_min, range_max
		FROM facility_targets WHERE facility_id = ? AND month = ?
	`, facility, month.String())
	if err != nil {
		return nil, eris.Wrap(err, "list facility targets")
	}
	defer rows.Close()

	out := make(map[engine.IndicatorCode]engine.FacilityTarget)
	for rows.Next() {
		t := engine.FacilityTarget{FacilityID: facility, Month: month}
		var minV, maxV sql.NullFloat64
		if err := rows.Scan(&t.Indicator, &t.TargetValue, &minV, &maxV); err != nil {
			return nil, eris.Wrap(err, "scan facility target")
		}
		if minV.Valid && maxV.Valid {
			r := engine.Range{Min: minV.Float64, Max: maxV.Float64}.Normalize()
			t.Range = &r
		}
		out[t.Indicator] = t
	}
	return out, rows.Err()
}

// =============================================================================
// FIELD VALUES
// =============================================================================

func (s *Store) FieldValues(ctx context.Context, facility engine.FacilityID, month engine.ReportMonth) (map[engine.FieldKey]engine.FieldValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT field, value_kind, value, override, override_reason, normalized, updated_at
		FROM field_values WHERE facility_id = ? AND month = ?
	`, facility, month.String())
	if err != nil {
		return nil, eris.Wrap(err, "list field values")
	}
	defer rows.Close()

	out := make(map[engine.FieldKey]engine.FieldValue)
	for rows.Next() {
		fv := engine.FieldValue{FacilityID: facility, Month: month}
		var kind, raw, updatedAt string
		var normalized sql.NullBool
		if err := rows.Scan(&fv.Field, &kind, &raw, &fv.Override, &fv.OverrideReason, &normalized, &updatedAt); err != nil {
			return nil, eris.Wrap(err, "scan field value")
		}
		fv.Value, err = decodeValue(engine.ValueKind(kind), raw)
		if err != nil {
			return nil, eris.Wrapf(err, "decode field %s", fv.Field)
		}
		if normalized.Valid {
			fv.Normalized = &normalized.Bool
		}
		fv.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		out[fv.Field] = fv
	}
	return out, rows.Err()
}

// SaveFieldValues upserts a submission in one transaction.
func (s *Store) SaveFieldValues(ctx context.Context, values []engine.FieldValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO field_values (facility_id, month, field, value_kind, value, override, override_reason, normalized, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(facility_id, month, field) DO UPDATE SET
				value_kind = excluded.value_kind,
				value = excluded.value,
				override = excluded.override,
				override_reason = excluded.override_reason,
				normalized = excluded.normalized,
				updated_at = excluded.updated_at
		`)
		if err != nil {
			return eris.Wrap(err, "prepare field upsert")
		}
		defer stmt.Close()

		for _, fv := range values {
			updated := fv.UpdatedAt
			if updated.IsZero() {
				updated = time.Now()
			}
			var normalized sql.NullBool
			if fv.Normalized != nil {
				normalized = sql.NullBool{Bool: *fv.Normalized, Valid: true}
			}
			if _, err := stmt.ExecContext(ctx,
				fv.FacilityID, fv.Month.String(), fv.Field,
				string(fv.Value.Kind), encodeValue(fv.Value),
				fv.Override, fv.OverrideReason, normalized,
				updated.UTC().Format(time.RFC3339),
			); err != nil {
				return eris.Wrapf(err, "save field %s", fv.Field)
			}
		}
		return nil
	})
}

func encodeValue(v engine.Value) string {
	if v.IsNull() {
		return ""
	}
	return v.String()
}

func decodeValue(kind engine.ValueKind, raw string) (engine.Value, error) {
	switch kind {
	case engine.KindNumber:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return engine.Value{}, err
		}
		return engine.Number(f), nil
	case engine.KindBoolean:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return engine.Value{}, err
		}
		return engine.Boolean(b), nil
	case engine.KindString:
		return engine.String(raw), nil
	default:
		return engine.Null(), nil
	}
}

// =============================================================================
// WORKERS
// =============================================================================

func (s *Store) SaveWorker(ctx context.Context, w engine.Worker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workers (id, facility_id, name, designation, role, allocated_base)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			facility_id = excluded.facility_id,
			name = excluded.name,
			designation = excluded.designation,
			role = excluded.role,
			allocated_base = excluded.allocated_base
	`, w.ID, w.FacilityID, w.Name, w.Designation, w.Role, w.AllocatedBase.String())
	return eris.Wrapf(err, "save worker %s", w.ID)
}

func (s *Store) DeleteWorker(ctx context.Context, id engine.WorkerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM workers WHERE id = ?", id)
	return eris.Wrapf(err, "delete worker %s", id)
}

func (s *Store) Workers(ctx context.Context, facility engine.FacilityID) ([]engine.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, designation, role, allocated_base
		FROM workers WHERE facility_id = ? ORDER BY id
	`, facility)
	if err != nil {
		return nil, eris.Wrap(err, "list workers")
	}
	defer rows.Close()

	var out []engine.Worker
	for rows.Next() {
		w := engine.Worker{FacilityID: facility}
		var base string
		if err := rows.Scan(&w.ID, &w.Name, &w.Designation, &w.Role, &base); err != nil {
			return nil, eris.Wrap(err, "scan worker")
		}
		w.AllocatedBase, err = decimal.NewFromString(base)
		if err != nil {
			return nil, eris.Wrapf(err, "worker %s allocated base", w.ID)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// =============================================================================
// REMUNERATION RECORDS
// =============================================================================

func (s *Store) GetRecord(ctx context.Context, key engine.RecordKey) (engine.RemunerationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payload string
	err := s.db.QueryRowContext(ctx,
		"SELECT payload FROM remuneration_records WHERE facility_id = ? AND month = ?",
		key.FacilityID, key.Month.String(),
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.RemunerationRecord{}, engine.ErrRecordNotFound
	}
	if err != nil {
		return engine.RemunerationRecord{}, eris.Wrapf(err, "load record %s", key)
	}

	var rec engine.RemunerationRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return engine.RemunerationRecord{}, eris.Wrapf(err, "decode record %s", key)
	}
	return rec, nil
}

// UpsertRecord writes the snapshot, its results and summary as one row so a
// reader never observes a partial record.
func (s *Store) UpsertRecord(ctx context.Context, rec engine.RemunerationRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrapf(err, "encode record %s", rec.Key())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO remuneration_records (facility_id, month, id, grand_total, payload, calculated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(facility_id, month) DO UPDATE SET
				id = excluded.id,
				grand_total = excluded.grand_total,
				payload = excluded.payload,
				calculated_at = excluded.calculated_at
		`, rec.FacilityID, rec.Month.String(), rec.ID, rec.Summary.GrandTotal.String(),
			string(payload), rec.CalculatedAt.UTC().Format(time.RFC3339))
		return eris.Wrapf(err, "upsert record %s", rec.Key())
	})
}

func (s *Store) DeleteRecord(ctx context.Context, key engine.RecordKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"DELETE FROM remuneration_records WHERE facility_id = ? AND month = ?",
		key.FacilityID, key.Month.String(),
	)
	return eris.Wrapf(err, "delete record %s", key)
}

func (s *Store) ListRecordKeys(ctx context.Context) ([]engine.RecordKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT facility_id, month FROM remuneration_records ORDER BY month, facility_id",
	)
	if err != nil {
		return nil, eris.Wrap(err, "list record keys")
	}
	defer rows.Close()

	var keys []engine.RecordKey
	for rows.Next() {
		var key engine.RecordKey
		var month string
		if err := rows.Scan(&key.FacilityID, &month); err != nil {
			return nil, eris.Wrap(err, "scan record key")
		}
		if key.Month, err = engine.ParseMonth(month); err != nil {
			return nil, eris.Wrapf(err, "record key %s", key.FacilityID)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// =============================================================================
// CONFIGURATION WARNINGS
// =============================================================================

// RecordWarning stores a warning once per (facility, month, indicator, kind).
func (s *Store) RecordWarning(ctx context.Context, w engine.ConfigWarning) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recorded := w.RecordedAt
	if recorded.IsZero() {
		recorded = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO config_warnings (facility_id, month, indicator, kind, facility_type, message, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(facility_id, month, indicator, kind) DO NOTHING
	`, w.FacilityID, w.Month.String(), w.Indicator, w.Kind, w.FacilityType, w.Message,
		recorded.UTC().Format(time.RFC3339))
	return eris.Wrap(err, "record warning")
}

func (s *Store) Warnings(ctx context.Context, filter engine.WarningFilter) ([]engine.ConfigWarning, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT facility_id, month, indicator, kind, facility_type, message, recorded_at
		FROM config_warnings WHERE 1 = 1`
	var args []any
	if filter.FacilityID != "" {
		query += " AND facility_id = ?"
		args = append(args, filter.FacilityID)
	}
	if !filter.Month.IsZero() {
		query += " AND month = ?"
		args = append(args, filter.Month.String())
	}
	if filter.Kind != "" {
		query += " AND kind = ?"
		args = append(args, filter.Kind)
	}
	query += " ORDER BY month, facility_id, indicator, kind"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "list warnings")
	}
	defer rows.Close()

	var out []engine.ConfigWarning
	for rows.Next() {
		var w engine.ConfigWarning
		var month, recorded string
		if err := rows.Scan(&w.FacilityID, &month, &w.Indicator, &w.Kind, &w.FacilityType, &w.Message, &recorded); err != nil {
			return nil, eris.Wrap(err, "scan warning")
		}
		w.Month, _ = engine.ParseMonth(month)
		w.RecordedAt, _ = time.Parse(time.RFC3339, recorded)
		out = append(out, w)
	}
	return out, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"config_warnings", "remuneration_records", "workers", "field_values",
		"facility_targets", "indicators", "facilities",
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range tables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return eris.Wrapf(err, "clear %s", table)
			}
		}
		return nil
	})
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
