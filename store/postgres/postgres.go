/*
Package postgres provides a Postgres-backed remuneration record cache.

PURPOSE:
  Several API instances can share one snapshot cache. Configuration and
  submissions stay in the primary store; only the RecordStore and the
  configuration warning log live here.

INTERFACES IMPLEMENTED:
  engine.RecordStore:  Remuneration snapshots (JSONB payload)
  engine.WarningSink:  Configuration warnings (deduplicated)
  engine.WarningQuery: Warning listing

CONCURRENCY:
  Snapshot writes are single-statement upserts inside a transaction, so
  concurrent first-time calculations for one key converge on the last write.

SEE ALSO:
  - engine/store.go: Interface definitions
  - store/sqlite: Full single-node implementation
*/
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/warp/incentive-engine/engine"
)

//go:embed schema.sql
var schema string

// migrationLockID serializes schema creation across instances.
const migrationLockID = 4242017

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `mapstructure:"max_conns"`
	MinConns int32 `mapstructure:"min_conns"`
}

// Store implements the record cache using pgx.
type Store struct {
	pool Pool
}

// New connects to Postgres and verifies the connection.
func New(ctx context.Context, connString string, poolCfg *PoolConfig) (*Store, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &Store{pool: pool}, nil
}

// NewWithPool wraps an existing pool.
func NewWithPool(pool Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Migrate creates the cache tables under an advisory lock.
func (s *Store) Migrate(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "postgres.migrate"))

	if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return eris.Wrap(err, "postgres: acquire migration lock")
	}
	defer func() {
		if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
			log.Warn("postgres: failed to release migration lock", zap.Error(err))
		}
	}()

	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return eris.Wrap(err, "postgres: apply schema")
	}
	log.Info("schema applied")
	return nil
}

// =============================================================================
// REMUNERATION RECORDS
// =============================================================================

func (s *Store) GetRecord(ctx context.Context, key engine.RecordKey) (engine.RemunerationRecord, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM remuneration_records WHERE facility_id = $1 AND month = $2`,
		string(key.FacilityID), key.Month.String(),
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return engine.RemunerationRecord{}, engine.ErrRecordNotFound
	}
	if err != nil {
		return engine.RemunerationRecord{}, eris.Wrapf(err, "postgres: get record %s", key)
	}

	var rec engine.RemunerationRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return engine.RemunerationRecord{}, eris.Wrapf(err, "postgres: decode record %s", key)
	}
	return rec, nil
}

func (s *Store) UpsertRecord(ctx context.Context, rec engine.RemunerationRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrapf(err, "postgres: encode record %s", rec.Key())
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `
		INSERT INTO remuneration_records (facility_id, month, id, grand_total, payload, calculated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (facility_id, month) DO UPDATE SET
			id = EXCLUDED.id,
			grand_total = EXCLUDED.grand_total,
			payload = EXCLUDED.payload,
			calculated_at = EXCLUDED.calculated_at`,
		string(rec.FacilityID), rec.Month.String(), rec.ID,
		rec.Summary.GrandTotal.String(), payload, rec.CalculatedAt.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert record %s", rec.Key())
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit record")
}

func (s *Store) DeleteRecord(ctx context.Context, key engine.RecordKey) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM remuneration_records WHERE facility_id = $1 AND month = $2`,
		string(key.FacilityID), key.Month.String(),
	)
	return eris.Wrapf(err, "postgres: delete record %s", key)
}

func (s *Store) ListRecordKeys(ctx context.Context) ([]engine.RecordKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT facility_id, month FROM remuneration_records ORDER BY month, facility_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list record keys")
	}
	defer rows.Close()

	var keys []engine.RecordKey
	for rows.Next() {
		var facility, month string
		if err := rows.Scan(&facility, &month); err != nil {
			return nil, eris.Wrap(err, "postgres: scan record key")
		}
		m, err := engine.ParseMonth(month)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: record key %s", facility)
		}
		keys = append(keys, engine.RecordKey{FacilityID: engine.FacilityID(facility), Month: m})
	}
	return keys, rows.Err()
}

// =============================================================================
// CONFIGURATION WARNINGS
// =============================================================================

func (s *Store) RecordWarning(ctx context.Context, w engine.ConfigWarning) error {
	recorded := w.RecordedAt
	if recorded.IsZero() {
		recorded = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO config_warnings (facility_id, month, indicator, kind, facility_type, message, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (facility_id, month, indicator, kind) DO NOTHING`,
		string(w.FacilityID), w.Month.String(), string(w.Indicator), string(w.Kind),
		string(w.FacilityType), w.Message, recorded.UTC(),
	)
	return eris.Wrap(err, "postgres: record warning")
}

func (s *Store) Warnings(ctx context.Context, filter engine.WarningFilter) ([]engine.ConfigWarning, error) {
	var month string
	if !filter.Month.IsZero() {
		month = filter.Month.String()
	}
	rows, err := s.pool.Query(ctx, `
		SELECT facility_id, month, indicator, kind, facility_type, message, recorded_at
		FROM config_warnings
		WHERE ($1 = '' OR facility_id = $1)
		  AND ($2 = '' OR month = $2)
		  AND ($3 = '' OR kind = $3)
		ORDER BY month, facility_id, indicator, kind`,
		string(filter.FacilityID), month, string(filter.Kind),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list warnings")
	}
	defer rows.Close()

	var out []engine.ConfigWarning
	for rows.Next() {
		var facility, m, indicator, kind, ftype, message string
		var recorded time.Time
		if err := rows.Scan(&facility, &m, &indicator, &kind, &ftype, &message, &recorded); err != nil {
			return nil, eris.Wrap(err, "postgres: scan warning")
		}
		parsed, _ := engine.ParseMonth(m)
		out = append(out, engine.ConfigWarning{
			FacilityID:   engine.FacilityID(facility),
			FacilityType: engine.FacilityType(ftype),
			Month:        parsed,
			Indicator:    engine.IndicatorCode(indicator),
			Kind:         engine.WarningKind(kind),
			Message:      message,
			RecordedAt:   recorded,
		})
	}
	return out, rows.Err()
}
