/*
records.go - Remuneration records cache

PURPOSE:
  A RemunerationRecord is computed once per (facility, month) and then
  served verbatim. Editing indicators, targets or workers afterwards does not
  change a stored record; only an explicit Recalculate or Sweep does.

OPERATIONS:
  Get          snapshot if present, otherwise compute and persist
  Compute      evaluate + allocate, no persistence
  Recalculate  compute + replace for one key; a failed calculation keeps
               the previous snapshot
  Sweep        Recalculate every stored key (or every facility over a month
               range); per-key failures are logged and reported, never fatal
  Warm         first-time calculation for every facility lacking a snapshot
               (and, with Fields set, having submitted data for the month)

CONCURRENCY:
  Persistence is an idempotent upsert, so concurrent first-time Gets for the
  same key converge on the last writer. Sweeps run keys in parallel with a
  bounded errgroup and an optional rate limiter.
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// DefaultSweepConcurrency bounds parallel recalculations in a sweep.
const DefaultSweepConcurrency = 4

type RecordService struct {
	Facilities FacilitySource
	Workers    WorkerSource

	// Fields, when set, restricts Warm to facilities that submitted data
	// for the month.
	Fields FieldSource

	Records    RecordStore
	Aggregator *Aggregator
	Allocator  *Allocator
	Logger     *zap.Logger
	Now        func() time.Time

	SweepConcurrency int
	SweepLimiter     *rate.Limiter
}

func (s *RecordService) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *RecordService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

// Get returns the stored snapshot, computing and persisting it on first use.
func (s *RecordService) Get(ctx context.Context, key RecordKey) (RemunerationRecord, error) {
	rec, err := s.Records.GetRecord(ctx, key)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, ErrRecordNotFound) {
		return RemunerationRecord{}, fmt.Errorf("load record %s: %w", key, err)
	}
	return s.computeAndStore(ctx, key)
}

// Lookup returns the stored snapshot without computing one.
func (s *RecordService) Lookup(ctx context.Context, key RecordKey) (RemunerationRecord, error) {
	return s.Records.GetRecord(ctx, key)
}

// Compute evaluates and allocates without touching the record store.
func (s *RecordService) Compute(ctx context.Context, key RecordKey) (RemunerationRecord, error) {
	facility, err := s.Facilities.Facility(ctx, key.FacilityID)
	if err != nil {
		return RemunerationRecord{}, err
	}
	fp, err := s.Aggregator.Evaluate(ctx, facility, key.Month)
	if err != nil {
		return RemunerationRecord{}, err
	}
	workers, err := s.Workers.Workers(ctx, facility.ID)
	if err != nil {
		return RemunerationRecord{}, fmt.Errorf("load workers for %s: %w", facility.ID, err)
	}
	alloc := s.Allocator.Allocate(fp, workers)
	return BuildRecord(fp, alloc, s.now()), nil
}

// Recalculate replaces the snapshot for one key. The previous snapshot is
// kept when the calculation fails, unless the facility no longer exists.
func (s *RecordService) Recalculate(ctx context.Context, key RecordKey) (RemunerationRecord, error) {
	rec, err := s.computeAndStore(ctx, key)
	if errors.Is(err, ErrFacilityNotFound) {
		if derr := s.Records.DeleteRecord(ctx, key); derr != nil && !errors.Is(derr, ErrRecordNotFound) {
			return RemunerationRecord{}, errors.Join(err, fmt.Errorf("delete record %s: %w", key, derr))
		}
	}
	return rec, err
}

func (s *RecordService) computeAndStore(ctx context.Context, key RecordKey) (RemunerationRecord, error) {
	rec, err := s.Compute(ctx, key)
	if err != nil {
		return RemunerationRecord{}, err
	}
	if err := s.Records.UpsertRecord(ctx, rec); err != nil {
		return RemunerationRecord{}, fmt.Errorf("store record %s: %w", key, err)
	}
	s.logger().Info("remuneration record stored",
		zap.String("facility_id", string(key.FacilityID)),
		zap.String("month", key.Month.String()),
		zap.String("grand_total", rec.Summary.GrandTotal.StringFixed(MoneyPlaces)),
	)
	return rec, nil
}

// BuildRecord assembles the snapshot from an evaluation and its allocation.
func BuildRecord(fp FacilityPerformance, alloc Allocation, at time.Time) RemunerationRecord {
	results := fp.Results
	if results == nil {
		results = []PerformanceResult{}
	}
	return RemunerationRecord{
		ID:           ulid.Make().String(),
		FacilityID:   fp.Facility.ID,
		FacilityName: fp.Facility.Name,
		FacilityType: fp.Facility.Type,
		Month:        fp.Month,
		Indicators:   results,
		Workers:      alloc.Workers,
		Summary: Summary{
			IndicatorTotal:      fp.IndicatorTotal,
			MaxPossible:         fp.MaxPossible,
			WorkerTotal:         alloc.WorkerTotal,
			GrandTotal:          alloc.GrandTotal,
			PerformancePct:      fp.PerformancePct(),
			FacilityAchievement: alloc.Achievement,
			Counts:              fp.Counts,
			TotalIndicators:     len(fp.Results),
			SkippedIndicators:   fp.Skipped,
			WorkerIssues:        alloc.Issues,
		},
		CalculatedAt: at,
	}
}

// =============================================================================
// SWEEP - Bulk recalculation with per-key failure isolation
// =============================================================================

// SweepRequest selects the keys to recalculate. With no months set every
// stored key is recalculated; with From (and optionally To) every facility is
// recalculated for each month in the range.
type SweepRequest struct {
	From *ReportMonth `json:"from,omitempty"`
	To   *ReportMonth `json:"to,omitempty"`
}

type SweepFailure struct {
	Key   RecordKey `json:"key"`
	Error string    `json:"error"`
}

type SweepReport struct {
	RunID      string         `json:"run_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Total      int            `json:"total"`
	Succeeded  int            `json:"succeeded"`
	Failures   []SweepFailure `json:"failures"`
}

func (s *RecordService) Sweep(ctx context.Context, req SweepRequest) (SweepReport, error) {
	report := SweepReport{
		RunID:     uuid.NewString(),
		StartedAt: s.now(),
		Failures:  []SweepFailure{},
	}
	log := s.logger().With(zap.String("run_id", report.RunID))

	keys, err := s.sweepKeys(ctx, req)
	if err != nil {
		return report, err
	}
	report.Total = len(keys)
	log.Info("sweep started", zap.Int("keys", len(keys)))

	limit := s.SweepConcurrency
	if limit <= 0 {
		limit = DefaultSweepConcurrency
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, key := range keys {
		g.Go(func() error {
			if s.SweepLimiter != nil {
				if err := s.SweepLimiter.Wait(gctx); err != nil {
					mu.Lock()
					report.Failures = append(report.Failures, SweepFailure{Key: key, Error: err.Error()})
					mu.Unlock()
					return err
				}
			}
			_, err := s.Recalculate(gctx, key)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Warn("sweep key failed",
					zap.String("facility_id", string(key.FacilityID)),
					zap.String("month", key.Month.String()),
					zap.Error(err))
				report.Failures = append(report.Failures, SweepFailure{Key: key, Error: err.Error()})
				return nil
			}
			report.Succeeded++
			return nil
		})
	}
	err = g.Wait()

	sort.Slice(report.Failures, func(i, j int) bool {
		return recordKeyLess(report.Failures[i].Key, report.Failures[j].Key)
	})
	report.FinishedAt = s.now()
	log.Info("sweep finished",
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", len(report.Failures)))
	return report, err
}

func (s *RecordService) sweepKeys(ctx context.Context, req SweepRequest) ([]RecordKey, error) {
	if req.From == nil && req.To == nil {
		keys, err := s.Records.ListRecordKeys(ctx)
		if err != nil {
			return nil, fmt.Errorf("list record keys: %w", err)
		}
		sort.Slice(keys, func(i, j int) bool { return recordKeyLess(keys[i], keys[j]) })
		return keys, nil
	}

	from, to := req.From, req.To
	if from == nil {
		from = to
	}
	if to == nil {
		to = from
	}
	facilities, err := s.Facilities.Facilities(ctx)
	if err != nil {
		return nil, fmt.Errorf("list facilities: %w", err)
	}
	var keys []RecordKey
	for _, m := range MonthsBetween(*from, *to) {
		for _, f := range facilities {
			keys = append(keys, RecordKey{FacilityID: f.ID, Month: m})
		}
	}
	return keys, nil
}

// Warm computes first-time snapshots for every facility that lacks one for
// the month. Existing snapshots are left untouched. With Fields set,
// facilities without submissions for the month are skipped.
func (s *RecordService) Warm(ctx context.Context, month ReportMonth) (created int, err error) {
	facilities, err := s.Facilities.Facilities(ctx)
	if err != nil {
		return 0, fmt.Errorf("list facilities: %w", err)
	}
	for _, f := range facilities {
		key := RecordKey{FacilityID: f.ID, Month: month}
		if s.Fields != nil {
			values, err := s.Fields.FieldValues(ctx, f.ID, month)
			if err != nil {
				s.logger().Warn("warm field lookup failed", zap.String("key", key.String()), zap.Error(err))
				continue
			}
			if len(values) == 0 {
				continue
			}
		}
		_, err := s.Records.GetRecord(ctx, key)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrRecordNotFound) {
			s.logger().Warn("warm lookup failed", zap.String("key", key.String()), zap.Error(err))
			continue
		}
		if _, err := s.computeAndStore(ctx, key); err != nil {
			s.logger().Warn("warm calculation failed", zap.String("key", key.String()), zap.Error(err))
			continue
		}
		created++
	}
	return created, nil
}

func recordKeyLess(a, b RecordKey) bool {
	if !a.Month.Equal(b.Month) {
		return a.Month.Before(b.Month)
	}
	return a.FacilityID < b.FacilityID
}
