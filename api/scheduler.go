/*
scheduler.go - Automated remuneration warm-up scheduler

PURPOSE:
  Periodically computes first-time remuneration snapshots for the most
  recently closed reporting month, so that month-end reports open instantly.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Targets the month before the current one (the month being reported)
  - Idle before AfterDay of the new month
  - Skips facilities that already have a snapshot; never overwrites one
  - Per-facility failures are logged and do not stop the run

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true; the server
    config turns it off unless scheduler.enabled is set)
  - AfterDay: First day of the month on which warm-up runs (0 = any day)

USAGE:
  scheduler := NewWarmupScheduler(records, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - engine/records.go: RecordService.Warm
  - handlers.go: Sweep endpoint (manual recalculation)
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/incentive-engine/engine"
)

// Warmer computes missing snapshots for one month.
type Warmer interface {
	Warm(ctx context.Context, month engine.ReportMonth) (int, error)
}

// WarmupScheduler handles automated snapshot warm-up.
type WarmupScheduler struct {
	Records       Warmer
	Logger        *zap.Logger
	CheckInterval time.Duration
	Enabled       bool
	AfterDay      int
	Now           func() time.Time

	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	lastMu  sync.Mutex
	lastRun time.Time
}

// NewWarmupScheduler creates a new scheduler.
func NewWarmupScheduler(records Warmer, logger *zap.Logger) *WarmupScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WarmupScheduler{
		Records:       records,
		Logger:        logger.With(zap.String("component", "scheduler")),
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		Now:           time.Now,
	}
}

// Start begins the scheduler.
func (ws *WarmupScheduler) Start() {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if !ws.Enabled {
		ws.Logger.Info("scheduler disabled, not starting")
		return
	}
	if ws.ticker != nil {
		return
	}

	ws.ticker = time.NewTicker(ws.CheckInterval)
	ws.stop = make(chan struct{})
	ws.wg.Add(1)

	go ws.run()

	ws.Logger.Info("scheduler started", zap.Duration("interval", ws.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight run to finish.
func (ws *WarmupScheduler) Stop() {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.ticker != nil {
		ws.ticker.Stop()
		close(ws.stop)
		ws.wg.Wait()
		ws.ticker = nil
		ws.Logger.Info("scheduler stopped")
	}
}

func (ws *WarmupScheduler) run() {
	defer ws.wg.Done()

	// Run immediately on start
	ws.checkAndProcess()

	for {
		select {
		case <-ws.ticker.C:
			ws.checkAndProcess()
		case <-ws.stop:
			return
		}
	}
}

// checkAndProcess warms the previous month and returns the number of
// snapshots created.
func (ws *WarmupScheduler) checkAndProcess() int {
	ctx, cancel := context.WithTimeout(context.Background(), ws.CheckInterval)
	defer cancel()

	now := ws.Now()
	month := engine.MonthOf(now).Prev()

	if ws.AfterDay > 0 && now.Day() < ws.AfterDay {
		ws.Logger.Debug("warm-up deferred",
			zap.String("month", month.String()),
			zap.Int("after_day", ws.AfterDay))
		return 0
	}

	created, err := ws.Records.Warm(ctx, month)
	if err != nil {
		ws.Logger.Error("warm-up failed", zap.String("month", month.String()), zap.Error(err))
		return 0
	}

	ws.lastMu.Lock()
	ws.lastRun = now
	ws.lastMu.Unlock()
	if created > 0 {
		ws.Logger.Info("warm-up completed",
			zap.String("month", month.String()),
			zap.Int("created", created))
	}
	return created
}

// RunNow triggers an immediate check (for testing/admin).
func (ws *WarmupScheduler) RunNow() int {
	return ws.checkAndProcess()
}

// GetNextRunTime returns when the next scheduled check will occur.
func (ws *WarmupScheduler) GetNextRunTime() time.Time {
	ws.lastMu.Lock()
	defer ws.lastMu.Unlock()
	if ws.lastRun.IsZero() {
		return ws.Now()
	}
	return ws.lastRun.Add(ws.CheckInterval)
}
