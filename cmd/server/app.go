package main

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/warp/incentive-engine/config"
	"github.com/warp/incentive-engine/engine"
	"github.com/warp/incentive-engine/factory"
	"github.com/warp/incentive-engine/program"
	"github.com/warp/incentive-engine/store/postgres"
	"github.com/warp/incentive-engine/store/sqlite"
)

// app holds the wired dependencies shared by every command.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	catalog  program.Catalog
	store    *sqlite.Store
	pg       *postgres.Store
	records  *engine.RecordService
	warnings engine.WarningQuery
}

// openApp opens the stores, seeds an empty indicator table from the catalog
// and wires the record service.
func openApp(ctx context.Context, c *config.Config) (*app, error) {
	log := zap.L()

	catalog, err := loadCatalog(c.Program.CatalogPath)
	if err != nil {
		return nil, err
	}

	store, err := sqlite.New(c.Store.Path)
	if err != nil {
		return nil, eris.Wrap(err, "open sqlite store")
	}
	a := &app{cfg: c, log: log, catalog: catalog, store: store}

	stored, err := store.Indicators(ctx)
	if err != nil {
		a.close()
		return nil, eris.Wrap(err, "load indicators")
	}
	if len(stored) == 0 {
		if err := store.ImportIndicators(ctx, catalog.Indicators); err != nil {
			a.close()
			return nil, eris.Wrap(err, "seed indicators")
		}
		log.Info("indicator catalog seeded",
			zap.String("program", catalog.Name),
			zap.Int("indicators", len(catalog.Indicators)))
	}

	var (
		records engine.RecordStore  = store
		sink    engine.WarningSink  = store
		query   engine.WarningQuery = store
	)
	if c.Store.Driver == "postgres" {
		pg, err := postgres.New(ctx, c.Store.DatabaseURL, &postgres.PoolConfig{MaxConns: c.Store.MaxConns})
		if err != nil {
			a.close()
			return nil, err
		}
		a.pg = pg
		if err := pg.Migrate(ctx); err != nil {
			a.close()
			return nil, err
		}
		records, sink, query = pg, pg, pg
	}
	a.warnings = query

	calc := engine.NewCalculator(c.Calculator.EngineCalculator())
	agg := engine.NewAggregator(store, store, catalog.Config, calc,
		engine.WithTargets(store),
		engine.WithWarningSink(sink),
		engine.WithLogger(log.Named("aggregator")),
	)

	var limiter *rate.Limiter
	if c.Sweep.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(c.Sweep.RatePerSecond), 1)
	}

	a.records = &engine.RecordService{
		Facilities:       store,
		Fields:           store,
		Workers:          store,
		Records:          records,
		Aggregator:       agg,
		Allocator:        engine.NewAllocator(catalog.Config),
		Logger:           log.Named("records"),
		SweepConcurrency: c.Sweep.Concurrency,
		SweepLimiter:     limiter,
	}
	return a, nil
}

func (a *app) close() {
	var errs []error
	if a.pg != nil {
		errs = append(errs, a.pg.Close())
	}
	errs = append(errs, a.store.Close())
	if err := errors.Join(errs...); err != nil {
		a.log.Warn("close stores", zap.Error(err))
	}
}

func loadCatalog(path string) (program.Catalog, error) {
	if path == "" {
		return program.Default(), nil
	}
	catalog, err := factory.LoadCatalog(path)
	if err != nil {
		return program.Catalog{}, eris.Wrapf(err, "load catalog %s", path)
	}
	return catalog, nil
}
