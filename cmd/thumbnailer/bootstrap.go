package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/andresuchdata/thumbnailer/internal/config"
	"github.com/andresuchdata/thumbnailer/internal/imaging"
	"github.com/andresuchdata/thumbnailer/internal/journal"
	"github.com/andresuchdata/thumbnailer/internal/ledger"
	"github.com/andresuchdata/thumbnailer/internal/pipeline"
	"github.com/andresuchdata/thumbnailer/internal/storage"
	"github.com/andresuchdata/thumbnailer/pkg/logger"
)

// env holds the process-wide handles shared by every invocation.
type env struct {
	cfg      *config.Config
	store    storage.ObjectStore
	orch     *pipeline.Orchestrator
	ledger   ledger.Ledger
	journal  *journal.SQLJournal
	registry *prometheus.Registry
}

func setupLogging(cfg *config.Config) {
	logger.SetFormat(cfg.App.LogFormat)
	logger.SetLevel(cfg.App.LogLevel)
}

// bootstrap builds the store, optional ledger and journal, and the
// orchestrator from cfg.
func bootstrap(ctx context.Context, cfg *config.Config) (*env, error) {
	policy, err := cfg.Naming.Policy()
	if err != nil {
		return nil, fmt.Errorf("naming policy: %w", err)
	}

	store, err := storage.New(ctx, cfg.Storage.StoreConfig())
	if err != nil {
		return nil, fmt.Errorf("object store: %w", err)
	}

	rt := &env{
		cfg:      cfg,
		store:    store,
		registry: prometheus.NewRegistry(),
	}
	rt.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	rt.ledger, err = ledger.New(cfg.Ledger)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}

	opts := []pipeline.Option{
		pipeline.WithTimeout(cfg.App.InvocationTimeout()),
		pipeline.WithMetrics(pipeline.NewMetrics(rt.registry)),
	}
	if cfg.Ledger.Enabled {
		opts = append(opts, pipeline.WithLedger(rt.ledger))
	}

	if cfg.Journal.Enabled {
		db, err := journal.Open(cfg.Journal.Driver, cfg.Journal.DSN)
		if err != nil {
			rt.close()
			return nil, fmt.Errorf("journal: %w", err)
		}
		rt.journal = journal.New(db, 4)
		if err := rt.journal.EnsureSchema(ctx); err != nil {
			rt.close()
			return nil, fmt.Errorf("journal: %w", err)
		}
		opts = append(opts, pipeline.WithJournal(rt.journal))
	}

	rt.orch = pipeline.NewOrchestrator(store, imaging.NewTransformer(), policy, opts...)
	return rt, nil
}

func (rt *env) close() error {
	var errs []error
	if rt.ledger != nil {
		errs = append(errs, rt.ledger.Close())
	}
	if rt.journal != nil {
		errs = append(errs, rt.journal.Close())
	}
	return errors.Join(errs...)
}
