package cmd

import (
	"fmt"

	"github.com/stockflow/invopt/optim"
	"github.com/stockflow/invopt/optim/cost"
	"github.com/stockflow/invopt/optim/demand"
	"github.com/stockflow/invopt/optim/inventory"
	"github.com/stockflow/invopt/optim/snapshot"
	"github.com/stockflow/invopt/optim/trace"
)

// engine bundles the components one process runs.
type engine struct {
	store     *snapshot.Store
	collector *snapshot.Collector
	optimizer *inventory.Optimizer
}

// newSource returns the SKU source selected by cfg.
func newSource(cfg optim.CollectorConfig) (snapshot.Source, error) {
	switch cfg.Source {
	case "file":
		return snapshot.NewFileSource(cfg.Path), nil
	case "synthetic":
		return snapshot.NewSyntheticSource(cfg.SyntheticSKUs, cfg.Seed), nil
	default:
		return nil, fmt.Errorf("unknown collector source %q", cfg.Source)
	}
}

// buildEngine wires the store, collector and optimizer for cfg. The optimizer
// is not initialized; callers do that once data is available.
func buildEngine(cfg optim.Config) (*engine, error) {
	src, err := newSource(cfg.Collector)
	if err != nil {
		return nil, err
	}
	store := snapshot.NewStore()
	cst, err := cost.New(cfg.Fitness, cfg.Telemetry)
	if err != nil {
		return nil, err
	}
	dem := demand.New(cfg.Forecast, cfg.Alerts)
	opt := inventory.New(cfg, store, dem, cst, inventory.WithTrace(trace.NewRecorder(cfg.Cycle.TraceCapacity)))
	return &engine{
		store:     store,
		collector: snapshot.NewCollector(store, src, cfg.Collector.Interval),
		optimizer: opt,
	}, nil
}
