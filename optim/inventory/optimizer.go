// Package inventory drives optimization cycles and publishes their results.
//
// One Optimizer owns the snapshot store and the demand and cost optimizers.
// Each cycle captures one snapshot, forecasts demand, raises alerts, searches
// order quantities with the genetic engine and atomically publishes the
// outcome. Readers get the last publication without ever waiting on a cycle.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stockflow/invopt/optim"
	"github.com/stockflow/invopt/optim/cost"
	"github.com/stockflow/invopt/optim/demand"
	"github.com/stockflow/invopt/optim/genetic"
	"github.com/stockflow/invopt/optim/snapshot"
	"github.com/stockflow/invopt/optim/trace"
)

// ErrCycleInProgress is returned when RunCycle is called while another cycle
// is still running.
var ErrCycleInProgress = errors.New("optimization cycle already in progress")

// failureBackoff is the minimum gap after a cycle that did not publish a
// plan, so an empty or broken snapshot does not spin the loop.
const failureBackoff = 500 * time.Millisecond

// Cycle stages, reported in logs and trace records.
const (
	StageSnapshot = "snapshot"
	StageForecast = "forecast"
	StageBounds   = "bounds"
	StageSearch   = "search"
	StageScore    = "score"
	StagePublish  = "publish"
)

// Exclusion reasons.
const (
	ExcludedInvalidBounds = "invalid_bounds"
	ExcludedNoForecast    = "no_forecast"
	ExcludedInvalidFacts  = "invalid_facts"
)

// Publication is one atomically published optimization entry. It is
// replaced whole by successful cycles only; alert sets are published in a
// separate cell so failed cycles never touch it.
type Publication struct {
	Result    *optim.OptimizationResult
	Version   uint64    // snapshot version the result was built from
	Timestamp time.Time // when this entry was published
}

// Status is a point-in-time view of the cycle counters.
type Status struct {
	Ready       bool      `json:"ready"`
	Seed        int64     `json:"seed"`
	Cycles      uint64    `json:"cycles"`
	Succeeded   uint64    `json:"succeeded"`
	Infeasible  uint64    `json:"infeasible"`
	Failed      uint64    `json:"failed"`
	LastError   string    `json:"last_error,omitempty"`
	LastCycleAt time.Time `json:"last_cycle_at"`
}

// Optimizer is the cycle orchestrator. Construct it once and share it.
type Optimizer struct {
	cfg    optim.Config
	store  *snapshot.Store
	demand *demand.Optimizer
	cost   *cost.Optimizer
	trace  *trace.Recorder
	now    func() time.Time
	seed   int64

	search genetic.Config
	ready  atomic.Bool

	cycleMu   sync.Mutex
	published atomic.Pointer[Publication]
	alerts    atomic.Pointer[optim.AlertSet]

	cycles     atomic.Uint64
	succeeded  atomic.Uint64
	infeasible atomic.Uint64
	failed     atomic.Uint64
	lastError  atomic.Pointer[string]
	lastCycle  atomic.Pointer[time.Time]
}

// Option customizes an Optimizer.
type Option func(*Optimizer)

// WithClock sets the clock used for timestamps and durations.
func WithClock(now func() time.Time) Option {
	return func(o *Optimizer) {
		if now != nil {
			o.now = now
		}
	}
}

// WithTrace sets the recorder that receives one record per cycle.
func WithTrace(r *trace.Recorder) Option {
	return func(o *Optimizer) { o.trace = r }
}

// New creates an Optimizer. Call InitializeAlgorithms before running cycles.
// When cfg.Seed is nil the search seed is taken from the clock once here and
// logged, so a run can be reproduced.
func New(cfg optim.Config, store *snapshot.Store, dem *demand.Optimizer, cst *cost.Optimizer, opts ...Option) *Optimizer {
	o := &Optimizer{
		cfg:    cfg,
		store:  store,
		demand: dem,
		cost:   cst,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.trace == nil {
		o.trace = trace.NewRecorder(cfg.Cycle.TraceCapacity)
	}
	if cfg.Seed != nil {
		o.seed = *cfg.Seed
	} else {
		o.seed = o.now().UnixNano()
		logrus.Infof("inventory: no seed configured, using %d", o.seed)
	}
	return o
}

// InitializeAlgorithms validates the configuration and collaborators and
// marks the optimizer ready to run cycles.
func (o *Optimizer) InitializeAlgorithms() error {
	if err := o.cfg.Validate(); err != nil {
		return err
	}
	if o.store == nil || o.demand == nil || o.cost == nil {
		return fmt.Errorf("%w: store, demand and cost optimizers are required", optim.ErrInvalidConfig)
	}
	o.search = searchConfig(o.cfg.Search)
	if err := o.search.Validate(); err != nil {
		return fmt.Errorf("%w: %v", optim.ErrInvalidConfig, err)
	}
	o.ready.Store(true)
	logrus.Infof("inventory: algorithms ready (strategy %s, population %d, seed %d)",
		o.cost.Strategy().Name(), o.search.PopulationSize, o.seed)
	return nil
}

func searchConfig(s optim.SearchConfig) genetic.Config {
	return genetic.Config{
		PopulationSize:       s.PopulationSize,
		MaxGenerations:       s.MaxGenerations,
		EliteCount:           s.EliteCount,
		Selection:            genetic.Selection(s.Selection),
		TournamentSize:       s.TournamentSize,
		Crossover:            genetic.Crossover(s.Crossover),
		CrossoverRate:        s.CrossoverRate,
		MutationRate:         s.MutationRate,
		MutationScale:        s.MutationScale,
		ConvergenceTolerance: s.ConvergenceTolerance,
		ConvergencePatience:  s.ConvergencePatience,
		TimeBudget:           s.TimeBudget,
		Integral:             s.Integral,
		Parallelism:          s.Parallelism,
	}
}

// Ready reports whether InitializeAlgorithms succeeded.
func (o *Optimizer) Ready() bool { return o.ready.Load() }

// Seed returns the master search seed.
func (o *Optimizer) Seed() int64 { return o.seed }

// Config returns the configuration the optimizer was built with.
func (o *Optimizer) Config() optim.Config { return o.cfg }

// Strategy returns the name of the active fitness strategy.
func (o *Optimizer) Strategy() string { return o.cost.Strategy().Name() }

// Trace returns the cycle recorder.
func (o *Optimizer) Trace() *trace.Recorder { return o.trace }

// Run executes cycles back to back until ctx is done. A cycle in flight when
// ctx is cancelled runs to completion first. Cycle failures are logged and
// never stop the loop.
func (o *Optimizer) Run(ctx context.Context) error {
	if !o.ready.Load() {
		return optim.ErrNotInitialized
	}
	logrus.Infof("inventory: cycle loop started")
	defer logrus.Infof("inventory: cycle loop stopped")
	for {
		if ctx.Err() != nil {
			return nil
		}
		pause := o.cfg.Cycle.Pause
		if _, err := o.RunCycle(ctx); err != nil && pause < failureBackoff {
			pause = failureBackoff
		}
		if pause <= 0 {
			continue
		}
		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// === Reads ===

// Latest returns the current publication, or nil before the first one.
func (o *Optimizer) Latest() *Publication {
	return o.published.Load()
}

// CurrentOptimization returns the latest successful result. The bool is false
// until the first cycle publishes a plan.
func (o *Optimizer) CurrentOptimization() (*optim.OptimizationResult, bool) {
	p := o.published.Load()
	if p == nil || p.Result == nil {
		return nil, false
	}
	return p.Result, true
}

// CurrentAlerts returns the latest alert set. The bool is false until the
// first cycle computes alerts; an empty set is a valid value.
func (o *Optimizer) CurrentAlerts() (*optim.AlertSet, bool) {
	set := o.alerts.Load()
	if set == nil {
		return nil, false
	}
	return set, true
}

// CurrentTelemetry returns the rolling performance aggregate.
func (o *Optimizer) CurrentTelemetry() optim.Telemetry {
	return o.cost.CurrentTelemetry()
}

// Status returns the cycle counters.
func (o *Optimizer) Status() Status {
	s := Status{
		Ready:      o.ready.Load(),
		Seed:       o.seed,
		Cycles:     o.cycles.Load(),
		Succeeded:  o.succeeded.Load(),
		Infeasible: o.infeasible.Load(),
		Failed:     o.failed.Load(),
	}
	if e := o.lastError.Load(); e != nil {
		s.LastError = *e
	}
	if t := o.lastCycle.Load(); t != nil {
		s.LastCycleAt = *t
	}
	return s
}

// === Cycle ===

// RunCycle runs one optimization cycle and publishes its outcome. On
// ErrInfeasibleProblem or any other failure the previous result stays
// published; alerts computed before the failure are still published.
func (o *Optimizer) RunCycle(ctx context.Context) (*optim.OptimizationResult, error) {
	if !o.ready.Load() {
		return nil, optim.ErrNotInitialized
	}
	if !o.cycleMu.TryLock() {
		return nil, ErrCycleInProgress
	}
	defer o.cycleMu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := &cycle{
		o:     o,
		id:    uuid.NewString(),
		n:     o.cycles.Add(1),
		start: o.now(),
		stage: StageSnapshot,
	}
	result, err := c.run()
	o.finish(c, result, err)
	return result, err
}

// cycle carries the state of one RunCycle call.
type cycle struct {
	o       *Optimizer
	id      string
	n       uint64
	start   time.Time
	stage   string
	version uint64
	skus    int
	alerts  *optim.AlertSet
	excl    []optim.ExcludedSKU
	gens    int
}

func (c *cycle) log() *logrus.Entry {
	return logrus.WithFields(logrus.Fields{"cycle": c.n, "version": c.version, "stage": c.stage})
}

func (c *cycle) run() (result *optim.OptimizationResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	o := c.o

	snap := o.store.Current()
	c.version = snap.Version
	c.skus = snap.Len()

	c.stage = StageForecast
	forecast := o.demand.Forecast(snap)
	c.alerts = &optim.AlertSet{
		Alerts:    o.demand.DetectAlerts(snap, forecast, o.now()),
		Version:   snap.Version,
		Timestamp: o.now(),
	}

	c.stage = StageBounds
	ids, bounds := c.decisionSpace(snap, forecast)
	if len(ids) == 0 {
		return nil, optim.ErrInfeasibleProblem
	}

	c.stage = StageSearch
	fitness, err := o.cost.Evaluator(ids, snap, forecast)
	if err != nil {
		return nil, err
	}
	rng := optim.NewPartitionedRNG(optim.CycleKey(o.seed, c.n-1)).ForSubsystem(optim.SubsystemSearch)
	engine := genetic.NewEngine(o.search, rng, genetic.WithRanker(o.cost.Strategy().Ranker()))
	res, err := engine.Run(genetic.Problem{
		Bounds:  bounds,
		Fitness: fitness,
		Seeds:   c.seeds(ids, bounds, snap, forecast),
	})
	if errors.Is(err, genetic.ErrInfeasibleProblem) {
		return nil, fmt.Errorf("%w: %v", optim.ErrInfeasibleProblem, err)
	}
	if err != nil {
		return nil, err
	}
	c.gens = res.Generations

	c.stage = StageScore
	plan := optim.Plan{Lines: make([]optim.PlanLine, len(ids))}
	for i, id := range ids {
		plan.Lines[i] = optim.PlanLine{SKU: id, Quantity: res.Best.Genes[i], Min: bounds[i].Min, Max: bounds[i].Max}
	}
	breakdown, err := o.cost.Score(plan, snap, forecast)
	if err != nil {
		return nil, err
	}
	priced, report := o.cost.Report(plan, snap)

	c.stage = StagePublish
	finished := o.now()
	elapsed := finished.Sub(c.start)
	o.cost.RecordTelemetry(breakdown, elapsed, finished)
	return &optim.OptimizationResult{
		CycleID:     c.id,
		Version:     snap.Version,
		Plan:        priced,
		Fitness:     breakdown,
		CostReport:  report,
		Generations: res.Generations,
		Evaluations: res.Evaluations,
		Converged:   res.Converged,
		Termination: optim.Termination(res.Termination),
		Strategy:    o.cost.Strategy().Name(),
		Excluded:    c.excl,
		Duration:    elapsed,
		Timestamp:   finished,
	}, nil
}

// decisionSpace returns the searchable SKUs and their bounds, recording the
// rest as excluded.
func (c *cycle) decisionSpace(snap *optim.Snapshot, fc optim.DemandForecast) ([]string, []genetic.Bound) {
	records := snap.Records()
	ids := make([]string, 0, len(records))
	bounds := make([]genetic.Bound, 0, len(records))
	for _, r := range records {
		b := genetic.Bound{Min: r.MinQty, Max: r.MaxQty}
		reason := ""
		if f, ok := fc.For(r.ID); !b.Valid() {
			reason = ExcludedInvalidBounds
		} else if !r.HasValidFacts() {
			reason = ExcludedInvalidFacts
		} else if !ok || math.IsNaN(f.Mean) || math.IsInf(f.Mean, 0) {
			reason = ExcludedNoForecast
		}
		if reason != "" {
			c.excl = append(c.excl, optim.ExcludedSKU{SKU: r.ID, Reason: reason})
			c.log().WithField("sku", r.ID).Infof("inventory: excluding SKU (%s)", reason)
			continue
		}
		ids = append(ids, r.ID)
		bounds = append(bounds, b)
	}
	return ids, bounds
}

// seeds returns starting individuals: the demand-matching heuristic (order
// what forecast demand exceeds current supply) and, when a previous plan
// exists, a warm start from it.
func (c *cycle) seeds(ids []string, bounds []genetic.Bound, snap *optim.Snapshot, fc optim.DemandForecast) [][]float64 {
	heuristic := make([]float64, len(ids))
	for i, id := range ids {
		r, _ := snap.Record(id)
		f, _ := fc.For(id)
		heuristic[i] = bounds[i].Clip(f.Mean - r.OnHand - r.OnOrder)
	}
	seeds := [][]float64{heuristic}

	prev, ok := c.o.CurrentOptimization()
	if !ok {
		return seeds
	}
	quantities := prev.Plan.Quantities()
	warm := make([]float64, len(ids))
	for i, id := range ids {
		q, ok := quantities[id]
		if !ok {
			q = heuristic[i]
		}
		warm[i] = q
	}
	return append(seeds, warm)
}

// finish updates counters, publishes and records the cycle.
func (o *Optimizer) finish(c *cycle, result *optim.OptimizationResult, err error) {
	at := o.now()
	o.lastCycle.Store(&at)
	rec := trace.CycleRecord{
		CycleID:     c.id,
		Cycle:       c.n,
		Version:     c.version,
		SKUs:        c.skus,
		Excluded:    len(c.excl),
		Generations: c.gens,
		Duration:    at.Sub(c.start),
		At:          at,
	}
	if c.alerts != nil {
		rec.Alerts = len(c.alerts.Alerts)
	}

	switch {
	case err == nil:
		o.succeeded.Add(1)
		o.publishAlerts(c.alerts)
		o.publish(result, c.version, at)
		rec.Outcome = trace.OutcomePublished
		rec.Score = result.Fitness.Score
		c.log().Infof("inventory: published plan for %d SKUs, score %.4f after %d generations (%s)",
			len(result.Plan.Lines), result.Fitness.Score, result.Generations, result.Termination)
	case errors.Is(err, optim.ErrInfeasibleProblem):
		o.infeasible.Add(1)
		o.publishAlerts(c.alerts)
		rec.Outcome, rec.Stage, rec.Error = trace.OutcomeInfeasible, c.stage, err.Error()
		o.setLastError(err)
		c.log().Warnf("inventory: cycle infeasible, keeping previous plan: %v", err)
	default:
		o.failed.Add(1)
		o.publishAlerts(c.alerts)
		rec.Outcome, rec.Stage, rec.Error = trace.OutcomeFailed, c.stage, err.Error()
		o.setLastError(err)
		c.log().Errorf("inventory: cycle failed, keeping previous plan: %v", err)
	}
	o.trace.Record(rec)
}

func (o *Optimizer) setLastError(err error) {
	msg := err.Error()
	o.lastError.Store(&msg)
}

func (o *Optimizer) publish(result *optim.OptimizationResult, version uint64, at time.Time) {
	o.published.Store(&Publication{Result: result, Version: version, Timestamp: at})
}

// publishAlerts replaces the alert set. Cycles that stop before forecasting
// leave the previous set in place.
func (o *Optimizer) publishAlerts(alerts *optim.AlertSet) {
	if alerts != nil {
		o.alerts.Store(alerts)
	}
}
