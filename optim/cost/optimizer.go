// Package cost scores inventory plans and keeps rolling performance telemetry.
//
// A plan's cost is holding plus ordering cost; its service level rewards
// covering forecast demand and penalizes both shortfall and excess stock
// relative to demand. A FitnessStrategy folds the two into what the genetic
// search maximizes.
package cost

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockflow/invopt/optim"
	"github.com/stockflow/invopt/optim/genetic"
)

// Optimizer scores plans under one fitness strategy and aggregates telemetry.
// Scoring is safe for concurrent use; telemetry writes are serialized and
// reads are lock-free.
type Optimizer struct {
	cfg      optim.FitnessConfig
	strategy FitnessStrategy
	alpha    float64

	mu        sync.Mutex // serializes RecordTelemetry
	telemetry atomic.Pointer[optim.Telemetry]
}

// New creates an Optimizer with the strategy named in cfg.
func New(cfg optim.FitnessConfig, tcfg optim.TelemetryConfig) (*Optimizer, error) {
	strategy, err := NewFitnessStrategy(cfg)
	if err != nil {
		return nil, err
	}
	o := &Optimizer{cfg: cfg, strategy: strategy, alpha: tcfg.Alpha}
	o.telemetry.Store(&optim.Telemetry{})
	return o, nil
}

// Strategy returns the active fitness strategy.
func (o *Optimizer) Strategy() FitnessStrategy { return o.strategy }

// term is the per-SKU data the scoring math needs.
type term struct {
	onHand   float64
	onOrder  float64
	holding  float64
	ordering float64
	demand   float64
	maxQty   float64
}

func newTerm(r optim.SKURecord, fc optim.SKUForecast) term {
	return term{
		onHand:   r.OnHand,
		onOrder:  r.OnOrder,
		holding:  r.HoldingCost,
		ordering: r.OrderCost,
		demand:   math.Max(0, fc.Mean),
		maxQty:   r.MaxQty,
	}
}

// costScale is the cost of ordering every SKU's maximum quantity, used to
// bring cost onto the same order of magnitude as service level.
func costScale(terms []term) float64 {
	scale := 0.0
	for _, t := range terms {
		scale += t.holding*(t.onHand+t.onOrder+t.maxQty) + t.ordering*t.maxQty
	}
	return math.Max(1, scale)
}

// breakdown scores quantities index-aligned with terms.
func (o *Optimizer) breakdown(terms []term, qs []float64, scale float64) optim.FitnessBreakdown {
	var cost, service, covered, demand float64
	for i, t := range terms {
		q := qs[i]
		// Incoming stock is held once it lands, so it is charged like on-hand.
		supply := t.onHand + t.onOrder + q
		cost += t.holding*supply + t.ordering*q

		met := math.Min(supply, t.demand)
		fill := 1.0
		if t.demand > 0 {
			fill = met / t.demand
		}
		base := math.Max(t.demand, 1)
		shortfall := math.Max(0, t.demand-supply)
		excess := math.Max(0, supply-t.demand)
		service += fill - o.cfg.StockoutPenalty*shortfall/base - o.cfg.OverstockPenalty*excess/base

		covered += met
		demand += t.demand
	}

	b := optim.FitnessBreakdown{Cost: cost, NormalizedCost: cost / scale, FillRate: 1}
	if len(terms) > 0 {
		b.ServiceLevel = service / float64(len(terms))
	}
	if demand > 0 {
		b.FillRate = covered / demand
	}
	b.Score = o.strategy.Score(b)
	return b
}

// terms resolves each plan SKU against the snapshot and forecast.
func terms(ids []string, snap *optim.Snapshot, fc optim.DemandForecast) ([]term, error) {
	out := make([]term, len(ids))
	for i, id := range ids {
		r, ok := snap.Record(id)
		if !ok {
			return nil, fmt.Errorf("sku %q not in snapshot v%d", id, snap.Version)
		}
		f, ok := fc.For(id)
		if !ok {
			return nil, fmt.Errorf("sku %q has no forecast", id)
		}
		out[i] = newTerm(r, f)
	}
	return out, nil
}

// Score evaluates a plan against the snapshot and forecast it was built from.
// Every plan SKU must be present in both.
func (o *Optimizer) Score(plan optim.Plan, snap *optim.Snapshot, fc optim.DemandForecast) (optim.FitnessBreakdown, error) {
	ids := make([]string, len(plan.Lines))
	qs := make([]float64, len(plan.Lines))
	for i, l := range plan.Lines {
		ids[i], qs[i] = l.SKU, l.Quantity
	}
	ts, err := terms(ids, snap, fc)
	if err != nil {
		return optim.FitnessBreakdown{}, err
	}
	return o.breakdown(ts, qs, costScale(ts)), nil
}

// Evaluator returns a fitness function over gene vectors index-aligned with
// ids. Per-SKU data is resolved once, so each evaluation is allocation-free
// apart from the returned objectives.
func (o *Optimizer) Evaluator(ids []string, snap *optim.Snapshot, fc optim.DemandForecast) (genetic.FitnessFunc, error) {
	ts, err := terms(ids, snap, fc)
	if err != nil {
		return nil, err
	}
	scale := costScale(ts)
	return func(genes []float64) (genetic.Evaluation, error) {
		if len(genes) != len(ts) {
			return genetic.Evaluation{}, fmt.Errorf("got %d genes for %d SKUs", len(genes), len(ts))
		}
		b := o.breakdown(ts, genes, scale)
		return genetic.Evaluation{Score: b.Score, Objectives: o.strategy.Objectives(b)}, nil
	}, nil
}

// Report prices a plan. It returns a copy of the plan with each line's order
// value filled in, plus holding, ordering and total cost rounded to cents.
// SKUs missing from the snapshot contribute nothing.
func (o *Optimizer) Report(plan optim.Plan, snap *optim.Snapshot) (optim.Plan, optim.CostReport) {
	priced := optim.Plan{Lines: make([]optim.PlanLine, len(plan.Lines))}
	holding, ordering := decimal.Zero, decimal.Zero
	for i, l := range plan.Lines {
		priced.Lines[i] = l
		r, ok := snap.Record(l.SKU)
		if !ok {
			continue
		}
		qty := decimal.NewFromFloat(l.Quantity)
		unitOrder := decimal.NewFromFloat(r.OrderCost)
		value := qty.Mul(unitOrder)
		priced.Lines[i].OrderValue = value.Round(2)
		ordering = ordering.Add(value)
		holding = holding.Add(decimal.NewFromFloat(r.OnHand + r.OnOrder + l.Quantity).Mul(decimal.NewFromFloat(r.HoldingCost)))
	}
	return priced, optim.CostReport{
		Holding:  holding.Round(2),
		Ordering: ordering.Round(2),
		Total:    holding.Add(ordering).Round(2),
	}
}

// RecordTelemetry folds one cycle's outcome into the exponentially weighted
// aggregate and publishes a fresh immutable Telemetry value.
func (o *Optimizer) RecordTelemetry(b optim.FitnessBreakdown, elapsed time.Duration, at time.Time) optim.Telemetry {
	o.mu.Lock()
	defer o.mu.Unlock()

	next := *o.telemetry.Load()
	first := next.Samples == 0
	update := func(m *optim.Moments, x float64) {
		if first {
			*m = optim.Moments{Mean: x}
			return
		}
		// Incremental EWMA variance (West, 1979).
		diff := x - m.Mean
		incr := o.alpha * diff
		m.Mean += incr
		m.Variance = (1 - o.alpha) * (m.Variance + diff*incr)
	}
	update(&next.Cost, b.Cost)
	update(&next.FillRate, b.FillRate)
	update(&next.ServiceLevel, b.ServiceLevel)
	update(&next.Duration, elapsed.Seconds())
	next.Samples++
	next.UpdatedAt = at

	o.telemetry.Store(&next)
	return next
}

// CurrentTelemetry returns the latest aggregate. The zero Telemetry (Samples
// 0) means no cycle has completed yet.
func (o *Optimizer) CurrentTelemetry() optim.Telemetry {
	return *o.telemetry.Load()
}
