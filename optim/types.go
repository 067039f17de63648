package optim

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// SKURecord holds the inventory facts for one stock-keeping unit.
// LeadTime and DemandHistory share the same period unit.
type SKURecord struct {
	ID            string    `yaml:"id" json:"id"`
	OnHand        float64   `yaml:"on_hand" json:"on_hand"`
	OnOrder       float64   `yaml:"on_order,omitempty" json:"on_order,omitempty"`
	LeadTime      float64   `yaml:"lead_time" json:"lead_time"`
	HoldingCost   float64   `yaml:"holding_cost" json:"holding_cost"`
	OrderCost     float64   `yaml:"order_cost" json:"order_cost"`
	MinQty        float64   `yaml:"min_qty" json:"min_qty"`
	MaxQty        float64   `yaml:"max_qty" json:"max_qty"`
	DemandHistory []float64 `yaml:"demand_history,omitempty" json:"demand_history,omitempty"`
}

// HasValidBounds reports whether the reorder range is non-empty.
func (r SKURecord) HasValidBounds() bool {
	return r.MinQty <= r.MaxQty
}

// HasValidFacts reports whether the stock and cost facts are finite and
// non-negative. Records failing it cannot be costed or projected.
func (r SKURecord) HasValidFacts() bool {
	for _, v := range []float64{r.OnHand, r.OnOrder, r.LeadTime, r.HoldingCost, r.OrderCost} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return false
		}
	}
	return true
}

func (r SKURecord) clone() SKURecord {
	c := r
	if r.DemandHistory != nil {
		c.DemandHistory = append([]float64(nil), r.DemandHistory...)
	}
	return c
}

// Snapshot is an immutable, versioned view of the inventory facts.
// Construct with NewSnapshot; the zero value is an empty version-0 snapshot.
type Snapshot struct {
	Version    uint64
	CapturedAt time.Time

	records []SKURecord
	index   map[string]int
}

// NewSnapshot deep-copies records, sorts them by ID and indexes them.
// Later records win on duplicate IDs.
func NewSnapshot(version uint64, capturedAt time.Time, records []SKURecord) *Snapshot {
	byID := make(map[string]SKURecord, len(records))
	for _, r := range records {
		byID[r.ID] = r.clone()
	}
	sorted := make([]SKURecord, 0, len(byID))
	for _, r := range byID {
		sorted = append(sorted, r)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	index := make(map[string]int, len(sorted))
	for i, r := range sorted {
		index[r.ID] = i
	}
	return &Snapshot{
		Version:    version,
		CapturedAt: capturedAt,
		records:    sorted,
		index:      index,
	}
}

// Len returns the number of SKUs in the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.records)
}

// Records returns a deep copy of the records sorted by ID.
func (s *Snapshot) Records() []SKURecord {
	if s == nil {
		return nil
	}
	out := make([]SKURecord, len(s.records))
	for i, r := range s.records {
		out[i] = r.clone()
	}
	return out
}

// Record returns a copy of the record with the given ID.
func (s *Snapshot) Record(id string) (SKURecord, bool) {
	if s == nil {
		return SKURecord{}, false
	}
	i, ok := s.index[id]
	if !ok {
		return SKURecord{}, false
	}
	return s.records[i].clone(), true
}

// Age returns how long ago the snapshot was captured.
func (s *Snapshot) Age(now time.Time) time.Duration {
	if s == nil || s.CapturedAt.IsZero() {
		return 0
	}
	return now.Sub(s.CapturedAt)
}

// SKUForecast is the demand distribution for one SKU over the forecast horizon.
type SKUForecast struct {
	Mean      float64 `json:"mean"`       // total demand over the horizon
	StdDev    float64 `json:"std_dev"`    // uncertainty of Mean
	Lower     float64 `json:"lower"`      // lower band, never negative
	Upper     float64 `json:"upper"`      // upper band
	PerPeriod float64 `json:"per_period"` // smoothed demand for the next period

	HistoricalMean   float64 `json:"historical_mean"`
	HistoricalStdDev float64 `json:"historical_std_dev"`

	Degraded       bool   `json:"degraded,omitempty"`
	DegradedReason string `json:"degraded_reason,omitempty"`
}

// DemandForecast maps SKU IDs to forecasts built from one snapshot version.
// It is produced fresh each cycle and never mutated.
type DemandForecast struct {
	Version uint64                 `json:"version"`
	Horizon int                    `json:"horizon"`
	ByID    map[string]SKUForecast `json:"by_id"`
}

// For returns the forecast for a SKU.
func (f DemandForecast) For(id string) (SKUForecast, bool) {
	fc, ok := f.ByID[id]
	return fc, ok
}

// PlanLine is the proposed order quantity for one SKU.
type PlanLine struct {
	SKU        string          `json:"sku"`
	Quantity   float64         `json:"quantity"`
	Min        float64         `json:"min"`
	Max        float64         `json:"max"`
	OrderValue decimal.Decimal `json:"order_value"`
}

// Plan is one candidate allocation across SKUs, ordered by SKU ID.
type Plan struct {
	Lines []PlanLine `json:"lines"`
}

// Quantity returns the planned quantity for a SKU.
func (p Plan) Quantity(id string) (float64, bool) {
	for _, l := range p.Lines {
		if l.SKU == id {
			return l.Quantity, true
		}
	}
	return 0, false
}

// Quantities returns the plan as a SKU → quantity map.
func (p Plan) Quantities() map[string]float64 {
	out := make(map[string]float64, len(p.Lines))
	for _, l := range p.Lines {
		out[l.SKU] = l.Quantity
	}
	return out
}

// FitnessBreakdown is the scored outcome of a plan.
type FitnessBreakdown struct {
	Cost           float64 `json:"cost"`
	NormalizedCost float64 `json:"normalized_cost"`
	ServiceLevel   float64 `json:"service_level"`
	FillRate       float64 `json:"fill_rate"`
	Score          float64 `json:"score"` // scalar fitness under the active strategy (higher is better)
}

// Termination names the condition that ended a search.
type Termination string

const (
	TerminationMaxGenerations Termination = "max_generations"
	TerminationConverged      Termination = "converged"
	TerminationTimeBudget     Termination = "time_budget"
)

// ExcludedSKU records a SKU left out of a cycle's search and why.
type ExcludedSKU struct {
	SKU    string `json:"sku"`
	Reason string `json:"reason"`
}

// CostReport presents the money side of a plan rounded to cents.
type CostReport struct {
	Holding  decimal.Decimal `json:"holding"`
	Ordering decimal.Decimal `json:"ordering"`
	Total    decimal.Decimal `json:"total"`
}

// OptimizationResult is the outcome of one successful cycle.
// Immutable once published.
type OptimizationResult struct {
	CycleID     string           `json:"cycle_id"`
	Version     uint64           `json:"version"`
	Plan        Plan             `json:"plan"`
	Fitness     FitnessBreakdown `json:"fitness"`
	CostReport  CostReport       `json:"cost_report"`
	Generations int              `json:"generations"`
	Evaluations int              `json:"evaluations"`
	Converged   bool             `json:"converged"`
	Termination Termination      `json:"termination"`
	Strategy    string           `json:"strategy"`
	Excluded    []ExcludedSKU    `json:"excluded,omitempty"`
	Duration    time.Duration    `json:"duration"`
	Timestamp   time.Time        `json:"timestamp"`
}

// Severity grades an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AlertReason is the rule that raised an alert.
type AlertReason string

const (
	ReasonProjectedStockout AlertReason = "projected_stockout"
	ReasonDemandSpike       AlertReason = "demand_spike"
	ReasonDemandDrop        AlertReason = "demand_drop"
	ReasonDataStaleness     AlertReason = "data_staleness"
)

// Alert is one triggered rule. SKU is empty for global alerts.
type Alert struct {
	ID        string             `json:"id"`
	SKU       string             `json:"sku,omitempty"`
	Severity  Severity           `json:"severity"`
	Score     float64            `json:"score"`
	Reason    AlertReason        `json:"reason"`
	Values    map[string]float64 `json:"values"`
	Timestamp time.Time          `json:"timestamp"`
}

// AlertSet is the full set of alerts from one cycle. An empty Alerts slice
// means nothing triggered.
type AlertSet struct {
	Alerts    []Alert   `json:"alerts"`
	Version   uint64    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// Moments is an exponentially weighted mean and variance.
type Moments struct {
	Mean     float64 `json:"mean"`
	Variance float64 `json:"variance"`
}

// Telemetry is the rolling performance aggregate across cycles.
type Telemetry struct {
	Cost         Moments   `json:"cost"`
	FillRate     Moments   `json:"fill_rate"`
	ServiceLevel Moments   `json:"service_level"`
	Duration     Moments   `json:"duration_seconds"`
	Samples      int64     `json:"samples"`
	UpdatedAt    time.Time `json:"updated_at"`
}
