// Package demand forecasts per-SKU demand and raises inventory alerts.
//
// Forecasting is deterministic and non-iterative: simple exponential
// smoothing with optional multiplicative seasonality. A SKU whose history is
// too short or contains invalid samples gets a neutral forecast marked
// Degraded instead of failing the whole snapshot.
package demand

import (
	"math"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/stockflow/invopt/optim"
)

// Degradation reasons.
const (
	ReasonShortHistory   = "short_history"
	ReasonInvalidSamples = "invalid_samples"
)

// Optimizer builds demand forecasts and alert sets from snapshots.
// It holds no mutable state and is safe for concurrent use.
type Optimizer struct {
	forecast optim.ForecastConfig
	alerts   optim.AlertConfig
	newID    func() string
}

// Option customizes an Optimizer.
type Option func(*Optimizer)

// WithIDGenerator replaces the alert ID generator (default: random UUIDs).
func WithIDGenerator(fn func() string) Option {
	return func(o *Optimizer) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// New creates an Optimizer. The configs are assumed validated.
func New(fc optim.ForecastConfig, ac optim.AlertConfig, opts ...Option) *Optimizer {
	o := &Optimizer{forecast: fc, alerts: ac, newID: uuid.NewString}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Forecast builds a forecast for every SKU in the snapshot.
func (o *Optimizer) Forecast(snap *optim.Snapshot) optim.DemandForecast {
	out := optim.DemandForecast{
		Horizon: o.forecast.Horizon,
		ByID:    make(map[string]optim.SKUForecast, snap.Len()),
	}
	if snap == nil {
		return out
	}
	out.Version = snap.Version
	degraded := 0
	for _, r := range snap.Records() {
		fc := o.ForecastSKU(r.DemandHistory)
		if fc.Degraded {
			degraded++
			logrus.WithFields(logrus.Fields{
				"sku":     r.ID,
				"version": snap.Version,
				"reason":  fc.DegradedReason,
			}).Infof("demand: using neutral forecast %.2f/period", fc.PerPeriod)
		}
		out.ByID[r.ID] = fc
	}
	logrus.Debugf("demand: forecast v%d for %d SKUs (%d degraded)", snap.Version, snap.Len(), degraded)
	return out
}

// ForecastSKU forecasts one demand history (oldest first).
func (o *Optimizer) ForecastSKU(history []float64) optim.SKUForecast {
	valid := make([]float64, 0, len(history))
	for _, x := range history {
		if !math.IsNaN(x) && !math.IsInf(x, 0) && x >= 0 {
			valid = append(valid, x)
		}
	}
	switch {
	case len(valid) < len(history):
		return o.neutral(valid, ReasonInvalidSamples)
	case len(valid) < o.forecast.MinHistory || len(valid) == 0:
		return o.neutral(valid, ReasonShortHistory)
	}

	indices := o.seasonalIndices(valid)
	level, residuals := smooth(valid, indices, o.forecast.Alpha)

	n := len(valid)
	horizon := o.forecast.Horizon
	mean := 0.0
	for h := 1; h <= horizon; h++ {
		mean += level * seasonal(indices, n-1+h)
	}

	sd := 0.0
	if len(residuals) >= 2 {
		sd = stat.StdDev(residuals, nil) * math.Sqrt(float64(horizon))
	}
	histMean, histSD := moments(valid)
	return optim.SKUForecast{
		Mean:             mean,
		StdDev:           sd,
		Lower:            math.Max(0, mean-o.forecast.BandZ*sd),
		Upper:            mean + o.forecast.BandZ*sd,
		PerPeriod:        level * seasonal(indices, n),
		HistoricalMean:   histMean,
		HistoricalStdDev: histSD,
	}
}

// neutral is the fallback forecast: the mean of whatever valid samples exist,
// or the configured default, with no uncertainty.
func (o *Optimizer) neutral(valid []float64, reason string) optim.SKUForecast {
	perPeriod := o.forecast.DefaultDemand
	histMean, histSD := 0.0, 0.0
	if len(valid) > 0 {
		histMean, histSD = moments(valid)
		perPeriod = histMean
	}
	mean := perPeriod * float64(o.forecast.Horizon)
	return optim.SKUForecast{
		Mean:             mean,
		Lower:            mean,
		Upper:            mean,
		PerPeriod:        perPeriod,
		HistoricalMean:   histMean,
		HistoricalStdDev: histSD,
		Degraded:         true,
		DegradedReason:   reason,
	}
}

// seasonalIndices returns one multiplicative index per season position, or
// nil when seasonality is off or the history holds fewer than two seasons.
func (o *Optimizer) seasonalIndices(x []float64) []float64 {
	period := o.forecast.SeasonLength
	if period < 2 || len(x) < 2*period {
		return nil
	}
	overall := stat.Mean(x, nil)
	if overall == 0 {
		return nil
	}
	sums := make([]float64, period)
	counts := make([]float64, period)
	for t, v := range x {
		sums[t%period] += v
		counts[t%period]++
	}
	indices := make([]float64, period)
	for p := range indices {
		indices[p] = sums[p] / counts[p] / overall
	}
	return indices
}

// seasonal returns the index for period t. Missing or zero indices count as 1
// so a season position with no demand cannot zero the whole level.
func seasonal(indices []float64, t int) float64 {
	if len(indices) == 0 {
		return 1
	}
	idx := indices[t%len(indices)]
	if idx <= 0 {
		return 1
	}
	return idx
}

// smooth runs simple exponential smoothing over the deseasonalized series and
// returns the final level with the one-step-ahead residuals.
func smooth(x, indices []float64, alpha float64) (float64, []float64) {
	level := x[0] / seasonal(indices, 0)
	residuals := make([]float64, 0, len(x)-1)
	for t := 1; t < len(x); t++ {
		idx := seasonal(indices, t)
		residuals = append(residuals, x[t]-level*idx)
		level = alpha*(x[t]/idx) + (1-alpha)*level
	}
	return level, residuals
}

func moments(x []float64) (mean, sd float64) {
	if len(x) == 0 {
		return 0, 0
	}
	if len(x) == 1 {
		return x[0], 0
	}
	return stat.MeanStdDev(x, nil)
}
