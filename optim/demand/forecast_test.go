package demand

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockflow/invopt/optim"
)

func forecastConfig() optim.ForecastConfig {
	return optim.ForecastConfig{
		Alpha:         0.3,
		Horizon:       4,
		MinHistory:    3,
		BandZ:         1.96,
		DefaultDemand: 2,
	}
}

func constant(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestForecastSKU_ConstantDemand(t *testing.T) {
	o := New(forecastConfig(), alertConfig())
	fc := o.ForecastSKU(constant(10, 6))

	assert.False(t, fc.Degraded)
	assert.InDelta(t, 10, fc.PerPeriod, 1e-9)
	assert.InDelta(t, 40, fc.Mean, 1e-9)
	assert.InDelta(t, 0, fc.StdDev, 1e-9)
	assert.InDelta(t, 40, fc.Lower, 1e-9)
	assert.InDelta(t, 40, fc.Upper, 1e-9)
	assert.InDelta(t, 10, fc.HistoricalMean, 1e-9)
	assert.InDelta(t, 0, fc.HistoricalStdDev, 1e-9)
}

func TestForecastSKU_ResidualUncertainty(t *testing.T) {
	// GIVEN a level that tracks the last sample exactly (alpha 1)
	cfg := forecastConfig()
	cfg.Alpha = 1
	o := New(cfg, alertConfig())

	// WHEN the history alternates
	fc := o.ForecastSKU([]float64{10, 20, 10, 20})

	// THEN residuals are [10, -10, 10] and the band scales with sqrt(horizon)
	wantSD := math.Sqrt(400.0/3) * 2
	assert.InDelta(t, 80, fc.Mean, 1e-9)
	assert.InDelta(t, wantSD, fc.StdDev, 1e-9)
	assert.InDelta(t, 80+1.96*wantSD, fc.Upper, 1e-9)
	assert.InDelta(t, math.Max(0, 80-1.96*wantSD), fc.Lower, 1e-9)
	assert.GreaterOrEqual(t, fc.Lower, 0.0)
}

func TestForecastSKU_Seasonality(t *testing.T) {
	cfg := forecastConfig()
	cfg.SeasonLength = 2
	o := New(cfg, alertConfig())

	fc := o.ForecastSKU([]float64{10, 30, 10, 30, 10, 30})

	assert.False(t, fc.Degraded)
	assert.InDelta(t, 10, fc.PerPeriod, 1e-9, "next period is a low season")
	assert.InDelta(t, 80, fc.Mean, 1e-9)
	assert.InDelta(t, 0, fc.StdDev, 1e-9)
}

func TestForecastSKU_SeasonalityNeedsTwoSeasons(t *testing.T) {
	cfg := forecastConfig()
	cfg.SeasonLength = 4
	o := New(cfg, alertConfig())

	// Five samples cover less than two seasons, so the series is treated as flat.
	fc := o.ForecastSKU(constant(10, 5))
	assert.InDelta(t, 40, fc.Mean, 1e-9)
}

func TestForecastSKU_Degraded(t *testing.T) {
	tests := []struct {
		name          string
		history       []float64
		wantReason    string
		wantPerPeriod float64
	}{
		{"short history", []float64{1, 2}, ReasonShortHistory, 1.5},
		{"no history uses default", nil, ReasonShortHistory, 2},
		{"nan sample", []float64{5, math.NaN(), 7, 9}, ReasonInvalidSamples, 7},
		{"negative sample", []float64{-1, 4, 4, 4}, ReasonInvalidSamples, 4},
		{"infinite sample", []float64{math.Inf(1), 3, 3, 3}, ReasonInvalidSamples, 3},
		{"all invalid uses default", []float64{math.NaN(), -2}, ReasonInvalidSamples, 2},
	}
	o := New(forecastConfig(), alertConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := o.ForecastSKU(tt.history)
			assert.True(t, fc.Degraded)
			assert.Equal(t, tt.wantReason, fc.DegradedReason)
			assert.InDelta(t, tt.wantPerPeriod, fc.PerPeriod, 1e-9)
			assert.InDelta(t, tt.wantPerPeriod*4, fc.Mean, 1e-9)
			assert.Zero(t, fc.StdDev)
		})
	}
}

func TestForecast_Snapshot(t *testing.T) {
	// GIVEN one healthy and one broken SKU
	snap := optim.NewSnapshot(7, time.Now(), []optim.SKURecord{
		{ID: "good", DemandHistory: constant(10, 6)},
		{ID: "bad", DemandHistory: []float64{math.NaN()}},
	})

	// WHEN forecasting the snapshot
	fc := New(forecastConfig(), alertConfig()).Forecast(snap)

	// THEN only the broken SKU degrades and the forecast carries the version
	assert.Equal(t, uint64(7), fc.Version)
	assert.Equal(t, 4, fc.Horizon)
	require.Len(t, fc.ByID, 2)
	good, _ := fc.For("good")
	bad, _ := fc.For("bad")
	assert.False(t, good.Degraded)
	assert.True(t, bad.Degraded)
}

func TestForecast_Deterministic(t *testing.T) {
	snap := optim.NewSnapshot(1, time.Now(), []optim.SKURecord{
		{ID: "A", DemandHistory: []float64{3, 9, 4, 7, 12, 5, 8}},
		{ID: "B", DemandHistory: []float64{40, 38, 45, 51, 47}},
	})
	o := New(forecastConfig(), alertConfig())
	assert.Equal(t, o.Forecast(snap), o.Forecast(snap))
}

func TestForecast_EmptySnapshot(t *testing.T) {
	o := New(forecastConfig(), alertConfig())
	fc := o.Forecast(optim.NewSnapshot(0, time.Time{}, nil))
	assert.Empty(t, fc.ByID)
	assert.NotNil(t, fc.ByID)
}
