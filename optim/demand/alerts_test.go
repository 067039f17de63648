package demand

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockflow/invopt/optim"
)

func alertConfig() optim.AlertConfig {
	return optim.AlertConfig{
		SafetyStockFactor:  1.65,
		AnomalyStdDevs:     3,
		WarningRatio:       0.25,
		CriticalRatio:      0.75,
		StalenessThreshold: 5 * time.Minute,
	}
}

func sequentialIDs() Option {
	n := 0
	return WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("alert-%d", n)
	})
}

var now = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func detect(t *testing.T, o *Optimizer, records []optim.SKURecord, capturedAt time.Time) []optim.Alert {
	t.Helper()
	snap := optim.NewSnapshot(1, capturedAt, records)
	return o.DetectAlerts(snap, o.Forecast(snap), now)
}

func byReason(alerts []optim.Alert, sku string, reason optim.AlertReason) []optim.Alert {
	var out []optim.Alert
	for _, a := range alerts {
		if a.SKU == sku && a.Reason == reason {
			out = append(out, a)
		}
	}
	return out
}

// TestDetectAlerts_StockoutCompleteness checks that every SKU projected below
// safety stock gets exactly one stockout alert and that severity grows with
// the shortfall.
func TestDetectAlerts_StockoutCompleteness(t *testing.T) {
	// GIVEN SKUs with steady demand of 10/period and a lead time of 2 periods
	sku := func(id string, onHand, onOrder float64) optim.SKURecord {
		return optim.SKURecord{ID: id, OnHand: onHand, OnOrder: onOrder, LeadTime: 2, MaxQty: 100, DemandHistory: constant(10, 6)}
	}
	records := []optim.SKURecord{
		sku("a", 5, 0),   // projected -15
		sku("b", 15, 0),  // projected -5
		sku("c", 19, 0),  // projected -1
		sku("d", 20, 0),  // projected 0, at safety stock
		sku("e", 10, 15), // covered by the open order
	}

	// WHEN detecting alerts
	alerts := detect(t, New(forecastConfig(), alertConfig()), records, now)

	// THEN exactly the three at-risk SKUs alert, ordered by SKU
	require.Len(t, alerts, 3)
	for i, want := range []struct {
		sku      string
		severity optim.Severity
		score    float64
	}{
		{"a", optim.SeverityCritical, 0.75},
		{"b", optim.SeverityWarning, 0.25},
		{"c", optim.SeverityInfo, 0.05},
	} {
		a := alerts[i]
		assert.Equal(t, want.sku, a.SKU)
		assert.Equal(t, optim.ReasonProjectedStockout, a.Reason)
		assert.Equal(t, want.severity, a.Severity, a.SKU)
		assert.InDelta(t, want.score, a.Score, 1e-9, a.SKU)
		assert.NotEmpty(t, a.ID)
		assert.Equal(t, now, a.Timestamp)
	}
	assert.Greater(t, alerts[0].Score, alerts[1].Score)
	assert.Greater(t, alerts[1].Score, alerts[2].Score)
	assert.InDelta(t, -15, alerts[0].Values["projected_on_hand"], 1e-9)
	assert.InDelta(t, 20, alerts[0].Values["lead_time_demand"], 1e-9)
}

func TestDetectAlerts_SafetyStock(t *testing.T) {
	// GIVEN variable demand, so safety stock is positive
	o := New(forecastConfig(), alertConfig())
	history := []float64{8, 12, 8, 12, 8, 12}
	fc := o.ForecastSKU(history)
	leadTime := 4.0
	leadDemand := fc.PerPeriod * leadTime
	safety := 1.65 * fc.HistoricalStdDev * 2
	require.Greater(t, safety, 0.0)

	// WHEN stock covers lead-time demand but only half the safety stock
	alerts := detect(t, o, []optim.SKURecord{{
		ID: "A", OnHand: leadDemand + safety/2, LeadTime: leadTime, MaxQty: 50, DemandHistory: history,
	}}, now)

	// THEN a stockout alert reports the safety-stock shortfall
	stockouts := byReason(alerts, "A", optim.ReasonProjectedStockout)
	require.Len(t, stockouts, 1)
	assert.InDelta(t, safety, stockouts[0].Values["safety_stock"], 1e-9)
	assert.InDelta(t, safety/2, stockouts[0].Values["shortfall"], 1e-9)
}

func TestDetectAlerts_DemandAnomalies(t *testing.T) {
	// GIVEN a fast-reacting level and a low anomaly threshold
	fcfg := forecastConfig()
	fcfg.Alpha = 0.9
	acfg := alertConfig()
	acfg.AnomalyStdDevs = 1.5
	o := New(fcfg, acfg)

	spike := append(constant(10, 9), 30, 30, 30)
	drop := append(constant(30, 9), 10, 10, 10)
	records := []optim.SKURecord{
		{ID: "spike", OnHand: 1000, LeadTime: 1, MaxQty: 10, DemandHistory: spike},
		{ID: "drop", OnHand: 1000, LeadTime: 1, MaxQty: 10, DemandHistory: drop},
		{ID: "flat", OnHand: 1000, LeadTime: 1, MaxQty: 10, DemandHistory: constant(10, 12)},
		{ID: "degraded", OnHand: 1000, LeadTime: 1, MaxQty: 10, DemandHistory: []float64{1}},
	}

	// WHEN detecting alerts
	alerts := detect(t, o, records, now)

	// THEN only the shifted SKUs alert, in the right direction
	require.Len(t, alerts, 2)
	assert.Equal(t, "drop", alerts[0].SKU)
	assert.Equal(t, optim.ReasonDemandDrop, alerts[0].Reason)
	assert.Equal(t, "spike", alerts[1].SKU)
	assert.Equal(t, optim.ReasonDemandSpike, alerts[1].Reason)
	for _, a := range alerts {
		assert.Greater(t, a.Score, 1.5)
		assert.Equal(t, optim.SeverityWarning, a.Severity)
	}
}

func TestDetectAlerts_Staleness(t *testing.T) {
	healthy := []optim.SKURecord{{ID: "A", OnHand: 100, LeadTime: 1, MaxQty: 10, DemandHistory: constant(1, 6)}}
	o := New(forecastConfig(), alertConfig())

	tests := []struct {
		name         string
		age          time.Duration
		wantAlert    bool
		wantSeverity optim.Severity
	}{
		{"fresh", time.Minute, false, ""},
		{"at threshold", 5 * time.Minute, false, ""},
		{"stale", 10 * time.Minute, true, optim.SeverityWarning},
		{"very stale", 20 * time.Minute, true, optim.SeverityCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alerts := detect(t, o, healthy, now.Add(-tt.age))
			if !tt.wantAlert {
				assert.Empty(t, alerts)
				return
			}
			require.Len(t, alerts, 1)
			assert.Equal(t, optim.ReasonDataStaleness, alerts[0].Reason)
			assert.Empty(t, alerts[0].SKU)
			assert.Equal(t, tt.wantSeverity, alerts[0].Severity)
		})
	}
}

func TestDetectAlerts_StalenessIgnoresInitialSnapshot(t *testing.T) {
	o := New(forecastConfig(), alertConfig())
	empty := optim.NewSnapshot(0, time.Time{}, nil)
	assert.Empty(t, o.DetectAlerts(empty, o.Forecast(empty), now))
}

func TestDetectAlerts_GlobalAlertSortsFirst(t *testing.T) {
	o := New(forecastConfig(), alertConfig())
	alerts := detect(t, o, []optim.SKURecord{
		{ID: "A", OnHand: 0, LeadTime: 1, MaxQty: 10, DemandHistory: constant(5, 6)},
	}, now.Add(-time.Hour))
	require.Len(t, alerts, 2)
	assert.Equal(t, optim.ReasonDataStaleness, alerts[0].Reason)
	assert.Equal(t, optim.ReasonProjectedStockout, alerts[1].Reason)
}

func TestDetectAlerts_EmptyIsValid(t *testing.T) {
	o := New(forecastConfig(), alertConfig())
	alerts := detect(t, o, []optim.SKURecord{
		{ID: "A", OnHand: 100, LeadTime: 1, MaxQty: 10, DemandHistory: constant(5, 6)},
	}, now)
	assert.NotNil(t, alerts)
	assert.Empty(t, alerts)
}

func TestDetectAlerts_Deterministic(t *testing.T) {
	records := []optim.SKURecord{
		{ID: "A", OnHand: 3, LeadTime: 2, MaxQty: 10, DemandHistory: []float64{4, 6, 5, 7, 3}},
		{ID: "B", OnHand: 1, LeadTime: 3, MaxQty: 10, DemandHistory: []float64{9, 11, 10, 12}},
	}
	first := detect(t, New(forecastConfig(), alertConfig(), sequentialIDs()), records, now)
	second := detect(t, New(forecastConfig(), alertConfig(), sequentialIDs()), records, now)
	assert.Equal(t, first, second)
	assert.NotEmpty(t, first)
}

func TestDetectAlerts_SkipsRecordsWithInvalidFacts(t *testing.T) {
	// GIVEN one SKU whose on-hand count is NaN next to a healthy one short of stock
	o := New(forecastConfig(), alertConfig())
	records := []optim.SKURecord{
		{ID: "bad", OnHand: math.NaN(), LeadTime: 2, MaxQty: 100, DemandHistory: constant(10, 6)},
		{ID: "good", OnHand: 0, LeadTime: 2, MaxQty: 100, DemandHistory: constant(10, 6)},
	}

	// WHEN alerts are detected
	alerts := detect(t, o, records, now)

	// THEN only the healthy SKU alerts, and every value is finite
	require.Len(t, alerts, 1)
	assert.Equal(t, "good", alerts[0].SKU)
	assert.False(t, math.IsNaN(alerts[0].Score))
	for k, v := range alerts[0].Values {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), k)
	}
}
