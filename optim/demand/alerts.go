package demand

import (
	"math"
	"sort"
	"time"

	"github.com/stockflow/invopt/optim"
)

// DetectAlerts evaluates the alert rules for every SKU in the snapshot
// against its forecast. At most one alert is raised per (SKU, reason); a
// global data_staleness alert is added when the snapshot is older than the
// configured threshold. Records with invalid stock or cost facts are skipped. The result is sorted by SKU then reason and may be
// empty.
func (o *Optimizer) DetectAlerts(snap *optim.Snapshot, fc optim.DemandForecast, now time.Time) []optim.Alert {
	alerts := make([]optim.Alert, 0)
	if snap == nil {
		return alerts
	}
	if a, ok := o.staleness(snap, now); ok {
		alerts = append(alerts, a)
	}
	for _, r := range snap.Records() {
		f, ok := fc.For(r.ID)
		if !ok || !r.HasValidFacts() {
			continue
		}
		if a, ok := o.stockout(r, f, now); ok {
			alerts = append(alerts, a)
		}
		if a, ok := o.anomaly(r, f, now); ok {
			alerts = append(alerts, a)
		}
	}
	sort.SliceStable(alerts, func(i, j int) bool {
		if alerts[i].SKU != alerts[j].SKU {
			return alerts[i].SKU < alerts[j].SKU
		}
		return alerts[i].Reason < alerts[j].Reason
	})
	return alerts
}

// stockout projects on-hand stock at the end of the lead time and compares it
// with safety stock. The score is the shortfall relative to the larger of
// safety stock and lead-time demand, so it grows with the shortfall.
func (o *Optimizer) stockout(r optim.SKURecord, f optim.SKUForecast, now time.Time) (optim.Alert, bool) {
	leadTime := math.Max(0, r.LeadTime)
	leadDemand := f.PerPeriod * leadTime
	projected := r.OnHand + r.OnOrder - leadDemand
	safety := o.alerts.SafetyStockFactor * f.HistoricalStdDev * math.Sqrt(leadTime)
	if projected >= safety {
		return optim.Alert{}, false
	}
	shortfall := safety - projected
	score := shortfall / math.Max(1, math.Max(safety, leadDemand))
	return optim.Alert{
		ID:       o.newID(),
		SKU:      r.ID,
		Severity: o.stockoutSeverity(score),
		Score:    score,
		Reason:   optim.ReasonProjectedStockout,
		Values: map[string]float64{
			"projected_on_hand": projected,
			"safety_stock":      safety,
			"lead_time_demand":  leadDemand,
			"shortfall":         shortfall,
		},
		Timestamp: now,
	}, true
}

func (o *Optimizer) stockoutSeverity(score float64) optim.Severity {
	switch {
	case score >= o.alerts.CriticalRatio:
		return optim.SeverityCritical
	case score >= o.alerts.WarningRatio:
		return optim.SeverityWarning
	default:
		return optim.SeverityInfo
	}
}

// anomaly flags a forecast level far from the historical mean. Degraded
// forecasts and flat histories are never anomalous.
func (o *Optimizer) anomaly(r optim.SKURecord, f optim.SKUForecast, now time.Time) (optim.Alert, bool) {
	if f.Degraded || f.HistoricalStdDev <= 0 {
		return optim.Alert{}, false
	}
	deviation := f.PerPeriod - f.HistoricalMean
	z := math.Abs(deviation) / f.HistoricalStdDev
	if z <= o.alerts.AnomalyStdDevs {
		return optim.Alert{}, false
	}
	reason := optim.ReasonDemandSpike
	if deviation < 0 {
		reason = optim.ReasonDemandDrop
	}
	severity := optim.SeverityWarning
	if z >= 2*o.alerts.AnomalyStdDevs {
		severity = optim.SeverityCritical
	}
	return optim.Alert{
		ID:       o.newID(),
		SKU:      r.ID,
		Severity: severity,
		Score:    z,
		Reason:   reason,
		Values: map[string]float64{
			"per_period":         f.PerPeriod,
			"historical_mean":    f.HistoricalMean,
			"historical_std_dev": f.HistoricalStdDev,
			"z_score":            z,
		},
		Timestamp: now,
	}, true
}

// staleness raises a global alert when the collector has not refreshed the
// snapshot within the threshold. The empty version-0 snapshot never counts.
func (o *Optimizer) staleness(snap *optim.Snapshot, now time.Time) (optim.Alert, bool) {
	threshold := o.alerts.StalenessThreshold
	if threshold <= 0 || snap.Version == 0 {
		return optim.Alert{}, false
	}
	age := snap.Age(now)
	if age <= threshold {
		return optim.Alert{}, false
	}
	score := age.Seconds() / threshold.Seconds()
	severity := optim.SeverityWarning
	if score >= 3 {
		severity = optim.SeverityCritical
	}
	return optim.Alert{
		ID:       o.newID(),
		Severity: severity,
		Score:    score,
		Reason:   optim.ReasonDataStaleness,
		Values: map[string]float64{
			"age_seconds":       age.Seconds(),
			"threshold_seconds": threshold.Seconds(),
			"version":           float64(snap.Version),
		},
		Timestamp: now,
	}, true
}
