package trace

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Distribution summarizes a set of durations in seconds.
type Distribution struct {
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	Max   float64 `json:"max"`
	Count int     `json:"count"`
}

// NewDistribution computes a Distribution from raw values.
// Returns zero-value Distribution for empty input.
func NewDistribution(values []float64) Distribution {
	if len(values) == 0 {
		return Distribution{}
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return Distribution{
		Mean:  stat.Mean(sorted, nil),
		P50:   stat.Quantile(0.5, stat.Empirical, sorted, nil),
		P95:   stat.Quantile(0.95, stat.Empirical, sorted, nil),
		Max:   sorted[len(sorted)-1],
		Count: len(sorted),
	}
}

// Summary aggregates the retained cycle records.
type Summary struct {
	Retained        int             `json:"retained"`
	Total           int             `json:"total"`
	Outcomes        map[Outcome]int `json:"outcomes"`
	DurationSeconds Distribution    `json:"duration_seconds"`
	MeanGenerations float64         `json:"mean_generations"`
	LastError       string          `json:"last_error,omitempty"`
}

// Summarize computes aggregate statistics over a Recorder's records.
// Safe for a nil or empty recorder (returns zero-value fields).
func Summarize(r *Recorder) *Summary {
	summary := &Summary{Outcomes: make(map[Outcome]int)}
	records := r.Records()
	summary.Retained = len(records)
	summary.Total = r.Total()
	if len(records) == 0 {
		return summary
	}

	durations := make([]float64, 0, len(records))
	generations := 0
	published := 0
	for _, rec := range records {
		summary.Outcomes[rec.Outcome]++
		durations = append(durations, rec.Duration.Seconds())
		if rec.Outcome == OutcomePublished {
			generations += rec.Generations
			published++
		}
		if rec.Error != "" {
			summary.LastError = rec.Error
		}
	}
	summary.DurationSeconds = NewDistribution(durations)
	if published > 0 {
		summary.MeanGenerations = float64(generations) / float64(published)
	}
	return summary
}
