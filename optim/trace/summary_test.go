package trace

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSummarize_EmptyRecorder_ZeroValues(t *testing.T) {
	// GIVEN an empty recorder
	r := NewRecorder(4)

	// WHEN summarized
	summary := Summarize(r)

	// THEN all counts are zero
	assert.Zero(t, summary.Retained)
	assert.Zero(t, summary.Total)
	assert.Empty(t, summary.Outcomes)
	assert.Equal(t, Distribution{}, summary.DurationSeconds)

	assert.Zero(t, Summarize(nil).Retained)
}

func TestSummarize_PopulatedRecorder_CorrectCounts(t *testing.T) {
	// GIVEN a mix of outcomes
	r := NewRecorder(10)
	r.Record(CycleRecord{Outcome: OutcomePublished, Generations: 10, Duration: 1 * time.Second})
	r.Record(CycleRecord{Outcome: OutcomeInfeasible, Stage: "search", Error: "infeasible", Duration: 2 * time.Second})
	r.Record(CycleRecord{Outcome: OutcomePublished, Generations: 30, Duration: 3 * time.Second})
	r.Record(CycleRecord{Outcome: OutcomeFailed, Stage: "score", Error: "boom", Duration: 4 * time.Second})

	// WHEN summarized
	summary := Summarize(r)

	// THEN outcome counts, durations and generations match
	assert.Equal(t, 4, summary.Retained)
	assert.Equal(t, 2, summary.Outcomes[OutcomePublished])
	assert.Equal(t, 1, summary.Outcomes[OutcomeInfeasible])
	assert.Equal(t, 1, summary.Outcomes[OutcomeFailed])
	assert.InDelta(t, 20, summary.MeanGenerations, 1e-9)
	assert.Equal(t, "boom", summary.LastError)

	d := summary.DurationSeconds
	assert.Equal(t, 4, d.Count)
	assert.InDelta(t, 2.5, d.Mean, 1e-9)
	assert.InDelta(t, 2, d.P50, 1e-9)
	assert.InDelta(t, 4, d.P95, 1e-9)
	assert.InDelta(t, 4, d.Max, 1e-9)
}

func TestNewDistribution_SingleValue(t *testing.T) {
	d := NewDistribution([]float64{0.7})
	assert.Equal(t, Distribution{Mean: 0.7, P50: 0.7, P95: 0.7, Max: 0.7, Count: 1}, d)
}
