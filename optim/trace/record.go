// Package trace keeps a bounded, in-memory record of recent optimization
// cycles for diagnostics. It stores pure data and has no dependency on the
// engine packages.
package trace

import "time"

// Outcome is how a cycle ended.
type Outcome string

const (
	OutcomePublished  Outcome = "published"
	OutcomeInfeasible Outcome = "infeasible"
	OutcomeFailed     Outcome = "failed"
)

// CycleRecord captures one optimization cycle.
type CycleRecord struct {
	CycleID     string        `json:"cycle_id"`
	Cycle       uint64        `json:"cycle"`
	Version     uint64        `json:"version"`
	Outcome     Outcome       `json:"outcome"`
	Stage       string        `json:"stage,omitempty"` // stage reached when the cycle stopped early
	SKUs        int           `json:"skus"`
	Excluded    int           `json:"excluded"`
	Alerts      int           `json:"alerts"`
	Generations int           `json:"generations"`
	Score       float64       `json:"score"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
	At          time.Time     `json:"at"`
}
