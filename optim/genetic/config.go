package genetic

import (
	"fmt"
	"math"
	"time"
)

// Selection names a parent selection operator.
type Selection string

const (
	SelectionTournament Selection = "tournament"
	SelectionRoulette   Selection = "roulette"
)

// Crossover names a recombination operator.
type Crossover string

const (
	// CrossoverBlend interpolates each gene with its own mixing coefficient.
	CrossoverBlend Crossover = "blend"
	// CrossoverArithmetic interpolates all genes with one coefficient per pair.
	CrossoverArithmetic Crossover = "arithmetic"
	// CrossoverUniform swaps each gene between the parents with probability 0.5.
	CrossoverUniform Crossover = "uniform"
)

// Config holds the engine's operator parameters. See optim.SearchConfig for
// the user-facing equivalent.
type Config struct {
	PopulationSize       int
	MaxGenerations       int
	EliteCount           int
	Selection            Selection
	TournamentSize       int
	Crossover            Crossover
	CrossoverRate        float64
	MutationRate         float64
	MutationScale        float64
	ConvergenceTolerance float64
	ConvergencePatience  int
	TimeBudget           time.Duration // 0 disables the wall-clock limit
	Integral             bool
	Parallelism          int
}

// Validate returns an error if the config cannot drive a search.
func (c Config) Validate() error {
	if c.PopulationSize < 2 {
		return fmt.Errorf("population size must be >= 2, got %d", c.PopulationSize)
	}
	if c.MaxGenerations < 1 {
		return fmt.Errorf("max generations must be >= 1, got %d", c.MaxGenerations)
	}
	if c.EliteCount < 1 || c.EliteCount >= c.PopulationSize {
		return fmt.Errorf("elite count must be in [1, %d), got %d", c.PopulationSize, c.EliteCount)
	}
	switch c.Selection {
	case SelectionTournament:
		if c.TournamentSize < 1 {
			return fmt.Errorf("tournament size must be >= 1, got %d", c.TournamentSize)
		}
	case SelectionRoulette:
	default:
		return fmt.Errorf("unknown selection %q", c.Selection)
	}
	switch c.Crossover {
	case CrossoverBlend, CrossoverArithmetic, CrossoverUniform:
	default:
		return fmt.Errorf("unknown crossover %q", c.Crossover)
	}
	for name, p := range map[string]float64{
		"crossover rate": c.CrossoverRate,
		"mutation rate":  c.MutationRate,
		"mutation scale": c.MutationScale,
	} {
		if p < 0 || p > 1 || math.IsNaN(p) {
			return fmt.Errorf("%s must be in [0, 1], got %v", name, p)
		}
	}
	if c.ConvergencePatience < 1 {
		return fmt.Errorf("convergence patience must be >= 1, got %d", c.ConvergencePatience)
	}
	if c.ConvergenceTolerance < 0 || math.IsNaN(c.ConvergenceTolerance) {
		return fmt.Errorf("convergence tolerance must be >= 0, got %v", c.ConvergenceTolerance)
	}
	if c.TimeBudget < 0 {
		return fmt.Errorf("time budget must be >= 0, got %v", c.TimeBudget)
	}
	return nil
}
