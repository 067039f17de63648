package cost

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/stockflow/invopt/optim"
	"github.com/stockflow/invopt/optim/genetic"
)

// FitnessStrategy turns a fitness breakdown into what the search optimizes.
// Score is the scalar used for the incumbent and convergence; Objectives feed
// multi-objective rankers and may be nil.
type FitnessStrategy interface {
	Name() string
	Score(b optim.FitnessBreakdown) float64
	Objectives(b optim.FitnessBreakdown) []float64
	Ranker() genetic.Ranker
}

// WeightedSum combines normalized cost and service level into one scalar:
// score = -CostWeight·NormalizedCost + ServiceWeight·ServiceLevel.
type WeightedSum struct {
	CostWeight    float64
	ServiceWeight float64
}

func (w WeightedSum) Name() string { return "weighted-sum" }

func (w WeightedSum) Score(b optim.FitnessBreakdown) float64 {
	return -w.CostWeight*b.NormalizedCost + w.ServiceWeight*b.ServiceLevel
}

func (w WeightedSum) Objectives(optim.FitnessBreakdown) []float64 { return nil }

func (w WeightedSum) Ranker() genetic.Ranker { return genetic.ScoreRanker{} }

// ParetoRank selects by non-dominated front over (-NormalizedCost,
// ServiceLevel). The weighted sum breaks ties and picks the reported plan.
type ParetoRank struct {
	WeightedSum
}

func (p ParetoRank) Name() string { return "pareto-rank" }

func (p ParetoRank) Objectives(b optim.FitnessBreakdown) []float64 {
	return []float64{-b.NormalizedCost, b.ServiceLevel}
}

func (p ParetoRank) Ranker() genetic.Ranker { return genetic.ParetoRanker{} }

// NewFitnessStrategy builds the strategy named in cfg.
func NewFitnessStrategy(cfg optim.FitnessConfig) (FitnessStrategy, error) {
	weights := WeightedSum{CostWeight: cfg.CostWeight, ServiceWeight: cfg.ServiceWeight}
	switch cfg.Strategy {
	case "", "weighted-sum":
		return weights, nil
	case "pareto-rank":
		return ParetoRank{WeightedSum: weights}, nil
	default:
		return nil, fmt.Errorf("unknown fitness strategy %q; valid: %s",
			cfg.Strategy, strings.Join(optim.ValidFitnessStrategies(), ", "))
	}
}

// ParseFitnessWeights parses "cost:1,service:4" into cost and service
// weights. Omitted objectives keep weight 0; at least one must be given.
func ParseFitnessWeights(s string) (costWeight, serviceWeight float64, err error) {
	if strings.TrimSpace(s) == "" {
		return 0, 0, fmt.Errorf("empty fitness weights")
	}
	seen := make(map[string]bool, 2)
	for _, part := range strings.Split(s, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), ":", 2)
		if len(kv) != 2 {
			return 0, 0, fmt.Errorf("invalid fitness weight %q (expected objective:weight)", strings.TrimSpace(part))
		}
		name := strings.TrimSpace(kv[0])
		if name != "cost" && name != "service" {
			return 0, 0, fmt.Errorf("unknown objective %q; valid: cost, service", name)
		}
		if seen[name] {
			return 0, 0, fmt.Errorf("duplicate objective %q", name)
		}
		seen[name] = true
		w, err := strconv.ParseFloat(strings.TrimSpace(kv[1]), 64)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid weight for objective %q: %w", name, err)
		}
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return 0, 0, fmt.Errorf("objective %q weight must be a finite non-negative number, got %v", name, w)
		}
		if name == "cost" {
			costWeight = w
		} else {
			serviceWeight = w
		}
	}
	if costWeight == 0 && serviceWeight == 0 {
		return 0, 0, fmt.Errorf("fitness weights must not all be zero")
	}
	return costWeight, serviceWeight, nil
}
