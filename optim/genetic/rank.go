package genetic

// Evaluation is the fitness of one individual.
type Evaluation struct {
	// Score is the scalar fitness (higher is better). It tracks the incumbent
	// and drives convergence regardless of the ranker in use.
	Score float64
	// Objectives are optional per-objective values (each maximized) for
	// multi-objective rankers.
	Objectives []float64
}

// Ranker turns a population's evaluations into selection fitness, index
// aligned with evals. Higher is better. Ties are broken by Score.
type Ranker interface {
	Name() string
	Rank(evals []Evaluation) []float64
}

// ScoreRanker ranks individuals by their scalar Score.
type ScoreRanker struct{}

func (ScoreRanker) Name() string { return "score" }

func (ScoreRanker) Rank(evals []Evaluation) []float64 {
	ranks := make([]float64, len(evals))
	for i, ev := range evals {
		ranks[i] = ev.Score
	}
	return ranks
}

// ParetoRanker ranks individuals by non-dominated front: front 0 gets 0,
// front 1 gets -1, and so on. Evaluations without objectives fall back to
// their Score as the single objective.
type ParetoRanker struct{}

func (ParetoRanker) Name() string { return "pareto" }

func (ParetoRanker) Rank(evals []Evaluation) []float64 {
	n := len(evals)
	objs := make([][]float64, n)
	for i, ev := range evals {
		if len(ev.Objectives) == 0 {
			objs[i] = []float64{ev.Score}
		} else {
			objs[i] = ev.Objectives
		}
	}

	dominatedBy := make([]int, n) // how many individuals dominate i
	dominates := make([][]int, n) // whom i dominates
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			switch {
			case dominatesVec(objs[i], objs[j]):
				dominates[i] = append(dominates[i], j)
				dominatedBy[j]++
			case dominatesVec(objs[j], objs[i]):
				dominates[j] = append(dominates[j], i)
				dominatedBy[i]++
			}
		}
	}

	ranks := make([]float64, n)
	front := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if dominatedBy[i] == 0 {
			front = append(front, i)
		}
	}
	level := 0
	for len(front) > 0 {
		var next []int
		for _, i := range front {
			ranks[i] = -float64(level)
			for _, j := range dominates[i] {
				dominatedBy[j]--
				if dominatedBy[j] == 0 {
					next = append(next, j)
				}
			}
		}
		front = next
		level++
	}
	return ranks
}

// dominatesVec reports whether a is at least as good as b everywhere and
// strictly better somewhere. Vectors of different length never dominate.
func dominatesVec(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	strictly := false
	for k := range a {
		if a[k] < b[k] {
			return false
		}
		if a[k] > b[k] {
			strictly = true
		}
	}
	return strictly
}
