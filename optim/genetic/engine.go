package genetic

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrInfeasibleProblem means the decision space is empty: no bounds, or
	// none of them valid.
	ErrInfeasibleProblem = errors.New("infeasible decision space")

	// ErrInvalidBound means some, but not all, bounds are empty or non-finite.
	ErrInvalidBound = errors.New("invalid gene bound")

	// ErrFitnessPanic wraps a panic raised inside the fitness function.
	ErrFitnessPanic = errors.New("fitness function panicked")
)

// FitnessFunc evaluates one decision vector. It receives a private copy of
// the genes and must be safe for concurrent use when Parallelism > 1.
type FitnessFunc func(genes []float64) (Evaluation, error)

// Phase is a state of the search state machine.
type Phase string

const (
	PhaseSeed      Phase = "seed"
	PhaseEvaluate  Phase = "evaluate"
	PhaseSelect    Phase = "select"
	PhaseRecombine Phase = "recombine"
	PhaseMutate    Phase = "mutate"
	PhaseDone      Phase = "done"
)

// Termination names the condition that ended a search.
type Termination string

const (
	TerminationMaxGenerations Termination = "max_generations"
	TerminationConverged      Termination = "converged"
	TerminationTimeBudget     Termination = "time_budget"
)

// Individual is one decision vector and its evaluation.
type Individual struct {
	Genes      []float64
	Evaluation Evaluation
	evaluated  bool
}

// Evaluated reports whether the individual carries a current evaluation.
func (ind Individual) Evaluated() bool { return ind.evaluated }

func (ind Individual) clone() Individual {
	c := ind
	c.Genes = append([]float64(nil), ind.Genes...)
	if ind.Evaluation.Objectives != nil {
		c.Evaluation.Objectives = append([]float64(nil), ind.Evaluation.Objectives...)
	}
	return c
}

// Problem is one search instance.
type Problem struct {
	Bounds  []Bound
	Fitness FitnessFunc
	// Seeds are optional starting individuals placed ahead of the random
	// ones. They are snapped into bounds; extras beyond the population size
	// are ignored.
	Seeds [][]float64
}

// GenerationStats describes a population after its evaluation.
type GenerationStats struct {
	Generation int
	Phase      Phase
	BestScore  float64
	MeanScore  float64
	Diversity  float64 // mean per-gene std dev relative to the gene's width
	Population []Individual
}

// Result is the outcome of a completed search.
type Result struct {
	Best        Individual
	Generations int
	Evaluations int
	Termination Termination
	Converged   bool
	History     []float64 // incumbent score after each generation, starting at the seed
	Elapsed     time.Duration
}

// Engine runs genetic searches. It is not safe for concurrent Run calls;
// the RNG is consumed only from the calling goroutine.
type Engine struct {
	cfg      Config
	rng      *rand.Rand
	ranker   Ranker
	now      func() time.Time
	observer func(GenerationStats)
	phase    Phase
}

// Option customizes an Engine.
type Option func(*Engine)

// WithRanker sets the selection ranker (default ScoreRanker).
func WithRanker(r Ranker) Option {
	return func(e *Engine) {
		if r != nil {
			e.ranker = r
		}
	}
}

// WithClock sets the clock used for the time budget.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithObserver registers a callback invoked after every evaluated generation,
// including the seeded one (generation 0).
func WithObserver(fn func(GenerationStats)) Option {
	return func(e *Engine) { e.observer = fn }
}

// NewEngine creates an Engine. Panics if rng is nil.
func NewEngine(cfg Config, rng *rand.Rand, opts ...Option) *Engine {
	if rng == nil {
		panic("genetic.NewEngine: nil rng")
	}
	e := &Engine{
		cfg:    cfg,
		rng:    rng,
		ranker: ScoreRanker{},
		now:    time.Now,
		phase:  PhaseSeed,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Phase returns the state the engine is in.
func (e *Engine) Phase() Phase { return e.phase }

// Run searches the problem until a termination condition fires.
func (e *Engine) Run(p Problem) (*Result, error) {
	if err := e.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("genetic config: %w", err)
	}
	if err := checkBounds(p.Bounds); err != nil {
		return nil, err
	}
	if p.Fitness == nil {
		return nil, fmt.Errorf("genetic: nil fitness function")
	}

	start := e.now()
	evaluations := 0

	e.phase = PhaseSeed
	pop := e.seed(p)

	e.phase = PhaseEvaluate
	n, err := e.evaluate(pop, p.Fitness)
	evaluations += n
	if err != nil {
		return nil, err
	}

	best := bestOf(pop).clone()
	history := []float64{best.Evaluation.Score}
	e.observe(0, pop, p.Bounds)

	generation, stale := 0, 0
	var term Termination
	for {
		if generation >= e.cfg.MaxGenerations {
			term = TerminationMaxGenerations
			break
		}
		if stale >= e.cfg.ConvergencePatience {
			term = TerminationConverged
			break
		}
		if e.cfg.TimeBudget > 0 && e.now().Sub(start) >= e.cfg.TimeBudget {
			term = TerminationTimeBudget
			break
		}

		pop = e.nextGeneration(pop, p.Bounds)

		e.phase = PhaseEvaluate
		n, err := e.evaluate(pop, p.Fitness)
		evaluations += n
		if err != nil {
			return nil, fmt.Errorf("generation %d: %w", generation+1, err)
		}
		generation++

		candidate := bestOf(pop)
		if candidate.Evaluation.Score > best.Evaluation.Score+e.cfg.ConvergenceTolerance {
			stale = 0
		} else {
			stale++
		}
		if candidate.Evaluation.Score > best.Evaluation.Score {
			best = candidate.clone()
		}
		history = append(history, best.Evaluation.Score)
		e.observe(generation, pop, p.Bounds)
	}

	e.phase = PhaseDone
	return &Result{
		Best:        best,
		Generations: generation,
		Evaluations: evaluations,
		Termination: term,
		Converged:   term == TerminationConverged,
		History:     history,
		Elapsed:     e.now().Sub(start),
	}, nil
}

func checkBounds(bounds []Bound) error {
	if len(bounds) == 0 {
		return ErrInfeasibleProblem
	}
	invalid := 0
	for _, b := range bounds {
		if !b.Valid() {
			invalid++
		}
	}
	switch {
	case invalid == len(bounds):
		return ErrInfeasibleProblem
	case invalid > 0:
		return fmt.Errorf("%w: %d of %d bounds", ErrInvalidBound, invalid, len(bounds))
	}
	return nil
}

// seed builds the initial population: snapped seed vectors first, then
// uniform samples inside the bounds.
func (e *Engine) seed(p Problem) []Individual {
	pop := make([]Individual, 0, e.cfg.PopulationSize)
	for _, s := range p.Seeds {
		if len(pop) == e.cfg.PopulationSize {
			break
		}
		if len(s) != len(p.Bounds) {
			logrus.Warnf("genetic: ignoring seed with %d genes, want %d", len(s), len(p.Bounds))
			continue
		}
		genes := make([]float64, len(s))
		for i, v := range s {
			genes[i] = p.Bounds[i].Snap(v, e.cfg.Integral)
		}
		pop = append(pop, Individual{Genes: genes})
	}
	for len(pop) < e.cfg.PopulationSize {
		genes := make([]float64, len(p.Bounds))
		for i, b := range p.Bounds {
			genes[i] = b.Snap(b.Min+e.rng.Float64()*b.Width(), e.cfg.Integral)
		}
		pop = append(pop, Individual{Genes: genes})
	}
	return pop
}

// evaluate scores every individual lacking an evaluation and returns how many
// were scored. Evaluation order never touches the RNG, so parallel and serial
// runs agree.
func (e *Engine) evaluate(pop []Individual, fitness FitnessFunc) (int, error) {
	pending := make([]int, 0, len(pop))
	for i := range pop {
		if !pop[i].evaluated {
			pending = append(pending, i)
		}
	}

	evalOne := func(i int) error {
		genes := append([]float64(nil), pop[i].Genes...)
		ev, err := safeEvaluate(fitness, genes)
		if err != nil {
			return err
		}
		if math.IsNaN(ev.Score) || math.IsInf(ev.Score, 0) {
			return fmt.Errorf("fitness returned non-finite score %v", ev.Score)
		}
		pop[i].Evaluation = ev
		pop[i].evaluated = true
		return nil
	}

	if e.cfg.Parallelism <= 1 {
		for _, i := range pending {
			if err := evalOne(i); err != nil {
				return 0, err
			}
		}
		return len(pending), nil
	}

	var g errgroup.Group
	g.SetLimit(e.cfg.Parallelism)
	for _, i := range pending {
		i := i
		g.Go(func() error { return evalOne(i) })
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(pending), nil
}

func safeEvaluate(fitness FitnessFunc, genes []float64) (ev Evaluation, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrFitnessPanic, r)
		}
	}()
	return fitness(genes)
}

// nextGeneration applies select → recombine → mutate to produce a population
// of the same size. The top EliteCount individuals survive unchanged.
func (e *Engine) nextGeneration(pop []Individual, bounds []Bound) []Individual {
	e.phase = PhaseSelect
	evals := make([]Evaluation, len(pop))
	for i := range pop {
		evals[i] = pop[i].Evaluation
	}
	ranks := e.ranker.Rank(evals)
	order := rankOrder(pop, ranks)

	next := make([]Individual, 0, len(pop))
	for _, idx := range order[:e.cfg.EliteCount] {
		next = append(next, pop[idx].clone())
	}

	for len(next) < len(pop) {
		e.phase = PhaseSelect
		p1 := pop[e.selectParent(pop, ranks)]
		p2 := pop[e.selectParent(pop, ranks)]

		c1, c2 := p1.clone(), p2.clone()
		if e.rng.Float64() < e.cfg.CrossoverRate {
			e.phase = PhaseRecombine
			e.recombine(c1.Genes, c2.Genes, bounds)
			c1.evaluated, c2.evaluated = false, false
		}

		e.phase = PhaseMutate
		if e.mutate(c1.Genes, bounds) {
			c1.evaluated = false
		}
		next = append(next, c1)
		if len(next) < len(pop) {
			if e.mutate(c2.Genes, bounds) {
				c2.evaluated = false
			}
			next = append(next, c2)
		}
	}
	return next
}

// rankOrder returns population indices sorted by rank then Score, both
// descending. Ties keep population order.
func rankOrder(pop []Individual, ranks []float64) []int {
	order := make([]int, len(pop))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ia, ib := order[a], order[b]
		if ranks[ia] != ranks[ib] {
			return ranks[ia] > ranks[ib]
		}
		return pop[ia].Evaluation.Score > pop[ib].Evaluation.Score
	})
	return order
}

func better(pop []Individual, ranks []float64, a, b int) bool {
	if ranks[a] != ranks[b] {
		return ranks[a] > ranks[b]
	}
	return pop[a].Evaluation.Score > pop[b].Evaluation.Score
}

func (e *Engine) selectParent(pop []Individual, ranks []float64) int {
	if e.cfg.Selection == SelectionRoulette {
		return e.roulette(ranks)
	}
	winner := e.rng.Intn(len(pop))
	for k := 1; k < e.cfg.TournamentSize; k++ {
		challenger := e.rng.Intn(len(pop))
		if better(pop, ranks, challenger, winner) {
			winner = challenger
		}
	}
	return winner
}

// roulette picks an index with probability proportional to its rank shifted
// so the worst individual keeps a small non-zero share.
func (e *Engine) roulette(ranks []float64) int {
	lowest := math.Inf(1)
	highest := math.Inf(-1)
	for _, r := range ranks {
		lowest = math.Min(lowest, r)
		highest = math.Max(highest, r)
	}
	floor := 1e-9
	if spread := highest - lowest; spread > 0 {
		floor = spread * 1e-3
	}
	total := 0.0
	for _, r := range ranks {
		total += r - lowest + floor
	}
	pick := e.rng.Float64() * total
	for i, r := range ranks {
		pick -= r - lowest + floor
		if pick <= 0 {
			return i
		}
	}
	return len(ranks) - 1
}

// recombine crosses a and b in place and snaps both into bounds.
func (e *Engine) recombine(a, b []float64, bounds []Bound) {
	switch e.cfg.Crossover {
	case CrossoverUniform:
		for i := range a {
			if e.rng.Float64() < 0.5 {
				a[i], b[i] = b[i], a[i]
			}
		}
	case CrossoverArithmetic:
		alpha := e.rng.Float64()
		for i := range a {
			a[i], b[i] = a[i]+alpha*(b[i]-a[i]), b[i]+alpha*(a[i]-b[i])
		}
	default:
		for i := range a {
			alpha := e.rng.Float64()
			a[i], b[i] = a[i]+alpha*(b[i]-a[i]), b[i]+alpha*(a[i]-b[i])
		}
	}
	for i, bd := range bounds {
		a[i] = bd.Snap(a[i], e.cfg.Integral)
		b[i] = bd.Snap(b[i], e.cfg.Integral)
	}
}

// mutate perturbs each gene with probability MutationRate and reports
// whether any gene changed.
func (e *Engine) mutate(genes []float64, bounds []Bound) bool {
	changed := false
	for i, bd := range bounds {
		if e.rng.Float64() >= e.cfg.MutationRate {
			continue
		}
		noise := (2*e.rng.Float64() - 1) * e.cfg.MutationScale * bd.Width()
		if e.cfg.Integral && noise != 0 && math.Abs(noise) < 1 {
			noise = math.Copysign(1, noise)
		}
		v := bd.Snap(genes[i]+noise, e.cfg.Integral)
		if v != genes[i] {
			genes[i] = v
			changed = true
		}
	}
	return changed
}

func bestOf(pop []Individual) Individual {
	best := 0
	for i := 1; i < len(pop); i++ {
		if pop[i].Evaluation.Score > pop[best].Evaluation.Score {
			best = i
		}
	}
	return pop[best]
}

func (e *Engine) observe(generation int, pop []Individual, bounds []Bound) {
	if e.observer == nil && !logrus.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	scores := make([]float64, len(pop))
	for i := range pop {
		scores[i] = pop[i].Evaluation.Score
	}
	stats := GenerationStats{
		Generation: generation,
		Phase:      e.phase,
		BestScore:  bestOf(pop).Evaluation.Score,
		MeanScore:  stat.Mean(scores, nil),
		Diversity:  diversity(pop, bounds),
	}
	logrus.Debugf("genetic: generation %d best=%.6f mean=%.6f diversity=%.4f",
		generation, stats.BestScore, stats.MeanScore, stats.Diversity)
	if e.observer == nil {
		return
	}
	stats.Population = make([]Individual, len(pop))
	for i := range pop {
		stats.Population[i] = pop[i].clone()
	}
	e.observer(stats)
}

// diversity is the mean over genes of the population std dev divided by the
// gene's width. Zero-width genes are skipped.
func diversity(pop []Individual, bounds []Bound) float64 {
	column := make([]float64, len(pop))
	sum, counted := 0.0, 0
	for g, b := range bounds {
		if b.Width() <= 0 {
			continue
		}
		for i := range pop {
			column[i] = pop[i].Genes[g]
		}
		sum += stat.PopStdDev(column, nil) / b.Width()
		counted++
	}
	if counted == 0 {
		return 0
	}
	return sum / float64(counted)
}
