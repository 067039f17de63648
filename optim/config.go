package optim

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SearchConfig groups genetic search parameters.
type SearchConfig struct {
	PopulationSize       int           `yaml:"population_size" json:"population_size"`             // individuals per generation (>= 2)
	MaxGenerations       int           `yaml:"max_generations" json:"max_generations"`             // hard generation cap (>= 1)
	EliteCount           int           `yaml:"elite_count" json:"elite_count"`                     // top-k carried over unmutated (>= 1)
	Selection            string        `yaml:"selection" json:"selection"`                         // "tournament" (default) or "roulette"
	TournamentSize       int           `yaml:"tournament_size" json:"tournament_size"`             // contestants per tournament
	Crossover            string        `yaml:"crossover" json:"crossover"`                         // "blend" (default), "arithmetic", "uniform"
	CrossoverRate        float64       `yaml:"crossover_rate" json:"crossover_rate"`               // probability a pair recombines
	MutationRate         float64       `yaml:"mutation_rate" json:"mutation_rate"`                 // per-gene mutation probability
	MutationScale        float64       `yaml:"mutation_scale" json:"mutation_scale"`               // noise amplitude relative to the gene's range
	ConvergenceTolerance float64       `yaml:"convergence_tolerance" json:"convergence_tolerance"` // minimum improvement that resets patience
	ConvergencePatience  int           `yaml:"convergence_patience" json:"convergence_patience"`   // generations without improvement before stopping
	TimeBudget           time.Duration `yaml:"time_budget" json:"time_budget"`                     // wall-clock budget per search (0 = none)
	Integral             bool          `yaml:"integral" json:"integral"`                           // round quantities to whole units
	Parallelism          int           `yaml:"parallelism" json:"parallelism"`                     // concurrent fitness evaluations (<= 1 = serial)
}

// FitnessConfig selects the fitness strategy and its weights.
type FitnessConfig struct {
	Strategy         string  `yaml:"strategy" json:"strategy"` // "weighted-sum" (default) or "pareto-rank"
	CostWeight       float64 `yaml:"cost_weight" json:"cost_weight"`
	ServiceWeight    float64 `yaml:"service_weight" json:"service_weight"`
	StockoutPenalty  float64 `yaml:"stockout_penalty" json:"stockout_penalty"` // must exceed OverstockPenalty
	OverstockPenalty float64 `yaml:"overstock_penalty" json:"overstock_penalty"`
}

// ForecastConfig groups demand forecasting parameters.
type ForecastConfig struct {
	Alpha         float64 `yaml:"alpha" json:"alpha"`                   // exponential smoothing factor in (0, 1]
	SeasonLength  int     `yaml:"season_length" json:"season_length"`   // periods per season (0 = no seasonality)
	Horizon       int     `yaml:"horizon" json:"horizon"`               // periods covered by a forecast
	MinHistory    int     `yaml:"min_history" json:"min_history"`       // samples required for a full forecast
	BandZ         float64 `yaml:"band_z" json:"band_z"`                 // width of the uncertainty band in std devs
	DefaultDemand float64 `yaml:"default_demand" json:"default_demand"` // per-period demand assumed without usable history
}

// AlertConfig groups alert thresholds.
type AlertConfig struct {
	SafetyStockFactor  float64       `yaml:"safety_stock_factor" json:"safety_stock_factor"`
	AnomalyStdDevs     float64       `yaml:"anomaly_std_devs" json:"anomaly_std_devs"`
	WarningRatio       float64       `yaml:"warning_ratio" json:"warning_ratio"`   // stockout score at which severity becomes warning
	CriticalRatio      float64       `yaml:"critical_ratio" json:"critical_ratio"` // stockout score at which severity becomes critical
	StalenessThreshold time.Duration `yaml:"staleness_threshold" json:"staleness_threshold"`
}

// TelemetryConfig controls the rolling aggregate.
type TelemetryConfig struct {
	Alpha float64 `yaml:"alpha" json:"alpha"` // EWMA decay in (0, 1]
}

// CycleConfig controls the optimization loop.
type CycleConfig struct {
	Pause         time.Duration `yaml:"pause" json:"pause"`                   // gap between back-to-back cycles
	TraceCapacity int           `yaml:"trace_capacity" json:"trace_capacity"` // recent cycle records kept in memory
}

// CollectorConfig selects and paces the SKU data source.
type CollectorConfig struct {
	Source        string        `yaml:"source" json:"source"` // "file" or "synthetic"
	Path          string        `yaml:"path" json:"path"`
	Interval      time.Duration `yaml:"interval" json:"interval"`
	SyntheticSKUs int           `yaml:"synthetic_skus" json:"synthetic_skus"`
	Seed          int64         `yaml:"seed" json:"seed"`
}

// ServerConfig configures the transport adapter.
type ServerConfig struct {
	Addr              string        `yaml:"addr" json:"addr"`
	PlanInterval      time.Duration `yaml:"plan_interval" json:"plan_interval"`
	TelemetryInterval time.Duration `yaml:"telemetry_interval" json:"telemetry_interval"`
	AlertsInterval    time.Duration `yaml:"alerts_interval" json:"alerts_interval"`
}

// Config is the full engine configuration. All top-level sections must be
// listed to satisfy KnownFields(true) strict parsing.
type Config struct {
	Seed      *int64          `yaml:"seed" json:"seed"` // nil = seed from the wall clock at startup
	LogLevel  string          `yaml:"log_level" json:"log_level"`
	Search    SearchConfig    `yaml:"search" json:"search"`
	Fitness   FitnessConfig   `yaml:"fitness" json:"fitness"`
	Forecast  ForecastConfig  `yaml:"forecast" json:"forecast"`
	Alerts    AlertConfig     `yaml:"alerts" json:"alerts"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
	Cycle     CycleConfig     `yaml:"cycle" json:"cycle"`
	Collector CollectorConfig `yaml:"collector" json:"collector"`
	Server    ServerConfig    `yaml:"server" json:"server"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Search: SearchConfig{
			PopulationSize:       60,
			MaxGenerations:       300,
			EliteCount:           2,
			Selection:            "tournament",
			TournamentSize:       3,
			Crossover:            "blend",
			CrossoverRate:        0.9,
			MutationRate:         0.1,
			MutationScale:        0.1,
			ConvergenceTolerance: 1e-6,
			ConvergencePatience:  40,
			TimeBudget:           5 * time.Second,
			Integral:             true,
			Parallelism:          1,
		},
		Fitness: FitnessConfig{
			Strategy:         "weighted-sum",
			CostWeight:       1.0,
			ServiceWeight:    1.0,
			StockoutPenalty:  2.0,
			OverstockPenalty: 0.5,
		},
		Forecast: ForecastConfig{
			Alpha:         0.3,
			Horizon:       4,
			MinHistory:    3,
			BandZ:         1.96,
			DefaultDemand: 0,
		},
		Alerts: AlertConfig{
			SafetyStockFactor:  1.65,
			AnomalyStdDevs:     3.0,
			WarningRatio:       0.25,
			CriticalRatio:      0.75,
			StalenessThreshold: 5 * time.Minute,
		},
		Telemetry: TelemetryConfig{Alpha: 0.2},
		Cycle:     CycleConfig{TraceCapacity: 64},
		Collector: CollectorConfig{
			Source:        "synthetic",
			Interval:      10 * time.Second,
			SyntheticSKUs: 20,
			Seed:          42,
		},
		Server: ServerConfig{
			Addr:              ":8082",
			PlanInterval:      2 * time.Second,
			TelemetryInterval: 5 * time.Second,
			AlertsInterval:    10 * time.Second,
		},
	}
}

// validSelections is the set of recognized selection operators.
var validSelections = map[string]bool{"tournament": true, "roulette": true}

// validCrossovers is the set of recognized crossover operators.
var validCrossovers = map[string]bool{"blend": true, "arithmetic": true, "uniform": true}

// validFitnessStrategies is the set of recognized fitness strategies.
var validFitnessStrategies = map[string]bool{"weighted-sum": true, "pareto-rank": true}

// validSources is the set of recognized collector sources.
var validSources = map[string]bool{"file": true, "synthetic": true}

// IsValidSelection returns true if name is a recognized selection operator.
func IsValidSelection(name string) bool { return validSelections[name] }

// IsValidCrossover returns true if name is a recognized crossover operator.
func IsValidCrossover(name string) bool { return validCrossovers[name] }

// IsValidFitnessStrategy returns true if name is a recognized fitness strategy.
func IsValidFitnessStrategy(name string) bool { return validFitnessStrategies[name] }

// ValidFitnessStrategies returns sorted fitness strategy names.
func ValidFitnessStrategies() []string { return sortedNames(validFitnessStrategies) }

func sortedNames(m map[string]bool) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadConfig reads a YAML configuration file on top of DefaultConfig.
// Unknown fields are rejected so typos fail loudly.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// Validate checks every section and returns the first problem found,
// wrapped in ErrInvalidConfig.
func (c Config) Validate() error {
	for _, check := range []func() error{
		c.Search.validate,
		c.Fitness.validate,
		c.Forecast.validate,
		c.Alerts.validate,
		c.validateRest,
	} {
		if err := check(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	return nil
}

func (s SearchConfig) validate() error {
	if s.PopulationSize < 2 {
		return fmt.Errorf("search.population_size must be >= 2, got %d", s.PopulationSize)
	}
	if s.MaxGenerations < 1 {
		return fmt.Errorf("search.max_generations must be >= 1, got %d", s.MaxGenerations)
	}
	if s.EliteCount < 1 || s.EliteCount >= s.PopulationSize {
		return fmt.Errorf("search.elite_count must be in [1, population_size), got %d", s.EliteCount)
	}
	if !validSelections[s.Selection] {
		return fmt.Errorf("unknown search.selection %q; valid: %s", s.Selection, strings.Join(sortedNames(validSelections), ", "))
	}
	if s.Selection == "tournament" && (s.TournamentSize < 1 || s.TournamentSize > s.PopulationSize) {
		return fmt.Errorf("search.tournament_size must be in [1, population_size], got %d", s.TournamentSize)
	}
	if !validCrossovers[s.Crossover] {
		return fmt.Errorf("unknown search.crossover %q; valid: %s", s.Crossover, strings.Join(sortedNames(validCrossovers), ", "))
	}
	for name, p := range map[string]float64{
		"search.crossover_rate": s.CrossoverRate,
		"search.mutation_rate":  s.MutationRate,
		"search.mutation_scale": s.MutationScale,
	} {
		if err := validateProbability(name, p); err != nil {
			return err
		}
	}
	if s.ConvergenceTolerance < 0 || math.IsNaN(s.ConvergenceTolerance) {
		return fmt.Errorf("search.convergence_tolerance must be >= 0, got %v", s.ConvergenceTolerance)
	}
	if s.ConvergencePatience < 1 {
		return fmt.Errorf("search.convergence_patience must be >= 1, got %d", s.ConvergencePatience)
	}
	if s.TimeBudget < 0 {
		return fmt.Errorf("search.time_budget must be >= 0, got %v", s.TimeBudget)
	}
	return nil
}

func (f FitnessConfig) validate() error {
	if !validFitnessStrategies[f.Strategy] {
		return fmt.Errorf("unknown fitness.strategy %q; valid: %s", f.Strategy, strings.Join(ValidFitnessStrategies(), ", "))
	}
	for name, w := range map[string]float64{
		"fitness.cost_weight":       f.CostWeight,
		"fitness.service_weight":    f.ServiceWeight,
		"fitness.stockout_penalty":  f.StockoutPenalty,
		"fitness.overstock_penalty": f.OverstockPenalty,
	} {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("%s must be a finite non-negative number, got %v", name, w)
		}
	}
	if f.CostWeight == 0 && f.ServiceWeight == 0 {
		return fmt.Errorf("fitness.cost_weight and fitness.service_weight cannot both be zero")
	}
	if f.StockoutPenalty <= f.OverstockPenalty {
		return fmt.Errorf("fitness.stockout_penalty (%v) must exceed fitness.overstock_penalty (%v)", f.StockoutPenalty, f.OverstockPenalty)
	}
	return nil
}

func (f ForecastConfig) validate() error {
	if f.Alpha <= 0 || f.Alpha > 1 || math.IsNaN(f.Alpha) {
		return fmt.Errorf("forecast.alpha must be in (0, 1], got %v", f.Alpha)
	}
	if f.SeasonLength < 0 || f.SeasonLength == 1 {
		return fmt.Errorf("forecast.season_length must be 0 or >= 2, got %d", f.SeasonLength)
	}
	if f.Horizon < 1 {
		return fmt.Errorf("forecast.horizon must be >= 1, got %d", f.Horizon)
	}
	if f.MinHistory < 1 {
		return fmt.Errorf("forecast.min_history must be >= 1, got %d", f.MinHistory)
	}
	if f.BandZ < 0 || f.DefaultDemand < 0 {
		return fmt.Errorf("forecast.band_z and forecast.default_demand must be >= 0")
	}
	return nil
}

func (a AlertConfig) validate() error {
	if a.SafetyStockFactor < 0 || a.AnomalyStdDevs <= 0 {
		return fmt.Errorf("alerts.safety_stock_factor must be >= 0 and alerts.anomaly_std_devs > 0")
	}
	if a.WarningRatio < 0 || a.CriticalRatio < a.WarningRatio {
		return fmt.Errorf("alerts thresholds must satisfy 0 <= warning_ratio <= critical_ratio, got %v and %v", a.WarningRatio, a.CriticalRatio)
	}
	if a.StalenessThreshold < 0 {
		return fmt.Errorf("alerts.staleness_threshold must be >= 0, got %v", a.StalenessThreshold)
	}
	return nil
}

func (c Config) validateRest() error {
	if c.Telemetry.Alpha <= 0 || c.Telemetry.Alpha > 1 {
		return fmt.Errorf("telemetry.alpha must be in (0, 1], got %v", c.Telemetry.Alpha)
	}
	if c.Cycle.Pause < 0 || c.Cycle.TraceCapacity < 1 {
		return fmt.Errorf("cycle.pause must be >= 0 and cycle.trace_capacity >= 1")
	}
	if !validSources[c.Collector.Source] {
		return fmt.Errorf("unknown collector.source %q; valid: %s", c.Collector.Source, strings.Join(sortedNames(validSources), ", "))
	}
	if c.Collector.Source == "file" && c.Collector.Path == "" {
		return fmt.Errorf("collector.path is required for the file source")
	}
	if c.Collector.Interval <= 0 {
		return fmt.Errorf("collector.interval must be positive, got %v", c.Collector.Interval)
	}
	if c.Collector.Source == "synthetic" && c.Collector.SyntheticSKUs < 1 {
		return fmt.Errorf("collector.synthetic_skus must be >= 1, got %d", c.Collector.SyntheticSKUs)
	}
	for name, d := range map[string]time.Duration{
		"server.plan_interval":      c.Server.PlanInterval,
		"server.telemetry_interval": c.Server.TelemetryInterval,
		"server.alerts_interval":    c.Server.AlertsInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %v", name, d)
		}
	}
	return nil
}

func validateProbability(name string, p float64) error {
	if p < 0 || p > 1 || math.IsNaN(p) {
		return fmt.Errorf("%s must be in [0, 1], got %v", name, p)
	}
	return nil
}
