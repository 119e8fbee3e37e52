package evo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"

	"staghunt/internal/game"
	"staghunt/internal/logging"
	"staghunt/internal/model"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	PopulationSize        int
	InitialCooperateRatio float64
	RevisionProbability   float64
	Generations           int
	Runs                  int
	ReputationMode        bool
	UnmatchedPolicy       UnmatchedPolicy
	UpdateMode            UpdateMode
	Matrix                game.Matrix
	Seed                  int64
}

// Validate reports every configuration error wrapped in ErrInvalidConfig.
func (c Config) Validate() error {
	if c.PopulationSize < 2 {
		return fmt.Errorf("%w: population size must be >= 2, got %d", ErrInvalidConfig, c.PopulationSize)
	}
	if !(c.InitialCooperateRatio >= 0 && c.InitialCooperateRatio <= 1) {
		return fmt.Errorf("%w: initial cooperate ratio must be in [0,1], got %v", ErrInvalidConfig, c.InitialCooperateRatio)
	}
	if !(c.RevisionProbability >= 0 && c.RevisionProbability <= 1) {
		return fmt.Errorf("%w: revision probability must be in [0,1], got %v", ErrInvalidConfig, c.RevisionProbability)
	}
	if c.Generations <= 0 {
		return fmt.Errorf("%w: generations must be > 0", ErrInvalidConfig)
	}
	if c.Runs <= 0 {
		return fmt.Errorf("%w: runs must be > 0", ErrInvalidConfig)
	}
	if !c.Matrix.Valid() {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, game.ErrMissingEntry)
	}
	if _, err := ParseUnmatchedPolicy(string(c.UnmatchedPolicy)); err != nil {
		return err
	}
	if _, err := ParseUpdateMode(string(c.UpdateMode)); err != nil {
		return err
	}
	return nil
}

// Observer receives each generation's summary after play and before revision.
type Observer interface {
	ObserveGeneration(summary model.GenerationSummary) error
}

type ObserverFunc func(summary model.GenerationSummary) error

func (f ObserverFunc) ObserveGeneration(summary model.GenerationSummary) error {
	return f(summary)
}

// MultiObserver fans a summary out in order and stops at the first error.
type MultiObserver []Observer

func (m MultiObserver) ObserveGeneration(summary model.GenerationSummary) error {
	for _, o := range m {
		if o == nil {
			continue
		}
		if err := o.ObserveGeneration(summary); err != nil {
			return err
		}
	}
	return nil
}

type RunResult struct {
	Run             int
	Seed            int64
	Summaries       []model.GenerationSummary
	FinalPopulation []model.Agent
	Final           model.FinalSummary
}

type Option func(*Engine)

// WithShuffler replaces the per-run permutation source. The factory receives
// the run's random source.
func WithShuffler(factory func(rng *rand.Rand) Shuffler) Option {
	return func(e *Engine) {
		e.newShuffler = factory
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

type Engine struct {
	cfg         Config
	rule        RevisionRule
	newShuffler func(rng *rand.Rand) Shuffler
	logger      *slog.Logger
}

func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.UnmatchedPolicy, _ = ParseUnmatchedPolicy(string(cfg.UnmatchedPolicy))
	cfg.UpdateMode, _ = ParseUpdateMode(string(cfg.UpdateMode))

	e := &Engine{
		cfg:  cfg,
		rule: RuleFor(cfg.ReputationMode),
		newShuffler: func(rng *rand.Rand) Shuffler {
			return RandShuffler{Rng: rng}
		},
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) Config() Config {
	return e.cfg
}

// RunSeeds derives one independent seed per run from the batch seed.
func RunSeeds(seed int64, runs int) []int64 {
	master := rand.New(rand.NewSource(seed))
	seeds := make([]int64, runs)
	for i := range seeds {
		seeds[i] = master.Int63()
	}
	return seeds
}

// Run executes every configured run in order. The observer sees every
// generation of every run; an observer error stops the batch.
func (e *Engine) Run(ctx context.Context, observer Observer) ([]RunResult, error) {
	seeds := RunSeeds(e.cfg.Seed, e.cfg.Runs)
	results := make([]RunResult, 0, e.cfg.Runs)
	for i, seed := range seeds {
		result, err := e.RunOnce(ctx, i+1, seed, observer)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

// RunOnce executes a single run from a fresh population seeded by seed.
func (e *Engine) RunOnce(ctx context.Context, run int, seed int64, observer Observer) (RunResult, error) {
	r, err := e.NewRun(run, seed)
	if err != nil {
		return RunResult{}, err
	}
	e.logger.Debug("run started", "run", run, "seed", seed, "population", e.cfg.PopulationSize, "rule", e.rule.Name())

	for r.Generation() < e.cfg.Generations {
		if err := ctx.Err(); err != nil {
			return RunResult{}, err
		}
		if _, err := r.Step(observer); err != nil {
			return RunResult{}, err
		}
	}

	result := r.Result()
	e.logger.Debug("run finished", "run", run, "most_payoff_index", result.Final.MostPayoff.Index, "best_average", result.Final.BestAverage.AveragePayoff)
	return result, nil
}

// NewRun prepares a run without playing any generation.
func (e *Engine) NewRun(run int, seed int64) (*Run, error) {
	rng := rand.New(rand.NewSource(seed))
	population, err := NewPopulation(rng, e.cfg.PopulationSize, e.cfg.InitialCooperateRatio)
	if err != nil {
		return nil, err
	}
	return &Run{
		engine:     e,
		index:      run,
		seed:       seed,
		rng:        rng,
		shuffler:   e.newShuffler(rng),
		population: population,
	}, nil
}

// Run is the state of one run in progress. It is not safe for concurrent use.
type Run struct {
	engine     *Engine
	index      int
	seed       int64
	rng        *rand.Rand
	shuffler   Shuffler
	population *Population
	generation int
	summaries  []model.GenerationSummary
}

func (r *Run) Generation() int {
	return r.generation
}

func (r *Run) Population() *Population {
	return r.population
}

// Step plays one generation: pairing and payoffs, summary, observer, then
// strategy revision.
func (r *Run) Step(observer Observer) (model.GenerationSummary, error) {
	cfg := r.engine.cfg
	generation := r.generation + 1

	if err := r.population.Play(cfg.Matrix, r.shuffler); err != nil {
		return model.GenerationSummary{}, fmt.Errorf("run %d generation %d: play: %w", r.index, generation, err)
	}
	summary := r.population.Summary(r.index, generation, cfg.UnmatchedPolicy)
	r.summaries = append(r.summaries, summary)
	r.generation = generation

	if observer != nil {
		if err := observer.ObserveGeneration(summary); err != nil {
			return summary, fmt.Errorf("run %d generation %d: observe: %w", r.index, generation, err)
		}
	}

	changed, err := r.population.Revise(r.rng, cfg.RevisionProbability, r.engine.rule, cfg.UpdateMode)
	if err != nil {
		return summary, fmt.Errorf("run %d generation %d: revise: %w", r.index, generation, err)
	}
	r.engine.logger.Log(context.Background(), logging.LevelTrace, "generation",
		"run", r.index,
		"generation", generation,
		"cooperate", summary.CooperateCount,
		"average_payoff", summary.AveragePayoff,
		"revised", changed,
	)
	return summary, nil
}

func (r *Run) Result() RunResult {
	return RunResult{
		Run:             r.index,
		Seed:            r.seed,
		Summaries:       append([]model.GenerationSummary(nil), r.summaries...),
		FinalPopulation: r.population.Snapshot(),
		Final:           FinalSummaryOf(r.population.Agents, r.engine.cfg.Generations, r.engine.cfg.ReputationMode),
	}
}

// FinalSummaryOf scans agents once; on ties the earliest index wins.
func FinalSummaryOf(agents []model.Agent, generations int, reputationMode bool) model.FinalSummary {
	if len(agents) == 0 {
		return model.FinalSummary{}
	}
	mostPayoff, mostReputation := 0, 0
	for i, a := range agents[1:] {
		idx := i + 1
		if a.TotalWinnings > agents[mostPayoff].TotalWinnings {
			mostPayoff = idx
		}
		if a.TotalReputation > agents[mostReputation].TotalReputation {
			mostReputation = idx
		}
	}
	bestAverage := bestAverageIndex(agents, generations)

	summary := model.FinalSummary{
		MostPayoff:  agentRecord(agents, mostPayoff, generations),
		BestAverage: agentRecord(agents, bestAverage, generations),
	}
	if reputationMode {
		record := agentRecord(agents, mostReputation, generations)
		summary.MostReputation = &record
	}
	return summary
}

func bestAverageIndex(agents []model.Agent, generations int) int {
	best := 0
	bestValue := averagePayoff(agents[0], generations)
	for i := 1; i < len(agents); i++ {
		if v := averagePayoff(agents[i], generations); v > bestValue {
			best, bestValue = i, v
		}
	}
	return best
}

func averagePayoff(a model.Agent, generations int) float64 {
	if generations <= 0 {
		return 0
	}
	return a.TotalWinnings / float64(generations)
}

func agentRecord(agents []model.Agent, idx, generations int) model.AgentRecord {
	a := agents[idx]
	return model.AgentRecord{
		Index:           idx,
		Strategy:        a.Strategy,
		TotalPayoff:     a.TotalWinnings,
		TotalReputation: a.TotalReputation,
		AveragePayoff:   averagePayoff(a, generations),
	}
}
