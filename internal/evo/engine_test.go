package evo

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"reflect"
	"testing"

	"staghunt/internal/game"
	"staghunt/internal/model"
)

func testConfig() Config {
	return Config{
		PopulationSize:        20,
		InitialCooperateRatio: 0.5,
		RevisionProbability:   0.2,
		Generations:           30,
		Runs:                  2,
		Matrix:                game.DefaultMatrix(),
		Seed:                  7,
	}
}

func TestNewEngineValidatesConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"population too small", func(c *Config) { c.PopulationSize = 1 }},
		{"negative ratio", func(c *Config) { c.InitialCooperateRatio = -0.1 }},
		{"ratio above one", func(c *Config) { c.InitialCooperateRatio = 1.01 }},
		{"negative probability", func(c *Config) { c.RevisionProbability = -1 }},
		{"probability above one", func(c *Config) { c.RevisionProbability = 2 }},
		{"nan ratio", func(c *Config) { c.InitialCooperateRatio = math.NaN() }},
		{"nan probability", func(c *Config) { c.RevisionProbability = math.NaN() }},
		{"zero matrix", func(c *Config) { c.Matrix = game.Matrix{} }},
		{"zero generations", func(c *Config) { c.Generations = 0 }},
		{"zero runs", func(c *Config) { c.Runs = 0 }},
		{"unknown unmatched policy", func(c *Config) { c.UnmatchedPolicy = "zero" }},
		{"unknown update mode", func(c *Config) { c.UpdateMode = "parallel" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			if _, err := NewEngine(cfg); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected invalid config error, got %v", err)
			}
		})
	}
}

func TestNewEngineRejectsUnbuiltMatrix(t *testing.T) {
	cfg := testConfig()
	cfg.Matrix = game.Matrix{}
	_, err := NewEngine(cfg)
	if !errors.Is(err, ErrInvalidConfig) || !errors.Is(err, game.ErrMissingEntry) {
		t.Fatalf("expected invalid config wrapping missing entry, got %v", err)
	}
}

func TestNewEngineAcceptsBoundaries(t *testing.T) {
	cfg := testConfig()
	cfg.PopulationSize = 2
	cfg.InitialCooperateRatio = 0
	cfg.RevisionProbability = 1
	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if engine.Config().UnmatchedPolicy != UnmatchedStale || engine.Config().UpdateMode != UpdateSynchronous {
		t.Fatalf("expected defaults to be resolved: %+v", engine.Config())
	}
}

func TestEngineRunIsDeterministicForSeed(t *testing.T) {
	collect := func() ([]model.GenerationSummary, []RunResult) {
		engine, err := NewEngine(testConfig())
		if err != nil {
			t.Fatalf("new engine: %v", err)
		}
		var seen []model.GenerationSummary
		results, err := engine.Run(context.Background(), ObserverFunc(func(s model.GenerationSummary) error {
			seen = append(seen, s)
			return nil
		}))
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		return seen, results
	}

	first, firstResults := collect()
	second, secondResults := collect()
	if len(first) != 60 {
		t.Fatalf("expected 60 summaries, got %d", len(first))
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatal("identical seeds produced different summaries")
	}
	if !reflect.DeepEqual(firstResults, secondResults) {
		t.Fatal("identical seeds produced different run results")
	}

	cfg := testConfig()
	cfg.Seed = 8
	other, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	otherResults, err := other.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if reflect.DeepEqual(firstResults, otherResults) {
		t.Fatal("different seeds should diverge")
	}
}

func TestEngineRunsUseIndependentSeeds(t *testing.T) {
	engine, err := NewEngine(testConfig())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	results, err := engine.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Seed == results[1].Seed {
		t.Fatal("runs should have distinct seeds")
	}
	seeds := RunSeeds(7, 2)
	for i, r := range results {
		if r.Run != i+1 || r.Seed != seeds[i] {
			t.Fatalf("run %d: index=%d seed=%d want seed %d", i, r.Run, r.Seed, seeds[i])
		}
		if len(r.Summaries) != 30 {
			t.Fatalf("run %d: expected 30 summaries, got %d", i, len(r.Summaries))
		}
		for g, s := range r.Summaries {
			if s.Run != i+1 || s.Generation != g+1 {
				t.Fatalf("run %d: summary %d has run=%d generation=%d", i, g, s.Run, s.Generation)
			}
		}
	}

	single, err := engine.RunOnce(context.Background(), 2, seeds[1], nil)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if !reflect.DeepEqual(single, results[1]) {
		t.Fatal("RunOnce with the derived seed should reproduce the batch run")
	}
}

func TestEngineAccumulationInvariant(t *testing.T) {
	cfg := testConfig()
	cfg.PopulationSize = 9
	cfg.Runs = 1
	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	run, err := engine.NewRun(1, 99)
	if err != nil {
		t.Fatalf("new run: %v", err)
	}

	expectedWinnings := make([]float64, cfg.PopulationSize)
	expectedReputation := make([]float64, cfg.PopulationSize)
	for run.Generation() < cfg.Generations {
		var captured []model.Agent
		_, err := run.Step(ObserverFunc(func(model.GenerationSummary) error {
			captured = run.Population().Snapshot()
			return nil
		}))
		if err != nil {
			t.Fatalf("step: %v", err)
		}
		for i, a := range captured {
			if a.Matched {
				expectedWinnings[i] += a.Payoff
				expectedReputation[i] += a.Reputation
			}
			if a.TotalWinnings != expectedWinnings[i] {
				t.Fatalf("generation %d agent %d: total %v want %v", run.Generation(), i, a.TotalWinnings, expectedWinnings[i])
			}
			if a.TotalReputation != expectedReputation[i] {
				t.Fatalf("generation %d agent %d: reputation %v want %v", run.Generation(), i, a.TotalReputation, expectedReputation[i])
			}
		}
	}
}

func TestEngineStrategiesStayInDomain(t *testing.T) {
	cfg := testConfig()
	cfg.RevisionProbability = 1
	cfg.ReputationMode = true
	cfg.UpdateMode = UpdateSequential
	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	results, err := engine.Run(context.Background(), ObserverFunc(func(s model.GenerationSummary) error {
		if s.CooperateCount+s.DefectCount != cfg.PopulationSize {
			t.Fatalf("counts do not cover population: %+v", s)
		}
		return nil
	}))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, r := range results {
		for i, a := range r.FinalPopulation {
			if !a.Strategy.Valid() {
				t.Fatalf("run %d agent %d has strategy %d", r.Run, i, a.Strategy)
			}
		}
	}
}

func TestEngineZeroProbabilityKeepsStrategies(t *testing.T) {
	cfg := testConfig()
	cfg.RevisionProbability = 0
	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	run, err := engine.NewRun(1, 5)
	if err != nil {
		t.Fatalf("new run: %v", err)
	}
	initial := run.Population().Strategies()
	first := -1
	for run.Generation() < cfg.Generations {
		summary, err := run.Step(nil)
		if err != nil {
			t.Fatalf("step: %v", err)
		}
		if first < 0 {
			first = summary.CooperateCount
		}
		if summary.CooperateCount != first {
			t.Fatalf("cooperate count changed with e=0: %d -> %d", first, summary.CooperateCount)
		}
	}
	if !reflect.DeepEqual(initial, run.Population().Strategies()) {
		t.Fatal("strategies changed with e=0")
	}
}

func TestEngineUsesInjectedShuffler(t *testing.T) {
	cfg := testConfig()
	cfg.PopulationSize = 4
	cfg.Generations = 1
	cfg.Runs = 1
	cfg.RevisionProbability = 0
	engine, err := NewEngine(cfg, WithShuffler(func(*rand.Rand) Shuffler {
		return fixedShuffler{order: []int{3, 2, 1, 0}}
	}))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	results, err := engine.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	agents := results[0].FinalPopulation
	matrix := game.DefaultMatrix()
	first, _ := matrix.Lookup(agents[3].Strategy, agents[2].Strategy)
	second, _ := matrix.Lookup(agents[1].Strategy, agents[0].Strategy)
	if agents[3].Payoff != first.Payoff[0] || agents[2].Payoff != first.Payoff[1] {
		t.Fatalf("pair (3,2) payoffs wrong: %+v", agents)
	}
	if agents[1].Payoff != second.Payoff[0] || agents[0].Payoff != second.Payoff[1] {
		t.Fatalf("pair (1,0) payoffs wrong: %+v", agents)
	}
}

func TestEngineObserverErrorStopsBatch(t *testing.T) {
	engine, err := NewEngine(testConfig())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	sinkErr := errors.New("disk full")
	calls := 0
	results, err := engine.Run(context.Background(), ObserverFunc(func(model.GenerationSummary) error {
		calls++
		if calls == 3 {
			return sinkErr
		}
		return nil
	}))
	if !errors.Is(err, sinkErr) {
		t.Fatalf("expected sink error, got %v", err)
	}
	if len(results) != 0 || calls != 3 {
		t.Fatalf("expected batch to stop at third generation: results=%d calls=%d", len(results), calls)
	}
}

func TestEngineHonoursCanceledContext(t *testing.T) {
	engine, err := NewEngine(testConfig())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := engine.Run(ctx, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestMultiObserverOrderAndNilSkip(t *testing.T) {
	var order []string
	multi := MultiObserver{
		ObserverFunc(func(model.GenerationSummary) error { order = append(order, "a"); return nil }),
		nil,
		ObserverFunc(func(model.GenerationSummary) error { order = append(order, "b"); return nil }),
	}
	if err := multi.ObserveGeneration(model.GenerationSummary{}); err != nil {
		t.Fatalf("observe: %v", err)
	}
	if !reflect.DeepEqual(order, []string{"a", "b"}) {
		t.Fatalf("unexpected order: %v", order)
	}
}

func TestFinalSummaryTiesPickFirstAgent(t *testing.T) {
	agents := []model.Agent{
		{Strategy: model.Defect, TotalWinnings: 10, TotalReputation: 1},
		{Strategy: model.Cooperate, TotalWinnings: 12, TotalReputation: 3},
		{Strategy: model.Defect, TotalWinnings: 12, TotalReputation: 3},
		{Strategy: model.Cooperate, TotalWinnings: 4, TotalReputation: -2},
	}
	summary := FinalSummaryOf(agents, 4, true)
	if summary.MostPayoff.Index != 1 || summary.MostPayoff.Strategy != model.Cooperate {
		t.Fatalf("most payoff: %+v", summary.MostPayoff)
	}
	if summary.BestAverage.Index != 1 || summary.BestAverage.AveragePayoff != 3 {
		t.Fatalf("best average: %+v", summary.BestAverage)
	}
	if summary.MostReputation == nil || summary.MostReputation.Index != 1 || summary.MostReputation.TotalReputation != 3 {
		t.Fatalf("most reputation: %+v", summary.MostReputation)
	}

	classic := FinalSummaryOf(agents, 4, false)
	if classic.MostReputation != nil {
		t.Fatal("classic mode should not report reputation")
	}
}

func TestFinalSummaryAllEqualPicksIndexZero(t *testing.T) {
	agents := make([]model.Agent, 5)
	summary := FinalSummaryOf(agents, 10, true)
	if summary.MostPayoff.Index != 0 || summary.BestAverage.Index != 0 || summary.MostReputation.Index != 0 {
		t.Fatalf("expected index 0 everywhere: %+v", summary)
	}
}
