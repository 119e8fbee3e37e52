package evo

import (
	"fmt"
	"math/rand"

	"staghunt/internal/game"
	"staghunt/internal/model"
)

// Shuffler produces the match order for one generation. Implementations must
// return a permutation of [0, n).
type Shuffler interface {
	Permutation(n int) []int
}

// RandShuffler draws uniform permutations from a seeded source.
type RandShuffler struct {
	Rng *rand.Rand
}

func (s RandShuffler) Permutation(n int) []int {
	return s.Rng.Perm(n)
}

// UnmatchedPolicy decides how an agent left out of a generation's pairing
// counts toward that generation's mean payoff.
type UnmatchedPolicy string

const (
	// UnmatchedStale averages over every agent, reusing the stale payoff.
	UnmatchedStale UnmatchedPolicy = "stale"
	// UnmatchedExclude averages over matched agents only.
	UnmatchedExclude UnmatchedPolicy = "exclude"
)

func ParseUnmatchedPolicy(name string) (UnmatchedPolicy, error) {
	switch UnmatchedPolicy(name) {
	case "", UnmatchedStale:
		return UnmatchedStale, nil
	case UnmatchedExclude:
		return UnmatchedExclude, nil
	default:
		return "", fmt.Errorf("%w: unsupported unmatched policy: %s", ErrInvalidConfig, name)
	}
}

type Population struct {
	Agents []model.Agent
}

// NewPopulation draws each strategy independently: Cooperate with
// probability ratio, Defect otherwise.
func NewPopulation(rng *rand.Rand, size int, ratio float64) (*Population, error) {
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	if size < 2 {
		return nil, fmt.Errorf("%w: population size must be >= 2, got %d", ErrInvalidConfig, size)
	}
	if !(ratio >= 0 && ratio <= 1) {
		return nil, fmt.Errorf("%w: initial cooperate ratio must be in [0,1], got %v", ErrInvalidConfig, ratio)
	}
	agents := make([]model.Agent, size)
	for i := range agents {
		if rng.Float64() < ratio {
			agents[i].Strategy = model.Cooperate
		} else {
			agents[i].Strategy = model.Defect
		}
	}
	return &Population{Agents: agents}, nil
}

// PopulationOf builds a population with the given strategies and zeroed totals.
func PopulationOf(strategies ...model.Strategy) *Population {
	agents := make([]model.Agent, len(strategies))
	for i, s := range strategies {
		agents[i].Strategy = s
	}
	return &Population{Agents: agents}
}

func (p *Population) Size() int {
	return len(p.Agents)
}

// Play pairs agents in permutation order and assigns outcomes from the matrix.
// With an odd size the last permuted agent sits out and keeps its previous
// payoff and reputation.
func (p *Population) Play(matrix game.Matrix, shuffler Shuffler) error {
	n := len(p.Agents)
	order := shuffler.Permutation(n)
	if err := checkPermutation(order, n); err != nil {
		return err
	}

	for i := range p.Agents {
		p.Agents[i].Matched = false
	}
	for k := 0; k+1 < n; k += 2 {
		i, j := order[k], order[k+1]
		a, b := &p.Agents[i], &p.Agents[j]
		outcome, err := matrix.Lookup(a.Strategy, b.Strategy)
		if err != nil {
			return fmt.Errorf("match %d/%d: %w", i, j, err)
		}

		a.Payoff, b.Payoff = outcome.Payoff[0], outcome.Payoff[1]
		a.Reputation, b.Reputation = outcome.Reputation[0], outcome.Reputation[1]
		a.TotalWinnings += outcome.Payoff[0]
		b.TotalWinnings += outcome.Payoff[1]
		a.TotalReputation += outcome.Reputation[0]
		b.TotalReputation += outcome.Reputation[1]
		a.Matched, b.Matched = true, true
	}
	return nil
}

func checkPermutation(order []int, n int) error {
	if len(order) != n {
		return fmt.Errorf("shuffler returned %d indices for %d agents", len(order), n)
	}
	seen := make([]bool, n)
	for _, idx := range order {
		if idx < 0 || idx >= n || seen[idx] {
			return fmt.Errorf("shuffler returned invalid permutation %v", order)
		}
		seen[idx] = true
	}
	return nil
}

// Counts returns the number of Cooperate and Defect agents.
func (p *Population) Counts() (cooperate, defect int) {
	for _, a := range p.Agents {
		if a.Strategy == model.Cooperate {
			cooperate++
		} else {
			defect++
		}
	}
	return cooperate, defect
}

// Summary reports the state right after Play.
func (p *Population) Summary(run, generation int, policy UnmatchedPolicy) model.GenerationSummary {
	cooperate, defect := p.Counts()
	var (
		payoffSum float64
		counted   int
		unmatched int
	)
	for _, a := range p.Agents {
		if !a.Matched {
			unmatched++
			if policy == UnmatchedExclude {
				continue
			}
		}
		payoffSum += a.Payoff
		counted++
	}

	summary := model.GenerationSummary{
		Run:            run,
		Generation:     generation,
		CooperateCount: cooperate,
		DefectCount:    defect,
		Unmatched:      unmatched,
	}
	if n := len(p.Agents); n > 0 {
		summary.CooperateProportion = float64(cooperate) / float64(n)
	}
	if counted > 0 {
		summary.AveragePayoff = payoffSum / float64(counted)
	}
	return summary
}

// Strategies returns a copy of the strategy vector.
func (p *Population) Strategies() []model.Strategy {
	out := make([]model.Strategy, len(p.Agents))
	for i, a := range p.Agents {
		out[i] = a.Strategy
	}
	return out
}

// Snapshot returns a deep copy of the agents.
func (p *Population) Snapshot() []model.Agent {
	return append([]model.Agent(nil), p.Agents...)
}
