package evo

import (
	"fmt"
	"math/rand"

	"staghunt/internal/model"
)

// RevisionRule decides whether agent a copies the strategy of sampled agent r.
type RevisionRule interface {
	Name() string
	Imitate(a, r model.Agent) bool
}

// ClassicRule imitates a strictly better last-generation payoff.
type ClassicRule struct{}

func (ClassicRule) Name() string {
	return "classic"
}

func (ClassicRule) Imitate(a, r model.Agent) bool {
	return r.Payoff > a.Payoff
}

// ReputationRule additionally requires the sampled agent's accumulated
// reputation to be positive.
type ReputationRule struct{}

func (ReputationRule) Name() string {
	return "reputation"
}

func (ReputationRule) Imitate(a, r model.Agent) bool {
	return r.Payoff > a.Payoff && r.TotalReputation > 0
}

func RuleFor(reputationMode bool) RevisionRule {
	if reputationMode {
		return ReputationRule{}
	}
	return ClassicRule{}
}

// UpdateMode selects which strategies a revision pass reads.
type UpdateMode string

const (
	// UpdateSynchronous reads the strategies held before the pass started.
	UpdateSynchronous UpdateMode = "synchronous"
	// UpdateSequential reads live strategies, so an agent revised earlier in
	// the pass can pass its new strategy on.
	UpdateSequential UpdateMode = "sequential"
)

func ParseUpdateMode(name string) (UpdateMode, error) {
	switch UpdateMode(name) {
	case "", UpdateSynchronous:
		return UpdateSynchronous, nil
	case UpdateSequential:
		return UpdateSequential, nil
	default:
		return "", fmt.Errorf("%w: unsupported update mode: %s", ErrInvalidConfig, name)
	}
}

// Revise runs one imitation pass in population order. Each agent draws a
// uniform float; below e it samples a partner with replacement (possibly
// itself) and consults the rule. Payoffs and totals are never written here.
// It returns the number of agents whose strategy changed.
func (p *Population) Revise(rng *rand.Rand, e float64, rule RevisionRule, mode UpdateMode) (int, error) {
	if rng == nil {
		return 0, fmt.Errorf("random source is required")
	}
	if rule == nil {
		return 0, fmt.Errorf("revision rule is required")
	}
	if !(e >= 0 && e <= 1) {
		return 0, fmt.Errorf("%w: revision probability must be in [0,1], got %v", ErrInvalidConfig, e)
	}

	n := len(p.Agents)
	var before []model.Strategy
	if mode != UpdateSequential {
		before = p.Strategies()
	}

	changed := 0
	for i := range p.Agents {
		if rng.Float64() >= e {
			continue
		}
		r := rng.Intn(n)
		if !rule.Imitate(p.Agents[i], p.Agents[r]) {
			continue
		}
		next := p.Agents[r].Strategy
		if before != nil {
			next = before[r]
		}
		if p.Agents[i].Strategy != next {
			changed++
		}
		p.Agents[i].Strategy = next
	}
	return changed, nil
}
