package model

import (
	"fmt"
	"strings"
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Strategy is one of the two behavioral variants an agent can hold.
type Strategy uint8

const (
	Cooperate Strategy = iota
	Defect
)

// Strategies lists the complete strategy set in declaration order.
var Strategies = [...]Strategy{Cooperate, Defect}

func (s Strategy) Valid() bool {
	return s == Cooperate || s == Defect
}

func (s Strategy) String() string {
	return DefaultLabels().Name(s)
}

func (s Strategy) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid strategy: %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Strategy) UnmarshalText(text []byte) error {
	parsed, err := DefaultLabels().Parse(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Labels names the two strategies for display. The engine never reads them.
type Labels struct {
	Cooperate string `json:"cooperate" yaml:"cooperate"`
	Defect    string `json:"defect" yaml:"defect"`
}

func DefaultLabels() Labels {
	return Labels{Cooperate: "Cooperate", Defect: "Defect"}
}

func (l Labels) Name(s Strategy) string {
	switch s {
	case Cooperate:
		if l.Cooperate == "" {
			return "Cooperate"
		}
		return l.Cooperate
	case Defect:
		if l.Defect == "" {
			return "Defect"
		}
		return l.Defect
	default:
		return fmt.Sprintf("Strategy(%d)", uint8(s))
	}
}

// Parse resolves a label (or the canonical name) back to a strategy.
func (l Labels) Parse(name string) (Strategy, error) {
	for _, s := range Strategies {
		if strings.EqualFold(name, l.Name(s)) || strings.EqualFold(name, DefaultLabels().Name(s)) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown strategy label: %q", name)
}

// Agent is one member of the population. Identity is its index; only Strategy
// moves between agents during revision.
type Agent struct {
	Strategy        Strategy `json:"strategy"`
	Payoff          float64  `json:"payoff"`
	Reputation      float64  `json:"reputation"`
	TotalWinnings   float64  `json:"total_winnings"`
	TotalReputation float64  `json:"total_reputation"`
	Matched         bool     `json:"matched"`
}

type GenerationSummary struct {
	Run                 int     `json:"run"`
	Generation          int     `json:"generation"`
	CooperateCount      int     `json:"cooperate_count"`
	DefectCount         int     `json:"defect_count"`
	CooperateProportion float64 `json:"cooperate_proportion"`
	AveragePayoff       float64 `json:"average_payoff"`
	Unmatched           int     `json:"unmatched"`
}

type AgentRecord struct {
	Index           int      `json:"index"`
	Strategy        Strategy `json:"strategy"`
	TotalPayoff     float64  `json:"total_payoff"`
	TotalReputation float64  `json:"total_reputation"`
	AveragePayoff   float64  `json:"average_payoff"`
}

type FinalSummary struct {
	MostPayoff     AgentRecord  `json:"most_payoff"`
	BestAverage    AgentRecord  `json:"best_average"`
	MostReputation *AgentRecord `json:"most_reputation,omitempty"`
}

type RunConfig struct {
	PopulationSize        int     `json:"population_size"`
	InitialCooperateRatio float64 `json:"initial_cooperate_ratio"`
	RevisionProbability   float64 `json:"revision_probability"`
	Generations           int     `json:"generations"`
	Runs                  int     `json:"runs"`
	ReputationMode        bool    `json:"reputation_mode"`
	UnmatchedPolicy       string  `json:"unmatched_policy"`
	UpdateMode            string  `json:"update_mode"`
	Seed                  int64   `json:"seed"`
	Labels                Labels  `json:"labels"`
}

type RunRecord struct {
	VersionedRecord
	ID           string            `json:"id"`
	BatchID      string            `json:"batch_id"`
	RunIndex     int               `json:"run_index"`
	Seed         int64             `json:"seed"`
	Config       RunConfig         `json:"config"`
	Final        FinalSummary      `json:"final"`
	Last         GenerationSummary `json:"last"`
	ElapsedMS    int64             `json:"elapsed_ms"`
	CreatedAtUTC string            `json:"created_at_utc"`
}

// PopulationSnapshot is the final agent state of one run.
type PopulationSnapshot struct {
	VersionedRecord
	ID         string  `json:"id"`
	RunID      string  `json:"run_id"`
	Generation int     `json:"generation"`
	Agents     []Agent `json:"agents"`
}
