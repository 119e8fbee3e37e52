// Package game holds the payoff and reputation table of the two-strategy game.
package game

import (
	"errors"
	"fmt"

	"staghunt/internal/model"
)

var (
	ErrMissingEntry    = errors.New("missing matrix entry")
	ErrUnknownStrategy = errors.New("unknown strategy")
)

// Pair is an ordered strategy pair; A is the first agent of a match.
type Pair struct {
	A model.Strategy
	B model.Strategy
}

func (p Pair) String() string {
	return p.A.String() + "/" + p.B.String()
}

// Outcome is what one ordered pair yields. Index 0 goes to the first agent.
type Outcome struct {
	Payoff     [2]float64 `json:"payoff" yaml:"payoff"`
	Reputation [2]float64 `json:"reputation" yaml:"reputation"`
}

// Matrix is an immutable lookup over all four ordered pairs.
type Matrix struct {
	entries [2][2]Outcome
	built   bool
}

// NewMatrix builds a matrix and requires an entry for every ordered pair.
func NewMatrix(entries map[Pair]Outcome) (Matrix, error) {
	var m Matrix
	for pair := range entries {
		if !pair.A.Valid() || !pair.B.Valid() {
			return Matrix{}, fmt.Errorf("%w in pair (%d,%d)", ErrUnknownStrategy, pair.A, pair.B)
		}
	}
	for _, a := range model.Strategies {
		for _, b := range model.Strategies {
			outcome, ok := entries[Pair{A: a, B: b}]
			if !ok {
				return Matrix{}, fmt.Errorf("%w: %s", ErrMissingEntry, Pair{A: a, B: b})
			}
			m.entries[a][b] = outcome
		}
	}
	m.built = true
	return m, nil
}

// DefaultEntries returns the compromise-wins table.
func DefaultEntries() map[Pair]Outcome {
	return map[Pair]Outcome{
		{A: model.Cooperate, B: model.Cooperate}: {Payoff: [2]float64{4, 4}, Reputation: [2]float64{1, 1}},
		{A: model.Cooperate, B: model.Defect}:    {Payoff: [2]float64{0, 3}, Reputation: [2]float64{-0.5, 0.5}},
		{A: model.Defect, B: model.Cooperate}:    {Payoff: [2]float64{3, 0}, Reputation: [2]float64{0.5, -0.5}},
		{A: model.Defect, B: model.Defect}:       {Payoff: [2]float64{2, 2}, Reputation: [2]float64{0, 0}},
	}
}

func DefaultMatrix() Matrix {
	m, err := NewMatrix(DefaultEntries())
	if err != nil {
		panic(err)
	}
	return m
}

// Valid reports whether m came from NewMatrix. The zero Matrix has no entries.
func (m Matrix) Valid() bool {
	return m.built
}

// Lookup returns the outcome for (a, b). Only out-of-range strategies fail.
func (m Matrix) Lookup(a, b model.Strategy) (Outcome, error) {
	if !a.Valid() || !b.Valid() {
		return Outcome{}, fmt.Errorf("%w in pair (%d,%d)", ErrUnknownStrategy, a, b)
	}
	return m.entries[a][b], nil
}

// Entries returns a copy of the table keyed by ordered pair.
func (m Matrix) Entries() map[Pair]Outcome {
	out := make(map[Pair]Outcome, 4)
	for _, a := range model.Strategies {
		for _, b := range model.Strategies {
			out[Pair{A: a, B: b}] = m.entries[a][b]
		}
	}
	return out
}

// WithoutReputation returns a copy whose reputation components are zero.
func (m Matrix) WithoutReputation() Matrix {
	out := m
	for _, a := range model.Strategies {
		for _, b := range model.Strategies {
			out.entries[a][b].Reputation = [2]float64{}
		}
	}
	return out
}
