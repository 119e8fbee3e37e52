package stats

import (
	"math"

	"staghunt/internal/model"
)

// Moments summarizes one scalar across runs.
type Moments struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

type BatchSummary struct {
	Runs                     int     `json:"runs"`
	FinalCooperateProportion Moments `json:"final_cooperate_proportion"`
	FinalAveragePayoff       Moments `json:"final_average_payoff"`
	// CooperateTakeover counts runs that ended with every agent cooperating.
	CooperateTakeover int `json:"cooperate_takeover"`
	DefectTakeover    int `json:"defect_takeover"`
	// CooperateTrajectory is the per-generation mean cooperate proportion.
	CooperateTrajectory []float64 `json:"cooperate_trajectory,omitempty"`
}

// SummarizeBatch aggregates the last generation of each run.
func SummarizeBatch(lastByRun []model.GenerationSummary) BatchSummary {
	summary := BatchSummary{Runs: len(lastByRun)}
	if len(lastByRun) == 0 {
		return summary
	}
	proportions := make([]float64, len(lastByRun))
	payoffs := make([]float64, len(lastByRun))
	for i, last := range lastByRun {
		proportions[i] = last.CooperateProportion
		payoffs[i] = last.AveragePayoff
		if last.DefectCount == 0 {
			summary.CooperateTakeover++
		}
		if last.CooperateCount == 0 {
			summary.DefectTakeover++
		}
	}
	summary.FinalCooperateProportion = moments(proportions)
	summary.FinalAveragePayoff = moments(payoffs)
	return summary
}

// MeanTrajectory averages the cooperate proportion per generation across
// runs. Runs shorter than the longest contribute only to their generations.
func MeanTrajectory(runs [][]model.GenerationSummary) []float64 {
	longest := 0
	for _, run := range runs {
		if len(run) > longest {
			longest = len(run)
		}
	}
	sums := make([]float64, longest)
	counts := make([]int, longest)
	for _, run := range runs {
		for i, s := range run {
			sums[i] += s.CooperateProportion
			counts[i]++
		}
	}
	for i := range sums {
		if counts[i] > 0 {
			sums[i] /= float64(counts[i])
		}
	}
	return sums
}

func moments(values []float64) Moments {
	if len(values) == 0 {
		return Moments{}
	}
	m := Moments{Min: values[0], Max: values[0]}
	total := 0.0
	for _, v := range values {
		total += v
		m.Min = math.Min(m.Min, v)
		m.Max = math.Max(m.Max, v)
	}
	m.Mean = total / float64(len(values))
	variance := 0.0
	for _, v := range values {
		d := v - m.Mean
		variance += d * d
	}
	m.Std = math.Sqrt(variance / float64(len(values)))
	return m
}
