package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"staghunt/internal/model"
	"staghunt/internal/stats"
	"staghunt/pkg/staghunt"
)

// consolePrinter renders progress in the classic console layout.
type consolePrinter struct {
	out            io.Writer
	labels         model.Labels
	reputationMode bool
	generations    int
	quiet          bool
}

func printBanner(out io.Writer) {
	fmt.Fprintln(out, "Stag Hunt Evolutionary Simulation")
	fmt.Fprintln(out, "---------------------------------")
}

func (p *consolePrinter) ObserveGeneration(s model.GenerationSummary) error {
	if s.Generation == 1 {
		fmt.Fprintf(p.out, "\nSimulation Run %d:\n", s.Run)
	}
	if p.quiet {
		return nil
	}
	fmt.Fprintf(p.out, "Run %d, Generation %d:\n", s.Run, s.Generation)
	fmt.Fprintf(p.out, "  %s Count: %d\n", p.labels.Name(model.Cooperate), s.CooperateCount)
	fmt.Fprintf(p.out, "  %s Count: %d\n", p.labels.Name(model.Defect), s.DefectCount)
	fmt.Fprintf(p.out, "  %s Proportion: %.2f\n", p.labels.Name(model.Cooperate), s.CooperateProportion)
	fmt.Fprintf(p.out, "  Average Payoff: %.2f\n", s.AveragePayoff)
	fmt.Fprintln(p.out)
	return nil
}

func (p *consolePrinter) runComplete(run staghunt.RunSummary) error {
	fmt.Fprintf(p.out, "  Time taken: %.2f seconds\n", run.Elapsed.Seconds())
	p.finalSummary(run.Final)
	return nil
}

func (p *consolePrinter) finalSummary(final model.FinalSummary) {
	if p.reputationMode && final.MostReputation != nil {
		r := final.MostReputation
		fmt.Fprintf(p.out, "Agent with the most reputation: Strategy = %s, Total Payoff = %s, Total Reputation = %s, Average Payoff = %.2f\n",
			p.labels.Name(r.Strategy), formatNumber(r.TotalPayoff), formatNumber(r.TotalReputation), r.AveragePayoff)
	}
	p.agentLine("Agent with the most total payoff", final.MostPayoff)
	p.agentLine("Agent with the best average payoff", final.BestAverage)
}

func (p *consolePrinter) agentLine(title string, r model.AgentRecord) {
	reputation := ""
	if p.reputationMode {
		reputation = "Reputation = " + formatNumber(r.TotalReputation) + ", "
	}
	fmt.Fprintf(p.out, "%s: Strategy = %s, Total Payoff = %s, %sAverage Payoff = %.2f\n",
		title, p.labels.Name(r.Strategy), formatNumber(r.TotalPayoff), reputation, r.AveragePayoff)
}

func (p *consolePrinter) batchComplete(batch staghunt.BatchResult, elapsed time.Duration) {
	if batch.Summary.Runs < 2 {
		return
	}
	s := batch.Summary
	fmt.Fprintf(p.out, "\nBatch %s: %d runs, %s generations in %s\n",
		batch.BatchID, s.Runs, humanize.Comma(int64(s.Runs*p.generations)), elapsed.Round(time.Millisecond))
	fmt.Fprintf(p.out, "  Final %s Proportion: mean %.2f, std %.2f, min %.2f, max %.2f\n",
		p.labels.Name(model.Cooperate), s.FinalCooperateProportion.Mean, s.FinalCooperateProportion.Std,
		s.FinalCooperateProportion.Min, s.FinalCooperateProportion.Max)
	fmt.Fprintf(p.out, "  Final Average Payoff: mean %.2f, std %.2f\n", s.FinalAveragePayoff.Mean, s.FinalAveragePayoff.Std)
	fmt.Fprintf(p.out, "  Takeovers: %s %d, %s %d\n",
		p.labels.Name(model.Cooperate), s.CooperateTakeover, p.labels.Name(model.Defect), s.DefectTakeover)
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func printRunItems(out io.Writer, items []staghunt.RunItem, now time.Time) {
	if len(items) == 0 {
		fmt.Fprintln(out, "no runs recorded")
		return
	}
	for _, item := range items {
		age := item.CreatedAtUTC
		if created, err := time.Parse(time.RFC3339Nano, item.CreatedAtUTC); err == nil {
			age = humanize.RelTime(created, now, "ago", "from now")
		}
		mode := "classic"
		if item.ReputationMode {
			mode = "reputation"
		}
		fmt.Fprintf(out, "%s run=%d batch=%s %s population=%s generations=%s e=%.2f final_cooperate=%.2f avg_payoff=%.2f seed=%d (%s)\n",
			item.RunID, item.RunIndex, item.BatchID, mode,
			humanize.Comma(int64(item.Population)), humanize.Comma(int64(item.Generations)),
			item.RevisionProbability, item.CooperateProportion, item.AveragePayoff, item.Seed, age)
	}
}

func printHistory(out io.Writer, history []model.GenerationSummary) error {
	sink := stats.NewCSVSink(out)
	for _, s := range history {
		if err := sink.ObserveGeneration(s); err != nil {
			return err
		}
	}
	return sink.Close()
}
