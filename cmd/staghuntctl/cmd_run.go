package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"staghunt/internal/config"
	"staghunt/internal/evo"
	"staghunt/internal/stream"
	"staghunt/pkg/staghunt"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a batch of simulations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := applySimulationFlags(cmd.Flags(), cfg); err != nil {
				return err
			}
			return simulate(cmd, cfg)
		},
	}
	addSimulationFlags(cmd.Flags())
	return cmd
}

func addSimulationFlags(fs *pflag.FlagSet) {
	defaults := config.Default().Simulation
	fs.Int("population", defaults.PopulationSize, "population size")
	fs.Float64("initial-ratio", defaults.InitialCooperateRatio, "initial cooperate ratio in [0,1]")
	fs.Float64("revision-probability", defaults.RevisionProbability, "revision probability e in [0,1]")
	fs.Int("generations", defaults.Generations, "generations per run")
	fs.Int("runs", defaults.Runs, "independent runs")
	fs.Bool("reputation", defaults.ReputationMode, "use the reputation revision rule")
	fs.String("unmatched", defaults.UnmatchedPolicy, "odd-population policy: stale|exclude")
	fs.String("update-mode", defaults.UpdateMode, "revision update mode: synchronous|sequential")
	fs.Int64("seed", defaults.Seed, "batch seed; 0 seeds from the clock")
	fs.String("cooperate-label", "", "display name for the cooperate strategy")
	fs.String("defect-label", "", "display name for the defect strategy")
	fs.String("csv", "", "write every generation summary to this CSV file")
	fs.String("listen", "", "serve live summaries over websocket at this address (path /ws)")
	fs.Bool("quiet", false, "print only per-run results")
}

// applySimulationFlags overrides cfg with explicitly set flags only.
func applySimulationFlags(fs *pflag.FlagSet, cfg *config.Config) error {
	s := &cfg.Simulation
	var err error
	set := func(name string, apply func() error) {
		if err == nil && fs.Changed(name) {
			err = apply()
		}
	}
	set("population", func() (e error) { s.PopulationSize, e = fs.GetInt("population"); return })
	set("initial-ratio", func() (e error) { s.InitialCooperateRatio, e = fs.GetFloat64("initial-ratio"); return })
	set("revision-probability", func() (e error) { s.RevisionProbability, e = fs.GetFloat64("revision-probability"); return })
	set("generations", func() (e error) { s.Generations, e = fs.GetInt("generations"); return })
	set("runs", func() (e error) { s.Runs, e = fs.GetInt("runs"); return })
	set("reputation", func() (e error) { s.ReputationMode, e = fs.GetBool("reputation"); return })
	set("unmatched", func() (e error) { s.UnmatchedPolicy, e = fs.GetString("unmatched"); return })
	set("update-mode", func() (e error) { s.UpdateMode, e = fs.GetString("update-mode"); return })
	set("seed", func() (e error) { s.Seed, e = fs.GetInt64("seed"); return })
	set("cooperate-label", func() (e error) { cfg.Labels.Cooperate, e = fs.GetString("cooperate-label"); return })
	set("defect-label", func() (e error) { cfg.Labels.Defect, e = fs.GetString("defect-label"); return })
	set("csv", func() (e error) { cfg.Output.CSVPath, e = fs.GetString("csv"); return })
	set("listen", func() (e error) { cfg.Output.Listen, e = fs.GetString("listen"); return })
	set("quiet", func() (e error) { cfg.Output.Quiet, e = fs.GetBool("quiet"); return })
	return err
}

func simulate(cmd *cobra.Command, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	client, err := newClient(cmd, cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	out := cmd.OutOrStdout()
	printer := &consolePrinter{
		out:            out,
		labels:         cfg.Labels,
		reputationMode: cfg.Simulation.ReputationMode,
		generations:    cfg.Simulation.Generations,
		quiet:          cfg.Output.Quiet,
	}
	observers := evo.MultiObserver{printer}
	onRun := []func(staghunt.RunSummary) error{printer.runComplete}

	if cfg.Output.Listen != "" {
		hub, shutdown, err := serveStream(cmd.Context(), cfg.Output.Listen, out, newLogger(cfg, cmd.ErrOrStderr()))
		if err != nil {
			return err
		}
		defer shutdown()
		observers = append(observers, hub)
		onRun = append(onRun, func(run staghunt.RunSummary) error {
			return hub.PublishRun(run.Record)
		})
	}

	started := time.Now()
	batch, err := client.Run(cmd.Context(), staghunt.RunRequest{
		Config:   cfg,
		Observer: observers,
		OnRunComplete: func(run staghunt.RunSummary) error {
			for _, fn := range onRun {
				if err := fn(run); err != nil {
					return err
				}
			}
			return nil
		},
	})
	if err != nil {
		return err
	}
	printer.batchComplete(batch, time.Since(started))
	return nil
}

func serveStream(ctx context.Context, addr string, out io.Writer, logger *slog.Logger) (*stream.Hub, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	hub := stream.NewHub(logger)
	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("stream server stopped", "error", err)
		}
	}()
	fmt.Fprintf(out, "streaming generation summaries on ws://%s/ws\n", ln.Addr())

	shutdown := func() {
		_ = hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	return hub, shutdown, nil
}
