package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"staghunt/internal/config"
	"staghunt/internal/logging"
	"staghunt/pkg/staghunt"
)

var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "staghuntctl",
		Short: "Stag Hunt evolutionary simulation",
		Long: `staghuntctl simulates a population playing the Stag Hunt game.

Each generation agents are paired at random, paid from the game matrix,
and may imitate a randomly sampled agent that earned more.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "", "YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "log level: info|debug|trace|warn|error")
	rootCmd.PersistentFlags().String("store", "", "store backend: memory|sqlite")
	rootCmd.PersistentFlags().String("db-path", "", "sqlite database path")
	rootCmd.PersistentFlags().String("artifacts-dir", "", "directory for run artifacts")
	rootCmd.PersistentFlags().String("exports-dir", "exports", "directory for exported runs")
	rootCmd.PersistentFlags().Bool("json", false, "output as JSON")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newPromptCmd(),
		newRunsCmd(),
		newHistoryCmd(),
		newFinalCmd(),
		newExportCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{
					"version": version,
					"commit":  commit,
					"date":    date,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "staghuntctl version %s (commit: %s, built: %s)\n", version, commit, date)
			return nil
		},
	}
}

// loadConfig layers the persistent flags over defaults, file and environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Logging.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("store") {
		cfg.Storage.Kind, _ = flags.GetString("store")
	}
	if flags.Changed("db-path") {
		cfg.Storage.Path, _ = flags.GetString("db-path")
	}
	if flags.Changed("artifacts-dir") {
		cfg.Output.ArtifactsDir, _ = flags.GetString("artifacts-dir")
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	return logging.NewLogger(cfg.Logging.Level, w)
}

func newClient(cmd *cobra.Command, cfg *config.Config) (*staghunt.Client, error) {
	exportsDir, _ := cmd.Flags().GetString("exports-dir")
	return staghunt.New(staghunt.Options{
		StoreKind:    cfg.Storage.Kind,
		DBPath:       cfg.Storage.Path,
		ArtifactsDir: cfg.Output.ArtifactsDir,
		ExportsDir:   exportsDir,
		Logger:       newLogger(cfg, cmd.ErrOrStderr()),
	})
}
