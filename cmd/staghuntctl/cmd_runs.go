package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"staghunt/pkg/staghunt"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			client, err := newClient(cmd, cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			limit, _ := cmd.Flags().GetInt("limit")
			batchID, _ := cmd.Flags().GetString("batch")
			items, err := client.Runs(cmd.Context(), staghunt.RunsRequest{Limit: limit, BatchID: batchID})
			if err != nil {
				return err
			}
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(items)
			}
			printRunItems(cmd.OutOrStdout(), items, time.Now())
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "maximum runs to list")
	cmd.Flags().String("batch", "", "only list runs from this batch id")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Print the generation summaries of a run as CSV",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			client, err := newClient(cmd, cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			req := staghunt.HistoryRequest{}
			if len(args) == 1 {
				req.RunID = args[0]
			}
			req.Latest, _ = cmd.Flags().GetBool("latest")
			req.Limit, _ = cmd.Flags().GetInt("limit")
			history, err := client.History(cmd.Context(), req)
			if err != nil {
				return err
			}
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(history)
			}
			return printHistory(cmd.OutOrStdout(), history)
		},
	}
	cmd.Flags().Bool("latest", false, "use the most recent run")
	cmd.Flags().Int("limit", 0, "maximum generations to print (0 = all)")
	return cmd
}

func newFinalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "final [run-id]",
		Short: "Print the final agent summary of a run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			client, err := newClient(cmd, cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			runID := ""
			if len(args) == 1 {
				runID = args[0]
			}
			latest, _ := cmd.Flags().GetBool("latest")
			final, err := client.Final(cmd.Context(), runID, latest)
			if err != nil {
				return err
			}
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(final)
			}
			p := &consolePrinter{out: cmd.OutOrStdout(), labels: cfg.Labels, reputationMode: final.MostReputation != nil}
			p.finalSummary(final)
			return nil
		},
	}
	cmd.Flags().Bool("latest", false, "use the most recent run")
	return cmd
}

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export [run-id]",
		Short: "Copy a run's artifacts into the exports directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			client, err := newClient(cmd, cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			req := staghunt.ExportRequest{}
			if len(args) == 1 {
				req.RunID = args[0]
			}
			req.Latest, _ = cmd.Flags().GetBool("latest")
			req.OutDir, _ = cmd.Flags().GetString("out")
			exported, err := client.Export(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported run_id=%s dir=%s\n", exported.RunID, exported.Directory)
			return nil
		},
	}
	cmd.Flags().Bool("latest", false, "export the most recent run")
	cmd.Flags().String("out", "", "export directory (defaults to --exports-dir)")
	return cmd
}
