package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/seantiz/xyfleet/internal/model"
	"github.com/seantiz/xyfleet/internal/store"
)

var (
	simulationIDFlag int64
	jsonOutput       bool
)

var progressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Show how far a simulation has advanced",
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := store.Open(cmd.Context(), cfg.DSN, logger, store.WithoutRegistration())
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer s.Close()

		p, err := s.Progress(cmd.Context(), simulationIDFlag)
		if err != nil {
			return fmt.Errorf("simulation %d: %w", simulationIDFlag, err)
		}
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), p)
		}
		return printProgress(cmd.OutOrStdout(), p)
	},
}

var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "List registered workers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := store.Open(cmd.Context(), cfg.DSN, logger, store.WithoutRegistration())
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer s.Close()

		workers, err := s.ListWorkers(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), workers)
		}
		return printWorkers(cmd.OutOrStdout(), workers, time.Now())
	},
}

func init() {
	progressCmd.Flags().Int64Var(&simulationIDFlag, "simulation-id", 1, "Simulation to report on")
	for _, c := range []*cobra.Command{progressCmd, workersCmd} {
		c.Flags().BoolVar(&jsonOutput, "json", false, "Print JSON instead of a table")
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printProgress(w io.Writer, p *model.Progress) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "simulation\t%d\n", p.SimulationID)
	fmt.Fprintf(tw, "configurations\t%d\n", p.Configurations)
	fmt.Fprintf(tw, "complete\t%d\n", p.Complete)
	fmt.Fprintf(tw, "leased\t%d\n", p.Leased)
	fmt.Fprintf(tw, "depth\t%d\n", p.MaxDepth)
	fmt.Fprintf(tw, "chunks\t%d\n", p.Chunks)
	fmt.Fprintf(tw, "estimates\t%d\n", p.Estimates)
	fmt.Fprintf(tw, "vortices\t%d/%d\n", p.VortexDone, p.VortexJobs)
	return tw.Flush()
}

func printWorkers(w io.Writer, workers []model.Worker, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tHOST\tLIVE\tSYNC\tROUND\tLAST SEEN")
	for _, wk := range workers {
		round := strconv.FormatInt(wk.Round, 10)
		if wk.Finished {
			round = "done"
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%t\t%s\t%s ago\n",
			wk.ID, wk.Hostname, wk.Live, wk.Synchronize, round, now.Sub(wk.LastActiveAt).Truncate(time.Second))
	}
	return tw.Flush()
}
