package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/seantiz/xyfleet/internal/config"
)

var (
	cfg    = config.Load()
	logger *slog.Logger

	dbFlag        string
	logLevelFlag  string
	logFormatFlag string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "xyfleet",
	Short:         "Distributed XY-model Monte Carlo worker",
	Long:          "Runs and inspects a Monte Carlo campaign shared by any number of workers through one database.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cmd.Flags().Changed("db") {
			cfg.DSN = dbFlag
		}
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = config.ParseLogLevel(logLevelFlag)
		}
		if cmd.Flags().Changed("log-format") {
			cfg.LogFormat = logFormatFlag
		}
		logger = config.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbFlag, "db", cfg.DSN, "Database: SQLite path or postgres:// URL (env XYFLEET_DB)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormatFlag, "log-format", cfg.LogFormat, "Log format (json, text)")

	rootCmd.AddCommand(runCmd, progressCmd, workersCmd)
}
