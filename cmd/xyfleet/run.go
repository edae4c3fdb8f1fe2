package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/seantiz/xyfleet/internal/api"
	"github.com/seantiz/xyfleet/internal/config"
	"github.com/seantiz/xyfleet/internal/driver"
	"github.com/seantiz/xyfleet/internal/engine"
	"github.com/seantiz/xyfleet/internal/observability"
	"github.com/seantiz/xyfleet/internal/physics"
	"github.com/seantiz/xyfleet/internal/store"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Join the campaign and work until nothing is left",
	RunE:  runWorker,
}

func init() {
	runCmd.Flags().StringVar(&cfg.CampaignPath, "campaign", cfg.CampaignPath, "Campaign YAML file (env XYFLEET_CAMPAIGN)")
	runCmd.Flags().StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "Status server address; empty disables it (env XYFLEET_LISTEN_ADDR)")
	runCmd.Flags().IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "Worker goroutines; 0 uses every CPU (env XYFLEET_CONCURRENCY)")
	runCmd.Flags().BoolVar(&cfg.OTelEnabled, "otel-enabled", cfg.OTelEnabled, "Enable OpenTelemetry tracing (env XYFLEET_OTEL_ENABLED)")
	runCmd.Flags().StringVar(&cfg.OTelEndpoint, "otel-endpoint", cfg.OTelEndpoint, "OTLP HTTP endpoint (host:port); empty exports to stderr (env XYFLEET_OTEL_ENDPOINT)")
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	campaign, err := config.LoadCampaign(cfg.CampaignPath)
	if err != nil {
		return err
	}

	s, err := store.Open(ctx, cfg.DSN, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	hostname, _ := os.Hostname()
	shutdownTracer, err := observability.InitTracer(ctx, observability.TracerOptions{
		Enabled:  cfg.OTelEnabled,
		Endpoint: cfg.OTelEndpoint,
		Writer:   os.Stderr,
		WorkerID: s.WorkerID(),
		Hostname: hostname,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Warn("tracer shutdown", "error", err)
		}
	}()

	kernels := physics.DefaultRegistry()
	e := engine.New(s, logger, engine.WithConcurrency(cfg.Concurrency))

	logger.Info("xyfleet: starting",
		"simulation_id", campaign.SimulationID,
		"worker_id", s.WorkerID(),
		"concurrency", e.Concurrency(),
		"listen_addr", cfg.ListenAddr,
	)

	var wg sync.WaitGroup
	serverCtx, stopServer := context.WithCancel(ctx)
	defer func() {
		stopServer()
		wg.Wait()
	}()
	if cfg.ListenAddr != "" {
		srv := api.NewServer(cfg.ListenAddr, s, kernels, campaign.SimulationID, logger)
		wg.Go(func() {
			if err := srv.Run(serverCtx); err != nil {
				logger.Error("status server", "error", err)
			}
		})
	}

	if err := driver.New(s, e, campaign, logger, driver.WithKernels(kernels)).Run(ctx); err != nil {
		return err
	}
	logger.Info("xyfleet: done", "simulation_id", campaign.SimulationID)
	return nil
}
