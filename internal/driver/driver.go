// Package driver runs a worker's whole campaign: repeated rounds of prepare,
// the three campaign streams and the fleet barrier until no work remains,
// followed by the vortex anneals.
package driver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/seantiz/xyfleet/internal/engine"
	"github.com/seantiz/xyfleet/internal/model"
	"github.com/seantiz/xyfleet/internal/physics"
	"github.com/seantiz/xyfleet/internal/store"
	"github.com/seantiz/xyfleet/internal/tasks"
)

// Driver owns one worker's stream adapters.
type Driver struct {
	store    store.Store
	engine   *engine.Engine
	campaign model.Campaign
	logger   *slog.Logger

	simulation  *tasks.Simulation
	bootstrap   *tasks.Bootstrap
	derivatives *tasks.Derivatives
	vortices    *tasks.Vortices
}

// Option configures a Driver.
type Option func(*settings)

type settings struct {
	kernels  *physics.Registry
	schedule tasks.VortexSchedule
	rand     tasks.RandSource
}

// WithKernels replaces the default physics kernels.
func WithKernels(r *physics.Registry) Option {
	return func(s *settings) { s.kernels = r }
}

// WithVortexSchedule replaces the default anneal schedule.
func WithVortexSchedule(v tasks.VortexSchedule) Option {
	return func(s *settings) { s.schedule = v }
}

// WithRand replaces the per-task generator source.
func WithRand(r tasks.RandSource) Option {
	return func(s *settings) { s.rand = r }
}

// New wires the four streams of a campaign to the store and engine.
func New(s store.Store, e *engine.Engine, c model.Campaign, logger *slog.Logger, opts ...Option) *Driver {
	cfg := settings{
		kernels:  physics.DefaultRegistry(),
		schedule: tasks.DefaultVortexSchedule,
		rand:     tasks.NewRand,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	id := c.SimulationID
	return &Driver{
		store:       s,
		engine:      e,
		campaign:    c,
		logger:      logger,
		simulation:  tasks.NewSimulation(s, id, cfg.kernels, cfg.rand, logger),
		bootstrap:   tasks.NewBootstrap(s, id, cfg.rand, logger),
		derivatives: tasks.NewDerivatives(s, id, logger),
		vortices:    tasks.NewVortices(s, id, cfg.kernels, cfg.schedule, cfg.rand, logger),
	}
}

// Run blocks until this worker finds no campaign work left and every
// vortex job it could claim is saved.
func (d *Driver) Run(ctx context.Context) error {
	for round := 1; ; round++ {
		work, err := d.store.Prepare(ctx, d.campaign)
		if err != nil {
			return fmt.Errorf("prepare round %d: %w", round, err)
		}
		if !work {
			d.logger.Info("campaign complete", "simulation_id", d.campaign.SimulationID, "rounds", round-1)
			if err := d.store.FinishRounds(ctx); err != nil {
				return fmt.Errorf("finish rounds: %w", err)
			}
			break
		}
		d.logger.Info("starting round", "round", round, "simulation_id", d.campaign.SimulationID)

		if err := d.runRound(ctx); err != nil {
			return fmt.Errorf("round %d: %w", round, err)
		}
		if err := d.store.SynchronizeWorkers(ctx); err != nil {
			return fmt.Errorf("synchronize after round %d: %w", round, err)
		}
	}

	if _, err := engine.Run(ctx, d.engine, d.vortices); err != nil {
		return fmt.Errorf("vortices: %w", err)
	}
	return nil
}

func (d *Driver) runRound(ctx context.Context) error {
	if _, err := engine.Run(ctx, d.engine, d.simulation); err != nil {
		return err
	}
	if _, err := engine.Run(ctx, d.engine, d.bootstrap); err != nil {
		return err
	}
	if _, err := engine.Run(ctx, d.engine, d.derivatives); err != nil {
		return err
	}
	return nil
}
