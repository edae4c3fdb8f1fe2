package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/seantiz/xyfleet/internal/model"
	"github.com/seantiz/xyfleet/internal/physics"
	"github.com/seantiz/xyfleet/internal/store"
)

// VortexSchedule shapes one anneal. The lattice starts ordered at T=1 and is
// thermalized there, then cooled through Steps evenly spaced temperatures
// from 1 towards 0 with SnapshotsPerStep single-sweep snapshots each, and
// finally held at the last temperature for Holds snapshots of HoldSweeps
// sweeps each.
type VortexSchedule struct {
	Thermalization   int
	Steps            int
	SnapshotsPerStep int
	Holds            int
	HoldSweeps       int
}

// DefaultVortexSchedule is the production anneal.
var DefaultVortexSchedule = VortexSchedule{
	Thermalization:   100000,
	Steps:            120,
	SnapshotsPerStep: 20,
	Holds:            2400,
	HoldSweeps:       200,
}

// Temperatures returns the cooling sequence, hottest first.
func (v VortexSchedule) Temperatures() []float64 {
	out := make([]float64, 0, v.Steps)
	for i := v.Steps; i >= 1; i-- {
		out = append(out, float64(i)/float64(v.Steps))
	}
	return out
}

// Vortices anneals one lattice per job and records its spin snapshots.
type Vortices struct {
	store        store.Store
	simulationID int64
	kernels      *physics.Registry
	schedule     VortexSchedule
	rand         RandSource
	logger       *slog.Logger
}

// NewVortices creates the vortex stream for a simulation.
func NewVortices(s store.Store, simulationID int64, kernels *physics.Registry, schedule VortexSchedule, rand RandSource, logger *slog.Logger) *Vortices {
	return &Vortices{store: s, simulationID: simulationID, kernels: kernels, schedule: schedule, rand: rand, logger: logger}
}

func (*Vortices) Name() string { return "vortices" }

func (v *Vortices) Next(ctx context.Context) (*model.VortexJob, bool, error) {
	job, err := v.store.ClaimNextVortex(ctx, v.simulationID)
	return job, job != nil, err
}

func (v *Vortices) Execute(ctx context.Context, job *model.VortexJob) ([]model.VortexSnapshot, error) {
	kernel, err := v.kernels.Resolve(model.AlgorithmMetropolis)
	if err != nil {
		return nil, err
	}
	lattice, err := physics.NewLattice(job.LatticeSize, 1, nil)
	if err != nil {
		return nil, fmt.Errorf("vortex job %d: %w", job.ID, err)
	}
	rng := v.rand()
	sched := v.schedule

	sweeps := sched.Thermalization
	if err := physics.Anneal(ctx, lattice, kernel, rng, sweeps); err != nil {
		return nil, err
	}

	snapshots := make([]model.VortexSnapshot, 0, sched.Steps*sched.SnapshotsPerStep+sched.Holds)
	temperature := 1.0
	for _, temperature = range sched.Temperatures() {
		lattice.SetTemperature(temperature)
		for range sched.SnapshotsPerStep {
			if err := physics.Anneal(ctx, lattice, kernel, rng, 1); err != nil {
				return nil, err
			}
			sweeps++
			snapshots = append(snapshots, model.VortexSnapshot{Temperature: temperature, Sweeps: sweeps, Spins: lattice.Spins()})
		}
	}

	for range sched.Holds {
		if err := physics.Anneal(ctx, lattice, kernel, rng, sched.HoldSweeps); err != nil {
			return nil, err
		}
		sweeps += sched.HoldSweeps
		snapshots = append(snapshots, model.VortexSnapshot{Temperature: temperature, Sweeps: sweeps, Spins: lattice.Spins()})
	}
	return snapshots, nil
}

func (v *Vortices) Save(ctx context.Context, job *model.VortexJob, start, end time.Time, snapshots []model.VortexSnapshot) error {
	err := v.store.SaveVortexSnapshots(ctx, job.ID, snapshots)
	if err == nil {
		v.logger.Info("vortex anneal saved",
			"vortex_id", job.ID,
			"lattice_size", job.LatticeSize,
			"snapshots", len(snapshots),
			"duration_ms", end.Sub(start).Milliseconds(),
		)
	}
	return discardLeaseLost(v.logger, v.Name(), err, "vortex_id", job.ID)
}
