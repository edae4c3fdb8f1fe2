package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/seantiz/xyfleet/internal/analysis"
	"github.com/seantiz/xyfleet/internal/model"
	"github.com/seantiz/xyfleet/internal/physics"
	"github.com/seantiz/xyfleet/internal/store"
)

// ChunkResult is the lattice state after a chunk and its processed series.
type ChunkResult struct {
	Spins       []float64
	Observables map[model.ObservableType]model.ObservableResult
}

// Simulation runs chunks of sweeps for configurations that still need them.
type Simulation struct {
	store        store.Store
	simulationID int64
	kernels      *physics.Registry
	rand         RandSource
	logger       *slog.Logger
}

// NewSimulation creates the chunk stream for a simulation.
func NewSimulation(s store.Store, simulationID int64, kernels *physics.Registry, rand RandSource, logger *slog.Logger) *Simulation {
	return &Simulation{store: s, simulationID: simulationID, kernels: kernels, rand: rand, logger: logger}
}

func (*Simulation) Name() string { return "simulation" }

func (s *Simulation) Next(ctx context.Context) (*model.ChunkTask, bool, error) {
	task, err := s.store.ClaimNextChunk(ctx, s.simulationID)
	return task, task != nil, err
}

// Execute resumes from the chunk's carried spins, runs its sweeps and
// post-processes every base series. Only the first chunk thermalizes and
// keeps its autocorrelation function.
func (s *Simulation) Execute(ctx context.Context, task *model.ChunkTask) (ChunkResult, error) {
	kernel, err := s.kernels.Resolve(task.Algorithm)
	if err != nil {
		return ChunkResult{}, err
	}
	lattice, err := physics.NewLattice(task.LatticeSize, task.Temperature, task.Spins)
	if err != nil {
		return ChunkResult{}, fmt.Errorf("configuration %d: %w", task.ConfigurationID, err)
	}

	types := model.BaseTypes(task.Algorithm)
	series, err := physics.Simulate(ctx, lattice, kernel, s.rand(), task.Sweeps, slices.Contains(types, model.ClusterSize))
	if err != nil {
		return ChunkResult{}, err
	}

	out := ChunkResult{
		Spins:       lattice.Spins(),
		Observables: make(map[model.ObservableType]model.ObservableResult, len(types)),
	}
	for _, typ := range types {
		tau, acf := analysis.IntegratedTime(series[typ])
		r := model.ObservableResult{
			Tau:     tau,
			Samples: analysis.ThermalizeAndBlock(series[typ], tau, task.SkipThermalization()),
		}
		if !task.SkipThermalization() {
			r.Autocorrelation = acf
		}
		out.Observables[typ] = r
	}
	return out, nil
}

func (s *Simulation) Save(ctx context.Context, task *model.ChunkTask, start, end time.Time, r ChunkResult) error {
	err := s.store.SaveChunk(ctx, task, start, end, r.Spins, r.Observables)
	if err == nil {
		s.logger.Info("chunk saved",
			"configuration_id", task.ConfigurationID,
			"chunk_index", task.Index,
			"algorithm", task.Algorithm.String(),
			"lattice_size", task.LatticeSize,
			"temperature", task.Temperature,
			"duration_ms", end.Sub(start).Milliseconds(),
		)
	}
	return discardLeaseLost(s.logger, s.Name(), err, "configuration_id", task.ConfigurationID, "chunk_index", task.Index)
}
