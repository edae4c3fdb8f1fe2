package driver_test

import (
	"context"
	"io"
	"log/slog"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/seantiz/xyfleet/internal/driver"
	"github.com/seantiz/xyfleet/internal/engine"
	"github.com/seantiz/xyfleet/internal/model"
	"github.com/seantiz/xyfleet/internal/store"
	"github.com/seantiz/xyfleet/internal/tasks"
)

func openStore(t *testing.T, path string) *store.SQLStore {
	t.Helper()
	s, err := store.Open(context.Background(), path, slog.New(slog.NewJSONHandler(io.Discard, nil)),
		store.WithRetryPolicy(50, time.Millisecond, 5*time.Millisecond),
		store.WithBarrierInterval(5*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newDriver(s *store.SQLStore, c model.Campaign) *driver.Driver {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	e := engine.New(s, logger, engine.WithConcurrency(2), engine.WithPollInterval(5*time.Millisecond))
	return driver.New(s, e, c, logger,
		driver.WithVortexSchedule(tasks.VortexSchedule{Thermalization: 2, Steps: 2, SnapshotsPerStep: 1, Holds: 1, HoldSweeps: 1}),
		driver.WithRand(func() *rand.Rand { return rand.New(rand.NewPCG(rand.Uint64(), 7)) }),
	)
}

func refiningCampaign() model.Campaign {
	return model.Campaign{
		SimulationID:       1,
		BootstrapResamples: 10,
		Temperature:        model.TemperatureRange{Max: 1.5, Steps: 3, MaxDepth: 2},
		VortexSizes:        []int{4},
		Algorithms: map[model.Algorithm]model.AlgorithmConfig{
			model.AlgorithmMetropolis: {NumChunks: 2, SweepsPerChunk: 20, LatticeSizes: []int{4}},
		},
	}
}

func TestRunCompletesCampaign(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "data.db"))
	c := refiningCampaign()

	if err := newDriver(s, c).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	p, err := s.Progress(context.Background(), 1)
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if p.MaxDepth != 2 {
		t.Errorf("max depth = %d, want 2", p.MaxDepth)
	}
	if p.Configurations <= 3 || p.Complete != p.Configurations || p.Leased != 0 {
		t.Errorf("progress = %+v", *p)
	}
	if p.Chunks != 2*p.Configurations {
		t.Errorf("chunks = %d, want %d", p.Chunks, 2*p.Configurations)
	}
	if p.VortexDone != 1 {
		t.Errorf("vortex jobs done = %d, want 1", p.VortexDone)
	}

	workers, err := s.ListWorkers(context.Background())
	if err != nil {
		t.Fatalf("ListWorkers: %v", err)
	}
	if len(workers) != 1 || !workers[0].Finished || workers[0].Round < 1 {
		t.Errorf("workers = %+v, want one finished worker past round 1", workers)
	}
}

func TestRunTwoWorkersShareCampaign(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	w1 := openStore(t, path)
	w2 := openStore(t, path)
	c := refiningCampaign()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, s := range []*store.SQLStore{w1, w2} {
		wg.Go(func() { errs[i] = newDriver(s, c).Run(ctx) })
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("worker %d: %v", i, err)
		}
	}

	p, err := w1.Progress(ctx, 1)
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if p.Complete != p.Configurations || p.Chunks != 2*p.Configurations {
		t.Errorf("progress = %+v", *p)
	}
	if p.Estimates != p.Configurations*model.RequiredEstimates(model.AlgorithmMetropolis) {
		t.Errorf("estimates = %d, want %d", p.Estimates, p.Configurations*model.RequiredEstimates(model.AlgorithmMetropolis))
	}
}
