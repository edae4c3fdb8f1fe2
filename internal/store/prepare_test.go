package store

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/seantiz/xyfleet/internal/model"
)

// drain processes every chunk, estimate and derivative currently eligible,
// giving each configuration's susceptibility estimate the value chi(T).
func drain(t *testing.T, s *SQLStore, simulationID int64, chi func(float64) float64) {
	t.Helper()
	ctx := context.Background()

	for {
		task, err := s.ClaimNextChunk(ctx, simulationID)
		if err != nil {
			t.Fatalf("ClaimNextChunk: %v", err)
		}
		if task == nil {
			break
		}
		spins := make([]float64, task.LatticeSize*task.LatticeSize)
		if err := saveChunk(t, s, task, spins, []float64{1, 2}); err != nil {
			t.Fatalf("SaveChunk: %v", err)
		}
	}
	for {
		req, err := s.ClaimNextEstimate(ctx, simulationID)
		if err != nil {
			t.Fatalf("ClaimNextEstimate: %v", err)
		}
		if req == nil {
			break
		}
		if err := s.SaveEstimate(ctx, model.EstimateResult{ConfigurationID: req.ConfigurationID, Type: req.Type, Start: s.now(), End: s.now(), Mean: 1}); err != nil {
			t.Fatalf("SaveEstimate: %v", err)
		}
	}
	for {
		req, err := s.ClaimNextDerivative(ctx, simulationID)
		if err != nil {
			t.Fatalf("ClaimNextDerivative: %v", err)
		}
		if req == nil {
			break
		}
		mean := 0.0
		if req.Derivation.Target == model.MagneticSusceptibility {
			mean = chi(req.Temperature)
		}
		if err := s.SaveEstimate(ctx, model.EstimateResult{ConfigurationID: req.ConfigurationID, Type: req.Derivation.Target, Start: s.now(), End: s.now(), Mean: mean}); err != nil {
			t.Fatalf("SaveEstimate derivative: %v", err)
		}
	}
}

func temperaturesAt(t *testing.T, s *SQLStore, depth int) []float64 {
	t.Helper()
	rows, err := s.db.Query(s.q("SELECT temperature FROM configurations WHERE depth = ? ORDER BY temperature"), depth)
	if err != nil {
		t.Fatalf("query temperatures: %v", err)
	}
	defer rows.Close()
	var out []float64
	for rows.Next() {
		var temp float64
		if err := rows.Scan(&temp); err != nil {
			t.Fatalf("scan: %v", err)
		}
		out = append(out, temp)
	}
	return out
}

func refinementCampaign() model.Campaign {
	return model.Campaign{
		SimulationID:       7,
		BootstrapResamples: 4,
		Temperature:        model.TemperatureRange{Max: 1, Steps: 4, MaxDepth: 2},
		Algorithms: map[model.Algorithm]model.AlgorithmConfig{
			model.AlgorithmMetropolis: {NumChunks: 1, SweepsPerChunk: 5, LatticeSizes: []int{4}},
		},
	}
}

func TestPrepareIsIdempotent(t *testing.T) { forEachBackend(t, testPrepareIsIdempotent) }

func testPrepareIsIdempotent(t *testing.T, dsn string) {
	s := openWorker(t, dsn, newFakeClock())
	c := refinementCampaign()
	c.VortexSizes = []int{4, 8}

	for i := 0; i < 3; i++ {
		if !mustPrepare(t, s, c) {
			t.Fatalf("round %d: no work reported", i)
		}
	}
	if got := countRows(t, s, "SELECT COUNT(*) FROM configurations"); got != 4 {
		t.Errorf("configurations = %d, want 4", got)
	}
	if got := countRows(t, s, "SELECT COUNT(*) FROM algorithm_metadata"); got != 1 {
		t.Errorf("metadata rows = %d, want 1", got)
	}
	if got := countRows(t, s, "SELECT COUNT(*) FROM vortex_jobs"); got != 2 {
		t.Errorf("vortex jobs = %d, want 2", got)
	}
	if got, want := temperaturesAt(t, s, 1), []float64{0.25, 0.5, 0.75, 1}; !reflect.DeepEqual(got, want) {
		t.Errorf("base temperatures = %v, want %v", got, want)
	}
}

func TestPrepareNeverShrinksChunkTarget(t *testing.T) {
	s := openWorker(t, testDB(t), newFakeClock())
	mustPrepare(t, s, testCampaign(3))
	mustPrepare(t, s, testCampaign(1))

	if got := countRows(t, s, "SELECT num_chunks FROM algorithm_metadata"); got != 3 {
		t.Errorf("num_chunks = %d, want 3", got)
	}
}

func TestPrepareRefinesAroundSusceptibilityPeak(t *testing.T) { forEachBackend(t, testPrepareRefinesAroundSusceptibilityPeak) }

func testPrepareRefinesAroundSusceptibilityPeak(t *testing.T, dsn string) {
	s := openWorker(t, dsn, newFakeClock())
	c := refinementCampaign()
	peak := func(temp float64) float64 {
		if temp == 0.5 {
			return 10
		}
		return 1
	}

	mustPrepare(t, s, c)
	drain(t, s, c.SimulationID, peak)

	if !mustPrepare(t, s, c) {
		t.Fatal("Prepare did not refine after the base depth completed")
	}
	if got, want := temperaturesAt(t, s, 2), []float64{0.125, 0.875, 1.25}; !reflect.DeepEqual(got, want) {
		t.Fatalf("refined temperatures = %v, want %v", got, want)
	}

	mustPrepare(t, s, c)
	if got := countRows(t, s, "SELECT COUNT(*) FROM configurations"); got != 7 {
		t.Errorf("configurations after re-prepare = %d, want 7", got)
	}

	drain(t, s, c.SimulationID, peak)
	if mustPrepare(t, s, c) {
		t.Error("Prepare reported work after the maximum depth completed")
	}
	if got := countRows(t, s, "SELECT COUNT(*) FROM configurations"); got != 7 {
		t.Errorf("configurations after final prepare = %d, want 7", got)
	}
}

func TestPrepareSingleTemperatureDoesNotRefine(t *testing.T) {
	s := openWorker(t, testDB(t), newFakeClock())
	c := testCampaign(1)
	c.Temperature.MaxDepth = 3

	mustPrepare(t, s, c)
	drain(t, s, c.SimulationID, func(float64) float64 { return 1 })
	if mustPrepare(t, s, c) {
		t.Error("single-temperature grid was refined")
	}
}

func TestPrepareCountsLeasedWork(t *testing.T) { forEachBackend(t, testPrepareCountsLeasedWork) }

func testPrepareCountsLeasedWork(t *testing.T, dsn string) {
	s := openWorker(t, dsn, newFakeClock())
	c := testCampaign(1)
	mustPrepare(t, s, c)

	if task := claimChunk(t, s); task == nil {
		t.Fatal("no chunk claimed")
	}
	if task := claimChunk(t, s); task != nil {
		t.Fatal("leased configuration claimed twice")
	}
	if !mustPrepare(t, s, c) {
		t.Error("Prepare ignored a leased configuration")
	}
}

func TestProgress(t *testing.T) {
	s := openWorker(t, testDB(t), newFakeClock())
	ctx := context.Background()

	if _, err := s.Progress(ctx, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Progress before Prepare: err = %v, want ErrNotFound", err)
	}

	c := testCampaign(1)
	c.VortexSizes = []int{8}
	mustPrepare(t, s, c)
	task := claimChunk(t, s)
	if task == nil {
		t.Fatal("no chunk claimed")
	}

	p, err := s.Progress(ctx, 1)
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	want := model.Progress{SimulationID: 1, Configurations: 1, Leased: 1, MaxDepth: 1, VortexJobs: 1}
	if *p != want {
		t.Errorf("Progress = %+v, want %+v", *p, want)
	}

	if err := saveChunk(t, s, task, make([]float64, 64), []float64{1, 2}); err != nil {
		t.Fatalf("SaveChunk: %v", err)
	}
	drain(t, s, 1, func(float64) float64 { return 1 })
	p, err = s.Progress(ctx, 1)
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	want = model.Progress{
		SimulationID: 1, Configurations: 1, Complete: 1, Chunks: 1, MaxDepth: 1, VortexJobs: 1,
		Estimates: model.RequiredEstimates(model.AlgorithmMetropolis),
	}
	if *p != want {
		t.Errorf("Progress after drain = %+v, want %+v", *p, want)
	}
}
