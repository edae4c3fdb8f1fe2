package model

import "time"

// AlgorithmConfig is the target shape of work for one algorithm.
type AlgorithmConfig struct {
	NumChunks      int
	SweepsPerChunk int
	LatticeSizes   []int
}

// TemperatureRange controls base sampling and adaptive refinement.
type TemperatureRange struct {
	Max      float64
	Steps    int
	MaxDepth int
}

// Campaign is the input a worker prepares the store with.
type Campaign struct {
	SimulationID       int64
	BootstrapResamples int
	Temperature        TemperatureRange
	VortexSizes        []int
	Algorithms         map[Algorithm]AlgorithmConfig
}

// ChunkTask is one claimed increment of sweeps for a configuration. Spins is
// nil for the first chunk and carries the previous chunk's lattice otherwise.
type ChunkTask struct {
	ConfigurationID int64
	Index           int
	Algorithm       Algorithm
	LatticeSize     int
	Temperature     float64
	Sweeps          int
	Spins           []float64
}

// SkipThermalization reports whether the lattice is already in steady state
// from the prior chunk.
func (c *ChunkTask) SkipThermalization() bool {
	return c.Index > 1
}

// ObservableResult is the post-processed sample array of one observable for a
// chunk. Autocorrelation is only persisted for the first chunk.
type ObservableResult struct {
	Tau             float64
	Samples         []float64
	Autocorrelation []float64
}

// EstimateRequest is a claimed (configuration, type) pair together with the
// concatenated samples of all its chunks.
type EstimateRequest struct {
	ConfigurationID    int64
	Type               ObservableType
	LatticeSize        int
	BootstrapResamples int
	Samples            []float64
}

// EstimateResult is a mean and standard deviation ready to be persisted.
type EstimateResult struct {
	ConfigurationID int64
	Type            ObservableType
	Start           time.Time
	End             time.Time
	Mean            float64
	StdDev          float64
}

// DerivativeRequest carries the pair of base estimates a derived observable
// is computed from.
type DerivativeRequest struct {
	ConfigurationID int64
	Derivation      Derivation
	LatticeSize     int
	Temperature     float64
	Mean            float64
	StdDev          float64
	PartnerMean     float64
	PartnerStdDev   float64
}

// VortexJob is a claimed single-anneal job for one lattice size.
type VortexJob struct {
	ID          int64
	LatticeSize int
}

// VortexSnapshot is one point in a vortex anneal.
type VortexSnapshot struct {
	Temperature float64
	Sweeps      int
	Spins       []float64
}

// Worker is a registered worker process.
type Worker struct {
	ID           string    `json:"id"`
	Hostname     string    `json:"hostname"`
	RegisteredAt time.Time `json:"registered_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	Synchronize  bool      `json:"synchronize"`
	Round        int64     `json:"round"`
	Finished     bool      `json:"finished"`
	Live         bool      `json:"live"`
}

// Progress summarizes a simulation's coordination state.
type Progress struct {
	SimulationID   int64 `json:"simulation_id"`
	Configurations int   `json:"configurations"`
	Complete       int   `json:"complete"`
	Leased         int   `json:"leased"`
	Chunks         int   `json:"chunks"`
	Estimates      int   `json:"estimates"`
	MaxDepth       int   `json:"max_depth"`
	VortexJobs     int   `json:"vortex_jobs"`
	VortexDone     int   `json:"vortex_done"`
}
