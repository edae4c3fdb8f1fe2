// Package store implements the storage port through which workers coordinate.
// All cross-process mutual exclusion lives here: leases on configurations and
// vortex jobs, their time-based reclamation, conditional releases on save and
// the fleet-wide synchronization barrier. The same SQL runs against SQLite
// (single writer) and Postgres (concurrent writers with conflict retry).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/seantiz/xyfleet/internal/model"
)

// StaleAfter is the heartbeat age beyond which a worker's leases are
// considered abandoned.
const StaleAfter = 5 * time.Minute

var (
	// ErrLeaseLost is returned by a save whose lease was reclaimed by another
	// worker. Callers discard the result.
	ErrLeaseLost = errors.New("lease lost")

	// ErrRetriesExhausted is returned when a transaction kept conflicting with
	// concurrent writers beyond the retry budget.
	ErrRetriesExhausted = errors.New("conflict retries exhausted")

	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrReadOnly is returned by write operations on a store opened with
	// WithoutRegistration.
	ErrReadOnly = errors.New("store opened without registration")
)

// Store is the storage port consumed by the engine adapters and the driver.
// Claim methods return nil with a nil error when no eligible work exists.
type Store interface {
	WorkerID() string

	// Prepare upserts the campaign, inserts base and refined configurations
	// and reports whether any configuration still needs work.
	Prepare(ctx context.Context, c model.Campaign) (bool, error)

	ClaimNextChunk(ctx context.Context, simulationID int64) (*model.ChunkTask, error)
	SaveChunk(ctx context.Context, task *model.ChunkTask, start, end time.Time, spins []float64, results map[model.ObservableType]model.ObservableResult) error

	ClaimNextEstimate(ctx context.Context, simulationID int64) (*model.EstimateRequest, error)
	SaveEstimate(ctx context.Context, r model.EstimateResult) error

	ClaimNextDerivative(ctx context.Context, simulationID int64) (*model.DerivativeRequest, error)

	ClaimNextVortex(ctx context.Context, simulationID int64) (*model.VortexJob, error)
	SaveVortexSnapshots(ctx context.Context, vortexID int64, snapshots []model.VortexSnapshot) error

	WorkerKeepAlive(ctx context.Context) error
	SynchronizeWorkers(ctx context.Context) error

	// FinishRounds takes this worker out of the barrier once it has no
	// refinement rounds left to run.
	FinishRounds(ctx context.Context) error

	Progress(ctx context.Context, simulationID int64) (*model.Progress, error)
	ListWorkers(ctx context.Context) ([]model.Worker, error)

	// Close releases this worker's leases, removes its worker row and closes
	// the database.
	Close() error
}
