package tasks

import (
	"errors"
	"log/slog"
	"math/rand/v2"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/xyfleet/internal/store"
)

// RandSource returns a fresh generator for one task execution. It is called
// from pool goroutines concurrently.
type RandSource func() *rand.Rand

// NewRand seeds a PCG generator from the runtime's entropy.
func NewRand() *rand.Rand {
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

var leasesLostTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "xyfleet_leases_lost_total",
		Help: "Total number of results discarded because the lease was reclaimed.",
	},
	[]string{"stream"},
)

func init() {
	prometheus.MustRegister(leasesLostTotal)
}

// discardLeaseLost swallows store.ErrLeaseLost, which means another worker
// reclaimed the task and will redo it.
func discardLeaseLost(logger *slog.Logger, stream string, err error, args ...any) error {
	if !errors.Is(err, store.ErrLeaseLost) {
		return err
	}
	leasesLostTotal.WithLabelValues(stream).Inc()
	logger.Warn("lease lost, discarding result", append([]any{"stream", stream}, args...)...)
	return nil
}
