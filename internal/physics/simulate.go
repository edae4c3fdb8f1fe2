package physics

import (
	"context"
	"math"
	"math/rand/v2"

	"github.com/seantiz/xyfleet/internal/model"
)

// Series holds one time series per observable, one sample per sweep.
type Series map[model.ObservableType][]float64

// Simulate runs the given number of sweeps and records per-site energy,
// magnetization magnitude, their squares and the helicity current term after
// every sweep. When cluster is set the kernel's return value is recorded as
// a fraction of the lattice under ClusterSize. ctx is checked between sweeps.
func Simulate(ctx context.Context, l *Lattice, k Kernel, rng *rand.Rand, sweeps int, cluster bool) (Series, error) {
	n := float64(l.Sites())
	s := Series{
		model.Energy:                      make([]float64, 0, sweeps),
		model.EnergySquared:               make([]float64, 0, sweeps),
		model.Magnetization:               make([]float64, 0, sweeps),
		model.MagnetizationSquared:        make([]float64, 0, sweeps),
		model.HelicityModulusIntermediate: make([]float64, 0, sweeps),
	}
	if cluster {
		s[model.ClusterSize] = make([]float64, 0, sweeps)
	}

	for range sweeps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		flipped := k.Sweep(l, rng)

		e := l.Energy() / n
		mc, ms := l.Magnetization()
		m := math.Hypot(mc, ms) / n

		s[model.Energy] = append(s[model.Energy], e)
		s[model.EnergySquared] = append(s[model.EnergySquared], e*e)
		s[model.Magnetization] = append(s[model.Magnetization], m)
		s[model.MagnetizationSquared] = append(s[model.MagnetizationSquared], m*m)
		s[model.HelicityModulusIntermediate] = append(s[model.HelicityModulusIntermediate], l.HelicityIntermediate())
		if cluster {
			s[model.ClusterSize] = append(s[model.ClusterSize], float64(flipped)/n)
		}
	}
	return s, nil
}

// Anneal runs sweeps without recording observables, stopping early when ctx
// is done.
func Anneal(ctx context.Context, l *Lattice, k Kernel, rng *rand.Rand, sweeps int) error {
	for range sweeps {
		if err := ctx.Err(); err != nil {
			return err
		}
		k.Sweep(l, rng)
	}
	return nil
}
