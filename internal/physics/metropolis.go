package physics

import (
	"math"
	"math/rand/v2"
)

// Metropolis visits every site in storage order and proposes a uniformly
// random new angle, accepted with probability min(1, exp(-βΔH)).
type Metropolis struct{}

// Name implements Kernel.
func (Metropolis) Name() string { return "metropolis" }

// Sweep implements Kernel. It returns the number of accepted proposals.
func (Metropolis) Sweep(l *Lattice, rng *rand.Rand) int {
	accepted := 0
	for i := range l.spins {
		angle := rng.Float64() * TwoPi
		d := l.EnergyDiff(i, angle)
		if d <= 0 || math.Exp(-l.beta*d) > rng.Float64() {
			l.spins[i] = angle
			accepted++
		}
	}
	return accepted
}
