package physics

import (
	"math"
	"math/rand/v2"
)

// Wolff grows and flips a single cluster per sweep. Spins are reflected
// across the line perpendicular to a random reference direction r, and a
// neighbour j joins the cluster of i with probability
// 1 - exp(min(0, -2β (si·r)(sj·r))).
type Wolff struct{}

// Name implements Kernel.
func (Wolff) Name() string { return "wolff" }

// Sweep implements Kernel. It returns the size of the flipped cluster.
func (Wolff) Sweep(l *Lattice, rng *rand.Rand) int {
	seed := rng.IntN(len(l.spins))
	ref := rng.Float64() * TwoPi

	visited := make([]bool, len(l.spins))
	visited[seed] = true
	queue := []int{seed}

	size := 0
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		size++

		old := l.spins[i]
		l.spins[i] = math.Mod(3*math.Pi+2*ref-old, TwoPi)

		pi := math.Cos(old - ref)
		for _, j := range l.neighbours(i) {
			if visited[j] {
				continue
			}
			pj := math.Cos(l.spins[j] - ref)
			if 1-math.Exp(math.Min(0, -2*l.beta*pi*pj)) > rng.Float64() {
				visited[j] = true
				queue = append(queue, j)
			}
		}
	}
	return size
}
