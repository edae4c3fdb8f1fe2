package physics

import (
	"fmt"
	"math"
)

// TwoPi is the period of a spin angle.
const TwoPi = 2 * math.Pi

// Lattice is an L x L grid of spin angles in [0, 2π) with periodic boundaries.
// Sites are stored row-major.
type Lattice struct {
	length int
	beta   float64
	spins  []float64
}

// NewLattice creates a lattice at the given temperature. A nil spins slice
// starts from the ordered state (all angles zero); otherwise the slice is
// copied and must hold exactly length*length angles.
func NewLattice(length int, temperature float64, spins []float64) (*Lattice, error) {
	if length <= 0 {
		return nil, fmt.Errorf("lattice length must be positive, got %d", length)
	}
	if temperature <= 0 {
		return nil, fmt.Errorf("temperature must be positive, got %g", temperature)
	}
	n := length * length
	l := &Lattice{length: length, beta: 1 / temperature, spins: make([]float64, n)}
	if spins != nil {
		if len(spins) != n {
			return nil, fmt.Errorf("lattice of length %d needs %d spins, got %d", length, n, len(spins))
		}
		copy(l.spins, spins)
	}
	return l, nil
}

// Length returns the side length L.
func (l *Lattice) Length() int { return l.length }

// Sites returns the number of sites N = L².
func (l *Lattice) Sites() int { return len(l.spins) }

// Beta returns the inverse temperature.
func (l *Lattice) Beta() float64 { return l.beta }

// SetTemperature changes the temperature without touching the spins.
func (l *Lattice) SetTemperature(t float64) { l.beta = 1 / t }

// Spin returns the angle at site i.
func (l *Lattice) Spin(i int) float64 { return l.spins[i] }

// Set stores an angle at site i, wrapping it into [0, 2π).
func (l *Lattice) Set(i int, angle float64) {
	angle = math.Mod(angle, TwoPi)
	if angle < 0 {
		angle += TwoPi
	}
	l.spins[i] = angle
}

// Spins returns a copy of the spin angles.
func (l *Lattice) Spins() []float64 {
	out := make([]float64, len(l.spins))
	copy(out, l.spins)
	return out
}

func (l *Lattice) right(i int) int {
	row := i / l.length * l.length
	return row + (i%l.length+1)%l.length
}

func (l *Lattice) left(i int) int {
	row := i / l.length * l.length
	return row + (i%l.length+l.length-1)%l.length
}

func (l *Lattice) down(i int) int { return (i + l.length) % len(l.spins) }

func (l *Lattice) up(i int) int { return (i + len(l.spins) - l.length) % len(l.spins) }

// neighbours returns the four nearest neighbours of site i.
func (l *Lattice) neighbours(i int) [4]int {
	return [4]int{l.right(i), l.left(i), l.down(i), l.up(i)}
}

// Energy returns H = -Σ<ij> cos(θi - θj) over nearest-neighbour bonds.
func (l *Lattice) Energy() float64 {
	var e float64
	for i, a := range l.spins {
		e -= math.Cos(a - l.spins[l.right(i)])
		e -= math.Cos(a - l.spins[l.down(i)])
	}
	return e
}

// EnergyDiff returns the change in H if site i were set to angle.
func (l *Lattice) EnergyDiff(i int, angle float64) float64 {
	old := l.spins[i]
	var d float64
	for _, j := range l.neighbours(i) {
		d += math.Cos(old-l.spins[j]) - math.Cos(angle-l.spins[j])
	}
	return d
}

// Magnetization returns the components (Σ cos θ, Σ sin θ).
func (l *Lattice) Magnetization() (float64, float64) {
	var mc, ms float64
	for _, a := range l.spins {
		s, c := math.Sincos(a)
		mc += c
		ms += s
	}
	return mc, ms
}

// HelicityIntermediate returns (Σ sin(θi - θ_{i+x}))² / N, the current term
// of the helicity modulus along the x direction.
func (l *Lattice) HelicityIntermediate() float64 {
	var s float64
	for i, a := range l.spins {
		s += math.Sin(a - l.spins[l.right(i)])
	}
	return s * s / float64(len(l.spins))
}
