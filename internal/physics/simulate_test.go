package physics

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/seantiz/xyfleet/internal/model"
)

func TestSimulateSeriesShape(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))
	tests := []struct {
		name    string
		kernel  Kernel
		cluster bool
		types   int
	}{
		{"metropolis", Metropolis{}, false, 5},
		{"wolff", Wolff{}, true, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLattice(t, 4, 1, nil)
			s, err := Simulate(context.Background(), l, tt.kernel, rng, 25, tt.cluster)
			if err != nil {
				t.Fatalf("Simulate: %v", err)
			}
			if len(s) != tt.types {
				t.Fatalf("got %d series, want %d", len(s), tt.types)
			}
			for typ, v := range s {
				if len(v) != 25 {
					t.Errorf("%s: %d samples, want 25", typ, len(v))
				}
			}
			for i, e := range s[model.Energy] {
				if math.Abs(s[model.EnergySquared][i]-e*e) > eps {
					t.Fatalf("energy_squared[%d] != energy²", i)
				}
				if e < -2-eps || e > 2+eps {
					t.Fatalf("energy per site %v outside [-2, 2]", e)
				}
			}
			for _, m := range s[model.Magnetization] {
				if m < 0 || m > 1+eps {
					t.Fatalf("magnetization %v outside [0, 1]", m)
				}
			}
		})
	}
}

func TestWolffClusterFraction(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	l := newTestLattice(t, 6, 0.5, nil)
	s, err := Simulate(context.Background(), l, Wolff{}, rng, 50, true)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	for _, c := range s[model.ClusterSize] {
		if c <= 0 || c > 1 {
			t.Fatalf("cluster fraction %v outside (0, 1]", c)
		}
	}
}

func TestKernelsKeepAnglesInRange(t *testing.T) {
	rng := rand.New(rand.NewPCG(11, 13))
	for _, k := range []Kernel{Metropolis{}, Wolff{}} {
		l := newTestLattice(t, 4, 2, nil)
		if err := Anneal(context.Background(), l, k, rng, 40); err != nil {
			t.Fatalf("Anneal: %v", err)
		}
		for i, a := range l.Spins() {
			if a < 0 || a >= TwoPi {
				t.Fatalf("%s: spin %d = %v outside [0, 2π)", k.Name(), i, a)
			}
		}
	}
}

func TestMetropolisColdLatticeStaysOrdered(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	l := newTestLattice(t, 8, 0.01, nil)
	s, err := Simulate(context.Background(), l, Metropolis{}, rng, 20, false)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	last := s[model.Magnetization][19]
	if last < 0.95 {
		t.Errorf("magnetization at T=0.01 dropped to %v", last)
	}
}

// stopAfter is a kernel that cancels its context after a number of sweeps.
type stopAfter struct {
	Kernel
	sweeps int
	cancel context.CancelFunc
	done   int
}

func (k *stopAfter) Sweep(l *Lattice, rng *rand.Rand) int {
	k.done++
	if k.done == k.sweeps {
		k.cancel()
	}
	return k.Kernel.Sweep(l, rng)
}

func TestSimulateStopsOnCancel(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	l := newTestLattice(t, 4, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	k := &stopAfter{Kernel: Metropolis{}, sweeps: 3, cancel: cancel}

	if _, err := Simulate(ctx, l, k, rng, 1000, false); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if k.done != 3 {
		t.Errorf("ran %d sweeps after cancel at 3", k.done)
	}
}

func TestAnnealStopsOnCancel(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	l := newTestLattice(t, 4, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	k := &stopAfter{Kernel: Wolff{}, sweeps: 5, cancel: cancel}

	if err := Anneal(ctx, l, k, rng, 1000); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if k.done != 5 {
		t.Errorf("ran %d sweeps after cancel at 5", k.done)
	}
}
