package physics_test

import (
	"math/rand/v2"
	"testing"

	"github.com/seantiz/xyfleet/internal/model"
	"github.com/seantiz/xyfleet/internal/physics"
)

type stubKernel struct{ name string }

func (s stubKernel) Name() string { return s.name }

func (s stubKernel) Sweep(_ *physics.Lattice, _ *rand.Rand) int { return 0 }

func TestRegistryRegisterAndList(t *testing.T) {
	reg := physics.NewRegistry()
	reg.Register(model.AlgorithmWolff, stubKernel{name: "w"})
	reg.Register(model.AlgorithmMetropolis, stubKernel{name: "m"})

	list := reg.List()
	if len(list) != 2 {
		t.Fatalf("List() returned %d kernels, want 2", len(list))
	}
	if list[0].Algorithm != model.AlgorithmMetropolis || list[1].Algorithm != model.AlgorithmWolff {
		t.Errorf("List() not sorted by algorithm: %+v", list)
	}
}

func TestRegistryResolveNotRegistered(t *testing.T) {
	reg := physics.NewRegistry()
	if _, err := reg.Resolve(model.AlgorithmWolff); err == nil {
		t.Error("expected error for unregistered kernel, got nil")
	}
}

func TestDefaultRegistry(t *testing.T) {
	reg := physics.DefaultRegistry()
	for _, a := range model.Algorithms {
		k, err := reg.Resolve(a)
		if err != nil {
			t.Fatalf("Resolve(%s): %v", a, err)
		}
		if k.Name() != a.String() {
			t.Errorf("kernel for %s named %q", a, k.Name())
		}
	}
}

func TestRegisterReplaces(t *testing.T) {
	reg := physics.DefaultRegistry()
	reg.Register(model.AlgorithmWolff, stubKernel{name: "replacement"})

	k, err := reg.Resolve(model.AlgorithmWolff)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if k.Name() != "replacement" {
		t.Errorf("Resolve returned %q, want replacement", k.Name())
	}
}
