package physics

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/seantiz/xyfleet/internal/model"
)

// Kernel advances a lattice by one sweep. The returned count is kernel
// specific: accepted proposals for Metropolis, cluster size for Wolff.
type Kernel interface {
	Name() string
	Sweep(l *Lattice, rng *rand.Rand) int
}

// KernelInfo pairs an algorithm with the name of its registered kernel.
type KernelInfo struct {
	Algorithm model.Algorithm `json:"algorithm"`
	Name      string          `json:"name"`
}

// Registry maps algorithms to sweep kernels.
type Registry struct {
	mu      sync.RWMutex
	kernels map[model.Algorithm]Kernel
}

// NewRegistry creates an empty kernel registry.
func NewRegistry() *Registry {
	return &Registry{
		kernels: make(map[model.Algorithm]Kernel),
	}
}

// DefaultRegistry returns a registry with the Metropolis and Wolff kernels.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(model.AlgorithmMetropolis, Metropolis{})
	r.Register(model.AlgorithmWolff, Wolff{})
	return r
}

// Register adds a kernel under the given algorithm, replacing any previous one.
func (r *Registry) Register(a model.Algorithm, k Kernel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kernels[a] = k
}

// Resolve returns the kernel registered for the algorithm.
func (r *Registry) Resolve(a model.Algorithm) (Kernel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	k, ok := r.kernels[a]
	if !ok {
		return nil, fmt.Errorf("no kernel registered for %s", a)
	}
	return k, nil
}

// List returns the registered kernels sorted by algorithm.
func (r *Registry) List() []KernelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]KernelInfo, 0, len(r.kernels))
	for a, k := range r.kernels {
		infos = append(infos, KernelInfo{Algorithm: a, Name: k.Name()})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Algorithm < infos[j].Algorithm
	})
	return infos
}
