// Package physics implements the two-dimensional XY model on a periodic
// square lattice together with the sweep kernels (Metropolis, Wolff) that
// advance it. Kernels are looked up by algorithm through a Registry so the
// simulation adapter never switches on algorithm identifiers itself.
package physics
