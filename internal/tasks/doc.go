// Package tasks binds the generic engine to the four work streams of a
// campaign: chunk simulation, bootstrap estimates, derived observables and
// vortex anneals. Each adapter claims from the store, calls into physics or
// analysis to execute, and saves through the store. A save whose lease was
// reclaimed by another worker is discarded rather than failed.
package tasks
