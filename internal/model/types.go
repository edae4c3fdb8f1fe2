package model

import "fmt"

// Algorithm identifies the lattice update kernel used for a configuration.
// The numeric values are persisted and must not change.
type Algorithm int

// Algorithm constants.
const (
	AlgorithmMetropolis Algorithm = 0
	AlgorithmWolff      Algorithm = 1
)

// Algorithms lists every known algorithm in persisted order.
var Algorithms = []Algorithm{AlgorithmMetropolis, AlgorithmWolff}

func (a Algorithm) String() string {
	switch a {
	case AlgorithmMetropolis:
		return "metropolis"
	case AlgorithmWolff:
		return "wolff"
	default:
		return fmt.Sprintf("algorithm(%d)", int(a))
	}
}

// ParseAlgorithm maps a lowercase algorithm name to its constant.
func ParseAlgorithm(s string) (Algorithm, error) {
	for _, a := range Algorithms {
		if a.String() == s {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown algorithm %q", s)
}

// ObservableType identifies a measured or derived quantity. The numeric values
// are persisted as type_id and must not change.
type ObservableType int

// Observable type constants.
const (
	Energy                      ObservableType = 0
	EnergySquared               ObservableType = 1
	Magnetization               ObservableType = 2
	MagnetizationSquared        ObservableType = 3
	SpecificHeat                ObservableType = 4
	MagneticSusceptibility      ObservableType = 5
	HelicityModulusIntermediate ObservableType = 6
	HelicityModulus             ObservableType = 7
	ClusterSize                 ObservableType = 8
)

var observableNames = map[ObservableType]string{
	Energy:                      "energy",
	EnergySquared:               "energy_squared",
	Magnetization:               "magnetization",
	MagnetizationSquared:        "magnetization_squared",
	SpecificHeat:                "specific_heat",
	MagneticSusceptibility:      "magnetic_susceptibility",
	HelicityModulusIntermediate: "helicity_modulus_intermediate",
	HelicityModulus:             "helicity_modulus",
	ClusterSize:                 "cluster_size",
}

func (t ObservableType) String() string {
	if name, ok := observableNames[t]; ok {
		return name
	}
	return fmt.Sprintf("observable(%d)", int(t))
}

// BaseTypes returns the observable types sampled per chunk and bootstrapped
// into estimates for the given algorithm.
func BaseTypes(a Algorithm) []ObservableType {
	types := []ObservableType{Energy, EnergySquared, Magnetization, MagnetizationSquared, HelicityModulusIntermediate}
	if a == AlgorithmWolff {
		types = append(types, ClusterSize)
	}
	return types
}

// Derivation describes how a derived observable is computed from a pair of
// base estimates.
type Derivation struct {
	Base    ObservableType
	Partner ObservableType
	Target  ObservableType
}

// Derivations lists every derived observable. Base drives the claim; Partner
// is the second estimate the formula needs.
var Derivations = []Derivation{
	{Base: Energy, Partner: EnergySquared, Target: SpecificHeat},
	{Base: Magnetization, Partner: MagnetizationSquared, Target: MagneticSusceptibility},
	{Base: HelicityModulusIntermediate, Partner: Energy, Target: HelicityModulus},
}

// RequiredEstimates is the number of estimate rows a fully processed
// configuration of the given algorithm carries.
func RequiredEstimates(a Algorithm) int {
	return len(BaseTypes(a)) + len(Derivations)
}

// DerivationTo returns the derivation producing the given target type.
func DerivationTo(target ObservableType) (Derivation, bool) {
	for _, d := range Derivations {
		if d.Target == target {
			return d, true
		}
	}
	return Derivation{}, false
}
