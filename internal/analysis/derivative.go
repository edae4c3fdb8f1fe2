package analysis

import (
	"fmt"
	"math"

	"github.com/seantiz/xyfleet/internal/model"
)

// Derive computes a derived observable and its propagated error from the
// request's base and partner estimates.
func Derive(req model.DerivativeRequest) (mean, stdDev float64, err error) {
	n := float64(req.LatticeSize * req.LatticeSize)
	t := req.Temperature
	if t <= 0 {
		return 0, 0, fmt.Errorf("derive %s: temperature must be positive, got %g", req.Derivation.Target, t)
	}

	switch req.Derivation.Target {
	case model.SpecificHeat:
		// Base ⟨e⟩, partner ⟨e²⟩.
		mean = n * (req.PartnerMean - req.Mean*req.Mean) / (t * t)
		stdDev = n / (t * t) * math.Hypot(req.PartnerStdDev, 2*req.Mean*req.StdDev)
	case model.MagneticSusceptibility:
		mean = n * (req.PartnerMean - req.Mean*req.Mean) / t
		stdDev = n / t * math.Hypot(req.PartnerStdDev, 2*req.Mean*req.StdDev)
	case model.HelicityModulus:
		// Base ⟨I⟩, partner ⟨e⟩.
		mean = -req.PartnerMean/2 - req.Mean/t
		stdDev = math.Hypot(req.PartnerStdDev/2, req.StdDev/t)
	default:
		return 0, 0, fmt.Errorf("no formula for derived observable %s", req.Derivation.Target)
	}
	return mean, stdDev, nil
}
