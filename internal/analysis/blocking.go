package analysis

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat"
)

// Thermalize drops the first ceil(3τ) samples. At least one sample is kept.
func Thermalize(data []float64, tau float64) []float64 {
	offset := int(math.Ceil(3 * tau))
	if offset >= len(data) {
		offset = max(len(data)-1, 0)
	}
	return data[offset:]
}

// Block averages consecutive runs of ceil(τ) samples. A trailing partial
// block is averaged over the samples it holds.
func Block(data []float64, tau float64) []float64 {
	stride := max(int(math.Ceil(tau)), 1)
	out := make([]float64, 0, (len(data)+stride-1)/stride)
	for i := 0; i < len(data); i += stride {
		end := min(i+stride, len(data))
		out = append(out, stat.Mean(data[i:end], nil))
	}
	return out
}

// ThermalizeAndBlock is the per-chunk post-processing of a series. Chunks
// that continue from a previous lattice state skip the thermalization cut.
func ThermalizeAndBlock(data []float64, tau float64, skipThermalization bool) []float64 {
	if !skipThermalization {
		data = Thermalize(data, tau)
	}
	return Block(data, tau)
}

// Bootstrap estimates the mean of blocked samples and its standard error
// from the spread of resample means, each drawn with replacement at the
// size of the input.
func Bootstrap(rng *rand.Rand, blocked []float64, resamples int) (mean, stdDev float64) {
	if len(blocked) == 0 {
		return math.NaN(), math.NaN()
	}
	mean = stat.Mean(blocked, nil)
	if resamples < 2 || len(blocked) == 1 {
		return mean, 0
	}

	means := make([]float64, resamples)
	for r := range means {
		var sum float64
		for range blocked {
			sum += blocked[rng.IntN(len(blocked))]
		}
		means[r] = sum / float64(len(blocked))
	}
	return mean, stat.StdDev(means, nil)
}
