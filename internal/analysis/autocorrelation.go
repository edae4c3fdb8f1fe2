// Package analysis holds the statistics applied to simulation time series:
// FFT autocorrelation, thermalization cut and blocking, bootstrap resampling
// and the closed-form derived observables.
package analysis

import (
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"
)

// Autocorrelation returns the normalized autocorrelation function of data,
// c[0] = 1. The series is zero padded to twice its length so the circular
// FFT correlation equals the linear one.
func Autocorrelation(data []float64) []float64 {
	n := len(data)
	if n == 0 {
		return nil
	}
	mean := stat.Mean(data, nil)

	padded := make([]float64, 2*n)
	for i, x := range data {
		padded[i] = x - mean
	}

	fft := fourier.NewFFT(len(padded))
	coeff := fft.Coefficients(nil, padded)
	for i, c := range coeff {
		coeff[i] = complex(real(c)*real(c)+imag(c)*imag(c), 0)
	}
	acf := fft.Sequence(nil, coeff)[:n]

	out := make([]float64, n)
	if acf[0] == 0 {
		// Constant series: fully decorrelated by convention.
		out[0] = 1
		return out
	}
	for i := range out {
		out[i] = acf[i] / acf[0]
	}
	return out
}

// IntegratedTime returns τ = 0.5 + Σ c[t] over the leading run of positive
// correlations after lag 0, together with the autocorrelation function.
func IntegratedTime(data []float64) (float64, []float64) {
	c := Autocorrelation(data)
	tau := 0.5
	for t := 1; t < len(c) && c[t] > 0; t++ {
		tau += c[t]
	}
	return tau, c
}
