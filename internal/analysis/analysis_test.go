package analysis

import (
	"math"
	"math/rand/v2"
	"reflect"
	"testing"

	"github.com/seantiz/xyfleet/internal/model"
)

func almostEqual(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func TestAutocorrelationMatchesDirectSum(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	data := make([]float64, 37)
	for i := range data {
		data[i] = rng.NormFloat64()
	}

	got := Autocorrelation(data)

	var mean float64
	for _, x := range data {
		mean += x
	}
	mean /= float64(len(data))
	direct := func(lag int) float64 {
		var s float64
		for i := 0; i+lag < len(data); i++ {
			s += (data[i] - mean) * (data[i+lag] - mean)
		}
		return s
	}
	c0 := direct(0)
	for lag := range data {
		if want := direct(lag) / c0; !almostEqual(got[lag], want, 1e-9) {
			t.Fatalf("c[%d] = %v, want %v", lag, got[lag], want)
		}
	}
}

func TestAutocorrelationConstantSeries(t *testing.T) {
	got := Autocorrelation([]float64{2, 2, 2, 2})
	want := []float64{1, 0, 0, 0}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Autocorrelation(constant) = %v, want %v", got, want)
	}
	if Autocorrelation(nil) != nil {
		t.Error("Autocorrelation(nil) should be nil")
	}
}

func TestIntegratedTime(t *testing.T) {
	// Alternating series: c[1] is negative so τ stays at 0.5.
	tau, c := IntegratedTime([]float64{1, -1, 1, -1, 1, -1, 1, -1})
	if tau != 0.5 {
		t.Errorf("tau = %v, want 0.5", tau)
	}
	if len(c) != 8 || c[0] != 1 {
		t.Errorf("autocorrelation = %v", c)
	}

	// Slowly varying series is correlated.
	data := make([]float64, 200)
	for i := range data {
		data[i] = math.Sin(float64(i) / 20)
	}
	if tau, _ := IntegratedTime(data); tau <= 1 {
		t.Errorf("tau of smooth series = %v, want > 1", tau)
	}
}

func TestThermalize(t *testing.T) {
	data := []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	tests := []struct {
		tau  float64
		want []float64
	}{
		{0.5, []float64{2, 3, 4, 5, 6, 7, 8, 9}},
		{1, []float64{3, 4, 5, 6, 7, 8, 9}},
		{100, []float64{9}},
	}
	for _, tt := range tests {
		if got := Thermalize(data, tt.tau); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Thermalize(τ=%v) = %v, want %v", tt.tau, got, tt.want)
		}
	}
	if got := Thermalize(nil, 1); len(got) != 0 {
		t.Errorf("Thermalize(nil) = %v", got)
	}
}

func TestBlock(t *testing.T) {
	data := []float64{1, 3, 5, 7, 9}
	if got, want := Block(data, 2), []float64{2, 6, 9}; !reflect.DeepEqual(got, want) {
		t.Errorf("Block(τ=2) = %v, want %v", got, want)
	}
	if got := Block(data, 0.5); !reflect.DeepEqual(got, data) {
		t.Errorf("Block(τ=0.5) = %v, want identity", got)
	}
	if got, want := Block(data, 1.2), []float64{2, 6, 9}; !reflect.DeepEqual(got, want) {
		t.Errorf("Block(τ=1.2) = %v, want %v", got, want)
	}
}

func TestThermalizeAndBlockSkip(t *testing.T) {
	data := []float64{1, 1, 1, 5, 5, 5}
	if got := ThermalizeAndBlock(data, 1, true); len(got) != 6 {
		t.Errorf("skip: got %d blocks, want 6", len(got))
	}
	if got := ThermalizeAndBlock(data, 1, false); !reflect.DeepEqual(got, []float64{5, 5, 5}) {
		t.Errorf("no skip: got %v", got)
	}
}

func TestBootstrap(t *testing.T) {
	rng := rand.New(rand.NewPCG(9, 9))
	data := make([]float64, 400)
	for i := range data {
		data[i] = 10 + rng.NormFloat64()
	}

	mean, sd := Bootstrap(rng, data, 500)
	if !almostEqual(mean, 10, 0.2) {
		t.Errorf("mean = %v, want ≈10", mean)
	}
	// Standard error of the mean is 1/sqrt(400) = 0.05.
	if sd < 0.03 || sd > 0.07 {
		t.Errorf("std dev = %v, want ≈0.05", sd)
	}

	if mean, sd := Bootstrap(rng, []float64{4}, 100); mean != 4 || sd != 0 {
		t.Errorf("single sample = (%v, %v), want (4, 0)", mean, sd)
	}
	if mean, _ := Bootstrap(rng, nil, 100); !math.IsNaN(mean) {
		t.Errorf("empty input mean = %v, want NaN", mean)
	}
}

func TestDerive(t *testing.T) {
	tests := []struct {
		name     string
		req      model.DerivativeRequest
		wantMean float64
		wantSD   float64
	}{
		{
			name: "specific heat",
			req: model.DerivativeRequest{
				Derivation: model.Derivations[0], LatticeSize: 2, Temperature: 2,
				Mean: -1, StdDev: 0.1, PartnerMean: 1.5, PartnerStdDev: 0.2,
			},
			wantMean: 4 * 0.5 / 4,
			wantSD:   1 * math.Hypot(0.2, 0.2),
		},
		{
			name: "susceptibility",
			req: model.DerivativeRequest{
				Derivation: model.Derivations[1], LatticeSize: 2, Temperature: 2,
				Mean: 0.5, StdDev: 0.1, PartnerMean: 0.5, PartnerStdDev: 0.1,
			},
			wantMean: 4 * 0.25 / 2,
			wantSD:   2 * math.Hypot(0.1, 0.1),
		},
		{
			name: "helicity modulus",
			req: model.DerivativeRequest{
				Derivation: model.Derivations[2], LatticeSize: 4, Temperature: 0.5,
				Mean: 0.25, StdDev: 0.05, PartnerMean: -1.5, PartnerStdDev: 0.2,
			},
			wantMean: 0.75 - 0.5,
			wantSD:   math.Hypot(0.1, 0.1),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mean, sd, err := Derive(tt.req)
			if err != nil {
				t.Fatalf("Derive: %v", err)
			}
			if !almostEqual(mean, tt.wantMean, 1e-12) || !almostEqual(sd, tt.wantSD, 1e-12) {
				t.Errorf("Derive = (%v, %v), want (%v, %v)", mean, sd, tt.wantMean, tt.wantSD)
			}
		})
	}
}

func TestDeriveRejects(t *testing.T) {
	if _, _, err := Derive(model.DerivativeRequest{Derivation: model.Derivations[0], Temperature: 0}); err == nil {
		t.Error("expected error for zero temperature")
	}
	bad := model.Derivation{Base: model.Energy, Partner: model.EnergySquared, Target: model.ClusterSize}
	if _, _, err := Derive(model.DerivativeRequest{Derivation: bad, Temperature: 1}); err == nil {
		t.Error("expected error for unknown target")
	}
}
