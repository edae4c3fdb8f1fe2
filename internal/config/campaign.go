package config

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/seantiz/xyfleet/internal/model"
)

const (
	defaultBootstrapResamples = 100000
	defaultMaxTemperature     = 3.0
	defaultTemperatureSteps   = 64
	defaultMaxDepth           = 1
	defaultNumChunks          = 1
	defaultSweepsPerChunk     = 100000
)

// campaignFile models the campaign YAML document.
type campaignFile struct {
	Simulation struct {
		SimulationID       int64 `yaml:"simulation_id"`
		BootstrapResamples *int  `yaml:"bootstrap_resamples"`
	} `yaml:"simulation"`
	Temperature struct {
		Max      *float64 `yaml:"max"`
		Steps    *int     `yaml:"steps"`
		MaxDepth *int     `yaml:"max_depth"`
	} `yaml:"temperature"`
	Vortices struct {
		Sizes []int `yaml:"sizes"`
	} `yaml:"vortices"`
	Metropolis *algorithmSection `yaml:"metropolis"`
	Wolff      *algorithmSection `yaml:"wolff"`
}

type algorithmSection struct {
	NumChunks      *int  `yaml:"num_chunks"`
	SweepsPerChunk *int  `yaml:"sweeps_per_chunk"`
	Sizes          []int `yaml:"sizes"`
}

// LoadCampaign reads and validates a campaign file.
func LoadCampaign(path string) (model.Campaign, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Campaign{}, fmt.Errorf("read campaign: %w", err)
	}
	return ParseCampaign(data)
}

// ParseCampaign decodes a campaign YAML document, applies defaults and
// validates the result.
func ParseCampaign(data []byte) (model.Campaign, error) {
	var f campaignFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return model.Campaign{}, fmt.Errorf("parse campaign: %w", err)
	}

	c := model.Campaign{
		SimulationID:       f.Simulation.SimulationID,
		BootstrapResamples: intOr(f.Simulation.BootstrapResamples, defaultBootstrapResamples),
		Temperature: model.TemperatureRange{
			Max:      floatOr(f.Temperature.Max, defaultMaxTemperature),
			Steps:    intOr(f.Temperature.Steps, defaultTemperatureSteps),
			MaxDepth: intOr(f.Temperature.MaxDepth, defaultMaxDepth),
		},
		VortexSizes: dedupeSizes(f.Vortices.Sizes),
		Algorithms:  make(map[model.Algorithm]model.AlgorithmConfig),
	}
	if f.Metropolis != nil {
		c.Algorithms[model.AlgorithmMetropolis] = f.Metropolis.toConfig()
	}
	if f.Wolff != nil {
		c.Algorithms[model.AlgorithmWolff] = f.Wolff.toConfig()
	}

	if err := ValidateCampaign(c); err != nil {
		return model.Campaign{}, err
	}
	return c, nil
}

// ValidateCampaign rejects campaigns the store could not prepare.
func ValidateCampaign(c model.Campaign) error {
	var errs []error
	if c.BootstrapResamples <= 0 {
		errs = append(errs, errors.New("bootstrap_resamples must be positive"))
	}
	if c.Temperature.Max <= 0 {
		errs = append(errs, errors.New("temperature.max must be positive"))
	}
	if c.Temperature.Steps <= 0 {
		errs = append(errs, errors.New("temperature.steps must be positive"))
	}
	if c.Temperature.MaxDepth < 1 {
		errs = append(errs, errors.New("temperature.max_depth must be at least 1"))
	}
	if len(c.Algorithms) == 0 {
		errs = append(errs, errors.New("at least one algorithm section is required"))
	}
	for a, ac := range c.Algorithms {
		if ac.NumChunks <= 0 {
			errs = append(errs, fmt.Errorf("%s.num_chunks must be positive", a))
		}
		if ac.SweepsPerChunk <= 0 {
			errs = append(errs, fmt.Errorf("%s.sweeps_per_chunk must be positive", a))
		}
		if len(ac.LatticeSizes) == 0 {
			errs = append(errs, fmt.Errorf("%s.sizes must not be empty", a))
		}
		for _, size := range ac.LatticeSizes {
			if size <= 0 {
				errs = append(errs, fmt.Errorf("%s.sizes contains non-positive size %d", a, size))
			}
		}
	}
	for _, size := range c.VortexSizes {
		if size <= 0 {
			errs = append(errs, fmt.Errorf("vortices.sizes contains non-positive size %d", size))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid campaign: %w", errors.Join(errs...))
	}
	return nil
}

func (s *algorithmSection) toConfig() model.AlgorithmConfig {
	return model.AlgorithmConfig{
		NumChunks:      intOr(s.NumChunks, defaultNumChunks),
		SweepsPerChunk: intOr(s.SweepsPerChunk, defaultSweepsPerChunk),
		LatticeSizes:   dedupeSizes(s.Sizes),
	}
}

// dedupeSizes returns the distinct sizes in ascending order.
func dedupeSizes(sizes []int) []int {
	seen := make(map[int]bool, len(sizes))
	out := make([]int, 0, len(sizes))
	for _, s := range sizes {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Ints(out)
	return out
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}
