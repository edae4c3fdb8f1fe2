package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/seantiz/xyfleet/internal/analysis"
	"github.com/seantiz/xyfleet/internal/model"
	"github.com/seantiz/xyfleet/internal/store"
)

// Derivatives computes derived observables from pairs of base estimates and
// persists them as ordinary estimates.
type Derivatives struct {
	store        store.Store
	simulationID int64
	logger       *slog.Logger
}

// NewDerivatives creates the derivative stream for a simulation.
func NewDerivatives(s store.Store, simulationID int64, logger *slog.Logger) *Derivatives {
	return &Derivatives{store: s, simulationID: simulationID, logger: logger}
}

func (*Derivatives) Name() string { return "derivatives" }

func (d *Derivatives) Next(ctx context.Context) (*model.DerivativeRequest, bool, error) {
	req, err := d.store.ClaimNextDerivative(ctx, d.simulationID)
	return req, req != nil, err
}

func (d *Derivatives) Execute(_ context.Context, req *model.DerivativeRequest) (model.EstimateResult, error) {
	mean, std, err := analysis.Derive(*req)
	if err != nil {
		return model.EstimateResult{}, fmt.Errorf("configuration %d: %w", req.ConfigurationID, err)
	}
	return model.EstimateResult{
		ConfigurationID: req.ConfigurationID,
		Type:            req.Derivation.Target,
		Mean:            mean,
		StdDev:          std,
	}, nil
}

func (d *Derivatives) Save(ctx context.Context, req *model.DerivativeRequest, start, end time.Time, r model.EstimateResult) error {
	r.Start, r.End = start, end
	err := d.store.SaveEstimate(ctx, r)
	if err == nil {
		d.logger.Info("derivative saved",
			"configuration_id", req.ConfigurationID,
			"type", r.Type.String(),
			"lattice_size", req.LatticeSize,
			"temperature", req.Temperature,
			"mean", r.Mean,
		)
	}
	return discardLeaseLost(d.logger, d.Name(), err, "configuration_id", req.ConfigurationID, "type", r.Type.String())
}
