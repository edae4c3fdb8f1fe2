package tasks

import (
	"context"
	"log/slog"
	"time"

	"github.com/seantiz/xyfleet/internal/analysis"
	"github.com/seantiz/xyfleet/internal/model"
	"github.com/seantiz/xyfleet/internal/store"
)

// Bootstrap turns the concatenated chunk samples of one observable into an
// estimate.
type Bootstrap struct {
	store        store.Store
	simulationID int64
	rand         RandSource
	logger       *slog.Logger
}

// NewBootstrap creates the estimate stream for a simulation.
func NewBootstrap(s store.Store, simulationID int64, rand RandSource, logger *slog.Logger) *Bootstrap {
	return &Bootstrap{store: s, simulationID: simulationID, rand: rand, logger: logger}
}

func (*Bootstrap) Name() string { return "bootstrap" }

func (b *Bootstrap) Next(ctx context.Context) (*model.EstimateRequest, bool, error) {
	req, err := b.store.ClaimNextEstimate(ctx, b.simulationID)
	return req, req != nil, err
}

func (b *Bootstrap) Execute(_ context.Context, req *model.EstimateRequest) (model.EstimateResult, error) {
	mean, std := analysis.Bootstrap(b.rand(), req.Samples, req.BootstrapResamples)
	return model.EstimateResult{ConfigurationID: req.ConfigurationID, Type: req.Type, Mean: mean, StdDev: std}, nil
}

func (b *Bootstrap) Save(ctx context.Context, req *model.EstimateRequest, start, end time.Time, r model.EstimateResult) error {
	r.Start, r.End = start, end
	err := b.store.SaveEstimate(ctx, r)
	if err == nil {
		b.logger.Info("estimate saved",
			"configuration_id", req.ConfigurationID,
			"type", req.Type.String(),
			"lattice_size", req.LatticeSize,
			"samples", len(req.Samples),
			"mean", r.Mean,
			"std_dev", r.StdDev,
		)
	}
	return discardLeaseLost(b.logger, b.Name(), err, "configuration_id", req.ConfigurationID, "type", req.Type.String())
}
