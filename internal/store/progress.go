package store

import (
	"context"
	"fmt"

	"github.com/seantiz/xyfleet/internal/model"
)

// Progress summarizes how far a simulation has advanced.
func (s *SQLStore) Progress(ctx context.Context, simulationID int64) (*model.Progress, error) {
	p := &model.Progress{SimulationID: simulationID}

	var exists int
	if err := s.db.QueryRowContext(ctx, s.q("SELECT COUNT(*) FROM simulations WHERE simulation_id = ?"), simulationID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check simulation: %w", err)
	}
	if exists == 0 {
		return nil, ErrNotFound
	}

	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN c.active_worker_id IS NOT NULL AND w.last_active_at >= ? THEN 1 ELSE 0 END), 0),
			COALESCE(MAX(c.depth), 0),
			COALESCE(SUM(CASE WHEN c.completed_chunks >= m.num_chunks
				AND (SELECT COUNT(*) FROM estimates e WHERE e.configuration_id = c.configuration_id)
					>= (SELECT COUNT(*) FROM observable_types t WHERE t.algorithm IS NULL OR t.algorithm = m.algorithm)
				THEN 1 ELSE 0 END), 0)
		FROM configurations c
		INNER JOIN algorithm_metadata m ON m.metadata_id = c.metadata_id
		LEFT JOIN workers w ON w.worker_id = c.active_worker_id
		WHERE c.simulation_id = ?`),
		s.cutoff(), simulationID,
	).Scan(&p.Configurations, &p.Leased, &p.MaxDepth, &p.Complete)
	if err != nil {
		return nil, fmt.Errorf("summarize configurations: %w", err)
	}

	for _, q := range []struct {
		dst   *int
		query string
	}{
		{&p.Chunks, `SELECT COUNT(*) FROM chunks k INNER JOIN configurations c ON c.configuration_id = k.configuration_id WHERE c.simulation_id = ?`},
		{&p.Estimates, `SELECT COUNT(*) FROM estimates e INNER JOIN configurations c ON c.configuration_id = e.configuration_id WHERE c.simulation_id = ?`},
		{&p.VortexJobs, `SELECT COUNT(*) FROM vortex_jobs WHERE simulation_id = ?`},
		{&p.VortexDone, `SELECT COUNT(*) FROM vortex_jobs v WHERE v.simulation_id = ? AND EXISTS (SELECT 1 FROM vortex_snapshots s WHERE s.vortex_id = v.vortex_id)`},
	} {
		if err := s.db.QueryRowContext(ctx, s.q(q.query), simulationID).Scan(q.dst); err != nil {
			return nil, fmt.Errorf("summarize progress: %w", err)
		}
	}
	return p, nil
}
