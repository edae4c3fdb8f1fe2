package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"github.com/seantiz/xyfleet/internal/model"
)

// refineSpan is how many neighbour spacings around the susceptibility peak a
// refinement round covers on each side.
const refineSpan = 3

// Prepare upserts the campaign and its base configurations, refines the
// temperature grid around the susceptibility peak once all current work is
// done, and reports whether any configuration still needs chunks or
// estimates. Leased configurations count as remaining work. Running Prepare
// repeatedly with the same input is idempotent.
func (s *SQLStore) Prepare(ctx context.Context, c model.Campaign) (work bool, err error) {
	ctx, span := s.startSpan(ctx, "Prepare", attribute.Int64("xyfleet.simulation_id", c.SimulationID))
	defer func() { err = endSpan(span, err) }()

	if s.observer {
		return false, ErrReadOnly
	}

	algorithms := make([]model.Algorithm, 0, len(c.Algorithms))
	for a := range c.Algorithms {
		algorithms = append(algorithms, a)
	}
	sort.Slice(algorithms, func(i, j int) bool { return algorithms[i] < algorithms[j] })

	err = s.inTx(ctx, "prepare", func(tx *sql.Tx) error {
		work = false

		if _, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO simulations (simulation_id, bootstrap_resamples, created_at) VALUES (?, ?, ?)
			ON CONFLICT (simulation_id) DO UPDATE SET bootstrap_resamples = excluded.bootstrap_resamples`),
			c.SimulationID, c.BootstrapResamples, s.now().Unix(),
		); err != nil {
			return fmt.Errorf("upsert simulation: %w", err)
		}

		for _, size := range c.VortexSizes {
			if _, err := tx.ExecContext(ctx, s.q(`
				INSERT INTO vortex_jobs (simulation_id, lattice_size) VALUES (?, ?)
				ON CONFLICT (simulation_id, lattice_size) DO NOTHING`),
				c.SimulationID, size,
			); err != nil {
				return fmt.Errorf("insert vortex job: %w", err)
			}
		}

		metadata := make(map[model.Algorithm]int64, len(algorithms))
		base := sweepTemperatures(0, c.Temperature.Max, c.Temperature.Steps)
		for _, a := range algorithms {
			cfg := c.Algorithms[a]
			id, err := s.upsertMetadata(ctx, tx, c.SimulationID, a, cfg)
			if err != nil {
				return err
			}
			metadata[a] = id

			for _, size := range cfg.LatticeSizes {
				if err := s.insertConfigurations(ctx, tx, c.SimulationID, id, size, base, 1); err != nil {
					return err
				}
			}
		}

		remaining, err := s.countIncomplete(ctx, tx, c.SimulationID)
		if err != nil {
			return err
		}

		if remaining == 0 {
			for _, a := range algorithms {
				for _, size := range c.Algorithms[a].LatticeSizes {
					if err := s.refine(ctx, tx, c, metadata[a], size); err != nil {
						return err
					}
				}
			}
			if remaining, err = s.countIncomplete(ctx, tx, c.SimulationID); err != nil {
				return err
			}
		}

		work = remaining > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	span.SetAttributes(attribute.Bool("xyfleet.work", work))
	return work, nil
}

// upsertMetadata inserts the per-algorithm target shape. An existing row only
// ever grows its chunk count.
func (s *SQLStore) upsertMetadata(ctx context.Context, tx *sql.Tx, simulationID int64, a model.Algorithm, cfg model.AlgorithmConfig) (int64, error) {
	if _, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO algorithm_metadata (simulation_id, algorithm, num_chunks, sweeps_per_chunk) VALUES (?, ?, ?, ?)
		ON CONFLICT (simulation_id, algorithm) DO UPDATE SET num_chunks = excluded.num_chunks
		WHERE algorithm_metadata.num_chunks < excluded.num_chunks`),
		simulationID, int(a), cfg.NumChunks, cfg.SweepsPerChunk,
	); err != nil {
		return 0, fmt.Errorf("upsert %s metadata: %w", a, err)
	}

	var id int64
	if err := tx.QueryRowContext(ctx, s.q(
		"SELECT metadata_id FROM algorithm_metadata WHERE simulation_id = ? AND algorithm = ?"),
		simulationID, int(a),
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("fetch %s metadata: %w", a, err)
	}
	return id, nil
}

// insertConfigurations adds one configuration per temperature at the given
// depth, skipping temperatures this (metadata, size) already samples at any
// depth.
func (s *SQLStore) insertConfigurations(ctx context.Context, tx *sql.Tx, simulationID, metadataID int64, size int, temperatures []float64, depth int) error {
	stmt, err := tx.PrepareContext(ctx, s.q(`
		INSERT INTO configurations (simulation_id, metadata_id, lattice_size, temperature, depth)
		SELECT CAST(? AS BIGINT), CAST(? AS BIGINT), CAST(? AS INTEGER), CAST(? AS DOUBLE PRECISION), CAST(? AS INTEGER)
		WHERE NOT EXISTS (
			SELECT 1 FROM configurations
			WHERE simulation_id = ? AND metadata_id = ? AND lattice_size = ? AND temperature = ?
		)
		ON CONFLICT (simulation_id, metadata_id, lattice_size, temperature, depth) DO NOTHING`))
	if err != nil {
		return fmt.Errorf("prepare configuration insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range temperatures {
		if _, err := stmt.ExecContext(ctx,
			simulationID, metadataID, size, t, depth,
			simulationID, metadataID, size, t,
		); err != nil {
			return fmt.Errorf("insert configuration (size %d, T %g, depth %d): %w", size, t, depth, err)
		}
	}
	return nil
}

// countIncomplete counts configurations that lack chunks or any of the
// estimates their algorithm requires.
func (s *SQLStore) countIncomplete(ctx context.Context, tx *sql.Tx, simulationID int64) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, s.q(`
		SELECT COUNT(*)
		FROM configurations c
		INNER JOIN algorithm_metadata m ON m.metadata_id = c.metadata_id
		WHERE c.simulation_id = ? AND (
			c.completed_chunks < m.num_chunks
			OR (SELECT COUNT(*) FROM estimates e WHERE e.configuration_id = c.configuration_id)
				< (SELECT COUNT(*) FROM observable_types t WHERE t.algorithm IS NULL OR t.algorithm = m.algorithm)
		)`),
		simulationID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count incomplete configurations: %w", err)
	}
	return n, nil
}

// refine inserts the next depth of configurations for one (metadata, size)
// around the temperature where the magnetic susceptibility peaks, spanning
// refineSpan neighbour spacings on each side with the base step count.
func (s *SQLStore) refine(ctx context.Context, tx *sql.Tx, c model.Campaign, metadataID int64, size int) error {
	var depth int
	if err := tx.QueryRowContext(ctx, s.q(`
		SELECT COALESCE(MAX(depth), 0) FROM configurations
		WHERE simulation_id = ? AND metadata_id = ? AND lattice_size = ?`),
		c.SimulationID, metadataID, size,
	).Scan(&depth); err != nil {
		return fmt.Errorf("fetch max depth: %w", err)
	}
	if depth == 0 || depth >= c.Temperature.MaxDepth {
		return nil
	}

	var (
		peak         float64
		lower, upper sql.NullFloat64
	)
	err := tx.QueryRowContext(ctx, s.q(`
		SELECT temperature, lower_gap, upper_gap FROM (
			SELECT c.temperature, e.mean,
				c.temperature - LAG(c.temperature) OVER (ORDER BY c.temperature) AS lower_gap,
				LEAD(c.temperature) OVER (ORDER BY c.temperature) - c.temperature AS upper_gap
			FROM configurations c
			INNER JOIN estimates e ON e.configuration_id = c.configuration_id AND e.type_id = ?
			WHERE c.simulation_id = ? AND c.metadata_id = ? AND c.lattice_size = ?
		) peaks
		ORDER BY mean DESC
		LIMIT 1`),
		int(model.MagneticSusceptibility), c.SimulationID, metadataID, size,
	).Scan(&peak, &lower, &upper)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("locate susceptibility peak: %w", err)
	}

	spacing := lower.Float64
	if !lower.Valid {
		spacing = upper.Float64
	}
	if (!lower.Valid && !upper.Valid) || spacing <= 0 {
		s.logger.Info("cannot refine single temperature", "metadata_id", metadataID, "lattice_size", size)
		return nil
	}

	temps := sweepTemperatures(peak-refineSpan*spacing, peak+refineSpan*spacing, c.Temperature.Steps)
	s.logger.Info("refining temperature grid",
		"metadata_id", metadataID, "lattice_size", size, "depth", depth+1,
		"peak", peak, "spacing", spacing, "temperatures", len(temps))
	return s.insertConfigurations(ctx, tx, c.SimulationID, metadataID, size, temps, depth+1)
}

// sweepTemperatures returns lo + (hi-lo)·i/steps for i = 1..steps rounded
// to 1e-9, dropping non-positive temperatures.
func sweepTemperatures(lo, hi float64, steps int) []float64 {
	out := make([]float64, 0, steps)
	for i := 1; i <= steps; i++ {
		t := lo + (hi-lo)*float64(i)/float64(steps)
		t = math.Round(t*1e9) / 1e9
		if t > 0 {
			out = append(out, t)
		}
	}
	return out
}
